package ml

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metrics are holdout regression scores.
type Metrics struct {
	MAE float64 `json:"mae"`
	MSE float64 `json:"mse"`
	R2  float64 `json:"r2"`
}

// Evaluate scores predictions against the true targets.
func Evaluate(actual, predicted []float64) (Metrics, error) {
	if len(actual) == 0 {
		return Metrics{}, eris.New("no samples to evaluate")
	}
	if len(actual) != len(predicted) {
		return Metrics{}, eris.Errorf("evaluate: %d targets, %d predictions", len(actual), len(predicted))
	}
	return Metrics{
		MAE: MeanAbsoluteError(actual, predicted),
		MSE: MeanSquaredError(actual, predicted),
		R2:  R2Score(actual, predicted),
	}, nil
}

func MeanAbsoluteError(actual, predicted []float64) float64 {
	return floats.Distance(actual, predicted, 1) / float64(len(actual))
}

func MeanSquaredError(actual, predicted []float64) float64 {
	d := floats.Distance(actual, predicted, 2)
	return d * d / float64(len(actual))
}

// R2Score is the coefficient of determination. A constant target scores 1
// when predicted exactly and 0 otherwise.
func R2Score(actual, predicted []float64) float64 {
	if stat.Variance(actual, nil) == 0 || len(actual) < 2 {
		if floats.Equal(actual, predicted) {
			return 1
		}
		return 0
	}
	r2 := stat.RSquaredFrom(predicted, actual, nil)
	if math.IsNaN(r2) {
		return 0
	}
	return r2
}
