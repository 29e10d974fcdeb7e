package ml

import (
	"context"

	"github.com/rotisserie/eris"
)

const (
	ModelTypeDecisionTree = "decision_tree"
	ModelTypeRandomForest = "random_forest"
)

var (
	ErrNotTrained   = eris.New("model not trained")
	ErrFeatureCount = eris.New("feature count mismatch")
	ErrCorruptModel = eris.New("corrupt model artifact")
)

// Regressor is a trainable model mapping a positional feature vector to a
// scalar.
type Regressor interface {
	Fit(ctx context.Context, features [][]float64, targets []float64) error
	Predict(features []float64) (float64, error)
	Save(path string) error
	Load(path string) error
}

// Predictor is the read-only view the serving side needs.
type Predictor interface {
	Predict(features []float64) (float64, error)
}

// PredictAll runs model over every row.
func PredictAll(model Predictor, features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, row := range features {
		v, err := model.Predict(row)
		if err != nil {
			return nil, eris.Wrapf(err, "predict row %d", i)
		}
		out[i] = v
	}
	return out, nil
}
