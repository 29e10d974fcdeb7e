package ml

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FeatureStats summarizes one encoded feature column of a training matrix.
type FeatureStats struct {
	Name   string  `json:"name"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// ProfileFeatures computes per-column statistics of X in names order.
func ProfileFeatures(names []string, X [][]float64) ([]FeatureStats, error) {
	if len(X) == 0 {
		return nil, eris.New("profile features: empty matrix")
	}
	column := make([]float64, len(X))
	profile := make([]FeatureStats, len(names))
	for j, name := range names {
		for i, row := range X {
			if len(row) != len(names) {
				return nil, eris.Errorf("profile features: row %d has %d values, want %d", i, len(row), len(names))
			}
			column[i] = row[j]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if len(column) == 1 {
			std = 0
		}
		profile[j] = FeatureStats{
			Name:   name,
			Min:    floats.Min(column),
			Max:    floats.Max(column),
			Mean:   mean,
			StdDev: std,
		}
	}
	return profile, nil
}
