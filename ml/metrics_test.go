package ml

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	actual := []float64{3, -0.5, 2, 7}
	predicted := []float64{2.5, 0.0, 2, 8}

	m, err := Evaluate(actual, predicted)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.MAE, 1e-12)
	assert.InDelta(t, 0.375, m.MSE, 1e-12)
	assert.InDelta(t, 0.9486081370449679, m.R2, 1e-12)
}

func TestEvaluateErrors(t *testing.T) {
	_, err := Evaluate(nil, nil)
	assert.Error(t, err)
	_, err = Evaluate([]float64{1, 2}, []float64{1})
	assert.Error(t, err)
}

func TestR2ScoreConstantTarget(t *testing.T) {
	assert.Equal(t, 1.0, R2Score([]float64{5, 5}, []float64{5, 5}))
	assert.Equal(t, 0.0, R2Score([]float64{5, 5}, []float64{5, 6}))
	assert.Equal(t, 1.0, R2Score([]float64{5}, []float64{5}))
}

func TestTrainTestSplit(t *testing.T) {
	train, test := TrainTestSplit(10, 0.2, 42)
	assert.Len(t, train, 8)
	assert.Len(t, test, 2)

	all := append(append([]int(nil), train...), test...)
	sort.Ints(all)
	for i, v := range all {
		assert.Equal(t, i, v)
	}

	train2, test2 := TrainTestSplit(10, 0.2, 42)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	_, test3 := TrainTestSplit(11, 0.2, 42)
	assert.Len(t, test3, 3, "holdout size rounds up")
}

func TestTake(t *testing.T) {
	assert.Equal(t, []string{"c", "a"}, Take([]string{"a", "b", "c"}, []int{2, 0}))
}
