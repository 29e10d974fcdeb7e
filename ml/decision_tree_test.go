package ml

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegressionTreeFitPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	targets := []float64{5.0, 5.0, 7.0, 7.0}

	model := NewRegressionTree(TreeParams{})
	require.NoError(t, model.Fit(context.Background(), features, targets))

	got, err := model.Predict([]float64{0.15, 0.15})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)

	got, err = model.Predict([]float64{0.85, 0.85})
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)
	assert.Equal(t, 1, model.Depth())
}

func TestRegressionTreeMemorisesDistinctRows(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}}
	targets := []float64{4.0, 4.5, 5.5, 6.1, 6.6}

	model := NewRegressionTree(TreeParams{})
	require.NoError(t, model.Fit(context.Background(), features, targets))
	for i, row := range features {
		got, err := model.Predict(row)
		require.NoError(t, err)
		assert.InDelta(t, targets[i], got, 1e-12)
	}
}

func TestRegressionTreeMaxDepth(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}}
	targets := []float64{1, 2, 3, 4}

	model := NewRegressionTree(TreeParams{MaxDepth: 1})
	require.NoError(t, model.Fit(context.Background(), features, targets))
	assert.Equal(t, 1, model.Depth())

	got, err := model.Predict([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got, 1e-12)
}

func TestRegressionTreeMinSamplesLeaf(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	targets := []float64{1, 1, 1, 1, 1, 9}

	model := NewRegressionTree(TreeParams{MinSamplesLeaf: 2})
	require.NoError(t, model.Fit(context.Background(), features, targets))
	for _, node := range model.Nodes {
		if node.IsLeaf {
			assert.GreaterOrEqual(t, node.Samples, 2)
		}
	}
}

func TestRegressionTreeConstantTarget(t *testing.T) {
	model := NewRegressionTree(TreeParams{})
	require.NoError(t, model.Fit(context.Background(), [][]float64{{1}, {2}, {3}}, []float64{5.5, 5.5, 5.5}))
	assert.Len(t, model.Nodes, 1)
	assert.True(t, model.Nodes[0].IsLeaf)
}

func TestRegressionTreeErrors(t *testing.T) {
	model := NewRegressionTree(TreeParams{})
	_, err := model.Predict([]float64{1})
	assert.True(t, eris.Is(err, ErrNotTrained))

	assert.Error(t, model.Fit(context.Background(), nil, nil))
	assert.Error(t, model.Fit(context.Background(), [][]float64{{1}}, []float64{1, 2}))
	assert.Error(t, model.Fit(context.Background(), [][]float64{{1}, {1, 2}}, []float64{1, 2}))

	require.NoError(t, model.Fit(context.Background(), [][]float64{{1, 2}, {3, 4}}, []float64{1, 2}))
	_, err = model.Predict([]float64{1})
	assert.True(t, eris.Is(err, ErrFeatureCount))
}

func TestRegressionTreeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := NewRegressionTree(TreeParams{})
	err := model.Fit(ctx, [][]float64{{1}, {2}}, []float64{1, 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegressionTreeSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.json")
	model := NewRegressionTree(TreeParams{})
	require.NoError(t, model.Fit(context.Background(), [][]float64{{1}, {2}, {3}}, []float64{4, 5, 6}))
	require.NoError(t, model.Save(path))

	loaded, err := LoadModel(ModelTypeDecisionTree, path)
	require.NoError(t, err)
	for _, x := range []float64{0.5, 1.7, 2.2, 9} {
		want, _ := model.Predict([]float64{x})
		got, err := loaded.Predict([]float64{x})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = LoadModel(ModelTypeRandomForest, path)
	assert.True(t, eris.Is(err, ErrCorruptModel))
}

func TestLoadModelCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	_, err := LoadModel(ModelTypeDecisionTree, path)
	assert.True(t, eris.Is(err, ErrCorruptModel))

	bad := `{"type":"decision_tree","tree":{"num_features":1,"nodes":[{"feature_idx":3,"left_child":1,"right_child":2}]}}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))
	_, err = LoadModel(ModelTypeDecisionTree, path)
	assert.True(t, eris.Is(err, ErrCorruptModel))

	_, err = LoadModel("svm", path)
	assert.Error(t, err)
}
