package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTrainingRunRegistry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.LatestTrainingRun(ctx)
	assert.True(t, eris.Is(err, ErrNoRuns))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := TrainingRun{
		RunID:       "run-1",
		ModelType:   "random_forest",
		ModelPath:   "models/model.json",
		SchemaPath:  "models/features.json",
		Features:    []string{"gender", "age"},
		MAE:         0.41,
		MSE:         0.29,
		R2:          0.12,
		TrainRows:   80,
		TestRows:    20,
		DroppedRows: 3,
		Duration:    1500 * time.Millisecond,
		TrainedAt:   base,
	}
	newer := older
	newer.RunID = "run-2"
	newer.MAE = 0.38
	newer.TrainedAt = base.Add(time.Hour)

	require.NoError(t, store.InsertTrainingRun(ctx, older))
	require.NoError(t, store.InsertTrainingRun(ctx, newer))
	assert.Error(t, store.InsertTrainingRun(ctx, newer), "run ids are unique")

	latest, err := store.LatestTrainingRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.RunID)
	assert.Equal(t, []string{"gender", "age"}, latest.Features)
	assert.Equal(t, 1500*time.Millisecond, latest.Duration)
	assert.True(t, newer.TrainedAt.Equal(latest.TrainedAt))

	runs, err := store.ListTrainingRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[1].RunID)

	found, err := store.TrainingRun(ctx, "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.41, found.MAE, 1e-12)

	_, err = store.TrainingRun(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNoRuns))
}

func TestInsertTrainingRunRequiresID(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.InsertTrainingRun(context.Background(), TrainingRun{}))
}
