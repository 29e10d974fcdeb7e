package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucosense/db"
	"glucosense/health"
	"glucosense/inference"
	"glucosense/schema"
)

func writeCSV(t *testing.T, dir string, n int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var b strings.Builder
	b.WriteString("gender,age,hypertension,heart_disease,smoking_history,bmi,HbA1c_level,blood_glucose_level,diabetes\n")
	for i := 0; i < n; i++ {
		glucose := 80 + rng.Intn(220)
		fmt.Fprintf(&b, "%s,%d,%d,0,never,%.2f,%.1f,%d,0\n",
			[]string{"Female", "Male"}[rng.Intn(2)], 20+rng.Intn(60), rng.Intn(2),
			18+rng.Float64()*20, 3.5+float64(glucose)/80, glucose)
	}
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestTrainCommandRegistersRun(t *testing.T) {
	dir := t.TempDir()
	dataset := writeCSV(t, dir, 120)
	dbPath := filepath.Join(dir, "runs.db")
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: error\ndatabase:\n  path: "+dbPath+"\n"), 0o600))

	modelPath := filepath.Join(dir, "model.json")
	schemaPath := filepath.Join(dir, "schema.json")
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", configPath,
		"--dataset", dataset,
		"--model-path", modelPath,
		"--schema-path", schemaPath,
		"--trees", "5",
		"--seed", "3",
	})
	require.NoError(t, cmd.Execute())

	store, err := db.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.LatestTrainingRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 96, run.TrainRows)
	assert.Equal(t, 24, run.TestRows)
	assert.Equal(t, modelPath, run.ModelPath)
	assert.Contains(t, run.Features, "blood_glucose_level")
	assert.NotContains(t, run.Features, schema.ColumnTarget)

	svc, err := inference.Load(modelPath, schemaPath, inference.Options{})
	require.NoError(t, err)
	assert.Equal(t, run.RunID, svc.Artifact().RunID)

	res, err := svc.Predict(context.Background(), health.Record{
		Gender: "Male", Age: 50, SmokingHistory: "never", BMI: 27,
		Hypertension: 0, HeartDisease: 0, BloodGlucoseLevel: 280,
	})
	require.NoError(t, err)
	assert.Equal(t, health.TierDiabetes, res.Tier)
}

func TestTrainCommandRejectsBadOverride(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"--dataset", writeCSV(t, dir, 20),
		"--encoding", "onehot",
		"--no-registry",
	})
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	assert.Error(t, cmd.Execute())
}
