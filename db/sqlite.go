// Package db keeps the registry of training runs in SQLite.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
)

var ErrNoRuns = eris.New("no training runs recorded")

const migration = `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL,
        model_type VARCHAR(50) NOT NULL,
        model_path TEXT NOT NULL,
        schema_path TEXT NOT NULL,
        features TEXT NOT NULL,
        mae REAL,
        mse REAL,
        r2 REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        dropped_rows INTEGER,
        duration_ms INTEGER,
        trained_at DATETIME NOT NULL,
        UNIQUE(run_id)
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_trained_at ON training_runs(trained_at);
    `

// TrainingRun is one completed training pipeline execution.
type TrainingRun struct {
	RunID       string        `json:"run_id"`
	ModelType   string        `json:"model_type"`
	ModelPath   string        `json:"model_path"`
	SchemaPath  string        `json:"schema_path"`
	Features    []string      `json:"features"`
	MAE         float64       `json:"mae"`
	MSE         float64       `json:"mse"`
	R2          float64       `json:"r2"`
	TrainRows   int           `json:"train_rows"`
	TestRows    int           `json:"test_rows"`
	DroppedRows int           `json:"dropped_rows"`
	Duration    time.Duration `json:"duration"`
	TrainedAt   time.Time     `json:"trained_at"`
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, eris.Wrapf(err, "open sqlite %s", path)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(migration); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "migrate training_runs")
	}
	return &Store{db: conn}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertTrainingRun(ctx context.Context, run TrainingRun) error {
	if run.RunID == "" {
		return eris.New("run id required")
	}
	features, err := json.Marshal(run.Features)
	if err != nil {
		return eris.Wrap(err, "encode features")
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO training_runs (
            run_id, model_type, model_path, schema_path, features,
            mae, mse, r2, train_rows, test_rows, dropped_rows, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ModelType, run.ModelPath, run.SchemaPath, string(features),
		run.MAE, run.MSE, run.R2, run.TrainRows, run.TestRows, run.DroppedRows,
		run.Duration.Milliseconds(), run.TrainedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "insert training run %s", run.RunID)
	}
	return nil
}

// LatestTrainingRun returns the most recently trained run, or ErrNoRuns.
func (s *Store) LatestTrainingRun(ctx context.Context) (*TrainingRun, error) {
	runs, err := s.ListTrainingRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return &runs[0], nil
}

// TrainingRun looks a run up by id.
func (s *Store) TrainingRun(ctx context.Context, runID string) (*TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNoRuns, "run %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListTrainingRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY trained_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "query training runs")
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "iterate training runs")
}

const selectRuns = `
        SELECT run_id, model_type, model_path, schema_path, features,
               mae, mse, r2, train_rows, test_rows, dropped_rows, duration_ms, trained_at
        FROM training_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*TrainingRun, error) {
	var run TrainingRun
	var features string
	var durationMS int64
	err := row.Scan(&run.RunID, &run.ModelType, &run.ModelPath, &run.SchemaPath, &features,
		&run.MAE, &run.MSE, &run.R2, &run.TrainRows, &run.TestRows, &run.DroppedRows,
		&durationMS, &run.TrainedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan training run")
	}
	if err := json.Unmarshal([]byte(features), &run.Features); err != nil {
		return nil, eris.Wrapf(err, "decode features of run %s", run.RunID)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}
