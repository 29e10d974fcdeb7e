package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"glucosense/ml"
	"glucosense/schema"
)

// EncodingMode selects where categorical codes come from.
type EncodingMode string

const (
	// EncodingPinned uses schema.DefaultEncodings for the columns it covers
	// and fits the rest.
	EncodingPinned EncodingMode = "pinned"
	// EncodingFitted fits every categorical column from the data.
	EncodingFitted EncodingMode = "fitted"
)

type TrainerConfig struct {
	DatasetPath string
	Dataset     DatasetOptions
	ModelType   string
	ModelPath   string
	SchemaPath  string
	TestRatio   float64
	Seed        int64
	Encoding    EncodingMode
	Forest      ml.ForestParams
}

// EncodedDataset is the numeric training matrix plus the contract that
// produced it.
type EncodedDataset struct {
	Features  schema.FeatureSchema
	Encodings schema.EncodingTable
	X         [][]float64
	Y         []float64
}

type TrainResult struct {
	RunID       string
	Model       ml.Regressor
	Artifact    *schema.Artifact
	Metrics     ml.Metrics
	TrainRows   int
	TestRows    int
	DroppedRows int
	Cleaning    CleaningStats
	Profile     []ml.FeatureStats
	Duration    time.Duration
}

type Trainer struct {
	cfg     TrainerConfig
	cleaner *DataCleaner
	logger  *zap.Logger
	now     func() time.Time
}

func NewTrainer(cfg TrainerConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingPinned
	}
	if cfg.ModelType == "" {
		cfg.ModelType = ml.ModelTypeRandomForest
	}
	if cfg.TestRatio <= 0 || cfg.TestRatio >= 1 {
		cfg.TestRatio = 0.2
	}
	return &Trainer{
		cfg:     cfg,
		cleaner: NewDataCleaner(logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Run reads the dataset, trains, evaluates and writes both artifacts.
func (t *Trainer) Run(ctx context.Context) (*TrainResult, error) {
	ds, err := ReadDataset(t.cfg.DatasetPath, t.cfg.Dataset)
	if err != nil {
		return nil, err
	}
	t.logger.Info("dataset loaded",
		zap.String("path", t.cfg.DatasetPath),
		zap.Int("rows", ds.Len()),
		zap.Strings("columns", ds.Columns),
	)

	result, err := t.Train(ctx, ds)
	if err != nil {
		return nil, err
	}
	if err := t.Save(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Train fits and evaluates a model on an in-memory dataset.
func (t *Trainer) Train(ctx context.Context, ds *Dataset) (*TrainResult, error) {
	started := t.now()

	cleaned, issues := t.cleaner.Clean(ds)
	for _, issue := range issues {
		t.logger.Debug("row dropped", zap.Int("line", issue.Line), zap.String("rule", issue.Rule), zap.String("reason", issue.Message))
	}

	encoded, err := Encode(cleaned, t.cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if len(encoded.Y) < 2 {
		return nil, eris.Wrapf(ErrEmptyDataset, "%d rows left after cleaning", len(encoded.Y))
	}

	trainIdx, testIdx := ml.TrainTestSplit(len(encoded.Y), t.cfg.TestRatio, t.cfg.Seed)

	profile, err := ml.ProfileFeatures(encoded.Features.Names(), ml.Take(encoded.X, trainIdx))
	if err != nil {
		return nil, err
	}
	for _, fs := range profile {
		t.logger.Debug("feature profile",
			zap.String("feature", fs.Name),
			zap.Float64("min", fs.Min),
			zap.Float64("max", fs.Max),
			zap.Float64("mean", fs.Mean),
			zap.Float64("std_dev", fs.StdDev),
		)
	}

	forest := t.cfg.Forest
	forest.Seed = t.cfg.Seed
	model, err := ml.NewModel(t.cfg.ModelType, forest)
	if err != nil {
		return nil, err
	}

	t.logger.Info("fitting model",
		zap.String("model_type", t.cfg.ModelType),
		zap.Int("train_rows", len(trainIdx)),
		zap.Int("test_rows", len(testIdx)),
		zap.Strings("features", encoded.Features.Names()),
	)
	if err := model.Fit(ctx, ml.Take(encoded.X, trainIdx), ml.Take(encoded.Y, trainIdx)); err != nil {
		return nil, eris.Wrap(err, "fit model")
	}

	predicted, err := ml.PredictAll(model, ml.Take(encoded.X, testIdx))
	if err != nil {
		return nil, eris.Wrap(err, "predict holdout")
	}
	metrics, err := ml.Evaluate(ml.Take(encoded.Y, testIdx), predicted)
	if err != nil {
		return nil, err
	}
	t.logger.Info("holdout evaluation",
		zap.Float64("mae", metrics.MAE),
		zap.Float64("mse", metrics.MSE),
		zap.Float64("r2", metrics.R2),
	)

	runID := uuid.NewString()
	return &TrainResult{
		RunID: runID,
		Model: model,
		Artifact: &schema.Artifact{
			Version:   schema.ArtifactVersion,
			RunID:     runID,
			ModelType: t.cfg.ModelType,
			Target:    schema.ColumnTarget,
			Features:  encoded.Features,
			Encodings: encoded.Encodings,
			TrainedAt: t.now().UTC(),
		},
		Metrics:     metrics,
		TrainRows:   len(trainIdx),
		TestRows:    len(testIdx),
		DroppedRows: ds.Len() - cleaned.Len(),
		Cleaning:    t.cleaner.Stats(),
		Profile:     profile,
		Duration:    t.now().Sub(started),
	}, nil
}

// Save writes the model and schema artifacts.
func (t *Trainer) Save(result *TrainResult) error {
	if err := result.Model.Save(t.cfg.ModelPath); err != nil {
		return eris.Wrap(err, "save model artifact")
	}
	if err := result.Artifact.Save(t.cfg.SchemaPath); err != nil {
		return eris.Wrap(err, "save schema artifact")
	}
	t.logger.Info("artifacts saved",
		zap.String("run_id", result.RunID),
		zap.String("model_path", t.cfg.ModelPath),
		zap.String("schema_path", t.cfg.SchemaPath),
	)
	return nil
}

// Encode separates the target, drops the label columns and converts every
// feature to a float. Feature order is the file's column order.
func Encode(ds *Dataset, mode EncodingMode) (*EncodedDataset, error) {
	targetIdx, ok := ds.ColumnIndex(schema.ColumnTarget)
	if !ok {
		return nil, eris.Wrapf(ErrMissingColumn, "%s", schema.ColumnTarget)
	}
	diabetesIdx, ok := ds.ColumnIndex(schema.ColumnDiabetes)
	if !ok {
		return nil, eris.Wrapf(ErrMissingColumn, "%s", schema.ColumnDiabetes)
	}

	var names []string
	var cols []int
	for i, name := range ds.Columns {
		if i == targetIdx || i == diabetesIdx {
			continue
		}
		names = append(names, name)
		cols = append(cols, i)
	}
	features, err := schema.NewFeatureSchema(names)
	if err != nil {
		return nil, eris.Wrap(err, "feature columns")
	}

	y := make([]float64, ds.Len())
	for r, row := range ds.Rows {
		v, err := parseNumber(row[targetIdx])
		if err != nil {
			return nil, eris.Wrapf(err, "line %d: %s", lineOf(ds, r), schema.ColumnTarget)
		}
		y[r] = v
	}

	encodings := schema.EncodingTable{}
	pinned := schema.DefaultEncodings()
	for k, col := range cols {
		if !isCategorical(ds, col) {
			continue
		}
		name := names[k]
		if mode == EncodingPinned && pinned.Has(name) {
			encodings[name] = pinned[name]
			continue
		}
		labels := make([]string, ds.Len())
		for r, row := range ds.Rows {
			labels[r] = row[col]
		}
		encodings[name] = schema.FitLabelEncoding(labels)
	}

	x := make([][]float64, ds.Len())
	for r, row := range ds.Rows {
		vec := make([]float64, len(cols))
		for k, col := range cols {
			name := names[k]
			if encodings.Has(name) {
				code, err := encodings.Encode(name, row[col])
				if err != nil {
					return nil, eris.Wrapf(err, "line %d", lineOf(ds, r))
				}
				vec[k] = code
				continue
			}
			v, err := parseNumber(row[col])
			if err != nil {
				return nil, eris.Wrapf(err, "line %d: %s", lineOf(ds, r), name)
			}
			vec[k] = v
		}
		x[r] = vec
	}

	return &EncodedDataset{Features: features, Encodings: encodings, X: x, Y: y}, nil
}

// isCategorical treats a column as categorical when any cell is not a number.
func isCategorical(ds *Dataset, col int) bool {
	for _, row := range ds.Rows {
		if _, err := parseNumber(row[col]); err != nil {
			return true
		}
	}
	return false
}

func parseNumber(cell string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, eris.Errorf("%q is not a number", cell)
	}
	return v, nil
}

func lineOf(ds *Dataset, r int) int {
	if r < len(ds.Lines) {
		return ds.Lines[r]
	}
	return r + 2
}
