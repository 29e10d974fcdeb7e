// Command train_model fits the HbA1c regressor on the CSV dataset, writes the
// model and feature schema artifacts and registers the run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"glucosense/config"
	"glucosense/db"
	"glucosense/pipeline"
)

type overrides struct {
	configPath string
	dataset    string
	modelPath  string
	schemaPath string
	modelType  string
	encoding   string
	seed       int64
	trees      int
	maxDepth   int
	workers    int
	noRegistry bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:           "train_model",
		Short:         "Train the HbA1c regression model",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(o.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			o.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := config.InitLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return train(ctx, cfg, !o.noRegistry, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "config.yaml", "path to the YAML config file")
	f.StringVar(&o.dataset, "dataset", "", "CSV dataset path")
	f.StringVar(&o.modelPath, "model-path", "", "model artifact output path")
	f.StringVar(&o.schemaPath, "schema-path", "", "feature schema output path")
	f.StringVar(&o.modelType, "model-type", "", "random_forest or decision_tree")
	f.StringVar(&o.encoding, "encoding", "", "categorical encoding: pinned or fitted")
	f.Int64Var(&o.seed, "seed", 0, "split and forest seed")
	f.IntVar(&o.trees, "trees", 0, "number of trees")
	f.IntVar(&o.maxDepth, "max-depth", 0, "maximum tree depth (0 for unlimited)")
	f.IntVar(&o.workers, "workers", 0, "parallel tree builders (0 for GOMAXPROCS)")
	f.BoolVar(&o.noRegistry, "no-registry", false, "skip recording the run in the database")
	return cmd
}

// apply copies explicitly set flags over the loaded config.
func (o overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("dataset") {
		cfg.Training.DatasetPath = o.dataset
	}
	if set("model-path") {
		cfg.Artifacts.ModelPath = o.modelPath
	}
	if set("schema-path") {
		cfg.Artifacts.SchemaPath = o.schemaPath
	}
	if set("model-type") {
		cfg.Artifacts.ModelType = o.modelType
	}
	if set("encoding") {
		cfg.Training.Encoding = o.encoding
	}
	if set("seed") {
		cfg.Training.Seed = o.seed
	}
	if set("trees") {
		cfg.Training.Forest.NumTrees = o.trees
	}
	if set("max-depth") {
		cfg.Training.Forest.MaxDepth = o.maxDepth
	}
	if set("workers") {
		cfg.Training.Workers = o.workers
	}
}

func train(ctx context.Context, cfg *config.Config, register bool, logger *zap.Logger) error {
	tc, err := cfg.TrainerConfig()
	if err != nil {
		return err
	}

	result, err := pipeline.NewTrainer(tc, logger).Run(ctx)
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		return err
	}

	fmt.Printf("run %s: MAE=%.4f MSE=%.4f R2=%.4f (train=%d test=%d dropped=%d)\n",
		result.RunID, result.Metrics.MAE, result.Metrics.MSE, result.Metrics.R2,
		result.TrainRows, result.TestRows, result.DroppedRows)
	fmt.Printf("model saved to %s, schema saved to %s\n", tc.ModelPath, tc.SchemaPath)

	if !register || cfg.Database.Path == "" {
		return nil
	}
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return eris.Wrap(err, "open run registry")
	}
	defer store.Close()

	if err := store.InsertTrainingRun(ctx, runRecord(tc, result)); err != nil {
		return err
	}
	logger.Info("training run registered", zap.String("run_id", result.RunID), zap.String("db", cfg.Database.Path))
	return nil
}

func runRecord(tc pipeline.TrainerConfig, result *pipeline.TrainResult) db.TrainingRun {
	return db.TrainingRun{
		RunID:       result.RunID,
		ModelType:   result.Artifact.ModelType,
		ModelPath:   tc.ModelPath,
		SchemaPath:  tc.SchemaPath,
		Features:    result.Artifact.Features.Names(),
		MAE:         result.Metrics.MAE,
		MSE:         result.Metrics.MSE,
		R2:          result.Metrics.R2,
		TrainRows:   result.TrainRows,
		TestRows:    result.TestRows,
		DroppedRows: result.DroppedRows,
		Duration:    result.Duration,
		TrainedAt:   result.Artifact.TrainedAt,
	}
}
