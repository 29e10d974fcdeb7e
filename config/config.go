// Package config loads the YAML configuration shared by the server and the
// training command.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"

	"glucosense/ml"
	"glucosense/pipeline"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Training  TrainingConfig  `yaml:"training"`
	Inference InferenceConfig `yaml:"inference"`
	Database  DatabaseConfig  `yaml:"database"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// LogConfig configures the global zap logger. File enables a rotated log file
// next to stderr output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type ArtifactsConfig struct {
	ModelPath  string `yaml:"model_path"`
	SchemaPath string `yaml:"schema_path"`
	ModelType  string `yaml:"model_type"`
}

type TrainingConfig struct {
	DatasetPath string       `yaml:"dataset_path"`
	Charset     string       `yaml:"charset"`
	Delimiter   string       `yaml:"delimiter"`
	TestRatio   float64      `yaml:"test_ratio"`
	Seed        int64        `yaml:"seed"`
	Encoding    string       `yaml:"encoding"`
	Workers     int          `yaml:"workers"`
	Forest      ForestConfig `yaml:"forest"`
}

// ForestConfig mirrors ml.ForestParams. MaxDepth 0 means unlimited and
// MaxFeatures is a fraction of the feature count.
type ForestConfig struct {
	NumTrees        int     `yaml:"num_trees"`
	MaxDepth        int     `yaml:"max_depth"`
	MinSamplesSplit int     `yaml:"min_samples_split"`
	MinSamplesLeaf  int     `yaml:"min_samples_leaf"`
	MaxFeatures     float64 `yaml:"max_features"`
	Bootstrap       bool    `yaml:"bootstrap"`
}

type InferenceConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// DatabaseConfig points at the SQLite training run registry. An empty path
// disables it.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used for any key the file leaves out.
func Default() *Config {
	forest := ml.DefaultForestParams()
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Artifacts: ArtifactsConfig{
			ModelPath:  "models/hba1c_model.json",
			SchemaPath: "models/feature_schema.json",
			ModelType:  ml.ModelTypeRandomForest,
		},
		Training: TrainingConfig{
			DatasetPath: "data/diabetes_prediction_dataset.csv",
			Delimiter:   ",",
			TestRatio:   0.2,
			Seed:        42,
			Encoding:    string(pipeline.EncodingPinned),
			Forest: ForestConfig{
				NumTrees:        forest.NumTrees,
				MaxDepth:        forest.MaxDepth,
				MinSamplesSplit: forest.MinSamplesSplit,
				MinSamplesLeaf:  forest.MinSamplesLeaf,
				MaxFeatures:     forest.MaxFeatures,
				Bootstrap:       forest.Bootstrap,
			},
		},
		Inference: InferenceConfig{CacheSize: 1024},
		Database:  DatabaseConfig{Path: "data/glucosense.db"},
	}
}

// Load overlays the YAML file at path onto Default and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: open %s", path)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, eris.Wrapf(err, "config: decode %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing file yields the validated
// defaults.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return eris.New("config: server.timeout must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return eris.Errorf("config: log.format %q must be json or console", c.Log.Format)
	}
	if c.Artifacts.ModelPath == "" || c.Artifacts.SchemaPath == "" {
		return eris.New("config: artifacts.model_path and artifacts.schema_path are required")
	}
	switch c.Artifacts.ModelType {
	case ml.ModelTypeRandomForest, ml.ModelTypeDecisionTree:
	default:
		return eris.Errorf("config: unsupported artifacts.model_type %q", c.Artifacts.ModelType)
	}
	if r := c.Training.TestRatio; r <= 0 || r >= 1 {
		return eris.Errorf("config: training.test_ratio %v must be in (0, 1)", r)
	}
	switch pipeline.EncodingMode(c.Training.Encoding) {
	case pipeline.EncodingPinned, pipeline.EncodingFitted:
	default:
		return eris.Errorf("config: training.encoding %q must be pinned or fitted", c.Training.Encoding)
	}
	if _, err := c.Training.delimiter(); err != nil {
		return err
	}
	f := c.Training.Forest
	if f.NumTrees < 1 {
		return eris.New("config: training.forest.num_trees must be at least 1")
	}
	if f.MaxFeatures <= 0 || f.MaxFeatures > 1 {
		return eris.Errorf("config: training.forest.max_features %v must be in (0, 1]", f.MaxFeatures)
	}
	if f.MinSamplesSplit < 2 || f.MinSamplesLeaf < 1 {
		return eris.New("config: training.forest min_samples_split >= 2 and min_samples_leaf >= 1 required")
	}
	if c.Inference.CacheSize < 0 {
		return eris.New("config: inference.cache_size must not be negative")
	}
	return nil
}

func (t TrainingConfig) delimiter() (rune, error) {
	if t.Delimiter == "" {
		return ',', nil
	}
	if t.Delimiter == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(t.Delimiter)
	if size != len(t.Delimiter) || r == '"' || r == '\r' || r == '\n' {
		return 0, eris.Errorf("config: training.delimiter %q must be a single character", t.Delimiter)
	}
	return r, nil
}

// ForestParams converts the forest section for the ml package.
func (t TrainingConfig) ForestParams() ml.ForestParams {
	return ml.ForestParams{
		NumTrees:        t.Forest.NumTrees,
		MaxDepth:        t.Forest.MaxDepth,
		MinSamplesSplit: t.Forest.MinSamplesSplit,
		MinSamplesLeaf:  t.Forest.MinSamplesLeaf,
		MaxFeatures:     t.Forest.MaxFeatures,
		Bootstrap:       t.Forest.Bootstrap,
		Seed:            t.Seed,
		Workers:         t.Workers,
	}
}

// TrainerConfig assembles the pipeline settings from the training and
// artifacts sections.
func (c *Config) TrainerConfig() (pipeline.TrainerConfig, error) {
	delim, err := c.Training.delimiter()
	if err != nil {
		return pipeline.TrainerConfig{}, err
	}
	return pipeline.TrainerConfig{
		DatasetPath: c.Training.DatasetPath,
		Dataset:     pipeline.DatasetOptions{Delimiter: delim, Charset: c.Training.Charset},
		ModelType:   c.Artifacts.ModelType,
		ModelPath:   c.Artifacts.ModelPath,
		SchemaPath:  c.Artifacts.SchemaPath,
		TestRatio:   c.Training.TestRatio,
		Seed:        c.Training.Seed,
		Encoding:    pipeline.EncodingMode(c.Training.Encoding),
		Forest:      c.Training.ForestParams(),
	}, nil
}
