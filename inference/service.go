// Package inference turns a validated health record into an HbA1c estimate
// and its risk tier, using the model and schema artifacts written by training.
package inference

import (
	"context"
	"errors"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"glucosense/health"
	"glucosense/ml"
	"glucosense/schema"
)

// Result is one estimate.
type Result struct {
	HbA1c float64         `json:"hba1c"`
	Tier  health.RiskTier `json:"tier"`
}

// Recorder receives per-request outcomes. monitoring.MetricsCollector
// satisfies it.
type Recorder interface {
	RecordPrediction(tier string, latency time.Duration, cached bool)
	RecordInvalidInput(field string)
	RecordPredictError()
}

type Options struct {
	// ModelType, when set, must match the type recorded in the schema artifact.
	ModelType string
	// CacheSize is the number of memoized results; 0 disables the cache.
	CacheSize int
	Recorder  Recorder
	Logger    *zap.Logger
}

// Service is safe for concurrent use. The model and artifact are never
// mutated after construction.
type Service struct {
	model    ml.Predictor
	artifact *schema.Artifact
	cache    *lru.Cache[health.Record, Result]
	recorder Recorder
	logger   *zap.Logger
}

func New(model ml.Predictor, artifact *schema.Artifact, opts Options) (*Service, error) {
	if model == nil {
		return nil, eris.New("inference: nil model")
	}
	if artifact == nil {
		return nil, eris.New("inference: nil schema artifact")
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		model:    model,
		artifact: artifact,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[health.Record, Result](opts.CacheSize)
		if err != nil {
			return nil, eris.Wrap(err, "create result cache")
		}
		s.cache = cache
	}
	return s, nil
}

// Load reads both artifacts from disk. The model type comes from the schema
// artifact.
func Load(modelPath, schemaPath string, opts Options) (*Service, error) {
	artifact, err := schema.LoadArtifact(schemaPath)
	if err != nil {
		return nil, err
	}
	if opts.ModelType != "" && opts.ModelType != artifact.ModelType {
		return nil, eris.Errorf("configured model type %q but artifact was trained as %q", opts.ModelType, artifact.ModelType)
	}
	model, err := ml.LoadModel(artifact.ModelType, modelPath)
	if err != nil {
		return nil, eris.Wrapf(err, "load model %s", modelPath)
	}
	svc, err := New(model, artifact, opts)
	if err != nil {
		return nil, err
	}
	svc.logger.Info("inference artifacts loaded",
		zap.String("model_path", modelPath),
		zap.String("schema_path", schemaPath),
		zap.String("model_type", artifact.ModelType),
		zap.String("run_id", artifact.RunID),
		zap.Strings("features", artifact.Features.Names()),
	)
	return svc, nil
}

func (s *Service) Artifact() *schema.Artifact {
	return s.artifact
}

// Predict validates rec, encodes it in schema order and maps the model output
// to a tier. Domain violations come back as *health.InvalidInputError; a
// record whose fields differ from the trained features wraps
// schema.ErrSchemaMismatch.
func (s *Service) Predict(ctx context.Context, rec health.Record) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	started := time.Now()

	if err := rec.Validate(); err != nil {
		s.invalid(err)
		return Result{}, err
	}

	if s.cache != nil {
		if res, ok := s.cache.Get(rec); ok {
			s.record(res, started, true)
			return res, nil
		}
	}

	vec, err := AssembleVector(s.artifact.Features, s.artifact.Encodings, rec.Attributes())
	if err != nil {
		var inputErr *health.InvalidInputError
		if errors.As(err, &inputErr) {
			s.invalid(inputErr)
			return Result{}, inputErr
		}
		s.failed(err)
		return Result{}, err
	}

	estimate, err := s.model.Predict(vec)
	if err != nil {
		err = eris.Wrap(err, "model predict")
		s.failed(err)
		return Result{}, err
	}
	tier, err := health.TierFor(estimate)
	if err != nil {
		err = eris.Wrapf(err, "model returned %v", estimate)
		s.failed(err)
		return Result{}, err
	}

	res := Result{HbA1c: estimate, Tier: tier}
	if s.cache != nil {
		s.cache.Add(rec, res)
	}
	s.record(res, started, false)
	return res, nil
}

func (s *Service) record(res Result, started time.Time, cached bool) {
	if s.recorder != nil {
		s.recorder.RecordPrediction(res.Tier.String(), time.Since(started), cached)
	}
}

func (s *Service) invalid(err error) {
	field := ""
	var inputErr *health.InvalidInputError
	if errors.As(err, &inputErr) {
		field = inputErr.Field
	}
	s.logger.Debug("invalid input", zap.String("field", field), zap.Error(err))
	if s.recorder != nil {
		s.recorder.RecordInvalidInput(field)
	}
}

func (s *Service) failed(err error) {
	s.logger.Error("prediction failed", zap.Error(err))
	if s.recorder != nil {
		s.recorder.RecordPredictError()
	}
}

// AssembleVector orders attrs by the feature schema and encodes categorical
// labels through encodings. The attribute names must equal the schema's
// feature set exactly.
func AssembleVector(features schema.FeatureSchema, encodings schema.EncodingTable, attrs map[string]schema.Value) ([]float64, error) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	if err := features.CheckFields(names); err != nil {
		return nil, err
	}

	vec := make([]float64, features.Len())
	for i, name := range features.Names() {
		v := attrs[name]
		if encodings.Has(name) {
			code, err := encodings.Encode(name, v.String())
			if err != nil {
				return nil, health.NewInvalidInput(name, v.String(), "label was not seen in training")
			}
			vec[i] = code
			continue
		}
		if v.Categorical {
			return nil, health.NewInvalidInput(name, v.Label, "expected a number")
		}
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return nil, health.NewInvalidInput(name, v.String(), "must be finite")
		}
		vec[i] = v.Number
	}
	return vec, nil
}
