// Package http serves the estimator over JSON, form posts and a websocket.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"glucosense/db"
	"glucosense/health"
	"glucosense/inference"
	"glucosense/monitoring"
	"glucosense/schema"
)

// maxBodyBytes bounds predict payloads; a record is a few hundred bytes.
const maxBodyBytes = 64 << 10

type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Estimator is the inference surface the handlers call.
// *inference.Service satisfies it.
type Estimator interface {
	Predict(ctx context.Context, rec health.Record) (inference.Result, error)
	Artifact() *schema.Artifact
}

// RunStore is the read side of the training run registry.
type RunStore interface {
	LatestTrainingRun(ctx context.Context) (*db.TrainingRun, error)
}

// Deps are the collaborators shared by every handler. Runs may be nil.
type Deps struct {
	Estimator Estimator
	Runs      RunStore
	Metrics   *monitoring.MetricsCollector
	Logger    *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = monitoring.NewMetricsCollector()
	}
	return d
}

type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

func NewServer(config ServerConfig, deps Deps) *Server {
	deps = deps.withDefaults()
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewHandler(config, deps),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: deps.Logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(config ServerConfig, deps Deps) http.Handler {
	deps = deps.withDefaults()
	if config.Timeout <= 0 {
		config.Timeout = DefaultServerConfig().Timeout
	}
	mux := http.NewServeMux()
	h := &handlers{deps: deps}
	h.register(mux)

	ws := newPredictSocket(deps, config.AllowedOrigins)
	mux.HandleFunc("GET /api/ws/predict", ws.handle)

	chain := Chain(
		RecoveryMiddleware(deps.Logger),
		LoggerMiddleware(deps.Logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		TimeoutMiddleware(config.Timeout),
		RequestSizeMiddleware(maxBodyBytes),
	)
	return chain(mux)
}

func (s *Server) Start() error {
	s.logger.Info("starting http server",
		zap.String("addr", s.server.Addr),
		zap.String("websocket", "/api/ws/predict"),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server failed")
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "server forced to shutdown")
	}
	return nil
}

func (s *Server) Addr() string {
	return s.server.Addr
}
