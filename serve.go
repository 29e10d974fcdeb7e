package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"glucosense/db"
	qhttp "glucosense/http"
	"glucosense/inference"
	"glucosense/monitoring"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the estimation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L()
	metrics := monitoring.NewMetricsCollector()
	metrics.StartSystemMetrics(ctx, 15*time.Second)

	svc, err := inference.Load(cfg.Artifacts.ModelPath, cfg.Artifacts.SchemaPath, inference.Options{
		ModelType: cfg.Artifacts.ModelType,
		CacheSize: cfg.Inference.CacheSize,
		Recorder:  metrics,
		Logger:    log,
	})
	if err != nil {
		return eris.Wrap(err, "serve: load model")
	}

	deps := qhttp.Deps{Estimator: svc, Metrics: metrics, Logger: log}
	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return eris.Wrap(err, "serve: open run registry")
		}
		defer store.Close()
		deps.Runs = store
	}

	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	srv := qhttp.NewServer(qhttp.ServerConfig{
		Port:           port,
		Timeout:        cfg.Server.Timeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
