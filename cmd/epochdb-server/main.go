// Command epochdb-server runs the TCP server and, alongside it, a small
// HTTP listener exposing Prometheus metrics.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/epochdb/epochdb/internal/command"
	"github.com/epochdb/epochdb/internal/config"
	"github.com/epochdb/epochdb/internal/metrics"
	"github.com/epochdb/epochdb/internal/server"
	"github.com/epochdb/epochdb/internal/store"
)

func main() {
	cfg := &config.Server{}

	root := &cobra.Command{
		Use:   "epochdb-server",
		Short: "Serve an EpochDB database over its wire protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfg.Addr, "addr", "127.0.0.1:7878", "address to serve the wire protocol on")
	flags.StringVar(&cfg.DataDir, "data-dir", "./data", "directory holding the database files")
	flags.IntVar(&cfg.Workers, "workers", 64, "maximum number of connections served concurrently")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")
	flags.StringVar(&cfg.LogLevel, "log-level", "", "log level (debug, info, warn, error); defaults to $EPOCHDB_LOG or info")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Server) error {
	logger, err := newLogger(config.ResolveLogLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	sink := metrics.New(registry)

	db, err := store.Open(cfg.DataDir, store.WithMetrics(sink), store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	executor := &command.Executor{DB: db}
	srv, err := server.New(cfg.Addr, executor, cfg.Workers, logger)
	if err != nil {
		return err
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("serving wire protocol", zap.String("addr", srv.Addr().String()))
		if err := srv.Serve(); err != nil {
			logger.Warn("server stopped accepting", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	_ = srv.Close()
	_ = metricsServer.Close()
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}
