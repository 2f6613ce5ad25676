package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/23skdu/quiver/internal/logging"
	"github.com/23skdu/quiver/internal/storage"
)

// app carries what every subcommand needs once the root has initialized.
type app struct {
	cfg     Config
	logger  zerolog.Logger
	backend storage.Backend
	metrics *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var envFile string

	root := &cobra.Command{
		Use:          "quiver",
		Short:        "Build, search and benchmark ANN indexes across one or many devices",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(envFile)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.shutdown()
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading QUIVER_* variables")

	root.AddCommand(newBuildCmd(a), newSearchCmd(a), newBenchCmd(a), newListCmd(a))
	return root
}

func (a *app) init(envFile string) error {
	cfg, err := LoadConfig(envFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	backend, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.backend = backend

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info().Str("address", cfg.MetricsAddr).Msg("Starting metrics server")
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}
	return nil
}

func (a *app) shutdown() error {
	if a.metrics == nil {
		return nil
	}
	return a.metrics.Close()
}
