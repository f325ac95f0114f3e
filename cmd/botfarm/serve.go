package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/botfarm"
	cfgpkg "github.com/loykin/botfarm/internal/config"
	"github.com/loykin/botfarm/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot supervisor daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.New()
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.BotsDir, 0o750); err != nil {
		return err
	}

	st, err := botfarm.OpenStore(ctx, cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	sup := botfarm.NewSupervisor(st, cfg, logger)

	// Cold-start reconciliation and auto-start run before anything else.
	if err := sup.Restore(ctx); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sup.RunMonitor(runCtx)

	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsListen)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("botfarm started", "bots_dir", cfg.BotsDir, "store", cfg.StoreDSN,
		"monitor_interval", cfg.MonitorInterval)
	<-runCtx.Done()
	logger.Info("shutting down")

	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(sctx)
	}
	return nil
}
