package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		dir    string
		listen string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run a workflow for every request file dropped into the watch directory",
		Long: `Watch a directory for *.yaml request files and run each one in turn.
Processed files move to processed/, rejected or failed ones to failed/,
each with a .result.yaml summary next to it.

Request file:
  schema_version: 1
  file_type: request
  request: "a todo app with sharing"
  documents: [prd, architecture]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if dir != "" {
				a.cfg.Watch.Dir = dir
			}
			if listen != "" {
				a.cfg.Metrics.Listen = listen
			}
			if err := a.lockOutput(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.Metrics.Listen != "" {
				srv := serveMetrics(a.cfg.Metrics.Listen, a.registry, a.logger)
				defer shutdownServer(srv, a.logger)
			}
			return watch.New(a.cfg.Watch, a.coordinator, a.logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "override watch.dir")
	cmd.Flags().StringVar(&listen, "metrics-listen", "", "override metrics.listen (e.g. :9090)")
	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("metrics listening addr=%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("metrics server shutdown: %v", err)
	}
}
