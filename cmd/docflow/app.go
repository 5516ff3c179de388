package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/msageha/docflow/internal/catalog"
	"github.com/msageha/docflow/internal/events"
	"github.com/msageha/docflow/internal/generator"
	"github.com/msageha/docflow/internal/lock"
	"github.com/msageha/docflow/internal/logging"
	"github.com/msageha/docflow/internal/merge"
	"github.com/msageha/docflow/internal/metrics"
	"github.com/msageha/docflow/internal/model"
	"github.com/msageha/docflow/internal/quality"
	"github.com/msageha/docflow/internal/status"
	"github.com/msageha/docflow/internal/workflow"
)

const lockFileName = ".docflow.lock"

// app holds the wired collaborators for one CLI invocation.
type app struct {
	cfg         model.Config
	logger      *logging.Logger
	catalog     *catalog.Catalog
	store       *status.FileStore
	registry    *prometheus.Registry
	bus         *events.Bus
	coordinator *workflow.Coordinator
	progress    io.Writer

	closers []io.Closer
	lock    *lock.FileLock
}

func loadConfig(opts *rootOptions) (model.Config, error) {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.outputDir != "" {
		cfg.Output.Dir = opts.outputDir
	}
	return cfg, nil
}

// newBaseApp loads config, logger, catalog and status store without the generation stack.
func newBaseApp(opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.Open(cfg.Logging, "docflow")
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{closer}}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = cat
	a.store = status.NewFileStore(cfg.Status.Dir, logger)
	return a, nil
}

// newApp wires the full run stack: backend, generators, quality loop, events, metrics and coordinator.
// Wave and document progress lines go to progress when it is non-nil.
func newApp(opts *rootOptions, progress io.Writer) (*app, error) {
	a, err := newBaseApp(opts)
	if err != nil {
		return nil, err
	}
	a.progress = progress
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	defs := a.catalog.Definitions()

	backend, err := generator.NewCommandBackend(cfg.Generation, a.logger)
	if err != nil {
		return err
	}
	generators, err := generator.ForDefinitions(defs, backend)
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	instruments, err := metrics.NewInstruments(a.registry)
	if err != nil {
		return err
	}

	profiles := model.TypeProfiles(cfg.Quality, defs)
	checker, err := quality.NewHeuristicChecker(cfg.Quality, profiles)
	if err != nil {
		return err
	}

	a.bus = events.NewBus(256)
	a.closers = append(a.closers, closerFunc(func() error { a.bus.Close(); return nil }))
	a.bus.SubscribeAll(func(e events.Event) {
		a.logger.Debugf("event=%s run_id=%s document=%s", e.Type, e.RunID, e.DocumentID)
	})
	sinks := []events.Sink{a.bus}
	if cfg.Audit.Path != "" {
		audit, err := events.NewAuditSink(cfg.Audit, cfg.Logging, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, audit)
		sinks = append(sinks, audit)
	}
	if a.progress != nil {
		sinks = append(sinks, progressSink(a.progress))
	}
	sink := events.Multi(sinks...)

	loop := quality.NewLoop(cfg.Quality, quality.LoopDeps{
		Checker:     checker,
		Reviewer:    quality.NewBackendReviewer(backend),
		Improver:    quality.NewBackendImprover(backend),
		Merger:      merge.New(cfg.Merge, profiles, a.logger),
		Sink:        sink,
		Logger:      a.logger,
		Instruments: instruments,
	})

	timeout := time.Duration(cfg.Generation.TimeoutSec) * time.Second
	executor := workflow.NewExecutor(a.catalog, generators, loop, cfg.Output.Dir, timeout, a.logger)
	a.coordinator = workflow.NewCoordinator(a.catalog, executor, a.logger,
		workflow.WithStore(a.store),
		workflow.WithSink(sink),
		workflow.WithInstruments(instruments),
	)
	return nil
}

// lockOutput takes the output directory lock for the lifetime of the app.
func (a *app) lockOutput() error {
	fl := lock.NewFileLock(filepath.Join(a.cfg.Output.Dir, lockFileName))
	if err := fl.TryLock(); err != nil {
		return err
	}
	a.lock = fl
	return nil
}

func (a *app) Close() error {
	var errs []error
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock output: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
