// Package app wires configuration, logging, metrics, the request
// processor, the router and the event-loop engine into one runnable
// server, and owns the signal-driven graceful shutdown sequence.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/core/engine"
	"github.com/searchktools/fast-server/core/handlers"
	"github.com/searchktools/fast-server/core/logging"
	"github.com/searchktools/fast-server/core/metrics"
	"github.com/searchktools/fast-server/core/pools"
	"github.com/searchktools/fast-server/core/process"
	"github.com/searchktools/fast-server/core/router"
)

// App is the assembled server: configuration plus every component the
// engine needs to actually answer requests.
type App struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	metrics *metrics.Registry
	proc    *process.Processor
	router  *router.RadixRouter
	engine  *engine.Engine
}

// New constructs an App from cfg, building the logger, metrics registry,
// request processor, router and engine and wiring the handler table onto
// the router (spec.md §4.H, §9 "explicit wiring, no package singleton").
func New(cfg *config.Config) (*App, error) {
	log, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Output: cfg.LogOutput,
		Dir:    cfg.LogDir,
		Env:    cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("app: logger init failed: %w", err)
	}

	pools.ApplyGCConfig(pools.DefaultGCConfig())

	reg := metrics.New()
	proc := process.New()
	rt := router.NewRadixRouter()
	eng := engine.New(cfg, log, reg, rt)

	handlers.Register(eng, proc, reg, cfg.CompatStatus200OnProcessValidationError)

	return &App{
		cfg:     cfg,
		log:     log,
		metrics: reg,
		proc:    proc,
		router:  rt,
		engine:  eng,
	}, nil
}

// Engine returns the underlying engine, for callers that want to register
// additional routes before Run.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts the engine and blocks until a graceful shutdown completes.
// Returns a non-nil error only for startup failures (bind/poller init);
// shutdown via signal always returns nil.
func (a *App) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- a.engine.Run()
	}()

	a.log.Infow("fast-server starting", "port", a.cfg.Port, "env", a.cfg.Env)

	select {
	case sig := <-sigCh:
		a.log.Infow("signal received, shutting down", "signal", sig.String())
		a.engine.Shutdown()
		return nil
	case err := <-runErr:
		return err
	}
}
