// Package app wires configuration, logging and the engine into a runnable
// server with signal-driven graceful shutdown.
package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/searchktools/flash/config"
	"github.com/searchktools/flash/core"
	"github.com/searchktools/flash/core/pools"
)

// App is the application instance
type App struct {
	cfg    *config.Config
	engine *core.Engine
	log    zerolog.Logger

	signals []os.Signal
}

// New creates an application instance. The logger is built from cfg.
func New(cfg *config.Config) *App {
	log := cfg.NewLogger(os.Stderr)
	engine := core.NewEngine(core.WithConfig(cfg), core.WithLogger(log))
	return NewWithEngine(cfg, engine)
}

// NewWithEngine creates an application instance with a pre-configured engine
func NewWithEngine(cfg *config.Config, engine *core.Engine) *App {
	return &App{
		cfg:     cfg,
		engine:  engine,
		log:     engine.Logger(),
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Listen binds the configured address, calls onListening with the bound
// address and serves until Shutdown. It returns nil after a graceful
// shutdown.
func (a *App) Listen(onListening func(addr net.Addr)) error {
	prev := pools.ApplyGCConfig(pools.GCConfig{
		GCPercent:   a.cfg.GCPercent,
		MemoryLimit: a.cfg.MemoryLimit,
	})
	if prev >= 0 {
		a.log.Debug().Int("gc_percent", a.cfg.GCPercent).Int("previous", prev).Msg("GC tuned")
	}

	ln, err := core.Listen(context.Background(), a.cfg.Addr())
	if err != nil {
		return err
	}
	if onListening != nil {
		onListening(ln.Addr())
	}

	err = a.engine.Serve(ln)
	if errors.Cause(err) == core.ErrServerClosed {
		return nil
	}
	return err
}

// Run serves until SIGINT or SIGTERM, then shuts down within the configured
// shutdown timeout.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), a.signals...)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- a.Listen(func(addr net.Addr) {
			a.log.Info().
				Str("addr", addr.String()).
				Str("env", a.cfg.Env).
				Str("version", core.Version).
				Msg("flash server started")
		})
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("signal received, shutting down")

	if err := a.Shutdown(); err != nil {
		return err
	}
	return <-errc
}

// Shutdown stops the server gracefully within the configured timeout.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.engine.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("forced shutdown")
		return err
	}
	return nil
}
