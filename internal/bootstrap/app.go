// Package bootstrap wires the application lifecycle: signal handling
// and a fan-out of long-lived Runners (Matching Engine, Automation
// Engine) under one errgroup, grounded on the teacher's
// internal/bootstrap/app.go.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tradeforge/internal/core"
)

// Runner is a long-lived component that runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// App orchestrates process-wide startup and shutdown.
type App struct {
	Logger core.Logger
}

// New builds an App.
func New(logger core.Logger) *App {
	return &App{Logger: logger}
}

// Run starts every runner under a signal-aware errgroup and blocks
// until all exit or a SIGINT/SIGTERM arrives.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	a.Logger.Info("starting application")

	for _, r := range runners {
		runner := r
		g.Go(func() error { return runner.Run(ctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}
