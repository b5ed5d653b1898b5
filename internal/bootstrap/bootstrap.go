// Package bootstrap runs a command with signal handling and shutdown hooks
// and assembles the store from configuration.
package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const shutdownTimeout = 15 * time.Second

// App manages the lifecycle of one command.
type App struct {
	mu    sync.Mutex
	hooks []func(ctx context.Context) error
	done  bool
}

func New() *App {
	return &App{}
}

// AddShutdownHook registers fn to run when the command ends. Hooks run in
// reverse order of registration.
func (a *App) AddShutdownHook(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, fn)
}

// Run calls run with a context canceled on SIGINT or SIGTERM. The shutdown
// hooks run once run has returned, whether it finished or was interrupted,
// and their errors are joined with run's.
func (a *App) Run(ctx context.Context, run func(ctx context.Context) error) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := run(ctx)
	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		runErr = nil
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown runs the registered hooks once.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return nil
	}
	a.done = true

	var errs []error
	for i := len(a.hooks) - 1; i >= 0; i-- {
		if err := a.hooks[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
