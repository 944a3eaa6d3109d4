package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// hook is one named component in the startup and shutdown sequence.
type hook struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle manages the startup and shutdown of gateway components.
// Components start in registration order and stop in reverse.
type Lifecycle struct {
	mu sync.Mutex

	hooks   []hook
	started bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Append registers a component. Either callback may be nil.
func (l *Lifecycle) Append(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{name: name, start: start, stop: stop})
}

// OnStop registers a shutdown-only callback.
func (l *Lifecycle) OnStop(name string, stop func(context.Context) error) {
	l.Append(name, nil, stop)
}

// RegisterCloser registers c to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(name string, c io.Closer) {
	l.OnStop(name, func(context.Context) error {
		return c.Close()
	})
}

// Start runs all start callbacks. When one fails, the components already
// started are stopped in reverse order.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.start == nil {
			continue
		}
		if err := h.start(ctx); err != nil {
			l.rollback(ctx, i)
			return fmt.Errorf("starting %s: %w", h.name, err)
		}
		slog.Debug("lifecycle: started", "component", h.name)
	}

	l.started = true
	return nil
}

// rollback stops hooks registered before failedAt in reverse order.
func (l *Lifecycle) rollback(ctx context.Context, failedAt int) {
	for j := failedAt - 1; j >= 0; j-- {
		h := l.hooks[j]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			slog.Warn("lifecycle rollback: stop callback failed",
				"component", h.name, "error", err)
		}
	}
}

// Stop runs all stop callbacks in reverse order and joins their errors.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	var errs []error
	for i := len(l.hooks) - 1; i >= 0; i-- {
		h := l.hooks[i]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", h.name, err))
		}
	}

	l.started = false
	return errors.Join(errs...)
}

// IsStarted returns whether the lifecycle has been started.
func (l *Lifecycle) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}
