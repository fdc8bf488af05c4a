// Package saga runs multi-step operations across independently committed
// resources and undoes the committed steps when a later step fails.
package saga

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/angelmondragon/campusstore-backend/pkg/logger"
)

// Compensation reverses one committed step.
type Compensation func(ctx context.Context) error

// Observer is notified once per rollback.
type Observer interface {
	RolledBack(saga string, steps int, failed bool)
}

type step struct {
	name       string
	compensate Compensation
}

// Transaction is an ordered list of committed steps plus a single rollback.
// It is safe for concurrent Record calls but is meant to be driven by one caller.
type Transaction struct {
	name     string
	logg     *logger.Logger
	observer Observer

	mu    sync.Mutex
	steps []step
}

type Option func(*Transaction)

func WithObserver(o Observer) Option {
	return func(t *Transaction) {
		t.observer = o
	}
}

func New(name string, logg *logger.Logger, opts ...Option) *Transaction {
	t := &Transaction{name: name, logg: logg}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record registers the compensation of a step that has already committed.
func (t *Transaction) Record(name string, compensate Compensation) {
	if compensate == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step{name: name, compensate: compensate})
}

// Do runs action and, only if it succeeds, records compensate.
func (t *Transaction) Do(ctx context.Context, name string, action func(ctx context.Context) error, compensate Compensation) error {
	if err := action(ctx); err != nil {
		return err
	}
	t.Record(name, compensate)
	return nil
}

// Len returns the number of committed steps awaiting either commit or rollback.
func (t *Transaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}

// Rollback runs every recorded compensation in reverse order. All of them are
// attempted even if some fail; the failures are combined. Compensations run on
// a context detached from the caller's cancellation.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	steps := t.steps
	t.steps = nil
	t.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)

	var combined error
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.compensate(ctx); err != nil {
			combined = multierr.Append(combined, fmt.Errorf("compensate %s: %w", s.name, err))
			if t.logg != nil {
				stepCtx := t.logg.WithFields(ctx, map[string]any{"saga": t.name, "step": s.name})
				t.logg.Error(stepCtx, "saga compensation failed", err)
			}
		}
	}

	if t.observer != nil {
		t.observer.RolledBack(t.name, len(steps), combined != nil)
	}
	if t.logg != nil && len(steps) > 0 {
		t.logg.Warn(t.logg.WithFields(ctx, map[string]any{"saga": t.name, "steps": len(steps)}), "saga rolled back")
	}
	return combined
}

// Abort rolls back and returns cause. Compensation failures are logged by
// Rollback and do not replace the error the caller has to act on.
func (t *Transaction) Abort(ctx context.Context, cause error) error {
	_ = t.Rollback(ctx)
	return cause
}

// Commit forgets the recorded compensations once every step has succeeded.
func (t *Transaction) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = nil
}
