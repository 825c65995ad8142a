// internal/services/txn/runner.go

// Package txn runs a service operation in one store transaction and applies
// its side effects once the transaction has committed.
package txn

import (
	"context"
	"errors"
	"time"

	apperr "compliance-workflow/internal/common/errors"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/common/metrics"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/activity"
	"compliance-workflow/internal/services/notify"
	"compliance-workflow/internal/store"
)

// Effects gathers what an operation wants to happen besides its writes.
// Activity entries are stored in the same transaction; notifications and
// transition metrics are emitted only after commit.
type Effects struct {
	Notify   notify.Batch
	Activity activity.Trail

	transitions []transition
}

type transition struct {
	entity, from, to string
}

// Transition records a committed state change for the transitions metric.
func (fx *Effects) Transition(entity, from, to string) {
	fx.transitions = append(fx.transitions, transition{entity: entity, from: from, to: to})
}

type Runner struct {
	store    store.Store
	recorder *activity.Recorder
	notifier notify.Notifier
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner wires the store with the activity recorder and notifier. A nil
// notifier disables notifications.
func NewRunner(st store.Store, rec *activity.Recorder, n notify.Notifier, log logger.Logger, opts ...Option) *Runner {
	if rec == nil {
		rec = activity.NewRecorder(nil, "", log)
	}
	r := &Runner{
		store:    st,
		recorder: rec,
		notifier: n,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run calls fn inside a transaction. fn gets fresh Effects on every attempt,
// so effects of an attempt that was rolled back are never applied.
func (r *Runner) Run(ctx context.Context, fn func(tx store.Tx, fx *Effects) error) error {
	var (
		fx   *Effects
		logs []*models.ActivityLog
	)
	err := r.store.RunInTx(ctx, func(tx store.Tx) error {
		fx = &Effects{}
		if err := fn(tx, fx); err != nil {
			return err
		}
		var err error
		logs, err = r.recorder.Persist(ctx, tx, fx.Activity.Entries(), r.now())
		return err
	})
	if err != nil {
		return err
	}

	for _, t := range fx.transitions {
		metrics.Transitions.WithLabelValues(t.entity, t.from, t.to).Inc()
	}
	r.recorder.Publish(ctx, logs)
	if r.notifier != nil && fx.Notify.Len() > 0 {
		r.notifier.NotifyBatch(ctx, fx.Notify.Messages())
	}
	return nil
}

// Classify returns err unchanged when it already carries a kind and wraps
// anything else as a dependency failure of op. The operation error counter is
// bumped either way.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var std *apperr.StandardError
	if !errors.As(err, &std) {
		std = apperr.NewDependencyError(op, err)
		err = std
	}
	metrics.OperationErrors.WithLabelValues(op, string(std.Kind)).Inc()
	return err
}
