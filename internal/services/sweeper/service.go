// internal/services/sweeper/service.go

// Package sweeper auto-accepts observations whose response deadline passed
// without an answer from the agency.
package sweeper

import (
	"context"
	"time"

	"compliance-workflow/internal/common/database"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/common/metrics"
	"compliance-workflow/internal/common/observability"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/txn"
	"compliance-workflow/internal/store"

	"github.com/redis/go-redis/v9"
)

const (
	TriggerTicker = "ticker"
	TriggerJob    = "job"
	TriggerManual = "manual"
)

// AutoAcceptor applies the auto-accept transition to one observation.
// *escalation.Service satisfies it.
type AutoAcceptor interface {
	AutoAccept(ctx context.Context, tx store.Tx, fx *txn.Effects, obs *models.Observation, now time.Time) (bool, error)
}

// SweepResult counts the rows of one run. Skipped rows were answered or
// swept by someone else between selection and update.
type SweepResult struct {
	Count     int  `json:"count"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Contended bool `json:"contended,omitempty"`
}

type Service struct {
	config   *Config
	runner   *txn.Runner
	acceptor AutoAcceptor
	redis    redis.UniversalClient
	obs      *observability.Observability
	logger   logger.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithLock serializes runs across replicas through a Redis lock.
func WithLock(rdb redis.UniversalClient) Option {
	return func(s *Service) { s.redis = rdb }
}

func WithObservability(o *observability.Observability) Option {
	return func(s *Service) { s.obs = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(config *Config, runner *txn.Runner, acceptor AutoAcceptor, log logger.Logger, opts ...Option) *Service {
	if config == nil {
		config = LoadConfig()
	}
	s := &Service{
		config:   config,
		runner:   runner,
		acceptor: acceptor,
		logger:   log.WithFields(map[string]interface{}{"component": "sweeper"}),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOverdueObservations auto-accepts every observation still awaiting a
// response whose deadline is before now. Each row commits on its own; row
// failures are logged and counted, and running it twice is harmless.
func (s *Service) SweepOverdueObservations(ctx context.Context, now time.Time) (SweepResult, error) {
	return s.Sweep(ctx, now, TriggerManual)
}

// Sweep is SweepOverdueObservations with the trigger recorded in metrics.
func (s *Service) Sweep(ctx context.Context, now time.Time, trigger string) (SweepResult, error) {
	started := time.Now()
	log := s.logger.WithFields(map[string]interface{}{"trigger": trigger})

	release, acquired := s.lock(ctx, log)
	if !acquired {
		log.Info("sweep skipped, another instance holds the lock", nil)
		return SweepResult{Contended: true}, nil
	}
	defer release()

	var (
		res   SweepResult
		after *store.OverdueCursor
	)
	for {
		batch, err := s.overdue(ctx, now, after)
		if err != nil {
			s.obs.RecordSweep(ctx, trigger, time.Since(started), res.Count, res.Failed, res.Skipped)
			return res, txn.Classify("sweep overdue observations", err)
		}

		for _, o := range batch {
			if ctx.Err() != nil {
				break
			}
			switch ok, err := s.acceptOne(ctx, o, now); {
			case err != nil:
				res.Failed++
				metrics.SweepRows.WithLabelValues("failed").Inc()
				log.Error("auto-accept failed", map[string]interface{}{
					"observation_id": o.ID,
					"error":          err.Error(),
				})
			case ok:
				res.Count++
				metrics.SweepRows.WithLabelValues("accepted").Inc()
			default:
				res.Skipped++
				metrics.SweepRows.WithLabelValues("skipped").Inc()
			}
		}

		// Pages are keyed on (deadline, id) so rows that keep failing cannot
		// hide the ones behind them.
		if len(batch) == 0 || len(batch) < s.config.BatchSize || ctx.Err() != nil {
			break
		}
		after = store.CursorAfter(batch[len(batch)-1])
	}

	elapsed := time.Since(started)
	s.obs.RecordSweep(ctx, trigger, elapsed, res.Count, res.Failed, res.Skipped)
	log.Info("sweep finished", map[string]interface{}{
		"accepted":    res.Count,
		"failed":      res.Failed,
		"skipped":     res.Skipped,
		"duration_ms": elapsed.Milliseconds(),
	})
	return res, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("deadline sweeper started", map[string]interface{}{
		"interval": s.config.Interval.String(),
	})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("deadline sweeper stopped", nil)
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now(), TriggerTicker); err != nil {
				s.logger.Error("sweep run failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (s *Service) overdue(ctx context.Context, now time.Time, after *store.OverdueCursor) ([]*models.Observation, error) {
	var batch []*models.Observation
	err := s.runner.Run(ctx, func(tx store.Tx, _ *txn.Effects) error {
		var err error
		batch, err = tx.ListOverdueObservations(ctx, now, after, s.config.BatchSize)
		return err
	})
	return batch, err
}

func (s *Service) acceptOne(ctx context.Context, o *models.Observation, now time.Time) (bool, error) {
	var ok bool
	err := s.runner.Run(ctx, func(tx store.Tx, fx *txn.Effects) error {
		var err error
		ok, err = s.acceptor.AutoAccept(ctx, tx, fx, o, now)
		return err
	})
	return ok, err
}

// lock takes the Redis lock when one is configured. A Redis failure runs the
// sweep unlocked; the conditional update keeps rows from being swept twice.
func (s *Service) lock(ctx context.Context, log logger.Logger) (func(), bool) {
	noop := func() {}
	if s.redis == nil {
		return noop, true
	}
	ok, err := database.AcquireLock(ctx, s.redis, s.config.LockKey, s.config.InstanceID, s.config.LockTTL)
	if err != nil {
		log.Warn("sweep lock unavailable, running unlocked", map[string]interface{}{"error": err.Error()})
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		if err := database.ReleaseLock(context.WithoutCancel(ctx), s.redis, s.config.LockKey, s.config.InstanceID); err != nil {
			log.Warn("sweep lock release failed", map[string]interface{}{"error": err.Error()})
		}
	}, true
}
