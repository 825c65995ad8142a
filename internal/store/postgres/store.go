// internal/store/postgres/store.go

// Package postgres implements store.Store on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
)

// SQLSTATE codes handled by the store.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store runs every transaction at SERIALIZABLE isolation and retries
// serialization failures with exponential backoff.
type Store struct {
	db         *sql.DB
	logger     logger.Logger
	maxRetries int
	maxElapsed time.Duration
}

var _ store.Store = (*Store)(nil)

type Option func(*Store)

// WithMaxRetries bounds the number of retries after a serialization failure.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithMaxElapsed bounds the total time spent retrying one transaction.
func WithMaxElapsed(d time.Duration) Option {
	return func(s *Store) { s.maxElapsed = d }
}

func New(db *sql.DB, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		db:         db,
		logger:     log.WithFields(map[string]interface{}{"component": "postgres-store"}),
		maxRetries: 3,
		maxElapsed: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = s.maxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxRetries)), ctx)
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			s.logger.Warn("transaction conflict, retrying", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return err
		}
		return backoff.Permanent(err)
	}, s.newBackoff(ctx))
}

func (s *Store) runOnce(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	tx *sql.Tx
}

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isSerializationFailure(err error) bool {
	code := sqlState(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// mapInsertErr turns a unique violation into store.ErrDuplicate.
func mapInsertErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if sqlState(err) == codeUniqueViolation {
		return store.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapGetErr turns sql.ErrNoRows into store.ErrNotFound.
func mapGetErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// affected reports whether a conditional update matched a row.
func affected(op string, res sql.Result, err error) (bool, error) {
	if err != nil {
		if isSerializationFailure(err) {
			return false, err
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
