package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxConflict is returned once a transaction has failed with a retryable
// conflict on every allowed attempt.
var ErrTxConflict = errors.New("transaction conflict")

// SQLSTATE codes treated as transient conflicts.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

type txKey struct{}

// Queryable is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TxFromContext returns the transaction bound to ctx by TxRunner, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// Conn returns the transaction bound to ctx, falling back to the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// TxRunner runs units of work in serializable transactions and retries them
// a bounded number of times on serialization failures, deadlocks and unique
// violations.
type TxRunner struct {
	pool        *pgxpool.Pool
	maxAttempts int
	backoff     time.Duration
	onConflict  func()
}

// TxOption configures a TxRunner.
type TxOption func(*TxRunner)

// WithBackoff sets the base delay between attempts. The delay grows linearly.
func WithBackoff(d time.Duration) TxOption {
	return func(r *TxRunner) { r.backoff = d }
}

// WithConflictHook registers fn to be called on every retryable conflict.
func WithConflictHook(fn func()) TxOption {
	return func(r *TxRunner) { r.onConflict = fn }
}

func NewTxRunner(pool *pgxpool.Pool, maxAttempts int, opts ...TxOption) *TxRunner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	r := &TxRunner{pool: pool, maxAttempts: maxAttempts, backoff: 10 * time.Millisecond}
	for _, o := range opts {
		o(r)
	}
	return r
}

// InTx runs fn inside a serializable transaction. The transaction is carried
// on the context passed to fn; repositories pick it up through Conn. A call
// made while a transaction is already bound joins it instead of nesting.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if r.onConflict != nil {
			r.onConflict()
		}
		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	return fmt.Errorf("%w after %d attempt(s): %v", ErrTxConflict, r.maxAttempts, lastErr)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient conflict worth retrying.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return true
	}
	return false
}
