// Package postgres is the pgx-backed storage layer for orders, callback
// attempts, audit events and the domain event outbox.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lapak-dev/backend-lapak/internal/order"
	"github.com/lapak-dev/backend-lapak/internal/webhook"
)

// querier is satisfied by both pgxpool.Pool and pgx.Tx so the same query
// methods serve pooled and transactional paths.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps the connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store over the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// TxStore exposes the same queries bound to a single transaction. It is the
// concrete implementation of the transaction-scoped contracts the pipeline
// and state machine consume.
type TxStore struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction. The transaction is rolled back on any
// error and committed otherwise. Errors are classified so callers can decide
// whether a retry is worthwhile.
func (s *Store) WithTx(ctx context.Context, fn func(*TxStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&TxStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// InTx adapts WithTx to the pipeline's transaction contract.
func (s *Store) InTx(ctx context.Context, fn func(webhook.TxOps) error) error {
	return s.WithTx(ctx, func(t *TxStore) error { return fn(t) })
}

// InTxOrder adapts WithTx to the state machine's transaction contract.
func (s *Store) InTxOrder(ctx context.Context, fn func(order.Store) error) error {
	return s.WithTx(ctx, func(t *TxStore) error { return fn(t) })
}

// Ping verifies database connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// classify maps driver errors to the pipeline taxonomy. Serialization
// failures, deadlocks, connectivity and resource exhaustion are transient;
// everything else surfaces unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return webhook.ErrTransientStorage.WithErr(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P03", "53300", "53400", "08000", "08003", "08006":
			return webhook.ErrTransientStorage.WithErr(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return webhook.ErrTransientStorage.WithErr(err)
	}
	return err
}

// IsUniqueViolation reports whether the error is a unique constraint breach,
// optionally restricted to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
