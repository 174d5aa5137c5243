// Package relational is the relational store gateway (§4.A): typed CRUD,
// owner-scoped and privileged reads, sort-allow-listed pagination with a
// window-function count, batched N+1-avoidance calls, and transactional
// helpers that never open their own transaction.
package relational

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

// Gateway wraps a pgx connection pool. Every method takes a context first
// and every transactional method accepts an open pgx.Tx rather than
// calling pool.Begin itself.
type Gateway struct {
	pool *pgxpool.Pool
}

// New connects a Gateway to the given Postgres DSN.
func New(ctx context.Context, dsn string) (*Gateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("relational: ping: %w", err)
	}
	return &Gateway{pool: pool}, nil
}

// NewWithPool builds a Gateway around an already-constructed pool, skipping
// the connect and ping that New performs.
func NewWithPool(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// Close releases the pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// WithTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. Callers of the gateway's transactional helpers
// use this instead of managing pool.Begin/Commit/Rollback themselves.
func (g *Gateway) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return domain.NewError(domain.KindTransient, "relational.WithTx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op if already committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.NewError(domain.KindTransient, "relational.WithTx", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// method below run standalone or inside a caller-supplied transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
