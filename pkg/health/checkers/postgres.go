package checkers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChecker checks connectivity to the relational index store.
type PostgresChecker struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresChecker creates a postgres health checker. If name is empty it
// defaults to "postgres".
func NewPostgresChecker(pool *pgxpool.Pool, name string) *PostgresChecker {
	if name == "" {
		name = "postgres"
	}
	return &PostgresChecker{pool: pool, name: name}
}

// Name returns the name of this health check.
func (p *PostgresChecker) Name() string {
	return p.name
}

// Check pings the pool.
func (p *PostgresChecker) Check(ctx context.Context) error {
	if p.pool == nil {
		return fmt.Errorf("pool is not configured")
	}
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
