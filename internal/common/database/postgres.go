// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"rfq-workers/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresClient holds the pool the contract lookup reads templates from.
type PostgresClient struct {
	db *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if lifetime := config.GetDuration(cfg.ConnLifetime); lifetime > 0 {
		db.SetConnMaxLifetime(lifetime)
		db.SetConnMaxIdleTime(lifetime)
	}

	return &PostgresClient{db: db}, nil
}

// NewPostgresFromDB wraps an already opened pool.
func NewPostgresFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *PostgresClient) GetDB() *sql.DB {
	return c.db
}
