package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ipede/uma-auth-service/internal/infrastructure/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	maxConns        = 10
	maxConnLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

// Postgres wraps a pgx connection pool for the entries table
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres opens a connection pool and verifies it with a ping
func NewPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Postgres, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MaxConnLifetime = maxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the pool
func (p *Postgres) Close() {
	p.pool.Close()
}

// Exec runs a statement, discarding the command tag
func (p *Postgres) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		p.logger.Error("Exec error", zap.String("sql", sql), zap.Error(err))
	}
	return err
}

// ExecRaw runs a statement and returns the command tag, for callers that
// need the affected row count
func (p *Postgres) ExecRaw(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return p.pool.Exec(ctx, sql, args...)
}

// QueryRow runs a query expected to return at most one row
func (p *Postgres) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// Ping reports whether the database is reachable; used by the readiness
// endpoint
func (p *Postgres) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return p.pool.Ping(ctx)
}
