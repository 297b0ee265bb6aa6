package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/ipede/uma-auth-service/internal/infrastructure/database"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PostgresStore implements domain.EntryStore on the entries table. CasPut
// relies on INSERT .. ON CONFLICT DO NOTHING, a conditional write the
// database executes atomically; expired rows are treated as absent and
// overwritten in the same statement's WHERE-less upsert path below.
type PostgresStore struct {
	db     *database.Postgres
	logger *zap.Logger
}

// NewPostgresStore creates an entry store over an existing connection pool
func NewPostgresStore(db *database.Postgres, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Get returns the value for key, ignoring rows whose expiry has passed so a
// stale row is indistinguishable from a missing one
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `
		SELECT value FROM entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		s.logger.Error("Entry lookup failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return value, nil
}

// Put stores value under key with the given TTL; zero TTL means no expiry
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Exec(ctx, `
		INSERT INTO entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3
	`, key, value, expiry(ttl))
}

// Delete removes key
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.db.Exec(ctx, `DELETE FROM entries WHERE key = $1`, key)
}

// CasPut stores value only if key is absent or its row has expired. The
// command tag tells us whether this call performed the write.
func (s *PostgresStore) CasPut(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	tag, err := s.db.ExecRaw(ctx, `
		INSERT INTO entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3
		WHERE entries.expires_at IS NOT NULL AND entries.expires_at <= now()
	`, key, value, expiry(ttl))
	if err != nil {
		s.logger.Error("Conditional write failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeExpired drops expired rows; run from a scheduled maintenance task
func (s *PostgresStore) PurgeExpired(ctx context.Context) error {
	return s.db.Exec(ctx, `DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at <= now()`)
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}
