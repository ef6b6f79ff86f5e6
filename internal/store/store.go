package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// ErrDuplicateInstallation marks a (tenant_id, addon_id) uniqueness
// violation so callers can report it as an already-installed outcome
// instead of a generic storage failure.
var ErrDuplicateInstallation = errors.New("installation already exists for tenant and addon")

// ErrStatusChanged marks a guarded update that matched zero rows: the
// installation's status moved between the pre-check and the transaction,
// so the transition the caller validated is no longer legal.
var ErrStatusChanged = errors.New("installation status changed concurrently")

// RedisClient is the subset of redis.Client used for catalog caching.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Store handles database operations for the addon catalog and tenant
// installations. The cache is optional; a nil cache disables it.
type Store struct {
	db    *sql.DB
	cache RedisClient
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB, cache RedisClient) *Store {
	return &Store{db: db, cache: cache}
}

// Open connects to the database and returns a Store.
func Open(dsn string, cache RedisClient) (*Store, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDB(*config)
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return NewStore(db, cache), nil
}

// Close closes the database connection and the cache client.
func (s *Store) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.db.Close()
}

// WithTx runs fn inside a single transaction. Any error from fn rolls the
// transaction back; a nil return commits it.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
