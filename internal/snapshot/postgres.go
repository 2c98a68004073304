// File: internal/snapshot/postgres.go
// Postgres-backed snapshot store: an append-only table keyed by version with
// the full graph payload as JSONB. Mirrors the filesystem layout's
// guarantees — snapshots are write-once, Latest is a single indexed lookup.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS snapshots (
	version    BIGINT PRIMARY KEY,
	id         TEXT NOT NULL,
	stamp      TIMESTAMPTZ NOT NULL,
	payload    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_stamp_idx ON snapshots (stamp);`

// PgxIface is the subset of pgxpool.Pool the store needs. Tests substitute a
// pgxmock pool.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore persists snapshots in an append-only table.
type PostgresStore struct {
	db  PgxIface
	log *zap.Logger
}

var _ schemas.SnapshotStore = (*PostgresStore)(nil)

// NewPostgresStore connects to the configured database and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	store, err := NewPostgresStoreWithDB(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection (or mock) and ensures
// the schema exists.
func NewPostgresStoreWithDB(ctx context.Context, db PgxIface, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PostgresStore{db: db, log: logger.Named("SnapshotPG")}
	if _, err := s.db.Exec(ctx, createSnapshotsTable); err != nil {
		return nil, fmt.Errorf("ensuring snapshots schema: %w", err)
	}
	return s, nil
}

// Save appends a snapshot row. The version primary key enforces write-once:
// re-persisting an existing version is an error, never an overwrite.
func (s *PostgresStore) Save(ctx context.Context, snap schemas.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot v%d: %w", snap.Version, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO snapshots (version, id, stamp, payload)
		VALUES ($1, $2, $3, $4);
	`, int64(snap.Version), snap.ID, snap.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("persisting snapshot v%d: %w", snap.Version, err)
	}
	observability.SnapshotsWritten.Inc()
	s.log.Info("Snapshot persisted",
		zap.Uint64("version", snap.Version),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)))
	return nil
}

// Latest returns the highest-version snapshot, or ErrNoSnapshots.
func (s *PostgresStore) Latest(ctx context.Context) (schemas.Snapshot, error) {
	return s.queryOne(ctx, `
		SELECT payload FROM snapshots ORDER BY version DESC LIMIT 1;
	`)
}

// At returns the closest snapshot with version <= the request.
func (s *PostgresStore) At(ctx context.Context, version uint64) (schemas.Snapshot, error) {
	return s.queryOne(ctx, `
		SELECT payload FROM snapshots WHERE version <= $1 ORDER BY version DESC LIMIT 1;
	`, int64(version))
}

// AtTime returns the closest snapshot taken at or before ts.
func (s *PostgresStore) AtTime(ctx context.Context, ts time.Time) (schemas.Snapshot, error) {
	return s.queryOne(ctx, `
		SELECT payload FROM snapshots WHERE stamp <= $1 ORDER BY stamp DESC LIMIT 1;
	`, ts)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) queryOne(ctx context.Context, sql string, args ...any) (schemas.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, sql, args...).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.Snapshot{}, schemas.ErrNoSnapshots
		}
		return schemas.Snapshot{}, fmt.Errorf("querying snapshot: %w", err)
	}
	var snap schemas.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return schemas.Snapshot{}, fmt.Errorf("decoding snapshot payload: %w", err)
	}
	return snap, nil
}
