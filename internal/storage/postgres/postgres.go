// Package postgres provides the Postgres-backed Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements staffing.Store on a pgx connection pool.
type Store struct {
	pool dbPool
}

// Open connects to Postgres, verifies the connection, and ensures the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
// The schema is assumed to exist.
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS snapshots (
	id            BIGSERIAL PRIMARY KEY,
	store_name    TEXT NOT NULL,
	biz_type      TEXT NOT NULL DEFAULT 'unspecified',
	genre         TEXT NOT NULL DEFAULT 'unspecified',
	area          TEXT NOT NULL DEFAULT 'unspecified',
	total_staff   INTEGER NOT NULL,
	working_staff INTEGER NOT NULL,
	active_staff  INTEGER NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	shift_time    TEXT NOT NULL DEFAULT '',
	captured_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_name_time ON snapshots(store_name, captured_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(captured_at);

CREATE TABLE IF NOT EXISTS sources (
	id         BIGSERIAL PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	error_flag BOOLEAN NOT NULL DEFAULT FALSE,
	added_at   TIMESTAMPTZ NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const snapshotColumns = "store_name, biz_type, genre, area, total_staff, working_staff, active_staff, url, shift_time, captured_at"

// Append implements staffing.SnapshotStore.
func (s *Store) Append(ctx context.Context, snap staffing.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO snapshots (`+snapshotColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		snap.SourceName, snap.Category, snap.Genre, snap.Area,
		snap.TotalStaff, snap.OnDuty, snap.Free,
		snap.URL, snap.ShiftTime, snap.CapturedAt,
	)
	if err != nil {
		return &staffing.StorageError{Op: "append", Err: err}
	}
	return nil
}

// LatestPerSource implements staffing.SnapshotStore.
func (s *Store) LatestPerSource(ctx context.Context) ([]staffing.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT ON (store_name) `+snapshotColumns+`
FROM snapshots
ORDER BY store_name ASC, captured_at DESC, id DESC`)
	if err != nil {
		return nil, &staffing.StorageError{Op: "latest_per_source", Err: err}
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// Range implements staffing.SnapshotStore.
func (s *Store) Range(ctx context.Context, q staffing.RangeQuery) ([]staffing.Snapshot, error) {
	var (
		where []string
		args  []any
	)
	if q.Source != "" {
		args = append(args, q.Source)
		where = append(where, fmt.Sprintf("store_name = $%d", len(args)))
	}
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		where = append(where, fmt.Sprintf("captured_at >= $%d", len(args)))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		where = append(where, fmt.Sprintf("captured_at <= $%d", len(args)))
	}

	query := "SELECT " + snapshotColumns + " FROM snapshots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY captured_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &staffing.StorageError{Op: "range", Err: err}
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// SourceNames implements staffing.SnapshotStore.
func (s *Store) SourceNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT store_name FROM snapshots ORDER BY store_name ASC`)
	if err != nil {
		return nil, &staffing.StorageError{Op: "source_names", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &staffing.StorageError{Op: "source_names", Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &staffing.StorageError{Op: "source_names", Err: err}
	}
	return names, nil
}

// ListSources implements staffing.SourceRegistry.
func (s *Store) ListSources(ctx context.Context) ([]staffing.Source, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, url, error_flag, added_at FROM sources ORDER BY id ASC`)
	if err != nil {
		return nil, &staffing.StorageError{Op: "list_sources", Err: err}
	}
	defer rows.Close()

	var out []staffing.Source
	for rows.Next() {
		var src staffing.Source
		if err := rows.Scan(&src.ID, &src.URL, &src.ErrorFlag, &src.AddedAt); err != nil {
			return nil, &staffing.StorageError{Op: "list_sources", Err: err}
		}
		src.AddedAt = src.AddedAt.In(staffing.Zone())
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, &staffing.StorageError{Op: "list_sources", Err: err}
	}
	return out, nil
}

// AddSource implements staffing.SourceRegistry.
func (s *Store) AddSource(ctx context.Context, url string) (staffing.Source, error) {
	addedAt := time.Now().In(staffing.Zone())
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO sources (url, error_flag, added_at)
VALUES ($1, FALSE, $2)
RETURNING id`, url, addedAt).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return staffing.Source{}, &staffing.StorageError{Op: "add_source", Err: staffing.ErrDuplicateSource}
		}
		return staffing.Source{}, &staffing.StorageError{Op: "add_source", Err: err}
	}
	return staffing.Source{ID: id, URL: url, AddedAt: addedAt}, nil
}

// UpdateSource implements staffing.SourceRegistry. A successful update
// also clears the error flag since the new URL has not failed yet.
func (s *Store) UpdateSource(ctx context.Context, id int64, url string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE sources SET url = $1, error_flag = FALSE WHERE id = $2`, url, id)
	return registryResult("update_source", tag, err)
}

// RemoveSource implements staffing.SourceRegistry.
func (s *Store) RemoveSource(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	return registryResult("remove_source", tag, err)
}

// MarkSourceError implements staffing.SourceRegistry.
func (s *Store) MarkSourceError(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET error_flag = TRUE WHERE id = $1`, id)
	return registryResult("mark_source_error", tag, err)
}

// ClearSourceError implements staffing.SourceRegistry.
func (s *Store) ClearSourceError(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET error_flag = FALSE WHERE id = $1`, id)
	return registryResult("clear_source_error", tag, err)
}

// Prune implements staffing.Store.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE captured_at < $1`, before)
	if err != nil {
		return 0, &staffing.StorageError{Op: "prune", Err: err}
	}
	return tag.RowsAffected(), nil
}

func registryResult(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return &staffing.StorageError{Op: op, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &staffing.StorageError{Op: op, Err: staffing.ErrSourceNotFound}
	}
	return nil
}

func scanSnapshots(rows pgx.Rows) ([]staffing.Snapshot, error) {
	var out []staffing.Snapshot
	for rows.Next() {
		var snap staffing.Snapshot
		if err := rows.Scan(
			&snap.SourceName, &snap.Category, &snap.Genre, &snap.Area,
			&snap.TotalStaff, &snap.OnDuty, &snap.Free,
			&snap.URL, &snap.ShiftTime, &snap.CapturedAt,
		); err != nil {
			return nil, &staffing.StorageError{Op: "scan", Err: err}
		}
		snap.CapturedAt = snap.CapturedAt.In(staffing.Zone())
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &staffing.StorageError{Op: "scan", Err: err}
	}
	return out, nil
}
