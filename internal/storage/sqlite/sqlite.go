// Package sqlite provides the embedded single-node Store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Store persists snapshots and sources in a sqlite file. Writes go through
// a single-connection handle so the append path never sees SQLITE_BUSY;
// reads use a separate read-only handle and can run concurrently.
type Store struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}

	writeDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("opening read db: %w", err)
	}

	s := &Store{readDB: readDB, writeDB: writeDB}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	// WAL lets the read-only handle keep serving queries while a cycle
	// appends on the write handle.
	if _, err := s.writeDB.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("enabling wal: %w", err)
	}
	_, err := s.writeDB.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			store_name    TEXT NOT NULL,
			biz_type      TEXT NOT NULL DEFAULT 'unspecified',
			genre         TEXT NOT NULL DEFAULT 'unspecified',
			area          TEXT NOT NULL DEFAULT 'unspecified',
			total_staff   INTEGER NOT NULL,
			working_staff INTEGER NOT NULL,
			active_staff  INTEGER NOT NULL,
			url           TEXT NOT NULL DEFAULT '',
			shift_time    TEXT NOT NULL DEFAULT '',
			captured_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_name_time ON snapshots(store_name, captured_at);
		CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(captured_at);

		CREATE TABLE IF NOT EXISTS sources (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			url        TEXT NOT NULL UNIQUE,
			error_flag INTEGER NOT NULL DEFAULT 0,
			added_at   INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Close releases both database handles.
func (s *Store) Close() error {
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.writeDB != nil {
		errs = append(errs, s.writeDB.Close())
	}
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

const snapshotColumns = "store_name, biz_type, genre, area, total_staff, working_staff, active_staff, url, shift_time, captured_at"

// Append implements staffing.SnapshotStore.
func (s *Store) Append(ctx context.Context, snap staffing.Snapshot) error {
	_, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.SourceName, snap.Category, snap.Genre, snap.Area,
		snap.TotalStaff, snap.OnDuty, snap.Free,
		snap.URL, snap.ShiftTime, snap.CapturedAt.Unix(),
	)
	if err != nil {
		return &staffing.StorageError{Op: "append", Err: err}
	}
	return nil
}

// LatestPerSource implements staffing.SnapshotStore. Ties on the capture
// timestamp resolve to the later insertion.
func (s *Store) LatestPerSource(ctx context.Context) ([]staffing.Snapshot, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY store_name
				ORDER BY captured_at DESC, id DESC
			) AS rn
			FROM snapshots
		)
		WHERE rn = 1
		ORDER BY store_name ASC
	`)
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
		args  []interface{}
	)
	if q.Source != "" {
		where = append(where, "store_name = ?")
		args = append(args, q.Source)
	}
	if !q.Start.IsZero() {
		where = append(where, "captured_at >= ?")
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		where = append(where, "captured_at <= ?")
		args = append(args, q.End.Unix())
	}

	query := "SELECT " + snapshotColumns + " FROM snapshots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY captured_at ASC, id ASC"

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &staffing.StorageError{Op: "range", Err: err}
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// SourceNames implements staffing.SnapshotStore.
func (s *Store) SourceNames(ctx context.Context) ([]string, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT DISTINCT store_name FROM snapshots ORDER BY store_name ASC
	`)
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
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, url, error_flag, added_at FROM sources ORDER BY id ASC
	`)
	if err != nil {
		return nil, &staffing.StorageError{Op: "list_sources", Err: err}
	}
	defer rows.Close()

	var out []staffing.Source
	for rows.Next() {
		var (
			src     staffing.Source
			flag    int
			addedAt int64
		)
		if err := rows.Scan(&src.ID, &src.URL, &flag, &addedAt); err != nil {
			return nil, &staffing.StorageError{Op: "list_sources", Err: err}
		}
		src.ErrorFlag = flag != 0
		src.AddedAt = time.Unix(addedAt, 0).In(staffing.Zone())
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
	res, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO sources (url, error_flag, added_at) VALUES (?, 0, ?)
	`, url, addedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return staffing.Source{}, &staffing.StorageError{Op: "add_source", Err: staffing.ErrDuplicateSource}
		}
		return staffing.Source{}, &staffing.StorageError{Op: "add_source", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return staffing.Source{}, &staffing.StorageError{Op: "add_source", Err: err}
	}
	return staffing.Source{ID: id, URL: url, AddedAt: addedAt}, nil
}

// UpdateSource implements staffing.SourceRegistry. A successful update
// also clears the error flag since the new URL has not failed yet.
func (s *Store) UpdateSource(ctx context.Context, id int64, url string) error {
	res, err := s.writeDB.ExecContext(ctx, `
		UPDATE sources SET url = ?, error_flag = 0 WHERE id = ?
	`, url, id)
	return registryResult("update_source", res, err)
}

// RemoveSource implements staffing.SourceRegistry.
func (s *Store) RemoveSource(ctx context.Context, id int64) error {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	return registryResult("remove_source", res, err)
}

// MarkSourceError implements staffing.SourceRegistry.
func (s *Store) MarkSourceError(ctx context.Context, id int64) error {
	res, err := s.writeDB.ExecContext(ctx, `UPDATE sources SET error_flag = 1 WHERE id = ?`, id)
	return registryResult("mark_source_error", res, err)
}

// ClearSourceError implements staffing.SourceRegistry.
func (s *Store) ClearSourceError(ctx context.Context, id int64) error {
	res, err := s.writeDB.ExecContext(ctx, `UPDATE sources SET error_flag = 0 WHERE id = ?`, id)
	return registryResult("clear_source_error", res, err)
}

// Prune implements staffing.Store.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `
		DELETE FROM snapshots WHERE captured_at < ?
	`, before.Unix())
	if err != nil {
		return 0, &staffing.StorageError{Op: "prune", Err: err}
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, &staffing.StorageError{Op: "prune", Err: err}
	}
	return removed, nil
}

func registryResult(op string, res sql.Result, err error) error {
	if err != nil {
		return &staffing.StorageError{Op: op, Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &staffing.StorageError{Op: op, Err: err}
	}
	if affected == 0 {
		return &staffing.StorageError{Op: op, Err: staffing.ErrSourceNotFound}
	}
	return nil
}

func scanSnapshots(rows *sql.Rows) ([]staffing.Snapshot, error) {
	var out []staffing.Snapshot
	for rows.Next() {
		var (
			snap       staffing.Snapshot
			capturedAt int64
		)
		if err := rows.Scan(
			&snap.SourceName, &snap.Category, &snap.Genre, &snap.Area,
			&snap.TotalStaff, &snap.OnDuty, &snap.Free,
			&snap.URL, &snap.ShiftTime, &capturedAt,
		); err != nil {
			return nil, &staffing.StorageError{Op: "scan", Err: err}
		}
		snap.CapturedAt = time.Unix(capturedAt, 0).In(staffing.Zone())
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, &staffing.StorageError{Op: "scan", Err: err}
	}
	return out, nil
}
