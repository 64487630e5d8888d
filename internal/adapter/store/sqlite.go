package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"taskrunner/internal/domain"
)

// SQLiteStore implements domain.TaskStore and domain.ScheduleStore on a
// single SQLite database. Task records are stored as JSON documents keyed by
// collection; an autoincrement sequence preserves arrival order and drives
// history eviction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs the
// schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open task db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate task db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL,
			collection TEXT NOT NULL,
			data       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_collection ON tasks(collection, seq);
		CREATE INDEX IF NOT EXISTS idx_tasks_id ON tasks(id);
		CREATE TABLE IF NOT EXISTS schedules (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			data       TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- domain.TaskStore ---

const (
	collPending = "pending"
	collRunning = "running"
)

func (s *SQLiteStore) insert(ctx context.Context, collection string, task domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO tasks (id, collection, data) VALUES (?, ?, ?)",
		task.ID, collection, string(data),
	)
	return err
}

func (s *SQLiteStore) listColl(ctx context.Context, collection string) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM tasks WHERE collection = ? ORDER BY seq", collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("parse task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) remove(ctx context.Context, collection, id, op string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE collection = ? AND id = ?", collection, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError(op, domain.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) AppendPending(ctx context.Context, task domain.Task) error {
	return s.insert(ctx, collPending, task)
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]domain.Task, error) {
	return s.listColl(ctx, collPending)
}

func (s *SQLiteStore) RemovePending(ctx context.Context, id string) error {
	return s.remove(ctx, collPending, id, "taskstore.RemovePending")
}

func (s *SQLiteStore) ClearPending(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE collection = ?", collPending)
	return err
}

func (s *SQLiteStore) PutRunning(ctx context.Context, task domain.Task) error {
	// Replace any stale row for the same id.
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE collection = ? AND id = ?", collRunning, task.ID,
	); err != nil {
		return err
	}
	return s.insert(ctx, collRunning, task)
}

func (s *SQLiteStore) ListRunning(ctx context.Context) ([]domain.Task, error) {
	return s.listColl(ctx, collRunning)
}

func (s *SQLiteStore) RemoveRunning(ctx context.Context, id string) error {
	return s.remove(ctx, collRunning, id, "taskstore.RemoveRunning")
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, kind domain.HistoryKind, task domain.Task) error {
	if err := s.insert(ctx, string(kind), task); err != nil {
		return err
	}
	// Evict oldest beyond the cap.
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE collection = ? AND seq NOT IN (
			SELECT seq FROM tasks WHERE collection = ? ORDER BY seq DESC LIMIT ?
		)`, string(kind), string(kind), HistoryCap,
	)
	return err
}

func (s *SQLiteStore) ListHistory(ctx context.Context, kind domain.HistoryKind, offset, limit int) ([]domain.Task, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE collection = ?", string(kind),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = total
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM tasks WHERE collection = ? ORDER BY seq DESC LIMIT ? OFFSET ?",
		string(kind), limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, 0, err
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, 0, fmt.Errorf("parse task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM tasks WHERE id = ? ORDER BY seq DESC LIMIT 1", id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, domain.NewDomainError("taskstore.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("parse task row: %w", err)
	}
	return &t, nil
}

// PruneHistory deletes terminal-history rows whose task finished before
// cutoff and reports how many were removed.
func (s *SQLiteStore) PruneHistory(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE collection IN (?, ?)
		AND json_extract(data, '$.finished_at') < ?`,
		string(domain.HistoryCompleted), string(domain.HistoryFailed),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Compact reclaims space freed by history eviction and checkpoints the WAL.
func (s *SQLiteStore) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// ScheduleStore returns a domain.ScheduleStore view over the same database.
func (s *SQLiteStore) ScheduleStore() *SQLiteScheduleStore {
	return &SQLiteScheduleStore{db: s.db}
}

// SQLiteScheduleStore implements domain.ScheduleStore on the shared database.
type SQLiteScheduleStore struct {
	db *sql.DB
}

func (s *SQLiteScheduleStore) Save(ctx context.Context, def domain.ScheduledTask) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, created_at, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		def.ID, def.CreatedAt.UTC().Format(time.RFC3339Nano), string(data),
	)
	return err
}

func (s *SQLiteScheduleStore) Get(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM schedules WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, domain.NewDomainError("schedulestore.Get", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var def domain.ScheduledTask
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nil, fmt.Errorf("parse schedule row: %w", err)
	}
	return &def, nil
}

func (s *SQLiteScheduleStore) List(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM schedules ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.ScheduledTask
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var def domain.ScheduledTask
		if err := json.Unmarshal([]byte(data), &def); err != nil {
			return nil, fmt.Errorf("parse schedule row: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *SQLiteScheduleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewDomainError("schedulestore.Delete", domain.ErrNotFound, id)
	}
	return nil
}
