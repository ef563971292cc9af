package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/threadpool/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// busyTimeout is how long a connection waits on a lock held by another
// writer, such as a second process sharing the file, before SQLITE_BUSY.
const busyTimeout = 5 * time.Second

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Workers record task progress concurrently. A single connection
	// serialises writers in the pool instead of failing them with
	// SQLITE_BUSY; it is also required for ":memory:", where every
	// connection is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// dsn adds the connection parameters every store connection needs: a busy
// timeout and write transactions that take the lock up front.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_txlock=immediate",
		dbPath, sep, busyTimeout.Milliseconds())
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Modules ---

// SaveModule stores mod unless its hash is already present. It reports
// whether a row was written.
func (s *SQLiteStore) SaveModule(ctx context.Context, mod *model.Module) (bool, error) {
	s.logger.Debug("sql", "op", "insert", "table", "modules", "hash", mod.Hash)

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO modules (hash, name, source, created_at) VALUES (?, ?, ?, ?)`,
		mod.Hash, mod.Name, mod.Source, mod.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetModule returns the module with hash, or nil if there is none.
func (s *SQLiteStore) GetModule(ctx context.Context, hash string) (*model.Module, error) {
	s.logger.Debug("sql", "op", "select", "table", "modules", "hash", hash)

	var mod model.Module
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, name, source, created_at FROM modules WHERE hash = ?`, hash,
	).Scan(&mod.Hash, &mod.Name, &mod.Source, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mod.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &mod, nil
}

// ListModules returns every module in hash order, the order the scheduler
// replays its cache in.
func (s *SQLiteStore) ListModules(ctx context.Context) ([]*model.Module, error) {
	s.logger.Debug("sql", "op", "list", "table", "modules")

	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, name, source, created_at FROM modules ORDER BY hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mods []*model.Module
	for rows.Next() {
		var mod model.Module
		var createdAt string
		if err := rows.Scan(&mod.Hash, &mod.Name, &mod.Source, &createdAt); err != nil {
			return nil, err
		}
		mod.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		mods = append(mods, &mod)
	}
	return mods, rows.Err()
}

// --- Tasks ---

const taskColumns = `id, kind, state, script, module_hash, function, args, memory_pages,
	worker_id, result, error, created_at, started_at, completed_at`

func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "id", task.ID)

	argsJSON, err := json.Marshal(task.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	result, err := marshalResult(task.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Kind), string(task.State), task.Script, task.Module, task.Function,
		string(argsJSON), task.MemoryPages, task.WorkerID, result, task.Error,
		task.CreatedAt.UTC().Format(timeLayout), formatTime(task.StartedAt), formatTime(task.CompletedAt),
	)
	return err
}

// GetTask returns the task with id, or nil if there is none.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "id", id)

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// ListTasks returns a page of tasks, newest first, and the total count.
func (s *SQLiteStore) ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "list", "table", "tasks", "limit", opts.Limit, "offset", opts.Offset, "state", opts.State)

	where, args := "", []any{}
	if opts.State != "" {
		where = " WHERE state = ?"
		args = append(args, string(opts.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	return tasks, total, rows.Err()
}

// UpdateTask writes the mutable fields of task. A state change must be a
// valid transition from the stored state.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "update", "table", "tasks", "id", task.ID, "state", task.State)

	result, err := marshalResult(task.Result)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = ?`, task.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s not found", task.ID)
	}
	if err != nil {
		return err
	}
	from := model.TaskState(current)
	if from != task.State && !from.CanTransitionTo(task.State) {
		return &model.InvalidTransitionError{ID: task.ID, From: from, To: task.State}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET state=?, worker_id=?, result=?, error=?, started_at=?, completed_at=? WHERE id=?`,
		string(task.State), task.WorkerID, result, task.Error,
		formatTime(task.StartedAt), formatTime(task.CompletedAt), task.ID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// FailUnfinished marks every non-terminal task failed with reason. Tasks
// in flight when the process stopped can never complete.
func (s *SQLiteStore) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	s.logger.Debug("sql", "op", "fail_unfinished", "table", "tasks")

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state=?, error=?, completed_at=? WHERE state IN (?, ?)`,
		string(model.TaskStateFailed), reason, time.Now().UTC().Format(timeLayout),
		string(model.TaskStateQueued), string(model.TaskStateRunning),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var kind, state, argsJSON, createdAt string
	var result, startedAt, completedAt *string

	if err := row.Scan(
		&task.ID, &kind, &state, &task.Script, &task.Module, &task.Function,
		&argsJSON, &task.MemoryPages, &task.WorkerID, &result, &task.Error,
		&createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	task.Kind = model.TaskKind(kind)
	task.State = model.TaskState(state)
	if err := json.Unmarshal([]byte(argsJSON), &task.Args); err != nil {
		return nil, fmt.Errorf("unmarshal args of task %s: %w", task.ID, err)
	}
	if result != nil {
		if err := json.Unmarshal([]byte(*result), &task.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result of task %s: %w", task.ID, err)
		}
	}
	task.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	task.StartedAt = parseTime(startedAt)
	task.CompletedAt = parseTime(completedAt)
	return &task, nil
}

func marshalResult(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	s := string(b)
	return &s, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(timeLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}
