package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/botfarm/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; ":memory:" is accepted.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// single connection avoids SQLITE_BUSY between manager and monitor
	d.SetMaxOpenConns(1)
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			start_file TEXT NOT NULL DEFAULT '',
			pid INTEGER NULL,
			status TEXT NOT NULL DEFAULT 'stopped',
			cpu_limit REAL NOT NULL DEFAULT 50.0,
			memory_limit INTEGER NOT NULL DEFAULT 512,
			auto_start BOOLEAN NOT NULL DEFAULT 0,
			repo_url TEXT NOT NULL DEFAULT '',
			repo_branch TEXT NOT NULL DEFAULT 'main',
			started_at TIMESTAMP NULL,
			last_started_at TIMESTAMP NULL,
			last_stopped_at TIMESTAMP NULL,
			last_crashed_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

const botColumns = `id, name, work_dir, start_file, pid, status, cpu_limit, memory_limit,
	auto_start, repo_url, repo_branch, started_at, last_started_at, last_stopped_at,
	last_crashed_at, created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (store.Record, error) {
	var r store.Record
	err := row.Scan(&r.ID, &r.Name, &r.WorkDir, &r.StartFile, &r.PID, &r.Status,
		&r.CPULimit, &r.MemoryLimitMB, &r.AutoStart, &r.RepoURL, &r.RepoBranch,
		&r.StartedAt, &r.LastStartedAt, &r.LastStoppedAt, &r.LastCrashedAt,
		&r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *DB) Create(ctx context.Context, rec *store.Record) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = store.StatusStopped
	}
	if rec.RepoBranch == "" {
		rec.RepoBranch = "main"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bots(name, work_dir, start_file, pid, status, cpu_limit, memory_limit,
			auto_start, repo_url, repo_branch, started_at, last_started_at, last_stopped_at,
			last_crashed_at, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Name, rec.WorkDir, rec.StartFile, rec.PID, string(rec.Status),
		rec.CPULimit, rec.MemoryLimitMB, rec.AutoStart, rec.RepoURL, rec.RepoBranch,
		rec.StartedAt, rec.LastStartedAt, rec.LastStoppedAt, rec.LastCrashedAt,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (s *DB) Get(ctx context.Context, id int64) (store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = ?;`, id)
	rec, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (s *DB) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Record
	for rows.Next() {
		rec, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) Update(ctx context.Context, id int64, mut store.Mutation) error {
	cols, args := mut.SetColumns()
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE bots SET %s WHERE id = ?;`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return store.ErrNotFound
	}
	return err
}

func (s *DB) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
