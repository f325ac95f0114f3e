package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/botfarm/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.
// DSN is a standard postgres:// URL.

type DB struct {
	db *sql.DB
}

// New opens a PostgreSQL connection pool for the given DSN.
func New(dsn string) (*DB, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty postgres dsn")
	}
	db, err := sql.Open("pgx", d)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return &DB{db: db}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			start_file TEXT NOT NULL DEFAULT '',
			pid BIGINT NULL,
			status TEXT NOT NULL DEFAULT 'stopped',
			cpu_limit DOUBLE PRECISION NOT NULL DEFAULT 50.0,
			memory_limit BIGINT NOT NULL DEFAULT 512,
			auto_start BOOLEAN NOT NULL DEFAULT FALSE,
			repo_url TEXT NOT NULL DEFAULT '',
			repo_branch TEXT NOT NULL DEFAULT 'main',
			started_at TIMESTAMPTZ NULL,
			last_started_at TIMESTAMPTZ NULL,
			last_stopped_at TIMESTAMPTZ NULL,
			last_crashed_at TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
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
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO bots(name, work_dir, start_file, pid, status, cpu_limit, memory_limit,
			auto_start, repo_url, repo_branch, started_at, last_started_at, last_stopped_at,
			last_crashed_at, created_at, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id;`,
		rec.Name, rec.WorkDir, rec.StartFile, rec.PID, string(rec.Status),
		rec.CPULimit, rec.MemoryLimitMB, rec.AutoStart, rec.RepoURL, rec.RepoBranch,
		rec.StartedAt, rec.LastStartedAt, rec.LastStoppedAt, rec.LastCrashedAt,
		rec.CreatedAt, rec.UpdatedAt)
	return row.Scan(&rec.ID)
}

func (s *DB) Get(ctx context.Context, id int64) (store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = $1;`, id)
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
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	args = append(args, time.Now().UTC(), id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE bots SET %s WHERE id = $%d;`, strings.Join(sets, ", "), len(cols)+2),
		args...)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
