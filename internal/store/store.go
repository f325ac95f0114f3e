package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Status is the lifecycle state persisted for a bot. Exactly one value at a
// time; transitions are owned by the manager.
type Status string

const (
	StatusStopped      Status = "stopped"
	StatusStarting     Status = "starting"
	StatusInstalling   Status = "installing"
	StatusRunning      Status = "running"
	StatusRestarting   Status = "restarting"
	StatusErrorStartup Status = "error_startup"
	StatusError        Status = "error"
)

// ErrNotFound is returned by Get/Update/Delete for an unknown bot id.
var ErrNotFound = errors.New("bot not found")

// Record is one managed bot. PID is only valid while the status is
// starting/installing/running; it is cleared whenever the process is known
// to be gone.
type Record struct {
	ID            int64
	Name          string
	WorkDir       string
	StartFile     string
	PID           sql.NullInt64
	Status        Status
	CPULimit      float64 // percentage hint, 0-100
	MemoryLimitMB int64   // advisory only, never enforced
	AutoStart     bool
	RepoURL       string
	RepoBranch    string
	StartedAt     sql.NullTime
	LastStartedAt sql.NullTime
	LastStoppedAt sql.NullTime
	LastCrashedAt sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Mutation describes a partial update: nil pointers leave the column
// untouched, a non-nil sql.Null* with Valid=false sets it to NULL.
type Mutation struct {
	Name          *string
	StartFile     *string
	PID           *sql.NullInt64
	Status        *Status
	CPULimit      *float64
	MemoryLimitMB *int64
	AutoStart     *bool
	RepoURL       *string
	RepoBranch    *string
	StartedAt     *sql.NullTime
	LastStartedAt *sql.NullTime
	LastStoppedAt *sql.NullTime
	LastCrashedAt *sql.NullTime
}

// SetColumns returns the column names and values of the set fields, in a
// stable order. Store implementations add their own placeholder syntax.
func (m Mutation) SetColumns() ([]string, []any) {
	var cols []string
	var args []any
	add := func(c string, v any) {
		cols = append(cols, c)
		args = append(args, v)
	}
	if m.Name != nil {
		add("name", *m.Name)
	}
	if m.StartFile != nil {
		add("start_file", *m.StartFile)
	}
	if m.PID != nil {
		add("pid", *m.PID)
	}
	if m.Status != nil {
		add("status", string(*m.Status))
	}
	if m.CPULimit != nil {
		add("cpu_limit", *m.CPULimit)
	}
	if m.MemoryLimitMB != nil {
		add("memory_limit", *m.MemoryLimitMB)
	}
	if m.AutoStart != nil {
		add("auto_start", *m.AutoStart)
	}
	if m.RepoURL != nil {
		add("repo_url", *m.RepoURL)
	}
	if m.RepoBranch != nil {
		add("repo_branch", *m.RepoBranch)
	}
	if m.StartedAt != nil {
		add("started_at", *m.StartedAt)
	}
	if m.LastStartedAt != nil {
		add("last_started_at", *m.LastStartedAt)
	}
	if m.LastStoppedAt != nil {
		add("last_stopped_at", *m.LastStoppedAt)
	}
	if m.LastCrashedAt != nil {
		add("last_crashed_at", *m.LastCrashedAt)
	}
	return cols, args
}

// Store persists bot records. Updates are partial: unspecified fields keep
// their values, and reads observe writes made on the same Store.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id int64) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Update(ctx context.Context, id int64, mut Mutation) error
	Delete(ctx context.Context, id int64) error
	Close() error
}

// NullPID builds the pid column value; pid <= 0 means NULL.
func NullPID(pid int) sql.NullInt64 {
	if pid <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(pid), Valid: true}
}

// NullTime builds a timestamp column value; the zero time means NULL.
func NullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
