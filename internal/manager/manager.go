package manager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/botfarm/internal/env"
	"github.com/loykin/botfarm/internal/gitsync"
	"github.com/loykin/botfarm/internal/installer"
	"github.com/loykin/botfarm/internal/metrics"
	"github.com/loykin/botfarm/internal/process"
	"github.com/loykin/botfarm/internal/store"
)

// defaultStartFile is assumed when a record does not name an entry file.
const defaultStartFile = "main.py"

// NotFoundError reports an unknown bot id or a missing entry file. It is
// surfaced verbatim and never retried.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

// ErrNotRunning is returned by Stop when the record holds no pid.
var ErrNotRunning = errors.New("bot has no recorded process")

// RepoSyncer materializes an empty workdir from a bot's repository.
type RepoSyncer interface {
	Materialize(ctx context.Context, dir, url, branch string) error
}

// DepInstaller installs a bot's declared dependencies.
type DepInstaller interface {
	Install(ctx context.Context, workDir string) error
}

// Config holds the manager's timing knobs. Zero values get defaults.
type Config struct {
	FirstGrace     time.Duration // wait after spawn before the first liveness check (default 1.5s)
	SecondGrace    time.Duration // wait after limits are applied before the re-check (default 2s)
	StopWait       time.Duration // graceful termination window (default 5s)
	RestartSettle  time.Duration // pause between stop and start in Restart (default 500ms)
	AutoStartDelay time.Duration // pause between successive auto-starts (default 1s)
	PythonBin      string        // interpreter for .py bots (default "python3")
	NodeBin        string        // interpreter for .js bots (default "node")
}

func (c *Config) withDefaults() {
	if c.FirstGrace <= 0 {
		c.FirstGrace = 1500 * time.Millisecond
	}
	if c.SecondGrace <= 0 {
		c.SecondGrace = 2 * time.Second
	}
	if c.StopWait <= 0 {
		c.StopWait = 5 * time.Second
	}
	if c.RestartSettle <= 0 {
		c.RestartSettle = 500 * time.Millisecond
	}
	if c.AutoStartDelay <= 0 {
		c.AutoStartDelay = time.Second
	}
}

// StatusInfo is the plain-data answer to a status query. Optional fields are
// nil unless the bot is confirmed running.
type StatusInfo struct {
	Running    bool         `json:"running"`
	Status     store.Status `json:"status"`
	PID        *int         `json:"pid"`
	CPUPercent *float64     `json:"cpu_percent"`
	MemoryMB   *float64     `json:"memory_mb"`
}

// Manager owns bot process lifecycle: start, stop, restart, status. All
// state transitions for one bot are serialized behind a per-bot mutex;
// different bots are independent.
type Manager struct {
	st        store.Store
	cfg       Config
	launcher  *process.Launcher
	installer DepInstaller
	git       RepoSyncer
	samples   *metrics.SampleCache
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(st store.Store, cfg Config, logger *slog.Logger) *Manager {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := env.New()
	return &Manager{
		st:  st,
		cfg: cfg,
		launcher: &process.Launcher{
			Env:       e,
			PythonBin: cfg.PythonBin,
			NodeBin:   cfg.NodeBin,
		},
		installer: &installer.Installer{Env: e, PythonBin: cfg.PythonBin},
		git:       &gitsync.Syncer{},
		samples:   metrics.NewSampleCache(),
		logger:    logger,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// SetRepoSyncer replaces the repository collaborator.
func (m *Manager) SetRepoSyncer(s RepoSyncer) { m.git = s }

// SetInstaller replaces the dependency installer collaborator.
func (m *Manager) SetInstaller(i DepInstaller) { m.installer = i }

// Samples exposes the CPU sample cache (monitor and tests).
func (m *Manager) Samples() *metrics.SampleCache { return m.samples }

// Store exposes the record store (restorer, monitor).
func (m *Manager) Store() store.Store { return m.st }

// lock returns the mutex serializing state transitions for one bot id.
func (m *Manager) lock(id int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Start launches the bot unless it is already confirmed running. It blocks
// through both grace windows, so callers should treat it as a slow call.
func (m *Manager) Start(ctx context.Context, id int64) error {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()
	return m.startLocked(ctx, id)
}

func (m *Manager) startLocked(ctx context.Context, id int64) error {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return err
	}

	// Idempotent start: never spawn a second process for a bot whose pid is
	// confirmed alive.
	if rec.Status == store.StatusRunning && rec.PID.Valid && process.Alive(int(rec.PID.Int64)) {
		return nil
	}

	if err := os.MkdirAll(rec.WorkDir, 0o750); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	if rec.RepoURL != "" && gitsync.Empty(rec.WorkDir) && !gitsync.IsRepo(rec.WorkDir) {
		if err := m.git.Materialize(ctx, rec.WorkDir, rec.RepoURL, rec.RepoBranch); err != nil {
			// Surfaced to the operator but not fatal; the entry file check
			// below decides whether the bot can actually start.
			m.logger.Warn("repository sync failed", "bot", id, "error", err)
		}
	}

	startFile := rec.StartFile
	if startFile == "" {
		startFile = defaultStartFile
	}
	if _, err := os.Stat(filepath.Join(rec.WorkDir, startFile)); err != nil {
		return &NotFoundError{Msg: fmt.Sprintf("start file not found: %s", startFile)}
	}

	if err := m.setStatus(ctx, id, store.StatusStarting); err != nil {
		return err
	}

	if installer.Manifest(rec.WorkDir) != "" {
		if err := m.setStatus(ctx, id, store.StatusInstalling); err != nil {
			return err
		}
		if err := m.installer.Install(ctx, rec.WorkDir); err != nil {
			m.failStartup(ctx, id)
			metrics.IncStartFailure(id)
			return err
		}
	}

	child, err := m.launcher.Launch(process.Spec{
		BotID:     id,
		WorkDir:   rec.WorkDir,
		StartFile: startFile,
	})
	if err != nil {
		m.failStartup(ctx, id)
		metrics.IncStartFailure(id)
		return err
	}

	// First grace window: many bot frameworks crash asynchronously right
	// after an apparently successful spawn.
	if exited, code := child.ExitedWithin(m.cfg.FirstGrace); exited {
		m.failStartup(ctx, id)
		metrics.IncStartFailure(id)
		return child.LaunchFailure(code)
	}

	process.ApplyLimit(child.PID, rec.CPULimit, rec.MemoryLimitMB)

	now := store.NullTime(time.Now())
	pid := store.NullPID(child.PID)
	running := store.StatusRunning
	if err := m.st.Update(ctx, id, store.Mutation{
		PID:           &pid,
		Status:        &running,
		StartedAt:     &now,
		LastStartedAt: &now,
	}); err != nil {
		return err
	}

	// Second grace window: a death here rolls the record back to stopped and
	// still reports a startup failure.
	if exited, code := child.ExitedWithin(m.cfg.SecondGrace); exited {
		stopped := store.StatusStopped
		nullPID := sql.NullInt64{}
		nullTime := sql.NullTime{}
		at := store.NullTime(time.Now())
		_ = m.st.Update(ctx, id, store.Mutation{
			PID:           &nullPID,
			Status:        &stopped,
			StartedAt:     &nullTime,
			LastCrashedAt: &at,
			LastStoppedAt: &at,
		})
		m.samples.Evict(child.PID)
		metrics.IncStartFailure(id)
		return child.LaunchFailure(code)
	}

	metrics.IncStart(id)
	m.logger.Info("bot started", "bot", id, "pid", child.PID)
	return nil
}

// Stop terminates the bot's process tree. A dead process is reconciled to
// stopped and reported as success; ErrNotRunning means the record held no
// pid at all.
func (m *Manager) Stop(ctx context.Context, id int64) error {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()
	return m.stopLocked(ctx, id)
}

func (m *Manager) stopLocked(ctx context.Context, id int64) error {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return err
	}
	if !rec.PID.Valid {
		return ErrNotRunning
	}
	pid := int(rec.PID.Int64)

	if !process.Alive(pid) {
		// Reconciliation only; nothing to signal.
		m.clearToStopped(ctx, id, false)
		m.samples.Evict(pid)
		return nil
	}

	stopErr := process.StopTree(pid, m.cfg.StopWait)
	// The record must never claim a pid the caller can no longer act on,
	// so reconcile even when the kill escalation failed.
	m.clearToStopped(ctx, id, true)
	m.samples.Evict(pid)
	metrics.IncStop(id)
	if stopErr != nil {
		m.logger.Error("bot did not terminate", "bot", id, "pid", pid, "error", stopErr)
		return stopErr
	}
	m.logger.Info("bot stopped", "bot", id, "pid", pid)
	return nil
}

// Restart stops the bot if running, settles briefly, and starts it again.
// A failure leaves the record in whatever state the start produced.
func (m *Manager) Restart(ctx context.Context, id int64) error {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := m.setStatus(ctx, id, store.StatusRestarting); err != nil {
		return err
	}
	err := m.stopLocked(ctx, id)
	switch {
	case err == nil:
		time.Sleep(m.cfg.RestartSettle)
	case errors.Is(err, ErrNotRunning):
		// nothing to stop
	default:
		// A process that survived the kill escalation must not be doubled
		// up by a fresh start.
		return err
	}
	return m.startLocked(ctx, id)
}

// Status answers a status query. Transient and error states come back
// verbatim without touching the OS; a recorded running state is verified
// against the OS and reconciled to stopped when the process is gone.
func (m *Manager) Status(ctx context.Context, id int64) (StatusInfo, error) {
	rec, err := m.getRecord(ctx, id)
	if err != nil {
		return StatusInfo{}, err
	}

	if rec.Status != store.StatusRunning {
		return StatusInfo{Running: false, Status: rec.Status}, nil
	}

	if !rec.PID.Valid || !process.Alive(int(rec.PID.Int64)) {
		if rec.PID.Valid {
			m.samples.Evict(int(rec.PID.Int64))
		}
		m.reconcileDead(ctx, id)
		return StatusInfo{Running: false, Status: store.StatusStopped}, nil
	}

	pid := int(rec.PID.Int64)
	usage, ok := m.samples.Sample(pid)
	if !ok {
		m.samples.Evict(pid)
		m.reconcileDead(ctx, id)
		return StatusInfo{Running: false, Status: store.StatusStopped}, nil
	}
	metrics.SetUsage(id, usage.CPUPercent, usage.MemoryMB)
	return StatusInfo{
		Running:    true,
		Status:     store.StatusRunning,
		PID:        &pid,
		CPUPercent: &usage.CPUPercent,
		MemoryMB:   &usage.MemoryMB,
	}, nil
}

func (m *Manager) getRecord(ctx context.Context, id int64) (store.Record, error) {
	rec, err := m.st.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, &NotFoundError{Msg: fmt.Sprintf("bot %d not found", id)}
	}
	return rec, err
}

func (m *Manager) setStatus(ctx context.Context, id int64, s store.Status) error {
	return m.st.Update(ctx, id, store.Mutation{Status: &s})
}

// failStartup records a failed start: error_startup and no pid.
func (m *Manager) failStartup(ctx context.Context, id int64) {
	s := store.StatusErrorStartup
	nullPID := sql.NullInt64{}
	_ = m.st.Update(ctx, id, store.Mutation{Status: &s, PID: &nullPID})
}

// clearToStopped reconciles the record to stopped with no pid, optionally
// stamping lastStoppedAt (a deliberate stop) on the way.
func (m *Manager) clearToStopped(ctx context.Context, id int64, stamp bool) {
	s := store.StatusStopped
	nullPID := sql.NullInt64{}
	nullTime := sql.NullTime{}
	mut := store.Mutation{Status: &s, PID: &nullPID, StartedAt: &nullTime}
	if stamp {
		at := store.NullTime(time.Now())
		mut.LastStoppedAt = &at
	}
	_ = m.st.Update(ctx, id, mut)
}

// reconcileDead clears a stale running record to stopped under the bot lock.
func (m *Manager) reconcileDead(ctx context.Context, id int64) {
	l := m.lock(id)
	l.Lock()
	defer l.Unlock()
	m.reconcileDeadLocked(ctx, id, false)
}

// reconcileDeadLocked re-reads the record while the bot lock is held and
// clears it to stopped when it still claims a process that is confirmed
// gone. The record is left alone when it changed hands since the caller
// last looked: a bot restarted meanwhile must not have its fresh pid
// clobbered. crashed additionally stamps lastCrashedAt. It returns the dead
// pid and whether the record was cleared.
func (m *Manager) reconcileDeadLocked(ctx context.Context, id int64, crashed bool) (int, bool) {
	rec, err := m.st.Get(ctx, id)
	if err != nil {
		return 0, false
	}
	if rec.Status != store.StatusRunning {
		return 0, false
	}
	pid := 0
	if rec.PID.Valid {
		pid = int(rec.PID.Int64)
		if process.Alive(pid) {
			return 0, false
		}
	}
	s := store.StatusStopped
	nullPID := sql.NullInt64{}
	nullTime := sql.NullTime{}
	mut := store.Mutation{Status: &s, PID: &nullPID, StartedAt: &nullTime}
	if crashed {
		at := store.NullTime(time.Now())
		mut.LastCrashedAt = &at
	}
	if err := m.st.Update(ctx, id, mut); err != nil {
		m.logger.Error("reconcile update failed", "bot", id, "error", err)
		return pid, false
	}
	if pid > 0 {
		m.samples.Evict(pid)
	}
	return pid, true
}
