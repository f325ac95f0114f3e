// Package botfarm supervises a fleet of independently deployable bot
// processes: it materializes workspaces, installs dependencies, spawns and
// verifies OS processes, applies soft resource limits, and recovers from
// crashes.
package botfarm

import (
	"context"
	"log/slog"

	cfg "github.com/loykin/botfarm/internal/config"
	"github.com/loykin/botfarm/internal/manager"
	"github.com/loykin/botfarm/internal/store"
	"github.com/loykin/botfarm/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Record = store.Record

type Status = store.Status

type StatusInfo = manager.StatusInfo

type Store = store.Store

// OpenStore selects a record store from a DSN (sqlite path or postgres URL)
// and ensures its schema.
func OpenStore(ctx context.Context, dsn string) (Store, error) {
	st, err := factory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// Supervisor is a thin facade over internal/manager for embedding.
type Supervisor struct {
	inner   *manager.Manager
	monitor *manager.Monitor
}

// NewSupervisor builds a supervisor over st using the daemon configuration.
func NewSupervisor(st Store, c Config, logger *slog.Logger) *Supervisor {
	m := manager.New(st, manager.Config{
		FirstGrace:     c.FirstGrace,
		SecondGrace:    c.SecondGrace,
		StopWait:       c.StopWait,
		AutoStartDelay: c.AutoStartDelay,
		PythonBin:      c.PythonBin,
		NodeBin:        c.NodeBin,
	}, logger)
	return &Supervisor{
		inner:   m,
		monitor: manager.NewMonitor(m, c.MonitorInterval, logger),
	}
}

func (s *Supervisor) Start(ctx context.Context, id int64) error   { return s.inner.Start(ctx, id) }
func (s *Supervisor) Stop(ctx context.Context, id int64) error    { return s.inner.Stop(ctx, id) }
func (s *Supervisor) Restart(ctx context.Context, id int64) error { return s.inner.Restart(ctx, id) }
func (s *Supervisor) Status(ctx context.Context, id int64) (StatusInfo, error) {
	return s.inner.Status(ctx, id)
}

// Restore reconciles records against the OS and auto-starts flagged bots.
// Call once at startup, before serving requests.
func (s *Supervisor) Restore(ctx context.Context) error { return s.inner.Restore(ctx) }

// RunMonitor runs the crash monitor until ctx is canceled.
func (s *Supervisor) RunMonitor(ctx context.Context) { s.monitor.Run(ctx) }
