package manager

import (
	"context"
	"time"

	"github.com/loykin/botfarm/internal/process"
	"github.com/loykin/botfarm/internal/store"
)

// Restore reconciles all bot records against the OS after a panel restart
// and auto-starts flagged bots. It runs exactly once, before any request is
// served. Dead processes are reconciled to stopped without a restart
// attempt; crash recovery is the monitor's job, this is cold-start cleanup.
func (m *Manager) Restore(ctx context.Context) error {
	recs, err := m.st.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Status != store.StatusRunning {
			continue
		}
		if rec.PID.Valid && process.Alive(int(rec.PID.Int64)) {
			// Survived the panel restart; the priority hint did not.
			process.ApplyLimit(int(rec.PID.Int64), rec.CPULimit, rec.MemoryLimitMB)
			continue
		}
		m.clearToStopped(ctx, rec.ID, false)
		m.logger.Info("reconciled stale bot record", "bot", rec.ID)
	}

	// Re-list so the auto-start pass sees the reconciled statuses.
	recs, err = m.st.List(ctx)
	if err != nil {
		return err
	}
	first := true
	for _, rec := range recs {
		if !rec.AutoStart || rec.Status != store.StatusStopped {
			continue
		}
		if !first {
			// Spread the starts out: simultaneous port binds and rate-limited
			// bot APIs do not cope with a start-storm.
			time.Sleep(m.cfg.AutoStartDelay)
		}
		first = false
		if err := m.Start(ctx, rec.ID); err != nil {
			m.logger.Warn("auto-start failed", "bot", rec.ID, "error", err)
			continue
		}
		m.logger.Info("auto-started bot", "bot", rec.ID)
	}
	return nil
}
