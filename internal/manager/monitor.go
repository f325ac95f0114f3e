package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/botfarm/internal/metrics"
	"github.com/loykin/botfarm/internal/process"
	"github.com/loykin/botfarm/internal/store"
)

const (
	defaultMonitorInterval = 30 * time.Second
	defaultMonitorBackoff  = 60 * time.Second
)

// Monitor is the crash monitor: a long-lived loop that reconciles recorded
// running bots against real OS state and attempts one restart per detected
// crash. A failed recovery leaves the bot in the error status; it is not
// retried on later ticks because the bot is no longer recorded as running.
type Monitor struct {
	m        *Manager
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

func NewMonitor(m *Manager, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		m:        m,
		interval: interval,
		backoff:  defaultMonitorBackoff,
		logger:   logger,
	}
}

// Run polls until ctx is canceled. A failed tick (e.g. the store is briefly
// unreachable) is logged and followed by a longer sleep so a persistent
// failure does not spin.
func (mon *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(mon.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := mon.Tick(ctx); err != nil {
			mon.logger.Error("crash monitor tick failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(mon.backoff):
			}
		}
	}
}

// Tick runs one reconciliation pass. Exposed for the tests and for a manual
// sweep right after startup. The liveness check here is only a cheap
// pre-filter over a possibly stale listing; the verdict is re-taken under
// the bot lock in recoverBot.
func (mon *Monitor) Tick(ctx context.Context) error {
	recs, err := mon.m.Store().List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Status != store.StatusRunning || !rec.PID.Valid {
			continue
		}
		if process.Alive(int(rec.PID.Int64)) {
			continue
		}
		mon.recoverBot(ctx, rec.ID)
	}
	return nil
}

// recoverBot re-checks the crash under the bot lock and attempts at most one
// restart. The lock is held across the reconcile write and the restart so a
// concurrent Start, Stop or Restart cannot interleave and leave a second
// live process for the same bot. Panics are contained per bot so one bad
// record cannot halt the sweep.
func (mon *Monitor) recoverBot(ctx context.Context, id int64) {
	defer func() {
		if r := recover(); r != nil {
			mon.logger.Error("crash monitor panic", "bot", id, "panic", r)
		}
	}()

	l := mon.m.lock(id)
	l.Lock()
	defer l.Unlock()

	pid, crashed := mon.m.reconcileDeadLocked(ctx, id, true)
	if !crashed {
		// restarted or stopped by someone else since the sweep looked
		return
	}
	mon.logger.Warn("bot process lost", "bot", id, "pid", pid)

	metrics.IncCrashRecovery(id)
	if err := mon.m.startLocked(ctx, id); err != nil {
		errStatus := store.StatusError
		_ = mon.m.Store().Update(ctx, id, store.Mutation{Status: &errStatus})
		mon.logger.Error("crash recovery failed", "bot", id, "error", err)
		return
	}
	mon.logger.Info("bot recovered after crash", "bot", id)
}
