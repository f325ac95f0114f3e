//go:build !windows

package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/botfarm/internal/process"
	"github.com/loykin/botfarm/internal/store"
)

func killAndWaitGone(t *testing.T, pid int) {
	t.Helper()
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))
	require.Eventually(t, func() bool { return !process.Alive(pid) },
		3*time.Second, 20*time.Millisecond)
}

func TestMonitorRecoversCrashedBot(t *testing.T) {
	m := newTestManager(t, testConfig())
	mon := NewMonitor(m, time.Minute, m.logger)
	ctx := context.Background()
	rec := createBot(t, m, "sleep 60", nil)
	stopAtCleanup(t, m, rec.ID)

	require.NoError(t, m.Start(ctx, rec.ID))
	oldPID := int(getRec(t, m, rec.ID).PID.Int64)
	killAndWaitGone(t, oldPID)

	require.NoError(t, mon.Tick(ctx))
	got := getRec(t, m, rec.ID)
	require.Equal(t, store.StatusRunning, got.Status)
	require.True(t, got.PID.Valid)
	require.NotEqual(t, oldPID, int(got.PID.Int64))
	require.True(t, got.LastCrashedAt.Valid)
	require.False(t, m.Samples().Contains(oldPID))

	// the replacement is alive, so a second sweep must not touch it
	require.NoError(t, mon.Tick(ctx))
	require.Equal(t, got.PID.Int64, getRec(t, m, rec.ID).PID.Int64)
}

func TestMonitorFailedRecoverySetsError(t *testing.T) {
	m := newTestManager(t, testConfig())
	mon := NewMonitor(m, time.Minute, m.logger)
	ctx := context.Background()
	rec := createBot(t, m, "sleep 60", nil)

	require.NoError(t, m.Start(ctx, rec.ID))
	pid := int(getRec(t, m, rec.ID).PID.Int64)
	killAndWaitGone(t, pid)
	// sabotage the restart
	require.NoError(t, os.Remove(filepath.Join(rec.WorkDir, "run.sh")))

	require.NoError(t, mon.Tick(ctx))
	got := getRec(t, m, rec.ID)
	require.Equal(t, store.StatusError, got.Status)
	require.False(t, got.PID.Valid)
	require.True(t, got.LastCrashedAt.Valid)

	// no longer recorded as running, so later sweeps leave it alone
	require.NoError(t, mon.Tick(ctx))
	require.Equal(t, store.StatusError, getRec(t, m, rec.ID).Status)
}

func TestMonitorIgnoresNonRunning(t *testing.T) {
	m := newTestManager(t, testConfig())
	mon := NewMonitor(m, time.Minute, m.logger)
	ctx := context.Background()

	stopped := createBot(t, m, "sleep 60", nil)
	errored := createBot(t, m, "sleep 60", func(r *store.Record) {
		r.Status = store.StatusErrorStartup
	})
	// running status but no pid: nothing actionable
	orphan := createBot(t, m, "sleep 60", func(r *store.Record) {
		r.Status = store.StatusRunning
	})

	require.NoError(t, mon.Tick(ctx))
	require.Equal(t, store.StatusStopped, getRec(t, m, stopped.ID).Status)
	require.Equal(t, store.StatusErrorStartup, getRec(t, m, errored.ID).Status)
	require.Equal(t, store.StatusRunning, getRec(t, m, orphan.ID).Status)
}

// crashGateStore holds back the monitor's crash-reconcile write until the
// test releases it, so a concurrent Start can be interleaved with a recovery
// deterministically.
type crashGateStore struct {
	store.Store
	once sync.Once
	hit  chan struct{} // closed when the crash write arrives
	gate chan struct{} // closed by the test to let it through
}

func (g *crashGateStore) Update(ctx context.Context, id int64, mut store.Mutation) error {
	if mut.LastCrashedAt != nil && mut.Status != nil && *mut.Status == store.StatusStopped {
		g.once.Do(func() { close(g.hit) })
		<-g.gate
	}
	return g.Store.Update(ctx, id, mut)
}

func TestMonitorRecoveryExcludesConcurrentStart(t *testing.T) {
	gs := &crashGateStore{
		Store: newTestStore(t),
		hit:   make(chan struct{}),
		gate:  make(chan struct{}),
	}
	m := newManagerWith(gs, testConfig())
	mon := NewMonitor(m, time.Minute, m.logger)
	ctx := context.Background()
	rec := createBot(t, m, "sleep 60", nil)
	stopAtCleanup(t, m, rec.ID)

	require.NoError(t, m.Start(ctx, rec.ID))
	crashedPID := int(getRec(t, m, rec.ID).PID.Int64)
	killAndWaitGone(t, crashedPID)

	tickDone := make(chan error, 1)
	go func() { tickDone <- mon.Tick(ctx) }()
	<-gs.hit // the monitor has detected the crash and is mid-recovery

	startDone := make(chan error, 1)
	go func() { startDone <- m.Start(ctx, rec.ID) }()
	select {
	case <-startDone:
		// the manual start completed ahead of the recovery
	case <-time.After(500 * time.Millisecond):
		// the manual start is waiting its turn on the bot lock
	}
	observed := map[int]bool{crashedPID: true}
	if r := getRec(t, m, rec.ID); r.PID.Valid {
		observed[int(r.PID.Int64)] = true
	}
	t.Cleanup(func() {
		for pid := range observed {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	})

	close(gs.gate)
	require.NoError(t, <-tickDone)
	require.NoError(t, <-startDone)

	// exactly one live process, and it is the one on record
	final := getRec(t, m, rec.ID)
	require.Equal(t, store.StatusRunning, final.Status)
	require.True(t, final.PID.Valid)
	finalPID := int(final.PID.Int64)
	observed[finalPID] = true
	require.True(t, process.Alive(finalPID))
	for pid := range observed {
		if pid != finalPID {
			require.False(t, process.Alive(pid),
				"process %d left running beside the recorded one", pid)
		}
	}
}

func TestMonitorLeavesHealthyBotAlone(t *testing.T) {
	m := newTestManager(t, testConfig())
	mon := NewMonitor(m, time.Minute, m.logger)
	ctx := context.Background()
	rec := createBot(t, m, "sleep 60", nil)
	stopAtCleanup(t, m, rec.ID)

	require.NoError(t, m.Start(ctx, rec.ID))
	pid := getRec(t, m, rec.ID).PID.Int64

	require.NoError(t, mon.Tick(ctx))
	got := getRec(t, m, rec.ID)
	require.Equal(t, store.StatusRunning, got.Status)
	require.Equal(t, pid, got.PID.Int64)
	require.False(t, got.LastCrashedAt.Valid)
}
