//go:build !windows

package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func TestCommandResolution(t *testing.T) {
	l := &Launcher{PythonBin: "python3", NodeBin: "node"}
	cmd := l.Command(Spec{WorkDir: "/w", StartFile: "main.py"})
	require.Equal(t, []string{"python3", "/w/main.py"}, cmd.Args)
	cmd = l.Command(Spec{WorkDir: "/w", StartFile: "index.js"})
	require.Equal(t, []string{"node", "/w/index.js"}, cmd.Args)
	cmd = l.Command(Spec{WorkDir: "/w", StartFile: "run.sh"})
	require.Equal(t, []string{"/w/run.sh"}, cmd.Args)
}

func TestLaunchWritesBannerAndMergesOutput(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "run.sh", "echo out-line\necho err-line 1>&2\nsleep 30")

	l := &Launcher{}
	child, err := l.Launch(Spec{BotID: 7, WorkDir: dir, StartFile: "run.sh"})
	require.NoError(t, err)
	defer func() { _ = StopTree(child.PID, time.Second) }()

	exited, _ := child.ExitedWithin(300 * time.Millisecond)
	require.False(t, exited)
	require.True(t, Alive(child.PID))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(child.LogPath)
		return err == nil &&
			strings.Contains(string(b), "Bot 7 started at") &&
			strings.Contains(string(b), "out-line") &&
			strings.Contains(string(b), "err-line")
	}, 2*time.Second, 50*time.Millisecond)
}

func TestLaunchTruncatesPreviousLog(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "run.sh", "sleep 30")
	logPath := LogPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o750))
	require.NoError(t, os.WriteFile(logPath, []byte("stale output\n"), 0o640))

	l := &Launcher{}
	child, err := l.Launch(Spec{BotID: 1, WorkDir: dir, StartFile: "run.sh"})
	require.NoError(t, err)
	defer func() { _ = StopTree(child.PID, time.Second) }()

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotContains(t, string(b), "stale output")
}

func TestImmediateExitIsDetectedFast(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "run.sh", "echo boom\nexit 7")

	l := &Launcher{}
	child, err := l.Launch(Spec{BotID: 2, WorkDir: dir, StartFile: "run.sh"})
	require.NoError(t, err)

	begin := time.Now()
	exited, code := child.ExitedWithin(5 * time.Second)
	require.True(t, exited)
	require.Equal(t, 7, code)
	// the wait returns as soon as the child dies, not after the full window
	require.Less(t, time.Since(begin), 3*time.Second)

	le := child.LaunchFailure(code)
	require.Equal(t, 7, le.ExitCode)
	require.Contains(t, le.LogTail, "boom")
	require.Contains(t, le.Error(), "exit code 7")
}

func TestStopTreeTerminatesDescendants(t *testing.T) {
	dir := t.TempDir()
	// parent spawns a sub-shell so the tree has a descendant
	writeScript(t, dir, "run.sh", "sh -c 'sleep 60' &\nsleep 60")

	l := &Launcher{}
	child, err := l.Launch(Spec{BotID: 3, WorkDir: dir, StartFile: "run.sh"})
	require.NoError(t, err)
	require.True(t, Alive(child.PID))

	require.NoError(t, StopTree(child.PID, 2*time.Second))
	require.Eventually(t, func() bool { return !Alive(child.PID) },
		2*time.Second, 50*time.Millisecond)
}

func TestStopTreeOnGonePIDIsNil(t *testing.T) {
	// a reaped child's pid is guaranteed dead
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	require.False(t, Alive(pid))
	require.NoError(t, StopTree(pid, time.Second))
}

func TestAlive(t *testing.T) {
	require.True(t, Alive(os.Getpid()))
	require.False(t, Alive(0))
	require.False(t, Alive(-1))
}

func TestApplyLimitSwallowsFailures(t *testing.T) {
	// nonexistent pid and our own child must both be safe
	ApplyLimit(-1, 10, 512)

	dir := t.TempDir()
	writeScript(t, dir, "run.sh", "sleep 30")
	l := &Launcher{}
	child, err := l.Launch(Spec{BotID: 4, WorkDir: dir, StartFile: "run.sh"})
	require.NoError(t, err)
	defer func() { _ = StopTree(child.PID, time.Second) }()

	ApplyLimit(child.PID, 10, 512) // low bucket: nice 10
	nice, err := syscall.Getpriority(syscall.PRIO_PROCESS, child.PID)
	require.NoError(t, err)
	// Getpriority returns 20-nice on Linux
	require.NotEqual(t, 20, nice)
}
