package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/botfarm/internal/env"
)

const (
	logDirName  = "logs"
	logFileName = "bot.log"
	// logTailBytes is how much of the bot log is attached to a LaunchError.
	logTailBytes = 2000
)

// Spec describes one bot process to launch.
type Spec struct {
	BotID     int64
	WorkDir   string
	StartFile string   // relative to WorkDir
	ExtraEnv  []string // "K=V" overrides on top of the sanitized base
}

// LaunchError reports a child that exited inside a grace window.
type LaunchError struct {
	ExitCode int
	LogTail  string
}

func (e *LaunchError) Error() string {
	if e.LogTail == "" {
		return fmt.Sprintf("process exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("exit code %d\n%s", e.ExitCode, e.LogTail)
}

// Launcher spawns bot processes detached from the panel's session, with
// stdout and stderr merged into the bot's log file.
type Launcher struct {
	Env       *env.Env
	PythonBin string // interpreter for .py entry files (default "python3")
	NodeBin   string // interpreter for .js entry files (default "node")
}

// LogPath returns the bot log location inside workDir.
func LogPath(workDir string) string {
	return filepath.Join(workDir, logDirName, logFileName)
}

// Command resolves the spawn command from the entry file's extension:
// scripts get their interpreter, anything else runs as a native executable.
func (l *Launcher) Command(spec Spec) *exec.Cmd {
	entry := filepath.Join(spec.WorkDir, spec.StartFile)
	switch strings.ToLower(filepath.Ext(spec.StartFile)) {
	case ".py":
		py := l.PythonBin
		if py == "" {
			py = "python3"
		}
		// #nosec G204 -- entry path comes from the operator's bot record
		return exec.Command(py, entry)
	case ".js":
		node := l.NodeBin
		if node == "" {
			node = "node"
		}
		// #nosec G204
		return exec.Command(node, entry)
	default:
		// #nosec G204
		return exec.Command(entry)
	}
}

// Launch truncates and reopens the bot log, writes a start banner, and spawns
// the child in its own session with combined output going to the log. It
// returns as soon as the child is started; grace-window checks are done by
// the caller via Child.ExitedWithin.
func (l *Launcher) Launch(spec Spec) (*Child, error) {
	logPath := LogPath(spec.WorkDir)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// Truncate first, then reopen in append mode so the log can be read
	// while the bot writes to it.
	if err := os.WriteFile(logPath, nil, 0o640); err != nil {
		return nil, fmt.Errorf("truncate log: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	banner := fmt.Sprintf("Bot %d started at %s\n", spec.BotID, time.Now().Format("2006-01-02 15:04:05"))
	if _, err := logFile.WriteString(banner); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("write log banner: %w", err)
	}

	cmd := l.Command(spec)
	cmd.Dir = spec.WorkDir
	e := l.Env
	if e == nil {
		e = env.New()
	}
	cmd.Env = e.Sanitized(spec.ExtraEnv)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, err
	}

	c := &Child{
		PID:     cmd.Process.Pid,
		LogPath: logPath,
		done:    make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		_ = logFile.Close()
		c.mu.Lock()
		c.exitCode = exitCode(err)
		c.mu.Unlock()
		close(c.done)
	}()
	return c, nil
}

// Child is a launched bot process still owned by this panel instance. The
// wait goroutine reaps it on exit and records the exit code.
type Child struct {
	PID     int
	LogPath string

	mu       sync.Mutex
	exitCode int
	done     chan struct{}
}

// ExitedWithin waits up to d for the child to exit. It returns immediately
// when the child is already gone, so an instant crash does not cost the full
// grace window.
func (c *Child) ExitedWithin(d time.Duration) (bool, int) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.done:
		c.mu.Lock()
		code := c.exitCode
		c.mu.Unlock()
		return true, code
	case <-t.C:
		return false, 0
	}
}

// LaunchFailure builds the LaunchError for a grace-window death, attaching
// the tail of the bot log.
func (c *Child) LaunchFailure(code int) *LaunchError {
	return &LaunchError{ExitCode: code, LogTail: logTail(c.LogPath, logTailBytes)}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// logTail reads up to n bytes from the end of the file, best-effort.
func logTail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return ""
	}
	off := int64(0)
	size := fi.Size()
	if size > n {
		off = size - n
	}
	buf := make([]byte, size-off)
	if _, err := f.ReadAt(buf, off); err != nil {
		return ""
	}
	return string(buf)
}
