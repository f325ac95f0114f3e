package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/botfarm/internal/env"
)

// DefaultTimeout bounds a single dependency installation.
const DefaultTimeout = 5 * time.Minute

// Manifest file names checked in a bot's workdir.
const (
	pipManifest = "requirements.txt"
	npmManifest = "package.json"
)

// InstallError reports a failed or timed-out dependency installation,
// carrying the installer's captured output.
type InstallError struct {
	Output string
	Err    error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("dependency install failed: %v", e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }

// Installer runs the package manager matching a bot's dependency manifest.
type Installer struct {
	Env       *env.Env
	PythonBin string        // default "python3"
	NpmBin    string        // default "npm"
	Timeout   time.Duration // default DefaultTimeout
}

// Manifest returns the dependency manifest found in workDir, or "" when the
// bot declares no dependencies.
func Manifest(workDir string) string {
	for _, name := range []string{pipManifest, npmManifest} {
		if fi, err := os.Stat(filepath.Join(workDir, name)); err == nil && !fi.IsDir() {
			return name
		}
	}
	return ""
}

// Install installs dependencies declared in workDir, if any. It is a no-op
// when no manifest exists. Failures and timeouts come back as an
// *InstallError with the captured output.
func (i *Installer) Install(ctx context.Context, workDir string) error {
	manifest := Manifest(workDir)
	if manifest == "" {
		return nil
	}
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch manifest {
	case pipManifest:
		py := i.PythonBin
		if py == "" {
			py = "python3"
		}
		// #nosec G204 -- fixed argv, the bot only controls the manifest contents
		cmd = exec.CommandContext(cctx, py, "-m", "pip", "install",
			"--trusted-host", "pypi.org",
			"--trusted-host", "files.pythonhosted.org",
			"-r", pipManifest)
	case npmManifest:
		npm := i.NpmBin
		if npm == "" {
			npm = "npm"
		}
		// #nosec G204
		cmd = exec.CommandContext(cctx, npm, "install")
	}
	cmd.Dir = workDir
	e := i.Env
	if e == nil {
		e = env.New()
	}
	cmd.Env = e.Sanitized(nil)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return &InstallError{Output: string(out), Err: fmt.Errorf("timed out after %s", timeout)}
		}
		return &InstallError{Output: string(out), Err: err}
	}
	return nil
}
