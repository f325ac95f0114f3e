package gitsync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// cloneTimeout bounds a single clone; large bot repos over slow links are
// still expected to finish well inside this.
const cloneTimeout = 2 * time.Minute

// Syncer materializes bot workdirs from their configured repositories.
// The manager treats it as a black box: a failure is surfaced as a message,
// never as a fatal start error.
type Syncer struct {
	GitBin string // default "git"
}

// IsRepo reports whether dir is a git work tree.
func IsRepo(dir string) bool {
	fi, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && fi.IsDir()
}

// Empty reports whether dir holds nothing a bot could run. Placeholder
// files left by the panel do not count as content.
func Empty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}
	for _, e := range entries {
		switch e.Name() {
		case ".gitkeep", "config.json":
			continue
		}
		return false
	}
	return true
}

// Materialize clones url (at branch) into dir. dir must exist and be empty.
func (s *Syncer) Materialize(ctx context.Context, dir, url, branch string) error {
	git := s.GitBin
	if git == "" {
		git = "git"
	}
	if branch == "" {
		branch = "main"
	}
	cctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()
	// #nosec G204 -- url/branch come from the operator's bot record
	cmd := exec.CommandContext(cctx, git, "clone", "--branch", branch, "--single-branch", url, ".")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone %s: %v: %s", url, err, strings.TrimSpace(string(out)))
	}
	return nil
}
