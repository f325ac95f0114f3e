package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botfarm.log")
	log := Config{Level: "debug", File: path}.New()
	log.Info("hello", "k", "v")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), "hello") || !strings.Contains(string(b), "k=v") {
		t.Fatalf("unexpected log content: %s", b)
	}
}

func TestNewHonorsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botfarm.log")
	log := Config{Level: "error", File: path}.New()
	log.Info("quiet")
	log.Error("loud")

	b, _ := os.ReadFile(path)
	if strings.Contains(string(b), "quiet") {
		t.Fatalf("info record should have been filtered: %s", b)
	}
	if !strings.Contains(string(b), "loud") {
		t.Fatalf("error record missing: %s", b)
	}
}

func TestNewStderrHandler(t *testing.T) {
	log := Config{}.New()
	if log == nil {
		t.Fatal("nil logger")
	}
	ctx := context.Background()
	if !log.Enabled(ctx, slog.LevelInfo) {
		t.Fatal("default level should enable info")
	}
	if log.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("default level should filter debug")
	}
}
