package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritersFromDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	outW, errW, err := c.Writers("app")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatal("expected both writers when Dir is set")
	}
	if _, err := outW.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()

	data, err := os.ReadFile(filepath.Join(dir, "app.stdout.log"))
	if err != nil || !strings.Contains(string(data), "hello") {
		t.Fatalf("stdout log content missing: %v %q", err, data)
	}
}

func TestWritersExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir, StdoutPath: filepath.Join(dir, "custom.out")}
	outW, _, err := c.Writers("app")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if _, err := outW.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	if _, err := os.Stat(filepath.Join(dir, "custom.out")); err != nil {
		t.Fatalf("explicit stdout path not used: %v", err)
	}
}

func TestSetupCreatesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "agent.log")
	lg, closer, err := Setup(path, slog.LevelInfo)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	lg.Info("poll tick", "events", 0)
	_ = closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "poll tick") {
		t.Fatalf("log file missing record: %q", data)
	}
}
