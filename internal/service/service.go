package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Registration describes the persistent background entry: the command to
// run, its environment, and where its output goes.
type Registration struct {
	Name     string   // service name, e.g. deploywatch
	ExecPath string   // absolute path to this executable
	Args     []string // mode flags to run with, e.g. --deploy
	Env      []string // captured configuration environment, "K=V" entries
	LogPath  string   // agent log file path
}

// Installer registers/unregisters the agent with the platform service
// manager. Install overwrites any existing registration; Uninstall of an
// absent registration is a no-op.
type Installer interface {
	Install(ctx context.Context, reg Registration) error
	Uninstall(ctx context.Context, name string) error
	Installed(name string) (bool, error)
}

// Runner executes a service-manager command. Injectable so installer logic
// tests without systemctl/launchctl present.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	// #nosec G204 fixed service-manager binaries, args assembled internally
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// New returns the installer for the current platform.
func New(lg *slog.Logger) (Installer, error) {
	if lg == nil {
		lg = slog.Default()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "linux":
		return &SystemdInstaller{
			UnitDir: filepath.Join(home, ".config", "systemd", "user"),
			Runner:  execRunner{},
			Logger:  lg,
		}, nil
	case "darwin":
		return &LaunchdInstaller{
			AgentDir: filepath.Join(home, "Library", "LaunchAgents"),
			Runner:   execRunner{},
			Logger:   lg,
		}, nil
	default:
		return nil, fmt.Errorf("no service manager support on %s", runtime.GOOS)
	}
}
