package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SystemdInstaller manages a per-user systemd unit.
type SystemdInstaller struct {
	UnitDir string // typically ~/.config/systemd/user
	Runner  Runner
	Logger  *slog.Logger
}

func (i *SystemdInstaller) unitPath(name string) string {
	return filepath.Join(i.UnitDir, name+".service")
}

// Install writes (or overwrites) the unit file and activates it. Calling
// it twice yields exactly one registration.
func (i *SystemdInstaller) Install(ctx context.Context, reg Registration) error {
	if err := os.MkdirAll(i.UnitDir, 0o750); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	unit := renderUnit(reg)
	path := i.unitPath(reg.Name)
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	if out, err := i.Runner.Run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w (%s)", err, strings.TrimSpace(out))
	}
	if out, err := i.Runner.Run(ctx, "systemctl", "--user", "enable", "--now", reg.Name+".service"); err != nil {
		return fmt.Errorf("enable service: %w (%s)", err, strings.TrimSpace(out))
	}
	i.Logger.Info("service installed", "unit", path)
	return nil
}

// Uninstall deactivates and removes the unit. An absent unit is a no-op.
func (i *SystemdInstaller) Uninstall(ctx context.Context, name string) error {
	path := i.unitPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		i.Logger.Info("service not installed, nothing to do", "unit", path)
		return nil
	}
	// Best effort: the unit may already be inactive.
	if out, err := i.Runner.Run(ctx, "systemctl", "--user", "disable", "--now", name+".service"); err != nil {
		i.Logger.Warn("disable service failed", "err", err, "output", strings.TrimSpace(out))
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove unit file: %w", err)
	}
	if out, err := i.Runner.Run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w (%s)", err, strings.TrimSpace(out))
	}
	i.Logger.Info("service uninstalled", "unit", path)
	return nil
}

func (i *SystemdInstaller) Installed(name string) (bool, error) {
	_, err := os.Stat(i.unitPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func renderUnit(reg Registration) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=deploywatch push watcher\n")
	b.WriteString("After=network-online.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("ExecStart=" + reg.ExecPath)
	for _, a := range reg.Args {
		b.WriteString(" " + a)
	}
	b.WriteString("\n")
	for _, kv := range reg.Env {
		b.WriteString("Environment=" + systemdQuote(kv) + "\n")
	}
	if reg.LogPath != "" {
		b.WriteString("StandardOutput=append:" + reg.LogPath + "\n")
		b.WriteString("StandardError=append:" + reg.LogPath + "\n")
	}
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=5\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=default.target\n")
	return b.String()
}

func systemdQuote(kv string) string {
	if strings.ContainsAny(kv, " \t\"") {
		return `"` + strings.ReplaceAll(kv, `"`, `\"`) + `"`
	}
	return kv
}
