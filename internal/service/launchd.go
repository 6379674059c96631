package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const launchdLabelPrefix = "io.loykin."

// LaunchdInstaller manages a per-user launchd agent.
type LaunchdInstaller struct {
	AgentDir string // typically ~/Library/LaunchAgents
	Runner   Runner
	Logger   *slog.Logger
}

func (i *LaunchdInstaller) plistPath(name string) string {
	return filepath.Join(i.AgentDir, launchdLabelPrefix+name+".plist")
}

func (i *LaunchdInstaller) Install(ctx context.Context, reg Registration) error {
	if err := os.MkdirAll(i.AgentDir, 0o750); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}
	path := i.plistPath(reg.Name)
	// Reloading an existing agent requires unload first; ignore the error
	// when it was never loaded.
	if _, err := os.Stat(path); err == nil {
		_, _ = i.Runner.Run(ctx, "launchctl", "unload", path)
	}
	if err := os.WriteFile(path, []byte(renderPlist(reg)), 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}
	if out, err := i.Runner.Run(ctx, "launchctl", "load", "-w", path); err != nil {
		return fmt.Errorf("launchctl load: %w (%s)", err, strings.TrimSpace(out))
	}
	i.Logger.Info("service installed", "plist", path)
	return nil
}

func (i *LaunchdInstaller) Uninstall(ctx context.Context, name string) error {
	path := i.plistPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		i.Logger.Info("service not installed, nothing to do", "plist", path)
		return nil
	}
	if out, err := i.Runner.Run(ctx, "launchctl", "unload", "-w", path); err != nil {
		i.Logger.Warn("launchctl unload failed", "err", err, "output", strings.TrimSpace(out))
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	i.Logger.Info("service uninstalled", "plist", path)
	return nil
}

func (i *LaunchdInstaller) Installed(name string) (bool, error) {
	_, err := os.Stat(i.plistPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func renderPlist(reg Registration) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">` + "\n")
	b.WriteString(`<plist version="1.0">` + "\n<dict>\n")
	b.WriteString("  <key>Label</key><string>" + launchdLabelPrefix + reg.Name + "</string>\n")
	b.WriteString("  <key>ProgramArguments</key>\n  <array>\n")
	b.WriteString("    <string>" + reg.ExecPath + "</string>\n")
	for _, a := range reg.Args {
		b.WriteString("    <string>" + a + "</string>\n")
	}
	b.WriteString("  </array>\n")
	if len(reg.Env) > 0 {
		b.WriteString("  <key>EnvironmentVariables</key>\n  <dict>\n")
		for _, kv := range reg.Env {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				b.WriteString("    <key>" + kv[:i] + "</key><string>" + kv[i+1:] + "</string>\n")
			}
		}
		b.WriteString("  </dict>\n")
	}
	if reg.LogPath != "" {
		b.WriteString("  <key>StandardOutPath</key><string>" + reg.LogPath + "</string>\n")
		b.WriteString("  <key>StandardErrorPath</key><string>" + reg.LogPath + "</string>\n")
	}
	b.WriteString("  <key>RunAtLoad</key><true/>\n")
	b.WriteString("  <key>KeepAlive</key><true/>\n")
	b.WriteString("</dict>\n</plist>\n")
	return b.String()
}
