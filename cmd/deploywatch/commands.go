package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/deploywatch/internal/config"
	"github.com/loykin/deploywatch/internal/env"
	"github.com/loykin/deploywatch/internal/gitsync"
	"github.com/loykin/deploywatch/internal/history"
	"github.com/loykin/deploywatch/internal/history/factory"
	"github.com/loykin/deploywatch/internal/logger"
	"github.com/loykin/deploywatch/internal/metrics"
	"github.com/loykin/deploywatch/internal/orchestrator"
	"github.com/loykin/deploywatch/internal/relay"
	"github.com/loykin/deploywatch/internal/service"
	"github.com/loykin/deploywatch/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

const serviceName = "deploywatch"

// action is what one invocation does: run the agent, or manage the
// service registration and exit.
type action int

const (
	actionRun action = iota
	actionInstall
	actionUninstall
)

// resolveAction maps the mode flags onto an action and a config mode.
// --update and --deploy are mutually exclusive, as are --install and
// --uninstall; --install combines with either run mode.
func resolveAction(f RunFlags) (action, config.Mode, error) {
	if f.Update && f.Deploy {
		return 0, 0, errors.New("--update and --deploy are mutually exclusive")
	}
	if f.Install && f.Uninstall {
		return 0, 0, errors.New("--install and --uninstall are mutually exclusive")
	}
	mode := config.ModeUpdate
	if f.Deploy {
		mode = config.ModeDeploy
	}
	switch {
	case f.Uninstall:
		return actionUninstall, mode, nil
	case f.Install:
		return actionInstall, mode, nil
	default:
		return actionRun, mode, nil
	}
}

func run(ctx context.Context, flags RunFlags) error {
	act, mode, err := resolveAction(flags)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if flags.Verbose {
		level = slog.LevelDebug
	}

	if act == actionUninstall {
		// Uninstall needs no configuration beyond the service name.
		lg, closer, err := logger.Setup("", level)
		if err != nil {
			return err
		}
		defer func() { _ = closer.Close() }()
		installer, err := service.New(lg)
		if err != nil {
			return err
		}
		return runUninstall(ctx, installer, lg)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(mode); err != nil {
		return err
	}

	lg, closer, err := logger.Setup(cfg.LogPath, level)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if act == actionInstall {
		installer, err := service.New(lg)
		if err != nil {
			return err
		}
		return runInstall(ctx, installer, flags, mode, lg)
	}
	return runAgent(ctx, cfg, mode, lg)
}

// runAgent wires the agent and blocks until SIGINT/SIGTERM.
func runAgent(ctx context.Context, cfg *config.Config, mode config.Mode, lg *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		lg.Warn("metrics registration failed", "err", err)
	}
	if cfg.MetricsListen != "" {
		go func() {
			if err := serveMetrics(cfg.MetricsListen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("metrics server error", "err", err)
			}
		}()
	}

	var sink history.Sink
	if cfg.HistoryDSN != "" {
		var err error
		sink, err = factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
	}

	source := relay.New(relay.Config{
		Endpoint: cfg.EndpointURL,
		APIKey:   cfg.APIKey,
		Logger:   lg,
	})
	syncer := gitsync.New(gitsync.Config{
		Repo:      cfg.Repo,
		RemoteURL: cfg.RemoteURL,
		Dir:       cfg.LocalDir,
		Logger:    lg,
	})

	var proc orchestrator.Process
	if mode == config.ModeDeploy {
		proc = supervisor.New(supervisor.Spec{
			Name:         serviceName,
			Command:      cfg.RunCmd,
			WorkDir:      cfg.LocalDir,
			ProbeCommand: cfg.ProbeCmd,
			PIDFile:      cfg.PIDFile,
			StartGrace:   cfg.StartGrace,
			StopGrace:    cfg.StopGrace,
			Log:          logger.Config{Dir: cfg.LogDir},
		}, lg)
	}

	orch := orchestrator.New(orchestrator.Config{
		Repo:             cfg.Repo,
		Branches:         cfg.Branches,
		DeployMode:       mode == config.ModeDeploy,
		PollInterval:     cfg.PollInterval,
		LivenessInterval: cfg.LivenessCheck,
		StopOnExit:       cfg.StopOnExit,
		Logger:           lg,
		History:          sink,
	}, source, syncer, proc)

	lg.Info("deploywatch starting",
		"mode", mode.String(),
		"repo", cfg.Repo,
		"branches", orch.DescribeBranches(),
		"dir", cfg.LocalDir)
	return orch.Run(ctx)
}

// runInstall registers the agent with the per-user service manager so it
// survives logouts and reboots. The current DEPLOYWATCH_* environment is
// captured into the registration.
func runInstall(ctx context.Context, installer service.Installer, flags RunFlags, mode config.Mode, lg *slog.Logger) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := []string{"--" + mode.String()}
	if flags.ConfigPath != "" {
		args = append(args, "--config", flags.ConfigPath)
	}

	reg := service.Registration{
		Name:     serviceName,
		ExecPath: execPath,
		Args:     args,
		Env:      env.Captured(config.EnvKeys()),
		LogPath:  logger.DefaultAgentLogPath(),
	}
	if err := installer.Install(ctx, reg); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	lg.Info("service installed", "name", serviceName, "mode", mode.String())
	return nil
}

func runUninstall(ctx context.Context, installer service.Installer, lg *slog.Logger) error {
	if err := installer.Uninstall(ctx, serviceName); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	lg.Info("service uninstalled", "name", serviceName)
	return nil
}

// serveMetrics exposes /metrics on addr using the default registry. It
// blocks in the caller goroutine.
func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
