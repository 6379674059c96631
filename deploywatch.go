package deploywatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/deploywatch/internal/config"
	"github.com/loykin/deploywatch/internal/gitsync"
	"github.com/loykin/deploywatch/internal/history"
	"github.com/loykin/deploywatch/internal/history/factory"
	"github.com/loykin/deploywatch/internal/metrics"
	"github.com/loykin/deploywatch/internal/orchestrator"
	"github.com/loykin/deploywatch/internal/relay"
	"github.com/loykin/deploywatch/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Mode = config.Mode

const (
	ModeUpdate = config.ModeUpdate
	ModeDeploy = config.ModeDeploy
)

type Event = relay.Event

type SyncResult = gitsync.Result

type ProcessState = supervisor.State

type HistorySink = history.Sink

// Agent is a thin facade over the orchestrator wiring for embedding
// deploywatch in another program.
type Agent struct{ inner *orchestrator.Orchestrator }

// NewAgent wires a relay source, a git syncer and, in deploy mode, a
// process supervisor from cfg. The configuration must already be
// validated for the chosen mode.
func NewAgent(cfg *Config, mode Mode, lg *slog.Logger, sink HistorySink) *Agent {
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
	if mode == ModeDeploy {
		proc = supervisor.New(supervisor.Spec{
			Name:         "deploywatch",
			Command:      cfg.RunCmd,
			WorkDir:      cfg.LocalDir,
			ProbeCommand: cfg.ProbeCmd,
			PIDFile:      cfg.PIDFile,
			StartGrace:   cfg.StartGrace,
			StopGrace:    cfg.StopGrace,
		}, lg)
	}
	orch := orchestrator.New(orchestrator.Config{
		Repo:             cfg.Repo,
		Branches:         cfg.Branches,
		DeployMode:       mode == ModeDeploy,
		PollInterval:     cfg.PollInterval,
		LivenessInterval: cfg.LivenessCheck,
		StopOnExit:       cfg.StopOnExit,
		Logger:           lg,
		History:          sink,
	}, source, syncer, proc)
	return &Agent{inner: orch}
}

// Run blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error { return a.inner.Run(ctx) }

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
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
