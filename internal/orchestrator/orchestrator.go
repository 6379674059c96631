package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/deploywatch/internal/gitsync"
	"github.com/loykin/deploywatch/internal/history"
	"github.com/loykin/deploywatch/internal/metrics"
	"github.com/loykin/deploywatch/internal/relay"
	"github.com/loykin/deploywatch/internal/supervisor"
)

// Default tick cadences.
const (
	DefaultPollInterval     = 30 * time.Second
	DefaultLivenessInterval = 5 * time.Second
)

// EventSource yields new, deduplicated events from the relay service.
type EventSource interface {
	Poll(ctx context.Context) ([]relay.Event, error)
}

// Syncer brings the local checkout up to date.
type Syncer interface {
	Sync(ctx context.Context) (gitsync.Result, error)
	LastRevision() string
}

// Process is the supervisor surface the loop drives. Only state-transition
// requests, never the process handle itself.
type Process interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	CheckAlive() bool
	State() supervisor.State
}

// Config for the orchestrator loop.
type Config struct {
	Repo             string        // configured target, e.g. acme/app
	Branches         []string      // deploy branches; default main and master
	DeployMode       bool          // restart + supervise on change
	PollInterval     time.Duration // relay poll cadence
	LivenessInterval time.Duration // liveness check cadence
	StopOnExit       bool          // stop the managed application on shutdown
	Logger           *slog.Logger
	History          history.Sink // optional audit sink
}

// Orchestrator multiplexes the poll timer and the liveness timer onto one
// loop. All deploy actions are serialized on that loop; no sync or restart
// ever runs concurrently with another.
type Orchestrator struct {
	cfg    Config
	source EventSource
	syncer Syncer
	proc   Process
	logger *slog.Logger
}

func New(cfg Config, source EventSource, syncer Syncer, proc Process) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = DefaultLivenessInterval
	}
	if len(cfg.Branches) == 0 {
		cfg.Branches = []string{"main", "master"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, source: source, syncer: syncer, proc: proc, logger: cfg.Logger}
}

// Run drives the loop until ctx is cancelled. Cancellation is cooperative:
// an in-flight tick finishes before Run returns, and the managed
// application keeps running unless StopOnExit is set.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		"repo", o.cfg.Repo,
		"deploy_mode", o.cfg.DeployMode,
		"poll_interval", o.cfg.PollInterval,
		"liveness_interval", o.cfg.LivenessInterval)

	if o.cfg.DeployMode {
		// Ensure there is something to supervise before the first event.
		if _, err := o.syncer.Sync(ctx); err != nil {
			o.logger.Error("initial sync failed", "err", err)
		}
		if err := o.proc.Start(ctx); err != nil {
			o.logger.Error("initial start failed", "err", err)
		}
	}

	pollT := time.NewTicker(o.cfg.PollInterval)
	defer pollT.Stop()
	liveT := time.NewTicker(o.cfg.LivenessInterval)
	defer liveT.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.shutdown()
		case <-pollT.C:
			o.pollTick(ctx)
		case <-liveT.C:
			// Both timers due in the same tick: the poll action runs
			// first so we do not restart a process that is about to be
			// redeployed anyway.
			select {
			case <-pollT.C:
				o.pollTick(ctx)
			default:
			}
			if o.cfg.DeployMode {
				o.liveTick(ctx)
			}
		}
	}
}

func (o *Orchestrator) shutdown() error {
	if o.cfg.StopOnExit && o.cfg.DeployMode {
		// Fresh context: the loop context is already cancelled.
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.proc.Stop(stopCtx); err != nil {
			o.logger.Error("stop on exit failed", "err", err)
			return err
		}
	}
	o.logger.Info("orchestrator stopped")
	return nil
}

// pollTick polls the relay, filters events and triggers sync/restart.
func (o *Orchestrator) pollTick(ctx context.Context) {
	events, err := o.source.Poll(ctx)
	if err != nil {
		// Transient: the tick is skipped, the loop continues.
		metrics.IncPoll("error")
		o.logger.Warn("poll failed, skipping tick", "err", err)
		return
	}
	metrics.IncPoll("ok")
	o.logger.Debug("poll tick", "events", len(events))

	qualifying := 0
	for _, e := range events {
		if o.qualifies(e) {
			qualifying++
			metrics.IncEvent("qualified")
			o.record(ctx, history.ActionEvent, e.Revision, e.ID, nil)
			o.logger.Info("qualifying push event", "id", e.ID, "branch", e.Branch, "repo", e.Repo)
		} else {
			metrics.IncEvent("ignored")
			o.logger.Info("ignoring event", "id", e.ID, "type", e.Type, "branch", e.Branch, "repo", e.Repo)
		}
	}
	if qualifying == 0 {
		return
	}

	res, err := o.syncer.Sync(ctx)
	if err != nil {
		metrics.IncSync("error")
		o.record(ctx, history.ActionSync, "", "", err)
		if gitsync.IsConflict(err) {
			// Never auto-discard local changes; deploy is skipped.
			o.logger.Error("sync conflict, deploy skipped", "err", err)
		} else {
			o.logger.Warn("sync failed, tick skipped", "err", err)
		}
		return
	}
	metrics.IncSync(res.String())
	o.record(ctx, history.ActionSync, o.syncer.LastRevision(), res.String(), nil)

	if res != gitsync.Changed {
		return
	}
	if !o.cfg.DeployMode {
		o.logger.Info("repository changed, update-only mode, no restart",
			"revision", o.syncer.LastRevision())
		return
	}
	if err := o.proc.Restart(ctx); err != nil {
		o.record(ctx, history.ActionRestart, o.syncer.LastRevision(), "", err)
		o.logger.Error("restart after deploy failed", "err", err)
		return
	}
	o.record(ctx, history.ActionRestart, o.syncer.LastRevision(), "", nil)
	o.logger.Info("deployed and restarted", "revision", o.syncer.LastRevision())
}

// liveTick restarts the managed application when it is no longer live.
func (o *Orchestrator) liveTick(ctx context.Context) {
	switch o.proc.State() {
	case supervisor.Running:
		if o.proc.CheckAlive() {
			return
		}
		o.record(ctx, history.ActionCrash, "", "", nil)
		fallthrough
	case supervisor.Crashed:
		o.logger.Warn("application not live, restarting")
		if err := o.proc.Restart(ctx); err != nil {
			o.logger.Error("liveness restart failed", "err", err)
		}
	default:
		// Stopped or Starting: nothing to do on a liveness tick.
	}
}

// qualifies applies the event filter: push events on a configured deploy
// branch of the configured repository.
func (o *Orchestrator) qualifies(e relay.Event) bool {
	if e.Type != "" && e.Type != "push" {
		return false
	}
	if e.Repo != "" && e.Repo != o.cfg.Repo {
		return false
	}
	for _, b := range o.cfg.Branches {
		if e.Branch == b || e.Branch == "refs/heads/"+b {
			return true
		}
	}
	return false
}

func (o *Orchestrator) record(ctx context.Context, action history.Action, revision, detail string, actionErr error) {
	if o.cfg.History == nil {
		return
	}
	rec := history.Record{Action: action, Repo: o.cfg.Repo, Revision: revision, Detail: detail}
	if actionErr != nil {
		rec.Error = actionErr.Error()
	}
	if err := o.cfg.History.Send(ctx, history.Event{OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		o.logger.Warn("history sink write failed", "action", string(action), "err", err)
	}
}

// DescribeBranches is used in startup logging.
func (o *Orchestrator) DescribeBranches() string { return strings.Join(o.cfg.Branches, ",") }
