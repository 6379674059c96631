package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/deploywatch/internal/detector"
	"github.com/loykin/deploywatch/internal/env"
	"github.com/loykin/deploywatch/internal/metrics"
)

// ErrStartTimeout is returned when the liveness probe never succeeds within
// the startup grace window. The supervisor is left in state Crashed; the
// next liveness tick or poll-triggered restart retries.
var ErrStartTimeout = errors.New("application did not become live within start grace")

// ErrStopTimeout is returned when the process could not be confirmed gone
// even after escalating to SIGKILL.
var ErrStopTimeout = errors.New("application did not exit after SIGKILL")

// Supervisor owns the lifecycle of one managed application. Callers request
// state transitions through Start/Stop/Restart/CheckAlive; the process
// handle itself is never exposed.
type Supervisor struct {
	spec   Spec
	envM   *env.Env
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	pid        int
	startedAt  time.Time
	stoppedAt  time.Time
	restarts   int
	detectedBy string
	waitDone   chan struct{}
	waitErr    error
	outCloser  io.WriteCloser
	errCloser  io.WriteCloser
}

func New(spec Spec, lg *slog.Logger) *Supervisor {
	if lg == nil {
		lg = slog.Default()
	}
	return &Supervisor{spec: spec, envM: env.New(), logger: lg, state: Stopped}
}

// Snapshot returns a copy of the current status.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:       s.spec.Name,
		State:      s.state,
		PID:        s.pid,
		StartedAt:  s.startedAt,
		StoppedAt:  s.stoppedAt,
		Restarts:   s.restarts,
		DetectedBy: s.detectedBy,
	}
	return st
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SetState(string(st), AllStates)
}

// Start transitions Stopped/Crashed to Starting, spawns the run command in
// its own process group and waits for the first probe success. Idempotent
// when already Starting or Running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Running || s.state == Starting {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setState(Starting)

	cmd := s.spec.BuildCommand()
	if s.spec.WorkDir != "" {
		cmd.Dir = s.spec.WorkDir
	}
	cmd.Env = s.envM.Merge(s.spec.Env)
	configureSysProcAttr(cmd)
	s.wireStdio(cmd)

	if err := cmd.Start(); err != nil {
		s.closeWriters()
		s.setState(Crashed)
		s.logger.Error("spawn failed", "name", s.spec.Name, "command", s.spec.Command, "err", err)
		return fmt.Errorf("start %s: %w", s.spec.Name, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.waitDone = done
	s.mu.Unlock()

	s.logger.Info("spawned application", "name", s.spec.Name, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.stoppedAt = time.Now()
		s.mu.Unlock()
		s.closeWriters()
		close(done)
	}()

	return s.awaitLive(ctx, done)
}

// awaitLive polls the liveness probe until it first succeeds, the process
// exits, or the startup grace window elapses.
func (s *Supervisor) awaitLive(ctx context.Context, done chan struct{}) error {
	deadline := time.Now().Add(s.spec.startGrace())
	for {
		select {
		case <-done:
			s.setState(Crashed)
			s.mu.Lock()
			err := s.waitErr
			s.mu.Unlock()
			s.logger.Error("application exited during startup", "name", s.spec.Name, "err", err)
			return fmt.Errorf("start %s: exited during startup: %w", s.spec.Name, ErrStartTimeout)
		case <-ctx.Done():
			s.killGroup()
			s.reap(done, time.Second)
			s.setState(Crashed)
			return ctx.Err()
		default:
		}

		if alive, by := s.alive(); alive {
			s.setState(Running)
			s.logger.Info("application live", "name", s.spec.Name, "pid", s.PID(), "detected_by", by)
			return nil
		}
		if time.Now().After(deadline) {
			s.killGroup()
			s.reap(done, time.Second)
			s.setState(Crashed)
			s.logger.Error("startup grace expired", "name", s.spec.Name, "grace", s.spec.startGrace())
			return fmt.Errorf("start %s: %w", s.spec.Name, ErrStartTimeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Stop transitions Running/Starting to Stopped. SIGTERM first, SIGKILL
// after the stop grace window; the process is confirmed gone before Stop
// returns nil. Stopping an already stopped application is a no-op.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd == nil || s.cmd.Process == nil {
		st := s.state
		s.mu.Unlock()
		if st != Stopped {
			s.setState(Stopped)
		}
		return nil
	}
	pid := s.cmd.Process.Pid
	done := s.waitDone
	s.mu.Unlock()

	s.logger.Info("stopping application", "name", s.spec.Name, "pid", pid, "signal", "SIGTERM")
	_ = terminateGroup(pid)

	if !s.reapCtx(ctx, done, s.spec.stopGrace()) {
		s.logger.Warn("escalating to SIGKILL", "name", s.spec.Name, "pid", pid)
		_ = forceKillGroup(pid)
		if !s.reapCtx(ctx, done, 2*time.Second) {
			return fmt.Errorf("stop %s: %w", s.spec.Name, ErrStopTimeout)
		}
	}

	s.mu.Lock()
	s.cmd = nil
	s.pid = 0
	err := s.waitErr
	s.mu.Unlock()
	s.setState(Stopped)
	s.logger.Info("application stopped", "name", s.spec.Name, "exit", errString(err))
	return nil
}

// Restart stops then starts. Start never begins before the old process is
// confirmed gone, so listeners and pid files cannot collide.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	metrics.IncRestart()
	return s.Start(ctx)
}

// CheckAlive queries the liveness probe. Running transitions to Crashed on
// failure; any other state is left untouched.
func (s *Supervisor) CheckAlive() bool {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != Running {
		return st == Starting
	}
	alive, by := s.alive()
	if alive {
		return true
	}
	s.setState(Crashed)
	metrics.IncCrash()
	s.logger.Error("liveness check failed", "name", s.spec.Name, "probe", by)
	return false
}

// PID returns the managed process id, or 0 when not running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// alive consults the configured probe. A probe command is authoritative
// when set, then a pid file the application maintains; otherwise the
// process table decides.
func (s *Supervisor) alive() (bool, string) {
	var d detector.Detector
	switch {
	case s.spec.ProbeCommand != "":
		d = detector.CommandDetector{Command: s.spec.ProbeCommand}
	case s.spec.PIDFile != "":
		d = detector.PIDFileDetector{PIDFile: s.spec.PIDFile}
	default:
		d = detector.ProcessDetector{PID: s.PID()}
	}
	ok, err := d.Alive()
	s.mu.Lock()
	s.detectedBy = d.Describe()
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("liveness probe error", "name", s.spec.Name, "probe", d.Describe(), "err", err)
		return false, d.Describe()
	}
	return ok, d.Describe()
}

func (s *Supervisor) wireStdio(cmd *exec.Cmd) {
	lc := s.spec.Log
	if lc.Dir != "" || lc.StdoutPath != "" || lc.StderrPath != "" {
		if lc.Dir != "" {
			_ = os.MkdirAll(lc.Dir, 0o750)
		}
		outW, errW, _ := lc.Writers(s.spec.Name)
		s.mu.Lock()
		s.outCloser, s.errCloser = outW, errW
		s.mu.Unlock()
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
		return
	}
	null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	cmd.Stdout = null
	cmd.Stderr = null
}

func (s *Supervisor) closeWriters() {
	s.mu.Lock()
	out, errW := s.outCloser, s.errCloser
	s.outCloser, s.errCloser = nil, nil
	s.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

func (s *Supervisor) killGroup() {
	s.mu.Lock()
	pid := s.pid
	s.mu.Unlock()
	if pid > 0 {
		s.logger.Warn("killing process group", "name", s.spec.Name, "pid", pid)
		_ = forceKillGroup(pid)
	}
}

// reap waits for the monitor goroutine to confirm exit, bounded by d.
func (s *Supervisor) reap(done chan struct{}, d time.Duration) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// reapCtx is reap with context cancellation folded in; cancellation does
// not abandon the wait, it only shortens the patience to the kill path.
func (s *Supervisor) reapCtx(ctx context.Context, done chan struct{}, d time.Duration) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	case <-ctx.Done():
		// One last bounded wait so callers still get confirmation.
		return s.reap(done, 200*time.Millisecond)
	}
}

func errString(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
