package supervisor

import (
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/deploywatch/internal/logger"
)

// Default grace windows.
const (
	DefaultStartGrace = 10 * time.Second
	DefaultStopGrace  = 5 * time.Second
)

// Spec describes the managed application.
type Spec struct {
	Name         string        `mapstructure:"name"`
	Command      string        `mapstructure:"command"`       // command to start the application (shell)
	WorkDir      string        `mapstructure:"work_dir"`      // optional working dir
	Env          []string      `mapstructure:"env"`           // optional extra env
	ProbeCommand string        `mapstructure:"probe_command"` // liveness probe; exit zero means alive
	PIDFile      string        `mapstructure:"pid_file"`      // liveness via a pid file the application writes
	StartGrace   time.Duration `mapstructure:"start_grace"`   // probe must first succeed within this window
	StopGrace    time.Duration `mapstructure:"stop_grace"`    // SIGTERM to SIGKILL escalation window
	Log          logger.Config `mapstructure:"log"`           // stdout/stderr destinations
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	// Fallback: when metacharacters are present, use /bin/sh -c
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr and returns the argument after "-c".
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one pair of wrapping quotes so the actual script reaches
			// the shell.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}

func (s *Spec) startGrace() time.Duration {
	if s.StartGrace > 0 {
		return s.StartGrace
	}
	return DefaultStartGrace
}

func (s *Spec) stopGrace() time.Duration {
	if s.StopGrace > 0 {
		return s.StopGrace
	}
	return DefaultStopGrace
}
