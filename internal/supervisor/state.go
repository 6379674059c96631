package supervisor

import "time"

// State of the managed application, as tracked by the supervisor.
type State string

const (
	Stopped  State = "stopped"
	Starting State = "starting"
	Running  State = "running"
	Crashed  State = "crashed"
)

// AllStates lists every state, for metrics gauges.
var AllStates = []string{string(Stopped), string(Starting), string(Running), string(Crashed)}

// Status is a point-in-time snapshot of the managed application.
type Status struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	Restarts   int       `json:"restarts"`
	DetectedBy string    `json:"detected_by"`
}
