package history

import (
	"context"
	"time"
)

// Action defines the kind of deploy-loop event being recorded.
type Action string

const (
	ActionEvent   Action = "event"   // qualifying push event received
	ActionSync    Action = "sync"    // repository sync performed
	ActionRestart Action = "restart" // managed application restarted
	ActionCrash   Action = "crash"   // liveness check marked the application crashed
)

// Record is the unit of audit data we persist per deploy-loop action.
type Record struct {
	Action   Action `json:"action"`
	Repo     string `json:"repo"`
	Revision string `json:"revision,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Event wraps a Record with its occurrence time.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for deploy history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
