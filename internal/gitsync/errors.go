package gitsync

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies sync failures so the deploy loop can decide between
// retrying (network), giving up loudly (auth), and skipping the deploy
// without touching local state (conflict).
type Kind int

const (
	KindNetwork Kind = iota
	KindAuth
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindConflict:
		return "conflict"
	default:
		return "network"
	}
}

// Error is a classified sync failure. The local working copy is always left
// in a recoverable state when one is returned.
type Error struct {
	Kind   Kind
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("sync %s error", e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += " (" + out + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsConflict reports whether err is a sync conflict (dirty tree, diverged
// history). Conflicts must never be auto-resolved by discarding local work.
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindConflict
}

// classify maps git output to an error kind. Auth and conflict phrases are
// matched on the combined stdout/stderr; anything else is assumed transient.
func classify(output string, err error) *Error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "could not read username"):
		return &Error{Kind: KindAuth, Output: output, Err: err}
	case strings.Contains(lower, "conflict"),
		strings.Contains(lower, "would be overwritten"),
		strings.Contains(lower, "needs merge"),
		strings.Contains(lower, "already exists and is not an empty directory"),
		strings.Contains(lower, "not possible to fast-forward"):
		return &Error{Kind: KindConflict, Output: output, Err: err}
	default:
		return &Error{Kind: KindNetwork, Output: output, Err: err}
	}
}
