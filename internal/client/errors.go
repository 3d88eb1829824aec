package client

import (
	"errors"
	"fmt"
)

var ErrNoTemplates = errors.New("client: no templates")

// Phase names the step of a run that failed.
type Phase string

const (
	PhaseConfig   Phase = "config"
	PhaseConnect  Phase = "connect"
	PhaseTLS      Phase = "tls"
	PhaseGreeting Phase = "greeting"
	PhaseSend     Phase = "send"
	PhaseReceive  Phase = "receive"
)

// Error is the fatal error of a run. Index is the 1-based template position
// for send/receive failures and zero otherwise; templates before Index
// completed.
type Error struct {
	Phase Phase
	Index int
	Name  string
	Err   error
}

func (e *Error) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("client: %s failed at template %d (%s): %v", e.Phase, e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("client: %s failed: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PhaseOf reports the failing phase of err, if err came from Run.
func PhaseOf(err error) (Phase, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Phase, true
	}
	return "", false
}
