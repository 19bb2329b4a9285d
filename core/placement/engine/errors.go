package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotReady          = errors.New("placement board is not loaded")
	ErrNotUnassigned     = errors.New("candidate is not unassigned")
	ErrUnknownHost       = errors.New("unknown host")
	ErrUnknownAssignment = errors.New("unknown assignment")
	ErrUnknownSupervisor = errors.New("unknown supervisor")
)

// Mutation operations reported in MutationError.Op and EngineMetrics.MutationFailed.
const (
	OpAssign   = "assign"
	OpUnassign = "unassign"
)

// MutationError is returned when the remote side of an optimistic move failed.
// By the time it is returned, the board has been resynchronized (or emptied if ResyncErr is set).
type MutationError struct {
	Op           string
	CandidateID  string
	HostID       string
	AssignmentID string
	Err          error
	ResyncErr    error
}

func (e *MutationError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	if e.ResyncErr != nil {
		msg += fmt.Sprintf(" (resync failed: %v)", e.ResyncErr)
	}
	return msg
}

func (e *MutationError) Unwrap() error { return e.Err }

// Notice is the message shown to the user.
func (e *MutationError) Notice() string {
	action := "assign the candidate"
	if e.Op == OpUnassign {
		action = "remove the assignment"
	}
	notice := fmt.Sprintf("Could not %s: %v.", action, errors.Cause(e.Err))
	if e.ResyncErr != nil {
		return notice + " The board could not be reloaded, please try again."
	}
	return notice + " The board has been reloaded."
}
