// Package runstate encodes the allowed status transitions of workflow runs and node runs.
package runstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/qmuntal/stateless"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

const (
	triggerStart    = "start"
	triggerComplete = "complete"
	triggerFail     = "fail"
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	Entity string
	ID     string
	From   models.RunStatus
	To     models.RunStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsInvalidTransition reports whether err is a rejected transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// machine encodes PENDING -> RUNNING -> COMPLETED | FAILED. PENDING -> FAILED
// covers nodes failed without being dispatched (cancellation) and runs
// aborted before their first layer.
func machine(from models.RunStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(from)

	sm.Configure(models.RunStatusPending).
		Permit(triggerStart, models.RunStatusRunning).
		Permit(triggerFail, models.RunStatusFailed)

	sm.Configure(models.RunStatusRunning).
		Permit(triggerComplete, models.RunStatusCompleted).
		Permit(triggerFail, models.RunStatusFailed)

	sm.Configure(models.RunStatusCompleted)
	sm.Configure(models.RunStatusFailed)

	return sm
}

func triggerFor(to models.RunStatus) (string, bool) {
	switch to {
	case models.RunStatusRunning:
		return triggerStart, true
	case models.RunStatusCompleted:
		return triggerComplete, true
	case models.RunStatusFailed:
		return triggerFail, true
	default:
		return "", false
	}
}

func check(sm *stateless.StateMachine, entity, id string, from, to models.RunStatus) error {
	rejected := &TransitionError{Entity: entity, ID: id, From: from, To: to}

	if !from.Valid() || !to.Valid() {
		return rejected
	}

	trigger, ok := triggerFor(to)
	if !ok {
		return rejected
	}

	if err := sm.FireCtx(context.Background(), trigger); err != nil {
		return rejected
	}

	if sm.MustState() != to {
		return rejected
	}

	return nil
}

// CheckNode validates a node run status change.
func CheckNode(nodeID string, from, to models.RunStatus) error {
	return check(machine(from), "node run", nodeID, from, to)
}

// CheckRun validates a workflow run status change.
func CheckRun(runID string, from, to models.RunStatus) error {
	return check(machine(from), "workflow run", runID, from, to)
}
