package billing

import (
	"context"

	"github.com/dmitrymomot/subsync/pkg/statemachine"
)

// The expected status graph. The provider snapshot is always applied, so
// this machine does not gate writes; the engine consults it to flag
// transitions the provider should never produce (e.g. canceled back to
// active) for operator audit.
//
//	none -> active -> {past_due, cancel_scheduled} -> canceled
//
// with past_due -> active (recovered payment) and cancel_scheduled ->
// active (cancellation reversed before period end) as valid back-edges.
var statusEdges = []statemachine.TransitionDef{
	edge(StatusNone, StatusActive),
	edge(StatusNone, StatusPastDue),
	edge(StatusNone, StatusCancelScheduled),
	edge(StatusActive, StatusPastDue),
	edge(StatusActive, StatusCancelScheduled),
	edge(StatusActive, StatusCanceled),
	edge(StatusPastDue, StatusActive),
	edge(StatusPastDue, StatusCanceled),
	edge(StatusCancelScheduled, StatusActive),
	edge(StatusCancelScheduled, StatusCanceled),
}

func edge(from, to Status) statemachine.TransitionDef {
	return statemachine.TransitionDef{
		From:  statemachine.StringState(string(from)),
		To:    statemachine.StringState(string(to)),
		Event: statemachine.StringEvent(string(to)),
	}
}

// transitionExpected reports whether from->to is an edge of the expected
// status graph. Re-applying the same status (fresh snapshot of an unchanged
// subscription) is always expected.
func transitionExpected(ctx context.Context, from, to Status) bool {
	if from == to {
		return true
	}
	sm := statemachine.MustNew(
		statemachine.StringState(string(from)),
		statemachine.WithTransitions(statusEdges),
	)
	return sm.CanFire(ctx, statemachine.StringEvent(string(to)), nil)
}
