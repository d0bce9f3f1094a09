// Package workflow defines the state-machine engine contract consumed by
// the action dispatcher and transition listener, plus an in-process
// implementation for single-instance deployments.
package workflow

import (
	"context"

	"github.com/lunaform/switchboard/internal/types"
)

// SendOptions controls event injection behavior.
type SendOptions struct {
	// IgnoreInvalidTransitions turns "workflow not in a state accepting
	// this event" into a soft ignored outcome instead of an error.
	IgnoreInvalidTransitions bool
}

// SendResult reports the outcome of injecting an event.
type SendResult struct {
	Transitioned bool
	Ignored      bool
	From         string
	To           string
}

// TransitionFunc observes a completed transition. Callbacks run on their
// own goroutines; a slow observer never stalls the engine.
type TransitionFunc func(ctx context.Context, tr types.WorkflowTransition)

// Engine is the workflow state-machine collaborator.
type Engine interface {
	// SendEvent injects an event into a tenant's workflow instance.
	SendEvent(ctx context.Context, tenant, workflowID, event string, data map[string]any, opts SendOptions) (SendResult, error)

	// OnTransition registers an observer for every completed transition.
	OnTransition(fn TransitionFunc)

	// State reports a workflow instance's current state.
	State(ctx context.Context, tenant, workflowID string) (string, error)
}
