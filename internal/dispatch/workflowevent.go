package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/lunaform/switchboard/internal/types"
	"github.com/lunaform/switchboard/internal/workflow"
)

// executeWorkflowEvent injects the action's event into a workflow
// instance. An event the current state does not accept is a soft ignored
// outcome, not a failure: rules fire on their own schedule and the
// workflow may simply not be in a receptive state.
func (d *Dispatcher) executeWorkflowEvent(ctx context.Context, tenant string, rule types.Rule, event types.Event) Result {
	action := rule.Action.WorkflowEvent
	if action == nil {
		return Result{Outcome: "error", Err: types.ErrConditionVariantMissing}
	}
	if d.workflows == nil {
		return Result{Outcome: "error",
			Err: fmt.Errorf("workflow engine: %w", types.ErrCollaboratorUnavailable)}
	}

	var data map[string]any
	if action.MapFullPayload {
		data = event.Payload
	} else {
		data = map[string]any{
			"event_id":   string(event.ID),
			"event_name": event.Name,
			"source":     event.Source,
			"timestamp":  event.Timestamp.Format(time.RFC3339),
		}
	}

	res, err := d.workflows.SendEvent(ctx, tenant, action.WorkflowID, action.Event, data,
		workflow.SendOptions{IgnoreInvalidTransitions: true})
	if err != nil {
		return Result{Outcome: "error",
			Err: fmt.Errorf("send %q to workflow %q: %w", action.Event, action.WorkflowID, err)}
	}
	if res.Ignored {
		d.notify(tenant, rule, types.StatusIgnored,
			fmt.Sprintf("workflow %s in state %q ignored %q", action.WorkflowID, res.From, action.Event), "")
		return Result{Success: true, Outcome: "ignored"}
	}

	d.notify(tenant, rule, types.StatusCompleted,
		fmt.Sprintf("workflow %s: %s -> %s", action.WorkflowID, res.From, res.To), "")
	return Result{Success: true, Outcome: "transitioned",
		Response: fmt.Sprintf("%s -> %s", res.From, res.To)}
}
