// Package dispatch executes the action half of a matched rule: prompt
// completions, workflow event injection, and intent publication. All
// action failures are absorbed here and reported as status notices; the
// ingestion path never sees them.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/collab"
	"github.com/lunaform/switchboard/internal/types"
	"github.com/lunaform/switchboard/internal/workflow"
)

// Result reports one action execution for the caller's bookkeeping.
// Outcome is a short machine-readable tag (completed, transitioned,
// ignored, published, error).
type Result struct {
	Success  bool
	Outcome  string
	Response string
	Err      error
}

// Dispatcher executes rule actions against the collaborator set, the
// workflow engine, and the bus.
type Dispatcher struct {
	collab    *collab.Set
	workflows workflow.Engine
	bus       *bus.Bus
	maxTurns  int
	log       *slog.Logger
}

// New creates a dispatcher. maxTurns caps prompt completions whose action
// does not set its own limit; 0 leaves the cap to the collaborator.
func New(c *collab.Set, workflows workflow.Engine, b *bus.Bus, maxTurns int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{collab: c, workflows: workflows, bus: b, maxTurns: maxTurns, log: log}
}

// Execute runs the rule's action for a matched event. Never returns an
// error to the caller; failures land in the result and on the status
// topic.
func (d *Dispatcher) Execute(ctx context.Context, tenant string, rule types.Rule, event types.Event) Result {
	if rule.Action == nil {
		return Result{Outcome: "error", Err: types.ErrUnknownActionKind}
	}

	var res Result
	switch rule.Action.Kind {
	case types.ActionPrompt:
		res = d.executePrompt(ctx, tenant, rule, event)
	case types.ActionWorkflowEvent:
		res = d.executeWorkflowEvent(ctx, tenant, rule, event)
	case types.ActionIntent:
		res = d.executeIntent(ctx, tenant, rule, event)
	default:
		res = Result{
			Outcome: "error",
			Err:     fmt.Errorf("action kind %q: %w", rule.Action.Kind, types.ErrUnknownActionKind),
		}
	}

	if res.Err != nil {
		d.log.Error("action execution failed",
			"tenant", tenant, "rule", rule.ID, "action", rule.Action.Kind,
			"event", event.ID, "error", res.Err)
		d.notify(tenant, rule, types.StatusError, res.Err.Error(), "")
	}
	return res
}

func (d *Dispatcher) notify(tenant string, rule types.Rule, kind types.StatusKind, message, response string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(bus.TopicStatus, types.StatusNotice{
		Kind:      kind,
		Tenant:    tenant,
		RuleID:    rule.ID,
		Action:    string(rule.Action.Kind),
		Message:   message,
		Response:  response,
		Timestamp: nowUTC(),
	})
}
