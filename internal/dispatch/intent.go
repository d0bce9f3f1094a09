package dispatch

import (
	"context"
	"fmt"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/rules"
	"github.com/lunaform/switchboard/internal/types"
)

// executeIntent publishes a structured intent message onto the intent
// topic. Entity resolution and context enrichment are best effort; a
// missing entity field leaves EntityID empty rather than failing the
// action.
func (d *Dispatcher) executeIntent(ctx context.Context, tenant string, rule types.Rule, event types.Event) Result {
	action := rule.Action.Intent
	if action == nil {
		return Result{Outcome: "error", Err: types.ErrConditionVariantMissing}
	}
	if d.bus == nil {
		return Result{Outcome: "error",
			Err: fmt.Errorf("intent topic: %w", types.ErrCollaboratorUnavailable)}
	}

	var entityID string
	if action.EntityIDField != "" {
		if v, err := rules.Resolve(action.EntityIDField, event.Payload); err == nil {
			entityID, _ = rules.Stringify(v)
		} else {
			d.log.Debug("intent entity field not found",
				"tenant", tenant, "rule", rule.ID, "field", action.EntityIDField)
		}
	}

	var enrichment map[string]any
	if action.EnrichWithContext && entityID != "" && d.collab != nil && d.collab.Context != nil {
		ctxData, err := d.collab.Context.Context(ctx, tenant, entityID)
		if err != nil {
			d.log.Warn("intent context enrichment failed",
				"tenant", tenant, "rule", rule.ID, "entity", entityID, "error", err)
		} else {
			enrichment = ctxData
		}
	}

	correlationID := event.CorrelationID
	if correlationID == "" {
		correlationID = types.NewCorrelationID()
	}

	msg := types.IntentMessage{
		CorrelationID: correlationID,
		Tenant:        tenant,
		IntentType:    action.IntentType,
		EntityID:      entityID,
		Urgency:       action.Urgency,
		Context:       enrichment,
		SourceEvent:   event,
	}
	d.bus.Publish(bus.TopicIntents, msg)

	d.notify(tenant, rule, types.StatusCompleted, "intent "+action.IntentType, "")
	return Result{Success: true, Outcome: "published"}
}
