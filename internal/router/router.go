// Package router owns event intake and fan-out: producers publish drafts,
// a single dispatch loop assigns identity, evaluates rules per tenant,
// persists matches, and hands triggered rules to the action dispatcher.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/dispatch"
	"github.com/lunaform/switchboard/internal/rules"
	"github.com/lunaform/switchboard/internal/types"
)

const defaultQueueDepth = 256

// Router is the event intake pipeline. Publish is safe for concurrent
// use; evaluation runs on one loop goroutine so per-tenant rule history
// observes events in arrival order.
type Router struct {
	registry   *rules.Registry
	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	trigger    *TriggerLog
	log        *slog.Logger

	queue chan types.Event

	mu     sync.RWMutex
	closed bool
}

func New(registry *rules.Registry, d *dispatch.Dispatcher, b *bus.Bus, trigger *TriggerLog, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry:   registry,
		dispatcher: d,
		bus:        b,
		trigger:    trigger,
		log:        log,
		queue:      make(chan types.Event, defaultQueueDepth),
	}
}

// Publish accepts a draft, assigns it an id and timestamp, and enqueues
// it for evaluation. Returns the accepted event so producers can echo the
// assigned identity. Never blocks: a full queue returns ErrQueueFull
// rather than stalling producers (and Close) behind a stopped loop.
func (r *Router) Publish(draft types.EventDraft) (types.Event, error) {
	ev := types.Event{
		ID:            types.NewEventID(),
		Timestamp:     time.Now().UTC(),
		Name:          draft.Name,
		Group:         draft.Group,
		Source:        draft.Source,
		Topic:         draft.Topic,
		Tenant:        draft.Tenant,
		CorrelationID: draft.CorrelationID,
		Payload:       draft.Payload,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return types.Event{}, types.ErrRouterClosed
	}
	select {
	case r.queue <- ev:
		return ev, nil
	default:
		return types.Event{}, types.ErrQueueFull
	}
}

// Close stops intake. Pending queued events are still evaluated before
// Run returns.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.queue)
}

// Run drains the queue until Close or context cancellation. Call from
// exactly one goroutine.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.queue:
			if !ok {
				return
			}
			r.dispatchEvent(ctx, ev)
		}
	}
}

// dispatchEvent evaluates one event. A tenant-scoped event consults that
// tenant's engine only; an unscoped event is offered to every known
// tenant.
func (r *Router) dispatchEvent(ctx context.Context, ev types.Event) {
	tenants := []string{ev.Tenant}
	if ev.Tenant == "" {
		tenants = r.registry.Tenants()
	}

	for _, tenant := range tenants {
		r.evaluateForTenant(ctx, tenant, ev)
	}

	if r.bus != nil {
		r.bus.Publish(bus.TopicEvents, ev)
	}
}

func (r *Router) evaluateForTenant(ctx context.Context, tenant string, ev types.Event) {
	engine, err := r.registry.Engine(tenant)
	if err != nil {
		r.log.Error("resolve tenant engine", "tenant", tenant, "event", ev.ID, "error", err)
		return
	}

	results := engine.Evaluate(ctx, ev)

	var matched []types.RuleID
	for _, res := range results {
		if res.Success {
			matched = append(matched, res.RuleID)
		} else if res.Error != "" {
			r.log.Warn("rule evaluation error",
				"tenant", tenant, "rule", res.RuleID, "event", ev.ID, "error", res.Error)
		}
	}
	if len(matched) == 0 {
		return
	}

	r.log.Info("event matched rules",
		"tenant", tenant, "event", ev.ID, "name", ev.Name, "rules", len(matched))

	if r.trigger != nil {
		te := types.TriggeredEvent{Event: ev, TriggeredRules: matched, Timestamp: time.Now().UTC()}
		if err := r.trigger.Record(ctx, tenant, te); err != nil {
			r.log.Error("record triggered event", "tenant", tenant, "event", ev.ID, "error", err)
		}
	}
	if r.bus != nil {
		r.bus.Publish(bus.TopicMatches, types.MatchNotice{
			Tenant:         tenant,
			Event:          ev,
			TriggeredRules: matched,
		})
	}

	// Actions run off the loop: a slow completion or workflow script must
	// not delay evaluation of the next event.
	for _, id := range matched {
		rule, err := engine.Rule(id)
		if err != nil {
			continue
		}
		go r.dispatcher.Execute(ctx, tenant, rule, ev)
	}
}
