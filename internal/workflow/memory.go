package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lunaform/switchboard/internal/types"
)

// State is one node of a workflow definition. Transitions map event names
// to target state names.
type State struct {
	Meta        types.StateMeta   `json:"meta,omitempty"`
	Transitions map[string]string `json:"transitions,omitempty"`
}

// Definition is a declarative workflow: named states plus an initial state.
type Definition struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Initial string           `json:"initial"`
	States  map[string]State `json:"states"`
}

// Validate checks that the initial state and every transition target exist.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if _, ok := d.States[d.Initial]; !ok {
		return fmt.Errorf("workflow %s: initial state %q not defined", d.ID, d.Initial)
	}
	for name, st := range d.States {
		for event, target := range st.Transitions {
			if _, ok := d.States[target]; !ok {
				return fmt.Errorf("workflow %s: state %q event %q targets undefined state %q",
					d.ID, name, event, target)
			}
		}
	}
	return nil
}

// MemoryEngine is the in-process workflow engine: per-tenant instances of
// registered definitions, each a current-state pointer advanced by
// SendEvent. Single dispatcher instance per deployment; no distributed
// locking.
type MemoryEngine struct {
	log *slog.Logger

	mu        sync.Mutex
	defs      map[string]Definition // workflowID -> definition
	current   map[string]string     // tenant:workflowID -> state name
	observers []TransitionFunc
}

// NewMemoryEngine creates an empty engine.
func NewMemoryEngine(log *slog.Logger) *MemoryEngine {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryEngine{
		log:     log,
		defs:    make(map[string]Definition),
		current: make(map[string]string),
	}
}

// Register adds or replaces a workflow definition.
func (e *MemoryEngine) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.defs[def.ID] = def
	e.mu.Unlock()
	return nil
}

// OnTransition registers a transition observer.
func (e *MemoryEngine) OnTransition(fn TransitionFunc) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

// State reports the current state of a tenant's workflow instance,
// materializing the instance at its initial state on first use.
func (e *MemoryEngine) State(ctx context.Context, tenant, workflowID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.defs[workflowID]
	if !ok {
		return "", types.ErrWorkflowNotFound
	}
	return e.stateLocked(tenant, def), nil
}

func (e *MemoryEngine) stateLocked(tenant string, def Definition) string {
	key := tenant + ":" + def.ID
	if s, ok := e.current[key]; ok {
		return s
	}
	e.current[key] = def.Initial
	return def.Initial
}

// SendEvent injects an event into a workflow instance. A transition moves
// the instance and notifies observers asynchronously; an event the current
// state does not accept is either a soft ignored outcome or
// ErrInvalidTransition depending on opts.
func (e *MemoryEngine) SendEvent(ctx context.Context, tenant, workflowID, event string, data map[string]any, opts SendOptions) (SendResult, error) {
	e.mu.Lock()
	def, ok := e.defs[workflowID]
	if !ok {
		e.mu.Unlock()
		return SendResult{}, types.ErrWorkflowNotFound
	}

	from := e.stateLocked(tenant, def)
	target, ok := def.States[from].Transitions[event]
	if !ok {
		e.mu.Unlock()
		if opts.IgnoreInvalidTransitions {
			return SendResult{Ignored: true, From: from}, nil
		}
		return SendResult{From: from}, fmt.Errorf("%w: state %q does not accept %q",
			types.ErrInvalidTransition, from, event)
	}

	e.current[tenant+":"+def.ID] = target
	observers := make([]TransitionFunc, len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	tr := types.WorkflowTransition{
		Tenant:        tenant,
		WorkflowID:    def.ID,
		WorkflowName:  def.Name,
		PreviousState: from,
		NewState:      target,
		NewStateMeta:  def.States[target].Meta,
		Event:         event,
		Data:          data,
	}

	e.log.Debug("workflow transition",
		"tenant", tenant, "workflow", def.ID, "from", from, "to", target, "event", event)

	for _, fn := range observers {
		go fn(ctx, tr)
	}

	return SendResult{Transitioned: true, From: from, To: target}, nil
}
