package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lunaform/switchboard/internal/types"
)

func ticketWorkflow() Definition {
	return Definition{
		ID:      "ticket",
		Name:    "Ticket Handling",
		Initial: "open",
		States: map[string]State{
			"open":     {Transitions: map[string]string{"assign": "assigned"}},
			"assigned": {Transitions: map[string]string{"resolve": "resolved", "reopen": "open"}},
			"resolved": {},
		},
	}
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr bool
	}{
		{name: "valid", mutate: func(d *Definition) {}},
		{name: "missing id", mutate: func(d *Definition) { d.ID = "" }, wantErr: true},
		{name: "unknown initial", mutate: func(d *Definition) { d.Initial = "ghost" }, wantErr: true},
		{
			name: "transition to undefined state",
			mutate: func(d *Definition) {
				d.States["open"] = State{Transitions: map[string]string{"assign": "nowhere"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := ticketWorkflow()
			tt.mutate(&def)
			err := def.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryEngine_SendEvent(t *testing.T) {
	e := NewMemoryEngine(nil)
	if err := e.Register(ticketWorkflow()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ctx := context.Background()

	res, err := e.SendEvent(ctx, "acme", "ticket", "assign", nil, SendOptions{})
	if err != nil {
		t.Fatalf("SendEvent() error = %v", err)
	}
	if !res.Transitioned || res.From != "open" || res.To != "assigned" {
		t.Errorf("SendEvent() = %+v, want open -> assigned", res)
	}

	state, err := e.State(ctx, "acme", "ticket")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != "assigned" {
		t.Errorf("State() = %q, want assigned", state)
	}
}

func TestMemoryEngine_TenantsAreIsolated(t *testing.T) {
	e := NewMemoryEngine(nil)
	if err := e.Register(ticketWorkflow()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := e.SendEvent(ctx, "acme", "ticket", "assign", nil, SendOptions{}); err != nil {
		t.Fatal(err)
	}

	state, err := e.State(ctx, "globex", "ticket")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != "open" {
		t.Errorf("globex state = %q, want untouched initial state open", state)
	}
}

func TestMemoryEngine_InvalidTransition(t *testing.T) {
	e := NewMemoryEngine(nil)
	if err := e.Register(ticketWorkflow()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	t.Run("hard error by default", func(t *testing.T) {
		_, err := e.SendEvent(ctx, "acme", "ticket", "resolve", nil, SendOptions{})
		if !errors.Is(err, types.ErrInvalidTransition) {
			t.Errorf("SendEvent() error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("soft ignore when requested", func(t *testing.T) {
		res, err := e.SendEvent(ctx, "acme", "ticket", "resolve", nil,
			SendOptions{IgnoreInvalidTransitions: true})
		if err != nil {
			t.Fatalf("SendEvent() error = %v", err)
		}
		if !res.Ignored || res.Transitioned {
			t.Errorf("SendEvent() = %+v, want ignored outcome", res)
		}
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := e.SendEvent(ctx, "acme", "ghost", "assign", nil, SendOptions{})
		if !errors.Is(err, types.ErrWorkflowNotFound) {
			t.Errorf("SendEvent() error = %v, want ErrWorkflowNotFound", err)
		}
	})
}

func TestMemoryEngine_ObserversReceiveTransition(t *testing.T) {
	e := NewMemoryEngine(nil)
	def := ticketWorkflow()
	meta := types.StateMeta{OnEntry: &types.EntryAction{ScriptFile: "notify.py"}}
	def.States["assigned"] = State{
		Meta:        meta,
		Transitions: def.States["assigned"].Transitions,
	}
	if err := e.Register(def); err != nil {
		t.Fatal(err)
	}

	var (
		mu  sync.Mutex
		got []types.WorkflowTransition
	)
	done := make(chan struct{})
	e.OnTransition(func(ctx context.Context, tr types.WorkflowTransition) {
		mu.Lock()
		got = append(got, tr)
		mu.Unlock()
		close(done)
	})

	if _, err := e.SendEvent(context.Background(), "acme", "ticket", "assign",
		map[string]any{"assignee": "sam"}, SendOptions{}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer not called")
	}

	mu.Lock()
	defer mu.Unlock()
	tr := got[0]
	if tr.Tenant != "acme" || tr.WorkflowID != "ticket" ||
		tr.PreviousState != "open" || tr.NewState != "assigned" || tr.Event != "assign" {
		t.Errorf("transition = %+v", tr)
	}
	if tr.NewStateMeta.OnEntry == nil || tr.NewStateMeta.OnEntry.ScriptFile != "notify.py" {
		t.Errorf("transition missing state meta: %+v", tr.NewStateMeta)
	}
	if tr.Data["assignee"] != "sam" {
		t.Errorf("transition data = %+v", tr.Data)
	}
}
