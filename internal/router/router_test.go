package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/collab"
	"github.com/lunaform/switchboard/internal/dispatch"
	"github.com/lunaform/switchboard/internal/rules"
	"github.com/lunaform/switchboard/internal/types"
)

type fakeCompleter struct {
	done chan string
}

func (f *fakeCompleter) Complete(ctx context.Context, tenant, prompt string, maxTurns int) (string, error) {
	select {
	case f.done <- prompt:
	default:
	}
	return "handled", nil
}

type fakePrompts struct{}

func (fakePrompts) Prompt(ctx context.Context, tenant, promptID string) (string, error) {
	return "Review the new file.", nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter wires a registry, dispatcher, and trigger log around a
// tenant with one rule: Filesystem "File Created" events whose path ends
// in .py fire a prompt action.
func newTestRouter(t *testing.T, root string, completer *fakeCompleter, b *bus.Bus) *Router {
	t.Helper()

	cs := collab.Set{Prompts: fakePrompts{}, Complete: completer}
	registry := rules.NewRegistry(func(tenant string) rules.RuleStore {
		return rules.NewFileRuleStore(root, tenant)
	}, cs, discardLogger())

	engine, err := registry.Engine("acme")
	if err != nil {
		t.Fatal(err)
	}
	err = engine.SaveRules(context.Background(), []types.Rule{{
		Name:    "Review Python Files",
		Enabled: true,
		Condition: types.Condition{
			Kind: types.CondSimple,
			Simple: &types.SimpleCondition{
				Group:   "Filesystem",
				Name:    "File Created",
				Payload: map[string]string{"path": "*.py"},
			},
		},
		Action: &types.Action{
			Kind:   types.ActionPrompt,
			Prompt: &types.PromptAction{PromptID: "review"},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}

	dispatcher := dispatch.New(&cs, nil, b, 3, discardLogger())
	trigger := NewTriggerLog(root, nil, discardLogger())
	return New(registry, dispatcher, b, trigger, discardLogger())
}

func TestRouter_MatchTriggersAction(t *testing.T) {
	root := t.TempDir()
	completer := &fakeCompleter{done: make(chan string, 1)}
	b := bus.New()
	matches, cancelMatches := b.Subscribe(bus.TopicMatches, 8)
	defer cancelMatches()
	events, cancelEvents := b.Subscribe(bus.TopicEvents, 8)
	defer cancelEvents()

	r := newTestRouter(t, root, completer, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Close()

	ev, err := r.Publish(types.EventDraft{
		Name:    "File Created",
		Group:   "Filesystem",
		Source:  "watcher",
		Tenant:  "acme",
		Payload: types.Payload{"path": "/srv/app/main.py"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatalf("Publish did not assign identity: %+v", ev)
	}

	// The match notice carries the triggering event and rule ids.
	select {
	case env := <-matches:
		notice := env.Data.(types.MatchNotice)
		if notice.Tenant != "acme" || notice.Event.ID != ev.ID {
			t.Errorf("match notice = %+v", notice)
		}
		if len(notice.TriggeredRules) != 1 {
			t.Errorf("TriggeredRules = %v, want one rule", notice.TriggeredRules)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no match notice")
	}

	// Every event, matched or not, lands on the event feed.
	select {
	case env := <-events:
		if got := env.Data.(types.Event); got.ID != ev.ID {
			t.Errorf("event feed id = %v, want %v", got.ID, ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event feed broadcast")
	}

	// The action runs off the loop.
	select {
	case prompt := <-completer.done:
		if !strings.Contains(prompt, "Review the new file.") {
			t.Errorf("prompt = %q", prompt)
		}
		if !strings.Contains(prompt, "/srv/app/main.py") {
			t.Errorf("prompt missing file path: %q", prompt)
		}
		if strings.Index(prompt, "## Triggering Event") > strings.Index(prompt, "Review the new file.") {
			t.Errorf("event context follows the template: %q", prompt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompt action never executed")
	}

	// The trigger log has the JSONL record.
	path := filepath.Join(root, "acme", "triggered",
		time.Now().UTC().Format("2006-01-02")+".jsonl")
	waitForFile(t, path)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var te types.TriggeredEvent
	if err := json.Unmarshal([]byte(strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)[0]), &te); err != nil {
		t.Fatalf("trigger log line is not JSON: %v", err)
	}
	if te.Event.ID != ev.ID || len(te.TriggeredRules) != 1 {
		t.Errorf("trigger log record = %+v", te)
	}
}

func TestRouter_NonMatchingEventDoesNotTrigger(t *testing.T) {
	root := t.TempDir()
	completer := &fakeCompleter{done: make(chan string, 1)}
	b := bus.New()
	events, cancelEvents := b.Subscribe(bus.TopicEvents, 8)
	defer cancelEvents()

	r := newTestRouter(t, root, completer, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Close()

	if _, err := r.Publish(types.EventDraft{
		Name:    "File Created",
		Group:   "Filesystem",
		Source:  "watcher",
		Tenant:  "acme",
		Payload: types.Payload{"path": "/srv/app/notes.txt"},
	}); err != nil {
		t.Fatal(err)
	}

	// Wait until the event has been processed.
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("event never processed")
	}

	select {
	case prompt := <-completer.done:
		t.Errorf("action executed for non-matching event: %q", prompt)
	case <-time.After(50 * time.Millisecond):
	}

	path := filepath.Join(root, "acme", "triggered",
		time.Now().UTC().Format("2006-01-02")+".jsonl")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("trigger log written for non-matching event")
	}
}

func TestRouter_TenantlessEventReachesAllTenants(t *testing.T) {
	root := t.TempDir()
	completer := &fakeCompleter{done: make(chan string, 1)}
	b := bus.New()
	matches, cancelMatches := b.Subscribe(bus.TopicMatches, 8)
	defer cancelMatches()

	r := newTestRouter(t, root, completer, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	defer r.Close()

	if _, err := r.Publish(types.EventDraft{
		Name:    "File Created",
		Group:   "Filesystem",
		Source:  "watcher",
		Payload: types.Payload{"path": "/srv/app/job.py"},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-matches:
		if notice := env.Data.(types.MatchNotice); notice.Tenant != "acme" {
			t.Errorf("match tenant = %q, want acme", notice.Tenant)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tenantless event never evaluated against known tenants")
	}
}

func TestRouter_PublishAfterClose(t *testing.T) {
	root := t.TempDir()
	r := newTestRouter(t, root, &fakeCompleter{done: make(chan string, 1)}, bus.New())
	r.Close()

	_, err := r.Publish(types.EventDraft{Name: "x", Group: "y", Source: "z", Tenant: "acme"})
	if !errors.Is(err, types.ErrRouterClosed) {
		t.Errorf("err = %v, want ErrRouterClosed", err)
	}

	// Close is idempotent.
	r.Close()
}

// Publish must not block when the loop is not draining: a full queue is an
// error, and Close still returns.
func TestRouter_PublishFullQueueRejects(t *testing.T) {
	root := t.TempDir()
	r := newTestRouter(t, root, &fakeCompleter{done: make(chan string, 1)}, bus.New())

	draft := types.EventDraft{Name: "x", Group: "y", Source: "z", Tenant: "acme"}
	for i := 0; i < defaultQueueDepth; i++ {
		if _, err := r.Publish(draft); err != nil {
			t.Fatalf("Publish(%d) = %v", i, err)
		}
	}

	if _, err := r.Publish(draft); !errors.Is(err, types.ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a full queue")
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("file %s never appeared", path)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
