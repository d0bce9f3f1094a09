package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/collab"
	"github.com/lunaform/switchboard/internal/sandbox"
	"github.com/lunaform/switchboard/internal/types"
)

// ScriptRunner runs a tenant script and blocks until it finishes or is
// killed. Implemented by sandbox.Runner.
type ScriptRunner interface {
	Run(ctx context.Context, req sandbox.Request) sandbox.Result
}

// Listener reacts to workflow state transitions by running the entry
// action declared on the new state: a prompt completion, a sandboxed
// script, or both. A per-(tenant, workflow, state) guard ensures that
// rapid repeated transitions into the same state never run the entry
// action concurrently with itself; the second arrival is skipped with a
// warning.
type Listener struct {
	root     string
	collab   *collab.Set
	scripts  ScriptRunner
	bus      *bus.Bus
	maxTurns int
	log      *slog.Logger

	mu      sync.Mutex
	running map[string]types.ScriptExecutionContext
}

func NewListener(root string, c *collab.Set, scripts ScriptRunner, b *bus.Bus, maxTurns int, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		root:     root,
		collab:   c,
		scripts:  scripts,
		bus:      b,
		maxTurns: maxTurns,
		log:      log,
		running:  make(map[string]types.ScriptExecutionContext),
	}
}

// Attach registers the listener on an engine. Transitions arrive on their
// own goroutines, so HandleTransition may run concurrently for different
// states.
func (l *Listener) Attach(engine Engine) {
	engine.OnTransition(func(ctx context.Context, t types.WorkflowTransition) {
		l.HandleTransition(ctx, engine, t)
	})
}

// HandleTransition runs the new state's entry action, if any, and then
// auto-advances the workflow with the action's OnSuccess or OnError event.
func (l *Listener) HandleTransition(ctx context.Context, engine Engine, t types.WorkflowTransition) {
	entry := t.NewStateMeta.OnEntry
	if entry == nil {
		return
	}

	key := types.DedupKey(t.Tenant, t.WorkflowID, t.NewState)
	if !l.acquire(key, t, entry) {
		l.log.Warn("skipping transition",
			"tenant", t.Tenant, "workflow", t.WorkflowID, "state", t.NewState,
			"error", types.ErrEntryActionRunning)
		return
	}
	defer l.release(key)

	ok := true
	if entry.PromptFile != "" {
		if err := l.runPrompt(ctx, t, entry); err != nil {
			l.log.Error("entry prompt failed",
				"tenant", t.Tenant, "workflow", t.WorkflowID, "state", t.NewState, "error", err)
			ok = false
		}
	}
	if ok && entry.ScriptFile != "" {
		res := l.scripts.Run(ctx, sandbox.Request{
			Tenant:        t.Tenant,
			WorkflowID:    t.WorkflowID,
			WorkflowName:  t.WorkflowName,
			ScriptFile:    entry.ScriptFile,
			PreviousState: t.PreviousState,
			NewState:      t.NewState,
			Event:         t.Event,
			Data:          t.Data,
			Timeout:       time.Duration(entry.TimeoutSec) * time.Second,
		})
		if !res.Success() {
			ok = false
		}
	}

	l.advance(ctx, engine, t, entry, ok)
}

// acquire records the execution context under key, failing if an entry
// action for the same state is already in flight.
func (l *Listener) acquire(key string, t types.WorkflowTransition, entry *types.EntryAction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.running[key]; busy {
		return false
	}
	l.running[key] = types.ScriptExecutionContext{
		WorkflowID: t.WorkflowID,
		State:      t.NewState,
		ScriptFile: entry.ScriptFile,
		StartTime:  time.Now().UTC(),
	}
	return true
}

func (l *Listener) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, key)
}

// Running returns a snapshot of in-flight entry actions, for diagnostics.
func (l *Listener) Running() []types.ScriptExecutionContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.ScriptExecutionContext, 0, len(l.running))
	for _, c := range l.running {
		out = append(out, c)
	}
	return out
}

// runPrompt completes a workflow-scoped prompt file with a transition
// context block prepended, publishing status notices around the call.
func (l *Listener) runPrompt(ctx context.Context, t types.WorkflowTransition, entry *types.EntryAction) error {
	if l.collab == nil || l.collab.Complete == nil {
		return fmt.Errorf("completer: %w", types.ErrCollaboratorUnavailable)
	}

	path := filepath.Join(l.root, t.Tenant, "workflows", t.WorkflowID, entry.PromptFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("prompt %q: %w", entry.PromptFile, types.ErrPromptNotFound)
		}
		return fmt.Errorf("read prompt: %w", err)
	}

	var b strings.Builder
	b.WriteString("## Transition\n")
	fmt.Fprintf(&b, "- Workflow: %s (%s)\n", t.WorkflowName, t.WorkflowID)
	fmt.Fprintf(&b, "- From: %s\n", t.PreviousState)
	fmt.Fprintf(&b, "- To: %s\n", t.NewState)
	fmt.Fprintf(&b, "- Event: %s\n", t.Event)
	if len(t.Data) > 0 {
		fmt.Fprintf(&b, "- Data: %s\n", renderJSON(t.Data))
	}
	b.WriteString("\n")
	b.Write(raw)

	turns := entry.MaxTurns
	if turns <= 0 {
		turns = l.maxTurns
	}

	l.notify(t, types.StatusStarted, "")
	resp, err := l.collab.Complete.Complete(ctx, t.Tenant, b.String(), turns)
	if err != nil {
		l.notify(t, types.StatusError, err.Error())
		return fmt.Errorf("complete entry prompt: %w", err)
	}
	l.notify(t, types.StatusCompleted, truncate(resp, 500))
	return nil
}

// advance injects the entry action's follow-up event, if declared.
// Invalid transitions are ignored: the follow-up is advisory and the
// workflow may have moved on.
func (l *Listener) advance(ctx context.Context, engine Engine, t types.WorkflowTransition, entry *types.EntryAction, ok bool) {
	event := entry.OnSuccess
	if !ok {
		event = entry.OnError
	}
	if event == "" {
		return
	}
	if _, err := engine.SendEvent(ctx, t.Tenant, t.WorkflowID, event, t.Data,
		SendOptions{IgnoreInvalidTransitions: true}); err != nil {
		l.log.Warn("auto-advance failed",
			"tenant", t.Tenant, "workflow", t.WorkflowID, "event", event, "error", err)
	}
}

func (l *Listener) notify(t types.WorkflowTransition, kind types.StatusKind, response string) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(bus.TopicStatus, types.StatusNotice{
		Kind:      kind,
		Tenant:    t.Tenant,
		Action:    fmt.Sprintf("workflow/%s/%s", t.WorkflowID, t.NewState),
		Response:  response,
		Timestamp: time.Now().UTC(),
	})
}

func renderJSON(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
