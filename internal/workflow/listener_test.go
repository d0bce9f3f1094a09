package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/collab"
	"github.com/lunaform/switchboard/internal/sandbox"
	"github.com/lunaform/switchboard/internal/types"
)

// blockingRunner counts runs and holds each one until released.
type blockingRunner struct {
	mu      sync.Mutex
	runs    int
	release chan struct{}
	result  sandbox.Result
}

func (r *blockingRunner) Run(ctx context.Context, req sandbox.Request) sandbox.Result {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	return r.result
}

func (r *blockingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type recordingCompleter struct {
	mu     sync.Mutex
	prompt string
	answer string
}

func (c *recordingCompleter) Complete(ctx context.Context, tenant, prompt string, maxTurns int) (string, error) {
	c.mu.Lock()
	c.prompt = prompt
	c.mu.Unlock()
	return c.answer, nil
}

func scriptTransition(state string, entry *types.EntryAction) types.WorkflowTransition {
	return types.WorkflowTransition{
		Tenant:        "acme",
		WorkflowID:    "deploy",
		WorkflowName:  "Deployment",
		PreviousState: "pending",
		NewState:      state,
		NewStateMeta:  types.StateMeta{OnEntry: entry},
		Event:         "start",
		Data:          map[string]any{"ref": "v1.2.3"},
	}
}

func TestListener_ConcurrentEntryRunsOnce(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	l := NewListener(t.TempDir(), &collab.Set{}, runner, nil, 0, nil)
	engine := NewMemoryEngine(nil)

	tr := scriptTransition("running", &types.EntryAction{ScriptFile: "deploy.py"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.HandleTransition(context.Background(), engine, tr)
	}()

	// Wait for the first handler to take the guard and block in the script.
	deadline := time.After(time.Second)
	for runner.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("script never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A second arrival for the same state while the guard is held is skipped.
	l.HandleTransition(context.Background(), engine, tr)

	close(runner.release)
	wg.Wait()

	if got := runner.count(); got != 1 {
		t.Errorf("script ran %d times, want 1: duplicate transition must be skipped", got)
	}
	if len(l.Running()) != 0 {
		t.Errorf("Running() = %v, want empty after completion", l.Running())
	}
}

func TestListener_GuardReleasedAfterRun(t *testing.T) {
	runner := &blockingRunner{}
	l := NewListener(t.TempDir(), &collab.Set{}, runner, nil, 0, nil)
	engine := NewMemoryEngine(nil)
	tr := scriptTransition("running", &types.EntryAction{ScriptFile: "deploy.py"})

	l.HandleTransition(context.Background(), engine, tr)
	l.HandleTransition(context.Background(), engine, tr)

	if got := runner.count(); got != 2 {
		t.Errorf("script ran %d times, want 2: sequential transitions both execute", got)
	}
}

func TestListener_AutoAdvanceOnSuccess(t *testing.T) {
	engine := NewMemoryEngine(nil)
	def := Definition{
		ID:      "deploy",
		Name:    "Deployment",
		Initial: "pending",
		States: map[string]State{
			"pending": {Transitions: map[string]string{"start": "running"}},
			"running": {
				Meta: types.StateMeta{OnEntry: &types.EntryAction{
					ScriptFile: "deploy.py",
					OnSuccess:  "finish",
					OnError:    "fail",
				}},
				Transitions: map[string]string{"finish": "done", "fail": "failed"},
			},
			"done":   {},
			"failed": {},
		},
	}
	if err := engine.Register(def); err != nil {
		t.Fatal(err)
	}

	runner := &blockingRunner{} // zero-value result: exit code 0, success
	l := NewListener(t.TempDir(), &collab.Set{}, runner, nil, 0, nil)
	l.Attach(engine)

	if _, err := engine.SendEvent(context.Background(), "acme", "deploy", "start", nil, SendOptions{}); err != nil {
		t.Fatal(err)
	}

	waitForState(t, engine, "acme", "deploy", "done")
}

func TestListener_AutoAdvanceOnError(t *testing.T) {
	engine := NewMemoryEngine(nil)
	def := Definition{
		ID:      "deploy",
		Name:    "Deployment",
		Initial: "pending",
		States: map[string]State{
			"pending": {Transitions: map[string]string{"start": "running"}},
			"running": {
				Meta: types.StateMeta{OnEntry: &types.EntryAction{
					ScriptFile: "deploy.py",
					OnSuccess:  "finish",
					OnError:    "fail",
				}},
				Transitions: map[string]string{"finish": "done", "fail": "failed"},
			},
			"done":   {},
			"failed": {},
		},
	}
	if err := engine.Register(def); err != nil {
		t.Fatal(err)
	}

	runner := &blockingRunner{result: sandbox.Result{ExitCode: 3}}
	l := NewListener(t.TempDir(), &collab.Set{}, runner, nil, 0, nil)
	l.Attach(engine)

	if _, err := engine.SendEvent(context.Background(), "acme", "deploy", "start", nil, SendOptions{}); err != nil {
		t.Fatal(err)
	}

	waitForState(t, engine, "acme", "deploy", "failed")
}

func TestListener_PromptEntryAction(t *testing.T) {
	root := t.TempDir()
	wfDir := filepath.Join(root, "acme", "workflows", "deploy")
	if err := os.MkdirAll(wfDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wfDir, "announce.md"),
		[]byte("Announce the deployment."), 0o644); err != nil {
		t.Fatal(err)
	}

	completer := &recordingCompleter{answer: "announced"}
	b := bus.New()
	status, cancel := b.Subscribe(bus.TopicStatus, 8)
	defer cancel()

	l := NewListener(root, &collab.Set{Complete: completer}, &blockingRunner{}, b, 5, nil)
	engine := NewMemoryEngine(nil)

	tr := scriptTransition("running", &types.EntryAction{PromptFile: "announce.md"})
	l.HandleTransition(context.Background(), engine, tr)

	completer.mu.Lock()
	prompt := completer.prompt
	completer.mu.Unlock()
	if !strings.Contains(prompt, "Announce the deployment.") {
		t.Errorf("prompt missing template text: %q", prompt)
	}
	if !strings.Contains(prompt, "From: pending") || !strings.Contains(prompt, "To: running") {
		t.Errorf("prompt missing transition context: %q", prompt)
	}
	if !strings.HasPrefix(prompt, "## Transition\n") {
		t.Errorf("prompt does not lead with the transition block: %q", prompt)
	}
	if strings.Index(prompt, "## Transition") > strings.Index(prompt, "Announce the deployment.") {
		t.Errorf("transition block follows the template: %q", prompt)
	}

	kinds := drainStatusKinds(status)
	if len(kinds) != 2 || kinds[0] != types.StatusStarted || kinds[1] != types.StatusCompleted {
		t.Errorf("status notices = %v, want [started completed]", kinds)
	}
}

func TestListener_MissingPromptIsRecorded(t *testing.T) {
	b := bus.New()
	status, cancel := b.Subscribe(bus.TopicStatus, 8)
	defer cancel()

	l := NewListener(t.TempDir(), &collab.Set{Complete: &recordingCompleter{}}, &blockingRunner{}, b, 0, nil)
	engine := NewMemoryEngine(nil)

	tr := scriptTransition("running", &types.EntryAction{PromptFile: "ghost.md"})
	l.HandleTransition(context.Background(), engine, tr)

	// No started/completed pair: the prompt file was never found, so no
	// completion was attempted.
	kinds := drainStatusKinds(status)
	for _, k := range kinds {
		if k == types.StatusCompleted {
			t.Errorf("unexpected completed notice for missing prompt")
		}
	}
}

func waitForState(t *testing.T, e Engine, tenant, workflowID, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		state, err := e.State(context.Background(), tenant, workflowID)
		if err != nil {
			t.Fatalf("State() error = %v", err)
		}
		if state == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %q, want %q", state, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func drainStatusKinds(ch <-chan bus.Envelope) []types.StatusKind {
	var kinds []types.StatusKind
	for {
		select {
		case env := <-ch:
			if n, ok := env.Data.(types.StatusNotice); ok {
				kinds = append(kinds, n.Kind)
			}
		case <-time.After(50 * time.Millisecond):
			return kinds
		}
	}
}
