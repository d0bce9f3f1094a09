package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lunaform/switchboard/internal/types"
)

// fakeProc simulates a script subprocess. Wait blocks until the proc is
// released by exit, Terminate, or Kill, in that order of preference.
type fakeProc struct {
	spec       ProcSpec
	exitCode   int
	stdout     string
	stderr     string
	hangs      bool // never exits on its own
	ignoreTerm bool // survives SIGTERM, dies only on Kill

	mu         sync.Mutex
	terminated bool
	killed     bool
	done       chan struct{}
}

func (p *fakeProc) Start() error {
	p.done = make(chan struct{})
	if p.spec.Stdout != nil {
		p.spec.Stdout.WriteString(p.stdout)
	}
	if p.spec.Stderr != nil {
		p.spec.Stderr.WriteString(p.stderr)
	}
	if !p.hangs {
		close(p.done)
	}
	return nil
}

func (p *fakeProc) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	if !p.ignoreTerm {
		p.exit()
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.exit()
	return nil
}

func (p *fakeProc) exit() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *fakeProc) ExitCode() int {
	return p.exitCode
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates <root>/<tenant>/workflows/<workflow>/scripts/<name>
// and returns the workflow directory.
func writeScript(t *testing.T, root, tenant, workflow, name, body string) string {
	t.Helper()
	workflowDir := filepath.Join(root, tenant, "workflows", workflow)
	scriptsDir := filepath.Join(workflowDir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(scriptsDir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return workflowDir
}

func TestRunner_Success(t *testing.T) {
	root := t.TempDir()
	workflowDir := writeScript(t, root, "acme", "deploy", "notify.py", "print('ok')\n")

	proc := &fakeProc{stdout: "notified\n"}
	r := NewRunner(root, discardLogger(),
		WithInterpreter("/usr/bin/python3"),
		WithStartFunc(func(ctx context.Context, spec ProcSpec) Proc {
			proc.spec = spec
			return proc
		}))

	res := r.Run(context.Background(), Request{
		Tenant:        "acme",
		WorkflowID:    "deploy",
		WorkflowName:  "Deployment",
		ScriptFile:    "notify.py",
		PreviousState: "pending",
		NewState:      "running",
		Event:         "start",
		Data:          types.Payload{"ref": "v1.2.3"},
	})

	if !res.Success() {
		t.Fatalf("Success() = false, result = %+v", res)
	}
	if res.Stdout != "notified\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "notified\n")
	}

	// The script receives the transition context on stdin.
	var doc map[string]any
	if err := json.Unmarshal(proc.spec.Stdin, &doc); err != nil {
		t.Fatalf("stdin is not JSON: %v", err)
	}
	for field, want := range map[string]string{
		"workflow_id":    "deploy",
		"workflow_name":  "Deployment",
		"previous_state": "pending",
		"new_state":      "running",
		"event":          "start",
		"tenant":         "acme",
	} {
		if doc[field] != want {
			t.Errorf("stdin %s = %v, want %q", field, doc[field], want)
		}
	}
	if proc.spec.Dir != workflowDir {
		t.Errorf("working dir = %q, want %q", proc.spec.Dir, workflowDir)
	}

	assertLogEvents(t, workflowDir, "called", "succeeded")
}

func TestRunner_ScriptNotFound(t *testing.T) {
	root := t.TempDir()
	r := NewRunner(root, discardLogger(), WithInterpreter("/usr/bin/python3"))

	res := r.Run(context.Background(), Request{
		Tenant: "acme", WorkflowID: "deploy", ScriptFile: "ghost.py", NewState: "running",
	})

	if !errors.Is(res.Err, types.ErrScriptNotFound) {
		t.Errorf("Err = %v, want ErrScriptNotFound", res.Err)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
	assertLogEvents(t, filepath.Join(root, "acme", "workflows", "deploy"), "called", "error")
}

func TestRunner_NonZeroExit(t *testing.T) {
	root := t.TempDir()
	workflowDir := writeScript(t, root, "acme", "deploy", "notify.py", "import sys\nsys.exit(2)\n")

	proc := &fakeProc{exitCode: 2, stderr: "boom\n"}
	r := NewRunner(root, discardLogger(),
		WithInterpreter("/usr/bin/python3"),
		WithStartFunc(func(ctx context.Context, spec ProcSpec) Proc {
			proc.spec = spec
			return proc
		}))

	res := r.Run(context.Background(), Request{
		Tenant: "acme", WorkflowID: "deploy", ScriptFile: "notify.py", NewState: "running",
	})

	if res.Success() {
		t.Fatal("Success() = true for non-zero exit")
	}
	if res.Err != nil {
		t.Errorf("Err = %v, want nil: the script ran, it just failed", res.Err)
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
	if res.Stderr != "boom\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "boom\n")
	}
	assertLogEvents(t, workflowDir, "called", "error")
}

func TestRunner_TimeoutEscalatesToKill(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "acme", "deploy", "spin.py", "while True: pass\n")

	proc := &fakeProc{hangs: true, ignoreTerm: true}
	r := NewRunner(root, discardLogger(),
		WithInterpreter("/usr/bin/python3"),
		WithTimeout(30*time.Millisecond),
		WithGrace(30*time.Millisecond),
		WithStartFunc(func(ctx context.Context, spec ProcSpec) Proc {
			proc.spec = spec
			return proc
		}))

	res := r.Run(context.Background(), Request{
		Tenant: "acme", WorkflowID: "deploy", ScriptFile: "spin.py", NewState: "running",
	})

	if !res.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a killed script", res.ExitCode)
	}
	proc.mu.Lock()
	terminated, killed := proc.terminated, proc.killed
	proc.mu.Unlock()
	if !terminated {
		t.Error("process was never sent SIGTERM")
	}
	if !killed {
		t.Error("process ignored SIGTERM but was never killed")
	}
}

func TestRunner_TimeoutHonorsTerminate(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "acme", "deploy", "spin.py", "while True: pass\n")

	proc := &fakeProc{hangs: true}
	r := NewRunner(root, discardLogger(),
		WithInterpreter("/usr/bin/python3"),
		WithTimeout(30*time.Millisecond),
		WithGrace(time.Second),
		WithStartFunc(func(ctx context.Context, spec ProcSpec) Proc {
			return proc
		}))

	res := r.Run(context.Background(), Request{
		Tenant: "acme", WorkflowID: "deploy", ScriptFile: "spin.py", NewState: "running",
	})

	if !res.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	proc.mu.Lock()
	killed := proc.killed
	proc.mu.Unlock()
	if killed {
		t.Error("process exited on SIGTERM but was killed anyway")
	}
}

func TestRunner_RequestTimeoutOverridesDefault(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "acme", "deploy", "spin.py", "while True: pass\n")

	proc := &fakeProc{hangs: true}
	r := NewRunner(root, discardLogger(),
		WithInterpreter("/usr/bin/python3"),
		WithTimeout(time.Hour),
		WithGrace(time.Second),
		WithStartFunc(func(ctx context.Context, spec ProcSpec) Proc {
			return proc
		}))

	res := r.Run(context.Background(), Request{
		Tenant: "acme", WorkflowID: "deploy", ScriptFile: "spin.py", NewState: "running",
		Timeout: 30 * time.Millisecond,
	})

	if !res.TimedOut {
		t.Fatal("request timeout was not applied")
	}
}

// assertLogEvents checks that the workflow's daily log file contains the
// given event kinds, in order.
func assertLogEvents(t *testing.T, workflowDir string, events ...string) {
	t.Helper()
	path := filepath.Join(workflowDir, "logs", time.Now().UTC().Format("2006-01-02")+".jsonl")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read script log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != len(events) {
		t.Fatalf("log has %d records, want %d: %s", len(lines), len(events), raw)
	}
	for i, line := range lines {
		var rec ScriptLogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line %d is not JSON: %v", i, err)
		}
		if rec.Event != events[i] {
			t.Errorf("log record %d event = %q, want %q", i, rec.Event, events[i])
		}
	}
}
