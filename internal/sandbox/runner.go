package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/lunaform/switchboard/internal/types"
)

const (
	// DefaultTimeout bounds a script run when the entry action does not
	// set its own limit.
	DefaultTimeout = 300 * time.Second

	// DefaultGrace is how long a script gets between SIGTERM and Kill.
	DefaultGrace = 10 * time.Second

	probeTimeout = 5 * time.Second
)

var interpreterCandidates = []string{"python3", "python"}

// Request describes one script run triggered by a workflow transition.
type Request struct {
	Tenant        string
	WorkflowID    string
	WorkflowName  string
	ScriptFile    string
	PreviousState string
	NewState      string
	Event         string
	Data          types.Payload
	Timeout       time.Duration
}

// Result is the outcome of a script run. Err is set on infrastructure
// failures (missing script, no interpreter, spawn error); a script that
// ran and exited non-zero has Err nil and a non-zero ExitCode.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
	Err      error
}

func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0 && !r.TimedOut
}

// Runner executes tenant scripts in supervised subprocesses. Scripts live
// under <root>/<tenant>/workflows/<workflow>/scripts/ and receive a JSON
// context document on stdin.
type Runner struct {
	root       string
	log        *slog.Logger
	scriptLog  *ScriptLog
	start      StartFunc
	timeout    time.Duration
	grace      time.Duration

	interpOnce sync.Once
	interp     string
	interpErr  error
}

type RunnerOption func(*Runner)

// WithStartFunc overrides process spawning, used by tests to substitute
// fake processes.
func WithStartFunc(fn StartFunc) RunnerOption {
	return func(r *Runner) { r.start = fn }
}

// WithGrace overrides the SIGTERM-to-kill grace period.
func WithGrace(d time.Duration) RunnerOption {
	return func(r *Runner) { r.grace = d }
}

// WithTimeout overrides the default run timeout applied when a request
// does not set its own limit.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithInterpreter pins the interpreter path, skipping detection.
func WithInterpreter(path string) RunnerOption {
	return func(r *Runner) {
		r.interpOnce.Do(func() { r.interp = path })
	}
}

func NewRunner(root string, log *slog.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		root:      root,
		log:       log,
		scriptLog: NewScriptLog(),
		start:     NewExecProc,
		timeout:   DefaultTimeout,
		grace:     DefaultGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// interpreter finds a working Python interpreter, probing candidates in
// order and caching the first that responds for the process lifetime.
func (r *Runner) interpreter(ctx context.Context) (string, error) {
	r.interpOnce.Do(func() {
		for _, candidate := range interpreterCandidates {
			path, err := exec.LookPath(candidate)
			if err != nil {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			err = exec.CommandContext(probeCtx, path, "--version").Run()
			cancel()
			if err != nil {
				continue
			}
			r.interp = path
			return
		}
		r.interpErr = fmt.Errorf("no python interpreter found: %w", types.ErrInterpreterNotFound)
	})
	return r.interp, r.interpErr
}

// contextDoc is the JSON document written to the script's stdin.
type contextDoc struct {
	WorkflowID    string        `json:"workflow_id"`
	WorkflowName  string        `json:"workflow_name"`
	PreviousState string        `json:"previous_state"`
	NewState      string        `json:"new_state"`
	Event         string        `json:"event"`
	Data          types.Payload `json:"data"`
	Tenant        string        `json:"tenant"`
	TenantRoot    string        `json:"tenant_root"`
}

// Run executes the requested script and blocks until it exits or the
// timeout escalation kills it.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	workflowDir := filepath.Join(r.root, req.Tenant, "workflows", req.WorkflowID)
	scriptPath := filepath.Join(workflowDir, "scripts", req.ScriptFile)

	r.appendLog(workflowDir, ScriptLogRecord{
		Level:      "info",
		Script:     req.ScriptFile,
		WorkflowID: req.WorkflowID,
		State:      req.NewState,
		Event:      "called",
	})

	if _, err := os.Stat(scriptPath); err != nil {
		return r.fail(workflowDir, req, start,
			fmt.Errorf("script %q: %w", req.ScriptFile, types.ErrScriptNotFound))
	}

	interp, err := r.interpreter(ctx)
	if err != nil {
		return r.fail(workflowDir, req, start, err)
	}

	if pkgs, err := ExtractDependencies(scriptPath); err != nil {
		r.log.Warn("extract script dependencies", "script", req.ScriptFile, "error", err)
	} else {
		installDependencies(ctx, r.log, interp, filepath.Join(workflowDir, ".deps"), pkgs)
	}

	stdin, err := json.Marshal(contextDoc{
		WorkflowID:    req.WorkflowID,
		WorkflowName:  req.WorkflowName,
		PreviousState: req.PreviousState,
		NewState:      req.NewState,
		Event:         req.Event,
		Data:          req.Data,
		Tenant:        req.Tenant,
		TenantRoot:    filepath.Join(r.root, req.Tenant),
	})
	if err != nil {
		return r.fail(workflowDir, req, start, fmt.Errorf("marshal script context: %w", err))
	}

	var stdout, stderr bytes.Buffer
	proc := r.start(ctx, ProcSpec{
		Path:   interp,
		Args:   []string{scriptPath},
		Dir:    workflowDir,
		Env:    append(os.Environ(), "PYTHONPATH="+filepath.Join(workflowDir, ".deps")),
		Stdin:  stdin,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err := proc.Start(); err != nil {
		return r.fail(workflowDir, req, start, fmt.Errorf("start script: %w", err))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	done := make(chan struct{})
	go func() {
		proc.Wait()
		close(done)
	}()

	timedOut := false
	select {
	case <-done:
	case <-time.After(timeout):
		timedOut = true
		r.log.Warn("script timed out, terminating",
			"tenant", req.Tenant, "workflow", req.WorkflowID, "script", req.ScriptFile)
		if err := proc.Terminate(); err != nil {
			r.log.Warn("terminate script", "script", req.ScriptFile, "error", err)
		}
		select {
		case <-done:
		case <-time.After(r.grace):
			if err := proc.Kill(); err != nil {
				r.log.Warn("kill script", "script", req.ScriptFile, "error", err)
			}
			<-done
		}
	}

	res := Result{
		ExitCode: proc.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
		Duration: time.Since(start),
	}
	if timedOut {
		res.ExitCode = -1
	}

	if res.Success() {
		r.appendLog(workflowDir, ScriptLogRecord{
			Level:      "info",
			Script:     req.ScriptFile,
			WorkflowID: req.WorkflowID,
			State:      req.NewState,
			Event:      "succeeded",
			ExitCode:   &res.ExitCode,
			Stdout:     res.Stdout,
			DurationMs: res.Duration.Milliseconds(),
		})
	} else {
		msg := "script exited non-zero"
		if timedOut {
			msg = "script killed after timeout"
		}
		r.appendLog(workflowDir, ScriptLogRecord{
			Level:      "error",
			Script:     req.ScriptFile,
			WorkflowID: req.WorkflowID,
			State:      req.NewState,
			Event:      "error",
			Message:    msg,
			ExitCode:   &res.ExitCode,
			Stderr:     res.Stderr,
			DurationMs: res.Duration.Milliseconds(),
		})
	}
	return res
}

func (r *Runner) fail(workflowDir string, req Request, start time.Time, err error) Result {
	r.log.Error("script run failed",
		"tenant", req.Tenant, "workflow", req.WorkflowID, "script", req.ScriptFile, "error", err)
	code := -1
	r.appendLog(workflowDir, ScriptLogRecord{
		Level:      "error",
		Script:     req.ScriptFile,
		WorkflowID: req.WorkflowID,
		State:      req.NewState,
		Event:      "error",
		Message:    err.Error(),
		ExitCode:   &code,
		DurationMs: time.Since(start).Milliseconds(),
	})
	return Result{ExitCode: -1, Duration: time.Since(start), Err: err}
}

func (r *Runner) appendLog(workflowDir string, rec ScriptLogRecord) {
	if err := r.scriptLog.Append(workflowDir, rec); err != nil {
		r.log.Warn("append script log", "workflow", rec.WorkflowID, "error", err)
	}
}
