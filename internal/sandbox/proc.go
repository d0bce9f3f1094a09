package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
)

// ProcSpec describes a script subprocess to spawn. The context document is
// written to standard input, which is then closed; stdout and stderr are
// captured into the supplied buffers.
type ProcSpec struct {
	Path   string
	Args   []string
	Dir    string
	Env    []string
	Stdin  []byte
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
}

// Proc is one spawned script process. The supervisor drives it through
// Start/Wait and escalates Terminate to Kill on timeout. Implemented by
// execProc (production) and fakes in tests that ignore the first signal.
type Proc interface {
	Start() error
	Wait() error
	Terminate() error
	Kill() error
	ExitCode() int
}

// StartFunc builds a Proc from a spec. Injectable so the timeout
// escalation path is unit-testable without real processes.
type StartFunc func(ctx context.Context, spec ProcSpec) Proc

type execProc struct {
	cmd *exec.Cmd
}

// NewExecProc is the production StartFunc backed by os/exec.
func NewExecProc(ctx context.Context, spec ProcSpec) Proc {
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = bytes.NewReader(spec.Stdin)
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	// Cancel must not fire before our own escalation: the supervisor owns
	// the kill decision.
	cmd.Cancel = func() error { return nil }
	return &execProc{cmd: cmd}
}

func (p *execProc) Start() error {
	return p.cmd.Start()
}

func (p *execProc) Wait() error {
	return p.cmd.Wait()
}

func (p *execProc) Terminate() error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProc) Kill() error {
	if p.cmd.Process == nil {
		return errors.New("process not started")
	}
	return p.cmd.Process.Kill()
}

// ExitCode returns the process exit code, or -1 if it was terminated by a
// signal or has not exited.
func (p *execProc) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}
