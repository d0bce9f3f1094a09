package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

/*
Script execution logs are append-only JSONL files under each workflow
directory, one file per day:

    <root>/<tenant>/workflows/<workflow>/logs/2006-01-02.jsonl

Every script run appends a "called" record and then either a "succeeded"
or an "error" record. Appends to the same file are serialized through a
per-file mutex so concurrent runs never interleave partial lines.
*/

// ScriptLogRecord is one line of a script execution log.
type ScriptLogRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Script     string    `json:"script"`
	WorkflowID string    `json:"workflow_id"`
	State      string    `json:"state"`
	Event      string    `json:"event"` // called, succeeded, error
	Message    string    `json:"message,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// ScriptLog appends execution records to per-day JSONL files.
type ScriptLog struct {
	mu    sync.Mutex
	files map[string]*sync.Mutex
}

func NewScriptLog() *ScriptLog {
	return &ScriptLog{files: make(map[string]*sync.Mutex)}
}

func (l *ScriptLog) fileLock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.files[path]
	if !ok {
		m = &sync.Mutex{}
		l.files[path] = m
	}
	return m
}

// Append writes one record to the workflow's log file for the record's
// day, creating directories as needed.
func (l *ScriptLog) Append(workflowDir string, rec ScriptLogRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	dir := filepath.Join(workflowDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, rec.Timestamp.Format("2006-01-02")+".jsonl")

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}

	m := l.fileLock(path)
	m.Lock()
	defer m.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	return nil
}
