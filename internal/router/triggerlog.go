package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lunaform/switchboard/internal/core/db"
	"github.com/lunaform/switchboard/internal/types"
)

/*
The triggered-event log is the durable record of matches: one JSONL file
per tenant per day under

    <root>/<tenant>/triggered/2006-01-02.jsonl

The flat file is the contract; when a database is configured each line is
additionally indexed into the events table for querying. Index writes are
best effort and never fail a match.
*/

// TriggerLog appends matched events to per-tenant per-day JSONL files,
// optionally mirroring an index row into the database.
type TriggerLog struct {
	dir string
	q   *db.Queries
	log *slog.Logger

	mu    sync.Mutex
	files map[string]*sync.Mutex
}

// NewTriggerLog creates a trigger log rooted at dir. q may be nil for
// flat-file-only deployments.
func NewTriggerLog(dir string, q *db.Queries, log *slog.Logger) *TriggerLog {
	if log == nil {
		log = slog.Default()
	}
	return &TriggerLog{dir: dir, q: q, log: log, files: make(map[string]*sync.Mutex)}
}

func (l *TriggerLog) fileLock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.files[path]
	if !ok {
		m = &sync.Mutex{}
		l.files[path] = m
	}
	return m
}

// Record appends one triggered event to the tenant's log for the day.
func (l *TriggerLog) Record(ctx context.Context, tenant string, te types.TriggeredEvent) error {
	if te.Timestamp.IsZero() {
		te.Timestamp = time.Now().UTC()
	}
	dir := filepath.Join(l.dir, tenant, "triggered")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create triggered dir: %w", err)
	}

	name := te.Timestamp.Format("2006-01-02") + ".jsonl"
	path := filepath.Join(dir, name)

	line, err := json.Marshal(te)
	if err != nil {
		return fmt.Errorf("marshal triggered event: %w", err)
	}

	m := l.fileLock(path)
	m.Lock()
	defer m.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open triggered log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append triggered event: %w", err)
	}

	l.index(tenant, te, name)
	return nil
}

// index mirrors the triggered event into the database. Failures are
// logged; the JSONL line already landed and remains authoritative.
func (l *TriggerLog) index(tenant string, te types.TriggeredEvent, jsonlFile string) {
	if l.q == nil {
		return
	}
	ev := te.Event
	_, err := l.q.Exec("insert-event",
		string(ev.ID),
		tenant,
		ev.Name,
		ev.Group,
		ev.Source,
		ev.Topic,
		ev.CorrelationID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		jsonlFile,
		len(te.TriggeredRules),
		te.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		l.log.Warn("index triggered event", "tenant", tenant, "event", ev.ID, "error", err)
	}
}
