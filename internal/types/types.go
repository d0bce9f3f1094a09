// Package types provides domain models shared across Switchboard components.
//
// Zero-dependency design: types.go, rules.go, and errors.go use only the
// standard library. ID utilities in ids.go import uuid but are isolated so
// that embedding consumers can avoid pulling it in.
package types

import "time"

// EventID represents a UUIDv7 event identifier.
// String alias enables type safety while maintaining JSON string serialization.
// UUIDv7 time-ordering ensures sequential IDs cluster in B-tree indexes.
type EventID string

// RuleID represents a rule identifier, unique within a tenant.
type RuleID string

// Payload is the untyped structured document carried by an event.
// The router never interprets it; evaluators and executors read it through
// dot-path resolution.
type Payload map[string]any

// Event is the unit of work flowing through the router. Immutable once
// created: the router owns it until hand-off, after which evaluators and
// dispatchers only read it.
type Event struct {
	ID            EventID   `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Name          string    `json:"name"`
	Group         string    `json:"group"`
	Source        string    `json:"source"`
	Topic         string    `json:"topic,omitempty"`
	Tenant        string    `json:"tenant,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Payload       Payload   `json:"payload,omitempty"`
}

// EventDraft is an event as submitted by a producer, before the router
// assigns an id and timestamp.
type EventDraft struct {
	Name          string  `json:"name"`
	Group         string  `json:"group"`
	Source        string  `json:"source"`
	Topic         string  `json:"topic,omitempty"`
	Tenant        string  `json:"tenant,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
	Payload       Payload `json:"payload,omitempty"`
}

// ExecutionResult records the outcome of evaluating one rule against one
// event. Results are never persisted individually; they aggregate into the
// triggered-event log.
type ExecutionResult struct {
	RuleID    RuleID    `json:"ruleId"`
	EventID   EventID   `json:"eventId"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// TriggeredEvent is one line of the per-tenant per-day triggered-event log.
type TriggeredEvent struct {
	Event          Event     `json:"event"`
	TriggeredRules []RuleID  `json:"triggeredRules"`
	Timestamp      time.Time `json:"timestamp"`
}

// MatchNotice is broadcast on the match feed for every event that triggered
// at least one rule.
type MatchNotice struct {
	Tenant         string   `json:"tenant"`
	Event          Event    `json:"event"`
	TriggeredRules []RuleID `json:"triggeredRules"`
}

// StatusKind classifies status notices emitted by action executors.
type StatusKind string

const (
	StatusStarted   StatusKind = "started"
	StatusCompleted StatusKind = "completed"
	StatusIgnored   StatusKind = "ignored"
	StatusError     StatusKind = "error"
)

// StatusNotice is a best-effort progress report for a dispatched action or
// entry action. All failures surface here rather than as errors visible to
// event producers.
type StatusNotice struct {
	Kind      StatusKind `json:"kind"`
	Tenant    string     `json:"tenant"`
	RuleID    RuleID     `json:"ruleId,omitempty"`
	Action    string     `json:"action,omitempty"`
	Message   string     `json:"message,omitempty"`
	Response  string     `json:"response,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// IntentMessage is published onto the intent topic for downstream agent
// consumption.
type IntentMessage struct {
	CorrelationID string         `json:"correlationId"`
	Tenant        string         `json:"tenant"`
	IntentType    string         `json:"intentType"`
	EntityID      string         `json:"entityId,omitempty"`
	Urgency       string         `json:"urgency,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	SourceEvent   Event          `json:"sourceEvent"`
}

// EntryAction describes automation attached to a workflow state, executed
// when the workflow enters that state. Exactly one of PromptFile and
// ScriptFile is set.
type EntryAction struct {
	PromptFile string `json:"promptFile,omitempty"`
	ScriptFile string `json:"scriptFile,omitempty"`
	MaxTurns   int    `json:"maxTurns,omitempty"`
	TimeoutSec int    `json:"timeoutSec,omitempty"`
	OnSuccess  string `json:"onSuccess,omitempty"`
	OnError    string `json:"onError,omitempty"`
}

// StateMeta is the metadata attached to a workflow state.
type StateMeta struct {
	Description string       `json:"description,omitempty"`
	OnEntry     *EntryAction `json:"onEntry,omitempty"`
}

// WorkflowTransition describes one state-machine transition, produced by the
// workflow engine on every successful SendEvent. Read-only input to the
// transition listener.
type WorkflowTransition struct {
	Tenant        string         `json:"tenant"`
	WorkflowID    string         `json:"workflowId"`
	WorkflowName  string         `json:"workflowName"`
	PreviousState string         `json:"previousState,omitempty"`
	NewState      string         `json:"newState"`
	NewStateMeta  StateMeta      `json:"newStateMeta"`
	Event         string         `json:"event"`
	Data          map[string]any `json:"data,omitempty"`
}

// ScriptExecutionContext tracks a running entry action while it executes,
// keyed by tenant:workflowId:state to suppress concurrent re-entry.
type ScriptExecutionContext struct {
	WorkflowID string
	State      string
	ScriptFile string
	StartTime  time.Time
}

// DedupKey builds the composite identifier guarding entry-action re-entry.
func DedupKey(tenant, workflowID, state string) string {
	return tenant + ":" + workflowID + ":" + state
}

// HistoryCapacity bounds the per-tenant event history ring feeding
// compound/temporal predicates. Oldest events evict past this capacity.
const HistoryCapacity = 1000

// MaxPathDepth prevents runaway recursion during dot-path resolution.
// 16 levels handles deeply nested payloads without performance degradation.
const MaxPathDepth = 16
