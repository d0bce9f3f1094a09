package types

import "time"

/*
 * Domain types for rule definitions.
 *
 * Conditions and actions are closed sum types: a kind tag plus exactly one
 * populated variant struct. Dispatch happens in internal/rules (conditions)
 * and internal/dispatch (actions) through a single exhaustive switch per
 * union, so an unhandled variant is a visible code-path error rather than a
 * silent no-match.
 *
 * Wire format: the variant structs marshal under their kind name, e.g.
 *   {"kind": "simple", "simple": {"group": "Filesystem", ...}}
 * Absent variants are omitted. A condition whose kind names an absent
 * variant fails validation at load time.
 */

// ConditionKind tags the condition union.
type ConditionKind string

const (
	CondSimple         ConditionKind = "simple"
	CondSemantic       ConditionKind = "semantic"
	CondEmailSemantic  ConditionKind = "email_semantic"
	CondKnowledgeGraph ConditionKind = "knowledge_graph"
	CondCompound       ConditionKind = "compound"
	CondTemporal       ConditionKind = "temporal"
	CondExpression     ConditionKind = "expression"
)

// CompoundOperator combines sub-conditions of a compound condition.
type CompoundOperator string

const (
	OpAnd CompoundOperator = "AND"
	OpOr  CompoundOperator = "OR"
	// OpNot negates exactly the first sub-condition. Additional
	// sub-conditions are ignored; this is a fixed contract, not a bug.
	OpNot CompoundOperator = "NOT"
)

// Condition is the tagged union of predicate specs.
type Condition struct {
	Kind           ConditionKind            `json:"kind"`
	Simple         *SimpleCondition         `json:"simple,omitempty"`
	Semantic       *SemanticCondition       `json:"semantic,omitempty"`
	EmailSemantic  *EmailSemanticCondition  `json:"emailSemantic,omitempty"`
	KnowledgeGraph *KnowledgeGraphCondition `json:"knowledgeGraph,omitempty"`
	Compound       *CompoundCondition       `json:"compound,omitempty"`
	Temporal       *TemporalCondition       `json:"temporal,omitempty"`
	Expression     *ExpressionCondition     `json:"expression,omitempty"`
}

// SimpleCondition matches event metadata and payload fields by exact or
// wildcard string comparison. Map keys are dot-paths into the payload;
// values are patterns where '*' matches any substring.
type SimpleCondition struct {
	Group    string            `json:"group,omitempty"`
	Name     string            `json:"name,omitempty"`
	Topic    string            `json:"topic,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
}

// SemanticCondition delegates to the vector-search collaborator. True if any
// result's similarity score reaches the threshold.
type SemanticCondition struct {
	Group     string   `json:"group,omitempty"`
	Name      string   `json:"name,omitempty"`
	Query     string   `json:"query"`
	Threshold float64  `json:"threshold,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// DefaultSemanticThreshold applies when a stored rule omits the threshold.
const DefaultSemanticThreshold = 0.86

// EmailSemanticCondition delegates a yes/no classification of the event
// payload against natural-language criteria to the completion service.
type EmailSemanticCondition struct {
	Criteria string `json:"criteria"`
}

// KnowledgeGraphCondition delegates to the graph-query collaborator. True
// iff the result set is non-empty.
type KnowledgeGraphCondition struct {
	Query string `json:"query"`
}

// CompoundCondition recursively combines sub-conditions. When TimeWindowMs
// is set, history-referencing sub-conditions only see events within that
// trailing window from the current event's timestamp.
type CompoundCondition struct {
	Operator     CompoundOperator `json:"operator"`
	Conditions   []Condition      `json:"conditions"`
	TimeWindowMs int64            `json:"timeWindowMs,omitempty"`
}

// TemporalCondition gates on the event's own timestamp. After/Before are
// "HH:MM" wall-clock bounds; DaysOfWeek holds lowercase English day names.
type TemporalCondition struct {
	After      string   `json:"after,omitempty"`
	Before     string   `json:"before,omitempty"`
	DaysOfWeek []string `json:"daysOfWeek,omitempty"`
}

// ExpressionCondition evaluates a CEL expression against the event. True iff
// the program yields boolean true.
type ExpressionCondition struct {
	Expression string `json:"expression"`
}

// ActionKind tags the action union.
type ActionKind string

const (
	ActionPrompt        ActionKind = "prompt"
	ActionWorkflowEvent ActionKind = "workflow_event"
	ActionIntent        ActionKind = "intent"
)

// Action is the tagged union of rule actions.
type Action struct {
	Kind          ActionKind           `json:"kind"`
	Prompt        *PromptAction        `json:"prompt,omitempty"`
	WorkflowEvent *WorkflowEventAction `json:"workflowEvent,omitempty"`
	Intent        *IntentAction        `json:"intent,omitempty"`
}

// PromptAction invokes the completion service with a stored prompt template.
type PromptAction struct {
	PromptID string `json:"promptId"`
	MaxTurns int    `json:"maxTurns,omitempty"`
}

// WorkflowEventAction injects an event into a workflow state machine.
type WorkflowEventAction struct {
	WorkflowID     string `json:"workflowId"`
	Event          string `json:"event"`
	MapFullPayload bool   `json:"mapFullPayload,omitempty"`
}

// IntentAction publishes a structured intent message onto the intent topic.
type IntentAction struct {
	IntentType        string `json:"intentType"`
	EntityIDField     string `json:"entityIdField,omitempty"`
	Urgency           string `json:"urgency,omitempty"`
	EnrichWithContext bool   `json:"enrichWithContext,omitempty"`
}

// Rule is a declarative trigger: when the condition holds for an event, the
// action executes. Scoped to exactly one tenant; mutated only through the
// rule store, never by evaluation.
type Rule struct {
	ID        RuleID    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Condition Condition `json:"condition"`
	Action    *Action   `json:"action,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RuleDocument is the whole-document persistence format for a tenant's
// rules. Load replaces, save rewrites; there is no merge.
type RuleDocument struct {
	Rules []Rule `json:"rules"`
}
