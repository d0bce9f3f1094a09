package types

import "errors"

// Sentinel errors for Switchboard operations.
var (
	// ErrFieldNotFound indicates a dot-path could not be resolved in a payload.
	ErrFieldNotFound = errors.New("field not found")

	// ErrPathTooDeep indicates a dot-path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrRuleNotFound indicates a rule id is unknown to the store.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrUnknownConditionKind indicates a condition kind outside the closed union.
	ErrUnknownConditionKind = errors.New("unknown condition kind")

	// ErrUnknownActionKind indicates an action kind outside the closed union.
	ErrUnknownActionKind = errors.New("unknown action kind")

	// ErrConditionVariantMissing indicates a condition whose kind names an
	// absent variant struct.
	ErrConditionVariantMissing = errors.New("condition variant missing for kind")

	// ErrNoSubConditions indicates a compound condition with an empty
	// sub-condition list.
	ErrNoSubConditions = errors.New("compound condition has no sub-conditions")

	// ErrCollaboratorUnavailable indicates a delegating condition has no
	// configured collaborator to delegate to.
	ErrCollaboratorUnavailable = errors.New("collaborator not configured")

	// ErrPromptNotFound indicates the prompt store has no template for an id.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrWorkflowNotFound indicates an unknown workflow id for a tenant.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidTransition indicates the workflow is not in a state that
	// accepts the sent event.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrScriptNotFound indicates an entry-action script file is missing.
	ErrScriptNotFound = errors.New("script file not found")

	// ErrInterpreterNotFound indicates no script interpreter responded to a
	// version probe.
	ErrInterpreterNotFound = errors.New("script interpreter not found")

	// ErrEntryActionRunning indicates a transition was suppressed because the
	// entered state's entry action is already executing.
	ErrEntryActionRunning = errors.New("entry action already running")

	// ErrRouterClosed indicates publish after the ingestion loop stopped.
	ErrRouterClosed = errors.New("router closed")

	// ErrQueueFull indicates the ingestion queue has no room; the producer
	// should retry after backoff.
	ErrQueueFull = errors.New("event queue full")
)
