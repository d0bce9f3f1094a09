// Package collab declares the external collaborator contracts Switchboard
// consumes: vector search, graph query, completion, context injection, and
// prompt storage. All of them are opaque services; this package owns only
// their Go-side interfaces plus a file-backed prompt store.
package collab

import "context"

// ScoredResult is one hit from the vector-similarity search collaborator.
type ScoredResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Document string         `json:"document,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorSearch is the similarity-search collaborator: search(query) -> scored results.
type VectorSearch interface {
	Search(ctx context.Context, tenant, query string, tags []string, limit int) ([]ScoredResult, error)
}

// GraphQuery is the graph/triple-store collaborator: query(sparql) -> row-set.
type GraphQuery interface {
	Query(ctx context.Context, tenant, query string) ([]map[string]any, error)
}

// Completer is the language-model completion collaborator: complete(prompt) -> text.
// maxTurns bounds agentic completions; 0 means the collaborator's default.
type Completer interface {
	Complete(ctx context.Context, tenant, prompt string, maxTurns int) (string, error)
}

// ContextProvider enriches intent messages with contextual data keyed by
// entity id.
type ContextProvider interface {
	Context(ctx context.Context, tenant, entityID string) (map[string]any, error)
}

// PromptStore resolves prompt templates by id for prompt actions.
type PromptStore interface {
	Prompt(ctx context.Context, tenant, promptID string) (string, error)
}

// Set bundles the collaborators a component needs. Nil members are legal:
// predicates and executors that would delegate to a nil collaborator fail
// with ErrCollaboratorUnavailable, which the caller records per the error
// taxonomy instead of propagating.
type Set struct {
	Search   VectorSearch
	Graph    GraphQuery
	Complete Completer
	Context  ContextProvider
	Prompts  PromptStore
}
