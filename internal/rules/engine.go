// Package rules implements the per-tenant rule engine: rule storage,
// condition evaluation against incoming events, and the bounded event
// history feeding compound and temporal predicates.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/lunaform/switchboard/internal/collab"
	"github.com/lunaform/switchboard/internal/types"
)

// Engine owns one tenant's rule set and event history. The rule set and
// history mutate only through LoadRules/SaveRules and Evaluate; everything
// else reads snapshots.
type Engine struct {
	tenant string
	store  RuleStore
	collab collab.Set
	log    *slog.Logger

	celEnv *cel.Env

	mu       sync.RWMutex
	rules    []types.Rule
	programs map[string]cel.Program // expression source -> compiled program
	history  *History
}

// NewEngine creates an engine for a tenant and performs the initial rule
// load. An absent rule document means zero rules, not an error.
func NewEngine(tenant string, store RuleStore, cs collab.Set, log *slog.Logger) (*Engine, error) {
	if tenant == "" {
		return nil, fmt.Errorf("tenant cannot be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}

	en := &Engine{
		tenant:   tenant,
		store:    store,
		collab:   cs,
		log:      log.With("tenant", tenant),
		celEnv:   env,
		programs: make(map[string]cel.Program),
		history:  NewHistory(types.HistoryCapacity),
	}

	if err := en.LoadRules(context.Background()); err != nil {
		return nil, err
	}
	return en, nil
}

// Tenant returns the tenant this engine is scoped to.
func (en *Engine) Tenant() string {
	return en.tenant
}

// LoadRules replaces the in-memory rule set from persisted storage. Full
// reload, not merge: rules deleted from the document disappear here too.
// Rules failing validation are skipped with a warning so one malformed rule
// cannot take the tenant offline.
func (en *Engine) LoadRules(ctx context.Context) error {
	loaded, err := en.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load rules for %s: %w", en.tenant, err)
	}

	accepted := make([]types.Rule, 0, len(loaded))
	programs := make(map[string]cel.Program)

	for _, r := range loaded {
		if err := Validate(&r, en.log); err != nil {
			en.log.Warn("skipping invalid rule", "rule", r.ID, "error", err)
			continue
		}
		compiled := true
		for _, expr := range collectExpressions(r.Condition) {
			if _, ok := programs[expr]; ok {
				continue
			}
			prog, err := compileExpression(en.celEnv, expr)
			if err != nil {
				en.log.Warn("skipping rule with invalid expression", "rule", r.ID, "error", err)
				compiled = false
				break
			}
			programs[expr] = prog
		}
		if compiled {
			accepted = append(accepted, r)
		}
	}

	en.mu.Lock()
	en.rules = accepted
	en.programs = programs
	en.mu.Unlock()

	en.log.Debug("rules loaded", "count", len(accepted), "skipped", len(loaded)-len(accepted))
	return nil
}

// SaveRules validates, persists, and activates a full rule document.
func (en *Engine) SaveRules(ctx context.Context, rules []types.Rule) error {
	now := time.Now().UTC()
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = types.NewRuleID()
		}
		if rules[i].CreatedAt.IsZero() {
			rules[i].CreatedAt = now
		}
		rules[i].UpdatedAt = now
		if err := Validate(&rules[i], en.log); err != nil {
			return fmt.Errorf("rule %s: %w", rules[i].ID, err)
		}
	}

	if err := en.store.Save(ctx, rules); err != nil {
		return fmt.Errorf("save rules for %s: %w", en.tenant, err)
	}
	return en.LoadRules(ctx)
}

// Rules returns a copy of the active rule set.
func (en *Engine) Rules() []types.Rule {
	en.mu.RLock()
	defer en.mu.RUnlock()
	out := make([]types.Rule, len(en.rules))
	copy(out, en.rules)
	return out
}

// Rule returns one rule by id.
func (en *Engine) Rule(id types.RuleID) (types.Rule, error) {
	en.mu.RLock()
	defer en.mu.RUnlock()
	for _, r := range en.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return types.Rule{}, types.ErrRuleNotFound
}

// Evaluate appends the event to the tenant's history and evaluates every
// enabled rule against it. One result per enabled rule; a failed evaluation
// records success=false with the error message and never aborts sibling
// rules.
func (en *Engine) Evaluate(ctx context.Context, ev types.Event) []types.ExecutionResult {
	en.mu.Lock()
	// History excludes the event under evaluation: windows look strictly at
	// preceding events.
	window := en.history.Snapshot()
	en.history.Append(ev)
	rules := en.rules
	env := &evalEnv{tenant: en.tenant, collab: en.collab, programs: en.programs}
	en.mu.Unlock()

	results := make([]types.ExecutionResult, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}

		matched, err := env.eval(ctx, r.Condition, ev, window)
		res := types.ExecutionResult{
			RuleID:    r.ID,
			EventID:   ev.ID,
			Success:   matched,
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			res.Success = false
			res.Error = err.Error()
			en.log.Warn("rule evaluation failed", "rule", r.ID, "event", ev.ID, "error", err)
		}
		results = append(results, res)
	}
	return results
}

// renderJSON renders a value as indented JSON for prompt context blocks.
// Falls back to %v on marshal failure rather than erroring.
func renderJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
