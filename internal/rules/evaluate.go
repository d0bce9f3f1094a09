package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/lunaform/switchboard/internal/collab"
	"github.com/lunaform/switchboard/internal/types"
)

/*
 * Condition evaluation.
 *
 * Pure recursive dispatch on the condition kind. Predicates read the event,
 * the read-only rule definition, and (for windowed compounds) a slice of
 * recent history; they never mutate shared state.
 *
 * Compound semantics: AND = all sub-conditions true, OR = any true, NOT =
 * negation of exactly the first sub-condition. When timeWindowMs is set,
 * history-referencing sub-conditions (simple, temporal) are satisfied by the
 * current event or by any history event inside the trailing window.
 * Delegating kinds (semantic, email, graph, expression) always evaluate the
 * current event only; replaying collaborator calls across history would
 * multiply external traffic without changing the answer.
 */

type evalEnv struct {
	tenant   string
	collab   collab.Set
	programs map[string]cel.Program
}

func (e *evalEnv) eval(ctx context.Context, c types.Condition, ev types.Event, history []types.Event) (bool, error) {
	switch c.Kind {
	case types.CondSimple:
		if c.Simple == nil {
			return false, types.ErrConditionVariantMissing
		}
		return evalSimple(c.Simple, ev), nil

	case types.CondSemantic:
		if c.Semantic == nil {
			return false, types.ErrConditionVariantMissing
		}
		return e.evalSemantic(ctx, c.Semantic, ev)

	case types.CondEmailSemantic:
		if c.EmailSemantic == nil {
			return false, types.ErrConditionVariantMissing
		}
		return e.evalEmailSemantic(ctx, c.EmailSemantic, ev)

	case types.CondKnowledgeGraph:
		if c.KnowledgeGraph == nil {
			return false, types.ErrConditionVariantMissing
		}
		return e.evalKnowledgeGraph(ctx, c.KnowledgeGraph)

	case types.CondCompound:
		if c.Compound == nil {
			return false, types.ErrConditionVariantMissing
		}
		return e.evalCompound(ctx, c.Compound, ev, history)

	case types.CondTemporal:
		if c.Temporal == nil {
			return false, types.ErrConditionVariantMissing
		}
		return evalTemporal(c.Temporal, ev.Timestamp)

	case types.CondExpression:
		if c.Expression == nil {
			return false, types.ErrConditionVariantMissing
		}
		return e.evalExpression(c.Expression, ev)

	default:
		return false, fmt.Errorf("%w: %q", types.ErrUnknownConditionKind, c.Kind)
	}
}

// evalSimple matches event metadata and payload fields. Empty filters match
// anything; set filters must all hold.
func evalSimple(c *types.SimpleCondition, ev types.Event) bool {
	if c.Group != "" && !MatchWildcard(c.Group, ev.Group) {
		return false
	}
	if c.Name != "" && !MatchWildcard(c.Name, ev.Name) {
		return false
	}
	if c.Topic != "" && !MatchWildcard(c.Topic, ev.Topic) {
		return false
	}
	for path, pattern := range c.Payload {
		val, err := Resolve(path, ev.Payload)
		if err != nil {
			return false
		}
		s, ok := Stringify(val)
		if !ok || !MatchWildcard(pattern, s) {
			return false
		}
	}
	return true
}

func (e *evalEnv) evalSemantic(ctx context.Context, c *types.SemanticCondition, ev types.Event) (bool, error) {
	if c.Group != "" && !MatchWildcard(c.Group, ev.Group) {
		return false, nil
	}
	if c.Name != "" && !MatchWildcard(c.Name, ev.Name) {
		return false, nil
	}
	if e.collab.Search == nil {
		return false, types.ErrCollaboratorUnavailable
	}

	threshold := c.Threshold
	if threshold == 0 {
		threshold = types.DefaultSemanticThreshold
	}

	results, err := e.collab.Search.Search(ctx, e.tenant, c.Query, c.Tags, 10)
	if err != nil {
		return false, fmt.Errorf("vector search: %w", err)
	}
	for _, r := range results {
		if r.Score >= threshold {
			return true, nil
		}
	}
	return false, nil
}

func (e *evalEnv) evalEmailSemantic(ctx context.Context, c *types.EmailSemanticCondition, ev types.Event) (bool, error) {
	if e.collab.Complete == nil {
		return false, types.ErrCollaboratorUnavailable
	}

	prompt := classificationPrompt(c.Criteria, ev)
	answer, err := e.collab.Complete.Complete(ctx, e.tenant, prompt, 1)
	if err != nil {
		return false, fmt.Errorf("classification: %w", err)
	}
	return isAffirmative(answer), nil
}

func (e *evalEnv) evalKnowledgeGraph(ctx context.Context, c *types.KnowledgeGraphCondition) (bool, error) {
	if e.collab.Graph == nil {
		return false, types.ErrCollaboratorUnavailable
	}
	rows, err := e.collab.Graph.Query(ctx, e.tenant, c.Query)
	if err != nil {
		return false, fmt.Errorf("graph query: %w", err)
	}
	return len(rows) > 0, nil
}

func (e *evalEnv) evalCompound(ctx context.Context, c *types.CompoundCondition, ev types.Event, history []types.Event) (bool, error) {
	if len(c.Conditions) == 0 {
		return false, types.ErrNoSubConditions
	}

	window := history
	if c.TimeWindowMs > 0 {
		from := ev.Timestamp.Add(-time.Duration(c.TimeWindowMs) * time.Millisecond)
		window = filterWindow(history, from, ev.Timestamp)
	}

	switch c.Operator {
	case types.OpAnd:
		for _, sub := range c.Conditions {
			ok, err := e.evalWithin(ctx, sub, ev, window, c.TimeWindowMs > 0)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case types.OpOr:
		for _, sub := range c.Conditions {
			ok, err := e.evalWithin(ctx, sub, ev, window, c.TimeWindowMs > 0)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case types.OpNot:
		// Only the first sub-condition is inspected. Fixed contract.
		ok, err := e.evalWithin(ctx, c.Conditions[0], ev, window, c.TimeWindowMs > 0)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("unknown compound operator %q", c.Operator)
	}
}

// evalWithin evaluates a sub-condition of a compound. Under a time window,
// simple and temporal sub-conditions are satisfied by the current event or
// by any in-window history event.
func (e *evalEnv) evalWithin(ctx context.Context, c types.Condition, ev types.Event, window []types.Event, windowed bool) (bool, error) {
	ok, err := e.eval(ctx, c, ev, window)
	if err != nil || ok {
		return ok, err
	}
	if !windowed || !referencesHistory(c) {
		return false, nil
	}
	for _, past := range window {
		ok, err := e.eval(ctx, c, past, nil)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func referencesHistory(c types.Condition) bool {
	switch c.Kind {
	case types.CondSimple, types.CondTemporal, types.CondCompound:
		return true
	default:
		return false
	}
}

func filterWindow(history []types.Event, from, to time.Time) []types.Event {
	var out []types.Event
	for _, ev := range history {
		if ev.Timestamp.After(from) && !ev.Timestamp.After(to) {
			out = append(out, ev)
		}
	}
	return out
}

// evalTemporal gates on the event's own timestamp; history never applies.
func evalTemporal(c *types.TemporalCondition, ts time.Time) (bool, error) {
	if len(c.DaysOfWeek) > 0 {
		day := strings.ToLower(ts.Weekday().String())
		found := false
		for _, d := range c.DaysOfWeek {
			if strings.ToLower(d) == day {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	minutes := ts.Hour()*60 + ts.Minute()
	if c.After != "" {
		after, err := parseClock(c.After)
		if err != nil {
			return false, err
		}
		if minutes < after {
			return false, nil
		}
	}
	if c.Before != "" {
		before, err := parseClock(c.Before)
		if err != nil {
			return false, err
		}
		if minutes >= before {
			return false, nil
		}
	}
	return true, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// classificationPrompt asks the completion service for a strict yes/no
// judgment of the event payload against the criteria.
func classificationPrompt(criteria string, ev types.Event) string {
	var b strings.Builder
	b.WriteString("Answer with a single word, yes or no.\n\n")
	b.WriteString("Criteria: ")
	b.WriteString(criteria)
	b.WriteString("\n\nEvent ")
	b.WriteString(ev.Name)
	b.WriteString(" payload:\n")
	b.WriteString(renderJSON(ev.Payload))
	return b.String()
}

func isAffirmative(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "yes" || strings.HasPrefix(a, "yes")
}
