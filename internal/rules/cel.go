package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/lunaform/switchboard/internal/types"
)

/*
 * CEL expression conditions.
 *
 * Expressions compile at rule-load time against a single dynamic "event"
 * variable and are cached by source text; evaluation never compiles.
 * A cost limit bounds runaway expressions.
 */

const celCostLimit = 1_000_000

func newCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(cel.Variable("event", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return env, nil
}

// compileExpression compiles a single CEL expression to a program.
func compileExpression(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	prog, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	return prog, nil
}

// collectExpressions walks a condition tree and returns every CEL expression
// source it contains.
func collectExpressions(c types.Condition) []string {
	var out []string
	if c.Kind == types.CondExpression && c.Expression != nil {
		out = append(out, c.Expression.Expression)
	}
	if c.Kind == types.CondCompound && c.Compound != nil {
		for _, sub := range c.Compound.Conditions {
			out = append(out, collectExpressions(sub)...)
		}
	}
	return out
}

func (e *evalEnv) evalExpression(c *types.ExpressionCondition, ev types.Event) (bool, error) {
	prog, ok := e.programs[c.Expression]
	if !ok {
		return false, fmt.Errorf("expression not compiled: %q", c.Expression)
	}

	out, _, err := prog.Eval(map[string]any{"event": eventActivation(ev)})
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}

	// Non-boolean results are treated as no-match.
	b, ok := out.Value().(bool)
	return ok && b, nil
}

// eventActivation flattens an event into the CEL activation value.
func eventActivation(ev types.Event) map[string]any {
	return map[string]any{
		"id":            string(ev.ID),
		"timestamp":     ev.Timestamp,
		"name":          ev.Name,
		"group":         ev.Group,
		"source":        ev.Source,
		"topic":         ev.Topic,
		"tenant":        ev.Tenant,
		"correlationId": ev.CorrelationID,
		"payload":       map[string]any(ev.Payload),
	}
}
