package rules

import (
	"fmt"
	"log/slog"

	"github.com/lunaform/switchboard/internal/types"
)

/*
 * Rule validation at load/save time.
 *
 * Moving error detection to rule creation time keeps evaluation free of
 * structural checks: a rule that survives Validate has every variant struct
 * its kind names, a known compound operator, parseable clock bounds, and a
 * defaulted semantic threshold.
 *
 * NOT with more than one sub-condition is legal but warned: the evaluator
 * inspects only the first, and legacy rule documents with extras must keep
 * loading.
 */

// Validate normalizes and checks one rule in place.
func Validate(r *types.Rule, log *slog.Logger) error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if err := validateCondition(&r.Condition, r.ID, log); err != nil {
		return err
	}
	if r.Action != nil {
		if err := validateAction(r.Action); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(c *types.Condition, rule types.RuleID, log *slog.Logger) error {
	switch c.Kind {
	case types.CondSimple:
		if c.Simple == nil {
			return types.ErrConditionVariantMissing
		}
		for path := range c.Simple.Payload {
			if path == "" {
				return fmt.Errorf("empty payload path")
			}
		}
		return nil

	case types.CondSemantic:
		if c.Semantic == nil {
			return types.ErrConditionVariantMissing
		}
		if c.Semantic.Query == "" {
			return fmt.Errorf("semantic condition requires a query")
		}
		if c.Semantic.Threshold == 0 {
			c.Semantic.Threshold = types.DefaultSemanticThreshold
		}
		if c.Semantic.Threshold < 0 || c.Semantic.Threshold > 1 {
			return fmt.Errorf("semantic threshold %v outside [0,1]", c.Semantic.Threshold)
		}
		return nil

	case types.CondEmailSemantic:
		if c.EmailSemantic == nil {
			return types.ErrConditionVariantMissing
		}
		if c.EmailSemantic.Criteria == "" {
			return fmt.Errorf("email semantic condition requires criteria")
		}
		return nil

	case types.CondKnowledgeGraph:
		if c.KnowledgeGraph == nil {
			return types.ErrConditionVariantMissing
		}
		if c.KnowledgeGraph.Query == "" {
			return fmt.Errorf("knowledge graph condition requires a query")
		}
		return nil

	case types.CondCompound:
		if c.Compound == nil {
			return types.ErrConditionVariantMissing
		}
		switch c.Compound.Operator {
		case types.OpAnd, types.OpOr:
		case types.OpNot:
			if len(c.Compound.Conditions) > 1 && log != nil {
				log.Warn("NOT condition evaluates only its first sub-condition",
					"rule", rule, "subConditions", len(c.Compound.Conditions))
			}
		default:
			return fmt.Errorf("unknown compound operator %q", c.Compound.Operator)
		}
		if len(c.Compound.Conditions) == 0 {
			return types.ErrNoSubConditions
		}
		if c.Compound.TimeWindowMs < 0 {
			return fmt.Errorf("negative time window")
		}
		for i := range c.Compound.Conditions {
			if err := validateCondition(&c.Compound.Conditions[i], rule, log); err != nil {
				return err
			}
		}
		return nil

	case types.CondTemporal:
		if c.Temporal == nil {
			return types.ErrConditionVariantMissing
		}
		if c.Temporal.After != "" {
			if _, err := parseClock(c.Temporal.After); err != nil {
				return err
			}
		}
		if c.Temporal.Before != "" {
			if _, err := parseClock(c.Temporal.Before); err != nil {
				return err
			}
		}
		return nil

	case types.CondExpression:
		if c.Expression == nil {
			return types.ErrConditionVariantMissing
		}
		if c.Expression.Expression == "" {
			return fmt.Errorf("expression condition requires an expression")
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", types.ErrUnknownConditionKind, c.Kind)
	}
}

func validateAction(a *types.Action) error {
	switch a.Kind {
	case types.ActionPrompt:
		if a.Prompt == nil || a.Prompt.PromptID == "" {
			return fmt.Errorf("prompt action requires promptId")
		}
		return nil
	case types.ActionWorkflowEvent:
		if a.WorkflowEvent == nil || a.WorkflowEvent.WorkflowID == "" || a.WorkflowEvent.Event == "" {
			return fmt.Errorf("workflow event action requires workflowId and event")
		}
		return nil
	case types.ActionIntent:
		if a.Intent == nil || a.Intent.IntentType == "" {
			return fmt.Errorf("intent action requires intentType")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", types.ErrUnknownActionKind, a.Kind)
	}
}
