package rules

import (
	"errors"
	"testing"

	"github.com/lunaform/switchboard/internal/types"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    types.Rule
		wantErr bool
	}{
		{
			name: "valid simple rule",
			rule: types.Rule{Name: "r", Condition: simpleCond("Filesystem", "File Created", nil)},
		},
		{
			name:    "missing name",
			rule:    types.Rule{Condition: simpleCond("", "", nil)},
			wantErr: true,
		},
		{
			name:    "kind without variant",
			rule:    types.Rule{Name: "r", Condition: types.Condition{Kind: types.CondSimple}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			rule:    types.Rule{Name: "r", Condition: types.Condition{Kind: "mystery"}},
			wantErr: true,
		},
		{
			name: "semantic threshold out of range",
			rule: types.Rule{Name: "r", Condition: types.Condition{
				Kind:     types.CondSemantic,
				Semantic: &types.SemanticCondition{Query: "q", Threshold: 1.5},
			}},
			wantErr: true,
		},
		{
			name: "temporal with bad clock",
			rule: types.Rule{Name: "r", Condition: types.Condition{
				Kind:     types.CondTemporal,
				Temporal: &types.TemporalCondition{After: "25:99"},
			}},
			wantErr: true,
		},
		{
			name: "compound unknown operator",
			rule: types.Rule{Name: "r", Condition: types.Condition{
				Kind: types.CondCompound,
				Compound: &types.CompoundCondition{
					Operator:   "XOR",
					Conditions: []types.Condition{simpleCond("", "", nil)},
				},
			}},
			wantErr: true,
		},
		{
			name: "NOT with zero sub-conditions",
			rule: types.Rule{Name: "r", Condition: types.Condition{
				Kind:     types.CondCompound,
				Compound: &types.CompoundCondition{Operator: types.OpNot},
			}},
			wantErr: true,
		},
		{
			name: "NOT with extra sub-conditions loads",
			rule: types.Rule{Name: "r", Condition: types.Condition{
				Kind: types.CondCompound,
				Compound: &types.CompoundCondition{
					Operator:   types.OpNot,
					Conditions: []types.Condition{simpleCond("", "", nil), simpleCond("", "", nil)},
				},
			}},
		},
		{
			name: "invalid nested sub-condition",
			rule: types.Rule{Name: "r", Condition: types.Condition{
				Kind: types.CondCompound,
				Compound: &types.CompoundCondition{
					Operator:   types.OpAnd,
					Conditions: []types.Condition{{Kind: types.CondSemantic}},
				},
			}},
			wantErr: true,
		},
		{
			name: "prompt action without id",
			rule: types.Rule{
				Name:      "r",
				Condition: simpleCond("", "", nil),
				Action:    &types.Action{Kind: types.ActionPrompt, Prompt: &types.PromptAction{}},
			},
			wantErr: true,
		},
		{
			name: "workflow action complete",
			rule: types.Rule{
				Name:      "r",
				Condition: simpleCond("", "", nil),
				Action: &types.Action{Kind: types.ActionWorkflowEvent,
					WorkflowEvent: &types.WorkflowEventAction{WorkflowID: "wf", Event: "go"}},
			},
		},
		{
			name: "intent action without type",
			rule: types.Rule{
				Name:      "r",
				Condition: simpleCond("", "", nil),
				Action:    &types.Action{Kind: types.ActionIntent, Intent: &types.IntentAction{}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.rule, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DefaultsSemanticThreshold(t *testing.T) {
	rule := types.Rule{Name: "r", Condition: types.Condition{
		Kind:     types.CondSemantic,
		Semantic: &types.SemanticCondition{Query: "q"},
	}}
	if err := Validate(&rule, nil); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if rule.Condition.Semantic.Threshold != types.DefaultSemanticThreshold {
		t.Errorf("threshold = %v, want %v", rule.Condition.Semantic.Threshold, types.DefaultSemanticThreshold)
	}
}

func TestValidate_VariantMissingSentinel(t *testing.T) {
	rule := types.Rule{Name: "r", Condition: types.Condition{Kind: types.CondCompound}}
	if err := Validate(&rule, nil); !errors.Is(err, types.ErrConditionVariantMissing) {
		t.Errorf("Validate() error = %v, want ErrConditionVariantMissing", err)
	}
}
