package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lunaform/switchboard/internal/rules"
	"github.com/lunaform/switchboard/internal/types"
)

const maxResponseExcerpt = 500

// executePrompt loads the action's prompt template, prepends an event
// context block shaped by the event's group, and sends the combined text
// to the completion collaborator. The event always leads so the model
// reads what happened before the instructions that react to it.
func (d *Dispatcher) executePrompt(ctx context.Context, tenant string, rule types.Rule, event types.Event) Result {
	action := rule.Action.Prompt
	if action == nil {
		return Result{Outcome: "error", Err: types.ErrConditionVariantMissing}
	}
	if d.collab == nil || d.collab.Prompts == nil || d.collab.Complete == nil {
		return Result{Outcome: "error",
			Err: fmt.Errorf("prompt action: %w", types.ErrCollaboratorUnavailable)}
	}

	template, err := d.collab.Prompts.Prompt(ctx, tenant, action.PromptID)
	if err != nil {
		return Result{Outcome: "error", Err: fmt.Errorf("load prompt %q: %w", action.PromptID, err)}
	}

	prompt := contextBlock(rule, event) + "\n" + template

	turns := action.MaxTurns
	if turns <= 0 {
		turns = d.maxTurns
	}

	d.notify(tenant, rule, types.StatusStarted, "prompt "+action.PromptID, "")
	resp, err := d.collab.Complete.Complete(ctx, tenant, prompt, turns)
	if err != nil {
		return Result{Outcome: "error", Err: fmt.Errorf("complete prompt %q: %w", action.PromptID, err)}
	}

	excerpt := truncate(resp, maxResponseExcerpt)
	d.notify(tenant, rule, types.StatusCompleted, "prompt "+action.PromptID, excerpt)
	return Result{Success: true, Outcome: "completed", Response: excerpt}
}

// contextBlock renders the event for prompt injection. The shape follows
// the event's group so the model sees the most useful framing: webhooks
// get the raw payload, emails get their headers and body, filesystem
// events get the path, everything else a generic summary.
func contextBlock(rule types.Rule, event types.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Triggering Event\n")
	fmt.Fprintf(&b, "- Rule: %s\n", rule.Name)
	fmt.Fprintf(&b, "- Event: %s (group %s, source %s)\n", event.Name, event.Group, event.Source)
	if event.Topic != "" {
		fmt.Fprintf(&b, "- Topic: %s\n", event.Topic)
	}
	fmt.Fprintf(&b, "- Received: %s\n", event.Timestamp.Format(time.RFC3339))

	switch event.Group {
	case "Webhook":
		b.WriteString("\n### Webhook Payload\n```json\n")
		b.WriteString(renderJSON(event.Payload))
		b.WriteString("\n```\n")
	case "Email":
		b.WriteString("\n### Email\n")
		fmt.Fprintf(&b, "From: %s\n", stringField(event.Payload, "from"))
		fmt.Fprintf(&b, "To: %s\n", stringField(event.Payload, "to"))
		fmt.Fprintf(&b, "Subject: %s\n", stringField(event.Payload, "subject"))
		fmt.Fprintf(&b, "\n%s\n", stringField(event.Payload, "body"))
	case "Filesystem":
		b.WriteString("\n### File\n")
		fmt.Fprintf(&b, "Path: %s\n", stringField(event.Payload, "path"))
		if rel := stringField(event.Payload, "relative_path"); rel != "" {
			fmt.Fprintf(&b, "Relative: %s\n", rel)
		}
	default:
		if len(event.Payload) > 0 {
			b.WriteString("\n### Payload\n```json\n")
			b.WriteString(renderJSON(event.Payload))
			b.WriteString("\n```\n")
		}
	}
	return b.String()
}

func stringField(p types.Payload, path string) string {
	v, err := rules.Resolve(path, p)
	if err != nil {
		return ""
	}
	s, ok := rules.Stringify(v)
	if !ok {
		return ""
	}
	return s
}

func renderJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

// truncate shortens s to at most max bytes, backing up so the cut never
// splits a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
