package llm

import (
	"context"
	"encoding/json"
)

// RuleClient is a deterministic probe selector: it walks the decision
// table hint in order, requesting the first probe that has not run yet,
// and stops as soon as any probe fires or the preference list is
// exhausted. It makes the analyze path runnable with no model provider
// and keeps the test suite byte-stable.
type RuleClient struct{}

// NewRuleClient returns the deterministic client.
func NewRuleClient() *RuleClient { return &RuleClient{} }

// Complete implements Client.
func (r *RuleClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ran := make(map[string]bool)
	anyFired := false
	for _, m := range req.Messages {
		if m.Role != "tool" || m.Name == "" {
			continue
		}
		ran[m.Name] = true
		var ev struct {
			Fired bool `json:"fired"`
		}
		if json.Unmarshal([]byte(m.Content), &ev) == nil && ev.Fired {
			anyFired = true
		}
	}
	if anyFired {
		return &Response{Text: "A probe fired; evidence is sufficient.", Done: true}, nil
	}

	var preferred []string
	if req.Hint != nil {
		preferred = req.Hint.PreferredProbes
	}
	for _, name := range preferred {
		if ran[name] {
			continue
		}
		if !toolKnown(req.Tools, name) {
			continue
		}
		return &Response{ToolCall: &ToolCall{Name: name}}, nil
	}

	return &Response{Text: "Preferred probes exhausted without a firing check.", Done: true}, nil
}

func toolKnown(tools []ToolSpec, name string) bool {
	if len(tools) == 0 {
		return true
	}
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
