// Package advisor provides the runtime for the three phase-specific
// advisors. Advisors are long-lived (one instance per kind per
// process); the runtime starts at most one at a time, driven by the
// phase state machine.
package advisor

import (
	"context"
	"encoding/json"
)

// ToolSchema describes one tool an advisor exposes to the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is one tool-use item in an LLM response.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// LLMRequest is what the invoker sends per round.
type LLMRequest struct {
	System   string
	Tools    []ToolSchema
	Messages []Message
}

// LLMResponse is one model turn. A response without tool calls ends
// the loop.
type LLMResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// LLMFunc is the caller-supplied model transport. The core invokes it
// and nothing more — the protocol behind it is not our business.
type LLMFunc func(ctx context.Context, req *LLMRequest) (*LLMResponse, error)

// Advisor is the capability set every advisor implements.
type Advisor interface {
	// Name is the stable identifier (keys the enable flag).
	Name() string
	// SystemPrompt is the advisor's system directive.
	SystemPrompt() string
	// Tools lists the advisor's named tool schemas.
	Tools() []ToolSchema
	// OnActivate starts the advisor's input pipeline. Idempotent.
	OnActivate(ctx context.Context) error
	// OnDeactivate stops the pipeline and releases per-phase state.
	OnDeactivate()
	// HandleTool executes one tool call. Errors are returned to the
	// LLM as results, never raised past the advisor boundary.
	HandleTool(ctx context.Context, name string, input json.RawMessage) (string, error)
}
