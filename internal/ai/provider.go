package ai

import (
	"context"
	"encoding/json"
)

// Message is a provider-neutral chat message.
// Role "tool" carries a tool result back to the model and must set ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDef describes a callable tool in the shape providers expect
// (name + description + JSON Schema parameters).
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is one model turn: either final content or tool-call requests.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ToolProvider is an optional interface. Providers that understand tool
// definitions return either Content or ToolCalls per turn.
type ToolProvider interface {
	Complete(ctx context.Context, messages []Message, tools []ToolDef) (*Completion, error)
}

// Embedder converts text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
