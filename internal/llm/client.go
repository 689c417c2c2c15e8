package llm

import (
	"context"
)

// Message represents a chat message
type Message struct {
	Role      string                   `json:"role"`
	Content   string                   `json:"content"`
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolID    string                   `json:"tool_id,omitempty"`
	ToolName  string                   `json:"tool_name,omitempty"` // Name of the tool for tool responses
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Messages     []*Message               `json:"messages"`
	Tools        []map[string]interface{} `json:"tools,omitempty"`
	Temperature  float64                  `json:"temperature"`
	MaxTokens    int                      `json:"max_tokens,omitempty"`
	SystemPrompt string                   `json:"system_prompt,omitempty"`
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	Content    string                   `json:"content"`
	ToolCalls  []map[string]interface{} `json:"tool_calls,omitempty"`
	StopReason string                   `json:"stop_reason"`
	Usage      map[string]interface{}   `json:"usage,omitempty"` // Provider-specific usage data
}

// HasToolCalls reports whether the response requests any tool invocations.
func (r *CompletionResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Client is the interface for LLM clients
type Client interface {
	// CompleteWithRequest sends a completion request and returns the response
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Complete is a simplified version for single prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// Stream sends a streaming completion request
	Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error
	// GetModelName returns the model name
	GetModelName() string
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) *Message {
	return &Message{Role: "system", Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) *Message {
	return &Message{Role: "user", Content: content}
}

// AssistantMessage builds an assistant-role message, carrying any tool calls
// the model requested alongside the text.
func AssistantMessage(content string, toolCalls []map[string]interface{}) *Message {
	return &Message{Role: "assistant", Content: content, ToolCalls: toolCalls}
}

// ToolMessage builds a tool-role message carrying a tool result back to the model.
func ToolMessage(toolID, toolName, content string) *Message {
	return &Message{Role: "tool", Content: content, ToolID: toolID, ToolName: toolName}
}
