package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the normalized bridge between a provider's raw response and the
// decision engine. It is transient and never persisted.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult carries the short outcome description paired with a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
}

// Turn is one entry in a provider-neutral conversation. Exactly one of the
// shape fields is meaningful: plain text, an assistant tool call, or a tool
// result.
type Turn struct {
	Role       Role
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// Tool is a structured-decision schema presented to the model with forced
// tool choice.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Model is one selectable model as reported by a provider's listing endpoint.
type Model struct {
	ID   string
	Name string
}

// ToolRequest describes one forced-tool evaluation round trip.
type ToolRequest struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []Turn
	Tools     []Tool
	ForceTool string
}

// Caller sends a forced-tool request to a provider and lists its models.
// The decision engine depends only on this interface; adding a provider means
// adding one Kind and one implementation.
type Caller interface {
	SendTool(ctx context.Context, req *ToolRequest) (*ToolCall, error)
	Models(ctx context.Context) ([]Model, error)
}

// Kind is the closed set of supported provider backends.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
)

// ParseKind validates a provider name from configuration.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindAnthropic:
		return KindAnthropic, nil
	case KindOpenAI:
		return KindOpenAI, nil
	case KindGemini:
		return KindGemini, nil
	}
	return "", fmt.Errorf("unsupported provider: %q", s)
}
