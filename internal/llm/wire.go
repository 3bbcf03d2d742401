package llm

import (
	"encoding/json"
	"fmt"
)

// adapter translates the neutral conversation/tool model into one concrete
// wire format. Both implementations are immutable for the process lifetime.
type adapter interface {
	kind() Kind
	defaultBaseURL() string
	chatPath() string
	modelsPath() string
	authHeaders(key string) map[string]string
	formatRequest(req *ToolRequest) (map[string]any, error)
	parseToolResponse(body []byte) (*ToolCall, error)
	parseModels(body []byte) ([]Model, error)
}

func newAdapter(k Kind) (adapter, error) {
	switch k {
	case KindAnthropic:
		return &anthropicAdapter{}, nil
	case KindOpenAI:
		return &openaiAdapter{}, nil
	default:
		return nil, fmt.Errorf("no wire adapter for provider %q", k)
	}
}

func decodeJSON(body []byte, target any) error {
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("malformed provider response: %w", err)
	}
	return nil
}
