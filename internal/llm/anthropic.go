package llm

// anthropicAdapter speaks the stateful tool-use protocol: tool calls and
// results travel as typed content blocks inside the message array.
type anthropicAdapter struct{}

const anthropicVersion = "2023-06-01"

func (a *anthropicAdapter) kind() Kind             { return KindAnthropic }
func (a *anthropicAdapter) defaultBaseURL() string { return "https://api.anthropic.com" }
func (a *anthropicAdapter) chatPath() string       { return "/v1/messages" }
func (a *anthropicAdapter) modelsPath() string     { return "/v1/models" }

func (a *anthropicAdapter) authHeaders(key string) map[string]string {
	return map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicVersion,
	}
}

func (a *anthropicAdapter) formatRequest(req *ToolRequest) (map[string]any, error) {
	tools := make([]map[string]any, 0, len(req.Tools))
	for _, tool := range req.Tools {
		tools = append(tools, map[string]any{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": tool.Schema,
		})
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": req.MaxTokens,
		"messages":   a.convertTurns(req.Messages),
	}

	if req.System != "" {
		body["system"] = req.System
	}

	if len(tools) > 0 {
		body["tools"] = tools
	}

	if req.ForceTool != "" {
		body["tool_choice"] = map[string]any{"type": "tool", "name": req.ForceTool}
	}

	return body, nil
}

// convertTurns maps neutral turns onto wire messages. The protocol requires
// alternating roles, so consecutive same-role turns merge into one message
// with multiple content blocks. Conversion is total: a turn with no known
// shape degrades to a text block.
func (a *anthropicAdapter) convertTurns(turns []Turn) []map[string]any {
	messages := make([]map[string]any, 0, len(turns))

	push := func(role string, block map[string]any) {
		if n := len(messages); n > 0 && messages[n-1]["role"] == role {
			blocks := messages[n-1]["content"].([]map[string]any)
			messages[n-1]["content"] = append(blocks, block)
			return
		}
		messages = append(messages, map[string]any{
			"role":    role,
			"content": []map[string]any{block},
		})
	}

	for _, turn := range turns {
		switch {
		case turn.Role == RoleAssistant && turn.ToolCall != nil:
			push("assistant", map[string]any{
				"type":  "tool_use",
				"id":    turn.ToolCall.ID,
				"name":  turn.ToolCall.Name,
				"input": turn.ToolCall.Input,
			})
		case turn.ToolResult != nil:
			// Tool results round-trip as user-side content blocks.
			push("user", map[string]any{
				"type":        "tool_result",
				"tool_use_id": turn.ToolResult.ID,
				"content":     turn.ToolResult.Content,
			})
		case turn.Role == RoleAssistant:
			push("assistant", map[string]any{"type": "text", "text": turn.Text})
		default:
			push("user", map[string]any{"type": "text", "text": turn.Text})
		}
	}

	return messages
}

type anthropicResponse struct {
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text,omitempty"`
		ID    string         `json:"id,omitempty"`
		Name  string         `json:"name,omitempty"`
		Input map[string]any `json:"input,omitempty"`
	} `json:"content"`
}

func (a *anthropicAdapter) parseToolResponse(body []byte) (*ToolCall, error) {
	var resp anthropicResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			return &ToolCall{ID: block.ID, Name: block.Name, Input: block.Input}, nil
		}
	}

	return nil, nil
}

type anthropicModels struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

func (a *anthropicAdapter) parseModels(body []byte) ([]Model, error) {
	var resp anthropicModels
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	models := make([]Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		models = append(models, Model{ID: m.ID, Name: name})
	}

	return models, nil
}
