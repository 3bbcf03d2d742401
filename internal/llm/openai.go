package llm

import "encoding/json"

// openaiAdapter speaks the stateless function-calling protocol: the full
// conversation history is re-derived from the neutral model on every request.
type openaiAdapter struct{}

func (o *openaiAdapter) kind() Kind             { return KindOpenAI }
func (o *openaiAdapter) defaultBaseURL() string { return "https://api.openai.com" }
func (o *openaiAdapter) chatPath() string       { return "/v1/chat/completions" }
func (o *openaiAdapter) modelsPath() string     { return "/v1/models" }

func (o *openaiAdapter) authHeaders(key string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + key,
	}
}

func (o *openaiAdapter) formatRequest(req *ToolRequest) (map[string]any, error) {
	messages := make([]map[string]any, 0, len(req.Messages)+1)

	// The system prompt becomes the first message in this protocol.
	if req.System != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": req.System,
		})
	}

	for _, turn := range req.Messages {
		msg, err := o.convertTurn(turn)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	tools := make([]map[string]any, 0, len(req.Tools))
	for _, tool := range req.Tools {
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Schema,
			},
		})
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": req.MaxTokens,
		"messages":   messages,
	}

	if len(tools) > 0 {
		body["tools"] = tools
	}

	if req.ForceTool != "" {
		body["tool_choice"] = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": req.ForceTool},
		}
		// Reasoning output and forced tool choice are mutually incompatible;
		// the flag is on by default for some backends, so turn it off
		// explicitly whenever we force a tool.
		body["thinking"] = map[string]any{"type": "disabled"}
	}

	return body, nil
}

// convertTurn maps one neutral turn to a wire message. Conversion is total:
// an unrecognized shape passes through as plain text rather than failing the
// request.
func (o *openaiAdapter) convertTurn(turn Turn) (map[string]any, error) {
	switch {
	case turn.Role == RoleAssistant && turn.ToolCall != nil:
		args, err := json.Marshal(turn.ToolCall.Input)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"role":    "assistant",
			"content": "",
			"tool_calls": []map[string]any{{
				"id":   turn.ToolCall.ID,
				"type": "function",
				"function": map[string]any{
					"name":      turn.ToolCall.Name,
					"arguments": string(args),
				},
			}},
		}, nil
	case turn.ToolResult != nil:
		return map[string]any{
			"role":         "tool",
			"tool_call_id": turn.ToolResult.ID,
			"content":      turn.ToolResult.Content,
		}, nil
	case turn.Role == RoleAssistant:
		return map[string]any{"role": "assistant", "content": turn.Text}, nil
	default:
		return map[string]any{"role": "user", "content": turn.Text}, nil
	}
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *openaiAdapter) parseToolResponse(body []byte) (*ToolCall, error) {
	var resp openaiResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, nil
	}

	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return nil, nil
	}

	call := calls[0]

	// Arguments arrive as a JSON-encoded string in this protocol.
	input := make(map[string]any)
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			return nil, err
		}
	}

	return &ToolCall{ID: call.ID, Name: call.Function.Name, Input: input}, nil
}

type openaiModels struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (o *openaiAdapter) parseModels(body []byte) ([]Model, error) {
	var resp openaiModels
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	models := make([]Model, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, Model{ID: m.ID, Name: m.ID})
	}

	return models, nil
}
