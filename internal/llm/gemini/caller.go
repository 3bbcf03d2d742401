package gemini

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sievelabs/sift/internal/llm"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 2
	retryBackoff      = 2 * time.Second
	// Quota errors asking for a longer delay than this are not worth waiting out.
	maxQuotaDelay = 30 * time.Second
)

var sleep = time.Sleep

// api abstracts the SDK surface the caller needs, so tests can stub it.
type api interface {
	generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	models(ctx context.Context) ([]llm.Model, error)
}

type sdk struct {
	client *genai.Client
}

func (s *sdk) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return s.client.Models.GenerateContent(ctx, model, contents, cfg)
}

func (s *sdk) models(ctx context.Context) ([]llm.Model, error) {
	var models []llm.Model
	for m, err := range s.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		name := m.DisplayName
		if name == "" {
			name = m.Name
		}
		models = append(models, llm.Model{ID: m.Name, Name: name})
	}
	return models, nil
}

// Caller implements llm.Caller over the Gemini API backend. It is the third
// provider variant; the two wire protocols live in the llm package.
type Caller struct {
	api        api
	model      string
	maxRetries int
	logger     *zap.Logger
}

// New creates a Caller configured for the Gemini API backend.
func New(ctx context.Context, apiKey, model string, maxRetries int, logger *zap.Logger) (*Caller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Caller{
		api:        &sdk{client: client},
		model:      model,
		maxRetries: maxRetries,
		logger:     logger,
	}, nil
}

// SendTool sends the conversation with forced function calling and returns
// the parsed function invocation, or nil when the model called nothing.
func (c *Caller) SendTool(ctx context.Context, req *llm.ToolRequest) (*llm.ToolCall, error) {
	model := req.Model
	if strings.TrimSpace(model) == "" {
		model = c.model
	}

	cfg := &genai.GenerateContentConfig{
		Tools: convertTools(req.Tools),
	}

	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	if req.ForceTool != "" {
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{req.ForceTool},
			},
		}
	}

	contents := convertTurns(req.Messages)

	var resp *genai.GenerateContentResponse
	var err error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err = c.api.generate(ctx, model, contents, cfg)
		if err == nil {
			break
		}

		delay, retry := retryDelay(err)
		if !retry || attempt == c.maxRetries {
			return nil, fmt.Errorf("generate content: %w", err)
		}

		c.logger.Debug("retrying gemini call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		sleep(delay)
	}

	return extractCall(resp), nil
}

// Models lists the selectable Gemini models.
func (c *Caller) Models(ctx context.Context) ([]llm.Model, error) {
	return c.api.models(ctx)
}

func extractCall(resp *genai.GenerateContentResponse) *llm.ToolCall {
	if resp == nil {
		return nil
	}

	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.FunctionCall == nil {
				continue
			}

			id := part.FunctionCall.ID
			if id == "" {
				// The Gemini API does not always assign call IDs; the
				// conversation pairing invariant needs one.
				id = uuid.NewString()
			}

			return &llm.ToolCall{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			}
		}
	}

	return nil
}

// convertTurns maps the neutral history to Gemini contents. Unknown turn
// shapes degrade to user text parts.
func convertTurns(turns []llm.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))

	for _, turn := range turns {
		switch {
		case turn.Role == llm.RoleAssistant && turn.ToolCall != nil:
			contents = append(contents, &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{
						ID:   turn.ToolCall.ID,
						Name: turn.ToolCall.Name,
						Args: turn.ToolCall.Input,
					},
				}},
			})
		case turn.ToolResult != nil:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       turn.ToolResult.ID,
						Name:     turn.ToolResult.Name,
						Response: map[string]any{"result": turn.ToolResult.Content},
					},
				}},
			})
		case turn.Role == llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: turn.Text}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: turn.Text}},
			})
		}
	}

	return contents
}

func convertTools(tools []llm.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema translates the registry's JSON-schema maps into the SDK's
// typed schema. It handles exactly the shapes the tool contracts produce.
func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{}

	switch schema["type"] {
	case "object":
		out.Type = genai.TypeObject
	case "boolean":
		out.Type = genai.TypeBoolean
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	}

	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}

	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				out.Properties[name] = convertSchema(subMap)
			}
		}
	}

	if required, ok := schema["required"].([]string); ok {
		out.Required = required
	}

	if enum, ok := schema["enum"].([]string); ok {
		out.Enum = enum
	}

	return out
}

var quotaDelayRe = regexp.MustCompile(`retry after (\d+)`)

// retryDelay classifies an SDK error: temporary server errors get a fixed
// backoff, quota errors wait the advertised delay unless it is too long.
func retryDelay(err error) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}

	switch apiErr.Code {
	case 500, 503:
		return retryBackoff, true
	case 429:
		if match := quotaDelayRe.FindStringSubmatch(strings.ToLower(apiErr.Message)); match != nil {
			seconds, convErr := strconv.Atoi(match[1])
			if convErr != nil {
				return retryBackoff, true
			}
			delay := time.Duration(seconds) * time.Second
			if delay > maxQuotaDelay {
				return 0, false
			}
			return delay, true
		}
		return retryBackoff, true
	}

	return 0, false
}
