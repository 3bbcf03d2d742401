package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sievelabs/sift/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries   = 2
	defaultMaxLogLength = 200
	defaultRequestRate  = 1.0 // requests per second
	initialBackoff      = 2 * time.Second
)

// StatusError reports a non-200 provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d: %s", e.Code, e.Body)
}

// Config holds wire-level client settings for one provider.
type Config struct {
	APIKey string
	// BaseURL overrides the provider default. Tests point it at a local server.
	BaseURL      string
	MaxRetries   int
	MaxLogLength int
	// RequestsPerSecond paces outbound calls; zero means the default.
	RequestsPerSecond float64
}

// Client performs HTTP round trips for one wire adapter. It is safe for the
// single logical thread of control the pipeline runs on.
type Client struct {
	adapter    adapter
	apiKey     string
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	maxLogLen  int
	backoff    time.Duration

	HTTPClient *http.Client
	BaseURL    string
}

// NewClient builds a Client for the given provider kind. Only the two wire
// protocols are handled here; the gemini variant has its own SDK-backed
// Caller.
func NewClient(k Kind, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}

	ad, err := newAdapter(k)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ad.defaultBaseURL()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestRate
	}

	return &Client{
		adapter:    ad,
		apiKey:     cfg.APIKey,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries: maxRetries,
		maxLogLen:  maxLogLen,
		backoff:    initialBackoff,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// SendTool posts a forced-tool chat request and returns the parsed tool call,
// or nil when the model produced no tool invocation. Transport failures and
// retryable statuses are retried with backoff; the final error is returned to
// the engine, which applies its fail-open default.
func (c *Client) SendTool(ctx context.Context, req *ToolRequest) (*ToolCall, error) {
	body, err := c.adapter.formatRequest(req)
	if err != nil {
		return nil, fmt.Errorf("format request: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("sending tool request",
		zap.String("tool", req.ForceTool),
		zap.String("model", req.Model),
		zap.Int("turns", len(req.Messages)),
		zap.String("payload_preview", utils.TruncateForLog(string(payload), c.maxLogLen)),
	)

	data, err := c.doWithRetries(ctx, http.MethodPost, c.BaseURL+c.adapter.chatPath(), payload)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("got tool response",
		zap.String("tool", req.ForceTool),
		zap.String("response_preview", utils.TruncateForLog(string(data), c.maxLogLen)),
	)

	return c.adapter.parseToolResponse(data)
}

// Models fetches the provider's selectable models.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	data, err := c.doWithRetries(ctx, http.MethodGet, c.BaseURL+c.adapter.modelsPath(), nil)
	if err != nil {
		return nil, err
	}

	return c.adapter.parseModels(data)
}

func (c *Client) doWithRetries(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			if err := utils.WaitFor(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		data, err := c.do(ctx, method, url, payload)
		if err == nil {
			return data, nil
		}

		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	c.setHeaders(req)

	c.logger.Debug("make request", zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Code: resp.StatusCode,
			Body: utils.TruncateForLog(string(data), c.maxLogLen),
		}
	}

	return data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	for key, value := range c.adapter.authHeaders(c.apiKey) {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}

	// Network-level failures are worth one more try.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
