package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"chat-translator/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for chat completions.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	staticKey   string
	getter      Getter
	paramPrefix string

	initOnce sync.Once
	api      *goopenai.Client
	initErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey uses a fixed API key instead of the parameter store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.staticKey = strings.TrimSpace(key)
	}
}

// WithParamStore fetches the API key from <prefix>/open-ai-token on first
// use.
func WithParamStore(ps Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = ps
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

// NewClient creates a Client. Exactly one key source is required: a fixed
// key via WithAPIKey or a parameter store via WithParamStore. A parameter
// store key is fetched on the first call to Chat or Preload and reused for
// the lifetime of the process.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.staticKey != "" && c.getter != nil:
		return nil, errors.New("openai: configure either an API key or a parameter store, not both")
	case c.staticKey != "":
	case c.getter != nil:
		if c.paramPrefix == "" {
			return nil, errors.New("openai: parameter prefix must not be empty")
		}
	default:
		return nil, errors.New("openai: an API key or a parameter store getter is required")
	}
	return c, nil
}

// Preload resolves the API key eagerly so configuration problems surface
// at startup instead of on the first message.
func (c *Client) Preload(ctx context.Context) error {
	_, err := c.resolveAPI(ctx)
	return err
}

// resolveAPI builds the underlying client on the first call and returns the
// cached result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPI(ctx context.Context) (*goopenai.Client, error) {
	c.initOnce.Do(func() {
		key := c.staticKey
		if key == "" {
			key, c.initErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
			if c.initErr != nil {
				return
			}
		}
		cfg := goopenai.DefaultConfig(key)
		cfg.BaseURL = apiBaseURL(c.baseURL)
		cfg.HTTPClient = c.resolvedHTTPClient()
		c.api = goopenai.NewClientWithConfig(cfg)
	})
	return c.api, c.initErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// apiBaseURL normalizes a configured base URL to the versioned API root the
// SDK appends endpoint paths to.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Chat sends one chat completion request and returns the first choice's
// content.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (string, error) {
	if req.Model == "" {
		return "", errors.New("openai: model must not be empty")
	}

	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    string(t.Role),
			Content: t.Content,
		})
	}
	body := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONObject {
		body.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := api.CreateChatCompletion(ctx, body)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", c.statusError(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response: %w", domain.ErrEmptyCompletion)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai: blank message content: %w", domain.ErrEmptyCompletion)
	}
	return content, nil
}

// statusError converts SDK errors that carry an HTTP status into
// HTTPStatusError so callers can classify them without importing the SDK.
func (c *Client) statusError(err error) error {
	url := apiBaseURL(c.baseURL) + "/chat/completions"

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, URL: url, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, URL: url, Body: body}
	}
	return err
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
