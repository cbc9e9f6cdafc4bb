package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// anthropicAPIVersion is the Anthropic API version header value.
	anthropicAPIVersion = "2023-06-01"

	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 8192
)

// messagesRequest is the request body for the Anthropic Messages API.
type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicTool is a server tool declaration such as web_search.
type anthropicTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

// contentBlock is one block of the response. Server tool blocks
// (server_tool_use, web_search_tool_result) carry no text and are skipped.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicAPIErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicErrorResponse struct {
	Type  string                  `json:"type"`
	Error anthropicAPIErrorDetail `json:"error"`
}

// AnthropicProvider implements Completer using the Anthropic Messages API.
type AnthropicProvider struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
}

// AnthropicConfig holds the parameters needed to create an Anthropic provider.
// It mirrors config.ProviderConfig without importing the config package.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewAnthropicProvider creates a new AnthropicProvider. timeout bounds one
// HTTP exchange; maxRetries controls how many times transient errors are
// retried.
func NewAnthropicProvider(cfg AnthropicConfig, opts ProviderOptions) *AnthropicProvider {
	opts = opts.withDefaults()
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicProvider{
		httpClient:  newHTTPClient(opts.Timeout),
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
	}
}

// Complete sends the request to the Messages API.
//
// Transient HTTP errors (status 429 and 5xx) are retried up to maxRetries
// times with exponential backoff. Context cancellation is respected between
// retries.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	apiReq := messagesRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    req.System,
		Messages:    make([]anthropicMessage, 0, len(req.History)+1),
		Temperature: p.temperature,
	}
	for _, m := range req.History {
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: "user", Content: req.Prompt})
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, anthropicTool{Type: t.Type, Name: t.Name, MaxUses: t.MaxUses})
	}

	var resp *messagesResponse
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("anthropic: context cancelled during retry: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, lastErr = p.sendRequest(ctx, apiReq)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("anthropic: %w", ctx.Err())
		}
		if !isTransientError(lastErr) {
			return nil, lastErr
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("anthropic: all %d retries exhausted: %w", p.maxRetries, lastErr)
	}

	return p.parseResponse(resp)
}

// Provider returns the provider name.
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Model returns the model identifier being used.
func (p *AnthropicProvider) Model() string {
	return p.model
}

func (p *AnthropicProvider) sendRequest(ctx context.Context, apiReq messagesRequest) (*messagesResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{
			Provider: "anthropic",
			Message:  fmt.Sprintf("request failed: %v", err),
			Type:     "network_error",
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{
			Provider: "anthropic",
			Message:  fmt.Sprintf("failed to read response body: %v", err),
			Type:     "network_error",
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAnthropicAPIError(httpResp.StatusCode, respBody)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// parseResponse joins the text blocks of the answer. Text interleaved with
// web search results arrives as several blocks.
func (p *AnthropicProvider) parseResponse(resp *messagesResponse) (*CompletionResponse, error) {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("anthropic: response contains no text content blocks")
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &CompletionResponse{
		Text:         sb.String(),
		Model:        model,
		StopReason:   resp.StopReason,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

func parseAnthropicAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   "anthropic",
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
	}

	return apiErr
}
