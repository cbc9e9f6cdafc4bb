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
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenAIMaxTokens = 8192
)

// chatRequest represents the OpenAI Chat Completions API request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	// WebSearchOptions enables built-in search on search-capable models.
	WebSearchOptions *webSearchOptions `json:"web_search_options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webSearchOptions struct {
	SearchContextSize string `json:"search_context_size,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIProvider implements Completer using the OpenAI Chat Completions API.
type OpenAIProvider struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
}

// OpenAIConfig holds the parameters needed to create an OpenAI provider.
type OpenAIConfig struct {
	APIKey string
	Model  string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
}

// NewOpenAIProvider creates a new OpenAI completion provider.
func NewOpenAIProvider(cfg OpenAIConfig, opts ProviderOptions) *OpenAIProvider {
	opts = opts.withDefaults()
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}

	return &OpenAIProvider{
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

// Complete sends the request to the Chat Completions API. Transient errors
// (5xx and 429) are retried up to maxRetries times with linear backoff.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	chatReq := chatRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		chatReq.Messages = append(chatReq.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	chatReq.Messages = append(chatReq.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if hasTool(req.Tools, WebSearchTool.Name) {
		chatReq.WebSearchOptions = &webSearchOptions{SearchContextSize: "medium"}
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("openai: context cancelled during retry wait: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := p.doRequest(ctx, chatReq)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("openai: %w", ctx.Err())
		}
		if !isTransientError(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("openai: exhausted %d retries: %w", p.maxRetries, lastErr)
}

// Provider returns the name of the provider.
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Model returns the model identifier being used.
func (p *OpenAIProvider) Model() string {
	return p.model
}

func (p *OpenAIProvider) doRequest(ctx context.Context, chatReq chatRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{
			Provider: "openai",
			Message:  fmt.Sprintf("request failed: %v", err),
			Type:     "network_error",
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{
			Provider: "openai",
			Message:  fmt.Sprintf("failed to read response body: %v", err),
			Type:     "network_error",
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("openai: failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}
	choice := chatResp.Choices[0]
	if choice.Message.Content == "" {
		return nil, fmt.Errorf("openai: empty message content (finish_reason %q)", choice.FinishReason)
	}

	model := chatResp.Model
	if model == "" {
		model = p.model
	}
	return &CompletionResponse{
		Text:         choice.Message.Content,
		Model:        model,
		StopReason:   choice.FinishReason,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

func parseOpenAIAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		Provider:   "openai",
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
	}

	return apiErr
}
