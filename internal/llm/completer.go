// Package llm provides the completion service used by the research pipeline
// stages.
//
// A Completer takes a system prompt, a user prompt and optional server-side
// tool declarations and returns the model's text. Providers talk to the
// Anthropic Messages API or the OpenAI Chat Completions API over net/http and
// retry transient failures. RateLimitedCompleter and InstrumentedCompleter
// wrap any Completer.
//
// Example usage:
//
//	c, err := llm.NewCompleter(llm.FactoryConfig{Provider: "anthropic", ...})
//	resp, err := c.Complete(ctx, llm.CompletionRequest{
//		System: systemPrompt,
//		Prompt: userPrompt,
//		Tools:  []llm.Tool{llm.WebSearchTool},
//	})
package llm

import (
	"context"
	"strings"
)

// Tool declares a provider-executed tool the model may call while composing
// its answer.
type Tool struct {
	// Type is the provider tool type, e.g. "web_search_20250305".
	Type string
	// Name is the tool name exposed to the model.
	Name string
	// MaxUses caps the number of calls within one completion (0 = provider default).
	MaxUses int
}

// WebSearchTool lets the model search the web for evidence.
var WebSearchTool = Tool{
	Type:    "web_search_20250305",
	Name:    "web_search",
	MaxUses: 5,
}

// Message is one earlier turn of a conversation.
type Message struct {
	// Role is "user" or "assistant".
	Role    string
	Content string
}

// CompletionRequest is a completion request. History holds earlier turns of
// a conversation, oldest first; Prompt is the new user turn.
type CompletionRequest struct {
	System  string
	History []Message
	Prompt  string

	// MaxTokens overrides the provider's configured limit when positive.
	MaxTokens int

	Tools []Tool
}

// CompletionResponse is the model's answer.
type CompletionResponse struct {
	// Text is the concatenation of every text block of the answer.
	Text         string
	Model        string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Completer defines the interface for completion providers.
//
// Implementations must be safe for concurrent use.
type Completer interface {
	// Complete runs one completion. ctx bounds the whole call including retries.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Provider returns the name of the provider (e.g., "anthropic", "openai").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

func hasTool(tools []Tool, name string) bool {
	for _, t := range tools {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}
