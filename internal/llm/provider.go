// Package llm is the single boundary to the external language model. Every
// stage goes through the Provider interface; there is exactly one production
// implementation (Mistral) and tests inject fakes.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall is the default wall-clock budget for one model call.
const TimeoutLLMCall = 60 * time.Second

// ErrProviderCall marks a fatal external-call failure: network error,
// timeout, or a response envelope the client cannot parse. Callers never
// fall back to heuristics on this error; the case run aborts.
var ErrProviderCall = errors.New("llm provider call failed")

// Provider is the interface to the language model.
type Provider interface {
	// Name returns the provider identifier (e.g. "mistral").
	Name() string
	// Complete sends a chat completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONObject requests a JSON-object response format. Stage agents
	// always set this: free text is never accepted from the model.
	JSONObject bool
}

// Message represents a chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response represents a chat completion response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
