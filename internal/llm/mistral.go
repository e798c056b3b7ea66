package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/llm")

// MistralProvider talks to the Mistral chat-completions API. Mistral's API
// is OpenAI-compatible, so the client is go-openai pointed at the Mistral
// base URL.
type MistralProvider struct {
	client  *openai.Client
	timeout time.Duration
}

// NewMistralProvider creates a Mistral provider. baseURL is the full API
// root including /v1 (e.g. "https://api.mistral.ai/v1"). A non-positive
// timeout falls back to TimeoutLLMCall.
func NewMistralProvider(apiKey, baseURL string, timeout time.Duration) *MistralProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = TimeoutLLMCall
	}
	return &MistralProvider{client: openai.NewClientWithConfig(config), timeout: timeout}
}

// newMistralProviderWithClient injects a pre-configured client. Used in
// tests with httptest servers.
func newMistralProviderWithClient(client *openai.Client, timeout time.Duration) *MistralProvider {
	if timeout <= 0 {
		timeout = TimeoutLLMCall
	}
	return &MistralProvider{client: client, timeout: timeout}
}

// Name returns the provider identifier.
func (p *MistralProvider) Name() string {
	return "mistral"
}

// Complete sends a chat completion request. Every failure mode wraps
// ErrProviderCall so callers can treat the whole class as fatal.
func (p *MistralProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "llm.complete",
		trace.WithAttributes(
			attribute.String("llm.provider", p.Name()),
			attribute.String("llm.request.model", req.Model),
			attribute.Float64("llm.request.temperature", req.Temperature),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONObject {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	callsAdd(ctx, p.Name(), req.Model)
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		callErrorsAdd(ctx, p.Name(), req.Model)
		return nil, fmt.Errorf("%w: mistral api call: %v", ErrProviderCall, err)
	}

	if len(resp.Choices) == 0 {
		callErrorsAdd(ctx, p.Name(), req.Model)
		return nil, fmt.Errorf("%w: mistral api call: no choices returned", ErrProviderCall)
	}

	span.SetAttributes(
		attribute.Int("llm.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.output_tokens", resp.Usage.CompletionTokens),
		attribute.String("llm.response.finish_reason", string(resp.Choices[0].FinishReason)),
	)

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Model:        resp.Model,
	}, nil
}
