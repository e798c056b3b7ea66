package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMistralTestServer(t *testing.T, handler http.HandlerFunc) *MistralProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	config := openai.DefaultConfig("test-api-key")
	config.BaseURL = ts.URL + "/v1"
	client := openai.NewClientWithConfig(config)
	return newMistralProviderWithClient(client, 5*time.Second)
}

func TestMistralComplete_Success(t *testing.T) {
	provider := newMistralTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral-small-latest", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)

		resp := openai.ChatCompletionResponse{
			ID:    "cmpl-1",
			Model: "mistral-small-latest",
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Role: "assistant", Content: `{"ok": true}`},
					FinishReason: openai.FinishReasonStop,
				},
			},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 4},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	resp, err := provider.Complete(context.Background(), &Request{
		Model:      "mistral-small-latest",
		Messages:   []Message{{Role: "user", Content: "hi"}},
		JSONObject: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, resp.Content)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)
}

func TestMistralComplete_APIErrorWrapsProviderCall(t *testing.T) {
	provider := newMistralTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid key", "type": "invalid_request_error"},
		})
	})

	_, err := provider.Complete(context.Background(), &Request{
		Model:    "mistral-small-latest",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderCall)
}

func TestMistralComplete_NoChoices(t *testing.T) {
	provider := newMistralTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{ID: "cmpl-2", Model: "mistral-small-latest"})
	})

	_, err := provider.Complete(context.Background(), &Request{
		Model:    "mistral-small-latest",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderCall)
}

func TestMistralName(t *testing.T) {
	p := NewMistralProvider("k", "https://api.mistral.ai/v1", 0)
	assert.Equal(t, "mistral", p.Name())
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantErr bool
	}{
		{"bare object", `{"decision": "REFUND"}`, "decision", false},
		{"fenced object", "Here you go:\n```json\n{\"decision\": \"REFUND\"}\n```", "decision", false},
		{"prose wrapped", `The answer is {"decision": "REFUND"} as requested.`, "decision", false},
		{"empty", "", "", true},
		{"no object", "plain text only", "", true},
		{"array not object", `[1, 2, 3]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ExtractJSONObject(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrProviderCall)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, obj, tt.wantKey)
		})
	}
}

func TestFieldHelpers(t *testing.T) {
	obj := map[string]any{
		"rationale":  "  looks fine  ",
		"confidence": 0.82,
		"as_string":  "0.5",
		"flags":      []any{"A", " B ", nil, ""},
		"bad":        map[string]any{},
	}

	assert.Equal(t, "looks fine", FieldString(obj, "rationale"))
	assert.Equal(t, "", FieldString(obj, "missing"))

	f, err := FieldFloat(obj, "confidence")
	require.NoError(t, err)
	assert.Equal(t, 0.82, f)

	f, err = FieldFloat(obj, "as_string")
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	_, err = FieldFloat(obj, "missing")
	assert.Error(t, err)
	_, err = FieldFloat(obj, "bad")
	assert.Error(t, err)

	assert.Equal(t, []string{"A", "B"}, FieldStrings(obj, "flags"))
	assert.Nil(t, FieldStrings(obj, "missing"))
}
