package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSONObject parses a JSON object from raw model output. It tries
// the whole string first, then falls back to the outermost brace span for
// models that wrap JSON in prose or code fences. Returns ErrProviderCall
// when no object can be recovered: a model that cannot produce JSON is a
// broken provider, not a data condition.
func ExtractJSONObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty model output", ErrProviderCall)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}

	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("%w: model output contains no JSON object", ErrProviderCall)
	}
	if err := json.Unmarshal([]byte(match), &obj); err != nil {
		return nil, fmt.Errorf("%w: model output is not a valid JSON object: %v", ErrProviderCall, err)
	}
	return obj, nil
}

// RequestJSONObject sends a system prompt plus a JSON-encoded payload and
// returns the decoded JSON object from the model. Temperature is pinned to
// zero: stage outputs must be as deterministic as the API allows.
func RequestJSONObject(ctx context.Context, p Provider, model, systemPrompt string, payload any) (map[string]any, error) {
	userContent, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding model payload: %w", err)
	}

	resp, err := p.Complete(ctx, &Request{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userContent)},
		},
		Temperature: 0,
		JSONObject:  true,
	})
	if err != nil {
		return nil, err
	}
	return ExtractJSONObject(resp.Content)
}

// FieldString returns obj[key] as a trimmed string; missing keys yield "".
func FieldString(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

// FieldFloat returns obj[key] as a float64. Non-numeric values are an
// error so stages can fail fast on malformed model output.
func FieldFloat(obj map[string]any, key string) (float64, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %s in model output", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid %s in model output: %v", key, v)
		}
		return f, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err != nil {
			return 0, fmt.Errorf("invalid %s in model output: %v", key, v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid %s in model output: %v", key, v)
	}
}

// FieldStrings returns obj[key] as a string slice, skipping nil entries.
func FieldStrings(obj map[string]any, key string) []string {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if item == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", item))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
