package guard

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_CleanDraftPasses(t *testing.T) {
	res := Evaluate("Update on your case CASE-1", "Hello,\n\nYour refund has been issued.\n\nBest regards")
	assert.True(t, res.Passed)
	assert.Empty(t, res.Violations)
}

func TestEvaluate_DetectsEachViolationKind(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Violation
	}{
		{"internal scores", "Our confidence is high.", ViolationInternalScores},
		{"internal score keyword", "The score was 92.", ViolationInternalScores},
		{"policy ids", "Per policy_id REF-12 you qualify.", ViolationInternalPolicyIDs},
		{"rag excerpt", "See rag_snippet for details.", ViolationRawRAGExcerpt},
		{"tool json blob", `Result: {"status": "ISSUED"}`, ViolationToolJSONBlob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate("Subject", tt.body)
			require.False(t, res.Passed)
			assert.Contains(t, res.Violations, tt.want)
		})
	}
}

func TestEvaluate_ViolationOrderDeterministic(t *testing.T) {
	body := `doc_id X, rag_snippet Y, confidence 0.9, {"a": 1}`
	res := Evaluate("s", body)
	assert.Equal(t, []Violation{
		ViolationInternalScores,
		ViolationInternalPolicyIDs,
		ViolationRawRAGExcerpt,
		ViolationToolJSONBlob,
	}, res.Violations)
}

func TestSanitize_SubjectRedactsInPlace(t *testing.T) {
	subject, _ := Sanitize("Your confidence   report", "")
	assert.Equal(t, "Your [REDACTED_INTERNAL] report", subject)
}

func TestSanitize_BodyDropsWholeLines(t *testing.T) {
	body := strings.Join([]string{
		"Hello,",
		"",
		"Internal doc_id POL-1 says yes.",
		"Your refund is on its way.",
		"",
		"",
		"",
		"Best regards",
	}, "\n")
	_, clean := Sanitize("ok", body)
	assert.NotContains(t, clean, "doc_id")
	assert.Contains(t, clean, "Your refund is on its way.")
	assert.NotContains(t, clean, "\n\n\n", "blank line runs must collapse")
}

func TestApply_PassRecordsSingleEvent(t *testing.T) {
	var events []string
	res := Apply(context.Background(), "Update", "All good.", func(e string) { events = append(events, e) })
	assert.True(t, res.Passed)
	assert.Equal(t, []string{"OUTPUT_GUARD_PASSED"}, events)
}

func TestApply_SanitizeRepairsAndKeepsOriginalViolations(t *testing.T) {
	var events []string
	body := "Hello,\nInternal confidence 0.91 noted.\nYour refund is on its way.\nBest regards"
	res := Apply(context.Background(), "Update", body, func(e string) { events = append(events, e) })

	require.True(t, res.Passed)
	assert.Equal(t, []Violation{ViolationInternalScores}, res.Violations,
		"original violations must survive a successful sanitize")
	assert.NotContains(t, res.SanitizedBody, "confidence")
	assert.Equal(t, []string{
		"OUTPUT_GUARD_FAILED",
		"OUTPUT_GUARD_INTERNAL_SCORES",
		"OUTPUT_GUARD_SANITIZED",
		"OUTPUT_GUARD_PASSED",
	}, events)
}

func TestApply_BodyEmptiedBySanitizeForcesFallback(t *testing.T) {
	var events []string
	res := Apply(context.Background(), "Update", "{x: y}\n{p: q}", func(e string) { events = append(events, e) })
	// Every body line violates, so sanitization drops them all. An empty
	// body is not sendable, so the draft must fall back to the template.
	require.False(t, res.Passed)
	assert.Empty(t, res.SanitizedBody)
	assert.Equal(t, []Violation{ViolationToolJSONBlob}, res.Violations)
	assert.Contains(t, events, "OUTPUT_GUARD_FALLBACK_REQUIRED")
	assert.NotContains(t, events, "OUTPUT_GUARD_SANITIZED")
}

func TestApply_InternalOnlyBodyForcesFallback(t *testing.T) {
	var events []string
	res := Apply(context.Background(), "Update on your case",
		"score=0.91 doc_id=REFUND_POLICY_FR", func(e string) { events = append(events, e) })

	require.False(t, res.Passed)
	assert.Empty(t, res.SanitizedBody)
	assert.Contains(t, res.Violations, ViolationInternalScores)
	assert.Contains(t, res.Violations, ViolationInternalPolicyIDs)
	assert.Contains(t, events, "OUTPUT_GUARD_FALLBACK_REQUIRED")
}

func TestApply_UnrepairableSubjectForcesFallback(t *testing.T) {
	var events []string
	// Nested braces: substituting the inner blob leaves an outer pair that
	// itself matches on re-evaluation, so sanitization cannot repair it.
	res := Apply(context.Background(), "{a:{b:c}}", "All good.", func(e string) { events = append(events, e) })

	require.False(t, res.Passed)
	assert.Contains(t, res.Violations, ViolationToolJSONBlob)
	assert.Contains(t, events, "OUTPUT_GUARD_FALLBACK_REQUIRED")
}

func TestApply_NilRecorderIsSafe(t *testing.T) {
	res := Apply(context.Background(), "Update", "All good.", nil)
	assert.True(t, res.Passed)
}

func TestApply_Idempotent(t *testing.T) {
	body := "Hello,\ndoc_id POL-9 applies.\nYour exchange is approved.\n"
	first := Apply(context.Background(), "Update", body, nil)
	require.True(t, first.Passed)
	second := Apply(context.Background(), first.SanitizedSubject, first.SanitizedBody, nil)
	assert.True(t, second.Passed)
	assert.Equal(t, first.SanitizedBody, second.SanitizedBody)
}
