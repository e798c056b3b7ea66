// Package guard screens customer-facing email drafts for leaked internal
// details (scores, policy identifiers, raw retrieval excerpts, tool JSON)
// before anything is sent or persisted.
package guard

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	recourseotel "github.com/dativo-io/recourse/internal/otel"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/guard")

// Violation identifies a category of internal leakage.
type Violation string

const (
	ViolationInternalScores    Violation = "INTERNAL_SCORES"
	ViolationInternalPolicyIDs Violation = "INTERNAL_POLICY_IDS"
	ViolationRawRAGExcerpt     Violation = "RAW_RAG_EXCERPT"
	ViolationToolJSONBlob      Violation = "TOOL_JSON_BLOB"
)

type violationPattern struct {
	violation Violation
	pattern   *regexp.Regexp
}

// violationPatterns are evaluated in a fixed order so violation lists are
// deterministic across runs.
var violationPatterns = []violationPattern{
	{ViolationInternalScores, regexp.MustCompile(`(?i)\b(score|confidence|triage_confidence|context_confidence|resolution_confidence)\b`)},
	{ViolationInternalPolicyIDs, regexp.MustCompile(`(?i)\b(doc_id|policy_id|policy_type)\b`)},
	{ViolationRawRAGExcerpt, regexp.MustCompile(`(?i)\b(rag_snippet|source_path|chunk_index)\b`)},
	{ViolationToolJSONBlob, regexp.MustCompile(`\{[^{}]{0,600}:[^{}]{0,600}\}`)},
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	blankLineRun  = regexp.MustCompile(`\n{3,}`)
)

// Result holds the guard verdict for one email draft.
type Result struct {
	Passed           bool
	Violations       []Violation
	SanitizedSubject string
	SanitizedBody    string
}

// EventRecorder receives security events as the guard progresses. A nil
// recorder is valid and discards events.
type EventRecorder func(event string)

func record(rec EventRecorder, event string) {
	if rec != nil {
		rec(event)
	}
}

// Evaluate checks subject and body against every violation pattern without
// modifying them.
func Evaluate(subject, body string) Result {
	combined := subject + "\n" + body
	var violations []Violation
	for _, vp := range violationPatterns {
		if vp.pattern.MatchString(combined) {
			violations = append(violations, vp.violation)
		}
	}
	return Result{
		Passed:           len(violations) == 0,
		Violations:       violations,
		SanitizedSubject: subject,
		SanitizedBody:    body,
	}
}

// Sanitize strips violating content. Subjects get in-place substring
// replacement ("[REDACTED_INTERNAL]") plus whitespace collapse; bodies
// drop every violating line whole, then collapse runs of blank lines.
func Sanitize(subject, body string) (cleanSubject, cleanBody string) {
	cleanSubject = subject
	for _, vp := range violationPatterns {
		cleanSubject = vp.pattern.ReplaceAllString(cleanSubject, "[REDACTED_INTERNAL]")
	}
	cleanSubject = strings.TrimSpace(whitespaceRun.ReplaceAllString(cleanSubject, " "))

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		violating := false
		for _, vp := range violationPatterns {
			if vp.pattern.MatchString(line) {
				violating = true
				break
			}
		}
		if !violating {
			kept = append(kept, line)
		}
	}
	cleanBody = strings.TrimSpace(strings.Join(kept, "\n"))
	cleanBody = blankLineRun.ReplaceAllString(cleanBody, "\n\n")
	return cleanSubject, cleanBody
}

// Apply runs the evaluate → sanitize → re-evaluate sequence. On a clean
// first pass it returns immediately. When sanitization repairs the draft,
// the result reports Passed with the ORIGINAL violations retained so the
// audit trail shows what was caught. When sanitization cannot repair the
// draft, or repairs it down to an empty subject or body, Passed is false
// and the caller must fall back to a safe template.
func Apply(ctx context.Context, subject, body string, rec EventRecorder) Result {
	_, span := tracer.Start(ctx, "guard.apply")
	defer span.End()

	initial := Evaluate(subject, body)
	if initial.Passed {
		record(rec, "OUTPUT_GUARD_PASSED")
		span.SetAttributes(attribute.Bool("guard.passed", true))
		return initial
	}

	record(rec, "OUTPUT_GUARD_FAILED")
	for _, v := range initial.Violations {
		record(rec, "OUTPUT_GUARD_"+string(v))
	}

	cleanSubject, cleanBody := Sanitize(subject, body)
	after := Evaluate(cleanSubject, cleanBody)
	if after.Passed && cleanSubject != "" && cleanBody != "" {
		record(rec, "OUTPUT_GUARD_SANITIZED")
		record(rec, "OUTPUT_GUARD_PASSED")
		span.SetAttributes(
			attribute.Bool("guard.passed", true),
			attribute.Bool("guard.sanitized", true),
		)
		return Result{
			Passed:           true,
			Violations:       initial.Violations,
			SanitizedSubject: cleanSubject,
			SanitizedBody:    cleanBody,
		}
	}

	// Sanitization either left violations behind or emptied the draft.
	// An email with no subject or no body is not sendable either way.
	violations := after.Violations
	if len(violations) == 0 {
		violations = initial.Violations
	}
	record(rec, "OUTPUT_GUARD_FALLBACK_REQUIRED")
	span.SetAttributes(attribute.Bool("guard.passed", false))
	return Result{
		Passed:           false,
		Violations:       violations,
		SanitizedSubject: cleanSubject,
		SanitizedBody:    cleanBody,
	}
}
