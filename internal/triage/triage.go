// Package triage classifies a redacted complaint email into structured
// signals and routes the case toward enrichment or immediate escalation.
package triage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/recourse/internal/complaint"
	"github.com/dativo-io/recourse/internal/llm"
	recourseotel "github.com/dativo-io/recourse/internal/otel"
	"github.com/dativo-io/recourse/internal/redact"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/triage")

const systemPrompt = "You are a complaint triage classifier. " +
	"Return strict JSON only with keys: complaint_type, sentiment, urgency, risk_flags, triage_plan, triage_confidence. " +
	"Allowed sentiment: NEGATIVE, NEUTRAL, POSITIVE. " +
	"Allowed urgency: LOW, MEDIUM, HIGH, CRITICAL. " +
	"Allowed risk flags: LEGAL_THREAT, PUBLIC_EXPOSURE, REPEAT_CLAIM, HIGH_AMOUNT_RISK."

// Agent runs model-backed triage. The model is required; there is no
// heuristic fallback.
type Agent struct {
	provider llm.Provider
	model    string
}

// New creates a triage agent.
func New(provider llm.Provider, model string) *Agent {
	return &Agent{provider: provider, model: model}
}

// Run redacts the email when not already done, detects the response
// language, classifies the complaint, and stores the result on the
// case record.
func (a *Agent) Run(ctx context.Context, rec *complaint.CaseRecord, preferredLanguage string) error {
	ctx, span := tracer.Start(ctx, "triage.run",
		trace.WithAttributes(attribute.String("case_id", rec.Input.CaseID)))
	defer span.End()

	rec.RecordEvent("TRIAGE_STARTED")

	if rec.RedactedEmailBody == "" {
		redacted, kinds := redact.Redact(ctx, rec.Input.EmailBody)
		rec.RedactedEmailBody = redacted
		redact.RecordEvents(rec.RecordEvent, kinds)
	}
	text := rec.RedactedEmailBody

	var detected complaint.Language
	if letterTokenCount(text) >= 3 {
		detected = DetectLanguage(text, complaint.LanguageEN)
	}
	responseLanguage := ChooseResponseLanguage(detected, preferredLanguage, rec.RecordEvent)
	if detected == "" {
		detected = responseLanguage
	}

	rec.RecordEvent("TRIAGE_MISTRAL_ATTEMPTED")
	payload := map[string]any{
		"task":                 "triage_email",
		"redacted_email_body":  text,
		"response_format_note": "strict JSON object only",
	}
	output, err := llm.RequestJSONObject(ctx, a.provider, a.model, systemPrompt, payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("triage model call: %w", err)
	}
	rec.RecordEvent("TRIAGE_MISTRAL_USED")

	signals, err := parseTriageOutput(output)
	if err != nil {
		span.RecordError(err)
		return err
	}
	signals.DetectedLanguage = detected
	signals.ResponseLanguage = responseLanguage

	rec.Triage = signals
	rec.State = complaint.StateClassified

	for _, flag := range signals.RiskFlags {
		rec.RecordEvent("TRIAGE_RISK_" + string(flag))
	}
	rec.RecordEvent("TRIAGE_ROUTE_" + string(signals.Route))
	rec.RecordEvent("TRIAGE_COMPLETED")

	span.SetAttributes(
		attribute.String("triage.complaint_type", signals.ComplaintType),
		attribute.String("triage.route", string(signals.Route)),
		attribute.Float64("triage.confidence", signals.Confidence),
	)
	return nil
}

func parseTriageOutput(output map[string]any) (*complaint.TriageSignals, error) {
	complaintType, err := complaint.CanonicalComplaintType(llm.FieldString(output, "complaint_type"))
	if err != nil {
		return nil, fmt.Errorf("triage output complaint_type: %w", err)
	}
	sentiment, err := complaint.ParseSentiment(llm.FieldString(output, "sentiment"))
	if err != nil {
		return nil, fmt.Errorf("triage output: %w", err)
	}
	urgency, err := complaint.ParseUrgency(llm.FieldString(output, "urgency"))
	if err != nil {
		return nil, fmt.Errorf("triage output: %w", err)
	}
	riskFlags := parseRiskFlags(llm.FieldStrings(output, "risk_flags"))

	plan := llm.FieldString(output, "triage_plan")
	if plan == "" {
		return nil, fmt.Errorf("triage output must include triage_plan")
	}
	rawConfidence, err := llm.FieldFloat(output, "triage_confidence")
	if err != nil {
		return nil, fmt.Errorf("triage output triage_confidence: %w", err)
	}

	return &complaint.TriageSignals{
		ComplaintType: complaintType,
		Sentiment:     sentiment,
		Urgency:       urgency,
		RiskFlags:     riskFlags,
		TriagePlan:    plan,
		Route:         routeForRiskFlags(riskFlags),
		Confidence:    complaint.ClampConfidence(rawConfidence),
	}, nil
}

// parseRiskFlags drops unknown flags with a warning and de-duplicates.
func parseRiskFlags(raw []string) []complaint.RiskFlag {
	var flags []complaint.RiskFlag
	seen := map[complaint.RiskFlag]struct{}{}
	for _, item := range raw {
		flag, err := complaint.ParseRiskFlag(item)
		if err != nil {
			log.Warn().Str("risk_flag", item).Msg("ignoring unknown risk flag from model output")
			continue
		}
		if _, dup := seen[flag]; dup {
			continue
		}
		seen[flag] = struct{}{}
		flags = append(flags, flag)
	}
	return flags
}

func routeForRiskFlags(flags []complaint.RiskFlag) complaint.Route {
	for _, f := range flags {
		if f == complaint.RiskLegalThreat || f == complaint.RiskPublicExposure {
			return complaint.RouteEscalateImmediate
		}
	}
	return complaint.RouteNeedContext
}
