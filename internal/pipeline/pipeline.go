// Package pipeline runs a case through the full workflow: ingest,
// triage, context enrichment (or the immediate-escalation stub),
// resolution, and finalize with memory and audit persistence.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/recourse/internal/audit"
	"github.com/dativo-io/recourse/internal/complaint"
	"github.com/dativo-io/recourse/internal/enrich"
	"github.com/dativo-io/recourse/internal/memory"
	recourseotel "github.com/dativo-io/recourse/internal/otel"
	"github.com/dativo-io/recourse/internal/redact"
	"github.com/dativo-io/recourse/internal/resolution"
	"github.com/dativo-io/recourse/internal/triage"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/pipeline")

// Pipeline wires the stage agents to the memory and audit stores. The
// stores may be nil: the pipeline still runs, it just records that
// persistence was skipped.
type Pipeline struct {
	triage     *triage.Agent
	enrich     *enrich.Agent
	resolution *resolution.Agent
	memory     *memory.Store
	audit      *audit.Store
}

// New assembles a pipeline from its stages and optional stores.
func New(t *triage.Agent, e *enrich.Agent, r *resolution.Agent, mem *memory.Store, aud *audit.Store) *Pipeline {
	return &Pipeline{
		triage:     t,
		enrich:     e,
		resolution: r,
		memory:     mem,
		audit:      aud,
	}
}

// Run drives a case record from INGESTED to FINALIZED.
func (p *Pipeline) Run(ctx context.Context, rec *complaint.CaseRecord) error {
	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("case_id", rec.Input.CaseID)))
	defer span.End()

	preferredLanguage := p.ingest(ctx, rec)

	if err := p.triage.Run(ctx, rec, preferredLanguage); err != nil {
		span.RecordError(err)
		return err
	}

	if rec.Triage.Route == complaint.RouteEscalateImmediate {
		rec.RecordEvent("GRAPH_ROUTE_ESCALATE_IMMEDIATE")
		rec.Context = p.escalationContextStub(ctx, rec)
		rec.State = complaint.StateContextStubbed
		rec.RecordEvent("GRAPH_ESCALATE_IMMEDIATE_CONTEXT_STUBBED")
	} else {
		rec.RecordEvent("GRAPH_ROUTE_NEED_CONTEXT")
		if err := p.enrich.Run(ctx, rec); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if err := p.resolution.Run(ctx, rec); err != nil {
		span.RecordError(err)
		return err
	}

	if err := p.finalize(ctx, rec); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.String("pipeline.decision", string(rec.Resolution.Decision)),
		attribute.String("pipeline.status", string(rec.Finalize.Status)),
	)
	return nil
}

// ingest redacts the inbound email and reads the memory language hint.
func (p *Pipeline) ingest(ctx context.Context, rec *complaint.CaseRecord) string {
	rec.RecordEvent("INGEST_STARTED")
	if rec.RedactedEmailBody == "" {
		redacted, kinds := redact.Redact(ctx, rec.Input.EmailBody)
		rec.RedactedEmailBody = redacted
		redact.RecordEvents(rec.RecordEvent, kinds)
	}

	preferred := p.preferredLanguage(ctx, rec.Input.CustomerID)
	if preferred != "" {
		rec.RecordEvent("INGEST_MEMORY_PREFERRED_LANGUAGE_FOUND")
	} else {
		rec.RecordEvent("INGEST_MEMORY_PREFERRED_LANGUAGE_MISSING")
	}
	rec.RecordEvent("INGEST_COMPLETED")
	return preferred
}

func (p *Pipeline) preferredLanguage(ctx context.Context, customerID string) string {
	if p.memory == nil {
		return ""
	}
	lang, err := p.memory.PreferredLanguage(ctx, customerID)
	if err != nil {
		log.Warn().Err(err).Str("customer_id", customerID).Msg("reading preferred language from memory")
		return ""
	}
	return lang
}

func (p *Pipeline) compensationTotal(ctx context.Context, customerID string) float64 {
	if p.memory == nil {
		return 0
	}
	total, err := p.memory.NinetyDayCompensationTotal(ctx, customerID)
	if err != nil {
		log.Warn().Err(err).Str("customer_id", customerID).Msg("reading compensation total from memory")
		return 0
	}
	return total
}

// escalationContextStub builds the minimal context for cases that skip
// enrichment and go straight to escalation. Only the compensation total
// comes from memory; everything else is an explicit unknown.
func (p *Pipeline) escalationContextStub(ctx context.Context, rec *complaint.CaseRecord) *complaint.ContextSignals {
	return &complaint.ContextSignals{
		Customer: complaint.CustomerContext{
			CustomerID:            rec.Input.CustomerID,
			PreferredLanguage:     string(rec.Triage.ResponseLanguage),
			LoyaltyTier:           "UNKNOWN",
			NinetyDayCompensation: p.compensationTotal(ctx, rec.Input.CustomerID),
		},
		Order: complaint.OrderContext{
			OrderID:  rec.Input.OrderID,
			Currency: "EUR",
			Status:   "UNKNOWN",
		},
		CaseHistory: complaint.CaseHistorySummary{
			CustomerID: rec.Input.CustomerID,
		},
		PolicyConstraints: []string{
			"Immediate legal/public-risk cases require specialist human review before any compensation action.",
		},
		Confidence: 0.5,
	}
}

func resolveCaseStatus(res *complaint.ResolutionOutcome) complaint.CaseStatus {
	if res.Decision == complaint.DecisionEscalate {
		return complaint.StatusEscalated
	}
	if res.HITLRequired {
		return complaint.StatusPendingHITL
	}
	return complaint.StatusResolved
}

func extractActionAmount(res *complaint.ResolutionOutcome, toolName string) (value float64, currency string) {
	for _, action := range res.ToolActions {
		if action.ToolName != toolName {
			continue
		}
		if action.ActionCurrency != nil {
			currency = *action.ActionCurrency
		}
		if action.ActionValue == nil {
			return 0, currency
		}
		return complaint.Round2(*action.ActionValue), currency
	}
	return 0, ""
}

func structuredSummary(rec *complaint.CaseRecord, status complaint.CaseStatus, compensationValue float64) map[string]any {
	actions := make([]map[string]any, 0, len(rec.Resolution.ToolActions))
	for _, action := range rec.Resolution.ToolActions {
		actions = append(actions, map[string]any{
			"tool_name":    action.ToolName,
			"status":       action.Status,
			"reference_id": action.ReferenceID,
		})
	}
	var sourceIDs []string
	if rec.Context != nil {
		sourceIDs = rec.Context.PolicySourceIDs
	}
	return map[string]any{
		"case_id":             rec.Input.CaseID,
		"customer_id":         rec.Input.CustomerID,
		"complaint_type":      rec.Triage.ComplaintType,
		"sentiment":           string(rec.Triage.Sentiment),
		"urgency":             string(rec.Triage.Urgency),
		"response_language":   string(rec.Triage.ResponseLanguage),
		"decision":            string(rec.Resolution.Decision),
		"status":              string(status),
		"hitl_required":       rec.Resolution.HITLRequired,
		"hitl_reason":         rec.Resolution.HITLReason,
		"compensation_value":  compensationValue,
		"output_guard_passed": rec.OutputGuardPassed,
		"policy_source_ids":   sourceIDs,
		"tool_actions":        actions,
	}
}

// finalize resolves the case status, persists memory and audit records,
// and attaches the finalize summary.
func (p *Pipeline) finalize(ctx context.Context, rec *complaint.CaseRecord) error {
	if rec.Triage == nil {
		return fmt.Errorf("%w: triage output is required before finalize", complaint.ErrInvalidState)
	}
	if rec.Resolution == nil {
		return fmt.Errorf("%w: resolution output is required before finalize", complaint.ErrInvalidState)
	}

	rec.RecordEvent("FINALIZE_STARTED")
	status := resolveCaseStatus(rec.Resolution)

	var compensationValue float64
	var actionCurrency string
	switch rec.Resolution.Decision {
	case complaint.DecisionRefund:
		compensationValue, actionCurrency = extractActionAmount(rec.Resolution, "issue_refund")
	case complaint.DecisionVoucher:
		compensationValue, actionCurrency = extractActionAmount(rec.Resolution, "create_compensation")
	}
	currency := "EUR"
	if actionCurrency != "" {
		currency = actionCurrency
	}

	caseSummary := fmt.Sprintf("Case %s: %s -> %s (%s)",
		rec.Input.CaseID, rec.Triage.ComplaintType, rec.Resolution.Decision, status)
	summaryPayload := structuredSummary(rec, status, compensationValue)

	if p.memory != nil {
		cm := &memory.CaseMemory{
			CaseID:               rec.Input.CaseID,
			CustomerID:           rec.Input.CustomerID,
			ComplaintType:        rec.Triage.ComplaintType,
			Decision:             string(rec.Resolution.Decision),
			Status:               string(status),
			HITLRequired:         rec.Resolution.HITLRequired,
			CompensationValue:    compensationValue,
			CompensationCurrency: currency,
			CaseSummary:          caseSummary,
			Attributes: map[string]any{
				"response_language":   string(rec.Triage.ResponseLanguage),
				"output_guard_passed": rec.OutputGuardPassed,
			},
		}
		if err := p.memory.RecordCase(ctx, cm); err != nil {
			return fmt.Errorf("recording case memory: %w", err)
		}
		if err := p.memory.SetPreferredLanguage(ctx, rec.Input.CustomerID, string(rec.Triage.ResponseLanguage)); err != nil {
			return fmt.Errorf("updating preferred language: %w", err)
		}
		rec.RecordEvent("FINALIZE_MEMORY_UPDATED")
	} else {
		rec.RecordEvent("FINALIZE_MEMORY_SKIPPED")
	}

	if p.audit != nil {
		record := &audit.CaseAudit{
			CaseID:        rec.Input.CaseID,
			CustomerID:    rec.Input.CustomerID,
			Timestamp:     time.Now().UTC(),
			ComplaintType: rec.Triage.ComplaintType,
			Decision:      string(rec.Resolution.Decision),
			Status:        string(status),
			HITLRequired:  rec.Resolution.HITLRequired,
			HITLReason:    rec.Resolution.HITLReason,
			Events:        rec.SecurityEvents,
			Detail:        summaryPayload,
		}
		if err := p.audit.Record(ctx, record); err != nil {
			return fmt.Errorf("recording case audit: %w", err)
		}
		rec.RecordEvent("FINALIZE_AUDIT_RECORDED")
	}

	rec.Finalize = &complaint.FinalizeSummary{
		Status: status,
		MemoryUpdates: map[string]any{
			"decision":            string(rec.Resolution.Decision),
			"status":              string(status),
			"compensation_value":  compensationValue,
			"preferred_language":  string(rec.Triage.ResponseLanguage),
			"output_guard_passed": rec.OutputGuardPassed,
		},
		CaseSummary: caseSummary,
	}
	rec.State = complaint.StateFinalized
	rec.RecordEvent("FINALIZE_COMPLETED")
	return nil
}
