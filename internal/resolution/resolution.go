// Package resolution picks a decision from deterministic option scores,
// gates it through human-in-the-loop rules, drafts the customer email
// via the model, guards the output, and executes the resulting tool
// actions.
package resolution

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/recourse/internal/complaint"
	"github.com/dativo-io/recourse/internal/guard"
	"github.com/dativo-io/recourse/internal/hitl"
	"github.com/dativo-io/recourse/internal/llm"
	recourseotel "github.com/dativo-io/recourse/internal/otel"
	"github.com/dativo-io/recourse/internal/scoring"
	"github.com/dativo-io/recourse/internal/tools"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/resolution")

const systemPrompt = "You are a customer support resolution strategist and email writer for fashion retail complaints. " +
	"Return strict JSON only with keys: rationale, resolution_confidence, response_subject, response_body. " +
	"response_body must be in the requested language (FR or EN), concise, empathetic, and action-oriented. " +
	"Never include internal scores, policy IDs, raw tool JSON, or internal routing terms."

const defaultRationale = "Decision selected using complaint context, policy constraints, and risk controls."

// VoucherParams control the goodwill voucher computation. The taper
// reduces the voucher for customers already compensated recently.
type VoucherParams struct {
	Rate           float64 // fraction of the order total
	Min            float64
	Max            float64
	TaperThreshold float64 // 90-day compensation total at/above which the taper applies
	TaperFactor    float64
	Floor          float64
}

// DefaultVoucherParams mirror the shipped configuration defaults.
func DefaultVoucherParams() VoucherParams {
	return VoucherParams{
		Rate:           0.18,
		Min:            10.0,
		Max:            60.0,
		TaperThreshold: 50.0,
		TaperFactor:    0.75,
		Floor:          5.0,
	}
}

// Value computes the voucher amount for an order total given the
// customer's recent compensation history.
func (p VoucherParams) Value(orderTotal, ninetyDayCompensation float64) float64 {
	value := orderTotal * p.Rate
	if value < p.Min {
		value = p.Min
	}
	if value > p.Max {
		value = p.Max
	}
	if ninetyDayCompensation >= p.TaperThreshold {
		value *= p.TaperFactor
	}
	if value < p.Floor {
		value = p.Floor
	}
	return complaint.Round2(value)
}

// Agent runs the resolution stage.
type Agent struct {
	provider   llm.Provider
	model      string
	registry   *tools.Registry
	thresholds hitl.Thresholds
	voucher    VoucherParams
}

// New creates a resolution agent.
func New(provider llm.Provider, model string, registry *tools.Registry, th hitl.Thresholds, vp VoucherParams) *Agent {
	return &Agent{
		provider:   provider,
		model:      model,
		registry:   registry,
		thresholds: th,
		voucher:    vp,
	}
}

// Run decides, drafts, guards, and acts. A model failure is fatal: no
// silent deterministic-only resolution is allowed.
func (a *Agent) Run(ctx context.Context, rec *complaint.CaseRecord) error {
	ctx, span := tracer.Start(ctx, "resolution.run",
		trace.WithAttributes(attribute.String("case_id", rec.Input.CaseID)))
	defer span.End()

	rec.RecordEvent("RESOLUTION_STARTED")
	if rec.Triage == nil {
		return fmt.Errorf("%w: triage output is required before resolution", complaint.ErrInvalidState)
	}
	if rec.Context == nil {
		return fmt.Errorf("%w: context output is required before resolution", complaint.ErrInvalidState)
	}

	scores := scoring.Score(scoring.InputsFrom(rec.Triage, rec.Context))
	proposed := scoring.PickBest(scores)
	strategyConfidence := scoring.Confidence(scores[proposed], rec.Triage.Confidence, rec.Context.Confidence)

	hitlRequired, hitlReasons := hitl.Evaluate(hitl.Inputs{
		ProposedDecision:      proposed,
		CombinedConfidence:    strategyConfidence,
		RiskFlags:             rec.Triage.RiskFlags,
		OrderTotal:            rec.Context.Order.OrderTotal,
		RecentEscalations:     rec.Context.CaseHistory.RecentEscalations,
		RepeatClaimSuspected:  rec.Context.CaseHistory.RepeatClaimSuspected,
		NinetyDayCompensation: rec.Context.Customer.NinetyDayCompensation,
		PolicyText:            strings.Join(rec.Context.PolicyConstraints, " "),
	}, a.thresholds)
	hitlReason := strings.Join(hitlReasons, "; ")

	decision := proposed
	if hitlRequired {
		decision = complaint.DecisionEscalate
	}
	rec.RecordEvent("RESOLUTION_DECISION_" + string(decision))
	if hitlRequired {
		rec.RecordEvent("RESOLUTION_HITL_REQUIRED")
	}
	span.SetAttributes(
		attribute.String("resolution.decision", string(decision)),
		attribute.Bool("resolution.hitl_required", hitlRequired),
	)

	payload := buildModelPayload(rec, decision, hitlRequired, hitlReason, scores, strategyConfidence)
	rec.RecordEvent("RESOLUTION_MISTRAL_ATTEMPTED")
	out, err := llm.RequestJSONObject(ctx, a.provider, a.model, systemPrompt, payload)
	if err != nil {
		return fmt.Errorf("resolution model call: %w", err)
	}
	rec.RecordEvent("RESOLUTION_MISTRAL_USED")

	rationale := llm.FieldString(out, "rationale")
	if rationale == "" {
		rationale = defaultRationale
	}
	modelConfidence, err := llm.FieldFloat(out, "resolution_confidence")
	if err != nil {
		return fmt.Errorf("resolution model output: %w", err)
	}
	resolutionConfidence := complaint.Round2((strategyConfidence + complaint.ClampConfidence(modelConfidence)) / 2.0)

	subject := llm.FieldString(out, "response_subject")
	body := llm.FieldString(out, "response_body")
	if subject == "" || body == "" {
		fallbackSubject, fallbackBody := fallbackEmail(rec.Triage.ResponseLanguage, rec.Input.CaseID, hitlReason)
		if subject == "" {
			subject = fallbackSubject
		}
		if body == "" {
			body = fallbackBody
		}
	}

	guardResult := guard.Apply(ctx, subject, body, rec.RecordEvent)
	rec.OutputGuardPassed = guardResult.Passed

	if guardResult.Passed {
		subject = guardResult.SanitizedSubject
		body = guardResult.SanitizedBody
	} else {
		decision = complaint.DecisionEscalate
		hitlRequired = true
		if !containsReason(hitlReasons, hitl.ReasonOutputGuardFallback) {
			hitlReasons = append(hitlReasons, hitl.ReasonOutputGuardFallback)
		}
		hitlReason = strings.Join(hitlReasons, "; ")
		subject, body = fallbackEmail(rec.Triage.ResponseLanguage, rec.Input.CaseID, hitlReason)
		rationale += " Output guard fallback forced escalation to manual review."
		rec.RecordEvent("RESOLUTION_GUARD_FALLBACK_TEMPLATE_USED")
	}

	// Escalation always puts a human in the loop, even when no rule fired.
	if decision == complaint.DecisionEscalate && !hitlRequired {
		hitlRequired = true
	}
	if decision == complaint.DecisionEscalate && hitlReason == "" {
		hitlReason = hitl.ReasonManualEscalation
	}

	actions, err := a.executeActions(ctx, rec, decision, hitlReason)
	if err != nil {
		return fmt.Errorf("executing resolution actions: %w", err)
	}

	rec.Resolution = &complaint.ResolutionOutcome{
		Decision:        decision,
		Rationale:       rationale,
		HITLRequired:    hitlRequired,
		HITLReason:      hitlReason,
		ToolActions:     actions,
		ResponseSubject: subject,
		ResponseBody:    body,
		Confidence:      resolutionConfidence,
	}
	rec.State = complaint.StateResolved
	rec.RecordEvent("RESOLUTION_COMPLETED")
	return nil
}

func buildModelPayload(
	rec *complaint.CaseRecord,
	decision complaint.Decision,
	hitlRequired bool,
	hitlReason string,
	scores map[complaint.Decision]float64,
	strategyConfidence float64,
) map[string]any {
	scoreTable := make(map[string]float64, len(scores))
	for d, s := range scores {
		scoreTable[string(d)] = s
	}
	constraints := rec.Context.PolicyConstraints
	if len(constraints) > 8 {
		constraints = constraints[:8]
	}
	return map[string]any{
		"task":          "resolution_and_email",
		"decision":      string(decision),
		"hitl_required": hitlRequired,
		"hitl_reason":   hitlReason,
		"response_language": string(rec.Triage.ResponseLanguage),
		"case_summary": map[string]any{
			"case_id":        rec.Input.CaseID,
			"complaint_type": rec.Triage.ComplaintType,
			"urgency":        string(rec.Triage.Urgency),
			"sentiment":      string(rec.Triage.Sentiment),
			"order_status":   rec.Context.Order.Status,
			"order_total":    rec.Context.Order.OrderTotal,
		},
		"policy_constraints":  constraints,
		"option_scores":       scoreTable,
		"strategy_confidence": strategyConfidence,
	}
}

func (a *Agent) executeActions(
	ctx context.Context,
	rec *complaint.CaseRecord,
	decision complaint.Decision,
	hitlReason string,
) ([]complaint.ToolActionRecord, error) {
	orderTotal := rec.Context.Order.OrderTotal
	currency := strings.ToUpper(strings.TrimSpace(rec.Context.Order.Currency))
	if currency == "" {
		currency = "EUR"
	}

	switch decision {
	case complaint.DecisionRefund:
		amount := complaint.Round2(orderTotal)
		if amount < 0 {
			amount = 0
		}
		result, err := a.registry.Call(ctx, "issue_refund", tools.RoleResolution, map[string]any{
			"order_id": rec.Input.OrderID,
			"amount":   amount,
			"currency": currency,
		})
		if err != nil {
			return nil, fmt.Errorf("issuing refund: %w", err)
		}
		return []complaint.ToolActionRecord{{
			ToolName:    "issue_refund",
			Status:      resultString(result, "status"),
			ReferenceID: resultString(result, "refund_id"),
			ConfirmationMessage: fmt.Sprintf("Refund issued for order %s (%v %s).",
				rec.Input.OrderID, amount, currency),
			ActionValue:    &amount,
			ActionCurrency: &currency,
		}}, nil

	case complaint.DecisionVoucher:
		value := a.voucher.Value(orderTotal, rec.Context.Customer.NinetyDayCompensation)
		result, err := a.registry.Call(ctx, "create_compensation", tools.RoleResolution, map[string]any{
			"case_id":  rec.Input.CaseID,
			"type":     "VOUCHER",
			"value":    value,
			"currency": currency,
		})
		if err != nil {
			return nil, fmt.Errorf("creating compensation: %w", err)
		}
		return []complaint.ToolActionRecord{{
			ToolName:            "create_compensation",
			Status:              resultString(result, "status"),
			ReferenceID:         resultString(result, "compensation_id"),
			ConfirmationMessage: fmt.Sprintf("Voucher created for %v %s.", value, currency),
			ActionValue:         &value,
			ActionCurrency:      &currency,
		}}, nil

	case complaint.DecisionExchange, complaint.DecisionEscalate:
		priority := "MEDIUM"
		if rec.Triage.Urgency == complaint.UrgencyHigh || rec.Triage.Urgency == complaint.UrgencyCritical {
			priority = string(rec.Triage.Urgency)
		}
		result, err := a.registry.Call(ctx, "create_support_ticket", tools.RoleResolution, map[string]any{
			"case_payload": ticketPayload(rec, decision, hitlReason),
			"priority":     priority,
		})
		if err != nil {
			return nil, fmt.Errorf("creating support ticket: %w", err)
		}
		return []complaint.ToolActionRecord{{
			ToolName:            "create_support_ticket",
			Status:              resultString(result, "status"),
			ReferenceID:         resultString(result, "ticket_id"),
			ConfirmationMessage: fmt.Sprintf("Support ticket opened in queue %s.", resultString(result, "queue")),
		}}, nil
	}

	// INFO_ONLY performs no side effects.
	return nil, nil
}

func ticketPayload(rec *complaint.CaseRecord, decision complaint.Decision, hitlReason string) map[string]any {
	flags := make([]string, 0, len(rec.Triage.RiskFlags))
	for _, f := range rec.Triage.RiskFlags {
		flags = append(flags, string(f))
	}
	return map[string]any{
		"case_id":     rec.Input.CaseID,
		"customer_id": rec.Input.CustomerID,
		"order_id":    rec.Input.OrderID,
		"decision":    string(decision),
		"urgency":     string(rec.Triage.Urgency),
		"risk_flags":  flags,
		"hitl_reason": hitlReason,
	}
}

func resultString(result map[string]any, key string) string {
	v, ok := result[key]
	if !ok || v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%v", v)
}

func containsReason(reasons []string, reason string) bool {
	for _, r := range reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// fallbackEmail returns the safe customer template in the response
// language. Used when the model omits the draft or the guard rejects it.
func fallbackEmail(language complaint.Language, caseID, hitlReason string) (subject, body string) {
	if language == complaint.LanguageFR {
		subject = fmt.Sprintf("Mise a jour de votre dossier %s", caseID)
		body = "Bonjour,\n\n" +
			"Merci pour votre message. Votre demande a ete transmise a un specialiste pour revue prioritaire.\n" +
			"Nous reviendrons vers vous rapidement avec une resolution claire.\n\n" +
			"Cordialement,\nSupport Client"
	} else {
		subject = fmt.Sprintf("Update on your case %s", caseID)
		body = "Hello,\n\n" +
			"Thank you for your message. Your request has been sent to a specialist for priority review.\n" +
			"We will follow up shortly with a clear resolution.\n\n" +
			"Best regards,\nCustomer Support"
	}
	if hitlReason != "" {
		body += "\n\nReference: manual review required."
	}
	return subject, body
}
