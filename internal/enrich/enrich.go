// Package enrich assembles the context a resolution needs: minimized
// CRM/OMS views, case history, retrieved policy excerpts, and
// model-derived policy constraints.
package enrich

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/recourse/internal/complaint"
	"github.com/dativo-io/recourse/internal/llm"
	recourseotel "github.com/dativo-io/recourse/internal/otel"
	"github.com/dativo-io/recourse/internal/retrieval"
	"github.com/dativo-io/recourse/internal/tools"
)

var tracer = recourseotel.Tracer("github.com/dativo-io/recourse/internal/enrich")

// policyTypes are queried in order for every case.
var policyTypes = []string{"REFUND_POLICY", "COMPENSATION_POLICY", "TONE_GUIDANCE"}

const (
	systemPrompt = "You are a retail complaints context and policy analyst. " +
		"Return strict JSON only with keys: policy_constraints, context_confidence. " +
		"policy_constraints must be a list of concise policy/tone constraints for the resolver agent. " +
		"context_confidence must be a float between 0 and 1."

	maxConstraintChars = 180
	maxSnippetChars    = 220
	maxQueryChars      = 280
	maxPayloadPolicies = 8
	maxRAGSnippets     = 6
)

// Retriever serves sanitized policy snippets.
type Retriever interface {
	Retrieve(ctx context.Context, query, language, policyType string, topK int) ([]retrieval.Snippet, error)
}

// Agent runs context and policy enrichment.
type Agent struct {
	provider      llm.Provider
	model         string
	registry      *tools.Registry
	retriever     Retriever
	topKPerPolicy int
}

// New creates an enrichment agent querying two snippets per policy type.
func New(provider llm.Provider, model string, registry *tools.Registry, retriever Retriever) *Agent {
	return &Agent{
		provider:      provider,
		model:         model,
		registry:      registry,
		retriever:     retriever,
		topKPerPolicy: 2,
	}
}

type policyExcerpt struct {
	DocID      string `json:"doc_id"`
	PolicyType string `json:"policy_type"`
	Snippet    string `json:"snippet"`
}

// Run fetches the read tools, retrieves policy material, asks the model
// for constraints, and stores the context on the case record.
func (a *Agent) Run(ctx context.Context, rec *complaint.CaseRecord) error {
	ctx, span := tracer.Start(ctx, "enrich.run",
		trace.WithAttributes(attribute.String("case_id", rec.Input.CaseID)))
	defer span.End()

	rec.RecordEvent("CONTEXT_POLICY_STARTED")
	if rec.Triage == nil {
		return fmt.Errorf("%w: triage output is required before context enrichment", complaint.ErrInvalidState)
	}

	customerRaw, err := a.registry.Call(ctx, "get_customer_profile", tools.RoleContextEnrichment,
		map[string]any{"customer_id": rec.Input.CustomerID})
	if err != nil {
		return fmt.Errorf("fetching customer profile: %w", err)
	}
	orderRaw, err := a.registry.Call(ctx, "get_order_details", tools.RoleContextEnrichment,
		map[string]any{"order_id": rec.Input.OrderID})
	if err != nil {
		return fmt.Errorf("fetching order details: %w", err)
	}
	historyRaw, err := a.registry.Call(ctx, "get_case_history", tools.RoleContextEnrichment,
		map[string]any{"customer_id": rec.Input.CustomerID})
	if err != nil {
		return fmt.Errorf("fetching case history: %w", err)
	}
	rec.RecordEvent("CONTEXT_TOOLS_FETCHED")

	customer := sanitizeCustomerContext(customerRaw)
	order := sanitizeOrderContext(orderRaw)
	history := summarizeCaseHistory(historyRaw)
	rec.RecordEvent("CONTEXT_TOOL_PAYLOAD_MINIMIZED")

	query := buildRAGQuery(rec, customer, order)
	material, err := a.retrievePolicyMaterial(ctx, query, string(rec.Triage.ResponseLanguage))
	if err != nil {
		return fmt.Errorf("retrieving policy material: %w", err)
	}
	rec.RecordEvent("CONTEXT_RAG_RETRIEVED")

	payload := buildModelPayload(rec, customer, order, history, material)
	rec.RecordEvent("CONTEXT_MISTRAL_ATTEMPTED")
	output, err := llm.RequestJSONObject(ctx, a.provider, a.model, systemPrompt, payload)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("context policy model call: %w", err)
	}
	rec.RecordEvent("CONTEXT_MISTRAL_USED")

	constraints := coercePolicyConstraints(llm.FieldStrings(output, "policy_constraints"))
	if len(constraints) == 0 {
		constraints = fallbackPolicyConstraints(material)
	}
	rawConfidence, err := llm.FieldFloat(output, "context_confidence")
	if err != nil {
		return fmt.Errorf("context output context_confidence: %w", err)
	}

	var sourceIDs []string
	seenSource := map[string]struct{}{}
	for _, row := range material {
		if _, dup := seenSource[row.DocID]; dup {
			continue
		}
		seenSource[row.DocID] = struct{}{}
		sourceIDs = append(sourceIDs, row.DocID)
	}
	var snippets []string
	for _, row := range material {
		if len(snippets) >= maxRAGSnippets {
			break
		}
		snippets = append(snippets, row.Snippet)
	}

	rec.Context = &complaint.ContextSignals{
		Customer:          customer,
		Order:             order,
		CaseHistory:       history,
		PolicyConstraints: constraints,
		PolicySourceIDs:   sourceIDs,
		RAGSnippets:       snippets,
		Confidence:        complaint.ClampConfidence(rawConfidence),
	}
	rec.State = complaint.StateContextEnriched
	rec.RecordEvent("CONTEXT_POLICY_COMPLETED")

	span.SetAttributes(
		attribute.Int("enrich.policy_sources", len(sourceIDs)),
		attribute.Float64("enrich.confidence", rec.Context.Confidence),
	)
	return nil
}

func (a *Agent) retrievePolicyMaterial(ctx context.Context, query, language string) ([]policyExcerpt, error) {
	topK := a.topKPerPolicy
	if topK < 1 {
		topK = 1
	}

	var out []policyExcerpt
	seen := map[string]struct{}{}
	for _, policyType := range policyTypes {
		snippets, err := a.retriever.Retrieve(ctx, query, language, policyType, topK)
		if err != nil {
			return nil, err
		}
		for _, row := range snippets {
			docID := strings.TrimSpace(row.DocID)
			snippet := retrieval.SanitizeText(row.Snippet, maxSnippetChars)
			if docID == "" || snippet == "" {
				continue
			}
			key := docID + ":" + snippet
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, policyExcerpt{
				DocID:      docID,
				PolicyType: strings.ToUpper(row.PolicyType),
				Snippet:    snippet,
			})
		}
	}
	return out, nil
}

func buildRAGQuery(rec *complaint.CaseRecord, customer complaint.CustomerContext, order complaint.OrderContext) string {
	parts := []string{
		"complaint_type=" + rec.Triage.ComplaintType,
		"urgency=" + string(rec.Triage.Urgency),
		"order_status=" + order.Status,
		"order_total=" + strconv.FormatFloat(order.OrderTotal, 'f', -1, 64),
		"fraud_watch=" + strconv.FormatBool(customer.FraudWatch),
		rec.Input.EmailSubject,
	}
	return retrieval.SanitizeText(strings.Join(parts, " "), maxQueryChars)
}

func buildModelPayload(rec *complaint.CaseRecord, customer complaint.CustomerContext, order complaint.OrderContext, history complaint.CaseHistorySummary, material []policyExcerpt) map[string]any {
	flags := make([]string, 0, len(rec.Triage.RiskFlags))
	for _, f := range rec.Triage.RiskFlags {
		flags = append(flags, string(f))
	}
	if len(material) > maxPayloadPolicies {
		material = material[:maxPayloadPolicies]
	}
	return map[string]any{
		"task": "context_policy_analysis",
		"triage": map[string]any{
			"complaint_type":    rec.Triage.ComplaintType,
			"urgency":           string(rec.Triage.Urgency),
			"risk_flags":        flags,
			"response_language": string(rec.Triage.ResponseLanguage),
		},
		"customer_context":     customer,
		"order_context":        order,
		"case_history_summary": history,
		"retrieved_policies":   material,
	}
}

// coercePolicyConstraints sanitizes and de-duplicates model constraints.
func coercePolicyConstraints(raw []string) []string {
	var constraints []string
	for _, item := range raw {
		value := retrieval.SanitizeText(item, maxConstraintChars)
		if value == "" || contains(constraints, value) {
			continue
		}
		constraints = append(constraints, value)
	}
	return constraints
}

// fallbackPolicyConstraints derives constraints from the first sentence
// of each retrieved snippet when the model returns none.
func fallbackPolicyConstraints(material []policyExcerpt) []string {
	var constraints []string
	for _, row := range material {
		snippet := strings.TrimSpace(row.Snippet)
		if snippet == "" {
			continue
		}
		sentence := strings.TrimSpace(strings.SplitN(snippet, ".", 2)[0])
		if sentence == "" {
			continue
		}
		if !strings.HasSuffix(sentence, ".") && !strings.HasSuffix(sentence, "!") && !strings.HasSuffix(sentence, "?") {
			sentence += "."
		}
		if !contains(constraints, sentence) {
			constraints = append(constraints, sentence)
		}
		if len(constraints) >= 5 {
			break
		}
	}
	if len(constraints) == 0 {
		constraints = append(constraints, "Validate policy eligibility before making any compensation decision.")
	}
	return constraints
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func sanitizeCustomerContext(raw map[string]any) complaint.CustomerContext {
	return complaint.CustomerContext{
		CustomerID:            toString(raw["customer_id"]),
		PreferredLanguage:     strings.ToUpper(toString(raw["preferred_language"])),
		LoyaltyTier:           strings.ToUpper(toString(raw["loyalty_tier"])),
		AccountAgeDays:        toInt(raw["account_age_days"]),
		LifetimeOrders:        toInt(raw["lifetime_orders"]),
		NinetyDayCompensation: complaint.Round2(toFloat(raw["ninety_day_compensation_total"])),
		FraudWatch:            toBool(raw["fraud_watch"]),
	}
}

func sanitizeOrderContext(raw map[string]any) complaint.OrderContext {
	return complaint.OrderContext{
		OrderID:    toString(raw["order_id"]),
		Currency:   strings.ToUpper(toString(raw["currency"])),
		OrderTotal: complaint.Round2(toFloat(raw["order_total"])),
		ItemCount:  toInt(raw["item_count"]),
		Status:     strings.ToUpper(toString(raw["status"])),
	}
}

func summarizeCaseHistory(raw map[string]any) complaint.CaseHistorySummary {
	cases, _ := raw["cases"].([]map[string]any)
	if cases == nil {
		if anyCases, ok := raw["cases"].([]any); ok {
			for _, c := range anyCases {
				if m, ok := c.(map[string]any); ok {
					cases = append(cases, m)
				}
			}
		}
	}
	var latest map[string]any
	if len(cases) > 0 {
		latest = cases[0]
	}
	totalCases := len(cases)
	recentEscalations := toInt(raw["recent_escalations_count"])
	return complaint.CaseHistorySummary{
		CustomerID:           toString(raw["customer_id"]),
		TotalCases:           totalCases,
		OpenCaseCount:        toInt(raw["open_case_count"]),
		RecentEscalations:    recentEscalations,
		LatestCaseDecision:   strings.ToUpper(toString(latest["decision"])),
		LatestCaseStatus:     strings.ToUpper(toString(latest["status"])),
		RepeatClaimSuspected: totalCases >= 2 || recentEscalations > 0,
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}
