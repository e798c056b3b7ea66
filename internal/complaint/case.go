package complaint

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvalidState marks a stage invoked before its upstream stage has
// produced the output it depends on.
var ErrInvalidState = errors.New("case record in invalid state")

// CaseInput is the raw inbound complaint as received from the channel.
type CaseInput struct {
	CaseID       string `json:"case_id"`
	CustomerID   string `json:"customer_id"`
	OrderID      string `json:"order_id"`
	EmailSubject string `json:"email_subject"`
	EmailBody    string `json:"email_body"`
	Channel      string `json:"channel"`
	ReceivedAt   string `json:"received_at"`
}

// Validate checks the fields every downstream stage depends on.
func (in CaseInput) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"case_id", in.CaseID},
		{"customer_id", in.CustomerID},
		{"order_id", in.OrderID},
		{"email_subject", in.EmailSubject},
		{"email_body", in.EmailBody},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("case input: %s must not be empty", f.name)
		}
	}
	return nil
}

// TriageSignals is the classification stage output.
type TriageSignals struct {
	ComplaintType    string     `json:"complaint_type"`
	Sentiment        Sentiment  `json:"sentiment"`
	Urgency          Urgency    `json:"urgency"`
	DetectedLanguage Language   `json:"detected_language"`
	ResponseLanguage Language   `json:"response_language"`
	RiskFlags        []RiskFlag `json:"risk_flags"`
	TriagePlan       string     `json:"triage_plan"`
	Route            Route      `json:"route_decision"`
	Confidence       float64    `json:"triage_confidence"`
}

// HasRiskFlag reports whether the given flag was raised during triage.
func (t *TriageSignals) HasRiskFlag(flag RiskFlag) bool {
	for _, f := range t.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// CustomerContext is the minimized CRM view exposed to decisioning.
// String fields are upper-cased and money is rounded to two decimals so
// downstream comparisons never depend on backend formatting.
type CustomerContext struct {
	CustomerID              string  `json:"customer_id"`
	PreferredLanguage       string  `json:"preferred_language"`
	LoyaltyTier             string  `json:"loyalty_tier"`
	AccountAgeDays          int     `json:"account_age_days"`
	LifetimeOrders          int     `json:"lifetime_orders"`
	NinetyDayCompensation   float64 `json:"ninety_day_compensation_total"`
	FraudWatch              bool    `json:"fraud_watch"`
}

// OrderContext is the minimized OMS view exposed to decisioning.
type OrderContext struct {
	OrderID    string  `json:"order_id"`
	Currency   string  `json:"currency"`
	OrderTotal float64 `json:"order_total"`
	ItemCount  int     `json:"item_count"`
	Status     string  `json:"status"`
}

// CaseHistorySummary aggregates prior cases for repetition analysis.
type CaseHistorySummary struct {
	CustomerID           string `json:"customer_id"`
	TotalCases           int    `json:"total_cases"`
	OpenCaseCount        int    `json:"open_case_count"`
	RecentEscalations    int    `json:"recent_escalations_count"`
	LatestCaseDecision   string `json:"latest_case_decision"`
	LatestCaseStatus     string `json:"latest_case_status"`
	RepeatClaimSuspected bool   `json:"repeat_claim_suspected"`
}

// ContextSignals is the enrichment stage output.
type ContextSignals struct {
	Customer          CustomerContext    `json:"customer_context"`
	Order             OrderContext       `json:"order_context"`
	CaseHistory       CaseHistorySummary `json:"case_history_summary"`
	PolicyConstraints []string           `json:"policy_constraints"`
	PolicySourceIDs   []string           `json:"policy_source_ids"`
	RAGSnippets       []string           `json:"rag_snippets"`
	Confidence        float64            `json:"context_confidence"`
}

// ToolActionRecord captures one side effect performed during resolution.
type ToolActionRecord struct {
	ToolName            string   `json:"tool_name"`
	Status              string   `json:"status"`
	ReferenceID         string   `json:"reference_id"`
	ConfirmationMessage string   `json:"confirmation_message"`
	ActionValue         *float64 `json:"action_value,omitempty"`
	ActionCurrency      *string  `json:"action_currency,omitempty"`
}

// ResolutionOutcome is the resolution stage output.
type ResolutionOutcome struct {
	Decision        Decision           `json:"decision"`
	Rationale       string             `json:"rationale"`
	HITLRequired    bool               `json:"hitl_required"`
	HITLReason      string             `json:"hitl_reason,omitempty"`
	ToolActions     []ToolActionRecord `json:"tool_actions"`
	ResponseSubject string             `json:"response_subject"`
	ResponseBody    string             `json:"response_body"`
	Confidence      float64            `json:"resolution_confidence"`
}

// FinalizeSummary is the terminal stage output.
type FinalizeSummary struct {
	Status        CaseStatus     `json:"status"`
	MemoryUpdates map[string]any `json:"memory_updates"`
	CaseSummary   string         `json:"case_summary"`
}

// CaseRecord carries a case through the pipeline. Each stage sets exactly
// one of the optional signal fields; SecurityEvents is append-only.
type CaseRecord struct {
	Input             CaseInput          `json:"input"`
	State             State              `json:"state"`
	Triage            *TriageSignals     `json:"triage,omitempty"`
	Context           *ContextSignals    `json:"context,omitempty"`
	Resolution        *ResolutionOutcome `json:"resolution,omitempty"`
	Finalize          *FinalizeSummary   `json:"finalize,omitempty"`
	RedactedEmailBody string             `json:"redacted_email_body"`
	SecurityEvents    []string           `json:"security_events"`
	OutputGuardPassed bool               `json:"output_guard_passed"`
}

// NewCaseRecord validates the input and returns a record in the INGESTED state.
func NewCaseRecord(in CaseInput) (*CaseRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &CaseRecord{Input: in, State: StateIngested}, nil
}

// RecordEvent appends a security/audit event and logs it with case context.
func (c *CaseRecord) RecordEvent(event string) {
	c.SecurityEvents = append(c.SecurityEvents, event)
	log.Debug().
		Str("case_id", c.Input.CaseID).
		Str("event", event).
		Msg("security event recorded")
}

// ClampConfidence clamps a model-supplied confidence into [0, 1] and
// rounds to two decimals.
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return Round2(v)
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ContainsAny reports whether text contains any of the options,
// case-insensitively. Used for policy-phrase matching.
func ContainsAny(text string, options ...string) bool {
	lowered := strings.ToLower(text)
	for _, opt := range options {
		if strings.Contains(lowered, opt) {
			return true
		}
	}
	return false
}
