// Package complaint defines the data model shared by every pipeline stage:
// the case record, stage signal structs, and the closed enums for
// sentiment, urgency, decisions, routes, risk flags, and case status.
package complaint

import (
	"fmt"
	"strings"
)

// Language is the customer-facing response language.
type Language string

const (
	LanguageFR Language = "FR"
	LanguageEN Language = "EN"
)

// Sentiment of the inbound complaint.
type Sentiment string

const (
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
	SentimentPositive Sentiment = "POSITIVE"
)

// ParseSentiment validates a model-supplied sentiment label.
func ParseSentiment(s string) (Sentiment, error) {
	switch v := Sentiment(strings.ToUpper(strings.TrimSpace(s))); v {
	case SentimentNegative, SentimentNeutral, SentimentPositive:
		return v, nil
	default:
		return "", fmt.Errorf("invalid sentiment %q", s)
	}
}

// Urgency of the inbound complaint.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// ParseUrgency validates a model-supplied urgency label.
func ParseUrgency(s string) (Urgency, error) {
	switch v := Urgency(strings.ToUpper(strings.TrimSpace(s))); v {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return v, nil
	default:
		return "", fmt.Errorf("invalid urgency %q", s)
	}
}

// RiskFlag marks a governance-relevant risk detected during triage.
type RiskFlag string

const (
	RiskLegalThreat    RiskFlag = "LEGAL_THREAT"
	RiskPublicExposure RiskFlag = "PUBLIC_EXPOSURE"
	RiskRepeatClaim    RiskFlag = "REPEAT_CLAIM"
	RiskHighAmount     RiskFlag = "HIGH_AMOUNT_RISK"
)

// ParseRiskFlag validates a model-supplied risk flag. Unknown flags are an
// error so callers can log and skip them rather than persist junk.
func ParseRiskFlag(s string) (RiskFlag, error) {
	switch v := RiskFlag(strings.ToUpper(strings.TrimSpace(s))); v {
	case RiskLegalThreat, RiskPublicExposure, RiskRepeatClaim, RiskHighAmount:
		return v, nil
	default:
		return "", fmt.Errorf("unknown risk flag %q", s)
	}
}

// Decision is the resolution decision type.
type Decision string

const (
	DecisionRefund   Decision = "REFUND"
	DecisionVoucher  Decision = "VOUCHER"
	DecisionExchange Decision = "EXCHANGE"
	DecisionEscalate Decision = "ESCALATE"
	DecisionInfoOnly Decision = "INFO_ONLY"
)

// Decisions lists every decision in deterministic tie-break order: when
// scores are equal the earlier entry wins.
var Decisions = []Decision{
	DecisionEscalate,
	DecisionRefund,
	DecisionExchange,
	DecisionVoucher,
	DecisionInfoOnly,
}

// Route selects the next pipeline stage after triage.
type Route string

const (
	RouteEscalateImmediate Route = "ESCALATE_IMMEDIATE"
	RouteNeedContext       Route = "NEED_CONTEXT"
)

// CaseStatus is the externally visible lifecycle status of a case.
type CaseStatus string

const (
	StatusNew         CaseStatus = "NEW"
	StatusInProgress  CaseStatus = "IN_PROGRESS"
	StatusPendingHITL CaseStatus = "PENDING_HITL"
	StatusResolved    CaseStatus = "RESOLVED"
	StatusEscalated   CaseStatus = "ESCALATED"
	StatusClosed      CaseStatus = "CLOSED"
)

// State is the internal pipeline state machine position.
type State string

const (
	StateIngested        State = "INGESTED"
	StateClassified      State = "CLASSIFIED"
	StateContextEnriched State = "CONTEXT_ENRICHED"
	StateContextStubbed  State = "CONTEXT_STUBBED"
	StateResolved        State = "RESOLVED"
	StateFinalized       State = "FINALIZED"
)

// complaintTypeAliases canonicalizes near-synonym labels the model emits.
var complaintTypeAliases = map[string]string{
	"PRODUCT_DEFECT":    "DEFECTIVE_ITEM",
	"DEFECTIVE_PRODUCT": "DEFECTIVE_ITEM",
	"ITEM_DEFECT":       "DEFECTIVE_ITEM",
	"DELIVERY_ISSUE":    "LATE_DELIVERY",
	"SHIPPING_DELAY":    "LATE_DELIVERY",
	"DELIVERY_PROBLEM":  "LATE_DELIVERY",
	"TRACKING_ISSUE":    "TRACKING_REQUEST",
}

// CanonicalComplaintType normalizes a complaint type to UPPER_SNAKE and
// resolves known aliases. Empty input is an error.
func CanonicalComplaintType(raw string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, " ", "_")
	t = strings.ReplaceAll(t, "-", "_")
	if t == "" {
		return "", fmt.Errorf("complaint type must not be empty")
	}
	if canonical, ok := complaintTypeAliases[t]; ok {
		return canonical, nil
	}
	return t, nil
}
