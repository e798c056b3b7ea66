// Package hitl decides whether a proposed resolution needs a human in the
// loop before any side effect executes. The evaluator is pure: thresholds
// come in as explicit inputs and rules fire in a fixed order.
package hitl

import (
	"github.com/dativo-io/recourse/internal/complaint"
)

// Reason codes, in the exact order rules are evaluated. The joined reason
// string is stable because evaluation order is stable.
const (
	ReasonLegalOrPublicRisk     = "LEGAL_OR_PUBLIC_RISK"
	ReasonHighAmountRisk        = "HIGH_AMOUNT_RISK"
	ReasonRepetitionRisk        = "REPETITION_RISK"
	ReasonLowConfidence         = "LOW_CONFIDENCE"
	ReasonPolicyReviewRequired  = "POLICY_REVIEW_REQUIRED"
	ReasonHighRecentComp        = "HIGH_RECENT_COMPENSATION_TOTAL"
	ReasonOutputGuardFallback   = "OUTPUT_GUARD_FALLBACK"
	ReasonManualEscalation      = "MANUAL_ESCALATION"
)

// Thresholds are the operator-tunable review gates.
type Thresholds struct {
	AmountThreshold        float64 // order total at/above which a human reviews
	LowConfidence          float64 // combined confidence below which a human reviews
	RecentCompensationGate float64 // 90-day compensation total gating refunds/vouchers
}

// DefaultThresholds mirror the shipped configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AmountThreshold:        150.0,
		LowConfidence:          0.55,
		RecentCompensationGate: 75.0,
	}
}

// Inputs is everything the evaluator reads.
type Inputs struct {
	ProposedDecision      complaint.Decision
	CombinedConfidence    float64
	RiskFlags             []complaint.RiskFlag
	OrderTotal            float64
	RecentEscalations     int
	RepeatClaimSuspected  bool
	NinetyDayCompensation float64
	PolicyText            string
}

func (in Inputs) hasRisk(flag complaint.RiskFlag) bool {
	for _, f := range in.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Evaluate returns whether a human must review and the ordered, deduplicated
// reason codes. The HIGH_AMOUNT_RISK rule fires on either the triage flag or
// the order total threshold: the model-asserted flag and the hard numeric
// gate back each other up.
func Evaluate(in Inputs, th Thresholds) (required bool, reasons []string) {
	if in.hasRisk(complaint.RiskLegalThreat) || in.hasRisk(complaint.RiskPublicExposure) {
		reasons = append(reasons, ReasonLegalOrPublicRisk)
	}
	if in.hasRisk(complaint.RiskHighAmount) || in.OrderTotal >= th.AmountThreshold {
		reasons = append(reasons, ReasonHighAmountRisk)
	}
	if in.hasRisk(complaint.RiskRepeatClaim) || in.RepeatClaimSuspected || in.RecentEscalations > 0 {
		reasons = append(reasons, ReasonRepetitionRisk)
	}
	if in.CombinedConfidence < th.LowConfidence {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if complaint.ContainsAny(in.PolicyText, "human review", "revue humaine", "before execution", "specialiste") {
		reasons = append(reasons, ReasonPolicyReviewRequired)
	}
	if (in.ProposedDecision == complaint.DecisionRefund || in.ProposedDecision == complaint.DecisionVoucher) &&
		in.NinetyDayCompensation >= th.RecentCompensationGate {
		reasons = append(reasons, ReasonHighRecentComp)
	}

	reasons = dedupe(reasons)
	return len(reasons) > 0, reasons
}

func dedupe(reasons []string) []string {
	seen := make(map[string]bool, len(reasons))
	var out []string
	for _, r := range reasons {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
