// Package scoring turns triage and context signals into deterministic
// per-decision scores. It is a pure rule fold: no I/O, no model calls,
// same inputs always produce the same scores.
package scoring

import (
	"strings"

	"github.com/dativo-io/recourse/internal/complaint"
)

// Base scores before any rule applies. INFO_ONLY starts highest so a case
// with no signals at all resolves to an informational reply.
var baseScores = map[complaint.Decision]float64{
	complaint.DecisionInfoOnly: 15,
	complaint.DecisionVoucher:  12,
	complaint.DecisionRefund:   10,
	complaint.DecisionExchange: 10,
	complaint.DecisionEscalate: 6,
}

// Inputs is the flattened signal set the rules read. Building it once up
// front keeps every rule a pure function of the same snapshot.
type Inputs struct {
	ComplaintType         string
	Urgency               complaint.Urgency
	RiskFlags             []complaint.RiskFlag
	OrderStatus           string
	OrderTotal            float64
	FraudWatch            bool
	NinetyDayCompensation float64
	RepeatClaimSuspected  bool
	PolicyText            string
}

// InputsFrom flattens stage signals into scorer inputs. PolicyText joins
// the retrieved policy constraints for keyword matching.
func InputsFrom(t *complaint.TriageSignals, c *complaint.ContextSignals) Inputs {
	return Inputs{
		ComplaintType:         t.ComplaintType,
		Urgency:               t.Urgency,
		RiskFlags:             t.RiskFlags,
		OrderStatus:           c.Order.Status,
		OrderTotal:            c.Order.OrderTotal,
		FraudWatch:            c.Customer.FraudWatch,
		NinetyDayCompensation: c.Customer.NinetyDayCompensation,
		RepeatClaimSuspected:  c.CaseHistory.RepeatClaimSuspected,
		PolicyText:            strings.Join(c.PolicyConstraints, " "),
	}
}

func (in Inputs) hasRisk(flag complaint.RiskFlag) bool {
	for _, f := range in.RiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

func (in Inputs) typeIn(types ...string) bool {
	for _, t := range types {
		if in.ComplaintType == t {
			return true
		}
	}
	return false
}

type deltas map[complaint.Decision]float64

type rule struct {
	name    string
	applies func(Inputs) bool
	deltas  deltas
}

// rules are applied in order; order only matters for readability since
// every delta is additive.
var rules = []rule{
	{
		name:    "defect_or_damage",
		applies: func(in Inputs) bool { return in.typeIn("DEFECTIVE_ITEM", "DAMAGED_ITEM") },
		deltas: deltas{
			complaint.DecisionRefund:   45,
			complaint.DecisionExchange: 28,
			complaint.DecisionVoucher:  8,
		},
	},
	{
		name:    "wrong_item",
		applies: func(in Inputs) bool { return in.typeIn("WRONG_ITEM", "SIZE_MISMATCH", "MATERIAL_DIFFERENCE") },
		deltas: deltas{
			complaint.DecisionExchange: 45,
			complaint.DecisionRefund:   22,
		},
	},
	{
		name:    "delivery_delay",
		applies: func(in Inputs) bool { return in.typeIn("LATE_DELIVERY", "DELIVERY_DELAY", "TRACKING_REQUEST") },
		deltas: deltas{
			complaint.DecisionInfoOnly: 30,
			complaint.DecisionVoucher:  20,
		},
	},
	{
		name:    "public_or_legal_complaint",
		applies: func(in Inputs) bool { return in.typeIn("PUBLIC_COMPLAINT", "LEGAL_COMPLAINT") },
		deltas:  deltas{complaint.DecisionEscalate: 55},
	},
	{
		name:    "order_in_transit",
		applies: func(in Inputs) bool { return in.OrderStatus == "IN_TRANSIT" },
		deltas: deltas{
			complaint.DecisionInfoOnly: 15,
			complaint.DecisionRefund:   -18,
			complaint.DecisionExchange: -12,
		},
	},
	{
		name: "order_not_delivered",
		applies: func(in Inputs) bool {
			return in.OrderStatus != "IN_TRANSIT" && in.OrderStatus != "DELIVERED"
		},
		deltas: deltas{
			complaint.DecisionInfoOnly: 8,
			complaint.DecisionRefund:   -8,
		},
	},
	{
		name: "urgency_elevated",
		applies: func(in Inputs) bool {
			return in.Urgency == complaint.UrgencyHigh || in.Urgency == complaint.UrgencyCritical
		},
		deltas: deltas{complaint.DecisionVoucher: 7},
	},
	{
		name:    "urgency_critical",
		applies: func(in Inputs) bool { return in.Urgency == complaint.UrgencyCritical },
		deltas:  deltas{complaint.DecisionEscalate: 20},
	},
	{
		name:    "fraud_watch",
		applies: func(in Inputs) bool { return in.FraudWatch },
		deltas: deltas{
			complaint.DecisionEscalate: 30,
			complaint.DecisionRefund:   -14,
			complaint.DecisionVoucher:  -12,
		},
	},
	{
		name:    "repeat_claim_suspected",
		applies: func(in Inputs) bool { return in.RepeatClaimSuspected },
		deltas: deltas{
			complaint.DecisionEscalate: 16,
			complaint.DecisionVoucher:  -12,
		},
	},
	{
		name:    "recent_compensation_high",
		applies: func(in Inputs) bool { return in.NinetyDayCompensation >= 60 },
		deltas: deltas{
			complaint.DecisionVoucher:  -16,
			complaint.DecisionRefund:   -8,
			complaint.DecisionEscalate: 8,
		},
	},
	{
		name:    "order_total_high",
		applies: func(in Inputs) bool { return in.OrderTotal >= 200 },
		deltas:  deltas{complaint.DecisionEscalate: 8},
	},
	{
		name: "policy_allows_refund",
		applies: func(in Inputs) bool {
			return complaint.ContainsAny(in.PolicyText, "refund is allowed", "remboursement est permis", "refund allowed")
		},
		deltas: deltas{complaint.DecisionRefund: 10},
	},
	{
		name: "policy_mentions_exchange",
		applies: func(in Inputs) bool {
			return complaint.ContainsAny(in.PolicyText, "exchange", "echange")
		},
		deltas: deltas{complaint.DecisionExchange: 8},
	},
	{
		name: "policy_mentions_compensation",
		applies: func(in Inputs) bool {
			return complaint.ContainsAny(in.PolicyText, "compensation", "voucher", "bon")
		},
		deltas: deltas{complaint.DecisionVoucher: 7},
	},
	{
		name: "policy_requires_review",
		applies: func(in Inputs) bool {
			return complaint.ContainsAny(in.PolicyText, "human review", "revue humaine", "specialist", "escalation")
		},
		deltas: deltas{complaint.DecisionEscalate: 12},
	},
	{
		name: "risk_legal_or_public",
		applies: func(in Inputs) bool {
			return in.hasRisk(complaint.RiskLegalThreat) || in.hasRisk(complaint.RiskPublicExposure)
		},
		deltas: deltas{complaint.DecisionEscalate: 100},
	},
	{
		name:    "risk_repeat_claim",
		applies: func(in Inputs) bool { return in.hasRisk(complaint.RiskRepeatClaim) },
		deltas:  deltas{complaint.DecisionEscalate: 18},
	},
	{
		name:    "risk_high_amount",
		applies: func(in Inputs) bool { return in.hasRisk(complaint.RiskHighAmount) },
		deltas:  deltas{complaint.DecisionEscalate: 14},
	},
}

// Score folds every applicable rule over the base scores. Scores are
// floored at zero and rounded to two decimals.
func Score(in Inputs) map[complaint.Decision]float64 {
	scores := make(map[complaint.Decision]float64, len(baseScores))
	for d, s := range baseScores {
		scores[d] = s
	}
	for _, r := range rules {
		if !r.applies(in) {
			continue
		}
		for d, delta := range r.deltas {
			scores[d] += delta
		}
	}
	for d, s := range scores {
		if s < 0 {
			s = 0
		}
		scores[d] = complaint.Round2(s)
	}
	return scores
}

// PickBest returns the highest-scoring decision. Ties resolve by the
// fixed order of complaint.Decisions, so equal scores always produce the
// same pick.
func PickBest(scores map[complaint.Decision]float64) complaint.Decision {
	best := complaint.Decisions[0]
	bestScore := scores[best]
	for _, d := range complaint.Decisions[1:] {
		if scores[d] > bestScore {
			best = d
			bestScore = scores[d]
		}
	}
	return best
}

// Confidence blends the winning score with the upstream stage confidences:
// 60% normalized best score, 20% triage, 20% context, clamped to [0, 1].
func Confidence(bestScore, triageConfidence, contextConfidence float64) float64 {
	normalized := bestScore / 100
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	blended := 0.6*normalized + 0.2*triageConfidence + 0.2*contextConfidence
	return complaint.ClampConfidence(blended)
}
