package hitl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/recourse/internal/complaint"
)

func cleanInputs() Inputs {
	return Inputs{
		ProposedDecision:   complaint.DecisionInfoOnly,
		CombinedConfidence: 0.9,
		OrderTotal:         50,
	}
}

func TestEvaluate_CleanCaseNeedsNoReview(t *testing.T) {
	required, reasons := Evaluate(cleanInputs(), DefaultThresholds())
	assert.False(t, required)
	assert.Empty(t, reasons)
}

func TestEvaluate_SingleRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inputs)
		want   string
	}{
		{"legal threat", func(in *Inputs) {
			in.RiskFlags = []complaint.RiskFlag{complaint.RiskLegalThreat}
		}, ReasonLegalOrPublicRisk},
		{"public exposure", func(in *Inputs) {
			in.RiskFlags = []complaint.RiskFlag{complaint.RiskPublicExposure}
		}, ReasonLegalOrPublicRisk},
		{"high amount flag", func(in *Inputs) {
			in.RiskFlags = []complaint.RiskFlag{complaint.RiskHighAmount}
		}, ReasonHighAmountRisk},
		{"high amount by total", func(in *Inputs) {
			in.OrderTotal = 150
		}, ReasonHighAmountRisk},
		{"repeat claim flag", func(in *Inputs) {
			in.RiskFlags = []complaint.RiskFlag{complaint.RiskRepeatClaim}
		}, ReasonRepetitionRisk},
		{"repeat claim suspected", func(in *Inputs) {
			in.RepeatClaimSuspected = true
		}, ReasonRepetitionRisk},
		{"recent escalations", func(in *Inputs) {
			in.RecentEscalations = 1
		}, ReasonRepetitionRisk},
		{"low confidence", func(in *Inputs) {
			in.CombinedConfidence = 0.54
		}, ReasonLowConfidence},
		{"policy review phrase", func(in *Inputs) {
			in.PolicyText = "Requires Human Review before any payout."
		}, ReasonPolicyReviewRequired},
		{"policy review phrase fr", func(in *Inputs) {
			in.PolicyText = "Validation par un specialiste obligatoire."
		}, ReasonPolicyReviewRequired},
		{"recent compensation on refund", func(in *Inputs) {
			in.ProposedDecision = complaint.DecisionRefund
			in.NinetyDayCompensation = 75
		}, ReasonHighRecentComp},
		{"recent compensation on voucher", func(in *Inputs) {
			in.ProposedDecision = complaint.DecisionVoucher
			in.NinetyDayCompensation = 80
		}, ReasonHighRecentComp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := cleanInputs()
			tt.mutate(&in)
			required, reasons := Evaluate(in, DefaultThresholds())
			require.True(t, required)
			assert.Equal(t, []string{tt.want}, reasons)
		})
	}
}

func TestEvaluate_ThresholdBoundaries(t *testing.T) {
	th := DefaultThresholds()

	in := cleanInputs()
	in.OrderTotal = 149.99
	required, _ := Evaluate(in, th)
	assert.False(t, required, "just under the amount threshold")

	in.OrderTotal = 150.0
	required, _ = Evaluate(in, th)
	assert.True(t, required, "at the amount threshold")

	in = cleanInputs()
	in.CombinedConfidence = 0.55
	required, _ = Evaluate(in, th)
	assert.False(t, required, "confidence exactly at the threshold passes")
}

func TestEvaluate_RecentCompensationIgnoredForOtherDecisions(t *testing.T) {
	in := cleanInputs()
	in.ProposedDecision = complaint.DecisionExchange
	in.NinetyDayCompensation = 500
	required, _ := Evaluate(in, DefaultThresholds())
	assert.False(t, required)
}

func TestEvaluate_ReasonsKeepRuleOrder(t *testing.T) {
	in := Inputs{
		ProposedDecision:      complaint.DecisionRefund,
		CombinedConfidence:    0.2,
		RiskFlags:             []complaint.RiskFlag{complaint.RiskLegalThreat, complaint.RiskHighAmount},
		OrderTotal:            400,
		RecentEscalations:     2,
		RepeatClaimSuspected:  true,
		NinetyDayCompensation: 100,
		PolicyText:            "human review before execution",
	}
	required, reasons := Evaluate(in, DefaultThresholds())
	require.True(t, required)
	assert.Equal(t, []string{
		ReasonLegalOrPublicRisk,
		ReasonHighAmountRisk,
		ReasonRepetitionRisk,
		ReasonLowConfidence,
		ReasonPolicyReviewRequired,
		ReasonHighRecentComp,
	}, reasons)
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	th := Thresholds{AmountThreshold: 1000, LowConfidence: 0.1, RecentCompensationGate: 10}

	in := cleanInputs()
	in.OrderTotal = 500
	required, _ := Evaluate(in, th)
	assert.False(t, required, "raised amount threshold not reached")

	in = cleanInputs()
	in.ProposedDecision = complaint.DecisionVoucher
	in.NinetyDayCompensation = 15
	required, reasons := Evaluate(in, th)
	require.True(t, required)
	assert.Contains(t, reasons, ReasonHighRecentComp)
}
