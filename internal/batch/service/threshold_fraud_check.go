package service

import (
	"context"

	batchDomain "github.com/allisson/batchdonations/internal/batch/domain"
)

// highRiskThreshold is the score at which a donation is rejected.
const highRiskThreshold = 0.8

// ThresholdFraudCheck scores donations with static rules.
type ThresholdFraudCheck struct {
	maxAmount float64
}

// NewThresholdFraudCheck creates a ThresholdFraudCheck that rejects donations
// above maxAmount.
func NewThresholdFraudCheck(maxAmount float64) *ThresholdFraudCheck {
	return &ThresholdFraudCheck{maxAmount: maxAmount}
}

// Evaluate computes the risk score of one donation.
func (f *ThresholdFraudCheck) Evaluate(
	ctx context.Context,
	req batchDomain.DonationRequest,
) (batchDomain.FraudAssessment, error) {
	if err := ctx.Err(); err != nil {
		return batchDomain.FraudAssessment{}, err
	}

	var score float64
	var reasons []string

	if f.maxAmount > 0 {
		if req.Amount > f.maxAmount {
			score += 0.8
			reasons = append(reasons, "amount_above_limit")
		} else if req.Amount > f.maxAmount/2 {
			score += 0.3
			reasons = append(reasons, "high_amount")
		}
	}
	if req.IsAnonymous {
		score += 0.1
		reasons = append(reasons, "anonymous")
	}
	if req.UserID == req.OnlusID {
		score += 0.8
		reasons = append(reasons, "self_donation")
	}
	if score > 1 {
		score = 1
	}

	details := map[string]any{"reasons": reasons}
	if f.maxAmount > 0 {
		details["max_amount"] = f.maxAmount
	}

	return batchDomain.FraudAssessment{
		Safe:    score < highRiskThreshold,
		Score:   score,
		Details: details,
	}, nil
}
