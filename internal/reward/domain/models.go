package domain

import "errors"

// CappedReasonFraud marks a reward reduced by the fraud ceiling rather than
// by tier math.
const CappedReasonFraud = "fraud_prevention"

// CalculationRequest asks for the reward owed on one verified purchase.
// PurchaseAmount is in öre.
type CalculationRequest struct {
	QualityScore   float64 `json:"quality_score"`
	PurchaseAmount int64   `json:"purchase_amount"`

	// RiskScore, when present, is the fraud assessment for the customer
	// at calculation time and may cap the reward.
	RiskScore *float64 `json:"risk_score,omitempty"`
}

// Calculation is the full reward breakdown. CommissionAmount is the platform
// fee invoiced to the business on top of the reward; the customer receives
// RewardAmount.
type Calculation struct {
	QualityScore   float64 `json:"quality_score"`
	PurchaseAmount int64   `json:"purchase_amount"`

	RewardPct        float64 `json:"reward_pct"`
	RewardAmount     int64   `json:"reward_amount"`
	CommissionAmount int64   `json:"commission_amount"`
	TotalCharge      int64   `json:"total_charge"`

	Capped       bool   `json:"capped"`
	CappedReason string `json:"capped_reason,omitempty"`
}

// Service computes rewards. Calculate is pure: same request and policy, same
// result.
type Service interface {
	Calculate(req CalculationRequest) (Calculation, error)
}

var (
	// ErrInvalidQualityScore means the caller passed a score outside
	// [0,100]. Scores are produced upstream and arrive here already
	// validated, so this is a caller bug, not bad user input.
	ErrInvalidQualityScore = errors.New("invalid_quality_score")
	ErrInvalidAmount       = errors.New("invalid_purchase_amount")
)
