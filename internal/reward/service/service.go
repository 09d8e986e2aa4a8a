package service

import (
	"math"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/reward/domain"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Policy *config.PolicyHolder
}

type rewardService struct {
	log    *zap.Logger
	policy *config.PolicyHolder
}

func NewService(p Params) domain.Service {
	return &rewardService{
		log:    p.Log.Named("reward.service"),
		policy: p.Policy,
	}
}

// Calculate resolves the quality tier, interpolates the reward percentage
// inside it, and applies the fraud ceiling when the attached risk score
// warrants one. All amounts round half-up to whole öre.
func (s *rewardService) Calculate(req domain.CalculationRequest) (domain.Calculation, error) {
	if req.QualityScore < 0 || req.QualityScore > 100 || math.IsNaN(req.QualityScore) {
		return domain.Calculation{}, domain.ErrInvalidQualityScore
	}
	if req.PurchaseAmount <= 0 {
		return domain.Calculation{}, domain.ErrInvalidAmount
	}

	policy := s.policy.Get()
	pct := rewardPct(policy.RewardTiers, req.QualityScore)
	reward := roundOre(float64(req.PurchaseAmount) * pct / 100)

	calc := domain.Calculation{
		QualityScore:   req.QualityScore,
		PurchaseAmount: req.PurchaseAmount,
		RewardPct:      pct,
		RewardAmount:   reward,
	}

	if req.RiskScore != nil && *req.RiskScore >= policy.FraudCapThreshold && reward > policy.FraudCapAmount {
		calc.RewardAmount = policy.FraudCapAmount
		calc.Capped = true
		calc.CappedReason = domain.CappedReasonFraud
		s.log.Info("reward capped",
			zap.Float64("risk_score", *req.RiskScore),
			zap.Int64("uncapped_amount", reward),
			zap.Int64("capped_amount", policy.FraudCapAmount),
		)
	}

	calc.CommissionAmount = roundOre(float64(calc.RewardAmount) * policy.CommissionRate)
	calc.TotalCharge = calc.RewardAmount + calc.CommissionAmount
	return calc, nil
}

// rewardPct interpolates linearly inside the tier holding the score. Tiers
// partition [0,100] over integer bounds; fractional scores between two tiers
// belong to the tier of their integer part.
func rewardPct(tiers []config.RewardTier, score float64) float64 {
	for _, tier := range tiers {
		if int(score) < tier.MinScore || int(score) > tier.MaxScore {
			continue
		}
		if tier.MaxScore == tier.MinScore {
			return tier.MinPct
		}
		span := float64(tier.MaxScore - tier.MinScore)
		frac := (score - float64(tier.MinScore)) / span
		if frac > 1 {
			frac = 1
		}
		return tier.MinPct + frac*(tier.MaxPct-tier.MinPct)
	}
	return 0
}

func roundOre(v float64) int64 {
	return int64(math.Round(v))
}
