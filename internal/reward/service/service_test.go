package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/reward/domain"
)

func newService() domain.Service {
	return NewService(Params{
		Log:    zap.NewNop(),
		Policy: config.NewStaticPolicyHolder(config.DefaultPayoutPolicy()),
	})
}

func floatPtr(v float64) *float64 { return &v }

func TestCalculateTierInterpolation(t *testing.T) {
	svc := newService()

	tests := []struct {
		name        string
		score       float64
		amount      int64
		wantPct     float64
		wantReward  int64
		wantCommish int64
	}{
		{"below reward floor", 45, 20_000, 0, 0, 0},
		{"tier floor", 60, 20_000, 2, 400, 80},
		{"mid tier", 65, 20_000, 2 + 5.0/9*2, 622, 124},
		{"tier ceiling", 69, 20_000, 4, 800, 160},
		{"next tier floor matches ceiling", 70, 20_000, 4, 800, 160},
		{"high score", 95, 20_000, 11, 2_200, 440},
		{"perfect score", 100, 20_000, 12, 2_400, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := svc.Calculate(domain.CalculationRequest{
				QualityScore:   tt.score,
				PurchaseAmount: tt.amount,
			})
			require.NoError(t, err)
			assert.InDelta(t, tt.wantPct, calc.RewardPct, 1e-9)
			assert.Equal(t, tt.wantReward, calc.RewardAmount)
			assert.Equal(t, tt.wantCommish, calc.CommissionAmount)
			assert.Equal(t, calc.RewardAmount+calc.CommissionAmount, calc.TotalCharge)
			assert.False(t, calc.Capped)
		})
	}
}

func TestCalculateMonotonicInScore(t *testing.T) {
	svc := newService()

	var prev int64 = -1
	for score := 0; score <= 100; score++ {
		calc, err := svc.Calculate(domain.CalculationRequest{
			QualityScore:   float64(score),
			PurchaseAmount: 100_000,
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, calc.RewardAmount, prev, "score %d", score)
		prev = calc.RewardAmount
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	svc := newService()

	_, err := svc.Calculate(domain.CalculationRequest{QualityScore: -0.1, PurchaseAmount: 1000})
	assert.ErrorIs(t, err, domain.ErrInvalidQualityScore)

	_, err = svc.Calculate(domain.CalculationRequest{QualityScore: 100.1, PurchaseAmount: 1000})
	assert.ErrorIs(t, err, domain.ErrInvalidQualityScore)

	_, err = svc.Calculate(domain.CalculationRequest{QualityScore: 80, PurchaseAmount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Calculate(domain.CalculationRequest{QualityScore: 80, PurchaseAmount: -500})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCalculateFraudCap(t *testing.T) {
	svc := newService()

	// 95 on 100 000 öre is 11 000 öre uncapped, over the 5 000 ceiling.
	calc, err := svc.Calculate(domain.CalculationRequest{
		QualityScore:   95,
		PurchaseAmount: 100_000,
		RiskScore:      floatPtr(0.6),
	})
	require.NoError(t, err)
	assert.True(t, calc.Capped)
	assert.Equal(t, domain.CappedReasonFraud, calc.CappedReason)
	assert.Equal(t, int64(5_000), calc.RewardAmount)

	// Commission is charged on what is actually paid out.
	assert.Equal(t, int64(1_000), calc.CommissionAmount)
}

func TestCalculateCapOnlyReduces(t *testing.T) {
	svc := newService()

	// Reward already under the ceiling: risky score changes nothing.
	calc, err := svc.Calculate(domain.CalculationRequest{
		QualityScore:   95,
		PurchaseAmount: 20_000,
		RiskScore:      floatPtr(0.9),
	})
	require.NoError(t, err)
	assert.False(t, calc.Capped)
	assert.Equal(t, int64(2_200), calc.RewardAmount)
}

func TestCalculateRiskBelowThresholdUncapped(t *testing.T) {
	svc := newService()

	calc, err := svc.Calculate(domain.CalculationRequest{
		QualityScore:   95,
		PurchaseAmount: 100_000,
		RiskScore:      floatPtr(0.49),
	})
	require.NoError(t, err)
	assert.False(t, calc.Capped)
	assert.Equal(t, int64(11_000), calc.RewardAmount)
}

func TestCalculateRoundsToWholeOre(t *testing.T) {
	svc := newService()

	// 2% of 333 öre is 6.66 öre.
	calc, err := svc.Calculate(domain.CalculationRequest{
		QualityScore:   60,
		PurchaseAmount: 333,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), calc.RewardAmount)
}
