package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PayoutPolicy is the operator-tunable policy for reward calculation and the
// risk gate. Amounts are in minor currency units (öre for SEK). Thresholds
// live here so no call site hard-codes its own.
type PayoutPolicy struct {
	MinPayoutAmount int64        `mapstructure:"minPayoutAmount"`
	CommissionRate  float64      `mapstructure:"commissionRate"`
	RewardTiers     []RewardTier `mapstructure:"rewardTiers"`

	FraudCapThreshold float64 `mapstructure:"fraudCapThreshold"`
	FraudCapAmount    int64   `mapstructure:"fraudCapAmount"`

	FlagThreshold   float64 `mapstructure:"flagThreshold"`
	RejectThreshold float64 `mapstructure:"rejectThreshold"`
	ConfidenceFloor float64 `mapstructure:"confidenceFloor"`

	Velocity VelocityPolicy `mapstructure:"velocity"`
	Circuit  CircuitPolicy  `mapstructure:"circuit"`
	Retry    RetryPolicy    `mapstructure:"retry"`
}

// RewardTier maps a quality-score band to a reward-percentage range.
type RewardTier struct {
	MinScore int     `mapstructure:"minScore"`
	MaxScore int     `mapstructure:"maxScore"`
	MinPct   float64 `mapstructure:"minPct"`
	MaxPct   float64 `mapstructure:"maxPct"`
}

type VelocityPolicy struct {
	Window            time.Duration `mapstructure:"window"`
	MaxTransactions   int64         `mapstructure:"maxTransactions"`
	MaxAmount         int64         `mapstructure:"maxAmount"`
	IPMaxTransactions int64         `mapstructure:"ipMaxTransactions"`
	IPMaxAmount       int64         `mapstructure:"ipMaxAmount"`
}

type CircuitPolicy struct {
	FailureThreshold int           `mapstructure:"failureThreshold"`
	FailureWindow    time.Duration `mapstructure:"failureWindow"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type RetryPolicy struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

func DefaultPayoutPolicy() PayoutPolicy {
	return PayoutPolicy{
		MinPayoutAmount: 1000,
		CommissionRate:  0.20,
		RewardTiers: []RewardTier{
			{MinScore: 0, MaxScore: 59, MinPct: 0, MaxPct: 0},
			{MinScore: 60, MaxScore: 69, MinPct: 2, MaxPct: 4},
			{MinScore: 70, MaxScore: 79, MinPct: 4, MaxPct: 6},
			{MinScore: 80, MaxScore: 89, MinPct: 6, MaxPct: 10},
			{MinScore: 90, MaxScore: 100, MinPct: 10, MaxPct: 12},
		},
		FraudCapThreshold: 0.5,
		FraudCapAmount:    5000,
		FlagThreshold:     0.70,
		RejectThreshold:   0.85,
		ConfidenceFloor:   0.40,
		Velocity: VelocityPolicy{
			Window:            time.Hour,
			MaxTransactions:   5,
			MaxAmount:         50_000,
			IPMaxTransactions: 20,
			IPMaxAmount:       200_000,
		},
		Circuit: CircuitPolicy{
			FailureThreshold: 3,
			FailureWindow:    5 * time.Minute,
			Cooldown:         time.Minute,
		},
		Retry: RetryPolicy{
			MaxAttempts:    5,
			InitialBackoff: 30 * time.Second,
			MaxBackoff:     30 * time.Minute,
			Multiplier:     2,
		},
	}
}

// PolicyHolder serves the current policy snapshot and hot-reloads it when the
// underlying file changes.
type PolicyHolder struct {
	current atomic.Value // holds PayoutPolicy
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("payout")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.PolicyPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/payoutcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYOUTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PolicyHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultPayoutPolicy())
		return holder, nil
	}

	policy := DefaultPayoutPolicy()
	if err := v.UnmarshalKey("payout", &policy); err != nil {
		return nil, err
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultPayoutPolicy()
		if err := v.UnmarshalKey("payout", &updated); err != nil {
			log.Printf("[payout-policy] reload failed: %v", err)
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Printf("[payout-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payout-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder wraps a fixed policy, for tests and tooling.
func NewStaticPolicyHolder(policy PayoutPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *PolicyHolder) Get() PayoutPolicy {
	return h.current.Load().(PayoutPolicy)
}

func validatePolicy(p PayoutPolicy) error {
	if p.MinPayoutAmount < 0 {
		return errors.New("minPayoutAmount must not be negative")
	}
	if p.CommissionRate < 0 || p.CommissionRate >= 1 {
		return errors.New("commissionRate must be in [0,1)")
	}
	if len(p.RewardTiers) == 0 {
		return errors.New("rewardTiers must not be empty")
	}
	expectedMin := 0
	for _, tier := range p.RewardTiers {
		if tier.MinScore != expectedMin {
			return errors.New("rewardTiers must partition [0,100] without gaps")
		}
		if tier.MaxScore < tier.MinScore {
			return errors.New("rewardTiers bounds must be ordered")
		}
		if tier.MinPct < 0 || tier.MaxPct < tier.MinPct {
			return errors.New("rewardTiers percentages must be ordered and non-negative")
		}
		expectedMin = tier.MaxScore + 1
	}
	if expectedMin != 101 {
		return errors.New("rewardTiers must end at score 100")
	}
	if p.FlagThreshold <= 0 || p.FlagThreshold > 1 {
		return errors.New("flagThreshold must be in (0,1]")
	}
	if p.RejectThreshold < p.FlagThreshold || p.RejectThreshold > 1 {
		return errors.New("rejectThreshold must be in [flagThreshold,1]")
	}
	if p.Circuit.FailureThreshold <= 0 || p.Circuit.Cooldown <= 0 || p.Circuit.FailureWindow <= 0 {
		return errors.New("circuit policy values must be positive")
	}
	if p.Velocity.Window <= 0 || p.Velocity.MaxTransactions <= 0 || p.Velocity.MaxAmount <= 0 {
		return errors.New("velocity policy values must be positive")
	}
	if p.Retry.MaxAttempts <= 0 || p.Retry.InitialBackoff <= 0 || p.Retry.Multiplier < 1 {
		return errors.New("retry policy values must be positive")
	}
	return nil
}
