package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/observability/metrics"
	"github.com/svarade/payoutcore/internal/risk/circuit"
	"github.com/svarade/payoutcore/internal/risk/domain"
	"github.com/svarade/payoutcore/internal/risk/fraud"
	"github.com/svarade/payoutcore/internal/risk/velocity"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Policy  *config.PolicyHolder
	Breaker *circuit.Breaker
	Store   velocity.Store
	Scorer  *fraud.Scorer
	Metrics *metrics.Metrics `optional:"true"`
}

type riskService struct {
	log     *zap.Logger
	policy  *config.PolicyHolder
	breaker *circuit.Breaker
	store   velocity.Store
	scorer  *fraud.Scorer
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &riskService{
		log:     p.Log.Named("risk.service"),
		policy:  p.Policy,
		breaker: p.Breaker,
		store:   p.Store,
		scorer:  p.Scorer,
		metrics: p.Metrics,
	}
}

// CheckPayout runs the gate in fixed order: circuit, customer velocity,
// source-IP velocity, then fraud scoring. The cheapest check that can block
// runs first; a velocity reservation made before a later check blocks is
// released so the customer is not charged quota for an attempt the gate
// itself refused.
func (s *riskService) CheckPayout(ctx context.Context, req domain.CheckRequest) (domain.CheckResult, error) {
	req.AttemptID = strings.TrimSpace(req.AttemptID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.IPAddress = strings.TrimSpace(req.IPAddress)
	req.Rail = strings.TrimSpace(req.Rail)
	if req.AttemptID == "" || req.CustomerID == "" || req.Rail == "" || req.Amount <= 0 {
		return domain.CheckResult{}, domain.ErrInvalidRequest
	}

	policy := s.policy.Get()
	result := domain.CheckResult{Decision: domain.DecisionAllow}

	allowed, state, resetAt := s.breaker.Allow(req.Rail)
	result.CircuitState = state
	if !allowed {
		result.Decision = domain.DecisionBlock
		result.Reason = domain.ReasonCircuitOpen
		result.ResetAt = &resetAt
		s.recordBlock(ctx, req, result.Reason)
		return result, nil
	}

	// If this attempt took the half-open probe slot and a later gate stage
	// refuses it, the slot must be handed back or the rail stays wedged on
	// CIRCUIT_OPEN until an operator intervenes.
	probe := state == domain.CircuitHalfOpen

	entryID := req.AttemptID

	customerState, err := s.store.Reserve(ctx, customerKey(req.CustomerID), entryID, req.Amount, velocity.Limits{
		Window:          policy.Velocity.Window,
		MaxTransactions: policy.Velocity.MaxTransactions,
		MaxAmount:       policy.Velocity.MaxAmount,
	})
	if err != nil {
		s.cancelProbe(ctx, req.Rail, probe)
		return domain.CheckResult{}, fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
	}
	result.CustomerState = toVelocityState(customerState)
	if customerState.LimitExceeded {
		s.cancelProbe(ctx, req.Rail, probe)
		result.Decision = domain.DecisionBlock
		result.Reason = domain.ReasonVelocityCustomer
		result.ResetAt = &customerState.ResetTime
		s.recordBlock(ctx, req, result.Reason)
		return result, nil
	}

	if req.IPAddress != "" {
		ipState, err := s.store.Reserve(ctx, ipKey(req.IPAddress), entryID, req.Amount, velocity.Limits{
			Window:          policy.Velocity.Window,
			MaxTransactions: policy.Velocity.IPMaxTransactions,
			MaxAmount:       policy.Velocity.IPMaxAmount,
		})
		if err != nil {
			s.releaseQuietly(ctx, customerKey(req.CustomerID), entryID)
			s.cancelProbe(ctx, req.Rail, probe)
			return domain.CheckResult{}, fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
		}
		result.IPState = toVelocityState(ipState)
		if ipState.LimitExceeded {
			s.releaseQuietly(ctx, customerKey(req.CustomerID), entryID)
			s.cancelProbe(ctx, req.Rail, probe)
			result.Decision = domain.DecisionBlock
			result.Reason = domain.ReasonVelocityIP
			result.ResetAt = &ipState.ResetTime
			s.recordBlock(ctx, req, result.Reason)
			return result, nil
		}
	}

	if len(req.Indicators) > 0 {
		assessment := s.scorer.ScoreFraud(req.Indicators)
		result.Assessment = assessment

		// A high score the scorer is confident about goes to manual review;
		// only a high score with confidence below the floor rejects outright,
		// since the missing signals mean the attempt cannot be verified.
		switch {
		case assessment.Score >= policy.RejectThreshold && assessment.Confidence < policy.ConfidenceFloor:
			s.ReleaseVelocity(ctx, req)
			s.cancelProbe(ctx, req.Rail, probe)
			result.Decision = domain.DecisionBlock
			result.Reason = domain.ReasonFraudSuspected
			s.recordBlock(ctx, req, result.Reason)
			return result, nil
		case assessment.Score >= policy.FlagThreshold:
			result.Decision = domain.DecisionFlag
			result.Reason = domain.ReasonFraudSuspected
		}
	}

	return result, nil
}

// CancelRailProbe hands back a half-open probe slot when the caller blocked
// an admitted attempt before it reached the rail.
func (s *riskService) CancelRailProbe(ctx context.Context, rail string) {
	s.cancelProbe(ctx, rail, true)
}

func (s *riskService) cancelProbe(ctx context.Context, rail string, probe bool) {
	if !probe {
		return
	}
	s.breaker.CancelProbe(rail)
	s.log.Info("half-open probe returned unused", zap.String("rail", rail))
}

func (s *riskService) ReleaseVelocity(ctx context.Context, req domain.CheckRequest) error {
	entryID := strings.TrimSpace(req.AttemptID)
	if entryID == "" {
		return domain.ErrInvalidRequest
	}
	if err := s.store.Release(ctx, customerKey(strings.TrimSpace(req.CustomerID)), entryID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
	}
	if ip := strings.TrimSpace(req.IPAddress); ip != "" {
		if err := s.store.Release(ctx, ipKey(ip), entryID); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
		}
	}
	return nil
}

func (s *riskService) RecordRailSuccess(ctx context.Context, rail string) {
	if t := s.breaker.RecordSuccess(rail); t != nil {
		s.logTransition(ctx, t)
	}
}

func (s *riskService) RecordRailFailure(ctx context.Context, rail string) {
	if t := s.breaker.RecordFailure(rail); t != nil {
		s.logTransition(ctx, t)
	}
}

func (s *riskService) DetectFraudPattern(pattern string, data map[string]float64) domain.Assessment {
	return s.scorer.ScorePattern(pattern, data)
}

func (s *riskService) DetectAccountTakeover(customerID string, indicators map[string]float64) domain.Assessment {
	assessment := s.scorer.ScoreTakeover(indicators)
	if assessment.Score >= s.policy.Get().FlagThreshold {
		s.log.Warn("account takeover signals above flag threshold",
			zap.String("customer_id", customerID),
			zap.Float64("risk_score", assessment.Score),
			zap.Float64("confidence", assessment.Confidence),
		)
	}
	return assessment
}

func (s *riskService) recordBlock(ctx context.Context, req domain.CheckRequest, reason string) {
	s.log.Warn("payout blocked by risk gate",
		zap.String("customer_id", req.CustomerID),
		zap.String("rail", req.Rail),
		zap.Int64("amount", req.Amount),
		zap.String("reason", reason),
	)
	if s.metrics != nil {
		s.metrics.RecordGateBlock(ctx, reason)
	}
}

func (s *riskService) logTransition(ctx context.Context, t *circuit.Transition) {
	s.log.Warn("circuit breaker transition",
		zap.String("rail", t.Rail),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
	)
	if s.metrics != nil {
		s.metrics.RecordCircuitTransition(ctx, t.Rail, string(t.To))
	}
}

func (s *riskService) releaseQuietly(ctx context.Context, key, entryID string) {
	if err := s.store.Release(ctx, key, entryID); err != nil {
		s.log.Error("velocity release failed", zap.String("key", key), zap.Error(err))
	}
}

func customerKey(customerID string) string { return "customer:" + customerID }

func ipKey(ip string) string { return "ip:" + ip }

func toVelocityState(state velocity.State) domain.VelocityState {
	return domain.VelocityState{
		Count:         state.Count,
		Amount:        state.Amount,
		LimitExceeded: state.LimitExceeded,
		ResetTime:     state.ResetTime,
	}
}
