package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
	"github.com/svarade/payoutcore/internal/audit/masking"
	"github.com/svarade/payoutcore/internal/auditcontext"
	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/observability/metrics"
	"github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/payout/rails"
	riskdomain "github.com/svarade/payoutcore/internal/risk/domain"
	"github.com/svarade/payoutcore/internal/swedishbank"
	"github.com/svarade/payoutcore/pkg/sealed"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Policy   *config.PolicyHolder
	Repo     domain.Repository
	Registry *rails.Registry
	Risk     riskdomain.Service
	Audit    auditdomain.Service
	Sealer   *sealed.Sealer
	Metrics  *metrics.Metrics `optional:"true"`
}

type payoutService struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	policy   *config.PolicyHolder
	repo     domain.Repository
	registry *rails.Registry
	risk     riskdomain.Service
	audit    auditdomain.Service
	sealer   *sealed.Sealer
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &payoutService{
		db:       p.DB,
		log:      p.Log.Named("payout.service"),
		clock:    p.Clock,
		genID:    p.GenID,
		policy:   p.Policy,
		repo:     p.Repo,
		registry: p.Registry,
		risk:     p.Risk,
		audit:    p.Audit,
		sealer:   p.Sealer,
		metrics:  p.Metrics,
	}
}

func (s *payoutService) RequestPayout(ctx context.Context, input domain.PayoutInput) (domain.PayoutResult, error) {
	input.BusinessID = strings.TrimSpace(input.BusinessID)
	input.CustomerID = strings.TrimSpace(input.CustomerID)
	if input.Currency == "" {
		input.Currency = "SEK"
	}
	if input.BusinessID == "" || input.CustomerID == "" || input.Amount <= 0 || input.Currency != "SEK" {
		return domain.PayoutResult{}, domain.ErrInvalidInput
	}
	rail, err := domain.ParseRail(string(input.Destination.Rail))
	if err != nil {
		return domain.PayoutResult{}, err
	}

	now := s.clock.Now().UTC()
	payout := domain.PayoutRequest{
		ID:           s.genID.Generate(),
		BusinessID:   input.BusinessID,
		CustomerID:   input.CustomerID,
		Amount:       input.Amount,
		Currency:     input.Currency,
		Rail:         rail,
		Status:       domain.PayoutStatusReceived,
		QualityScore: input.QualityScore,
		IPAddress:    auditcontext.IPAddressFromContext(ctx),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreatePayout(ctx, s.db, &payout); err != nil {
		return domain.PayoutResult{}, err
	}
	s.recordAudit(ctx, payout, auditdomain.ActionPayoutRequested, "payout_request", payout.ID.String(), map[string]any{
		"amount": payout.Amount,
		"rail":   string(rail),
	})

	policy := s.policy.Get()
	if input.Amount < policy.MinPayoutAmount {
		s.finishPayout(ctx, &payout, domain.PayoutStatusRejected, "BELOW_MINIMUM")
		return domain.PayoutResult{PayoutRequest: payout},
			fmt.Errorf("%w: minimum is %d öre", domain.ErrBelowMinimum, policy.MinPayoutAmount)
	}

	gate, err := s.risk.CheckPayout(ctx, riskdomain.CheckRequest{
		AttemptID:  payout.ID.String(),
		CustomerID: payout.CustomerID,
		BusinessID: payout.BusinessID,
		IPAddress:  payout.IPAddress,
		Rail:       string(rail),
		Amount:     payout.Amount,
		Indicators: input.RiskIndicators,
	})
	if err != nil {
		s.finishPayout(ctx, &payout, domain.PayoutStatusFailed, "risk_check_failed")
		return domain.PayoutResult{PayoutRequest: payout}, err
	}
	if gate.Blocked() {
		s.finishPayout(ctx, &payout, domain.PayoutStatusBlocked, gate.Reason)
		s.recordAudit(ctx, payout, auditdomain.ActionPayoutBlocked, "payout_request", payout.ID.String(), map[string]any{
			"reason":     gate.Reason,
			"risk_score": gate.Assessment.Score,
		})
		result := domain.PayoutResult{PayoutRequest: payout, BlockReason: gate.Reason, RetryAt: gate.ResetAt}
		return result, domain.ErrPayoutBlocked
	}
	if gate.Decision == riskdomain.DecisionFlag {
		payout.Flagged = true
		s.recordAudit(ctx, payout, auditdomain.ActionPayoutFlagged, "payout_request", payout.ID.String(), map[string]any{
			"risk_score": gate.Assessment.Score,
			"confidence": gate.Assessment.Confidence,
		})
	}

	if err := validateDestination(rail, input.Destination); err != nil {
		s.finishPayout(ctx, &payout, domain.PayoutStatusRejected, "INVALID_DESTINATION")
		s.abandonAttempt(ctx, payout, gate)
		return domain.PayoutResult{PayoutRequest: payout}, err
	}

	adapter, err := s.registry.Adapter(rail)
	if err != nil {
		s.finishPayout(ctx, &payout, domain.PayoutStatusRejected, "RAIL_NOT_CONFIGURED")
		s.abandonAttempt(ctx, payout, gate)
		return domain.PayoutResult{PayoutRequest: payout}, err
	}

	cipher, err := s.sealDestination(input.Destination)
	if err != nil {
		s.finishPayout(ctx, &payout, domain.PayoutStatusFailed, "destination_seal_failed")
		s.abandonAttempt(ctx, payout, gate)
		return domain.PayoutResult{PayoutRequest: payout}, err
	}

	transfer := domain.Transfer{
		ID:                s.genID.Generate(),
		PayoutRequestID:   payout.ID,
		BusinessID:        payout.BusinessID,
		CustomerID:        payout.CustomerID,
		Rail:              rail,
		Amount:            payout.Amount,
		Currency:          payout.Currency,
		Status:            domain.TransferStatusCreated,
		DestinationMasked: maskDestination(input.Destination),
		DestinationCipher: cipher,
		Attempts:          0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateTransfer(ctx, s.db, &transfer); err != nil {
		s.finishPayout(ctx, &payout, domain.PayoutStatusFailed, "transfer_create_failed")
		s.abandonAttempt(ctx, payout, gate)
		return domain.PayoutResult{PayoutRequest: payout}, err
	}
	s.recordAudit(ctx, payout, auditdomain.ActionTransferCreated, "transfer", transfer.ID.String(), map[string]any{
		"amount":      transfer.Amount,
		"rail":        string(rail),
		"destination": map[string]any(transfer.DestinationMasked),
	})

	// The transfer must be visibly in flight before any external call so
	// a crash mid-call leaves a row reconciliation can chase.
	moved, err := s.repo.TransitionTransfer(ctx, s.db, transfer.ID,
		domain.TransferStatusCreated, domain.TransferStatusProcessing,
		map[string]any{"attempts": 1, "updated_at": now})
	if err != nil || !moved {
		s.finishPayout(ctx, &payout, domain.PayoutStatusFailed, "transfer_claim_failed")
		s.abandonAttempt(ctx, payout, gate)
		if err == nil {
			err = domain.ErrInvalidTransition
		}
		return domain.PayoutResult{PayoutRequest: payout}, err
	}
	transfer.Status = domain.TransferStatusProcessing
	transfer.Attempts = 1
	s.finishPayout(ctx, &payout, domain.PayoutStatusProcessing, "")

	s.executeTransfer(ctx, &payout, &transfer, adapter, input.Destination)

	result := domain.PayoutResult{PayoutRequest: payout, Transfer: &transfer}
	if transfer.Status == domain.TransferStatusFailed && transfer.FailureCode != "" {
		result.BlockReason = transfer.FailureCode
	}
	return result, nil
}

// executeTransfer performs one rail call and settles the transfer row into
// processing-with-ref, failed, or unknown. It never returns an error: the
// outcome is in the transfer status.
func (s *payoutService) executeTransfer(ctx context.Context, payout *domain.PayoutRequest, transfer *domain.Transfer, adapter domain.Adapter, dest domain.Destination) {
	railResult, err := adapter.CreateTransfer(ctx, *transfer, dest)
	now := s.clock.Now().UTC()

	switch {
	case err == nil:
		s.risk.RecordRailSuccess(ctx, string(transfer.Rail))
		estimated := railResult.EstimatedSettlement
		_, uerr := s.repo.TransitionTransfer(ctx, s.db, transfer.ID,
			domain.TransferStatusProcessing, domain.TransferStatusProcessing,
			map[string]any{
				"provider_ref":         railResult.ProviderRef,
				"estimated_settlement": estimated,
				"updated_at":           now,
			})
		if uerr != nil {
			s.log.Error("failed to store provider ref", zap.String("transfer_id", transfer.ID.String()), zap.Error(uerr))
		}
		transfer.ProviderRef = &railResult.ProviderRef
		transfer.EstimatedSettlement = &estimated
		s.recordMetric(ctx, transfer.Rail, "accepted")

	case errors.Is(err, domain.ErrRailTimeout):
		// The provider may have acted. Park the transfer as unknown;
		// only reconciliation may decide what actually happened.
		s.risk.RecordRailFailure(ctx, string(transfer.Rail))
		s.transition(ctx, transfer, domain.TransferStatusProcessing, domain.TransferStatusUnknown, map[string]any{
			"failure_code":    "timeout",
			"failure_message": err.Error(),
			"updated_at":      now,
		})
		s.finishPayout(ctx, payout, domain.PayoutStatusUnknown, "timeout")
		s.recordAudit(ctx, *payout, auditdomain.ActionTransferUnknown, "transfer", transfer.ID.String(), map[string]any{
			"rail": string(transfer.Rail),
		})
		s.recordMetric(ctx, transfer.Rail, "unknown")

	default:
		var railErr *domain.RailError
		transient := errors.As(err, &railErr) && railErr.Transient
		code, message := failureDetails(err)

		s.transition(ctx, transfer, domain.TransferStatusProcessing, domain.TransferStatusFailed, map[string]any{
			"failure_code":    code,
			"failure_message": message,
			"updated_at":      now,
		})
		s.recordMetric(ctx, transfer.Rail, "failed")

		if transient {
			s.risk.RecordRailFailure(ctx, string(transfer.Rail))
			s.scheduleRetry(ctx, payout, transfer, message)
			return
		}

		// Terminal rejection of this payout. The rail itself is fine,
		// so the breaker does not count it.
		s.finishPayout(ctx, payout, domain.PayoutStatusFailed, code)
		s.releaseVelocity(ctx, *payout)
		s.recordAudit(ctx, *payout, auditdomain.ActionTransferFailed, "transfer", transfer.ID.String(), map[string]any{
			"failure_code": code,
			"terminal":     true,
		})
	}
}

func (s *payoutService) RunRetry(ctx context.Context, task domain.RetryTask) error {
	transfer, err := s.repo.GetTransfer(ctx, s.db, task.TransferID)
	if err != nil {
		_ = s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, "transfer missing")
		return err
	}
	payout, err := s.repo.GetPayout(ctx, s.db, transfer.PayoutRequestID)
	if err != nil {
		_ = s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, "payout missing")
		return err
	}

	// The transfer may have settled through a webhook since the retry was
	// scheduled; a retry only applies to a still-failed transfer.
	now := s.clock.Now().UTC()
	moved, err := s.repo.TransitionTransfer(ctx, s.db, transfer.ID,
		domain.TransferStatusFailed, domain.TransferStatusProcessing,
		map[string]any{"attempts": transfer.Attempts + 1, "updated_at": now})
	if err != nil {
		_ = s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusPending, err.Error())
		return err
	}
	if !moved {
		return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, "transfer no longer failed")
	}
	transfer.Status = domain.TransferStatusProcessing
	transfer.Attempts++

	adapter, err := s.registry.Adapter(transfer.Rail)
	if err != nil {
		s.transition(ctx, transfer, domain.TransferStatusProcessing, domain.TransferStatusFailed, map[string]any{
			"failure_code": "RAIL_NOT_CONFIGURED",
			"updated_at":   now,
		})
		_ = s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, err.Error())
		return err
	}

	// The previous attempt may have reached the provider before failing,
	// so ask first. Resubmission is idempotent on our reference either
	// way; this just avoids a pointless call.
	outcome, err := adapter.LookupTransfer(ctx, transfer.ID)
	if err == nil && outcome.Found {
		event := domain.ProviderEvent{
			Provider:    string(transfer.Rail),
			EventID:     fmt.Sprintf("retry-%s-%d", task.ID.String(), transfer.Attempts),
			EventType:   "retry.lookup",
			ProviderRef: outcome.ProviderRef,
			TransferID:  transfer.ID,
			Completed:   outcome.Completed,
			FailureCode: outcome.FailureCode,
			SettledAt:   outcome.SettledAt,
		}
		if applyErr := s.ApplyProviderEvent(ctx, event); applyErr != nil && !errors.Is(applyErr, domain.ErrInvalidTransition) {
			_ = s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusPending, applyErr.Error())
			return applyErr
		}
		return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, "")
	}

	dest, err := s.unsealDestination(transfer)
	if err != nil {
		s.transition(ctx, transfer, domain.TransferStatusProcessing, domain.TransferStatusFailed, map[string]any{
			"failure_code": "destination_unreadable",
			"updated_at":   now,
		})
		s.finishPayout(ctx, payout, domain.PayoutStatusFailed, "destination_unreadable")
		s.releaseVelocity(ctx, *payout)
		return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusExhausted, err.Error())
	}

	railResult, err := adapter.CreateTransfer(ctx, *transfer, dest)
	if err == nil {
		s.risk.RecordRailSuccess(ctx, string(transfer.Rail))
		_, uerr := s.repo.TransitionTransfer(ctx, s.db, transfer.ID,
			domain.TransferStatusProcessing, domain.TransferStatusProcessing,
			map[string]any{
				"provider_ref": railResult.ProviderRef,
				"updated_at":   s.clock.Now().UTC(),
			})
		if uerr != nil {
			s.log.Error("failed to store provider ref on retry", zap.Error(uerr))
		}
		s.finishPayout(ctx, payout, domain.PayoutStatusProcessing, "")
		return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, "")
	}

	if errors.Is(err, domain.ErrRailTimeout) {
		s.risk.RecordRailFailure(ctx, string(transfer.Rail))
		s.transition(ctx, transfer, domain.TransferStatusProcessing, domain.TransferStatusUnknown, map[string]any{
			"failure_code": "timeout",
			"updated_at":   s.clock.Now().UTC(),
		})
		s.finishPayout(ctx, payout, domain.PayoutStatusUnknown, "timeout")
		return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, err.Error())
	}

	var railErr *domain.RailError
	transient := errors.As(err, &railErr) && railErr.Transient
	code, message := failureDetails(err)
	s.transition(ctx, transfer, domain.TransferStatusProcessing, domain.TransferStatusFailed, map[string]any{
		"failure_code":    code,
		"failure_message": message,
		"updated_at":      s.clock.Now().UTC(),
	})

	if transient {
		s.risk.RecordRailFailure(ctx, string(transfer.Rail))
		if transfer.Attempts >= s.policy.Get().Retry.MaxAttempts {
			s.finishPayout(ctx, payout, domain.PayoutStatusFailed, "RETRY_EXHAUSTED")
			s.releaseVelocity(ctx, *payout)
			s.recordAudit(ctx, *payout, auditdomain.ActionTransferFailed, "transfer", transfer.ID.String(), map[string]any{
				"failure_code": code,
				"attempts":     transfer.Attempts,
				"exhausted":    true,
			})
			return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusExhausted, message)
		}
		s.scheduleRetryAttempt(ctx, payout, transfer, transfer.Attempts, message)
		return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, message)
	}

	s.finishPayout(ctx, payout, domain.PayoutStatusFailed, code)
	s.releaseVelocity(ctx, *payout)
	s.recordAudit(ctx, *payout, auditdomain.ActionTransferFailed, "transfer", transfer.ID.String(), map[string]any{
		"failure_code": code,
		"terminal":     true,
	})
	return s.repo.FinishRetry(ctx, s.db, task.ID, domain.RetryStatusDone, message)
}

func (s *payoutService) ApplyProviderEvent(ctx context.Context, event domain.ProviderEvent) error {
	transfer, err := s.resolveTransfer(ctx, event)
	if err != nil {
		return err
	}
	payout, err := s.repo.GetPayout(ctx, s.db, transfer.PayoutRequestID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	if event.Completed {
		settledAt := now
		if event.SettledAt != nil {
			settledAt = event.SettledAt.UTC()
		}
		updates := map[string]any{
			"settled_at": settledAt,
			"updated_at": now,
		}
		if event.ProviderRef != "" {
			updates["provider_ref"] = event.ProviderRef
		}
		moved := s.transitionAny(ctx, transfer,
			[]domain.TransferStatus{domain.TransferStatusProcessing, domain.TransferStatusUnknown},
			domain.TransferStatusCompleted, updates)
		if !moved {
			if transfer.Status == domain.TransferStatusCompleted {
				return nil
			}
			return domain.ErrInvalidTransition
		}
		s.finishPayout(ctx, payout, domain.PayoutStatusCompleted, "")
		s.recordAudit(ctx, *payout, auditdomain.ActionTransferCompleted, "transfer", transfer.ID.String(), map[string]any{
			"provider_ref": event.ProviderRef,
			"settled_at":   settledAt,
		})
		s.recordMetric(ctx, transfer.Rail, "completed")
		return nil
	}

	code := event.FailureCode
	if code == "" {
		code = "provider_failed"
	}
	moved := s.transitionAny(ctx, transfer,
		[]domain.TransferStatus{domain.TransferStatusProcessing, domain.TransferStatusUnknown},
		domain.TransferStatusFailed, map[string]any{
			"failure_code": code,
			"updated_at":   now,
		})
	if !moved {
		if transfer.Status == domain.TransferStatusFailed {
			return nil
		}
		return domain.ErrInvalidTransition
	}
	s.finishPayout(ctx, payout, domain.PayoutStatusFailed, code)
	s.releaseVelocity(ctx, *payout)
	s.recordAudit(ctx, *payout, auditdomain.ActionTransferFailed, "transfer", transfer.ID.String(), map[string]any{
		"failure_code": code,
		"source":       event.EventType,
	})
	s.recordMetric(ctx, transfer.Rail, "failed")
	return nil
}

func (s *payoutService) GetTransfer(ctx context.Context, id snowflake.ID) (*domain.Transfer, error) {
	return s.repo.GetTransfer(ctx, s.db, id)
}

func (s *payoutService) resolveTransfer(ctx context.Context, event domain.ProviderEvent) (*domain.Transfer, error) {
	if event.TransferID != 0 {
		return s.repo.GetTransfer(ctx, s.db, event.TransferID)
	}
	if ref := strings.TrimSpace(event.ProviderRef); ref != "" {
		return s.repo.GetTransferByProviderRef(ctx, s.db, domain.Rail(event.Provider), ref)
	}
	return nil, domain.ErrTransferNotFound
}

func (s *payoutService) scheduleRetry(ctx context.Context, payout *domain.PayoutRequest, transfer *domain.Transfer, lastError string) {
	s.scheduleRetryAttempt(ctx, payout, transfer, transfer.Attempts, lastError)
}

func (s *payoutService) scheduleRetryAttempt(ctx context.Context, payout *domain.PayoutRequest, transfer *domain.Transfer, attempt int, lastError string) {
	retry := s.policy.Get().Retry
	now := s.clock.Now().UTC()
	task := domain.RetryTask{
		ID:         s.genID.Generate(),
		TransferID: transfer.ID,
		Attempt:    attempt,
		DueAt:      now.Add(backoff(retry, attempt)),
		Status:     domain.RetryStatusPending,
		LastError:  lastError,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateRetry(ctx, s.db, &task); err != nil {
		s.log.Error("failed to schedule retry", zap.String("transfer_id", transfer.ID.String()), zap.Error(err))
		return
	}
	s.recordAudit(ctx, *payout, auditdomain.ActionRetryScheduled, "transfer", transfer.ID.String(), map[string]any{
		"attempt": attempt,
		"due_at":  task.DueAt,
	})
	if s.metrics != nil {
		s.metrics.RecordRetryScheduled(ctx, string(transfer.Rail))
	}
}

// backoff doubles (by policy multiplier) per attempt, capped at the maximum.
func backoff(retry config.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(retry.InitialBackoff) * math.Pow(retry.Multiplier, float64(attempt-1))
	if max := float64(retry.MaxBackoff); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

func (s *payoutService) transition(ctx context.Context, transfer *domain.Transfer, from, to domain.TransferStatus, updates map[string]any) {
	moved, err := s.repo.TransitionTransfer(ctx, s.db, transfer.ID, from, to, updates)
	if err != nil {
		s.log.Error("transfer transition failed",
			zap.String("transfer_id", transfer.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return
	}
	if moved {
		transfer.Status = to
		if code, ok := updates["failure_code"].(string); ok {
			transfer.FailureCode = code
		}
		if message, ok := updates["failure_message"].(string); ok {
			transfer.FailureMessage = message
		}
	}
}

func (s *payoutService) transitionAny(ctx context.Context, transfer *domain.Transfer, from []domain.TransferStatus, to domain.TransferStatus, updates map[string]any) bool {
	for _, status := range from {
		moved, err := s.repo.TransitionTransfer(ctx, s.db, transfer.ID, status, to, updates)
		if err != nil {
			s.log.Error("transfer transition failed", zap.String("transfer_id", transfer.ID.String()), zap.Error(err))
			return false
		}
		if moved {
			transfer.Status = to
			return true
		}
	}
	return false
}

func (s *payoutService) finishPayout(ctx context.Context, payout *domain.PayoutRequest, status domain.PayoutStatus, reason string) {
	if err := s.repo.UpdatePayoutStatus(ctx, s.db, payout.ID, status, reason); err != nil {
		s.log.Error("failed to update payout status",
			zap.String("payout_id", payout.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	payout.Status = status
	payout.Reason = reason
}

// abandonAttempt undoes the risk gate's side effects for an attempt that
// passed the gate but never reached the rail: the velocity reservation goes
// back, and if the attempt held the rail's half-open probe slot that slot is
// returned so the rail does not stay stuck rejecting everything.
func (s *payoutService) abandonAttempt(ctx context.Context, payout domain.PayoutRequest, gate riskdomain.CheckResult) {
	s.releaseVelocity(ctx, payout)
	if gate.CircuitState == riskdomain.CircuitHalfOpen {
		s.risk.CancelRailProbe(ctx, string(payout.Rail))
	}
}

func (s *payoutService) releaseVelocity(ctx context.Context, payout domain.PayoutRequest) {
	err := s.risk.ReleaseVelocity(ctx, riskdomain.CheckRequest{
		AttemptID:  payout.ID.String(),
		CustomerID: payout.CustomerID,
		IPAddress:  payout.IPAddress,
	})
	if err != nil {
		s.log.Error("failed to release velocity quota", zap.String("payout_id", payout.ID.String()), zap.Error(err))
	}
}

func (s *payoutService) recordAudit(ctx context.Context, payout domain.PayoutRequest, action, targetType, targetID string, metadata map[string]any) {
	err := s.audit.Record(ctx, auditdomain.Entry{
		BusinessID: payout.BusinessID,
		ActorType:  auditdomain.ActorTypeCustomer,
		ActorID:    payout.CustomerID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *payoutService) recordMetric(ctx context.Context, rail domain.Rail, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPayoutAttempt(ctx, string(rail), outcome)
	}
}

func (s *payoutService) sealDestination(dest domain.Destination) ([]byte, error) {
	plain, err := json.Marshal(dest)
	if err != nil {
		return nil, err
	}
	return s.sealer.Seal(plain)
}

func (s *payoutService) unsealDestination(transfer *domain.Transfer) (domain.Destination, error) {
	plain, err := s.sealer.Open(transfer.DestinationCipher)
	if err != nil {
		return domain.Destination{}, err
	}
	var dest domain.Destination
	if err := json.Unmarshal(plain, &dest); err != nil {
		return domain.Destination{}, err
	}
	return dest, nil
}

func validateDestination(rail domain.Rail, dest domain.Destination) error {
	switch rail {
	case domain.RailBankTransfer:
		if result := swedishbank.ValidateBankAccount(dest.ClearingNumber, dest.AccountNumber); !result.Valid {
			return fmt.Errorf("%w: %s", domain.ErrInvalidDestination, result.Err)
		}
	case domain.RailSwish:
		if result := swedishbank.ValidateSwishNumber(dest.SwishNumber); !result.Valid {
			return fmt.Errorf("%w: %s", domain.ErrInvalidDestination, result.Err)
		}
	case domain.RailBankgiro:
		if result := swedishbank.ValidateBankgiroNumber(dest.BankgiroNumber); !result.Valid {
			return fmt.Errorf("%w: %s", domain.ErrInvalidDestination, result.Err)
		}
	default:
		return domain.ErrUnsupportedRail
	}
	return nil
}

func maskDestination(dest domain.Destination) datatypes.JSONMap {
	masked := datatypes.JSONMap{"rail": string(dest.Rail)}
	switch dest.Rail {
	case domain.RailBankTransfer:
		masked["clearing_number"] = masking.MaskNumber(dest.ClearingNumber)
		masked["account_number"] = masking.MaskNumber(dest.AccountNumber)
		if bank := swedishbank.BankName(dest.ClearingNumber); bank != "" {
			masked["bank"] = bank
		}
	case domain.RailSwish:
		masked["swish_number"] = masking.MaskNumber(dest.SwishNumber)
	case domain.RailBankgiro:
		masked["bankgiro_number"] = masking.MaskNumber(dest.BankgiroNumber)
	}
	return masked
}

func failureDetails(err error) (string, string) {
	var railErr *domain.RailError
	if errors.As(err, &railErr) {
		return railErr.Code, railErr.Message
	}
	return "rail_error", err.Error()
}
