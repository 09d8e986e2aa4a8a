package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
	auditrepo "github.com/svarade/payoutcore/internal/audit/repository"
	auditservice "github.com/svarade/payoutcore/internal/audit/service"
	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/payout/rails"
	"github.com/svarade/payoutcore/internal/payout/repository"
	"github.com/svarade/payoutcore/internal/risk/circuit"
	riskdomain "github.com/svarade/payoutcore/internal/risk/domain"
	"github.com/svarade/payoutcore/internal/risk/fraud"
	riskservice "github.com/svarade/payoutcore/internal/risk/service"
	"github.com/svarade/payoutcore/internal/risk/velocity"
	"github.com/svarade/payoutcore/pkg/sealed"
)

// fakeAdapter scripts one rail's behaviour per test.
type fakeAdapter struct {
	rail domain.Rail

	createResult domain.RailResult
	createErr    error
	createCalls  int

	lookupOutcome domain.RailOutcome
	lookupErr     error
}

func (f *fakeAdapter) Rail() domain.Rail { return f.rail }

func (f *fakeAdapter) CreateTransfer(_ context.Context, _ domain.Transfer, _ domain.Destination) (domain.RailResult, error) {
	f.createCalls++
	if f.createErr != nil {
		return domain.RailResult{}, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeAdapter) LookupTransfer(_ context.Context, _ snowflake.ID) (domain.RailOutcome, error) {
	if f.lookupErr != nil {
		return domain.RailOutcome{}, f.lookupErr
	}
	return f.lookupOutcome, nil
}

func (f *fakeAdapter) VerifyWebhook([]byte, map[string]string) error { return nil }

func (f *fakeAdapter) ParseWebhook([]byte) (*domain.ProviderEvent, error) {
	return nil, domain.ErrInvalidInput
}

type fixture struct {
	svc     domain.Service
	repo    domain.Repository
	risk    riskdomain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	adapter *fakeAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.PayoutRequest{},
		&domain.Transfer{},
		&domain.RetryTask{},
		&domain.WebhookEvent{},
		&auditdomain.AuditEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticPolicyHolder(config.DefaultPayoutPolicy())
	log := zap.NewNop()

	breaker := circuit.New(clk, func() circuit.Settings {
		p := holder.Get().Circuit
		return circuit.Settings{
			FailureThreshold: p.FailureThreshold,
			FailureWindow:    p.FailureWindow,
			Cooldown:         p.Cooldown,
		}
	})
	riskSvc := riskservice.NewService(riskservice.Params{
		Log:     log,
		Policy:  holder,
		Breaker: breaker,
		Store:   velocity.NewMemoryStore(clk),
		Scorer:  fraud.NewScorer(),
	})

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		Clock: clk,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})

	sealer, err := sealed.New("test-sealing-secret")
	require.NoError(t, err)

	adapter := &fakeAdapter{
		rail: domain.RailSwish,
		createResult: domain.RailResult{
			ProviderRef:         "swish-ref-1",
			EstimatedSettlement: clk.Now().Add(time.Minute),
		},
	}

	repo := repository.Provide()
	svc := NewService(Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		GenID:    node,
		Policy:   holder,
		Repo:     repo,
		Registry: rails.NewRegistry(adapter),
		Risk:     riskSvc,
		Audit:    auditSvc,
		Sealer:   sealer,
	})

	return &fixture{svc: svc, repo: repo, risk: riskSvc, db: db, clock: clk, adapter: adapter}
}

func swishInput(amount int64) domain.PayoutInput {
	return domain.PayoutInput{
		BusinessID: "biz_001",
		CustomerID: "cust_001",
		Amount:     amount,
		Destination: domain.Destination{
			Rail:        domain.RailSwish,
			SwishNumber: "0701234567",
		},
	}
}

func TestRequestPayoutHappyPath(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.RequestPayout(context.Background(), swishInput(2_500))
	require.NoError(t, err)

	assert.Equal(t, domain.PayoutStatusProcessing, result.PayoutRequest.Status)
	require.NotNil(t, result.Transfer)
	assert.Equal(t, domain.TransferStatusProcessing, result.Transfer.Status)
	assert.Equal(t, 1, result.Transfer.Attempts)
	require.NotNil(t, result.Transfer.ProviderRef)
	assert.Equal(t, "swish-ref-1", *result.Transfer.ProviderRef)

	// The stored destination is masked; the full number is sealed.
	assert.Equal(t, "****4567", result.Transfer.DestinationMasked["swish_number"])
	assert.NotEmpty(t, result.Transfer.DestinationCipher)
	assert.NotContains(t, string(result.Transfer.DestinationCipher), "0701234567")

	var count int64
	f.db.Model(&auditdomain.AuditEntry{}).Where("action = ?", auditdomain.ActionTransferCreated).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRequestPayoutBelowMinimum(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.RequestPayout(context.Background(), swishInput(999))
	assert.ErrorIs(t, err, domain.ErrBelowMinimum)
	assert.Equal(t, domain.PayoutStatusRejected, result.PayoutRequest.Status)
	assert.Equal(t, "BELOW_MINIMUM", result.PayoutRequest.Reason)
	assert.Nil(t, result.Transfer)

	var transfers int64
	f.db.Model(&domain.Transfer{}).Count(&transfers)
	assert.Zero(t, transfers)
}

func TestRequestPayoutInvalidDestination(t *testing.T) {
	f := newFixture(t)

	input := swishInput(2_500)
	input.Destination.SwishNumber = "0811234567"

	result, err := f.svc.RequestPayout(context.Background(), input)
	assert.ErrorIs(t, err, domain.ErrInvalidDestination)
	assert.Equal(t, domain.PayoutStatusRejected, result.PayoutRequest.Status)
	assert.Zero(t, f.adapter.createCalls)

	// The rejected request gave its velocity slot back.
	for i := 0; i < 5; i++ {
		_, err := f.svc.RequestPayout(context.Background(), swishInput(2_500))
		require.NoError(t, err, "attempt %d", i)
	}
}

func TestRequestPayoutInvalidDestinationReturnsProbe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Trip the swish circuit and let the cooldown elapse.
	for i := 0; i < 3; i++ {
		f.risk.RecordRailFailure(ctx, string(domain.RailSwish))
	}
	f.clock.Advance(time.Minute)

	// The half-open probe attempt is rejected on destination validation
	// before any rail call.
	bad := swishInput(2_500)
	bad.Destination.SwishNumber = "0811234567"
	_, err := f.svc.RequestPayout(ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidDestination)
	require.Zero(t, f.adapter.createCalls)

	// The probe slot came back, so the next attempt reaches the rail
	// instead of the whole rail staying stuck on the circuit reason.
	result, err := f.svc.RequestPayout(ctx, swishInput(2_500))
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusProcessing, result.PayoutRequest.Status)
	assert.Equal(t, 1, f.adapter.createCalls)
}

func TestRequestPayoutVelocityBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.RequestPayout(ctx, swishInput(2_500))
		require.NoError(t, err)
	}

	result, err := f.svc.RequestPayout(ctx, swishInput(2_500))
	assert.ErrorIs(t, err, domain.ErrPayoutBlocked)
	assert.Equal(t, domain.PayoutStatusBlocked, result.PayoutRequest.Status)
	assert.Equal(t, riskdomain.ReasonVelocityCustomer, result.BlockReason)
	require.NotNil(t, result.RetryAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *result.RetryAt)
	assert.Equal(t, 5, f.adapter.createCalls)
}

func TestRequestPayoutTerminalFailure(t *testing.T) {
	f := newFixture(t)
	f.adapter.createErr = &domain.RailError{Code: "account_closed", Message: "payee account closed"}

	result, err := f.svc.RequestPayout(context.Background(), swishInput(2_500))
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, result.PayoutRequest.Status)
	assert.Equal(t, domain.TransferStatusFailed, result.Transfer.Status)
	assert.Equal(t, "account_closed", result.Transfer.FailureCode)

	// Terminal failures never schedule retries.
	var retries int64
	f.db.Model(&domain.RetryTask{}).Count(&retries)
	assert.Zero(t, retries)

	// And the money never moved, so quota came back.
	for i := 0; i < 5; i++ {
		f.adapter.createErr = nil
		_, err := f.svc.RequestPayout(context.Background(), swishInput(2_500))
		require.NoError(t, err)
	}
}

func TestRequestPayoutTransientFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	f.adapter.createErr = &domain.RailError{Code: "service_unavailable", Transient: true}

	result, err := f.svc.RequestPayout(context.Background(), swishInput(2_500))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, result.Transfer.Status)

	var task domain.RetryTask
	require.NoError(t, f.db.First(&task).Error)
	assert.Equal(t, result.Transfer.ID, task.TransferID)
	assert.Equal(t, 1, task.Attempt)
	assert.Equal(t, domain.RetryStatusPending, task.Status)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), task.DueAt.UTC())
}

func TestRequestPayoutTimeoutIsUnknown(t *testing.T) {
	f := newFixture(t)
	f.adapter.createErr = domain.ErrRailTimeout

	result, err := f.svc.RequestPayout(context.Background(), swishInput(2_500))
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusUnknown, result.PayoutRequest.Status)
	assert.Equal(t, domain.TransferStatusUnknown, result.Transfer.Status)

	// Unknown outcomes are never retried blindly; reconciliation owns them.
	var retries int64
	f.db.Model(&domain.RetryTask{}).Count(&retries)
	assert.Zero(t, retries)
}

func TestRunRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.createErr = &domain.RailError{Code: "service_unavailable", Transient: true}

	result, err := f.svc.RequestPayout(ctx, swishInput(2_500))
	require.NoError(t, err)

	// Rail is back by the time the retry is due.
	f.adapter.createErr = nil
	f.clock.Advance(time.Minute)

	claimed, err := f.repo.ClaimDueRetries(ctx, f.db, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, f.svc.RunRetry(ctx, *claimed[0]))

	transfer, err := f.svc.GetTransfer(ctx, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusProcessing, transfer.Status)
	assert.Equal(t, 2, transfer.Attempts)
	require.NotNil(t, transfer.ProviderRef)

	var task domain.RetryTask
	require.NoError(t, f.db.First(&task).Error)
	assert.Equal(t, domain.RetryStatusDone, task.Status)
}

func TestRunRetryResolvesViaLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.createErr = &domain.RailError{Code: "service_unavailable", Transient: true}

	result, err := f.svc.RequestPayout(ctx, swishInput(2_500))
	require.NoError(t, err)

	// The first submission actually went through; the provider says paid.
	settled := f.clock.Now()
	f.adapter.lookupOutcome = domain.RailOutcome{
		Found:       true,
		Completed:   true,
		ProviderRef: "swish-ref-9",
		SettledAt:   &settled,
	}
	f.clock.Advance(time.Minute)

	claimed, err := f.repo.ClaimDueRetries(ctx, f.db, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, f.svc.RunRetry(ctx, *claimed[0]))

	transfer, err := f.svc.GetTransfer(ctx, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCompleted, transfer.Status)
	assert.Equal(t, 1, f.adapter.createCalls, "no second submission")
}

func TestRunRetryExhausts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.adapter.createErr = &domain.RailError{Code: "service_unavailable", Transient: true}
	f.adapter.lookupErr = &domain.RailError{Code: "service_unavailable", Transient: true}

	result, err := f.svc.RequestPayout(ctx, swishInput(2_500))
	require.NoError(t, err)

	maxAttempts := config.DefaultPayoutPolicy().Retry.MaxAttempts
	for attempt := 2; attempt <= maxAttempts; attempt++ {
		f.clock.Advance(time.Hour)
		claimed, err := f.repo.ClaimDueRetries(ctx, f.db, f.clock.Now(), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)
		require.NoError(t, f.svc.RunRetry(ctx, *claimed[0]))
	}

	transfer, err := f.svc.GetTransfer(ctx, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, transfer.Status)
	assert.Equal(t, maxAttempts, transfer.Attempts)

	payout, err := f.repo.GetPayout(ctx, f.db, result.PayoutRequest.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutStatusFailed, payout.Status)
	assert.Equal(t, "RETRY_EXHAUSTED", payout.Reason)

	var exhausted int64
	f.db.Model(&domain.RetryTask{}).Where("status = ?", domain.RetryStatusExhausted).Count(&exhausted)
	assert.Equal(t, int64(1), exhausted)
}

func TestApplyProviderEventCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.RequestPayout(ctx, swishInput(2_500))
	require.NoError(t, err)

	settled := f.clock.Now().Add(30 * time.Second)
	event := domain.ProviderEvent{
		Provider:    string(domain.RailSwish),
		EventID:     "evt-1",
		EventType:   "payout.paid",
		ProviderRef: "swish-ref-1",
		TransferID:  result.Transfer.ID,
		Completed:   true,
		SettledAt:   &settled,
	}
	require.NoError(t, f.svc.ApplyProviderEvent(ctx, event))

	transfer, err := f.svc.GetTransfer(ctx, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCompleted, transfer.Status)
	require.NotNil(t, transfer.SettledAt)
	assert.Equal(t, settled.UTC(), transfer.SettledAt.UTC())

	// Reapplying the same outcome is a no-op.
	require.NoError(t, f.svc.ApplyProviderEvent(ctx, event))
}

func TestApplyProviderEventFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.RequestPayout(ctx, swishInput(2_500))
	require.NoError(t, err)

	require.NoError(t, f.svc.ApplyProviderEvent(ctx, domain.ProviderEvent{
		Provider:    string(domain.RailSwish),
		EventID:     "evt-2",
		EventType:   "payout.error",
		TransferID:  result.Transfer.ID,
		FailureCode: "payee_not_enrolled",
	}))

	transfer, err := f.svc.GetTransfer(ctx, result.Transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, transfer.Status)
	assert.Equal(t, "payee_not_enrolled", transfer.FailureCode)

	// A failed transfer cannot be flipped back to completed.
	err = f.svc.ApplyProviderEvent(ctx, domain.ProviderEvent{
		Provider:   string(domain.RailSwish),
		EventID:    "evt-3",
		TransferID: result.Transfer.ID,
		Completed:  true,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	retry := config.DefaultPayoutPolicy().Retry

	assert.Equal(t, 30*time.Second, backoff(retry, 1))
	assert.Equal(t, time.Minute, backoff(retry, 2))
	assert.Equal(t, 8*time.Minute, backoff(retry, 5))
	assert.Equal(t, 30*time.Minute, backoff(retry, 7))
	assert.Equal(t, 30*time.Minute, backoff(retry, 20))
}
