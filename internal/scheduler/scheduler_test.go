package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/svarade/payoutcore/internal/clock"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	payoutrepo "github.com/svarade/payoutcore/internal/payout/repository"
	recondomain "github.com/svarade/payoutcore/internal/reconciliation/domain"
)

type stubPayouts struct {
	retries []payoutdomain.RetryTask
}

func (s *stubPayouts) RequestPayout(context.Context, payoutdomain.PayoutInput) (payoutdomain.PayoutResult, error) {
	return payoutdomain.PayoutResult{}, payoutdomain.ErrInvalidInput
}

func (s *stubPayouts) RunRetry(_ context.Context, task payoutdomain.RetryTask) error {
	s.retries = append(s.retries, task)
	return nil
}

func (s *stubPayouts) ApplyProviderEvent(context.Context, payoutdomain.ProviderEvent) error {
	return nil
}

func (s *stubPayouts) GetTransfer(context.Context, snowflake.ID) (*payoutdomain.Transfer, error) {
	return nil, payoutdomain.ErrTransferNotFound
}

type stubRecon struct {
	sweeps   int
	resolved int
}

func (s *stubRecon) ReconcileProvider(context.Context, payoutdomain.Rail, []recondomain.ProviderRecord, time.Time, time.Time) (recondomain.ReconcileSummary, error) {
	return recondomain.ReconcileSummary{}, nil
}

func (s *stubRecon) ResolveUnknownTransfers(context.Context, time.Duration, int) (int, error) {
	s.sweeps++
	return s.resolved, nil
}

func (s *stubRecon) MatchBankStatement(context.Context, string, []recondomain.StatementEntry) (recondomain.StatementResult, error) {
	return recondomain.StatementResult{}, nil
}

func (s *stubRecon) ResolveDiscrepancy(context.Context, snowflake.ID, string) error { return nil }

func (s *stubRecon) GenerateDailyReport(context.Context, string, time.Time) (recondomain.DailyReport, error) {
	return recondomain.DailyReport{}, nil
}

func (s *stubRecon) GetStatusSummary(context.Context, string, time.Time) (recondomain.StatusSummary, error) {
	return recondomain.StatusSummary{}, nil
}

func (s *stubRecon) GenerateComplianceReport(context.Context, string, time.Time, time.Time) (recondomain.ComplianceReport, error) {
	return recondomain.ComplianceReport{}, nil
}

func (s *stubRecon) ExportAudit(context.Context, string, time.Time, time.Time) ([]byte, error) {
	return nil, nil
}

func (s *stubRecon) GenerateCommissionInvoice(context.Context, string, time.Time, time.Time) (recondomain.CommissionInvoice, error) {
	return recondomain.CommissionInvoice{}, nil
}

func (s *stubRecon) SummarizeCommission(context.Context, string, time.Time, time.Time) (recondomain.CommissionSummary, error) {
	return recondomain.CommissionSummary{}, nil
}

func (s *stubRecon) RenderCommissionInvoicePDF(context.Context, snowflake.ID) (io.Reader, error) {
	return nil, nil
}

func (s *stubRecon) AdjustCommission(context.Context, snowflake.ID, int64, string) (recondomain.CommissionAdjustment, error) {
	return recondomain.CommissionAdjustment{}, nil
}

type fixture struct {
	sched   *Scheduler
	db      *gorm.DB
	clock   *clock.FakeClock
	node    *snowflake.Node
	payouts *stubPayouts
	recon   *stubRecon
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&payoutdomain.Transfer{},
		&payoutdomain.RetryTask{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC))
	payouts := &stubPayouts{}
	recon := &stubRecon{}

	sched, err := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		PayoutSvc:  payouts,
		PayoutRepo: payoutrepo.Provide(),
		ReconSvc:   recon,
	})
	require.NoError(t, err)

	return &fixture{sched: sched, db: db, clock: clk, node: node, payouts: payouts, recon: recon}
}

func TestRetryPumpClaimsDueTasks(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now().UTC()

	due := &payoutdomain.RetryTask{
		ID:         f.node.Generate(),
		TransferID: f.node.Generate(),
		Attempt:    1,
		DueAt:      now.Add(-time.Minute),
		Status:     payoutdomain.RetryStatusPending,
		CreatedAt:  now.Add(-time.Hour),
		UpdatedAt:  now.Add(-time.Hour),
	}
	notDue := &payoutdomain.RetryTask{
		ID:         f.node.Generate(),
		TransferID: f.node.Generate(),
		Attempt:    1,
		DueAt:      now.Add(time.Hour),
		Status:     payoutdomain.RetryStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.db.Create(due).Error)
	require.NoError(t, f.db.Create(notDue).Error)

	require.NoError(t, f.sched.RetryPumpJob(context.Background()))

	require.Len(t, f.payouts.retries, 1)
	assert.Equal(t, due.ID, f.payouts.retries[0].ID)

	// The due task was claimed; the future one is untouched. Each lookup
	// uses its own destination so gorm does not fold the previous row's
	// primary key into the query.
	var claimed payoutdomain.RetryTask
	require.NoError(t, f.db.First(&claimed, "id = ?", due.ID).Error)
	assert.Equal(t, payoutdomain.RetryStatusRunning, claimed.Status)
	var pending payoutdomain.RetryTask
	require.NoError(t, f.db.First(&pending, "id = ?", notDue.ID).Error)
	assert.Equal(t, payoutdomain.RetryStatusPending, pending.Status)
}

func TestUnknownSweepDelegates(t *testing.T) {
	f := newFixture(t)
	f.recon.resolved = 2

	require.NoError(t, f.sched.UnknownSweepJob(context.Background()))
	assert.Equal(t, 1, f.recon.sweeps)
}

func TestStuckProcessingParksOldTransfers(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now().UTC()

	stale := &payoutdomain.Transfer{
		ID:        f.node.Generate(),
		Rail:      payoutdomain.RailSwish,
		Amount:    5_000,
		Currency:  "SEK",
		Status:    payoutdomain.TransferStatusProcessing,
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now.Add(-2 * time.Hour),
	}
	fresh := &payoutdomain.Transfer{
		ID:        f.node.Generate(),
		Rail:      payoutdomain.RailSwish,
		Amount:    5_000,
		Currency:  "SEK",
		Status:    payoutdomain.TransferStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(stale).Error)
	require.NoError(t, f.db.Create(fresh).Error)

	require.NoError(t, f.sched.StuckProcessingJob(context.Background()))

	var parked payoutdomain.Transfer
	require.NoError(t, f.db.First(&parked, "id = ?", stale.ID).Error)
	assert.Equal(t, payoutdomain.TransferStatusUnknown, parked.Status)

	// A transfer updated recently stays in processing.
	var kept payoutdomain.Transfer
	require.NoError(t, f.db.First(&kept, "id = ?", fresh.ID).Error)
	assert.Equal(t, payoutdomain.TransferStatusProcessing, kept.Status)
}

func TestRunOnceAggregatesJobs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.recon.sweeps)
}
