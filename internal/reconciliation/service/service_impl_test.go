package service

import (
	"context"
	"encoding/json"
	"io"
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
	"github.com/svarade/payoutcore/internal/auditcontext"
	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/payout/rails"
	payoutrepo "github.com/svarade/payoutcore/internal/payout/repository"
	payoutservice "github.com/svarade/payoutcore/internal/payout/service"
	"github.com/svarade/payoutcore/internal/reconciliation/domain"
	"github.com/svarade/payoutcore/internal/reconciliation/repository"
	"github.com/svarade/payoutcore/internal/risk/circuit"
	"github.com/svarade/payoutcore/internal/risk/fraud"
	riskservice "github.com/svarade/payoutcore/internal/risk/service"
	"github.com/svarade/payoutcore/internal/risk/velocity"
	"github.com/svarade/payoutcore/pkg/sealed"
)

type fakeAdapter struct {
	rail payoutdomain.Rail

	lookupOutcome payoutdomain.RailOutcome
	lookupErr     error
	lookupCalls   int
}

func (f *fakeAdapter) Rail() payoutdomain.Rail { return f.rail }

func (f *fakeAdapter) CreateTransfer(_ context.Context, _ payoutdomain.Transfer, _ payoutdomain.Destination) (payoutdomain.RailResult, error) {
	return payoutdomain.RailResult{}, payoutdomain.ErrInvalidInput
}

func (f *fakeAdapter) LookupTransfer(_ context.Context, _ snowflake.ID) (payoutdomain.RailOutcome, error) {
	f.lookupCalls++
	if f.lookupErr != nil {
		return payoutdomain.RailOutcome{}, f.lookupErr
	}
	return f.lookupOutcome, nil
}

func (f *fakeAdapter) VerifyWebhook([]byte, map[string]string) error { return nil }

func (f *fakeAdapter) ParseWebhook([]byte) (*payoutdomain.ProviderEvent, error) {
	return nil, payoutdomain.ErrInvalidInput
}

type fixture struct {
	svc     domain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	node    *snowflake.Node
	adapter *fakeAdapter
	sealer  *sealed.Sealer
	audit   auditdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&payoutdomain.PayoutRequest{},
		&payoutdomain.Transfer{},
		&payoutdomain.RetryTask{},
		&payoutdomain.WebhookEvent{},
		&auditdomain.AuditEntry{},
		&domain.Discrepancy{},
		&domain.CommissionInvoice{},
		&domain.CommissionAdjustment{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 4, 20, 8, 0, 0, 0, time.UTC))
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

	adapter := &fakeAdapter{rail: payoutdomain.RailSwish}
	registry := rails.NewRegistry(adapter)
	pRepo := payoutrepo.Provide()

	payoutSvc := payoutservice.NewService(payoutservice.Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		GenID:    node,
		Policy:   holder,
		Repo:     pRepo,
		Registry: registry,
		Risk:     riskSvc,
		Audit:    auditSvc,
		Sealer:   sealer,
	})

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		GenID:    node,
		Policy:   holder,
		Repo:     repository.Provide(),
		Payouts:  payoutSvc,
		PayoutDB: pRepo,
		Registry: registry,
		Audit:    auditSvc,
		Sealer:   sealer,
	})

	return &fixture{svc: svc, db: db, clock: clk, node: node, adapter: adapter, sealer: sealer, audit: auditSvc}
}

// seedTransfer inserts a payout request and its transfer directly, as if the
// router had run earlier.
func (f *fixture) seedTransfer(t *testing.T, status payoutdomain.TransferStatus, amount int64, providerRef string) *payoutdomain.Transfer {
	t.Helper()

	now := f.clock.Now().UTC()
	payout := &payoutdomain.PayoutRequest{
		ID:         f.node.Generate(),
		BusinessID: "biz_001",
		CustomerID: "cust_001",
		Amount:     amount,
		Currency:   "SEK",
		Rail:       payoutdomain.RailSwish,
		Status:     payoutdomain.PayoutStatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.db.Create(payout).Error)

	transfer := &payoutdomain.Transfer{
		ID:              f.node.Generate(),
		PayoutRequestID: payout.ID,
		BusinessID:      "biz_001",
		CustomerID:      "cust_001",
		Rail:            payoutdomain.RailSwish,
		Amount:          amount,
		Currency:        "SEK",
		Status:          status,
		Attempts:        1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if providerRef != "" {
		transfer.ProviderRef = &providerRef
	}
	if status == payoutdomain.TransferStatusCompleted {
		settled := now
		transfer.SettledAt = &settled
	}
	require.NoError(t, f.db.Create(transfer).Error)
	return transfer
}

func (f *fixture) window() (time.Time, time.Time) {
	now := f.clock.Now().UTC()
	return now.Add(-24 * time.Hour), now.Add(24 * time.Hour)
}

func (f *fixture) openDiscrepancies(t *testing.T) []*domain.Discrepancy {
	t.Helper()
	var out []*domain.Discrepancy
	require.NoError(t, f.db.Where("status = ?", domain.DiscrepancyOpen).Order("id asc").Find(&out).Error)
	return out
}

func TestReconcileProviderSettlesOpenTransfer(t *testing.T) {
	f := newFixture(t)
	transfer := f.seedTransfer(t, payoutdomain.TransferStatusProcessing, 5_000, "swish-ref-1")

	start, end := f.window()
	settled := f.clock.Now().UTC()
	summary, err := f.svc.ReconcileProvider(context.Background(), payoutdomain.RailSwish, []domain.ProviderRecord{{
		ProviderRef: "swish-ref-1",
		Reference:   transfer.ID.String(),
		Amount:      5_000,
		Completed:   true,
		SettledAt:   &settled,
	}}, start, end)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Settled)
	assert.Zero(t, summary.OrphansAtProvider)
	assert.Zero(t, summary.MissingAtProvider)

	var got payoutdomain.Transfer
	require.NoError(t, f.db.First(&got, "id = ?", transfer.ID).Error)
	assert.Equal(t, payoutdomain.TransferStatusCompleted, got.Status)

	var payout payoutdomain.PayoutRequest
	require.NoError(t, f.db.First(&payout, "id = ?", transfer.PayoutRequestID).Error)
	assert.Equal(t, payoutdomain.PayoutStatusCompleted, payout.Status)

	assert.Empty(t, f.openDiscrepancies(t))
}

func TestReconcileProviderOrphanOpensDiscrepancy(t *testing.T) {
	f := newFixture(t)

	start, end := f.window()
	record := domain.ProviderRecord{ProviderRef: "swish-ref-ghost", Amount: 7_500, Completed: true}
	summary, err := f.svc.ReconcileProvider(context.Background(), payoutdomain.RailSwish, []domain.ProviderRecord{record}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrphansAtProvider)

	open := f.openDiscrepancies(t)
	require.Len(t, open, 1)
	assert.Equal(t, domain.DiscrepancyOrphanAtProvider, open[0].Kind)
	assert.Equal(t, "swish-ref-ghost", open[0].ProviderRef)
	assert.Equal(t, int64(7_500), open[0].Amount)

	var count int64
	f.db.Model(&auditdomain.AuditEntry{}).Where("action = ?", auditdomain.ActionDiscrepancyFound).Count(&count)
	assert.Equal(t, int64(1), count)

	// A second run must not stack a duplicate finding.
	summary, err = f.svc.ReconcileProvider(context.Background(), payoutdomain.RailSwish, []domain.ProviderRecord{record}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OrphansAtProvider)
	assert.Len(t, f.openDiscrepancies(t), 1)

	f.db.Model(&auditdomain.AuditEntry{}).Where("action = ?", auditdomain.ActionDiscrepancyFound).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestReconcileProviderMissingAtProvider(t *testing.T) {
	f := newFixture(t)
	transfer := f.seedTransfer(t, payoutdomain.TransferStatusProcessing, 5_000, "swish-ref-1")

	start, end := f.window()
	summary, err := f.svc.ReconcileProvider(context.Background(), payoutdomain.RailSwish, nil, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MissingAtProvider)

	open := f.openDiscrepancies(t)
	require.Len(t, open, 1)
	assert.Equal(t, domain.DiscrepancyMissingAtProvider, open[0].Kind)
	assert.Equal(t, transfer.ID, open[0].TransferID)

	// The transfer stays exactly where it was; only a person may decide.
	var got payoutdomain.Transfer
	require.NoError(t, f.db.First(&got, "id = ?", transfer.ID).Error)
	assert.Equal(t, payoutdomain.TransferStatusProcessing, got.Status)
}

func TestReconcileProviderAmountMismatch(t *testing.T) {
	f := newFixture(t)
	transfer := f.seedTransfer(t, payoutdomain.TransferStatusProcessing, 5_000, "swish-ref-1")

	start, end := f.window()
	summary, err := f.svc.ReconcileProvider(context.Background(), payoutdomain.RailSwish, []domain.ProviderRecord{{
		ProviderRef: "swish-ref-1",
		Amount:      4_900,
		Completed:   true,
	}}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AmountMismatches)
	assert.Zero(t, summary.Settled)

	open := f.openDiscrepancies(t)
	require.Len(t, open, 1)
	assert.Equal(t, domain.DiscrepancyAmountMismatch, open[0].Kind)

	// A mismatched record must not settle the transfer.
	var got payoutdomain.Transfer
	require.NoError(t, f.db.First(&got, "id = ?", transfer.ID).Error)
	assert.Equal(t, payoutdomain.TransferStatusProcessing, got.Status)
}

func TestResolveDiscrepancyRequiresHuman(t *testing.T) {
	f := newFixture(t)

	start, end := f.window()
	_, err := f.svc.ReconcileProvider(context.Background(), payoutdomain.RailSwish, []domain.ProviderRecord{{
		ProviderRef: "swish-ref-ghost",
		Amount:      7_500,
	}}, start, end)
	require.NoError(t, err)

	open := f.openDiscrepancies(t)
	require.Len(t, open, 1)
	id := open[0].ID

	err = f.svc.ResolveDiscrepancy(context.Background(), id, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyResolution)

	ctx := auditcontext.WithActor(context.Background(), string(auditdomain.ActorTypeAdmin), "admin_007")
	require.NoError(t, f.svc.ResolveDiscrepancy(ctx, id, "provider confirmed a test transaction"))

	var got domain.Discrepancy
	require.NoError(t, f.db.First(&got, "id = ?", id).Error)
	assert.Equal(t, domain.DiscrepancyResolved, got.Status)
	assert.Equal(t, "admin_007", got.ResolvedBy)
	assert.Equal(t, "provider confirmed a test transaction", got.Resolution)
	require.NotNil(t, got.ResolvedAt)

	err = f.svc.ResolveDiscrepancy(ctx, id, "again")
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)

	err = f.svc.ResolveDiscrepancy(ctx, f.node.Generate(), "nothing here")
	assert.ErrorIs(t, err, domain.ErrDiscrepancyNotFound)
}

func TestResolveUnknownTransfers(t *testing.T) {
	f := newFixture(t)
	transfer := f.seedTransfer(t, payoutdomain.TransferStatusUnknown, 5_000, "swish-ref-1")

	settled := f.clock.Now().UTC()
	f.adapter.lookupOutcome = payoutdomain.RailOutcome{
		Found:       true,
		Completed:   true,
		ProviderRef: "swish-ref-1",
		SettledAt:   &settled,
	}

	f.clock.Advance(2 * time.Hour)
	resolved, err := f.svc.ResolveUnknownTransfers(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 1, f.adapter.lookupCalls)

	var got payoutdomain.Transfer
	require.NoError(t, f.db.First(&got, "id = ?", transfer.ID).Error)
	assert.Equal(t, payoutdomain.TransferStatusCompleted, got.Status)
}

func TestResolveUnknownTransfersLeavesUnanswered(t *testing.T) {
	f := newFixture(t)
	transfer := f.seedTransfer(t, payoutdomain.TransferStatusUnknown, 5_000, "")

	f.adapter.lookupOutcome = payoutdomain.RailOutcome{Found: false}

	f.clock.Advance(2 * time.Hour)
	resolved, err := f.svc.ResolveUnknownTransfers(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, resolved)

	var got payoutdomain.Transfer
	require.NoError(t, f.db.First(&got, "id = ?", transfer.ID).Error)
	assert.Equal(t, payoutdomain.TransferStatusUnknown, got.Status)
}

func TestMatchBankStatementFuzzyDates(t *testing.T) {
	f := newFixture(t)
	near := f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 5_000, "swish-ref-1")
	f.clock.Advance(72 * time.Hour)
	far := f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 5_000, "swish-ref-2")

	booked := near.CreatedAt.Add(24 * time.Hour)
	result, err := f.svc.MatchBankStatement(context.Background(), "biz_001", []domain.StatementEntry{
		{Reference: "stmt-1", Amount: 5_000, BookedAt: booked},
	})
	require.NoError(t, err)

	// Two candidates carry the amount; the closer settlement date wins.
	require.Len(t, result.Matches, 1)
	assert.Equal(t, near.ID, result.Matches[0].TransferID)
	assert.Equal(t, 1, result.Matches[0].DayOffset)
	assert.NotEqual(t, far.ID, result.Matches[0].TransferID)
	assert.Empty(t, result.Unmatched)
}

func TestMatchBankStatementUnmatchedOpensDiscrepancy(t *testing.T) {
	f := newFixture(t)
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 5_000, "swish-ref-1")

	entries := []domain.StatementEntry{
		// No transfer carries this amount.
		{Reference: "stmt-1", Amount: 9_999, BookedAt: f.clock.Now()},
		// Amount exists, but the booking is outside the drift window.
		{Reference: "stmt-2", Amount: 5_000, BookedAt: f.clock.Now().Add(5 * 24 * time.Hour)},
	}
	result, err := f.svc.MatchBankStatement(context.Background(), "biz_001", entries)
	require.NoError(t, err)

	assert.Empty(t, result.Matches)
	assert.Len(t, result.Unmatched, 2)

	open := f.openDiscrepancies(t)
	require.Len(t, open, 2)
	for _, d := range open {
		assert.Equal(t, domain.DiscrepancyUnmatchedEntry, d.Kind)
	}
}

func TestMatchBankStatementEachTransferMatchesOnce(t *testing.T) {
	f := newFixture(t)
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 5_000, "swish-ref-1")

	result, err := f.svc.MatchBankStatement(context.Background(), "biz_001", []domain.StatementEntry{
		{Reference: "stmt-1", Amount: 5_000, BookedAt: f.clock.Now()},
		{Reference: "stmt-2", Amount: 5_000, BookedAt: f.clock.Now()},
	})
	require.NoError(t, err)

	assert.Len(t, result.Matches, 1)
	assert.Len(t, result.Unmatched, 1)
}

func TestGenerateDailyReport(t *testing.T) {
	f := newFixture(t)
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 10_000, "swish-ref-1")
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 15_000, "swish-ref-2")
	f.seedTransfer(t, payoutdomain.TransferStatusFailed, 4_000, "")

	report, err := f.svc.GenerateDailyReport(context.Background(), "biz_001", f.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, "2026-04-20", report.Date)
	assert.Equal(t, int64(3), report.TotalRequests)
	assert.Equal(t, int64(25_000), report.TotalPaidOut)
	// Commission at the default 20% rate.
	assert.Equal(t, int64(5_000), report.CommissionAccrued)
	assert.Equal(t, int64(25_000), report.ByRail[string(payoutdomain.RailSwish)])
	assert.Zero(t, report.OpenDiscrepancies)
}

func TestGetStatusSummary(t *testing.T) {
	f := newFixture(t)
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 10_000, "swish-ref-1")
	f.seedTransfer(t, payoutdomain.TransferStatusUnknown, 4_000, "")

	summary, err := f.svc.GetStatusSummary(context.Background(), "biz_001", f.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, "2026-04-20", summary.Date)
	assert.Equal(t, int64(2), summary.TotalRequests)
	assert.Equal(t, int64(2), summary.ByStatus[string(payoutdomain.PayoutStatusProcessing)])
	assert.Equal(t, int64(1), summary.CompletedCount)
	assert.Equal(t, int64(10_000), summary.CompletedAmount)
	assert.Equal(t, int64(1), summary.UnknownOutcomes)
}

func TestSummarizeCommissionIssuesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 60_000, "swish-ref-1")
	f.seedTransfer(t, payoutdomain.TransferStatusFailed, 30_000, "")

	now := f.clock.Now().UTC()
	summary, err := f.svc.SummarizeCommission(context.Background(), "biz_001", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.TransferCount)
	assert.Equal(t, int64(60_000), summary.RewardTotal)
	assert.Equal(t, 0.20, summary.CommissionRate)
	assert.Equal(t, int64(12_000), summary.CommissionTotal)

	var invoices int64
	f.db.Model(&domain.CommissionInvoice{}).Count(&invoices)
	assert.Zero(t, invoices)

	_, err = f.svc.SummarizeCommission(context.Background(), "biz_001", now, now)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestGenerateComplianceReport(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now().UTC()

	blocked := &payoutdomain.PayoutRequest{
		ID: f.node.Generate(), BusinessID: "biz_001", CustomerID: "cust_002",
		Amount: 3_000, Currency: "SEK", Rail: payoutdomain.RailSwish,
		Status: payoutdomain.PayoutStatusBlocked, Reason: "VELOCITY_LIMIT_CUSTOMER",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(blocked).Error)

	flagged := &payoutdomain.PayoutRequest{
		ID: f.node.Generate(), BusinessID: "biz_001", CustomerID: "cust_003",
		Amount: 3_000, Currency: "SEK", Rail: payoutdomain.RailSwish,
		Status: payoutdomain.PayoutStatusProcessing, Flagged: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(flagged).Error)

	f.seedTransfer(t, payoutdomain.TransferStatusUnknown, 5_000, "")

	report, err := f.svc.GenerateComplianceReport(context.Background(), "biz_001", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.BlockedPayouts)
	assert.Equal(t, int64(1), report.FlaggedPayouts)
	assert.Equal(t, int64(1), report.BlockReasons["VELOCITY_LIMIT_CUSTOMER"])
	assert.Equal(t, int64(1), report.UnknownOutcomes)

	_, err = f.svc.GenerateComplianceReport(context.Background(), "biz_001", now, now)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestExportAuditSealsEntries(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now().UTC()

	require.NoError(t, f.audit.Record(context.Background(), auditdomain.Entry{
		BusinessID: "biz_001",
		ActorType:  auditdomain.ActorTypeSystem,
		Action:     auditdomain.ActionPayoutRequested,
		TargetType: "payout_request",
		TargetID:   "p1",
	}))

	blob, err := f.svc.ExportAudit(context.Background(), "biz_001", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	// The blob is opaque without the sealing key.
	assert.NotContains(t, string(blob), "payout.requested")

	plain, err := f.sealer.Open(blob)
	require.NoError(t, err)

	var export struct {
		BusinessID string                   `json:"business_id"`
		Entries    []auditdomain.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(plain, &export))
	assert.Equal(t, "biz_001", export.BusinessID)
	require.Len(t, export.Entries, 1)
	assert.Equal(t, auditdomain.ActionPayoutRequested, export.Entries[0].Action)

	var count int64
	f.db.Model(&auditdomain.AuditEntry{}).Where("action = ?", auditdomain.ActionAuditExported).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCommissionInvoiceAndAdjustment(t *testing.T) {
	f := newFixture(t)
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 60_000, "swish-ref-1")
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 40_000, "swish-ref-2")
	f.seedTransfer(t, payoutdomain.TransferStatusFailed, 30_000, "")

	now := f.clock.Now().UTC()
	invoice, err := f.svc.GenerateCommissionInvoice(context.Background(), "biz_001", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(2), invoice.TransferCount)
	assert.Equal(t, int64(100_000), invoice.RewardTotal)
	assert.Equal(t, 0.20, invoice.CommissionRate)
	assert.Equal(t, int64(20_000), invoice.CommissionTotal)

	ctx := auditcontext.WithActor(context.Background(), string(auditdomain.ActorTypeAdmin), "admin_007")
	adjustment, err := f.svc.AdjustCommission(ctx, invoice.ID, -2_000, "returned transfer credited back")
	require.NoError(t, err)
	assert.Equal(t, int64(-2_000), adjustment.Delta)
	assert.Equal(t, "admin_007", adjustment.ActorID)

	// The issued invoice row is never rewritten.
	var stored domain.CommissionInvoice
	require.NoError(t, f.db.First(&stored, "id = ?", invoice.ID).Error)
	assert.Equal(t, int64(20_000), stored.CommissionTotal)

	var count int64
	f.db.Model(&auditdomain.AuditEntry{}).Where("action = ?", auditdomain.ActionCommissionAdjusted).Count(&count)
	assert.Equal(t, int64(1), count)

	_, err = f.svc.AdjustCommission(ctx, invoice.ID, 0, "no-op")
	assert.ErrorIs(t, err, domain.ErrInvalidAdjustment)
	_, err = f.svc.AdjustCommission(ctx, f.node.Generate(), 500, "missing invoice")
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestRenderCommissionInvoicePDF(t *testing.T) {
	f := newFixture(t)
	f.seedTransfer(t, payoutdomain.TransferStatusCompleted, 60_000, "swish-ref-1")

	now := f.clock.Now().UTC()
	invoice, err := f.svc.GenerateCommissionInvoice(context.Background(), "biz_001", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	ctx := auditcontext.WithActor(context.Background(), string(auditdomain.ActorTypeAdmin), "admin_007")
	_, err = f.svc.AdjustCommission(ctx, invoice.ID, -1_000, "goodwill")
	require.NoError(t, err)

	reader, err := f.svc.RenderCommissionInvoicePDF(context.Background(), invoice.ID)
	require.NoError(t, err)

	doc, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, len(doc) > 0)
	assert.Equal(t, "%PDF", string(doc[:4]))
}
