package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
	"github.com/svarade/payoutcore/internal/auditcontext"
	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/observability/metrics"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/payout/rails"
	"github.com/svarade/payoutcore/internal/reconciliation/domain"
	"github.com/svarade/payoutcore/internal/reconciliation/pdf"
	"github.com/svarade/payoutcore/pkg/sealed"
)

// maxStatementDriftDays bounds the fuzzy statement match. Swedish rails
// settle within a day or two; anything further apart is not the same money.
const maxStatementDriftDays = 3

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Policy   *config.PolicyHolder
	Repo     domain.Repository
	Payouts  payoutdomain.Service
	PayoutDB payoutdomain.Repository
	Registry *rails.Registry
	Audit    auditdomain.Service
	Sealer   *sealed.Sealer
	Metrics  *metrics.Metrics `optional:"true"`
}

type reconService struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	policy   *config.PolicyHolder
	repo     domain.Repository
	payouts  payoutdomain.Service
	payoutDB payoutdomain.Repository
	registry *rails.Registry
	audit    auditdomain.Service
	sealer   *sealed.Sealer
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &reconService{
		db:       p.DB,
		log:      p.Log.Named("reconciliation.service"),
		clock:    p.Clock,
		genID:    p.GenID,
		policy:   p.Policy,
		repo:     p.Repo,
		payouts:  p.Payouts,
		payoutDB: p.PayoutDB,
		registry: p.Registry,
		audit:    p.Audit,
		sealer:   p.Sealer,
		metrics:  p.Metrics,
	}
}

func (s *reconService) ReconcileProvider(ctx context.Context, rail payoutdomain.Rail, records []domain.ProviderRecord, windowStart, windowEnd time.Time) (domain.ReconcileSummary, error) {
	if !windowEnd.After(windowStart) {
		return domain.ReconcileSummary{}, domain.ErrInvalidPeriod
	}

	transfers, err := s.repo.ListRailTransfers(ctx, s.db, rail, windowStart, windowEnd)
	if err != nil {
		return domain.ReconcileSummary{}, err
	}

	byID := make(map[string]*payoutdomain.Transfer, len(transfers))
	byRef := make(map[string]*payoutdomain.Transfer)
	for _, t := range transfers {
		byID[t.ID.String()] = t
		if t.ProviderRef != nil && *t.ProviderRef != "" {
			byRef[*t.ProviderRef] = t
		}
	}

	var summary domain.ReconcileSummary
	seen := make(map[snowflake.ID]bool, len(records))

	for _, record := range records {
		transfer := byRef[record.ProviderRef]
		if transfer == nil {
			transfer = byID[record.Reference]
		}
		if transfer == nil {
			summary.OrphansAtProvider++
			s.openDiscrepancy(ctx, &domain.Discrepancy{
				Kind:        domain.DiscrepancyOrphanAtProvider,
				Rail:        string(rail),
				ProviderRef: record.ProviderRef,
				Amount:      record.Amount,
				Details: datatypes.JSONMap{
					"reference":    record.Reference,
					"completed":    record.Completed,
					"failure_code": record.FailureCode,
				},
			})
			continue
		}

		seen[transfer.ID] = true
		if record.Amount != transfer.Amount {
			summary.AmountMismatches++
			s.openDiscrepancy(ctx, &domain.Discrepancy{
				BusinessID:  transfer.BusinessID,
				Kind:        domain.DiscrepancyAmountMismatch,
				Rail:        string(rail),
				TransferID:  transfer.ID,
				ProviderRef: record.ProviderRef,
				Amount:      transfer.Amount,
				Details: datatypes.JSONMap{
					"provider_amount": record.Amount,
				},
			})
			continue
		}

		summary.Matched++
		if settled := s.settleFromRecord(ctx, rail, transfer, record); settled {
			summary.Settled++
		}
	}

	for _, transfer := range transfers {
		if seen[transfer.ID] {
			continue
		}
		switch transfer.Status {
		case payoutdomain.TransferStatusProcessing,
			payoutdomain.TransferStatusCompleted,
			payoutdomain.TransferStatusUnknown:
			// The provider should know about anything we submitted.
		default:
			continue
		}
		summary.MissingAtProvider++
		s.openDiscrepancy(ctx, &domain.Discrepancy{
			BusinessID: transfer.BusinessID,
			Kind:       domain.DiscrepancyMissingAtProvider,
			Rail:       string(rail),
			TransferID: transfer.ID,
			Amount:     transfer.Amount,
			Details: datatypes.JSONMap{
				"status": string(transfer.Status),
			},
		})
	}

	s.log.Info("provider reconciliation finished",
		zap.String("rail", string(rail)),
		zap.Int("matched", summary.Matched),
		zap.Int("settled", summary.Settled),
		zap.Int("orphans_at_provider", summary.OrphansAtProvider),
		zap.Int("missing_at_provider", summary.MissingAtProvider),
		zap.Int("amount_mismatches", summary.AmountMismatches))
	return summary, nil
}

// settleFromRecord pushes a still-open transfer to the outcome the provider
// reports. Settled transfers are left alone.
func (s *reconService) settleFromRecord(ctx context.Context, rail payoutdomain.Rail, transfer *payoutdomain.Transfer, record domain.ProviderRecord) bool {
	switch transfer.Status {
	case payoutdomain.TransferStatusProcessing, payoutdomain.TransferStatusUnknown:
	default:
		return false
	}
	// A record that is neither settled nor failed is still in flight on
	// the provider's side. Nothing to apply.
	if !record.Completed && record.FailureCode == "" {
		return false
	}

	event := payoutdomain.ProviderEvent{
		Provider:    string(rail),
		EventID:     fmt.Sprintf("recon-%s-%s", transfer.ID.String(), s.clock.Now().UTC().Format("20060102")),
		EventType:   "reconciliation.report",
		ProviderRef: record.ProviderRef,
		TransferID:  transfer.ID,
		Completed:   record.Completed,
		FailureCode: record.FailureCode,
		SettledAt:   record.SettledAt,
	}
	if err := s.payouts.ApplyProviderEvent(ctx, event); err != nil {
		s.log.Warn("could not settle transfer from provider record",
			zap.String("transfer_id", transfer.ID.String()),
			zap.Error(err))
		return false
	}
	return true
}

func (s *reconService) ResolveUnknownTransfers(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	transfers, err := s.payoutDB.ListTransfersByStatus(ctx, s.db, payoutdomain.TransferStatusUnknown, cutoff, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, transfer := range transfers {
		adapter, err := s.registry.Adapter(transfer.Rail)
		if err != nil {
			s.log.Warn("unknown transfer on unconfigured rail",
				zap.String("transfer_id", transfer.ID.String()),
				zap.String("rail", string(transfer.Rail)))
			continue
		}

		outcome, err := adapter.LookupTransfer(ctx, transfer.ID)
		if err != nil {
			s.log.Warn("provider lookup failed",
				zap.String("transfer_id", transfer.ID.String()),
				zap.Error(err))
			continue
		}
		if !outcome.Found {
			// The provider never saw it. Leave it unknown; the next
			// reconciliation run opens a discrepancy for a person.
			continue
		}

		event := payoutdomain.ProviderEvent{
			Provider:    string(transfer.Rail),
			EventID:     fmt.Sprintf("sweep-%s-%d", transfer.ID.String(), s.clock.Now().Unix()),
			EventType:   "reconciliation.lookup",
			ProviderRef: outcome.ProviderRef,
			TransferID:  transfer.ID,
			Completed:   outcome.Completed,
			FailureCode: outcome.FailureCode,
			SettledAt:   outcome.SettledAt,
		}
		if err := s.payouts.ApplyProviderEvent(ctx, event); err != nil {
			s.log.Warn("could not apply lookup outcome",
				zap.String("transfer_id", transfer.ID.String()),
				zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (s *reconService) MatchBankStatement(ctx context.Context, businessID string, entries []domain.StatementEntry) (domain.StatementResult, error) {
	if len(entries) == 0 {
		return domain.StatementResult{}, nil
	}

	start, end := entries[0].BookedAt, entries[0].BookedAt
	for _, entry := range entries[1:] {
		if entry.BookedAt.Before(start) {
			start = entry.BookedAt
		}
		if entry.BookedAt.After(end) {
			end = entry.BookedAt
		}
	}
	drift := maxStatementDriftDays * 24 * time.Hour
	transfers, err := s.payoutDB.ListTransfersInRange(ctx, s.db, businessID, start.Add(-drift-24*time.Hour), end.Add(drift+24*time.Hour))
	if err != nil {
		return domain.StatementResult{}, err
	}

	candidates := make([]*payoutdomain.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if t.Status == payoutdomain.TransferStatusCompleted {
			candidates = append(candidates, t)
		}
	}

	sorted := append([]domain.StatementEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BookedAt.Before(sorted[j].BookedAt) })

	matched := make(map[snowflake.ID]bool)
	var result domain.StatementResult
	for _, entry := range sorted {
		var best *payoutdomain.Transfer
		bestOffset := 0
		for _, t := range candidates {
			if matched[t.ID] || t.Amount != entry.Amount {
				continue
			}
			offset := dayOffset(entry.BookedAt, settlementTime(t))
			if abs(offset) > maxStatementDriftDays {
				continue
			}
			if best == nil || abs(offset) < abs(bestOffset) {
				best, bestOffset = t, offset
			}
		}
		if best == nil {
			result.Unmatched = append(result.Unmatched, entry)
			s.openDiscrepancy(ctx, &domain.Discrepancy{
				BusinessID:  businessID,
				Kind:        domain.DiscrepancyUnmatchedEntry,
				ProviderRef: entry.Reference,
				Amount:      entry.Amount,
				Details: datatypes.JSONMap{
					"booked_at":   entry.BookedAt.UTC().Format(time.RFC3339),
					"description": entry.Description,
				},
			})
			continue
		}
		matched[best.ID] = true
		result.Matches = append(result.Matches, domain.StatementMatch{
			Entry:      entry,
			TransferID: best.ID,
			DayOffset:  bestOffset,
		})
	}
	return result, nil
}

func (s *reconService) ResolveDiscrepancy(ctx context.Context, id snowflake.ID, resolution string) error {
	resolution = strings.TrimSpace(resolution)
	if resolution == "" {
		return domain.ErrEmptyResolution
	}

	_, actorID := auditcontext.ActorFromContext(ctx)
	moved, err := s.repo.ResolveDiscrepancy(ctx, s.db, id, actorID, resolution, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !moved {
		d, err := s.repo.GetDiscrepancy(ctx, s.db, id)
		if err != nil {
			return err
		}
		if d.Status == domain.DiscrepancyResolved {
			return domain.ErrAlreadyResolved
		}
		return domain.ErrDiscrepancyNotFound
	}

	if err := s.audit.Record(ctx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeAdmin,
		ActorID:    actorID,
		Action:     auditdomain.ActionDiscrepancyResolved,
		TargetType: "discrepancy",
		TargetID:   id.String(),
		Metadata:   map[string]any{"resolution": resolution},
	}); err != nil {
		s.log.Error("failed to record audit entry", zap.Error(err))
	}
	return nil
}

func (s *reconService) GenerateDailyReport(ctx context.Context, businessID string, day time.Time) (domain.DailyReport, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	payoutStats, err := s.repo.PayoutStats(ctx, s.db, businessID, start, end)
	if err != nil {
		return domain.DailyReport{}, err
	}
	transferStats, err := s.repo.TransferStats(ctx, s.db, businessID, start, end)
	if err != nil {
		return domain.DailyReport{}, err
	}
	open, err := s.repo.CountOpenDiscrepancies(ctx, s.db, businessID)
	if err != nil {
		return domain.DailyReport{}, err
	}

	rate := s.policy.Get().CommissionRate
	return domain.DailyReport{
		BusinessID:        businessID,
		Date:              start.Format("2006-01-02"),
		TotalRequests:     payoutStats.TotalRequests,
		TotalPaidOut:      transferStats.CompletedAmount,
		CommissionAccrued: commissionOn(transferStats.CompletedAmount, rate),
		ByStatus:          payoutStats.ByStatus,
		ByRail:            transferStats.AmountByRail,
		OpenDiscrepancies: open,
	}, nil
}

// GetStatusSummary is the raw view the daily report builds on: where the
// day's payouts and transfers stand, with no commission or discrepancy
// position taken.
func (s *reconService) GetStatusSummary(ctx context.Context, businessID string, day time.Time) (domain.StatusSummary, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	payoutStats, err := s.repo.PayoutStats(ctx, s.db, businessID, start, end)
	if err != nil {
		return domain.StatusSummary{}, err
	}
	transferStats, err := s.repo.TransferStats(ctx, s.db, businessID, start, end)
	if err != nil {
		return domain.StatusSummary{}, err
	}

	return domain.StatusSummary{
		BusinessID:      businessID,
		Date:            start.Format("2006-01-02"),
		TotalRequests:   payoutStats.TotalRequests,
		ByStatus:        payoutStats.ByStatus,
		FlaggedPayouts:  payoutStats.FlaggedPayouts,
		BlockedPayouts:  payoutStats.BlockedPayouts,
		BlockReasons:    payoutStats.BlockReasons,
		CompletedCount:  transferStats.CompletedCount,
		CompletedAmount: transferStats.CompletedAmount,
		UnknownOutcomes: transferStats.UnknownOutcomes,
	}, nil
}

func (s *reconService) GenerateComplianceReport(ctx context.Context, businessID string, start, end time.Time) (domain.ComplianceReport, error) {
	if !end.After(start) {
		return domain.ComplianceReport{}, domain.ErrInvalidPeriod
	}

	payoutStats, err := s.repo.PayoutStats(ctx, s.db, businessID, start, end)
	if err != nil {
		return domain.ComplianceReport{}, err
	}
	transferStats, err := s.repo.TransferStats(ctx, s.db, businessID, start, end)
	if err != nil {
		return domain.ComplianceReport{}, err
	}

	return domain.ComplianceReport{
		BusinessID:      businessID,
		PeriodStart:     start.UTC(),
		PeriodEnd:       end.UTC(),
		FlaggedPayouts:  payoutStats.FlaggedPayouts,
		BlockedPayouts:  payoutStats.BlockedPayouts,
		BlockReasons:    payoutStats.BlockReasons,
		UnknownOutcomes: transferStats.UnknownOutcomes,
		GeneratedAt:     s.clock.Now().UTC(),
	}, nil
}

func (s *reconService) ExportAudit(ctx context.Context, businessID string, start, end time.Time) ([]byte, error) {
	entries, err := s.audit.EntriesInRange(ctx, businessID, start, end)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"business_id":  businessID,
		"period_start": start.UTC().Format(time.RFC3339),
		"period_end":   end.UTC().Format(time.RFC3339),
		"generated_at": s.clock.Now().UTC().Format(time.RFC3339),
		"entries":      entries,
	})
	if err != nil {
		return nil, err
	}

	blob, err := s.sealer.Seal(payload)
	if err != nil {
		return nil, err
	}

	actorType, actorID := auditcontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	if err := s.audit.Record(ctx, auditdomain.Entry{
		BusinessID: businessID,
		ActorType:  auditdomain.ActorType(actorType),
		ActorID:    actorID,
		Action:     auditdomain.ActionAuditExported,
		TargetType: "audit_export",
		TargetID:   businessID,
		Metadata: map[string]any{
			"entry_count":  len(entries),
			"period_start": start.UTC().Format(time.RFC3339),
			"period_end":   end.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		s.log.Error("failed to record audit entry", zap.Error(err))
	}
	return blob, nil
}

func (s *reconService) GenerateCommissionInvoice(ctx context.Context, businessID string, periodStart, periodEnd time.Time) (domain.CommissionInvoice, error) {
	if !periodEnd.After(periodStart) {
		return domain.CommissionInvoice{}, domain.ErrInvalidPeriod
	}

	stats, err := s.repo.TransferStats(ctx, s.db, businessID, periodStart, periodEnd)
	if err != nil {
		return domain.CommissionInvoice{}, err
	}

	rate := s.policy.Get().CommissionRate
	invoice := domain.CommissionInvoice{
		ID:              s.genID.Generate(),
		BusinessID:      businessID,
		PeriodStart:     periodStart.UTC(),
		PeriodEnd:       periodEnd.UTC(),
		TransferCount:   stats.CompletedCount,
		RewardTotal:     stats.CompletedAmount,
		CommissionRate:  rate,
		CommissionTotal: commissionOn(stats.CompletedAmount, rate),
		CreatedAt:       s.clock.Now().UTC(),
	}
	if err := s.repo.CreateInvoice(ctx, s.db, &invoice); err != nil {
		return domain.CommissionInvoice{}, err
	}
	return invoice, nil
}

// SummarizeCommission previews the period's commission without creating an
// invoice row.
func (s *reconService) SummarizeCommission(ctx context.Context, businessID string, periodStart, periodEnd time.Time) (domain.CommissionSummary, error) {
	if !periodEnd.After(periodStart) {
		return domain.CommissionSummary{}, domain.ErrInvalidPeriod
	}

	stats, err := s.repo.TransferStats(ctx, s.db, businessID, periodStart, periodEnd)
	if err != nil {
		return domain.CommissionSummary{}, err
	}

	rate := s.policy.Get().CommissionRate
	return domain.CommissionSummary{
		BusinessID:      businessID,
		PeriodStart:     periodStart.UTC(),
		PeriodEnd:       periodEnd.UTC(),
		TransferCount:   stats.CompletedCount,
		RewardTotal:     stats.CompletedAmount,
		CommissionRate:  rate,
		CommissionTotal: commissionOn(stats.CompletedAmount, rate),
	}, nil
}

func (s *reconService) RenderCommissionInvoicePDF(ctx context.Context, invoiceID snowflake.ID) (io.Reader, error) {
	invoice, err := s.repo.GetInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}

	data := pdf.CommissionInvoiceData{
		InvoiceNumber: invoice.ID.String(),
		IssueDate:     invoice.CreatedAt.Format("2006-01-02"),
		ServicePeriod: fmt.Sprintf("%s – %s", invoice.PeriodStart.Format("2006-01-02"), invoice.PeriodEnd.Format("2006-01-02")),
		BusinessName:  invoice.BusinessID,
		BusinessID:    invoice.BusinessID,
		Items: []pdf.CommissionItem{{
			Description: fmt.Sprintf("Reward payout commission (%.0f%%)", invoice.CommissionRate*100),
			Count:       invoice.TransferCount,
			Amount:      formatSEK(invoice.CommissionTotal),
		}},
		Subtotal: formatSEK(invoice.CommissionTotal),
	}

	total := invoice.CommissionTotal
	for _, adj := range adjustments {
		total += adj.Delta
		data.Adjustments = append(data.Adjustments, pdf.AdjustmentLine{
			Reason: adj.Reason,
			Amount: formatSEK(adj.Delta),
		})
	}
	data.Total = formatSEK(total)

	return pdf.RenderCommissionInvoice(data)
}

func (s *reconService) AdjustCommission(ctx context.Context, invoiceID snowflake.ID, delta int64, reason string) (domain.CommissionAdjustment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" || delta == 0 {
		return domain.CommissionAdjustment{}, domain.ErrInvalidAdjustment
	}

	// The invoice row stays untouched; the adjustment is its own record.
	invoice, err := s.repo.GetInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return domain.CommissionAdjustment{}, err
	}

	_, actorID := auditcontext.ActorFromContext(ctx)
	adjustment := domain.CommissionAdjustment{
		ID:        s.genID.Generate(),
		InvoiceID: invoice.ID,
		Delta:     delta,
		Reason:    reason,
		ActorID:   actorID,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.CreateAdjustment(ctx, s.db, &adjustment); err != nil {
		return domain.CommissionAdjustment{}, err
	}

	if err := s.audit.Record(ctx, auditdomain.Entry{
		BusinessID: invoice.BusinessID,
		ActorType:  auditdomain.ActorTypeAdmin,
		ActorID:    actorID,
		Action:     auditdomain.ActionCommissionAdjusted,
		TargetType: "commission_invoice",
		TargetID:   invoice.ID.String(),
		Metadata: map[string]any{
			"adjustment_id": adjustment.ID.String(),
			"delta":         delta,
			"reason":        reason,
		},
	}); err != nil {
		s.log.Error("failed to record audit entry", zap.Error(err))
	}
	return adjustment, nil
}

func (s *reconService) openDiscrepancy(ctx context.Context, d *domain.Discrepancy) {
	d.ID = s.genID.Generate()
	d.Status = domain.DiscrepancyOpen
	d.CreatedAt = s.clock.Now().UTC()

	created, err := s.repo.CreateDiscrepancy(ctx, s.db, d)
	if err != nil {
		s.log.Error("failed to open discrepancy",
			zap.String("kind", string(d.Kind)),
			zap.Error(err))
		return
	}
	if !created {
		return
	}

	s.log.Warn("reconciliation discrepancy opened",
		zap.String("kind", string(d.Kind)),
		zap.String("provider_ref", d.ProviderRef),
		zap.Int64("amount", d.Amount))
	if s.metrics != nil {
		s.metrics.RecordDiscrepancy(ctx, string(d.Kind))
	}

	targetID := d.ProviderRef
	if d.TransferID != 0 {
		targetID = d.TransferID.String()
	}
	if err := s.audit.Record(ctx, auditdomain.Entry{
		BusinessID: d.BusinessID,
		ActorType:  auditdomain.ActorTypeSystem,
		Action:     auditdomain.ActionDiscrepancyFound,
		TargetType: "discrepancy",
		TargetID:   targetID,
		Metadata: map[string]any{
			"discrepancy_id": d.ID.String(),
			"kind":           string(d.Kind),
			"amount":         d.Amount,
		},
	}); err != nil {
		s.log.Error("failed to record audit entry", zap.Error(err))
	}
}

// settlementTime is the best timestamp we have for when a transfer cleared.
func settlementTime(t *payoutdomain.Transfer) time.Time {
	if t.SettledAt != nil {
		return *t.SettledAt
	}
	if t.EstimatedSettlement != nil {
		return *t.EstimatedSettlement
	}
	return t.CreatedAt
}

func dayOffset(a, b time.Time) int {
	au := a.UTC().Truncate(24 * time.Hour)
	bu := b.UTC().Truncate(24 * time.Hour)
	return int(au.Sub(bu) / (24 * time.Hour))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func commissionOn(amount int64, rate float64) int64 {
	return int64(math.Round(float64(amount) * rate))
}

func formatSEK(ore int64) string {
	sign := ""
	if ore < 0 {
		sign = "-"
		ore = -ore
	}
	return fmt.Sprintf("%s%d.%02d SEK", sign, ore/100, ore%100)
}
