package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/reconciliation/domain"
	"github.com/svarade/payoutcore/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreateDiscrepancy(ctx context.Context, tx *gorm.DB, d *domain.Discrepancy) (bool, error) {
	err := tx.WithContext(ctx).Create(d).Error
	if db.IsDuplicateKeyErr(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) GetDiscrepancy(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Discrepancy, error) {
	var d domain.Discrepancy
	err := tx.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDiscrepancyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ResolveDiscrepancy only moves open findings; resolving twice is a no-op
// reported to the caller.
func (r *repo) ResolveDiscrepancy(ctx context.Context, tx *gorm.DB, id snowflake.ID, resolvedBy, resolution string, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Model(&domain.Discrepancy{}).
		Where("id = ? AND status = ?", id, domain.DiscrepancyOpen).
		Updates(map[string]any{
			"status":      domain.DiscrepancyResolved,
			"resolved_by": strings.TrimSpace(resolvedBy),
			"resolution":  strings.TrimSpace(resolution),
			"resolved_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CountOpenDiscrepancies(ctx context.Context, tx *gorm.DB, businessID string) (int64, error) {
	var count int64
	q := tx.WithContext(ctx).Model(&domain.Discrepancy{}).
		Where("status = ?", domain.DiscrepancyOpen)
	if businessID != "" {
		q = q.Where("business_id = ?", businessID)
	}
	err := q.Count(&count).Error
	return count, err
}

func (r *repo) ListOpenDiscrepancies(ctx context.Context, tx *gorm.DB, businessID string, limit int) ([]*domain.Discrepancy, error) {
	q := tx.WithContext(ctx).
		Where("status = ?", domain.DiscrepancyOpen).
		Order("created_at ASC, id ASC").
		Limit(limit)
	if businessID != "" {
		q = q.Where("business_id = ?", businessID)
	}
	var out []*domain.Discrepancy
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) ListRailTransfers(ctx context.Context, tx *gorm.DB, rail payoutdomain.Rail, start, end time.Time) ([]*payoutdomain.Transfer, error) {
	var transfers []*payoutdomain.Transfer
	err := tx.WithContext(ctx).
		Where("rail = ?", rail).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Order("created_at asc").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

func (r *repo) PayoutStats(ctx context.Context, tx *gorm.DB, businessID string, start, end time.Time) (domain.PayoutStats, error) {
	stats := domain.PayoutStats{
		ByStatus:     map[string]int64{},
		BlockReasons: map[string]int64{},
	}

	type statusCount struct {
		Status string
		N      int64
	}
	var byStatus []statusCount
	err := tx.WithContext(ctx).Model(&payoutdomain.PayoutRequest{}).
		Select("status, COUNT(*) AS n").
		Where("business_id = ? AND created_at >= ? AND created_at < ?", businessID, start, end).
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return domain.PayoutStats{}, err
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.N
		stats.TotalRequests += row.N
	}
	stats.BlockedPayouts = stats.ByStatus[string(payoutdomain.PayoutStatusBlocked)]

	err = tx.WithContext(ctx).Model(&payoutdomain.PayoutRequest{}).
		Where("business_id = ? AND created_at >= ? AND created_at < ? AND flagged = ?", businessID, start, end, true).
		Count(&stats.FlaggedPayouts).Error
	if err != nil {
		return domain.PayoutStats{}, err
	}

	type reasonCount struct {
		Reason string
		N      int64
	}
	var reasons []reasonCount
	err = tx.WithContext(ctx).Model(&payoutdomain.PayoutRequest{}).
		Select("reason, COUNT(*) AS n").
		Where("business_id = ? AND created_at >= ? AND created_at < ? AND status = ?",
			businessID, start, end, payoutdomain.PayoutStatusBlocked).
		Group("reason").
		Scan(&reasons).Error
	if err != nil {
		return domain.PayoutStats{}, err
	}
	for _, row := range reasons {
		stats.BlockReasons[row.Reason] = row.N
	}
	return stats, nil
}

func (r *repo) TransferStats(ctx context.Context, tx *gorm.DB, businessID string, start, end time.Time) (domain.TransferStats, error) {
	stats := domain.TransferStats{AmountByRail: map[string]int64{}}

	type railSum struct {
		Rail string
		N    int64
		Sum  int64
	}
	var completed []railSum
	err := tx.WithContext(ctx).Model(&payoutdomain.Transfer{}).
		Select("rail, COUNT(*) AS n, COALESCE(SUM(amount), 0) AS sum").
		Where("business_id = ? AND created_at >= ? AND created_at < ? AND status = ?",
			businessID, start, end, payoutdomain.TransferStatusCompleted).
		Group("rail").
		Scan(&completed).Error
	if err != nil {
		return domain.TransferStats{}, err
	}
	for _, row := range completed {
		stats.CompletedCount += row.N
		stats.CompletedAmount += row.Sum
		stats.AmountByRail[row.Rail] = row.Sum
	}

	err = tx.WithContext(ctx).Model(&payoutdomain.Transfer{}).
		Where("business_id = ? AND created_at >= ? AND created_at < ? AND status = ?",
			businessID, start, end, payoutdomain.TransferStatusUnknown).
		Count(&stats.UnknownOutcomes).Error
	if err != nil {
		return domain.TransferStats{}, err
	}
	return stats, nil
}

func (r *repo) CreateInvoice(ctx context.Context, tx *gorm.DB, invoice *domain.CommissionInvoice) error {
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *repo) GetInvoice(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.CommissionInvoice, error) {
	var invoice domain.CommissionInvoice
	err := tx.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) CreateAdjustment(ctx context.Context, tx *gorm.DB, adjustment *domain.CommissionAdjustment) error {
	return tx.WithContext(ctx).Create(adjustment).Error
}

func (r *repo) ListAdjustments(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]*domain.CommissionAdjustment, error) {
	var out []*domain.CommissionAdjustment
	err := tx.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
