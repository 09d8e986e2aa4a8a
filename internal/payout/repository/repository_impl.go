package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreatePayout(ctx context.Context, tx *gorm.DB, req *domain.PayoutRequest) error {
	return tx.WithContext(ctx).Create(req).Error
}

func (r *repo) UpdatePayoutStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.PayoutStatus, reason string) error {
	return tx.WithContext(ctx).Model(&domain.PayoutRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": status,
			"reason": strings.TrimSpace(reason),
		}).Error
}

func (r *repo) GetPayout(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.PayoutRequest, error) {
	var req domain.PayoutRequest
	err := tx.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repo) CreateTransfer(ctx context.Context, tx *gorm.DB, transfer *domain.Transfer) error {
	return tx.WithContext(ctx).Create(transfer).Error
}

func (r *repo) GetTransfer(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Transfer, error) {
	var transfer domain.Transfer
	err := tx.WithContext(ctx).First(&transfer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *repo) GetTransferByProviderRef(ctx context.Context, tx *gorm.DB, rail domain.Rail, ref string) (*domain.Transfer, error) {
	var transfer domain.Transfer
	err := tx.WithContext(ctx).
		First(&transfer, "rail = ? AND provider_ref = ?", rail, strings.TrimSpace(ref)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// TransitionTransfer is the status state machine's only write path. The WHERE
// on the current status makes concurrent settlement attempts (webhook vs
// reconciliation vs retry) serialize on the database row.
func (r *repo) TransitionTransfer(ctx context.Context, tx *gorm.DB, id snowflake.ID, from, to domain.TransferStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for key, value := range updates {
		values[key] = value
	}

	result := tx.WithContext(ctx).Model(&domain.Transfer{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListTransfersByStatus(ctx context.Context, tx *gorm.DB, status domain.TransferStatus, updatedBefore time.Time, limit int) ([]*domain.Transfer, error) {
	var transfers []*domain.Transfer
	stmt := tx.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore.UTC()).
		Order("updated_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&transfers).Error; err != nil {
		return nil, err
	}
	return transfers, nil
}

func (r *repo) ListTransfersInRange(ctx context.Context, tx *gorm.DB, businessID string, start, end time.Time) ([]*domain.Transfer, error) {
	var transfers []*domain.Transfer
	err := tx.WithContext(ctx).
		Where("business_id = ?", strings.TrimSpace(businessID)).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Order("created_at asc").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

func (r *repo) CreateRetry(ctx context.Context, tx *gorm.DB, task *domain.RetryTask) error {
	return tx.WithContext(ctx).Create(task).Error
}

// ClaimDueRetries moves due tasks to running one by one so two scheduler
// instances never run the same retry.
func (r *repo) ClaimDueRetries(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*domain.RetryTask, error) {
	var due []*domain.RetryTask
	stmt := tx.WithContext(ctx).
		Where("status = ? AND due_at <= ?", domain.RetryStatusPending, now.UTC()).
		Order("due_at asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&due).Error; err != nil {
		return nil, err
	}

	claimed := make([]*domain.RetryTask, 0, len(due))
	for _, task := range due {
		result := tx.WithContext(ctx).Model(&domain.RetryTask{}).
			Where("id = ? AND status = ?", task.ID, domain.RetryStatusPending).
			Update("status", domain.RetryStatusRunning)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			task.Status = domain.RetryStatusRunning
			claimed = append(claimed, task)
		}
	}
	return claimed, nil
}

func (r *repo) FinishRetry(ctx context.Context, tx *gorm.DB, id snowflake.ID, status, lastError string) error {
	return tx.WithContext(ctx).Model(&domain.RetryTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"last_error": strings.TrimSpace(lastError),
		}).Error
}

// RecordWebhookEvent inserts the idempotency row. It reports false when the
// event was already processed.
func (r *repo) RecordWebhookEvent(ctx context.Context, tx *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	err := tx.WithContext(ctx).Create(event).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
