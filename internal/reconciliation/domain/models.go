package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
)

type DiscrepancyKind string

const (
	// DiscrepancyMissingAtProvider: we believe money moved, the provider
	// has no record of it.
	DiscrepancyMissingAtProvider DiscrepancyKind = "missing_at_provider"
	// DiscrepancyOrphanAtProvider: the provider reports a transfer we
	// never created.
	DiscrepancyOrphanAtProvider DiscrepancyKind = "orphan_at_provider"
	DiscrepancyAmountMismatch   DiscrepancyKind = "amount_mismatch"
	DiscrepancyUnmatchedEntry   DiscrepancyKind = "unmatched_statement_entry"
)

type DiscrepancyStatus string

const (
	DiscrepancyOpen     DiscrepancyStatus = "open"
	DiscrepancyResolved DiscrepancyStatus = "resolved"
)

// Discrepancy is a reconciliation finding. Findings are opened by the system
// but only ever closed by a person; an orphan at the provider is money with
// no explanation, and no heuristic is allowed to explain it away.
type Discrepancy struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	BusinessID  string            `json:"business_id"`
	Kind        DiscrepancyKind   `gorm:"uniqueIndex:ux_discrepancies_finding" json:"kind"`
	Rail        string            `json:"rail,omitempty"`
	// TransferID is zero for findings with no transfer on our side. It
	// stays non-null so the unique index can dedupe repeated runs.
	TransferID  snowflake.ID      `gorm:"uniqueIndex:ux_discrepancies_finding" json:"transfer_id,omitempty"`
	ProviderRef string            `gorm:"uniqueIndex:ux_discrepancies_finding" json:"provider_ref,omitempty"`
	Amount      int64             `json:"amount"`
	Details     datatypes.JSONMap `json:"details,omitempty"`
	Status      DiscrepancyStatus `json:"status"`
	Resolution  string            `json:"resolution,omitempty"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (Discrepancy) TableName() string { return "discrepancies" }

// ProviderRecord is one row of a provider's transfer report.
type ProviderRecord struct {
	ProviderRef string     `json:"provider_ref"`
	Reference   string     `json:"reference"`
	Amount      int64      `json:"amount"`
	Completed   bool       `json:"completed"`
	FailureCode string     `json:"failure_code,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

// ReconcileSummary is the outcome of one provider reconciliation run.
type ReconcileSummary struct {
	Matched           int `json:"matched"`
	Settled           int `json:"settled"`
	MissingAtProvider int `json:"missing_at_provider"`
	OrphansAtProvider int `json:"orphans_at_provider"`
	AmountMismatches  int `json:"amount_mismatches"`
}

// StatementEntry is one booked line of a bank account statement.
type StatementEntry struct {
	Reference   string    `json:"reference"`
	Amount      int64     `json:"amount"`
	BookedAt    time.Time `json:"booked_at"`
	Description string    `json:"description,omitempty"`
}

// StatementMatch pairs a statement line with the transfer it settles.
// DayOffset is how many days the booking date drifted from our settlement.
type StatementMatch struct {
	Entry      StatementEntry `json:"entry"`
	TransferID snowflake.ID   `json:"transfer_id"`
	DayOffset  int            `json:"day_offset"`
}

type StatementResult struct {
	Matches   []StatementMatch `json:"matches"`
	Unmatched []StatementEntry `json:"unmatched"`
}

// DailyReport aggregates one business day of payouts.
type DailyReport struct {
	BusinessID        string           `json:"business_id"`
	Date              string           `json:"date"`
	TotalRequests     int64            `json:"total_requests"`
	TotalPaidOut      int64            `json:"total_paid_out"`
	CommissionAccrued int64            `json:"commission_accrued"`
	ByStatus          map[string]int64 `json:"by_status"`
	ByRail            map[string]int64 `json:"by_rail"`
	OpenDiscrepancies int64            `json:"open_discrepancies"`
}

// StatusSummary is the read-only view of where one day's payouts stand.
type StatusSummary struct {
	BusinessID      string           `json:"business_id"`
	Date            string           `json:"date"`
	TotalRequests   int64            `json:"total_requests"`
	ByStatus        map[string]int64 `json:"by_status"`
	FlaggedPayouts  int64            `json:"flagged_payouts"`
	BlockedPayouts  int64            `json:"blocked_payouts"`
	BlockReasons    map[string]int64 `json:"block_reasons"`
	CompletedCount  int64            `json:"completed_count"`
	CompletedAmount int64            `json:"completed_amount"`
	UnknownOutcomes int64            `json:"unknown_outcomes"`
}

// CommissionSummary is what an invoice for the period would contain,
// computed without issuing one.
type CommissionSummary struct {
	BusinessID      string    `json:"business_id"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	TransferCount   int64     `json:"transfer_count"`
	RewardTotal     int64     `json:"reward_total"`
	CommissionRate  float64   `json:"commission_rate"`
	CommissionTotal int64     `json:"commission_total"`
}

// ComplianceReport covers a period for regulatory review.
type ComplianceReport struct {
	BusinessID      string           `json:"business_id"`
	PeriodStart     time.Time        `json:"period_start"`
	PeriodEnd       time.Time        `json:"period_end"`
	FlaggedPayouts  int64            `json:"flagged_payouts"`
	BlockedPayouts  int64            `json:"blocked_payouts"`
	BlockReasons    map[string]int64 `json:"block_reasons"`
	UnknownOutcomes int64            `json:"unknown_outcomes"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// CommissionInvoice bills the platform fee for one period. Issued invoices
// are immutable; corrections happen through adjustments.
type CommissionInvoice struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID      string       `json:"business_id"`
	PeriodStart     time.Time    `json:"period_start"`
	PeriodEnd       time.Time    `json:"period_end"`
	TransferCount   int64        `json:"transfer_count"`
	RewardTotal     int64        `json:"reward_total"`
	CommissionRate  float64      `json:"commission_rate"`
	CommissionTotal int64        `json:"commission_total"`
	CreatedAt       time.Time    `json:"created_at"`
}

func (CommissionInvoice) TableName() string { return "commission_invoices" }

// CommissionAdjustment corrects an issued invoice without touching it.
type CommissionAdjustment struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID snowflake.ID `json:"invoice_id"`
	Delta     int64        `json:"delta"`
	Reason    string       `json:"reason"`
	ActorID   string       `json:"actor_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func (CommissionAdjustment) TableName() string { return "commission_adjustments" }

// PayoutStats aggregates payout requests over a period.
type PayoutStats struct {
	TotalRequests  int64
	ByStatus       map[string]int64
	FlaggedPayouts int64
	BlockedPayouts int64
	BlockReasons   map[string]int64
}

// TransferStats aggregates transfers over a period.
type TransferStats struct {
	CompletedCount  int64
	CompletedAmount int64
	AmountByRail    map[string]int64
	UnknownOutcomes int64
}

type Repository interface {
	// CreateDiscrepancy inserts a finding, reporting false when the same
	// finding is already open.
	CreateDiscrepancy(ctx context.Context, db *gorm.DB, d *Discrepancy) (bool, error)
	GetDiscrepancy(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Discrepancy, error)
	ResolveDiscrepancy(ctx context.Context, db *gorm.DB, id snowflake.ID, resolvedBy, resolution string, at time.Time) (bool, error)
	CountOpenDiscrepancies(ctx context.Context, db *gorm.DB, businessID string) (int64, error)
	ListOpenDiscrepancies(ctx context.Context, db *gorm.DB, businessID string, limit int) ([]*Discrepancy, error)

	// ListRailTransfers returns every transfer created on a rail in the
	// window, across businesses, for provider reconciliation.
	ListRailTransfers(ctx context.Context, db *gorm.DB, rail payoutdomain.Rail, start, end time.Time) ([]*payoutdomain.Transfer, error)

	PayoutStats(ctx context.Context, db *gorm.DB, businessID string, start, end time.Time) (PayoutStats, error)
	TransferStats(ctx context.Context, db *gorm.DB, businessID string, start, end time.Time) (TransferStats, error)

	CreateInvoice(ctx context.Context, db *gorm.DB, invoice *CommissionInvoice) error
	GetInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CommissionInvoice, error)
	CreateAdjustment(ctx context.Context, db *gorm.DB, adjustment *CommissionAdjustment) error
	ListAdjustments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]*CommissionAdjustment, error)
}

type Service interface {
	// ReconcileProvider matches a provider report against our transfers
	// in the window and opens discrepancies for everything that does not
	// line up one-to-one.
	ReconcileProvider(ctx context.Context, rail payoutdomain.Rail, records []ProviderRecord, windowStart, windowEnd time.Time) (ReconcileSummary, error)

	// ResolveUnknownTransfers asks the provider about transfers parked in
	// the unknown state and settles the ones it can answer for.
	ResolveUnknownTransfers(ctx context.Context, olderThan time.Duration, limit int) (int, error)

	// MatchBankStatement pairs booked statement lines with completed
	// transfers by amount, tolerating a few days of settlement drift.
	MatchBankStatement(ctx context.Context, businessID string, entries []StatementEntry) (StatementResult, error)

	ResolveDiscrepancy(ctx context.Context, id snowflake.ID, resolution string) error

	GenerateDailyReport(ctx context.Context, businessID string, day time.Time) (DailyReport, error)
	GetStatusSummary(ctx context.Context, businessID string, day time.Time) (StatusSummary, error)
	GenerateComplianceReport(ctx context.Context, businessID string, start, end time.Time) (ComplianceReport, error)

	// ExportAudit returns the period's ledger sealed for offline delivery.
	ExportAudit(ctx context.Context, businessID string, start, end time.Time) ([]byte, error)

	GenerateCommissionInvoice(ctx context.Context, businessID string, periodStart, periodEnd time.Time) (CommissionInvoice, error)
	SummarizeCommission(ctx context.Context, businessID string, periodStart, periodEnd time.Time) (CommissionSummary, error)
	RenderCommissionInvoicePDF(ctx context.Context, invoiceID snowflake.ID) (io.Reader, error)
	AdjustCommission(ctx context.Context, invoiceID snowflake.ID, delta int64, reason string) (CommissionAdjustment, error)
}

var (
	ErrDiscrepancyNotFound = errors.New("discrepancy_not_found")
	ErrAlreadyResolved     = errors.New("discrepancy_already_resolved")
	ErrEmptyResolution     = errors.New("empty_resolution")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvalidAdjustment   = errors.New("invalid_adjustment")
	ErrInvalidPeriod       = errors.New("invalid_period")
)
