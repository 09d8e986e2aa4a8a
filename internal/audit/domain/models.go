package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/svarade/payoutcore/pkg/db/pagination"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeCustomer ActorType = "customer"
	ActorTypeBusiness ActorType = "business"
	ActorTypeAdmin    ActorType = "admin"
	ActorTypeProvider ActorType = "provider"
)

// Actions recorded by the payout pipeline. Handlers may record others; these
// are the ones the pipeline itself emits.
const (
	ActionPayoutRequested     = "payout.requested"
	ActionPayoutBlocked       = "payout.blocked"
	ActionPayoutFlagged       = "payout.flagged"
	ActionTransferCreated     = "transfer.created"
	ActionTransferCompleted   = "transfer.completed"
	ActionTransferFailed      = "transfer.failed"
	ActionTransferUnknown     = "transfer.outcome_unknown"
	ActionRetryScheduled      = "transfer.retry_scheduled"
	ActionCircuitTransition   = "rail.circuit_transition"
	ActionDiscrepancyFound    = "reconciliation.discrepancy"
	ActionDiscrepancyResolved = "reconciliation.discrepancy_resolved"
	ActionCommissionAdjusted  = "commission.adjusted"
	ActionAuditExported       = "audit.exported"
)

// AuditEntry is one immutable row in the ledger. Entries are only ever
// inserted; corrections happen as new entries referencing the old one.
type AuditEntry struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	BusinessID string            `json:"business_id"`
	ActorType  ActorType         `json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   *string           `json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditEntry) TableName() string { return "audit_entries" }

// Entry is the service-level input for one ledger write.
type Entry struct {
	BusinessID string
	ActorType  ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	BusinessID string
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type ListRequest struct {
	pagination.Pagination
	BusinessID string
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Entries []AuditEntry `json:"entries"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditEntry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditEntry, error)
	ListRange(ctx context.Context, db *gorm.DB, businessID string, start, end time.Time) ([]*AuditEntry, error)
}

// Service is the append-only ledger every money movement reports to.
type Service interface {
	// Record writes one entry. Sensitive metadata values are masked
	// before they reach storage; the ledger never holds a full account
	// number.
	Record(ctx context.Context, entry Entry) error

	List(ctx context.Context, req ListRequest) (ListResponse, error)

	// EntriesInRange returns the raw entries for one business between
	// two instants, oldest first. Reporting and export build on it.
	EntriesInRange(ctx context.Context, businessID string, start, end time.Time) ([]AuditEntry, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_audit_action")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
