package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Rail is a supported payout channel. The set is closed: routing decisions
// switch over it and an unknown rail must fail before any money moves.
type Rail string

const (
	RailBankTransfer Rail = "bank_transfer"
	RailSwish        Rail = "swish"
	RailBankgiro     Rail = "bankgiro"
)

func ParseRail(value string) (Rail, error) {
	switch Rail(value) {
	case RailBankTransfer, RailSwish, RailBankgiro:
		return Rail(value), nil
	default:
		return "", ErrUnsupportedRail
	}
}

// Destination is where the money goes. Exactly the fields for the chosen
// rail are set; validation rejects anything else before a transfer exists.
type Destination struct {
	Rail Rail `json:"rail"`

	ClearingNumber string `json:"clearing_number,omitempty"`
	AccountNumber  string `json:"account_number,omitempty"`
	SwishNumber    string `json:"swish_number,omitempty"`
	BankgiroNumber string `json:"bankgiro_number,omitempty"`
}

type PayoutStatus string

const (
	PayoutStatusReceived   PayoutStatus = "received"
	PayoutStatusBlocked    PayoutStatus = "blocked"
	PayoutStatusRejected   PayoutStatus = "rejected"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusUnknown    PayoutStatus = "unknown"
)

type TransferStatus string

const (
	TransferStatusCreated    TransferStatus = "created"
	TransferStatusProcessing TransferStatus = "processing"
	TransferStatusCompleted  TransferStatus = "completed"
	TransferStatusFailed     TransferStatus = "failed"
	// TransferStatusUnknown means the rail call timed out after the
	// provider may have acted. Only reconciliation moves a transfer out
	// of this state.
	TransferStatusUnknown TransferStatus = "unknown"
)

// PayoutRequest is the customer-facing intent, kept for every attempt
// including the ones the gate or validation refused.
type PayoutRequest struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID   string       `json:"business_id"`
	CustomerID   string       `json:"customer_id"`
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	Rail         Rail         `json:"rail"`
	Status       PayoutStatus `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	Flagged      bool         `json:"flagged"`
	QualityScore *float64     `json:"quality_score,omitempty"`
	// IPAddress is kept so a terminal failure can return the velocity
	// quota the request reserved for this source address.
	IPAddress string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

// Transfer is one attempt chain at moving the money for a payout request.
// Destination is stored masked; the full number only ever lives in the
// request on its way to the rail.
type Transfer struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	PayoutRequestID snowflake.ID   `json:"payout_request_id"`
	BusinessID      string         `json:"business_id"`
	CustomerID      string         `json:"customer_id"`
	Rail            Rail           `json:"rail"`
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	Status          TransferStatus `json:"status"`

	DestinationMasked datatypes.JSONMap `json:"destination_masked,omitempty"`
	// DestinationCipher holds the sealed destination so a retry can
	// resubmit. It never leaves the database unencrypted.
	DestinationCipher []byte `json:"-"`

	ProviderRef         *string    `json:"provider_ref,omitempty"`
	EstimatedSettlement *time.Time `json:"estimated_settlement,omitempty"`
	SettledAt           *time.Time `json:"settled_at,omitempty"`

	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	Attempts       int    `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Transfer) TableName() string { return "transfers" }

// RetryTask is one persisted retry of a transiently failed transfer.
// Scheduler instances race on DueAt; claiming is a CAS on the status column.
type RetryTask struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TransferID snowflake.ID `json:"transfer_id"`
	Attempt    int          `json:"attempt"`
	DueAt      time.Time    `json:"due_at"`
	Status     string       `json:"status"`
	LastError  string       `json:"last_error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (RetryTask) TableName() string { return "payout_retries" }

const (
	RetryStatusPending   = "pending"
	RetryStatusRunning   = "running"
	RetryStatusDone      = "done"
	RetryStatusExhausted = "exhausted"
)

// WebhookEvent records a processed provider notification so redelivery is a
// no-op. The unique index on (provider, event_id) is the idempotency guard.
type WebhookEvent struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Provider  string       `gorm:"uniqueIndex:ux_webhook_events_provider_event" json:"provider"`
	EventID   string       `gorm:"uniqueIndex:ux_webhook_events_provider_event" json:"event_id"`
	EventType string       `json:"event_type"`
	CreatedAt time.Time    `json:"created_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// RailResult is what a rail adapter reports after accepting a transfer.
type RailResult struct {
	ProviderRef         string
	EstimatedSettlement time.Time
}

// RailOutcome is a provider's answer to a status lookup.
type RailOutcome struct {
	Found       bool
	Completed   bool
	ProviderRef string
	FailureCode string
	SettledAt   *time.Time
}

// RailError is a rail-level rejection. Transient errors are worth retrying;
// terminal ones are not.
type RailError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *RailError) Error() string {
	return fmt.Sprintf("rail error %s: %s", e.Code, e.Message)
}

// ErrRailTimeout means the call ran out of time after the request may have
// reached the provider. The outcome is unknown, not failed.
var ErrRailTimeout = errors.New("rail_timeout")

// ProviderEvent is a normalized webhook notification.
type ProviderEvent struct {
	Provider    string
	EventID     string
	EventType   string
	ProviderRef string
	TransferID  snowflake.ID
	Completed   bool
	FailureCode string
	SettledAt   *time.Time
}

// Adapter is one rail integration.
type Adapter interface {
	Rail() Rail

	// CreateTransfer submits the transfer. The transfer ID doubles as the
	// idempotency reference, so a retried submission cannot pay twice.
	CreateTransfer(ctx context.Context, transfer Transfer, dest Destination) (RailResult, error)

	// LookupTransfer resolves an unknown outcome by our reference.
	LookupTransfer(ctx context.Context, transferID snowflake.ID) (RailOutcome, error)

	// VerifyWebhook authenticates a provider notification.
	VerifyWebhook(payload []byte, headers map[string]string) error

	// ParseWebhook normalizes a verified notification.
	ParseWebhook(payload []byte) (*ProviderEvent, error)
}

// PayoutInput is the API-level request to pay a customer.
type PayoutInput struct {
	BusinessID     string
	CustomerID     string
	Amount         int64
	Currency       string
	Destination    Destination
	QualityScore   *float64
	RiskIndicators map[string]float64
}

// PayoutResult reports what happened to one request.
type PayoutResult struct {
	PayoutRequest PayoutRequest `json:"payout_request"`
	Transfer      *Transfer     `json:"transfer,omitempty"`
	BlockReason   string        `json:"block_reason,omitempty"`
	RetryAt       *time.Time    `json:"retry_at,omitempty"`
}

type Repository interface {
	CreatePayout(ctx context.Context, db *gorm.DB, req *PayoutRequest) error
	UpdatePayoutStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status PayoutStatus, reason string) error
	GetPayout(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PayoutRequest, error)

	CreateTransfer(ctx context.Context, db *gorm.DB, transfer *Transfer) error
	GetTransfer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transfer, error)
	GetTransferByProviderRef(ctx context.Context, db *gorm.DB, provider Rail, ref string) (*Transfer, error)

	// TransitionTransfer applies updates only when the transfer still has
	// the expected status. It reports false when another writer won.
	TransitionTransfer(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to TransferStatus, updates map[string]any) (bool, error)

	ListTransfersByStatus(ctx context.Context, db *gorm.DB, status TransferStatus, updatedBefore time.Time, limit int) ([]*Transfer, error)
	ListTransfersInRange(ctx context.Context, db *gorm.DB, businessID string, start, end time.Time) ([]*Transfer, error)

	CreateRetry(ctx context.Context, db *gorm.DB, task *RetryTask) error
	ClaimDueRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*RetryTask, error)
	FinishRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, status, lastError string) error

	RecordWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
}

// Service is the payout router.
type Service interface {
	// RequestPayout runs the full pipeline: threshold, risk gate,
	// destination validation, transfer creation, rail call.
	RequestPayout(ctx context.Context, input PayoutInput) (PayoutResult, error)

	// RunRetry re-executes one claimed retry task.
	RunRetry(ctx context.Context, task RetryTask) error

	// ApplyProviderEvent settles a transfer from a webhook or a
	// reconciliation lookup.
	ApplyProviderEvent(ctx context.Context, event ProviderEvent) error

	GetTransfer(ctx context.Context, id snowflake.ID) (*Transfer, error)
}

var (
	// ErrBelowMinimum is returned for amounts under the payout floor.
	// Callers see the BELOW_MINIMUM code and keep accruing instead.
	ErrBelowMinimum = errors.New("below_minimum")

	ErrUnsupportedRail     = errors.New("unsupported_rail")
	ErrInvalidDestination  = errors.New("invalid_destination")
	ErrInvalidInput        = errors.New("invalid_payout_input")
	ErrPayoutBlocked       = errors.New("payout_blocked")
	ErrTransferNotFound    = errors.New("transfer_not_found")
	ErrInvalidTransition   = errors.New("invalid_transfer_transition")
	ErrDuplicateWebhook    = errors.New("duplicate_webhook_event")
	ErrWebhookUnauthorized = errors.New("webhook_unauthorized")
	ErrRetryExhausted      = errors.New("retry_exhausted")
	ErrRailNotConfigured   = errors.New("rail_not_configured")
)
