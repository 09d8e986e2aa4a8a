package domain

import (
	"context"
	"errors"
	"time"
)

// CircuitState is the per-rail circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Decision is the gate's verdict on a payout attempt.
type Decision string

const (
	DecisionAllow Decision = "allow"
	// DecisionFlag lets the payout proceed but marks it for manual review.
	DecisionFlag  Decision = "flag"
	DecisionBlock Decision = "block"
)

// Block reason codes surfaced to callers.
const (
	ReasonCircuitOpen      = "CIRCUIT_OPEN"
	ReasonVelocityCustomer = "VELOCITY_LIMIT_CUSTOMER"
	ReasonVelocityIP       = "VELOCITY_LIMIT_IP"
	ReasonFraudSuspected   = "FRAUD_SUSPECTED"
)

// Signal is one weighted contribution to a risk score.
type Signal struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// Assessment is the combined fraud/ATO scoring result. It is not persisted on
// its own; the gate embeds it in the audit entry of the request it gated.
type Assessment struct {
	Score      float64  `json:"risk_score"`
	Confidence float64  `json:"confidence"`
	Evidence   []Signal `json:"evidence"`
}

// VelocityState reports a rolling-window tally after an attempt was counted.
type VelocityState struct {
	Count         int64     `json:"count"`
	Amount        int64     `json:"amount"`
	LimitExceeded bool      `json:"limit_exceeded"`
	ResetTime     time.Time `json:"reset_time"`
}

// CheckRequest describes one payout attempt to gate.
type CheckRequest struct {
	// AttemptID identifies this attempt in the velocity window so a later
	// ReleaseVelocity can return exactly the quota this attempt reserved.
	AttemptID  string
	CustomerID string
	BusinessID string
	IPAddress  string
	Rail       string
	Amount     int64

	// Indicators feed the fraud scorer. Values are signal strengths in
	// [0,1]; missing signals are treated as absent, not zero-risk.
	Indicators map[string]float64
}

// CheckResult is the gate's answer. A blocked attempt always carries a
// machine-readable reason and, where the block is time-bound, a reset time.
type CheckResult struct {
	Decision      Decision
	Reason        string
	ResetAt       *time.Time
	Assessment    Assessment
	CustomerState VelocityState
	IPState       VelocityState
	CircuitState  CircuitState
}

// Blocked reports whether the attempt may not proceed.
func (r CheckResult) Blocked() bool { return r.Decision == DecisionBlock }

// Service is the risk gate consulted before any rail call.
type Service interface {
	// CheckPayout reserves velocity quota and evaluates circuit state and
	// fraud signals for one attempt. A reservation made for an attempt
	// that later fails terminally should be released via ReleaseVelocity.
	CheckPayout(ctx context.Context, req CheckRequest) (CheckResult, error)

	// ReleaseVelocity returns reserved quota for an attempt that never
	// moved money.
	ReleaseVelocity(ctx context.Context, req CheckRequest) error

	// RecordRailSuccess and RecordRailFailure drive the per-rail circuit
	// breaker. Failure here means a rail-level fault, not a business
	// rejection of one payout.
	RecordRailSuccess(ctx context.Context, rail string)
	RecordRailFailure(ctx context.Context, rail string)

	// CancelRailProbe returns a half-open probe slot for an attempt the
	// circuit admitted but that was refused before reaching the rail.
	CancelRailProbe(ctx context.Context, rail string)

	// DetectFraudPattern scores one named pattern against request data.
	DetectFraudPattern(pattern string, data map[string]float64) Assessment

	// DetectAccountTakeover scores ATO indicators for a customer.
	DetectAccountTakeover(customerID string, indicators map[string]float64) Assessment
}

var (
	ErrInvalidRequest = errors.New("invalid_risk_request")
	ErrStoreFailure   = errors.New("risk_store_failure")
)
