// Package bankgiro integrates the Bankgirot payment API for payouts to
// business giro numbers. Giro payments clear on banking days only.
package bankgiro

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/payout/domain"
)

const defaultTimeout = 12 * time.Second

type Config struct {
	Endpoint      string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	Clock         clock.Clock
}

type Adapter struct {
	endpoint      string
	apiKey        string
	webhookSecret string
	client        *http.Client
	clock         clock.Clock
}

func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Adapter{
		endpoint:      strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		client:        &http.Client{Timeout: timeout},
		clock:         clk,
	}
}

func (a *Adapter) Rail() domain.Rail { return domain.RailBankgiro }

type paymentRequest struct {
	ClientReference string `json:"client_reference"`
	BankgiroNumber  string `json:"bankgiro_number"`
	AmountOre       int64  `json:"amount_ore"`
	Currency        string `json:"currency"`
}

func (a *Adapter) CreateTransfer(ctx context.Context, transfer domain.Transfer, dest domain.Destination) (domain.RailResult, error) {
	body, err := json.Marshal(paymentRequest{
		ClientReference: transfer.ID.String(),
		BankgiroNumber:  dest.BankgiroNumber,
		AmountOre:       transfer.Amount,
		Currency:        transfer.Currency,
	})
	if err != nil {
		return domain.RailResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/payments/v1/outbound", bytes.NewReader(body))
	if err != nil {
		return domain.RailResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.RailResult{}, wrapTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		var out struct {
			PaymentID       string     `json:"payment_id"`
			ExpectedCleared *time.Time `json:"expected_cleared"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return domain.RailResult{}, fmt.Errorf("decode response: %w", err)
		}
		result := domain.RailResult{ProviderRef: out.PaymentID}
		if out.ExpectedCleared != nil {
			result.EstimatedSettlement = *out.ExpectedCleared
		} else {
			result.EstimatedSettlement = a.clock.Now().UTC().Add(48 * time.Hour)
		}
		return result, nil
	}

	return domain.RailResult{}, classify(resp)
}

func (a *Adapter) LookupTransfer(ctx context.Context, transferID snowflake.ID) (domain.RailOutcome, error) {
	url := a.endpoint + "/payments/v1/outbound?client_reference=" + transferID.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.RailOutcome{}, err
	}
	req.Header.Set("X-Api-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.RailOutcome{}, wrapTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.RailOutcome{Found: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RailOutcome{}, classify(resp)
	}

	var out struct {
		PaymentID    string     `json:"payment_id"`
		State        string     `json:"state"`
		RejectReason string     `json:"reject_reason"`
		ClearedAt    *time.Time `json:"cleared_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.RailOutcome{}, fmt.Errorf("decode response: %w", err)
	}
	return domain.RailOutcome{
		Found:       true,
		Completed:   out.State == "cleared",
		ProviderRef: out.PaymentID,
		FailureCode: out.RejectReason,
		SettledAt:   out.ClearedAt,
	}, nil
}

// VerifyWebhook checks the base64 HMAC Bankgirot sends over the raw body.
func (a *Adapter) VerifyWebhook(payload []byte, headers map[string]string) error {
	signature := strings.TrimSpace(headers["X-Bgc-Signature"])
	if signature == "" || a.webhookSecret == "" {
		return domain.ErrWebhookUnauthorized
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrWebhookUnauthorized
	}
	return nil
}

type notification struct {
	NotificationID  string     `json:"notification_id"`
	PaymentID       string     `json:"payment_id"`
	ClientReference string     `json:"client_reference"`
	State           string     `json:"state"`
	RejectReason    string     `json:"reject_reason"`
	ClearedAt       *time.Time `json:"cleared_at"`
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.ProviderEvent, error) {
	var event notification
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidInput
	}
	if strings.TrimSpace(event.NotificationID) == "" || strings.TrimSpace(event.ClientReference) == "" {
		return nil, domain.ErrInvalidInput
	}

	transferID, err := snowflake.ParseString(strings.TrimSpace(event.ClientReference))
	if err != nil {
		return nil, domain.ErrInvalidInput
	}

	out := &domain.ProviderEvent{
		Provider:    string(domain.RailBankgiro),
		EventID:     event.NotificationID,
		EventType:   "payment." + event.State,
		ProviderRef: event.PaymentID,
		TransferID:  transferID,
		SettledAt:   event.ClearedAt,
	}

	switch event.State {
	case "cleared":
		out.Completed = true
	case "rejected", "returned":
		out.FailureCode = event.RejectReason
		if out.FailureCode == "" {
			out.FailureCode = "payment_rejected"
		}
	default:
		return nil, domain.ErrInvalidInput
	}
	return out, nil
}

func classify(resp *http.Response) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Code == "" {
		body.Code = fmt.Sprintf("http_%d", resp.StatusCode)
	}

	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &domain.RailError{Code: body.Code, Message: body.Message, Transient: transient}
}

func wrapTransportErr(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrRailTimeout, err)
	}
	return &domain.RailError{Code: "network_error", Message: err.Error(), Transient: true}
}
