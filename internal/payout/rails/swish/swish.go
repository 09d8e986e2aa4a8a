// Package swish integrates the Swish payout API. Swish settles in seconds,
// so the pipeline treats an accepted payout as near-instant.
package swish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

const defaultTimeout = 8 * time.Second

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

func (a *Adapter) Rail() domain.Rail { return domain.RailSwish }

type payoutRequest struct {
	PayoutInstructionUUID string `json:"payoutInstructionUUID"`
	PayeeAlias            string `json:"payeeAlias"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	PayoutType            string `json:"payoutType"`
	Message               string `json:"message"`
}

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a *Adapter) CreateTransfer(ctx context.Context, transfer domain.Transfer, dest domain.Destination) (domain.RailResult, error) {
	body, err := json.Marshal(payoutRequest{
		PayoutInstructionUUID: transfer.ID.String(),
		PayeeAlias:            dest.SwishNumber,
		Amount:                formatAmount(transfer.Amount),
		Currency:              transfer.Currency,
		PayoutType:            "PAYOUT",
		Message:               "Svarade reward",
	})
	if err != nil {
		return domain.RailResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/api/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return domain.RailResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.RailResult{}, wrapTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var out payoutResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return domain.RailResult{}, fmt.Errorf("decode response: %w", err)
		}
		return domain.RailResult{
			ProviderRef:         out.ID,
			EstimatedSettlement: a.clock.Now().UTC().Add(time.Minute),
		}, nil
	}

	return domain.RailResult{}, classify(resp)
}

func (a *Adapter) LookupTransfer(ctx context.Context, transferID snowflake.ID) (domain.RailOutcome, error) {
	url := a.endpoint + "/api/v1/payouts/" + transferID.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.RailOutcome{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

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
		ID          string     `json:"id"`
		Status      string     `json:"status"`
		ErrorCode   string     `json:"errorCode"`
		DatePaidOut *time.Time `json:"datePaidOut"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.RailOutcome{}, fmt.Errorf("decode response: %w", err)
	}
	return domain.RailOutcome{
		Found:       true,
		Completed:   strings.EqualFold(out.Status, "PAID"),
		ProviderRef: out.ID,
		FailureCode: strings.ToLower(out.ErrorCode),
		SettledAt:   out.DatePaidOut,
	}, nil
}

// VerifyWebhook checks the hex HMAC Swish sends over the raw body.
func (a *Adapter) VerifyWebhook(payload []byte, headers map[string]string) error {
	signature := strings.TrimSpace(headers["X-Swish-Signature"])
	if signature == "" || a.webhookSecret == "" {
		return domain.ErrWebhookUnauthorized
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrWebhookUnauthorized
	}
	return nil
}

type callbackEvent struct {
	ID                    string     `json:"id"`
	PayoutInstructionUUID string     `json:"payoutInstructionUUID"`
	PaymentReference      string     `json:"paymentReference"`
	Status                string     `json:"status"`
	ErrorCode             string     `json:"errorCode"`
	DatePaidOut           *time.Time `json:"datePaidOut"`
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.ProviderEvent, error) {
	var event callbackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidInput
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.PayoutInstructionUUID) == "" {
		return nil, domain.ErrInvalidInput
	}

	transferID, err := snowflake.ParseString(strings.TrimSpace(event.PayoutInstructionUUID))
	if err != nil {
		return nil, domain.ErrInvalidInput
	}

	out := &domain.ProviderEvent{
		Provider:    string(domain.RailSwish),
		EventID:     event.ID,
		EventType:   "payout." + strings.ToLower(event.Status),
		ProviderRef: event.PaymentReference,
		TransferID:  transferID,
		SettledAt:   event.DatePaidOut,
	}

	switch strings.ToUpper(event.Status) {
	case "PAID":
		out.Completed = true
	case "ERROR", "DECLINED":
		out.FailureCode = strings.ToLower(event.ErrorCode)
		if out.FailureCode == "" {
			out.FailureCode = "payout_declined"
		}
	default:
		return nil, domain.ErrInvalidInput
	}
	return out, nil
}

// formatAmount renders öre as the decimal SEK string the API expects.
func formatAmount(ore int64) string {
	return fmt.Sprintf("%d.%02d", ore/100, ore%100)
}

func classify(resp *http.Response) error {
	var body struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	code := strings.ToLower(strings.TrimSpace(body.ErrorCode))
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}

	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &domain.RailError{Code: code, Message: body.ErrorMessage, Transient: transient}
}

func wrapTransportErr(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrRailTimeout, err)
	}
	return &domain.RailError{Code: "network_error", Message: err.Error(), Transient: true}
}
