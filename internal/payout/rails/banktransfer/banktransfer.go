// Package banktransfer integrates the partner bank's credit transfer API for
// payouts to regular Swedish bank accounts.
package banktransfer

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

const defaultTimeout = 10 * time.Second

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

func (a *Adapter) Rail() domain.Rail { return domain.RailBankTransfer }

type createRequest struct {
	Reference      string `json:"reference"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ClearingNumber string `json:"clearing_number"`
	AccountNumber  string `json:"account_number"`
}

type createResponse struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"`
	EstimatedSettlement time.Time `json:"estimated_settlement"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) CreateTransfer(ctx context.Context, transfer domain.Transfer, dest domain.Destination) (domain.RailResult, error) {
	body, err := json.Marshal(createRequest{
		Reference:      transfer.ID.String(),
		Amount:         transfer.Amount,
		Currency:       transfer.Currency,
		ClearingNumber: dest.ClearingNumber,
		AccountNumber:  dest.AccountNumber,
	})
	if err != nil {
		return domain.RailResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/v1/credit-transfers", bytes.NewReader(body))
	if err != nil {
		return domain.RailResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Idempotency-Key", transfer.ID.String())

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.RailResult{}, wrapTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var out createResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return domain.RailResult{}, fmt.Errorf("decode response: %w", err)
		}
		result := domain.RailResult{ProviderRef: out.ID, EstimatedSettlement: out.EstimatedSettlement}
		if result.EstimatedSettlement.IsZero() {
			// SCT batch cutoffs mean next banking day at the earliest.
			result.EstimatedSettlement = a.clock.Now().UTC().Add(24 * time.Hour)
		}
		return result, nil
	}

	return domain.RailResult{}, classify(resp)
}

func (a *Adapter) LookupTransfer(ctx context.Context, transferID snowflake.ID) (domain.RailOutcome, error) {
	url := fmt.Sprintf("%s/v1/credit-transfers/by-reference/%s", a.endpoint, transferID.String())
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
		FailureCode string     `json:"failure_code"`
		SettledAt   *time.Time `json:"settled_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.RailOutcome{}, fmt.Errorf("decode response: %w", err)
	}
	return domain.RailOutcome{
		Found:       true,
		Completed:   out.Status == "completed" || out.Status == "settled",
		ProviderRef: out.ID,
		FailureCode: out.FailureCode,
		SettledAt:   out.SettledAt,
	}, nil
}

// VerifyWebhook checks the bank's stripe-style signature header:
// "t=<unix>,v1=<hex hmac of t.payload>".
func (a *Adapter) VerifyWebhook(payload []byte, headers map[string]string) error {
	header := strings.TrimSpace(headers["Bank-Signature"])
	if header == "" || a.webhookSecret == "" {
		return domain.ErrWebhookUnauthorized
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return domain.ErrWebhookUnauthorized
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrWebhookUnauthorized
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID          string     `json:"id"`
		Reference   string     `json:"reference"`
		FailureCode string     `json:"failure_code"`
		SettledAt   *time.Time `json:"settled_at"`
	} `json:"data"`
}

func (a *Adapter) ParseWebhook(payload []byte) (*domain.ProviderEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidInput
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Data.Reference) == "" {
		return nil, domain.ErrInvalidInput
	}

	transferID, err := snowflake.ParseString(strings.TrimSpace(event.Data.Reference))
	if err != nil {
		return nil, domain.ErrInvalidInput
	}

	out := &domain.ProviderEvent{
		Provider:    string(domain.RailBankTransfer),
		EventID:     event.ID,
		EventType:   event.Type,
		ProviderRef: event.Data.ID,
		TransferID:  transferID,
		SettledAt:   event.Data.SettledAt,
	}

	switch event.Type {
	case "credit_transfer.settled":
		out.Completed = true
	case "credit_transfer.failed", "credit_transfer.returned":
		out.FailureCode = event.Data.FailureCode
		if out.FailureCode == "" {
			out.FailureCode = "transfer_failed"
		}
	default:
		return nil, domain.ErrInvalidInput
	}
	return out, nil
}

func classify(resp *http.Response) error {
	var body errorResponse
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
