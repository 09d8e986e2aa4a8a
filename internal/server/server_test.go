package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
	auditrepo "github.com/svarade/payoutcore/internal/audit/repository"
	auditservice "github.com/svarade/payoutcore/internal/audit/service"
	"github.com/svarade/payoutcore/internal/authorization"
	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/payout/rails"
	"github.com/svarade/payoutcore/internal/payout/rails/banktransfer"
	payoutrepo "github.com/svarade/payoutcore/internal/payout/repository"
	payoutservice "github.com/svarade/payoutcore/internal/payout/service"
	"github.com/svarade/payoutcore/internal/payout/webhook"
	recondomain "github.com/svarade/payoutcore/internal/reconciliation/domain"
	reconrepo "github.com/svarade/payoutcore/internal/reconciliation/repository"
	reconservice "github.com/svarade/payoutcore/internal/reconciliation/service"
	rewardservice "github.com/svarade/payoutcore/internal/reward/service"
	"github.com/svarade/payoutcore/internal/risk/circuit"
	"github.com/svarade/payoutcore/internal/risk/fraud"
	riskservice "github.com/svarade/payoutcore/internal/risk/service"
	"github.com/svarade/payoutcore/internal/risk/velocity"
	"github.com/svarade/payoutcore/pkg/sealed"
)

const (
	testAdminKey      = "test-admin-key"
	testWebhookSecret = "whsec_test"
)

type fakeAdapter struct {
	rail        payoutdomain.Rail
	providerRef string
}

func (f *fakeAdapter) Rail() payoutdomain.Rail { return f.rail }

func (f *fakeAdapter) CreateTransfer(_ context.Context, _ payoutdomain.Transfer, _ payoutdomain.Destination) (payoutdomain.RailResult, error) {
	return payoutdomain.RailResult{ProviderRef: f.providerRef}, nil
}

func (f *fakeAdapter) LookupTransfer(context.Context, snowflake.ID) (payoutdomain.RailOutcome, error) {
	return payoutdomain.RailOutcome{}, nil
}

func (f *fakeAdapter) VerifyWebhook([]byte, map[string]string) error { return nil }

func (f *fakeAdapter) ParseWebhook([]byte) (*payoutdomain.ProviderEvent, error) {
	return nil, payoutdomain.ErrInvalidInput
}

type fixture struct {
	srv       *Server
	db        *gorm.DB
	clock     *clock.FakeClock
	reconRepo recondomain.Repository
	genID     *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&payoutdomain.PayoutRequest{},
		&payoutdomain.Transfer{},
		&payoutdomain.RetryTask{},
		&payoutdomain.WebhookEvent{},
		&auditdomain.AuditEntry{},
		&recondomain.Discrepancy{},
		&recondomain.CommissionInvoice{},
		&recondomain.CommissionAdjustment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticPolicyHolder(config.DefaultPayoutPolicy())
	log := zap.NewNop()

	breaker := circuit.New(clk, func() circuit.Settings {
		p := holder.Get().Circuit
		return circuit.Settings{
			FailureThreshold: p.FailureThreshold,
			FailureWindow:    p.FailureWindow,
			Cooldown:         p.Cooldown,
		}
	})
	riskSvc := riskservice.NewService(riskservice.Params{
		Log:     log,
		Policy:  holder,
		Breaker: breaker,
		Store:   velocity.NewMemoryStore(clk),
		Scorer:  fraud.NewScorer(),
	})

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		Clock: clk,
		GenID: node,
		Repo:  auditrepo.Provide(),
	})

	sealer, err := sealed.New("test-sealing-secret")
	require.NoError(t, err)

	registry := rails.NewRegistry(
		&fakeAdapter{rail: payoutdomain.RailSwish, providerRef: "swish-ref-1"},
		banktransfer.New(banktransfer.Config{
			Endpoint:      "https://bank.example",
			APIKey:        "key",
			WebhookSecret: testWebhookSecret,
		}),
	)

	pRepo := payoutrepo.Provide()
	payoutSvc := payoutservice.NewService(payoutservice.Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		GenID:    node,
		Policy:   holder,
		Repo:     pRepo,
		Registry: registry,
		Risk:     riskSvc,
		Audit:    auditSvc,
		Sealer:   sealer,
	})

	webhookSvc := webhook.NewService(webhook.Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		GenID:    node,
		Repo:     pRepo,
		Registry: registry,
		Payouts:  payoutSvc,
	})

	rRepo := reconrepo.Provide()
	reconSvc := reconservice.NewService(reconservice.Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		GenID:    node,
		Policy:   holder,
		Repo:     rRepo,
		Payouts:  payoutSvc,
		PayoutDB: pRepo,
		Registry: registry,
		Audit:    auditSvc,
		Sealer:   sealer,
	})

	rewardSvc := rewardservice.NewService(rewardservice.Params{
		Log:    log,
		Policy: holder,
	})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{
		DB:       db,
		Log:      log,
		Enforcer: enforcer,
		AuditSvc: auditSvc,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        config.Config{AdminAPIKey: testAdminKey},
		DB:         db,
		Log:        log,
		GenID:      node,
		AuthzSvc:   authzSvc,
		AuditSvc:   auditSvc,
		PayoutSvc:  payoutSvc,
		PayoutRepo: pRepo,
		RewardSvc:  rewardSvc,
		WebhookSvc: webhookSvc,
		ReconSvc:   reconSvc,
		ReconRepo:  rRepo,
	})

	return &fixture{srv: srv, db: db, clock: clk, reconRepo: rRepo, genID: node}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func adminHeaders(actor string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + testAdminKey}
	if actor != "" {
		h[HeaderActor] = actor
	}
	return h
}

func payoutBody(amount int64) map[string]any {
	return map[string]any{
		"business_id": "biz_001",
		"customer_id": "cust_001",
		"amount":      amount,
		"currency":    "SEK",
		"destination": map[string]any{
			"rail":         "swish",
			"swish_number": "0701234567",
		},
	}
}

func TestCreatePayout(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payouts", payoutBody(2_500), adminHeaders(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result payoutdomain.PayoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, payoutdomain.PayoutStatusProcessing, result.PayoutRequest.Status)
	require.NotNil(t, result.Transfer)
	assert.Equal(t, payoutdomain.TransferStatusProcessing, result.Transfer.Status)
}

func TestCreatePayoutBelowMinimum(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payouts", payoutBody(500), adminHeaders(""))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BELOW_MINIMUM", body["code"])
}

func TestCreatePayoutRequiresKey(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payouts", payoutBody(2_500), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/payouts", payoutBody(2_500), map[string]string{
		"Authorization": "Bearer wrong-key",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSupportCannotRequestPayouts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payouts", payoutBody(2_500), adminHeaders("support:sven"))
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func TestValidationRoutesAreOpen(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/validate/swish", map[string]any{"number": "0701234567"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, true, result["valid"])

	rec = f.do(t, http.MethodPost, "/v1/validate/organization-number", map[string]any{"number": "5560360793"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, true, result["valid"])
}

func TestCalculateReward(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/rewards/calculate", map[string]any{
		"quality_score":   80,
		"purchase_amount": 100_000,
	}, adminHeaders(""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var calc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calc))
	reward := calc["reward_amount"].(float64)
	commission := calc["commission_amount"].(float64)
	assert.InDelta(t, reward*0.20, commission, 1)
}

func signWebhook(payload []byte) map[string]string {
	timestamp := "1770000000"
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return map[string]string{
		"Bank-Signature": fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))),
	}
}

func TestProviderWebhookIsIdempotent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payouts", payoutBody(2_500), adminHeaders(""))
	require.Equal(t, http.StatusCreated, rec.Code)
	var result payoutdomain.PayoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	transferID := result.Transfer.ID

	payload := []byte(fmt.Sprintf(
		`{"id":"evt-1","type":"credit_transfer.settled","data":{"id":"bank-77","reference":%q}}`,
		transferID.String(),
	))

	// Delivered twice; the replay still answers 200.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/bank_transfer", bytes.NewReader(payload))
		for k, v := range signWebhook(payload) {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		f.srv.Engine().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	transfer, err := f.srv.payoutSvc.GetTransfer(context.Background(), transferID)
	require.NoError(t, err)
	assert.Equal(t, payoutdomain.TransferStatusCompleted, transfer.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/bank_transfer", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Bank-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	f.srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveDiscrepancy(t *testing.T) {
	f := newFixture(t)

	disc := &recondomain.Discrepancy{
		ID:          f.genID.Generate(),
		BusinessID:  "biz_001",
		Kind:        recondomain.DiscrepancyOrphanAtProvider,
		ProviderRef: "orphan-1",
		Status:      recondomain.DiscrepancyOpen,
		CreatedAt:   f.clock.Now(),
	}
	_, err := f.reconRepo.CreateDiscrepancy(context.Background(), f.db, disc)
	require.NoError(t, err)

	path := fmt.Sprintf("/v1/discrepancies/%s/resolve", disc.ID.String())

	rec := f.do(t, http.MethodPost, path, map[string]any{"resolution": ""}, adminHeaders("finance:anna"))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, path, map[string]any{"resolution": "confirmed with provider"}, adminHeaders("finance:anna"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, path, map[string]any{"resolution": "again"}, adminHeaders("finance:anna"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSupportCannotResolveDiscrepancies(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/discrepancies/1/resolve", map[string]any{"resolution": "x"}, adminHeaders("support:sven"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDailyReport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payouts", payoutBody(2_500), adminHeaders(""))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/reports/daily?business_id=biz_001&date=2026-06-01", nil, adminHeaders("finance:anna"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report recondomain.DailyReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(1), report.TotalRequests)
}

func TestStatusSummaryReport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payouts", payoutBody(2_500), adminHeaders(""))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/reports/status/2026-06-01?business_id=biz_001", nil, adminHeaders("finance:anna"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary recondomain.StatusSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "2026-06-01", summary.Date)
	assert.Equal(t, int64(1), summary.TotalRequests)
	assert.Equal(t, int64(1), summary.ByStatus["processing"])

	// A day with no activity reads back empty.
	rec = f.do(t, http.MethodGet, "/v1/reports/status/2026-06-02?business_id=biz_001", nil, adminHeaders("finance:anna"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Zero(t, summary.TotalRequests)
}

func TestCommissionSummaryIsReadOnly(t *testing.T) {
	f := newFixture(t)

	url := "/v1/commission/summary?business_id=biz_001&start=2026-05-01T00:00:00Z&end=2026-06-01T00:00:00Z"
	rec := f.do(t, http.MethodGet, url, nil, adminHeaders("finance:anna"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary recondomain.CommissionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 0.20, summary.CommissionRate)
	assert.Zero(t, summary.TransferCount)

	// The preview never issues an invoice row.
	var invoices int64
	f.db.Model(&recondomain.CommissionInvoice{}).Count(&invoices)
	assert.Zero(t, invoices)

	rec = f.do(t, http.MethodGet, url, nil, adminHeaders("support:sven"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditExportNeedsAdmin(t *testing.T) {
	f := newFixture(t)

	url := "/v1/audit/export?business_id=biz_001&start=2026-06-01T00:00:00Z&end=2026-06-02T00:00:00Z"

	rec := f.do(t, http.MethodPost, url, nil, adminHeaders("finance:anna"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, url, nil, adminHeaders("admin:ops_1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestCommissionInvoiceLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/commission/invoices", map[string]any{
		"business_id":  "biz_001",
		"period_start": "2026-05-01T00:00:00Z",
		"period_end":   "2026-06-01T00:00:00Z",
	}, adminHeaders("finance:anna"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var invoice recondomain.CommissionInvoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoice))

	// Finance may invoice but only admin adjusts.
	adjPath := fmt.Sprintf("/v1/commission/invoices/%s/adjustments", invoice.ID.String())
	rec = f.do(t, http.MethodPost, adjPath, map[string]any{"delta": -500, "reason": "goodwill"}, adminHeaders("finance:anna"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, adjPath, map[string]any{"delta": -500, "reason": "goodwill"}, adminHeaders("admin:ops_1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	pdfPath := fmt.Sprintf("/v1/commission/invoices/%s/pdf", invoice.ID.String())
	rec = f.do(t, http.MethodGet, pdfPath, nil, adminHeaders("finance:anna"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}
