package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/svarade/payoutcore/internal/audit"
	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
	"github.com/svarade/payoutcore/internal/authorization"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/observability"
	obsmiddleware "github.com/svarade/payoutcore/internal/observability/logger"
	obsmetrics "github.com/svarade/payoutcore/internal/observability/metrics"
	obstracing "github.com/svarade/payoutcore/internal/observability/tracing"
	"github.com/svarade/payoutcore/internal/payout"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/payout/webhook"
	"github.com/svarade/payoutcore/internal/ratelimit"
	"github.com/svarade/payoutcore/internal/reconciliation"
	recondomain "github.com/svarade/payoutcore/internal/reconciliation/domain"
	"github.com/svarade/payoutcore/internal/reward"
	rewarddomain "github.com/svarade/payoutcore/internal/reward/domain"
	"github.com/svarade/payoutcore/internal/risk"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	risk.Module,
	reward.Module,
	payout.Module,
	reconciliation.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node

	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	payoutSvc  payoutdomain.Service
	payoutRepo payoutdomain.Repository
	rewardSvc  rewarddomain.Service
	webhookSvc webhook.Service
	reconSvc   recondomain.Service
	reconRepo  recondomain.Repository

	webhookLimiter *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node

	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	PayoutSvc  payoutdomain.Service
	PayoutRepo payoutdomain.Repository
	RewardSvc  rewarddomain.Service
	WebhookSvc webhook.Service
	ReconSvc   recondomain.Service
	ReconRepo  recondomain.Repository

	WebhookLimiter *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("server"),
		genID:          p.GenID,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		payoutSvc:      p.PayoutSvc,
		payoutRepo:     p.PayoutRepo,
		rewardSvc:      p.RewardSvc,
		webhookSvc:     p.WebhookSvc,
		reconSvc:       p.ReconSvc,
		reconRepo:      p.ReconRepo,
		webhookLimiter: p.WebhookLimiter,
	}

	svc.registerValidationRoutes()
	svc.registerPayoutRoutes()
	svc.registerWebhookRoutes()
	svc.registerOpsRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerValidationRoutes() {
	v1 := s.engine.Group("/v1")

	// Validators are pure; no key needed so businesses can pre-check
	// destinations in their own forms.
	v1.POST("/validate/bank-account", s.ValidateBankAccount)
	v1.POST("/validate/swish", s.ValidateSwish)
	v1.POST("/validate/bankgiro", s.ValidateBankgiro)
	v1.POST("/validate/organization-number", s.ValidateOrganizationNumber)
}

func (s *Server) registerPayoutRoutes() {
	v1 := s.engine.Group("/v1", s.AdminKeyRequired())

	v1.POST("/payouts", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutRequest), s.CreatePayout)
	v1.GET("/payouts/:id", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutView), s.GetPayout)
	v1.GET("/transfers/:id", s.authorize(authorization.ObjectTransfer, authorization.ActionTransferView), s.GetTransfer)

	v1.POST("/rewards/calculate", s.CalculateReward)
}

func (s *Server) registerWebhookRoutes() {
	v1 := s.engine.Group("/v1")

	// Authenticated by provider signature inside the webhook service, not
	// by the admin key.
	v1.POST("/webhooks/:provider", s.WebhookRateLimit(), s.HandleProviderWebhook)
}

func (s *Server) registerOpsRoutes() {
	v1 := s.engine.Group("/v1", s.AdminKeyRequired())

	// -------- Reports --------
	v1.GET("/reports/daily", s.authorize(authorization.ObjectReport, authorization.ActionReportView), s.GetDailyReport)
	v1.GET("/reports/status/:date", s.authorize(authorization.ObjectReport, authorization.ActionReportView), s.GetStatusSummary)
	v1.GET("/reports/compliance", s.authorize(authorization.ObjectReport, authorization.ActionReportView), s.GetComplianceReport)

	// -------- Audit ledger --------
	v1.GET("/audit", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditEntries)
	v1.POST("/audit/export", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogExport), s.ExportAudit)

	// -------- Reconciliation --------
	v1.POST("/reconciliation/providers/:rail", s.authorize(authorization.ObjectReport, authorization.ActionReportGenerate), s.IngestProviderReport)
	v1.POST("/reconciliation/statements", s.authorize(authorization.ObjectReport, authorization.ActionReportGenerate), s.MatchBankStatement)

	v1.GET("/discrepancies", s.authorize(authorization.ObjectDiscrepancy, authorization.ActionDiscrepancyView), s.ListDiscrepancies)
	v1.POST("/discrepancies/:id/resolve", s.authorize(authorization.ObjectDiscrepancy, authorization.ActionDiscrepancyResolve), s.ResolveDiscrepancy)

	// -------- Commission --------
	v1.GET("/commission/summary", s.authorize(authorization.ObjectCommission, authorization.ActionCommissionView), s.GetCommissionSummary)
	v1.POST("/commission/invoices", s.authorize(authorization.ObjectCommission, authorization.ActionCommissionInvoice), s.CreateCommissionInvoice)
	v1.GET("/commission/invoices/:id/pdf", s.authorize(authorization.ObjectCommission, authorization.ActionCommissionView), s.RenderCommissionInvoicePDF)
	v1.POST("/commission/invoices/:id/adjustments", s.authorize(authorization.ObjectCommission, authorization.ActionCommissionAdjust), s.AdjustCommission)
}
