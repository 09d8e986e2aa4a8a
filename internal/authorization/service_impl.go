package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/svarade/payoutcore/internal/audit/domain"
)

//go:embed model.conf
var modelText string

const (
	ObjectPayout      = "payout"
	ObjectTransfer    = "transfer"
	ObjectAuditLog    = "audit_log"
	ObjectReport      = "report"
	ObjectDiscrepancy = "discrepancy"
	ObjectCommission  = "commission"
)

const (
	ActionPayoutView    = "payout.view"
	ActionPayoutRequest = "payout.request"

	ActionTransferView  = "transfer.view"
	ActionTransferRetry = "transfer.retry"

	ActionAuditLogView   = "audit_log.view"
	ActionAuditLogExport = "audit_log.export"

	ActionReportView     = "report.view"
	ActionReportGenerate = "report.generate"

	ActionDiscrepancyView    = "discrepancy.view"
	ActionDiscrepancyResolve = "discrepancy.resolve"

	ActionCommissionView    = "commission.view"
	ActionCommissionInvoice = "commission.invoice"
	ActionCommissionAdjust  = "commission.adjust"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, businessID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return ErrInvalidBusiness
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, actorType, actorID, err := resolveActor(actor)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, businessID, object, action)
		return err
	}

	domain := fmt.Sprintf("biz:%s", businessID)
	if err := s.ensureGrouping(actor, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, businessID, object, action)
		return ErrForbidden
	}
	return nil
}

// resolveActor maps an authenticated subject to its role. Subjects carry
// their role prefix from the credential that authenticated them: the admin
// API key yields "admin:<key name>", scheduler jobs run as "system".
func resolveActor(actor string) (string, string, string, error) {
	if actor == "system" {
		return "role:system", "system", "", nil
	}
	for _, role := range []string{"admin", "finance", "support"} {
		prefix := role + ":"
		if !strings.HasPrefix(actor, prefix) {
			continue
		}
		id := strings.TrimSpace(strings.TrimPrefix(actor, prefix))
		if id == "" {
			return "", role, "", ErrInvalidActor
		}
		return "role:" + role, role, id, nil
	}
	return "", "", "", ErrInvalidActor
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID string, businessID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		BusinessID: businessID,
		ActorType:  auditdomain.ActorType(actorType),
		ActorID:    actorID,
		Action:     "authorization.denied",
		TargetType: "capability",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	})
	if err != nil {
		s.log.Error("failed to record audit entry", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Support reads, never acts.
		{"role:support", ObjectPayout, ActionPayoutView},
		{"role:support", ObjectTransfer, ActionTransferView},
		{"role:support", ObjectAuditLog, ActionAuditLogView},
		{"role:support", ObjectDiscrepancy, ActionDiscrepancyView},

		// Finance owns money oversight.
		{"role:finance", ObjectPayout, ActionPayoutView},
		{"role:finance", ObjectTransfer, ActionTransferView},
		{"role:finance", ObjectAuditLog, ActionAuditLogView},
		{"role:finance", ObjectReport, ActionReportView},
		{"role:finance", ObjectReport, ActionReportGenerate},
		{"role:finance", ObjectDiscrepancy, ActionDiscrepancyView},
		{"role:finance", ObjectDiscrepancy, ActionDiscrepancyResolve},
		{"role:finance", ObjectCommission, ActionCommissionView},
		{"role:finance", ObjectCommission, ActionCommissionInvoice},

		// Admin can additionally export the ledger and correct invoices.
		{"role:admin", ObjectPayout, ActionPayoutView},
		{"role:admin", ObjectTransfer, ActionTransferView},
		{"role:admin", ObjectTransfer, ActionTransferRetry},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectAuditLog, ActionAuditLogExport},
		{"role:admin", ObjectReport, ActionReportView},
		{"role:admin", ObjectReport, ActionReportGenerate},
		{"role:admin", ObjectDiscrepancy, ActionDiscrepancyView},
		{"role:admin", ObjectDiscrepancy, ActionDiscrepancyResolve},
		{"role:admin", ObjectCommission, ActionCommissionView},
		{"role:admin", ObjectCommission, ActionCommissionInvoice},
		{"role:admin", ObjectCommission, ActionCommissionAdjust},

		// The pipeline and scheduler run as system.
		{"role:system", ObjectPayout, ActionPayoutRequest},
		{"role:system", ObjectPayout, ActionPayoutView},
		{"role:system", ObjectTransfer, ActionTransferView},
		{"role:system", ObjectTransfer, ActionTransferRetry},
		{"role:system", ObjectReport, ActionReportGenerate},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
