// Package webhook receives provider settlement notifications and feeds them
// into the transfer state machine exactly once each.
package webhook

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/observability/metrics"
	"github.com/svarade/payoutcore/internal/payout/domain"
	"github.com/svarade/payoutcore/internal/payout/rails"
)

type Service interface {
	// Handle verifies, dedupes, and applies one notification. A replayed
	// event returns ErrDuplicateWebhook; callers should answer 200 so the
	// provider stops redelivering.
	Handle(ctx context.Context, provider string, payload []byte, headers map[string]string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     domain.Repository
	Registry *rails.Registry
	Payouts  domain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     domain.Repository
	registry *rails.Registry
	payouts  domain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("payout.webhook"),
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		registry: p.Registry,
		payouts:  p.Payouts,
		metrics:  p.Metrics,
	}
}

func (s *service) Handle(ctx context.Context, provider string, payload []byte, headers map[string]string) error {
	rail, err := domain.ParseRail(strings.TrimSpace(provider))
	if err != nil {
		return err
	}
	adapter, err := s.registry.Adapter(rail)
	if err != nil {
		return err
	}

	if err := adapter.VerifyWebhook(payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return err
	}

	event, err := adapter.ParseWebhook(payload)
	if err != nil {
		return err
	}

	if err := s.payouts.ApplyProviderEvent(ctx, *event); err != nil {
		// No idempotency row yet: the provider keeps redelivering, and
		// the event gets applied once the transfer reaches a state it
		// fits. Recording first would answer the redelivery as a
		// duplicate and drop the settlement for good.
		if !errors.Is(err, domain.ErrTransferNotFound) {
			s.log.Error("failed to apply provider event",
				zap.String("provider", event.Provider),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
		return err
	}

	// Apply is idempotent for an already-terminal transfer, so the row
	// only has to stop redeliveries after the event has taken effect.
	fresh, err := s.repo.RecordWebhookEvent(ctx, s.db, &domain.WebhookEvent{
		ID:        s.genID.Generate(),
		Provider:  event.Provider,
		EventID:   event.EventID,
		EventType: event.EventType,
		CreatedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if !fresh {
		return domain.ErrDuplicateWebhook
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(ctx, event.Provider, event.EventType)
	}
	return nil
}
