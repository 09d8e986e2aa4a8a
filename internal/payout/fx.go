package payout

import (
	"go.uber.org/fx"

	"github.com/svarade/payoutcore/internal/clock"
	"github.com/svarade/payoutcore/internal/config"
	"github.com/svarade/payoutcore/internal/payout/rails"
	"github.com/svarade/payoutcore/internal/payout/rails/bankgiro"
	"github.com/svarade/payoutcore/internal/payout/rails/banktransfer"
	"github.com/svarade/payoutcore/internal/payout/rails/swish"
	"github.com/svarade/payoutcore/internal/payout/repository"
	"github.com/svarade/payoutcore/internal/payout/service"
	"github.com/svarade/payoutcore/internal/payout/webhook"
	"github.com/svarade/payoutcore/pkg/sealed"
)

var Module = fx.Module("payout",
	fx.Provide(
		NewSealer,
		NewRegistry,
		repository.Provide,
		service.NewService,
		webhook.NewService,
	),
)

func NewSealer(cfg config.Config) (*sealed.Sealer, error) {
	return sealed.New(cfg.ExportSecret)
}

func NewRegistry(cfg config.Config, clk clock.Clock) *rails.Registry {
	return rails.NewRegistry(
		banktransfer.New(banktransfer.Config{
			Endpoint:      cfg.BankTransferEndpoint,
			APIKey:        cfg.BankTransferAPIKey,
			WebhookSecret: cfg.WebhookSecretBankTransfer,
			Clock:         clk,
		}),
		swish.New(swish.Config{
			Endpoint:      cfg.SwishEndpoint,
			APIKey:        cfg.SwishAPIKey,
			WebhookSecret: cfg.WebhookSecretSwish,
			Clock:         clk,
		}),
		bankgiro.New(bankgiro.Config{
			Endpoint:      cfg.BankgiroEndpoint,
			APIKey:        cfg.BankgiroAPIKey,
			WebhookSecret: cfg.WebhookSecretBankgiro,
			Clock:         clk,
		}),
	)
}
