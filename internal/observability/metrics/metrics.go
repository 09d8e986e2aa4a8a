package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	payoutAttempts     metric.Int64Counter
	gateBlocks         metric.Int64Counter
	circuitTransitions metric.Int64Counter
	retriesScheduled   metric.Int64Counter
	webhookEvents      metric.Int64Counter
	discrepancies      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payoutcore"
	}
	meter := provider.Meter(name)

	payoutAttempts, err := meter.Int64Counter("payoutcore_payout_attempts_total")
	if err != nil {
		return nil, err
	}
	gateBlocks, err := meter.Int64Counter("payoutcore_gate_blocks_total")
	if err != nil {
		return nil, err
	}
	circuitTransitions, err := meter.Int64Counter("payoutcore_circuit_transitions_total")
	if err != nil {
		return nil, err
	}
	retriesScheduled, err := meter.Int64Counter("payoutcore_retries_scheduled_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("payoutcore_webhook_events_total")
	if err != nil {
		return nil, err
	}
	discrepancies, err := meter.Int64Counter("payoutcore_reconciliation_discrepancies_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		payoutAttempts:     payoutAttempts,
		gateBlocks:         gateBlocks,
		circuitTransitions: circuitTransitions,
		retriesScheduled:   retriesScheduled,
		webhookEvents:      webhookEvents,
		discrepancies:      discrepancies,
	}, nil
}

// RecordPayoutAttempt increments payout attempt counts by rail and outcome.
func (m *Metrics) RecordPayoutAttempt(ctx context.Context, rail, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("rail", strings.TrimSpace(rail)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.payoutAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGateBlock increments risk-gate block counts.
func (m *Metrics) RecordGateBlock(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.gateBlocks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCircuitTransition increments circuit state transition counts.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, rail, state string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("rail", strings.TrimSpace(rail)),
		attribute.String("state", strings.TrimSpace(state)),
	)
	m.circuitTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRetryScheduled increments scheduled retry counts.
func (m *Metrics) RecordRetryScheduled(ctx context.Context, rail string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("rail", strings.TrimSpace(rail)))
	m.retriesScheduled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent increments provider webhook counts.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDiscrepancy increments reconciliation discrepancy counts.
func (m *Metrics) RecordDiscrepancy(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.discrepancies.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"rail":        {},
	"outcome":     {},
	"reason":      {},
	"state":       {},
	"provider":    {},
	"event_type":  {},
	"kind":        {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
