package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/svarade/payoutcore/internal/config"
)

const (
	keyWebhookProvider = "webhook:provider:%s"
	keyWebhookSource   = "webhook:source:%s"
)

// WebhookLimiter throttles incoming provider notifications. Providers retry
// aggressively after an outage and a flood of redeliveries must not starve
// the payout path. Without redis the limiter stays open.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	if client == nil || cfg.WebhookRate <= 0 || cfg.WebhookBurst <= 0 {
		return &WebhookLimiter{}
	}
	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.WebhookRate,
		burst:   cfg.WebhookBurst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowProvider throttles one provider's delivery stream.
func (l *WebhookLimiter) AllowProvider(ctx context.Context, provider string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWebhookProvider, strings.TrimSpace(provider))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// AllowSource throttles a single source address across all providers.
func (l *WebhookLimiter) AllowSource(ctx context.Context, ip string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWebhookSource, strings.TrimSpace(ip))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// RetryAfterSeconds rounds a retry hint up to whole seconds for the
// Retry-After header.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
