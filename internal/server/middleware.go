package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/svarade/payoutcore/internal/auditcontext"
	"github.com/svarade/payoutcore/internal/ratelimit"
)

const (
	// HeaderActor carries the caller identity behind the shared admin
	// key, e.g. "finance:anna" or "system". It feeds both the
	// authorization check and the audit trail.
	HeaderActor = "X-Actor"

	contextActorKey = "actor"
)

// AdminKeyRequired authenticates requests with the shared operator key.
// Per-person identity still comes from the X-Actor header; the key only
// proves the request originates from a trusted console or service.
func (s *Server) AdminKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.cfg.AdminAPIKey
		if key == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(key)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			actor = "system"
		}
		c.Set(contextActorKey, actor)

		actorType, actorID := splitActor(actor)
		ctx := auditcontext.WithActor(c.Request.Context(), actorType, actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authorize gates one route on the casbin policy for the acting role.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(contextActorKey)
		businessID := requestBusinessID(c)

		if err := s.authzSvc.Authorize(c.Request.Context(), actor, businessID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// WebhookRateLimit throttles provider notifications per provider and per
// source address. Disabled limiters pass everything through.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.webhookLimiter == nil || !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		provider := strings.TrimSpace(c.Param("provider"))
		res, err := s.webhookLimiter.AllowProvider(c.Request.Context(), provider)
		if err == nil && res != nil && !res.Allowed {
			rejectRateLimited(c, res)
			return
		}

		res, err = s.webhookLimiter.AllowSource(c.Request.Context(), c.ClientIP())
		if err == nil && res != nil && !res.Allowed {
			rejectRateLimited(c, res)
			return
		}

		// A broken limiter never blocks settlement notifications.
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, res *ratelimit.RateLimitResult) {
	c.Header("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(res.RetryAfter)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
		Type:    "rate_limited",
		Message: "too many requests",
	}})
}

// requestBusinessID pulls the business scope from the query or body-free
// routes that carry it in the path.
func requestBusinessID(c *gin.Context) string {
	if v := strings.TrimSpace(c.Query("business_id")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Param("businessId")); v != "" {
		return v
	}
	return "platform"
}

// splitActor maps "role:id" actor strings onto audit actor fields.
func splitActor(actor string) (string, string) {
	role, id, found := strings.Cut(actor, ":")
	if !found {
		return actor, actor
	}
	return role, id
}
