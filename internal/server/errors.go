package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/svarade/payoutcore/internal/authorization"
	payoutdomain "github.com/svarade/payoutcore/internal/payout/domain"
	recondomain "github.com/svarade/payoutcore/internal/reconciliation/domain"
	rewarddomain "github.com/svarade/payoutcore/internal/reward/domain"
	riskdomain "github.com/svarade/payoutcore/internal/risk/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

// ErrorHandlingMiddleware converts the last gin error into a JSON error
// response. Handlers push domain errors with AbortWithError and never write
// error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, payoutdomain.ErrWebhookUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, recondomain.ErrAlreadyResolved):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    "already_resolved",
			Message: "discrepancy is already resolved",
		}
	case errors.Is(err, payoutdomain.ErrBelowMinimum):
		// A payout under the floor is rejected, not failed; the caller
		// keeps accruing and retries once the balance clears the floor.
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "payout_rejected",
			Code:    "BELOW_MINIMUM",
			Message: err.Error(),
		}
	case errors.Is(err, payoutdomain.ErrPayoutBlocked):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "payout_blocked",
			Code:    "payout_blocked",
			Message: "payout blocked by risk gate",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "invalid request",
		}
	case errors.Is(err, riskdomain.ErrStoreFailure):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, payoutdomain.ErrInvalidInput),
		errors.Is(err, payoutdomain.ErrInvalidDestination),
		errors.Is(err, payoutdomain.ErrUnsupportedRail),
		errors.Is(err, rewarddomain.ErrInvalidQualityScore),
		errors.Is(err, rewarddomain.ErrInvalidAmount),
		errors.Is(err, riskdomain.ErrInvalidRequest),
		errors.Is(err, recondomain.ErrEmptyResolution),
		errors.Is(err, recondomain.ErrInvalidAdjustment),
		errors.Is(err, recondomain.ErrInvalidPeriod),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidBusiness),
		errors.Is(err, authorization.ErrInvalidObject),
		errors.Is(err, authorization.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, payoutdomain.ErrTransferNotFound),
		errors.Is(err, recondomain.ErrDiscrepancyNotFound),
		errors.Is(err, recondomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog tags the request log with the same taxonomy the
// response body uses.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
