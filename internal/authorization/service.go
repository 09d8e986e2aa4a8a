package authorization

import (
	"context"
	"errors"
)

// Service answers whether an actor may run an operator action for a
// business. The payout pipeline itself does not pass through here; this
// guards the oversight surface (reports, exports, manual resolutions).
type Service interface {
	Authorize(ctx context.Context, actor string, businessID string, object string, action string) error
}

var (
	ErrInvalidActor    = errors.New("invalid_actor")
	ErrInvalidBusiness = errors.New("invalid_business")
	ErrInvalidObject   = errors.New("invalid_object")
	ErrInvalidAction   = errors.New("invalid_action")
	ErrForbidden       = errors.New("forbidden")
)
