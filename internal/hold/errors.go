package hold

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrEventNotFound    = errors.New("event not found")
	ErrNotPurchasable   = errors.New("event is not available for purchase")
	ErrSeatsUnavailable = errors.New("seats unavailable")
	ErrNotFound         = errors.New("no active hold for session")
	ErrExtendFailed     = errors.New("hold could not be extended")
	ErrTransient        = errors.New("store temporarily unavailable")
)

const (
	ReasonSold = "sold"
	ReasonHeld = "held"
)

// SeatsUnavailableError lists the seats that blocked a hold. The whole batch
// failed; no seat of the request is held.
type SeatsUnavailableError struct {
	SeatIDs []string
	Reason  string
}

func (e *SeatsUnavailableError) Error() string {
	return fmt.Sprintf("%s: already %s: %s", ErrSeatsUnavailable, e.Reason, strings.Join(e.SeatIDs, ", "))
}

func (e *SeatsUnavailableError) Is(target error) bool {
	return target == ErrSeatsUnavailable
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}
