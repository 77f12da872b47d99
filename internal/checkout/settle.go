package checkout

import (
	"context"
	"errors"
	"fmt"

	"ms-seating/internal/logger"
	"ms-seating/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
)

var ErrInvalidOutcome = errors.New("invalid payment outcome")

type Ledger interface {
	MarkSold(ctx context.Context, eventID string, seatIDs []string) (int64, error)
	MarkAvailable(ctx context.Context, eventID string, seatIDs []string) (int64, error)
}

type LeaseReleaser interface {
	ReleaseLeaseForSeats(ctx context.Context, eventID string, seatIDs []string, sessionID string) (int, error)
}

type Notifier interface {
	PublishSeatStatus(ctx context.Context, change models.SeatStatusChangeEvent) error
}

// Settler applies payment outcomes reported by the checkout service. It is
// the only writer of SOLD.
type Settler struct {
	Ledger    Ledger
	Holds     LeaseReleaser
	Notifiers []Notifier
	Logger    *logger.Logger
	validate  *validator.Validate
}

func NewSettler(ledger Ledger, holds LeaseReleaser, log *logger.Logger, notifiers ...Notifier) *Settler {
	if log == nil {
		log = logger.NewConsoleLogger(nil)
	}
	return &Settler{
		Ledger:    ledger,
		Holds:     holds,
		Notifiers: notifiers,
		Logger:    log,
		validate:  validator.New(),
	}
}

// Settle is idempotent: replaying an outcome changes nothing the second time.
func (s *Settler) Settle(ctx context.Context, outcome models.PaymentOutcome) error {
	if err := s.validate.Struct(outcome); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOutcome, err)
	}

	var (
		n      int64
		err    error
		change models.SeatChange
		status models.SeatStatus
	)
	switch outcome.Result {
	case models.PaymentSucceeded:
		n, err = s.Ledger.MarkSold(ctx, outcome.EventID, outcome.SeatIDs)
		change, status = models.SeatChangeSold, models.SeatSold
	default:
		n, err = s.Ledger.MarkAvailable(ctx, outcome.EventID, outcome.SeatIDs)
		change, status = models.SeatChangeReverted, models.SeatAvailable
	}
	if err != nil {
		return err
	}

	if outcome.Result != models.PaymentRefunded {
		if _, err := s.Holds.ReleaseLeaseForSeats(ctx, outcome.EventID, outcome.SeatIDs, outcome.SessionID); err != nil {
			// the ledger is settled; leftover leases lapse at their TTL
			s.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to release leases for session %s: %v", outcome.SessionID, err))
		}
	}

	s.Logger.Info("CHECKOUT", fmt.Sprintf("Payment %s for event %s session %s: %d of %d seats -> %s", outcome.Result, outcome.EventID, outcome.SessionID, n, len(outcome.SeatIDs), status))
	if n > 0 {
		evt := models.NewSeatStatusChangeEvent(outcome.EventID, outcome.SessionID, outcome.SeatIDs, change, status, nil)
		for _, notifier := range s.Notifiers {
			if err := notifier.PublishSeatStatus(ctx, evt); err != nil {
				s.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to publish %s for event %s: %v", change, outcome.EventID, err))
			}
		}
	}
	return nil
}

// SettleMessage settles an outcome read from the payment topic. A malformed
// outcome is marked permanent so the consumer commits it instead of retrying.
func (s *Settler) SettleMessage(ctx context.Context, outcome models.PaymentOutcome) error {
	err := s.Settle(ctx, outcome)
	if errors.Is(err, ErrInvalidOutcome) {
		return backoff.Permanent(err)
	}
	return err
}
