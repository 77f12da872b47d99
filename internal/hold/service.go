package hold

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-seating/internal/catalog"
	"ms-seating/internal/lease"
	"ms-seating/internal/logger"
	"ms-seating/internal/metrics"
	"ms-seating/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// MaxSeatsPerHold is the largest seat batch a single hold may cover.
const MaxSeatsPerHold = 10

type LeaseStore interface {
	AcquireMany(ctx context.Context, eventID string, seatIDs []string, owner string, ttl time.Duration) (lease.Result, error)
	ReleaseMany(ctx context.Context, eventID string, seatIDs []string, owner string) (lease.Result, error)
	ExtendMany(ctx context.Context, eventID string, seatIDs []string, owner string, ttl time.Duration) (lease.Result, error)
	HeldBy(ctx context.Context, eventID, sessionID string) ([]string, error)
}

type Ledger interface {
	GetSeats(ctx context.Context, eventID string, seatIDs []string) ([]models.TicketInventory, error)
	MarkHeld(ctx context.Context, eventID string, seatIDs []string, expiresAt time.Time) (int64, error)
	UpdateHoldExpiry(ctx context.Context, eventID string, seatIDs []string, expiresAt time.Time) (int64, error)
	ReleaseHeld(ctx context.Context, eventID string, seatIDs []string, notAfter time.Time) (int64, error)
}

type Catalog interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
}

// Notifier receives seat status changes after the ledger was written.
type Notifier interface {
	PublishSeatStatus(ctx context.Context, change models.SeatStatusChangeEvent) error
}

type Options struct {
	TTL            time.Duration
	LedgerAttempts int
	LedgerBackoff  time.Duration
	Currency       string
	Now            func() time.Time
}

type Service struct {
	Leases    LeaseStore
	Ledger    Ledger
	Catalog   Catalog
	Notifiers []Notifier
	Logger    *logger.Logger

	opts Options
}

func NewService(leases LeaseStore, ledger Ledger, cat Catalog, log *logger.Logger, opts Options, notifiers ...Notifier) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 600 * time.Second
	}
	if opts.LedgerAttempts <= 0 {
		opts.LedgerAttempts = 3
	}
	if opts.LedgerBackoff <= 0 {
		opts.LedgerBackoff = 100 * time.Millisecond
	}
	if opts.Currency == "" {
		opts.Currency = "ILS"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.NewConsoleLogger(nil)
	}
	return &Service{
		Leases:    leases,
		Ledger:    ledger,
		Catalog:   cat,
		Notifiers: notifiers,
		Logger:    log,
		opts:      opts,
	}
}

// TTL is the hold duration configured for this deployment.
func (s *Service) TTL() time.Duration {
	return s.opts.TTL
}

// ---------------- ACQUIRE ----------------

// HoldSeats holds seats for the configured deployment TTL.
func (s *Service) HoldSeats(ctx context.Context, eventID string, seatIDs []string, sessionID string) (*Receipt, error) {
	return s.AcquireHold(ctx, eventID, seatIDs, sessionID, s.opts.TTL)
}

// AcquireHold leases every requested seat to the session or none of them.
func (s *Service) AcquireHold(ctx context.Context, eventID string, seatIDs []string, sessionID string, ttl time.Duration) (*Receipt, error) {
	// Step 1: Validate the request before touching any store
	seats, err := normalizeSeats(seatIDs)
	if err != nil {
		return nil, err
	}
	if eventID == "" || sessionID == "" {
		return nil, invalid("event id and session id are required")
	}
	if ttl <= 0 {
		return nil, invalid("hold ttl must be positive")
	}

	// Step 2: Gate on the event's sale state
	event, err := s.Catalog.GetEvent(ctx, eventID)
	if errors.Is(err, catalog.ErrEventNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, transient("load event", err)
	}
	if !event.Purchasable(s.opts.Now()) {
		return nil, fmt.Errorf("%w: event %s status %s", ErrNotPurchasable, eventID, event.Status)
	}

	// Step 3: Load ledger rows, reject unknown and sold seats
	rows, err := s.Ledger.GetSeats(ctx, eventID, seats)
	if err != nil {
		return nil, transient("load seats", err)
	}
	byID := make(map[string]models.TicketInventory, len(rows))
	for _, row := range rows {
		byID[row.SeatID] = row
	}
	var unknown, sold []string
	for _, seatID := range seats {
		row, ok := byID[seatID]
		switch {
		case !ok:
			unknown = append(unknown, seatID)
		case row.Status == models.SeatSold || row.Status == models.SeatUnavailable:
			sold = append(sold, seatID)
		}
	}
	if len(unknown) > 0 {
		return nil, invalid("seats not found for event %s: %s", eventID, strings.Join(unknown, ", "))
	}
	if len(sold) > 0 {
		metrics.HoldConflicts.WithLabelValues(ReasonSold).Inc()
		s.Logger.LogHold("REJECT", eventID, sessionID, fmt.Sprintf("sold seats %v", sold))
		return nil, &SeatsUnavailableError{SeatIDs: sold, Reason: ReasonSold}
	}

	// Step 4: Lease every seat. Seats the session already leases from an
	// earlier hold are never part of a rollback.
	owned, err := s.Leases.HeldBy(ctx, eventID, sessionID)
	if err != nil {
		return nil, transient("find session seats", err)
	}
	res, err := s.Leases.AcquireMany(ctx, eventID, seats, sessionID, ttl)
	if err != nil {
		// the pipeline may have applied some scripts; ownership-checked
		// release makes this cleanup safe for seats we never got
		s.rollback(ctx, eventID, without(seats, owned), sessionID)
		return nil, transient("acquire leases", err)
	}

	// Step 5: All or nothing
	if len(res.Failed) > 0 {
		s.rollback(ctx, eventID, without(res.Succeeded, owned), sessionID)
		metrics.HoldConflicts.WithLabelValues(ReasonHeld).Inc()
		s.Logger.LogHold("CONFLICT", eventID, sessionID, fmt.Sprintf("already held %v, rolled back %d", res.Failed, len(res.Succeeded)))
		return nil, &SeatsUnavailableError{SeatIDs: res.Failed, Reason: ReasonHeld}
	}

	// Step 6: Record the hold in the ledger
	now := s.opts.Now()
	expiresAt := now.Add(ttl).UTC()
	var marked int64
	err = s.writeLedger(ctx, "mark_held", eventID, sessionID, func(ctx context.Context) error {
		n, err := s.Ledger.MarkHeld(ctx, eventID, seats, expiresAt)
		marked = n
		return err
	})
	// MarkHeld skips SOLD rows; checkout may have settled a seat after step 3
	if err == nil && marked < int64(len(seats)) {
		if err := s.recheckSettled(ctx, eventID, seats, sessionID, expiresAt); err != nil {
			return nil, err
		}
	}

	// Step 7: Build the receipt from the prices read in step 3
	receipt := &Receipt{
		HoldID:    uuid.NewString(),
		EventID:   eventID,
		SessionID: sessionID,
		Currency:  s.opts.Currency,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(ttl / time.Second),
	}
	for _, seatID := range seats {
		row := byID[seatID]
		receipt.Seats = append(receipt.Seats, ReceiptSeat{
			SeatID:  seatID,
			Section: row.Section,
			Row:     row.Row,
			Number:  row.Number,
			Price:   row.Price,
		})
		receipt.TotalPrice += row.Price
	}

	metrics.HoldsAcquired.Inc()
	s.Logger.LogHold("ACQUIRE", eventID, sessionID, fmt.Sprintf("%d seats until %s", len(seats), expiresAt.Format(time.RFC3339)))
	s.notify(ctx, models.NewSeatStatusChangeEvent(eventID, sessionID, seats, models.SeatChangeHeld, models.SeatHeld, &expiresAt))
	return receipt, nil
}

// recheckSettled fails the hold if any of its seats turned SOLD or
// UNAVAILABLE while the leases were taken, undoing the ledger rows and leases.
func (s *Service) recheckSettled(ctx context.Context, eventID string, seats []string, sessionID string, expiresAt time.Time) error {
	rows, err := s.Ledger.GetSeats(ctx, eventID, seats)
	if err != nil {
		s.undoHold(ctx, eventID, seats, sessionID, expiresAt)
		return transient("recheck seats", err)
	}
	var sold []string
	for _, row := range rows {
		if row.Status == models.SeatSold || row.Status == models.SeatUnavailable {
			sold = append(sold, row.SeatID)
		}
	}
	if len(sold) == 0 {
		return nil
	}

	s.undoHold(ctx, eventID, seats, sessionID, expiresAt)
	metrics.HoldConflicts.WithLabelValues(ReasonSold).Inc()
	s.Logger.LogHold("REJECT", eventID, sessionID, fmt.Sprintf("seats %v were sold while the hold was taken", sold))
	return &SeatsUnavailableError{SeatIDs: sold, Reason: ReasonSold}
}

// undoHold releases the rows written by this hold, then its leases.
func (s *Service) undoHold(ctx context.Context, eventID string, seats []string, sessionID string, expiresAt time.Time) {
	s.writeLedger(ctx, "release_held", eventID, sessionID, func(ctx context.Context) error {
		_, err := s.Ledger.ReleaseHeld(ctx, eventID, seats, expiresAt)
		return err
	})
	s.rollback(ctx, eventID, seats, sessionID)
}

func (s *Service) rollback(ctx context.Context, eventID string, seats []string, sessionID string) {
	if len(seats) == 0 {
		return
	}
	if _, err := s.Leases.ReleaseMany(context.WithoutCancel(ctx), eventID, seats, sessionID); err != nil {
		// leases left behind lapse at their TTL
		s.Logger.Error("HOLD", fmt.Sprintf("Rollback of %d leases for event %s session %s failed: %v", len(seats), eventID, sessionID, err))
	}
}

// ---------------- RELEASE ----------------

// ReleaseHold releases every seat the session still leases for the event.
// A session without leases is not an error.
func (s *Service) ReleaseHold(ctx context.Context, eventID, sessionID string) (*ReleaseResult, error) {
	if eventID == "" || sessionID == "" {
		return nil, invalid("event id and session id are required")
	}

	seats, err := s.Leases.HeldBy(ctx, eventID, sessionID)
	if err != nil {
		return nil, transient("find session seats", err)
	}
	result := &ReleaseResult{SeatIDs: []string{}}
	if len(seats) == 0 {
		return result, nil
	}

	// a hold taken once these leases are gone expires after the ceiling, so
	// the ledger write below cannot touch it
	ceiling := s.opts.Now().Add(s.opts.TTL)
	res, err := s.Leases.ReleaseMany(ctx, eventID, seats, sessionID)
	if err != nil {
		return nil, transient("release leases", err)
	}
	if len(res.Succeeded) == 0 {
		return result, nil
	}

	s.writeLedger(ctx, "release_held", eventID, sessionID, func(ctx context.Context) error {
		_, err := s.Ledger.ReleaseHeld(ctx, eventID, res.Succeeded, ceiling)
		return err
	})

	result.ReleasedCount = len(res.Succeeded)
	result.SeatIDs = res.Succeeded
	metrics.SeatsReleased.Add(float64(result.ReleasedCount))
	s.Logger.LogHold("RELEASE", eventID, sessionID, fmt.Sprintf("released %d seats", result.ReleasedCount))
	s.notify(ctx, models.NewSeatStatusChangeEvent(eventID, sessionID, res.Succeeded, models.SeatChangeReleased, models.SeatAvailable, nil))
	return result, nil
}

// ReleaseLeaseForSeats drops the session's leases on the given seats and
// nothing else. The checkout flow owns the ledger rows of those seats.
func (s *Service) ReleaseLeaseForSeats(ctx context.Context, eventID string, seatIDs []string, sessionID string) (int, error) {
	if eventID == "" || sessionID == "" {
		return 0, invalid("event id and session id are required")
	}
	seats := dedupe(seatIDs)
	if len(seats) == 0 {
		return 0, nil
	}

	res, err := s.Leases.ReleaseMany(ctx, eventID, seats, sessionID)
	if err != nil {
		return 0, transient("release leases", err)
	}
	metrics.SeatsReleased.Add(float64(len(res.Succeeded)))
	s.Logger.LogHold("RELEASE_LEASES", eventID, sessionID, fmt.Sprintf("released %d of %d leases", len(res.Succeeded), len(seats)))
	return len(res.Succeeded), nil
}

// ---------------- EXTEND ----------------

// RenewHold extends the session's hold by the configured deployment TTL.
func (s *Service) RenewHold(ctx context.Context, eventID, sessionID string) (*ExtendResult, error) {
	return s.ExtendHold(ctx, eventID, sessionID, s.opts.TTL)
}

// ExtendHold pushes out the expiry of every seat the session still owns.
// Seats lost to another session are dropped silently.
func (s *Service) ExtendHold(ctx context.Context, eventID, sessionID string, ttl time.Duration) (*ExtendResult, error) {
	if eventID == "" || sessionID == "" {
		return nil, invalid("event id and session id are required")
	}
	if ttl <= 0 {
		return nil, invalid("hold ttl must be positive")
	}

	seats, err := s.Leases.HeldBy(ctx, eventID, sessionID)
	if err != nil {
		return nil, transient("find session seats", err)
	}
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: event %s session %s", ErrNotFound, eventID, sessionID)
	}

	res, err := s.Leases.ExtendMany(ctx, eventID, seats, sessionID, ttl)
	if err != nil {
		return nil, transient("extend leases", err)
	}
	if len(res.Succeeded) == 0 {
		s.Logger.LogHold("EXTEND_FAILED", eventID, sessionID, fmt.Sprintf("lost all %d seats", len(seats)))
		return nil, fmt.Errorf("%w: all %d seats expired or were taken", ErrExtendFailed, len(seats))
	}

	expiresAt := s.opts.Now().Add(ttl).UTC()
	s.writeLedger(ctx, "update_expiry", eventID, sessionID, func(ctx context.Context) error {
		_, err := s.Ledger.UpdateHoldExpiry(ctx, eventID, res.Succeeded, expiresAt)
		return err
	})

	metrics.HoldsExtended.Inc()
	s.Logger.LogHold("EXTEND", eventID, sessionID, fmt.Sprintf("%d seats until %s, dropped %d", len(res.Succeeded), expiresAt.Format(time.RFC3339), len(res.Failed)))
	s.notify(ctx, models.NewSeatStatusChangeEvent(eventID, sessionID, res.Succeeded, models.SeatChangeExtended, models.SeatHeld, &expiresAt))
	return &ExtendResult{
		NewExpiresAt: expiresAt,
		ExpiresIn:    int64(ttl / time.Second),
		SeatIDs:      res.Succeeded,
		DroppedIDs:   res.Failed,
	}, nil
}

// ---------------- HELPERS ----------------

// writeLedger runs a ledger write that follows a lease change. It retries
// with exponential backoff; if every attempt fails the lease stays
// authoritative and the reconciler corrects the row later. The last error is
// returned for callers that act on the outcome.
func (s *Service) writeLedger(ctx context.Context, op, eventID, sessionID string, write func(context.Context) error) error {
	// the lease change already happened, so a caller hanging up must not skip this
	ctx = context.WithoutCancel(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.LedgerBackoff
	b.MaxInterval = 10 * s.opts.LedgerBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return write(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.LedgerAttempts-1)), ctx), func(err error, next time.Duration) {
		metrics.LedgerRetries.Inc()
		s.Logger.Warn("LEDGER", fmt.Sprintf("%s for event %s attempt %d failed, retrying in %s: %v", op, eventID, attempt, next, err))
	})
	if err != nil {
		metrics.LedgerFailures.WithLabelValues(op).Inc()
		s.Logger.Error("LEDGER", fmt.Sprintf("%s for event %s session %s gave up after %d attempts, leaving it to reconciliation: %v", op, eventID, sessionID, attempt, err))
	}
	return err
}

func (s *Service) notify(ctx context.Context, change models.SeatStatusChangeEvent) {
	for _, n := range s.Notifiers {
		if err := n.PublishSeatStatus(ctx, change); err != nil {
			s.Logger.Warn("HOLD", fmt.Sprintf("Failed to publish %s for event %s: %v", change.Change, change.EventID, err))
		}
	}
}

// normalizeSeats drops duplicates and enforces the batch size.
func normalizeSeats(seatIDs []string) ([]string, error) {
	for _, id := range seatIDs {
		if strings.TrimSpace(id) == "" {
			return nil, invalid("seat ids must not be empty")
		}
	}
	seats := dedupe(seatIDs)
	if len(seats) == 0 {
		return nil, invalid("at least one seat is required")
	}
	if len(seats) > MaxSeatsPerHold {
		return nil, invalid("cannot hold more than %d seats at once", MaxSeatsPerHold)
	}
	return seats, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// without returns ids minus the ones in drop, keeping order.
func without(ids, drop []string) []string {
	if len(drop) == 0 {
		return ids
	}
	skip := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
