package availability

import (
	"context"
	"fmt"
	"time"

	"ms-seating/internal/ledger"
	"ms-seating/internal/logger"
	"ms-seating/internal/metrics"
	"ms-seating/internal/models"
)

type LeaseChecker interface {
	ExistsMany(ctx context.Context, eventID string, seatIDs []string) (map[string]bool, error)
	TTLOf(ctx context.Context, eventID, seatID string) (time.Duration, error)
}

type Ledger interface {
	ListByEvent(ctx context.Context, eventID string) ([]models.TicketInventory, error)
	GetSeats(ctx context.Context, eventID string, seatIDs []string) ([]models.TicketInventory, error)
	ListStaleHolds(ctx context.Context, eventID string, before time.Time, limit int) ([]ledger.StaleHold, error)
	HealStale(ctx context.Context, eventID, seatID string, observedExpiry time.Time) (bool, error)
	UpdateHoldExpiry(ctx context.Context, eventID string, seatIDs []string, expiresAt time.Time) (int64, error)
}

type Notifier interface {
	PublishSeatStatus(ctx context.Context, change models.SeatStatusChangeEvent) error
}

// Reconciler presents seat status as the lease store sees it. A HELD ledger
// row without a live lease is reported AVAILABLE, and optionally healed.
type Reconciler struct {
	Leases     LeaseChecker
	Ledger     Ledger
	Notifiers  []Notifier
	Logger     *logger.Logger
	HealOnRead bool
}

func NewReconciler(leases LeaseChecker, ledger Ledger, log *logger.Logger, healOnRead bool, notifiers ...Notifier) *Reconciler {
	if log == nil {
		log = logger.NewConsoleLogger(nil)
	}
	return &Reconciler{
		Leases:     leases,
		Ledger:     ledger,
		Notifiers:  notifiers,
		Logger:     log,
		HealOnRead: healOnRead,
	}
}

// EffectiveSeats returns every seat of the event with its effective status.
func (r *Reconciler) EffectiveSeats(ctx context.Context, eventID string) ([]models.EffectiveSeat, error) {
	rows, err := r.Ledger.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return r.resolve(ctx, eventID, rows)
}

// EffectiveStatus is EffectiveSeats restricted to the given seats.
func (r *Reconciler) EffectiveStatus(ctx context.Context, eventID string, seatIDs []string) ([]models.EffectiveSeat, error) {
	rows, err := r.Ledger.GetSeats(ctx, eventID, seatIDs)
	if err != nil {
		return nil, err
	}
	return r.resolve(ctx, eventID, rows)
}

func (r *Reconciler) resolve(ctx context.Context, eventID string, rows []models.TicketInventory) ([]models.EffectiveSeat, error) {
	var held []string
	for _, row := range rows {
		if row.Status == models.SeatHeld {
			held = append(held, row.SeatID)
		}
	}

	// store errors are returned, never read as "no lease"
	live := map[string]bool{}
	if len(held) > 0 {
		var err error
		live, err = r.Leases.ExistsMany(ctx, eventID, held)
		if err != nil {
			return nil, fmt.Errorf("checking leases for event %s: %w", eventID, err)
		}
	}

	seats := make([]models.EffectiveSeat, 0, len(rows))
	var stale []models.TicketInventory
	for _, row := range rows {
		seat := models.EffectiveSeat{
			SeatID:        row.SeatID,
			Section:       row.Section,
			Row:           row.Row,
			Number:        row.Number,
			Price:         row.Price,
			Status:        row.Status,
			HoldExpiresAt: row.HoldExpiresAt,
		}
		if row.Status == models.SeatHeld && !live[row.SeatID] {
			seat.Status = models.SeatAvailable
			seat.HoldExpiresAt = nil
			stale = append(stale, row)
		}
		seats = append(seats, seat)
	}

	if r.HealOnRead && len(stale) > 0 {
		r.heal(ctx, eventID, stale, "read")
	}
	return seats, nil
}

// HealSeats re-checks the given seats and heals the HELD rows whose lease is
// gone. It returns how many rows changed.
func (r *Reconciler) HealSeats(ctx context.Context, eventID string, seatIDs []string, source string) (int, error) {
	stale, _, err := r.classify(ctx, eventID, seatIDs)
	if err != nil {
		return 0, err
	}
	return r.heal(ctx, eventID, stale, source), nil
}

// classify splits the HELD rows of the given seats by lease presence.
func (r *Reconciler) classify(ctx context.Context, eventID string, seatIDs []string) (stale, live []models.TicketInventory, err error) {
	rows, err := r.Ledger.GetSeats(ctx, eventID, seatIDs)
	if err != nil {
		return nil, nil, err
	}
	var held []models.TicketInventory
	var heldIDs []string
	for _, row := range rows {
		if row.Status == models.SeatHeld {
			held = append(held, row)
			heldIDs = append(heldIDs, row.SeatID)
		}
	}
	if len(held) == 0 {
		return nil, nil, nil
	}

	exists, err := r.Leases.ExistsMany(ctx, eventID, heldIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("checking leases for event %s: %w", eventID, err)
	}
	for _, row := range held {
		if exists[row.SeatID] {
			live = append(live, row)
		} else {
			stale = append(stale, row)
		}
	}
	return stale, live, nil
}

// Sweep heals HELD rows whose recorded expiry passed before now. An empty
// eventID sweeps every event. Rows whose lease is still live get the lease's
// expiry recorded so later pages of stale rows are reached.
func (r *Reconciler) Sweep(ctx context.Context, eventID string, now time.Time, batch int) (int, error) {
	stale, err := r.Ledger.ListStaleHolds(ctx, eventID, now, batch)
	if err != nil {
		return 0, err
	}

	byEvent := map[string][]string{}
	var order []string
	for _, s := range stale {
		if _, ok := byEvent[s.EventID]; !ok {
			order = append(order, s.EventID)
		}
		byEvent[s.EventID] = append(byEvent[s.EventID], s.SeatID)
	}

	total := 0
	for _, ev := range order {
		gone, live, err := r.classify(ctx, ev, byEvent[ev])
		if err != nil {
			return total, err
		}
		total += r.heal(ctx, ev, gone, "sweep")
		r.refreshExpiry(ctx, ev, live, now)
	}
	return total, nil
}

// refreshExpiry records the remaining lease time of seats whose ledger expiry
// fell behind their lease.
func (r *Reconciler) refreshExpiry(ctx context.Context, eventID string, rows []models.TicketInventory, now time.Time) {
	for _, row := range rows {
		ttl, err := r.Leases.TTLOf(ctx, eventID, row.SeatID)
		if err != nil {
			r.Logger.Warn("RECONCILE", fmt.Sprintf("Failed to read lease ttl of seat %s of event %s: %v", row.SeatID, eventID, err))
			continue
		}
		if ttl <= 0 {
			// lapsed since the check; the next sweep heals it
			continue
		}
		if _, err := r.Ledger.UpdateHoldExpiry(ctx, eventID, []string{row.SeatID}, now.Add(ttl)); err != nil {
			r.Logger.Warn("RECONCILE", fmt.Sprintf("Failed to refresh hold expiry of seat %s of event %s: %v", row.SeatID, eventID, err))
			continue
		}
		r.Logger.Debug("RECONCILE", fmt.Sprintf("Seat %s of event %s still leased, ledger expiry moved %s ahead", row.SeatID, eventID, ttl))
	}
}

func (r *Reconciler) heal(ctx context.Context, eventID string, rows []models.TicketInventory, source string) int {
	var healed []string
	for _, row := range rows {
		if row.HoldExpiresAt == nil {
			r.Logger.Warn("RECONCILE", fmt.Sprintf("Seat %s of event %s is HELD without an expiry, leaving it for an operator", row.SeatID, eventID))
			continue
		}
		ok, err := r.Ledger.HealStale(ctx, eventID, row.SeatID, *row.HoldExpiresAt)
		if err != nil {
			r.Logger.Error("RECONCILE", fmt.Sprintf("Failed to heal seat %s of event %s: %v", row.SeatID, eventID, err))
			continue
		}
		if ok {
			healed = append(healed, row.SeatID)
		}
	}
	if len(healed) == 0 {
		return 0
	}

	metrics.SeatsHealed.WithLabelValues(source).Add(float64(len(healed)))
	r.Logger.Info("RECONCILE", fmt.Sprintf("Healed %d stale holds of event %s (%s)", len(healed), eventID, source))
	change := models.NewSeatStatusChangeEvent(eventID, "", healed, models.SeatChangeHealed, models.SeatAvailable, nil)
	for _, n := range r.Notifiers {
		if err := n.PublishSeatStatus(ctx, change); err != nil {
			r.Logger.Warn("RECONCILE", fmt.Sprintf("Failed to publish heal for event %s: %v", eventID, err))
		}
	}
	return len(healed)
}

// Summary counts an event's seats by effective status.
type Summary struct {
	EventID  string                    `json:"event_id"`
	Total    int                       `json:"total"`
	ByStatus map[models.SeatStatus]int `json:"by_status"`
}

func (r *Reconciler) Summary(ctx context.Context, eventID string) (*Summary, error) {
	seats, err := r.EffectiveSeats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		EventID: eventID,
		Total:   len(seats),
		ByStatus: map[models.SeatStatus]int{
			models.SeatAvailable:   0,
			models.SeatHeld:        0,
			models.SeatSold:        0,
			models.SeatUnavailable: 0,
		},
	}
	for _, seat := range seats {
		s.ByStatus[seat.Status]++
	}
	return s, nil
}
