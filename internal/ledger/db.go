package ledger

import (
	"context"
	"fmt"
	"time"

	"ms-seating/internal/models"

	"github.com/uptrace/bun"
)

// DB is the seat ledger backed by the ticket_inventory table. It does not
// arbitrate concurrent holds; leases do. Status guards in the WHERE clauses
// only keep the hold path away from SOLD rows.
type DB struct {
	Bun *bun.DB
}

// StaleHold is a HELD row whose recorded expiry has passed.
type StaleHold struct {
	EventID       string    `bun:"event_id"`
	SeatID        string    `bun:"seat_id"`
	HoldExpiresAt time.Time `bun:"hold_expires_at"`
}

// dbTime normalizes timestamps to what both postgres and sqlite store.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateSchema creates the ledger and catalog tables if they are missing.
// Production schemas come from migrations; this serves tests and local seeding.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{(*models.Event)(nil), (*models.TicketInventory)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// ---------------- READS ----------------

// GetSeats returns the rows for the given seats of an event. Unknown seat ids
// are simply absent from the result.
func (d *DB) GetSeats(ctx context.Context, eventID string, seatIDs []string) ([]models.TicketInventory, error) {
	var rows []models.TicketInventory
	if len(seatIDs) == 0 {
		return rows, nil
	}
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		OrderExpr("seat_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get seats for event %s: %w", eventID, err)
	}
	return rows, nil
}

// ListByEvent returns every seat of an event.
func (d *DB) ListByEvent(ctx context.Context, eventID string) ([]models.TicketInventory, error) {
	var rows []models.TicketInventory
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		OrderExpr("section ASC, row_label ASC, seat_number ASC, seat_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list seats for event %s: %w", eventID, err)
	}
	return rows, nil
}

// ListStaleHolds returns HELD rows whose expiry is before the cutoff. An
// empty eventID scans all events.
func (d *DB) ListStaleHolds(ctx context.Context, eventID string, before time.Time, limit int) ([]StaleHold, error) {
	var rows []StaleHold
	q := d.Bun.NewSelect().
		Model((*models.TicketInventory)(nil)).
		Column("event_id", "seat_id", "hold_expires_at").
		Where("status = ?", models.SeatHeld).
		Where("hold_expires_at < ?", dbTime(before)).
		OrderExpr("hold_expires_at ASC")
	if eventID != "" {
		q = q.Where("event_id = ?", eventID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list stale holds: %w", err)
	}
	return rows, nil
}

// ---------------- HOLD PATH ----------------

// MarkHeld sets the seats to HELD with the given expiry in one statement.
func (d *DB) MarkHeld(ctx context.Context, eventID string, seatIDs []string, expiresAt time.Time) (int64, error) {
	exp := dbTime(expiresAt)
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketInventory)(nil)).
		Set("status = ?", models.SeatHeld).
		Set("hold_expires_at = ?", exp).
		Set("updated_at = ?", dbTime(time.Now())).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Where("status IN (?)", bun.In([]models.SeatStatus{models.SeatAvailable, models.SeatHeld})).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark seats held for event %s: %w", eventID, err)
	}
	return res.RowsAffected()
}

// UpdateHoldExpiry moves the expiry of seats that are still HELD.
func (d *DB) UpdateHoldExpiry(ctx context.Context, eventID string, seatIDs []string, expiresAt time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketInventory)(nil)).
		Set("hold_expires_at = ?", dbTime(expiresAt)).
		Set("updated_at = ?", dbTime(time.Now())).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Where("status = ?", models.SeatHeld).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("update hold expiry for event %s: %w", eventID, err)
	}
	return res.RowsAffected()
}

// ReleaseHeld returns HELD seats to AVAILABLE and clears their expiry. Rows
// whose expiry is after notAfter belong to a later hold and are left alone.
func (d *DB) ReleaseHeld(ctx context.Context, eventID string, seatIDs []string, notAfter time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketInventory)(nil)).
		Set("status = ?", models.SeatAvailable).
		Set("hold_expires_at = NULL").
		Set("updated_at = ?", dbTime(time.Now())).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Where("status = ?", models.SeatHeld).
		Where("(hold_expires_at IS NULL OR hold_expires_at <= ?)", dbTime(notAfter)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("release held seats for event %s: %w", eventID, err)
	}
	return res.RowsAffected()
}

// HealStale flips one seat back to AVAILABLE only if it is still HELD with an
// expiry no later than the one observed when its lease was found missing. A
// hold taken after the observation carries a later expiry and is left alone.
func (d *DB) HealStale(ctx context.Context, eventID, seatID string, observedExpiry time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketInventory)(nil)).
		Set("status = ?", models.SeatAvailable).
		Set("hold_expires_at = NULL").
		Set("updated_at = ?", dbTime(time.Now())).
		Where("event_id = ?", eventID).
		Where("seat_id = ?", seatID).
		Where("status = ?", models.SeatHeld).
		Where("hold_expires_at <= ?", dbTime(observedExpiry)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("heal seat %s of event %s: %w", seatID, eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ---------------- CHECKOUT ----------------

// MarkSold records a confirmed payment. Only HELD or AVAILABLE seats move.
func (d *DB) MarkSold(ctx context.Context, eventID string, seatIDs []string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketInventory)(nil)).
		Set("status = ?", models.SeatSold).
		Set("hold_expires_at = NULL").
		Set("updated_at = ?", dbTime(time.Now())).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Where("status IN (?)", bun.In([]models.SeatStatus{models.SeatHeld, models.SeatAvailable})).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark seats sold for event %s: %w", eventID, err)
	}
	return res.RowsAffected()
}

// MarkAvailable puts HELD or SOLD seats back on sale after a failed or
// refunded payment.
func (d *DB) MarkAvailable(ctx context.Context, eventID string, seatIDs []string) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketInventory)(nil)).
		Set("status = ?", models.SeatAvailable).
		Set("hold_expires_at = NULL").
		Set("updated_at = ?", dbTime(time.Now())).
		Where("event_id = ?", eventID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Where("status IN (?)", bun.In([]models.SeatStatus{models.SeatHeld, models.SeatSold})).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark seats available for event %s: %w", eventID, err)
	}
	return res.RowsAffected()
}

// ---------------- PROVISIONING ----------------

// Provision inserts inventory rows, skipping seats that already exist.
func (d *DB) Provision(ctx context.Context, rows []models.TicketInventory) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := dbTime(time.Now())
	for i := range rows {
		if rows[i].Status == "" {
			rows[i].Status = models.SeatAvailable
		}
		rows[i].UpdatedAt = now
	}
	res, err := d.Bun.NewInsert().
		Model(&rows).
		On("CONFLICT (event_id, seat_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("provision %d seats: %w", len(rows), err)
	}
	return res.RowsAffected()
}
