package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-seating/internal/models"

	"github.com/uptrace/bun"
)

var ErrEventNotFound = errors.New("event not found")

type DB struct {
	Bun *bun.DB
}

// GetEvent → fetch one event by its ID
func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return &event, nil
}

// UpsertEvent → insert an event or refresh its sale settings
func (d *DB) UpsertEvent(ctx context.Context, event *models.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := d.Bun.NewInsert().
		Model(event).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("sale_start_date = EXCLUDED.sale_start_date").
		Set("sale_end_date = EXCLUDED.sale_end_date").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", event.ID, err)
	}
	return nil
}
