package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventUpcoming  EventStatus = "UPCOMING"
	EventOnSale    EventStatus = "ON_SALE"
	EventSoldOut   EventStatus = "SOLD_OUT"
	EventCancelled EventStatus = "CANCELLED"
	EventCompleted EventStatus = "COMPLETED"
)

type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID            string      `bun:"id,pk" json:"id"`
	HomeTeam      string      `bun:"home_team,notnull" json:"home_team"`
	AwayTeam      string      `bun:"away_team,notnull" json:"away_team"`
	EventDate     time.Time   `bun:"event_date,notnull" json:"event_date"`
	SaleStartDate time.Time   `bun:"sale_start_date,notnull" json:"sale_start_date"`
	SaleEndDate   time.Time   `bun:"sale_end_date,notnull" json:"sale_end_date"`
	Status        EventStatus `bun:"status,notnull" json:"status"`
	CreatedAt     time.Time   `bun:"created_at,notnull" json:"created_at"`
}

// Purchasable reports whether seats of the event may be held at now: the
// event must be ON_SALE and now must fall inside the sale window, bounds included.
func (e Event) Purchasable(now time.Time) bool {
	if e.Status != EventOnSale {
		return false
	}
	return !now.Before(e.SaleStartDate) && !now.After(e.SaleEndDate)
}
