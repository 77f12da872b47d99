package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SeatStatus string

const (
	SeatAvailable   SeatStatus = "AVAILABLE"
	SeatHeld        SeatStatus = "HELD"
	SeatSold        SeatStatus = "SOLD"
	SeatUnavailable SeatStatus = "UNAVAILABLE"
)

// TicketInventory is one sellable seat of one event.
type TicketInventory struct {
	bun.BaseModel `bun:"table:ticket_inventory,alias:ti"`

	ID            string     `bun:"id,pk" json:"id"`
	EventID       string     `bun:"event_id,notnull,unique:event_seat" json:"event_id"`
	SeatID        string     `bun:"seat_id,notnull,unique:event_seat" json:"seat_id"`
	Section       string     `bun:"section" json:"section"`
	Row           string     `bun:"row_label" json:"row"`
	Number        int        `bun:"seat_number" json:"number"`
	Price         float64    `bun:"price,notnull" json:"price"`
	Status        SeatStatus `bun:"status,notnull,default:'AVAILABLE'" json:"status"`
	HoldExpiresAt *time.Time `bun:"hold_expires_at" json:"hold_expires_at,omitempty"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// EffectiveSeat is a seat as presented to buyers, after lease reconciliation.
type EffectiveSeat struct {
	SeatID        string     `json:"seat_id"`
	Section       string     `json:"section,omitempty"`
	Row           string     `json:"row,omitempty"`
	Number        int        `json:"number,omitempty"`
	Price         float64    `json:"price"`
	Status        SeatStatus `json:"status"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}
