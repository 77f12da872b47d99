package models

import "time"

type SeatChange string

const (
	SeatChangeHeld     SeatChange = "HELD"
	SeatChangeReleased SeatChange = "RELEASED"
	SeatChangeExtended SeatChange = "EXTENDED"
	SeatChangeHealed   SeatChange = "HEALED"
	SeatChangeSold     SeatChange = "SOLD"
	SeatChangeReverted SeatChange = "REVERTED"
)

// SeatStatusChangeEvent is published to kafka and to SSE subscribers
// whenever the ledger status of a group of seats changes.
type SeatStatusChangeEvent struct {
	EventID       string     `json:"event_id"`
	SessionID     string     `json:"session_id,omitempty"`
	SeatIDs       []string   `json:"seat_ids"`
	Change        SeatChange `json:"change"`
	Status        SeatStatus `json:"status"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func NewSeatStatusChangeEvent(eventID, sessionID string, seatIDs []string, change SeatChange, status SeatStatus, expiresAt *time.Time) SeatStatusChangeEvent {
	return SeatStatusChangeEvent{
		EventID:       eventID,
		SessionID:     sessionID,
		SeatIDs:       seatIDs,
		Change:        change,
		Status:        status,
		HoldExpiresAt: expiresAt,
		OccurredAt:    time.Now().UTC(),
	}
}
