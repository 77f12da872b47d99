package hold

import "time"

type ReceiptSeat struct {
	SeatID  string  `json:"seat_id"`
	Section string  `json:"section,omitempty"`
	Row     string  `json:"row,omitempty"`
	Number  int     `json:"number,omitempty"`
	Price   float64 `json:"price"`
}

// Receipt is returned for a granted hold. Prices are the ledger prices read
// while the hold was taken.
type Receipt struct {
	HoldID     string        `json:"hold_id"`
	EventID    string        `json:"event_id"`
	SessionID  string        `json:"session_id"`
	Seats      []ReceiptSeat `json:"seats"`
	TotalPrice float64       `json:"total_price"`
	Currency   string        `json:"currency"`
	ExpiresAt  time.Time     `json:"expires_at"`
	ExpiresIn  int64         `json:"expires_in"`
}

func (r *Receipt) SeatIDs() []string {
	ids := make([]string, len(r.Seats))
	for i, seat := range r.Seats {
		ids[i] = seat.SeatID
	}
	return ids
}

type ReleaseResult struct {
	ReleasedCount int      `json:"released_count"`
	SeatIDs       []string `json:"seat_ids"`
}

type ExtendResult struct {
	NewExpiresAt time.Time `json:"new_expires_at"`
	ExpiresIn    int64     `json:"expires_in"`
	SeatIDs      []string  `json:"seat_ids"`
	DroppedIDs   []string  `json:"dropped_seat_ids,omitempty"`
}
