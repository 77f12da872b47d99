package models

type PaymentResult string

const (
	PaymentSucceeded PaymentResult = "SUCCEEDED"
	PaymentFailed    PaymentResult = "FAILED"
	PaymentRefunded  PaymentResult = "REFUNDED"
)

// PaymentOutcome is what the checkout service reports when a payment
// session for held seats concludes.
type PaymentOutcome struct {
	EventID   string        `json:"event_id" validate:"required"`
	SessionID string        `json:"session_id" validate:"required"`
	SeatIDs   []string      `json:"seat_ids" validate:"required,min=1,dive,required"`
	Result    PaymentResult `json:"result" validate:"required,oneof=SUCCEEDED FAILED REFUNDED"`
	OrderID   string        `json:"order_id,omitempty"`
}
