package checkout_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ms-seating/internal/checkout"
	"ms-seating/internal/ledger"
	"ms-seating/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type MockReleaser struct {
	mock.Mock
}

func (m *MockReleaser) ReleaseLeaseForSeats(ctx context.Context, eventID string, seatIDs []string, sessionID string) (int, error) {
	args := m.Called(ctx, eventID, seatIDs, sessionID)
	return args.Int(0), args.Error(1)
}

func setupLedger(t *testing.T) *ledger.DB {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, ledger.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })

	db := &ledger.DB{Bun: bunDB}
	_, err = db.Provision(context.Background(), []models.TicketInventory{
		{ID: "1", EventID: "evt", SeatID: "A", Price: 100},
		{ID: "2", EventID: "evt", SeatID: "B", Price: 100},
	})
	require.NoError(t, err)
	_, err = db.MarkHeld(context.Background(), "evt", []string{"A", "B"}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	return db
}

func statuses(t *testing.T, db *ledger.DB) map[string]models.SeatStatus {
	rows, err := db.GetSeats(context.Background(), "evt", []string{"A", "B"})
	require.NoError(t, err)
	out := map[string]models.SeatStatus{}
	for _, r := range rows {
		out[r.SeatID] = r.Status
	}
	return out
}

func TestSettle_Succeeded(t *testing.T) {
	db := setupLedger(t)
	releaser := new(MockReleaser)
	releaser.On("ReleaseLeaseForSeats", mock.Anything, "evt", []string{"A", "B"}, "s1").Return(2, nil)

	s := checkout.NewSettler(db, releaser, nil)
	outcome := models.PaymentOutcome{EventID: "evt", SessionID: "s1", SeatIDs: []string{"A", "B"}, Result: models.PaymentSucceeded}
	require.NoError(t, s.Settle(context.Background(), outcome))

	assert.Equal(t, map[string]models.SeatStatus{"A": models.SeatSold, "B": models.SeatSold}, statuses(t, db))
	releaser.AssertExpectations(t)

	// replay is harmless
	require.NoError(t, s.Settle(context.Background(), outcome))
	assert.Equal(t, models.SeatSold, statuses(t, db)["A"])
}

func TestSettle_FailedReturnsSeats(t *testing.T) {
	db := setupLedger(t)
	releaser := new(MockReleaser)
	releaser.On("ReleaseLeaseForSeats", mock.Anything, "evt", []string{"A"}, "s1").Return(0, errors.New("redis down"))

	s := checkout.NewSettler(db, releaser, nil)
	err := s.Settle(context.Background(), models.PaymentOutcome{EventID: "evt", SessionID: "s1", SeatIDs: []string{"A"}, Result: models.PaymentFailed})
	require.NoError(t, err, "lease release failures do not undo the settlement")

	assert.Equal(t, models.SeatAvailable, statuses(t, db)["A"])
	assert.Equal(t, models.SeatHeld, statuses(t, db)["B"])
}

func TestSettle_RefundSkipsLeases(t *testing.T) {
	db := setupLedger(t)
	_, err := db.MarkSold(context.Background(), "evt", []string{"A"})
	require.NoError(t, err)
	releaser := new(MockReleaser)

	s := checkout.NewSettler(db, releaser, nil)
	require.NoError(t, s.Settle(context.Background(), models.PaymentOutcome{EventID: "evt", SessionID: "s1", SeatIDs: []string{"A"}, Result: models.PaymentRefunded}))

	assert.Equal(t, models.SeatAvailable, statuses(t, db)["A"])
	releaser.AssertNotCalled(t, "ReleaseLeaseForSeats", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettle_RejectsMalformedOutcome(t *testing.T) {
	s := checkout.NewSettler(setupLedger(t), new(MockReleaser), nil)

	tests := []models.PaymentOutcome{
		{SessionID: "s1", SeatIDs: []string{"A"}, Result: models.PaymentSucceeded},
		{EventID: "evt", SessionID: "s1", Result: models.PaymentSucceeded},
		{EventID: "evt", SessionID: "s1", SeatIDs: []string{"A"}, Result: "PENDING"},
		{EventID: "evt", SessionID: "s1", SeatIDs: []string{""}, Result: models.PaymentSucceeded},
	}
	for _, outcome := range tests {
		assert.Error(t, s.Settle(context.Background(), outcome))
	}
}

type downLedger struct{}

func (downLedger) MarkSold(context.Context, string, []string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (downLedger) MarkAvailable(context.Context, string, []string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestSettleMessage_OnlyMalformedIsPermanent(t *testing.T) {
	ctx := context.Background()
	var permanent *backoff.PermanentError

	s := checkout.NewSettler(setupLedger(t), new(MockReleaser), nil)
	err := s.SettleMessage(ctx, models.PaymentOutcome{EventID: "evt", SessionID: "s1", Result: models.PaymentSucceeded})
	require.True(t, errors.As(err, &permanent))
	assert.ErrorIs(t, err, checkout.ErrInvalidOutcome)

	down := checkout.NewSettler(downLedger{}, new(MockReleaser), nil)
	err = down.SettleMessage(ctx, models.PaymentOutcome{EventID: "evt", SessionID: "s1", SeatIDs: []string{"A"}, Result: models.PaymentSucceeded})
	require.Error(t, err)
	assert.False(t, errors.As(err, &permanent), "a ledger outage must be retried")
}
