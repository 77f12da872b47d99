package hold_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-seating/internal/hold"
	"ms-seating/internal/lease"
	"ms-seating/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyAcquire applies the acquire scripts and then reports a timeout, the
// way a pipeline that lost its reply does.
type flakyAcquire struct {
	hold.LeaseStore
}

func (f flakyAcquire) AcquireMany(ctx context.Context, eventID string, seatIDs []string, owner string, ttl time.Duration) (lease.Result, error) {
	if _, err := f.LeaseStore.AcquireMany(ctx, eventID, seatIDs, owner, ttl); err != nil {
		return lease.Result{}, err
	}
	return lease.Result{}, errors.New("i/o timeout")
}

// sellingLedger settles a seat right after the first seat read, before the
// hold takes its leases.
type sellingLedger struct {
	hold.Ledger
	sell func()
	once sync.Once
}

func (l *sellingLedger) GetSeats(ctx context.Context, eventID string, seatIDs []string) ([]models.TicketInventory, error) {
	rows, err := l.Ledger.GetSeats(ctx, eventID, seatIDs)
	l.once.Do(l.sell)
	return rows, err
}

// interleavedLeases runs between the lease release and the ledger write that
// follows it.
type interleavedLeases struct {
	hold.LeaseStore
	afterRelease func()
	once         sync.Once
}

func (l *interleavedLeases) ReleaseMany(ctx context.Context, eventID string, seatIDs []string, owner string) (lease.Result, error) {
	res, err := l.LeaseStore.ReleaseMany(ctx, eventID, seatIDs, owner)
	l.once.Do(l.afterRelease)
	return res, err
}

// stepClock moves forward a second on every reading.
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Now().UTC()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestAcquireHold_TransientFailureKeepsEarlierHold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.HoldSeats(ctx, eventID, []string{"A"}, "s1")
	require.NoError(t, err)

	flaky := hold.NewService(flakyAcquire{f.leases}, f.ledger, f.catalog, nil, hold.Options{
		TTL:           600 * time.Second,
		LedgerBackoff: time.Millisecond,
	})
	_, err = flaky.HoldSeats(ctx, eventID, []string{"A", "B"}, "s1")
	require.ErrorIs(t, err, hold.ErrTransient)

	owner, ok, err := f.leases.OwnerOf(ctx, eventID, "A")
	require.NoError(t, err)
	require.True(t, ok, "the earlier hold on A must survive the rollback")
	assert.Equal(t, "s1", owner)
	assert.Equal(t, models.SeatHeld, f.status(t, "A").Status)
	assert.False(t, f.leased(t, "B"))

	held, err := f.leases.HeldBy(ctx, eventID, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, held)
}

func TestAcquireHold_SeatSoldDuringAcquire(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	racing := &sellingLedger{Ledger: f.ledger, sell: func() {
		_, err := f.ledger.MarkSold(ctx, eventID, []string{"A"})
		require.NoError(t, err)
	}}
	svc := hold.NewService(f.leases, racing, f.catalog, nil, hold.Options{
		TTL:           600 * time.Second,
		LedgerBackoff: time.Millisecond,
	})

	receipt, err := svc.HoldSeats(ctx, eventID, []string{"A", "B"}, "s1")
	assert.Nil(t, receipt)
	var unavailable *hold.SeatsUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, hold.ReasonSold, unavailable.Reason)
	assert.Equal(t, []string{"A"}, unavailable.SeatIDs)

	assert.Equal(t, models.SeatSold, f.status(t, "A").Status)
	assert.Equal(t, models.SeatAvailable, f.status(t, "B").Status)
	assert.Nil(t, f.status(t, "B").HoldExpiresAt)
	assert.False(t, f.leased(t, "A"))
	assert.False(t, f.leased(t, "B"))
}

func TestReleaseHold_LateLedgerWriteSparesNextHold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	clock := stepClock()
	opts := hold.Options{TTL: 600 * time.Second, LedgerBackoff: time.Millisecond, Now: clock}

	next := hold.NewService(f.leases, f.ledger, f.catalog, nil, opts)
	var nextErr error
	leases := &interleavedLeases{LeaseStore: f.leases, afterRelease: func() {
		_, nextErr = next.HoldSeats(ctx, eventID, []string{"A"}, "s2")
	}}
	first := hold.NewService(leases, f.ledger, f.catalog, nil, opts)

	_, err := first.HoldSeats(ctx, eventID, []string{"A"}, "s1")
	require.NoError(t, err)

	res, err := first.ReleaseHold(ctx, eventID, "s1")
	require.NoError(t, err)
	require.NoError(t, nextErr)
	assert.Equal(t, 1, res.ReleasedCount)

	owner, ok, err := f.leases.OwnerOf(ctx, eventID, "A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s2", owner)
	a := f.status(t, "A")
	assert.Equal(t, models.SeatHeld, a.Status, "s1's release must not free s2's hold")
	assert.NotNil(t, a.HoldExpiresAt)
}
