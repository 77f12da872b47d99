package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ms-seating/internal/catalog"
	"ms-seating/internal/ledger"
	"ms-seating/internal/models"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "seating",
				"POSTGRES_PASSWORD": "seating",
				"POSTGRES_DB":       "seating",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { pg.Terminate(ctx) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://seating:seating@%s:%s/seating?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

// TestMigrationsIntegration applies the schema to a real postgres and runs the
// ledger against it.
func TestMigrationsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}
	ctx := context.Background()
	sqlDB := startPostgres(t)

	runner := NewRunner(sqlDB, "../../../migrations", nil)
	require.NoError(t, runner.Up())
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	bunDB := bun.NewDB(sqlDB, pgdialect.New())
	now := time.Now()
	require.NoError(t, (&catalog.DB{Bun: bunDB}).UpsertEvent(ctx, &models.Event{
		ID: "derby", HomeTeam: "Maccabi", AwayTeam: "Hapoel",
		EventDate: now.Add(72 * time.Hour), SaleStartDate: now.Add(-time.Hour), SaleEndDate: now.Add(48 * time.Hour),
		Status: models.EventOnSale,
	}))

	led := &ledger.DB{Bun: bunDB}
	n, err := led.Provision(ctx, []models.TicketInventory{
		{ID: "derby-A1", EventID: "derby", SeatID: "A1", Section: "A", Row: "1", Number: 1, Price: 120.5},
		{ID: "derby-A2", EventID: "derby", SeatID: "A2", Section: "A", Row: "1", Number: 2, Price: 120.5},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	expiry := now.Add(-time.Second)
	_, err = led.MarkHeld(ctx, "derby", []string{"A1"}, expiry)
	require.NoError(t, err)

	stale, err := led.ListStaleHolds(ctx, "", now, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	healed, err := led.HealStale(ctx, "derby", "A1", stale[0].HoldExpiresAt)
	require.NoError(t, err)
	assert.True(t, healed)

	rows, err := led.GetSeats(ctx, "derby", []string{"A1", "A2"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.SeatAvailable, rows[0].Status)
	assert.Equal(t, 120.5, rows[0].Price)

	require.NoError(t, runner.Down(0))
	version, _, err = runner.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	require.NoError(t, runner.Close())
}
