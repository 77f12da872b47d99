package hold_api

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-seating/internal/availability"
	"ms-seating/internal/catalog"
	"ms-seating/internal/checkout"
	"ms-seating/internal/hold"
	"ms-seating/internal/lease"
	"ms-seating/internal/ledger"
	"ms-seating/internal/logger"
	"ms-seating/internal/models"
	"ms-seating/internal/sse"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

const eventID = "clasico"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	router  http.Handler
	handler *Handler
	ledger  *ledger.DB
	mr      *miniredis.Miniredis
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, ledger.CreateSchema(ctx, bunDB))

	t.Cleanup(func() {
		client.Close()
		mr.Close()
		bunDB.Close()
	})

	cat := &catalog.DB{Bun: bunDB}
	led := &ledger.DB{Bun: bunDB}
	now := time.Now().UTC()
	require.NoError(t, cat.UpsertEvent(ctx, &models.Event{
		ID: eventID, HomeTeam: "Beitar", AwayTeam: "Bnei Sakhnin",
		EventDate: now.Add(24 * time.Hour), SaleStartDate: now.Add(-time.Hour), SaleEndDate: now.Add(12 * time.Hour),
		Status: models.EventOnSale,
	}))
	var seats []models.TicketInventory
	for i := 1; i <= 4; i++ {
		seats = append(seats, models.TicketInventory{
			ID: fmt.Sprintf("inv-%d", i), EventID: eventID, SeatID: fmt.Sprintf("S%d", i), Section: "North", Number: i, Price: 75,
		})
	}
	_, err = led.Provision(ctx, seats)
	require.NoError(t, err)

	leases := lease.NewRedisStore(client, nil)
	stream := sse.NewSeatEventEmitter()
	holds := hold.NewService(leases, led, cat, nil, hold.Options{TTL: 10 * time.Minute, LedgerBackoff: time.Millisecond}, stream)
	recon := availability.NewReconciler(leases, led, nil, true, stream)
	settler := checkout.NewSettler(led, holds, nil, stream)

	h := NewHandler(holds, recon, leases, stream, settler, nil)
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)

	return &testAPI{router: r, handler: h, ledger: led, mr: mr}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestCreateHold(t *testing.T) {
	api := setupAPI(t)

	rec, env := api.do(t, http.MethodPost, "/api/events/clasico/holds", HoldRequest{SeatIDs: []string{"S1", "S2"}, SessionID: "buyer-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)

	var receipt hold.Receipt
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, 150.0, receipt.TotalPrice)
	assert.Equal(t, "ILS", receipt.Currency)
	assert.Equal(t, []string{"S1", "S2"}, receipt.SeatIDs())
	assert.EqualValues(t, 600, receipt.ExpiresIn)

	rec, env = api.do(t, http.MethodPost, "/api/events/clasico/holds", HoldRequest{SeatIDs: []string{"S2", "S3"}, SessionID: "buyer-2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SEATS_UNAVAILABLE", env.Code)
	assert.Contains(t, string(env.Data), `"S2"`)
}

func TestCreateHold_BadRequests(t *testing.T) {
	api := setupAPI(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing session", "/api/events/clasico/holds", HoldRequest{SeatIDs: []string{"S1"}}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"no seats", "/api/events/clasico/holds", HoldRequest{SessionID: "s"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"too many seats", "/api/events/clasico/holds", HoldRequest{SeatIDs: strings.Split("a,b,c,d,e,f,g,h,i,j,k", ","), SessionID: "s"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown event", "/api/events/nope/holds", HoldRequest{SeatIDs: []string{"S1"}, SessionID: "s"}, http.StatusNotFound, "EVENT_NOT_FOUND"},
		{"malformed json", "/api/events/clasico/holds", "not-an-object", http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := api.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestReleaseAndExtendHold(t *testing.T) {
	api := setupAPI(t)

	rec, _ := api.do(t, http.MethodPost, "/api/events/clasico/holds", HoldRequest{SeatIDs: []string{"S1"}, SessionID: "buyer-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := api.do(t, http.MethodPost, "/api/events/clasico/holds/buyer-1/extend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var extended hold.ExtendResult
	require.NoError(t, json.Unmarshal(env.Data, &extended))
	assert.Equal(t, []string{"S1"}, extended.SeatIDs)

	rec, env = api.do(t, http.MethodDelete, "/api/events/clasico/holds/buyer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var released hold.ReleaseResult
	require.NoError(t, json.Unmarshal(env.Data, &released))
	assert.Equal(t, 1, released.ReleasedCount)

	// idempotent
	rec, env = api.do(t, http.MethodDelete, "/api/events/clasico/holds/buyer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &released))
	assert.Equal(t, 0, released.ReleasedCount)

	rec, env = api.do(t, http.MethodPost, "/api/events/clasico/holds/buyer-1/extend", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "HOLD_NOT_FOUND", env.Code)
}

func TestListSeatsAndInspectLease(t *testing.T) {
	api := setupAPI(t)

	rec, _ := api.do(t, http.MethodPost, "/api/events/clasico/holds", HoldRequest{SeatIDs: []string{"S3"}, SessionID: "buyer-9"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := api.do(t, http.MethodGet, "/api/events/clasico/seats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var seats []models.EffectiveSeat
	require.NoError(t, json.Unmarshal(env.Data, &seats))
	require.Len(t, seats, 4)
	for _, s := range seats {
		if s.SeatID == "S3" {
			assert.Equal(t, models.SeatHeld, s.Status)
		} else {
			assert.Equal(t, models.SeatAvailable, s.Status)
		}
	}

	rec, env = api.do(t, http.MethodGet, "/api/events/clasico/seats/S3/lease", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info lease.Info
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.True(t, info.Held)
	assert.Equal(t, "buyer-9", info.Owner)
	assert.EqualValues(t, 600, info.TTLSecs)

	rec, env = api.do(t, http.MethodGet, "/api/events/clasico/seats/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary availability.Summary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[models.SeatHeld])
	assert.Equal(t, 3, summary.ByStatus[models.SeatAvailable])

	// lease lapses: seat map reports AVAILABLE although the row says HELD
	api.mr.FastForward(601 * time.Second)
	rec, env = api.do(t, http.MethodGet, "/api/events/clasico/seats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &seats))
	for _, s := range seats {
		assert.Equal(t, models.SeatAvailable, s.Status, s.SeatID)
	}
}

func TestPaymentOutcomeAndLeaseRelease(t *testing.T) {
	api := setupAPI(t)

	rec, _ := api.do(t, http.MethodPost, "/api/events/clasico/holds", HoldRequest{SeatIDs: []string{"S1", "S2"}, SessionID: "buyer-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := api.do(t, http.MethodPost, "/api/internal/payments/outcome", models.PaymentOutcome{
		EventID: eventID, SessionID: "buyer-1", SeatIDs: []string{"S1"}, Result: models.PaymentSucceeded,
	})
	require.Equal(t, http.StatusOK, rec.Code, string(env.Data))

	rows, err := api.ledger.GetSeats(context.Background(), eventID, []string{"S1", "S2"})
	require.NoError(t, err)
	assert.Equal(t, models.SeatSold, rows[0].Status)
	assert.Equal(t, models.SeatHeld, rows[1].Status)

	rec, env = api.do(t, http.MethodPost, "/api/internal/events/clasico/leases/release", ReleaseLeasesRequest{SeatIDs: []string{"S2"}, SessionID: "buyer-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"released_count":1}`, string(env.Data))

	rec, env = api.do(t, http.MethodPost, "/api/internal/payments/outcome", models.PaymentOutcome{EventID: eventID, Result: "PENDING"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", env.Code)
}

func TestStreamSeats(t *testing.T) {
	api := setupAPI(t)
	srv := httptest.NewServer(api.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events/clasico/seats/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "" && name != "":
				return name, data
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	name, _ := readEvent()
	require.Equal(t, "connected", name)

	rec, _ := api.do(t, http.MethodPost, "/api/events/clasico/holds", HoldRequest{SeatIDs: []string{"S4"}, SessionID: "buyer-4"})
	require.Equal(t, http.StatusCreated, rec.Code)

	name, data := readEvent()
	assert.Equal(t, "seat-status", name)
	var change models.SeatStatusChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &change))
	assert.Equal(t, models.SeatChangeHeld, change.Change)
	assert.Equal(t, []string{"S4"}, change.SeatIDs)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&hold.SeatsUnavailableError{SeatIDs: []string{"A"}, Reason: hold.ReasonHeld}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", hold.ErrInvalidRequest), http.StatusBadRequest},
		{hold.ErrNotPurchasable, http.StatusBadRequest},
		{hold.ErrExtendFailed, http.StatusBadRequest},
		{hold.ErrEventNotFound, http.StatusNotFound},
		{hold.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: redis", hold.ErrTransient), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _, _ := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewConsoleLogger(&buf)

	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/events/x/seats", nil))

	assert.Contains(t, buf.String(), "GET /api/events/x/seats - 418")
}
