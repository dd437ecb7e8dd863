package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/matcher"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/pricing"
	"github.com/example/ride-hailing/internal/rides"
	"github.com/example/ride-hailing/internal/session"
	"github.com/example/ride-hailing/internal/storage"
	"github.com/example/ride-hailing/internal/wallet"
)

type testEnv struct {
	srv      *Server
	sessions *session.Decoder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := storage.NewMemoryAccountStore()
	decoder := session.NewDecoder("test-secret")
	srv := NewServer(Deps{
		Rides:               rides.NewService(storage.NewMemoryRideStore(logger), accounts, pricing.NewCalculator(2), logger),
		Wallet:              wallet.NewService(accounts, logger),
		Matcher:             &matcher.Service{},
		Geo:                 geo.NewMemoryIndex(),
		Throttle:            geo.NewThrottleSet(10, 5*time.Second),
		Sessions:            decoder,
		FeedPollInterval:    time.Hour,
		LocationMinDistance: 10,
		LocationMinInterval: 5 * time.Second,
	}, logger)
	return testEnv{srv: srv, sessions: decoder}
}

func (e testEnv) token(t *testing.T, id string, role session.Role) string {
	t.Helper()
	tok, err := e.sessions.Issue(session.Session{ActorID: id, Email: id + "@example.com", Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var createBody = map[string]any{
	"pickup":              map[string]float64{"lat": 9.08, "lon": 8.67},
	"destination":         map[string]float64{"lat": 9.09, "lon": 8.68},
	"destination_address": "Wuse II",
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/rides", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/rides", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	rider := env.token(t, "u1", session.RoleRider)
	d1 := env.token(t, "d1", session.RoleDriver)
	d2 := env.token(t, "d2", session.RoleDriver)

	rec := env.do(t, http.MethodPost, "/api/v1/rides", rider, createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ride := decode[models.Ride](t, rec)
	assert.Equal(t, models.StatusPending, ride.Status)
	assert.Equal(t, "u1@example.com", ride.RiderEmail)
	assert.Positive(t, ride.Price)

	// riders cannot accept
	rec = env.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/accept", rider, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/accept", d1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "d1", decode[models.Ride](t, rec).DriverID)

	rec = env.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/accept", d2, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ride no longer available", decode[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/cancel", rider, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/driver/rides/active", d1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.Ride](t, rec)["rides"], 1)

	rec = env.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/complete", d1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusCompleted, decode[models.Ride](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/api/v1/wallet", rider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -ride.Price, decode[models.Account](t, rec).Balance)

	rec = env.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, d2, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRideValidation(t *testing.T) {
	env := newTestEnv(t)
	rider := env.token(t, "u1", session.RoleRider)

	rec := env.do(t, http.MethodPost, "/api/v1/rides", rider, map[string]any{
		"pickup": map[string]float64{"lat": 9.08, "lon": 8.67},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "destination", decode[errorBody](t, rec).Field)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rides", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+rider)
	out := httptest.NewRecorder()
	env.srv.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestWalletFundAndHistory(t *testing.T) {
	env := newTestEnv(t)
	rider := env.token(t, "u1", session.RoleRider)

	rec := env.do(t, http.MethodPost, "/api/v1/wallet/fund", rider, map[string]any{"amount": 5000, "reference": "topup-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5000), decode[models.Account](t, rec).Balance)

	// replayed reference does not credit twice
	rec = env.do(t, http.MethodPost, "/api/v1/wallet/fund", rider, map[string]any{"amount": 5000, "reference": "topup-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5000), decode[models.Account](t, rec).Balance)

	rec = env.do(t, http.MethodPost, "/api/v1/wallet/fund", rider, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/wallet/transactions?limit=10", rider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[map[string][]models.Transaction](t, rec)["transactions"]
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionCredit, txs[0].Kind)
}

func TestDriverLocationAndCandidates(t *testing.T) {
	env := newTestEnv(t)
	rider := env.token(t, "u1", session.RoleRider)
	driver := env.token(t, "d1", session.RoleDriver)

	near := map[string]any{
		"pickup":      map[string]float64{"lat": 0, "lon": 0.01},
		"destination": map[string]float64{"lat": 0.01, "lon": 0.01},
	}
	far := map[string]any{
		"pickup":      map[string]float64{"lat": 0, "lon": -0.05},
		"destination": map[string]float64{"lat": 0.01, "lon": -0.05},
	}
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/rides", rider, far).Code)
	rec := env.do(t, http.MethodPost, "/api/v1/rides", rider, near)
	require.Equal(t, http.StatusCreated, rec.Code)
	nearRide := decode[models.Ride](t, rec)

	rec = env.do(t, http.MethodPost, "/api/v1/driver/location", driver, map[string]float64{"lat": 0, "lon": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["accepted"])

	rec = env.do(t, http.MethodPost, "/api/v1/driver/location", driver, map[string]float64{"lat": 0, "lon": 0.00001})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["accepted"])

	rec = env.do(t, http.MethodPost, "/api/v1/driver/location", driver, map[string]float64{"lat": 91, "lon": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no lat/lon: the indexed position is used
	rec = env.do(t, http.MethodGet, "/api/v1/driver/rides", driver, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Candidates []matcher.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Candidates, 2)
	assert.Equal(t, nearRide.ID, body.Candidates[0].Ride.ID)
	assert.True(t, body.Candidates[0].Known)

	rec = env.do(t, http.MethodGet, "/api/v1/driver/rides?lat=0&lon=-0.05", driver, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEqual(t, nearRide.ID, body.Candidates[0].Ride.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/driver/rides?lat=abc&lon=0", driver, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiderWebsocketBoard(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	rider := env.token(t, "u1", session.RoleRider)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + rider
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type string        `json:"type"`
		Data []models.Ride `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "rides", f.Type)
	assert.Empty(t, f.Data)

	rec := env.do(t, http.MethodPost, "/api/v1/rides", rider, createBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	for len(f.Data) == 0 {
		require.NoError(t, conn.ReadJSON(&f))
	}
	assert.Equal(t, "rides", f.Type)
	assert.Equal(t, decode[models.Ride](t, rec).ID, f.Data[0].ID)
}

func TestWebsocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
