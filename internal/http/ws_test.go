package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-hailing/internal/session"
)

func wsURL(ts *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
}

func TestDriverRoutesRequireDriverRole(t *testing.T) {
	env := newTestEnv(t)
	rider := env.token(t, "u1", session.RoleRider)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/rides/r1/accept"},
		{http.MethodPost, "/api/v1/rides/r1/complete"},
		{http.MethodGet, "/api/v1/driver/rides"},
		{http.MethodGet, "/api/v1/driver/rides/active"},
		{http.MethodPost, "/api/v1/driver/location"},
	} {
		rec := env.do(t, route.method, route.path, rider, nil)
		require.Equal(t, http.StatusForbidden, rec.Code, route.path)
		assert.Contains(t, decode[errorBody](t, rec).Error, "driver role required", route.path)
	}
}

func TestDriverWebsocketDisconnectResetsThrottle(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	driver := env.token(t, "d1", session.RoleDriver)
	here := map[string]float64{"lat": 1, "lon": 1}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, driver), nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "location", "lat": 1, "lon": 1}))
	require.Eventually(t, func() bool {
		_, ok, err := env.srv.Geo.Position(context.Background(), "d1")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)

	// same spot right away is suppressed while the socket is up
	rec := env.do(t, http.MethodPost, "/api/v1/driver/location", driver, here)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["accepted"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		rec := env.do(t, http.MethodPost, "/api/v1/driver/location", driver, here)
		var body map[string]bool
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &body) == nil && body["accepted"]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReplacedWebsocketIsClosed(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()
	rider := env.token(t, "u1", session.RoleRider)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts, rider), nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(wsURL(ts, rider), nil)
	require.NoError(t, err)
	defer second.Close()

	_ = first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f map[string]any
		if err := first.ReadJSON(&f); err != nil {
			var netErr net.Error
			timedOut := errors.As(err, &netErr) && netErr.Timeout()
			assert.False(t, timedOut, "old socket should be closed, not idle")
			break
		}
	}

	_ = second.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f map[string]any
	require.NoError(t, second.ReadJSON(&f))
	assert.Equal(t, "rides", f["type"])
}

type countingCloser struct{ n atomic.Int32 }

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}

func TestCloseOnDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countingCloser{}
	done := make(chan struct{})
	go func() {
		closeOnDone(ctx, c)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, c.n.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closeOnDone did not return after cancel")
	}
	assert.Equal(t, int32(1), c.n.Load())
}
