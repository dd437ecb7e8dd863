package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/feed"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/matcher"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/session"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxWSMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsInbound is what clients may send. Only drivers send anything: location
// samples of the form {"type":"location","lat":..,"lon":..}.
type wsInbound struct {
	Type string   `json:"type"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

// handleWS streams the caller's board. Riders receive {"type":"rides"} with
// their own rides; drivers receive {"type":"candidates"} with pending rides
// ranked from their latest position.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "actor_id", sess.ActorID, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	ws := s.Hub.Add(sess.ActorID, conn)
	defer func() {
		cancel()
		// a replaced session leaves the throttle to its successor
		if s.Hub.Remove(ws) && sess.IsDriver() && s.Throttle != nil {
			s.Throttle.Forget(sess.ActorID)
		}
		_ = conn.Close()
	}()

	send := func(typ string, data any) {
		if err := s.Hub.Send(ws, dispatch.Message{Type: typ, Data: data}); err != nil {
			s.logger.Debug("ws send failed", "actor_id", sess.ActorID, "error", err)
			cancel()
		}
	}

	var (
		run        func(context.Context) error
		onLocation func(models.Coord)
	)
	if sess.IsDriver() {
		board := feed.NewDriverBoard(s.Rides, s.Matcher, geo.NewThrottle(s.LocationMinDistance, s.LocationMinInterval), s.FeedPollInterval, s.logger)
		board.OnUpdate = func(cs []matcher.Candidate) { send("candidates", cs) }
		board.OnError = func(error) { send("error", "rides unavailable") }
		if s.Geo != nil {
			if c, ok, err := s.Geo.Position(ctx, sess.ActorID); err == nil && ok {
				board.UpdatePosition(c)
			}
		}
		onLocation = func(c models.Coord) {
			board.UpdatePosition(c)
			if _, err := s.recordLocation(ctx, sess.ActorID, c); err != nil {
				s.logger.Warn("ws location update failed", "driver_id", sess.ActorID, "error", err)
			}
		}
		run = board.Run
	} else {
		board := feed.NewRiderBoard(s.Rides, sess.ActorID, s.FeedPollInterval, s.logger)
		board.OnUpdate = func(rs []models.Ride) { send("rides", rs) }
		board.OnError = func(error) { send("error", "rides unavailable") }
		run = board.Run
	}

	go func() { _ = run(ctx) }()
	go s.pingLoop(ctx, conn)
	go closeOnDone(ctx, conn)
	s.readLoop(ctx, conn, sess, onLocation)
}

// closeOnDone closes c once ctx ends, which unblocks a pending read.
func closeOnDone(ctx context.Context, c io.Closer) {
	<-ctx.Done()
	_ = c.Close()
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, onLocation func(models.Coord)) {
	conn.SetReadLimit(maxWSMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for ctx.Err() == nil {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("ws closed", "actor_id", sess.ActorID, "error", err)
			}
			return
		}
		if msg.Type != "location" || onLocation == nil {
			continue
		}
		c, err := locationRequest{Lat: msg.Lat, Lon: msg.Lon}.coord()
		if err != nil {
			continue
		}
		onLocation(c)
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

const writeWait = 5 * time.Second
