package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/rides"
	"github.com/example/ride-hailing/internal/session"
)

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	var req rides.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.Rides.Create(r.Context(), sess.ActorID, sess.Email, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleListMyRides(w http.ResponseWriter, r *http.Request) {
	list, err := s.Rides.ListForRider(r.Context(), mustSession(r).ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": list})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	ride, err := s.Rides.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// pending rides are visible to every driver; the rest only to participants
	visible := ride.RiderID == sess.ActorID || ride.DriverID == sess.ActorID ||
		(sess.IsDriver() && ride.Status == models.StatusPending)
	if !visible {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.Cancel(r.Context(), mux.Vars(r)["id"], mustSession(r).ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.Accept(r.Context(), mux.Vars(r)["id"], mustSession(r).ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Rides.Complete(r.Context(), mux.Vars(r)["id"], mustSession(r).ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// handleDriverCandidates ranks pending rides from lat/lon, or from the
// driver's last indexed position when the query omits them.
func (s *Server) handleDriverCandidates(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	pos, err := s.positionFromQuery(r, sess.ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pending, err := s.Rides.ListPending(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position":   pos,
		"candidates": s.Matcher.Candidates(r.Context(), pos, pending),
	})
}

func (s *Server) positionFromQuery(r *http.Request, driverID string) (*models.Coord, error) {
	q := r.URL.Query()
	latS, lonS := q.Get("lat"), q.Get("lon")
	if latS != "" || lonS != "" {
		lat, errLat := strconv.ParseFloat(latS, 64)
		lon, errLon := strconv.ParseFloat(lonS, 64)
		c := models.Coord{Lat: lat, Lon: lon}
		if errLat != nil || errLon != nil || !c.Valid() {
			return nil, apperrors.Validation("lat,lon", "must be a valid coordinate")
		}
		return &c, nil
	}
	if s.Geo == nil {
		return nil, nil
	}
	c, ok, err := s.Geo.Position(r.Context(), driverID)
	if err != nil {
		// unknown position ranks everything as unknown distance
		s.logger.Warn("driver position lookup failed", "driver_id", driverID, "error", err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Server) handleDriverActive(w http.ResponseWriter, r *http.Request) {
	list, err := s.Rides.ListForDriver(r.Context(), mustSession(r).ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	active := make([]models.Ride, 0, len(list))
	for _, ride := range list {
		if ride.Status.HasDriver() && !ride.Status.Terminal() {
			active = append(active, ride)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": active})
}

type locationRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (l locationRequest) coord() (models.Coord, error) {
	if l.Lat == nil || l.Lon == nil {
		return models.Coord{}, apperrors.Validation("lat,lon", "required")
	}
	c := models.Coord{Lat: *l.Lat, Lon: *l.Lon}
	if !c.Valid() {
		return models.Coord{}, apperrors.Validation("lat,lon", "must be a valid coordinate")
	}
	return c, nil
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := req.coord()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accepted, err := s.recordLocation(r.Context(), mustSession(r).ActorID, c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

// recordLocation applies the per-driver throttle, then updates the geo index
// and publishes the sample. Publish failures are logged only.
func (s *Server) recordLocation(ctx context.Context, driverID string, c models.Coord) (bool, error) {
	loc := models.DriverLocation{DriverID: driverID, Loc: c, At: time.Now().UTC()}
	if s.Throttle != nil && !s.Throttle.Allow(loc) {
		observability.LocationSamples.WithLabelValues("suppressed").Inc()
		return false, nil
	}
	observability.LocationSamples.WithLabelValues("accepted").Inc()
	if s.Geo != nil {
		if err := s.Geo.Upsert(ctx, loc); err != nil {
			return false, apperrors.Transport("upsert driver position", err)
		}
	}
	if err := s.Locations.PublishLocation(ctx, loc); err != nil {
		s.logger.Warn("location publish failed", "driver_id", driverID, "error", err)
	}
	return true, nil
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	a, err := s.Wallet.Balance(r.Context(), mustSession(r).ActorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type fundRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

func (s *Server) handleWalletFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Reference == "" {
		req.Reference = r.Header.Get("Idempotency-Key")
	}
	a, err := s.Wallet.Fund(r.Context(), mustSession(r).ActorID, req.Amount, req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleWalletHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, apperrors.Validation("limit", "must be an integer"))
			return
		}
		limit = n
	}
	txs, err := s.Wallet.History(r.Context(), mustSession(r).ActorID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// mustSession is only called behind authenticate.
func mustSession(r *http.Request) *session.Session {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		panic(errors.New("handler reached without a session"))
	}
	return sess
}
