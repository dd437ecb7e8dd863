package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/feed"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/matcher"
	"github.com/example/ride-hailing/internal/rides"
	"github.com/example/ride-hailing/internal/session"
	"github.com/example/ride-hailing/internal/wallet"
)

// Deps are the collaborators the API is built from.
type Deps struct {
	Rides     *rides.Service
	Wallet    *wallet.Service
	Matcher   *matcher.Service
	Geo       geo.Index
	Throttle  *geo.ThrottleSet
	Sessions  *session.Decoder
	Hub       *dispatch.Hub
	Locations events.LocationPublisher

	// FeedPollInterval and the two location settings configure the boards
	// behind /ws.
	FeedPollInterval    time.Duration
	LocationMinDistance float64
	LocationMinInterval time.Duration
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Matcher == nil {
		d.Matcher = &matcher.Service{}
	}
	if d.Hub == nil {
		d.Hub = dispatch.NewHub()
	}
	if d.Locations == nil {
		d.Locations = events.Nop{}
	}
	if d.FeedPollInterval <= 0 {
		d.FeedPollInterval = feed.DefaultPollInterval
	}
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.Handle("/ws", s.authenticate(http.HandlerFunc(s.handleWS)))

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleListMyRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods(http.MethodPost)

	api.Handle("/rides/{id}/accept", s.requireDriver(s.handleAcceptRide)).Methods(http.MethodPost)
	api.Handle("/rides/{id}/complete", s.requireDriver(s.handleCompleteRide)).Methods(http.MethodPost)
	api.Handle("/driver/rides", s.requireDriver(s.handleDriverCandidates)).Methods(http.MethodGet)
	api.Handle("/driver/rides/active", s.requireDriver(s.handleDriverActive)).Methods(http.MethodGet)
	api.Handle("/driver/location", s.requireDriver(s.handleDriverLocation)).Methods(http.MethodPost)

	api.HandleFunc("/wallet", s.handleWalletBalance).Methods(http.MethodGet)
	api.HandleFunc("/wallet/fund", s.handleWalletFund).Methods(http.MethodPost)
	api.HandleFunc("/wallet/transactions", s.handleWalletHistory).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	body := errorBody{Error: err.Error()}
	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		body = errorBody{Error: verr.Reason, Field: verr.Field}
	case status == http.StatusConflict:
		body.Error = apperrors.ErrPreconditionFailed.Error()
	case status == http.StatusUnauthorized:
		body.Error = "unauthorized"
	case status == http.StatusPaymentRequired:
		body.Error = "payment failed"
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err, "request_id", requestIDFromContext(r.Context()))
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperrors.Validation("body", "invalid json: "+err.Error())
	}
	return nil
}
