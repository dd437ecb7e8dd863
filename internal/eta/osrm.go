package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
)

// ErrNoRoute means the routing server answered but found no path between the
// points, so the naive estimate is the best available.
var ErrNoRoute = errors.New("no route")

const defaultProfile = "driving"

// coordPrecision fixes coordinates to about a metre. Cache keys and route
// queries use the same rounding so a cached answer is the one the router
// would give again.
const coordPrecision = 5

func lonLat(c models.Coord) string {
	return strconv.FormatFloat(c.Lon, 'f', coordPrecision, 64) + "," +
		strconv.FormatFloat(c.Lat, 'f', coordPrecision, 64)
}

// routeKey is the OSRM coordinate list for a single leg.
func routeKey(from, to models.Coord) string {
	return lonLat(from) + ";" + lonLat(to)
}

// OSRMClient asks an OSRM server for the driving duration of one leg.
type OSRMClient struct {
	base    *url.URL
	profile string
	http    *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	base, err := url.Parse(endpoint)
	if err != nil {
		base = &url.URL{Path: endpoint}
	}
	return &OSRMClient{base: base, profile: defaultProfile, http: &http.Client{Timeout: 2 * time.Second}}
}

type osrmRoute struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func (o *OSRMClient) routeURL(from, to models.Coord) string {
	u := o.base.JoinPath("route", "v1", o.profile, routeKey(from, to))
	u.RawQuery = url.Values{"overview": {"false"}, "steps": {"false"}}.Encode()
	return u.String()
}

// EstimateSeconds returns the duration of the fastest route. Network failures
// come back as transport errors; a valid answer without a route is ErrNoRoute.
func (o *OSRMClient) EstimateSeconds(ctx context.Context, from, to models.Coord) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.routeURL(from, to), nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return 0, apperrors.Transport("osrm route", err)
	}
	defer resp.Body.Close()

	var out osrmRoute
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return 0, apperrors.Transport("osrm route", fmt.Errorf("status %d", resp.StatusCode))
	case decodeErr != nil:
		return 0, fmt.Errorf("osrm route: status %d: %w", resp.StatusCode, decodeErr)
	case out.Code == "NoRoute" || (out.Code == "Ok" && len(out.Routes) == 0):
		return 0, ErrNoRoute
	case out.Code != "Ok":
		return 0, fmt.Errorf("osrm route %s: %s", out.Code, out.Message)
	}
	return out.Routes[0].Duration, nil
}
