package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"fleettrack/relay/internal/dispatch"
	"fleettrack/relay/internal/geo"
	"fleettrack/relay/internal/logging"
	"fleettrack/relay/internal/routing"
	"fleettrack/relay/internal/sweeper"
)

// StatusProvider exposes relay state required for the status endpoint.
type StatusProvider interface {
	ClientCounts() (drivers, monitors int)
	ActiveDrivers() int
	Uptime() time.Duration
}

// RouteComputer resolves a route request, falling back internally on provider
// failure so the result is never nil for a valid request.
type RouteComputer interface {
	ComputeRoute(request routing.Request) *routing.Result
}

// RateLimiter gates how frequently the route endpoint may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger       *logging.Logger
	Status       StatusProvider
	EngineStats  func() dispatch.Stats
	SweeperStats func() sweeper.Stats
	Routes       RouteComputer
	RateLimiter  RateLimiter
	TimeSource   func() time.Time
}

// HandlerSet bundles the relay operational handlers.
type HandlerSet struct {
	logger       *logging.Logger
	status       StatusProvider
	engineStats  func() dispatch.Stats
	sweeperStats func() sweeper.Stats
	routes       RouteComputer
	rateLimiter  RateLimiter
	now          func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:       logger,
		status:       opts.Status,
		engineStats:  opts.EngineStats,
		sweeperStats: opts.SweeperStats,
		routes:       opts.Routes,
		rateLimiter:  opts.RateLimiter,
		now:          now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/healthz", h.HealthHandler())
	mux.HandleFunc("/status", h.StatusHandler())
	mux.HandleFunc("/route", h.RouteHandler())
}

// HealthHandler reports that the HTTP server is reachable.
func (h *HandlerSet) HealthHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "ok",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// StatusHandler reports connection counts, uptime, and engine activity.
func (h *HandlerSet) StatusHandler() http.HandlerFunc {
	type response struct {
		Status        string         `json:"status"`
		UptimeSeconds float64        `json:"uptime_seconds"`
		ActiveDrivers int            `json:"active_drivers"`
		Drivers       int            `json:"connected_drivers"`
		Monitors      int            `json:"connected_monitors"`
		Engine        dispatch.Stats `json:"engine"`
		Sweeper       *sweeper.Stats `json:"sweeper,omitempty"`
		Timestamp     string         `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{
			Status:    "ok",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		}
		if h.status != nil {
			resp.Drivers, resp.Monitors = h.status.ClientCounts()
			resp.ActiveDrivers = h.status.ActiveDrivers()
			resp.UptimeSeconds = h.status.Uptime().Seconds()
		}
		if h.engineStats != nil {
			resp.Engine = h.engineStats()
		}
		if h.sweeperStats != nil {
			stats := h.sweeperStats()
			resp.Sweeper = &stats
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type routeRequest struct {
	StartPoint      []float64             `json:"startPoint"`
	EndPoint        []float64             `json:"endPoint"`
	TransportMode   string                `json:"transportMode,omitempty"`
	PreferTollRoads bool                  `json:"preferTollRoads,omitempty"`
	TruckSpecs      *routing.VehicleSpecs `json:"truckSpecs,omitempty"`
}

// RouteHandler resolves one-shot route computations without a WebSocket
// session. Unknown transport modes are a 404, matching the stream behaviour of
// routeError for the same input.
func (h *HandlerSet) RouteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "route"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("route request denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.routes == nil {
			http.Error(w, "route computation is unavailable", http.StatusServiceUnavailable)
			return
		}

		var payload routeRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "request body malformed", http.StatusBadRequest)
			return
		}
		start, startErr := geo.FromLatLng(payload.StartPoint)
		end, endErr := geo.FromLatLng(payload.EndPoint)
		if startErr != nil || endErr != nil {
			http.Error(w, "startPoint and endPoint are required [lat, lng] pairs", http.StatusBadRequest)
			return
		}
		mode, err := routing.NormalizeMode(payload.TransportMode)
		if err != nil {
			if errors.Is(err, routing.ErrUnknownMode) {
				http.Error(w, "unknown transport mode "+strings.TrimSpace(payload.TransportMode), http.StatusNotFound)
				return
			}
			http.Error(w, "transport mode rejected", http.StatusBadRequest)
			return
		}

		result := h.routes.ComputeRoute(routing.Request{
			Start:      start,
			End:        end,
			Mode:       mode,
			Vehicle:    payload.TruckSpecs,
			PreferToll: payload.PreferTollRoads,
		})
		if result == nil {
			reqLogger.Error("route computation returned nothing")
			http.Error(w, "route computation failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
