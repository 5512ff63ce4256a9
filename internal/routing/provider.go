package routing

import (
	"context"
	"errors"
	"math"
	"strings"

	"fleettrack/relay/internal/geo"
)

// ErrUnknownMode indicates a transport mode outside the supported profiles.
var ErrUnknownMode = errors.New("unknown transport mode")

// DefaultMode is assumed when a request carries no transport mode.
const DefaultMode = "driving"

// modeSpeeds lists the heuristic average speed per transport mode in km/h.
// The fallback duration estimate divides distance by these values, so both the
// engine fallback and any adapter-side fallback produce identical results.
var modeSpeeds = map[string]float64{
	"driving":    50,
	"truck":      40,
	"motorcycle": 45,
	"cycling":    15,
	"walking":    5,
}

// NormalizeMode canonicalises the transport mode, defaulting blank input.
func NormalizeMode(mode string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(mode))
	if trimmed == "" {
		return DefaultMode, nil
	}
	if _, ok := modeSpeeds[trimmed]; !ok {
		return "", ErrUnknownMode
	}
	return trimmed, nil
}

// ModeSpeedKmh returns the heuristic average speed for the mode.
func ModeSpeedKmh(mode string) float64 {
	if speed, ok := modeSpeeds[strings.ToLower(strings.TrimSpace(mode))]; ok {
		return speed
	}
	return modeSpeeds[DefaultMode]
}

// Request describes a route computation.
type Request struct {
	Start      geo.Coordinate
	End        geo.Coordinate
	Mode       string
	Vehicle    *VehicleSpecs
	PreferToll bool
}

// Result is the shape every provider must return.
type Result struct {
	Geometry     []geo.Coordinate `json:"routeGeometry"`
	DistanceKm   float64          `json:"distance"`
	DurationMin  float64          `json:"duration"`
	Instructions []string         `json:"instructions,omitempty"`
	Toll         *TollEstimate    `json:"tollInfo,omitempty"`
	Fallback     bool             `json:"fallback"`
}

// Provider obtains routes from an external routing service. Implementations
// may chain several upstreams internally; callers only see success or failure.
type Provider interface {
	ComputeRoute(ctx context.Context, req Request) (*Result, error)
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Result, error)

// ComputeRoute implements Provider.
func (f ProviderFunc) ComputeRoute(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// FallbackProvider synthesizes a direct-line route with a heuristic duration.
// It never fails, which is the contract the dispatch engine depends on when the
// configured upstream provider errors or exceeds its time budget.
type FallbackProvider struct {
	Rates RateTable
}

// NewFallbackProvider constructs a fallback provider using the given tariffs.
func NewFallbackProvider(rates RateTable) *FallbackProvider {
	return &FallbackProvider{Rates: rates}
}

// ComputeRoute implements Provider with the straight-line contract: a
// two-point geometry, haversine distance, and distance/speed duration.
func (p *FallbackProvider) ComputeRoute(_ context.Context, req Request) (*Result, error) {
	mode, err := NormalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}
	//1.- Straight-line distance stands in for the unreachable road network.
	distance := geo.HaversineKm(req.Start, req.End)
	duration := RoundMinutes(distance / ModeSpeedKmh(mode) * 60)
	result := &Result{
		Geometry:    []geo.Coordinate{req.Start, req.End},
		DistanceKm:  RoundKm(distance),
		DurationMin: duration,
		Fallback:    true,
	}
	//2.- Toll estimation only applies when the caller asked for toll roads.
	if req.PreferToll {
		toll := p.Rates.Estimate(distance, 0, ClassFor(mode, req.Vehicle))
		result.Toll = &toll
	}
	return result, nil
}

// RoundKm rounds a distance to one decimal for stable client payloads.
func RoundKm(km float64) float64 { return math.Round(km*10) / 10 }

// RoundMinutes rounds a duration to one decimal for stable client payloads.
func RoundMinutes(minutes float64) float64 { return math.Round(minutes*10) / 10 }
