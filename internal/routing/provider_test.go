package routing

import (
	"context"
	"testing"

	"fleettrack/relay/internal/geo"
)

func TestNormalizeMode(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "driving", false},
		{"  Driving ", "driving", false},
		{"truck", "truck", false},
		{"teleport", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeMode(tc.in)
		if tc.wantErr {
			if err != ErrUnknownMode {
				t.Fatalf("NormalizeMode(%q): expected ErrUnknownMode, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("NormalizeMode(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestFallbackProviderStraightLineContract(t *testing.T) {
	provider := NewFallbackProvider(DefaultRateTable())
	start := geo.Coordinate{Lat: -6.2, Lng: 106.8}
	end := geo.Coordinate{Lat: -6.9, Lng: 107.6}

	result, err := provider.ComputeRoute(context.Background(), Request{Start: start, End: end, Mode: "driving"})
	if err != nil {
		t.Fatalf("ComputeRoute returned error: %v", err)
	}
	if len(result.Geometry) != 2 || result.Geometry[0] != start || result.Geometry[1] != end {
		t.Fatalf("expected two-point geometry [start end], got %v", result.Geometry)
	}
	if !result.Fallback {
		t.Fatal("fallback result must be flagged")
	}
	wantDuration := RoundMinutes(geo.HaversineKm(start, end) / ModeSpeedKmh("driving") * 60)
	if result.DurationMin != wantDuration {
		t.Fatalf("duration %.1f, want %.1f", result.DurationMin, wantDuration)
	}
	if result.Toll != nil {
		t.Fatal("toll estimate must be absent unless toll roads were requested")
	}
}

func TestFallbackProviderAttachesTollWhenRequested(t *testing.T) {
	provider := NewFallbackProvider(DefaultRateTable())
	req := Request{
		Start:      geo.Coordinate{Lat: -6.2, Lng: 106.8},
		End:        geo.Coordinate{Lat: -6.9, Lng: 107.6},
		Mode:       "truck",
		Vehicle:    &VehicleSpecs{Axles: 4},
		PreferToll: true,
	}
	result, err := provider.ComputeRoute(context.Background(), req)
	if err != nil {
		t.Fatalf("ComputeRoute returned error: %v", err)
	}
	if result.Toll == nil {
		t.Fatal("expected toll estimate")
	}
	if result.Toll.Class != ClassHeavy {
		t.Fatalf("expected heavy class for 4-axle truck, got %q", result.Toll.Class)
	}
	if !result.Toll.Estimated {
		t.Fatal("toll distance was unknown, estimate must be flagged")
	}
}

func TestFallbackProviderRejectsUnknownMode(t *testing.T) {
	provider := NewFallbackProvider(DefaultRateTable())
	if _, err := provider.ComputeRoute(context.Background(), Request{Mode: "hovercraft"}); err != ErrUnknownMode {
		t.Fatalf("expected ErrUnknownMode, got %v", err)
	}
}
