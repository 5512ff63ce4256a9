package geo

import (
	"math"
	"testing"
)

func TestFromLngLatOrdersComponents(t *testing.T) {
	coord, err := FromLngLat([]float64{106.8, -6.2})
	if err != nil {
		t.Fatalf("FromLngLat returned error: %v", err)
	}
	if coord.Lat != -6.2 || coord.Lng != 106.8 {
		t.Fatalf("unexpected coordinate: %+v", coord)
	}
}

func TestFromPairRejectsMalformedInput(t *testing.T) {
	for _, pair := range [][]float64{nil, {1}, {1, 2, 3}} {
		if _, err := FromLngLat(pair); err != ErrMalformedPair {
			t.Fatalf("pair %v: expected ErrMalformedPair, got %v", pair, err)
		}
		if _, err := FromLatLng(pair); err != ErrMalformedPair {
			t.Fatalf("pair %v: expected ErrMalformedPair, got %v", pair, err)
		}
	}
}

func TestValidRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		coord Coordinate
		want  bool
	}{
		{Coordinate{Lat: -6.2, Lng: 106.8}, true},
		{Coordinate{Lat: 91, Lng: 0}, false},
		{Coordinate{Lat: 0, Lng: -181}, false},
		{Coordinate{Lat: math.NaN(), Lng: 0}, false},
	}
	for _, tc := range cases {
		if got := tc.coord.Valid(); got != tc.want {
			t.Fatalf("Valid(%+v) = %v, want %v", tc.coord, got, tc.want)
		}
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	jakarta := Coordinate{Lat: -6.2, Lng: 106.8}
	bandung := Coordinate{Lat: -6.9, Lng: 107.6}
	got := HaversineKm(jakarta, bandung)
	if got < 115 || got > 125 {
		t.Fatalf("expected roughly 118km between Jakarta and Bandung, got %.1f", got)
	}
	if HaversineKm(jakarta, jakarta) != 0 {
		t.Fatalf("distance to self should be zero")
	}
}
