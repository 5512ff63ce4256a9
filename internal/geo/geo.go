package geo

import (
	"errors"
	"math"
)

// Coordinate is a WGS84 position.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ErrMalformedPair indicates an input that is not a two-element numeric pair.
var ErrMalformedPair = errors.New("coordinate must be a two-element numeric pair")

const earthRadiusKm = 6371.0

// FromLngLat builds a Coordinate from a GeoJSON-ordered [longitude, latitude] pair.
func FromLngLat(pair []float64) (Coordinate, error) {
	if len(pair) != 2 {
		return Coordinate{}, ErrMalformedPair
	}
	return Coordinate{Lat: pair[1], Lng: pair[0]}, nil
}

// FromLatLng builds a Coordinate from a [latitude, longitude] pair.
func FromLatLng(pair []float64) (Coordinate, error) {
	if len(pair) != 2 {
		return Coordinate{}, ErrMalformedPair
	}
	return Coordinate{Lat: pair[0], Lng: pair[1]}, nil
}

// LngLat returns the coordinate as a GeoJSON-ordered [longitude, latitude] pair.
func (c Coordinate) LngLat() []float64 {
	return []float64{c.Lng, c.Lat}
}

// Valid reports whether the coordinate lies inside the WGS84 envelope.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// HaversineKm returns the great-circle distance between two coordinates in kilometres.
func HaversineKm(a, b Coordinate) float64 {
	//1.- Convert both coordinates to radians for the spherical distance formula.
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	//2.- Apply the haversine identity and scale by the Earth radius.
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
