package routing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VehicleClass is the tariff category used to price toll segments.
type VehicleClass string

const (
	ClassMotorcycle VehicleClass = "motorcycle"
	ClassLight      VehicleClass = "light"
	ClassMedium     VehicleClass = "medium"
	ClassHeavy      VehicleClass = "heavy"
)

// VehicleSpecs carries the optional vehicle details supplied with a request.
type VehicleSpecs struct {
	Axles        int     `json:"axles,omitempty" yaml:"axles,omitempty"`
	WeightTons   float64 `json:"weightTons,omitempty" yaml:"weight_tons,omitempty"`
	HeightMeters float64 `json:"heightMeters,omitempty" yaml:"height_meters,omitempty"`
}

// ClassFor maps a transport mode plus optional vehicle specs to a toll class.
// Pure: the adapter and the engine fallback must agree given identical inputs.
func ClassFor(mode string, specs *VehicleSpecs) VehicleClass {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "motorcycle", "cycling":
		return ClassMotorcycle
	case "truck":
		//1.- Axle count separates rigid trucks from articulated heavy haulers.
		if specs != nil && specs.Axles >= 3 {
			return ClassHeavy
		}
		return ClassMedium
	default:
		return ClassLight
	}
}

// TollEstimate is the deterministic toll-cost estimate attached to routes.
type TollEstimate struct {
	Class          VehicleClass `json:"vehicleClass"`
	TollDistanceKm float64      `json:"tollDistanceKm"`
	RatePerKm      float64      `json:"ratePerKm"`
	Cost           float64      `json:"estimatedCost"`
	Currency       string       `json:"currency"`
	Estimated      bool         `json:"estimated"`
}

// RateTable holds per-vehicle-class per-kilometre toll rates.
type RateTable struct {
	Currency string                   `yaml:"currency"`
	Rates    map[VehicleClass]float64 `yaml:"rates"`
	// TollFraction is the share of total distance assumed to be tolled when the
	// actual toll distance is unknown.
	TollFraction float64 `yaml:"toll_fraction"`
}

// DefaultRateTable returns the built-in tariffs used when no file is configured.
func DefaultRateTable() RateTable {
	return RateTable{
		Currency: "IDR",
		Rates: map[VehicleClass]float64{
			ClassMotorcycle: 250,
			ClassLight:      900,
			ClassMedium:     1350,
			ClassHeavy:      1800,
		},
		TollFraction: 0.6,
	}
}

// LoadRateTable reads tariffs from a YAML file, filling gaps from the defaults.
func LoadRateTable(path string) (RateTable, error) {
	table := DefaultRateTable()
	if strings.TrimSpace(path) == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return table, fmt.Errorf("read toll rates: %w", err)
	}
	var loaded RateTable
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return table, fmt.Errorf("parse toll rates: %w", err)
	}
	if loaded.Currency != "" {
		table.Currency = loaded.Currency
	}
	if loaded.TollFraction > 0 && loaded.TollFraction <= 1 {
		table.TollFraction = loaded.TollFraction
	}
	for class, rate := range loaded.Rates {
		if rate >= 0 {
			table.Rates[class] = rate
		}
	}
	return table, nil
}

// Estimate prices tollDistanceKm for the class. A non-positive toll distance
// means unknown, in which case the configured fraction of totalKm is assumed.
func (t RateTable) Estimate(totalKm, tollDistanceKm float64, class VehicleClass) TollEstimate {
	estimated := false
	if tollDistanceKm <= 0 {
		tollDistanceKm = totalKm * t.TollFraction
		estimated = true
	}
	rate := t.Rates[class]
	return TollEstimate{
		Class:          class,
		TollDistanceKm: RoundKm(tollDistanceKm),
		RatePerKm:      rate,
		Cost:           roundCurrency(tollDistanceKm * rate),
		Currency:       t.Currency,
		Estimated:      estimated,
	}
}

func roundCurrency(value float64) float64 {
	//1.- Whole currency units keep the estimate stable across float noise.
	if value < 0 {
		return 0
	}
	return float64(int64(value + 0.5))
}
