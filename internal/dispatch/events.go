package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"fleettrack/relay/internal/geo"
	"fleettrack/relay/internal/routing"
	"fleettrack/relay/internal/state"
)

// Inbound event names.
const (
	EventIdentify         = "identify"
	EventDriverLocation   = "driverLocation"
	EventDriverRoute      = "driverRoute"
	EventRequestRoute     = "requestDriverRoute"
	EventRequestRouteToll = "requestRouteWithToll"
	EventSendMessage      = "sendMessage"
	EventGetChatHistory   = "getChatHistory"
	EventMarkAsRead       = "markAsRead"
)

// Outbound event names.
const (
	EventConnectionAck     = "connectionAck"
	EventDriverData        = "driverData"
	EventDriverRouteUpdate = "driverRouteUpdate"
	EventLocationAck       = "locationAck"
	EventRouteAck          = "routeAck"
	EventRouteTollResponse = "routeWithTollResponse"
	EventRouteError        = "routeError"
	EventReceiveMessage    = "receiveMessage"
	EventMessageRead       = "messageRead"
	EventMessageError      = "messageError"
	EventChatHistory       = "chatHistory"
	EventDriverOffline     = "driverOffline"
	EventDriverRemoved     = "driverRemoved"
	EventDriverStatus      = "driverStatusUpdate"
	EventSuperseded        = "supersededSession"
)

var errEmptyPayload = errors.New("empty event payload")

// pointField mirrors the GeoJSON point carried by driverLocation events.
type pointField struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type identifyPayload struct {
	Type      string `json:"type"`
	DriverID  string `json:"driverId,omitempty"`
	MonitorID string `json:"monitorId,omitempty"`
}

type locationPayload struct {
	DeviceID  string     `json:"deviceID"`
	Location  pointField `json:"location"`
	Speed     float64    `json:"speed,omitempty"`
	Heading   float64    `json:"heading,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

type routePayload struct {
	DeviceID      string      `json:"deviceID"`
	StartPoint    []float64   `json:"startPoint"`
	EndPoint      []float64   `json:"endPoint"`
	RouteGeometry [][]float64 `json:"routeGeometry,omitempty"`
	TransportMode string      `json:"transportMode,omitempty"`
	Distance      float64     `json:"distance,omitempty"`
	Duration      float64     `json:"duration,omitempty"`
}

type routeTollPayload struct {
	DeviceID        string                `json:"deviceID,omitempty"`
	StartPoint      []float64             `json:"startPoint"`
	EndPoint        []float64             `json:"endPoint"`
	TransportMode   string                `json:"transportMode,omitempty"`
	PreferTollRoads bool                  `json:"preferTollRoads,omitempty"`
	TruckSpecs      *routing.VehicleSpecs `json:"truckSpecs,omitempty"`
}

type sendMessagePayload struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type chatHistoryPayload struct {
	DriverID string `json:"driverId"`
}

type markReadPayload struct {
	MessageIDs []string `json:"messageIds"`
	Reader     string   `json:"reader"`
}

// decodePayload parses a raw frame into the typed payload for its event.
func decodePayload(raw []byte, into any) error {
	if len(raw) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(raw, into)
}

// driverDataEvent is the canonical outbound shape for driver state, fanned out
// to monitors and replayed as a snapshot to newly identified ones.
type driverDataEvent struct {
	DeviceID   string     `json:"deviceID"`
	Location   pointField `json:"location"`
	Speed      float64    `json:"speed"`
	Heading    float64    `json:"heading"`
	Timestamp  int64      `json:"timestamp"`
	Status     string     `json:"status"`
	ReceivedAt time.Time  `json:"receivedAt"`
}

func driverDataFrom(record state.DriverRecord) driverDataEvent {
	return driverDataEvent{
		DeviceID:   record.DeviceID,
		Location:   pointField{Type: "Point", Coordinates: record.Location.LngLat()},
		Speed:      record.Speed,
		Heading:    record.Heading,
		Timestamp:  record.Timestamp,
		Status:     string(record.Status),
		ReceivedAt: record.ReceivedAt,
	}
}

// routeUpdateEvent is the outbound shape for stored routes. Points use
// [lat, lng] ordering, matching the inbound driverRoute payload.
type routeUpdateEvent struct {
	DeviceID      string                `json:"deviceID"`
	StartPoint    []float64             `json:"startPoint"`
	EndPoint      []float64             `json:"endPoint"`
	RouteGeometry [][]float64           `json:"routeGeometry,omitempty"`
	TransportMode string                `json:"transportMode,omitempty"`
	Distance      float64               `json:"distance"`
	Duration      float64               `json:"duration"`
	TollInfo      *routing.TollEstimate `json:"tollInfo,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

func routeUpdateFrom(route state.RouteRef) routeUpdateEvent {
	event := routeUpdateEvent{
		DeviceID:      route.DeviceID,
		StartPoint:    []float64{route.Start.Lat, route.Start.Lng},
		EndPoint:      []float64{route.End.Lat, route.End.Lng},
		TransportMode: route.TransportMode,
		Distance:      route.DistanceKm,
		Duration:      route.DurationMin,
		TollInfo:      route.Toll,
		Timestamp:     route.Timestamp,
	}
	for _, point := range route.Geometry {
		event.RouteGeometry = append(event.RouteGeometry, []float64{point.Lat, point.Lng})
	}
	return event
}

func geometryFromPairs(pairs [][]float64) ([]geo.Coordinate, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	geometry := make([]geo.Coordinate, 0, len(pairs))
	for _, pair := range pairs {
		point, err := geo.FromLatLng(pair)
		if err != nil {
			return nil, err
		}
		geometry = append(geometry, point)
	}
	return geometry, nil
}
