package state

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"fleettrack/relay/internal/geo"
	"fleettrack/relay/internal/logging"
	"fleettrack/relay/internal/routing"
)

// DriverStatus tracks whether a driver is currently streaming updates.
type DriverStatus string

const (
	// StatusActive marks drivers with a live update stream.
	StatusActive DriverStatus = "active"
	// StatusOffline marks drivers whose transport has gone away.
	StatusOffline DriverStatus = "offline"
)

var (
	// ErrInvalidLocation indicates a location update missing its device, position, or timestamp.
	ErrInvalidLocation = errors.New("invalid location update")
	// ErrInvalidRoute indicates a route update missing its device or endpoints.
	ErrInvalidRoute = errors.New("invalid route update")
)

// DefaultHistoryCap bounds the retained location history per driver.
const DefaultHistoryCap = 100

// RouteRef describes a driver's current route. Replaced wholesale on every
// update, never merged field by field.
type RouteRef struct {
	DeviceID      string                `json:"deviceID"`
	Start         geo.Coordinate        `json:"startPoint"`
	End           geo.Coordinate        `json:"endPoint"`
	Geometry      []geo.Coordinate      `json:"routeGeometry,omitempty"`
	TransportMode string                `json:"transportMode,omitempty"`
	DistanceKm    float64               `json:"distance,omitempty"`
	DurationMin   float64               `json:"duration,omitempty"`
	Toll          *routing.TollEstimate `json:"tollInfo,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

func (r RouteRef) clone() RouteRef {
	clone := r
	if r.Geometry != nil {
		clone.Geometry = append([]geo.Coordinate(nil), r.Geometry...)
	}
	if r.Toll != nil {
		toll := *r.Toll
		clone.Toll = &toll
	}
	return clone
}

// DriverRecord is the latest known state for one device.
type DriverRecord struct {
	DeviceID   string         `json:"deviceID"`
	Location   geo.Coordinate `json:"location"`
	Speed      float64        `json:"speed"`
	Heading    float64        `json:"heading"`
	Timestamp  int64          `json:"timestamp"`
	Status     DriverStatus   `json:"status"`
	LastSeen   time.Time      `json:"lastSeen"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Route      *RouteRef      `json:"route,omitempty"`
}

// HasLocation reports whether at least one position update arrived for this
// record. Route-only records exist when a route precedes the first location;
// their zero-value coordinates must not be rendered as a real position.
func (d DriverRecord) HasLocation() bool { return d.Timestamp != 0 }

func (d DriverRecord) clone() DriverRecord {
	clone := d
	if d.Route != nil {
		route := d.Route.clone()
		clone.Route = &route
	}
	return clone
}

// historyRing is a fixed-capacity FIFO of past driver records with O(1) insert.
type historyRing struct {
	entries []DriverRecord
	start   int
	count   int
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{entries: make([]DriverRecord, capacity)}
}

func (h *historyRing) push(record DriverRecord) {
	if len(h.entries) == 0 {
		return
	}
	idx := (h.start + h.count) % len(h.entries)
	h.entries[idx] = record
	if h.count < len(h.entries) {
		h.count++
		return
	}
	//1.- Ring is full, so advance the start cursor to evict the oldest entry.
	h.start = (h.start + 1) % len(h.entries)
}

func (h *historyRing) snapshot() []DriverRecord {
	out := make([]DriverRecord, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.entries[(h.start+i)%len(h.entries)].clone())
	}
	return out
}

// Journal mirrors successful store mutations to an append-only side channel.
// Failures are reported to the caller's logger only, never to clients.
type Journal interface {
	Append(deviceID, kind string, payload any) error
}

// Options configures the driver store.
type Options struct {
	HistoryCap int
	Journal    Journal
	Logger     *logging.Logger
	TimeSource func() time.Time
}

// Store is the single source of truth for live driver state.
type Store struct {
	mu         sync.RWMutex
	drivers    map[string]DriverRecord
	history    map[string]*historyRing
	historyCap int
	journal    Journal
	log        *logging.Logger
	now        func() time.Time
}

// NewStore constructs a driver state store using the provided options.
func NewStore(opts Options) *Store {
	capacity := opts.HistoryCap
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &Store{
		drivers:    make(map[string]DriverRecord),
		history:    make(map[string]*historyRing),
		historyCap: capacity,
		journal:    opts.Journal,
		log:        logger,
		now:        now,
	}
}

// UpsertLocation replaces the live record for deviceID and appends it to the
// history ring. The location fields are replaced as a unit, never partially.
func (s *Store) UpsertLocation(deviceID string, location geo.Coordinate, speed, heading float64, timestamp int64) (DriverRecord, error) {
	if s == nil {
		return DriverRecord{}, errors.New("store is nil")
	}
	trimmed := strings.TrimSpace(deviceID)
	if trimmed == "" || !location.Valid() || timestamp == 0 {
		return DriverRecord{}, ErrInvalidLocation
	}

	now := s.now()
	s.mu.Lock()
	record := DriverRecord{
		DeviceID:   trimmed,
		Location:   location,
		Speed:      speed,
		Heading:    heading,
		Timestamp:  timestamp,
		Status:     StatusActive,
		LastSeen:   now,
		ReceivedAt: now,
	}
	//1.- Carry the current route forward; location updates never touch route state.
	if existing, ok := s.drivers[trimmed]; ok {
		record.Route = existing.Route
	}
	s.drivers[trimmed] = record
	ring, ok := s.history[trimmed]
	if !ok {
		ring = newHistoryRing(s.historyCap)
		s.history[trimmed] = ring
	}
	ring.push(record.clone())
	result := record.clone()
	s.mu.Unlock()

	s.mirror(trimmed, "location", result)
	return result, nil
}

// UpsertRoute replaces the route for deviceID wholesale, creating the driver
// record when the route arrives before any location update.
func (s *Store) UpsertRoute(route RouteRef) (RouteRef, error) {
	if s == nil {
		return RouteRef{}, errors.New("store is nil")
	}
	trimmed := strings.TrimSpace(route.DeviceID)
	if trimmed == "" || !route.Start.Valid() || !route.End.Valid() {
		return RouteRef{}, ErrInvalidRoute
	}
	route.DeviceID = trimmed
	if route.Timestamp.IsZero() {
		route.Timestamp = s.now()
	}

	s.mu.Lock()
	record, ok := s.drivers[trimmed]
	if !ok {
		record = DriverRecord{DeviceID: trimmed, Status: StatusActive, LastSeen: s.now()}
	}
	stored := route.clone()
	record.Route = &stored
	s.drivers[trimmed] = record
	result := stored.clone()
	s.mu.Unlock()

	s.mirror(trimmed, "route", result)
	return result, nil
}

// MarkOffline demotes the driver without deleting any state. Idempotent.
func (s *Store) MarkOffline(deviceID string) (DriverRecord, bool) {
	if s == nil {
		return DriverRecord{}, false
	}
	trimmed := strings.TrimSpace(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.drivers[trimmed]
	if !ok {
		return DriverRecord{}, false
	}
	if record.Status != StatusOffline {
		record.Status = StatusOffline
		record.LastSeen = s.now()
		s.drivers[trimmed] = record
	}
	return record.clone(), true
}

// Get returns the live record for deviceID when present.
func (s *Store) Get(deviceID string) (DriverRecord, bool) {
	if s == nil {
		return DriverRecord{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.drivers[strings.TrimSpace(deviceID)]
	if !ok {
		return DriverRecord{}, false
	}
	return record.clone(), true
}

// Snapshot returns every retained driver record ordered by device id. Offline
// drivers remain visible until the sweeper evicts them.
func (s *Store) Snapshot() []DriverRecord {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.drivers))
	for id := range s.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	records := make([]DriverRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.drivers[id].clone())
	}
	return records
}

// History returns past records for deviceID, oldest first. Unknown devices
// yield an empty slice rather than an error.
func (s *Store) History(deviceID string) []DriverRecord {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.history[strings.TrimSpace(deviceID)]
	if !ok {
		return []DriverRecord{}
	}
	return ring.snapshot()
}

// ActiveCount reports how many drivers are currently streaming.
func (s *Store) ActiveCount() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, record := range s.drivers {
		if record.Status == StatusActive {
			count++
		}
	}
	return count
}

// EvictOfflineBefore removes drivers that have been offline since before the
// threshold and returns the evicted records so callers can notify monitors.
func (s *Store) EvictOfflineBefore(threshold time.Time) []DriverRecord {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []DriverRecord
	for id, record := range s.drivers {
		if record.Status != StatusOffline || record.LastSeen.After(threshold) {
			continue
		}
		evicted = append(evicted, record.clone())
		delete(s.drivers, id)
		delete(s.history, id)
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].DeviceID < evicted[j].DeviceID })
	return evicted
}

// mirror appends the mutation to the journal, downgrading failures to warnings.
func (s *Store) mirror(deviceID, kind string, payload any) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(deviceID, kind, payload); err != nil {
		s.log.Warn("journal append failed",
			logging.Error(err),
			logging.String("device_id", deviceID),
			logging.String("kind", kind))
	}
}
