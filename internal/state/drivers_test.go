package state

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fleettrack/relay/internal/geo"
	"fleettrack/relay/internal/logging"
)

func testStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.NewTestLogger()
	}
	return NewStore(opts)
}

func TestUpsertLocationLastWriteWins(t *testing.T) {
	store := testStore(t, Options{})
	loc1 := geo.Coordinate{Lat: -6.2, Lng: 106.8}
	loc2 := geo.Coordinate{Lat: -6.3, Lng: 106.9}

	if _, err := store.UpsertLocation("D1", loc1, 40, 90, 1000); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	record, err := store.UpsertLocation("D1", loc2, 45, 180, 2000)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if record.Location != loc2 || record.Timestamp != 2000 {
		t.Fatalf("record not replaced: %+v", record)
	}

	snapshot := store.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Location != loc2 {
		t.Fatalf("snapshot must reflect only the latest location, got %+v", snapshot)
	}
	if snapshot[0].Status != StatusActive {
		t.Fatalf("upsert must force status active, got %q", snapshot[0].Status)
	}
}

func TestUpsertLocationValidation(t *testing.T) {
	store := testStore(t, Options{})
	valid := geo.Coordinate{Lat: -6.2, Lng: 106.8}

	cases := []struct {
		name      string
		deviceID  string
		location  geo.Coordinate
		timestamp int64
	}{
		{"missing device", "", valid, 1000},
		{"invalid coordinate", "D1", geo.Coordinate{Lat: 95, Lng: 0}, 1000},
		{"missing timestamp", "D1", valid, 0},
	}
	for _, tc := range cases {
		if _, err := store.UpsertLocation(tc.deviceID, tc.location, 0, 0, tc.timestamp); !errors.Is(err, ErrInvalidLocation) {
			t.Fatalf("%s: expected ErrInvalidLocation, got %v", tc.name, err)
		}
	}
}

func TestHistoryRingEvictsOldestFirst(t *testing.T) {
	store := testStore(t, Options{HistoryCap: 5})
	for i := 1; i <= 8; i++ {
		loc := geo.Coordinate{Lat: float64(i) / 100, Lng: 106.8}
		if _, err := store.UpsertLocation("D1", loc, 0, 0, int64(i)); err != nil {
			t.Fatalf("upsert %d failed: %v", i, err)
		}
	}
	history := store.History("D1")
	if len(history) != 5 {
		t.Fatalf("expected 5 retained entries, got %d", len(history))
	}
	if history[0].Timestamp != 4 || history[4].Timestamp != 8 {
		t.Fatalf("expected entries 4..8 oldest first, got %d..%d", history[0].Timestamp, history[4].Timestamp)
	}
}

func TestHistoryUnknownDeviceIsEmpty(t *testing.T) {
	store := testStore(t, Options{})
	history := store.History("nope")
	if history == nil || len(history) != 0 {
		t.Fatalf("expected empty slice, got %v", history)
	}
}

func TestUpsertRouteReplacesWholesale(t *testing.T) {
	store := testStore(t, Options{})
	first := RouteRef{
		DeviceID: "D1",
		Start:    geo.Coordinate{Lat: -6.2, Lng: 106.8},
		End:      geo.Coordinate{Lat: -6.9, Lng: 107.6},
		Geometry: []geo.Coordinate{{Lat: -6.2, Lng: 106.8}, {Lat: -6.9, Lng: 107.6}},
		DistanceKm: 118,
	}
	if _, err := store.UpsertRoute(first); err != nil {
		t.Fatalf("first route failed: %v", err)
	}

	second := RouteRef{
		DeviceID: "D1",
		Start:    geo.Coordinate{Lat: -6.2, Lng: 106.8},
		End:      geo.Coordinate{Lat: -7.8, Lng: 110.4},
	}
	if _, err := store.UpsertRoute(second); err != nil {
		t.Fatalf("second route failed: %v", err)
	}

	record, ok := store.Get("D1")
	if !ok || record.Route == nil {
		t.Fatal("expected stored route")
	}
	if record.Route.End != second.End {
		t.Fatalf("route not replaced: %+v", record.Route)
	}
	if record.Route.Geometry != nil {
		t.Fatal("replacement must not merge the previous geometry")
	}
}

func TestRouteOnlyRecordHasNoLocation(t *testing.T) {
	store := testStore(t, Options{})
	route := RouteRef{
		DeviceID: "D1",
		Start:    geo.Coordinate{Lat: -6.2, Lng: 106.8},
		End:      geo.Coordinate{Lat: -6.9, Lng: 107.6},
	}
	if _, err := store.UpsertRoute(route); err != nil {
		t.Fatalf("route failed: %v", err)
	}

	record, ok := store.Get("D1")
	if !ok {
		t.Fatal("expected route-only record")
	}
	if record.HasLocation() {
		t.Fatal("a record created by a route must report no location")
	}

	if _, err := store.UpsertLocation("D1", geo.Coordinate{Lat: -6.3, Lng: 106.9}, 0, 0, 1000); err != nil {
		t.Fatalf("location failed: %v", err)
	}
	record, _ = store.Get("D1")
	if !record.HasLocation() {
		t.Fatal("the first location update must flip HasLocation")
	}
}

func TestUpsertRouteValidation(t *testing.T) {
	store := testStore(t, Options{})
	valid := geo.Coordinate{Lat: -6.2, Lng: 106.8}
	cases := []RouteRef{
		{DeviceID: "", Start: valid, End: valid},
		{DeviceID: "D1", Start: geo.Coordinate{Lat: 999}, End: valid},
		{DeviceID: "D1", Start: valid, End: geo.Coordinate{Lng: 999}},
	}
	for i, route := range cases {
		if _, err := store.UpsertRoute(route); !errors.Is(err, ErrInvalidRoute) {
			t.Fatalf("case %d: expected ErrInvalidRoute, got %v", i, err)
		}
	}
}

func TestRouteRoundTripThroughLocationUpdates(t *testing.T) {
	store := testStore(t, Options{})
	route := RouteRef{
		DeviceID: "D1",
		Start:    geo.Coordinate{Lat: -6.2, Lng: 106.8},
		End:      geo.Coordinate{Lat: -6.9, Lng: 107.6},
		Geometry: []geo.Coordinate{{Lat: -6.2, Lng: 106.8}, {Lat: -6.5, Lng: 107.1}, {Lat: -6.9, Lng: 107.6}},
	}
	if _, err := store.UpsertRoute(route); err != nil {
		t.Fatalf("route failed: %v", err)
	}
	if _, err := store.UpsertLocation("D1", geo.Coordinate{Lat: -6.3, Lng: 106.9}, 50, 120, 5000); err != nil {
		t.Fatalf("location failed: %v", err)
	}

	record, _ := store.Get("D1")
	if record.Route == nil || len(record.Route.Geometry) != 3 {
		t.Fatalf("location update must carry the route forward, got %+v", record.Route)
	}
}

func TestMarkOfflineAndEviction(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store := testStore(t, Options{TimeSource: func() time.Time { return current }})

	store.UpsertLocation("D1", geo.Coordinate{Lat: -6.2, Lng: 106.8}, 0, 0, 1000)
	record, ok := store.MarkOffline("D1")
	if !ok || record.Status != StatusOffline || !record.LastSeen.Equal(base) {
		t.Fatalf("unexpected offline record: %+v", record)
	}

	// Repeated calls keep the original lastSeen.
	current = base.Add(time.Minute)
	again, _ := store.MarkOffline("D1")
	if !again.LastSeen.Equal(base) {
		t.Fatalf("markOffline must be idempotent, lastSeen moved to %v", again.LastSeen)
	}

	// Still visible before the eviction window elapses.
	if evicted := store.EvictOfflineBefore(base.Add(-time.Second)); len(evicted) != 0 {
		t.Fatalf("driver evicted too early: %v", evicted)
	}
	if len(store.Snapshot()) != 1 {
		t.Fatal("driver should remain visible until evicted")
	}

	evicted := store.EvictOfflineBefore(base.Add(time.Second))
	if len(evicted) != 1 || evicted[0].DeviceID != "D1" {
		t.Fatalf("expected D1 eviction, got %v", evicted)
	}
	if len(store.Snapshot()) != 0 || len(store.History("D1")) != 0 {
		t.Fatal("eviction must drop the record and its history")
	}
}

func TestMarkOfflineUnknownDevice(t *testing.T) {
	store := testStore(t, Options{})
	if _, ok := store.MarkOffline("ghost"); ok {
		t.Fatal("unknown device must report not found")
	}
}

type failingJournal struct{ calls int }

func (f *failingJournal) Append(deviceID, kind string, payload any) error {
	f.calls++
	return errors.New("disk full")
}

func TestJournalFailureNeverBlocksMutation(t *testing.T) {
	journal := &failingJournal{}
	store := testStore(t, Options{Journal: journal})

	if _, err := store.UpsertLocation("D1", geo.Coordinate{Lat: -6.2, Lng: 106.8}, 0, 0, 1000); err != nil {
		t.Fatalf("journal failure must not fail the upsert: %v", err)
	}
	if journal.calls != 1 {
		t.Fatalf("expected one journal attempt, got %d", journal.calls)
	}
	if _, ok := store.Get("D1"); !ok {
		t.Fatal("in-memory mutation must survive journal failure")
	}
}

func TestSnapshotReturnsClones(t *testing.T) {
	store := testStore(t, Options{})
	store.UpsertRoute(RouteRef{
		DeviceID: "D1",
		Start:    geo.Coordinate{Lat: -6.2, Lng: 106.8},
		End:      geo.Coordinate{Lat: -6.9, Lng: 107.6},
		Geometry: []geo.Coordinate{{Lat: -6.2, Lng: 106.8}},
	})
	snapshot := store.Snapshot()
	snapshot[0].Route.Geometry[0] = geo.Coordinate{Lat: 0, Lng: 0}

	record, _ := store.Get("D1")
	if record.Route.Geometry[0].Lat != -6.2 {
		t.Fatal("store must not reflect external mutation")
	}
}

func TestConcurrentUpserts(t *testing.T) {
	store := testStore(t, Options{})
	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			store.UpsertLocation(fmt.Sprintf("D%d", idx), geo.Coordinate{Lat: -6.2, Lng: 106.8}, 0, 0, 1000)
		}(i)
	}
	wg.Wait()
	if got := store.ActiveCount(); got != 32 {
		t.Fatalf("expected 32 active drivers, got %d", got)
	}
}
