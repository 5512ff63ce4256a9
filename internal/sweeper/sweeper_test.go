package sweeper

import (
	"errors"
	"testing"
	"time"

	"fleettrack/relay/internal/chat"
	"fleettrack/relay/internal/geo"
	"fleettrack/relay/internal/logging"
	"fleettrack/relay/internal/state"
)

type fakeNotifier struct {
	removed []string
	reasons []string
}

func (f *fakeNotifier) NotifyDriverRemoved(record state.DriverRecord, reason string) {
	f.removed = append(f.removed, record.DeviceID)
	f.reasons = append(f.reasons, reason)
}

type fakeJournal struct {
	archived   int
	removed    int
	archiveErr error
}

func (f *fakeJournal) ArchiveClosed() (int, error) { return f.archived, f.archiveErr }

func (f *fakeJournal) SweepOlderThan(time.Duration) (int, error) { return f.removed, nil }

func TestSweepEvictsDriversPastGraceWindow(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	drivers := state.NewStore(state.Options{Logger: logging.NewTestLogger(), TimeSource: clock})
	if _, err := drivers.UpsertLocation("D1", geo.Coordinate{Lat: -6.2, Lng: 106.8}, 0, 0, 1000); err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	if _, ok := drivers.MarkOffline("D1"); !ok {
		t.Fatal("driver must be known")
	}

	notifier := &fakeNotifier{}
	sweeper := New(Options{
		Drivers:    drivers,
		Notifier:   notifier,
		Logger:     logging.NewTestLogger(),
		TimeSource: clock,
	})

	//1.- Nine minutes offline keeps the driver visible in the snapshot.
	current = base.Add(9 * time.Minute)
	sweeper.RunOnce()
	if len(notifier.removed) != 0 {
		t.Fatalf("driver evicted too early: %v", notifier.removed)
	}
	if _, ok := drivers.Get("D1"); !ok {
		t.Fatal("offline driver must survive until the grace window passes")
	}

	//2.- Eleven minutes offline crosses the threshold.
	current = base.Add(11 * time.Minute)
	sweeper.RunOnce()
	if len(notifier.removed) != 1 || notifier.removed[0] != "D1" {
		t.Fatalf("expected D1 evicted, got %v", notifier.removed)
	}
	if notifier.reasons[0] != "inactivity" {
		t.Fatalf("unexpected reason %q", notifier.reasons[0])
	}
	if _, ok := drivers.Get("D1"); ok {
		t.Fatal("evicted driver must be gone")
	}
	if got := sweeper.Stats().EvictedDrivers; got != 1 {
		t.Fatalf("stats report %d evictions, want 1", got)
	}
}

func TestSweepKeepsActiveDrivers(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	drivers := state.NewStore(state.Options{Logger: logging.NewTestLogger(), TimeSource: clock})
	if _, err := drivers.UpsertLocation("D1", geo.Coordinate{Lat: -6.2, Lng: 106.8}, 0, 0, 1000); err != nil {
		t.Fatalf("seed driver: %v", err)
	}

	sweeper := New(Options{Drivers: drivers, Logger: logging.NewTestLogger(), TimeSource: clock})
	current = base.Add(time.Hour)
	sweeper.RunOnce()

	if _, ok := drivers.Get("D1"); !ok {
		t.Fatal("active drivers must never be evicted regardless of age")
	}
}

func TestSweepExpiresOldConversations(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	chats := chat.NewStore(chat.Options{Logger: logging.NewTestLogger(), TimeSource: clock})
	chats.Append(chat.Message{Text: "old", From: "D1", To: "monitor"})

	drivers := state.NewStore(state.Options{Logger: logging.NewTestLogger(), TimeSource: clock})
	sweeper := New(Options{
		Drivers:    drivers,
		Chats:      chats,
		ChatMaxAge: 30 * 24 * time.Hour,
		Logger:     logging.NewTestLogger(),
		TimeSource: clock,
	})

	current = base.Add(31 * 24 * time.Hour)
	sweeper.RunOnce()

	if got := chats.ConversationCount(); got != 0 {
		t.Fatalf("expired conversation must be dropped, %d remain", got)
	}
	if got := sweeper.Stats().ExpiredMessages; got != 1 {
		t.Fatalf("stats report %d expired messages, want 1", got)
	}
}

func TestSweepMaintainsJournal(t *testing.T) {
	drivers := state.NewStore(state.Options{Logger: logging.NewTestLogger()})
	journal := &fakeJournal{archived: 2, removed: 3}
	sweeper := New(Options{
		Drivers:       drivers,
		Journal:       journal,
		JournalMaxAge: 30 * 24 * time.Hour,
		Logger:        logging.NewTestLogger(),
	})

	sweeper.RunOnce()

	stats := sweeper.Stats()
	if stats.ArchivedFiles != 2 || stats.RemovedArchives != 3 {
		t.Fatalf("unexpected journal stats: %+v", stats)
	}
}

func TestSweepToleratesJournalFailure(t *testing.T) {
	drivers := state.NewStore(state.Options{Logger: logging.NewTestLogger()})
	journal := &fakeJournal{archiveErr: errors.New("disk full")}
	sweeper := New(Options{Drivers: drivers, Journal: journal, Logger: logging.NewTestLogger()})

	//1.- The sweep must complete and publish stats despite the failing journal.
	sweeper.RunOnce()
	if sweeper.Stats().LastSweep.IsZero() {
		t.Fatal("sweep must record completion even when the journal errors")
	}
}
