package sweeper

import (
	"context"
	"sync"
	"time"

	"fleettrack/relay/internal/chat"
	"fleettrack/relay/internal/logging"
	"fleettrack/relay/internal/state"
)

const (
	// DefaultInterval is how often a sweep runs when no interval is configured.
	DefaultInterval = 5 * time.Minute
	// DefaultOfflineAfter is how long a driver may stay offline before eviction.
	DefaultOfflineAfter = 10 * time.Minute
)

// Notifier receives the records evicted by a sweep so connected monitors learn
// about them.
type Notifier interface {
	NotifyDriverRemoved(record state.DriverRecord, reason string)
}

// Journal is the slice of the journal writer the sweeper maintains.
type Journal interface {
	ArchiveClosed() (int, error)
	SweepOlderThan(maxAge time.Duration) (int, error)
}

// Stats summarises the outcome of the most recent sweep.
type Stats struct {
	EvictedDrivers  int       `json:"evictedDrivers"`
	ExpiredMessages int       `json:"expiredMessages"`
	ArchivedFiles   int       `json:"archivedFiles"`
	RemovedArchives int       `json:"removedArchives"`
	LastSweep       time.Time `json:"lastSweep"`
}

// Options configures the lifecycle sweeper.
type Options struct {
	Drivers       *state.Store
	Chats         *chat.Store
	Journal       Journal
	Notifier      Notifier
	OfflineAfter  time.Duration
	ChatMaxAge    time.Duration
	JournalMaxAge time.Duration
	Logger        *logging.Logger
	TimeSource    func() time.Time
}

// Sweeper periodically evicts stale drivers, expires idle conversations, and
// maintains the journal archive.
type Sweeper struct {
	mu            sync.RWMutex
	drivers       *state.Store
	chats         *chat.Store
	journal       Journal
	notifier      Notifier
	offlineAfter  time.Duration
	chatMaxAge    time.Duration
	journalMaxAge time.Duration
	log           *logging.Logger
	now           func() time.Time
	stats         Stats
}

// New constructs a sweeper over the shared stores.
func New(opts Options) *Sweeper {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	offlineAfter := opts.OfflineAfter
	if offlineAfter <= 0 {
		offlineAfter = DefaultOfflineAfter
	}
	return &Sweeper{
		drivers:       opts.Drivers,
		chats:         opts.Chats,
		journal:       opts.Journal,
		notifier:      opts.Notifier,
		offlineAfter:  offlineAfter,
		chatMaxAge:    opts.ChatMaxAge,
		journalMaxAge: opts.JournalMaxAge,
		log:           logger,
		now:           now,
	}
}

// Run executes sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if s == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//1.- Trigger periodic sweeps while the context remains active.
			s.sweep()
		}
	}
}

// RunOnce performs a single sweep, primarily used for tests.
func (s *Sweeper) RunOnce() {
	if s == nil {
		return
	}
	//1.- Delegate to sweep so tests exercise identical logic as the background loop.
	s.sweep()
}

// Stats returns the outcome of the most recent sweep.
func (s *Sweeper) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Sweeper) sweep() {
	now := s.now()
	stats := Stats{LastSweep: now}

	//1.- Drop drivers that stayed offline past the grace window and tell monitors.
	evicted := s.drivers.EvictOfflineBefore(now.Add(-s.offlineAfter))
	stats.EvictedDrivers = len(evicted)
	for _, record := range evicted {
		if s.notifier != nil {
			s.notifier.NotifyDriverRemoved(record, "inactivity")
		}
		s.log.Info("evicted stale driver",
			logging.String("device_id", record.DeviceID),
			logging.String("last_seen", record.LastSeen.UTC().Format(time.RFC3339)))
	}

	//2.- Expire conversations whose newest message fell out of the retention window.
	if s.chats != nil && s.chatMaxAge > 0 {
		stats.ExpiredMessages = s.chats.SweepExpiredBefore(now.Add(-s.chatMaxAge))
	}

	//3.- Compress closed journal days and drop archives past their retention.
	if s.journal != nil {
		archived, err := s.journal.ArchiveClosed()
		if err != nil {
			s.log.Warn("journal archiving failed", logging.Error(err))
		}
		stats.ArchivedFiles = archived
		if s.journalMaxAge > 0 {
			removed, err := s.journal.SweepOlderThan(s.journalMaxAge)
			if err != nil {
				s.log.Warn("journal retention failed", logging.Error(err))
			}
			stats.RemovedArchives = removed
		}
	}

	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}
