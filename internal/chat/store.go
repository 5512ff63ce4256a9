package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleettrack/relay/internal/logging"
)

// MonitorParty is the literal identity dashboards use in message addressing.
const MonitorParty = "monitor"

// rateWindowLength is the fixed sliding-reset window for per-sender flood control.
const rateWindowLength = time.Minute

// RejectReason enumerates why a message was refused.
type RejectReason string

const (
	ReasonMissingField RejectReason = "MissingField"
	ReasonTooLong      RejectReason = "TooLong"
	ReasonRateLimited  RejectReason = "RateLimited"
)

// RejectionError reports a message rejected at validation time.
type RejectionError struct {
	Reason RejectReason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("message rejected: %s", e.Reason)
}

// Message is one chat entry. Immutable after append except the read flag,
// which only ever transitions false to true.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// rateWindow is a sliding-reset counter bounding messages per sender.
type rateWindow struct {
	count         int
	windowStart   time.Time
	lastMessageAt time.Time
}

// Journal mirrors appended messages to an append-only side channel.
type Journal interface {
	Append(deviceID, kind string, payload any) error
}

// Options configures the chat store.
type Options struct {
	MaxMessages int
	MaxLength   int
	RateLimit   int
	Journal     Journal
	Logger      *logging.Logger
	TimeSource  func() time.Time
}

// Store holds per-driver conversation logs with bounded retention.
type Store struct {
	mu          sync.Mutex
	logs        map[string][]Message
	rates       map[string]*rateWindow
	maxMessages int
	maxLength   int
	rateLimit   int
	journal     Journal
	log         *logging.Logger
	now         func() time.Time
}

// NewStore constructs a chat store using the provided options.
func NewStore(opts Options) *Store {
	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 200
	}
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = 1000
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
		logs:        make(map[string][]Message),
		rates:       make(map[string]*rateWindow),
		maxMessages: maxMessages,
		maxLength:   maxLength,
		rateLimit:   opts.RateLimit,
		journal:     opts.Journal,
		log:         logger,
		now:         now,
	}
}

// Validate checks required fields, length, and the sender's rate budget. A nil
// return admits the message and consumes one slot of the sender's window, so
// callers must follow an accepted Validate with Append.
func (s *Store) Validate(msg Message, senderID string) error {
	if s == nil {
		return &RejectionError{Reason: ReasonMissingField}
	}
	if strings.TrimSpace(msg.Text) == "" || strings.TrimSpace(msg.From) == "" || strings.TrimSpace(msg.To) == "" {
		return &RejectionError{Reason: ReasonMissingField}
	}
	if len([]rune(msg.Text)) > s.maxLength {
		return &RejectionError{Reason: ReasonTooLong}
	}
	if s.rateLimit <= 0 {
		return nil
	}

	sender := strings.TrimSpace(senderID)
	if sender == "" {
		sender = strings.TrimSpace(msg.From)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	window, ok := s.rates[sender]
	if !ok || now.Sub(window.windowStart) > rateWindowLength {
		//1.- Stale or missing windows reset so senders recover after a quiet minute.
		window = &rateWindow{windowStart: now}
		s.rates[sender] = window
	}
	if window.count >= s.rateLimit {
		return &RejectionError{Reason: ReasonRateLimited}
	}
	window.count++
	window.lastMessageAt = now
	return nil
}

// Append stores the message in its conversation log, assigning an id and
// timestamp when absent. The conversation key is the non-monitor party.
func (s *Store) Append(msg Message) Message {
	if s == nil {
		return msg
	}
	msg.From = strings.TrimSpace(msg.From)
	msg.To = strings.TrimSpace(msg.To)
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg.Read = false

	key := ConversationKey(msg)
	s.mu.Lock()
	entries := append(s.logs[key], msg)
	//1.- FIFO eviction keeps the newest maxMessages entries.
	if overflow := len(entries) - s.maxMessages; overflow > 0 {
		entries = append([]Message(nil), entries[overflow:]...)
	}
	s.logs[key] = entries
	s.mu.Unlock()

	s.mirror(key, msg)
	return msg
}

// ConversationKey derives the driver id owning the conversation for msg.
func ConversationKey(msg Message) string {
	if msg.To == MonitorParty {
		return msg.From
	}
	return msg.To
}

// MarkRead flips the read flag for every matching id across all conversations
// and returns the affected conversation keys. Flips are monotonic: a read
// message never reverts. The reader identity is recorded for diagnostics only.
func (s *Store) MarkRead(messageIDs []string, reader string) []string {
	if s == nil || len(messageIDs) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			wanted[trimmed] = struct{}{}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	s.mu.Lock()
	affected := make(map[string]struct{})
	for key, entries := range s.logs {
		for i := range entries {
			if _, ok := wanted[entries[i].ID]; !ok {
				continue
			}
			//1.- Record the conversation even when the flag was already set so
			// repeated acknowledgements stay idempotent for notifiers.
			affected[key] = struct{}{}
			entries[i].Read = true
		}
	}
	s.mu.Unlock()

	if len(affected) == 0 {
		return nil
	}
	keys := make([]string, 0, len(affected))
	for key := range affected {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	s.log.Debug("messages marked read",
		logging.String("reader", strings.TrimSpace(reader)),
		logging.Int("conversations", len(keys)))
	return keys
}

// History returns the conversation log for driverID, empty when none exists.
func (s *Store) History(driverID string) []Message {
	if s == nil {
		return []Message{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[strings.TrimSpace(driverID)]
	return append([]Message{}, entries...)
}

// UnreadQueuedFor returns unread messages addressed to the driver, used to
// flush queued traffic when the driver (re)identifies.
func (s *Store) UnreadQueuedFor(driverID string) []Message {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(driverID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var queued []Message
	for _, msg := range s.logs[trimmed] {
		if msg.To == trimmed && !msg.Read {
			queued = append(queued, msg)
		}
	}
	return queued
}

// SweepExpiredBefore drops messages older than the threshold and removes
// conversations that become empty. Returns how many messages were purged.
func (s *Store) SweepExpiredBefore(threshold time.Time) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key, entries := range s.logs {
		kept := entries[:0]
		for _, msg := range entries {
			if msg.Timestamp.Before(threshold) {
				purged++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(s.logs, key)
			continue
		}
		s.logs[key] = kept
	}
	return purged
}

// ConversationCount reports how many driver conversations are retained.
func (s *Store) ConversationCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func (s *Store) mirror(key string, msg Message) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(key, "chat", msg); err != nil {
		s.log.Warn("chat journal append failed",
			logging.Error(err),
			logging.String("conversation", key))
	}
}
