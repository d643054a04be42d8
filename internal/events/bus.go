// Package events is the activity event stream. Every state change made
// through the memory service is published to a per-user stream with a
// monotonic sequence number. Subscribers read from fixed-capacity ring
// buffers that drop their oldest event when full, so a slow subscriber never
// blocks the publisher.
//
// Sequence numbers are assigned per user at publish time, so events dropped
// from a subscriber queue still consume a number, and a subscriber filtered
// by pattern legitimately skips numbers. Gap detection therefore uses
// PrevSeq: every delivered event carries the Seq of the event delivered to
// the same subscriber before it. When PrevSeq differs from the last Seq the
// reader saw, events were lost and the reader resyncs with Bus.Since.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/engram/internal/metrics"
)

// Event types published by the engine and the migration CLI.
const (
	TypeMemoryCreated     = "memory.created"
	TypeMemoryUpdated     = "memory.updated"
	TypeMemoryObsoleted   = "memory.obsoleted"
	TypeLinkCreated       = "link.created"
	TypeLinkDeleted       = "link.deleted"
	TypeMigrationProgress = "migration.progress"
	TypeMigrationFinished = "migration.finished"
)

// DefaultUser owns events of requests that carry no user identity.
const DefaultUser = "default"

// ErrClosed is returned by Subscriber.Next after Unsubscribe.
var ErrClosed = errors.New("events: subscriber closed")

// Event is one entry of a user's activity stream.
type Event struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`
	// PrevSeq is the Seq of the previous event on the same delivery path:
	// the previous matching event for a subscriber, Seq-1 in history.
	PrevSeq uint64                 `json:"prev_seq"`
	Type    string                 `json:"type"`
	UserID  string                 `json:"user_id"`
	Time    time.Time              `json:"time"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Config sizes the bus.
type Config struct {
	// QueueSize is the ring buffer capacity of each subscriber.
	QueueSize int
	// History is the number of events retained per user for Since.
	History int
}

// DefaultConfig returns the default sizes.
func DefaultConfig() Config {
	return Config{QueueSize: 256, History: 1024}
}

// Bus fans published events out to subscribers.
type Bus struct {
	mu      sync.Mutex
	cfg     Config
	streams map[string]*stream
	logger  *zap.Logger
	metrics *metrics.Collector
}

type stream struct {
	seq     uint64
	history *ring
	subs    map[string]*Subscriber
}

// NewBus creates an event bus. logger and m may be nil.
func NewBus(cfg Config, logger *zap.Logger, m *metrics.Collector) *Bus {
	def := DefaultConfig()
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.History < 1 {
		cfg.History = def.History
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		cfg:     cfg,
		streams: make(map[string]*stream),
		logger:  logger,
		metrics: m,
	}
}

func (b *Bus) streamFor(userID string) *stream {
	st, ok := b.streams[userID]
	if !ok {
		st = &stream{history: newRing(b.cfg.History), subs: make(map[string]*Subscriber)}
		b.streams[userID] = st
	}
	return st
}

// Publish assigns the next sequence number of userID's stream to a new
// event, records it in the history and enqueues it for every matching
// subscriber. It never blocks on subscribers. A nil bus discards the event.
func (b *Bus) Publish(userID, eventType string, data map[string]interface{}) Event {
	if b == nil {
		return Event{}
	}
	if userID == "" {
		userID = DefaultUser
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.streamFor(userID)
	st.seq++
	e := Event{
		ID:      uuid.NewString(),
		Seq:     st.seq,
		PrevSeq: st.seq - 1,
		Type:    eventType,
		UserID:  userID,
		Time:    time.Now().UTC(),
		Data:    data,
	}
	st.history.push(e)

	for _, sub := range st.subs {
		if !sub.matches(e.Type) {
			continue
		}
		if sub.enqueue(e) {
			b.metrics.EventDropped()
			b.logger.Debug("events: subscriber queue full, dropped oldest event",
				zap.String("subscriber", sub.id), zap.String("user_id", userID))
		}
	}
	return e
}

// Subscribe registers a subscriber for userID's events whose type matches
// any of patterns. No patterns means every event.
func (b *Bus) Subscribe(userID string, patterns ...string) *Subscriber {
	if userID == "" {
		userID = DefaultUser
	}
	sub := &Subscriber{
		id:       uuid.NewString(),
		userID:   userID,
		patterns: patterns,
		queue:    newRing(b.cfg.QueueSize),
		ready:    make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.streamFor(userID).subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and wakes any pending Next call.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if st, ok := b.streams[sub.userID]; ok {
		delete(st.subs, sub.id)
	}
	b.mu.Unlock()
	sub.close()
}

// SinceResult is the answer of a pull request.
type SinceResult struct {
	Events []Event `json:"events"`
	// Complete is false when part of the requested range was already evicted
	// from history; the caller must do a full resync.
	Complete bool `json:"complete"`
	// LatestSeq is the last sequence number assigned for the user.
	LatestSeq uint64 `json:"latest_seq"`
}

// Since returns the retained events of userID with Seq > after, oldest
// first.
func (b *Bus) Since(userID string, after uint64) SinceResult {
	if userID == "" {
		userID = DefaultUser
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[userID]
	if !ok {
		return SinceResult{Events: []Event{}, Complete: true}
	}
	res := SinceResult{Events: []Event{}, Complete: true, LatestSeq: st.seq}
	if oldest, ok := st.history.oldest(); ok && after+1 < oldest.Seq {
		res.Complete = false
	}
	for _, e := range st.history.snapshot() {
		if e.Seq > after {
			res.Events = append(res.Events, e)
		}
	}
	return res
}

// Subscriber is a registered reader of one user's stream.
type Subscriber struct {
	id       string
	userID   string
	patterns []string

	mu      sync.Mutex
	queue   *ring
	dropped uint64
	lastSeq uint64 // Seq of the last enqueued event
	closed  bool
	ready   chan struct{}
}

// ID identifies the subscriber.
func (s *Subscriber) ID() string { return s.id }

// Dropped counts events evicted from the queue before they were read.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Next blocks until at least one event is queued and returns every queued
// event, oldest first.
func (s *Subscriber) Next(ctx context.Context) ([]Event, error) {
	for {
		s.mu.Lock()
		if s.queue.len() > 0 {
			out := s.queue.drain()
			s.mu.Unlock()
			return out, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ready:
		}
	}
}

func (s *Subscriber) matches(eventType string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	for _, p := range s.patterns {
		if Match(p, eventType) {
			return true
		}
	}
	return false
}

func (s *Subscriber) enqueue(e Event) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	e.PrevSeq = s.lastSeq
	s.lastSeq = e.Seq
	if s.queue.push(e) {
		s.dropped++
		dropped = true
	}
	s.mu.Unlock()
	s.signal()
	return dropped
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscriber) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
