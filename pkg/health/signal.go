// Package health publishes a liveness signal for the device link.
//
// The gateway beats the signal after every successful exchange and every
// transfer progress tick. Subscribers such as a UI heartbeat indicator
// decide for themselves what counts as stale; the signal keeps no timer.
package health

import (
	"sync"
	"time"

	"github.com/cartlink/cartlink-go/pkg/log"
)

// Kind identifies what produced a beat.
type Kind string

const (
	// KindExchange is a completed command round trip.
	KindExchange Kind = "exchange"

	// KindProgress is a transfer progress tick.
	KindProgress Kind = "progress"
)

// Beat is one liveness observation.
type Beat struct {
	Kind Kind
	Time time.Time
}

// Signal fans beats out to subscribers.
type Signal struct {
	mu     sync.RWMutex
	last   Beat
	nextID uint64
	subs   map[uint64]func(Beat)

	// Optional protocol capture of beats.
	logger log.Logger
	connID func() string

	now func() time.Time
}

// Option configures a Signal.
type Option func(*Signal)

// WithProtocolLogger records every beat as a liveness event. connID
// supplies the connection ID current at beat time and may be nil.
func WithProtocolLogger(l log.Logger, connID func() string) Option {
	return func(s *Signal) {
		s.logger = l
		s.connID = connID
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signal) { s.now = now }
}

// NewSignal creates a signal with no beats.
func NewSignal(opts ...Option) *Signal {
	s := &Signal{
		subs: make(map[uint64]func(Beat)),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Beat records a beat and notifies subscribers synchronously.
func (s *Signal) Beat(kind Kind) {
	b := Beat{Kind: kind, Time: s.now()}

	s.mu.Lock()
	s.last = b
	subs := make([]func(Beat), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if s.logger != nil {
		ev := log.Event{
			Timestamp: b.Time,
			Layer:     log.LayerGateway,
			Category:  log.CategoryLiveness,
			Liveness:  &log.LivenessEvent{Kind: string(kind)},
		}
		if s.connID != nil {
			ev.ConnectionID = s.connID()
		}
		s.logger.Log(ev)
	}

	for _, fn := range subs {
		fn(b)
	}
}

// Subscribe registers fn for future beats. The returned function removes
// the subscription and is safe to call more than once.
func (s *Signal) Subscribe(fn func(Beat)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Last returns the time of the most recent beat, or the zero time.
func (s *Signal) Last() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.Time
}

// LastBeat returns the most recent beat.
func (s *Signal) LastBeat() (Beat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, !s.last.Time.IsZero()
}
