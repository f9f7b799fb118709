// Package eventbus implements the process-wide topic publisher described in
// spec.md §4.1: exact/wildcard subscriptions, a bounded event log, and a
// synchronous cooperative delivery contract (publish awaits every handler
// before returning; one handler's panic is isolated, not fatal).
//
// The subscriber bookkeeping generalizes raphalbongso-wager-marketplace's
// internal/ws.Hub (per-topic "rooms" of subscribers, copy-on-write snapshot
// reads) from a single-pattern WebSocket room model to the exact/suffix/full
// wildcard
// pattern matching spec.md requires; the topic-segment pattern matching is
// grounded on other_examples' pub_sub.go broker, which also splits topics on
// "." to match wildcard patterns, simplified here to the synchronous
// single-process delivery model spec.md §4.1 specifies (no retries, no ack,
// no persistence — those are explicitly out of this core's scope).
package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clearinghouse/prediction-core/internal/clock"
)

// Handler processes one delivered event. A Handler that panics is recovered
// and logged; it never aborts delivery to the remaining subscribers.
type Handler func(topic string, payload any)

// Event is one bounded-log entry.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

const defaultLogCapacity = 10_000

type subscription struct {
	id      int64
	pattern string
	handler Handler
	once    bool
}

// Bus is the process-wide publisher/subscriber hub.
type Bus struct {
	mu          sync.RWMutex
	subsByTopic map[string][]*subscription // allocated but never filled; Publish scans subs in full
	subs        []*subscription
	nextSubID   int64

	logMu    sync.Mutex
	log      []Event
	logCap   int

	clock  clock.Clock
	logger *zap.SugaredLogger
}

// New constructs a Bus with the default 10,000-entry log capacity.
func New(logger *zap.SugaredLogger, c clock.Clock) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Bus{
		subsByTopic: make(map[string][]*subscription),
		logCap:      defaultLogCapacity,
		clock:       c,
		logger:      logger,
	}
}

// Subscribe registers handler against pattern and returns a subscription id
// that Unsubscribe accepts. Patterns: exact "a.b.c", suffix wildcard "a.*"
// (matches exactly one additional segment), or "*"/"**" (match everything).
func (b *Bus) Subscribe(pattern string, handler Handler) int64 {
	return b.subscribe(pattern, handler, false)
}

// Once behaves like Subscribe but auto-unsubscribes after the first delivery.
func (b *Bus) Once(pattern string, handler Handler) int64 {
	return b.subscribe(pattern, handler, true)
}

func (b *Bus) subscribe(pattern string, handler Handler, once bool) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &subscription{id: b.nextSubID, pattern: pattern, handler: handler, once: once}
	b.subs = append(b.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription by id. No-op if it no longer exists.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish fans out payload to every subscriber whose pattern matches topic,
// in registration order, awaiting each handler before returning (spec.md
// §4.1's synchronous cooperative delivery contract). A panicking handler is
// recovered and logged; it does not prevent delivery to later subscribers.
func (b *Bus) Publish(topic string, payload any) {
	b.appendLog(topic, payload)

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matches(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	var toRemove []int64
	for _, s := range matched {
		b.deliver(s, topic, payload)
		if s.once {
			toRemove = append(toRemove, s.id)
		}
	}
	for _, id := range toRemove {
		b.Unsubscribe(id)
	}
}

func (b *Bus) deliver(s *subscription, topic string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("eventbus: handler panicked", "topic", topic, "pattern", s.pattern, "panic", r)
		}
	}()
	s.handler(topic, payload)
}

// WaitFor blocks until a matching event is published or the context is
// cancelled, returning Timeout per spec.md §4.1.
func (b *Bus) WaitFor(ctx context.Context, pattern string) (any, error) {
	result := make(chan any, 1)
	id := b.Once(pattern, func(_ string, payload any) {
		select {
		case result <- payload:
		default:
		}
	})
	select {
	case payload := <-result:
		return payload, nil
	case <-ctx.Done():
		b.Unsubscribe(id)
		return nil, fmt.Errorf("eventbus.WaitFor %q: %w", pattern, ErrTimeout)
	}
}

func (b *Bus) appendLog(topic string, payload any) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.log = append(b.log, Event{Topic: topic, Payload: payload, Timestamp: b.clock.Now()})
	if len(b.log) > b.logCap {
		keep := b.logCap * 9 / 10
		b.log = append([]Event(nil), b.log[len(b.log)-keep:]...)
	}
}

// RecentEvents returns a snapshot of the bounded event log, newest last.
func (b *Bus) RecentEvents() []Event {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

// matches implements the pattern grammar from spec.md §4.1:
// exact match, "a.*" (one additional segment), and "*"/"**" (everything).
func matches(pattern, topic string) bool {
	if pattern == "*" || pattern == "**" {
		return true
	}
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		rest := strings.TrimPrefix(topic, prefix+".")
		if rest == topic { // prefix didn't match
			return false
		}
		return !strings.Contains(rest, ".")
	}
	return false
}
