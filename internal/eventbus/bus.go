// Package eventbus implements the process-wide pub/sub bus described in
// spec section 2 and section 6: dot-segment topics, single-segment `*`
// wildcard matching, and fan-out to subscribers in the publishing goroutine
// (only the optional forwarder is called asynchronously).
package eventbus

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
)

var busLog = log.New(log.Writer(), "[ember:eventbus] ", log.LstdFlags)

// Forwarder is the external one-way receiver contract from spec section 6:
// emit(topic, data) -> future. The bus awaits nothing and silently
// swallows any error so a slow or broken downstream consumer can never
// block or corrupt the store.
type Forwarder interface {
	Emit(ctx context.Context, topic string, data map[string]any) error
}

type subscription struct {
	id      string
	pattern string
	handler Handler
}

// Bus dispatches events to registered subscribers whose topic pattern
// matches, and optionally mirrors every event to an external Forwarder.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription

	forwarder Forwarder
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{}
}

// SetForwarder attaches (or clears, with nil) the optional downstream
// one-way forwarder.
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarder = f
}

// Subscribe registers h to receive every event whose topic matches
// pattern. Pattern segments are dot-separated; a segment of "*" matches
// exactly one segment of the topic; there is no recursive wildcard.
// Registration order does not matter — matching handlers are always
// delivered in ascending priority order.
func (b *Bus) Subscribe(pattern string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{id: h.ID(), pattern: pattern, handler: h})
}

// Unregister removes every subscription registered under handler id id.
// Returns true if at least one subscription was removed. Idempotent:
// unregistering an id with no subscriptions is a no-op that returns false.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := false
	kept := b.subs[:0:0]
	for _, s := range b.subs {
		if s.id == id {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	b.subs = kept
	return removed
}

// Publish delivers event synchronously: matching handlers are invoked in
// ascending priority order in the calling goroutine, and Publish returns
// only after the last of them has returned. Only the forwarder, if one is
// set, is called from a separate goroutine. The Bucket Worker and the
// Transaction Context call Publish inline after a successful commit.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	matched := b.matchingHandlers(event.Topic)
	forwarder := b.forwarder
	b.mu.RUnlock()

	for _, h := range matched {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := h.Handle(ctx, event); err != nil {
			busLog.Printf("handler %q error for topic %s: %v", h.ID(), event.Topic, err)
		}
	}

	if forwarder != nil {
		go b.forward(forwarder, event)
	}
}

// forward mirrors event to the external forwarder. Errors (and panics
// recovered defensively) are logged only; the bus awaits nothing and the
// result can never propagate back to the publishing call per spec section 6.
func (b *Bus) forward(f Forwarder, event Event) {
	defer func() {
		if r := recover(); r != nil {
			busLog.Printf("forwarder panic for topic %s: %v", event.Topic, r)
		}
	}()
	data := map[string]any{
		"bucket":    event.Bucket,
		"type":      string(event.Type),
		"key":       event.Key,
		"record":    event.Record,
		"oldRecord": event.OldRecord,
		"at":        event.At,
	}
	if err := f.Emit(context.Background(), event.Topic, data); err != nil {
		busLog.Printf("forwarder emit failed for topic %s: %v", event.Topic, err)
	}
}

// matchingHandlers returns subscriptions whose pattern matches topic,
// sorted by ascending priority. Must be called with at least a read lock
// held.
func (b *Bus) matchingHandlers(topic string) []Handler {
	var matched []Handler
	for _, s := range b.subs {
		if TopicMatches(s.pattern, topic) {
			matched = append(matched, s.handler)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}

// TopicMatches reports whether topic satisfies pattern under the spec
// section 6 grammar: both are dot-separated segment sequences of equal
// length, a pattern segment of "*" matches any single topic segment, and
// every other segment must match literally (case-sensitive).
func TopicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == "*" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return true
}

// Subscriptions returns every currently registered subscription's handler
// id and pattern, for introspection.
func (b *Bus) Subscriptions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.pattern+" -> "+s.id)
	}
	return out
}
