// Package events provides a pub/sub protocol.EventSink: subscribers
// register per-kind callbacks and Emitter.Log fans each incoming event out
// to them, isolated by panic recovery so one bad subscriber can't stall the
// node.
package events

import (
	"log"
	"sync"

	"github.com/echonode/echoconsent/protocol"
)

// Record pairs a protocol.Event with the tick and peer it was logged
// against, which protocol.Event itself does not carry.
type Record struct {
	At    protocol.Time
	Peer  protocol.PeerID
	Event protocol.Event
}

// Handler is a callback invoked for matching events.
type Handler func(Record)

// Emitter is a protocol.EventSink that fans events out to subscribers by
// Kind. Subscribe before wiring the Emitter into a node.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[protocol.EventKind][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[protocol.EventKind][]Handler)}
}

// Subscribe registers h to be called whenever an event of kind is logged.
func (e *Emitter) Subscribe(kind protocol.EventKind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = append(e.handlers[kind], h)
}

// Log implements protocol.EventSink, delivering ev synchronously to every
// subscriber for ev.Kind. Each handler is guarded by panic recovery so a
// misbehaving subscriber cannot crash the node or stall its tick loop.
func (e *Emitter) Log(at protocol.Time, peer protocol.PeerID, ev protocol.Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Kind]
	e.mu.RUnlock()
	rec := Record{At: at, Peer: peer, Event: ev}
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for kind %d: %v", ev.Kind, r)
				}
			}()
			h(rec)
		}()
	}
}

// Collector is a protocol.EventSink that records every event it sees, for
// use in tests that want to assert on the event stream instead of just the
// resulting state.
type Collector struct {
	mu      sync.Mutex
	Records []Record
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Log implements protocol.EventSink.
func (c *Collector) Log(at protocol.Time, peer protocol.PeerID, ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Records = append(c.Records, Record{At: at, Peer: peer, Event: ev})
}

// All returns a snapshot of every event recorded so far.
func (c *Collector) All() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.Records))
	copy(out, c.Records)
	return out
}
