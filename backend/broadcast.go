// Package backend implements the ingestion server: the TCP accept loop,
// trial-decrypt authentication, persistence, and WebSocket fan-out.
package backend

import (
	"sync"

	"github.com/mati-cloud/ilog/ingest"
)

// broadcastBuffer is the bounded per-subscriber channel depth. A subscriber
// that can't keep up skips ahead rather than blocking the publisher.
const broadcastBuffer = 1024

// Broadcast is a single-producer, many-consumer fan-out of ingested
// records. It is the only many-to-many coupling in the server; it is not
// modeled as shared mutable state accessed by every task, only as a
// registry of per-subscriber channels that Publish fans out into.
type Broadcast struct {
	mtx  sync.Mutex
	subs map[int]*Subscription
	next int
}

// NewBroadcast constructs an empty broadcast, ready for Subscribe/Publish.
func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[int]*Subscription)}
}

// Subscription is a subscriber's lossy-to-slow-consumers view of the
// broadcast. Lagged is incremented each time a record is dropped because
// the subscriber's channel was full; callers should check it after each
// receive rather than being disconnected.
type Subscription struct {
	ch     chan ingest.Record
	lagged *int64mono
}

// int64mono is a tiny counter, avoiding an import of sync/atomic's bigger
// API surface for a single field incremented from one goroutine (Publish)
// and read from another (the subscriber).
type int64mono struct {
	mtx sync.Mutex
	n   int64
}

func (c *int64mono) add(d int64) {
	c.mtx.Lock()
	c.n += d
	c.mtx.Unlock()
}

func (c *int64mono) load() int64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.n
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func the caller must defer.
func (b *Broadcast) Subscribe() (*Subscription, func()) {
	b.mtx.Lock()
	id := b.next
	b.next++
	sub := &Subscription{ch: make(chan ingest.Record, broadcastBuffer), lagged: &int64mono{}}
	b.subs[id] = sub
	b.mtx.Unlock()

	unsub := func() {
		b.mtx.Lock()
		delete(b.subs, id)
		b.mtx.Unlock()
	}
	return sub, unsub
}

// Recv returns the subscriber's channel to receive from. The lag count is
// read separately through Lagged.
func (s *Subscription) Recv() <-chan ingest.Record { return s.ch }

// Lagged returns how many records this subscriber has missed.
func (s *Subscription) Lagged() int64 { return s.lagged.load() }

// Publish fans rec out to every current subscriber. A subscriber whose
// channel is full is skipped — not disconnected — and its lag counter is
// bumped; this is the "Lagged(n)" signal spec'd for slow consumers.
func (b *Broadcast) Publish(rec ingest.Record) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- rec:
		default:
			sub.lagged.add(1)
		}
	}
}
