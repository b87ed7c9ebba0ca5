// Package bus fans job progress events out to subscribers. Producers
// never block: each subscription owns a bounded buffer and slow consumers
// lose intermediate events, flagged so clients know to re-fetch progress.
package bus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"imageConverter/metrics"
	"imageConverter/models"
)

const DefaultBufferSize = 256

// Subscription is one consumer's ordered view of a job's events. Events
// are read from Events(); the channel closes on unsubscribe or room close.
type Subscription struct {
	jobID string
	ch    chan models.Event
	// lost marks that an event was dropped since the last delivery; the
	// next enqueued event carries it. Guarded by the bus mutex.
	lost   bool
	closed bool
}

func (s *Subscription) Events() <-chan models.Event { return s.ch }
func (s *Subscription) JobID() string               { return s.jobID }

type Bus struct {
	logger   *zap.Logger
	observer metrics.Observer
	bufSize  int

	mu    sync.Mutex
	rooms map[string]map[*Subscription]struct{}
}

func NewBus(bufferSize int, observer metrics.Observer, logger *zap.Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	if observer == nil {
		observer = metrics.Noop{}
	}
	return &Bus{
		logger:   logger,
		observer: observer,
		bufSize:  bufferSize,
		rooms:    make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a consumer for one job's events.
func (b *Bus) Subscribe(jobID string) *Subscription {
	sub := &Subscription{jobID: jobID, ch: make(chan models.Event, b.bufSize)}

	b.mu.Lock()
	room, ok := b.rooms[jobID]
	if !ok {
		room = make(map[*Subscription]struct{})
		b.rooms[jobID] = room
	}
	room[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the consumer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

func (b *Bus) dropLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if room, ok := b.rooms[sub.jobID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(b.rooms, sub.jobID)
		}
	}
	close(sub.ch)
}

// Publish delivers event to every subscriber of the job's room, in
// publication order per subscription. When a buffer is full the oldest
// non-terminal buffered event is discarded to make room; terminal events
// are never dropped.
func (b *Bus) Publish(jobID string, event models.Event) {
	event.QueueID = jobID
	if event.Timestamp == 0 {
		event.Timestamp = models.UnixSeconds(time.Now())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.rooms[jobID] {
		b.deliverLocked(sub, event)
	}
}

func (b *Bus) deliverLocked(sub *Subscription, event models.Event) {
	if sub.closed {
		return
	}
	if sub.lost {
		event.EventsLost = true
	}

	select {
	case sub.ch <- event:
		sub.lost = false
		return
	default:
	}

	// Buffer full: evict the oldest buffered event.
	select {
	case old := <-sub.ch:
		if old.Type.Terminal() {
			// Terminal stays; the incoming event is the drop instead.
			sub.ch <- old
			if !event.Type.Terminal() {
				sub.lost = true
				b.observer.EventDropped()
				return
			}
			// Two terminal events for one job should not happen; keep
			// the older one and log the anomaly.
			b.logger.Warn("Dropped duplicate terminal event",
				zap.String("job_id", sub.jobID),
				zap.String("type", string(event.Type)))
			return
		}
		b.observer.EventDropped()
		event.EventsLost = true
	default:
		// A concurrent reader drained the buffer; fall through and retry.
	}

	select {
	case sub.ch <- event:
		sub.lost = false
	default:
		sub.lost = true
		if !event.Type.Terminal() {
			b.observer.EventDropped()
		}
	}
}

// CloseRoom disconnects every subscriber of a job. Used when terminal
// jobs are reaped.
func (b *Bus) CloseRoom(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.rooms[jobID]
	subs := make([]*Subscription, 0, len(room))
	for sub := range room {
		subs = append(subs, sub)
	}
	for _, sub := range subs {
		b.dropLocked(sub)
	}
	return len(subs)
}

// Rooms lists the job ids with at least one subscriber.
func (b *Bus) Rooms() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.rooms))
	for id := range b.rooms {
		out = append(out, id)
	}
	return out
}
