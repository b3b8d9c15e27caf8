// Package notify fans job snapshots out to in-process subscribers and
// optional relays. Publishing never blocks on a subscriber.
package notify

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/leadflow/internal/model"
)

// Relay receives every snapshot the hub delivers. Send must not block.
type Relay interface {
	Send(snap model.Snapshot)
}

// Hub keeps one topic per job. Each subscriber owns a one-slot mailbox
// holding the newest undelivered snapshot.
type Hub struct {
	minInterval time.Duration
	relays      []Relay

	mu     sync.RWMutex
	topics map[string]*topic
}

type topic struct {
	mu       sync.Mutex
	subs     map[uint64]chan model.Snapshot
	nextID   uint64
	last     model.Snapshot
	final    bool
	progress rate.Sometimes
}

// NewHub creates a hub that passes at most one progress snapshot per job
// every minInterval. Material events are never throttled.
func NewHub(minInterval time.Duration, relays ...Relay) *Hub {
	return &Hub{
		minInterval: minInterval,
		relays:      relays,
		topics:      make(map[string]*topic),
	}
}

func (h *Hub) topic(jobID string) *topic {
	h.mu.RLock()
	t, ok := h.topics[jobID]
	h.mu.RUnlock()
	if ok {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok = h.topics[jobID]; !ok {
		t = &topic{
			subs:     make(map[uint64]chan model.Snapshot),
			progress: rate.Sometimes{Interval: h.minInterval},
		}
		h.topics[jobID] = t
	}
	return t
}

// Publish delivers snap to the job's subscribers and relays. Stale
// snapshots are dropped. A final snapshot closes every subscriber channel
// after delivery.
func (h *Hub) Publish(snap model.Snapshot) {
	t := h.topic(snap.ID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.final || (t.last.Seq > 0 && !snap.Newer(t.last)) {
		return
	}

	deliver := snap.Event.Material() || h.minInterval <= 0
	if !deliver {
		t.progress.Do(func() { deliver = true })
	}
	if !deliver {
		return
	}

	t.last = snap
	for _, ch := range t.subs {
		offer(ch, snap)
	}
	for _, r := range h.relays {
		r.Send(snap)
	}

	if snap.Event.Final() {
		t.final = true
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}
}

// Subscribe registers a mailbox for jobID primed with the newer of current
// and the last delivered snapshot. If the job is already final the channel
// holds the final snapshot and is closed.
func (h *Hub) Subscribe(jobID string, current model.Snapshot) (<-chan model.Snapshot, func()) {
	t := h.topic(jobID)

	t.mu.Lock()
	defer t.mu.Unlock()

	latest := current
	if t.last.Newer(latest) {
		latest = t.last
	}

	ch := make(chan model.Snapshot, 1)
	ch <- latest
	if t.final || latest.Event.Final() {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				close(c)
				delete(t.subs, id)
			}
		})
	}
}

// Subscribers returns the number of open mailboxes for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	t, ok := h.topics[jobID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Forget drops the topic of an evicted job, closing any mailbox still open.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	t, ok := h.topics[jobID]
	delete(h.topics, jobID)
	h.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// offer replaces whatever is waiting in the mailbox with snap.
func offer(ch chan model.Snapshot, snap model.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
