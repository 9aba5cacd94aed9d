package sync

import (
	"sync"
	"time"

	"github.com/iudanet/cartsync/internal/models"
)

// FlushFunc receives a batch of messages in dispatch order
type FlushFunc func(msgs []models.SyncMessage)

// Debouncer delays outbound messages until their call site goes quiet.
// Every Add restarts the timer of its site. Messages of all sites share one
// queue, so when a site fires, everything queued before its last message goes
// out with it and the global dispatch order is kept.
// A message replaces the previous one only when they are adjacent, come from
// the same site and replaying the shorter sequence yields the same state.
type Debouncer struct {
	timers  map[string]*siteTimer
	flush   FlushFunc
	queue   []queued
	delay   time.Duration
	mu      sync.Mutex
	flushMu sync.Mutex
}

type queued struct {
	site string
	msg  models.SyncMessage
}

type siteTimer struct {
	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates a debouncer; delay 0 flushes every message immediately
func NewDebouncer(delay time.Duration, flush FlushFunc) *Debouncer {
	return &Debouncer{
		timers: make(map[string]*siteTimer),
		flush:  flush,
		delay:  delay,
	}
}

// Add queues msg for site and restarts the site's quiet timer
func (d *Debouncer) Add(site string, msg models.SyncMessage) {
	if d.delay == 0 {
		d.flushBatch([]models.SyncMessage{msg})
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if n := len(d.queue); n > 0 && d.queue[n-1].site == site && supersedes(d.queue[n-1].msg.Command, msg.Command) {
		d.queue[n-1].msg = msg
	} else {
		d.queue = append(d.queue, queued{site: site, msg: msg})
	}

	st := d.timers[site]
	if st == nil {
		st = &siteTimer{}
		d.timers[site] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(d.delay, func() { d.fire(site, gen) })
}

// Pending returns the number of queued messages
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Flush sends everything queued now
func (d *Debouncer) Flush() {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	for _, st := range d.timers {
		if st.timer != nil {
			st.timer.Stop()
		}
		st.gen++
	}
	batch := d.take(len(d.queue))
	d.mu.Unlock()

	d.send(batch)
}

func (d *Debouncer) fire(site string, gen uint64) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	st := d.timers[site]
	// таймер перезапущен или сброшен через Flush
	if st == nil || st.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.timers, site)

	last := -1
	for i, q := range d.queue {
		if q.site == site {
			last = i
		}
	}
	batch := d.take(last + 1)
	d.mu.Unlock()

	d.send(batch)
}

// take removes and returns the first n queued messages; caller holds mu
func (d *Debouncer) take(n int) []models.SyncMessage {
	if n <= 0 {
		return nil
	}
	batch := make([]models.SyncMessage, n)
	for i := 0; i < n; i++ {
		batch[i] = d.queue[i].msg
	}
	d.queue = append(d.queue[:0:0], d.queue[n:]...)
	return batch
}

// flushBatch sends a batch that bypassed the queue
func (d *Debouncer) flushBatch(batch []models.SyncMessage) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	d.send(batch)
}

// send hands batch to the flush function; caller holds flushMu,
// which keeps a later batch from overtaking an earlier one
func (d *Debouncer) send(batch []models.SyncMessage) {
	if len(batch) == 0 {
		return
	}
	d.flush(batch)
}

// supersedes reports whether next makes prev redundant when they are adjacent
func supersedes(prev, next models.Command) bool {
	if prev.Type != next.Type {
		return false
	}
	switch next.Type {
	case models.CommandSetQuantity:
		// SetQuantity(<=0) удаляет позицию, следующий SetQuantity тогда no-op
		return prev.ID == next.ID && prev.Quantity > 0
	case models.CommandClear, models.CommandReplaceState:
		return true
	default:
		return false
	}
}
