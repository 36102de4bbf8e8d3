package main

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/erain9/bourse/pkg/messaging"
)

// tracker pairs sent order lines with the first pipeline event that names
// them and records the gap in microseconds.
type tracker struct {
	mu       sync.Mutex
	pending  map[string]time.Time
	latency  *hdrhistogram.Histogram
	sent     int64
	placed   int64
	matched  int64
	settled  int64
	rejected int64
}

type snapshot struct {
	Sent, Placed, Matched, Settled, Rejected int64
	Latency                                  *hdrhistogram.Histogram
}

func newTracker() *tracker {
	return &tracker{
		pending: make(map[string]time.Time),
		latency: hdrhistogram.New(1, 60_000_000, 3),
	}
}

func (t *tracker) Sent(line string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	t.pending[line] = at
}

func (t *tracker) Observe(event messaging.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var line string
	switch event.Type {
	case messaging.EventPlaced:
		t.placed++
		line = event.Incoming
	case messaging.EventMatched:
		t.matched++
		line = event.Incoming
	case messaging.EventSettled:
		t.settled++
		return
	case messaging.EventRejected:
		t.rejected++
		line = event.Raw
	default:
		return
	}

	sent, ok := t.pending[line]
	if !ok {
		return
	}
	delete(t.pending, line)
	_ = t.latency.RecordValue(event.Time.Sub(sent).Microseconds())
}

func (t *tracker) Snapshot() snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot{
		Sent:     t.sent,
		Placed:   t.placed,
		Matched:  t.matched,
		Settled:  t.settled,
		Rejected: t.rejected,
		Latency:  hdrhistogram.Import(t.latency.Export()),
	}
}
