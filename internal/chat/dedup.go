// Package chat handles observer chat traffic: parsing raw chat log lines
// and deduplicating repeated messages in a sliding window.
package chat

import (
	"container/heap"
	"fmt"
	"strconv"
	"time"
)

// Window is the dedup horizon. Two messages with the same (rider, text)
// within this span count as one.
const Window = 3 * time.Second

type seenMessage struct {
	at  time.Time
	sig string
}

type seenHeap []seenMessage

func (h seenHeap) Len() int            { return len(h) }
func (h seenHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h seenHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seenHeap) Push(x any) { *h = append(*h, x.(seenMessage)) }
func (h *seenHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Deduper is a sliding-window set keyed by (rider id, message text).
// Eviction uses the event's own timestamp, not wall clock, so replaying a
// log gives the same forward/drop decisions.
type Deduper struct {
	window time.Duration
	seen   seenHeap
	sigs   map[string]bool
}

// NewDeduper returns a Deduper with the standard 3-second window.
func NewDeduper() *Deduper {
	return &Deduper{window: Window, sigs: make(map[string]bool)}
}

func signature(riderID int64, msg string) string {
	return strconv.FormatInt(riderID, 10) + msg
}

// Observe records a message at its event time. It reports true when the
// message is new in the window (forward it) and false for a duplicate
// (drop it).
func (d *Deduper) Observe(at time.Time, riderID int64, msg string) bool {
	d.evict(at)
	sig := signature(riderID, msg)
	if d.sigs[sig] {
		return false
	}
	heap.Push(&d.seen, seenMessage{at: at, sig: sig})
	d.sigs[sig] = true
	return true
}

// evict drops entries older than now minus the window.
func (d *Deduper) evict(now time.Time) {
	cutoff := now.Add(-d.window)
	for d.seen.Len() > 0 && d.seen[0].at.Before(cutoff) {
		old := heap.Pop(&d.seen).(seenMessage)
		delete(d.sigs, old.sig)
	}
}

// ParseClock parses the "HH:MM:SS" wall clock carried in chat events.
func ParseClock(s string) (time.Time, error) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse chat time %q: %w", s, err)
	}
	return t, nil
}
