package insight

import (
	"sync"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/event"
)

// Recent keeps a bounded ring of the latest accepted events per event type,
// backing the training dataset snapshot endpoint.
type Recent struct {
	mu    sync.Mutex
	max   int
	rings map[event.Type][]*event.Event
	total map[event.Type]int
}

// NewRecent creates a ring buffer keeping up to max events per type.
func NewRecent(max int) *Recent {
	if max <= 0 {
		max = 256
	}
	return &Recent{
		max:   max,
		rings: make(map[event.Type][]*event.Event),
		total: make(map[event.Type]int),
	}
}

// Add appends an accepted event, evicting the oldest of its type if full.
func (r *Recent) Add(e *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := r.rings[e.Type]
	if len(ring) >= r.max {
		ring = ring[1:]
	}
	r.rings[e.Type] = append(ring, e)
	r.total[e.Type]++
}

// SnapshotOut is the training snapshot response body.
type SnapshotOut struct {
	WindowMinutes int                           `json:"window_minutes"`
	SourceID      string                        `json:"source_id,omitempty"`
	Counts        map[event.Type]int            `json:"counts"`
	Samples       map[event.Type][]*event.Event `json:"samples"`
}

// Snapshot returns up to limit recent samples per type within the trailing
// window, optionally filtered by source, plus total counts per type.
func (r *Recent) Snapshot(minutes, limit int, sourceID string, now time.Time) SnapshotOut {
	if limit <= 0 || limit > r.max {
		limit = r.max
	}
	since := now.Add(-time.Duration(minutes) * time.Minute)

	out := SnapshotOut{
		WindowMinutes: minutes,
		SourceID:      sourceID,
		Counts:        make(map[event.Type]int),
		Samples:       make(map[event.Type][]*event.Event),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for typ, ring := range r.rings {
		out.Counts[typ] = r.total[typ]
		var samples []*event.Event
		for i := len(ring) - 1; i >= 0 && len(samples) < limit; i-- {
			e := ring[i]
			if e.TS.Before(since) {
				continue
			}
			if sourceID != "" && e.SourceID != sourceID {
				continue
			}
			samples = append(samples, e)
		}
		out.Samples[typ] = samples
	}
	return out
}
