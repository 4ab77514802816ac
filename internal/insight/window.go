// Package insight keeps rolling time-bucketed counters of subject statuses,
// feeding the timeline, trend, and heatmap queries.
package insight

import (
	"sync"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/event"
	"github.com/Morgan141414/ViewPersonal/internal/metrics"
)

// Counts is one bucket's tally per normalized status.
type Counts struct {
	Seen   int `json:"seen"`
	Active int `json:"active"`
	Idle   int `json:"idle"`
	Away   int `json:"away"`
}

func (c *Counts) add(status event.Status) {
	switch status {
	case event.StatusActive:
		c.Active++
	case event.StatusIdle:
		c.Idle++
	case event.StatusAway:
		c.Away++
	default:
		c.Seen++
	}
}

// Total sums all statuses in the bucket.
func (c Counts) Total() int {
	return c.Seen + c.Active + c.Idle + c.Away
}

// series holds minute-resolution buckets (for timelines) and day-resolution
// buckets (for trends) for one scope key. Each series has its own lock so
// recording for different zones/sources does not contend.
type series struct {
	mu      sync.Mutex
	minutes map[int64]*Counts // unix minute -> counts
	days    map[int64]*Counts // unix day -> counts
}

func newSeries() *series {
	return &series{minutes: make(map[int64]*Counts), days: make(map[int64]*Counts)}
}

// Filter scopes a read to a zone or a source. Zero value means everything.
type Filter struct {
	Zone     string
	SourceID string
}

// Window is the append-only aggregation store. Buckets are never mutated
// after their window closes; out-of-window events are dropped with a metric.
type Window struct {
	lateGrace    time.Duration
	minuteRetain time.Duration
	dayRetain    time.Duration

	mu       sync.RWMutex
	global   *series
	byZone   map[string]*series
	bySource map[string]*series
}

// NewWindow creates a Window. lateGrace bounds how far behind now an event
// may land before its bucket counts as closed.
func NewWindow(lateGrace, minuteRetain, dayRetain time.Duration) *Window {
	return &Window{
		lateGrace:    lateGrace,
		minuteRetain: minuteRetain,
		dayRetain:    dayRetain,
		global:       newSeries(),
		byZone:       make(map[string]*series),
		bySource:     make(map[string]*series),
	}
}

func (w *Window) zoneSeries(zone string) *series {
	w.mu.RLock()
	s := w.byZone[zone]
	w.mu.RUnlock()
	if s != nil {
		return s
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s = w.byZone[zone]; s == nil {
		s = newSeries()
		w.byZone[zone] = s
	}
	return s
}

func (w *Window) sourceSeries(source string) *series {
	w.mu.RLock()
	s := w.bySource[source]
	w.mu.RUnlock()
	if s != nil {
		return s
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s = w.bySource[source]; s == nil {
		s = newSeries()
		w.bySource[source] = s
	}
	return s
}

// Record counts one event occurrence. The caller is responsible for passing
// each event id at most once (the state store's de-duplication upstream);
// Record itself only rejects events whose bucket already closed, returning
// false and bumping the late-event metric.
func (w *Window) Record(status event.Status, zone, source string, ts, now time.Time) bool {
	if now.Sub(ts) > w.lateGrace {
		metrics.LateEventsDropped.Inc()
		return false
	}
	w.global.record(status, ts, now, w.minuteRetain, w.dayRetain)
	if zone != "" {
		w.zoneSeries(zone).record(status, ts, now, w.minuteRetain, w.dayRetain)
	}
	if source != "" {
		w.sourceSeries(source).record(status, ts, now, w.minuteRetain, w.dayRetain)
	}
	return true
}

func (s *series) record(status event.Status, ts, now time.Time, minuteRetain, dayRetain time.Duration) {
	minute := ts.UTC().Truncate(time.Minute).Unix()
	day := dayStart(ts).Unix()

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.minutes[minute]
	if c == nil {
		c = &Counts{}
		s.minutes[minute] = c
	}
	c.add(status)
	d := s.days[day]
	if d == nil {
		d = &Counts{}
		s.days[day] = d
	}
	d.add(status)
	s.evict(now, minuteRetain, dayRetain)
}

// evict prunes buckets past retention. Cheap: runs under the series lock and
// only touches expired keys.
func (s *series) evict(now time.Time, minuteRetain, dayRetain time.Duration) {
	minHorizon := now.Add(-minuteRetain).Unix()
	for k := range s.minutes {
		if k < minHorizon {
			delete(s.minutes, k)
		}
	}
	dayHorizon := now.Add(-dayRetain).Unix()
	for k := range s.days {
		if k < dayHorizon {
			delete(s.days, k)
		}
	}
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func (w *Window) seriesFor(f Filter) *series {
	switch {
	case f.Zone != "":
		return w.zoneSeries(f.Zone)
	case f.SourceID != "":
		return w.sourceSeries(f.SourceID)
	default:
		return w.global
	}
}

// Bucket is one timeline entry.
type Bucket struct {
	TS     time.Time `json:"ts"`
	Counts Counts    `json:"counts"`
}

// Timeline describes a windowed, fixed-width bucket read, oldest first.
type Timeline struct {
	Minutes       int      `json:"minutes"`
	BucketMinutes int      `json:"bucket_minutes"`
	Buckets       []Bucket `json:"buckets"`
}

// Total sums every bucket in the timeline.
func (t Timeline) Total() int {
	n := 0
	for _, b := range t.Buckets {
		n += b.Counts.Total()
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TimelineAt returns ordered buckets for the window ending at now. Bounds
// follow the dashboard contract: 15 minutes to 24 hours of history, 5 to 120
// minute buckets.
func (w *Window) TimelineAt(minutes, bucketMinutes int, f Filter, now time.Time) Timeline {
	minutes = clamp(minutes, 15, 24*60)
	bucketMinutes = clamp(bucketMinutes, 5, 120)

	// Anchor the window to whole buckets: round the count up and widen the
	// reported window to the covered span, so the trailing partial bucket is
	// never cut off when minutes is not a multiple of the width.
	bucketCount := (minutes + bucketMinutes - 1) / bucketMinutes
	minutes = bucketCount * bucketMinutes

	// The window ends at the close of the current minute so the freshest
	// in-progress bucket is included.
	end := now.UTC().Truncate(time.Minute).Add(time.Minute)
	since := end.Add(-time.Duration(minutes) * time.Minute)

	out := Timeline{Minutes: minutes, BucketMinutes: bucketMinutes}
	out.Buckets = make([]Bucket, bucketCount)
	for i := range out.Buckets {
		out.Buckets[i].TS = since.Add(time.Duration(i*bucketMinutes) * time.Minute)
	}

	s := w.seriesFor(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	width := int64(bucketMinutes * 60)
	start := since.Unix()
	for minute, c := range s.minutes {
		idx := (minute - start) / width
		if minute < start || int(idx) >= bucketCount {
			continue
		}
		b := &out.Buckets[idx].Counts
		b.Seen += c.Seen
		b.Active += c.Active
		b.Idle += c.Idle
		b.Away += c.Away
	}
	return out
}

// Baseline pairs the current window with the immediately preceding
// equal-length window for the "today vs baseline" comparison.
type Baseline struct {
	Current       Timeline `json:"current"`
	Baseline      Timeline `json:"baseline"`
	CurrentTotal  int      `json:"current_total"`
	BaselineTotal int      `json:"baseline_total"`
}

// BaselineAt computes the current-vs-previous-window comparison.
func (w *Window) BaselineAt(minutes, bucketMinutes int, f Filter, now time.Time) Baseline {
	current := w.TimelineAt(minutes, bucketMinutes, f, now)
	prev := w.TimelineAt(minutes, bucketMinutes, f, now.Add(-time.Duration(current.Minutes)*time.Minute))
	return Baseline{
		Current:       current,
		Baseline:      prev,
		CurrentTotal:  current.Total(),
		BaselineTotal: prev.Total(),
	}
}

// DayBucket is one trend entry: a UTC day's totals split by status.
type DayBucket struct {
	Day    string `json:"day"`
	Total  int    `json:"total"`
	Active int    `json:"active"`
	Idle   int    `json:"idle"`
	Away   int    `json:"away"`
}

// Trend is a multi-day read plus the preceding equal-length period's total.
type Trend struct {
	Days          int         `json:"days"`
	Buckets       []DayBucket `json:"buckets"`
	CurrentTotal  int         `json:"current_total"`
	PreviousTotal int         `json:"previous_total"`
}

// TrendAt returns daily totals for the trailing days window (3..90).
func (w *Window) TrendAt(days int, f Filter, now time.Time) Trend {
	days = clamp(days, 3, 90)
	start := dayStart(now).AddDate(0, 0, -(days - 1))
	prevStart := start.AddDate(0, 0, -days)

	out := Trend{Days: days, Buckets: make([]DayBucket, days)}
	for i := range out.Buckets {
		out.Buckets[i].Day = start.AddDate(0, 0, i).Format("2006-01-02")
	}

	s := w.seriesFor(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	for day, c := range s.days {
		t := time.Unix(day, 0).UTC()
		if t.Before(start) {
			if !t.Before(prevStart) {
				out.PreviousTotal += c.Total()
			}
			continue
		}
		idx := int(t.Sub(start).Hours() / 24)
		if idx < 0 || idx >= days {
			continue
		}
		b := &out.Buckets[idx]
		b.Total += c.Total()
		b.Active += c.Active
		b.Idle += c.Idle
		b.Away += c.Away
	}
	for _, b := range out.Buckets {
		out.CurrentTotal += b.Total
	}
	return out
}

// HeatmapAt returns per-zone event counts for the trailing window.
func (w *Window) HeatmapAt(minutes int, now time.Time) map[string]int {
	minutes = clamp(minutes, 1, 24*60)
	horizon := now.Add(-time.Duration(minutes) * time.Minute).Unix()

	out := make(map[string]int)
	w.mu.RLock()
	zones := make(map[string]*series, len(w.byZone))
	for z, s := range w.byZone {
		zones[z] = s
	}
	w.mu.RUnlock()

	for zone, s := range zones {
		s.mu.Lock()
		total := 0
		for minute, c := range s.minutes {
			if minute >= horizon {
				total += c.Total()
			}
		}
		s.mu.Unlock()
		if total > 0 {
			out[zone] = total
		}
	}
	return out
}
