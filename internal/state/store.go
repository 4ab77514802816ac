// Package state owns the per-subject latest-known status table. All mutation
// goes through Apply; reads return defensive copies.
package state

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/event"
)

const shardCount = 32

// Subject is the externally visible snapshot of one subject's state.
type Subject struct {
	Subject     string            `json:"subject"`
	LastSeenTS  time.Time         `json:"last_seen_ts"`
	SourceID    string            `json:"source_id"`
	Status      event.Status      `json:"current_status"`
	Confidence  *float64          `json:"confidence,omitempty"`
	PrivacyMode event.PrivacyMode `json:"privacy_mode,omitempty"`
	Zone        string            `json:"zone,omitempty"`
	Role        string            `json:"role,omitempty"`
}

// Change is emitted when a subject's computed status actually differs, so
// downstream stages are not flooded with no-op churn.
type Change struct {
	Subject  string       `json:"subject"`
	Previous event.Status `json:"previous_status"`
	New      event.Status `json:"new_status"`
	Zone     string       `json:"zone,omitempty"`
	PrevZone string       `json:"previous_zone,omitempty"` // set when the change moved the subject between zones
	TS       time.Time    `json:"ts"`
}

// entry is the mutable record, owned by its shard.
type entry struct {
	Subject
	lastEventID string
	recentIDs   []string // bounded ring of recently applied event ids
	recentSet   map[string]struct{}
}

type shard struct {
	mu       sync.Mutex
	subjects map[string]*entry
}

// Store is the in-memory subject state table. Locking is per shard so
// concurrent updates to different subjects are independent.
type Store struct {
	shards      [shardCount]shard
	awayTimeout time.Duration
	dedupSize   int
}

// New creates a Store. awayTimeout governs when a silent subject is reported
// as away; dedupSize bounds the per-subject recent-event-id ring.
func New(awayTimeout time.Duration, dedupSize int) *Store {
	s := &Store{awayTimeout: awayTimeout, dedupSize: dedupSize}
	if s.dedupSize <= 0 {
		s.dedupSize = 128
	}
	for i := range s.shards {
		s.shards[i].subjects = make(map[string]*entry)
	}
	return s
}

func (s *Store) shardFor(subject string) *shard {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return &s.shards[h.Sum32()%shardCount]
}

// Apply folds one validated event into the subject's state.
//
// Ordering: an event updates current state only when its ts is greater than
// or equal to the stored last_seen_ts (last writer wins by event time, not
// arrival time). Equal timestamps are broken by event_id lexicographic order
// for determinism. Strictly older events do not regress current state but
// are still accepted by the caller for aggregation.
//
// De-duplication: a replayed event_id is a no-op, reported via dup so the
// caller can skip aggregation for it.
func (s *Store) Apply(e *event.Event, zone string) (change *Change, dup bool) {
	subject := e.Subject()
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent, ok := sh.subjects[subject]
	if ok {
		if _, seen := ent.recentSet[e.ID]; seen {
			return nil, true
		}
	} else {
		ent = &entry{
			Subject:   Subject{Subject: subject},
			recentSet: make(map[string]struct{}),
		}
		sh.subjects[subject] = ent
	}
	ent.remember(e.ID, s.dedupSize)

	if e.TS.Before(ent.LastSeenTS) {
		return nil, false
	}
	if e.TS.Equal(ent.LastSeenTS) && e.ID <= ent.lastEventID {
		return nil, false
	}

	prev := ent.Status
	prevZone := ent.Zone
	hadState := !ent.LastSeenTS.IsZero()

	ent.LastSeenTS = e.TS
	ent.lastEventID = e.ID
	ent.SourceID = e.SourceID
	ent.Status = e.DeriveStatus()
	if e.Payload.Confidence != nil {
		ent.Confidence = e.Payload.Confidence
	}
	if e.PrivacyMode != "" {
		ent.PrivacyMode = e.PrivacyMode
	}
	if zone != "" {
		ent.Zone = zone
	}
	if e.Payload.Role != "" {
		ent.Role = e.Payload.Role
	}

	if hadState && ent.Status == prev {
		return nil, false
	}
	change = &Change{
		Subject:  subject,
		Previous: prev,
		New:      ent.Status,
		Zone:     ent.Zone,
		TS:       e.TS,
	}
	if prevZone != "" && prevZone != ent.Zone {
		change.PrevZone = prevZone
	}
	return change, false
}

func (ent *entry) remember(id string, max int) {
	if _, ok := ent.recentSet[id]; ok {
		return
	}
	ent.recentSet[id] = struct{}{}
	ent.recentIDs = append(ent.recentIDs, id)
	if len(ent.recentIDs) > max {
		oldest := ent.recentIDs[0]
		ent.recentIDs = ent.recentIDs[1:]
		delete(ent.recentSet, oldest)
	}
}

// effectiveStatus applies the staleness rule lazily at read time.
func (s *Store) effectiveStatus(ent *entry, now time.Time) event.Status {
	if ent.Status != event.StatusAway && now.Sub(ent.LastSeenTS) > s.awayTimeout {
		return event.StatusAway
	}
	return ent.Status
}

// Get returns the subject's current snapshot, staleness applied.
func (s *Store) Get(subject string, now time.Time) (Subject, bool) {
	sh := s.shardFor(subject)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ent, ok := sh.subjects[subject]
	if !ok {
		return Subject{}, false
	}
	out := ent.Subject
	out.Status = s.effectiveStatus(ent, now)
	return out, true
}

// Current returns all subjects, staleness applied, newest first.
func (s *Store) Current(now time.Time) []Subject {
	var out []Subject
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, ent := range sh.subjects {
			snap := ent.Subject
			snap.Status = s.effectiveStatus(ent, now)
			out = append(out, snap)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenTS.Equal(out[j].LastSeenTS) {
			return out[i].LastSeenTS.After(out[j].LastSeenTS)
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// ByZone returns the subjects whose last known zone matches, staleness
// applied. Used by the compliance evaluator for role counting.
func (s *Store) ByZone(zone string, now time.Time) []Subject {
	var out []Subject
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, ent := range sh.subjects {
			if ent.Zone != zone {
				continue
			}
			snap := ent.Subject
			snap.Status = s.effectiveStatus(ent, now)
			out = append(out, snap)
		}
		sh.mu.Unlock()
	}
	return out
}

// Sweep proactively transitions stale subjects to away and returns the
// resulting changes so the caller can notify viewers. It takes the same
// per-shard locks as Apply.
func (s *Store) Sweep(now time.Time) []Change {
	var changes []Change
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, ent := range sh.subjects {
			if ent.Status == event.StatusAway {
				continue
			}
			if now.Sub(ent.LastSeenTS) <= s.awayTimeout {
				continue
			}
			prev := ent.Status
			ent.Status = event.StatusAway
			changes = append(changes, Change{
				Subject:  ent.Subject.Subject,
				Previous: prev,
				New:      event.StatusAway,
				Zone:     ent.Zone,
				TS:       now,
			})
		}
		sh.mu.Unlock()
	}
	return changes
}
