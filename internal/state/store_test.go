package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/event"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func presenceEvent(id, subject, status string, ts time.Time) *event.Event {
	return &event.Event{
		ID:         id,
		Type:       event.TypePresence,
		TS:         ts,
		SourceID:   "cam-1",
		EmployeeID: subject,
		Payload:    event.Payload{Status: status},
	}
}

func TestApplyCreatesAndChanges(t *testing.T) {
	s := New(90*time.Second, 16)

	ch, dup := s.Apply(presenceEvent("e1", "emp-1", "active", t0), "OR-1")
	if dup {
		t.Fatal("first apply reported duplicate")
	}
	if ch == nil {
		t.Fatal("first apply should emit a change")
	}
	if ch.New != event.StatusActive || ch.Zone != "OR-1" {
		t.Errorf("change = %+v, want new=active zone=OR-1", ch)
	}

	// Same status again: no-op change.
	ch, dup = s.Apply(presenceEvent("e2", "emp-1", "active", t0.Add(time.Second)), "OR-1")
	if dup || ch != nil {
		t.Errorf("same-status apply: change=%v dup=%v, want nil/false", ch, dup)
	}

	sub, ok := s.Get("emp-1", t0.Add(2*time.Second))
	if !ok {
		t.Fatal("subject not found")
	}
	if sub.Status != event.StatusActive || !sub.LastSeenTS.Equal(t0.Add(time.Second)) {
		t.Errorf("subject = %+v", sub)
	}
}

func TestApplyDuplicateEventID(t *testing.T) {
	s := New(90*time.Second, 16)

	e := presenceEvent("e1", "emp-1", "active", t0)
	if _, dup := s.Apply(e, ""); dup {
		t.Fatal("first apply reported duplicate")
	}
	ch, dup := s.Apply(e, "")
	if !dup {
		t.Fatal("replay of same event_id not detected")
	}
	if ch != nil {
		t.Errorf("duplicate apply emitted change %+v", ch)
	}
}

func TestApplyOrderIndependence(t *testing.T) {
	e1 := presenceEvent("e1", "emp-1", "active", t0)
	e2 := presenceEvent("e2", "emp-1", "idle", t0.Add(time.Minute))

	for _, order := range [][]*event.Event{{e1, e2}, {e2, e1}} {
		s := New(90*time.Second, 16)
		for _, e := range order {
			s.Apply(e, "")
		}
		sub, _ := s.Get("emp-1", t0.Add(time.Minute))
		if sub.Status != event.StatusIdle {
			t.Errorf("order %s,%s: final status = %q, want idle", order[0].ID, order[1].ID, sub.Status)
		}
		if !sub.LastSeenTS.Equal(e2.TS) {
			t.Errorf("order %s,%s: last_seen = %v, want %v", order[0].ID, order[1].ID, sub.LastSeenTS, e2.TS)
		}
	}
}

func TestApplyEqualTimestampTiebreak(t *testing.T) {
	ea := presenceEvent("a", "emp-1", "idle", t0)
	eb := presenceEvent("b", "emp-1", "active", t0)

	for _, order := range [][]*event.Event{{ea, eb}, {eb, ea}} {
		s := New(90*time.Second, 16)
		for _, e := range order {
			s.Apply(e, "")
		}
		sub, _ := s.Get("emp-1", t0)
		// Highest event_id wins deterministically on a ts tie.
		if sub.Status != event.StatusActive {
			t.Errorf("order %s,%s: final status = %q, want active", order[0].ID, order[1].ID, sub.Status)
		}
	}
}

func TestOlderEventDoesNotRegress(t *testing.T) {
	s := New(90*time.Second, 16)
	s.Apply(presenceEvent("e2", "emp-1", "idle", t0.Add(time.Minute)), "OR-1")

	ch, dup := s.Apply(presenceEvent("e1", "emp-1", "active", t0), "OR-1")
	if dup {
		t.Fatal("unexpected duplicate")
	}
	if ch != nil {
		t.Errorf("stale event emitted change %+v", ch)
	}
	sub, _ := s.Get("emp-1", t0.Add(time.Minute))
	if sub.Status != event.StatusIdle {
		t.Errorf("status regressed to %q", sub.Status)
	}
}

func TestApplyZoneMoveRecordsPreviousZone(t *testing.T) {
	s := New(90*time.Second, 16)
	s.Apply(presenceEvent("e1", "emp-1", "active", t0), "OR-1")

	ch, _ := s.Apply(presenceEvent("e2", "emp-1", "idle", t0.Add(time.Minute)), "WARD-A")
	if ch == nil {
		t.Fatal("zone move with status change emitted no change")
	}
	if ch.Zone != "WARD-A" || ch.PrevZone != "OR-1" {
		t.Errorf("change = %+v, want zone WARD-A previous OR-1", ch)
	}

	// Without a zone move the previous zone stays empty.
	ch, _ = s.Apply(presenceEvent("e3", "emp-1", "active", t0.Add(2*time.Minute)), "WARD-A")
	if ch == nil || ch.PrevZone != "" {
		t.Errorf("change = %+v, want empty previous zone", ch)
	}
}

func TestLazyAwayAtReadTime(t *testing.T) {
	awayTimeout := 90 * time.Second
	s := New(awayTimeout, 16)

	s.Apply(presenceEvent("e1", "emp-1", "active", t0), "")
	s.Apply(presenceEvent("e2", "emp-1", "idle", t0.Add(300*time.Second)), "")

	// Still fresh: reported as idle.
	sub, _ := s.Get("emp-1", t0.Add(300*time.Second).Add(awayTimeout))
	if sub.Status != event.StatusIdle {
		t.Errorf("fresh read: status = %q, want idle", sub.Status)
	}

	// One second past the away timeout, with no new event.
	sub, _ = s.Get("emp-1", t0.Add(300*time.Second).Add(awayTimeout).Add(time.Second))
	if sub.Status != event.StatusAway {
		t.Errorf("stale read: status = %q, want away", sub.Status)
	}
}

func TestSweepEmitsAwayChanges(t *testing.T) {
	s := New(90*time.Second, 16)
	s.Apply(presenceEvent("e1", "emp-1", "active", t0), "OR-1")
	s.Apply(presenceEvent("e2", "emp-2", "active", t0.Add(5*time.Minute)), "OR-1")

	changes := s.Sweep(t0.Add(3 * time.Minute))
	if len(changes) != 1 {
		t.Fatalf("sweep changes = %d, want 1", len(changes))
	}
	if changes[0].Subject != "emp-1" || changes[0].New != event.StatusAway {
		t.Errorf("change = %+v", changes[0])
	}

	// Sweep is idempotent: already-away subjects are skipped.
	if again := s.Sweep(t0.Add(3 * time.Minute)); len(again) != 0 {
		t.Errorf("second sweep emitted %d changes", len(again))
	}
}

func TestDedupRingIsBounded(t *testing.T) {
	s := New(90*time.Second, 4)
	for i := 0; i < 10; i++ {
		e := presenceEvent(fmt.Sprintf("e%02d", i), "emp-1", "active", t0.Add(time.Duration(i)*time.Second))
		s.Apply(e, "")
	}
	// e00 has been evicted from the ring; replaying it is stale but not a dup.
	ch, dup := s.Apply(presenceEvent("e00", "emp-1", "active", t0), "")
	if dup {
		t.Error("evicted id still reported as duplicate")
	}
	if ch != nil {
		t.Errorf("stale replay emitted change %+v", ch)
	}
	// A recent id is still deduplicated.
	if _, dup := s.Apply(presenceEvent("e09", "emp-1", "active", t0.Add(9*time.Second)), ""); !dup {
		t.Error("recent id not deduplicated")
	}
}

func TestCurrentSortedNewestFirst(t *testing.T) {
	s := New(90*time.Second, 16)
	s.Apply(presenceEvent("e1", "emp-1", "active", t0), "")
	s.Apply(presenceEvent("e2", "emp-2", "active", t0.Add(time.Minute)), "")
	s.Apply(presenceEvent("e3", "emp-3", "active", t0.Add(30*time.Second)), "")

	out := s.Current(t0.Add(time.Minute))
	if len(out) != 3 {
		t.Fatalf("Current returned %d subjects", len(out))
	}
	want := []string{"emp-2", "emp-3", "emp-1"}
	for i, sub := range out {
		if sub.Subject != want[i] {
			t.Errorf("Current[%d] = %q, want %q", i, sub.Subject, want[i])
		}
	}
}
