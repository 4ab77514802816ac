package compliance

import (
	"reflect"
	"testing"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/config"
	"github.com/Morgan141414/ViewPersonal/internal/event"
	"github.com/Morgan141414/ViewPersonal/internal/state"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSubjects serves a fixed subject list per zone.
type fakeSubjects struct {
	byZone map[string][]state.Subject
}

func (f *fakeSubjects) ByZone(zone string, _ time.Time) []state.Subject {
	return f.byZone[zone]
}

func testConfig() *config.Config {
	return &config.Config{
		Roles: []config.Role{
			{ID: "nurse", Name: "Nurse", Permissions: []string{"operating_room", "ward"}},
			{ID: "doctor", Name: "Doctor", Permissions: []string{"operating_room", "ward"}},
			{ID: "visitor", Name: "Visitor", Permissions: []string{"reception"}},
		},
		Zones: []config.Zone{
			{ID: "OR-1", Name: "Operating room 1", Type: "operating_room", CameraIDs: []string{"cam-1"}},
			{ID: "LOBBY", Name: "Lobby", Type: "reception", CameraIDs: []string{"cam-4"}},
		},
		Regulations: []config.Regulation{
			{
				ID:       "reg-or",
				ZoneType: "operating_room",
				RequiredRoles: map[string]config.RoleCount{
					"nurse":  {Min: 1, Max: 4},
					"doctor": {Min: 1, Max: 2},
				},
				ForbiddenRoles:    []string{"visitor"},
				EscalationSeconds: map[string]int{"understaffed": 120},
				Severity:          "critical",
			},
		},
	}
}

func subj(id, role string, status event.Status, lastSeen time.Time) state.Subject {
	return state.Subject{Subject: id, Role: role, Status: status, LastSeenTS: lastSeen, Zone: "OR-1"}
}

func TestEvaluateZoneMissingRole(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{
		"OR-1": {subj("emp-1", "doctor", event.StatusActive, t0)},
	}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	snap, changed := ev.EvaluateZone("OR-1", t0)
	if !changed {
		t.Fatal("first evaluation did not report a transition")
	}
	if snap.State != StateUnderstaffed {
		t.Fatalf("state = %s, want UNDERSTAFFED", snap.State)
	}
	if want := []string{"missing:nurse"}; !reflect.DeepEqual(snap.Violations, want) {
		t.Errorf("violations = %v, want %v", snap.Violations, want)
	}
	if snap.Severity != "critical" {
		t.Errorf("severity = %q, want critical", snap.Severity)
	}
	if snap.RegulationID != "reg-or" {
		t.Errorf("regulation_id = %q", snap.RegulationID)
	}
}

func TestEvaluateZoneCompliant(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{
		"OR-1": {
			subj("emp-1", "doctor", event.StatusActive, t0),
			subj("emp-2", "nurse", event.StatusIdle, t0),
		},
	}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	snap, _ := ev.EvaluateZone("OR-1", t0)
	if snap.State != StateCompliant {
		t.Fatalf("state = %s, want COMPLIANT", snap.State)
	}
	if len(snap.Violations) != 0 {
		t.Errorf("violations = %v, want none", snap.Violations)
	}
}

func TestEvaluateZoneAwaySubjectsDoNotCount(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{
		"OR-1": {
			subj("emp-1", "doctor", event.StatusActive, t0),
			subj("emp-2", "nurse", event.StatusAway, t0.Add(-10*time.Minute)),
		},
	}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	snap, _ := ev.EvaluateZone("OR-1", t0)
	if snap.State != StateUnderstaffed {
		t.Fatalf("state = %s, want UNDERSTAFFED (away nurse must not count)", snap.State)
	}
}

func TestEvaluateZoneForbiddenAndOver(t *testing.T) {
	subjects := []state.Subject{
		subj("emp-1", "doctor", event.StatusActive, t0),
		subj("emp-2", "nurse", event.StatusActive, t0),
		subj("vis-1", "visitor", event.StatusActive, t0),
	}
	// Three doctors over the max of two.
	subjects = append(subjects,
		subj("emp-3", "doctor", event.StatusActive, t0),
		subj("emp-4", "doctor", event.StatusActive, t0),
	)
	src := &fakeSubjects{byZone: map[string][]state.Subject{"OR-1": subjects}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	snap, _ := ev.EvaluateZone("OR-1", t0)
	if snap.State != StateUnderstaffed {
		t.Fatalf("state = %s, want UNDERSTAFFED", snap.State)
	}
	want := []string{"forbidden:visitor", "over:doctor"}
	if !reflect.DeepEqual(snap.Violations, want) {
		t.Errorf("violations = %v, want %v", snap.Violations, want)
	}
}

func TestEvaluateZoneNoRegulation(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{
		"LOBBY": {{Subject: "vis-1", Role: "visitor", Status: event.StatusActive, LastSeenTS: t0, Zone: "LOBBY"}},
	}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	snap, _ := ev.EvaluateZone("LOBBY", t0)
	if snap.State != StateUnknown {
		t.Fatalf("state = %s, want UNKNOWN", snap.State)
	}
	if want := []string{"no_regulation"}; !reflect.DeepEqual(snap.Violations, want) {
		t.Errorf("violations = %v, want %v", snap.Violations, want)
	}
}

func TestEvaluateZoneNeverSeenIsUnknown(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	snap, changed := ev.EvaluateZone("OR-1", t0)
	if snap.State != StateUnknown {
		t.Fatalf("state = %s, want UNKNOWN for a zone with no observations", snap.State)
	}
	if changed {
		t.Error("UNKNOWN -> UNKNOWN reported as a transition")
	}
}

func TestSinceMovesOnlyOnTransition(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{
		"OR-1": {subj("emp-1", "doctor", event.StatusActive, t0)},
	}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	first, _ := ev.EvaluateZone("OR-1", t0)

	// Re-evaluating the same situation must not move since.
	second, changed := ev.EvaluateZone("OR-1", t0.Add(30*time.Second))
	if changed {
		t.Fatal("no-op recomputation reported a transition")
	}
	if !second.Since.Equal(first.Since) {
		t.Errorf("since moved on no-op: %v -> %v", first.Since, second.Since)
	}

	// Fixing the violation is a transition, so since moves.
	src.byZone["OR-1"] = append(src.byZone["OR-1"], subj("emp-2", "nurse", event.StatusActive, t0))
	third, changed := ev.EvaluateZone("OR-1", t0.Add(time.Minute))
	if !changed || third.State != StateCompliant {
		t.Fatalf("expected transition to COMPLIANT, got %s changed=%v", third.State, changed)
	}
	if !third.Since.Equal(t0.Add(time.Minute)) {
		t.Errorf("since = %v, want evaluation time", third.Since)
	}
}

func TestEscalationToCritical(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{
		"OR-1": {subj("emp-1", "doctor", event.StatusActive, t0)},
	}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	ev.EvaluateZone("OR-1", t0)

	// Still inside the 120s escalation window.
	snap, changed := ev.EvaluateZone("OR-1", t0.Add(100*time.Second))
	if snap.State != StateUnderstaffed || changed {
		t.Fatalf("inside window: state=%s changed=%v", snap.State, changed)
	}

	// Past the window the violation escalates. That is a transition.
	escalateAt := t0.Add(121 * time.Second)
	snap, changed = ev.EvaluateZone("OR-1", escalateAt)
	if snap.State != StateCritical || !changed {
		t.Fatalf("past window: state=%s changed=%v, want CRITICAL_VIOLATION/true", snap.State, changed)
	}
	if !snap.Since.Equal(escalateAt) {
		t.Errorf("since = %v, want escalation time", snap.Since)
	}
	if snap.Severity != "critical" {
		t.Errorf("severity = %q, want critical", snap.Severity)
	}

	// Critical is sticky while the violation persists.
	again, changed := ev.EvaluateZone("OR-1", escalateAt.Add(time.Minute))
	if again.State != StateCritical || changed {
		t.Fatalf("sticky critical: state=%s changed=%v", again.State, changed)
	}
	if !again.Since.Equal(escalateAt) {
		t.Errorf("since moved while critical: %v", again.Since)
	}

	// Recovery clears it.
	src.byZone["OR-1"] = append(src.byZone["OR-1"], subj("emp-2", "nurse", event.StatusActive, t0))
	snap, changed = ev.EvaluateZone("OR-1", escalateAt.Add(2*time.Minute))
	if snap.State != StateCompliant || !changed {
		t.Fatalf("recovery: state=%s changed=%v", snap.State, changed)
	}
}

func TestZoneForEvent(t *testing.T) {
	m := BuildModel(testConfig())

	e := &event.Event{SourceID: "cam-1"}
	if got := m.ZoneForEvent(e); got != "OR-1" {
		t.Errorf("camera mapping: zone = %q, want OR-1", got)
	}
	e.Payload.Zone = "LOBBY"
	if got := m.ZoneForEvent(e); got != "LOBBY" {
		t.Errorf("explicit zone: zone = %q, want LOBBY", got)
	}
	if got := m.ZoneForEvent(&event.Event{SourceID: "cam-99"}); got != "" {
		t.Errorf("unmapped camera: zone = %q, want empty", got)
	}
}

func TestSetModelHotReload(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{}}
	ev := NewEvaluator(src, BuildModel(testConfig()))

	cfg := testConfig()
	cfg.Zones = append(cfg.Zones, config.Zone{ID: "WARD-A", Type: "ward", CameraIDs: []string{"cam-3"}})
	ev.SetModel(BuildModel(cfg))

	all, _ := ev.EvaluateAll(t0)
	if len(all) != 3 {
		t.Fatalf("EvaluateAll after reload returned %d zones, want 3", len(all))
	}
	if all[2].ZoneID != "WARD-A" {
		t.Errorf("new zone missing from snapshots: %+v", all)
	}
}

func TestSnapshotsAreSideEffectFree(t *testing.T) {
	src := &fakeSubjects{byZone: map[string][]state.Subject{
		"OR-1": {subj("emp-1", "doctor", event.StatusActive, t0)},
	}}
	ev := NewEvaluator(src, BuildModel(testConfig()))
	ev.EvaluateZone("OR-1", t0)

	before, _ := ev.Snapshot("OR-1")
	snaps := ev.Snapshots()
	after, _ := ev.Snapshot("OR-1")
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Snapshots mutated state: %+v -> %+v", before, after)
	}
	if len(snaps) != 2 {
		t.Errorf("Snapshots returned %d zones, want 2", len(snaps))
	}
	if _, ok := ev.Snapshot("NOPE"); ok {
		t.Error("Snapshot for undeclared zone reported ok")
	}
}
