// Package compliance maps aggregated subject state per zone onto a
// compliance verdict via a per-zone state machine.
package compliance

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Morgan141414/ViewPersonal/internal/event"
	"github.com/Morgan141414/ViewPersonal/internal/state"
)

// State is a zone's compliance verdict.
type State string

const (
	StateUnknown      State = "UNKNOWN"
	StateCompliant    State = "COMPLIANT"
	StateUnderstaffed State = "UNDERSTAFFED"
	StateCritical     State = "CRITICAL_VIOLATION"
)

// Snapshot is the reportable compliance state of one zone. Since only moves
// on an actual state transition, never on a no-op recomputation.
type Snapshot struct {
	ZoneID       string    `json:"zone_id"`
	RegulationID string    `json:"regulation_id,omitempty"`
	State        State     `json:"state"`
	Violations   []string  `json:"violations"`
	Since        time.Time `json:"since"`
	Severity     string    `json:"severity"`
}

type zoneMachine struct {
	mu   sync.Mutex
	snap Snapshot
}

// SubjectSource is the read surface the evaluator needs from the state store.
type SubjectSource interface {
	ByZone(zone string, now time.Time) []state.Subject
}

// Evaluator recomputes zone verdicts from current subject state plus the
// regulation model. Zones are locked individually; the model is swapped
// atomically on config reload.
type Evaluator struct {
	model    atomic.Pointer[Model]
	subjects SubjectSource

	mu    sync.RWMutex
	zones map[string]*zoneMachine
}

// NewEvaluator builds an Evaluator over the given subject source and model.
func NewEvaluator(subjects SubjectSource, m *Model) *Evaluator {
	ev := &Evaluator{
		subjects: subjects,
		zones:    make(map[string]*zoneMachine),
	}
	ev.model.Store(m)
	return ev
}

// SetModel swaps in a new compliance model (hot reload).
func (ev *Evaluator) SetModel(m *Model) {
	ev.model.Store(m)
}

// ZoneFor attributes an event to a zone under the current model.
func (ev *Evaluator) ZoneFor(e *event.Event) string {
	return ev.model.Load().ZoneForEvent(e)
}

func (ev *Evaluator) machine(zoneID string) *zoneMachine {
	ev.mu.RLock()
	zm := ev.zones[zoneID]
	ev.mu.RUnlock()
	if zm != nil {
		return zm
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if zm = ev.zones[zoneID]; zm == nil {
		zm = &zoneMachine{snap: Snapshot{ZoneID: zoneID, State: StateUnknown, Severity: "info", Violations: []string{}}}
		ev.zones[zoneID] = zm
	}
	return zm
}

// EvaluateZone recomputes one zone's verdict. It returns the snapshot and
// whether the state actually transitioned. Evaluation errors (no zone, no
// regulation) degrade the zone to UNKNOWN; a zone always has some reportable
// state.
func (ev *Evaluator) EvaluateZone(zoneID string, now time.Time) (Snapshot, bool) {
	m := ev.model.Load()
	zm := ev.machine(zoneID)
	zm.mu.Lock()
	defer zm.mu.Unlock()

	computed, regulationID, violations, severity := ev.compute(m, zoneID, now)

	changed := computed != zm.snap.State
	since := zm.snap.Since
	if changed || since.IsZero() {
		since = now
	}

	// Escalation: a violation state that persists past the regulation's
	// threshold becomes critical. That is itself a transition, so since
	// moves with it.
	if computed == StateUnderstaffed {
		switch zm.snap.State {
		case StateCritical:
			computed = StateCritical
			changed = false
			since = zm.snap.Since
		case StateUnderstaffed:
			if reg, ok := m.regByType[m.zoneByID[zoneID].Type]; ok {
				threshold := escalationSeconds(reg.EscalationSeconds, "understaffed", 120)
				if now.Sub(zm.snap.Since) > time.Duration(threshold)*time.Second {
					computed = StateCritical
					changed = true
					since = now
				}
			}
		}
	}

	zm.snap = Snapshot{
		ZoneID:       zoneID,
		RegulationID: regulationID,
		State:        computed,
		Violations:   violations,
		Since:        since,
		Severity:     severityFor(computed, severity),
	}
	return zm.snap, changed
}

func escalationSeconds(m map[string]int, key string, def int) int {
	if v, ok := m[key]; ok && v > 0 {
		return v
	}
	return def
}

// compute derives the raw verdict for a zone, before transition bookkeeping.
func (ev *Evaluator) compute(m *Model, zoneID string, now time.Time) (s State, regulationID string, violations []string, severity string) {
	violations = []string{}

	zone, ok := m.zoneByID[zoneID]
	if !ok {
		return StateUnknown, "", violations, "info"
	}
	reg, ok := m.regByType[zone.Type]
	if !ok {
		return StateUnknown, "", append(violations, "no_regulation"), "info"
	}
	regulationID = reg.ID

	subjects := ev.subjects.ByZone(zoneID, now)
	if len(subjects) == 0 {
		// Nothing has ever been seen here; there is no basis for a verdict.
		return StateUnknown, regulationID, violations, "info"
	}

	counts := make(map[string]int)
	for _, sub := range subjects {
		if sub.Status == event.StatusAway {
			continue
		}
		if reg.AllowedAbsenceSec > 0 && now.Sub(sub.LastSeenTS) > time.Duration(reg.AllowedAbsenceSec)*time.Second {
			continue
		}
		role := sub.Role
		if role == "" {
			role = "unknown"
		}
		counts[role]++
	}

	forbidden := make(map[string]bool, len(reg.ForbiddenRoles))
	for _, r := range reg.ForbiddenRoles {
		forbidden[r] = true
	}
	for roleID := range counts {
		if forbidden[roleID] {
			violations = append(violations, "forbidden:"+roleID)
			continue
		}
		if roleID == "unknown" {
			continue
		}
		if role, ok := m.roleByID[roleID]; ok {
			if !contains(role.Permissions, zone.Type) {
				violations = append(violations, "unauthorized:"+roleID)
			}
		} else {
			violations = append(violations, "unauthorized:"+roleID)
		}
	}
	for roleID, rc := range reg.RequiredRoles {
		cnt := counts[roleID]
		if cnt < rc.Min {
			violations = append(violations, "missing:"+roleID)
		}
		if rc.Max > 0 && cnt > rc.Max {
			violations = append(violations, fmt.Sprintf("over:%s", roleID))
		}
	}
	sort.Strings(violations)

	if len(violations) > 0 {
		return StateUnderstaffed, regulationID, violations, regSeverity(reg.Severity, len(reg.RequiredRoles) > 0)
	}
	return StateCompliant, regulationID, violations, "info"
}

// regSeverity: a regulation-specified severity is authoritative; otherwise
// safety-staffing regulations default to critical and the rest to info.
func regSeverity(configured string, staffing bool) string {
	if configured != "" {
		return configured
	}
	if staffing {
		return "critical"
	}
	return "info"
}

func severityFor(s State, violationSeverity string) string {
	switch s {
	case StateUnderstaffed:
		return violationSeverity
	case StateCritical:
		return "critical"
	default:
		return "info"
	}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// EvaluateAll recomputes every configured zone and returns all snapshots in
// declaration order plus the subset that transitioned.
func (ev *Evaluator) EvaluateAll(now time.Time) (all []Snapshot, transitions []Snapshot) {
	for _, zoneID := range ev.model.Load().ZoneIDs() {
		snap, changed := ev.EvaluateZone(zoneID, now)
		all = append(all, snap)
		if changed {
			transitions = append(transitions, snap)
		}
	}
	return all, transitions
}

// Snapshots returns the last computed verdicts without re-evaluating, in
// declaration order. Used by the pull read endpoints, which must be
// side-effect free.
func (ev *Evaluator) Snapshots() []Snapshot {
	var out []Snapshot
	for _, zoneID := range ev.model.Load().ZoneIDs() {
		zm := ev.machine(zoneID)
		zm.mu.Lock()
		out = append(out, zm.snap)
		zm.mu.Unlock()
	}
	return out
}

// Snapshot returns the last computed verdict for one zone.
func (ev *Evaluator) Snapshot(zoneID string) (Snapshot, bool) {
	m := ev.model.Load()
	if _, ok := m.zoneByID[zoneID]; !ok {
		return Snapshot{}, false
	}
	zm := ev.machine(zoneID)
	zm.mu.Lock()
	defer zm.mu.Unlock()
	return zm.snap, true
}
