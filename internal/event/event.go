package event

import "time"

// SchemaVersion is stamped on every outbound payload. Inbound events may omit
// it; events carrying a different major version are rejected.
const SchemaVersion = "1.0"

// Type discriminates the inbound event kinds.
type Type string

const (
	TypePresence      Type = "presence"
	TypeAIObservation Type = "ai_observation"
	TypePosition      Type = "position"
	TypeCompliance    Type = "compliance"
)

// Status is the normalized presence status of a subject.
type Status string

const (
	StatusSeen   Status = "seen"
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusAway   Status = "away"
)

// PrivacyMode controls how a subject's identity is exposed downstream.
type PrivacyMode string

const (
	PrivacyAnonymous    PrivacyMode = "anonymous"
	PrivacyPseudonymous PrivacyMode = "pseudonymous"
	PrivacyIdentified   PrivacyMode = "identified"
)

// Event is the canonical envelope every inbound event is normalized into.
// Exactly one of EmployeeID / AnonymousTrackID identifies the subject.
type Event struct {
	ID               string      `json:"event_id"`
	Type             Type        `json:"event_type"`
	Version          string      `json:"version,omitempty"`
	TS               time.Time   `json:"ts"`
	ReceivedAt       time.Time   `json:"-"`
	SourceID         string      `json:"source_id"`
	EmployeeID       string      `json:"employee_id,omitempty"`
	AnonymousTrackID string      `json:"anonymous_track_id,omitempty"`
	PrivacyMode      PrivacyMode `json:"privacy_mode,omitempty"`
	Payload          Payload     `json:"payload"`
}

// Payload carries the type-specific fields. Unknown extra fields from newer
// producers are ignored on decode (forward compatibility).
type Payload struct {
	Status     string    `json:"event,omitempty"`    // presence: seen|active|idle|away
	Activity   string    `json:"activity,omitempty"` // ai_observation
	Emotion    string    `json:"emotion,omitempty"`
	KPI        *float64  `json:"kpi,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	BBox       []float64 `json:"bbox,omitempty"`
	Zone       string    `json:"zone,omitempty"` // position
	DeviceID   string    `json:"device_id,omitempty"`
	RSSI       *float64  `json:"rssi,omitempty"`
	Role       string    `json:"role,omitempty"`
}

// Subject returns the subject key: the employee id when identified, otherwise
// the anonymous track id.
func (e *Event) Subject() string {
	if e.EmployeeID != "" {
		return e.EmployeeID
	}
	return e.AnonymousTrackID
}

// activity labels reported by the edge AI that count as actively working.
var activeActivities = map[string]bool{
	"working": true,
	"typing":  true,
	"walking": true,
	"moving":  true,
}

// DeriveStatus maps an event onto the normalized presence status. Labels the
// engine does not recognize normalize to "seen" rather than being rejected,
// so a newer edge agent cannot poison current state.
func (e *Event) DeriveStatus() Status {
	switch e.Type {
	case TypePresence:
		switch Status(e.Payload.Status) {
		case StatusSeen, StatusActive, StatusIdle, StatusAway:
			return Status(e.Payload.Status)
		}
		return StatusSeen
	case TypeAIObservation:
		if activeActivities[e.Payload.Activity] {
			return StatusActive
		}
		if e.Payload.Activity == "idle" || e.Payload.Activity == "sitting" {
			return StatusIdle
		}
		return StatusSeen
	default:
		return StatusSeen
	}
}
