package config

// Config is the top-level YAML structure: engine tunables, source
// authentication, presence/insight windows, and the compliance model
// (roles, zones, regulations).
type Config struct {
	Version     string       `yaml:"version"`
	Engine      EngineConf   `yaml:"engine"`
	Sources     SourcesConf  `yaml:"sources"`
	Presence    PresenceConf `yaml:"presence"`
	Insight     InsightConf  `yaml:"insight"`
	Roles       []Role       `yaml:"roles"`
	Zones       []Zone       `yaml:"zones"`
	Regulations []Regulation `yaml:"regulations"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	EventWorkers        int `yaml:"event_workers"`
	QueueDepth          int `yaml:"queue_depth"`
	EventTimeoutMs      int `yaml:"event_timeout_ms"`
	SweepIntervalSec    int `yaml:"sweep_interval_seconds"`
	ComplianceIntervalS int `yaml:"compliance_interval_seconds"`
}

// SourcesConf configures producer authentication and the optional broker
// ingest sources. An empty API key disables the check for that class.
type SourcesConf struct {
	EdgeAPIKey   string    `yaml:"edge_api_key"`
	ManualAPIKey string    `yaml:"manual_api_key"`
	Kafka        KafkaConf `yaml:"kafka"`
	MQTT         MQTTConf  `yaml:"mqtt"`
}

// KafkaConf enables the edge-events topic consumer when Brokers is set.
type KafkaConf struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// MQTTConf enables the positioning-beacon subscriber when Broker is set.
type MQTTConf struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// PresenceConf holds subject-state freshness rules.
type PresenceConf struct {
	AwayTimeoutSec int `yaml:"away_timeout_seconds"`
	MaxSkewSec     int `yaml:"max_clock_skew_seconds"`
	DedupPerSubj   int `yaml:"dedup_event_ids_per_subject"`
	ViewerQueue    int `yaml:"viewer_queue_size"`
}

// InsightConf holds aggregation-window tunables.
type InsightConf struct {
	LateGraceMin     int `yaml:"late_grace_minutes"`
	TimelineRetainH  int `yaml:"timeline_retention_hours"`
	TrendRetainDays  int `yaml:"trend_retention_days"`
	RecentRingEvents int `yaml:"recent_ring_events"`
}

// Role describes a staff role and the zone types it may enter.
type Role struct {
	ID          string   `yaml:"role_id"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"` // zone types this role may enter
}

// Zone is a named physical area covered by one or more cameras.
type Zone struct {
	ID        string   `yaml:"zone_id"`
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	CameraIDs []string `yaml:"camera_ids"`
}

// RoleCount bounds how many subjects with a role a zone requires/permits.
type RoleCount struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Regulation is a minimum-staffing rule set bound to a zone type.
type Regulation struct {
	ID                string               `yaml:"regulation_id"`
	ZoneType          string               `yaml:"zone_type"`
	RequiredRoles     map[string]RoleCount `yaml:"required_roles"`
	ForbiddenRoles    []string             `yaml:"forbidden_roles"`
	AllowedAbsenceSec int                  `yaml:"allowed_absence_seconds"`
	EscalationSeconds map[string]int       `yaml:"violation_escalation_seconds"`
	Severity          string               `yaml:"severity"`
}
