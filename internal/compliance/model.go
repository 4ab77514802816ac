package compliance

import (
	"github.com/Morgan141414/ViewPersonal/internal/config"
	"github.com/Morgan141414/ViewPersonal/internal/event"
)

// Model is the immutable, pre-indexed compliance model a config revision
// compiles into. The evaluator swaps it atomically on hot reload.
type Model struct {
	zones        []config.Zone
	zoneByID     map[string]config.Zone
	regByType    map[string]config.Regulation
	roleByID     map[string]config.Role
	cameraToZone map[string]string
}

// BuildModel indexes a validated config for evaluation.
func BuildModel(cfg *config.Config) *Model {
	m := &Model{
		zones:        cfg.Zones,
		zoneByID:     make(map[string]config.Zone, len(cfg.Zones)),
		regByType:    make(map[string]config.Regulation, len(cfg.Regulations)),
		roleByID:     make(map[string]config.Role, len(cfg.Roles)),
		cameraToZone: make(map[string]string),
	}
	for _, z := range cfg.Zones {
		m.zoneByID[z.ID] = z
		for _, cam := range z.CameraIDs {
			m.cameraToZone[cam] = z.ID
		}
	}
	for _, r := range cfg.Regulations {
		m.regByType[r.ZoneType] = r
	}
	for _, r := range cfg.Roles {
		m.roleByID[r.ID] = r
	}
	return m
}

// ZoneForEvent attributes an event to a zone: an explicit payload zone wins,
// otherwise the source camera's mapping decides.
func (m *Model) ZoneForEvent(e *event.Event) string {
	if e.Payload.Zone != "" {
		return e.Payload.Zone
	}
	return m.cameraToZone[e.SourceID]
}

// ZoneIDs returns the configured zone ids in declaration order.
func (m *Model) ZoneIDs() []string {
	ids := make([]string, 0, len(m.zones))
	for _, z := range m.zones {
		ids = append(ids, z.ID)
	}
	return ids
}
