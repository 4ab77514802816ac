package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for:
//   - Duplicate ids across roles, zones, and regulations
//   - Cameras mapped to more than one zone
//   - Regulations referencing undeclared roles or unused zone types
//   - Required fields and sane min/max bounds
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	roleIDs := make(map[string]bool)
	for i, r := range cfg.Roles {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("roles[%d]: role_id is required", i))
			continue
		}
		if roleIDs[r.ID] {
			errs = append(errs, fmt.Sprintf("duplicate role_id %q", r.ID))
		}
		roleIDs[r.ID] = true
	}

	zoneIDs := make(map[string]bool)
	zoneTypes := make(map[string]bool)
	cameras := make(map[string]string) // camera -> zone
	for i, z := range cfg.Zones {
		if z.ID == "" {
			errs = append(errs, fmt.Sprintf("zones[%d]: zone_id is required", i))
			continue
		}
		if zoneIDs[z.ID] {
			errs = append(errs, fmt.Sprintf("duplicate zone_id %q", z.ID))
		}
		zoneIDs[z.ID] = true
		zoneTypes[z.Type] = true
		for _, cam := range z.CameraIDs {
			if prev, ok := cameras[cam]; ok {
				errs = append(errs, fmt.Sprintf("camera %q mapped to both zone %q and zone %q", cam, prev, z.ID))
				continue
			}
			cameras[cam] = z.ID
		}
	}

	regIDs := make(map[string]bool)
	regTypes := make(map[string]bool)
	for i, r := range cfg.Regulations {
		loc := fmt.Sprintf("regulations[%d]", i)
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("%s: regulation_id is required", loc))
			continue
		}
		loc = fmt.Sprintf("regulation %s", r.ID)
		if regIDs[r.ID] {
			errs = append(errs, fmt.Sprintf("duplicate regulation_id %q", r.ID))
		}
		regIDs[r.ID] = true
		if r.ZoneType == "" {
			errs = append(errs, fmt.Sprintf("%s: zone_type is required", loc))
		} else {
			if regTypes[r.ZoneType] {
				errs = append(errs, fmt.Sprintf("%s: zone_type %q already has a regulation", loc, r.ZoneType))
			}
			regTypes[r.ZoneType] = true
			if !zoneTypes[r.ZoneType] {
				errs = append(errs, fmt.Sprintf("%s: no zone has type %q", loc, r.ZoneType))
			}
		}
		for role, rc := range r.RequiredRoles {
			if !roleIDs[role] {
				errs = append(errs, fmt.Sprintf("%s: required role %q is not declared", loc, role))
			}
			if rc.Min < 0 {
				errs = append(errs, fmt.Sprintf("%s: required_roles[%s].min must be >= 0", loc, role))
			}
			if rc.Max > 0 && rc.Max < rc.Min {
				errs = append(errs, fmt.Sprintf("%s: required_roles[%s] max %d < min %d", loc, role, rc.Max, rc.Min))
			}
		}
		for _, role := range r.ForbiddenRoles {
			if !roleIDs[role] {
				errs = append(errs, fmt.Sprintf("%s: forbidden role %q is not declared", loc, role))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
