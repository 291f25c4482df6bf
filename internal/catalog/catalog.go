// Package catalog holds the authored onboarding scripts, one per role.
//
// Script order is the tour narrative and is never re-sorted. Callers always
// receive copies, so mutating a returned script cannot corrupt the catalog.
package catalog

import (
	"fmt"

	"assetdesk/backend/pkg/models"
)

// Catalog maps each supported role to its ordered script.
type Catalog struct {
	scripts map[models.Role][]models.TourStep
}

// New builds a catalog from scripts after validating them. The input is
// copied.
func New(scripts map[models.Role][]models.TourStep) (*Catalog, error) {
	c := &Catalog{scripts: make(map[models.Role][]models.TourStep, len(scripts))}
	for role, steps := range scripts {
		if !role.Supported() {
			return nil, fmt.Errorf("catalog: unsupported role %q", role)
		}
		if err := validate(role, steps); err != nil {
			return nil, err
		}
		c.scripts[role] = clone(steps)
	}
	return c, nil
}

// Steps returns a newly allocated copy of role's script. Roles without a
// script yield an empty slice.
func (c *Catalog) Steps(role models.Role) []models.TourStep {
	if c == nil {
		return []models.TourStep{}
	}
	return clone(c.scripts[role])
}

// Roles lists the roles that have a non-empty script, in AllRoles order.
func (c *Catalog) Roles() []models.Role {
	if c == nil {
		return nil
	}
	var roles []models.Role
	for _, r := range models.AllRoles {
		if len(c.scripts[r]) > 0 {
			roles = append(roles, r)
		}
	}
	return roles
}

// Merge returns a new catalog where every role present in override replaces
// the script of c.
func (c *Catalog) Merge(override *Catalog) *Catalog {
	if c == nil {
		c = &Catalog{}
	}
	out := &Catalog{scripts: make(map[models.Role][]models.TourStep, len(c.scripts))}
	for role, steps := range c.scripts {
		out.scripts[role] = clone(steps)
	}
	if override != nil {
		for role, steps := range override.scripts {
			out.scripts[role] = clone(steps)
		}
	}
	return out
}

func validate(role models.Role, steps []models.TourStep) error {
	seen := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		switch {
		case s.ID == "":
			return fmt.Errorf("catalog: %s step %d: id is required", role, i)
		case s.Route == "":
			return fmt.Errorf("catalog: %s step %q: route is required", role, s.ID)
		case s.Target == "":
			return fmt.Errorf("catalog: %s step %q: target is required", role, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("catalog: %s step %q: duplicate id", role, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func clone(steps []models.TourStep) []models.TourStep {
	out := make([]models.TourStep, len(steps))
	copy(out, steps)
	return out
}
