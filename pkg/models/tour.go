// Package models defines the domain models shared by the tour engine and its
// HTTP, MCP and CLI surfaces.
package models

import "strings"

// Role identifies which onboarding script a user receives.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSupport Role = "support"
	RolePM      Role = "pm"
	RoleUser    Role = "user"
)

// AllRoles lists the supported roles in a stable order.
var AllRoles = []Role{RoleAdmin, RoleSupport, RolePM, RoleUser}

// Supported reports whether r belongs to the closed role enumeration.
func (r Role) Supported() bool {
	switch r {
	case RoleAdmin, RoleSupport, RolePM, RoleUser:
		return true
	}
	return false
}

// ParseRole normalizes s and returns the matching role. Unknown values return
// false and the engine treats them as "no tour".
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Supported()
}

// WholeViewport is the sentinel target for steps not anchored to an element.
// Steps whose anchor never appears are pinned to it so they still display,
// centered.
const WholeViewport = "body"

// PlacementCenter is the popover placement used with WholeViewport.
const PlacementCenter = "center"

// TourStep is one authored step of a role script.
type TourStep struct {
	ID        string `json:"id" yaml:"id"`
	Route     string `json:"route" yaml:"route"`
	Target    string `json:"target" yaml:"target"`
	Title     string `json:"title" yaml:"title"`
	Content   string `json:"content" yaml:"content"`
	Placement string `json:"placement,omitempty" yaml:"placement,omitempty"`
}

// IsWholeViewport reports whether the step highlights the whole viewport.
func (s TourStep) IsWholeViewport() bool {
	return s.Target == WholeViewport
}
