package models

// Identity is the authenticated caller as resolved by the auth middleware.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	// Role is empty when the token carried no recognised role.
	Role Role `json:"role,omitempty"`
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
