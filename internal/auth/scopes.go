package auth

const (
	ScopeOpenID    = "openid"
	ScopeProfile   = "profile"
	ScopeEmail     = "email"
	ScopeGroups    = "groups"
	ScopeTourRead  = "tour:read"
	ScopeTourWrite = "tour:write"
)

// LoginScopes are requested by the browser login flow. groups carries the
// role claim on most Okta setups.
var LoginScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeGroups,
}

// AllScopes defines the full set of scopes used by the Swagger UI / Frontend
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeGroups,
	ScopeTourRead,
	ScopeTourWrite,
}
