package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"assetdesk/backend/internal/config"
	"assetdesk/backend/pkg/models"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

// DevRoleHeader lets bypass-mode callers pick the role of the dev identity,
// so each role's tour can be exercised without an identity provider.
const DevRoleHeader = "X-Assetdesk-Role"

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller resolved by RequireAuth.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication with an Okta tenant and for resolving the caller's role.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	logger       Logger
	devMode      bool
	authBypass   bool
	roleClaim    string
	roleMapping  map[string]models.Role
	devRole      models.Role
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares an
// ID token verifier.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	isDev := cfg.IsDev()
	shouldBypass := isDev && cfg.DevModeBypass

	mapping, err := parseRoleMapping(cfg.Auth.RoleMapping)
	if err != nil {
		return nil, err
	}
	devRole, _ := models.ParseRole(cfg.Auth.DevRole)
	claim := cfg.Auth.RoleClaim
	if claim == "" {
		claim = "role"
	}

	a := &Auth{
		logger:      logger,
		devMode:     isDev,
		authBypass:  shouldBypass,
		roleClaim:   claim,
		roleMapping: mapping,
		devRole:     devRole,
	}
	if shouldBypass {
		return a, nil
	}

	if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
		cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider: %w", err)
	}

	a.oauth2Config = &oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       LoginScopes,
	}
	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})
	// Access tokens usually carry an API audience rather than the client id.
	a.apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return a, nil
}

// Bypass reports whether requests are authenticated as the dev identity.
func (a *Auth) Bypass() bool {
	return a.authBypass
}

// LoginHandler initiates the OAuth2 authorization code flow by redirecting the
// user to the Okta authorization endpoint. A random state value is stored in a
// cookie to mitigate CSRF attacks.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the redirect back from Okta. It verifies the state
// parameter, exchanges the code for tokens, validates the ID token, and sets a
// session cookie containing the raw ID token.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	idToken, err := a.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}
	if id, err := a.identityFromToken(idToken); err == nil && a.logger != nil {
		a.logger.Info("user signed in", "user_id", id.UserID, "role", id.Role)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth is middleware that resolves the caller's identity from a Bearer
// token or the ID token cookie and injects it into the request context. A
// request without credentials is redirected to the login page.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authBypass {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), a.devIdentity(r))))
			return
		}

		var token *oidc.IDToken
		var err error

		// Check for Authorization header first (for Swagger/API clients)
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			rawToken := strings.TrimPrefix(authHeader, "Bearer ")
			token, err = a.apiVerifier.Verify(r.Context(), rawToken)
			if err != nil {
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}
		} else {
			cookie, cookieErr := r.Cookie("id_token")
			if cookieErr != nil {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			token, err = a.verifier.Verify(r.Context(), cookie.Value)
			if err != nil {
				http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
				return
			}
		}

		id, err := a.identityFromToken(token)
		if err != nil {
			if a.logger != nil {
				a.logger.Error("failed to resolve identity", "error", err)
			}
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if a.logger != nil {
			a.logger.Debug("request authenticated", "user_id", id.UserID, "role", id.Role)
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// LogoutHandler clears the session cookie and redirects to the home page.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *Auth) devIdentity(r *http.Request) models.Identity {
	role := a.devRole
	if override, ok := models.ParseRole(r.Header.Get(DevRoleHeader)); ok {
		role = override
	}
	return models.Identity{
		UserID: "dev",
		Email:  "dev@localhost",
		Name:   "Developer",
		Role:   role,
	}
}

func (a *Auth) identityFromToken(token *oidc.IDToken) (models.Identity, error) {
	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return models.Identity{}, fmt.Errorf("failed to parse token claims: %w", err)
	}
	id := models.Identity{
		UserID: token.Subject,
		Email:  stringClaim(claims, "email"),
		Name:   stringClaim(claims, "name"),
		Role:   a.resolveRole(claims[a.roleClaim]),
	}
	if id.UserID == "" {
		id.UserID = id.Email
	}
	if id.UserID == "" {
		return models.Identity{}, errors.New("token carries neither subject nor email")
	}
	return id, nil
}

// resolveRole accepts a single role string or a group list and returns the
// first value that maps to a supported role. No match yields "".
func (a *Auth) resolveRole(claim any) models.Role {
	var values []string
	switch v := claim.(type) {
	case string:
		values = []string{v}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}
	for _, v := range values {
		if role, ok := a.roleMapping[strings.ToLower(v)]; ok {
			return role
		}
		if role, ok := models.ParseRole(v); ok {
			return role
		}
	}
	return ""
}

func parseRoleMapping(raw map[string]string) (map[string]models.Role, error) {
	out := make(map[string]models.Role, len(raw))
	for group, name := range raw {
		role, ok := models.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("role mapping %q: unsupported role %q", group, name)
		}
		out[strings.ToLower(group)] = role
	}
	return out, nil
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
