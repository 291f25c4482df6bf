package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray config.yaml is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "/login", cfg.Tour.LoginRoute)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 2500*time.Millisecond, cfg.TargetTimeout())
	assert.Equal(t, 30*time.Minute, cfg.Tour.SessionTTL)
	assert.Equal(t, "role", cfg.Auth.RoleClaim)
	assert.False(t, cfg.IsDev())
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	dir := chdir(t)
	yaml := `
environment: dev
db:
  driver: postgres
  host: db.internal
auth:
  okta_domain: "https://acme.okta.com/oauth2/default/"
  role_mapping:
    it-admins: admin
tour:
  target_timeout_ms: 4000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("ASSETDESK_DB_HOST", "override.internal")
	t.Setenv("ASSETDESK_AUTH_CLIENT_ID", "client-1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "override.internal", cfg.DB.Host)
	assert.Equal(t, "client-1", cfg.Auth.ClientID)
	assert.Equal(t, "https://acme.okta.com/oauth2/default", cfg.Auth.OktaDomain)
	assert.Equal(t, "admin", cfg.Auth.RoleMapping["it-admins"])
	assert.Equal(t, 4*time.Second, cfg.TargetTimeout())
	assert.Equal(t, "postgres://:@override.internal:5432/?sslmode=disable", cfg.PostgresDSN())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := chdir(t)
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ASSETDESK_DB_DRIVER=memory\nASSETDESK_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ASSETDESK_DB_DRIVER")
		os.Unsetenv("ASSETDESK_LOG_LEVEL")
	})

	cfg, err := LoadConfig(envFile)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DB.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = LoadConfig(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	chdir(t)
	t.Setenv("ASSETDESK_DB_DRIVER", "mongo")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestNormalizeOktaIssuer(t *testing.T) {
	assert.Equal(t, "https://a.okta.com", normalizeOktaIssuer(" https://a.okta.com// "))
	assert.Equal(t, "", normalizeOktaIssuer(""))
}
