package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ASSETDESK_DB_HOST.
const EnvPrefix = "ASSETDESK"

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Port          int    `mapstructure:"port"`
	DB            struct {
		// Driver selects the progress storage: postgres, sqlite or memory.
		Driver   string `mapstructure:"driver"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		Path     string `mapstructure:"path"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
		// RoleClaim names the token claim carrying the application role.
		RoleClaim string `mapstructure:"role_claim"`
		// RoleMapping translates provider group names to roles.
		RoleMapping map[string]string `mapstructure:"role_mapping"`
		// DevRole is the role of the bypass identity.
		DevRole string `mapstructure:"dev_role"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Tour struct {
		LoginRoute      string        `mapstructure:"login_route"`
		PollIntervalMs  int           `mapstructure:"poll_interval_ms"`
		TargetTimeoutMs int           `mapstructure:"target_timeout_ms"`
		CatalogFile     string        `mapstructure:"catalog_file"`
		SessionTTL      time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"tour"`
	Browser struct {
		BaseURL  string `mapstructure:"base_url"`
		Headless bool   `mapstructure:"headless"`
		Bin      string `mapstructure:"bin"`
	} `mapstructure:"browser"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	OTel struct {
		// Endpoint is the OTLP/HTTP collector base URL for traces and metrics.
		// Empty disables telemetry.
		Endpoint string `mapstructure:"endpoint"`
		Enabled  bool   `mapstructure:"enabled"`
	} `mapstructure:"otel"`
}

// IsDev reports whether the DEV environment is configured.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// PollInterval is the anchor polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Tour.PollIntervalMs) * time.Millisecond
}

// TargetTimeout bounds the anchor wait of each step.
func (c *Config) TargetTimeout() time.Duration {
	return time.Duration(c.Tour.TargetTimeoutMs) * time.Millisecond
}

// PostgresDSN builds a connection string from the db section.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("port", 8080)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "assetdesk.db")
	v.SetDefault("auth.role_claim", "role")
	v.SetDefault("auth.dev_role", "admin")
	v.SetDefault("tour.login_route", "/login")
	v.SetDefault("tour.poll_interval_ms", 100)
	v.SetDefault("tour.target_timeout_ms", 2500)
	v.SetDefault("tour.session_ttl", 30*time.Minute)
	v.SetDefault("browser.base_url", "http://localhost:5173")
	v.SetDefault("browser.headless", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("otel.enabled", true)
}

// LoadConfig loads the configuration from config.yaml (optional), an
// optional dotenv file and the environment, in increasing precedence.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// bindEnv registers keys without defaults so AutomaticEnv sees them during
// Unmarshal.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"dev_mode_bypass", "db.user", "db.password", "db.name",
		"auth.okta_domain", "auth.client_id", "auth.client_secret",
		"auth.redirect_url", "auth.swagger_client_id",
		"tls.enable", "tls.cert_file", "tls.key_file",
		"tour.catalog_file", "browser.bin", "otel.endpoint",
	} {
		_ = v.BindEnv(key)
	}
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}
	if c.Tour.PollIntervalMs <= 0 || c.Tour.TargetTimeoutMs <= 0 {
		return errors.New("tour poll interval and target timeout must be positive")
	}
	return nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
