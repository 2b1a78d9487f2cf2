package config

import (
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "memberbase",
				Password: "secret",
				Name:     "memberbase",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=memberbase password=secret dbname=memberbase sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "members",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=members sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig helpers
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetPublicURL(t *testing.T) {
	cfg := ServerConfig{BaseURL: "http://internal:8080"}
	if got := cfg.GetPublicURL(); got != "http://internal:8080" {
		t.Errorf("GetPublicURL() = %q, want base_url fallback", got)
	}

	cfg.PublicURL = "https://members.example.org"
	if got := cfg.GetPublicURL(); got != "https://members.example.org" {
		t.Errorf("GetPublicURL() = %q, want public_url", got)
	}
}

func TestLocation(t *testing.T) {
	cfg := ServerConfig{TimeZone: "Europe/Berlin"}
	if got := cfg.Location().String(); got != "Europe/Berlin" {
		t.Errorf("Location() = %q, want Europe/Berlin", got)
	}

	cfg.TimeZone = "Not/AZone"
	if got := cfg.Location(); got != time.UTC {
		t.Errorf("Location() for invalid zone = %v, want UTC", got)
	}

	cfg.TimeZone = ""
	if got := cfg.Location(); got != time.UTC {
		t.Errorf("Location() for empty zone = %v, want UTC", got)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

// validConfig returns a config that passes Validate, for mutation in table tests.
func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			BaseURL:  "http://localhost:8080",
			TimeZone: "UTC",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "memberbase",
			User: "memberbase",
		},
		Auth: AuthConfig{
			SessionTimeout:       24 * time.Hour,
			VerificationTokenTTL: 72 * time.Hour,
			LoginThrottle: LoginThrottleConfig{
				MaxFailures: 5,
				Cooldown:    15 * time.Minute,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"missing base url", func(c *Config) { c.Server.BaseURL = "" }, "base_url"},
		{"bad time zone", func(c *Config) { c.Server.TimeZone = "Mars/Olympus" }, "time_zone"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"missing db name", func(c *Config) { c.Database.Name = "" }, "database.name"},
		{"missing db user", func(c *Config) { c.Database.User = "" }, "database.user"},
		{"zero session timeout", func(c *Config) { c.Auth.SessionTimeout = 0 }, "session_timeout"},
		{"zero token ttl", func(c *Config) { c.Auth.VerificationTokenTTL = 0 }, "verification_token_ttl"},
		{"zero max failures", func(c *Config) { c.Auth.LoginThrottle.MaxFailures = 0 }, "max_failures"},
		{"zero cooldown", func(c *Config) { c.Auth.LoginThrottle.Cooldown = 0 }, "cooldown"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging level"},
		{
			"tls without cert",
			func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, KeyFile: "k"} },
			"cert_file",
		},
		{
			"file shipper without path",
			func(c *Config) {
				c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "file", File: &AuditFileConfig{}}}
			},
			"file.path",
		},
		{
			"webhook shipper without url",
			func(c *Config) {
				c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "webhook", Webhook: &AuditWebhookConfig{}}}
			},
			"webhook.url",
		},
		{
			"unknown shipper type",
			func(c *Config) {
				c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "syslog"}}
			},
			"unknown shipper type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_DisabledShipperSkipped(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Shippers = []AuditShipperConfig{{Enabled: false, Type: "file"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for disabled shipper", err)
	}
}

// ---------------------------------------------------------------------------
// Load defaults
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	// ssl_mode=require fails nothing at load time; Load never dials the DB.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port default = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.SessionTimeout != 24*time.Hour {
		t.Errorf("auth.session_timeout default = %v, want 24h", cfg.Auth.SessionTimeout)
	}
	if cfg.Auth.VerificationTokenTTL != 72*time.Hour {
		t.Errorf("auth.verification_token_ttl default = %v, want 72h", cfg.Auth.VerificationTokenTTL)
	}
	if cfg.Auth.LoginThrottle.MaxFailures != 5 {
		t.Errorf("login_throttle.max_failures default = %d, want 5", cfg.Auth.LoginThrottle.MaxFailures)
	}
	if cfg.Auth.LoginThrottle.Cooldown != 15*time.Minute {
		t.Errorf("login_throttle.cooldown default = %v, want 15m", cfg.Auth.LoginThrottle.Cooldown)
	}
	if !cfg.Auth.RequireVerifiedEmail {
		t.Error("auth.require_verified_email default = false, want true")
	}
	if cfg.Notifications.OutboxMaxAttempts != 5 {
		t.Errorf("notifications.outbox_max_attempts default = %d, want 5", cfg.Notifications.OutboxMaxAttempts)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MB_SERVER_PORT", "9999")
	t.Setenv("MB_AUTH_LOGIN_THROTTLE_MAX_FAILURES", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999 from env", cfg.Server.Port)
	}
	if cfg.Auth.LoginThrottle.MaxFailures != 3 {
		t.Errorf("login_throttle.max_failures = %d, want 3 from env", cfg.Auth.LoginThrottle.MaxFailures)
	}
}

func TestLoad_UnprefixedJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "infra-injected-secret-0123456789abcdef")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Auth.JWTSecret != "infra-injected-secret-0123456789abcdef" {
		t.Errorf("auth.jwt_secret = %q, want unprefixed JWT_SECRET value", cfg.Auth.JWTSecret)
	}
}
