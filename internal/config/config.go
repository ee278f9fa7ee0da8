// Package config reads the server's configuration from the environment.
//
// cmd/server loads a .env file with godotenv first, so local development can
// keep secrets out of the shell history. Real environment variables win over
// the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const minSecretLength = 32

// Config holds all server configuration.
type Config struct {
	Port           int
	DBPath         string
	SiteURL        string   // the static blog, e.g. https://sakif.dev
	AllowedOrigins []string // CORS and websocket origins; defaults to SiteURL
	JWTSecret      string
	LogLevel       string
	GitHub         OAuthConfig
	Google         OAuthConfig
}

// OAuthConfig is one identity provider. A provider with no client ID is
// disabled and its routes are not registered.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether the provider has credentials.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != ""
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      port,
		DBPath:    getEnv("DB_PATH", "data/blog.db"),
		SiteURL:   strings.TrimRight(getEnv("SITE_URL", "http://localhost:1313"), "/"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		GitHub: OAuthConfig{
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			CallbackURL:  getEnv("GITHUB_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/github/callback", port)),
		},
		Google: OAuthConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			CallbackURL:  getEnv("GOOGLE_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/google/callback", port)),
		},
	}
	cfg.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", cfg.SiteURL))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.SiteURL == "" {
		return errors.New("SITE_URL cannot be empty")
	}
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters (try: openssl rand -hex 32)", minSecretLength)
	}
	for name, p := range map[string]OAuthConfig{"GITHUB": c.GitHub, "GOOGLE": c.Google} {
		if p.Enabled() && p.ClientSecret == "" {
			return fmt.Errorf("%s_CLIENT_SECRET is required when %s_CLIENT_ID is set", name, name)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// IsDevelopment returns true when the site is served from localhost.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.SiteURL, "localhost") || strings.Contains(c.SiteURL, "127.0.0.1")
}

// SecureCookies reports whether auth cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.SiteURL, "https://")
}

// OriginHosts returns AllowedOrigins without their scheme, the form the
// websocket origin check expects.
func (c *Config) OriginHosts() []string {
	hosts := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		hosts = append(hosts, o)
	}
	return hosts
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", key, value)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimRight(strings.TrimSpace(part), "/"); part != "" {
			out = append(out, part)
		}
	}
	return out
}
