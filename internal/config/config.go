package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Booting options recognized in MINI_IDP_BOOTING_OPTIONS.
const (
	BootOptionBootstrap    = "bootstrap"
	BootOptionDataReset    = "bootstrap:data-reset"
	BootOptionSessionReset = "bootstrap:session-reset"
)

// Soft ceilings for token lifetimes. Values above these are clamped, not
// rejected, so a misconfigured deployment still boots.
const (
	MaxAccessTokenTTL  = 24 * time.Hour
	MaxRefreshTokenTTL = 7 * 24 * time.Hour
)

// Config holds the application configuration.
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// SelfReferenceURI is the canonical issuer URL. Always ends with "/".
	SelfReferenceURI string

	// PEM key file paths for the signing/encryption key pair
	PrivateKeyFile string
	PublicKeyFile  string

	// Token lifetimes
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// VerificationTTL is the device-flow verification window.
	VerificationTTL time.Duration

	// BootingOptions is the parsed MINI_IDP_BOOTING_OPTIONS list.
	BootingOptions []string

	// BootstrapOwner seeds the root user when bootstrapping.
	BootstrapOwner OwnerConfig

	// SnapshotFiles are optional JSON/YAML snapshots replayed after bootstrap.
	SnapshotFiles []string

	// Enable debug logging
	Debug bool
}

// OwnerConfig holds the root user seed credentials.
type OwnerConfig struct {
	ID       string
	Name     string
	Email    string
	Password string
}

// HasBootingOption reports whether the named option was enabled.
func (c *Config) HasBootingOption(name string) bool {
	for _, opt := range c.BootingOptions {
		if opt == name {
			return true
		}
	}
	return false
}

// OAuthBaseURL returns the base URL of the OAuth endpoints, without a
// trailing slash.
func (c *Config) OAuthBaseURL() string {
	return strings.TrimSuffix(c.SelfReferenceURI, "/") + "/oauth"
}

// Load reads configuration from MINI_IDP_* environment variables with
// fallback defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      getEnv("MINI_IDP_DATABASE_URL", "miniidp.db"),
		ServerAddr:       getEnv("MINI_IDP_SERVER_ADDR", "localhost:8081"),
		SelfReferenceURI: getEnv("MINI_IDP_SELF_REF_URI", "http://localhost:8081/"),
		PrivateKeyFile:   getEnv("MINI_IDP_PRIVATE_KEY_FILE", "private.pem"),
		PublicKeyFile:    getEnv("MINI_IDP_PUBLIC_KEY_FILE", "public.pem"),
		AccessTokenTTL:   getEnvSeconds("MINI_IDP_ACCESS_TOKEN_TTL", 1800),
		RefreshTokenTTL:  getEnvSeconds("MINI_IDP_REFRESH_TOKEN_TTL", 43200),
		VerificationTTL:  getEnvSeconds("MINI_IDP_VERIFICATION_TTL", 600),
		BootingOptions:   getEnvList("MINI_IDP_BOOTING_OPTIONS"),
		SnapshotFiles:    getEnvList("MINI_IDP_SNAPSHOT_FILES"),
		Debug:            getEnvBool("MINI_IDP_DEBUG", false),
		BootstrapOwner: OwnerConfig{
			ID:       getEnv("MINI_IDP_BOOTSTRAP_OWNER_USER_ID", ""),
			Name:     getEnv("MINI_IDP_BOOTSTRAP_OWNER_USER_NAME", ""),
			Email:    getEnv("MINI_IDP_BOOTSTRAP_OWNER_USER_EMAIL", ""),
			Password: getEnv("MINI_IDP_BOOTSTRAP_OWNER_USER_PASSWORD", ""),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("MINI_IDP_DATABASE_URL is required")
	}
	if cfg.SelfReferenceURI == "" {
		return nil, fmt.Errorf("MINI_IDP_SELF_REF_URI is required")
	}

	// The issuer doubles as a policy resource prefix; the trailing slash is
	// what makes it a prefix.
	if !strings.HasSuffix(cfg.SelfReferenceURI, "/") {
		cfg.SelfReferenceURI += "/"
	}

	if cfg.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("MINI_IDP_ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.RefreshTokenTTL <= 0 {
		return nil, fmt.Errorf("MINI_IDP_REFRESH_TOKEN_TTL must be positive")
	}
	if cfg.AccessTokenTTL > MaxAccessTokenTTL {
		cfg.AccessTokenTTL = MaxAccessTokenTTL
	}
	if cfg.RefreshTokenTTL > MaxRefreshTokenTTL {
		cfg.RefreshTokenTTL = MaxRefreshTokenTTL
	}

	for _, opt := range cfg.BootingOptions {
		switch opt {
		case BootOptionBootstrap, BootOptionDataReset, BootOptionSessionReset:
		default:
			return nil, fmt.Errorf("unrecognized booting option: %q", opt)
		}
	}

	if cfg.HasBootingOption(BootOptionBootstrap) {
		owner := cfg.BootstrapOwner
		if owner.Name == "" || owner.Email == "" || owner.Password == "" {
			return nil, fmt.Errorf("MINI_IDP_BOOTSTRAP_OWNER_USER_NAME, _EMAIL and _PASSWORD are required when bootstrapping")
		}
	}

	return cfg, nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// getEnvSeconds retrieves an integer number of seconds as a time.Duration
func getEnvSeconds(key string, fallback int) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return time.Duration(fallback) * time.Second
}

// getEnvBool retrieves a boolean environment variable with a fallback default
func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvList retrieves a comma-separated environment variable as a list
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
