// Package config loads the server's JSONC configuration file, resolving
// it from an explicit path, a project-local default, or a user-level
// fallback, and applying sane defaults for anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/HyphaGroup/mcpcore/internal/schedule"
)

// AuthConfig configures the bearer-token auth middleware.
type AuthConfig struct {
	// BearerToken, when non-empty, enables static bearer-token auth.
	// Leave empty to run with authentication disabled.
	BearerToken string `json:"bearerToken"`
	// ResourceMetadataURL is advertised on 401 responses so an
	// OAuth-aware client can discover how to obtain a token.
	ResourceMetadataURL string `json:"resourceMetadataUrl"`
}

// RateLimitConfig configures the per-session/per-token/per-IP rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// JanitorConfig configures the background sweep of idle sessions and
// orphaned operations.
type JanitorConfig struct {
	// Schedule is a standard five-field cron expression.
	Schedule string `json:"schedule"`
	// SessionIdleTimeoutSeconds is how long a session may go without a
	// request before the janitor ends it. Pending operations do not count
	// as activity.
	SessionIdleTimeoutSeconds int `json:"sessionIdleTimeoutSeconds"`
}

// LoggingConfig configures where and how the server logs.
type LoggingConfig struct {
	Dir  string `json:"dir"`
	JSON bool   `json:"json"`
}

// AuditConfig configures the durable audit trail.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DataDir string `json:"dataDir"`
}

// ServerConfig is the top-level shape of the JSONC config file.
type ServerConfig struct {
	Address   string          `json:"address"`
	Endpoint  string          `json:"endpoint"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Janitor   JanitorConfig   `json:"janitor"`
	Logging   LoggingConfig   `json:"logging"`
	Audit     AuditConfig     `json:"audit"`
}

// Default returns a ServerConfig populated with the server's built-in
// defaults: auth disabled, a generous rate limit, hourly janitor sweeps
// with a 30-minute idle timeout, and text logging to ./logs.
func Default() ServerConfig {
	return ServerConfig{
		Address:  ":8080",
		Endpoint: "/mcp",
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Janitor: JanitorConfig{
			Schedule:                  "0 * * * *",
			SessionIdleTimeoutSeconds: 1800,
		},
		Logging: LoggingConfig{
			Dir:  "./logs",
			JSON: false,
		},
		Audit: AuditConfig{
			Enabled: true,
			DataDir: "./data",
		},
	}
}

// FindConfigPath resolves the config file location. If configDir is
// non-empty it is used directly. Otherwise the search order is a
// project-local config/mcpcore.jsonc, then ~/.mcpcore/config/mcpcore.jsonc.
// Returns an empty string if no candidate exists.
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		return filepath.Join(configDir, "mcpcore.jsonc"), nil
	}

	candidates := []string{filepath.Join("config", "mcpcore.jsonc")}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mcpcore", "config", "mcpcore.jsonc"))
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", nil
}

// Load reads and parses the JSONC config file at path, overlaying it on
// top of Default(). A missing path is not an error; Default() is
// returned unchanged.
func Load(path string) (ServerConfig, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	stripped := StripJSONComments(raw)
	if err := json.Unmarshal(stripped, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports whether the config is usable.
func (c ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rateLimit.requestsPerSecond must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rateLimit.burst must be positive")
	}
	if err := schedule.ValidateCron(c.Janitor.Schedule); err != nil {
		return fmt.Errorf("janitor.schedule invalid: %w", err)
	}
	return nil
}
