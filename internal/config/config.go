// Package config loads the gateway's environment configuration. None of these
// knobs change protocol semantics beyond capacity enforcement.
package config

import (
	"fmt"

	"github.com/joeshaw/envdecode"
)

// Config is the full environment surface of the gateway binary.
type Config struct {
	// ListenAddr is the address the MCP endpoint listens on. ENV: MCP_LISTEN_ADDR
	ListenAddr string `env:"MCP_LISTEN_ADDR,default=:3000"`
	// Endpoint is the path the MCP endpoint is mounted at. ENV: MCP_ENDPOINT
	Endpoint string `env:"MCP_ENDPOINT,default=/mcp"`
	// MaxSessions caps the number of durable session records. ENV: MCP_MAX_SESSIONS
	MaxSessions int `env:"MCP_MAX_SESSIONS,default=100"`
	// SessionFile is the JSON file backing the metadata store. ENV: MCP_SESSION_FILE
	SessionFile string `env:"MCP_SESSION_FILE,default=data/sessions.json"`
	// Store selects the durable store backend: "file" or "redis". ENV: MCP_STORE
	Store string `env:"MCP_STORE,default=file"`
	// MetricsAddr, when set, exposes Prometheus metrics on its own listener. ENV: MCP_METRICS_ADDR
	MetricsAddr string `env:"MCP_METRICS_ADDR"`

	// AuthJWKSURL, when set, requires bearer JWTs on the MCP endpoint and
	// verifies them against this JWKS document. ENV: MCP_AUTH_JWKS_URL
	AuthJWKSURL string `env:"MCP_AUTH_JWKS_URL"`
	// AuthIssuer is the required "iss" claim when auth is enabled. ENV: MCP_AUTH_ISSUER
	AuthIssuer string `env:"MCP_AUTH_ISSUER"`
	// AuthAudience is the required "aud" claim when auth is enabled. ENV: MCP_AUTH_AUDIENCE
	AuthAudience string `env:"MCP_AUTH_AUDIENCE"`
}

// Load populates Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.MaxSessions < 1 {
		return fmt.Errorf("MCP_MAX_SESSIONS must be at least 1, got %d", c.MaxSessions)
	}
	if c.Store != "file" && c.Store != "redis" {
		return fmt.Errorf("MCP_STORE must be \"file\" or \"redis\", got %q", c.Store)
	}
	if c.Endpoint == "" || c.Endpoint[0] != '/' {
		return fmt.Errorf("MCP_ENDPOINT must be an absolute path, got %q", c.Endpoint)
	}
	return nil
}
