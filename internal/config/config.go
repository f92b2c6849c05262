// ABOUTME: Configuration loading and parsing for tunnelgate.
// ABOUTME: YAML files with environment variable expansion over built-in defaults.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tunnelgate configuration. One file covers
// both processes; the broker reads the server section, the agent reads the
// client section, and the shared keys apply to both.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Client       ClientConfig       `yaml:"client"`
	Reconnection ReconnectionConfig `yaml:"reconnection"`

	// RequestTimeoutMs is the broker's per-request deadline in milliseconds.
	RequestTimeoutMs int `yaml:"request_timeout"`

	// MaxFrameBytes caps decoded tunnel frame payloads.
	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds the broker's two listeners.
type ServerConfig struct {
	HTTP   ListenerConfig `yaml:"http"`
	Socket ListenerConfig `yaml:"socket"`
}

// ListenerConfig is one TCP listener with optional TLS.
type ListenerConfig struct {
	Host string    `yaml:"host"`
	Port int       `yaml:"port"`
	SSL  ServerSSL `yaml:"ssl"`
}

// Addr formats the listener as host:port.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// ServerSSL holds server-side TLS material.
type ServerSSL struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
	Cert    string `yaml:"cert"`
}

// ClientConfig holds the agent's tunnel target and proxy behavior.
type ClientConfig struct {
	Server TargetConfig `yaml:"server"`
	Proxy  ProxyConfig  `yaml:"proxy"`
}

// TargetConfig is the broker endpoint the agent dials.
type TargetConfig struct {
	Host string    `yaml:"host"`
	Port int       `yaml:"port"`
	SSL  ClientSSL `yaml:"ssl"`
}

// Addr formats the dial target as host:port.
func (t TargetConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// ClientSSL holds client-side TLS verification settings for the tunnel.
type ClientSSL struct {
	Enabled            bool   `yaml:"enabled"`
	CA                 string `yaml:"ca"`
	RejectUnauthorized bool   `yaml:"rejectUnauthorized"`
}

// ProxyConfig controls how the agent resolves and performs upstream calls.
type ProxyConfig struct {
	DefaultTarget string        `yaml:"defaultTarget"`
	SSL           UpstreamSSL   `yaml:"ssl"`
	RewriteRules  []RewriteRule `yaml:"rewriteRules"`
}

// UpstreamSSL controls TLS verification toward origin servers.
type UpstreamSSL struct {
	RejectUnauthorized bool `yaml:"rejectUnauthorized"`
}

// RewriteRule maps a URL regular expression to its replacement. Rules apply
// in order; the first matching pattern wins.
type RewriteRule struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// ReconnectionConfig controls the agent's redial behavior.
type ReconnectionConfig struct {
	// DelayMs is the base wait between redial attempts in milliseconds.
	DelayMs int `yaml:"delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RequestTimeout returns the broker's per-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// ReconnectDelay returns the agent's base redial wait.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Reconnection.DelayMs) * time.Millisecond
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	cfg := &Config{}

	cfg.Server.HTTP.Host = "0.0.0.0"
	cfg.Server.HTTP.Port = 3000
	cfg.Server.Socket.Host = "0.0.0.0"
	cfg.Server.Socket.Port = 3001

	cfg.Client.Server.Host = "localhost"
	cfg.Client.Server.Port = 3001
	cfg.Client.Server.SSL.RejectUnauthorized = true

	cfg.Client.Proxy.DefaultTarget = "http://example.com"
	cfg.Client.Proxy.SSL.RejectUnauthorized = true

	cfg.Reconnection.DelayMs = 5000
	cfg.RequestTimeoutMs = 30000
	cfg.MaxFrameBytes = 16 << 20

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Metrics.Enabled = false
	cfg.Metrics.Path = "/metrics"

	return cfg
}

// Load reads a configuration file and overlays it on the defaults.
// Environment variables in the format ${VAR_NAME} are expanded before
// parsing. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTP.Port <= 0 || c.Server.HTTP.Port > 65535 {
		return fmt.Errorf("server.http.port %d out of range", c.Server.HTTP.Port)
	}
	if c.Server.Socket.Port <= 0 || c.Server.Socket.Port > 65535 {
		return fmt.Errorf("server.socket.port %d out of range", c.Server.Socket.Port)
	}
	if c.Client.Server.Port <= 0 || c.Client.Server.Port > 65535 {
		return fmt.Errorf("client.server.port %d out of range", c.Client.Server.Port)
	}

	if c.Server.HTTP.SSL.Enabled && (c.Server.HTTP.SSL.Key == "" || c.Server.HTTP.SSL.Cert == "") {
		return fmt.Errorf("server.http.ssl requires both key and cert")
	}
	if c.Server.Socket.SSL.Enabled && (c.Server.Socket.SSL.Key == "" || c.Server.Socket.SSL.Cert == "") {
		return fmt.Errorf("server.socket.ssl requires both key and cert")
	}

	if c.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %d", c.RequestTimeoutMs)
	}
	if c.Reconnection.DelayMs <= 0 {
		return fmt.Errorf("reconnection.delay must be positive, got %d", c.Reconnection.DelayMs)
	}
	if c.MaxFrameBytes == 0 {
		return fmt.Errorf("max_frame_bytes must be positive")
	}

	for i, rule := range c.Client.Proxy.RewriteRules {
		if rule.Pattern == "" {
			return fmt.Errorf("client.proxy.rewriteRules[%d]: pattern is required", i)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("client.proxy.rewriteRules[%d]: %w", i, err)
		}
	}

	return nil
}
