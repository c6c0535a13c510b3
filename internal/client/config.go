package client

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunnel client configuration.
type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Local  LocalConfig  `yaml:"local"`
	Tunnel TunnelConfig `yaml:"tunnel"`
	Proxy  ProxyConfig  `yaml:"proxy"`
}

// RelayConfig specifies the relay control-channel endpoint.
type RelayConfig struct {
	// URL is the websocket upgrade endpoint, e.g. ws://relay.example/tunnel.
	URL string `yaml:"url"`
}

// LocalConfig specifies the local process being exposed.
type LocalConfig struct {
	Port int `yaml:"port"`
}

// TunnelConfig controls identity, naming and reconnection.
type TunnelConfig struct {
	// ID is the stable tunnel identifier; generated when empty.
	ID string `yaml:"id"`
	// Subdomain is the preferred slug; the relay may assign another.
	Subdomain string `yaml:"subdomain"`

	RequestTimeout       time.Duration `yaml:"request_timeout"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// ProxyConfig routes the outbound control channel through an egress proxy.
type ProxyConfig struct {
	URL         string        `yaml:"url"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DefaultConfig returns a config with the standard knobs filled in.
func DefaultConfig() *Config {
	return &Config{
		Tunnel: TunnelConfig{
			RequestTimeout:       30 * time.Second,
			ReconnectDelay:       1 * time.Second,
			MaxReconnectDelay:    30 * time.Second,
			MaxReconnectAttempts: 5,
		},
		Proxy: ProxyConfig{
			DialTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig reads and parses a client configuration file on top of the
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Local.Port < 1 || c.Local.Port > 65535 {
		return fmt.Errorf("local.port must be a valid port, got %d", c.Local.Port)
	}
	return nil
}
