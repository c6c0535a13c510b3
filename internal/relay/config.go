package relay

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the relay server configuration, populated from the
// environment.
type Config struct {
	Port      int  `env:"PORT" envDefault:"8080"`
	HTTPSPort int  `env:"HTTPS_PORT" envDefault:"8443"`
	UseHTTPS  bool `env:"USE_HTTPS" envDefault:"false"`

	SSLCert string `env:"SSL_CERT"`
	SSLKey  string `env:"SSL_KEY"`

	MaxTunnels       int `env:"MAX_TUNNELS" envDefault:"1000"`
	RequestTimeoutMS int `env:"REQUEST_TIMEOUT" envDefault:"30000"`

	// PublicURL overrides base-url auto-detection when set.
	PublicURL string `env:"PUBLIC_URL"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"7"`

	// KeepalivePeriod is the server ping interval. not environment-driven;
	// tests set it directly.
	KeepalivePeriod time.Duration
}

// LoadConfig loads an optional .env file, then parses the environment.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.KeepalivePeriod = 30 * time.Second

	if cfg.UseHTTPS && (cfg.SSLCert == "" || cfg.SSLKey == "") {
		return nil, fmt.Errorf("USE_HTTPS requires SSL_CERT and SSL_KEY")
	}
	if cfg.MaxTunnels < 1 {
		return nil, fmt.Errorf("MAX_TUNNELS must be positive, got %d", cfg.MaxTunnels)
	}
	if cfg.RequestTimeoutMS < 1 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %d", cfg.RequestTimeoutMS)
	}
	return cfg, nil
}

// RequestTimeout returns the per-request deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}
