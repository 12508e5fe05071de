// Package config loads the service configuration from defaults, an
// optional TOML file, and REPLYRELAY_-prefixed environment variables,
// in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration.
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Webhook struct {
		VerifyToken string `koanf:"verify_token"`
	} `koanf:"webhook"`

	Graph struct {
		BaseURL        string  `koanf:"base_url"`
		Version        string  `koanf:"version"`
		TimeoutSeconds int     `koanf:"timeout_seconds"`
		RatePerSec     float64 `koanf:"rate_per_sec"`
	} `koanf:"graph"`

	Storage struct {
		Driver string `koanf:"driver"` // "json" or "sqlite"
		Path   string `koanf:"path"`   // data directory for the json driver
		DSN    string `koanf:"dsn"`    // database path for the sqlite driver
	} `koanf:"storage"`

	Log struct {
		Level  string `koanf:"level"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`
}

// LoadConfig loads the configuration from a file.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":           8080,
		"graph.base_url":        "https://graph.facebook.com",
		"graph.version":         "v21.0",
		"graph.timeout_seconds": 8,
		"graph.rate_per_sec":    5.0,
		"storage.driver":        "json",
		"storage.path":          "./data",
		"storage.dsn":           "./replyrelay.db",
		"log.level":             "info",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try default locations; the data directory takes priority in
		// containerized deployments.
		defaultPaths := []string{"./data/replyrelay.toml", "./replyrelay.toml", "$HOME/.replyrelay.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix REPLYRELAY_
	k.Load(env.Provider("REPLYRELAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "REPLYRELAY_")), "_", ".", 1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# replyrelay configuration

[server]
port = 8080

[webhook]
verify_token = "your-verify-token"

[graph]
base_url = "https://graph.facebook.com"
version = "v21.0"
timeout_seconds = 8
rate_per_sec = 5.0

[storage]
driver = "json"
path = "./data"
# dsn = "./replyrelay.db"

[log]
level = "info"
pretty = false
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration.
func Validate(config *Config) error {
	if config.Webhook.VerifyToken == "" {
		return fmt.Errorf("webhook verify_token is required")
	}

	switch config.Storage.Driver {
	case "json":
		if config.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the json driver")
		}
	case "sqlite":
		if config.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", config.Server.Port)
	}

	return nil
}
