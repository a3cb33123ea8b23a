// Package config loads the server configuration from a YAML file.
//
// The file is named by the --config flag or the SOCIAL_CONFIG environment
// variable. When neither is set the defaults are used as is.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/charlieegan3/social-relay/internal/policy"
)

const (
	// EnvConfig names the config file when --config is not given.
	EnvConfig = "SOCIAL_CONFIG"
	// EnvSecret overrides auth.secret.
	EnvSecret = "SOCIAL_JWT_SECRET"
)

type Config struct {
	Listen string       `yaml:"listen"`
	Log    LogConfig    `yaml:"log"`
	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	Policy PolicyConfig `yaml:"policy"`
	Relay  RelayConfig  `yaml:"relay"`
}

type LogConfig struct {
	// Level is one of the logrus level names
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

type AuthConfig struct {
	// Secret is the HMAC key tokens are signed with
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type StoreConfig struct {
	// Driver is sqlite or mongo
	Driver string       `yaml:"driver"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Mongo  MongoConfig  `yaml:"mongo"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type PolicyConfig struct {
	// Engine selects the authorization engine, one of policy.Engines
	Engine string `yaml:"engine"`
}

type RelayConfig struct {
	// SendBuffer is the number of forwards queued per connection before
	// further forwards to it are dropped
	SendBuffer int `yaml:"send_buffer"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ":5000",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			Issuer:   "social-relay",
			TokenTTL: 24 * time.Hour,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "social.db"},
			Mongo:  MongoConfig{Database: "social"},
		},
		Policy: PolicyConfig{Engine: "golang"},
		Relay:  RelayConfig{SendBuffer: 256},
	}
}

// Load reads the file at path over the defaults. An empty path falls back
// to SOCIAL_CONFIG, and then to the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if secret := os.Getenv(EnvSecret); secret != "" {
		cfg.Auth.Secret = secret
	}

	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret must be set (or " + EnvSecret + ")")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return errors.New("store.sqlite.path must be set")
		}
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return errors.New("store.mongo.uri must be set")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	if !slices.Contains(policy.Engines, c.Policy.Engine) {
		return fmt.Errorf("unknown policy.engine %q, expected one of %v", c.Policy.Engine, policy.Engines)
	}

	if c.Relay.SendBuffer <= 0 {
		return fmt.Errorf("relay.send_buffer must be positive, got %d", c.Relay.SendBuffer)
	}

	return nil
}
