// CLAUDE:SUMMARY Defines domsig config structs and parses YAML configuration files with defaults and validation.
// Package config handles domsig configuration from YAML files.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domsig/horosafe"
	"github.com/hazyhaar/domsig/signature"
)

// DefaultMode is used when neither the page nor the file sets a mode.
// A mode string with no recognised letter, such as "-", selects the empty
// mode explicitly.
const DefaultMode = "t"

// Config is the top-level domsig configuration.
type Config struct {
	Mode     string        `yaml:"mode"`
	DB       string        `yaml:"db"`
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"` // reports kept per page
	LogLevel string        `yaml:"log_level"`
	Fetch    FetchConfig   `yaml:"fetch"`
	HTTP     HTTPConfig    `yaml:"http"`
	Pages    []PageConfig  `yaml:"pages"`
	Sinks    []SinkConfig  `yaml:"sinks"`
}

// FetchConfig controls page loading.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

// HTTPConfig controls the API listener. Empty Addr disables it. A non-empty
// JWTSecret requires HS256 bearer tokens on every /api route.
type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// PageConfig defines a document to track. Exactly one of URL and File is set.
type PageConfig struct {
	ID   string `yaml:"id"`
	URL  string `yaml:"url"`
	File string `yaml:"file"`
	Root string `yaml:"root"` // id attribute of the element to sign
	Mode string `yaml:"mode"` // overrides Config.Mode
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type   string `yaml:"type"`   // stdout | webhook
	URL    string `yaml:"url"`    // for webhook
	Secret string `yaml:"secret"` // optional HMAC key for webhook bodies
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.DB == "" {
		c.DB = "domsig.db"
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.Keep <= 0 {
		c.Keep = 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 * 1024 * 1024
	}
	for i := range c.Pages {
		p := &c.Pages[i]
		if p.Mode == "" {
			p.Mode = c.Mode
		}
		if p.ID == "" {
			p.ID = derivedID(p.URL + p.File)
		}
	}
}

// derivedID keeps history attached to a page across restarts when no ID
// is configured.
func derivedID(location string) string {
	h := sha256.Sum256([]byte(location))
	return "page_" + hex.EncodeToString(h[:6])
}

func (c *Config) validate() error {
	if c.HTTP.JWTSecret != "" {
		if err := horosafe.ValidateSecret([]byte(c.HTTP.JWTSecret)); err != nil {
			return fmt.Errorf("config: http.jwt_secret: %w", err)
		}
	}
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if (p.URL == "") == (p.File == "") {
			return fmt.Errorf("config: page %d: exactly one of url and file is required", i)
		}
		if err := horosafe.ValidateIdentifier(p.ID); err != nil {
			return fmt.Errorf("config: page %d id: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook requires url", i)
			}
			if s.Secret != "" {
				if err := horosafe.ValidateSecret([]byte(s.Secret)); err != nil {
					return fmt.Errorf("config: sink %d secret: %w", i, err)
				}
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}

// SignatureMode returns the decoded global mode.
func (c *Config) SignatureMode() signature.Mode {
	return signature.ParseMode(c.Mode)
}

// SignatureMode returns the decoded page mode.
func (p PageConfig) SignatureMode() signature.Mode {
	return signature.ParseMode(p.Mode)
}

// Page returns the page with the given ID.
func (c *Config) Page(id string) (PageConfig, bool) {
	for _, p := range c.Pages {
		if p.ID == id {
			return p, true
		}
	}
	return PageConfig{}, false
}

// Level maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) Level() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps "debug", "warn" and "error" to slog levels and anything
// else to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
