// Package config loads the server configuration from a YAML file and a .env
// file in the data directory.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maruel/checkform/internal/forms"
	"github.com/maruel/checkform/internal/server/ratelimit"
	"github.com/maruel/checkform/internal/storage"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "checkform.yaml"

// minSecretLen is the minimum JWT secret size in bytes.
const minSecretLen = 32

// Config is the server configuration.
type Config struct {
	Storage    Storage         `yaml:"storage"`
	Auth       Auth            `yaml:"auth"`
	RateLimits ratelimit.Rates `yaml:"rate_limits"`
	Forms      Forms           `yaml:"forms"`
	// MaxRequestBodyBytes caps request bodies. 0 disables the limit.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`
}

// Storage selects the store backend.
type Storage struct {
	Backend storage.Backend `yaml:"backend"`
	// CacheSize is the number of tasks whose definitions are cached per
	// organization. 0 disables the cache.
	CacheSize int `yaml:"cache_size"`
}

// Auth configures bearer token authentication.
type Auth struct {
	// JWTSecret enables authentication when set. Tokens must be HMAC signed
	// and carry an "org" claim.
	JWTSecret string `yaml:"jwt_secret,omitempty"`
}

// Forms configures server side form interpretation.
type Forms struct {
	// RecountPolicy is "discard" or "preserve".
	RecountPolicy string `yaml:"recount_policy"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Storage:             Storage{Backend: storage.BackendJSONL, CacheSize: 128},
		RateLimits:          ratelimit.DefaultRates,
		Forms:               Forms{RecountPolicy: forms.RecountDiscard.String()},
		MaxRequestBodyBytes: 1 << 20,
	}
}

// Load reads path. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the data directory flag
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		d := yaml.NewDecoder(bytes.NewReader(data))
		d.KnownFields(true)
		if err := d.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case storage.BackendJSONL, storage.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.CacheSize < 0 {
		errs = append(errs, errors.New("storage.cache_size must not be negative"))
	}
	if s := c.Auth.JWTSecret; s != "" && len(s) < minSecretLen {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLen))
	}
	r := c.RateLimits
	if r.ReadPerMinute < 0 || r.WritePerMinute < 0 || r.SubmitPerMinute < 0 {
		errs = append(errs, errors.New("rate_limits must not be negative"))
	}
	if _, err := forms.ParseRecountPolicy(c.Forms.RecountPolicy); err != nil {
		errs = append(errs, fmt.Errorf("forms.recount_policy: %w", err))
	}
	if c.MaxRequestBodyBytes < 0 {
		errs = append(errs, errors.New("max_request_body_bytes must not be negative"))
	}
	return errors.Join(errs...)
}

// RecountPolicy returns the parsed recount policy. Call Validate first.
func (c *Config) RecountPolicy() forms.RecountPolicy {
	p, _ := forms.ParseRecountPolicy(c.Forms.RecountPolicy)
	return p
}

// LoadDotEnv reads KEY=value lines from dir/.env. A missing file yields an
// empty map. Double quoted values are unquoted; single quotes are rejected.
func LoadDotEnv(dir string) (map[string]string, error) {
	env := make(map[string]string)
	content, err := os.ReadFile(filepath.Join(dir, ".env")) //nolint:gosec // G304: path is built from the data directory flag
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}
	for line := range strings.SplitSeq(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			return nil, fmt.Errorf("single quotes are not supported in .env: %s", line)
		}
		if strings.HasPrefix(val, `"`) {
			u, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = u
		}
		env[key] = val
	}
	return env, nil
}
