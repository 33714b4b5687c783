// Package config loads the global ~/.relay/config.toml, applies RELAY_*
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_HTTP_ADDR or
// RELAY_STORAGE_DRIVER.
//
// Fields carry no envconfig tags: envconfig falls back to a bare tag name
// when the prefixed key is unset, which would read PATH or LEVEL.
const EnvPrefix = "RELAY"

// Config represents the global ~/.relay/config.toml.
type Config struct {
	DefaultInstance string `toml:"default_instance" split_words:"true" validate:"omitempty,max=64"`
	// HTTPAddr is where the gateway listens. Empty disables the gateway.
	HTTPAddr string  `toml:"http_addr" split_words:"true" validate:"omitempty,hostname_port"`
	Storage  Storage `toml:"storage"`
	Feed     Feed    `toml:"feed"`
	Unread   Unread  `toml:"unread"`
	Log      Log     `toml:"log"`
}

type Storage struct {
	Driver string `toml:"driver" validate:"omitempty,oneof=sqlite badger"`
	// Path overrides the instance default (relay.db or badger/).
	Path string `toml:"path,omitempty"`
}

type Feed struct {
	SnapshotLimit int `toml:"snapshot_limit" split_words:"true" validate:"min=0,max=500"`
	BufferSize    int `toml:"buffer_size" split_words:"true" validate:"min=0"`
}

type Unread struct {
	Policy string `toml:"policy" validate:"omitempty,oneof=latest any"`
}

type Log struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		HTTPAddr: "127.0.0.1:8480",
		Storage:  Storage{Driver: "sqlite"},
		Feed:     Feed{SnapshotLimit: 50, BufferSize: 256},
		Unread:   Unread{Policy: "latest"},
		Log:      Log{Level: "info"},
	}
}

var validate = validator.New()

// Load reads config from the given path. Returns nil and an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEffective merges defaults, the file at path (optional) and RELAY_*
// environment variables, then validates the result.
func LoadEffective(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
