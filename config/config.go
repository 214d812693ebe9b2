// Package config manages the per-user scipfs configuration: a flat JSON
// file under the configuration directory holding the attribution username,
// the daemon API address, and publishing defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/viper"
)

const (
	DefaultAPIAddr        = "/ip4/127.0.0.1/tcp/5001"
	DefaultRecordLifetime = 24 * time.Hour

	configFileName = "config.json"
)

// Config is the resolved scipfs configuration. Constructed once from a
// directory and passed explicitly; it is not a process-wide singleton.
type Config struct {
	// Dir is the configuration directory holding config.json and the
	// per-library manifest records.
	Dir string
	// Username is attached to file records as free-text attribution.
	// Empty until set; adding files requires it.
	Username string
	// APIAddr is the daemon API multiaddress handed to the helper.
	APIAddr string
	// RecordLifetime is the default lifetime for published name records.
	RecordLifetime time.Duration
	// HelperBin optionally overrides helper executable discovery.
	HelperBin string

	v *viper.Viper
}

// DefaultDir returns ~/.scipfs.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".scipfs"), nil
}

// Load reads config.json from dir, filling defaults for absent keys.
// A missing file is not an error; defaults apply until Save.
func Load(dir string) (*Config, error) {
	if dir == "" {
		return nil, errors.New("config: directory is required")
	}
	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigFile(filepath.Join(dir, configFileName))
	v.SetDefault("username", "")
	v.SetDefault("api_addr", DefaultAPIAddr)
	v.SetDefault("record_lifetime", DefaultRecordLifetime.String())
	v.SetDefault("helper_bin", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	lifetime, err := time.ParseDuration(v.GetString("record_lifetime"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid record_lifetime %q: %w", v.GetString("record_lifetime"), err)
	}

	cfg := &Config{
		Dir:            dir,
		Username:       v.GetString("username"),
		APIAddr:        v.GetString("api_addr"),
		RecordLifetime: lifetime,
		HelperBin:      v.GetString("helper_bin"),
		v:              v,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the API address parses as a multiaddress.
func (c *Config) Validate() error {
	if _, err := ma.NewMultiaddr(c.APIAddr); err != nil {
		return fmt.Errorf("config: invalid api_addr %q: %w", c.APIAddr, err)
	}
	if c.RecordLifetime <= 0 {
		return fmt.Errorf("config: record_lifetime must be positive, got %s", c.RecordLifetime)
	}
	return nil
}

// SetUsername updates the attribution username and persists the config.
func (c *Config) SetUsername(username string) error {
	if username == "" {
		return errors.New("config: username cannot be empty")
	}
	c.Username = username
	return c.Save()
}

// Save writes the configuration to <dir>/config.json, creating the
// directory if needed.
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	c.v.Set("username", c.Username)
	c.v.Set("api_addr", c.APIAddr)
	c.v.Set("record_lifetime", c.RecordLifetime.String())
	c.v.Set("helper_bin", c.HelperBin)
	return c.v.WriteConfigAs(filepath.Join(c.Dir, configFileName))
}
