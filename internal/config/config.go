// Package config loads the JSON dashboard configuration, writing a
// default file on first run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "coindeck.json"

// Config is the startup configuration. The state model consumes it as an
// immutable input and never writes it back.
type Config struct {
	Symbols                []string `json:"symbols"`
	RefreshIntervalSeconds int      `json:"refresh_interval_seconds"`
	DatabasePath           string   `json:"database_path"`
	WebListenAddr          string   `json:"web_listen_addr"`
}

// Default returns the stock configuration: ten liquid USDT pairs at a 5s
// refresh.
func Default() Config {
	return Config{
		Symbols: []string{
			"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "SOLUSDT",
			"DOTUSDT", "DOGEUSDT", "AVAXUSDT", "LTCUSDT", "LINKUSDT",
		},
		RefreshIntervalSeconds: 5,
		DatabasePath:           "coindeck.db",
		WebListenAddr:          "127.0.0.1:8087",
	}
}

// RefreshInterval returns the refresh cadence as a duration.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// Validate checks the loaded configuration for usable values.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New("config: symbols list is empty")
	}
	for _, s := range c.Symbols {
		if s == "" {
			return errors.New("config: symbols list contains an empty entry")
		}
	}
	if c.RefreshIntervalSeconds < 1 {
		return fmt.Errorf("config: refresh_interval_seconds must be at least 1, got %d", c.RefreshIntervalSeconds)
	}
	if c.DatabasePath == "" {
		return errors.New("config: database_path is empty")
	}
	return nil
}

// Load reads the config file at path, creating it with defaults when it
// does not exist yet.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if werr := write(path, cfg); werr != nil {
			return Config{}, fmt.Errorf("write default config: %w", werr)
		}
		log.Info().Str("path", path).Msg("created default config file")
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Fill omitted collaborator paths so hand-written minimal configs
	// keep working.
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = Default().DatabasePath
	}
	if cfg.WebListenAddr == "" {
		cfg.WebListenAddr = Default().WebListenAddr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func write(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
