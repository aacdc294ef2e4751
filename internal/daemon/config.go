// Package daemon wires pana's components together and runs the HTTP API.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ConfigFile is the config file name inside the home directory.
const ConfigFile = "config.toml"

// Config is pana's on-disk configuration (<home>/config.toml).
type Config struct {
	Home      string          `toml:"-"`
	API       APIConfig       `toml:"api"`
	Models    ModelsConfig    `toml:"models"`
	Engine    EngineConfig    `toml:"engine"`
	Inference InferenceConfig `toml:"inference"`
	Log       LogConfig       `toml:"log"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// ModelsConfig controls model storage.
type ModelsConfig struct {
	Dir        string `toml:"dir"`         // default: <home>/models
	Catalog    string `toml:"catalog"`     // default: <home>/catalog.toml
	MaxStorage string `toml:"max_storage"` // e.g. "50GB"
}

// EngineConfig points at the local OpenAI-compatible generation server.
type EngineConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	TopP        float64 `toml:"top_p"`
}

// InferenceConfig controls prompting.
type InferenceConfig struct {
	Persona string `toml:"persona"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Home: Home(),
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    11435,
			Metrics: true,
		},
		Models: ModelsConfig{
			MaxStorage: "50GB",
		},
		Engine: EngineConfig{
			BaseURL:     "http://127.0.0.1:8080/v1",
			MaxTokens:   512,
			Temperature: 0.7,
			TopP:        0.9,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Home returns the data directory: $PANA_HOME or ~/.pana.
func Home() string {
	if env := os.Getenv("PANA_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pana")
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = filepath.Join(cfg.Home, ConfigFile)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PANA_ENGINE_URL"); v != "" {
		c.Engine.BaseURL = v
	}
	if v := os.Getenv("PANA_ENGINE_API_KEY"); v != "" {
		c.Engine.APIKey = v
	}
	if v := os.Getenv("PANA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PANA_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.API.Port = p
		}
	}
}

// ModelsDir returns the models root.
func (c Config) ModelsDir() string {
	if c.Models.Dir != "" {
		return c.Models.Dir
	}
	return filepath.Join(c.Home, "models")
}

// CatalogFile returns the catalog overlay path.
func (c Config) CatalogFile() string {
	if c.Models.Catalog != "" {
		return c.Models.Catalog
	}
	return filepath.Join(c.Home, "catalog.toml")
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// MaxStorageBytes returns Models.MaxStorage in bytes.
func (c Config) MaxStorageBytes() uint64 {
	return parseStorageSize(c.Models.MaxStorage)
}

// parseStorageSize parses sizes such as "50GB" or "512MB".
// Empty or malformed input gives the 50 GB default.
func parseStorageSize(s string) uint64 {
	const def = 50 * 1024 * 1024 * 1024
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def
	}

	units := []struct {
		suffix string
		mult   uint64
	}{
		{"TB", 1 << 40},
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 64)
			if err != nil || n < 0 {
				return def
			}
			return uint64(n * float64(u.mult))
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
