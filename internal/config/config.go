package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pgwarden/pgwarden/internal/classifier"
	"go.yaml.in/yaml/v3"
)

// Config holds all pgwarden configuration.
type Config struct {
	DBURL    string             `yaml:"db_url"`
	Markers  classifier.Markers `yaml:"markers"`
	Exclude  Exclude            `yaml:"exclude"`
	Defaults Defaults           `yaml:"defaults"`
}

// Exclude lists tables, schemas, and recommendation codes to skip.
type Exclude struct {
	Tables  []string `yaml:"tables"`
	Schemas []string `yaml:"schemas"`
	Codes   []string `yaml:"codes"`
}

// Defaults holds default CLI flag values.
type Defaults struct {
	Format     string `yaml:"format"`
	Classifier string `yaml:"classifier"` // heuristic or parser
	Timeout    string `yaml:"timeout"`    // parsed as time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Markers: classifier.DefaultMarkers(),
		Defaults: Defaults{
			Format:     "text",
			Classifier: "heuristic",
			Timeout:    "30s",
		},
	}
}

// Load reads configuration from .pgwarden.yml in the given directory,
// falling back to ~/.pgwarden.yml. Returns DefaultConfig if no file found.
func Load(dir string) (Config, error) {
	cfg := DefaultConfig()

	paths := []string{filepath.Join(dir, ".pgwarden.yml")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".pgwarden.yml"))
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	return cfg, nil
}

// TimeoutDuration parses the Defaults.Timeout string as a time.Duration.
// Returns 30s if parsing fails.
func (c *Config) TimeoutDuration() time.Duration {
	if c.Defaults.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Defaults.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
