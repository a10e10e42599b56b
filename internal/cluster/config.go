package cluster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config tunes the clustering pipeline. The zero value is not usable; start
// from DefaultConfig and override.
type Config struct {
	// CategoricalColumns are label-encoded into integer codes when present in
	// the uploaded dataset. Columns not listed here and not numeric are ignored.
	CategoricalColumns []string `yaml:"categorical_columns"`

	// MaxClusters bounds the sweep when the cluster count is auto-selected.
	MaxClusters int `yaml:"max_clusters"`

	// NumRestarts is the number of random k-means initializations per fit.
	NumRestarts int `yaml:"num_restarts"`

	MaxIterations int `yaml:"max_iterations"`

	// Seed makes assignments reproducible across runs.
	Seed int64 `yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		CategoricalColumns: []string{
			"gaming_platform_top1",
			"social_platform_top1",
			"ott_top1",
			"content_creation_freq",
		},
		MaxClusters:   8,
		NumRestarts:   10,
		MaxIterations: 300,
		Seed:          42,
	}
}

// LoadConfig reads a YAML pipeline config, filling unset fields from defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading pipeline config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing pipeline config %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if cfg.MaxClusters <= 0 {
		cfg.MaxClusters = defaults.MaxClusters
	}
	if cfg.NumRestarts <= 0 {
		cfg.NumRestarts = defaults.NumRestarts
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}

	return cfg, nil
}
