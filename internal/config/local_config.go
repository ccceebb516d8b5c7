package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from disk,
// bypassing the viper singleton. Needed for the same cases any direct
// LoadLocalConfig is: before viper has been initialized, or when the
// working directory has moved since it was.
type LocalConfig struct {
	StoreRoot    string `yaml:"store-root"`
	Backend      string `yaml:"backend"`
	Marker       string `yaml:"marker"`
	SqliteTable  string `yaml:"sqlite-table"`
	HTTPBaseURL  string `yaml:"http-base-url"`
	HTTPQueryURL string `yaml:"http-query-url"`

	// SchedulerDelay is kept as a raw string, not time.Duration — yaml.v3
	// has no built-in string-to-Duration conversion, it would need a
	// custom UnmarshalYAML to accept "10s". Use SchedulerDelayDuration.
	SchedulerDelay string `yaml:"scheduler-delay"`
}

// SchedulerDelayDuration parses SchedulerDelay, returning 0 if it is
// empty or malformed.
func (c *LocalConfig) SchedulerDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.SchedulerDelay)
	return d
}

// LoadLocalConfig reads and parses path directly, returning an empty
// (not nil) LocalConfig if the file doesn't exist or fails to parse:
// callers are never failed over a missing or malformed config file.
func LoadLocalConfig(path string) *LocalConfig {
	data, err := os.ReadFile(path) // #nosec G304 - path is operator-supplied
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}
