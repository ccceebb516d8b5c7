// Package config loads config.yaml and builds the store graph it
// describes — the viper/yaml.v3 ambient layer every cstash command
// shares (LocalConfig direct-read fallback, viper for everything else)
// driving KVS backend selection. The scheduler section is decoded only;
// this package constructs no worker pool or scheduler.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// SqliteConfig configures the sqlite backend.
type SqliteConfig struct {
	Table        string   `mapstructure:"table"`
	Index        string   `mapstructure:"index"`
	IndexColumns []string `mapstructure:"index-columns"`
}

// URLConfig configures the static/dynamic HTTP backends.
type URLConfig struct {
	Base         string        `mapstructure:"base"`
	Query        string        `mapstructure:"query"`
	DataPath     string        `mapstructure:"data-path"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
}

// HTTPConfig carries credentials passed to Store.Connect for
// HTTP-backed stores.
type HTTPConfig struct {
	Token    string `mapstructure:"token"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StoreConfig selects and parameterizes the backend BuildStore
// constructs. Join and Mount are only consulted for the "joined" and
// "mounted" backends respectively, and may themselves nest arbitrarily
// deep store configs.
type StoreConfig struct {
	Root        string        `mapstructure:"root"`
	Backend     string        `mapstructure:"backend"`
	Marker      string        `mapstructure:"marker"`
	LockTimeout time.Duration `mapstructure:"lock-timeout"`
	Sqlite      SqliteConfig  `mapstructure:"sqlite"`
	URL         URLConfig     `mapstructure:"url"`
	Join        []StoreConfig `mapstructure:"join"`
	Mount       *MountConfig  `mapstructure:"mount"`
}

// SchedulerConfig parameterizes the scheduler family's delay interval
// (DelayedAsynchronizer's poll period).
type SchedulerConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// Config is the fully resolved config.yaml, defaults applied and
// environment overrides folded in.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.root", "./.corestash")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.marker", "")
	v.SetDefault("store.lock-timeout", 30*time.Second)
	v.SetDefault("store.sqlite.table", "store")
	v.SetDefault("store.sqlite.index", "none")
	v.SetDefault("store.url.poll-interval", 30*time.Second)
	v.SetDefault("scheduler.delay", 5*time.Second)
}

// Load reads path through viper, applying defaults and CORESTASH_*
// environment overrides (e.g. CORESTASH_HTTP_TOKEN), and returns the
// resolved Config. A missing file is not an error — Load falls back to
// defaults; a present-but-malformed file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("CORESTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return &cfg, nil
}
