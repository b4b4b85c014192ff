// Package config binds the engine's runtime configuration from flags,
// environment variables (INVRESERVE_ prefix), and an optional config
// file via viper and pflag. A narrow subset of
// keys is hot-reloadable via fsnotify while the process is running.
package config

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of runtime options.
type Config struct {
	CounterStoreURL    string
	DurableStoreDSN    string
	DurableStoreDriver string // postgres | sqlite

	DefaultHoldTTLSeconds int
	ReaperIntervalMS      int
	ReaperBatch           int
	EventsEnabled         bool
	EventsStreamName      string
	StrictIDValidation    bool

	ListenAddr string
}

// hotReloadableKeys is the subset of options that may change without a
// restart: tunables that are safe to pick up between requests. Anything
// touching connection setup (store URLs, drivers) is deliberately excluded.
var hotReloadableKeys = map[string]bool{
	"reaper_interval_ms":   true,
	"reaper_batch":         true,
	"events_enabled":       true,
	"strict_id_validation": true,
}

func BindFlags(flags *pflag.FlagSet) {
	flags.String("counter-store-url", "redis://127.0.0.1:6379/0", "ACS connection URL (redis://...)")
	flags.String("durable-store-dsn", "", "DSS connection string (postgres DSN or sqlite file path)")
	flags.String("durable-store-driver", "sqlite", "DSS backend: postgres or sqlite")
	flags.Int("default-hold-ttl-seconds", 600, "default hold TTL when a reserve request omits one")
	flags.Int("reaper-interval-ms", 1000, "interval between reaper sweeps")
	flags.Int("reaper-batch", 128, "max holds released per reaper sweep")
	flags.Bool("events-enabled", true, "append hold lifecycle events to the event stream")
	flags.String("events-stream-name", "inv:events", "ACS event stream name")
	flags.Bool("strict-id-validation", true, "reject sku/cart_id containing ':' at the API boundary")
	flags.String("listen-addr", ":8080", "HTTP listen address")
	flags.String("config", "", "path to a config file (yaml/json/toml)")
}

// Load reads bound flags, INVRESERVE_-prefixed env vars, and an optional
// config file into a Config. Precedence, highest first: flags set on the
// command line, env vars, the config file, flag defaults.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("INVRESERVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgPath, _ := flags.GetString("config"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		CounterStoreURL:       v.GetString("counter-store-url"),
		DurableStoreDSN:       v.GetString("durable-store-dsn"),
		DurableStoreDriver:    v.GetString("durable-store-driver"),
		DefaultHoldTTLSeconds: v.GetInt("default-hold-ttl-seconds"),
		ReaperIntervalMS:      v.GetInt("reaper-interval-ms"),
		ReaperBatch:           v.GetInt("reaper-batch"),
		EventsEnabled:         v.GetBool("events-enabled"),
		EventsStreamName:      v.GetString("events-stream-name"),
		StrictIDValidation:    v.GetBool("strict-id-validation"),
		ListenAddr:            v.GetString("listen-addr"),
	}
}

// Watcher applies hot-reloadable keys from a config file to a live
// *Config as the file changes on disk, guarded by a mutex since Current
// may be called concurrently with the watch loop applying a change.
type Watcher struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

func NewWatcher(initial *Config, configFilePath string) *Watcher {
	return &Watcher{cfg: initial, path: configFilePath}
}

func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *w.cfg
}

// Watch starts an fsnotify watch on the backing config file, if any, and
// applies only hotReloadableKeys on change; it returns immediately if no
// config file was set. Callers should run it in its own goroutine.
func (w *Watcher) Watch(onReload func(Config)) error {
	if w.path == "" {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.path); err != nil {
		return err
	}

	for event := range fsw.Events {
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		v := viper.New()
		v.SetConfigFile(w.path)
		if err := v.ReadInConfig(); err != nil {
			continue
		}
		next := fromViper(v)
		w.applyHotReloadable(next)
		if onReload != nil {
			onReload(w.Current())
		}
	}
	return nil
}

func (w *Watcher) applyHotReloadable(next *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if hotReloadableKeys["reaper_interval_ms"] {
		w.cfg.ReaperIntervalMS = next.ReaperIntervalMS
	}
	if hotReloadableKeys["reaper_batch"] {
		w.cfg.ReaperBatch = next.ReaperBatch
	}
	if hotReloadableKeys["events_enabled"] {
		w.cfg.EventsEnabled = next.EventsEnabled
	}
	if hotReloadableKeys["strict_id_validation"] {
		w.cfg.StrictIDValidation = next.StrictIDValidation
	}
}
