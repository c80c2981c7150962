package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SyncProfile tunes batch sizing and retry behavior for one sync mode.
type SyncProfile struct {
	Name        string        `mapstructure:"name"`
	BatchSize   int           `mapstructure:"batchSize"`
	MaxRetries  int           `mapstructure:"maxRetries"`
	BackoffBase time.Duration `mapstructure:"backoffBase"`
	BackoffMax  time.Duration `mapstructure:"backoffMax"`
	// NoBatching processes the whole set in one transaction, falling back
	// to batching when that single transaction fails.
	NoBatching bool `mapstructure:"noBatching"`
}

type SyncProfilesConfig struct {
	Profiles []SyncProfile `mapstructure:"profiles"`
}

const (
	ProfileInitialHistorical  = "initial-historical"
	ProfileIncrementalRefresh = "incremental-refresh"
	ProfileDefault            = "default"
)

// DefaultSyncProfiles returns the compiled-in profile tuning. Historical
// syncs favor stability over many records, incremental refreshes favor
// latency, and the default profile tries a single transaction first.
func DefaultSyncProfiles() SyncProfilesConfig {
	return SyncProfilesConfig{
		Profiles: []SyncProfile{
			{
				Name:        ProfileInitialHistorical,
				BatchSize:   100,
				MaxRetries:  5,
				BackoffBase: 100 * time.Millisecond,
				BackoffMax:  5 * time.Second,
			},
			{
				Name:        ProfileIncrementalRefresh,
				BatchSize:   500,
				MaxRetries:  2,
				BackoffBase: 50 * time.Millisecond,
				BackoffMax:  time.Second,
			},
			{
				Name:        ProfileDefault,
				BatchSize:   200,
				MaxRetries:  3,
				BackoffBase: 100 * time.Millisecond,
				BackoffMax:  2 * time.Second,
				NoBatching:  true,
			},
		},
	}
}

// SyncProfileHolder exposes hot-reloadable sync profile tuning.
type SyncProfileHolder struct {
	current atomic.Value // holds SyncProfilesConfig
}

func NewSyncProfileHolder() (*SyncProfileHolder, error) {
	v := viper.New()

	v.SetConfigName("sync")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/vitalsync/config")
	v.AddConfigPath("/etc/vitalsync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VITALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultSyncProfiles()
		v.SetDefault("sync.profiles", defaults.Profiles)
	}

	var cfg SyncProfilesConfig
	if err := v.UnmarshalKey("sync", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Profiles) == 0 {
		cfg = DefaultSyncProfiles()
	}
	if err := validateSyncProfiles(cfg); err != nil {
		return nil, err
	}

	holder := &SyncProfileHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SyncProfilesConfig
		if err := v.UnmarshalKey("sync", &updated); err != nil {
			log.Printf("[sync-config] reload failed: %v", err)
			return
		}
		if err := validateSyncProfiles(updated); err != nil {
			log.Printf("[sync-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[sync-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticSyncProfileHolder wraps a fixed profile set without file
// watching. Used by tests and embedded callers.
func NewStaticSyncProfileHolder(cfg SyncProfilesConfig) *SyncProfileHolder {
	holder := &SyncProfileHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *SyncProfileHolder) Get() SyncProfilesConfig {
	return h.current.Load().(SyncProfilesConfig)
}

// Profile resolves a profile by name, falling back to the default profile
// for unknown names.
func (h *SyncProfileHolder) Profile(name string) SyncProfile {
	cfg := h.Get()
	name = strings.ToLower(strings.TrimSpace(name))
	var fallback SyncProfile
	for _, p := range cfg.Profiles {
		if strings.EqualFold(p.Name, name) {
			return p
		}
		if strings.EqualFold(p.Name, ProfileDefault) {
			fallback = p
		}
	}
	if fallback.Name == "" {
		return DefaultSyncProfiles().Profiles[2]
	}
	return fallback
}

func validateSyncProfiles(cfg SyncProfilesConfig) error {
	if len(cfg.Profiles) == 0 {
		return errors.New("sync.profiles cannot be empty")
	}
	for _, p := range cfg.Profiles {
		if p.Name == "" {
			return errors.New("sync.profiles entries require a name")
		}
		if p.BatchSize <= 0 {
			return errors.New("sync.profiles batchSize must be positive")
		}
		if p.MaxRetries < 0 {
			return errors.New("sync.profiles maxRetries cannot be negative")
		}
	}
	return nil
}
