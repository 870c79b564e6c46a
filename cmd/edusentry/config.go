package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/edusentry/edusentry/libingest"
	"github.com/edusentry/edusentry/libingest/driver"
)

// Config is the whole runtime configuration: defaults, overlaid by the YAML
// file, overlaid by EDUSENTRY_* environment variables. Unknown keys are
// rejected.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Enrich   EnrichConfig   `koanf:"enrich"`
	Dedup    DedupConfig    `koanf:"dedup"`
	LLM      LLMConfig      `koanf:"llm"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type IngestConfig struct {
	// Groups restricts which adapter groups run. Empty means all.
	Groups []string `koanf:"groups"`
	// Enabled restricts a group to the named adapters. A group absent from
	// the map runs all its adapters.
	Enabled map[string][]string `koanf:"enabled"`
	// Adapters holds per-adapter limits and settings, keyed by adapter name.
	Adapters map[string]AdapterConfig `koanf:"adapters"`
}

type AdapterConfig struct {
	MaxPages   int `koanf:"max_pages"`
	MaxAgeDays int `koanf:"max_age_days"`
	// Settings is handed to the adapter's Configure as-is.
	Settings map[string]interface{} `koanf:"settings"`
}

type EnrichConfig struct {
	Limit                 int      `koanf:"limit"`
	SkipNonEducation      bool     `koanf:"skip_non_education"`
	PurgeNonPrimary       bool     `koanf:"purge_non_primary"`
	RateLimitDelaySeconds int      `koanf:"rate_limit_delay_seconds"`
	FetchMinDelaySeconds  int      `koanf:"fetch_min_delay_seconds"`
	FetchMaxDelaySeconds  int      `koanf:"fetch_max_delay_seconds"`
	FetchesPerHourCap     int      `koanf:"fetches_per_hour_cap"`
	QueueDepth            int      `koanf:"queue_depth"`
	ExcludeDomains        []string `koanf:"exclude_domains"`
}

type DedupConfig struct {
	WindowDays int `koanf:"window_days"`
}

type LLMConfig struct {
	BaseURL     string `koanf:"base_url"`
	APIKey      string `koanf:"api_key"`
	Model       string `koanf:"model"`
	TokenBudget int    `koanf:"token_budget"`
	MaxRetries  int    `koanf:"max_retries"`
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "edusentry.db"},
		Enrich: EnrichConfig{
			Limit:                 25,
			SkipNonEducation:      true,
			RateLimitDelaySeconds: 5,
			FetchMinDelaySeconds:  2,
			FetchMaxDelaySeconds:  5,
			FetchesPerHourCap:     10,
			QueueDepth:            32,
		},
		Dedup: DedupConfig{WindowDays: 14},
	}
}

// loadConfig layers defaults, the optional YAML file, and the environment.
//
// Environment keys are EDUSENTRY_ plus the config path with "__" standing in
// for the section dot: EDUSENTRY_LLM__API_KEY sets llm.api_key.
func loadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %q: %w", path, err)
		}
	}
	envProvider := env.Provider("EDUSENTRY_", ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, "EDUSENTRY_"))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			// A misspelled key is an error, not a silently ignored setting.
			ErrorUnused: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bad configuration: %w", err)
	}
	if cfg.Enrich.FetchMinDelaySeconds > cfg.Enrich.FetchMaxDelaySeconds {
		return nil, fmt.Errorf("bad configuration: fetch_min_delay_seconds above fetch_max_delay_seconds")
	}
	return cfg, nil
}

// adapterConfigs converts the per-adapter settings maps into the unmarshaler
// closures the registries expect. The round-trip through JSON reuses the
// adapters' own struct tags.
func (c *Config) adapterConfigs() libingest.Configs {
	out := make(libingest.Configs, len(c.Ingest.Adapters))
	for name, ac := range c.Ingest.Adapters {
		if len(ac.Settings) == 0 {
			continue
		}
		settings := ac.Settings
		out[name] = func(v interface{}) error {
			b, err := json.Marshal(settings)
			if err != nil {
				return err
			}
			return json.Unmarshal(b, v)
		}
	}
	return out
}

func (c *Config) adapterOptions() map[string]libingest.AdapterOptions {
	out := make(map[string]libingest.AdapterOptions, len(c.Ingest.Adapters))
	for name, ac := range c.Ingest.Adapters {
		out[name] = libingest.AdapterOptions{
			MaxPages:   ac.MaxPages,
			MaxAgeDays: ac.MaxAgeDays,
		}
	}
	return out
}

// groupFilter reports, per group, which adapters to run. Groups switched off
// entirely map to an explicit empty list.
func (c *Config) groupFilter() map[driver.Group][]string {
	out := make(map[driver.Group][]string)
	for g, names := range c.Ingest.Enabled {
		out[driver.Group(g)] = names
	}
	if len(c.Ingest.Groups) != 0 {
		on := make(map[driver.Group]struct{}, len(c.Ingest.Groups))
		for _, g := range c.Ingest.Groups {
			on[driver.Group(g)] = struct{}{}
		}
		for _, g := range []driver.Group{driver.GroupCurated, driver.GroupNews, driver.GroupRSS} {
			if _, ok := on[g]; !ok {
				out[g] = nil
			}
		}
	}
	return out
}

func (c *Config) dedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowDays) * 24 * time.Hour
}
