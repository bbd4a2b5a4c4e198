// Package config loads the engine's tunables (spec §6.1) from a YAML
// file plus CAPSIM_-prefixed environment overrides, grounded on
// niceyeti-tabular's spf13/viper + yaml.v3 FromYaml pattern
// (tabular/reinforcement/learning.go) and IAmSoThirsty-Project-AI's
// use of yaml.v3 for its own static config documents.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/talgya/capsim/internal/domain"
)

// Config holds every named option from spec.md §6.1 plus the
// supplemental LAW/WEATHER toggles introduced in SPEC_FULL.md §9.
type Config struct {
	SimSpeedFactor            float64          `mapstructure:"sim_speed_factor" yaml:"sim_speed_factor"`
	MaxQueueSize              int              `mapstructure:"max_queue_size" yaml:"max_queue_size"`
	BatchSize                 int              `mapstructure:"batch_size" yaml:"batch_size"`
	BatchRetryBackoffsSec     []int            `mapstructure:"batch_retry_backoffs" yaml:"batch_retry_backoffs"`
	DecideScoreThreshold      float64          `mapstructure:"decide_score_threshold" yaml:"decide_score_threshold"`
	TrendArchiveThresholdDays int              `mapstructure:"trend_archive_threshold_days" yaml:"trend_archive_threshold_days"`
	PostCooldownMin           int              `mapstructure:"post_cooldown_min" yaml:"post_cooldown_min"`
	SelfDevCooldownMin        int              `mapstructure:"self_dev_cooldown_min" yaml:"self_dev_cooldown_min"`
	MaxPurchasesDay           int              `mapstructure:"max_purchases_day" yaml:"max_purchases_day"`
	ShutdownTimeoutSec        int              `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	EnergyRecoveryIntervalMin int              `mapstructure:"energy_recovery_interval_min" yaml:"energy_recovery_interval_min"`
	ExposureResetMin          int              `mapstructure:"exposure_reset_min" yaml:"exposure_reset_min"`
	CacheTTLMin               int              `mapstructure:"cache_ttl_min" yaml:"cache_ttl_min"`
	CacheMaxSize              int              `mapstructure:"cache_max_size" yaml:"cache_max_size"`

	// LawEventEnabled/WeatherEventEnabled gate the supplemental system
	// events recovered from the teacher (SPEC_FULL.md §9).
	LawEventEnabled     bool   `mapstructure:"law_event_enabled" yaml:"law_event_enabled"`
	WeatherEventEnabled bool   `mapstructure:"weather_event_enabled" yaml:"weather_event_enabled"`
	WeatherAPIKey       string `mapstructure:"weather_api_key" yaml:"weather_api_key"`
	WeatherLocation     string `mapstructure:"weather_location" yaml:"weather_location"`

	Effects     map[string]domain.EffectRow `mapstructure:"-" yaml:"effects"`
	ShopWeights map[string]float64          `mapstructure:"-" yaml:"shop_weights"`
}

// Default returns the spec's default option set (spec.md §6.1) before
// any file or environment overrides are applied.
func Default() *Config {
	return &Config{
		SimSpeedFactor:            60,
		MaxQueueSize:              5000,
		BatchSize:                 100,
		BatchRetryBackoffsSec:     []int{1, 2, 4},
		DecideScoreThreshold:      0.25,
		TrendArchiveThresholdDays: 3,
		PostCooldownMin:           60,
		SelfDevCooldownMin:        30,
		MaxPurchasesDay:           5,
		ShutdownTimeoutSec:        30,
		EnergyRecoveryIntervalMin: 1440,
		ExposureResetMin:          1440,
		CacheTTLMin:               2880,
		CacheMaxSize:              10000,
		LawEventEnabled:           true,
		WeatherEventEnabled:       true,
		WeatherLocation:           "San Diego,US",
		Effects:                   defaultEffects(),
		ShopWeights:               defaultShopWeights(),
	}
}

// defaultEffects projects domain.ActionEffects (keyed by ActionKind)
// into the string-keyed map config files override by action name.
func defaultEffects() map[string]domain.EffectRow {
	out := make(map[string]domain.EffectRow, len(domain.ActionEffects))
	for kind, row := range domain.ActionEffects {
		out[kind.String()] = row
	}
	return out
}

// defaultShopWeights projects domain.ShopWeights (keyed by Profession)
// into the string-keyed map config files override by profession name.
func defaultShopWeights() map[string]float64 {
	out := make(map[string]float64, len(domain.ShopWeights))
	for prof, w := range domain.ShopWeights {
		out[prof.String()] = w
	}
	return out
}

// Load reads a YAML config file (if path is non-empty) layered over
// Default(), then applies CAPSIM_-prefixed environment overrides of the
// scalar options (CAPSIM_SIM_SPEED_FACTOR and so on), with or without a file.
// EFFECTS and SHOP_WEIGHTS are unmarshaled separately via yaml.v3 since
// viper's mapstructure tags don't round-trip the nested documents
// cleanly (same split FromYaml/yaml.Unmarshal two-pass approach as
// niceyeti-tabular's TrainingConfig loader).
func Load(path string) (*Config, error) {
	cfg := Default()

	vp := viper.New()
	vp.SetEnvPrefix("CAPSIM")
	vp.AutomaticEnv()
	for _, key := range []string{"sim_speed_factor", "max_queue_size", "batch_size", "batch_retry_backoffs",
		"decide_score_threshold", "trend_archive_threshold_days", "post_cooldown_min", "self_dev_cooldown_min",
		"max_purchases_day", "shutdown_timeout_sec", "energy_recovery_interval_min", "exposure_reset_min",
		"cache_ttl_min", "cache_max_size", "law_event_enabled", "weather_event_enabled", "weather_api_key", "weather_location"} {
		if err := vp.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if path != "" {
		vp.SetConfigFile(path)
		vp.SetConfigType("yaml")
		vp.AddConfigPath(filepath.Dir(path))
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		if err := vp.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
		}

		raw, err := yaml.Marshal(vp.AllSettings())
		if err != nil {
			return nil, fmt.Errorf("config: re-marshal settings: %w", err)
		}
		nested := struct {
			Effects     map[string]domain.EffectRow `yaml:"effects"`
			ShopWeights map[string]float64          `yaml:"shop_weights"`
		}{}
		if err := yaml.Unmarshal(raw, &nested); err != nil {
			return nil, fmt.Errorf("config: unmarshal nested tables: %w", err)
		}
		if len(nested.Effects) > 0 {
			cfg.Effects = nested.Effects
		}
		if len(nested.ShopWeights) > 0 {
			cfg.ShopWeights = nested.ShopWeights
		}
	} else if err := vp.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies spec §7's fatal-at-bootstrap checks.
func (c *Config) Validate() error {
	if c.SimSpeedFactor == 0 {
		return &domain.ConfigError{Field: "sim_speed_factor", Msg: "must be non-zero"}
	}
	if c.MaxQueueSize < 0 {
		return &domain.ConfigError{Field: "max_queue_size", Msg: "must be non-negative"}
	}
	if c.BatchSize < 0 {
		return &domain.ConfigError{Field: "batch_size", Msg: "must be non-negative"}
	}
	if len(c.BatchRetryBackoffsSec) == 0 {
		return &domain.ConfigError{Field: "batch_retry_backoffs", Msg: "must contain at least one entry"}
	}
	for _, kind := range []domain.ActionKind{domain.ActionPost, domain.ActionPurchaseL1, domain.ActionPurchaseL2, domain.ActionPurchaseL3, domain.ActionSelfDev} {
		if _, ok := c.Effects[kind.String()]; !ok {
			return &domain.ConfigError{Field: "effects", Msg: fmt.Sprintf("missing row for action %q", kind.String())}
		}
	}
	return nil
}

// Cooldowns projects the agent-gating cooldown options into the
// domain package's Cooldowns value type.
func (c *Config) Cooldowns() domain.Cooldowns {
	return domain.Cooldowns{
		PostMin:    float64(c.PostCooldownMin),
		SelfDevMin: float64(c.SelfDevCooldownMin),
	}
}

// Limits projects the per-day action caps into domain.Limits.
func (c *Config) Limits() domain.Limits {
	return domain.Limits{MaxPurchasesDay: c.MaxPurchasesDay}
}

// CacheTTL projects CacheTTLMin (minutes, spec §6.1) into a
// time.Duration for the weather client's cache.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMin) * time.Minute
}

// EffectsByKind projects the string-keyed Effects table (the shape
// config files and viper unmarshal into) back into the
// domain.ActionKind-keyed map the executor consumes.
func (c *Config) EffectsByKind() map[domain.ActionKind]domain.EffectRow {
	out := make(map[domain.ActionKind]domain.EffectRow, len(c.Effects))
	for _, kind := range []domain.ActionKind{domain.ActionPost, domain.ActionPurchaseL1, domain.ActionPurchaseL2, domain.ActionPurchaseL3, domain.ActionSelfDev} {
		if row, ok := c.Effects[kind.String()]; ok {
			out[kind] = row
		}
	}
	return out
}
