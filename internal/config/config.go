package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"ReportHarvester/internal/domain"
	"ReportHarvester/internal/retry"
)

const (
	configPathEnv = "REPORT_HARVESTER_CONFIG"
	outputRootEnv = "REPORT_HARVESTER_OUTPUT"
	logLevelEnv   = "REPORT_HARVESTER_LOG_LEVEL"
	snapshotDBEnv = "REPORT_HARVESTER_SNAPSHOT_DB"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Harvest  HarvestConfig  `yaml:"harvest"`
	Storage  StorageConfig  `yaml:"storage"`
	Download DownloadConfig `yaml:"download"`
	Retry    RetryConfig    `yaml:"retry"`
	Sources  []SourceConfig `yaml:"sources" validate:"required,min=1,unique=Name,dive"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// HarvestConfig describes what to query and how fast.
type HarvestConfig struct {
	Years   []int  `yaml:"years" validate:"required,min=1,dive,gte=1990,lte=2100"`
	Keyword string `yaml:"keyword" validate:"required"`
	// PauseMs is the minimum gap between consecutive query calls.
	PauseMs    int `yaml:"pauseMs" validate:"gte=0"`
	TimeoutSec int `yaml:"timeoutSec" validate:"gte=1"`
}

// StorageConfig locates every artifact written by a run.
type StorageConfig struct {
	OutputRoot string `yaml:"outputRoot" validate:"required"`
	SnapshotDB string `yaml:"snapshotDb" validate:"required"`
	CSVDir     string `yaml:"csvDir" validate:"required"`
}

// DownloadConfig tunes document fetching.
type DownloadConfig struct {
	ChunkSizeKb int `yaml:"chunkSizeKb" validate:"gte=1"`
	PauseMs     int `yaml:"pauseMs" validate:"gte=0"`
	Workers     int `yaml:"workers" validate:"gte=1,lte=32"`
}

// RetryConfig is the YAML form of retry.Policy. MaxAttempts 0 retries
// forever; nil fields inherit from the enclosing policy.
type RetryConfig struct {
	MaxAttempts       *int     `yaml:"maxAttempts" validate:"omitempty,gte=0"`
	InitialDelayMs    *int     `yaml:"initialDelayMs" validate:"omitempty,gte=0"`
	MaxDelayMs        *int     `yaml:"maxDelayMs" validate:"omitempty,gte=0"`
	BackoffMultiplier *float64 `yaml:"backoffMultiplier" validate:"omitempty,gte=1"`
}

// SourceConfig enables a source and optionally points it at a mirror.
type SourceConfig struct {
	Name      domain.SourceID   `yaml:"name" validate:"required,source"`
	Enabled   *bool             `yaml:"enabled"`
	Endpoint  string            `yaml:"endpoint" validate:"omitempty,url"`
	AssetHost string            `yaml:"assetHost" validate:"omitempty,url"`
	Headers   map[string]string `yaml:"headers"`
	Retry     *RetryConfig      `yaml:"retry"`
}

// IsEnabled treats a missing flag as enabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Load reads YAML configuration from path, or from REPORT_HARVESTER_CONFIG
// when path is empty, decodes it over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		// keys absent from the file keep their defaults; lists replace them
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: validate: %w", err)
	}
	if len(c.EnabledSources()) == 0 {
		return errors.New("config: invalid: no source is enabled")
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report yaml keys rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("yaml")
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})
	_ = v.RegisterValidation("source", func(fl validator.FieldLevel) bool {
		return domain.SourceID(fl.Field().String()).Valid()
	})
	return v
}

// EnabledSources lists the enabled sources in configured order.
func (c Config) EnabledSources() []domain.SourceID {
	ids := make([]domain.SourceID, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.IsEnabled() {
			ids = append(ids, s.Name)
		}
	}
	return ids
}

// SourceOrder lists every configured source, enabled or not, in order.
func (c Config) SourceOrder() []domain.SourceID {
	ids := make([]domain.SourceID, 0, len(c.Sources))
	for _, s := range c.Sources {
		ids = append(ids, s.Name)
	}
	return ids
}

// Source returns the settings of one source.
func (c Config) Source(id domain.SourceID) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// OnlySources disables every source not listed, keeping configured order.
func (c *Config) OnlySources(ids []domain.SourceID) error {
	keep := make(map[domain.SourceID]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.Source(id); !ok {
			return fmt.Errorf("config: source %q is not configured", id)
		}
		keep[id] = true
	}
	for i := range c.Sources {
		enabled := keep[c.Sources[i].Name]
		c.Sources[i].Enabled = &enabled
	}
	return nil
}

// RetryFor returns the global policy with the source override applied.
func (c Config) RetryFor(id domain.SourceID) retry.Policy {
	cfg := c.Retry
	if s, ok := c.Source(id); ok && s.Retry != nil {
		cfg = mergeRetry(cfg, *s.Retry)
	}
	return cfg.Policy()
}

// Policy converts the YAML form; unset fields keep the package defaults.
func (r RetryConfig) Policy() retry.Policy {
	r = mergeRetry(defaultRetry(), r)
	return retry.Policy{
		MaxAttempts:  *r.MaxAttempts,
		InitialDelay: time.Duration(*r.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(*r.MaxDelayMs) * time.Millisecond,
		Multiplier:   *r.BackoffMultiplier,
	}
}

// QueryPause is the gap enforced between query calls.
func (h HarvestConfig) QueryPause() time.Duration {
	return time.Duration(h.PauseMs) * time.Millisecond
}

// Timeout bounds a single HTTP exchange.
func (h HarvestConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSec) * time.Second
}

// Pause is the gap enforced between document requests.
func (d DownloadConfig) Pause() time.Duration {
	return time.Duration(d.PauseMs) * time.Millisecond
}

// ChunkSize is the copy buffer size in bytes.
func (d DownloadConfig) ChunkSize() int {
	return d.ChunkSizeKb * 1024
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(outputRootEnv); v != "" {
		c.Storage.OutputRoot = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(snapshotDBEnv); v != "" {
		c.Storage.SnapshotDB = v
	}
}

func mergeRetry(base, override RetryConfig) RetryConfig {
	if override.MaxAttempts != nil {
		base.MaxAttempts = override.MaxAttempts
	}
	if override.InitialDelayMs != nil {
		base.InitialDelayMs = override.InitialDelayMs
	}
	if override.MaxDelayMs != nil {
		base.MaxDelayMs = override.MaxDelayMs
	}
	if override.BackoffMultiplier != nil {
		base.BackoffMultiplier = override.BackoffMultiplier
	}
	return base
}

func defaultRetry() RetryConfig {
	attempts, initial, maxDelay, multiplier := 5, 1000, 30000, 2.0
	return RetryConfig{
		MaxAttempts:       &attempts,
		InitialDelayMs:    &initial,
		MaxDelayMs:        &maxDelay,
		BackoffMultiplier: &multiplier,
	}
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Harvest: HarvestConfig{
			Years:      []int{time.Now().In(domain.Location).Year() - 1},
			Keyword:    "社会责任",
			PauseMs:    1000,
			TimeoutSec: 30,
		},
		Storage: StorageConfig{
			OutputRoot: "reports",
			SnapshotDB: "reports/snapshots.db",
			CSVDir:     "reports",
		},
		Download: DownloadConfig{ChunkSizeKb: 100, PauseMs: 1000, Workers: 1},
		Retry:    defaultRetry(),
		Sources: []SourceConfig{
			{Name: domain.SourceCNInfo},
			{Name: domain.SourceSSE},
			{Name: domain.SourceSZSE},
		},
	}
}
