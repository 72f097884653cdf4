// Package config defines the pitcrew runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/pitcrew/pkg/domain"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. PITCREW_ENGINE_WORKERS.
const EnvPrefix = "PITCREW"

// Config is the complete runtime configuration.
type Config struct {
	Log     LogConfig     `yaml:"log" json:"log" mapstructure:"log"`
	Bus     BusConfig     `yaml:"bus" json:"bus" mapstructure:"bus"`
	Timeout TimeoutConfig `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	Engine  EngineConfig  `yaml:"engine" json:"engine" mapstructure:"engine"`
	Archive ArchiveConfig `yaml:"archive" json:"archive" mapstructure:"archive"`
	Redis   RedisConfig   `yaml:"redis" json:"redis" mapstructure:"redis"`
	NATS    NATSConfig    `yaml:"nats" json:"nats" mapstructure:"nats"`
	HTTP    HTTPConfig    `yaml:"http" json:"http" mapstructure:"http"`
	Agents  AgentsConfig  `yaml:"agents" json:"agents" mapstructure:"agents"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level" mapstructure:"level"`
}

// BusConfig controls the message bus.
type BusConfig struct {
	QueueCapacity  int    `yaml:"queue_capacity" json:"queue_capacity" mapstructure:"queue_capacity"`
	AuditLimit     int    `yaml:"audit_limit" json:"audit_limit" mapstructure:"audit_limit"`
	AuditKeep      int    `yaml:"audit_keep" json:"audit_keep" mapstructure:"audit_keep"`
	MonitorChannel string `yaml:"monitor_channel" json:"monitor_channel" mapstructure:"monitor_channel"`
}

// TimeoutConfig controls the timeout tracker.
type TimeoutConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// EngineConfig controls the workflow engine.
type EngineConfig struct {
	Workers           int     `yaml:"workers" json:"workers" mapstructure:"workers"`
	MaxRetries        int     `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms" json:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	StageTimeoutMs    int     `yaml:"stage_timeout_ms" json:"stage_timeout_ms" mapstructure:"stage_timeout_ms"`
	UrgencyThreshold  float64 `yaml:"urgency_threshold" json:"urgency_threshold" mapstructure:"urgency_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold" json:"critical_threshold" mapstructure:"critical_threshold"`
	ErrorBuffer       int     `yaml:"error_buffer" json:"error_buffer" mapstructure:"error_buffer"`
}

// ArchiveConfig selects where terminal workflows are kept.
type ArchiveConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" json:"backend" mapstructure:"backend"`
	// MaskFields are regular expressions; matching payload keys are masked before archiving.
	MaskFields []string `yaml:"mask_fields,omitempty" json:"mask_fields" mapstructure:"mask_fields"`
	// EncryptionKey seals archived workflows with AES-256-GCM (hex or base64, 32 bytes).
	EncryptionKey string `yaml:"encryption_key,omitempty" json:"encryption_key,omitempty" mapstructure:"encryption_key"`
	// FallbackKeys still decrypt records sealed before a key rotation.
	FallbackKeys []string `yaml:"fallback_keys,omitempty" json:"fallback_keys,omitempty" mapstructure:"fallback_keys"`
}

// RedisConfig configures the redis archive and audit sink.
type RedisConfig struct {
	Address    string `yaml:"address" json:"address" mapstructure:"address"`
	Password   string `yaml:"password" json:"password,omitempty" mapstructure:"password"`
	DB         int    `yaml:"db" json:"db" mapstructure:"db"`
	Prefix     string `yaml:"prefix" json:"prefix" mapstructure:"prefix"`
	TTLMinutes int    `yaml:"ttl_minutes" json:"ttl_minutes" mapstructure:"ttl_minutes"`
	Audit      bool   `yaml:"audit" json:"audit" mapstructure:"audit"`
}

// NATSConfig configures the NATS audit stream. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url" json:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix" mapstructure:"subject_prefix"`
}

// HTTPConfig configures the status API. An empty address disables it.
type HTTPConfig struct {
	Address string `yaml:"address" json:"address" mapstructure:"address"`
}

// AgentsConfig controls the in-process agents.
type AgentsConfig struct {
	Baseline bool `yaml:"baseline" json:"baseline" mapstructure:"baseline"`
	// Urgency adds the urgency assessment stage to the baseline pipeline.
	Urgency bool `yaml:"urgency" json:"urgency" mapstructure:"urgency"`
	// Quality subscribes the manufacturing quality analyst to insights.
	Quality bool `yaml:"quality" json:"quality" mapstructure:"quality"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Bus: BusConfig{
			QueueCapacity:  10000,
			AuditLimit:     100000,
			AuditKeep:      50000,
			MonitorChannel: domain.ChannelSystemMonitoring,
		},
		Timeout: TimeoutConfig{PollIntervalMs: 1000},
		Engine: EngineConfig{
			Workers:           4,
			MaxRetries:        3,
			BackoffBaseMs:     1000,
			StageTimeoutMs:    30000,
			UrgencyThreshold:  0.4,
			CriticalThreshold: 0.7,
			ErrorBuffer:       64,
		},
		Archive: ArchiveConfig{Backend: "memory"},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "pitcrew:",
		},
		NATS:   NATSConfig{SubjectPrefix: "pitcrew.audit"},
		HTTP:   HTTPConfig{Address: ":8080"},
		Agents: AgentsConfig{Urgency: true, Quality: true},
	}
}

// PollInterval returns the tracker poll interval as a time.Duration.
func (c *TimeoutConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BackoffBase returns the retry backoff unit as a time.Duration.
func (c *EngineConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// StageTimeout returns the per-stage deadline as a time.Duration.
func (c *EngineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutMs) * time.Millisecond
}

// TTL returns the archive TTL (0 means no expiry).
func (c *RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Load reads a YAML or JSON file over Default. A missing file yields Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return cfg, nil
}

// SetDefaults registers Default on v so every key is known to viper,
// which makes environment overrides work without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("bus.queue_capacity", d.Bus.QueueCapacity)
	v.SetDefault("bus.audit_limit", d.Bus.AuditLimit)
	v.SetDefault("bus.audit_keep", d.Bus.AuditKeep)
	v.SetDefault("bus.monitor_channel", d.Bus.MonitorChannel)

	v.SetDefault("timeout.poll_interval_ms", d.Timeout.PollIntervalMs)

	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.max_retries", d.Engine.MaxRetries)
	v.SetDefault("engine.backoff_base_ms", d.Engine.BackoffBaseMs)
	v.SetDefault("engine.stage_timeout_ms", d.Engine.StageTimeoutMs)
	v.SetDefault("engine.urgency_threshold", d.Engine.UrgencyThreshold)
	v.SetDefault("engine.critical_threshold", d.Engine.CriticalThreshold)
	v.SetDefault("engine.error_buffer", d.Engine.ErrorBuffer)

	v.SetDefault("archive.backend", d.Archive.Backend)
	v.SetDefault("archive.mask_fields", d.Archive.MaskFields)
	v.SetDefault("archive.encryption_key", d.Archive.EncryptionKey)
	v.SetDefault("archive.fallback_keys", d.Archive.FallbackKeys)

	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.ttl_minutes", d.Redis.TTLMinutes)
	v.SetDefault("redis.audit", d.Redis.Audit)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)

	v.SetDefault("http.address", d.HTTP.Address)

	v.SetDefault("agents.baseline", d.Agents.Baseline)
	v.SetDefault("agents.urgency", d.Agents.Urgency)
	v.SetDefault("agents.quality", d.Agents.Quality)
}

// BindEnv makes PITCREW_SECTION_KEY override section.key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// YAML renders the configuration with archive keys redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	if redacted.Archive.EncryptionKey != "" {
		redacted.Archive.EncryptionKey = "<redacted>"
	}
	if len(redacted.Archive.FallbackKeys) > 0 {
		redacted.Archive.FallbackKeys = []string{"<redacted>"}
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
