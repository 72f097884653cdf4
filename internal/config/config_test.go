package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/pitcrew/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	assert.Empty(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Timeout.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Engine.StageTimeout())
	assert.Equal(t, time.Second, cfg.Engine.BackoffBase())
	assert.Zero(t, cfg.Redis.TTL())
}

func TestLoad_MissingFileYieldsDefault(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	path := writeFile(t, "pitcrew.yaml", `
engine:
  workers: 8
  max_retries: 5
archive:
  backend: redis
redis:
  address: redis:6379
  ttl_minutes: 90
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5, cfg.Engine.MaxRetries)
	assert.Equal(t, 0.4, cfg.Engine.UrgencyThreshold, "unset keys keep their default")
	assert.Equal(t, "redis", cfg.Archive.Backend)
	assert.Equal(t, 90*time.Minute, cfg.Redis.TTL())
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "pitcrew.json", `{"log": {"level": "debug"}, "http": {"address": ""}}`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Empty(t, cfg.HTTP.Address)
}

func TestLoad_ParseError(t *testing.T) {
	path := writeFile(t, "broken.yaml", "engine: [unterminated")
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "failed to parse broken.yaml")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"no workers", func(c *config.Config) { c.Engine.Workers = 0 }, "engine.workers"},
		{"negative retries", func(c *config.Config) { c.Engine.MaxRetries = -1 }, "engine.max_retries"},
		{"critical below urgency", func(c *config.Config) { c.Engine.CriticalThreshold = 0.2 }, "engine.critical_threshold"},
		{"keep above limit", func(c *config.Config) { c.Bus.AuditKeep = c.Bus.AuditLimit + 1 }, "bus.audit_keep"},
		{"unknown archive", func(c *config.Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"redis without address", func(c *config.Config) { c.Redis.Audit = true; c.Redis.Address = "" }, "redis.address"},
		{"bad mask pattern", func(c *config.Config) { c.Archive.MaskFields = []string{"("} }, "archive.mask_fields"},
		{"short encryption key", func(c *config.Config) { c.Archive.EncryptionKey = "abcd" }, "archive.encryption_key"},
		{"fallback without active key", func(c *config.Config) {
			c.Archive.FallbackKeys = []string{strings.Repeat("ab", 32)}
		}, "archive.fallback_keys"},
		{"nats without prefix", func(c *config.Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.SubjectPrefix = "" }, "nats.subject_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeFile(t, "invalid.yaml", "engine:\n  workers: -2\n  stage_timeout_ms: 0\n")
	_, err := config.Load(path)

	var verrs config.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "2 validation errors")
}

func TestFromViper_EnvOverrides(t *testing.T) {
	t.Setenv("PITCREW_ENGINE_WORKERS", "12")
	t.Setenv("PITCREW_AGENTS_BASELINE", "true")

	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Engine.Workers)
	assert.True(t, cfg.Agents.Baseline)
	assert.Equal(t, config.Default().Bus, cfg.Bus)
}

func TestFromViper_SliceFromEnv(t *testing.T) {
	t.Setenv("PITCREW_ARCHIVE_MASK_FIELDS", "phone,email")

	v := viper.New()
	config.SetDefaults(v)
	config.BindEnv(v)

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"phone", "email"}, cfg.Archive.MaskFields)
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Workers = 2

	out, err := cfg.YAML()
	require.NoError(t, err)

	var back config.Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, *cfg, back)
}

func TestYAML_RedactsKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Archive.EncryptionKey = strings.Repeat("ab", 32)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), cfg.Archive.EncryptionKey)
	assert.Contains(t, string(out), "encryption_key: <redacted>")
}
