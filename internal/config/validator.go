package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/aretw0/pitcrew/pkg/persistence/middleware"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "engine.workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the accepted log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidArchiveBackends returns the accepted archive backends.
func ValidArchiveBackends() []string {
	return []string{"memory", "redis"}
}

// Validate checks the Config and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}

	if c.Bus.QueueCapacity <= 0 {
		add("bus.queue_capacity", c.Bus.QueueCapacity, "must be positive")
	}
	if c.Bus.AuditLimit <= 0 {
		add("bus.audit_limit", c.Bus.AuditLimit, "must be positive")
	}
	if c.Bus.AuditKeep <= 0 || c.Bus.AuditKeep > c.Bus.AuditLimit {
		add("bus.audit_keep", c.Bus.AuditKeep, "must be positive and not above bus.audit_limit")
	}

	if c.Timeout.PollIntervalMs <= 0 {
		add("timeout.poll_interval_ms", c.Timeout.PollIntervalMs, "must be positive")
	}

	if c.Engine.Workers <= 0 {
		add("engine.workers", c.Engine.Workers, "must be positive")
	}
	if c.Engine.MaxRetries < 0 {
		add("engine.max_retries", c.Engine.MaxRetries, "must not be negative")
	}
	if c.Engine.BackoffBaseMs <= 0 {
		add("engine.backoff_base_ms", c.Engine.BackoffBaseMs, "must be positive")
	}
	if c.Engine.StageTimeoutMs <= 0 {
		add("engine.stage_timeout_ms", c.Engine.StageTimeoutMs, "must be positive")
	}
	if c.Engine.UrgencyThreshold < 0 || c.Engine.UrgencyThreshold > 1 {
		add("engine.urgency_threshold", c.Engine.UrgencyThreshold, "must be between 0 and 1")
	}
	if c.Engine.CriticalThreshold < c.Engine.UrgencyThreshold || c.Engine.CriticalThreshold > 1 {
		add("engine.critical_threshold", c.Engine.CriticalThreshold, "must be between engine.urgency_threshold and 1")
	}
	if c.Engine.ErrorBuffer <= 0 {
		add("engine.error_buffer", c.Engine.ErrorBuffer, "must be positive")
	}

	if !slices.Contains(ValidArchiveBackends(), c.Archive.Backend) {
		add("archive.backend", c.Archive.Backend, "must be one of "+strings.Join(ValidArchiveBackends(), ", "))
	}
	for _, pattern := range c.Archive.MaskFields {
		if _, err := regexp.Compile(pattern); err != nil {
			add("archive.mask_fields", pattern, "must be a valid regular expression")
		}
	}
	if c.Archive.EncryptionKey != "" {
		if _, err := middleware.ParseKey(c.Archive.EncryptionKey); err != nil {
			add("archive.encryption_key", "<redacted>", err.Error())
		}
	}
	for _, key := range c.Archive.FallbackKeys {
		if _, err := middleware.ParseKey(key); err != nil {
			add("archive.fallback_keys", "<redacted>", err.Error())
		}
	}
	if len(c.Archive.FallbackKeys) > 0 && c.Archive.EncryptionKey == "" {
		add("archive.fallback_keys", "<redacted>", "requires archive.encryption_key")
	}
	needsRedis := c.Archive.Backend == "redis" || c.Redis.Audit
	if needsRedis && c.Redis.Address == "" {
		add("redis.address", c.Redis.Address, "required when redis is used")
	}
	if c.Redis.TTLMinutes < 0 {
		add("redis.ttl_minutes", c.Redis.TTLMinutes, "must not be negative")
	}

	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		add("nats.subject_prefix", c.NATS.SubjectPrefix, "required when nats.url is set")
	}

	return errs
}
