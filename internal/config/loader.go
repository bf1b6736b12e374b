package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML loading. Pointer fields distinguish
// absent keys from zero values so the file only overrides what it sets.
// Durations are expressed in milliseconds.
type fileConfig struct {
	ListenAddr      *string      `yaml:"listenAddr"`
	MetricsAddr     *string      `yaml:"metricsAddr"`
	Environment     *string      `yaml:"environment"`
	MaxEntries      *int         `yaml:"maxEntries"`
	MaxBytes        *int64       `yaml:"maxBytes"`
	FlushIntervalMs *int64       `yaml:"flushIntervalMs"`
	DecayIntervalMs *int64       `yaml:"decayIntervalMs"`
	DecayFactor     *float64     `yaml:"decayFactor"`
	AbuseThreshold  *int         `yaml:"abuseThreshold"`
	StreamEndpoint  *string      `yaml:"streamEndpoint"`
	StreamRetries   *int         `yaml:"streamRetries"`
	StreamRetryBase *int64       `yaml:"streamRetryBaseMs"`
	ColumnEndpoint  *string      `yaml:"columnEndpoint"`
	ColumnUser      *string      `yaml:"columnUser"`
	ColumnPassword  *string      `yaml:"columnPassword"`
	ColumnTable     *string      `yaml:"columnTable"`
	ColumnRetries   *int         `yaml:"columnRetries"`
	ColumnChunkSize *int         `yaml:"columnChunkSize"`
	RedisAddr       *string      `yaml:"redisAddr"`
	QuotaLimit      *int         `yaml:"quotaLimit"`
	QuotaWindowMs   *int64       `yaml:"quotaWindowMs"`
	BypassRules     []RuleConfig `yaml:"bypassRules"`
}

// loadFile overlays the YAML file at path onto the configuration.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from config is trusted
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setString(&c.Environment, fc.Environment)
	setInt(&c.MaxEntries, fc.MaxEntries)
	setInt64(&c.MaxBytes, fc.MaxBytes)
	setMillis(&c.FlushInterval, fc.FlushIntervalMs)
	setMillis(&c.DecayInterval, fc.DecayIntervalMs)
	setFloat(&c.DecayFactor, fc.DecayFactor)
	setInt(&c.AbuseThreshold, fc.AbuseThreshold)
	setString(&c.StreamEndpoint, fc.StreamEndpoint)
	setInt(&c.StreamRetries, fc.StreamRetries)
	setMillis(&c.StreamRetryBase, fc.StreamRetryBase)
	setString(&c.ColumnEndpoint, fc.ColumnEndpoint)
	setString(&c.ColumnUser, fc.ColumnUser)
	setString(&c.ColumnPassword, fc.ColumnPassword)
	setString(&c.ColumnTable, fc.ColumnTable)
	setInt(&c.ColumnRetries, fc.ColumnRetries)
	setInt(&c.ColumnChunkSize, fc.ColumnChunkSize)
	setString(&c.RedisAddr, fc.RedisAddr)
	setInt(&c.QuotaLimit, fc.QuotaLimit)
	setMillis(&c.QuotaWindow, fc.QuotaWindowMs)

	if len(fc.BypassRules) > 0 {
		c.BypassRules = fc.BypassRules
	}

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setInt64(dst *int64, src *int64) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setMillis(dst *time.Duration, src *int64) {
	if src != nil && *src > 0 {
		*dst = time.Duration(*src) * time.Millisecond
	}
}
