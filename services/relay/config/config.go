// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the relay configuration. Settings
// come from three layers, lowest precedence first: built-in defaults,
// the YAML config file, then AIW_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/insightrelay/insightrelay/services/relay/secrets"
)

// DefaultIngestURL is used when no connection string supplies an
// ingestion endpoint.
const DefaultIngestURL = "https://dc.services.visualstudio.com/v2/track"

// Config holds every tunable of the relay.
type Config struct {
	ServiceName string `yaml:"service_name" validate:"required"`
	Environment string `yaml:"environment"`
	// Version is stamped onto every telemetry item so ingested data can
	// be segmented by deployment.
	Version string `yaml:"version"`

	// ConnectionString is the Application Insights connection string.
	// It may be stored encrypted with the "enc:" prefix.
	ConnectionString string `yaml:"connection_string"`
	// InstrumentationKey is used when no connection string is set.
	// Must be GUID-shaped; anything else is coerced to empty, which
	// disables sending.
	InstrumentationKey string `yaml:"instrumentation_key"`
	// IngestURL overrides the ingestion endpoint.
	IngestURL string `yaml:"ingest_url"`

	MinLevel     string  `yaml:"min_level"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`

	BatchMaxSize       int           `yaml:"batch_max_size" validate:"gte=1"`
	BatchFlushInterval time.Duration `yaml:"batch_flush_interval"`
	AsyncEnabled       bool          `yaml:"async_enabled"`

	RetrySchedule      []time.Duration `yaml:"retry_schedule"`
	RetryQueueMax      int             `yaml:"retry_queue_max" validate:"gte=1"`
	RetryDrainInterval time.Duration   `yaml:"retry_drain_interval"`

	RedactKeys     []string `yaml:"redact_keys"`
	RedactPatterns []string `yaml:"redact_patterns"`

	SlowThreshold time.Duration `yaml:"slow_threshold"`

	DataDir string `yaml:"data_dir"`

	// SecretKey decrypts enc: values; normally set via AIW_SECRET_KEY.
	SecretKey string `yaml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "insightrelay",
		Environment:        "production",
		Version:            "0.0.0",
		IngestURL:          DefaultIngestURL,
		MinLevel:           "info",
		SamplingRate:       1.0,
		BatchMaxSize:       20,
		BatchFlushInterval: 2 * time.Second,
		AsyncEnabled:       false,
		RetrySchedule: []time.Duration{
			time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour,
		},
		RetryQueueMax:      100,
		RetryDrainInterval: time.Minute,
		SlowThreshold:      time.Second,
		DataDir:            "data",
	}
}

// Load builds the effective configuration: defaults, overlaid by the
// YAML file at path (skipped when path is empty or missing), overlaid
// by environment variables, then finalized and validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Finalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays AIW_* environment variables onto cfg.
// APPLICATIONINSIGHTS_CONNECTION_STRING is honored as the conventional
// SDK variable when AIW_CONNECTION_STRING is not set.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AIW_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("AIW_VERSION"); v != "" {
		cfg.Version = v
	}
	if v := os.Getenv("AIW_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("AIW_CONNECTION_STRING"); v != "" {
		cfg.ConnectionString = v
	} else if v := os.Getenv("APPLICATIONINSIGHTS_CONNECTION_STRING"); v != "" {
		cfg.ConnectionString = v
	}
	if v := os.Getenv("AIW_INSTRUMENTATION_KEY"); v != "" {
		cfg.InstrumentationKey = v
	}
	if v := os.Getenv("AIW_INGEST_URL"); v != "" {
		cfg.IngestURL = v
	}
	if v := os.Getenv("AIW_MIN_LEVEL"); v != "" {
		cfg.MinLevel = v
	}
	if v := os.Getenv("AIW_SAMPLING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SamplingRate = f
		}
	}
	if v := os.Getenv("AIW_ASYNC_ENABLED"); v != "" {
		cfg.AsyncEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("AIW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AIW_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
}

// Finalize decrypts the connection string if needed, resolves the
// instrumentation key and ingestion URL, and validates the result.
func (c *Config) Finalize() error {
	if secrets.IsEncrypted(c.ConnectionString) {
		kc, err := secrets.NewKeychain(c.SecretKey)
		if err != nil {
			return fmt.Errorf("connection string is encrypted but no secret key is set: %w", err)
		}
		plain, err := kc.Decrypt(c.ConnectionString)
		if err != nil {
			return fmt.Errorf("decrypt connection string: %w", err)
		}
		c.ConnectionString = plain
	}

	if c.ConnectionString != "" {
		ikey, endpoint := ParseConnectionString(c.ConnectionString)
		if ikey != "" {
			c.InstrumentationKey = ikey
		}
		if endpoint != "" {
			c.IngestURL = strings.TrimRight(endpoint, "/") + "/v2/track"
		}
	}

	// Anything that is not GUID-shaped is treated as absent, which
	// silently disables sending rather than posting garbage.
	if c.InstrumentationKey != "" {
		if _, err := uuid.Parse(c.InstrumentationKey); err != nil {
			c.InstrumentationKey = ""
		}
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ParseConnectionString extracts InstrumentationKey and
// IngestionEndpoint from a semicolon-delimited connection string.
// Unknown fields are ignored.
func ParseConnectionString(cs string) (ikey, endpoint string) {
	for _, part := range strings.Split(cs, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "instrumentationkey":
			ikey = strings.TrimSpace(value)
		case "ingestionendpoint":
			endpoint = strings.TrimSpace(value)
		}
	}
	return ikey, endpoint
}
