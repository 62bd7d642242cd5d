// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightrelay/insightrelay/services/relay/secrets"
)

const testIKey = "12345678-1234-1234-1234-123456789abc"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "insightrelay", cfg.ServiceName)
	assert.Equal(t, DefaultIngestURL, cfg.IngestURL)
	assert.Equal(t, 1.0, cfg.SamplingRate)
	assert.Equal(t, 20, cfg.BatchMaxSize)
	assert.Equal(t, 100, cfg.RetryQueueMax)
	assert.Len(t, cfg.RetrySchedule, 4)
	assert.Equal(t, time.Minute, cfg.RetrySchedule[0])
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service_name: shop
environment: staging
instrumentation_key: `+testIKey+`
sampling_rate: 0.5
batch_max_size: 5
async_enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, testIKey, cfg.InstrumentationKey)
	assert.Equal(t, 0.5, cfg.SamplingRate)
	assert.Equal(t, 5, cfg.BatchMaxSize)
	assert.True(t, cfg.AsyncEnabled)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "service_name: from-yaml\n")
	t.Setenv("AIW_SERVICE_NAME", "from-env")
	t.Setenv("AIW_SAMPLING_RATE", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ServiceName)
	assert.Equal(t, 0.25, cfg.SamplingRate)
}

func TestConnectionStringResolution(t *testing.T) {
	t.Run("parses key and endpoint", func(t *testing.T) {
		ikey, endpoint := ParseConnectionString(
			"InstrumentationKey=" + testIKey + ";IngestionEndpoint=https://example.azure.com/")
		assert.Equal(t, testIKey, ikey)
		assert.Equal(t, "https://example.azure.com/", endpoint)
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		ikey, _ := ParseConnectionString("InstrumentationKey=" + testIKey + ";LiveEndpoint=x;;")
		assert.Equal(t, testIKey, ikey)
	})

	t.Run("finalize derives ingest url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ConnectionString = "InstrumentationKey=" + testIKey +
			";IngestionEndpoint=https://example.azure.com/"
		require.NoError(t, cfg.Finalize())
		assert.Equal(t, testIKey, cfg.InstrumentationKey)
		assert.Equal(t, "https://example.azure.com/v2/track", cfg.IngestURL)
	})
}

func TestNonGUIDInstrumentationKeyCoercedToEmpty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InstrumentationKey = "not-a-guid"
	require.NoError(t, cfg.Finalize())
	assert.Empty(t, cfg.InstrumentationKey, "invalid key must disable sending, not post garbage")
}

func TestEncryptedConnectionString(t *testing.T) {
	kc, err := secrets.NewKeychain("test-secret")
	require.NoError(t, err)
	sealed, err := kc.Encrypt("InstrumentationKey=" + testIKey)
	require.NoError(t, err)

	t.Run("decrypts with key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ConnectionString = sealed
		cfg.SecretKey = "test-secret"
		require.NoError(t, cfg.Finalize())
		assert.Equal(t, testIKey, cfg.InstrumentationKey)
	})

	t.Run("fails without key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ConnectionString = sealed
		assert.Error(t, cfg.Finalize())
	})
}

func TestValidationRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingRate = 3.0
	assert.Error(t, cfg.Finalize())

	cfg = DefaultConfig()
	cfg.ServiceName = ""
	assert.Error(t, cfg.Finalize())
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "insightrelay", cfg.ServiceName)
}
