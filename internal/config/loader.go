// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by the loader.
const (
	EnvDataDir        = "TIMEGATE_DATA"
	EnvLogLevel       = "TIMEGATE_LOG_LEVEL"
	EnvStorage        = "TIMEGATE_STORAGE"
	EnvStoragePath    = "TIMEGATE_STORAGE_PATH"
	EnvRedisAddr      = "TIMEGATE_REDIS_ADDR"
	EnvRedisPassword  = "TIMEGATE_REDIS_PASSWORD"
	EnvRedisDB        = "TIMEGATE_REDIS_DB"
	EnvUsageTimeout   = "TIMEGATE_USAGE_TIMEOUT"
	EnvUsageCacheTTL  = "TIMEGATE_USAGE_CACHE_TTL"
	EnvRebuildMin     = "TIMEGATE_REBUILD_MIN_INTERVAL"
	EnvRetryBase      = "TIMEGATE_REBUILD_RETRY_BASE"
	EnvRetryMax       = "TIMEGATE_REBUILD_RETRY_MAX"
	EnvResync         = "TIMEGATE_RESYNC_INTERVAL"
	EnvListen         = "TIMEGATE_LISTEN"
	EnvRateLimit      = "TIMEGATE_RATE_LIMIT"
	EnvTracing        = "TIMEGATE_TRACING_ENABLED"
	EnvTracingProto   = "TIMEGATE_OTLP_PROTOCOL"
	EnvTracingTarget  = "TIMEGATE_OTLP_ENDPOINT"
	EnvTracingSampler = "TIMEGATE_TRACE_SAMPLE_RATE"
)

// Loader builds an AppConfig from defaults, an optional YAML file and the
// environment, then validates it.
type Loader struct {
	configPath string
	version    string
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file path, possibly empty.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ParseFile strictly decodes path on top of Defaults without applying the
// environment or validating.
func ParseFile(path string) (AppConfig, error) {
	cfg := Defaults()
	err := loadFile(path, &cfg)
	return cfg, err
}

// loadFile decodes path onto cfg. Keys absent from the file keep cfg's values.
func loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)

	cfg.Storage.Backend = ParseString(EnvStorage, cfg.Storage.Backend)
	cfg.Storage.Path = ParseString(EnvStoragePath, cfg.Storage.Path)

	cfg.Usage.RedisAddr = ParseString(EnvRedisAddr, cfg.Usage.RedisAddr)
	cfg.Usage.RedisPassword = ParseString(EnvRedisPassword, cfg.Usage.RedisPassword)
	cfg.Usage.RedisDB = ParseInt(EnvRedisDB, cfg.Usage.RedisDB)
	cfg.Usage.Timeout = ParseDuration(EnvUsageTimeout, cfg.Usage.Timeout)
	cfg.Usage.CacheTTL = ParseDuration(EnvUsageCacheTTL, cfg.Usage.CacheTTL)

	cfg.Rebuild.MinInterval = ParseDuration(EnvRebuildMin, cfg.Rebuild.MinInterval)
	cfg.Rebuild.RetryBase = ParseDuration(EnvRetryBase, cfg.Rebuild.RetryBase)
	cfg.Rebuild.RetryMax = ParseDuration(EnvRetryMax, cfg.Rebuild.RetryMax)
	cfg.Rebuild.ResyncInterval = ParseDuration(EnvResync, cfg.Rebuild.ResyncInterval)

	cfg.API.ListenAddr = ParseString(EnvListen, cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(EnvRateLimit, cfg.API.RateLimit)

	cfg.Telemetry.Enabled = ParseBool(EnvTracing, cfg.Telemetry.Enabled)
	cfg.Telemetry.Protocol = ParseString(EnvTracingProto, cfg.Telemetry.Protocol)
	cfg.Telemetry.Endpoint = ParseString(EnvTracingTarget, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(EnvTracingSampler, cfg.Telemetry.SamplingRate)
}
