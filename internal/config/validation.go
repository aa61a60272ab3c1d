// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/timegate/internal/validate"
	"github.com/rs/zerolog"
)

// Validate checks cfg and creates DataDir when missing.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Directory("dataDir", cfg.DataDir, false)
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil || cfg.LogLevel == "" {
		v.AddError("logLevel", "must be one of trace, debug, info, warn, error", cfg.LogLevel)
	}

	v.OneOf("storage.backend", strings.ToLower(cfg.Storage.Backend), []string{"sqlite", "badger", "memory"})

	if cfg.Usage.RedisAddr != "" {
		v.HostPort("usage.redisAddr", cfg.Usage.RedisAddr)
	}
	v.Range("usage.redisDB", cfg.Usage.RedisDB, 0, 15)
	v.DurationRange("usage.timeout", cfg.Usage.Timeout, time.Millisecond, 10*time.Second)
	v.DurationRange("usage.cacheTTL", cfg.Usage.CacheTTL, 0, time.Minute)
	v.DurationRange("usage.keyTTL", cfg.Usage.KeyTTL, time.Hour, 0)

	v.DurationRange("rebuild.minInterval", cfg.Rebuild.MinInterval, 0, time.Minute)
	v.DurationRange("rebuild.retryBase", cfg.Rebuild.RetryBase, time.Millisecond, 0)
	if cfg.Rebuild.RetryMax < cfg.Rebuild.RetryBase {
		v.AddError("rebuild.retryMax", fmt.Sprintf("must not be below retryBase (%s)", cfg.Rebuild.RetryBase), cfg.Rebuild.RetryMax)
	}
	v.DurationRange("rebuild.resyncInterval", cfg.Rebuild.ResyncInterval, 0, 0)

	if cfg.API.ListenAddr != "" {
		v.HostPort("api.listenAddr", cfg.API.ListenAddr)
	}
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.protocol", cfg.Telemetry.Protocol, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	return v.Err()
}
