// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates, watches and saves the daemon configuration.
// Precedence is ENV > file > defaults.
package config

import "time"

// AppConfig is the effective configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	Storage   StorageConfig   `yaml:"storage"`
	Usage     UsageConfig     `yaml:"usage"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// UsageConfig selects the usage provider. An empty RedisAddr means no usage
// source: every rule sees zero usage.
type UsageConfig struct {
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	Timeout       time.Duration `yaml:"timeout"`
	CacheTTL      time.Duration `yaml:"cacheTTL"`
	KeyTTL        time.Duration `yaml:"keyTTL"`
}

type RebuildConfig struct {
	MinInterval    time.Duration `yaml:"minInterval"`
	RetryBase      time.Duration `yaml:"retryBase"`
	RetryMax       time.Duration `yaml:"retryMax"`
	ResyncInterval time.Duration `yaml:"resyncInterval"`
}

// APIConfig controls the HTTP surface. An empty ListenAddr disables it.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Protocol     string  `yaml:"protocol"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "/var/lib/timegate",
		LogLevel: "info",
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Usage: UsageConfig{
			Timeout:  50 * time.Millisecond,
			CacheTTL: 2 * time.Second,
			KeyTTL:   8 * 24 * time.Hour,
		},
		Rebuild: RebuildConfig{
			MinInterval:    250 * time.Millisecond,
			RetryBase:      500 * time.Millisecond,
			RetryMax:       30 * time.Second,
			ResyncInterval: 5 * time.Minute,
		},
		API: APIConfig{
			ListenAddr: ":8088",
			RateLimit:  600,
		},
		Telemetry: TelemetryConfig{
			Protocol:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
