// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/timegate/internal/api"
	"github.com/ManuGH/timegate/internal/config"
	"github.com/ManuGH/timegate/internal/engine"
	"github.com/ManuGH/timegate/internal/evaluator"
	xglog "github.com/ManuGH/timegate/internal/log"
	"github.com/ManuGH/timegate/internal/store"
	"github.com/ManuGH/timegate/internal/usage"
	"github.com/rs/zerolog"
)

// app holds the wired components of one daemon instance.
type app struct {
	store    store.RuleStore
	redis    *usage.Redis
	cached   *usage.Cached
	engine   *engine.Engine
	api      *api.Server
	logger   zerolog.Logger
	tracing  string
	recorder usage.Recorder
}

func storeConfig(cfg config.AppConfig) store.Config {
	return store.Config{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path, DataDir: cfg.DataDir}
}

func engineConfig(cfg config.AppConfig) engine.Config {
	return engine.Config{
		UsageTimeout:   cfg.Usage.Timeout,
		MinInterval:    cfg.Rebuild.MinInterval,
		RetryBase:      cfg.Rebuild.RetryBase,
		RetryMax:       cfg.Rebuild.RetryMax,
		ResyncInterval: cfg.Rebuild.ResyncInterval,
	}
}

// newApp opens the store and the usage backend and wires the engine and the
// HTTP surface on top. Close releases everything newApp opened.
func newApp(ctx context.Context, cfg config.AppConfig) (*app, error) {
	a := &app{logger: xglog.WithComponent("daemon")}
	if cfg.Telemetry.Enabled {
		a.tracing = "timegate"
	}

	sc := storeConfig(cfg)
	rules, err := store.Open(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	a.store = rules
	a.logger.Info().
		Str(xglog.FieldEvent, "store.opened").
		Str(xglog.FieldBackend, cfg.Storage.Backend).
		Str(xglog.FieldPath, sc.ResolvedPath()).
		Msg("rule store opened")

	var provider evaluator.UsageProvider = usage.Zero{}
	if cfg.Usage.RedisAddr != "" {
		a.redis, err = usage.NewRedis(ctx, usage.RedisConfig{
			Addr:     cfg.Usage.RedisAddr,
			Password: cfg.Usage.RedisPassword,
			DB:       cfg.Usage.RedisDB,
			KeyTTL:   cfg.Usage.KeyTTL,
		})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect usage store: %w", err)
		}
		provider = a.redis
		a.recorder = a.redis
		if cfg.Usage.CacheTTL > 0 {
			a.cached = usage.NewCached(a.redis, cfg.Usage.CacheTTL)
			provider = a.cached
			a.recorder = usage.InvalidatingRecorder{Recorder: a.redis, Cache: a.cached}
		}
	} else {
		a.logger.Warn().
			Str(xglog.FieldEvent, "usage.disabled").
			Msg("no usage backend configured, every budget check sees zero usage")
	}

	a.engine = engine.New(rules, provider, engineConfig(cfg))
	a.api = api.New(api.Config{
		Engine:             a.engine,
		Store:              rules,
		Recorder:           a.recorder,
		RateLimitPerMinute: cfg.API.RateLimit,
		TracingService:     a.tracing,
	})
	return a, nil
}

// applyConfig applies the settings that can change without a restart.
func (a *app) applyConfig(cfg config.AppConfig) {
	if err := xglog.SetLevel(cfg.LogLevel); err != nil {
		a.logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("ignoring invalid log level")
	}
	a.engine.SetUsageTimeout(cfg.Usage.Timeout)
	a.logger.Info().
		Str(xglog.FieldEvent, "config.applied").
		Str("log_level", cfg.LogLevel).
		Dur("usage_timeout", cfg.Usage.Timeout).
		Msg("applied reloaded configuration")
}

func (a *app) Close() error {
	var errs []error
	if a.cached != nil {
		a.cached.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
