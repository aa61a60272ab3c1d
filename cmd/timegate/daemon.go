// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ManuGH/timegate/internal/api"
	"github.com/ManuGH/timegate/internal/config"
	xglog "github.com/ManuGH/timegate/internal/log"
	"github.com/ManuGH/timegate/internal/store"
	"github.com/ManuGH/timegate/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type daemonOptions struct {
	configPath string
	seedPath   string
	// onListen, when set, receives the bound API address.
	onListen func(net.Addr)
}

// runDaemon loads the config, wires the components and serves until ctx is
// cancelled or a component fails.
func runDaemon(ctx context.Context, opts daemonOptions) error {
	loader := config.NewLoader(opts.configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "timegate", Version: cfg.Version})
	logger := xglog.WithComponent("daemon")

	source := "env+defaults"
	if opts.configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, opts.configPath).
		Msg("loaded configuration")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "timegate",
		ServiceVersion: version,
		ExporterType:   cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "daemon.close_failed").Msg("closing components failed")
		}
	}()

	if opts.seedPath != "" {
		if err := importSeed(ctx, a.store, opts.seedPath); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.API.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.API.ListenAddr, err)
	}
	if opts.onListen != nil {
		opts.onListen(ln.Addr())
	}
	srv := api.NewHTTPServer(cfg.API.ListenAddr, a.api.Handler())

	holder := config.NewHolder(cfg, loader)
	updates := make(chan config.AppConfig, 1)
	holder.RegisterListener(updates)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return holder.Watch(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case next := <-updates:
				a.applyConfig(next)
			}
		}
	})
	g.Go(func() error {
		logger.Info().
			Str(xglog.FieldEvent, "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("HTTP API listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("timegate stopped")
	return err
}

func importSeed(ctx context.Context, s store.RuleStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	res, err := store.ImportCatalog(ctx, s, f, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("import seed catalog %s: %w", path, err)
	}
	logger := xglog.WithComponent("daemon")
	logger.Info().
		Str(xglog.FieldEvent, "seed.imported").
		Str(xglog.FieldPath, path).
		Int(xglog.FieldSubjects, res.Subjects).
		Int(xglog.FieldRules, res.Rules).
		Int("replaced", res.Replaced).
		Msg("seed catalog imported")
	return nil
}
