// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/timegate/internal/config"
	xglog "github.com/ManuGH/timegate/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "coverage":
			return runCoverageCLI(args[1:], stdout, stderr)
		case "validate":
			return runValidateCLI(args[1:], stdout, stderr)
		case "storage":
			return runStorageCLI(args[1:], stdout, stderr)
		}
	}

	fs := flag.NewFlagSet("timegate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	seedPath := fs.String("seed", "", "YAML rule catalog to import before serving")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stderr)
			return 0
		}
		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintf(stdout, "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	// Safe defaults until the config is loaded.
	xglog.Configure(xglog.Config{Level: "info", Service: "timegate", Version: version})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := runDaemon(ctx, daemonOptions{
		configPath: resolveConfigPath(*configPath),
		seedPath:   strings.TrimSpace(*seedPath),
	})
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("timegate stopped with error")
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  timegate [--config config.yaml] [--seed catalog.yaml]")
	_, _ = fmt.Fprintln(w, "  timegate coverage --key KEY [--config config.yaml] [--json]")
	_, _ = fmt.Fprintln(w, "  timegate validate [--file|-f config.yaml]")
	_, _ = fmt.Fprintln(w, "  timegate storage verify [--path PATH] [--mode quick|full]")
}

// resolveConfigPath returns explicit when set, otherwise ${TIMEGATE_DATA}/config.yaml
// if that file exists, otherwise "".
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, config.Defaults().DataDir))
	if dataDir == "" {
		return ""
	}
	auto := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}
