// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ManuGH/timegate/internal/config"
	"github.com/ManuGH/timegate/internal/engine"
	"github.com/ManuGH/timegate/internal/persistence/sqlite"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/ManuGH/timegate/internal/store"
)

func runValidateCLI(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("timegate validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := resolveConfigPath(file)
	if configPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required (no config.yaml found in $TIMEGATE_DATA)")
		return 2
	}

	if _, err := config.NewLoader(configPath, version).Load(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s is valid\n", configPath)
	return 0
}

func runCoverageCLI(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("timegate coverage", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var key, configPath string
	var asJSON bool
	fs.StringVar(&key, "key", "", "subject key")
	fs.StringVar(&configPath, "config", "", "path to config file (YAML)")
	fs.BoolVar(&asJSON, "json", false, "print the grid as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	key = strings.TrimSpace(key)
	if key == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --key is required")
		return 2
	}

	cfg, err := config.NewLoader(resolveConfigPath(configPath), version).Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	rules, err := store.Open(ctx, storeConfig(cfg))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open rule store: %v\n", err)
		return 1
	}
	defer func() { _ = rules.Close() }()

	grid, err := engine.New(rules, nil, engine.Config{}).SubjectCoverage(ctx, key)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if asJSON {
		out := make(map[string][]int, 7)
		for d := schedule.Monday; d <= schedule.Sunday; d++ {
			out[d.String()] = grid.Hours(d)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "%s (%d covered hours)\n", key, grid.Count())
	_, _ = io.WriteString(stdout, grid.String())
	return 0
}

func runStorageCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printStorageUsage(stdout)
		return 0
	}
	switch args[0] {
	case "verify":
		return runStorageVerify(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printStorageUsage(stderr)
		return 2
	}
}

func printStorageUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  timegate storage verify [--path PATH] [--mode quick|full] [--config config.yaml]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Flags:")
	_, _ = fmt.Fprintln(w, "  --path string    SQLite rule database (default: the configured store)")
	_, _ = fmt.Fprintln(w, "  --mode string    Verification mode: quick (default) or full")
	_, _ = fmt.Fprintln(w, "  --config string  Config used to locate the database when --path is omitted")
}

func runStorageVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("timegate storage verify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var path, mode, configPath string
	fs.StringVar(&path, "path", "", "path to the SQLite database file")
	fs.StringVar(&mode, "mode", sqlite.VerifyQuick, "verification mode: quick or full")
	fs.StringVar(&configPath, "config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != sqlite.VerifyQuick && mode != sqlite.VerifyFull {
		_, _ = fmt.Fprintf(stderr, "Error: invalid mode %q. Use 'quick' or 'full'.\n", mode)
		return 2
	}

	if path == "" {
		cfg, err := config.NewLoader(resolveConfigPath(configPath), version).Load()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if b := strings.ToLower(cfg.Storage.Backend); b != store.BackendSQLite {
			_, _ = fmt.Fprintf(stderr, "Error: storage backend %q has no integrity check; pass --path for a SQLite file\n", b)
			return 2
		}
		path = storeConfig(cfg).ResolvedPath()
	}

	_, _ = fmt.Fprintf(stderr, "Verifying integrity of %s (mode: %s)...\n", path, mode)
	issues, err := sqlite.VerifyIntegrity(context.Background(), path, mode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Verification interrupted by system error: %v\n", err)
		return 1
	}
	if len(issues) > 0 {
		_, _ = fmt.Fprintln(stderr, "CORRUPTION DETECTED")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stderr, "  - %s\n", issue)
		}
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "Integrity verified: ok")
	return 0
}
