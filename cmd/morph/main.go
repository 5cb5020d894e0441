// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the morph CLI: it enqueues ingestion jobs, runs the
// background processor, inspects chunks and runs migrations.
//
// Usage:
//
//	morph init                              Write morph.yaml with defaults
//	morph serve                             Run the processor until interrupted
//	morph enqueue --session S --user U ...  Register inputs and create a job
//	morph status --session S [--watch]      Show job progress
//	morph chunks --session S                List stored chunks
//	morph search --user U QUERY             Text search over chunks
//	morph migrate --session S --to Go       Migrate an ingested codebase
//	morph delete --session S                Delete a job and its chunks
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/bootstrap"
	"github.com/kraklabs/morph/internal/config"
	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags are accepted before the command name.
type GlobalFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
	Verbose int
	LogJSON bool
	Config  string
}

const usage = `morph - codebase ingestion and migration

Usage:
  morph [global options] <command> [options]

Commands:
  init      Write a morph.yaml configuration with defaults
  serve     Run the background processor, metrics and tracing
  enqueue   Register an archive or files for a session and create its job
  status    Show the status of a session's job
  chunks    List the chunks stored for a session
  search    Search chunk content, names and file names
  migrate   Migrate an ingested session to another language or framework
  delete    Delete a session's job, chunks and workspace

Global Options:
`

const usageFooter = `
Examples:
  morph init
  morph serve --metrics-addr :9464
  morph enqueue --session s1 --user u1 --archive ./project.zip
  morph status --session s1 --watch
  morph migrate --session s1 --from Python --to Go --out ./migrated

Environment Variables:
  MORPH_DATABASE_DRIVER, MORPH_DATABASE_DSN   Database selection
  MORPH_WORKSPACE_ROOT                        Workspace root
  MORPH_EMBEDDING_KEYS                        Comma-separated embedding credentials
  OPENAI_API_KEY                              Embedding and generation key
  MORPH_REDIS_ADDR                            Use redis for job events
  OLLAMA_HOST                                 Ollama URL for ollama providers

For detailed command help: morph <command> --help
`

func main() {
	var globals GlobalFlags
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.BoolVar(&globals.JSON, "json", false, "Output as JSON")
	flag.BoolVarP(&globals.Quiet, "quiet", "q", false, "Suppress progress output")
	flag.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	flag.CountVarP(&globals.Verbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flag.BoolVar(&globals.LogJSON, "log-json", false, "Write logs as JSON")
	flag.StringVarP(&globals.Config, "config", "c", "", "Path to morph.yaml (default: ./morph.yaml)")
	flag.CommandLine.SetInterspersed(false)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, usageFooter)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("morph version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}
	if globals.JSON {
		globals.Quiet = true
	}
	ui.InitColors(globals.NoColor)
	slog.SetDefault(newLogger(os.Stderr, globals))

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "serve":
		runServe(cmdArgs, globals)
	case "enqueue":
		runEnqueue(cmdArgs, globals)
	case "status":
		runStatus(cmdArgs, globals)
	case "chunks":
		runChunks(cmdArgs, globals)
	case "search":
		runSearch(cmdArgs, globals)
	case "migrate":
		runMigrate(cmdArgs, globals)
	case "delete":
		runDelete(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

// newLogger returns the process logger. Commands log warnings only unless
// -v is given; serve raises the floor to info itself.
func newLogger(w io.Writer, globals GlobalFlags) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose == 1:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if globals.LogJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the configuration named by --config, or morph.yaml when
// present, over the defaults.
func loadConfig(globals GlobalFlags) *config.Config {
	cfg, err := config.Load(globals.Config)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load configuration",
			err.Error(),
			"Run 'morph init' to create morph.yaml, or pass --config",
			err,
		), globals.JSON)
	}
	return cfg
}

// openApp loads the configuration and builds every component.
func openApp(ctx context.Context, globals GlobalFlags) *bootstrap.App {
	return openAppWith(ctx, globals, loadConfig(globals))
}

func openAppWith(ctx context.Context, globals GlobalFlags, cfg *config.Config) *bootstrap.App {
	app, err := bootstrap.Open(ctx, cfg, slog.Default())
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open morph",
			err.Error(),
			"Check the database and events settings in your configuration",
			err,
		), globals.JSON)
	}
	return app
}

// requireFlag exits with an input error when value is empty.
func requireFlag(name, value string, globals GlobalFlags) {
	if value == "" {
		errors.FatalError(errors.NewInputError(
			fmt.Sprintf("Missing --%s", name),
			fmt.Sprintf("The --%s flag is required for this command", name),
			fmt.Sprintf("Pass --%s <value>", name),
		), globals.JSON)
	}
}
