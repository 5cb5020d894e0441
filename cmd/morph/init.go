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

package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/config"
	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/output"
	"github.com/kraklabs/morph/internal/ui"
)

// runInit writes the default configuration to --config, or ./morph.yaml.
// An existing file is kept unless --force is given.
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	embedProvider := fs.String("embedding-provider", "", "Embedding provider: openai, ollama or mock")
	genProvider := fs.String("generation-provider", "", "Generation provider: openai, ollama or mock")
	dsn := fs.String("dsn", "", "Database DSN (postgres://... selects postgres)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph init [options]

Writes a configuration file with every default spelled out.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := globals.Config
	if path == "" {
		path = config.DefaultPath
	}
	if _, err := os.Stat(path); err == nil && !*force {
		errors.FatalError(errors.NewConfigError(
			"Configuration already exists",
			fmt.Sprintf("%s is present", path),
			"Pass --force to overwrite it",
			nil,
		), globals.JSON)
	}

	cfg := initConfig(*embedProvider, *genProvider, *dsn)
	if err := cfg.Validate(); err != nil {
		errors.FatalError(errors.NewInputError("Invalid init options", err.Error(), "Check the provider names and DSN"), globals.JSON)
	}
	if err := config.Save(cfg, path); err != nil {
		errors.FatalError(errors.NewConfigError("Cannot write configuration", err.Error(), "Check permissions of the target directory", err), globals.JSON)
	}

	if globals.JSON {
		if err := output.JSON(map[string]string{"path": path}); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Wrote %s", path)
	ui.Info("Next: morph serve, then morph enqueue --session <id> --user <id> --archive <zip>")
}

func initConfig(embedProvider, genProvider, dsn string) *config.Config {
	cfg := config.Default()
	if embedProvider != "" {
		cfg.Embedding.Provider = embedProvider
	}
	if genProvider != "" {
		cfg.Generation.Provider = genProvider
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
		if isPostgresDSN(dsn) {
			cfg.Database.Driver = "postgres"
		}
	}
	return cfg
}

func isPostgresDSN(dsn string) bool {
	for _, p := range []string{"postgres://", "postgresql://", "host="} {
		if strings.HasPrefix(dsn, p) {
			return true
		}
	}
	return false
}
