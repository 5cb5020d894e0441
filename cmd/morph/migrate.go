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
	"context"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/output"
	"github.com/kraklabs/morph/internal/ui"
	"github.com/kraklabs/morph/pkg/extract"
	"github.com/kraklabs/morph/pkg/model"
)

// runMigrate migrates a ready session and prints the validation summary.
// With --out the migrated files are written below that directory.
func runMigrate(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	session := fs.String("session", "", "Session ID (required)")
	command := fs.String("command", "", "Free-form migration instruction")
	from := fs.String("from", "", "Source language")
	to := fs.String("to", "", "Target language or framework")
	k := fs.Int("k", 0, "Chunks to retrieve (default retrieval.defaultK)")
	threshold := fs.Float64("threshold", 0, "Minimum similarity in (0,1] (default retrieval.defaultThreshold)")
	genModel := fs.String("model", "", "Generation model (default generation.model)")
	outDir := fs.String("out", "", "Write migrated files below this directory")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph migrate --session S (--command C | --to T [--from F]) [options]

Retrieves the chunks most relevant to the request, asks the generation model
for migrated files and validates them.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  morph migrate --session s1 --from Python --to Go
  morph migrate --session s1 --command "Port the REST handlers to Express" --out ./out
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	requireFlag("session", *session, globals)
	if *command == "" && *to == "" {
		errors.FatalError(errors.NewInputError("Missing target", "Neither --command nor --to was given", "Pass --to <language> or --command <instruction>"), globals.JSON)
	}

	ctx := context.Background()
	app := openApp(ctx, globals)
	defer func() { _ = app.Close() }()

	stopSpinner := stderrTerminal(globals).spin(fmt.Sprintf("%s: generating", *session))
	m, err := app.Service.Migrate(ctx, *session, model.MigrationRequest{
		Command:   *command,
		FromLang:  *from,
		ToLang:    *to,
		K:         *k,
		Threshold: *threshold,
		Model:     *genModel,
	})
	stopSpinner()
	if err != nil {
		errors.FatalError(errors.FromError(err, "Migration failed"), globals.JSON)
	}

	var written []string
	if *outDir != "" {
		written, err = writeMigration(*outDir, m.Results)
		if err != nil {
			errors.FatalError(errors.FromError(err, "Cannot write migrated files"), globals.JSON)
		}
	}

	if globals.JSON {
		if err := output.JSON(m); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	printMigration(m)
	for _, p := range written {
		fmt.Printf("  %s %s\n", ui.DimText("wrote"), p)
	}
}

// writeMigration writes each successful or failed result below dir. Paths
// are confined to dir the same way archive entries are confined to a
// workspace.
func writeMigration(dir string, results []model.MigrationResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, r := range results {
		p, err := extract.SafeJoin(dir, r.MigratedFilename)
		if err != nil {
			return written, err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(p, []byte(r.Content), 0o644); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}

func printMigration(m *model.Migration) {
	ui.Header(fmt.Sprintf("Migration %s", m.ID))
	fmt.Printf("%s %s\n", ui.Label("Target:   "), m.Target)
	fmt.Printf("%s %d chunks from %d files", ui.Label("Retrieved:"), m.Stats.ChunksRetrieved, m.Stats.FilesConsidered)
	if m.Stats.ThresholdFallback {
		fmt.Print(ui.DimText(" (top-k fallback)"))
	}
	fmt.Println()
	fmt.Printf("%s %d ms, %d prompt / %d output tokens\n", ui.Label("Generated:"), m.Stats.GenerationMillis, m.Stats.PromptTokens, m.Stats.OutputTokens)
	fmt.Println()

	t := ui.NewTable(os.Stdout, "ORIGINAL", "MIGRATED", "SYNTAX", "IMPORTS", "STRUCTURE", "OK")
	for _, r := range m.Results {
		t.Row(r.OriginalFilename, r.MigratedFilename, check(r.Validation.SyntaxValid), check(r.Validation.ImportsResolve),
			fmt.Sprintf("%.0f%%", r.Validation.StructurePreserved*100), check(r.Success))
	}
	_ = t.Flush()
	fmt.Println()

	v := m.Validation
	summary := fmt.Sprintf("%d file(s), %.0f%% succeeded, structure preserved %.0f%%",
		len(m.Results), v.SuccessRate*100, v.StructurePreservedRate*100)
	if v.SuccessRate == 1 {
		ui.Success(summary)
	} else {
		ui.Warning(summary)
	}
}

func check(ok bool) string {
	if ok {
		return ui.Green.Sprint("yes")
	}
	return ui.Red.Sprint("no")
}
