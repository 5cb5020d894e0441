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
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/output"
	"github.com/kraklabs/morph/internal/ui"
	"github.com/kraklabs/morph/pkg/service"
)

// runSearch runs a case-insensitive text search over a user's chunks.
func runSearch(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	user := fs.String("user", "", "User ID (required)")
	session := fs.String("session", "", "Limit the search to one session")
	limit := fs.Int("limit", 20, "Maximum results")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph search --user U [--session S] QUERY

Matches QUERY as a substring of chunk content, chunk names and file names.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	requireFlag("user", *user, globals)
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		errors.FatalError(errors.NewInputError("Missing query", "No search text was given", "Pass the text to search for after the flags"), globals.JSON)
	}

	ctx := context.Background()
	app := openApp(ctx, globals)
	defer func() { _ = app.Close() }()

	hits, err := app.Service.SearchChunks(ctx, service.SearchQuery{
		UserID:    *user,
		SessionID: *session,
		Query:     query,
		Limit:     *limit,
	})
	if err != nil {
		errors.FatalError(errors.FromError(err, "Search failed"), globals.JSON)
	}

	if globals.JSON {
		if err := output.JSON(hits); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	if len(hits) == 0 {
		ui.Infof("No chunks match %q", query)
		return
	}
	t := ui.NewTable(os.Stdout, "SESSION", "FILE", "LINES", "TYPE", "NAME", "MATCH")
	for _, c := range hits {
		t.Row(c.SessionID, c.FilePath, fmt.Sprintf("%d-%d", c.StartLine, c.EndLine), c.ChunkType,
			ui.Truncate(c.ChunkName, 30), ui.Truncate(matchLine(c.Content, query), 60))
	}
	_ = t.Flush()
	fmt.Println(ui.DimText(fmt.Sprintf("%d result(s)", len(hits))))
}

// matchLine returns the first line of content containing query, trimmed,
// or the first line when the match is in a name.
func matchLine(content, query string) string {
	q := strings.ToLower(query)
	lines := strings.Split(content, "\n")
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), q) {
			return strings.TrimSpace(l)
		}
	}
	return strings.TrimSpace(lines[0])
}
