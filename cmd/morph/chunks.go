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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/output"
	"github.com/kraklabs/morph/internal/ui"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

// runChunks lists one page of a session's chunks.
func runChunks(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("chunks", flag.ExitOnError)
	session := fs.String("session", "", "Session ID (required)")
	chunkType := fs.String("type", "", "Only chunks of this type (function, class, import, block, ...)")
	filePath := fs.String("path", "", "Only chunks whose file path contains this text")
	limit := fs.Int("limit", 50, "Page size (max 1000)")
	offset := fs.Int("offset", 0, "Page offset")
	content := fs.Bool("content", false, "Print chunk content below each row")
	ndjson := fs.Bool("ndjson", false, "Write one JSON chunk per line")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph chunks --session S [options]

Lists stored chunks in file and source order, without embeddings.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	requireFlag("session", *session, globals)

	ct, err := parseChunkType(*chunkType)
	if err != nil {
		errors.FatalError(errors.NewInputError("Invalid --type", err.Error(), "Use one of the chunk types listed in 'morph chunks --help'"), globals.JSON)
	}

	ctx := context.Background()
	app := openApp(ctx, globals)
	defer func() { _ = app.Close() }()

	page, err := app.Service.ListChunks(ctx, *session, storage.ListOptions{
		ChunkType: ct,
		FilePath:  *filePath,
		Limit:     *limit,
		Offset:    *offset,
	})
	if err != nil {
		errors.FatalError(errors.FromError(err, "Cannot list chunks"), globals.JSON)
	}

	switch {
	case *ndjson:
		stream := output.NewStream(os.Stdout)
		for _, c := range page.Chunks {
			if err := stream.Write(c); err != nil {
				errors.FatalError(err, globals.JSON)
			}
		}
	case globals.JSON:
		if err := output.JSON(map[string]any{"total": page.Total, "offset": *offset, "chunks": page.Chunks}); err != nil {
			errors.FatalError(err, true)
		}
	default:
		printChunks(page, *offset, *content)
	}
}

func printChunks(page *storage.Page, offset int, content bool) {
	if len(page.Chunks) == 0 {
		ui.Info("No chunks")
		return
	}
	t := ui.NewTable(os.Stdout, "FILE", "LINES", "TYPE", "NAME", "LANG")
	for _, c := range page.Chunks {
		t.Row(c.FilePath, fmt.Sprintf("%d-%d", c.StartLine, c.EndLine), c.ChunkType, ui.Truncate(c.ChunkName, 40), c.Language)
		if content {
			t.Row("", "", "", ui.DimText(ui.Truncate(ui.OneLine(c.Content), 80)), "")
		}
	}
	_ = t.Flush()
	fmt.Println(ui.DimText(fmt.Sprintf("%d-%d of %d", offset+1, offset+len(page.Chunks), page.Total)))
}

// parseChunkType accepts "" or a known chunk type.
func parseChunkType(s string) (model.ChunkType, error) {
	if s == "" {
		return "", nil
	}
	ct := model.ChunkType(s)
	for _, known := range model.AllChunkTypes {
		if ct == known {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown chunk type %q", s)
}
