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
)

// runDelete removes a session's job with its chunks, file records and
// workspace. A processor working on the job stops it.
func runDelete(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	session := fs.String("session", "", "Session ID (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph delete --session S

Deletes the session's job, chunks, stored file records and workspace.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	requireFlag("session", *session, globals)

	ctx := context.Background()
	app := openApp(ctx, globals)
	defer func() { _ = app.Close() }()

	if err := app.Service.DeleteJob(ctx, *session); err != nil {
		errors.FatalError(errors.FromError(err, "Cannot delete job"), globals.JSON)
	}
	if globals.JSON {
		if err := output.JSON(map[string]any{"sessionId": *session, "deleted": true}); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Deleted session %s", *session)
}
