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
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/output"
	"github.com/kraklabs/morph/internal/ui"
	"github.com/kraklabs/morph/pkg/blob"
	"github.com/kraklabs/morph/pkg/service"
)

// runEnqueue registers an archive and/or loose files for a session and
// creates its pending job. A running 'morph serve' picks it up.
func runEnqueue(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	session := fs.String("session", "", "Session ID (required)")
	user := fs.String("user", "", "User ID (required)")
	archive := fs.String("archive", "", "Archive locator: path, file://, http(s):// or gs://")
	base := fs.String("base", "", "Directory that relative paths of loose files are computed from")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph enqueue --session S --user U [--archive LOCATOR] [FILES...]

Registers the inputs of a session and creates its job. Files may be local
paths or remote locators. Local files keep their path relative to --base
(default: the current directory) inside the workspace.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  morph enqueue --session s1 --user u1 --archive ./project.zip
  morph enqueue --session s2 --user u1 src/app.py src/util.py
  morph enqueue --session s3 --user u1 --archive gs://uploads/s3/app.tar.gz
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	requireFlag("session", *session, globals)
	requireFlag("user", *user, globals)

	in, err := buildInputs(*archive, fs.Args(), *base)
	if err != nil {
		errors.FatalError(errors.NewInputError("Invalid inputs", err.Error(), "Check the archive and file arguments"), globals.JSON)
	}

	ctx := context.Background()
	app := openApp(ctx, globals)
	defer func() { _ = app.Close() }()

	job, err := app.Service.CreateJob(ctx, *session, *user, in)
	if err != nil {
		errors.FatalError(errors.FromError(err, "Cannot create job"), globals.JSON)
	}

	if globals.JSON {
		if err := output.JSON(job); err != nil {
			errors.FatalError(err, true)
		}
		return
	}
	ui.Successf("Created job %s for session %s", job.ID, job.SessionID)
	fmt.Printf("%s %s\n", ui.Label("Status:"), ui.StatusText(job.Status))
	ui.Infof("Follow it with: morph status --session %s --watch", job.SessionID)
}

// buildInputs turns the command line into service inputs. Local files are
// made absolute so the processor can read them from any directory.
func buildInputs(archive string, files []string, base string) (service.Inputs, error) {
	var in service.Inputs
	if archive != "" {
		loc, err := absLocator(archive)
		if err != nil {
			return in, err
		}
		in.Archive = &service.Input{Filename: locatorName(archive), Locator: loc}
	}

	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return in, err
		}
		base = wd
	}
	for _, f := range files {
		loc, err := absLocator(f)
		if err != nil {
			return in, err
		}
		input := service.Input{Filename: locatorName(f), Locator: loc}
		if blob.Scheme(f) == "" {
			rel, err := filepath.Rel(base, loc)
			if err != nil || strings.HasPrefix(rel, "..") {
				rel = filepath.Base(loc)
			}
			input.RelativePath = filepath.ToSlash(rel)
			if info, err := os.Stat(loc); err == nil {
				input.SizeBytes = info.Size()
			}
		}
		in.Files = append(in.Files, input)
	}

	if in.Archive == nil && len(in.Files) == 0 {
		return in, fmt.Errorf("pass --archive or at least one file")
	}
	return in, nil
}

func absLocator(loc string) (string, error) {
	if blob.Scheme(loc) != "" {
		return loc, nil
	}
	abs, err := filepath.Abs(loc)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", loc, err)
	}
	return abs, nil
}

func locatorName(loc string) string {
	loc = strings.TrimRight(loc, "/")
	if i := strings.LastIndexAny(loc, `/\`); i >= 0 {
		return loc[i+1:]
	}
	return loc
}
