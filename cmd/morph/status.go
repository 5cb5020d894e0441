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
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/morph/internal/errors"
	"github.com/kraklabs/morph/internal/output"
	"github.com/kraklabs/morph/internal/ui"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/service"
)

// runStatus shows a session's job. With --watch it polls until the job is
// ready or failed, drawing a progress bar on a terminal.
func runStatus(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	session := fs.String("session", "", "Session ID (required)")
	watch := fs.Bool("watch", false, "Poll until the job is ready or failed")
	interval := fs.Duration("interval", time.Second, "Poll interval for --watch")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: morph status --session S [--watch]

Shows the status and progress of a session's job.

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

	get := func() service.JobStatus {
		st, err := app.Service.GetJob(ctx, *session)
		if err != nil {
			errors.FatalError(errors.FromError(err, "Cannot read job status"), globals.JSON)
		}
		return st
	}

	st := get()
	if *watch && !st.Status.Terminal() {
		st = watchJob(get, st, *interval, stderrTerminal(globals))
	}

	if globals.JSON {
		if err := output.JSON(st); err != nil {
			errors.FatalError(err, true)
		}
	} else {
		printStatus(st)
	}
	if st.Status == model.JobFailed {
		os.Exit(1)
	}
}

// watchJob polls get until the job is terminal, drawing progress on term.
func watchJob(get func() service.JobStatus, st service.JobStatus, interval time.Duration, term terminal) service.JobStatus {
	progress := newJobProgress(term, st.SessionID)
	defer progress.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for !st.Status.Terminal() {
		progress.Update(st)
		<-ticker.C
		st = get()
	}
	progress.Update(st)
	return st
}

func printStatus(st service.JobStatus) {
	ui.Header(fmt.Sprintf("Session %s", st.SessionID))
	fmt.Printf("%s %s\n", ui.Label("Job:     "), st.JobID)
	fmt.Printf("%s %s\n", ui.Label("Status:  "), ui.StatusText(st.Status))
	fmt.Printf("%s %d/%d (%.0f%%)\n", ui.Label("Files:   "), st.ProcessedFiles, st.TotalFiles, st.Progress()*100)
	fmt.Printf("%s %s\n", ui.Label("Chunks:  "), ui.CountText(st.TotalChunks))
	fmt.Printf("%s %s\n", ui.Label("Created: "), st.CreatedAt.Local().Format(time.DateTime))
	if st.StartedAt != nil {
		fmt.Printf("%s %s\n", ui.Label("Started: "), st.StartedAt.Local().Format(time.DateTime))
	}
	if st.CompletedAt != nil {
		took := ""
		if st.StartedAt != nil {
			took = ui.DimText(fmt.Sprintf(" (%s)", st.CompletedAt.Sub(*st.StartedAt).Round(time.Millisecond)))
		}
		fmt.Printf("%s %s%s\n", ui.Label("Finished:"), st.CompletedAt.Local().Format(time.DateTime), took)
	}
	if st.Error != nil {
		fmt.Printf("%s %s: %s\n", ui.Label("Error:   "), st.Error.Kind, st.Error.Message)
	}
}
