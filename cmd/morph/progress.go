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
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/morph/pkg/service"
)

// terminal is where live progress is drawn. A nil writer means progress is
// off: -q, --json, or stderr is not a TTY.
type terminal struct {
	w       io.Writer
	noColor bool
}

func stderrTerminal(globals GlobalFlags) terminal {
	if globals.Quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return terminal{noColor: globals.NoColor}
	}
	return terminal{w: os.Stderr, noColor: globals.NoColor}
}

func (t terminal) enabled() bool { return t.w != nil }

func (t terminal) spinner(label string) *progressbar.ProgressBar {
	if !t.enabled() {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(t.w),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!t.noColor),
	)
}

// jobProgress follows one job while --watch polls it: a spinner until the
// processor has listed the session's files, then a bar over processed files
// whose label carries the chunk count.
type jobProgress struct {
	term    terminal
	session string
	spin    *progressbar.ProgressBar
	files   *progressbar.ProgressBar
}

func newJobProgress(term terminal, session string) *jobProgress {
	return &jobProgress{term: term, session: session, spin: term.spinner(fmt.Sprintf("%s: waiting for a processor", session))}
}

// Update redraws for the latest status.
func (p *jobProgress) Update(st service.JobStatus) {
	if !p.term.enabled() {
		return
	}
	if st.TotalFiles > 0 && p.files == nil {
		p.stopSpinner()
		p.files = progressbar.NewOptions(st.TotalFiles,
			progressbar.OptionSetWriter(p.term.w),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionEnableColorCodes(!p.term.noColor),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "#",
				SaucerPadding: ".",
				BarStart:      "|",
				BarEnd:        "|",
			}),
		)
	}
	switch {
	case p.files != nil:
		p.files.Describe(fmt.Sprintf("%s: %d chunks", p.session, st.TotalChunks))
		_ = p.files.Set(st.ProcessedFiles)
	case p.spin != nil:
		_ = p.spin.Add(1)
	}
}

// Done clears whatever is on screen.
func (p *jobProgress) Done() {
	p.stopSpinner()
	if p.files != nil {
		_ = p.files.Finish()
		p.files = nil
	}
}

func (p *jobProgress) stopSpinner() {
	if p.spin != nil {
		_ = p.spin.Finish()
		p.spin = nil
	}
}

// spin ticks a spinner labelled label until the returned stop is called. It
// is used around calls with no progress to report, like generation.
func (t terminal) spin(label string) (stop func()) {
	bar := t.spinner(label)
	if bar == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
		_ = bar.Finish()
	}
}
