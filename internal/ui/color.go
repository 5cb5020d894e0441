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

// Package ui holds the terminal output helpers of the morph CLI.
//
// Colors respect --no-color and NO_COLOR and are disabled when stdout is not
// a TTY. Red marks failures, yellow warnings, green success and cyan neutral
// information.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/kraklabs/morph/pkg/model"
)

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors applies the --no-color flag. Call it right after flag parsing.
func InitColors(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// Success prints "✓ msg" in green.
func Success(msg string) {
	_, _ = Green.Println("✓ " + msg)
}

func Successf(format string, args ...any) {
	_, _ = Green.Printf("✓ "+format+"\n", args...)
}

// Warning prints "⚠ msg" in yellow on stderr.
func Warning(msg string) {
	_, _ = Yellow.Fprintln(os.Stderr, "⚠ "+msg)
}

func Warningf(format string, args ...any) {
	_, _ = Yellow.Fprintf(os.Stderr, "⚠ "+format+"\n", args...)
}

// Info prints "ℹ msg" in cyan.
func Info(msg string) {
	_, _ = Cyan.Println("ℹ " + msg)
}

func Infof(format string, args ...any) {
	_, _ = Cyan.Printf("ℹ "+format+"\n", args...)
}

// Header prints a bold title underlined with '='.
func Header(text string) {
	_, _ = Bold.Println(text)
	fmt.Println(strings.Repeat("=", len([]rune(text))))
}

func Label(text string) string {
	return Bold.Sprint(text)
}

func DimText(text string) string {
	return Dim.Sprint(text)
}

func CountText(count int) string {
	return Cyan.Sprint(count)
}

// StatusText colors a job status: ready green, failed red, processing cyan
// and pending yellow.
func StatusText(s model.JobStatus) string {
	switch s {
	case model.JobReady:
		return Green.Sprint(string(s))
	case model.JobFailed:
		return Red.Sprint(string(s))
	case model.JobProcessing:
		return Cyan.Sprint(string(s))
	default:
		return Yellow.Sprint(string(s))
	}
}

// Table writes aligned columns. The header row is printed in bold.
type Table struct {
	tw *tabwriter.Writer
}

// NewTable starts a table on w with the given column headers.
func NewTable(w io.Writer, headers ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
	if len(headers) > 0 {
		cols := make([]string, len(headers))
		for i, h := range headers {
			cols[i] = Bold.Sprint(h)
		}
		fmt.Fprintln(t.tw, strings.Join(cols, "\t"))
	}
	return t
}

// Row appends one row; values are formatted with %v.
func (t *Table) Row(values ...any) {
	cols := make([]string, len(values))
	for i, v := range values {
		cols[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(t.tw, strings.Join(cols, "\t"))
}

// Flush writes the buffered rows.
func (t *Table) Flush() error {
	return t.tw.Flush()
}

// Truncate shortens s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// OneLine collapses whitespace runs, including newlines, into single spaces.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
