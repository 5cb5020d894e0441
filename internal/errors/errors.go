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

// Package errors turns pipeline failures into messages for morph's CLI.
//
// A [UserError] says what went wrong, why, and how to fix it, and carries the
// process exit code. [FromError] maps the error kinds of the pipeline onto
// UserErrors so commands can report any failure uniformly:
//
//	job, err := svc.GetJob(ctx, session)
//	if err != nil {
//	    errors.FatalError(errors.FromError(err, "Cannot read job status"), globals.JSON)
//	}
//
// Output is colored on a terminal (respecting NO_COLOR) or JSON with --json:
//
//	Error: Cannot read job status
//	Cause: job for session s-42 not found
//	Fix:   Check the session id, or enqueue it with: morph enqueue --session s-42
//
// # Exit Codes
//
//   - ExitSuccess (0)
//   - ExitConfig (1): missing or invalid configuration
//   - ExitDatabase (2): the database cannot be opened or queried
//   - ExitNetwork (3): blob, embedding or generation services failed
//   - ExitInput (4): bad arguments, rejected archives, invalid transitions
//   - ExitPermission (5): filesystem permission denied
//   - ExitNotFound (6): unknown session or job
//   - ExitInternal (10): bugs
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/kraklabs/morph/pkg/model"
)

// Exit codes for different error categories.
const (
	ExitSuccess    = 0
	ExitConfig     = 1
	ExitDatabase   = 2
	ExitNetwork    = 3
	ExitInput      = 4
	ExitPermission = 5
	ExitNotFound   = 6
	// ExitInternal signals a bug that should be reported.
	ExitInternal = 10
)

// UserError is an error with context for end users.
type UserError struct {
	// Message describes what went wrong.
	Message string
	// Cause explains why.
	Cause string
	// Fix suggests how to resolve it.
	Fix string
	// ExitCode is used when the process exits on this error.
	ExitCode int
	// Err is the wrapped error, if any.
	Err error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func newUserError(code int, msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: code, Err: err}
}

// NewConfigError reports a missing or invalid configuration.
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitConfig, msg, cause, fix, err)
}

// NewDatabaseError reports a database that cannot be opened or queried.
func NewDatabaseError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitDatabase, msg, cause, fix, err)
}

// NewNetworkError reports a failed remote call.
func NewNetworkError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitNetwork, msg, cause, fix, err)
}

// NewInputError reports invalid arguments.
func NewInputError(msg, cause, fix string) *UserError {
	return newUserError(ExitInput, msg, cause, fix, nil)
}

// NewNotFoundError reports an unknown session or job.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return newUserError(ExitNotFound, msg, cause, fix, nil)
}

// NewInternalError reports a bug.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInternal, msg, cause, fix, err)
}

// kindAdvice holds the exit code and fix suggested for each error kind.
var kindAdvice = map[model.ErrorKind]struct {
	code int
	fix  string
}{
	model.KindNotFound:             {ExitNotFound, "Check the session id with: morph status --session <id>"},
	model.KindInvalidInput:         {ExitInput, "Check the command arguments with --help"},
	model.KindInvalidTransition:    {ExitInput, "Only pending or processing jobs change state; delete and re-enqueue the session"},
	model.KindConcurrentClaim:      {ExitInput, "Another processor holds this job; wait for it or for the stale claim timeout"},
	model.KindArchiveCorrupt:       {ExitInput, "Re-create the archive as .zip, .tar or .tar.gz and upload it again"},
	model.KindPolicyViolation:      {ExitInput, "Remove the offending entries or raise the extractor limits in morph.yaml"},
	model.KindUnrecognized:         {ExitInput, "Only source files in supported languages are chunked"},
	model.KindUnsupportedLanguage:  {ExitInput, "Only source files in supported languages are chunked"},
	model.KindParseError:           {ExitInput, "Fix the syntax error in the source file"},
	model.KindIO:                   {ExitNetwork, "Check that the uploaded blobs are reachable and retry"},
	model.KindDeadlineExceeded:     {ExitNetwork, "Retry, or raise the deadlines section in morph.yaml"},
	model.KindQuotaExceeded:        {ExitNetwork, "Add embedding credentials to credentials.embeddingPool or wait for the quota to reset"},
	model.KindEmbeddingUnavailable: {ExitNetwork, "Check the embedding provider settings and credentials"},
	model.KindGenerationFailed:     {ExitNetwork, "Check the generation provider settings, or retry with a narrower command"},
	model.KindCancelled:            {ExitInternal, ""},
	model.KindInternal:             {ExitInternal, "This is a bug. Please report it with the command you ran"},
}

// FromKind builds a UserError for a pipeline error kind.
func FromKind(kind model.ErrorKind, msg, cause string, err error) *UserError {
	advice, ok := kindAdvice[kind]
	if !ok {
		advice = kindAdvice[model.KindInternal]
	}
	return newUserError(advice.code, msg, cause, advice.fix, err)
}

// FromError wraps err in a UserError with message msg. UserErrors pass
// through unchanged; permission errors map to ExitPermission; everything
// else is classified by its pipeline error kind.
func FromError(err error, msg string) *UserError {
	if err == nil {
		return nil
	}
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue
	}
	if stderrors.Is(err, fs.ErrPermission) {
		return newUserError(ExitPermission, msg, err.Error(), "Check file permissions of the workspace and data directories", err)
	}
	return FromKind(model.KindOf(err), msg, model.MessageOf(err), err)
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format renders the error for a terminal. Empty Cause or Fix lines are
// omitted. Colors are disabled by noColor or NO_COLOR; the global color
// state is restored afterwards.
func (e *UserError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")
	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	return out.String()
}

// ErrorJSON is the --json form of a UserError.
type ErrorJSON struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func (e *UserError) ToJSON() ErrorJSON {
	out := ErrorJSON{
		Error:    e.Message,
		Cause:    e.Cause,
		Fix:      e.Fix,
		ExitCode: e.ExitCode,
	}
	if e.Err != nil {
		var me *model.Error
		if stderrors.As(e.Err, &me) {
			out.Kind = string(me.Kind)
		}
	}
	return out
}

// Report writes err to w, as JSON or formatted text, and returns the exit
// code to use. Non-UserErrors are classified with FromError.
func Report(w io.Writer, err error, jsonOutput, noColor bool) int {
	if err == nil {
		return ExitSuccess
	}
	ue := FromError(err, "Command failed")
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ue.ToJSON())
	} else {
		fmt.Fprint(w, ue.Format(noColor))
	}
	return ue.ExitCode
}

// osExit is replaced in tests.
var osExit = os.Exit

// FatalError reports err on stderr and exits with its code.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}
	osExit(Report(os.Stderr, err, jsonOutput, false))
}
