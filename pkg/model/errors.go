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

package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure. Kinds, not Go types, decide recovery.
type ErrorKind string

const (
	KindArchiveCorrupt       ErrorKind = "ArchiveCorrupt"
	KindPolicyViolation      ErrorKind = "PolicyViolation"
	KindUnrecognized         ErrorKind = "Unrecognized"
	KindUnsupportedLanguage  ErrorKind = "UnsupportedLanguage"
	KindParseError           ErrorKind = "ParseError"
	KindQuotaExceeded        ErrorKind = "QuotaExceeded"
	KindEmbeddingUnavailable ErrorKind = "EmbeddingUnavailable"
	KindIO                   ErrorKind = "IoError"
	KindDeadlineExceeded     ErrorKind = "DeadlineExceeded"
	KindConcurrentClaim      ErrorKind = "ConcurrentClaim"
	KindGenerationFailed     ErrorKind = "GenerationFailed"

	KindNotFound          ErrorKind = "NotFound"
	KindInvalidTransition ErrorKind = "InvalidTransition"
	KindInvalidInput      ErrorKind = "InvalidInput"
	KindCancelled         ErrorKind = "Cancelled"
	KindInternal          ErrorKind = "Internal"
)

// Error is a classified pipeline error.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrArchiveCorrupt       = &Error{Kind: KindArchiveCorrupt}
	ErrPolicyViolation      = &Error{Kind: KindPolicyViolation}
	ErrUnrecognized         = &Error{Kind: KindUnrecognized}
	ErrUnsupportedLanguage  = &Error{Kind: KindUnsupportedLanguage}
	ErrParse                = &Error{Kind: KindParseError}
	ErrQuotaExceeded        = &Error{Kind: KindQuotaExceeded}
	ErrEmbeddingUnavailable = &Error{Kind: KindEmbeddingUnavailable}
	ErrIO                   = &Error{Kind: KindIO}
	ErrDeadlineExceeded     = &Error{Kind: KindDeadlineExceeded}
	ErrConcurrentClaim      = &Error{Kind: KindConcurrentClaim}
	ErrGenerationFailed     = &Error{Kind: KindGenerationFailed}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrCancelled            = &Error{Kind: KindCancelled}
)

// NewError builds a classified error without a cause.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind. A nil err yields nil.
func WrapError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Context deadlines map to DeadlineExceeded and cancellations to Cancelled
// when nothing more specific is present; anything else is Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// MessageOf returns a short description of err for persisting on a job.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	return err.Error()
}
