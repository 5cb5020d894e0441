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

package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/morph/pkg/model"
)

func TestUserError_Error(t *testing.T) {
	plain := NewInputError("bad flag", "", "")
	assert.Equal(t, "bad flag", plain.Error())

	wrapped := NewDatabaseError("cannot open", "", "", fmt.Errorf("locked"))
	assert.Equal(t, "cannot open: locked", wrapped.Error())
}

func TestUserError_Unwrap(t *testing.T) {
	cause := model.NewError(model.KindNotFound, "jobs.get", "job missing")
	ue := NewNetworkError("fetch failed", "", "", cause)
	assert.True(t, stderrors.Is(ue, model.ErrNotFound))
}

func TestConstructors_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *UserError
		want int
	}{
		{"config", NewConfigError("m", "c", "f", nil), ExitConfig},
		{"database", NewDatabaseError("m", "c", "f", nil), ExitDatabase},
		{"network", NewNetworkError("m", "c", "f", nil), ExitNetwork},
		{"input", NewInputError("m", "c", "f"), ExitInput},
		{"not found", NewNotFoundError("m", "c", "f"), ExitNotFound},
		{"internal", NewInternalError("m", "c", "f", nil), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.ExitCode)
			assert.Equal(t, "m", tt.err.Message)
			assert.Equal(t, "c", tt.err.Cause)
			assert.Equal(t, "f", tt.err.Fix)
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", model.NewError(model.KindNotFound, "op", "no job"), ExitNotFound},
		{"policy", model.NewError(model.KindPolicyViolation, "op", "too big"), ExitInput},
		{"archive corrupt", model.NewError(model.KindArchiveCorrupt, "op", "bad zip"), ExitInput},
		{"invalid input", model.NewError(model.KindInvalidInput, "op", "empty"), ExitInput},
		{"io", model.NewError(model.KindIO, "op", "reset"), ExitNetwork},
		{"deadline", model.NewError(model.KindDeadlineExceeded, "op", "slow"), ExitNetwork},
		{"quota", model.NewError(model.KindQuotaExceeded, "op", "429"), ExitNetwork},
		{"generation", model.NewError(model.KindGenerationFailed, "op", "no files"), ExitNetwork},
		{"wrapped kind", fmt.Errorf("outer: %w", model.NewError(model.KindEmbeddingUnavailable, "op", "down")), ExitNetwork},
		{"permission", fmt.Errorf("open: %w", fs.ErrPermission), ExitPermission},
		{"plain", fmt.Errorf("boom"), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := FromError(tt.err, "Command failed")
			require.NotNil(t, ue)
			assert.Equal(t, tt.wantCode, ue.ExitCode)
			assert.Equal(t, "Command failed", ue.Message)
			assert.ErrorIs(t, ue, tt.err)
		})
	}
}

func TestFromError_PassesThroughUserError(t *testing.T) {
	orig := NewConfigError("bad config", "", "", nil)
	assert.Same(t, orig, FromError(fmt.Errorf("load: %w", orig), "ignored"))
	assert.Nil(t, FromError(nil, "x"))
}

func TestFromError_UsesKindMessageAsCause(t *testing.T) {
	ue := FromError(model.NewError(model.KindNotFound, "jobs.get", "job for session s-1 not found"), "Cannot read job")
	assert.Equal(t, "job for session s-1 not found", ue.Cause)
	assert.NotEmpty(t, ue.Fix)
}

func TestFormat(t *testing.T) {
	ue := NewNotFoundError("Cannot read job", "no such session", "Run morph enqueue")
	out := ue.Format(true)
	assert.Equal(t, "Error: Cannot read job\nCause: no such session\nFix:   Run morph enqueue\n", out)

	bare := NewInputError("Missing --session", "", "")
	assert.Equal(t, "Error: Missing --session\n", bare.Format(true))
}

func TestToJSON(t *testing.T) {
	ue := FromError(model.NewError(model.KindQuotaExceeded, "embed", "all keys exhausted"), "Embedding failed")
	got := ue.ToJSON()
	assert.Equal(t, "Embedding failed", got.Error)
	assert.Equal(t, "QuotaExceeded", got.Kind)
	assert.Equal(t, ExitNetwork, got.ExitCode)

	plain := NewInputError("x", "", "").ToJSON()
	assert.Empty(t, plain.Kind)
}

func TestReport(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		code := Report(&buf, model.NewError(model.KindNotFound, "op", "gone"), true, true)
		assert.Equal(t, ExitNotFound, code)

		var got ErrorJSON
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "NotFound", got.Kind)
		assert.Equal(t, "gone", got.Cause)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		code := Report(&buf, fmt.Errorf("boom"), false, true)
		assert.Equal(t, ExitInternal, code)
		assert.True(t, strings.HasPrefix(buf.String(), "Error: Command failed\n"))
	})

	t.Run("nil", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Equal(t, ExitSuccess, Report(&buf, nil, false, true))
		assert.Empty(t, buf.String())
	})
}

func TestFatalError(t *testing.T) {
	code := -1
	orig := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = orig })

	FatalError(nil, false)
	assert.Equal(t, -1, code)

	FatalError(NewConfigError("bad", "", "", nil), true)
	assert.Equal(t, ExitConfig, code)
}
