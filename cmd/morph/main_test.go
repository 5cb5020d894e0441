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
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/morph/pkg/model"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		globals GlobalFlags
		info    bool
		debug   bool
		json    bool
	}{
		{"default warns only", GlobalFlags{}, false, false, false},
		{"-v", GlobalFlags{Verbose: 1}, true, false, false},
		{"-vv", GlobalFlags{Verbose: 2}, true, true, false},
		{"json handler", GlobalFlags{Verbose: 1, LogJSON: true}, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.globals)
			logger.Info("processor.job.claimed", "job_id", "j1")
			logger.Debug("processor.poll")
			out := buf.String()
			assert.Equal(t, tt.info, bytes.Contains(buf.Bytes(), []byte("processor.job.claimed")), out)
			assert.Equal(t, tt.debug, bytes.Contains(buf.Bytes(), []byte("processor.poll")), out)
			if tt.json {
				assert.Contains(t, out, `"job_id":"j1"`)
			}
			assert.True(t, logger.Enabled(t.Context(), slog.LevelWarn))
		})
	}
}

func TestInitConfig(t *testing.T) {
	cfg := initConfig("mock", "ollama", "postgres://morph@localhost/morph")
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, "ollama", cfg.Generation.Provider)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	require.NoError(t, cfg.Validate())

	cfg = initConfig("", "", "file:/tmp/morph.db")
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
}

func TestBuildInputs(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src", "app.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("print(1)\n"), 0o644))

	in, err := buildInputs("gs://uploads/s1/app.zip", []string{src, "https://example.com/b.ts"}, base)
	require.NoError(t, err)

	require.NotNil(t, in.Archive)
	assert.Equal(t, "app.zip", in.Archive.Filename)
	assert.Equal(t, "gs://uploads/s1/app.zip", in.Archive.Locator)

	require.Len(t, in.Files, 2)
	assert.Equal(t, "app.py", in.Files[0].Filename)
	assert.Equal(t, "src/app.py", in.Files[0].RelativePath)
	assert.EqualValues(t, 9, in.Files[0].SizeBytes)
	assert.Equal(t, "b.ts", in.Files[1].Filename)
	assert.Empty(t, in.Files[1].RelativePath)

	outside := filepath.Join(t.TempDir(), "other.go")
	in, err = buildInputs("", []string{outside}, base)
	require.NoError(t, err)
	assert.Equal(t, "other.go", in.Files[0].RelativePath)

	_, err = buildInputs("", nil, base)
	assert.Error(t, err)
}

func TestLocatorName(t *testing.T) {
	assert.Equal(t, "app.zip", locatorName("gs://bucket/dir/app.zip"))
	assert.Equal(t, "a.py", locatorName(`C:\src\a.py`))
	assert.Equal(t, "plain", locatorName("plain"))
}

func TestParseChunkType(t *testing.T) {
	ct, err := parseChunkType("function")
	require.NoError(t, err)
	assert.Equal(t, model.ChunkFunction, ct)

	ct, err = parseChunkType("")
	require.NoError(t, err)
	assert.Empty(t, ct)

	_, err = parseChunkType("lambda")
	assert.Error(t, err)
}

func TestMatchLine(t *testing.T) {
	content := "def get_user(uid):\n    return USERS[uid]\n"
	assert.Equal(t, "return USERS[uid]", matchLine(content, "users"))
	assert.Equal(t, "def get_user(uid):", matchLine(content, "repository"))
}

func TestWriteMigration(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	written, err := writeMigration(dir, []model.MigrationResult{
		{MigratedFilename: "cmd/app/main.go", Content: "package main\n"},
		{MigratedFilename: "util.go", Content: "package app\n"},
	})
	require.NoError(t, err)
	require.Len(t, written, 2)
	data, err := os.ReadFile(filepath.Join(dir, "cmd", "app", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	_, err = writeMigration(dir, []model.MigrationResult{{MigratedFilename: "../escape.go", Content: "x"}})
	assert.ErrorIs(t, err, model.ErrPolicyViolation)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.go"))
}
