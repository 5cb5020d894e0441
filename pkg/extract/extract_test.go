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

package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mtesting "github.com/kraklabs/morph/internal/testing"
	"github.com/kraklabs/morph/pkg/model"
)

func newTestExtractor(p Policy) *Extractor {
	return New(p, nil)
}

func paths(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.RelativePath)
	}
	return out
}

func TestExtract_ZipAcceptsWhitelistedFiles(t *testing.T) {
	dir := t.TempDir()
	archive := mtesting.BuildZip(t, dir, "upload.zip", []mtesting.ArchiveFile{
		{Name: "app", Dir: true},
		{Name: "app/main.go", Body: "package main\n"},
		{Name: "app/util.py", Body: "def f():\n    pass\n"},
		{Name: "README.md", Body: "# readme"},
		{Name: "node_modules/lib/index.js", Body: "module.exports = 1"},
		{Name: "__MACOSX/app/._main.go", Body: "junk"},
	})

	dest := filepath.Join(dir, "out")
	res, err := newTestExtractor(Policy{}).ExtractFile(context.Background(), archive, dest)
	require.NoError(t, err)

	assert.Equal(t, FormatZip, res.Format)
	assert.Equal(t, []string{"app/main.go", "app/util.py"}, paths(res.Entries))
	assert.Equal(t, int64(len("package main\n")+len("def f():\n    pass\n")), res.TotalBytes)
	assert.Equal(t, 1, res.Skipped["extension"])
	assert.Equal(t, 2, res.Skipped["excluded_segment"])

	data, err := os.ReadFile(filepath.Join(dest, "app", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
	assert.NoFileExists(t, filepath.Join(dest, "README.md"))
}

func TestExtract_TraversalFailsBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"parent", "../evil.go"},
		{"nested parent", "src/../../evil.go"},
		{"absolute", "/tmp/evil.go"},
		{"windows drive", "C:/evil.go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			archive := mtesting.BuildTar(t, dir, "upload.tar", false, []mtesting.ArchiveFile{
				{Name: "ok.go", Body: "package ok"},
				{Name: tt.entry, Body: "package evil"},
			})
			dest := filepath.Join(dir, "out")

			_, err := newTestExtractor(Policy{}).ExtractFile(context.Background(), archive, dest)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrPolicyViolation)
			assert.NoFileExists(t, filepath.Join(dest, "ok.go"))
			assert.NoFileExists(t, filepath.Join(dir, "evil.go"))
		})
	}
}

func TestExtract_TotalBytesBoundary(t *testing.T) {
	files := []mtesting.ArchiveFile{
		{Name: "a.go", Body: strings.Repeat("a", 60)},
		{Name: "b.go", Body: strings.Repeat("b", 40)},
	}

	t.Run("exactly at cap", func(t *testing.T) {
		dir := t.TempDir()
		archive := mtesting.BuildZip(t, dir, "a.zip", files)
		res, err := newTestExtractor(Policy{MaxTotalBytes: 100}).ExtractFile(context.Background(), archive, filepath.Join(dir, "out"))
		require.NoError(t, err)
		assert.Equal(t, int64(100), res.TotalBytes)
	})

	t.Run("one byte over", func(t *testing.T) {
		dir := t.TempDir()
		archive := mtesting.BuildZip(t, dir, "a.zip", files)
		_, err := newTestExtractor(Policy{MaxTotalBytes: 99}).ExtractFile(context.Background(), archive, filepath.Join(dir, "out"))
		assert.ErrorIs(t, err, model.ErrPolicyViolation)
	})
}

func TestExtract_MaxFiles(t *testing.T) {
	dir := t.TempDir()
	archive := mtesting.BuildZip(t, dir, "a.zip", []mtesting.ArchiveFile{
		{Name: "a.go", Body: "package a"},
		{Name: "b.go", Body: "package b"},
		{Name: "c.go", Body: "package c"},
	})
	_, err := newTestExtractor(Policy{MaxFiles: 2}).ExtractFile(context.Background(), archive, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, model.ErrPolicyViolation)
}

func TestExtract_OversizeEntrySkipped(t *testing.T) {
	dir := t.TempDir()
	archive := mtesting.BuildZip(t, dir, "a.zip", []mtesting.ArchiveFile{
		{Name: "small.go", Body: "package s"},
		{Name: "huge.go", Body: strings.Repeat("x", 64)},
	})
	res, err := newTestExtractor(Policy{MaxFileBytes: 32}).ExtractFile(context.Background(), archive, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, []string{"small.go"}, paths(res.Entries))
	assert.Equal(t, 1, res.Skipped["too_large"])
}

func TestExtract_SymlinksSkipped(t *testing.T) {
	dir := t.TempDir()
	archive := mtesting.BuildTar(t, dir, "a.tgz", true, []mtesting.ArchiveFile{
		{Name: "main.go", Body: "package main"},
		{Name: "link.go", Symlink: "/etc/passwd"},
	})
	dest := filepath.Join(dir, "out")
	res, err := newTestExtractor(Policy{}).ExtractFile(context.Background(), archive, dest)
	require.NoError(t, err)
	assert.Equal(t, FormatTarGz, res.Format)
	assert.Equal(t, []string{"main.go"}, paths(res.Entries))
	assert.Equal(t, 1, res.Skipped["not_regular"])
	_, err = os.Lstat(filepath.Join(dest, "link.go"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtract_DuplicateEntryLastWins(t *testing.T) {
	dir := t.TempDir()
	archive := mtesting.BuildTar(t, dir, "a.tar", false, []mtesting.ArchiveFile{
		{Name: "main.go", Body: "package first"},
		{Name: "main.go", Body: "package second"},
	})
	dest := filepath.Join(dir, "out")
	res, err := newTestExtractor(Policy{}).ExtractFile(context.Background(), archive, dest)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, int64(len("package second")), res.TotalBytes)

	data, err := os.ReadFile(filepath.Join(dest, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package second", string(data))
}

func TestExtract_CorruptArchive(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"broken.zip", "broken.bin", "empty.tar"} {
		p := filepath.Join(dir, name)
		body := []byte("this is not an archive at all")
		if name == "empty.tar" {
			body = nil
		}
		require.NoError(t, os.WriteFile(p, body, 0o644))

		_, err := newTestExtractor(Policy{}).ExtractFile(context.Background(), p, filepath.Join(dir, "out"))
		assert.ErrorIs(t, err, model.ErrArchiveCorrupt, name)
	}
}

func TestExtract_MissingFileIsIOError(t *testing.T) {
	_, err := newTestExtractor(Policy{}).ExtractFile(context.Background(), filepath.Join(t.TempDir(), "nope.zip"), t.TempDir())
	assert.ErrorIs(t, err, model.ErrIO)
}

func TestExtract_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	archive := mtesting.BuildZip(t, dir, "a.zip", []mtesting.ArchiveFile{{Name: "a.go", Body: "package a"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestExtractor(Policy{}).ExtractFile(ctx, archive, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		path    string
		pattern string
		want    bool
	}{
		{"foo.go", "*.go", true},
		{"a/b/foo.min.js", "*.min.js", true},
		{"a/b/foo.js", "*.min.js", false},
		{"vendor/x/y.go", "vendor", true},
		{"src/vendor/y.go", "vendor/**", true},
		{"src/gen/api.pb.go", "**/gen/*.pb.go", true},
		{"src/gen/api.go", "**/gen/*.pb.go", false},
		{"testdata/a.go", "testdata/", true},
		{"a.go", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlob(tt.path, tt.pattern), "%s ~ %s", tt.path, tt.pattern)
	}
}

func TestPolicy_ExcludeGlobsApplyToArchives(t *testing.T) {
	dir := t.TempDir()
	archive := mtesting.BuildZip(t, dir, "a.zip", []mtesting.ArchiveFile{
		{Name: "web/app.js", Body: "x"},
		{Name: "web/app.min.js", Body: "x"},
	})
	res, err := newTestExtractor(Policy{ExcludeGlobs: []string{"*.min.js"}}).ExtractFile(context.Background(), archive, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, []string{"web/app.js"}, paths(res.Entries))
	assert.Equal(t, 1, res.Skipped["excluded_glob"])
}

func TestListSourceFiles(t *testing.T) {
	root := t.TempDir()
	mtesting.WriteTree(t, root, map[string]string{
		"z.go":                   "package z",
		"a/b.py":                 "x = 1",
		"a/a.ts":                 "export const a = 1",
		"node_modules/m/i.js":    "x",
		"docs/readme.md":         "hi",
		"dist/bundle/app.js":     "x",
		"src/components/App.tsx": "export default () => null",
	})

	l, err := ListSourceFiles(context.Background(), root, Policy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/a.ts", "a/b.py", "src/components/App.tsx", "z.go"}, paths(l.Files))
	assert.Equal(t, 2, l.SkipReasons["excluded_dir"])
	assert.Equal(t, 1, l.SkipReasons["extension"])
}

func TestWorkspaces_Lifecycle(t *testing.T) {
	ws, err := NewWorkspaces(t.TempDir(), nil)
	require.NoError(t, err)

	w, err := ws.Acquire("session-1")
	require.NoError(t, err)
	assert.DirExists(t, w.SourceDir())
	assert.DirExists(t, w.TempDir())
	assert.True(t, ws.InUse("session-1"))

	_, err = ws.Acquire("session-1")
	assert.ErrorIs(t, err, model.ErrConcurrentClaim)

	p, err := w.Path("pkg/a.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.SourceDir(), "pkg", "a.go"), p)
	_, err = w.Path("../../escape.go")
	assert.ErrorIs(t, err, model.ErrPolicyViolation)

	require.NoError(t, w.Release())
	require.NoError(t, w.Release())
	assert.NoDirExists(t, w.Dir)
	assert.False(t, ws.InUse("session-1"))

	_, err = ws.Acquire("../etc")
	assert.ErrorIs(t, err, model.ErrPolicyViolation)
}

func TestWorkspaces_SweepStale(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspaces(root, nil)
	require.NoError(t, err)

	old := filepath.Join(root, "abandoned")
	require.NoError(t, os.MkdirAll(old, 0o755))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	live, err := ws.Acquire("live")
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(live.Dir, past, past))

	n, err := ws.SweepStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, old)
	assert.DirExists(t, live.Dir)
}

func TestWorkspaces_Remove(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspaces(root, nil)
	require.NoError(t, err)

	left := filepath.Join(root, "finished")
	require.NoError(t, os.MkdirAll(filepath.Join(left, "src"), 0o755))
	removed, err := ws.Remove("finished")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, left)

	live, err := ws.Acquire("live")
	require.NoError(t, err)
	removed, err = ws.Remove("live")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.DirExists(t, live.Dir)

	removed, err = ws.Remove("never-created")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = ws.Remove("../outside")
	assert.ErrorIs(t, err, model.ErrPolicyViolation)
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	p, err := SafeJoin(root, "cmd/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "cmd", "main.go"), p)

	p, err = SafeJoin(root, `pkg\util.go`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "pkg", "util.go"), p)

	for _, bad := range []string{"../x.go", "/etc/passwd", "a/../../x.go", "C:/x.go"} {
		_, err := SafeJoin(root, bad)
		assert.ErrorIs(t, err, model.ErrPolicyViolation, bad)
	}
}

func TestWorkspaces_LockSharedRoot(t *testing.T) {
	root := t.TempDir()
	holder, err := NewWorkspaces(root, nil)
	require.NoError(t, err)
	other, err := NewWorkspaces(root, nil)
	require.NoError(t, err)
	other.SetLockTTL(time.Hour)

	w, err := holder.Acquire("busy")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(w.Dir, lockName))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(w.Dir, past, past))

	n, err := other.SweepStale(time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
	removed, err := other.Remove("busy")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.DirExists(t, w.Dir)

	// The holder went quiet: its lock aged past the TTL.
	require.NoError(t, os.Chtimes(filepath.Join(w.Dir, lockName), past, past))
	n, err = other.SweepStale(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoDirExists(t, w.Dir)
}

func TestWorkspaces_TouchRefreshesLock(t *testing.T) {
	root := t.TempDir()
	holder, err := NewWorkspaces(root, nil)
	require.NoError(t, err)
	other, err := NewWorkspaces(root, nil)
	require.NoError(t, err)
	other.SetLockTTL(time.Hour)

	assert.ErrorIs(t, holder.Touch("nobody"), model.ErrNotFound)

	w, err := holder.Acquire("busy")
	require.NoError(t, err)
	lock := filepath.Join(w.Dir, lockName)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(lock, past, past))

	require.NoError(t, holder.Touch("busy"))
	info, err := os.Stat(lock)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), time.Minute)

	removed, err := other.Remove("busy")
	require.NoError(t, err)
	assert.False(t, removed)
}
