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

package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mtesting "github.com/kraklabs/morph/internal/testing"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

func TestFileStore(t *testing.T) {
	db := mtesting.NewDB(t)
	require.NoError(t, storage.Migrate(db))
	files := storage.NewFileStore(db, nil)
	ctx := context.Background()

	created, err := files.Create(ctx, []model.StoredFile{
		{UserID: "u1", SessionID: "s1", OriginalFilename: "upload.zip", Format: "zip", BlobLocator: "/tmp/upload.zip"},
		{
			UserID: "u1", SessionID: "s1", OriginalFilename: "main.go", Format: "go", BlobLocator: "gs://bucket/main.go",
			StorageKind:   model.StorageRemote,
			ArchiveOrigin: &model.ArchiveOrigin{ArchiveName: "old.zip", RelativePath: "cmd/main.go"},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.NotEmpty(t, created[0].ID)
	assert.Equal(t, model.StorageLocal, created[0].StorageKind)
	assert.False(t, created[0].CreatedAt.IsZero())

	got, err := files.Get(ctx, created[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/main.go", got.BlobLocator)
	require.NotNil(t, got.ArchiveOrigin)
	assert.Equal(t, "cmd/main.go", got.ArchiveOrigin.RelativePath)

	list, err := files.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "main.go", list[0].OriginalFilename, "same timestamp sorts by name")
	assert.True(t, list[1].IsArchive())

	_, err = files.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, files.Delete(ctx, created[0].ID))
	assert.ErrorIs(t, files.Delete(ctx, created[0].ID), model.ErrNotFound)
}

func TestFileStore_DeleteOrphans(t *testing.T) {
	db := mtesting.NewDB(t)
	require.NoError(t, storage.Migrate(db))
	files := storage.NewFileStore(db, nil)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Create(&storage.JobRecord{
		ID: "j1", SessionID: "live", UserID: "u1", Status: string(model.JobPending),
		CreatedAt: old, UpdatedAt: old,
	}).Error)

	_, err := files.Create(ctx, []model.StoredFile{
		{UserID: "u1", SessionID: "live", OriginalFilename: "a.go", BlobLocator: "a", CreatedAt: old},
		{UserID: "u1", SessionID: "gone", OriginalFilename: "b.go", BlobLocator: "b", CreatedAt: old},
		{UserID: "u1", OriginalFilename: "c.go", BlobLocator: "c", CreatedAt: old},
		{UserID: "u1", SessionID: "fresh", OriginalFilename: "d.go", BlobLocator: "d"},
	})
	require.NoError(t, err)

	removed, err := files.DeleteOrphans(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	var names []string
	for _, f := range removed {
		names = append(names, f.OriginalFilename)
	}
	assert.ElementsMatch(t, []string{"b.go", "c.go"}, names)

	live, err := files.ListBySession(ctx, "live")
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.Open(storage.Config{Driver: "sqlite", DataDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Driver())
	require.NoError(t, db.EnsureSchema())
	require.NoError(t, db.EnsureSchema(), "schema creation is idempotent")
	assert.FileExists(t, filepath.Join(dir, "morph.db"))

	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	_, err = storage.Open(storage.Config{Driver: "oracle"})
	assert.Error(t, err)
	_, err = storage.Open(storage.Config{Driver: "postgres"})
	assert.Error(t, err)
}
