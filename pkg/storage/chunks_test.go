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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mtesting "github.com/kraklabs/morph/internal/testing"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

func newChunkStore(t *testing.T) *storage.ChunkStore {
	t.Helper()
	db := mtesting.NewDB(t)
	require.NoError(t, storage.Migrate(db))
	return storage.NewChunkStore(db, nil)
}

func chunk(jobID, path string, start, end int, typ model.ChunkType, name, content string) model.Chunk {
	return model.Chunk{
		ID:        model.GenerateChunkID(jobID, path, start, end),
		JobID:     jobID,
		SessionID: "s-" + jobID,
		UserID:    "u1",
		FilePath:  path,
		Language:  "go",
		ChunkType: typ,
		ChunkName: name,
		Content:   content,
		StartLine: 1,
		EndLine:   2,
		StartByte: start,
		EndByte:   end,
		Metadata:  model.ChunkMetadata{Complexity: 1, Dependencies: []string{"fmt"}},
		Embedding: []float64{1, 0, 0},
	}
}

func TestChunkStore_InsertIdempotent(t *testing.T) {
	store := newChunkStore(t)
	ctx := context.Background()
	chunks := []model.Chunk{
		chunk("j1", "a.go", 0, 10, model.ChunkFunction, "A", "func A() {}"),
		chunk("j1", "a.go", 12, 30, model.ChunkFunction, "B", "func B() {}"),
		chunk("j1", "b.go", 0, 10, model.ChunkFunction, "C", "func C() {}"),
	}

	n, err := store.Insert(ctx, chunks)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = store.Insert(ctx, chunks)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "second insert writes nothing")

	count, err := store.CountByJob(ctx, "j1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// Same span, different ID and content: still one row.
	dup := chunks[0]
	dup.ID = ""
	dup.Content = "changed"
	n, err = store.Insert(ctx, []model.Chunk{dup, dup})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestChunkStore_ListByJob(t *testing.T) {
	store := newChunkStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, []model.Chunk{
		chunk("j1", "src/b.py", 0, 40, model.ChunkFunction, "main", "def main(): pass"),
		chunk("j1", "src/a.ts", 50, 80, model.ChunkImport, "imports", "import x"),
		chunk("j1", "src/a.ts", 0, 40, model.ChunkFunction, "greet", "export function greet() {}"),
		chunk("j2", "src/a.ts", 0, 40, model.ChunkFunction, "other", "other job"),
	})
	require.NoError(t, err)

	page, err := store.ListByJob(ctx, "j1", storage.ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Chunks, 3)
	var order []string
	for _, c := range page.Chunks {
		order = append(order, c.FilePath+"#"+c.ChunkName)
		assert.Nil(t, c.Embedding, "listing never loads embeddings")
		assert.Equal(t, []string{"fmt"}, c.Metadata.Dependencies)
	}
	assert.Equal(t, []string{"src/a.ts#greet", "src/a.ts#imports", "src/b.py#main"}, order)

	page, err = store.ListByJob(ctx, "j1", storage.ListOptions{ChunkType: model.ChunkFunction})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	page, err = store.ListByJob(ctx, "j1", storage.ListOptions{FilePath: "b.py"})
	require.NoError(t, err)
	require.Len(t, page.Chunks, 1)
	assert.Equal(t, "main", page.Chunks[0].ChunkName)

	page, err = store.ListByJob(ctx, "j1", storage.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Chunks, 1)
	assert.Equal(t, "imports", page.Chunks[0].ChunkName)
}

func TestChunkStore_FileChunks(t *testing.T) {
	store := newChunkStore(t)
	ctx := context.Background()
	_, err := store.Insert(ctx, []model.Chunk{
		chunk("j1", "a.go", 20, 30, model.ChunkFunction, "B", "b"),
		chunk("j1", "a.go", 0, 10, model.ChunkImport, "imports", "import"),
		chunk("j1", "ab.go", 0, 10, model.ChunkFunction, "X", "x"),
	})
	require.NoError(t, err)

	got, err := store.FileChunks(ctx, "j1", "./a.go")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "imports", got[0].ChunkName)
	assert.Equal(t, "B", got[1].ChunkName)
}

func TestChunkStore_TextSearch(t *testing.T) {
	store := newChunkStore(t)
	ctx := context.Background()
	c1 := chunk("j1", "pkg/Handler.go", 0, 10, model.ChunkFunction, "ServeHTTP", "func ServeHTTP() { return 100% }")
	c2 := chunk("j2", "pkg/util.go", 0, 10, model.ChunkFunction, "helper", "func helper() {}")
	c3 := chunk("j3", "pkg/handler.go", 0, 10, model.ChunkFunction, "Serve", "func Serve() {}")
	c3.UserID = "u2"
	_, err := store.Insert(ctx, []model.Chunk{c1, c2, c3})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query storage.TextQuery
		want  []string
	}{
		{name: "content case-insensitive", query: storage.TextQuery{UserID: "u1", Query: "servehttp"}, want: []string{"ServeHTTP"}},
		{name: "file name", query: storage.TextQuery{UserID: "u1", Query: "handler.go"}, want: []string{"ServeHTTP"}},
		{name: "scoped to job", query: storage.TextQuery{UserID: "u1", JobID: "j2", Query: "func"}, want: []string{"helper"}},
		{name: "other user invisible", query: storage.TextQuery{UserID: "u2", Query: "servehttp"}, want: nil},
		{name: "percent is literal", query: storage.TextQuery{UserID: "u1", Query: "100%"}, want: []string{"ServeHTTP"}},
		{name: "underscore is literal", query: storage.TextQuery{UserID: "u1", Query: "_"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.TextSearch(ctx, tt.query)
			require.NoError(t, err)
			var names []string
			for _, c := range got {
				names = append(names, c.ChunkName)
				assert.Nil(t, c.Embedding)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	_, err = store.TextSearch(ctx, storage.TextQuery{UserID: "u1", Query: "  "})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestChunkStore_DeleteByJob(t *testing.T) {
	store := newChunkStore(t)
	ctx := context.Background()
	var chunks []model.Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, chunk("j1", fmt.Sprintf("f%d.go", i), 0, 10, model.ChunkFunction, "F", "f"))
	}
	chunks = append(chunks, chunk("j2", "keep.go", 0, 10, model.ChunkFunction, "K", "k"))
	_, err := store.Insert(ctx, chunks)
	require.NoError(t, err)

	n, err := store.DeleteByJob(ctx, "j1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	count, err := store.CountByJob(ctx, "j1")
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = store.CountByJob(ctx, "j2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
