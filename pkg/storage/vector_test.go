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
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{name: "identical", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float64{1, 0}, b: []float64{0, 1}, want: 0},
		{name: "opposite", a: []float64{1, 0}, b: []float64{-1, 0}, want: -1},
		{name: "zero norm", a: []float64{0, 0}, b: []float64{1, 0}, want: 0},
		{name: "length mismatch", a: []float64{1, 0, 0}, b: []float64{1, 0}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, storage.Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func randomVector(r *rand.Rand, dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = r.Float64()*2 - 1
	}
	return v
}

func TestCosine_SelfSimilarityIsOne(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 768))
	for i := 0; i < 1000; i++ {
		v := randomVector(r, 768)
		sim := storage.Cosine(v, v)
		require.LessOrEqual(t, sim, 1.0)
		require.InDelta(t, 1.0, sim, 1e-12)
	}
}

func TestChunkStore_VectorSearch_IdenticalAtThresholdOne(t *testing.T) {
	store := newChunkStore(t)
	ctx := context.Background()
	r := rand.New(rand.NewPCG(42, 1))

	var chunks []model.Chunk
	var vecs [][]float64
	for i := 0; i < 20; i++ {
		c := chunk("j1", "main.go", i*10, i*10+5, model.ChunkFunction, "f", "x")
		c.Embedding = randomVector(r, 768)
		vecs = append(vecs, c.Embedding)
		chunks = append(chunks, c)
	}
	_, err := store.Insert(ctx, chunks)
	require.NoError(t, err)

	for i, v := range vecs {
		hits, err := store.VectorSearch(ctx, "j1", v, 5, 1.0)
		require.NoError(t, err)
		require.Len(t, hits, 1, "vector %d", i)
		assert.Equal(t, i*10, hits[0].Chunk.StartByte)
		assert.LessOrEqual(t, hits[0].Similarity, 1.0)
	}
}

func TestChunkStore_VectorSearch(t *testing.T) {
	store := newChunkStore(t)
	ctx := context.Background()

	mk := func(path string, start, complexity int, emb []float64) model.Chunk {
		c := chunk("j1", path, start, start+5, model.ChunkFunction, path, "x")
		c.Metadata.Complexity = complexity
		c.Embedding = emb
		return c
	}
	diag := []float64{1, 1, 0}
	_, err := store.Insert(ctx, []model.Chunk{
		mk("z.go", 0, 1, []float64{1, 0, 0}),
		mk("b.go", 0, 2, diag),
		mk("a.go", 0, 2, diag),
		mk("c.go", 0, 5, diag),
		mk("zero.go", 0, 9, []float64{0, 0, 0}),
		mk("far.go", 0, 1, []float64{0, 0, 1}),
	})
	require.NoError(t, err)
	other := chunk("j2", "other.go", 0, 5, model.ChunkFunction, "other", "x")
	other.Embedding = diag
	_, err = store.Insert(ctx, []model.Chunk{other})
	require.NoError(t, err)

	t.Run("threshold and tie breaks", func(t *testing.T) {
		hits, err := store.VectorSearch(ctx, "j1", diag, 10, 0.7)
		require.NoError(t, err)
		var paths []string
		for _, h := range hits {
			paths = append(paths, h.Chunk.FilePath)
			assert.Nil(t, h.Chunk.Embedding)
			assert.GreaterOrEqual(t, h.Similarity, 0.7)
		}
		// c.go wins the tie on complexity; a.go beats b.go on path. z.go scores 0.707.
		assert.Equal(t, []string{"c.go", "a.go", "b.go", "z.go"}, paths)
	})

	t.Run("k limits", func(t *testing.T) {
		hits, err := store.VectorSearch(ctx, "j1", diag, 2, 0.7)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("threshold 1.0 without identical vector", func(t *testing.T) {
		hits, err := store.VectorSearch(ctx, "j1", []float64{0.3, 0.2, 0.9}, 10, 1.0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("rank everything", func(t *testing.T) {
		hits, err := store.VectorSearch(ctx, "j1", diag, 10, -1)
		require.NoError(t, err)
		require.Len(t, hits, 6)
		last := hits[len(hits)-1]
		assert.Equal(t, 0.0, last.Similarity)
		assert.Equal(t, "far.go", last.Chunk.FilePath, "zero.go outranks far.go on complexity at equal similarity")
		assert.False(t, math.IsNaN(last.Similarity))
	})
}
