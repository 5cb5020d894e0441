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

package storage

import (
	"context"
	"math"
	"sort"

	"gorm.io/gorm"

	"github.com/kraklabs/morph/pkg/model"
)

// ScoredChunk is a VectorSearch hit. Chunk.Embedding is cleared.
type ScoredChunk struct {
	Chunk      model.Chunk
	Similarity float64
}

// vectorScanBatch bounds how many rows are decoded at once.
const vectorScanBatch = 500

// similarityTolerance absorbs rounding in Cosine, so a vector identical to
// the query still clears a threshold of 1.0.
const similarityTolerance = 1e-9

// VectorSearch returns up to k chunks of the job whose cosine similarity to
// query is at least threshold. Results are ordered by similarity desc, then
// complexity desc, then file path asc, then start byte asc. Pass a threshold
// of -1 to rank every chunk.
func (s *ChunkStore) VectorSearch(ctx context.Context, jobID string, query []float64, k int, threshold float64) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	var hits []ScoredChunk
	var rows []ChunkRecord
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		FindInBatches(&rows, vectorScanBatch, func(_ *gorm.DB, _ int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, r := range rows {
				sim := Cosine(query, r.Embedding)
				if sim+similarityTolerance < threshold {
					continue
				}
				c := r.ToModel()
				c.Embedding = nil
				hits = append(hits, ScoredChunk{Chunk: c, Similarity: sim})
			}
			return nil
		}).Error
	if err != nil {
		return nil, model.WrapError(model.KindIO, "storage.VectorSearch", err)
	}

	rankScored(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func rankScored(hits []ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Chunk.Metadata.Complexity != b.Chunk.Metadata.Complexity {
			return a.Chunk.Metadata.Complexity > b.Chunk.Metadata.Complexity
		}
		if a.Chunk.FilePath != b.Chunk.FilePath {
			return a.Chunk.FilePath < b.Chunk.FilePath
		}
		return a.Chunk.StartByte < b.Chunk.StartByte
	})
}

// Cosine returns the cosine similarity of a and b, clamped to [-1, 1]. It is
// 0 when either vector has zero norm or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb))))
}
