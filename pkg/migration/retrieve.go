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

package migration

import (
	"context"
	"sort"

	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

// fileContext is the slice of one source file shown to the model.
type fileContext struct {
	Path     string
	Language string
	// Chunks are in source order, without nested duplicates.
	Chunks       []model.Chunk
	Dependencies []string
	// Retrieved counts the chunks that came from the similarity search.
	Retrieved int
}

// retrieval is the outcome of the search stage.
type retrieval struct {
	hits     []storage.ScoredChunk
	files    []fileContext
	fallback bool
}

// retrieve runs the vector search and groups hits by file, adding up to
// neighborCap neighboring chunks per file.
func (a *Agent) retrieve(ctx context.Context, jobID string, query []float64, k int, threshold float64) (*retrieval, error) {
	hits, err := a.chunks.VectorSearch(ctx, jobID, query, k, threshold)
	if err != nil {
		return nil, err
	}
	r := &retrieval{hits: hits}
	if len(hits) == 0 && a.cfg.FallbackToTopK {
		hits, err = a.chunks.VectorSearch(ctx, jobID, query, k, -1)
		if err != nil {
			return nil, err
		}
		r.hits = hits
		r.fallback = len(hits) > 0
	}

	byFile := make(map[string][]model.Chunk)
	var order []string
	for _, h := range r.hits {
		if _, ok := byFile[h.Chunk.FilePath]; !ok {
			order = append(order, h.Chunk.FilePath)
		}
		byFile[h.Chunk.FilePath] = append(byFile[h.Chunk.FilePath], h.Chunk)
	}
	sort.Strings(order)

	for _, path := range order {
		retrieved := byFile[path]
		fc := fileContext{Path: path, Language: retrieved[0].Language, Retrieved: len(retrieved)}
		selected := retrieved
		if a.cfg.NeighborCap > 0 {
			all, err := a.chunks.FileChunks(ctx, jobID, path)
			if err != nil {
				return nil, err
			}
			selected = append(selected, neighbors(all, retrieved, a.cfg.NeighborCap)...)
		}
		fc.Chunks = outermost(selected)
		fc.Dependencies = dependencies(fc.Chunks)
		r.files = append(r.files, fc)
	}
	return r, nil
}

// neighbors picks up to limit chunks of all that are not in picked, closest
// in bytes to any picked chunk. Ties go to the earlier chunk.
func neighbors(all, picked []model.Chunk, limit int) []model.Chunk {
	have := make(map[model.SpanKey]bool, len(picked))
	for _, c := range picked {
		have[c.Key()] = true
	}
	type cand struct {
		c    model.Chunk
		dist int
	}
	var cands []cand
	for _, c := range all {
		if have[c.Key()] {
			continue
		}
		best := -1
		for _, p := range picked {
			d := spanDistance(c, p)
			if best < 0 || d < best {
				best = d
			}
		}
		cands = append(cands, cand{c: c, dist: best})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].c.StartByte < cands[j].c.StartByte
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]model.Chunk, len(cands))
	for i, c := range cands {
		out[i] = c.c
	}
	return out
}

// spanDistance is the byte gap between two spans, zero when they overlap.
func spanDistance(a, b model.Chunk) int {
	switch {
	case a.EndByte <= b.StartByte:
		return b.StartByte - a.EndByte
	case b.EndByte <= a.StartByte:
		return a.StartByte - b.EndByte
	}
	return 0
}

// outermost sorts chunks by position and drops those nested inside an
// earlier kept chunk, so no source text appears twice.
func outermost(chunks []model.Chunk) []model.Chunk {
	sorted := append([]model.Chunk(nil), chunks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartByte != sorted[j].StartByte {
			return sorted[i].StartByte < sorted[j].StartByte
		}
		return sorted[i].EndByte > sorted[j].EndByte
	})
	var out []model.Chunk
	end := -1
	for _, c := range sorted {
		if c.EndByte <= end {
			continue
		}
		out = append(out, c)
		end = c.EndByte
	}
	return out
}

func dependencies(chunks []model.Chunk) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range chunks {
		for _, d := range c.Metadata.Dependencies {
			if d != "" && !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Strings(out)
	return out
}
