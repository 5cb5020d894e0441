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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kraklabs/morph/pkg/model"
)

// insertBatchSize keeps statements small; chunk content can be large.
const insertBatchSize = 100

// ChunkStore persists chunks.
type ChunkStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewChunkStore creates a chunk store over db.
func NewChunkStore(db *gorm.DB, logger *slog.Logger) *ChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{db: db, logger: logger.With("store", "chunks")}
}

// Insert stores chunks, skipping any whose (job, file, start, end) span is
// already present. It returns the number of rows actually written.
func (s *ChunkStore) Insert(ctx context.Context, chunks []model.Chunk) (int64, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	records := make([]ChunkRecord, 0, len(chunks))
	seen := make(map[model.SpanKey]bool, len(chunks))
	for _, c := range chunks {
		r := chunkRecordFrom(c, now)
		key := model.SpanKey{JobID: r.JobID, FilePath: r.FilePath, StartByte: r.StartByte, EndByte: r.EndByte}
		if seen[key] {
			continue
		}
		seen[key] = true
		records = append(records, r)
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&records, insertBatchSize)
	if res.Error != nil {
		return 0, model.WrapError(model.KindIO, "storage.Insert", res.Error)
	}
	s.logger.Debug("storage.chunks.inserted", "requested", len(chunks), "inserted", res.RowsAffected)
	return res.RowsAffected, nil
}

// ListOptions filters and pages ListByJob.
type ListOptions struct {
	ChunkType model.ChunkType
	// FilePath matches as a substring.
	FilePath string
	Limit    int
	Offset   int
}

// Page is one page of chunks plus the total matching count.
type Page struct {
	Chunks []model.Chunk
	Total  int64
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

// ListByJob returns chunks of a job ordered by file path, then source
// position. Embeddings are not loaded.
func (s *ChunkStore) ListByJob(ctx context.Context, jobID string, opts ListOptions) (*Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset := max(opts.Offset, 0)

	filtered := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&ChunkRecord{}).Where("job_id = ?", jobID)
		if opts.ChunkType != "" {
			q = q.Where("chunk_type = ?", string(opts.ChunkType))
		}
		if opts.FilePath != "" {
			q = q.Where("file_path LIKE ? ESCAPE '\\'", likePattern(opts.FilePath, false))
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.ListByJob", err)
	}

	var rows []ChunkRecord
	if err := filtered().Omit("embedding").
		Order("file_path ASC").Order("start_byte ASC").Order("end_byte DESC").
		Limit(limit).Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.ListByJob", err)
	}
	return &Page{Chunks: toModels(rows), Total: total}, nil
}

// FileChunks returns every chunk of one file in source order, without embeddings.
func (s *ChunkStore) FileChunks(ctx context.Context, jobID, filePath string) ([]model.Chunk, error) {
	var rows []ChunkRecord
	if err := s.db.WithContext(ctx).
		Omit("embedding").
		Where("job_id = ? AND file_path = ?", jobID, model.NormalizePath(filePath)).
		Order("start_byte ASC").Order("end_byte DESC").
		Find(&rows).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.FileChunks", err)
	}
	return toModels(rows), nil
}

// TextQuery selects chunks for TextSearch.
type TextQuery struct {
	Query  string
	UserID string
	// JobID restricts the search to one job when set.
	JobID string
	Limit int
}

// TextSearch matches Query case-insensitively as a substring of content,
// chunk name or file name. Embeddings are not loaded.
func (s *ChunkStore) TextSearch(ctx context.Context, q TextQuery) ([]model.Chunk, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, model.NewError(model.KindInvalidInput, "storage.TextSearch", "empty query")
	}
	if q.UserID == "" {
		return nil, model.NewError(model.KindInvalidInput, "storage.TextSearch", "user id is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	pattern := likePattern(q.Query, true)
	tx := s.db.WithContext(ctx).Omit("embedding").Where("user_id = ?", q.UserID)
	if q.JobID != "" {
		tx = tx.Where("job_id = ?", q.JobID)
	}
	tx = tx.Where("(LOWER(content) LIKE ? ESCAPE '\\' OR LOWER(chunk_name) LIKE ? ESCAPE '\\' OR LOWER(file_name) LIKE ? ESCAPE '\\')",
		pattern, pattern, pattern)

	var rows []ChunkRecord
	if err := tx.Order("created_at DESC").Order("file_path ASC").Order("start_byte ASC").
		Limit(limit).Find(&rows).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.TextSearch", err)
	}
	return toModels(rows), nil
}

// CountByJob returns the number of chunks stored for a job.
func (s *ChunkStore) CountByJob(ctx context.Context, jobID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&ChunkRecord{}).Where("job_id = ?", jobID).Count(&n).Error; err != nil {
		return 0, model.WrapError(model.KindIO, "storage.CountByJob", err)
	}
	return n, nil
}

// DeleteByJob removes every chunk of a job and returns how many were deleted.
func (s *ChunkStore) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	res := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&ChunkRecord{})
	if res.Error != nil {
		return 0, model.WrapError(model.KindIO, "storage.DeleteByJob", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("storage.chunks.deleted", "job_id", jobID, "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// likePattern escapes LIKE wildcards in s and wraps it in %...%.
func likePattern(s string, lower bool) string {
	if lower {
		s = strings.ToLower(s)
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return fmt.Sprintf("%%%s%%", r.Replace(s))
}

func toModels(rows []ChunkRecord) []model.Chunk {
	out := make([]model.Chunk, len(rows))
	for i, r := range rows {
		out[i] = r.ToModel()
	}
	return out
}
