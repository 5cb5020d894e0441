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
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kraklabs/morph/pkg/model"
)

// FileStore persists StoredFile records.
type FileStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewFileStore creates a file store over db.
func NewFileStore(db *gorm.DB, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{db: db, logger: logger.With("store", "files")}
}

// Create stores files, assigning IDs and timestamps where missing. The
// returned slice carries the assigned values.
func (s *FileStore) Create(ctx context.Context, files []model.StoredFile) ([]model.StoredFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	out := make([]model.StoredFile, len(files))
	records := make([]FileRecord, len(files))
	for i, f := range files {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		if f.StorageKind == "" {
			f.StorageKind = model.StorageLocal
		}
		out[i] = f
		records[i] = fileRecordFrom(f)
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.CreateFiles", err)
	}
	return out, nil
}

// Get returns one file by ID.
func (s *FileStore) Get(ctx context.Context, id string) (model.StoredFile, error) {
	var r FileRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.StoredFile{}, model.NewError(model.KindNotFound, "storage.GetFile", "file %s", id)
	}
	if err != nil {
		return model.StoredFile{}, model.WrapError(model.KindIO, "storage.GetFile", err)
	}
	return r.ToModel(), nil
}

// ListBySession returns a session's files in upload order.
func (s *FileStore) ListBySession(ctx context.Context, sessionID string) ([]model.StoredFile, error) {
	var rows []FileRecord
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("original_filename ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.ListFiles", err)
	}
	out := make([]model.StoredFile, len(rows))
	for i, r := range rows {
		out[i] = r.ToModel()
	}
	return out, nil
}

// Delete removes one file record. Blob removal is the caller's concern.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&FileRecord{})
	if res.Error != nil {
		return model.WrapError(model.KindIO, "storage.DeleteFile", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.NewError(model.KindNotFound, "storage.DeleteFile", "file %s", id)
	}
	return nil
}

// DeleteOrphans removes files older than cutoff whose session has no job.
// It returns the removed records so their blobs can be cleaned up.
func (s *FileStore) DeleteOrphans(ctx context.Context, cutoff time.Time) ([]model.StoredFile, error) {
	var rows []FileRecord
	orphan := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Where("(session_id = '' OR session_id IS NULL OR session_id NOT IN (?))",
			s.db.Model(&JobRecord{}).Select("session_id"))
	if err := orphan.Find(&rows).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.DeleteOrphans", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	out := make([]model.StoredFile, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		out[i] = r.ToModel()
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&FileRecord{}).Error; err != nil {
		return nil, model.WrapError(model.KindIO, "storage.DeleteOrphans", err)
	}
	s.logger.Info("storage.files.orphans_deleted", "count", len(ids))
	return out, nil
}
