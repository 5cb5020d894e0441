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
	"path"
	"time"

	"gorm.io/datatypes"

	"github.com/kraklabs/morph/pkg/model"
)

// JobRecord is the jobs row. Status transitions are owned by package jobs.
type JobRecord struct {
	ID        string `gorm:"column:id;primaryKey;size:64"`
	SessionID string `gorm:"column:session_id;not null;size:128;uniqueIndex"`
	UserID    string `gorm:"column:user_id;not null;size:128;index"`
	Status    string `gorm:"column:status;not null;size:16;index:idx_jobs_status_created,priority:1"`

	TotalFiles     int `gorm:"column:total_files;not null;default:0"`
	ProcessedFiles int `gorm:"column:processed_files;not null;default:0"`
	TotalChunks    int `gorm:"column:total_chunks;not null;default:0"`

	ErrorKind    string     `gorm:"column:error_kind;size:32"`
	ErrorMessage string     `gorm:"column:error_message;type:text"`
	ErrorAt      *time.Time `gorm:"column:error_at"`

	Holder      string     `gorm:"column:holder;size:64"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index"`

	CreatedAt             time.Time  `gorm:"column:created_at;not null;index:idx_jobs_status_created,priority:2"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;not null"`
	ProcessingStartedAt   *time.Time `gorm:"column:processing_started_at"`
	ProcessingCompletedAt *time.Time `gorm:"column:processing_completed_at"`
}

func (JobRecord) TableName() string { return "jobs" }

// ToModel converts the row to a model.Job.
func (r JobRecord) ToModel() model.Job {
	j := model.Job{
		ID:                    r.ID,
		SessionID:             r.SessionID,
		UserID:                r.UserID,
		Status:                model.JobStatus(r.Status),
		TotalFiles:            r.TotalFiles,
		ProcessedFiles:        r.ProcessedFiles,
		TotalChunks:           r.TotalChunks,
		Holder:                r.Holder,
		HeartbeatAt:           r.HeartbeatAt,
		CreatedAt:             r.CreatedAt,
		ProcessingStartedAt:   r.ProcessingStartedAt,
		ProcessingCompletedAt: r.ProcessingCompletedAt,
	}
	if r.ErrorKind != "" {
		je := &model.JobError{Kind: model.ErrorKind(r.ErrorKind), Message: r.ErrorMessage}
		if r.ErrorAt != nil {
			je.Timestamp = *r.ErrorAt
		}
		j.Error = je
	}
	return j
}

// ChunkRecord is the chunks row.
type ChunkRecord struct {
	ID        string `gorm:"column:id;primaryKey;size:80"`
	JobID     string `gorm:"column:job_id;not null;size:64;index:idx_chunks_job;uniqueIndex:idx_chunks_span,priority:1;index:idx_chunks_job_type,priority:1"`
	SessionID string `gorm:"column:session_id;not null;size:128;index"`
	UserID    string `gorm:"column:user_id;not null;size:128;index:idx_chunks_user_created,priority:1"`

	FilePath      string `gorm:"column:file_path;not null;size:1024;uniqueIndex:idx_chunks_span,priority:2"`
	FileName      string `gorm:"column:file_name;not null;size:255"`
	FileExtension string `gorm:"column:file_extension;size:32"`
	Language      string `gorm:"column:language;size:32"`

	ChunkType   string `gorm:"column:chunk_type;not null;size:32;index:idx_chunks_job_type,priority:2"`
	ChunkName   string `gorm:"column:chunk_name;size:512"`
	Content     string `gorm:"column:content;type:text"`
	StartLine   int    `gorm:"column:start_line"`
	EndLine     int    `gorm:"column:end_line"`
	StartColumn int    `gorm:"column:start_column"`
	EndColumn   int    `gorm:"column:end_column"`
	StartByte   int    `gorm:"column:start_byte;uniqueIndex:idx_chunks_span,priority:3"`
	EndByte     int    `gorm:"column:end_byte;uniqueIndex:idx_chunks_span,priority:4"`

	Metadata datatypes.JSONType[model.ChunkMetadata] `gorm:"column:metadata"`

	Embedding            datatypes.JSONSlice[float64] `gorm:"column:embedding"`
	EmbeddingModel       string                       `gorm:"column:embedding_model;size:128"`
	EmbeddingGeneratedAt *time.Time                   `gorm:"column:embedding_generated_at"`
	IsDummy              bool                         `gorm:"column:is_dummy;not null;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_chunks_user_created,priority:2"`
}

func (ChunkRecord) TableName() string { return "chunks" }

// chunkRecordFrom converts a chunk, filling a missing ID and file fields.
func chunkRecordFrom(c model.Chunk, now time.Time) ChunkRecord {
	filePath := model.NormalizePath(c.FilePath)
	id := c.ID
	if id == "" {
		id = model.GenerateChunkID(c.JobID, filePath, c.StartByte, c.EndByte)
	}
	fileName := c.FileName
	if fileName == "" {
		fileName = path.Base(filePath)
	}
	ext := c.FileExtension
	if ext == "" {
		ext = path.Ext(filePath)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	return ChunkRecord{
		ID:                   id,
		JobID:                c.JobID,
		SessionID:            c.SessionID,
		UserID:               c.UserID,
		FilePath:             filePath,
		FileName:             fileName,
		FileExtension:        ext,
		Language:             c.Language,
		ChunkType:            string(c.ChunkType),
		ChunkName:            c.ChunkName,
		Content:              c.Content,
		StartLine:            c.StartLine,
		EndLine:              c.EndLine,
		StartColumn:          c.StartColumn,
		EndColumn:            c.EndColumn,
		StartByte:            c.StartByte,
		EndByte:              c.EndByte,
		Metadata:             datatypes.NewJSONType(c.Metadata),
		Embedding:            datatypes.JSONSlice[float64](c.Embedding),
		EmbeddingModel:       c.EmbeddingModel,
		EmbeddingGeneratedAt: c.EmbeddingGeneratedAt,
		IsDummy:              c.IsDummy,
		CreatedAt:            created,
	}
}

// ToModel converts the row to a model.Chunk.
func (r ChunkRecord) ToModel() model.Chunk {
	var emb []float64
	if len(r.Embedding) > 0 {
		emb = []float64(r.Embedding)
	}
	return model.Chunk{
		ID:                   r.ID,
		JobID:                r.JobID,
		SessionID:            r.SessionID,
		UserID:               r.UserID,
		FilePath:             r.FilePath,
		FileName:             r.FileName,
		FileExtension:        r.FileExtension,
		Language:             r.Language,
		ChunkType:            model.ChunkType(r.ChunkType),
		ChunkName:            r.ChunkName,
		Content:              r.Content,
		StartLine:            r.StartLine,
		EndLine:              r.EndLine,
		StartColumn:          r.StartColumn,
		EndColumn:            r.EndColumn,
		StartByte:            r.StartByte,
		EndByte:              r.EndByte,
		Metadata:             r.Metadata.Data(),
		Embedding:            emb,
		EmbeddingModel:       r.EmbeddingModel,
		EmbeddingGeneratedAt: r.EmbeddingGeneratedAt,
		IsDummy:              r.IsDummy,
		CreatedAt:            r.CreatedAt,
	}
}

// FileRecord is the stored_files row.
type FileRecord struct {
	ID               string `gorm:"column:id;primaryKey;size:64"`
	UserID           string `gorm:"column:user_id;not null;size:128;index"`
	SessionID        string `gorm:"column:session_id;size:128;index"`
	OriginalFilename string `gorm:"column:original_filename;not null;size:512"`
	SizeBytes        int64  `gorm:"column:size_bytes;not null;default:0"`
	MimeType         string `gorm:"column:mime_type;size:128"`
	Format           string `gorm:"column:format;size:32"`
	BlobLocator      string `gorm:"column:blob_locator;not null;size:2048"`
	StorageKind      string `gorm:"column:storage_kind;not null;size:32"`

	ArchiveName         string `gorm:"column:archive_name;size:512"`
	ArchiveRelativePath string `gorm:"column:archive_relative_path;size:1024"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

func (FileRecord) TableName() string { return "stored_files" }

func fileRecordFrom(f model.StoredFile) FileRecord {
	r := FileRecord{
		ID:               f.ID,
		UserID:           f.UserID,
		SessionID:        f.SessionID,
		OriginalFilename: f.OriginalFilename,
		SizeBytes:        f.SizeBytes,
		MimeType:         f.MimeType,
		Format:           f.Format,
		BlobLocator:      f.BlobLocator,
		StorageKind:      string(f.StorageKind),
		CreatedAt:        f.CreatedAt,
	}
	if f.ArchiveOrigin != nil {
		r.ArchiveName = f.ArchiveOrigin.ArchiveName
		r.ArchiveRelativePath = f.ArchiveOrigin.RelativePath
	}
	return r
}

// ToModel converts the row to a model.StoredFile.
func (r FileRecord) ToModel() model.StoredFile {
	f := model.StoredFile{
		ID:               r.ID,
		UserID:           r.UserID,
		SessionID:        r.SessionID,
		OriginalFilename: r.OriginalFilename,
		SizeBytes:        r.SizeBytes,
		MimeType:         r.MimeType,
		Format:           r.Format,
		BlobLocator:      r.BlobLocator,
		StorageKind:      model.StorageKind(r.StorageKind),
		CreatedAt:        r.CreatedAt,
	}
	if r.ArchiveName != "" || r.ArchiveRelativePath != "" {
		f.ArchiveOrigin = &model.ArchiveOrigin{ArchiveName: r.ArchiveName, RelativePath: r.ArchiveRelativePath}
	}
	return f
}
