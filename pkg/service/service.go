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

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/kraklabs/morph/pkg/blob"
	"github.com/kraklabs/morph/pkg/events"
	"github.com/kraklabs/morph/pkg/extract"
	"github.com/kraklabs/morph/pkg/jobs"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

// Migrator runs a migration over a ready job.
type Migrator interface {
	Migrate(ctx context.Context, job model.Job, req model.MigrationRequest) (*model.Migration, error)
}

// Deps are the collaborators of a Service. Events and Migrator are optional:
// without a bus processors only notice jobs on their next poll, and without a
// migrator Migrate fails.
type Deps struct {
	Jobs       *jobs.Store
	Files      *storage.FileStore
	Chunks     *storage.ChunkStore
	Workspaces *extract.Workspaces
	Events     events.Bus
	Migrator   Migrator
}

// Service implements the external operations.
type Service struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Service. Jobs, Files, Chunks and Workspaces are required.
func New(deps Deps, logger *slog.Logger) (*Service, error) {
	var missing []string
	if deps.Jobs == nil {
		missing = append(missing, "Jobs")
	}
	if deps.Files == nil {
		missing = append(missing, "Files")
	}
	if deps.Chunks == nil {
		missing = append(missing, "Chunks")
	}
	if deps.Workspaces == nil {
		missing = append(missing, "Workspaces")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("service: missing dependencies: %v", missing)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, logger: logger.With("component", "service")}, nil
}

// Input is one uploaded artifact, addressed by a blob locator (a local path,
// file://, http(s):// or gs:// URL).
type Input struct {
	Filename  string `json:"filename"`
	Locator   string `json:"locator"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	// RelativePath places a plain file inside the workspace; it defaults to Filename.
	RelativePath string `json:"relativePath,omitempty"`
}

// Inputs are the sources of a job: an archive, loose files, or both.
type Inputs struct {
	Archive *Input  `json:"archive,omitempty"`
	Files   []Input `json:"files,omitempty"`
}

// CreateJob registers the inputs as stored files of the session and enqueues
// a pending job for it.
func (s *Service) CreateJob(ctx context.Context, sessionID, userID string, in Inputs) (model.Job, error) {
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID == "" || userID == "" {
		return model.Job{}, model.NewError(model.KindInvalidInput, "service.CreateJob", "session and user are required")
	}

	var files []model.StoredFile
	if in.Archive != nil {
		f, err := storedFile(sessionID, userID, *in.Archive, true)
		if err != nil {
			return model.Job{}, err
		}
		files = append(files, f)
	}
	for _, i := range in.Files {
		f, err := storedFile(sessionID, userID, i, false)
		if err != nil {
			return model.Job{}, err
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return model.Job{}, model.NewError(model.KindInvalidInput, "service.CreateJob", "an archive or at least one file is required")
	}

	// Fail early on a duplicate session so no orphan file rows are written.
	if _, err := s.deps.Jobs.GetBySession(ctx, sessionID); err == nil {
		return model.Job{}, model.NewError(model.KindInvalidInput, "service.CreateJob", "session %s already has a job", sessionID)
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.Job{}, err
	}

	stored, err := s.deps.Files.Create(ctx, files)
	if err != nil {
		return model.Job{}, err
	}
	job, err := s.deps.Jobs.Create(ctx, sessionID, userID)
	if err != nil {
		for _, f := range stored {
			if derr := s.deps.Files.Delete(ctx, f.ID); derr != nil {
				s.logger.Warn("service.create.rollback.error", "file_id", f.ID, "err", derr)
			}
		}
		return model.Job{}, err
	}

	s.publish(ctx, events.New(events.JobCreated, job.ID, sessionID))
	s.logger.Info("service.job.created", "job_id", job.ID, "session_id", sessionID, "files", len(stored))
	return job, nil
}

func storedFile(sessionID, userID string, in Input, archive bool) (model.StoredFile, error) {
	locator := strings.TrimSpace(in.Locator)
	if locator == "" {
		return model.StoredFile{}, model.NewError(model.KindInvalidInput, "service.CreateJob", "input %q has no locator", in.Filename)
	}
	name := strings.TrimSpace(in.Filename)
	if name == "" {
		name = path.Base(model.NormalizePath(locator))
	}
	f := model.StoredFile{
		UserID:           userID,
		SessionID:        sessionID,
		OriginalFilename: name,
		SizeBytes:        in.SizeBytes,
		MimeType:         in.MimeType,
		Format:           formatOf(name),
		BlobLocator:      locator,
		StorageKind:      model.StorageLocal,
	}
	switch blob.Scheme(locator) {
	case "", "file":
	default:
		f.StorageKind = model.StorageRemote
	}
	if archive {
		if !f.IsArchive() {
			return model.StoredFile{}, model.NewError(model.KindInvalidInput, "service.CreateJob", "%s is not a zip or tar archive", name)
		}
		return f, nil
	}
	if f.IsArchive() {
		return f, nil
	}
	if in.RelativePath != "" {
		f.ArchiveOrigin = &model.ArchiveOrigin{RelativePath: model.NormalizePath(in.RelativePath)}
	}
	return f, nil
}

// formatOf returns the lower-cased extension without its dot, folding
// .tar.gz into tgz.
func formatOf(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.gz") {
		return "tgz"
	}
	return strings.TrimPrefix(path.Ext(lower), ".")
}

// JobStatus is the pollable view of a job.
type JobStatus struct {
	JobID          string          `json:"jobId"`
	SessionID      string          `json:"sessionId"`
	Status         model.JobStatus `json:"status"`
	TotalFiles     int             `json:"totalFiles"`
	ProcessedFiles int             `json:"processedFiles"`
	TotalChunks    int             `json:"totalChunks"`
	Error          *model.JobError `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// Progress returns processedFiles/totalFiles, or 0 before the total is known.
func (s JobStatus) Progress() float64 {
	if s.TotalFiles <= 0 {
		return 0
	}
	return float64(s.ProcessedFiles) / float64(s.TotalFiles)
}

// GetJob returns the status of the session's job.
func (s *Service) GetJob(ctx context.Context, sessionID string) (JobStatus, error) {
	job, err := s.deps.Jobs.GetBySession(ctx, sessionID)
	if err != nil {
		return JobStatus{}, err
	}
	return JobStatus{
		JobID:          job.ID,
		SessionID:      job.SessionID,
		Status:         job.Status,
		TotalFiles:     job.TotalFiles,
		ProcessedFiles: job.ProcessedFiles,
		TotalChunks:    job.TotalChunks,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.ProcessingStartedAt,
		CompletedAt:    job.ProcessingCompletedAt,
	}, nil
}

// ListChunks returns one page of the session's chunks without embeddings.
func (s *Service) ListChunks(ctx context.Context, sessionID string, opts storage.ListOptions) (*storage.Page, error) {
	job, err := s.deps.Jobs.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.deps.Chunks.ListByJob(ctx, job.ID, opts)
}

// SearchQuery is a text search over a user's chunks, optionally limited to
// one session.
type SearchQuery struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
}

// SearchChunks runs a case-insensitive text search.
func (s *Service) SearchChunks(ctx context.Context, q SearchQuery) ([]model.Chunk, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return nil, model.NewError(model.KindInvalidInput, "service.SearchChunks", "user is required")
	}
	tq := storage.TextQuery{Query: q.Query, UserID: q.UserID, Limit: q.Limit}
	if q.SessionID != "" {
		job, err := s.deps.Jobs.GetBySession(ctx, q.SessionID)
		if err != nil {
			return nil, err
		}
		if job.UserID != q.UserID {
			return nil, model.NewError(model.KindNotFound, "service.SearchChunks", "session %s", q.SessionID)
		}
		tq.JobID = job.ID
	}
	return s.deps.Chunks.TextSearch(ctx, tq)
}

// Migrate runs a migration over the session's job, which must be ready.
func (s *Service) Migrate(ctx context.Context, sessionID string, req model.MigrationRequest) (*model.Migration, error) {
	if s.deps.Migrator == nil {
		return nil, model.NewError(model.KindGenerationFailed, "service.Migrate", "no generation provider configured")
	}
	job, err := s.deps.Jobs.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.deps.Migrator.Migrate(ctx, job, req)
}

// DeleteJob removes the session's job, its chunks, its stored file records
// and its workspace. A processor working on the job is told through the
// event bus and by its next heartbeat; it removes the workspace it holds.
func (s *Service) DeleteJob(ctx context.Context, sessionID string) error {
	job, err := s.deps.Jobs.GetBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.deps.Jobs.Delete(ctx, job.ID); err != nil {
		return err
	}
	s.publish(ctx, events.New(events.JobDeleted, job.ID, sessionID))

	n, err := s.deps.Chunks.DeleteByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	files, err := s.deps.Files.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.deps.Files.Delete(ctx, f.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}
	removed, err := s.deps.Workspaces.Remove(sessionID)
	if err != nil {
		s.logger.Warn("service.delete.workspace.error", "session_id", sessionID, "err", err)
	}
	s.logger.Info("service.job.deleted",
		"job_id", job.ID,
		"session_id", sessionID,
		"chunks", n,
		"files", len(files),
		"workspace_removed", removed,
	)
	return nil
}

// SweepOrphanFiles removes stored file records older than olderThan whose
// session has no job.
func (s *Service) SweepOrphanFiles(ctx context.Context, olderThan time.Duration) (int, error) {
	removed, err := s.deps.Files.DeleteOrphans(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if len(removed) > 0 {
		s.logger.Info("service.files.swept", "removed", len(removed))
	}
	return len(removed), nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		s.logger.Warn("service.event.publish.error", "kind", ev.Kind, "job_id", ev.JobID, "err", err)
	}
}
