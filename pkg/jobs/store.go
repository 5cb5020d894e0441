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

package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

// DefaultStaleClaimTimeout is how long a processing job may go without a
// heartbeat before another processor may claim it.
const DefaultStaleClaimTimeout = 30 * time.Minute

// Store owns job rows and their transitions.
type Store struct {
	db         *gorm.DB
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithStaleClaimTimeout overrides DefaultStaleClaimTimeout.
func WithStaleClaimTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a job store over db.
func NewStore(db *gorm.DB, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:         db,
		logger:     logger.With("store", "jobs"),
		staleAfter: DefaultStaleClaimTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StaleAfter returns the stale claim timeout.
func (s *Store) StaleAfter() time.Duration { return s.staleAfter }

func (s *Store) clock() time.Time { return s.now().UTC() }

// Create inserts a pending job for the session.
func (s *Store) Create(ctx context.Context, sessionID, userID string) (model.Job, error) {
	if sessionID == "" || userID == "" {
		return model.Job{}, model.NewError(model.KindInvalidInput, "jobs.Create", "session and user are required")
	}
	var existing int64
	if err := s.db.WithContext(ctx).Model(&storage.JobRecord{}).Where("session_id = ?", sessionID).Count(&existing).Error; err != nil {
		return model.Job{}, model.WrapError(model.KindIO, "jobs.Create", err)
	}
	if existing > 0 {
		return model.Job{}, model.NewError(model.KindInvalidInput, "jobs.Create", "session %s already has a job", sessionID)
	}

	now := s.clock()
	rec := storage.JobRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Status:    string(model.JobPending),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return model.Job{}, model.WrapError(model.KindIO, "jobs.Create", err)
	}
	s.logger.Info("jobs.created", "job_id", rec.ID, "session_id", sessionID, "user_id", userID)
	return rec.ToModel(), nil
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (model.Job, error) {
	return s.first(ctx, "jobs.Get", "id = ?", jobID)
}

// GetBySession returns the job of a session.
func (s *Store) GetBySession(ctx context.Context, sessionID string) (model.Job, error) {
	return s.first(ctx, "jobs.GetBySession", "session_id = ?", sessionID)
}

func (s *Store) first(ctx context.Context, op, query string, arg string) (model.Job, error) {
	var rec storage.JobRecord
	err := s.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Job{}, model.NewError(model.KindNotFound, op, "job %s", arg)
	}
	if err != nil {
		return model.Job{}, model.WrapError(model.KindIO, op, err)
	}
	return rec.ToModel(), nil
}

// FindClaimable lists up to limit jobs a processor may claim: pending jobs
// and processing jobs with a stale heartbeat, oldest first.
func (s *Store) FindClaimable(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	cutoff := s.clock().Add(-s.staleAfter)
	var recs []storage.JobRecord
	err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?))",
			string(model.JobPending), string(model.JobProcessing), cutoff).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, model.WrapError(model.KindIO, "jobs.FindClaimable", err)
	}
	out := make([]model.Job, len(recs))
	for i, r := range recs {
		out[i] = r.ToModel()
	}
	return out, nil
}

// Claim atomically moves a job from pending to processing under holder, or
// takes over a processing job whose heartbeat is stale. Anything else fails
// with ConcurrentClaim, or NotFound if the job does not exist.
func (s *Store) Claim(ctx context.Context, jobID, holder string) (model.Job, error) {
	if holder == "" {
		return model.Job{}, model.NewError(model.KindInvalidInput, "jobs.Claim", "holder is required")
	}
	now := s.clock()
	cutoff := now.Add(-s.staleAfter)
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("id = ?", jobID).
		Where("status = ? OR (status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?))",
			string(model.JobPending), string(model.JobProcessing), cutoff).
		Updates(map[string]any{
			"status":                string(model.JobProcessing),
			"holder":                holder,
			"processing_started_at": now,
			"heartbeat_at":          now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return model.Job{}, model.WrapError(model.KindIO, "jobs.Claim", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, jobID); err != nil {
			return model.Job{}, err
		}
		return model.Job{}, model.NewError(model.KindConcurrentClaim, "jobs.Claim", "job %s is not claimable", jobID)
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	s.logger.Info("jobs.claimed", "job_id", jobID, "holder", holder)
	return job, nil
}

// Heartbeat refreshes the holder's claim. It fails with NotFound once the
// job is deleted and with ConcurrentClaim if the claim was lost.
func (s *Store) Heartbeat(ctx context.Context, jobID, holder string) error {
	now := s.clock()
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("id = ? AND status = ? AND holder = ?", jobID, string(model.JobProcessing), holder).
		Updates(map[string]any{"heartbeat_at": now, "updated_at": now})
	if res.Error != nil {
		return model.WrapError(model.KindIO, "jobs.Heartbeat", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.explain(ctx, "jobs.Heartbeat", jobID, holder)
	}
	return nil
}

// SetTotalFiles records how many files the job will process. A holder that
// reclaimed the job may list fewer files than were processed before; the
// earlier progress no longer describes the new listing, so processedFiles
// restarts at 0.
func (s *Store) SetTotalFiles(ctx context.Context, jobID, holder string, total int) error {
	if total < 0 {
		return model.NewError(model.KindInvalidInput, "jobs.SetTotalFiles", "negative total %d", total)
	}
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("id = ? AND status = ? AND holder = ?", jobID, string(model.JobProcessing), holder).
		Updates(map[string]any{
			"total_files":     total,
			"processed_files": gorm.Expr("CASE WHEN processed_files > ? THEN 0 ELSE processed_files END", total),
			"updated_at":      s.clock(),
		})
	if res.Error != nil {
		return model.WrapError(model.KindIO, "jobs.SetTotalFiles", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.explain(ctx, "jobs.SetTotalFiles", jobID, holder); err != nil {
			return err
		}
		return model.NewError(model.KindConcurrentClaim, "jobs.SetTotalFiles", "job %s changed while updating", jobID)
	}
	return nil
}

// UpdateProgress raises processedFiles and totalChunks. Lower values than
// the stored ones are ignored, so counters never decrease. processedFiles
// may not exceed totalFiles.
func (s *Store) UpdateProgress(ctx context.Context, jobID, holder string, processedFiles, totalChunks int) error {
	if processedFiles < 0 || totalChunks < 0 {
		return model.NewError(model.KindInvalidInput, "jobs.UpdateProgress", "negative counters")
	}
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("id = ? AND status = ? AND holder = ? AND total_files >= ?", jobID, string(model.JobProcessing), holder, processedFiles).
		Updates(map[string]any{
			"processed_files": gorm.Expr("CASE WHEN processed_files > ? THEN processed_files ELSE ? END", processedFiles, processedFiles),
			"total_chunks":    gorm.Expr("CASE WHEN total_chunks > ? THEN total_chunks ELSE ? END", totalChunks, totalChunks),
			"updated_at":      s.clock(),
		})
	if res.Error != nil {
		return model.WrapError(model.KindIO, "jobs.UpdateProgress", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.explain(ctx, "jobs.UpdateProgress", jobID, holder); err != nil {
			return err
		}
		return model.NewError(model.KindInvalidInput, "jobs.UpdateProgress", "processed files %d exceed total files", processedFiles)
	}
	return nil
}

// Complete moves a processing job to ready. All files must be processed.
func (s *Store) Complete(ctx context.Context, jobID, holder string, totalChunks int) (model.Job, error) {
	now := s.clock()
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where("id = ? AND status = ? AND holder = ? AND processed_files = total_files AND total_chunks <= ?",
			jobID, string(model.JobProcessing), holder, totalChunks).
		Updates(map[string]any{
			"status":                  string(model.JobReady),
			"total_chunks":            totalChunks,
			"processing_completed_at": now,
			"heartbeat_at":            nil,
			"error_kind":              "",
			"error_message":           "",
			"error_at":                nil,
			"updated_at":              now,
		})
	if res.Error != nil {
		return model.Job{}, model.WrapError(model.KindIO, "jobs.Complete", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := s.explain(ctx, "jobs.Complete", jobID, holder); err != nil {
			return model.Job{}, err
		}
		return model.Job{}, model.NewError(model.KindInvalidTransition, "jobs.Complete", "job %s has unprocessed files or fewer chunks than reported", jobID)
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	s.logger.Info("jobs.ready", "job_id", jobID, "files", job.TotalFiles, "chunks", job.TotalChunks)
	return job, nil
}

// Fail moves a processing job held by holder to failed, recording cause.
func (s *Store) Fail(ctx context.Context, jobID, holder string, cause error) (model.Job, error) {
	return s.fail(ctx, "jobs.Fail", jobID, cause,
		"id = ? AND status = ? AND holder = ?", jobID, string(model.JobProcessing), holder)
}

// Abort moves a pending job to failed, recording cause.
func (s *Store) Abort(ctx context.Context, jobID string, cause error) (model.Job, error) {
	return s.fail(ctx, "jobs.Abort", jobID, cause,
		"id = ? AND status = ?", jobID, string(model.JobPending))
}

func (s *Store) fail(ctx context.Context, op, jobID string, cause error, where string, args ...any) (model.Job, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	kind := model.KindOf(cause)
	now := s.clock()
	res := s.db.WithContext(ctx).Model(&storage.JobRecord{}).
		Where(where, args...).
		Updates(map[string]any{
			"status":                  string(model.JobFailed),
			"error_kind":              string(kind),
			"error_message":           model.MessageOf(cause),
			"error_at":                now,
			"processing_completed_at": now,
			"heartbeat_at":            nil,
			"updated_at":              now,
		})
	if res.Error != nil {
		return model.Job{}, model.WrapError(model.KindIO, op, res.Error)
	}
	if res.RowsAffected == 0 {
		job, err := s.Get(ctx, jobID)
		if err != nil {
			return model.Job{}, err
		}
		if job.Status.Terminal() {
			return model.Job{}, model.NewError(model.KindInvalidTransition, op, "job %s is already %s", jobID, job.Status)
		}
		return model.Job{}, model.NewError(model.KindConcurrentClaim, op, "job %s is %s and not held by caller", jobID, job.Status)
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	s.logger.Warn("jobs.failed", "job_id", jobID, "kind", kind, "err", cause)
	return job, nil
}

// Delete removes a job in any state.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", jobID).Delete(&storage.JobRecord{})
	if res.Error != nil {
		return model.WrapError(model.KindIO, "jobs.Delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.NewError(model.KindNotFound, "jobs.Delete", "job %s", jobID)
	}
	s.logger.Info("jobs.deleted", "job_id", jobID)
	return nil
}

// explain classifies a guarded update that matched no row. It returns nil
// when the job is processing and held by holder, leaving the caller to
// report its own precondition.
func (s *Store) explain(ctx context.Context, op, jobID, holder string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobProcessing {
		return model.NewError(model.KindInvalidTransition, op, "job %s is %s, not processing", jobID, job.Status)
	}
	if job.Holder != holder {
		return model.NewError(model.KindConcurrentClaim, op, "job %s is held by another processor", jobID)
	}
	return nil
}
