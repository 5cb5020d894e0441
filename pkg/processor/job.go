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

package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/morph/pkg/chunker"
	"github.com/kraklabs/morph/pkg/extract"
	"github.com/kraklabs/morph/pkg/model"
)

// runJob drives one claimed job to a terminal state, or to deletion cleanup
// when cancelled. It never returns an error: every outcome is recorded on
// the job.
func (p *Processor) runJob(ctx context.Context, job model.Job) {
	start := time.Now()
	logger := p.logger.With("job_id", job.ID, "session_id", job.SessionID)
	logger.Info("processor.job.start")

	ctx, span := otel.Tracer("github.com/kraklabs/morph/pkg/processor").Start(ctx, "processor.processJob")
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("session.id", job.SessionID))
	defer span.End()
	defer func() { observeJobSeconds(time.Since(start).Seconds()) }()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeat(hbCtx, job, logger)

	var (
		totalChunks int
		err         error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("processor.job.panic", "panic", r, "stack", string(debug.Stack()))
				err = model.NewError(model.KindInternal, "processor", "panic: %v", r)
			}
		}()
		totalChunks, err = p.process(ctx, job, logger)
	}()
	stopHeartbeat()

	// Cleanup runs detached from ctx, which may already be cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CancelGrace)
	defer cancel()

	if err == nil {
		if _, cerr := p.deps.Jobs.Complete(cleanupCtx, job.ID, p.cfg.Holder, totalChunks); cerr != nil {
			err = cerr
		} else {
			recordReady()
			logger.Info("processor.job.ready", "chunks", totalChunks, "duration_ms", time.Since(start).Milliseconds())
			return
		}
	}

	switch cause := context.Cause(ctx); {
	case errors.Is(cause, errJobDeleted) || errors.Is(err, model.ErrNotFound):
		n, derr := p.deps.Chunks.DeleteByJob(cleanupCtx, job.ID)
		if derr != nil {
			logger.Warn("processor.job.cleanup_error", "err", derr)
		}
		recordCancelled()
		span.SetStatus(codes.Error, "deleted")
		logger.Info("processor.job.cancelled", "chunks_removed", n)
		return
	case errors.Is(cause, errClaimLost) || errors.Is(err, model.ErrConcurrentClaim):
		logger.Warn("processor.job.claim_lost")
		return
	case ctx.Err() != nil:
		// Processor shutdown. The claim goes stale and another processor
		// reclaims the job.
		logger.Info("processor.job.interrupted")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(model.KindOf(err)))
	if _, ferr := p.deps.Jobs.Fail(cleanupCtx, job.ID, p.cfg.Holder, err); ferr != nil {
		logger.Warn("processor.job.fail_error", "err", ferr, "cause", err)
		return
	}
	recordFailed(string(model.KindOf(err)))
}

// heartbeat refreshes the claim and the workspace lock until ctx is done. A
// deleted job or a lost claim cancels the run.
func (p *Processor) heartbeat(ctx context.Context, job model.Job, logger *slog.Logger) {
	jobID := job.ID
	t := time.NewTicker(p.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := p.deps.Workspaces.Touch(job.SessionID); err != nil && !errors.Is(err, model.ErrNotFound) {
			logger.Warn("processor.workspace.touch_error", "err", err)
		}
		err := p.deps.Jobs.Heartbeat(ctx, jobID, p.cfg.Holder)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrNotFound):
			p.cancelWith(jobID, errJobDeleted)
			return
		case errors.Is(err, model.ErrConcurrentClaim), errors.Is(err, model.ErrInvalidTransition):
			p.cancelWith(jobID, errClaimLost)
			return
		default:
			if ctx.Err() == nil {
				logger.Warn("processor.heartbeat.error", "err", err)
			}
		}
	}
}

func (p *Processor) cancelWith(jobID string, cause error) {
	p.mu.Lock()
	t, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		t.cancel(cause)
	}
}

// interrupted returns the cancellation cause of ctx, or nil.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

// process runs the pipeline and returns the stored chunk count.
func (p *Processor) process(ctx context.Context, job model.Job, logger *slog.Logger) (int, error) {
	ws, err := p.deps.Workspaces.Acquire(job.SessionID)
	if err != nil {
		return 0, err
	}
	defer func() { _ = ws.Release() }()

	files, err := p.deps.Files.ListBySession(ctx, job.SessionID)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, model.NewError(model.KindInvalidInput, "processor", "session %s has no stored files", job.SessionID)
	}

	if err := p.materialize(ctx, ws, files, logger); err != nil {
		return 0, err
	}
	if err := interrupted(ctx); err != nil {
		return 0, err
	}

	listing, err := extract.ListSourceFiles(ctx, ws.SourceDir(), p.deps.Extractor.Policy(), logger)
	if err != nil {
		return 0, err
	}
	if err := p.deps.Jobs.SetTotalFiles(ctx, job.ID, p.cfg.Holder, len(listing.Files)); err != nil {
		return 0, err
	}
	logger.Info("processor.job.files", "total", len(listing.Files), "skipped", listing.SkipReasons)

	var chunks []model.Chunk
	for i, entry := range listing.Files {
		if err := interrupted(ctx); err != nil {
			return 0, err
		}
		fileChunks, err := p.chunkFile(ctx, job, ws.SourceDir(), entry.RelativePath, logger)
		if err != nil {
			return 0, err
		}
		chunks = append(chunks, fileChunks...)
		if err := p.deps.Jobs.UpdateProgress(ctx, job.ID, p.cfg.Holder, i+1, 0); err != nil {
			return 0, err
		}
	}
	chunks = dedupeSpans(chunks)

	res, err := p.deps.Embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		if ierr := interrupted(ctx); ierr != nil {
			return 0, ierr
		}
		return 0, err
	}
	if err := interrupted(ctx); err != nil {
		return 0, err
	}

	inserted, err := p.deps.Chunks.Insert(ctx, res.Chunks)
	if err != nil {
		return 0, err
	}
	recordChunks(int(inserted))

	// Count what is stored: a reclaimed run may find rows from its
	// predecessor, which the idempotent insert did not duplicate.
	stored, err := p.deps.Chunks.CountByJob(ctx, job.ID)
	if err != nil {
		return 0, err
	}
	if err := p.deps.Jobs.UpdateProgress(ctx, job.ID, p.cfg.Holder, len(listing.Files), int(stored)); err != nil {
		return 0, err
	}
	logger.Info("processor.job.stored",
		"chunks", stored,
		"dimension", res.Dimension,
		"computed", res.Computed,
		"dummies", res.Dummies,
	)
	return int(stored), nil
}

// materialize fills the workspace: archives are downloaded and extracted,
// other files are downloaded in parallel to their relative path. Losing more
// than IOFailureRatio of the plain files fails the job.
func (p *Processor) materialize(ctx context.Context, ws *extract.Workspace, files []model.StoredFile, logger *slog.Logger) error {
	var plain []model.StoredFile
	for _, f := range files {
		if !f.IsArchive() {
			plain = append(plain, f)
			continue
		}
		dst := filepath.Join(ws.TempDir(), f.ID+"-"+path.Base(model.NormalizePath(f.OriginalFilename)))
		if _, err := p.deps.Blobs.Download(ctx, f.BlobLocator, dst); err != nil {
			return fmt.Errorf("download archive %s: %w", f.OriginalFilename, err)
		}
		if _, err := p.deps.Extractor.ExtractFile(ctx, dst, ws.SourceDir()); err != nil {
			return err
		}
		_ = os.Remove(dst)
	}
	if len(plain) == 0 {
		return nil
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.DownloadConcurrency)
	for _, f := range plain {
		g.Go(func() error {
			rel := f.OriginalFilename
			if f.ArchiveOrigin != nil && f.ArchiveOrigin.RelativePath != "" {
				rel = f.ArchiveOrigin.RelativePath
			}
			dst, err := ws.Path(rel)
			if err == nil {
				_, err = p.deps.Blobs.Download(gctx, f.BlobLocator, dst)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				recordFile("download_failed")
				logger.Warn("processor.download.failed", "file_id", f.ID, "path", rel, "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	n := int(failed.Load())
	if n > 0 && float64(n)/float64(len(plain)) > p.cfg.IOFailureRatio {
		return model.NewError(model.KindIO, "processor.download", "%d of %d files could not be downloaded", n, len(plain))
	}
	return nil
}

// chunkFile classifies and chunks one workspace file. Files that cannot be
// read, classified or parsed by a grammar yield no chunks and no error; a
// file with syntax errors yields its single block chunk.
func (p *Processor) chunkFile(ctx context.Context, job model.Job, root, rel string, logger *slog.Logger) ([]model.Chunk, error) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		recordFile("unreadable")
		logger.Warn("processor.file.unreadable", "path", rel, "err", err)
		return nil, nil
	}

	cls, err := p.deps.Classifier.Classify(rel, content)
	if err != nil {
		recordFile("unrecognized")
		logger.Debug("processor.file.unrecognized", "path", rel, "err", err)
		return nil, nil
	}

	chunks, err := p.deps.Chunker.Chunk(ctx, chunker.Input{
		JobID:     job.ID,
		SessionID: job.SessionID,
		UserID:    job.UserID,
		FilePath:  rel,
		Content:   content,
		Language:  cls.Language,
	})
	var perr *chunker.ParseError
	switch {
	case err == nil:
		recordFile("chunked")
	case errors.As(err, &perr):
		recordFile("parse_error")
		logger.Warn("processor.file.parse_error", "path", rel, "byte_offset", perr.ByteOffset)
	case errors.Is(err, model.ErrUnsupportedLanguage):
		recordFile("unsupported")
		logger.Debug("processor.file.unsupported", "path", rel, "language", cls.Language)
		return nil, nil
	case ctx.Err() != nil:
		return nil, interrupted(ctx)
	default:
		recordFile("parse_error")
		logger.Warn("processor.file.chunk_error", "path", rel, "err", err)
		return nil, nil
	}
	return chunks, nil
}

// dedupeSpans drops chunks whose span key repeats an earlier one.
func dedupeSpans(chunks []model.Chunk) []model.Chunk {
	seen := make(map[model.SpanKey]bool, len(chunks))
	out := chunks[:0]
	for _, c := range chunks {
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
