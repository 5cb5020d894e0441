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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/morph/pkg/blob"
	"github.com/kraklabs/morph/pkg/chunker"
	"github.com/kraklabs/morph/pkg/classify"
	"github.com/kraklabs/morph/pkg/embedding"
	"github.com/kraklabs/morph/pkg/events"
	"github.com/kraklabs/morph/pkg/extract"
	"github.com/kraklabs/morph/pkg/jobs"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

// Config tunes scheduling. Zero values take the defaults noted per field.
type Config struct {
	// Holder identifies this processor on claimed jobs. Default: a random id.
	Holder string
	// MaxConcurrentJobs bounds simultaneous jobs. Default 2.
	MaxConcurrentJobs int
	// PollInterval is the idle wait between polls. Default 5s.
	PollInterval time.Duration
	// HeartbeatInterval refreshes the claim. Default: a third of the job
	// store's stale claim timeout.
	HeartbeatInterval time.Duration
	// DownloadConcurrency bounds parallel blob downloads per job. Default 4.
	DownloadConcurrency int
	// IOFailureRatio fails a job when more than this share of its file
	// downloads fail. Default 0.25.
	IOFailureRatio float64
	// CancelGrace bounds cleanup after a job or the processor is cancelled.
	// Default 5s.
	CancelGrace time.Duration
	// WorkspaceStaleAfter is the age of unowned workspaces removed by the
	// periodic sweep. Default: the stale claim timeout.
	WorkspaceStaleAfter time.Duration
}

func (c Config) withDefaults(staleClaim time.Duration) Config {
	if c.Holder == "" {
		c.Holder = "proc-" + uuid.NewString()[:8]
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = staleClaim / 3
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Minute
	}
	if c.DownloadConcurrency <= 0 {
		c.DownloadConcurrency = 4
	}
	if c.IOFailureRatio <= 0 {
		c.IOFailureRatio = 0.25
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = 5 * time.Second
	}
	if c.WorkspaceStaleAfter <= 0 {
		c.WorkspaceStaleAfter = staleClaim
	}
	return c
}

// Deps are the components a processor drives. Events is optional.
type Deps struct {
	Jobs       *jobs.Store
	Files      *storage.FileStore
	Chunks     *storage.ChunkStore
	Workspaces *extract.Workspaces
	Extractor  *extract.Extractor
	Classifier *classify.Classifier
	Chunker    *chunker.Chunker
	Embedder   *embedding.Client
	Blobs      *blob.Router
	Events     events.Bus
}

func (d Deps) validate() error {
	var missing []string
	if d.Jobs == nil {
		missing = append(missing, "Jobs")
	}
	if d.Files == nil {
		missing = append(missing, "Files")
	}
	if d.Chunks == nil {
		missing = append(missing, "Chunks")
	}
	if d.Workspaces == nil {
		missing = append(missing, "Workspaces")
	}
	if d.Extractor == nil {
		missing = append(missing, "Extractor")
	}
	if d.Classifier == nil {
		missing = append(missing, "Classifier")
	}
	if d.Chunker == nil {
		missing = append(missing, "Chunker")
	}
	if d.Embedder == nil {
		missing = append(missing, "Embedder")
	}
	if d.Blobs == nil {
		missing = append(missing, "Blobs")
	}
	if len(missing) > 0 {
		return fmt.Errorf("processor: missing dependencies: %v", missing)
	}
	return nil
}

var (
	errJobDeleted = model.NewError(model.KindCancelled, "processor", "job deleted")
	errClaimLost  = model.NewError(model.KindConcurrentClaim, "processor", "claim lost to another processor")
)

// task is one running processJob.
type task struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Processor claims and runs ingestion jobs.
type Processor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	wake chan struct{}

	mu      sync.Mutex
	running map[string]*task
	wg      sync.WaitGroup
}

// New creates a processor. It does nothing until Run or ProcessPending.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Processor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults(deps.Jobs.StaleAfter())
	return &Processor{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("holder", cfg.Holder),
		wake:    make(chan struct{}, 1),
		running: make(map[string]*task),
	}, nil
}

// Holder returns the id recorded on jobs claimed by p.
func (p *Processor) Holder() string { return p.cfg.Holder }

// Run polls for jobs until ctx is cancelled, then cancels running jobs and
// waits up to CancelGrace for them to release their workspaces.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("processor.start",
		"max_concurrent_jobs", p.cfg.MaxConcurrentJobs,
		"poll_interval", p.cfg.PollInterval,
		"heartbeat_interval", p.cfg.HeartbeatInterval,
	)
	p.sweep()

	if p.deps.Events != nil {
		if err := p.deps.Events.Subscribe(ctx, p.onEvent); err != nil {
			p.logger.Warn("processor.events.unavailable", "err", err)
		}
	}

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(p.cfg.WorkspaceStaleAfter)
	defer sweep.Stop()

	for {
		if _, err := p.poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("processor.poll.error", "err", err)
		}
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case <-poll.C:
		case <-p.wake:
		case <-sweep.C:
			p.sweep()
		}
	}
}

// ProcessPending claims whatever is claimable right now, runs it, and waits
// for those jobs to finish. It returns the number of jobs started.
func (p *Processor) ProcessPending(ctx context.Context) (int, error) {
	n, err := p.poll(ctx)
	p.wg.Wait()
	return n, err
}

// Cancel aborts the local run of jobID as deleted. It reports whether a run
// was found.
func (p *Processor) Cancel(jobID string) bool {
	p.mu.Lock()
	t, ok := p.running[jobID]
	p.mu.Unlock()
	if ok {
		t.cancel(errJobDeleted)
	}
	return ok
}

// Running lists the ids of jobs this processor is running.
func (p *Processor) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	return ids
}

// Wait returns once no job is running.
func (p *Processor) Wait() { p.wg.Wait() }

func (p *Processor) onEvent(ev events.Event) {
	switch ev.Kind {
	case events.JobCreated:
		select {
		case p.wake <- struct{}{}:
		default:
		}
	case events.JobDeleted:
		if p.Cancel(ev.JobID) {
			p.logger.Info("processor.job.cancel_requested", "job_id", ev.JobID, "session_id", ev.SessionID)
		}
	}
}

// poll claims up to the free capacity and starts a task per claim.
func (p *Processor) poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	free := p.cfg.MaxConcurrentJobs - len(p.running)
	p.mu.Unlock()
	if free <= 0 {
		return 0, nil
	}

	candidates, err := p.deps.Jobs.FindClaimable(ctx, free)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, c := range candidates {
		if p.isRunning(c.ID) {
			continue
		}
		if c.Status == model.JobPending {
			aborted, err := p.abortIfEmpty(ctx, c)
			if err != nil {
				return started, err
			}
			if aborted {
				continue
			}
		}
		job, err := p.deps.Jobs.Claim(ctx, c.ID, p.cfg.Holder)
		if err != nil {
			if errors.Is(err, model.ErrConcurrentClaim) || errors.Is(err, model.ErrNotFound) {
				p.logger.Debug("processor.claim.skipped", "job_id", c.ID, "err", err)
				continue
			}
			return started, err
		}
		recordClaimed()
		p.start(ctx, job)
		started++
	}
	return started, nil
}

// abortIfEmpty fails a pending job without claiming it when its session has
// no stored inputs left to process.
func (p *Processor) abortIfEmpty(ctx context.Context, job model.Job) (bool, error) {
	files, err := p.deps.Files.ListBySession(ctx, job.SessionID)
	if err != nil {
		return false, err
	}
	if len(files) > 0 {
		return false, nil
	}
	cause := model.NewError(model.KindInvalidInput, "processor", "session %s has no stored files", job.SessionID)
	if _, err := p.deps.Jobs.Abort(ctx, job.ID, cause); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrConcurrentClaim) || errors.Is(err, model.ErrNotFound) {
			p.logger.Debug("processor.abort.skipped", "job_id", job.ID, "err", err)
			return true, nil
		}
		return false, err
	}
	recordFailed(string(model.KindInvalidInput))
	p.logger.Warn("processor.job.aborted", "job_id", job.ID, "session_id", job.SessionID, "reason", "no stored files")
	return true, nil
}

func (p *Processor) isRunning(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[jobID]
	return ok
}

func (p *Processor) start(parent context.Context, job model.Job) {
	ctx, cancel := context.WithCancelCause(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.running[job.ID] = t
	p.mu.Unlock()
	runningDelta(1)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(t.done)
		defer func() {
			cancel(nil)
			p.mu.Lock()
			delete(p.running, job.ID)
			p.mu.Unlock()
			runningDelta(-1)
		}()
		p.runJob(ctx, job)
	}()
}

func (p *Processor) shutdown() {
	p.mu.Lock()
	tasks := make([]*task, 0, len(p.running))
	for _, t := range p.running {
		tasks = append(tasks, t)
	}
	p.mu.Unlock()

	deadline := time.NewTimer(p.cfg.CancelGrace)
	defer deadline.Stop()
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-deadline.C:
			p.logger.Warn("processor.shutdown.grace_exceeded", "still_running", len(p.Running()))
			return
		}
	}
	p.logger.Info("processor.stop")
}

func (p *Processor) sweep() {
	if _, err := p.deps.Workspaces.SweepStale(p.cfg.WorkspaceStaleAfter); err != nil {
		p.logger.Warn("processor.sweep.error", "err", err)
	}
}
