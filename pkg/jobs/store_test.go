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

package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mtesting "github.com/kraklabs/morph/internal/testing"
	"github.com/kraklabs/morph/pkg/jobs"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T, opts ...jobs.Option) *jobs.Store {
	t.Helper()
	db := mtesting.NewDB(t)
	require.NoError(t, storage.Migrate(db))
	return jobs.NewStore(db, nil, opts...)
}

func TestCreateAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.NotEmpty(t, job.ID)
	assert.Nil(t, job.Error)

	got, err := store.GetBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = store.Create(ctx, "s1", "u1")
	assert.ErrorIs(t, err, model.ErrInvalidInput, "one job per session")

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClaim(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "s1", "u1")
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, job.ID, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.JobProcessing, claimed.Status)
	assert.Equal(t, "p1", claimed.Holder)
	assert.NotNil(t, claimed.ProcessingStartedAt)

	_, err = store.Claim(ctx, job.ID, "p2")
	assert.ErrorIs(t, err, model.ErrConcurrentClaim)

	_, err = store.Claim(ctx, "missing", "p2")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClaim_ExactlyOneUnderContention(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "s1", "u1")
	require.NoError(t, err)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Claim(ctx, job.ID, fmt.Sprintf("p%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, model.ErrConcurrentClaim):
				conflict++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflict)
}

func TestClaim_StaleReclaim(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newStore(t, jobs.WithClock(clock.Now), jobs.WithStaleClaimTimeout(10*time.Minute))
	ctx := context.Background()
	job, err := store.Create(ctx, "s1", "u1")
	require.NoError(t, err)
	_, err = store.Claim(ctx, job.ID, "p1")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	require.NoError(t, store.Heartbeat(ctx, job.ID, "p1"))
	clock.Advance(9 * time.Minute)
	_, err = store.Claim(ctx, job.ID, "p2")
	assert.ErrorIs(t, err, model.ErrConcurrentClaim, "heartbeat keeps the claim alive")

	claimable, err := store.FindClaimable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimable)

	clock.Advance(2 * time.Minute)
	claimable, err = store.FindClaimable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimable, 1)

	reclaimed, err := store.Claim(ctx, job.ID, "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", reclaimed.Holder)

	assert.ErrorIs(t, store.Heartbeat(ctx, job.ID, "p1"), model.ErrConcurrentClaim, "old holder lost the claim")
}

func TestSetTotalFiles_AfterReclaim(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := newStore(t, jobs.WithClock(clock.Now), jobs.WithStaleClaimTimeout(10*time.Minute))
	ctx := context.Background()

	tests := []struct {
		name          string
		relisted      int
		wantProcessed int
	}{
		{name: "shrunk listing restarts progress", relisted: 2, wantProcessed: 0},
		{name: "equal listing keeps progress", relisted: 4, wantProcessed: 4},
		{name: "grown listing keeps progress", relisted: 6, wantProcessed: 4},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := store.Create(ctx, fmt.Sprintf("reclaim-%d", i), "u1")
			require.NoError(t, err)
			_, err = store.Claim(ctx, job.ID, "p1")
			require.NoError(t, err)
			require.NoError(t, store.SetTotalFiles(ctx, job.ID, "p1", 5))
			require.NoError(t, store.UpdateProgress(ctx, job.ID, "p1", 4, 9))

			clock.Advance(11 * time.Minute)
			_, err = store.Claim(ctx, job.ID, "p2")
			require.NoError(t, err)

			require.NoError(t, store.SetTotalFiles(ctx, job.ID, "p2", tt.relisted))
			got, err := store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobProcessing, got.Status)
			assert.Equal(t, tt.relisted, got.TotalFiles)
			assert.Equal(t, tt.wantProcessed, got.ProcessedFiles)

			require.NoError(t, store.UpdateProgress(ctx, job.ID, "p2", tt.relisted, 9))
			ready, err := store.Complete(ctx, job.ID, "p2", 9)
			require.NoError(t, err)
			assert.Equal(t, model.JobReady, ready.Status)
		})
	}
}

func TestProgress(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "s1", "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, store.UpdateProgress(ctx, job.ID, "p1", 0, 0), model.ErrInvalidTransition, "pending jobs have no progress")

	_, err = store.Claim(ctx, job.ID, "p1")
	require.NoError(t, err)
	require.NoError(t, store.SetTotalFiles(ctx, job.ID, "p1", 3))

	require.NoError(t, store.UpdateProgress(ctx, job.ID, "p1", 2, 5))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, "p1", 1, 3), "lower values are ignored")
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedFiles)
	assert.Equal(t, 5, got.TotalChunks)

	assert.ErrorIs(t, store.UpdateProgress(ctx, job.ID, "p1", 4, 5), model.ErrInvalidInput)
	assert.ErrorIs(t, store.UpdateProgress(ctx, job.ID, "p2", 3, 5), model.ErrConcurrentClaim)
	assert.ErrorIs(t, store.SetTotalFiles(ctx, job.ID, "p1", -1), model.ErrInvalidInput)
	assert.ErrorIs(t, store.SetTotalFiles(ctx, job.ID, "p2", 3), model.ErrConcurrentClaim)

	_, err = store.Complete(ctx, job.ID, "p1", 5)
	assert.ErrorIs(t, err, model.ErrInvalidTransition, "unprocessed files remain")

	require.NoError(t, store.UpdateProgress(ctx, job.ID, "p1", 3, 7))
	ready, err := store.Complete(ctx, job.ID, "p1", 7)
	require.NoError(t, err)
	assert.Equal(t, model.JobReady, ready.Status)
	assert.Equal(t, ready.TotalFiles, ready.ProcessedFiles)
	assert.Equal(t, 7, ready.TotalChunks)
	assert.NotNil(t, ready.ProcessingCompletedAt)
	assert.Nil(t, ready.Error)

	// Terminal: only deletion remains.
	assert.ErrorIs(t, store.UpdateProgress(ctx, job.ID, "p1", 3, 8), model.ErrInvalidTransition)
	_, err = store.Fail(ctx, job.ID, "p1", errors.New("late"))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = store.Claim(ctx, job.ID, "p1")
	assert.ErrorIs(t, err, model.ErrConcurrentClaim, "re-running a ready job fails to claim")
}

func TestFailAndAbort(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, "s1", "u1")
	require.NoError(t, err)
	_, err = store.Claim(ctx, job.ID, "p1")
	require.NoError(t, err)

	cause := model.NewError(model.KindPolicyViolation, "extract", "path traversal: ../evil.sh")
	_, err = store.Fail(ctx, job.ID, "p2", cause)
	assert.ErrorIs(t, err, model.ErrConcurrentClaim)

	failed, err := store.Fail(ctx, job.ID, "p1", cause)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, model.KindPolicyViolation, failed.Error.Kind)
	assert.Equal(t, "path traversal: ../evil.sh", failed.Error.Message)
	assert.False(t, failed.Error.Timestamp.IsZero())

	pending, err := store.Create(ctx, "s2", "u1")
	require.NoError(t, err)
	aborted, err := store.Abort(ctx, pending.ID, errors.New("inputs missing"))
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, aborted.Status)
	assert.Equal(t, model.KindInternal, aborted.Error.Kind)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "s1", "u1")
	require.NoError(t, err)
	_, err = store.Claim(ctx, job.ID, "p1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, job.ID))
	_, err = store.GetBySession(ctx, "s1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, store.Heartbeat(ctx, job.ID, "p1"), model.ErrNotFound, "heartbeat notices deletion")
	assert.ErrorIs(t, store.Delete(ctx, job.ID), model.ErrNotFound)

	_, err = store.Create(ctx, "s1", "u1")
	assert.NoError(t, err, "session can be reused after delete")
}
