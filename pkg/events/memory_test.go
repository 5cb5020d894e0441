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

package events

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestMemory_FanOut(t *testing.T) {
	bus := NewMemory(nil)
	defer bus.Close()
	ctx := context.Background()

	var a, b recorder
	require.NoError(t, bus.Subscribe(ctx, a.handle))
	require.NoError(t, bus.Subscribe(ctx, b.handle))

	require.NoError(t, bus.Publish(ctx, New(JobCreated, "j1", "s1")))
	require.NoError(t, bus.Publish(ctx, New(JobDeleted, "j1", "s1")))

	for _, r := range []*recorder{&a, &b} {
		require.Eventually(t, func() bool { return len(r.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
		got := r.snapshot()
		assert.Equal(t, JobCreated, got[0].Kind)
		assert.Equal(t, JobDeleted, got[1].Kind)
		assert.Equal(t, "j1", got[1].JobID)
	}
}

func TestMemory_UnsubscribeOnContextDone(t *testing.T) {
	bus := NewMemory(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var r recorder
	require.NoError(t, bus.Subscribe(ctx, r.handle))
	cancel()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subs) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), New(JobCreated, "j1", "s1")))
	assert.Empty(t, r.snapshot())
}

func TestMemory_SlowSubscriberDoesNotDeadlockCancel(t *testing.T) {
	bus := NewMemory(nil)
	defer bus.Close()

	block := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, func(Event) { <-block }))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+5; i++ {
			_ = bus.Publish(context.Background(), New(JobCreated, "j", "s"))
		}
	}()

	cancel()
	close(block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stuck after subscriber cancelled")
	}
}

func TestMemory_Closed(t *testing.T) {
	bus := NewMemory(nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), New(JobCreated, "j", "s")), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(context.Background(), func(Event) {}), ErrClosed)
}

func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := "morph:test:" + time.Now().Format("150405.000000")
	bus, err := NewRedis(ctx, RedisConfig{Addr: addr, Channel: channel}, nil)
	require.NoError(t, err)
	defer bus.Close()

	var r recorder
	require.NoError(t, bus.Subscribe(ctx, r.handle))
	require.NoError(t, bus.Publish(ctx, New(JobDeleted, "j9", "s9")))

	require.Eventually(t, func() bool { return len(r.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := r.snapshot()[0]
	assert.Equal(t, JobDeleted, got.Kind)
	assert.Equal(t, "s9", got.SessionID)
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{}, nil)
	assert.Error(t, err)
}
