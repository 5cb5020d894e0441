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
	"errors"
	"log/slog"
	"sync"
)

const subscriberBuffer = 64

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("events: bus closed")

// Memory is an in-process Bus. Each subscriber has its own buffered queue
// and delivery goroutine; Publish blocks only while a queue is full.
type Memory struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
	wg     sync.WaitGroup
}

// NewMemory returns an empty in-process bus.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{logger: logger, subs: make(map[int]chan Event)}
}

func (m *Memory) Publish(ctx context.Context, ev Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.logger.Debug("events.published", "kind", ev.Kind, "job_id", ev.JobID, "subscribers", len(m.subs))
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("events: handler required")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Event, subscriberBuffer)
	m.subs[id] = ch
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				h(ev)
			case <-ctx.Done():
				// Drain so a publisher blocked on this queue can release its lock.
				go func() {
					for range ch {
					}
				}()
				m.unsubscribe(id)
				return
			}
		}
	}()
	return nil
}

func (m *Memory) unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

// Close stops accepting events, delivers what is already queued and waits
// for subscriber goroutines to exit.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
