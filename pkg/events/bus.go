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
	"time"
)

// Kind names a job lifecycle event.
type Kind string

const (
	JobCreated Kind = "job.created"
	JobDeleted Kind = "job.deleted"
)

// Event is one notification about a job.
type Event struct {
	Kind      Kind      `json:"kind"`
	JobID     string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

// Handler receives events. It runs on the bus's delivery goroutine and must
// not block for long.
type Handler func(Event)

// Bus publishes events and delivers them to subscribers.
type Bus interface {
	// Publish sends ev to every current subscriber.
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h until ctx is done. It returns once the
	// subscription is live, so events published afterwards are delivered.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// New builds an event for kind, stamped with the current time.
func New(kind Kind, jobID, sessionID string) Event {
	return Event{Kind: kind, JobID: jobID, SessionID: sessionID, At: time.Now().UTC()}
}
