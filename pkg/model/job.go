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

package model

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobReady      JobStatus = "ready"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobReady || s == JobFailed
}

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobReady, JobFailed:
		return true
	}
	return false
}

// JobError is the structured cause recorded on a failed job.
type JobError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is the durable coordinator record for one session's ingestion.
type Job struct {
	ID        string    `json:"jobId"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Status    JobStatus `json:"status"`

	TotalFiles     int `json:"totalFiles"`
	ProcessedFiles int `json:"processedFiles"`
	TotalChunks    int `json:"totalChunks"`

	Error *JobError `json:"error,omitempty"`

	// Holder is the processor that owns the claim while status is processing.
	Holder      string     `json:"holder,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeatAt,omitempty"`

	CreatedAt             time.Time  `json:"createdAt"`
	ProcessingStartedAt   *time.Time `json:"processingStartedAt,omitempty"`
	ProcessingCompletedAt *time.Time `json:"processingCompletedAt,omitempty"`
}
