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

// Package processor runs ingestion jobs in the background.
//
// A [Processor] polls the job store for claimable jobs, claims them under its
// holder id and drives each one through download, extraction, classification,
// chunking, embedding and persistence. At most MaxConcurrentJobs jobs run at
// once; inside a job, blob downloads fan out up to DownloadConcurrency.
//
// Cancellation is checked at file boundaries and embedding batch boundaries.
// A job deleted while running is cancelled either through a job.deleted
// event or by the next heartbeat noticing the row is gone; its partially
// stored chunks are removed and its workspace released.
//
// A job whose processor dies keeps status processing until its heartbeat is
// older than the stale claim timeout, after which any processor reclaims it.
package processor
