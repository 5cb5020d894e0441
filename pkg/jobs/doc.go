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

// Package jobs implements the per-session job state machine:
//
//	Create ──▶ pending ──Claim──▶ processing ──Complete──▶ ready
//	              │                    │
//	              └──Abort──▶ failed ◀─┘ Fail
//
// Every transition is a single conditional UPDATE on (id, status, holder),
// so concurrent processors can share one database: exactly one Claim of a
// pending job succeeds and the others get ConcurrentClaim. A processing job
// whose heartbeat is older than the stale timeout may be claimed again by
// another holder.
//
// Terminal jobs (ready, failed) can only be deleted.
package jobs
