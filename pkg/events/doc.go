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

// Package events carries job lifecycle notifications between the service
// facade and background processors.
//
// Two events exist. [JobCreated] wakes processors before their next poll, and
// [JobDeleted] asks whichever processor holds the job to cancel it. Neither is
// required for correctness: processors still poll for pending jobs and notice
// deleted jobs through their heartbeat. The bus only shortens the delay.
//
// [NewMemory] serves a single process. [NewRedis] fans events out over a Redis
// pub/sub channel so that `morph enqueue` in one process wakes `morph serve`
// in another.
package events
