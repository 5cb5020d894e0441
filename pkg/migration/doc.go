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

// Package migration turns a ready job's chunks into migrated source files.
//
// An [Agent] embeds a query built from the migration command, retrieves the
// most similar chunks of the job, widens them with neighboring chunks of the
// same files, and sends one deterministic prompt to a generation model. The
// model answers with a JSON list of files; each is validated best-effort for
// syntax, import resolution and preserved declaration names. Nothing is
// rejected on validation: metrics are reported alongside every result.
package migration
