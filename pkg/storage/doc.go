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

// Package storage persists jobs, chunks and uploaded file records with gorm.
//
// # Databases
//
// Two drivers are supported:
//
//   - sqlite: embedded database file, the default for standalone use
//   - postgres: shared database for a fleet of processors
//
// Open a database and create the schema:
//
//	db, err := storage.Open(storage.Config{Driver: "sqlite", DataDir: "/var/lib/morph"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.EnsureSchema(); err != nil {
//	    log.Fatal(err)
//	}
//
// Default values if not specified:
//   - Driver: "sqlite"
//   - DataDir: ~/.morph/data
//   - DSN: file:<DataDir>/morph.db with WAL journaling and a busy timeout
//
// # Schema
//
// EnsureSchema (or Migrate on a bare *gorm.DB) creates three tables:
//
//   - jobs: one row per session, see JobRecord
//   - chunks: one row per chunk, unique on (job_id, file_path, start_byte, end_byte)
//   - stored_files: uploaded artifacts, see FileRecord
//
// On Postgres it also creates trigram indexes for text search when the
// pg_trgm extension is available.
//
// # Chunks
//
// ChunkStore.Insert is idempotent on the span key; inserting the same chunks
// twice leaves one row each. Listing and text search never load embeddings.
// VectorSearch scans the job's embeddings in memory and ranks them by cosine
// similarity.
package storage
