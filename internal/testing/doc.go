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

// Package testing provides shared fixtures for morph tests.
//
// # Databases
//
// NewDB opens a throwaway gorm database. By default it is a SQLite file in
// t.TempDir(); set TEST_POSTGRES_DSN to run the same tests against Postgres.
// Callers migrate the tables they need:
//
//	db := mtesting.NewDB(t)
//	require.NoError(t, storage.Migrate(db))
//
// # Archives
//
// BuildZip and BuildTar write small archives from ArchiveFile lists, including
// hostile ones (traversal names, symlinks) for extractor tests:
//
//	path := mtesting.BuildZip(t, t.TempDir(), "upload.zip", []mtesting.ArchiveFile{
//	    {Name: "src/main.go", Body: "package main"},
//	    {Name: "../evil.go", Body: "package evil"},
//	})
//
// # Source trees
//
// WriteTree materializes a map of relative paths to contents.
//
// # Embeddings
//
// FakeEmbedder is an embedding.Provider whose credentials can be made to
// answer 429 and whose calls can be failed per request.
package testing
