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

// Package blob opens uploaded artifacts by locator.
//
// A locator is whatever the upload path stored on a StoredFile: a local
// filesystem path, a file:// URL, an http(s):// URL, or gs://bucket/object.
// [Router] dispatches on the scheme to a [Fetcher] and offers [Router.Download]
// for materializing a blob into a workspace with a deadline and bounded
// retries.
package blob
