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

// Package bootstrap wires every morph component from a config.Config.
//
// Open builds, in dependency order, the database and its stores, the
// workspace manager, the event bus, the blob router, the embedding client,
// the generation provider, the migration agent, the background processor and
// the service facade. Nothing is global: two Apps opened from different
// configs share no state.
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	app, err := bootstrap.Open(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//
//	job, err := app.Service.CreateJob(ctx, "session-1", "user-1", inputs)
//
// # Optional components
//
// A generation provider that cannot be built (for example openai without an
// API key) leaves Agent nil; Service.Migrate then fails while ingestion keeps
// working. The Google Cloud Storage client is created on the first gs://
// download; without credentials those downloads fail with an IO error.
package bootstrap
