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

// Package embedding turns chunks into fixed-dimension vectors.
//
// A Client embeds a deterministic descriptor of each chunk (see Descriptor)
// rather than its raw content. Chunks are processed in batches; inside a
// batch calls run concurrently up to a configured limit, and batches are
// separated by a short delay to stay under provider rate limits.
//
// Credentials are drawn round-robin from a CredentialPool. A quota or
// rate-limit response marks the credential failed and the same chunk is
// retried on the next one. When every credential has failed the pool is
// cleared once; if that still fails the chunk receives a dummy vector
// (uniform random in [0,1)) and IsDummy is set, unless dummy fallback is
// disabled, in which case the call fails with EmbeddingUnavailable.
//
// Providers:
//
//   - "openai": any OpenAI-compatible endpoint; the credential is the API key
//   - "ollama": a local Ollama server; credentials are ignored
//   - "mock": deterministic hash vectors for tests and offline runs
package embedding
