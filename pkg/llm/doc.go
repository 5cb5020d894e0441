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

// Package llm provides a unified interface for text generation providers.
//
// The migration agent uses it to turn a retrieval prompt into migrated
// source files. Providers hide the differences between the OpenAI API (and
// OpenAI-compatible servers), a local Ollama server, and an in-process mock.
//
// # Supported Providers
//
//   - openai: the Responses API for [Provider.Generate] and Chat Completions
//     for [Provider.Chat], through github.com/openai/openai-go.
//   - ollama: the /api/generate and /api/chat endpoints of a local server.
//   - mock: canned or scripted responses for tests.
//
// # Structured Output
//
// A [GenerateRequest] may carry a JSON schema. The OpenAI provider sends it as
// a strict json_schema text format and Ollama passes it as the "format"
// field. [GenerateSchema] reflects a schema from a Go type, and [DecodeJSON]
// tolerates the prose some models wrap around their JSON:
//
//	schema := llm.GenerateSchema[[]MigratedFile]()
//	resp, err := provider.Generate(ctx, llm.GenerateRequest{
//	    System:     instructions,
//	    Prompt:     prompt,
//	    Schema:     schema,
//	    SchemaName: "MigratedFiles",
//	})
//	if err != nil {
//	    return err
//	}
//	var files []MigratedFile
//	err = llm.DecodeJSON(resp.Text, &files)
//
// # Provider Selection
//
// [DefaultProvider] picks a provider from the environment:
//  1. OLLAMA_HOST or OLLAMA_MODEL set - Ollama
//  2. OPENAI_API_KEY set - OpenAI
//  3. otherwise - mock
//
// # Error Handling
//
// Non-success responses surface as [*StatusError] (Ollama) or *openai.Error
// (OpenAI). Both providers retry 429 and 5xx responses up to
// ProviderConfig.MaxRetries times with jittered backoff; [IsRateLimit]
// classifies the final error for callers.
package llm
