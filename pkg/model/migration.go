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

package model

import "time"

// MigrationRequest selects what a migration should produce. Either Command or
// ToLang must be set; FromLang is optional.
type MigrationRequest struct {
	Command   string  `json:"command,omitempty"`
	FromLang  string  `json:"fromLang,omitempty"`
	ToLang    string  `json:"toLang,omitempty"`
	K         int     `json:"k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Model     string  `json:"model,omitempty"`
}

// Target returns the requested target technology, falling back to the command.
func (r MigrationRequest) Target() string {
	if r.ToLang != "" {
		return r.ToLang
	}
	return r.Command
}

// FileValidation carries the best-effort checks run on one migrated file.
type FileValidation struct {
	SyntaxValid        bool     `json:"syntaxValid"`
	ImportsResolve     bool     `json:"importsResolve"`
	StructurePreserved float64  `json:"structurePreserved"`
	UnresolvedImports  []string `json:"unresolvedImports,omitempty"`
	MissingNames       []string `json:"missingNames,omitempty"`
}

// MigrationResult is one migrated artifact produced by the generation model.
type MigrationResult struct {
	OriginalFilename string         `json:"originalFilename"`
	MigratedFilename string         `json:"migratedFilename"`
	Content          string         `json:"content"`
	Validation       FileValidation `json:"validation"`
	Success          bool           `json:"success"`
}

// MigrationStats summarizes retrieval and generation for one migration.
type MigrationStats struct {
	ChunksRetrieved   int   `json:"chunksRetrieved"`
	FilesConsidered   int   `json:"filesConsidered"`
	PromptChars       int   `json:"promptChars"`
	PromptTokens      int   `json:"promptTokens"`
	OutputTokens      int   `json:"outputTokens"`
	GenerationMillis  int64 `json:"generationMillis"`
	ThresholdFallback bool  `json:"thresholdFallback"`
}

// MigrationValidation aggregates per-file validation over all results.
type MigrationValidation struct {
	SyntaxValidRate        float64 `json:"syntaxValidRate"`
	ImportsResolveRate     float64 `json:"importsResolveRate"`
	StructurePreservedRate float64 `json:"structurePreservedRate"`
	SuccessRate            float64 `json:"successRate"`
}

// Migration is the outcome of one migrate call.
type Migration struct {
	ID         string              `json:"migrationId"`
	JobID      string              `json:"jobId"`
	Command    string              `json:"command"`
	Target     string              `json:"target"`
	Results    []MigrationResult   `json:"results"`
	Stats      MigrationStats      `json:"stats"`
	Validation MigrationValidation `json:"validation"`
	CreatedAt  time.Time           `json:"createdAt"`
}
