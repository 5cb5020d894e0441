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

package migration

import (
	"fmt"
	"strings"
)

// systemPrompt is sent as model instructions on every migration.
const systemPrompt = `You are a senior engineer migrating a codebase between languages and frameworks.
Translate the provided source faithfully: keep every function, class and module boundary,
keep public names (adapting only their casing to the target's conventions), and replace
imports with the idiomatic equivalents of the target ecosystem.
Answer only with JSON matching the provided schema. Emit one entry per source file.
Each entry's content must be the complete migrated file, not a diff or an excerpt.`

// buildPrompt lays out the request: the task, then every file with its
// dependencies and chunks in source order. Files are sorted by path, so the
// same command and retrieval always produce the same prompt.
func buildPrompt(task, target, fromLang string, files []fileContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target technology: %s\n", target)
	if fromLang != "" {
		fmt.Fprintf(&b, "Source language: %s\n", fromLang)
	}
	fmt.Fprintf(&b, "Task: %s\n", task)
	fmt.Fprintf(&b, "Files: %d\n", len(files))
	b.WriteString("\nFor each file below, produce the migrated file with its new filename and full content.\n")

	for _, f := range files {
		lang := f.Language
		if lang == "" {
			lang = "unknown"
		}
		fmt.Fprintf(&b, "\n### File: %s (%s)\n", f.Path, lang)
		if len(f.Dependencies) > 0 {
			fmt.Fprintf(&b, "Dependencies: %s\n", strings.Join(f.Dependencies, ", "))
		}
		for _, c := range f.Chunks {
			name := c.ChunkName
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(&b, "--- %s %s (lines %d-%d)\n", c.ChunkType, name, c.StartLine, c.EndLine)
			b.WriteString(c.Content)
			if !strings.HasSuffix(c.Content, "\n") {
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}
