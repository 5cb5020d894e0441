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

package embedding

import (
	"fmt"
	"strings"

	"github.com/kraklabs/morph/pkg/model"
)

// roleTemplates describe what each chunk kind is. Arguments: name, file path, language.
var roleTemplates = map[model.ChunkType]string{
	model.ChunkFunction:      "A %[3]s function named %[1]s defined in %[2]s.",
	model.ChunkMethod:        "A %[3]s method %[1]s belonging to a type or class in %[2]s.",
	model.ChunkClass:         "A %[3]s class %[1]s declared in %[2]s, grouping state and behavior.",
	model.ChunkInterface:     "A %[3]s interface %[1]s in %[2]s describing a contract.",
	model.ChunkTypeDecl:      "A %[3]s type declaration %[1]s in %[2]s.",
	model.ChunkEnum:          "A %[3]s enumeration %[1]s in %[2]s listing named constants.",
	model.ChunkVariable:      "A top-level %[3]s variable or constant declaration %[1]s in %[2]s.",
	model.ChunkImport:        "The %[3]s import statements of %[2]s.",
	model.ChunkExport:        "A %[3]s export statement in %[2]s exposing %[1]s.",
	model.ChunkTryCatch:      "A %[3]s error-handling block in %[2]s.",
	model.ChunkConditional:   "A top-level %[3]s conditional block in %[2]s.",
	model.ChunkLoop:          "A top-level %[3]s loop in %[2]s.",
	model.ChunkSwitch:        "A %[3]s switch or match statement in %[2]s.",
	model.ChunkArrowFunction: "A %[3]s arrow function %[1]s in %[2]s.",
	model.ChunkGenerator:     "A %[3]s generator function %[1]s in %[2]s that yields values.",
	model.ChunkAsyncFunction: "An asynchronous %[3]s function %[1]s in %[2]s.",
	model.ChunkBlock:         "A block of %[3]s source from %[2]s.",
}

// Descriptor builds the text embedded for a chunk:
//
//	<kind> <name>
//
//	<role sentence>
//	Content: <content>
//	Dependencies: <dep>, <dep>
//
// The dependency line is omitted when the chunk has none. The output depends
// only on the chunk, so re-embedding a job is reproducible.
func Descriptor(c model.Chunk) string {
	tmpl, ok := roleTemplates[c.ChunkType]
	if !ok {
		tmpl = roleTemplates[model.ChunkBlock]
	}
	lang := c.Language
	if lang == "" {
		lang = "source"
	}

	var b strings.Builder
	b.WriteString(string(c.ChunkType))
	b.WriteByte(' ')
	b.WriteString(c.ChunkName)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, tmpl, c.ChunkName, c.FilePath, lang)
	b.WriteString("\nContent: ")
	b.WriteString(c.Content)
	if len(c.Metadata.Dependencies) > 0 {
		b.WriteString("\nDependencies: ")
		b.WriteString(strings.Join(c.Metadata.Dependencies, ", "))
	}
	return b.String()
}

// QueryDescriptor builds the text embedded for a retrieval query.
func QueryDescriptor(command, fromLang, toLang string) string {
	command = strings.TrimSpace(command)
	if command != "" {
		return command
	}
	if fromLang == "" {
		return fmt.Sprintf("Migrate this codebase to %s, preserving its functions, classes and module structure.", toLang)
	}
	return fmt.Sprintf("Migrate this %s codebase to %s, preserving its functions, classes and module structure.", fromLang, toLang)
}

// truncateRunes cuts s to at most n characters on a rune boundary.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}
