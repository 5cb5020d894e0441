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
	"context"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/kraklabs/morph/pkg/chunker"
	"github.com/kraklabs/morph/pkg/classify"
	"github.com/kraklabs/morph/pkg/model"
)

var languageAliases = map[string]string{
	"go":         classify.Go,
	"golang":     classify.Go,
	"python":     classify.Python,
	"py":         classify.Python,
	"javascript": classify.JavaScript,
	"js":         classify.JavaScript,
	"node":       classify.JavaScript,
	"nodejs":     classify.JavaScript,
	"typescript": classify.TypeScript,
	"ts":         classify.TypeScript,
	"java":       classify.Java,
	"kotlin":     classify.Kotlin,
	"rust":       classify.Rust,
	"c#":         classify.CSharp,
	"csharp":     classify.CSharp,
	"ruby":       classify.Ruby,
	"php":        classify.PHP,
	"swift":      classify.Swift,
}

// targetLanguage maps a free-form target such as "Go" or "TypeScript/React"
// to a classifier language, or "" when unknown.
func targetLanguage(target string) string {
	t := strings.ToLower(strings.TrimSpace(target))
	if lang, ok := languageAliases[t]; ok {
		return lang
	}
	for _, field := range strings.FieldsFunc(t, func(r rune) bool { return r == ' ' || r == '/' || r == ',' || r == '+' }) {
		if lang, ok := languageAliases[field]; ok {
			return lang
		}
	}
	return ""
}

// declarationTypes are the chunk types whose names structurePreserved tracks.
var declarationTypes = map[model.ChunkType]bool{
	model.ChunkFunction:      true,
	model.ChunkMethod:        true,
	model.ChunkClass:         true,
	model.ChunkInterface:     true,
	model.ChunkTypeDecl:      true,
	model.ChunkEnum:          true,
	model.ChunkArrowFunction: true,
	model.ChunkGenerator:     true,
	model.ChunkAsyncFunction: true,
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// normName folds casing and underscores so get_user matches getUser.
func normName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// validateResult fills r.Validation and r.Success. originals are the chunks
// of the source file shown to the model, and produced holds the stems of all
// migrated filenames for relative import resolution.
func (a *Agent) validateResult(ctx context.Context, r *model.MigrationResult, target string, originals []model.Chunk, produced map[string]bool) {
	lang := classify.ExtensionLanguage(r.MigratedFilename)
	if lang == "" {
		lang = targetLanguage(target)
	}
	content := []byte(r.Content)
	v := model.FileValidation{ImportsResolve: true}

	rep, err := chunker.CheckSyntax(ctx, lang, r.MigratedFilename, content)
	switch {
	case err != nil:
		v.SyntaxValid = false
	case rep.Supported:
		v.SyntaxValid = rep.Valid
	default:
		v.SyntaxValid = balanced(r.Content)
	}

	if rep.Supported && v.SyntaxValid {
		chunks, err := a.chunker.Chunk(ctx, chunker.Input{FilePath: r.MigratedFilename, Content: content, Language: lang})
		if err == nil {
			for _, c := range chunks {
				if c.ChunkType != model.ChunkImport {
					continue
				}
				for _, dep := range c.Metadata.Dependencies {
					if !resolvesLocally(dep, produced) {
						v.UnresolvedImports = append(v.UnresolvedImports, dep)
					}
				}
			}
		}
		v.ImportsResolve = len(v.UnresolvedImports) == 0
	}

	v.StructurePreserved, v.MissingNames = structurePreserved(originals, r.Content)
	r.Validation = v
	r.Success = strings.TrimSpace(r.Content) != "" && v.SyntaxValid && v.ImportsResolve
}

// structurePreserved returns the share of declared names in originals that
// still appear as identifiers in content, and the names that do not.
func structurePreserved(originals []model.Chunk, content string) (float64, []string) {
	want := map[string]string{}
	for _, c := range originals {
		if declarationTypes[c.ChunkType] && c.ChunkName != "" {
			want[normName(c.ChunkName)] = c.ChunkName
		}
	}
	if len(want) == 0 {
		return 1, nil
	}
	have := map[string]bool{}
	for _, id := range identRe.FindAllString(content, -1) {
		have[normName(id)] = true
	}
	var missing []string
	for norm, name := range want {
		if !have[norm] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return float64(len(want)-len(missing)) / float64(len(want)), missing
}

// resolvesLocally treats bare module names as external packages. Relative
// imports must name a file the migration produced.
func resolvesLocally(dep string, produced map[string]bool) bool {
	if !strings.HasPrefix(dep, ".") && !strings.HasPrefix(dep, "/") {
		return true
	}
	base := strings.TrimLeft(dep, "./")
	base = path.Base(base)
	return produced[stem(base)]
}

func stem(name string) string {
	base := path.Base(model.NormalizePath(name))
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return strings.ToLower(base)
}

// balanced is the fallback syntax check for languages without a grammar:
// brackets must nest, ignoring double-quoted and backquoted strings and
// line comments.
func balanced(src string) bool {
	var stack []rune
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var quote rune
	escaped := false
	lineComment := false
	prev := rune(0)
	for _, r := range src {
		switch {
		case lineComment:
			if r == '\n' {
				lineComment = false
			}
		case quote != 0:
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '`':
			quote = r
		case r == '#' || (r == '/' && prev == '/'):
			lineComment = true
		case r == '(' || r == '[' || r == '{':
			stack = append(stack, r)
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
		prev = r
	}
	return len(stack) == 0 && quote == 0
}

// aggregate averages per-file validation into rates.
func aggregate(results []model.MigrationResult) model.MigrationValidation {
	if len(results) == 0 {
		return model.MigrationValidation{}
	}
	var v model.MigrationValidation
	for _, r := range results {
		if r.Validation.SyntaxValid {
			v.SyntaxValidRate++
		}
		if r.Validation.ImportsResolve {
			v.ImportsResolveRate++
		}
		if r.Success {
			v.SuccessRate++
		}
		v.StructurePreservedRate += r.Validation.StructurePreserved
	}
	n := float64(len(results))
	v.SyntaxValidRate /= n
	v.ImportsResolveRate /= n
	v.StructurePreservedRate /= n
	v.SuccessRate /= n
	return v
}
