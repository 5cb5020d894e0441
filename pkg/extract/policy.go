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

package extract

import (
	"path"
	"strings"
)

// Policy bounds what an archive may put into a workspace.
type Policy struct {
	// MaxFiles caps the number of accepted entries.
	MaxFiles int `yaml:"maxFiles"`

	// MaxFileBytes is the largest single entry that is accepted. Larger entries are skipped.
	MaxFileBytes int64 `yaml:"maxFileBytes"`

	// MaxTotalBytes caps the sum of accepted entry sizes.
	MaxTotalBytes int64 `yaml:"maxTotalBytes"`

	// IncludeExtensions whitelists entries by lower-case extension, dot included.
	IncludeExtensions []string `yaml:"includeExtensions"`

	// ExcludePathSegments rejects any entry with one of these path segments.
	ExcludePathSegments []string `yaml:"excludePathSegments"`

	// ExcludeGlobs rejects entries matching any of these patterns (see MatchGlob).
	ExcludeGlobs []string `yaml:"excludeGlobs,omitempty"`
}

// DefaultIncludeExtensions covers the source languages the classifier knows.
var DefaultIncludeExtensions = []string{
	".go",
	".py", ".pyi",
	".js", ".jsx", ".mjs", ".cjs",
	".ts", ".tsx", ".mts", ".cts",
	".vue", ".svelte",
	".java", ".kt", ".kts", ".scala",
	".rs",
	".c", ".h", ".cc", ".cpp", ".cxx", ".hpp", ".hh",
	".cs",
	".rb",
	".php",
	".swift",
	".m", ".mm",
	".dart",
	".lua",
	".sh", ".bash",
	".sql",
	".ex", ".exs", ".erl",
	".hs",
	".clj", ".cljs",
	".r", ".jl",
	".proto",
}

// DefaultExcludePathSegments are build outputs, VCS metadata and OS debris.
var DefaultExcludePathSegments = []string{
	"node_modules", ".git", "__MACOSX", ".DS_Store", "dist", "build",
	"coverage", ".nyc_output", "logs", "tmp", "temp",
}

// DefaultPolicy returns the extraction defaults: 500 files, 50 MiB per file, 2 GiB in total.
func DefaultPolicy() Policy {
	return Policy{
		MaxFiles:            500,
		MaxFileBytes:        50 << 20,
		MaxTotalBytes:       2 << 30,
		IncludeExtensions:   append([]string(nil), DefaultIncludeExtensions...),
		ExcludePathSegments: append([]string(nil), DefaultExcludePathSegments...),
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxFiles <= 0 {
		p.MaxFiles = d.MaxFiles
	}
	if p.MaxFileBytes <= 0 {
		p.MaxFileBytes = d.MaxFileBytes
	}
	if p.MaxTotalBytes <= 0 {
		p.MaxTotalBytes = d.MaxTotalBytes
	}
	if p.IncludeExtensions == nil {
		p.IncludeExtensions = d.IncludeExtensions
	}
	if p.ExcludePathSegments == nil {
		p.ExcludePathSegments = d.ExcludePathSegments
	}
	return p
}

// Includes reports whether the extension of name is whitelisted.
func (p Policy) Includes(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	for _, allowed := range p.IncludeExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// Excluded reports whether a cleaned, slash-separated relative path is excluded
// by segment or glob. The returned reason is empty when the path is kept.
func (p Policy) Excluded(rel string) (bool, string) {
	for _, seg := range strings.Split(rel, "/") {
		for _, ex := range p.ExcludePathSegments {
			if seg == ex {
				return true, "excluded_segment"
			}
		}
	}
	for _, g := range p.ExcludeGlobs {
		if MatchGlob(rel, g) {
			return true, "excluded_glob"
		}
	}
	return false, ""
}
