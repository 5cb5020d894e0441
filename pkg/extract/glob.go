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

// MatchGlob matches a slash-separated relative path against a glob pattern.
//
// Supported syntax is that of path.Match per segment, plus "**" as a segment
// that matches zero or more whole segments. A pattern without a leading "**/"
// may still match at any depth, so "*.min.js" excludes minified files anywhere
// and "vendor" excludes every file below a vendor directory.
func MatchGlob(rel, pattern string) bool {
	pattern = strings.Trim(strings.ReplaceAll(pattern, "\\", "/"), "/")
	if pattern == "" {
		return false
	}
	segs := strings.Split(rel, "/")
	pat := strings.Split(pattern, "/")
	if pat[0] != "**" {
		pat = append([]string{"**"}, pat...)
	}
	if matchSegments(segs, pat) {
		return true
	}
	// A pattern naming a directory also matches everything below it.
	under := append(append([]string(nil), pat...), "**")
	return matchSegments(segs, under)
}

func matchSegments(segs, pat []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(segs[i:], rest) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], segs[0])
		if err != nil || !ok {
			return false
		}
		segs, pat = segs[1:], pat[1:]
	}
	return len(segs) == 0
}
