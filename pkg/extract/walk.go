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
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kraklabs/morph/pkg/model"
)

// Listing is the result of walking an extracted or uploaded source tree.
type Listing struct {
	Root        string
	Files       []Entry
	TotalSize   int64
	SkipReasons map[string]int
}

// ListSourceFiles walks root in lexical order and returns the files the policy
// accepts. Excluded directories are pruned without descending.
func ListSourceFiles(ctx context.Context, root string, policy Policy, logger *slog.Logger) (*Listing, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy = policy.withDefaults()
	out := &Listing{Root: root, SkipReasons: make(map[string]int)}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("extract.walk.error", "path", p, "err", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if excluded, _ := policy.Excluded(rel); excluded {
				out.SkipReasons["excluded_dir"]++
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			out.SkipReasons["not_regular"]++
			return nil
		}
		if excluded, reason := policy.Excluded(rel); excluded {
			out.SkipReasons[reason]++
			return nil
		}
		if !policy.Includes(rel) {
			out.SkipReasons["extension"]++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > policy.MaxFileBytes {
			out.SkipReasons["too_large"]++
			logger.Warn("extract.walk.skip_large_file", "path", rel, "size", info.Size(), "limit", policy.MaxFileBytes)
			return nil
		}

		out.Files = append(out.Files, Entry{
			RelativePath: rel,
			Size:         info.Size(),
			Extension:    strings.ToLower(filepath.Ext(rel)),
		})
		out.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, model.WrapError(model.KindOf(err), "extract.walk", err)
	}
	return out, nil
}
