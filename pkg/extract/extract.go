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
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kraklabs/morph/pkg/model"
)

// Archive formats recognised by DetectFormat.
const (
	FormatZip   = "zip"
	FormatTar   = "tar"
	FormatTarGz = "tar.gz"
)

// Entry is one accepted archive member, materialized under the workspace.
type Entry struct {
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
	Extension    string `json:"extension"`
}

// Result describes a completed extraction.
type Result struct {
	Root       string
	Format     string
	Entries    []Entry
	TotalBytes int64
	// Skipped counts rejected entries by reason (excluded_segment, extension, too_large, ...).
	Skipped map[string]int
}

// Extractor materializes the whitelisted subset of an archive into a directory.
type Extractor struct {
	policy Policy
	logger *slog.Logger
}

// New creates an extractor. Zero policy fields take their defaults.
func New(policy Policy, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{policy: policy.withDefaults(), logger: logger}
}

// Policy returns the effective policy.
func (e *Extractor) Policy() Policy { return e.policy }

// ExtractFile extracts the archive at archivePath into dest.
func (e *Extractor) ExtractFile(ctx context.Context, archivePath, dest string) (*Result, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, model.WrapError(model.KindIO, "extract.open", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, model.WrapError(model.KindIO, "extract.stat", err)
	}
	return e.Extract(ctx, f, st.Size(), filepath.Base(archivePath), dest)
}

// Extract reads an archive of the given size and writes accepted entries below dest.
//
// The archive is scanned twice. The first pass validates every header against the
// policy, so a traversal attempt or a cap violation fails the extraction before any
// file is written. The second pass writes the accepted entries.
func (e *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64, name, dest string) (*Result, error) {
	format, err := DetectFormat(r, size, name)
	if err != nil {
		return nil, err
	}
	src := archiveSource{r: r, size: size, format: format}

	plan, err := e.plan(ctx, src)
	if err != nil {
		return nil, err
	}
	plan.result.Root = dest
	plan.result.Format = format

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, model.WrapError(model.KindIO, "extract.mkdir", err)
	}
	if err := e.write(ctx, src, dest, plan); err != nil {
		for _, ent := range plan.result.Entries {
			_ = os.Remove(filepath.Join(dest, filepath.FromSlash(ent.RelativePath)))
		}
		return nil, err
	}

	e.logger.Info("extract.done",
		"archive", name,
		"format", format,
		"accepted", len(plan.result.Entries),
		"bytes", plan.result.TotalBytes,
		"skipped", plan.result.Skipped,
	)
	return &plan.result, nil
}

// DetectFormat sniffs magic bytes and falls back to the file name.
func DetectFormat(r io.ReaderAt, size int64, name string) (string, error) {
	head := make([]byte, 512)
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", model.WrapError(model.KindIO, "extract.sniff", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return FormatZip, nil
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return FormatTarGz, nil
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return FormatTar, nil
	}

	lower := strings.ToLower(name)
	switch {
	case size == 0:
		return "", model.NewError(model.KindArchiveCorrupt, "extract", "empty archive %q", name)
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	}
	return "", model.NewError(model.KindArchiveCorrupt, "extract", "unrecognised archive format for %q", name)
}

// header is the format-independent view of an archive member.
type header struct {
	ordinal int
	name    string
	size    int64
	mode    fs.FileMode
	regular bool
	dir     bool
}

type archiveSource struct {
	r      io.ReaderAt
	size   int64
	format string
}

// each visits every member in archive order. open returns the member's content
// and is only valid during the callback.
func (s archiveSource) each(ctx context.Context, fn func(h header, open func() (io.ReadCloser, error)) error) error {
	switch s.format {
	case FormatZip:
		zr, err := zip.NewReader(s.r, s.size)
		// Insecure names are rejected per entry by cleanEntryName.
		if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
			return model.WrapError(model.KindArchiveCorrupt, "extract.zip", err)
		}
		for i, f := range zr.File {
			if err := ctx.Err(); err != nil {
				return err
			}
			mode := f.Mode()
			h := header{
				ordinal: i,
				name:    f.Name,
				size:    int64(f.UncompressedSize64),
				mode:    mode,
				regular: mode.IsRegular(),
				dir:     mode.IsDir() || strings.HasSuffix(f.Name, "/"),
			}
			if err := fn(h, f.Open); err != nil {
				return err
			}
		}
		return nil

	case FormatTar, FormatTarGz:
		var stream io.Reader = io.NewSectionReader(s.r, 0, s.size)
		if s.format == FormatTarGz {
			gz, err := gzip.NewReader(stream)
			if err != nil {
				return model.WrapError(model.KindArchiveCorrupt, "extract.gzip", err)
			}
			defer func() { _ = gz.Close() }()
			stream = gz
		}
		tr := tar.NewReader(stream)
		for i := 0; ; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			th, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
				return model.WrapError(model.KindArchiveCorrupt, "extract.tar", err)
			}
			h := header{
				ordinal: i,
				name:    th.Name,
				size:    th.Size,
				mode:    th.FileInfo().Mode(),
				regular: th.Typeflag == tar.TypeReg || th.Typeflag == tar.TypeRegA,
				dir:     th.Typeflag == tar.TypeDir,
			}
			open := func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }
			if err := fn(h, open); err != nil {
				return err
			}
		}
	}
	return model.NewError(model.KindArchiveCorrupt, "extract", "unsupported format %q", s.format)
}

type planned struct {
	ordinal int
	entry   Entry
}

type extractionPlan struct {
	byPath map[string]planned
	result Result
}

func (e *Extractor) plan(ctx context.Context, src archiveSource) (*extractionPlan, error) {
	p := &extractionPlan{
		byPath: make(map[string]planned),
		result: Result{Skipped: make(map[string]int)},
	}
	order := make([]string, 0)

	err := src.each(ctx, func(h header, _ func() (io.ReadCloser, error)) error {
		if h.dir {
			return nil
		}
		rel, err := cleanEntryName(h.name)
		if err != nil {
			return err
		}
		if !h.regular {
			e.reject(p, rel, "not_regular")
			return nil
		}
		if excluded, reason := e.policy.Excluded(rel); excluded {
			e.reject(p, rel, reason)
			return nil
		}
		if !e.policy.Includes(rel) {
			e.reject(p, rel, "extension")
			return nil
		}
		if h.size > e.policy.MaxFileBytes {
			e.reject(p, rel, "too_large")
			return nil
		}

		prev, dup := p.byPath[rel]
		total := p.result.TotalBytes + h.size
		count := len(p.byPath)
		if dup {
			total -= prev.entry.Size
		} else {
			count++
		}
		if count > e.policy.MaxFiles {
			return model.NewError(model.KindPolicyViolation, "extract", "archive has more than %d accepted files", e.policy.MaxFiles)
		}
		if total > e.policy.MaxTotalBytes {
			return model.NewError(model.KindPolicyViolation, "extract", "archive exceeds %d total bytes", e.policy.MaxTotalBytes)
		}

		if !dup {
			order = append(order, rel)
		}
		p.byPath[rel] = planned{
			ordinal: h.ordinal,
			entry: Entry{
				RelativePath: rel,
				Size:         h.size,
				Extension:    strings.ToLower(path.Ext(rel)),
			},
		}
		p.result.TotalBytes = total
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.result.Entries = make([]Entry, 0, len(order))
	for _, rel := range order {
		p.result.Entries = append(p.result.Entries, p.byPath[rel].entry)
	}
	return p, nil
}

func (e *Extractor) reject(p *extractionPlan, rel, reason string) {
	p.result.Skipped[reason]++
	e.logger.Debug("extract.entry.rejected", "path", rel, "reason", reason)
}

func (e *Extractor) write(ctx context.Context, src archiveSource, dest string, p *extractionPlan) error {
	return src.each(ctx, func(h header, open func() (io.ReadCloser, error)) error {
		if h.dir || !h.regular {
			return nil
		}
		rel, err := cleanEntryName(h.name)
		if err != nil {
			return err
		}
		want, ok := p.byPath[rel]
		if !ok || want.ordinal != h.ordinal {
			return nil
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !withinRoot(dest, target) {
			return model.NewError(model.KindPolicyViolation, "extract", "path traversal: %s", h.name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return model.WrapError(model.KindIO, "extract.mkdir", err)
		}

		rc, err := open()
		if err != nil {
			return model.WrapError(model.KindArchiveCorrupt, "extract.open_entry", err)
		}
		defer func() { _ = rc.Close() }()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return model.WrapError(model.KindIO, "extract.create", err)
		}
		n, copyErr := io.Copy(out, io.LimitReader(rc, want.entry.Size+1))
		closeErr := out.Close()
		if copyErr != nil {
			return model.WrapError(model.KindArchiveCorrupt, "extract.read_entry", copyErr)
		}
		if closeErr != nil {
			return model.WrapError(model.KindIO, "extract.close", closeErr)
		}
		if n != want.entry.Size {
			return model.NewError(model.KindArchiveCorrupt, "extract", "entry %s: declared %d bytes, read %d", rel, want.entry.Size, n)
		}
		return nil
	})
}

// cleanEntryName normalizes an archive member name into a relative slash path.
// Absolute names and names escaping the root are a policy violation.
func cleanEntryName(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(n, "/") || (len(n) >= 2 && n[1] == ':') {
		return "", model.NewError(model.KindPolicyViolation, "extract", "path traversal: %s", name)
	}
	cleaned := path.Clean(n)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", model.NewError(model.KindPolicyViolation, "extract", "path traversal: %s", name)
	}
	cleaned = strings.TrimPrefix(cleaned, "./")
	if cleaned == "." || cleaned == "" {
		return "", model.NewError(model.KindArchiveCorrupt, "extract", "empty entry name")
	}
	return cleaned, nil
}

// SafeJoin resolves the relative slash path name below root with the same
// rules as archive entries: absolute paths and escapes are a policy
// violation.
func SafeJoin(root, name string) (string, error) {
	clean, err := cleanEntryName(name)
	if err != nil {
		return "", err
	}
	p := filepath.Join(root, filepath.FromSlash(clean))
	if !withinRoot(root, p) {
		return "", model.NewError(model.KindPolicyViolation, "extract", "path escapes %s: %s", root, name)
	}
	return p, nil
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// String renders a short summary for logs.
func (r *Result) String() string {
	return fmt.Sprintf("%s: %d entries, %d bytes", r.Format, len(r.Entries), r.TotalBytes)
}
