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

// Package chunker splits source files into semantic chunks using tree-sitter.
//
// Supported languages are Go, Python, JavaScript (including JSX) and
// TypeScript (including TSX). The tree is walked depth-first in source order and
// every node whose kind is chunkable for its language becomes a chunk. Nested
// declarations are emitted as their own chunks after their parent.
//
// A file that does not parse cleanly still yields one "block" chunk covering
// the whole file, returned together with a *ParseError.
package chunker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/morph/pkg/model"
)

// ParseError reports that a file contains syntax errors. ByteOffset is the
// start of the first error node.
type ParseError struct {
	Path       string
	ByteOffset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s at byte %d", e.Path, e.ByteOffset)
}

// Is makes errors.Is(err, model.ErrParse) hold.
func (e *ParseError) Is(target error) bool {
	return target == model.ErrParse
}

// Input is one file to chunk.
type Input struct {
	JobID     string
	SessionID string
	UserID    string
	// FilePath is workspace-relative.
	FilePath string
	Content  []byte
	// Language is the classifier label ("go", "python", "javascript", "typescript").
	Language string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithChunkableTypes restricts the emitted chunk types per language. Languages
// missing from the map emit every type. The block fallback is always allowed.
func WithChunkableTypes(byLanguage map[string][]model.ChunkType) Option {
	return func(c *Chunker) {
		c.allowed = make(map[string]map[model.ChunkType]bool, len(byLanguage))
		for lang, types := range byLanguage {
			set := make(map[model.ChunkType]bool, len(types)+1)
			for _, t := range types {
				set[t] = true
			}
			set[model.ChunkBlock] = true
			c.allowed[strings.ToLower(lang)] = set
		}
	}
}

// Chunker is safe for concurrent use; each call builds its own parser.
type Chunker struct {
	logger  *slog.Logger
	allowed map[string]map[model.ChunkType]bool
}

// New creates a chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supports reports whether a grammar is registered for language.
func (c *Chunker) Supports(language string) bool {
	_, ok := languages[strings.ToLower(language)]
	return ok
}

// Languages lists the supported language labels.
func Languages() []string {
	return []string{"go", "javascript", "python", "typescript"}
}

// Chunk parses one file. It returns model.ErrUnsupportedLanguage for unknown
// languages and for content that is not valid UTF-8 text. On syntax errors it
// returns a single block chunk and a *ParseError.
func (c *Chunker) Chunk(ctx context.Context, in Input) ([]model.Chunk, error) {
	lang, ok := languages[strings.ToLower(in.Language)]
	if !ok {
		return nil, model.NewError(model.KindUnsupportedLanguage, "chunker", "no grammar for language %q", in.Language)
	}
	if !isText(in.Content) {
		return nil, model.NewError(model.KindUnsupportedLanguage, "chunker", "%s is not UTF-8 text", in.FilePath)
	}
	if len(bytes.TrimSpace(in.Content)) == 0 {
		return nil, nil
	}

	tree, err := parse(ctx, lang.grammar(in.FilePath), in.Content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	w := newWalker(lang, in, c.allowed[lang.name])

	if root.HasError() {
		offset := firstErrorOffset(root)
		c.logger.Warn("chunker.syntax_error", "path", in.FilePath, "language", lang.name, "byte_offset", offset)
		return []model.Chunk{w.wholeFile()}, &ParseError{Path: in.FilePath, ByteOffset: offset}
	}

	w.walkRoot(root)
	if len(w.chunks) == 0 {
		return []model.Chunk{w.wholeFile()}, nil
	}
	return w.chunks, nil
}

// SyntaxReport is the result of CheckSyntax.
type SyntaxReport struct {
	Supported   bool
	Valid       bool
	ErrorOffset int
}

// CheckSyntax parses src and reports whether the tree is free of error nodes.
// Unsupported languages return a report with Supported=false and no error.
func CheckSyntax(ctx context.Context, language, filename string, src []byte) (SyntaxReport, error) {
	lang, ok := languages[strings.ToLower(language)]
	if !ok {
		return SyntaxReport{ErrorOffset: -1}, nil
	}
	tree, err := parse(ctx, lang.grammar(filename), src)
	if err != nil {
		return SyntaxReport{Supported: true, ErrorOffset: -1}, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return SyntaxReport{Supported: true, ErrorOffset: firstErrorOffset(root)}, nil
	}
	return SyntaxReport{Supported: true, Valid: true, ErrorOffset: -1}, nil
}

func parse(ctx context.Context, grammar *sitter.Language, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	if grammar != nil {
		parser.SetLanguage(grammar)
	}

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.WrapError(model.KindParseError, "chunker.parse", err)
	}
	return tree, nil
}

func isText(src []byte) bool {
	return utf8.Valid(src) && bytes.IndexByte(src, 0) < 0
}

// firstErrorOffset returns the start byte of the first ERROR or MISSING node
// in source order.
func firstErrorOffset(n *sitter.Node) int {
	if n == nil {
		return -1
	}
	if n.IsError() || n.IsMissing() {
		return int(n.StartByte())
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || !(child.HasError() || child.IsMissing()) {
			continue
		}
		if off := firstErrorOffset(child); off >= 0 {
			return off
		}
	}
	return int(n.StartByte())
}

func fileParts(filePath string) (name, ext string) {
	name = path.Base(model.NormalizePath(filePath))
	return name, strings.ToLower(path.Ext(name))
}
