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

package chunker

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/morph/pkg/model"
)

// maxComplexity caps metadata.complexity.
const maxComplexity = 10

// language describes how one grammar maps onto chunks.
type language struct {
	name    string
	grammar func(filePath string) *sitter.Language

	// visit inspects n and may emit chunks. It returns false to stop the walker
	// from descending into n.
	visit func(w *walker, n *sitter.Node, s scope) bool

	// wrappers pass their scope through to their children unchanged.
	wrappers map[string]bool

	// classBody reports whether n is the member list of a class-like node.
	classBody func(n *sitter.Node) bool

	// branch reports whether n adds a decision point.
	branch func(n *sitter.Node, src []byte) bool

	// imports returns the import targets n declares, if it is import-like.
	imports func(n *sitter.Node, src []byte) []string
}

var languages = map[string]*language{}

func register(l *language) {
	languages[l.name] = l
}

// scope is the position of a node relative to the file and to classes.
type scope struct {
	top    bool // direct child of the root, possibly through wrappers
	member bool // direct member of a class body
}

type nodeKey struct {
	start, end uint32
	kind       string
}

func keyOf(n *sitter.Node) nodeKey {
	return nodeKey{start: n.StartByte(), end: n.EndByte(), kind: n.Type()}
}

type walker struct {
	lang    *language
	in      Input
	src     []byte
	allowed map[model.ChunkType]bool

	fileName string
	fileExt  string
	filePath string

	chunks []model.Chunk
	spans  map[[2]int]bool
	// consumed holds declarations already emitted through a wrapper.
	consumed map[nodeKey]bool
}

func newWalker(lang *language, in Input, allowed map[model.ChunkType]bool) *walker {
	name, ext := fileParts(in.FilePath)
	return &walker{
		lang:     lang,
		in:       in,
		src:      in.Content,
		allowed:  allowed,
		fileName: name,
		fileExt:  ext,
		filePath: model.NormalizePath(in.FilePath),
		spans:    make(map[[2]int]bool),
		consumed: make(map[nodeKey]bool),
	}
}

func (w *walker) walk(n *sitter.Node, s scope) {
	if n == nil {
		return
	}
	descend := true
	if !w.consumed[keyOf(n)] {
		descend = w.lang.visit(w, n, s)
	}
	if descend {
		w.walkChildren(n, s)
	}
}

// walkRoot visits the top-level declarations of a file.
func (w *walker) walkRoot(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		w.walk(root.NamedChild(i), scope{top: true})
	}
}

func (w *walker) walkChildren(n *sitter.Node, s scope) {
	var child scope
	switch {
	case w.lang.wrappers[n.Type()]:
		child = s
	case w.lang.classBody != nil && w.lang.classBody(n):
		child = scope{member: true}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), child)
	}
}

// emission describes one chunk. span is the source range; decl carries the
// name, parameters and body (it differs from span for export and decorator
// wrappers).
type emission struct {
	span *sitter.Node
	decl *sitter.Node
	typ  model.ChunkType
	name string
	meta model.ChunkMetadata
}

func (w *walker) emit(e emission) {
	if e.decl == nil {
		e.decl = e.span
	}
	if w.allowed != nil && !w.allowed[e.typ] {
		return
	}
	start, end := int(e.span.StartByte()), int(e.span.EndByte())
	if w.spans[[2]int{start, end}] {
		return
	}
	w.spans[[2]int{start, end}] = true
	if e.decl != e.span {
		w.consumed[keyOf(e.decl)] = true
	}

	sp, ep := e.span.StartPoint(), e.span.EndPoint()
	if e.name == "" {
		e.name = fmt.Sprintf("%s@%d:%d", e.typ, sp.Row+1, sp.Column+1)
	}

	meta := e.meta
	meta.Complexity = w.complexity(e.decl)
	if meta.Dependencies == nil {
		meta.Dependencies = w.dependencies(e.span)
	}
	meta.Comments = append(w.leadingComments(e.span), meta.Comments...)

	w.chunks = append(w.chunks, model.Chunk{
		ID:            model.GenerateChunkID(w.in.JobID, w.filePath, start, end),
		JobID:         w.in.JobID,
		SessionID:     w.in.SessionID,
		UserID:        w.in.UserID,
		FilePath:      w.filePath,
		FileName:      w.fileName,
		FileExtension: w.fileExt,
		Language:      w.lang.name,
		ChunkType:     e.typ,
		ChunkName:     e.name,
		Content:       string(w.src[start:end]),
		StartLine:     int(sp.Row) + 1,
		EndLine:       int(ep.Row) + 1,
		StartColumn:   int(sp.Column) + 1,
		EndColumn:     int(ep.Column) + 1,
		StartByte:     start,
		EndByte:       end,
		Metadata:      meta,
	})
}

// wholeFile is the single block chunk used for unparsable or declaration-free files.
func (w *walker) wholeFile() model.Chunk {
	lines := strings.Count(string(w.src), "\n")
	lastLine := w.src
	if i := strings.LastIndexByte(string(w.src), '\n'); i >= 0 {
		lastLine = w.src[i+1:]
	}
	endLine := lines + 1
	if len(lastLine) == 0 && lines > 0 {
		endLine = lines
	}
	return model.Chunk{
		ID:            model.GenerateChunkID(w.in.JobID, w.filePath, 0, len(w.src)),
		JobID:         w.in.JobID,
		SessionID:     w.in.SessionID,
		UserID:        w.in.UserID,
		FilePath:      w.filePath,
		FileName:      w.fileName,
		FileExtension: w.fileExt,
		Language:      w.lang.name,
		ChunkType:     model.ChunkBlock,
		ChunkName:     w.fileName,
		Content:       string(w.src),
		StartLine:     1,
		EndLine:       endLine,
		StartColumn:   1,
		EndColumn:     len(lastLine) + 1,
		StartByte:     0,
		EndByte:       len(w.src),
		Metadata:      model.ChunkMetadata{Complexity: 1},
	}
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(w.src[n.StartByte():n.EndByte()])
}

func (w *walker) field(n *sitter.Node, name string) string {
	if n == nil {
		return ""
	}
	return w.text(n.ChildByFieldName(name))
}

// hasToken reports whether n has an anonymous child token with the given text.
func hasToken(n *sitter.Node, token string) bool {
	if n == nil {
		return false
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child != nil && !child.IsNamed() && child.Type() == token {
			return true
		}
	}
	return false
}

func namedChildrenOfType(n *sitter.Node, types ...string) []*sitter.Node {
	var out []*sitter.Node
	if n == nil {
		return out
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		for _, t := range types {
			if child.Type() == t {
				out = append(out, child)
				break
			}
		}
	}
	return out
}

func (w *walker) complexity(n *sitter.Node) int {
	count := 1
	var visit func(*sitter.Node)
	visit = func(node *sitter.Node) {
		if count >= maxComplexity {
			return
		}
		if w.lang.branch(node, w.src) {
			count++
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			visit(node.NamedChild(i))
		}
	}
	visit(n)
	if count > maxComplexity {
		count = maxComplexity
	}
	return count
}

// dependencies collects import targets declared anywhere inside n, deduplicated
// in source order.
func (w *walker) dependencies(n *sitter.Node) []string {
	var deps []string
	seen := make(map[string]bool)
	var visit func(*sitter.Node)
	visit = func(node *sitter.Node) {
		for _, d := range w.lang.imports(node, w.src) {
			if d != "" && !seen[d] {
				seen[d] = true
				deps = append(deps, d)
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			visit(node.NamedChild(i))
		}
	}
	visit(n)
	return deps
}

// leadingComments returns the comment block directly above n.
func (w *walker) leadingComments(n *sitter.Node) []string {
	var out []string
	cur := n
	for {
		prev := cur.PrevNamedSibling()
		if prev == nil || prev.IsNull() || prev.Type() != "comment" {
			break
		}
		if prev.EndPoint().Row+1 < cur.StartPoint().Row {
			break
		}
		out = append([]string{strings.TrimSpace(w.text(prev))}, out...)
		cur = prev
	}
	return out
}

// binaryOperator returns the operator token of a binary expression.
func binaryOperator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child != nil && !child.IsNamed() {
			return child.Type()
		}
	}
	return ""
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}
