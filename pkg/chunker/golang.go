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
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/kraklabs/morph/pkg/model"
)

func init() {
	register(&language{
		name:     "go",
		grammar:  func(string) *sitter.Language { return golang.GetLanguage() },
		visit:    visitGo,
		wrappers: map[string]bool{},
		branch:   goBranch,
		imports:  goImports,
	})
}

func visitGo(w *walker, n *sitter.Node, s scope) bool {
	switch n.Type() {
	case "function_declaration":
		name := w.field(n, "name")
		w.emit(emission{
			span: n,
			typ:  model.ChunkFunction,
			name: name,
			meta: goDeclMeta(name, s.top, w.goParameters(n.ChildByFieldName("parameters"))),
		})

	case "method_declaration":
		method := w.field(n, "name")
		name := method
		if recv := extractReceiverType(n.ChildByFieldName("receiver"), w.src); recv != "" {
			name = recv + "." + method
		}
		meta := goDeclMeta(method, false, w.goParameters(n.ChildByFieldName("parameters")))
		w.emit(emission{span: n, typ: model.ChunkMethod, name: name, meta: meta})

	case "type_declaration":
		specs := namedChildrenOfType(n, "type_spec", "type_alias")
		for _, spec := range specs {
			span := spec
			if len(specs) == 1 {
				span = n
			}
			name := w.field(spec, "name")
			w.emit(emission{
				span: span,
				decl: spec,
				typ:  goTypeKind(spec.ChildByFieldName("type")),
				name: name,
				meta: goDeclMeta(name, s.top, nil),
			})
		}
		return false

	case "import_declaration":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkImport, name: "imports"})
		}
		return false

	case "var_declaration", "const_declaration":
		if !s.top {
			return true
		}
		names := w.goSpecNames(n)
		typ := model.ChunkVariable
		if n.Type() == "const_declaration" && strings.Contains(w.text(n), "iota") {
			typ = model.ChunkEnum
		}
		var first string
		if len(names) > 0 {
			first = names[0]
		}
		meta := goDeclMeta(first, true, nil)
		meta.Exports = nil
		for _, name := range names {
			if isExportedGo(name) {
				meta.Exports = append(meta.Exports, name)
			}
		}
		w.emit(emission{span: n, typ: typ, name: first, meta: meta})
		return false
	}
	return true
}

func goDeclMeta(name string, top bool, params []model.Parameter) model.ChunkMetadata {
	meta := model.ChunkMetadata{Visibility: model.VisibilityPrivate, Parameters: params}
	if isExportedGo(name) {
		meta.Visibility = model.VisibilityPublic
		if top {
			meta.Exports = []string{name}
		}
	}
	return meta
}

func isExportedGo(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func goTypeKind(typeNode *sitter.Node) model.ChunkType {
	if typeNode != nil && typeNode.Type() == "interface_type" {
		return model.ChunkInterface
	}
	return model.ChunkTypeDecl
}

// goSpecNames lists the identifiers declared by a var or const declaration.
func (w *walker) goSpecNames(n *sitter.Node) []string {
	var names []string
	var collect func(*sitter.Node)
	collect = func(node *sitter.Node) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "var_spec", "const_spec":
				for j := 0; j < int(child.NamedChildCount()); j++ {
					id := child.NamedChild(j)
					if id.Type() != "identifier" {
						break
					}
					names = append(names, w.text(id))
				}
			case "var_spec_list", "const_spec_list":
				collect(child)
			}
		}
	}
	collect(n)
	return names
}

// goParameters flattens a parameter_list; "a, b int" yields two parameters.
func (w *walker) goParameters(list *sitter.Node) []model.Parameter {
	if list == nil {
		return nil
	}
	var params []model.Parameter
	for i := 0; i < int(list.NamedChildCount()); i++ {
		decl := list.NamedChild(i)
		switch decl.Type() {
		case "parameter_declaration", "variadic_parameter_declaration":
		default:
			continue
		}
		typ := w.field(decl, "type")
		if decl.Type() == "variadic_parameter_declaration" {
			typ = "..." + typ
		}
		var names []string
		for j := 0; j < int(decl.NamedChildCount()); j++ {
			if id := decl.NamedChild(j); id.Type() == "identifier" {
				names = append(names, w.text(id))
			}
		}
		if len(names) == 0 {
			params = append(params, model.Parameter{Name: "_", Type: typ})
			continue
		}
		for _, name := range names {
			params = append(params, model.Parameter{Name: name, Type: typ})
		}
	}
	return params
}

// extractReceiverType extracts the type name from a receiver parameter list.
// e.g., from "(s *Server)" extracts "Server", from "(s Server[T])" extracts "Server"
func extractReceiverType(receiver *sitter.Node, src []byte) string {
	if receiver == nil {
		return ""
	}
	for i := 0; i < int(receiver.NamedChildCount()); i++ {
		child := receiver.NamedChild(i)
		if child.Type() == "parameter_declaration" {
			return baseTypeName(child.ChildByFieldName("type"), src)
		}
	}
	return ""
}

// baseTypeName strips pointers and type arguments: *Server[T] -> Server.
func baseTypeName(typeNode *sitter.Node, src []byte) string {
	if typeNode == nil {
		return ""
	}
	switch typeNode.Type() {
	case "pointer_type":
		if typeNode.NamedChildCount() > 0 {
			return baseTypeName(typeNode.NamedChild(0), src)
		}
	case "generic_type":
		if inner := typeNode.ChildByFieldName("type"); inner != nil {
			return string(src[inner.StartByte():inner.EndByte()])
		}
	case "type_identifier":
		return string(src[typeNode.StartByte():typeNode.EndByte()])
	}
	name := strings.TrimPrefix(string(src[typeNode.StartByte():typeNode.EndByte()]), "*")
	if idx := strings.Index(name, "["); idx > 0 {
		name = name[:idx]
	}
	return name
}

func goBranch(n *sitter.Node, _ []byte) bool {
	switch n.Type() {
	case "if_statement", "for_statement", "expression_case", "type_case",
		"communication_case", "select_statement", "expression_switch_statement", "type_switch_statement":
		return true
	case "binary_expression":
		op := binaryOperator(n)
		return op == "&&" || op == "||"
	}
	return false
}

func goImports(n *sitter.Node, src []byte) []string {
	if n.Type() != "import_spec" {
		return nil
	}
	p := n.ChildByFieldName("path")
	if p == nil {
		return nil
	}
	return []string{unquote(string(src[p.StartByte():p.EndByte()]))}
}
