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

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/kraklabs/morph/pkg/model"
)

func init() {
	register(&language{
		name:     "python",
		grammar:  func(string) *sitter.Language { return python.GetLanguage() },
		visit:    visitPython,
		wrappers: map[string]bool{"decorated_definition": true},
		classBody: func(n *sitter.Node) bool {
			if n.Type() != "block" {
				return false
			}
			p := n.Parent()
			return p != nil && p.Type() == "class_definition"
		},
		branch:  pythonBranch,
		imports: pythonImports,
	})
}

var pythonEnumBases = map[string]bool{
	"Enum": true, "IntEnum": true, "StrEnum": true, "Flag": true, "IntFlag": true,
	"enum.Enum": true, "enum.IntEnum": true, "enum.StrEnum": true, "enum.Flag": true, "enum.IntFlag": true,
}

func visitPython(w *walker, n *sitter.Node, s scope) bool {
	switch n.Type() {
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			w.emitPythonDef(n, def, s, w.pythonDecorators(n))
		}

	case "function_definition", "class_definition":
		w.emitPythonDef(n, n, s, nil)

	case "import_statement", "import_from_statement", "future_import_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkImport, name: firstOr(pythonImports(n, w.src), "")})
		}
		return false

	case "expression_statement":
		if !s.top {
			return true
		}
		assign := n.NamedChild(0)
		if assign == nil || assign.Type() != "assignment" {
			return true
		}
		name := w.field(assign, "left")
		meta := model.ChunkMetadata{Visibility: pythonVisibility(name)}
		if name == "__all__" {
			meta.Exports = w.pythonStringList(assign.ChildByFieldName("right"))
		}
		w.emit(emission{span: n, typ: model.ChunkVariable, name: name, meta: meta})
		return false

	case "if_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkConditional})
		}
	case "for_statement", "while_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkLoop})
		}
	case "try_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkTryCatch})
		}
	case "match_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkSwitch})
		}
	}
	return true
}

func (w *walker) emitPythonDef(span, def *sitter.Node, s scope, decorators []string) {
	name := w.field(def, "name")
	meta := model.ChunkMetadata{Visibility: pythonVisibility(name)}
	if doc := w.pythonDocstring(def); doc != "" {
		meta.Comments = []string{doc}
	}

	switch def.Type() {
	case "class_definition":
		typ := model.ChunkClass
		for _, base := range namedChildrenOfType(def.ChildByFieldName("superclasses"), "identifier", "attribute") {
			if pythonEnumBases[w.text(base)] {
				typ = model.ChunkEnum
			}
		}
		w.emit(emission{span: span, decl: def, typ: typ, name: name, meta: meta})

	case "function_definition":
		meta.IsAsync = hasToken(def, "async")
		meta.IsGenerator = containsPythonYield(def.ChildByFieldName("body"))
		for _, d := range decorators {
			if d == "staticmethod" || d == "classmethod" {
				meta.IsStatic = true
			}
		}
		meta.Parameters = w.pythonParameters(def.ChildByFieldName("parameters"), s.member && !meta.IsStatic)
		if rt := w.field(def, "return_type"); rt != "" {
			meta.Parameters = append(meta.Parameters, model.Parameter{Name: "return", Type: rt})
		}

		typ := model.ChunkFunction
		switch {
		case s.member:
			typ = model.ChunkMethod
		case meta.IsGenerator:
			typ = model.ChunkGenerator
		case meta.IsAsync:
			typ = model.ChunkAsyncFunction
		}
		w.emit(emission{span: span, decl: def, typ: typ, name: name, meta: meta})
	}
}

func pythonVisibility(name string) model.Visibility {
	switch {
	case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
		return model.VisibilityPublic
	case strings.HasPrefix(name, "__"):
		return model.VisibilityPrivate
	case strings.HasPrefix(name, "_"):
		return model.VisibilityProtected
	}
	return model.VisibilityPublic
}

func (w *walker) pythonDecorators(n *sitter.Node) []string {
	var out []string
	for _, d := range namedChildrenOfType(n, "decorator") {
		text := strings.TrimPrefix(strings.TrimSpace(w.text(d)), "@")
		if i := strings.IndexByte(text, '('); i >= 0 {
			text = text[:i]
		}
		out = append(out, text)
	}
	return out
}

// pythonParameters lists declared parameters. dropReceiver removes a leading
// self or cls.
func (w *walker) pythonParameters(list *sitter.Node, dropReceiver bool) []model.Parameter {
	if list == nil {
		return nil
	}
	var params []model.Parameter
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		var param model.Parameter
		switch p.Type() {
		case "identifier":
			param.Name = w.text(p)
		case "typed_parameter":
			if id := p.NamedChild(0); id != nil {
				param.Name = w.text(id)
			}
			param.Type = w.field(p, "type")
		case "default_parameter":
			param.Name = w.field(p, "name")
		case "typed_default_parameter":
			param.Name = w.field(p, "name")
			param.Type = w.field(p, "type")
		case "list_splat_pattern", "dictionary_splat_pattern":
			param.Name = w.text(p)
		default:
			continue
		}
		if dropReceiver && len(params) == 0 && i == 0 && (param.Name == "self" || param.Name == "cls") {
			continue
		}
		params = append(params, param)
	}
	return params
}

func (w *walker) pythonDocstring(def *sitter.Node) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return strings.TrimSpace(strings.Trim(w.text(str), "\"'"))
}

func (w *walker) pythonStringList(n *sitter.Node) []string {
	var out []string
	for _, s := range namedChildrenOfType(n, "string") {
		out = append(out, unquote(w.text(s)))
	}
	return out
}

// containsPythonYield looks for yield in a function body, ignoring nested scopes.
func containsPythonYield(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "yield":
			return true
		case "function_definition", "lambda", "class_definition":
			continue
		}
		if containsPythonYield(child) {
			return true
		}
	}
	return false
}

func pythonBranch(n *sitter.Node, _ []byte) bool {
	switch n.Type() {
	case "if_statement", "elif_clause", "for_statement", "while_statement", "try_statement",
		"except_clause", "conditional_expression", "boolean_operator", "match_statement", "case_clause":
		return true
	}
	return false
}

func pythonImports(n *sitter.Node, src []byte) []string {
	text := func(x *sitter.Node) string { return string(src[x.StartByte():x.EndByte()]) }
	switch n.Type() {
	case "import_statement":
		var out []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				out = append(out, text(child))
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					out = append(out, text(name))
				}
			}
		}
		return out
	case "import_from_statement":
		if m := n.ChildByFieldName("module_name"); m != nil {
			return []string{text(m)}
		}
	case "future_import_statement":
		return []string{"__future__"}
	}
	return nil
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 {
		return values[0]
	}
	return fallback
}
