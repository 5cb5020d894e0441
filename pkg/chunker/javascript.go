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
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/kraklabs/morph/pkg/model"
)

func init() {
	shared := func(name string, grammar func(string) *sitter.Language) *language {
		return &language{
			name:      name,
			grammar:   grammar,
			visit:     visitJS,
			wrappers:  map[string]bool{"export_statement": true},
			classBody: func(n *sitter.Node) bool { return n.Type() == "class_body" },
			branch:    jsBranch,
			imports:   jsImports,
		}
	}
	register(shared("javascript", func(string) *sitter.Language { return javascript.GetLanguage() }))
	register(shared("typescript", func(filePath string) *sitter.Language {
		if strings.EqualFold(path.Ext(filePath), ".tsx") {
			return tsx.GetLanguage()
		}
		return typescript.GetLanguage()
	}))
}

func visitJS(w *walker, n *sitter.Node, s scope) bool {
	switch n.Type() {
	case "export_statement":
		isDefault := hasToken(n, "default")
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			w.emitJSDecl(n, decl, s, true, isDefault)
			return true
		}
		if value := n.ChildByFieldName("value"); value != nil && jsFunctionType(value) != "" {
			w.emitJSFunctionValue(n, value, "default", true, true)
			return true
		}
		exports := w.jsExportNames(n)
		if isDefault {
			exports = append(exports, "default")
		}
		w.emit(emission{
			span: n,
			typ:  model.ChunkExport,
			name: strings.Join(exports, ","),
			meta: model.ChunkMetadata{Visibility: model.VisibilityPublic, Exports: exports},
		})
		return true

	case "function_declaration", "generator_function_declaration",
		"class_declaration", "abstract_class_declaration",
		"interface_declaration", "type_alias_declaration", "enum_declaration",
		"lexical_declaration", "variable_declaration":
		w.emitJSDecl(n, n, s, false, false)

	case "method_definition":
		w.emitJSMethod(n)

	case "import_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkImport, name: firstOr(jsImports(n, w.src), "")})
		}
		return false

	case "expression_statement":
		if s.top {
			if target := w.commonJSExport(n); target != "" {
				w.emit(emission{
					span: n,
					typ:  model.ChunkExport,
					name: target,
					meta: model.ChunkMetadata{Visibility: model.VisibilityPublic, Exports: []string{target}},
				})
			}
		}

	case "if_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkConditional})
		}
	case "for_statement", "for_in_statement", "while_statement", "do_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkLoop})
		}
	case "try_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkTryCatch})
		}
	case "switch_statement":
		if s.top {
			w.emit(emission{span: n, typ: model.ChunkSwitch})
		}
	}
	return true
}

func jsVisibility(exported bool) model.Visibility {
	if exported {
		return model.VisibilityPublic
	}
	return model.VisibilityPrivate
}

func (w *walker) emitJSDecl(span, decl *sitter.Node, s scope, exported, isDefault bool) {
	name := w.field(decl, "name")
	meta := model.ChunkMetadata{Visibility: jsVisibility(exported)}
	if exported {
		switch {
		case isDefault:
			meta.Exports = []string{"default"}
		case name != "":
			meta.Exports = []string{name}
		}
	}

	switch decl.Type() {
	case "function_declaration", "generator_function_declaration":
		meta.IsAsync = hasToken(decl, "async")
		meta.IsGenerator = decl.Type() == "generator_function_declaration"
		meta.Parameters = w.jsParameters(decl)
		typ := model.ChunkFunction
		switch {
		case meta.IsGenerator:
			typ = model.ChunkGenerator
		case meta.IsAsync:
			typ = model.ChunkAsyncFunction
		}
		w.emit(emission{span: span, decl: decl, typ: typ, name: name, meta: meta})

	case "class_declaration", "abstract_class_declaration":
		w.emit(emission{span: span, decl: decl, typ: model.ChunkClass, name: name, meta: meta})
	case "interface_declaration":
		w.emit(emission{span: span, decl: decl, typ: model.ChunkInterface, name: name, meta: meta})
	case "type_alias_declaration":
		w.emit(emission{span: span, decl: decl, typ: model.ChunkTypeDecl, name: name, meta: meta})
	case "enum_declaration":
		w.emit(emission{span: span, decl: decl, typ: model.ChunkEnum, name: name, meta: meta})

	case "lexical_declaration", "variable_declaration":
		if !s.top {
			return
		}
		declarators := namedChildrenOfType(decl, "variable_declarator")
		if len(declarators) == 0 {
			return
		}
		first := declarators[0]
		varName := w.field(first, "name")
		if value := first.ChildByFieldName("value"); len(declarators) == 1 && value != nil && jsFunctionType(value) != "" {
			w.consumed[keyOf(decl)] = true
			w.emitJSFunctionValue(span, value, varName, exported, false)
			return
		}
		if exported && !isDefault {
			meta.Exports = nil
			for _, d := range declarators {
				meta.Exports = append(meta.Exports, w.field(d, "name"))
			}
		}
		w.emit(emission{span: span, decl: decl, typ: model.ChunkVariable, name: varName, meta: meta})
	}
}

// jsFunctionType returns the chunk type for a function-valued expression, or "".
func jsFunctionType(value *sitter.Node) model.ChunkType {
	switch value.Type() {
	case "arrow_function":
		return model.ChunkArrowFunction
	case "function", "function_expression":
		if hasToken(value, "async") {
			return model.ChunkAsyncFunction
		}
		return model.ChunkFunction
	case "generator_function":
		return model.ChunkGenerator
	}
	return ""
}

func (w *walker) emitJSFunctionValue(span, value *sitter.Node, name string, exported, isDefault bool) {
	meta := model.ChunkMetadata{
		Visibility:  jsVisibility(exported),
		IsAsync:     hasToken(value, "async"),
		IsGenerator: value.Type() == "generator_function",
		Parameters:  w.jsParameters(value),
	}
	if exported {
		meta.Exports = []string{name}
		if isDefault {
			meta.Exports = []string{"default"}
		}
	}
	w.emit(emission{span: span, decl: value, typ: jsFunctionType(value), name: name, meta: meta})
}

func (w *walker) emitJSMethod(n *sitter.Node) {
	name := w.field(n, "name")
	meta := model.ChunkMetadata{
		IsAsync:     hasToken(n, "async"),
		IsStatic:    hasToken(n, "static"),
		IsGenerator: hasToken(n, "*"),
		Visibility:  model.VisibilityPublic,
		Parameters:  w.jsParameters(n),
	}
	if strings.HasPrefix(name, "#") {
		meta.Visibility = model.VisibilityPrivate
	}
	for _, mod := range namedChildrenOfType(n, "accessibility_modifier") {
		switch w.text(mod) {
		case "private":
			meta.Visibility = model.VisibilityPrivate
		case "protected":
			meta.Visibility = model.VisibilityProtected
		}
	}
	w.emit(emission{span: n, typ: model.ChunkMethod, name: name, meta: meta})
}

func (w *walker) jsParameters(fn *sitter.Node) []model.Parameter {
	if single := fn.ChildByFieldName("parameter"); single != nil {
		return []model.Parameter{{Name: w.text(single)}}
	}
	list := fn.ChildByFieldName("parameters")
	if list == nil {
		return nil
	}
	var params []model.Parameter
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		var param model.Parameter
		switch p.Type() {
		case "identifier", "rest_pattern", "object_pattern", "array_pattern":
			param.Name = w.text(p)
		case "assignment_pattern":
			param.Name = w.field(p, "left")
		case "required_parameter", "optional_parameter":
			param.Name = w.field(p, "pattern")
			if p.Type() == "optional_parameter" {
				param.Name += "?"
			}
			param.Type = strings.TrimSpace(strings.TrimPrefix(w.field(p, "type"), ":"))
		default:
			continue
		}
		params = append(params, param)
	}
	return params
}

func (w *walker) jsExportNames(n *sitter.Node) []string {
	var out []string
	for _, clause := range namedChildrenOfType(n, "export_clause") {
		for _, spec := range namedChildrenOfType(clause, "export_specifier") {
			name := w.field(spec, "alias")
			if name == "" {
				name = w.field(spec, "name")
			}
			out = append(out, name)
		}
	}
	if len(out) == 0 && n.ChildByFieldName("source") != nil {
		out = append(out, "*")
	}
	return out
}

// commonJSExport returns the assignment target of module.exports / exports.x statements.
func (w *walker) commonJSExport(n *sitter.Node) string {
	assign := n.NamedChild(0)
	if assign == nil || assign.Type() != "assignment_expression" {
		return ""
	}
	left := w.field(assign, "left")
	if left == "module.exports" || strings.HasPrefix(left, "module.exports.") || strings.HasPrefix(left, "exports.") {
		return left
	}
	return ""
}

func jsBranch(n *sitter.Node, _ []byte) bool {
	switch n.Type() {
	case "if_statement", "for_statement", "for_in_statement", "while_statement", "do_statement",
		"switch_statement", "switch_case", "try_statement", "catch_clause", "ternary_expression":
		return true
	case "binary_expression":
		op := binaryOperator(n)
		return op == "&&" || op == "||" || op == "??"
	}
	return false
}

func jsImports(n *sitter.Node, src []byte) []string {
	text := func(x *sitter.Node) string { return unquote(string(src[x.StartByte():x.EndByte()])) }
	switch n.Type() {
	case "import_statement", "export_statement":
		if source := n.ChildByFieldName("source"); source != nil {
			return []string{text(source)}
		}
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return nil
		}
		callee := string(src[fn.StartByte():fn.EndByte()])
		if callee != "require" && fn.Type() != "import" {
			return nil
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			return nil
		}
		if arg := args.NamedChild(0); arg.Type() == "string" {
			return []string{text(arg)}
		}
	}
	return nil
}
