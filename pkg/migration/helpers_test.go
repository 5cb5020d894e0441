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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/morph/pkg/classify"
	"github.com/kraklabs/morph/pkg/model"
)

func span(name string, start, end int) model.Chunk {
	return model.Chunk{JobID: "j", FilePath: "a.py", ChunkType: model.ChunkFunction, ChunkName: name, StartByte: start, EndByte: end}
}

func names(chunks []model.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ChunkName
	}
	return out
}

func TestOutermost(t *testing.T) {
	got := outermost([]model.Chunk{
		span("method", 20, 40),
		span("other", 100, 120),
		span("class", 10, 60),
		span("inner", 25, 30),
	})
	assert.Equal(t, []string{"class", "other"}, names(got))
}

func TestNeighbors(t *testing.T) {
	all := []model.Chunk{
		span("a", 0, 10),
		span("b", 20, 30),
		span("c", 40, 50),
		span("d", 60, 70),
		span("e", 200, 210),
	}
	picked := []model.Chunk{all[2]}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"closest first, ties to earlier", 2, []string{"b", "d"}},
		{"limit three", 3, []string{"b", "d", "a"}},
		{"disabled", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(neighbors(all, picked, tt.limit)))
		})
	}
}

func TestDependencies(t *testing.T) {
	chunks := []model.Chunk{
		{Metadata: model.ChunkMetadata{Dependencies: []string{"os", "json"}}},
		{Metadata: model.ChunkMetadata{Dependencies: []string{"json", "", "./util"}}},
	}
	assert.Equal(t, []string{"./util", "json", "os"}, dependencies(chunks))
}

func TestStructurePreserved(t *testing.T) {
	originals := []model.Chunk{
		span("get_user", 0, 10),
		span("save_user", 10, 20),
		{ChunkType: model.ChunkImport, ChunkName: "os"},
		{ChunkType: model.ChunkBlock},
	}

	tests := []struct {
		name    string
		content string
		ratio   float64
		missing []string
	}{
		{"camel case counts", "func GetUser() {}\nfunc SaveUser() {}", 1, nil},
		{"one missing", "func getUser() {}", 0.5, []string{"save_user"}},
		{"none kept", "package empty", 0, []string{"get_user", "save_user"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio, missing := structurePreserved(originals, tt.content)
			assert.InDelta(t, tt.ratio, ratio, 1e-9)
			assert.Equal(t, tt.missing, missing)
		})
	}

	ratio, missing := structurePreserved(nil, "anything")
	assert.Equal(t, 1.0, ratio)
	assert.Nil(t, missing)
}

func TestBalanced(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"fn main() { let v = vec![1, 2]; }", true},
		{"fn f<'a>(x: &'a str) -> &'a str { x }", true},
		{`print("(")`, true},
		{"x = 1 # (unclosed in comment", true},
		{"// }\nfunc f() {}", true},
		{"func f() {", false},
		{"a[0)", false},
		{`s := "open`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, balanced(tt.src), tt.src)
	}
}

func TestTargetLanguage(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"Go", classify.Go},
		{"golang", classify.Go},
		{"TypeScript/React", classify.TypeScript},
		{"Node.js with express", ""},
		{"node with express", classify.JavaScript},
		{"C#", classify.CSharp},
		{"COBOL", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, targetLanguage(tt.target), tt.target)
	}
}

func TestResolvesLocally(t *testing.T) {
	produced := map[string]bool{"util": true, "models": true}
	assert.True(t, resolvesLocally("fmt", produced))
	assert.True(t, resolvesLocally("./util", produced))
	assert.True(t, resolvesLocally("../models.js", produced))
	assert.False(t, resolvesLocally("./missing", produced))
}

func TestParseOutput(t *testing.T) {
	files, err := parseOutput(`[{"originalFilename":"a.py","migratedFilename":"a.go","content":"package a\n"}]`)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.go", files[0].MigratedFilename)

	files, err = parseOutput(`Here you go: {"files":[{"originalFilename":"a.py","migratedFilename":" a.go ","content":"x"},{"migratedFilename":"","content":"y"}]}`)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.go", files[0].MigratedFilename)

	_, err = parseOutput("no json here")
	assert.ErrorIs(t, err, model.ErrGenerationFailed)
}

func TestBuildPrompt(t *testing.T) {
	files := []fileContext{
		{
			Path:         "app/a.py",
			Language:     "python",
			Dependencies: []string{"os"},
			Chunks: []model.Chunk{
				{ChunkType: model.ChunkFunction, ChunkName: "main", StartLine: 1, EndLine: 2, Content: "def main():\n    pass"},
			},
		},
		{Path: "README", Chunks: []model.Chunk{{ChunkType: model.ChunkBlock, StartLine: 1, EndLine: 1, Content: "hi\n"}}},
	}
	got := buildPrompt("Migrate to Go", "Go", "Python", files)
	want := "Target technology: Go\n" +
		"Source language: Python\n" +
		"Task: Migrate to Go\n" +
		"Files: 2\n" +
		"\nFor each file below, produce the migrated file with its new filename and full content.\n" +
		"\n### File: app/a.py (python)\n" +
		"Dependencies: os\n" +
		"--- function main (lines 1-2)\n" +
		"def main():\n    pass\n" +
		"\n### File: README (unknown)\n" +
		"--- block - (lines 1-1)\n" +
		"hi\n"
	assert.Equal(t, want, got)
}

func TestValidateResult(t *testing.T) {
	a := NewAgent(nil, nil, nil, DefaultConfig(), nil)
	originals := []model.Chunk{span("greet", 0, 10)}

	tests := []struct {
		name    string
		file    string
		content string
		syntax  bool
		imports bool
		success bool
	}{
		{"valid go", "a.go", "package a\n\nfunc Greet() string {\n\treturn \"hi\"\n}\n", true, true, true},
		{"broken go", "a.go", "package a\n\nfunc Greet( {\n", false, true, false},
		{"unresolved relative import", "a.ts", "import { x } from './nowhere';\nexport function greet() { return x; }\n", true, false, false},
		{"unknown language uses brackets", "a.cobol", "greet ( )", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := model.MigrationResult{MigratedFilename: tt.file, Content: tt.content}
			a.validateResult(context.Background(), &r, "COBOL", originals, map[string]bool{"a": true})
			assert.Equal(t, tt.syntax, r.Validation.SyntaxValid, "syntax")
			assert.Equal(t, tt.imports, r.Validation.ImportsResolve, "imports")
			assert.Equal(t, tt.success, r.Success, "success")
		})
	}
}

func TestAggregate(t *testing.T) {
	v := aggregate([]model.MigrationResult{
		{Success: true, Validation: model.FileValidation{SyntaxValid: true, ImportsResolve: true, StructurePreserved: 1}},
		{Validation: model.FileValidation{ImportsResolve: true, StructurePreserved: 0.5}},
	})
	assert.InDelta(t, 0.5, v.SyntaxValidRate, 1e-9)
	assert.InDelta(t, 1.0, v.ImportsResolveRate, 1e-9)
	assert.InDelta(t, 0.75, v.StructurePreservedRate, 1e-9)
	assert.InDelta(t, 0.5, v.SuccessRate, 1e-9)
	assert.Equal(t, model.MigrationValidation{}, aggregate(nil))
}
