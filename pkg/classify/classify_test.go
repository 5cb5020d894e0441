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

package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/morph/pkg/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		filename      string
		content       string
		wantLanguage  string
		wantFramework string
		minConfidence float64
	}{
		{"go by extension", "main.go", "package main\n", Go, "", 0.9},
		{"python by extension", "app.py", "print('hi')\n", Python, "", 0.9},
		{"typescript by extension", "a.ts", "export function greet() {}\n", TypeScript, "", 0.9},
		{"tsx is typescript", "App.tsx", "export default () => null\n", TypeScript, "", 0.9},
		{"fastapi framework", "api.py", "from fastapi import FastAPI\napp = FastAPI()\n", Python, "fastapi", 0.95},
		{"django framework", "models.py", "from django.db import models\n", Python, "django", 0.9},
		{"react framework", "App.jsx", "import React from 'react'\n", JavaScript, "react", 0.9},
		{"express framework", "server.js", "const express = require('express')\n", JavaScript, "express", 0.9},
		{"gin framework", "main.go", "package main\n\nimport \"github.com/gin-gonic/gin\"\n", Go, "gin", 0.9},
		{"rocket framework", "main.rs", "use rocket::get;\n", Rust, "rocket", 0.9},
		{"python shebang without extension", "manage", "#!/usr/bin/env python3\nimport os\n", Python, "", 0.8},
		{"node shebang", "cli", "#!/usr/bin/env node\nconsole.log(1)\n", JavaScript, "", 0.8},
		{"ambiguous header resolved to cpp", "vec.h", "#include <vector>\nclass Vec {\n};\n", Cpp, "", 0.5},
		{"ambiguous header defaults to c", "util.h", "int add(int a, int b);\n", C, "", 0.5},
		{"vue sfc with ts script", "Comp.vue", "<template>\n</template>\n<script lang=\"ts\">\n</script>\n", TypeScript, "vue", 0.5},
		{"vue sfc plain", "Comp.vue", "<template>\n<div/>\n</template>\n", JavaScript, "vue", 0.5},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Classify(tt.filename, []byte(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.wantLanguage, res.Language)
			assert.Equal(t, tt.wantFramework, res.Framework)
			assert.GreaterOrEqual(t, res.Confidence, tt.minConfidence)
			assert.LessOrEqual(t, res.Confidence, 1.0)
		})
	}
}

func TestClassify_ContentNeverOverridesUnambiguousExtension(t *testing.T) {
	res, err := New().Classify("script.py", []byte("package main\n\nfunc main() {}\n"))
	require.NoError(t, err)
	assert.Equal(t, Python, res.Language)
	require.NotEmpty(t, res.Alternatives)
	assert.Equal(t, Go, res.Alternatives[0].Language)
}

func TestClassify_FrameworkRequiresMatchingLanguage(t *testing.T) {
	// A Python file mentioning express in a string is not an Express app.
	res, err := New().Classify("x.py", []byte("s = \"require('express')\"\n"))
	require.NoError(t, err)
	assert.Equal(t, Python, res.Language)
	assert.Empty(t, res.Framework)
}

func TestClassify_AlternativesSorted(t *testing.T) {
	res, err := New().Classify("thing.h", []byte("int x;\n"))
	require.NoError(t, err)
	assert.Equal(t, C, res.Language)
	require.Len(t, res.Alternatives, 2)
	assert.Equal(t, Cpp, res.Alternatives[0].Language)
	assert.Equal(t, ObjectiveC, res.Alternatives[1].Language)
	assert.GreaterOrEqual(t, res.Alternatives[0].Confidence, res.Alternatives[1].Confidence)
}

func TestClassify_Unrecognized(t *testing.T) {
	_, err := New().Classify("data.bin", []byte{0x00, 0x01, 0x02})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnrecognized)
}

func TestExtensionLanguage(t *testing.T) {
	assert.Equal(t, Go, ExtensionLanguage("a/b/c.GO"))
	assert.Equal(t, TypeScript, ExtensionLanguage("x.tsx"))
	assert.Equal(t, "", ExtensionLanguage("Makefile"))
}
