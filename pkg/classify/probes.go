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
	"regexp"
	"slices"
)

// probe is one content signature. A probe with a language is language
// evidence; a probe with a framework labels the framework for the languages
// in frameworkFor.
type probe struct {
	re           *regexp.Regexp
	language     string
	framework    string
	frameworkFor []string
	weight       float64
}

var jsFamily = []string{JavaScript, TypeScript}

// defaultProbes is ordered: shebangs first, then frameworks (the first framework
// hit wins), then generic language signatures.
var defaultProbes = []probe{
	{re: regexp.MustCompile(`\A#!.*\bpython[0-9.]*\b`), language: Python, weight: 0.9},
	{re: regexp.MustCompile(`\A#!.*\b(node|deno|bun)\b`), language: JavaScript, weight: 0.9},
	{re: regexp.MustCompile(`\A#!.*\b(ts-node|tsx)\b`), language: TypeScript, weight: 0.9},
	{re: regexp.MustCompile(`\A#!.*\b(ba|z|k)?sh\b`), language: Bash, weight: 0.9},
	{re: regexp.MustCompile(`\A#!.*\bruby\b`), language: Ruby, weight: 0.9},
	{re: regexp.MustCompile(`\A<\?php`), language: PHP, weight: 0.9},

	{re: regexp.MustCompile(`(?m)^\s*(from fastapi import|import fastapi)`), language: Python, framework: "fastapi", frameworkFor: []string{Python}, weight: 0.6},
	{re: regexp.MustCompile(`(?m)^\s*(from django[ .]|import django)`), language: Python, framework: "django", frameworkFor: []string{Python}, weight: 0.6},
	{re: regexp.MustCompile(`(?m)^\s*from flask import`), language: Python, framework: "flask", frameworkFor: []string{Python}, weight: 0.6},
	{re: regexp.MustCompile(`from ['"]next/|require\(['"]next/`), framework: "nextjs", frameworkFor: jsFamily},
	{re: regexp.MustCompile(`from ['"]@nestjs/`), language: TypeScript, framework: "nestjs", frameworkFor: jsFamily, weight: 0.4},
	{re: regexp.MustCompile(`from ['"]@angular/core['"]`), language: TypeScript, framework: "angular", frameworkFor: jsFamily, weight: 0.4},
	{re: regexp.MustCompile(`from ['"]react['"]|require\(['"]react['"]\)`), framework: "react", frameworkFor: jsFamily},
	{re: regexp.MustCompile(`(?m)^<template>|from ['"]vue['"]`), framework: "vue", frameworkFor: jsFamily},
	{re: regexp.MustCompile(`from ['"]express['"]|require\(['"]express['"]\)`), framework: "express", frameworkFor: jsFamily},
	{re: regexp.MustCompile(`org\.springframework\.`), framework: "spring", frameworkFor: []string{Java, Kotlin}},
	{re: regexp.MustCompile(`"github\.com/gin-gonic/gin"`), language: Go, framework: "gin", frameworkFor: []string{Go}, weight: 0.6},
	{re: regexp.MustCompile(`"github\.com/labstack/echo(/v\d+)?"`), language: Go, framework: "echo", frameworkFor: []string{Go}, weight: 0.6},
	{re: regexp.MustCompile(`(?m)^\s*use rocket::|#\[macro_use\]\s*extern crate rocket`), language: Rust, framework: "rocket", frameworkFor: []string{Rust}, weight: 0.6},
	{re: regexp.MustCompile(`(?m)^\s*use actix_web`), language: Rust, framework: "actix", frameworkFor: []string{Rust}, weight: 0.6},
	{re: regexp.MustCompile(`Rails\.application|< ApplicationController|< ActiveRecord::Base`), language: Ruby, framework: "rails", frameworkFor: []string{Ruby}, weight: 0.5},
	{re: regexp.MustCompile(`use Illuminate\\`), language: PHP, framework: "laravel", frameworkFor: []string{PHP}, weight: 0.5},

	{re: regexp.MustCompile(`<script[^>]*\blang=["']ts["']`), language: TypeScript, weight: 0.5},
	{re: regexp.MustCompile(`(?m)^package [a-z_][a-z0-9_]*\s*$`), language: Go, weight: 0.5},
	{re: regexp.MustCompile(`(?m)^func (\([^)]*\) )?[A-Za-z_]\w*\(`), language: Go, weight: 0.3},
	{re: regexp.MustCompile(`(?m)^\s*def \w+\(.*\)( -> [^:]+)?:\s*$`), language: Python, weight: 0.5},
	{re: regexp.MustCompile(`(?m)^(import \w+|from [\w.]+ import )`), language: Python, weight: 0.3},
	{re: regexp.MustCompile(`(?m)^\s*(export )?interface \w+ \{|:\s*(string|number|boolean)\b`), language: TypeScript, weight: 0.4},
	{re: regexp.MustCompile(`(?m)^\s*(const|let|var) \w+ = require\(|module\.exports\s*=`), language: JavaScript, weight: 0.4},
	{re: regexp.MustCompile(`(?m)^\s*(pub )?fn \w+|^\s*use \w+::`), language: Rust, weight: 0.4},
	{re: regexp.MustCompile(`(?m)^\s*(public |private )?(class|interface) \w+.*\{|^import java\.`), language: Java, weight: 0.3},
	{re: regexp.MustCompile(`(?m)^\s*(class \w+|namespace \w+|template\s*<|#include <(iostream|vector|string)>)`), language: Cpp, weight: 0.4},
	{re: regexp.MustCompile(`(?m)^#include [<"]`), language: C, weight: 0.2},
	{re: regexp.MustCompile(`(?m)^\s*(@interface|@implementation|#import )`), language: ObjectiveC, weight: 0.6},
}

type hit struct {
	language     string
	framework    string
	frameworkFor []string
	weight       float64
}

func (h hit) appliesTo(language string) bool {
	return slices.Contains(h.frameworkFor, language)
}

func (c *Classifier) run(snippet string) []hit {
	var hits []hit
	for _, p := range c.probes {
		if p.re.MatchString(snippet) {
			hits = append(hits, hit{
				language:     p.language,
				framework:    p.framework,
				frameworkFor: p.frameworkFor,
				weight:       p.weight,
			})
		}
	}
	return hits
}
