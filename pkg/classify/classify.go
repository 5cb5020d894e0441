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

// Package classify labels a source file with a language and, when the content
// shows one, a framework.
//
// Classification has two levels. The extension gives a prior: a single
// candidate for unambiguous extensions, several weighted candidates for shared
// ones such as ".h". Ordered content probes then add evidence. Content can
// always set the framework, but it only changes the language when the
// extension was ambiguous or unknown.
package classify

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/morph/pkg/model"
)

// Language identifiers. They match the names the chunker registers grammars under.
const (
	Go         = "go"
	Python     = "python"
	JavaScript = "javascript"
	TypeScript = "typescript"
	Java       = "java"
	Kotlin     = "kotlin"
	Scala      = "scala"
	Rust       = "rust"
	C          = "c"
	Cpp        = "cpp"
	CSharp     = "csharp"
	ObjectiveC = "objective-c"
	Ruby       = "ruby"
	PHP        = "php"
	Swift      = "swift"
	Dart       = "dart"
	Lua        = "lua"
	Bash       = "bash"
	SQL        = "sql"
	Elixir     = "elixir"
	Erlang     = "erlang"
	Haskell    = "haskell"
	Clojure    = "clojure"
	R          = "r"
	Julia      = "julia"
	Protobuf   = "protobuf"
)

// unambiguousConfidence is the confidence of a single-candidate extension.
const unambiguousConfidence = 0.95

// snippetLimit bounds how much content the probes look at.
const snippetLimit = 16 << 10

// Alternative is a ranked runner-up label.
type Alternative struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Result is the classifier output.
type Result struct {
	Language     string        `json:"language"`
	Framework    string        `json:"framework,omitempty"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

type candidate struct {
	language string
	weight   float64
}

var extensionCandidates = map[string][]candidate{
	".go":     {{Go, unambiguousConfidence}},
	".py":     {{Python, unambiguousConfidence}},
	".pyi":    {{Python, unambiguousConfidence}},
	".js":     {{JavaScript, unambiguousConfidence}},
	".jsx":    {{JavaScript, unambiguousConfidence}},
	".mjs":    {{JavaScript, unambiguousConfidence}},
	".cjs":    {{JavaScript, unambiguousConfidence}},
	".ts":     {{TypeScript, unambiguousConfidence}},
	".tsx":    {{TypeScript, unambiguousConfidence}},
	".mts":    {{TypeScript, unambiguousConfidence}},
	".cts":    {{TypeScript, unambiguousConfidence}},
	".vue":    {{JavaScript, 0.6}, {TypeScript, 0.4}},
	".svelte": {{JavaScript, 0.6}, {TypeScript, 0.4}},
	".java":   {{Java, unambiguousConfidence}},
	".kt":     {{Kotlin, unambiguousConfidence}},
	".kts":    {{Kotlin, unambiguousConfidence}},
	".scala":  {{Scala, unambiguousConfidence}},
	".rs":     {{Rust, unambiguousConfidence}},
	".c":      {{C, unambiguousConfidence}},
	".h":      {{C, 0.5}, {Cpp, 0.35}, {ObjectiveC, 0.15}},
	".cc":     {{Cpp, unambiguousConfidence}},
	".cpp":    {{Cpp, unambiguousConfidence}},
	".cxx":    {{Cpp, unambiguousConfidence}},
	".hpp":    {{Cpp, unambiguousConfidence}},
	".hh":     {{Cpp, unambiguousConfidence}},
	".cs":     {{CSharp, unambiguousConfidence}},
	".m":      {{ObjectiveC, 0.7}, {"matlab", 0.3}},
	".mm":     {{ObjectiveC, unambiguousConfidence}},
	".rb":     {{Ruby, unambiguousConfidence}},
	".php":    {{PHP, unambiguousConfidence}},
	".swift":  {{Swift, unambiguousConfidence}},
	".dart":   {{Dart, unambiguousConfidence}},
	".lua":    {{Lua, unambiguousConfidence}},
	".sh":     {{Bash, unambiguousConfidence}},
	".bash":   {{Bash, unambiguousConfidence}},
	".sql":    {{SQL, unambiguousConfidence}},
	".ex":     {{Elixir, unambiguousConfidence}},
	".exs":    {{Elixir, unambiguousConfidence}},
	".erl":    {{Erlang, unambiguousConfidence}},
	".hs":     {{Haskell, unambiguousConfidence}},
	".clj":    {{Clojure, unambiguousConfidence}},
	".cljs":   {{Clojure, unambiguousConfidence}},
	".r":      {{R, unambiguousConfidence}},
	".jl":     {{Julia, unambiguousConfidence}},
	".proto":  {{Protobuf, unambiguousConfidence}},
}

// Classifier is stateless and safe for concurrent use.
type Classifier struct {
	probes []probe
}

// New returns a classifier with the built-in probe set.
func New() *Classifier {
	return &Classifier{probes: defaultProbes}
}

// ExtensionLanguage returns the most likely language for a file name using
// the extension table alone, or "" when the extension is unknown.
func ExtensionLanguage(filename string) string {
	cands := extensionCandidates[strings.ToLower(filepath.Ext(filename))]
	if len(cands) == 0 {
		return ""
	}
	return cands[0].language
}

// Classify labels filename using its extension and the leading part of content.
// It fails with model.ErrUnrecognized when neither gives any evidence.
func (c *Classifier) Classify(filename string, content []byte) (Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	prior := extensionCandidates[ext]

	snippet := content
	if len(snippet) > snippetLimit {
		snippet = snippet[:snippetLimit]
	}
	hits := c.run(string(snippet))

	scores := make(map[string]float64)
	for _, cand := range prior {
		scores[cand.language] = cand.weight
	}

	var res Result
	switch {
	case len(prior) == 1:
		// Unambiguous extension: content never changes the language.
		res.Language = prior[0].language
		res.Confidence = prior[0].weight
		for _, h := range hits {
			if h.language != "" && h.language != res.Language {
				scores[h.language] = max(scores[h.language], h.weight/2)
			}
		}

	default:
		for _, h := range hits {
			if h.language == "" {
				continue
			}
			if _, fromExt := scores[h.language]; fromExt || len(prior) == 0 {
				scores[h.language] = min(0.99, scores[h.language]+h.weight)
			}
		}
		res.Language, res.Confidence = best(scores)
		if res.Language == "" {
			return Result{}, model.NewError(model.KindUnrecognized, "classify", "no language evidence for %s", filename)
		}
	}

	for _, h := range hits {
		if h.framework == "" || !h.appliesTo(res.Language) {
			continue
		}
		res.Framework = h.framework
		res.Confidence = min(0.99, res.Confidence+0.02)
		break
	}

	for lang, score := range scores {
		if lang != res.Language {
			res.Alternatives = append(res.Alternatives, Alternative{Language: lang, Confidence: score})
		}
	}
	sort.Slice(res.Alternatives, func(i, j int) bool {
		a, b := res.Alternatives[i], res.Alternatives[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Language < b.Language
	})
	return res, nil
}

func best(scores map[string]float64) (string, float64) {
	var lang string
	var score float64
	for l, s := range scores {
		if s > score || (s == score && l < lang) {
			lang, score = l, s
		}
	}
	return lang, score
}
