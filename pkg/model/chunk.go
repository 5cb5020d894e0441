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

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// ChunkType is the closed set of semantic units the chunker emits.
type ChunkType string

const (
	ChunkFunction      ChunkType = "function"
	ChunkMethod        ChunkType = "method"
	ChunkClass         ChunkType = "class"
	ChunkInterface     ChunkType = "interface"
	ChunkTypeDecl      ChunkType = "type"
	ChunkEnum          ChunkType = "enum"
	ChunkVariable      ChunkType = "variable"
	ChunkImport        ChunkType = "import"
	ChunkExport        ChunkType = "export"
	ChunkTryCatch      ChunkType = "try-catch"
	ChunkConditional   ChunkType = "conditional"
	ChunkLoop          ChunkType = "loop"
	ChunkSwitch        ChunkType = "switch"
	ChunkArrowFunction ChunkType = "arrow-function"
	ChunkGenerator     ChunkType = "generator"
	ChunkAsyncFunction ChunkType = "async-function"
	ChunkBlock         ChunkType = "block"
)

// AllChunkTypes lists every ChunkType in declaration order.
var AllChunkTypes = []ChunkType{
	ChunkFunction, ChunkMethod, ChunkClass, ChunkInterface, ChunkTypeDecl, ChunkEnum,
	ChunkVariable, ChunkImport, ChunkExport, ChunkTryCatch, ChunkConditional,
	ChunkLoop, ChunkSwitch, ChunkArrowFunction, ChunkGenerator, ChunkAsyncFunction,
	ChunkBlock,
}

// ParseChunkType validates s against the closed enumeration.
func ParseChunkType(s string) (ChunkType, bool) {
	for _, t := range AllChunkTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Callable reports whether chunks of this type carry parameters.
func (t ChunkType) Callable() bool {
	switch t {
	case ChunkFunction, ChunkMethod, ChunkArrowFunction, ChunkGenerator, ChunkAsyncFunction:
		return true
	}
	return false
}

// Visibility of a declaration as written in source.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityProtected Visibility = "protected"
	VisibilityPrivate   Visibility = "private"
)

// Parameter is one declared parameter of a callable chunk. Type is empty when
// the source does not annotate it.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ChunkMetadata is the per-chunk metadata extracted from syntax.
type ChunkMetadata struct {
	Complexity   int         `json:"complexity"`
	IsAsync      bool        `json:"isAsync"`
	IsGenerator  bool        `json:"isGenerator"`
	IsStatic     bool        `json:"isStatic"`
	Visibility   Visibility  `json:"visibility,omitempty"`
	Parameters   []Parameter `json:"parameters,omitempty"`
	Dependencies []string    `json:"dependencies,omitempty"`
	Exports      []string    `json:"exports,omitempty"`
	Comments     []string    `json:"comments,omitempty"`
}

// Chunk is a contiguous, semantically meaningful source region.
type Chunk struct {
	ID        string `json:"chunkId"`
	JobID     string `json:"jobId"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`

	FilePath      string `json:"filePath"`
	FileName      string `json:"fileName"`
	FileExtension string `json:"fileExtension"`
	Language      string `json:"language"`

	ChunkType   ChunkType `json:"chunkType"`
	ChunkName   string    `json:"chunkName"`
	Content     string    `json:"content"`
	StartLine   int       `json:"startLine"`
	EndLine     int       `json:"endLine"`
	StartColumn int       `json:"startColumn"`
	EndColumn   int       `json:"endColumn"`
	StartByte   int       `json:"startByte"`
	EndByte     int       `json:"endByte"`

	Metadata ChunkMetadata `json:"metadata"`

	Embedding            []float64  `json:"embedding,omitempty"`
	EmbeddingModel       string     `json:"embeddingModel,omitempty"`
	EmbeddingGeneratedAt *time.Time `json:"embeddingGeneratedAt,omitempty"`
	IsDummy              bool       `json:"isDummy"`

	CreatedAt time.Time `json:"createdAt"`
}

// SpanKey identifies a chunk inside its job; it is the idempotency key of the chunk store.
type SpanKey struct {
	JobID     string
	FilePath  string
	StartByte int
	EndByte   int
}

// Key returns the chunk's span key.
func (c Chunk) Key() SpanKey {
	return SpanKey{JobID: c.JobID, FilePath: c.FilePath, StartByte: c.StartByte, EndByte: c.EndByte}
}

// GenerateChunkID derives a stable chunk ID from its span key, so re-ingesting
// the same job yields the same IDs.
func GenerateChunkID(jobID, filePath string, startByte, endByte int) string {
	idStr := fmt.Sprintf("%s|%s|%d|%d", jobID, NormalizePath(filePath), startByte, endByte)
	hash := sha256.Sum256([]byte(idStr))
	return "chunk:" + hex.EncodeToString(hash[:16])
}

// NormalizePath returns a workspace-relative, slash-separated path without a
// leading "./" or "/".
func NormalizePath(p string) string {
	if len(p) >= 2 && p[0:2] == "./" {
		p = p[2:]
	}
	p = filepath.ToSlash(filepath.Clean(p))
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	if p == "." {
		return ""
	}
	return p
}
