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

package migration_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mtesting "github.com/kraklabs/morph/internal/testing"
	"github.com/kraklabs/morph/pkg/embedding"
	"github.com/kraklabs/morph/pkg/jobs"
	"github.com/kraklabs/morph/pkg/llm"
	"github.com/kraklabs/morph/pkg/migration"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

type fixture struct {
	job      model.Job
	chunks   *storage.ChunkStore
	embedder *embedding.Client
	jobs     *jobs.Store
}

// newFixture stores a ready job with files*perFile python function chunks.
func newFixture(t *testing.T, files, perFile int) *fixture {
	t.Helper()
	ctx := context.Background()
	db := mtesting.NewDB(t)
	require.NoError(t, storage.Migrate(db))

	js := jobs.NewStore(db, nil)
	job, err := js.Create(ctx, "mig-session", "u1")
	require.NoError(t, err)
	_, err = js.Claim(ctx, job.ID, "h")
	require.NoError(t, err)

	var chunks []model.Chunk
	for f := range files {
		path := fmt.Sprintf("app/mod%d.py", f)
		for j := range perFile {
			name := fmt.Sprintf("f%d_%d", f, j)
			start := j * 40
			chunks = append(chunks, model.Chunk{
				ID:            model.GenerateChunkID(job.ID, path, start, start+30),
				JobID:         job.ID,
				SessionID:     job.SessionID,
				UserID:        job.UserID,
				FilePath:      path,
				FileName:      fmt.Sprintf("mod%d.py", f),
				FileExtension: ".py",
				Language:      "python",
				ChunkType:     model.ChunkFunction,
				ChunkName:     name,
				Content:       fmt.Sprintf("def %s():\n    return %d\n", name, j),
				StartLine:     j*3 + 1,
				EndLine:       j*3 + 2,
				StartByte:     start,
				EndByte:       start + 30,
				Metadata:      model.ChunkMetadata{Complexity: 1 + j%3, Dependencies: []string{"os"}},
			})
		}
	}

	cfg := embedding.DefaultConfig()
	cfg.InterDelay = 0
	emb := embedding.NewClient(embedding.NewMockProvider(16), nil, cfg, nil)
	res, err := emb.EmbedChunks(ctx, chunks)
	require.NoError(t, err)

	store := storage.NewChunkStore(db, nil)
	_, err = store.Insert(ctx, res.Chunks)
	require.NoError(t, err)

	require.NoError(t, js.SetTotalFiles(ctx, job.ID, "h", files))
	require.NoError(t, js.UpdateProgress(ctx, job.ID, "h", files, len(chunks)))
	job, err = js.Complete(ctx, job.ID, "h", len(chunks))
	require.NoError(t, err)

	return &fixture{job: job, chunks: store, embedder: emb, jobs: js}
}

var (
	fileHeaderRe = regexp.MustCompile(`(?m)^### File: (\S+) \(`)
	chunkHeadRe  = regexp.MustCompile(`(?m)^--- \S+ (\S+) \(lines`)
)

// goTranslator answers with one Go file per prompt file, keeping every
// chunk name as a Go function.
func goTranslator(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	type file struct {
		OriginalFilename string `json:"originalFilename"`
		MigratedFilename string `json:"migratedFilename"`
		Content          string `json:"content"`
	}
	var out struct {
		Files []file `json:"files"`
	}
	sections := fileHeaderRe.FindAllStringSubmatchIndex(req.Prompt, -1)
	for i, sec := range sections {
		path := req.Prompt[sec[2]:sec[3]]
		end := len(req.Prompt)
		if i+1 < len(sections) {
			end = sections[i+1][0]
		}
		var b strings.Builder
		b.WriteString("package app\n")
		for _, m := range chunkHeadRe.FindAllStringSubmatch(req.Prompt[sec[1]:end], -1) {
			fmt.Fprintf(&b, "\nfunc %s() int {\n\treturn 0\n}\n", m[1])
		}
		out.Files = append(out.Files, file{
			OriginalFilename: path,
			MigratedFilename: strings.TrimSuffix(path, ".py") + ".go",
			Content:          b.String(),
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &llm.GenerateResponse{Text: string(data), PromptTokens: len(req.Prompt) / 4, OutputTokens: len(data) / 4, Done: true}, nil
}

func TestMigrate_RetrievalAndGeneration(t *testing.T) {
	fx := newFixture(t, 5, 10)
	provider := &llm.MockProvider{GenerateFunc: goTranslator}
	agent := migration.NewAgent(fx.chunks, fx.embedder, provider, migration.DefaultConfig(), nil)

	m, err := agent.Migrate(context.Background(), fx.job, model.MigrationRequest{ToLang: "Go"})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, fx.job.ID, m.JobID)
	assert.Equal(t, "Go", m.Target)
	assert.Positive(t, m.Stats.ChunksRetrieved)
	assert.LessOrEqual(t, m.Stats.ChunksRetrieved, 20)
	assert.Positive(t, m.Stats.PromptChars)

	reqs := provider.Requests()
	require.Len(t, reqs, 1)
	assert.NotEmpty(t, reqs[0].System)
	assert.NotNil(t, reqs[0].Schema)

	promptFiles := fileHeaderRe.FindAllStringSubmatch(reqs[0].Prompt, -1)
	require.NotEmpty(t, promptFiles)
	assert.Equal(t, len(promptFiles), m.Stats.FilesConsidered)

	byOriginal := map[string]model.MigrationResult{}
	for _, r := range m.Results {
		byOriginal[r.OriginalFilename] = r
	}
	for _, pf := range promptFiles {
		r, ok := byOriginal[pf[1]]
		require.True(t, ok, "no result for %s", pf[1])
		assert.NotEmpty(t, r.Content)
		assert.True(t, r.Validation.SyntaxValid, r.MigratedFilename)
		assert.Equal(t, 1.0, r.Validation.StructurePreserved)
		assert.True(t, r.Success)
	}

	assert.GreaterOrEqual(t, m.Validation.StructurePreservedRate, 0.0)
	assert.LessOrEqual(t, m.Validation.StructurePreservedRate, 1.0)
	assert.Equal(t, 1.0, m.Validation.SuccessRate)
}

func TestMigrate_PromptIsDeterministic(t *testing.T) {
	fx := newFixture(t, 3, 4)
	provider := &llm.MockProvider{GenerateFunc: goTranslator}
	agent := migration.NewAgent(fx.chunks, fx.embedder, provider, migration.DefaultConfig(), nil)

	req := model.MigrationRequest{Command: "Port this service to Go with net/http handlers"}
	_, err := agent.Migrate(context.Background(), fx.job, req)
	require.NoError(t, err)
	_, err = agent.Migrate(context.Background(), fx.job, req)
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Prompt, reqs[1].Prompt)
	assert.Contains(t, reqs[0].Prompt, "Task: Port this service to Go with net/http handlers")
}

func TestMigrate_ThresholdFallback(t *testing.T) {
	fx := newFixture(t, 2, 3)

	cfg := migration.DefaultConfig()
	provider := &llm.MockProvider{GenerateFunc: goTranslator}
	agent := migration.NewAgent(fx.chunks, fx.embedder, provider, cfg, nil)
	m, err := agent.Migrate(context.Background(), fx.job, model.MigrationRequest{ToLang: "Go", Threshold: 1})
	require.NoError(t, err)
	assert.True(t, m.Stats.ThresholdFallback)

	cfg.FallbackToTopK = false
	agent = migration.NewAgent(fx.chunks, fx.embedder, provider, cfg, nil)
	_, err = agent.Migrate(context.Background(), fx.job, model.MigrationRequest{ToLang: "Go", Threshold: 1})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMigrate_InputErrors(t *testing.T) {
	fx := newFixture(t, 1, 2)
	agent := migration.NewAgent(fx.chunks, fx.embedder, &llm.MockProvider{GenerateFunc: goTranslator}, migration.DefaultConfig(), nil)

	_, err := agent.Migrate(context.Background(), fx.job, model.MigrationRequest{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = agent.Migrate(context.Background(), fx.job, model.MigrationRequest{ToLang: "Go", Threshold: 1.5})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	pending := fx.job
	pending.Status = model.JobProcessing
	_, err = agent.Migrate(context.Background(), pending, model.MigrationRequest{ToLang: "Go"})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestMigrate_EmbeddingUnavailable(t *testing.T) {
	fx := newFixture(t, 1, 2)
	cfg := embedding.DefaultConfig()
	cfg.Retry = embedding.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	broken := embedding.NewClient(&mtesting.FakeEmbedder{Err: func(int, embedding.Request) error {
		return errors.New("connection refused")
	}}, nil, cfg, nil)

	provider := &llm.MockProvider{GenerateFunc: goTranslator}
	agent := migration.NewAgent(fx.chunks, broken, provider, migration.DefaultConfig(), nil)
	_, err := agent.Migrate(context.Background(), fx.job, model.MigrationRequest{ToLang: "Go"})
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
	assert.Empty(t, provider.Requests(), "no generation without a query vector")
}

func TestMigrate_GenerationFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  func(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error)
	}{
		{"provider error", func(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
			return nil, &llm.StatusError{Provider: "mock", StatusCode: 500, Body: "boom"}
		}},
		{"not json", func(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
			return &llm.GenerateResponse{Text: "I cannot help with that."}, nil
		}},
		{"empty file list", func(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
			return &llm.GenerateResponse{Text: `{"files": []}`}, nil
		}},
		{"files without content", func(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
			return &llm.GenerateResponse{Text: `{"files": [{"originalFilename": "a.py", "migratedFilename": "a.go", "content": "  "}]}`}, nil
		}},
		{"deadline", func(ctx context.Context, _ llm.GenerateRequest) (*llm.GenerateResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}
	fx := newFixture(t, 1, 2)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := migration.DefaultConfig()
			cfg.GenerationTimeout = 50 * time.Millisecond
			agent := migration.NewAgent(fx.chunks, fx.embedder, &llm.MockProvider{GenerateFunc: tt.gen}, cfg, nil)
			_, err := agent.Migrate(context.Background(), fx.job, model.MigrationRequest{ToLang: "Go"})
			assert.ErrorIs(t, err, model.ErrGenerationFailed)
		})
	}
}

func TestMigrate_BareArrayAnswer(t *testing.T) {
	fx := newFixture(t, 1, 1)
	gen := func(context.Context, llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return &llm.GenerateResponse{Text: "```json\n[{\"originalFilename\": \"app/mod0.py\", \"migratedFilename\": \"app/mod0.go\", \"content\": \"package app\\n\\nfunc f0_0() int { return 0 }\\n\"}]\n```"}, nil
	}
	agent := migration.NewAgent(fx.chunks, fx.embedder, &llm.MockProvider{GenerateFunc: gen}, migration.DefaultConfig(), nil)
	m, err := agent.Migrate(context.Background(), fx.job, model.MigrationRequest{FromLang: "Python", ToLang: "Go"})
	require.NoError(t, err)
	require.Len(t, m.Results, 1)
	assert.True(t, m.Results[0].Success)
}
