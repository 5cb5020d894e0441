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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kraklabs/morph/pkg/chunker"
	"github.com/kraklabs/morph/pkg/embedding"
	"github.com/kraklabs/morph/pkg/llm"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/storage"
)

// ChunkSource is the read side of the chunk store used for retrieval.
type ChunkSource interface {
	VectorSearch(ctx context.Context, jobID string, query []float64, k int, threshold float64) ([]storage.ScoredChunk, error)
	FileChunks(ctx context.Context, jobID, filePath string) ([]model.Chunk, error)
}

// QueryEmbedder embeds retrieval queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// Config tunes retrieval and generation.
type Config struct {
	DefaultK         int
	DefaultThreshold float64
	// NeighborCap bounds extra chunks added per retrieved file.
	NeighborCap int
	// FallbackToTopK ranks below-threshold chunks when nothing clears it.
	FallbackToTopK    bool
	GenerationTimeout time.Duration
	Model             string
	Temperature       float64
	MaxTokens         int
}

// DefaultConfig returns k=20, threshold 0.7, three neighbors per file,
// top-k fallback and a 180s generation deadline.
func DefaultConfig() Config {
	return Config{
		DefaultK:          20,
		DefaultThreshold:  0.7,
		NeighborCap:       3,
		FallbackToTopK:    true,
		GenerationTimeout: 180 * time.Second,
		Temperature:       0.2,
		MaxTokens:         16000,
	}
}

// Agent runs migrations for ready jobs.
type Agent struct {
	chunks   ChunkSource
	embedder QueryEmbedder
	provider llm.Provider
	chunker  *chunker.Chunker
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewAgent creates an agent. Zero config fields take DefaultConfig values,
// except NeighborCap, where zero disables neighbors; pass a negative
// value to get the default.
func NewAgent(chunks ChunkSource, embedder QueryEmbedder, provider llm.Provider, cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = d.DefaultK
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = d.DefaultThreshold
	}
	if cfg.NeighborCap < 0 {
		cfg.NeighborCap = d.NeighborCap
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = d.GenerationTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = d.MaxTokens
	}
	return &Agent{
		chunks:   chunks,
		embedder: embedder,
		provider: provider,
		chunker:  chunker.New(chunker.WithLogger(logger)),
		cfg:      cfg,
		logger:   logger.With("component", "migration"),
		now:      time.Now,
	}
}

// generatedFile is one entry of the model's answer.
type generatedFile struct {
	OriginalFilename string `json:"originalFilename" jsonschema:"description=Path of the source file as given in the prompt"`
	MigratedFilename string `json:"migratedFilename" jsonschema:"description=Path of the migrated file in the target technology"`
	Content          string `json:"content" jsonschema:"description=Complete content of the migrated file"`
}

// generationOutput wraps the files because strict JSON schemas need an
// object at the top level.
type generationOutput struct {
	Files []generatedFile `json:"files"`
}

var outputSchema = llm.GenerateSchema[generationOutput]()

// Migrate retrieves context for job, asks the model for migrated files and
// validates them. The job must be ready.
func (a *Agent) Migrate(ctx context.Context, job model.Job, req model.MigrationRequest) (_ *model.Migration, err error) {
	recordRun()
	ctx, span := otel.Tracer("github.com/kraklabs/morph/pkg/migration").Start(ctx, "migration.Migrate")
	span.SetAttributes(attribute.String("job.id", job.ID), attribute.String("migration.target", req.Target()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(model.KindOf(err)))
			recordFailure(string(model.KindOf(err)))
		}
		span.End()
	}()

	req.Command = strings.TrimSpace(req.Command)
	req.ToLang = strings.TrimSpace(req.ToLang)
	req.FromLang = strings.TrimSpace(req.FromLang)
	if req.Command == "" && req.ToLang == "" {
		return nil, model.NewError(model.KindInvalidInput, "migration", "a command or a target language is required")
	}
	if job.Status != model.JobReady {
		return nil, model.NewError(model.KindInvalidTransition, "migration", "job %s is %s, not ready", job.ID, job.Status)
	}
	k := req.K
	if k <= 0 {
		k = a.cfg.DefaultK
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = a.cfg.DefaultThreshold
	}
	if threshold > 1 {
		return nil, model.NewError(model.KindInvalidInput, "migration", "threshold %v is above 1", threshold)
	}

	logger := a.logger.With("job_id", job.ID, "session_id", job.SessionID)
	task := embedding.QueryDescriptor(req.Command, req.FromLang, req.ToLang)
	target := req.Target()

	query, err := a.embedder.EmbedQuery(ctx, task)
	if err != nil {
		return nil, err
	}
	r, err := a.retrieve(ctx, job.ID, query, k, threshold)
	if err != nil {
		return nil, err
	}
	if len(r.hits) == 0 {
		return nil, model.NewError(model.KindNotFound, "migration", "no chunks retrieved for job %s", job.ID)
	}
	if r.fallback {
		recordFallback()
		logger.Info("migration.threshold.fallback", "threshold", threshold, "hits", len(r.hits))
	}

	prompt := buildPrompt(task, target, req.FromLang, r.files)
	genModel := req.Model
	if genModel == "" {
		genModel = a.cfg.Model
	}

	genCtx, cancel := context.WithTimeout(ctx, a.cfg.GenerationTimeout)
	defer cancel()
	start := a.now()
	resp, err := a.provider.Generate(genCtx, llm.GenerateRequest{
		Prompt:      prompt,
		System:      systemPrompt,
		Model:       genModel,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Schema:      outputSchema,
		SchemaName:  "migrated_files",
	})
	elapsed := a.now().Sub(start)
	observeGenerationSeconds(elapsed.Seconds())
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("generation exceeded %s: %w", a.cfg.GenerationTimeout, err)
		}
		return nil, model.WrapError(model.KindGenerationFailed, "migration.generate", err)
	}

	files, err := parseOutput(resp.Text)
	if err != nil {
		return nil, err
	}
	recordFiles(len(files))

	results := a.buildResults(ctx, files, target, r.files)
	m := &model.Migration{
		ID:      uuid.NewString(),
		JobID:   job.ID,
		Command: task,
		Target:  target,
		Results: results,
		Stats: model.MigrationStats{
			ChunksRetrieved:   len(r.hits),
			FilesConsidered:   len(r.files),
			PromptChars:       len(prompt),
			PromptTokens:      resp.PromptTokens,
			OutputTokens:      resp.OutputTokens,
			GenerationMillis:  elapsed.Milliseconds(),
			ThresholdFallback: r.fallback,
		},
		Validation: aggregate(results),
		CreatedAt:  a.now().UTC(),
	}
	logger.Info("migration.done",
		"migration_id", m.ID,
		"target", target,
		"chunks", m.Stats.ChunksRetrieved,
		"files", len(results),
		"success_rate", m.Validation.SuccessRate,
		"generation_ms", m.Stats.GenerationMillis,
	)
	return m, nil
}

// parseOutput accepts the schema's {"files": [...]} object or a bare array.
// Entries without a migrated filename or content are dropped.
func parseOutput(text string) ([]generatedFile, error) {
	var out generationOutput
	if err := llm.DecodeJSON(text, &out); err != nil || len(out.Files) == 0 {
		var list []generatedFile
		if lerr := llm.DecodeJSON(text, &list); lerr == nil && len(list) > 0 {
			out.Files = list
		} else if err != nil {
			return nil, model.WrapError(model.KindGenerationFailed, "migration.parse", err)
		}
	}
	var files []generatedFile
	for _, f := range out.Files {
		f.MigratedFilename = strings.TrimSpace(f.MigratedFilename)
		if f.MigratedFilename == "" || strings.TrimSpace(f.Content) == "" {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, model.NewError(model.KindGenerationFailed, "migration.parse", "model returned no migrated files")
	}
	return files, nil
}

func (a *Agent) buildResults(ctx context.Context, files []generatedFile, target string, contexts []fileContext) []model.MigrationResult {
	originals := make(map[string][]model.Chunk, len(contexts))
	for _, fc := range contexts {
		originals[model.NormalizePath(fc.Path)] = fc.Chunks
	}
	produced := make(map[string]bool, len(files))
	for _, f := range files {
		produced[stem(f.MigratedFilename)] = true
	}

	results := make([]model.MigrationResult, len(files))
	for i, f := range files {
		results[i] = model.MigrationResult{
			OriginalFilename: f.OriginalFilename,
			MigratedFilename: f.MigratedFilename,
			Content:          f.Content,
		}
		a.validateResult(ctx, &results[i], target, originals[model.NormalizePath(f.OriginalFilename)], produced)
	}
	return results
}
