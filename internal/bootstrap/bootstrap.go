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

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kraklabs/morph/internal/config"
	"github.com/kraklabs/morph/pkg/blob"
	"github.com/kraklabs/morph/pkg/chunker"
	"github.com/kraklabs/morph/pkg/classify"
	"github.com/kraklabs/morph/pkg/embedding"
	"github.com/kraklabs/morph/pkg/events"
	"github.com/kraklabs/morph/pkg/extract"
	"github.com/kraklabs/morph/pkg/jobs"
	"github.com/kraklabs/morph/pkg/llm"
	"github.com/kraklabs/morph/pkg/migration"
	"github.com/kraklabs/morph/pkg/processor"
	"github.com/kraklabs/morph/pkg/service"
	"github.com/kraklabs/morph/pkg/storage"
)

// App holds every component built from one configuration.
type App struct {
	Config *config.Config

	DB         *storage.Database
	Jobs       *jobs.Store
	Files      *storage.FileStore
	Chunks     *storage.ChunkStore
	Workspaces *extract.Workspaces
	Events     events.Bus
	Blobs      *blob.Router
	Embedder   *embedding.Client
	Generator  llm.Provider
	Agent      *migration.Agent
	Processor  *processor.Processor
	Service    *service.Service

	logger  *slog.Logger
	closers []func() error
}

// Open builds the components described by cfg. The schema is created or
// upgraded before Open returns. Close releases everything Open acquired,
// also when Open fails halfway.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	app := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.DB, err = storage.Open(storage.Config{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.DB.Close)
	if err := app.DB.EnsureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	db := app.DB.DB()
	app.Jobs = jobs.NewStore(db, logger, jobs.WithStaleClaimTimeout(cfg.Processor.StaleClaimTimeout.Std()))
	app.Files = storage.NewFileStore(db, logger)
	app.Chunks = storage.NewChunkStore(db, logger)

	root, err := workspaceRoot(cfg.Workspace.Root)
	if err != nil {
		return nil, err
	}
	app.Workspaces, err = extract.NewWorkspaces(root, logger)
	if err != nil {
		return nil, err
	}
	app.Workspaces.SetLockTTL(cfg.Processor.StaleClaimTimeout.Std())

	if app.Events, err = openEvents(ctx, cfg.Events, logger); err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Events.Close)

	app.Blobs = blob.NewRouter(blob.Options{
		Timeout: cfg.Deadlines.Download.Std(),
		// Archives may not exceed what the extractor would accept anyway.
		MaxBytes: cfg.Extractor.MaxTotalBytes,
	}, logger)
	gcs := blob.NewLazyGCS()
	app.Blobs.Register("gs", gcs)
	app.closers = append(app.closers, gcs.Close)

	if app.Embedder, err = openEmbedder(cfg, logger); err != nil {
		return nil, err
	}

	types, err := cfg.ChunkableTypes()
	if err != nil {
		return nil, err
	}
	chk := chunker.New(chunker.WithLogger(logger), chunker.WithChunkableTypes(types))

	app.Generator, err = llm.NewProvider(llm.ProviderConfig{
		Type:         cfg.Generation.Provider,
		BaseURL:      cfg.Generation.BaseURL,
		APIKey:       cfg.Generation.APIKey,
		DefaultModel: cfg.Generation.Model,
		Timeout:      cfg.Deadlines.Generation.Std(),
	})
	if err != nil {
		logger.Warn("bootstrap.generation.unavailable", "provider", cfg.Generation.Provider, "err", err)
		app.Generator = nil
	} else {
		app.Agent = migration.NewAgent(app.Chunks, app.Embedder, app.Generator, migration.Config{
			DefaultK:          cfg.Retrieval.DefaultK,
			DefaultThreshold:  cfg.Retrieval.DefaultThreshold,
			NeighborCap:       cfg.Retrieval.NeighborCap,
			FallbackToTopK:    cfg.Retrieval.FallbackToTopK,
			GenerationTimeout: cfg.Deadlines.Generation.Std(),
			Model:             cfg.Generation.Model,
			Temperature:       cfg.Generation.Temperature,
			MaxTokens:         cfg.Generation.MaxTokens,
		}, logger)
	}

	p := cfg.Processor
	app.Processor, err = processor.New(processor.Config{
		MaxConcurrentJobs:   p.MaxConcurrentJobs,
		PollInterval:        p.PollInterval.Std(),
		HeartbeatInterval:   cfg.HeartbeatInterval(),
		DownloadConcurrency: p.DownloadConcurrency,
		IOFailureRatio:      p.IOFailureRatio,
		CancelGrace:         p.CancelGrace.Std(),
		WorkspaceStaleAfter: cfg.Workspace.StaleAfter.Std(),
	}, processor.Deps{
		Jobs:       app.Jobs,
		Files:      app.Files,
		Chunks:     app.Chunks,
		Workspaces: app.Workspaces,
		Extractor:  extract.New(cfg.Extractor, logger),
		Classifier: classify.New(),
		Chunker:    chk,
		Embedder:   app.Embedder,
		Blobs:      app.Blobs,
		Events:     app.Events,
	}, logger)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Jobs:       app.Jobs,
		Files:      app.Files,
		Chunks:     app.Chunks,
		Workspaces: app.Workspaces,
		Events:     app.Events,
	}
	if app.Agent != nil {
		deps.Migrator = app.Agent
	}
	if app.Service, err = service.New(deps, logger); err != nil {
		return nil, err
	}

	logger.Info("bootstrap.ready",
		"database", app.DB.Driver(),
		"workspaces", app.Workspaces.Root(),
		"events", cfg.Events.Driver,
		"embedding", cfg.Embedding.Provider,
		"generation", cfg.Generation.Provider,
		"migration", app.Agent != nil,
	)
	return app, nil
}

// Close releases resources in reverse order of acquisition. It is safe to
// call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func workspaceRoot(root string) (string, error) {
	if root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".morph", "workspaces"), nil
}

func openEvents(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (events.Bus, error) {
	switch cfg.Driver {
	case "redis":
		return events.NewRedis(ctx, events.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: os.Getenv("MORPH_REDIS_PASSWORD"),
			Channel:  cfg.Channel,
		}, logger)
	default:
		return events.NewMemory(logger), nil
	}
}

func openEmbedder(cfg *config.Config, logger *slog.Logger) (*embedding.Client, error) {
	e := cfg.Embedding
	provider, err := embedding.NewProvider(embedding.ProviderConfig{
		Type:      e.Provider,
		BaseURL:   e.BaseURL,
		Model:     e.Model,
		Dimension: e.Dimension,
		Timeout:   cfg.Deadlines.Embedding.Std(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	ecfg := embedding.DefaultConfig()
	ecfg.BatchSize = e.BatchSize
	ecfg.InterDelay = e.InterDelay.Std()
	ecfg.Concurrency = e.Concurrency
	ecfg.Dimension = e.Dimension
	ecfg.AllowDummyFallback = e.AllowDummyFallback
	ecfg.RequestsPerSecond = e.RequestsPerSecond
	ecfg.MaxInputChars = e.MaxInputChars
	ecfg.BatchTimeout = cfg.Deadlines.Embedding.Std()
	ecfg.Retry.MaxAttempts = e.MaxAttempts

	return embedding.NewClient(provider, embedding.NewCredentialPool(cfg.Credentials.EmbeddingPool), ecfg, logger), nil
}
