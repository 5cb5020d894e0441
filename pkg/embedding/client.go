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

package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kraklabs/morph/pkg/model"
)

const (
	// DefaultDimension is used for dummy vectors when no response pinned one.
	DefaultDimension = 768
	// DummyModel is recorded as the embedding model of dummy vectors.
	DummyModel = "dummy"
)

// Config tunes batching, retries and fallback.
type Config struct {
	BatchSize   int
	InterDelay  time.Duration
	Concurrency int
	// Dimension pins D up front; zero pins it from the first response.
	Dimension          int
	AllowDummyFallback bool
	// RequestsPerSecond caps provider calls across the process; zero disables.
	RequestsPerSecond float64
	MaxInputChars     int
	BatchTimeout      time.Duration
	Retry             RetryConfig
}

// DefaultConfig returns the defaults: batches of 5 with a 200ms pause,
// 3 attempts, dummy fallback allowed.
func DefaultConfig() Config {
	return Config{
		BatchSize:          5,
		InterDelay:         200 * time.Millisecond,
		Concurrency:        5,
		AllowDummyFallback: true,
		MaxInputChars:      8000,
		BatchTimeout:       60 * time.Second,
		Retry:              DefaultRetryConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = c.BatchSize
	}
	if c.MaxInputChars <= 0 {
		c.MaxInputChars = 8000
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 60 * time.Second
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Client embeds chunks through a Provider using a shared CredentialPool.
type Client struct {
	provider Provider
	pool     *CredentialPool
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger

	randMu sync.Mutex
	rng    *rand.Rand
}

// NewClient creates a client. A nil pool uses a single anonymous credential.
func NewClient(provider Provider, pool *CredentialPool, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if pool == nil {
		pool = NewCredentialPool(nil)
	}
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	seed := uint64(time.Now().UnixNano())
	return &Client{
		provider: provider,
		pool:     pool,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Model returns the provider's model name.
func (c *Client) Model() string { return c.provider.Model() }

// Result is the outcome of EmbedChunks.
type Result struct {
	// Chunks is the input list, in order, with embedding fields set.
	Chunks    []model.Chunk
	Dimension int
	Computed  int
	Dummies   int
}

// dimensionPin records D for one EmbedChunks call.
type dimensionPin struct {
	mu  sync.Mutex
	dim int
}

// check pins n if nothing is pinned yet, otherwise requires n to match.
func (p *dimensionPin) check(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dim == 0 {
		p.dim = n
		return nil
	}
	if n != p.dim {
		return fmt.Errorf("%w: got %d, pinned %d", errDimensionMismatch, n, p.dim)
	}
	return nil
}

func (p *dimensionPin) get() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}

// EmbedChunks embeds every chunk's descriptor. Chunks whose embedding could
// not be produced get a dummy vector when fallback is allowed; otherwise the
// call fails with EmbeddingUnavailable. Cancellation of ctx is checked at
// batch boundaries and aborts the call.
func (c *Client) EmbedChunks(ctx context.Context, chunks []model.Chunk) (*Result, error) {
	out := make([]model.Chunk, len(chunks))
	copy(out, chunks)
	res := &Result{Chunks: out}
	if len(out) == 0 {
		res.Dimension = c.cfg.Dimension
		return res, nil
	}

	pin := &dimensionPin{dim: c.cfg.Dimension}
	failed := make([]error, len(out))
	modelName := c.provider.Model()
	tracer := otel.Tracer("github.com/kraklabs/morph/pkg/embedding")

	for start := 0; start < len(out); start += c.cfg.BatchSize {
		if start > 0 {
			if err := sleepCtx(ctx, c.cfg.InterDelay); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+c.cfg.BatchSize, len(out))

		batchStart := time.Now()
		bctx, span := tracer.Start(ctx, "embedding.batch")
		span.SetAttributes(attribute.Int("batch.start", start), attribute.Int("batch.size", end-start))
		bctx, cancel := context.WithTimeout(bctx, c.cfg.BatchTimeout)

		g, gctx := errgroup.WithContext(bctx)
		g.SetLimit(c.cfg.Concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := c.embedOne(gctx, Request{Text: Descriptor(out[i])}, pin)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failed[i] = err
					c.logger.Warn("embedding.chunk.failed", "chunk_id", out[i].ID, "path", out[i].FilePath, "err", err)
					recordError()
					return nil
				}
				now := time.Now().UTC()
				out[i].Embedding = vec
				out[i].EmbeddingModel = modelName
				out[i].EmbeddingGeneratedAt = &now
				out[i].IsDummy = false
				recordComputed()
				return nil
			})
		}
		err := g.Wait()
		cancel()
		span.End()
		observeBatchSeconds(time.Since(batchStart).Seconds())
		if err != nil {
			return nil, err
		}
		c.logger.Debug("embedding.batch.done", "start", start, "size", end-start, "duration_ms", time.Since(batchStart).Milliseconds())
	}

	var firstErr error
	for i, err := range failed {
		if err == nil {
			res.Computed++
			continue
		}
		res.Dummies++
		if firstErr == nil {
			firstErr = fmt.Errorf("chunk %s: %w", out[i].ID, err)
		}
	}

	res.Dimension = pin.get()
	if res.Dummies == 0 {
		return res, nil
	}
	if !c.cfg.AllowDummyFallback {
		return nil, &model.Error{
			Kind:    model.KindEmbeddingUnavailable,
			Op:      "embedding.EmbedChunks",
			Message: fmt.Sprintf("%d of %d chunks could not be embedded", res.Dummies, len(out)),
			Err:     firstErr,
		}
	}

	if res.Dimension == 0 {
		res.Dimension = DefaultDimension
	}
	now := time.Now().UTC()
	for i, err := range failed {
		if err == nil {
			continue
		}
		out[i].Embedding = c.dummyVector(res.Dimension)
		out[i].EmbeddingModel = DummyModel
		out[i].EmbeddingGeneratedAt = &now
		out[i].IsDummy = true
	}
	recordDummies(res.Dummies)
	c.logger.Warn("embedding.dummy.fallback", "dummies", res.Dummies, "total", len(out), "dimension", res.Dimension, "first_err", firstErr)
	return res, nil
}

// EmbedQuery embeds a retrieval query. There is no dummy fallback: any
// failure is EmbeddingUnavailable.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()
	vec, err := c.embedOne(ctx, Request{Text: text, Query: true}, &dimensionPin{dim: c.cfg.Dimension})
	if err != nil {
		return nil, model.WrapError(model.KindEmbeddingUnavailable, "embedding.EmbedQuery", err)
	}
	return vec, nil
}

// embedOne runs one descriptor through credential failover and retries.
func (c *Client) embedOne(ctx context.Context, req Request, pin *dimensionPin) ([]float64, error) {
	if text, cut := truncateRunes(req.Text, c.cfg.MaxInputChars); cut {
		req.Text = text
		recordTruncated()
	}

	retry := c.cfg.Retry
	reset := false
	attempt := 0
	for {
		lease, ok := c.pool.Next()
		if !ok {
			if reset {
				return nil, &model.Error{Kind: model.KindQuotaExceeded, Op: "embedding.embedOne", Message: "all credentials exhausted"}
			}
			reset = true
			if c.pool.Reset(lease.Epoch()) {
				recordPoolReset()
				c.logger.Warn("embedding.pool.reset", "credentials", c.pool.Size())
			}
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req.Credential = lease.Key
		vec, err := c.provider.Embed(ctx, req)
		if err == nil {
			if len(vec) == 0 {
				err = errors.New("provider returned empty embedding")
			} else if err = pin.check(len(vec)); err == nil {
				return vec, nil
			}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isQuotaError(err) {
			if c.pool.MarkFailed(lease) {
				recordQuotaFailover()
				c.logger.Warn("embedding.credential.failed", "credential", lease.index, "err", err)
			}
			continue
		}
		attempt++
		if !isRetryableError(err) || attempt >= retry.MaxAttempts {
			return nil, err
		}
		sleep := computeBackoffWithJitter(retry.InitialBackoff, attempt-1, retry.Multiplier, retry.MaxBackoff)
		recordRetry()
		c.logger.Warn("embedding.retry", "attempt", attempt, "sleep_ms", sleep.Milliseconds(), "err", err)
		if err := sleepCtx(ctx, sleep); err != nil {
			return nil, err
		}
	}
}

// dummyVector returns a uniform random vector in [0,1).
func (c *Client) dummyVector(dim int) []float64 {
	c.randMu.Lock()
	defer c.randMu.Unlock()
	v := make([]float64, dim)
	for i := range v {
		v[i] = c.rng.Float64()
	}
	return v
}
