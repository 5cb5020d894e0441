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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Request is one embedding call.
type Request struct {
	// Credential selects the account to bill. Providers without
	// authentication ignore it.
	Credential string
	Text       string
	// Query marks retrieval queries, for models with asymmetric prefixes.
	Query bool
}

// Provider generates a single embedding vector.
type Provider interface {
	Embed(ctx context.Context, req Request) ([]float64, error)
	// Model identifies the embedding model; it is recorded on every chunk.
	Model() string
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	// Type: "openai", "ollama" or "mock".
	Type    string
	BaseURL string
	Model   string
	// Dimension requests a specific output size where the provider supports it.
	Dimension int
	Timeout   time.Duration
}

// NewProvider creates a provider from cfg.
//
// Environment fallbacks:
//   - OLLAMA_HOST: Ollama server URL (default: http://localhost:11434)
//   - OPENAI_API_BASE: OpenAI-compatible API URL
func NewProvider(cfg ProviderConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch strings.ToLower(cfg.Type) {
	case "mock", "":
		dim := cfg.Dimension
		if dim == 0 {
			dim = DefaultDimension
		}
		return NewMockProvider(dim), nil
	case "ollama", "local":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_HOST")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaProvider(baseURL, model, cfg.Timeout, logger), nil
	case "openai", "openai-compatible":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_API_BASE")
		}
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIProvider(baseURL, model, cfg.Dimension, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, ollama, openai)", cfg.Type)
	}
}

// StatusError is a non-2xx response from an HTTP provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// =============================================================================
// MOCK PROVIDER
// =============================================================================

// MockProvider generates deterministic embeddings from a hash of the text.
// Vectors are not semantically meaningful; equal texts yield equal vectors.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider producing vectors of length dimension.
func NewMockProvider(dimension int) *MockProvider {
	return &MockProvider{dimension: dimension}
}

func (m *MockProvider) Model() string { return "mock" }

// Embed returns a unit vector derived from the text hash.
func (m *MockProvider) Embed(ctx context.Context, req Request) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash := hashString(req.Text)
	embedding := make([]float64, m.dimension)
	for i := range embedding {
		val := float64((hash+uint64(i)*7919)%10000) / 10000.0
		embedding[i] = val*2.0 - 1.0
	}
	return normalize(embedding), nil
}

func hashString(s string) uint64 {
	var hash uint64 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint64(c)
	}
	return hash
}

// =============================================================================
// OLLAMA PROVIDER
// =============================================================================

// OllamaProvider generates embeddings using a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OllamaProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (o *OllamaProvider) Model() string { return o.model }

// isNomicModel reports whether the model expects asymmetric
// search_document/search_query prefixes.
func isNomicModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "nomic")
}

// Embed calls /api/embeddings and returns a unit vector.
func (o *OllamaProvider) Embed(ctx context.Context, req Request) ([]float64, error) {
	prompt := req.Text
	if isNomicModel(o.model) {
		if req.Query {
			prompt = "search_query: " + prompt
		} else {
			prompt = "search_document: " + prompt
		}
	}

	jsonBody, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request (is Ollama running at %s?): %w", o.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		var errResp ollamaErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: msg}
	}

	var embedResp ollamaEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(embedResp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}
	return normalize(embedResp.Embedding), nil
}

// =============================================================================
// OPENAI-COMPATIBLE PROVIDER
// =============================================================================

// OpenAIProvider generates embeddings using OpenAI or a compatible API.
// One SDK client is kept per credential.
type OpenAIProvider struct {
	baseURL   string
	model     string
	dimension int
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]*openai.Client
}

// NewOpenAIProvider creates an OpenAI-compatible provider. A zero dimension
// leaves the model's native size.
func NewOpenAIProvider(baseURL, model string, dimension int, timeout time.Duration, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		timeout:   timeout,
		logger:    logger,
		clients:   make(map[string]*openai.Client),
	}
}

func (o *OpenAIProvider) Model() string { return o.model }

func (o *OpenAIProvider) client(credential string) *openai.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[credential]; ok {
		return c
	}
	opts := []option.RequestOption{
		option.WithAPIKey(credential),
		// Retries and failover are handled by Client.
		option.WithMaxRetries(0),
		option.WithRequestTimeout(o.timeout),
	}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	c := openai.NewClient(opts...)
	o.clients[credential] = &c
	return &c
}

// Embed calls the embeddings endpoint with the given credential.
func (o *OpenAIProvider) Embed(ctx context.Context, req Request) ([]float64, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(req.Text)},
		Model: openai.EmbeddingModel(o.model),
	}
	if o.dimension > 0 {
		params.Dimensions = openai.Int(int64(o.dimension))
	}
	resp, err := o.client(req.Credential).Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned empty embedding")
	}
	return resp.Data[0].Embedding, nil
}

// normalize scales v to unit length in place. Zero vectors are returned unchanged.
func normalize(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}
