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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider_Embed(t *testing.T) {
	provider := NewMockProvider(384)
	ctx := context.Background()
	req := Request{Text: "func main() { fmt.Println(\"Hello, World!\") }"}

	embedding, err := provider.Embed(ctx, req)
	require.NoError(t, err)
	require.Len(t, embedding, 384)

	var norm float64
	for _, v := range embedding {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 0.001)

	again, err := provider.Embed(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, embedding, again, "deterministic")

	other, err := provider.Embed(ctx, Request{Text: "different text"})
	require.NoError(t, err)
	assert.NotEqual(t, embedding, other)
}

func TestOllamaProvider_Embed(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var body ollamaEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body.Model)
		prompts = append(prompts, body.Prompt)
		_, _ = w.Write([]byte(`{"embedding":[3,4]}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", 5*time.Second, nil)

	vec, err := p.Embed(context.Background(), Request{Text: "doc"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, vec, 1e-9)

	_, err = p.Embed(context.Background(), Request{Text: "query", Query: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"search_document: doc", "search_query: query"}, prompts)
}

func TestOllamaProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		quota     bool
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, quota: true},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"model crashed"}`, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, body: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllamaProvider(srv.URL, "all-minilm", 5*time.Second, nil).Embed(context.Background(), Request{Text: "x"})
			require.Error(t, err)
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.quota, isQuotaError(err))
			assert.Equal(t, tt.retryable, isRetryableError(err))
		})
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		auth = append(auth, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") == "Bearer exhausted" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "text-embedding-3-small", 0, 5*time.Second, nil)

	vec, err := p.Embed(context.Background(), Request{Credential: "key-1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)

	_, err = p.Embed(context.Background(), Request{Credential: "exhausted", Text: "hello"})
	require.Error(t, err)
	assert.True(t, isQuotaError(err))
	assert.Equal(t, http.StatusTooManyRequests, statusCode(err))

	assert.Equal(t, []string{"Bearer key-1", "Bearer exhausted"}, auth)
	assert.Len(t, p.clients, 2, "one SDK client per credential")
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Type: "mock", Dimension: 12}, nil)
	require.NoError(t, err)
	vec, err := p.Embed(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Len(t, vec, 12)

	p, err = NewProvider(ProviderConfig{Type: "ollama", BaseURL: "http://ollama:11434"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", p.Model())

	p, err = NewProvider(ProviderConfig{Type: "openai"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", p.Model())

	_, err = NewProvider(ProviderConfig{Type: "word2vec"}, nil)
	assert.Error(t, err)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		quota     bool
		retryable bool
	}{
		{name: "nil", err: nil},
		{name: "429", err: &StatusError{StatusCode: 429}, quota: true},
		{name: "quota text", err: errors.New("Quota exceeded for project"), quota: true},
		{name: "lowercase quota", err: errors.New("insufficient_quota"), quota: true},
		{name: "503", err: &StatusError{StatusCode: 503}, retryable: true},
		{name: "404", err: &StatusError{StatusCode: 404}},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), retryable: true},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), retryable: true},
		{name: "dimension mismatch", err: fmt.Errorf("%w: got 3", errDimensionMismatch)},
		{name: "opaque", err: errors.New("invalid input")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.quota, isQuotaError(tt.err))
			assert.Equal(t, tt.retryable, isRetryableError(tt.err))
		})
	}
}

func TestComputeBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 300 * time.Millisecond
	for attempt := 0; attempt < 6; attempt++ {
		for i := 0; i < 20; i++ {
			d := computeBackoffWithJitter(base, attempt, 2.0, capDur)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, capDur)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	s, cut := truncateRunes("héllo", 3)
	assert.True(t, cut)
	assert.Equal(t, "hél", s)

	s, cut = truncateRunes("short", 10)
	assert.False(t, cut)
	assert.Equal(t, "short", s)
}
