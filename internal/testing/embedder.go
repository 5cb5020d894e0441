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

package testing

import (
	"context"
	"net/http"
	"sync"

	"github.com/kraklabs/morph/pkg/embedding"
)

// FakeEmbedder is a scriptable embedding.Provider. Successful calls return
// the same vectors as embedding.MockProvider.
type FakeEmbedder struct {
	Dim int
	// Quota lists credentials that always answer HTTP 429.
	Quota map[string]bool
	// Err, when set, can fail a call. call is the zero-based call number.
	Err func(call int, req embedding.Request) error

	mu    sync.Mutex
	calls []embedding.Request
}

func (f *FakeEmbedder) Model() string { return "fake-embed" }

func (f *FakeEmbedder) Embed(ctx context.Context, req embedding.Request) ([]float64, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Quota[req.Credential] {
		return nil, &embedding.StatusError{Provider: "fake", StatusCode: http.StatusTooManyRequests, Body: "You exceeded your current quota"}
	}
	if f.Err != nil {
		if err := f.Err(n, req); err != nil {
			return nil, err
		}
	}
	dim := f.Dim
	if dim == 0 {
		dim = 8
	}
	return embedding.NewMockProvider(dim).Embed(ctx, req)
}

// Calls returns a copy of every request seen so far.
func (f *FakeEmbedder) Calls() []embedding.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]embedding.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// Credentials returns the credential of every call, in order.
func (f *FakeEmbedder) Credentials() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Credential
	}
	return out
}
