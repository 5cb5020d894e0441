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

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/kraklabs/morph/pkg/model"
)

// GCS fetches gs://bucket/object locators from Google Cloud Storage.
type GCS struct {
	client *storage.Client
}

// NewGCS creates a read-only storage client. Credentials come from opts,
// then from ClientOptionsFromEnv, then from application default credentials.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	if len(opts) == 0 {
		opts = ClientOptionsFromEnv()
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, object, err := ParseGCS(locator)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, model.NewError(model.KindIO, "blob.GCS", "%s does not exist", locator)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}
	return r, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// LazyGCS creates its client on first use, so a process that never sees a
// gs:// locator never looks for credentials.
type LazyGCS struct {
	opts []option.ClientOption

	mu  sync.Mutex
	gcs *GCS
}

// NewLazyGCS returns a fetcher that calls NewGCS(opts...) on first Open.
func NewLazyGCS(opts ...option.ClientOption) *LazyGCS {
	return &LazyGCS{opts: opts}
}

func (l *LazyGCS) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	l.mu.Lock()
	if l.gcs == nil {
		g, err := NewGCS(context.WithoutCancel(ctx), l.opts...)
		if err != nil {
			l.mu.Unlock()
			return nil, model.WrapError(model.KindIO, "blob.GCS", err)
		}
		l.gcs = g
	}
	g := l.gcs
	l.mu.Unlock()
	return g.Open(ctx, locator)
}

// Close closes the client if one was created.
func (l *LazyGCS) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gcs == nil {
		return nil
	}
	err := l.gcs.Close()
	l.gcs = nil
	return err
}

// ParseGCS splits gs://bucket/object.
func ParseGCS(locator string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(locator, "gs://")
	if !ok {
		return "", "", model.NewError(model.KindIO, "blob.ParseGCS", "not a gs:// locator: %s", locator)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", model.NewError(model.KindIO, "blob.ParseGCS", "locator %s needs bucket and object", locator)
	}
	return bucket, object, nil
}

// ClientOptionsFromEnv reads GOOGLE_APPLICATION_CREDENTIALS_JSON (inline
// JSON) or GOOGLE_APPLICATION_CREDENTIALS (JSON, or a path to a key file).
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
