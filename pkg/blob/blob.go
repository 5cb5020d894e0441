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
	"log/slog"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/morph/pkg/model"
)

// Fetcher opens a blob for reading.
type Fetcher interface {
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// StatusError is returned by remote fetchers for a non-success response.
type StatusError struct {
	Locator    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.Locator, e.StatusCode)
}

// Options configures a Router.
type Options struct {
	// Timeout bounds each download attempt. Zero means 30s.
	Timeout time.Duration
	// MaxAttempts bounds retries of retryable failures. Zero means 3.
	MaxAttempts int
	// MaxBytes rejects blobs larger than this when positive.
	MaxBytes int64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Router dispatches locators to fetchers by scheme. A locator without a
// scheme is a local path.
type Router struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRouter returns a router that handles local paths, file:// and
// http(s):// locators. Register a GCS fetcher for gs://.
func NewRouter(opts Options, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{opts: opts.withDefaults(), logger: logger, fetchers: map[string]Fetcher{}}
	local := Local{}
	r.Register("", local)
	r.Register("file", local)
	h := NewHTTP(nil)
	r.Register("http", h)
	r.Register("https", h)
	return r
}

// Register installs f for scheme, replacing any previous fetcher.
func (r *Router) Register(scheme string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[strings.ToLower(scheme)] = f
}

// Open opens locator through the fetcher for its scheme.
func (r *Router) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	f, err := r.fetcher(locator)
	if err != nil {
		return nil, err
	}
	return f.Open(ctx, locator)
}

func (r *Router) fetcher(locator string) (Fetcher, error) {
	scheme := Scheme(locator)
	r.mu.RLock()
	f, ok := r.fetchers[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, model.NewError(model.KindIO, "blob.Open", "no fetcher for scheme %q", scheme)
	}
	return f, nil
}

// Download copies locator to dst, creating parent directories. Each attempt
// runs under the configured timeout; deadline and transient failures are
// retried with jittered backoff. A partial file is removed on failure.
func (r *Router) Download(ctx context.Context, locator, dst string) (int64, error) {
	if _, err := r.fetcher(locator); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, model.WrapError(model.KindIO, "blob.Download", err)
	}

	var lastErr error
	for attempt := 0; attempt < r.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return 0, model.WrapError(model.KindCancelled, "blob.Download", err)
			}
		}
		n, err := r.downloadOnce(ctx, locator, dst)
		if err == nil {
			r.logger.Debug("blob.downloaded", "locator", locator, "bytes", n, "attempt", attempt+1)
			return n, nil
		}
		_ = os.Remove(dst)
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) {
			break
		}
		r.logger.Warn("blob.download.retry", "locator", locator, "attempt", attempt+1, "err", err)
	}
	return 0, classify(lastErr)
}

func (r *Router) downloadOnce(ctx context.Context, locator, dst string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	rc, err := r.Open(ctx, locator)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	var src io.Reader = rc
	if r.opts.MaxBytes > 0 {
		src = io.LimitReader(rc, r.opts.MaxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if r.opts.MaxBytes > 0 && n > r.opts.MaxBytes {
		return n, model.NewError(model.KindPolicyViolation, "blob.Download", "%s exceeds %d bytes", locator, r.opts.MaxBytes)
	}
	return n, nil
}

// Scheme returns the lower-cased scheme of locator, or "" for a plain path.
// Windows drive letters are treated as paths.
func Scheme(locator string) string {
	i := strings.Index(locator, "://")
	if i <= 1 {
		return ""
	}
	return strings.ToLower(locator[:i])
}

// Retryable reports whether a download failure may succeed on retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 429 || se.StatusCode >= 500
	}
	var me *model.Error
	if errors.As(err, &me) {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return false
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection reset", "connection refused", "unexpected EOF", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.WrapError(model.KindDeadlineExceeded, "blob.Download", err)
	}
	if errors.Is(err, context.Canceled) {
		return model.WrapError(model.KindCancelled, "blob.Download", err)
	}
	return model.WrapError(model.KindIO, "blob.Download", err)
}

func backoff(attempt int) time.Duration {
	base := 100 * time.Millisecond << (attempt - 1)
	if base > 2*time.Second {
		base = 2 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base)/2 + 1))
	return base/2 + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
