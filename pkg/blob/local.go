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
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/kraklabs/morph/pkg/model"
)

// Local opens plain paths and file:// URLs.
type Local struct{}

func (Local) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := LocalPath(locator)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, model.NewError(model.KindIO, "blob.Local", "%s is not a regular file", path)
	}
	return f, nil
}

// LocalPath resolves a plain path or file:// URL to a filesystem path.
func LocalPath(locator string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(locator), "file://") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", model.WrapError(model.KindIO, "blob.LocalPath", err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", model.NewError(model.KindIO, "blob.LocalPath", "remote file host %q", u.Host)
	}
	return u.Path, nil
}
