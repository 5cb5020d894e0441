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
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// NewDB opens an isolated database for one test and closes it on cleanup.
func NewDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var dialector gorm.Dialector
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		dialector = postgres.Open(dsn)
	} else {
		path := filepath.Join(tb.TempDir(), "morph.db")
		dialector = sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Tx begins a transaction that is rolled back when the test ends.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// ArchiveFile describes one archive member.
type ArchiveFile struct {
	Name    string
	Body    string
	Dir     bool
	Symlink string // link target; when set, Body is ignored
}

// BuildZip writes a zip archive to dir/name and returns its path.
func BuildZip(tb testing.TB, dir, name string, files []ArchiveFile) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create zip: %v", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	for _, af := range files {
		hdr := &zip.FileHeader{Name: af.Name, Method: zip.Deflate, Modified: time.Unix(1700000000, 0)}
		switch {
		case af.Dir:
			hdr.Name = af.Name + "/"
			hdr.SetMode(os.ModeDir | 0o755)
		case af.Symlink != "":
			hdr.SetMode(os.ModeSymlink | 0o777)
		default:
			hdr.SetMode(0o644)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			tb.Fatalf("zip header %s: %v", af.Name, err)
		}
		body := af.Body
		if af.Symlink != "" {
			body = af.Symlink
		}
		if _, err := io.WriteString(w, body); err != nil {
			tb.Fatalf("zip write %s: %v", af.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("close zip: %v", err)
	}
	return path
}

// BuildTar writes a tar (or gzip-compressed tar) archive to dir/name.
func BuildTar(tb testing.TB, dir, name string, gz bool, files []ArchiveFile) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create tar: %v", err)
	}
	defer func() { _ = f.Close() }()

	var w io.Writer = f
	var gzw *gzip.Writer
	if gz {
		gzw = gzip.NewWriter(f)
		w = gzw
	}
	tw := tar.NewWriter(w)
	for _, af := range files {
		hdr := &tar.Header{Name: af.Name, Mode: 0o644, ModTime: time.Unix(1700000000, 0)}
		switch {
		case af.Dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case af.Symlink != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = af.Symlink
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(af.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatalf("tar header %s: %v", af.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, af.Body); err != nil {
				tb.Fatalf("tar write %s: %v", af.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		tb.Fatalf("close tar: %v", err)
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			tb.Fatalf("close gzip: %v", err)
		}
	}
	return path
}

// WriteTree creates files below root from a map of slash paths to contents.
func WriteTree(tb testing.TB, root string, files map[string]string) {
	tb.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			tb.Fatalf("write %s: %v", rel, err)
		}
	}
}
