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

package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Config configures the database.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN overrides the connection string. For sqlite it defaults to a file
	// under DataDir.
	DSN     string
	DataDir string
	Logger  *slog.Logger
}

// Database wraps the gorm handle shared by every store.
type Database struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Open connects to the configured database.
func Open(cfg Config) (*Database, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			if cfg.DataDir == "" {
				homeDir, err := os.UserHomeDir()
				if err != nil {
					return nil, fmt.Errorf("get home dir: %w", err)
				}
				cfg.DataDir = filepath.Join(homeDir, ".morph", "data")
			}
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", filepath.Join(cfg.DataDir, "morph.db"))
		}
		cfg.Driver = "sqlite"
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		cfg.Driver = "postgres"
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(cfg.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// A single writer avoids SQLITE_BUSY storms under concurrent claims.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	return &Database{db: db, driver: cfg.Driver, logger: cfg.Logger}, nil
}

// DB returns the gorm handle.
func (d *Database) DB() *gorm.DB { return d.db }

// Driver returns the normalized driver name.
func (d *Database) Driver() string { return d.driver }

// EnsureSchema creates or upgrades all tables. It is idempotent.
func (d *Database) EnsureSchema() error {
	return Migrate(d.db)
}

// Close closes the connection pool. It is safe to call more than once.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates or upgrades the jobs, chunks and stored_files tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&JobRecord{}, &ChunkRecord{}, &FileRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if db.Dialector.Name() == "postgres" {
		ensureSearchIndexes(db)
	}
	return nil
}

// ensureSearchIndexes adds trigram indexes serving case-insensitive
// substring search. They are optional: without pg_trgm the search still
// works, only slower.
func ensureSearchIndexes(db *gorm.DB) {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pg_trgm").Error; err != nil {
		slog.Default().Warn("storage.search_index.skipped", "err", err)
		return
	}
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_chunks_name_trgm ON chunks USING GIN (LOWER(chunk_name) gin_trgm_ops)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_content_trgm ON chunks USING GIN (LOWER(content) gin_trgm_ops)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_file_name_trgm ON chunks USING GIN (LOWER(file_name) gin_trgm_ops)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			slog.Default().Warn("storage.search_index.failed", "stmt", stmt, "err", err)
		}
	}
}

// slogWriter adapts slog to gorm's logger.Writer.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn("storage.gorm", "msg", fmt.Sprintf(format, args...))
}

// NewGormLogger returns a gorm logger that reports slow queries and errors
// through logger.
func NewGormLogger(logger *slog.Logger) gormLogger.Interface {
	if logger == nil {
		logger = slog.Default()
	}
	return gormLogger.New(slogWriter{logger: logger}, gormLogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormLogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
