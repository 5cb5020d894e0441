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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/morph/internal/config"
	"github.com/kraklabs/morph/pkg/model"
	"github.com/kraklabs/morph/pkg/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = "file:" + filepath.Join(dir, "morph.db")
	cfg.Workspace.Root = filepath.Join(dir, "workspaces")
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.InterDelay = 0
	cfg.Generation.Provider = "mock"
	cfg.Processor.PollInterval = config.Duration(20 * time.Millisecond)
	return cfg
}

func TestOpen_WiresEverything(t *testing.T) {
	app, err := Open(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	assert.NotNil(t, app.Jobs)
	assert.NotNil(t, app.Files)
	assert.NotNil(t, app.Chunks)
	assert.NotNil(t, app.Events)
	assert.NotNil(t, app.Blobs)
	assert.NotNil(t, app.Embedder)
	assert.NotNil(t, app.Agent)
	assert.NotNil(t, app.Processor)
	assert.NotNil(t, app.Service)
	assert.DirExists(t, app.Workspaces.Root())
}

func TestOpen_IngestAndMigrate(t *testing.T) {
	cfg := testConfig(t)
	app, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "tasks.py")
	require.NoError(t, os.WriteFile(src, []byte("def add_task(title):\n    return {'title': title}\n"), 0o644))

	_, err = app.Service.CreateJob(ctx, "boot", "u1", service.Inputs{Files: []service.Input{{Filename: "tasks.py", Locator: src}}})
	require.NoError(t, err)
	_, err = app.Processor.ProcessPending(ctx)
	require.NoError(t, err)

	st, err := app.Service.GetJob(ctx, "boot")
	require.NoError(t, err)
	require.Equal(t, model.JobReady, st.Status, "error: %+v", st.Error)

	// The mock generation provider answers "[]" to schema requests, which is
	// an empty migration.
	_, err = app.Service.Migrate(ctx, "boot", model.MigrationRequest{ToLang: "Go"})
	assert.ErrorIs(t, err, model.ErrGenerationFailed)

	require.NoError(t, app.Service.DeleteJob(ctx, "boot"))
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processor.MaxConcurrentJobs = 0
	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "maxConcurrentJobs")
}

func TestClose_Idempotent(t *testing.T) {
	app, err := Open(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, app.Close())
	require.NoError(t, app.Close())
}

func TestOpen_Redis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cfg := testConfig(t)
	cfg.Events.Driver = "redis"
	cfg.Events.RedisAddr = addr
	app, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, app.Close())
}
