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

package extract

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/kraklabs/morph/pkg/model"
)

var safeSessionID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// lockName is the file a holder keeps fresh inside its workspace. Other
// processes sharing the root leave a workspace alone while it is fresh.
const lockName = ".lock"

// DefaultLockTTL is how long a lock stays fresh without a Touch.
const DefaultLockTTL = 30 * time.Minute

// Workspaces hands out one scratch directory per session below a root and
// guarantees each is removed when its owner releases it.
type Workspaces struct {
	root    string
	logger  *slog.Logger
	lockTTL time.Duration

	mu    sync.Mutex
	owned map[string]*Workspace
}

// Workspace is a session's private scratch area.
type Workspace struct {
	SessionID string
	Dir       string

	parent  *Workspaces
	release sync.Once
	err     error
}

// NewWorkspaces creates the root directory if needed.
func NewWorkspaces(root string, logger *slog.Logger) (*Workspaces, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, model.WrapError(model.KindIO, "workspace.root", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, model.WrapError(model.KindIO, "workspace.root", err)
	}
	return &Workspaces{root: abs, logger: logger, lockTTL: DefaultLockTTL, owned: make(map[string]*Workspace)}, nil
}

// SetLockTTL changes how long a workspace lock stays fresh. Holders must
// Touch more often than that.
func (w *Workspaces) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		w.lockTTL = ttl
	}
}

// Root returns the absolute workspace root.
func (w *Workspaces) Root() string { return w.root }

// Acquire creates a fresh directory for sessionID. A leftover directory from a
// previous, crashed holder is wiped first.
func (w *Workspaces) Acquire(sessionID string) (*Workspace, error) {
	if !safeSessionID.MatchString(sessionID) {
		return nil, model.NewError(model.KindPolicyViolation, "workspace.acquire", "unsafe session id %q", sessionID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.owned[sessionID]; busy {
		return nil, model.NewError(model.KindConcurrentClaim, "workspace.acquire", "workspace for session %s is in use", sessionID)
	}

	dir := filepath.Join(w.root, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, model.WrapError(model.KindIO, "workspace.acquire", err)
	}
	for _, d := range []string{dir, filepath.Join(dir, "src"), filepath.Join(dir, ".downloads")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, model.WrapError(model.KindIO, "workspace.acquire", err)
		}
	}

	host, _ := os.Hostname()
	holder := fmt.Sprintf("pid=%d host=%s acquired=%s\n", os.Getpid(), host, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(dir, lockName), []byte(holder), 0o644); err != nil {
		return nil, model.WrapError(model.KindIO, "workspace.acquire", err)
	}

	ws := &Workspace{SessionID: sessionID, Dir: dir, parent: w}
	w.owned[sessionID] = ws
	w.logger.Debug("workspace.acquired", "session_id", sessionID, "dir", dir)
	return ws, nil
}

// InUse reports whether a session currently holds its workspace.
func (w *Workspaces) InUse(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.owned[sessionID]
	return ok
}

// Touch refreshes the lock of a workspace this process holds.
func (w *Workspaces) Touch(sessionID string) error {
	w.mu.Lock()
	ws, ok := w.owned[sessionID]
	w.mu.Unlock()
	if !ok {
		return model.NewError(model.KindNotFound, "workspace.touch", "workspace for session %s is not held", sessionID)
	}
	now := time.Now()
	if err := os.Chtimes(filepath.Join(ws.Dir, lockName), now, now); err != nil {
		return model.WrapError(model.KindIO, "workspace.touch", err)
	}
	return nil
}

// lockedElsewhere reports whether dir carries a lock touched within the TTL.
func (w *Workspaces) lockedElsewhere(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, lockName))
	return err == nil && time.Since(info.ModTime()) < w.lockTTL
}

// Remove deletes the directory of a session nobody holds. It reports false
// when the session is in use, here or by another process with a fresh lock;
// its holder removes the directory on release.
func (w *Workspaces) Remove(sessionID string) (bool, error) {
	if !safeSessionID.MatchString(sessionID) {
		return false, model.NewError(model.KindPolicyViolation, "workspace.remove", "unsafe session id %q", sessionID)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.owned[sessionID]; busy {
		return false, nil
	}
	dir := filepath.Join(w.root, sessionID)
	if w.lockedElsewhere(dir) {
		w.logger.Debug("workspace.remove.locked", "session_id", sessionID)
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, model.WrapError(model.KindIO, "workspace.remove", err)
	}
	return true, nil
}

// SweepStale removes unowned session directories last modified before
// olderThan ago. A directory with a fresh lock is skipped.
func (w *Workspaces) SweepStale(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, model.WrapError(model.KindIO, "workspace.sweep", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || w.InUse(e.Name()) {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		if w.lockedElsewhere(dir) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			w.logger.Warn("workspace.sweep.error", "dir", e.Name(), "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		w.logger.Info("workspace.sweep", "removed", removed)
	}
	return removed, nil
}

// SourceDir is where extracted and downloaded source files live.
func (ws *Workspace) SourceDir() string { return filepath.Join(ws.Dir, "src") }

// TempDir holds raw downloads before extraction.
func (ws *Workspace) TempDir() string { return filepath.Join(ws.Dir, ".downloads") }

// Path resolves a relative source path inside SourceDir, refusing escapes.
func (ws *Workspace) Path(rel string) (string, error) {
	return SafeJoin(ws.SourceDir(), rel)
}

// Release removes the directory tree. It is safe to call more than once.
func (ws *Workspace) Release() error {
	ws.release.Do(func() {
		if err := os.RemoveAll(ws.Dir); err != nil {
			ws.err = fmt.Errorf("remove workspace %s: %w", ws.Dir, err)
			ws.parent.logger.Warn("workspace.release.error", "session_id", ws.SessionID, "err", err)
		}
		ws.parent.mu.Lock()
		delete(ws.parent.owned, ws.SessionID)
		ws.parent.mu.Unlock()
		ws.parent.logger.Debug("workspace.released", "session_id", ws.SessionID)
	})
	return ws.err
}
