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
	"sync"
	"sync/atomic"
)

// CredentialPool is an ordered list of equivalent credentials rotated
// round-robin, each with a failed flag. It is safe for concurrent use and is
// meant to be shared process-wide.
type CredentialPool struct {
	mu    sync.Mutex
	creds []*credential
	next  int
	// epoch advances on every reset so that concurrent callers who all saw
	// an exhausted pool clear it only once.
	epoch uint64
}

type credential struct {
	key    string
	mu     sync.Mutex
	failed atomic.Bool
}

// Lease is a credential handed out for one call.
type Lease struct {
	Key   string
	index int
	epoch uint64
}

// Epoch returns the pool generation observed when the lease was taken.
func (l Lease) Epoch() uint64 { return l.epoch }

// NewCredentialPool creates a pool over keys. An empty list yields a pool
// with a single anonymous credential, for providers without authentication.
func NewCredentialPool(keys []string) *CredentialPool {
	if len(keys) == 0 {
		keys = []string{""}
	}
	p := &CredentialPool{creds: make([]*credential, len(keys))}
	for i, k := range keys {
		p.creds[i] = &credential{key: k}
	}
	return p
}

// Size returns the number of credentials.
func (p *CredentialPool) Size() int { return len(p.creds) }

// Next returns the next non-failed credential starting from the current
// index. ok is false when every credential is failed; the returned lease then
// carries only the epoch to pass to Reset.
func (p *CredentialPool) Next() (lease Lease, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.creds)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		c := p.creds[idx]
		if c.failed.Load() {
			continue
		}
		p.next = (idx + 1) % n
		return Lease{Key: c.key, index: idx, epoch: p.epoch}, true
	}
	return Lease{index: -1, epoch: p.epoch}, false
}

// MarkFailed flags the leased credential. It reports whether this call
// flipped the flag; concurrent callers failing on the same credential see
// false.
func (p *CredentialPool) MarkFailed(l Lease) bool {
	if l.index < 0 || l.index >= len(p.creds) {
		return false
	}
	c := p.creds[l.index]
	c.mu.Lock()
	defer c.mu.Unlock()
	p.mu.Lock()
	stale := l.epoch != p.epoch
	p.mu.Unlock()
	if stale || c.failed.Load() {
		return false
	}
	c.failed.Store(true)
	return true
}

// Reset clears every failed flag if no other caller has reset the pool
// since epoch was observed. It reports whether this call performed the reset.
func (p *CredentialPool) Reset(epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		return false
	}
	for _, c := range p.creds {
		c.failed.Store(false)
	}
	p.epoch++
	return true
}

// Failed returns how many credentials are currently flagged.
func (p *CredentialPool) Failed() int {
	n := 0
	for _, c := range p.creds {
		if c.failed.Load() {
			n++
		}
	}
	return n
}
