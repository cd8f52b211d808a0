// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inode

import (
	"fmt"
	"sync"

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/logger"
	"github.com/kernelfs/diskfs/internal/metrics"
)

// Handle is the in-memory shadow of one on-disk inode. At most one Handle
// exists per home sector at any time; every opener of that sector shares
// it, per the open-inode registry's uniqueness invariant.
type Handle struct {
	sector blockdev.SectorNum
	store  *Store

	// dataLock serializes data I/O (ReadAt/WriteAt). Growing a file is
	// done with dataLock held so that a writer observes a consistent
	// length even while growing, per the ordering guarantees.
	dataLock sync.RWMutex

	// resizeLock guards metadata mutation: the pointer graph, Length, and
	// the bookkeeping fields below. It is always acquired after dataLock
	// (never the reverse), matching the documented lock order.
	resizeLock sync.Mutex

	// GUARDED_BY resizeLock
	openCount      int
	removed        bool
	denyWriteCount int
	disk           onDiskInode
}

// registryLock is the open-inode registry: a process-wide map from home
// sector to the one Handle shared by every opener of that sector.
type registryLock struct {
	mu      sync.Mutex
	handles map[blockdev.SectorNum]*Handle
}

// Open returns the shared Handle for sector, creating and registering one
// if this is the first opener. Matching opens/closes keep openCount
// balanced; a home sector is registered at most once at any time.
func (s *Store) Open(sector blockdev.SectorNum) (*Handle, error) {
	s.registry.mu.Lock()
	if h, ok := s.registry.handles[sector]; ok {
		h.resizeLock.Lock()
		h.openCount++
		h.resizeLock.Unlock()
		s.registry.mu.Unlock()
		return h, nil
	}

	// Not yet resident: read the on-disk inode and install a fresh
	// handle while still holding the registry lock, so no concurrent
	// opener can race us into creating a second shadow of this sector.
	disk, err := s.readDiskInode(sector)
	if err != nil {
		s.registry.mu.Unlock()
		return nil, err
	}

	h := &Handle{
		sector:    sector,
		store:     s,
		openCount: 1,
		disk:      disk,
	}
	s.registry.handles[sector] = h
	metrics.OpenInodes.Set(float64(len(s.registry.handles)))
	s.registry.mu.Unlock()

	return h, nil
}

// Reopen increments h's reference count without a registry lookup, for
// callers that already hold a Handle (e.g. duplicating a file descriptor
// across processes sharing the same open file).
func (s *Store) Reopen(h *Handle) {
	h.resizeLock.Lock()
	h.openCount++
	h.resizeLock.Unlock()
}

// Close drops one reference to h. When the reference count reaches zero,
// the handle is removed from the registry; if it had been marked removed,
// every sector reachable from the on-disk inode plus the inode sector
// itself is released to the free-map before the handle is discarded.
func (s *Store) Close(h *Handle) error {
	h.resizeLock.Lock()
	if h.openCount == 0 {
		h.resizeLock.Unlock()
		logger.Fatalf("inode: Close called on handle with zero open count (sector %d)", h.sector)
		return nil
	}
	h.openCount--
	destroy := h.openCount == 0
	removed := h.removed
	h.resizeLock.Unlock()

	if !destroy {
		return nil
	}

	s.registry.mu.Lock()
	delete(s.registry.handles, h.sector)
	metrics.OpenInodes.Set(float64(len(s.registry.handles)))
	s.registry.mu.Unlock()

	if !removed {
		return nil
	}

	// Deferred deletion: shrink to zero releases every data and index
	// sector, then release the inode sector itself.
	h.dataLock.Lock()
	err := s.resize(h, 0)
	h.dataLock.Unlock()
	if err != nil {
		return fmt.Errorf("inode: releasing sectors for removed inode %d: %w", h.sector, err)
	}

	s.freemap.Release(h.sector, 1)
	return nil
}

// Remove marks h for deferred deletion: its data will be released to the
// free-map once the last opener closes it, but it remains fully readable
// and writable by every handle still holding it open until then.
func (s *Store) Remove(h *Handle) {
	h.resizeLock.Lock()
	h.removed = true
	h.resizeLock.Unlock()
}

// Removed reports whether h has been marked for deferred deletion.
func (s *Store) Removed(h *Handle) bool {
	h.resizeLock.Lock()
	defer h.resizeLock.Unlock()
	return h.removed
}

// DenyWrite increments h's deny-write count. Used by the loader to protect
// an executing file's image from modification.
func (s *Store) DenyWrite(h *Handle) {
	h.resizeLock.Lock()
	h.denyWriteCount++
	h.resizeLock.Unlock()
}

// AllowWrite decrements h's deny-write count.
func (s *Store) AllowWrite(h *Handle) {
	h.resizeLock.Lock()
	if h.denyWriteCount == 0 {
		h.resizeLock.Unlock()
		logger.Fatalf("inode: AllowWrite called with zero deny-write count (sector %d)", h.sector)
		return
	}
	h.denyWriteCount--
	h.resizeLock.Unlock()
}

// Sector returns h's home sector.
func (h *Handle) Sector() blockdev.SectorNum { return h.sector }

// Length returns the inode's current byte length.
func (s *Store) Length(h *Handle) int64 {
	h.resizeLock.Lock()
	defer h.resizeLock.Unlock()
	return int64(h.disk.Length)
}

// Type returns the inode's type.
func (s *Store) Type(h *Handle) Type {
	h.resizeLock.Lock()
	defer h.resizeLock.Unlock()
	return h.disk.Type
}
