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

// Package freemap models the free-sector bitmap collaborator: allocate(n)
// and release(sector, n) over the device's sector space. It is an external
// collaborator per the core design (the bitmap's own persistence format is
// out of scope), so this package holds only the contract plus an
// in-process implementation adequate for driving and testing the inode and
// directory layers end to end. The allocation strategy (next-fit: the scan
// starts just past the previous allocation and wraps around, and freed
// sectors return to the pool for reuse) follows the shape of
// the block-device-backed allocator's free-offset pool, expressed as a
// bitmap over sector numbers instead of a free list.
package freemap

import (
	"fmt"
	"sync"

	"github.com/kernelfs/diskfs/internal/blockdev"
)

// Allocator is the free-map collaborator contract. n == 1 in every core
// caller; the contract supports larger runs because the collaborator's
// real implementation does, and Reserve-up-front style rollback strategies
// benefit from being able to request a contiguous run.
type Allocator interface {
	// Allocate returns the first sector of a contiguous run of n free
	// sectors, marking them used, or an error if no such run exists.
	Allocate(n int) (blockdev.SectorNum, error)

	// Release returns the n sectors starting at sector to the free pool.
	Release(sector blockdev.SectorNum, n int)
}

// BitmapAllocator is a process-wide singleton guarded by one lock, matching
// the lock-ordering contract: acquisitions are always the shortest
// possible, one allocate or release, then release.
type BitmapAllocator struct {
	mu   sync.Mutex
	used []bool // used[i] true iff sector i is allocated
	// nextHint speeds up the common case of scanning from where the last
	// allocation left off, the same rolling-hint trick the FD table uses
	// for slot allocation.
	nextHint blockdev.SectorNum
}

var _ Allocator = (*BitmapAllocator)(nil)

// NewBitmapAllocator returns an allocator over sectorCount sectors. Sector 0
// is reserved for the bitmap's own bookkeeping and is pre-marked used, per
// the data model's note that sector 0 is special.
func NewBitmapAllocator(sectorCount blockdev.SectorNum) *BitmapAllocator {
	used := make([]bool, sectorCount)
	if sectorCount > 0 {
		used[0] = true
	}
	return &BitmapAllocator{used: used, nextHint: 1}
}

func (a *BitmapAllocator) Allocate(n int) (blockdev.SectorNum, error) {
	if n <= 0 {
		return 0, fmt.Errorf("freemap: invalid allocation size %d", n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	total := blockdev.SectorNum(len(a.used))
	start := a.nextHint
	for tried := blockdev.SectorNum(0); tried < total; tried++ {
		candidate := (start + tried) % total
		if a.runFree(candidate, n) {
			for i := 0; i < n; i++ {
				a.used[int(candidate)+i] = true
			}
			a.nextHint = candidate + blockdev.SectorNum(n)
			return candidate, nil
		}
	}

	return 0, fmt.Errorf("freemap: no free run of %d sector(s) available", n)
}

func (a *BitmapAllocator) runFree(start blockdev.SectorNum, n int) bool {
	if int(start)+n > len(a.used) {
		return false
	}
	for i := 0; i < n; i++ {
		if a.used[int(start)+i] {
			return false
		}
	}
	return true
}

func (a *BitmapAllocator) Release(sector blockdev.SectorNum, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := int(sector) + i
		if idx < 0 || idx >= len(a.used) {
			continue
		}
		a.used[idx] = false
	}
}

// MarkUsed reserves the n sectors starting at sector without requiring them
// to come from Allocate. For seeding a freshly constructed allocator with
// sectors a caller knows are already live on disk (the root inode's own
// sector, or anything found by scanning an existing image) before any
// Allocate call can hand one of them out a second time.
func (a *BitmapAllocator) MarkUsed(sector blockdev.SectorNum, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := int(sector) + i
		if idx < 0 || idx >= len(a.used) {
			continue
		}
		a.used[idx] = true
	}
}

// FreeCount returns the number of currently-unallocated sectors. The inode
// tests use it to check that shrinking a file, and closing the last opener
// of a removed file, return sectors to the pool.
func (a *BitmapAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, u := range a.used {
		if !u {
			n++
		}
	}
	return n
}
