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

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/fserrors"
	"github.com/kernelfs/diskfs/internal/metrics"
)

// numSectors returns the number of sector-sized slots a file of the given
// length occupies. A file is sparse in the sense that every slot below this
// count is allocated, whether or not it has been explicitly written.
func numSectors(length int64) int {
	if length <= 0 {
		return 0
	}
	return int((length + blockdev.SectorSize - 1) / blockdev.SectorSize)
}

// slotLocation decomposes a flat slot index into the tier (0 = direct, 1 =
// single indirect, 2 = doubly indirect) and the index or (outer, inner) pair
// within that tier.
func slotLocation(slot int) (tier, a, b int) {
	if slot < NumDirect {
		return 0, slot, 0
	}
	slot -= NumDirect
	if slot < NumIndirect {
		return 1, slot, 0
	}
	slot -= NumIndirect
	return 2, slot / pointersPerBlock, slot % pointersPerBlock
}

// sectorOf returns the sector holding byte offset p of h's current contents,
// or NoSector if p is at or past the current length.
//
// REQUIRES: caller holds h.dataLock (any mode)
func (s *Store) sectorOf(h *Handle, p int64) (blockdev.SectorNum, error) {
	h.resizeLock.Lock()
	length := int64(h.disk.Length)
	disk := h.disk
	h.resizeLock.Unlock()

	if p < 0 || p >= length {
		return NoSector, nil
	}

	slot := int(p / blockdev.SectorSize)
	tier, a, b := slotLocation(slot)

	switch tier {
	case 0:
		return blockdev.SectorNum(disk.Direct[a]), nil
	case 1:
		if disk.Indirect == 0 {
			return NoSector, nil
		}
		ptrs, err := s.readPointerBlock(blockdev.SectorNum(disk.Indirect))
		if err != nil {
			return NoSector, err
		}
		return blockdev.SectorNum(ptrs[a]), nil
	default:
		if disk.DoublyIndirect == 0 {
			return NoSector, nil
		}
		outer, err := s.readPointerBlock(blockdev.SectorNum(disk.DoublyIndirect))
		if err != nil {
			return NoSector, err
		}
		if outer[a] == 0 {
			return NoSector, nil
		}
		inner, err := s.readPointerBlock(blockdev.SectorNum(outer[a]))
		if err != nil {
			return NoSector, err
		}
		return blockdev.SectorNum(inner[b]), nil
	}
}

// resizePlan is the staging area for one resize: a working copy of the
// header plus any pointer blocks touched, mutated in memory first so a
// failed allocation never leaves on-disk structures half updated.
type resizePlan struct {
	s *Store

	disk onDiskInode

	indirectLoaded bool
	indirect       []uint32

	outerLoaded bool
	outer       []uint32

	inner map[int][]uint32 // outer index -> loaded/staged inner block

	// which pointer blocks are scheduled for a write at commit (inner
	// blocks keyed by outer index).
	dirtyIndirect bool
	dirtyOuter    bool
	dirtyInner    map[int]bool

	// newly allocated sectors this resize, in allocation order, for
	// rollback on failure and zeroing on success.
	allocated     []blockdev.SectorNum
	zeroOnCommit  []blockdev.SectorNum
}

func newResizePlan(s *Store, disk onDiskInode) *resizePlan {
	return &resizePlan{
		s:     s,
		disk:  disk,
		inner: make(map[int][]uint32),
		dirtyInner: make(map[int]bool),
	}
}

func (p *resizePlan) loadIndirect() error {
	if p.indirectLoaded {
		return nil
	}
	if p.disk.Indirect == 0 {
		p.indirect = make([]uint32, pointersPerBlock)
	} else {
		ptrs, err := p.s.readPointerBlock(blockdev.SectorNum(p.disk.Indirect))
		if err != nil {
			return err
		}
		p.indirect = ptrs
	}
	p.indirectLoaded = true
	return nil
}

func (p *resizePlan) loadOuter() error {
	if p.outerLoaded {
		return nil
	}
	if p.disk.DoublyIndirect == 0 {
		p.outer = make([]uint32, pointersPerBlock)
	} else {
		ptrs, err := p.s.readPointerBlock(blockdev.SectorNum(p.disk.DoublyIndirect))
		if err != nil {
			return err
		}
		p.outer = ptrs
	}
	p.outerLoaded = true
	return nil
}

func (p *resizePlan) loadInner(outerIdx int) error {
	if _, ok := p.inner[outerIdx]; ok {
		return nil
	}
	if p.outer[outerIdx] == 0 {
		p.inner[outerIdx] = make([]uint32, pointersPerBlock)
		return nil
	}
	ptrs, err := p.s.readPointerBlock(blockdev.SectorNum(p.outer[outerIdx]))
	if err != nil {
		return err
	}
	p.inner[outerIdx] = ptrs
	return nil
}

// allocate reserves one sector from the free-map and records it so a later
// failure in this same resize can release everything reserved so far.
func (p *resizePlan) allocate() (blockdev.SectorNum, error) {
	sector, err := p.s.freemap.Allocate(1)
	if err != nil {
		return 0, err
	}
	p.allocated = append(p.allocated, sector)
	return sector, nil
}

// rollback releases every sector this plan reserved. Called only when a
// later allocation in the same resize fails; real on-disk state has not
// been touched yet, so releasing the reservations is sufficient to restore
// the free-map to its pre-resize state.
func (p *resizePlan) rollback() {
	for _, sector := range p.allocated {
		p.s.freemap.Release(sector, 1)
	}
	metrics.InodeAllocationFailures.Inc()
}

// growSlot ensures slot's data sector exists, allocating index and data
// sectors as needed and staging the new pointer.
func (p *resizePlan) growSlot(slot int) error {
	tier, a, b := slotLocation(slot)

	switch tier {
	case 0:
		if p.disk.Direct[a] != 0 {
			return nil
		}
		sector, err := p.allocate()
		if err != nil {
			return err
		}
		p.disk.Direct[a] = uint32(sector)
		p.zeroOnCommit = append(p.zeroOnCommit, sector)
		return nil

	case 1:
		if err := p.loadIndirect(); err != nil {
			return err
		}
		if p.disk.Indirect == 0 {
			sector, err := p.allocate()
			if err != nil {
				return err
			}
			p.disk.Indirect = uint32(sector)
		}
		if p.indirect[a] != 0 {
			return nil
		}
		sector, err := p.allocate()
		if err != nil {
			return err
		}
		p.indirect[a] = uint32(sector)
		p.dirtyIndirect = true
		p.zeroOnCommit = append(p.zeroOnCommit, sector)
		return nil

	default:
		if err := p.loadOuter(); err != nil {
			return err
		}
		if p.disk.DoublyIndirect == 0 {
			sector, err := p.allocate()
			if err != nil {
				return err
			}
			p.disk.DoublyIndirect = uint32(sector)
		}
		if err := p.loadInner(a); err != nil {
			return err
		}
		if p.outer[a] == 0 {
			sector, err := p.allocate()
			if err != nil {
				return err
			}
			p.outer[a] = uint32(sector)
			p.dirtyOuter = true
		}
		if p.inner[a][b] != 0 {
			return nil
		}
		sector, err := p.allocate()
		if err != nil {
			return err
		}
		p.inner[a][b] = uint32(sector)
		p.dirtyInner[a] = true
		p.zeroOnCommit = append(p.zeroOnCommit, sector)
		return nil
	}
}

// shrinkSlot releases slot's data sector, if any, and clears its pointer.
// Index sectors are released separately once every slot they cover has
// been cleared, by the caller's post-pass.
func (p *resizePlan) shrinkSlot(slot int) error {
	tier, a, b := slotLocation(slot)

	switch tier {
	case 0:
		if p.disk.Direct[a] == 0 {
			return nil
		}
		p.s.freemap.Release(blockdev.SectorNum(p.disk.Direct[a]), 1)
		p.disk.Direct[a] = 0
		return nil

	case 1:
		if p.disk.Indirect == 0 {
			return nil
		}
		if err := p.loadIndirect(); err != nil {
			return err
		}
		if p.indirect[a] != 0 {
			p.s.freemap.Release(blockdev.SectorNum(p.indirect[a]), 1)
			p.indirect[a] = 0
			p.dirtyIndirect = true
		}
		return nil

	default:
		if p.disk.DoublyIndirect == 0 {
			return nil
		}
		if err := p.loadOuter(); err != nil {
			return err
		}
		if p.outer[a] == 0 {
			return nil
		}
		if err := p.loadInner(a); err != nil {
			return err
		}
		if p.inner[a][b] != 0 {
			p.s.freemap.Release(blockdev.SectorNum(p.inner[a][b]), 1)
			p.inner[a][b] = 0
			p.dirtyInner[a] = true
		}
		return nil
	}
}

func allZero(ptrs []uint32) bool {
	for _, v := range ptrs {
		if v != 0 {
			return false
		}
	}
	return true
}

// reclaimEmptyIndex releases the indirect sector and any doubly-indirect
// inner/outer sectors that have gone completely unused, after a shrink has
// cleared their data pointers.
func (p *resizePlan) reclaimEmptyIndex() {
	if p.indirectLoaded && p.disk.Indirect != 0 && allZero(p.indirect) {
		p.s.freemap.Release(blockdev.SectorNum(p.disk.Indirect), 1)
		p.disk.Indirect = 0
		p.dirtyIndirect = false
	}

	for outerIdx, block := range p.inner {
		if p.outer[outerIdx] != 0 && allZero(block) {
			p.s.freemap.Release(blockdev.SectorNum(p.outer[outerIdx]), 1)
			p.outer[outerIdx] = 0
			p.dirtyOuter = true
		}
	}

	if p.outerLoaded && p.disk.DoublyIndirect != 0 && allZero(p.outer) {
		p.s.freemap.Release(blockdev.SectorNum(p.disk.DoublyIndirect), 1)
		p.disk.DoublyIndirect = 0
		p.dirtyOuter = false
	}
}

// commit zeros newly allocated data sectors, writes every modified pointer
// block, and writes the inode sector itself with the final header.
func (p *resizePlan) commit(sector blockdev.SectorNum) error {
	for _, s := range p.zeroOnCommit {
		if err := p.s.zeroSector(s); err != nil {
			return err
		}
	}

	if p.dirtyIndirect {
		if err := p.s.writePointerBlock(blockdev.SectorNum(p.disk.Indirect), p.indirect); err != nil {
			return err
		}
	}
	if p.dirtyOuter {
		if err := p.s.writePointerBlock(blockdev.SectorNum(p.disk.DoublyIndirect), p.outer); err != nil {
			return err
		}
	}
	for outerIdx, dirty := range p.dirtyInner {
		if !dirty || p.outer[outerIdx] == 0 {
			continue
		}
		if err := p.s.writePointerBlock(blockdev.SectorNum(p.outer[outerIdx]), p.inner[outerIdx]); err != nil {
			return err
		}
	}

	if err := p.s.writeDiskInode(sector, &p.disk); err != nil {
		return err
	}

	metrics.InodeAllocations.Add(float64(len(p.allocated)))
	return nil
}

// resize grows or shrinks h to newLength. Growth is planned in two phases:
// every sector the new length requires is reserved from the free-map
// before any pointer, header, or bitmap-adjacent on-disk state is
// mutated; if a reservation fails partway through, every sector reserved
// so far by this resize is released and h is left exactly as it was.
// Shrinking only ever releases sectors, which cannot fail, so it proceeds
// directly.
//
// REQUIRES: caller holds h.dataLock for writing (or h is not yet
// registered, as when called from Create)
func (s *Store) resize(h *Handle, newLength int64) error {
	if newLength < 0 {
		return fmt.Errorf("%w: negative length %d", fserrors.ErrArgument, newLength)
	}
	if newLength > MaxFileSize {
		return fmt.Errorf("%w: length %d exceeds maximum file size %d", fserrors.ErrArgument, newLength, MaxFileSize)
	}

	h.resizeLock.Lock()
	oldLength := int64(h.disk.Length)
	disk := h.disk
	h.resizeLock.Unlock()

	oldCount := numSectors(oldLength)
	newCount := numSectors(newLength)

	plan := newResizePlan(s, disk)

	if newCount > oldCount {
		for slot := oldCount; slot < newCount; slot++ {
			if err := plan.growSlot(slot); err != nil {
				plan.rollback()
				return fmt.Errorf("inode: resize: growing sector %d: %w", slot, err)
			}
		}
	} else if newCount < oldCount {
		for slot := oldCount - 1; slot >= newCount; slot-- {
			// Releases never fail; errors here only come from reading an
			// already-corrupt pointer block.
			if err := plan.shrinkSlot(slot); err != nil {
				return fmt.Errorf("inode: resize: shrinking sector %d: %w", slot, err)
			}
		}
		plan.reclaimEmptyIndex()
	}

	plan.disk.Length = int32(newLength)

	if err := plan.commit(h.sector); err != nil {
		return fmt.Errorf("inode: resize: commit: %w", err)
	}

	h.resizeLock.Lock()
	h.disk = plan.disk
	h.resizeLock.Unlock()

	return nil
}
