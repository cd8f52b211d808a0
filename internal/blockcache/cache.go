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

// Package blockcache implements the buffered block cache fronting the
// block device: a fixed-size, write-back, NRU-evicting set of sector
// buffers shared by every caller in the process. The eviction shape
// follows lease.FileLeaser's refcounted, space-bounded LRU pool, adapted
// here to sector buffers kept resident in memory rather than files kept
// resident on disk.
package blockcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/logger"
	"github.com/kernelfs/diskfs/internal/metrics"
	"github.com/kernelfs/diskfs/internal/ticksource"
)

// DefaultCapacity is the fixed number of buffers in the cache set, per the
// core design's "64 blocks guarded by one lock".
const DefaultCapacity = 64

type cacheKey struct {
	device blockdev.Device
	sector blockdev.SectorNum
}

// block is one slot in the cache set.
type block struct {
	key     cacheKey
	dirty   bool
	touched uint64
	buf     [blockdev.SectorSize]byte
}

// Cache is the bounded, write-back block cache. One Cache instance is
// shared process-wide; all of its operations are blocking and safe under
// concurrent callers.
type Cache struct {
	mu       sync.Mutex
	capacity int
	tick     ticksource.Source

	// order keeps blocks from most-recently-touched (front) to
	// least-recently-touched (back); the eviction victim is always the
	// element at the back, which is equivalent to "the buffer with the
	// smallest last_touched" without a linear scan.
	order *list.List // of *block
	index map[cacheKey]*list.Element
}

// New returns a block cache with the default capacity of 64 buffers.
func New() *Cache {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity is exposed for tests that want to exercise eviction with a
// small, easy-to-drive capacity (e.g. the documented 64-slot, 65-sector
// eviction scenario uses the default; smaller tests can shrink it).
func NewWithCapacity(capacity int) *Cache {
	if capacity <= 0 {
		panic("blockcache: capacity must be positive")
	}
	return &Cache{
		capacity: capacity,
		tick:     ticksource.NewMonotonic(),
		order:    list.New(),
		index:    make(map[cacheKey]*list.Element, capacity),
	}
}

// WithTickSource overrides the tick source that stamps each block's touched
// field. Eviction takes the back of the recency list and never reads the
// tick values, so a different source does not change which block is evicted.
func (c *Cache) WithTickSource(ts ticksource.Source) *Cache {
	c.tick = ts
	return c
}

// Read copies one full sector into dst.
//
// REQUIRES: len(dst) == blockdev.SectorSize
func (c *Cache) Read(device blockdev.Device, sector blockdev.SectorNum, dst []byte) error {
	if len(dst) != blockdev.SectorSize {
		return fmt.Errorf("blockcache: Read: dst must be %d bytes, got %d", blockdev.SectorSize, len(dst))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.fetchLocked(device, sector)
	if err != nil {
		return err
	}

	copy(dst, b.buf[:])
	return nil
}

// ReadOffset copies chunk bytes starting at sectorOffset within the sector
// into dst.
//
// REQUIRES: sectorOffset+chunk <= blockdev.SectorSize
// REQUIRES: len(dst) >= chunk
func (c *Cache) ReadOffset(device blockdev.Device, sector blockdev.SectorNum, dst []byte, sectorOffset, chunk int) error {
	if err := checkChunk(sectorOffset, chunk); err != nil {
		return err
	}
	if len(dst) < chunk {
		return fmt.Errorf("blockcache: ReadOffset: dst too small for chunk %d", chunk)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.fetchLocked(device, sector)
	if err != nil {
		return err
	}

	copy(dst[:chunk], b.buf[sectorOffset:sectorOffset+chunk])
	return nil
}

// Write overwrites an entire sector with src.
//
// REQUIRES: len(src) == blockdev.SectorSize
func (c *Cache) Write(device blockdev.Device, sector blockdev.SectorNum, src []byte) error {
	if len(src) != blockdev.SectorSize {
		return fmt.Errorf("blockcache: Write: src must be %d bytes, got %d", blockdev.SectorSize, len(src))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[cacheKey{device, sector}]; ok {
		metrics.CacheHits.Inc()
		b := elem.Value.(*block)
		copy(b.buf[:], src)
		b.dirty = true
		c.touchLocked(elem, b)
		return nil
	}

	// Miss, full sector: no need to read the old content, it's about to be
	// entirely replaced.
	metrics.CacheMisses.Inc()
	b := c.allocateLocked(device, sector)
	copy(b.buf[:], src)
	b.dirty = true
	return nil
}

// WriteOffset overwrites chunk bytes starting at sectorOffset within the
// sector with src.
//
// REQUIRES: sectorOffset+chunk <= blockdev.SectorSize
// REQUIRES: len(src) >= chunk
func (c *Cache) WriteOffset(device blockdev.Device, sector blockdev.SectorNum, src []byte, sectorOffset, chunk int) error {
	if err := checkChunk(sectorOffset, chunk); err != nil {
		return err
	}
	if len(src) < chunk {
		return fmt.Errorf("blockcache: WriteOffset: src too small for chunk %d", chunk)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[cacheKey{device, sector}]; ok {
		metrics.CacheHits.Inc()
		b := elem.Value.(*block)
		copy(b.buf[sectorOffset:sectorOffset+chunk], src[:chunk])
		b.dirty = true
		c.touchLocked(elem, b)
		return nil
	}

	// Miss, partial: we must read the old sector in first so the bytes
	// outside [sectorOffset, sectorOffset+chunk) survive, then persist the
	// merged sector immediately. This is the one write path that does not
	// stay purely write-back: a read-modified sector that is never touched
	// again must still be durable.
	metrics.CacheMisses.Inc()
	b := c.allocateLocked(device, sector)
	if err := device.Read(sector, b.buf[:]); err != nil {
		return fmt.Errorf("blockcache: fill on partial-write miss: %w", err)
	}
	copy(b.buf[sectorOffset:sectorOffset+chunk], src[:chunk])

	if err := device.Write(sector, b.buf[:]); err != nil {
		return fmt.Errorf("blockcache: immediate writeback on partial-write miss: %w", err)
	}
	b.dirty = false

	return nil
}

// Flush writes every dirty buffer back to its device and clears the dirty
// flag. It does not invalidate the cache.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.order.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if !b.dirty {
			continue
		}
		if err := b.key.device.Write(b.key.sector, b.buf[:]); err != nil {
			return fmt.Errorf("blockcache: flush sector %d: %w", b.key.sector, err)
		}
		b.dirty = false
		metrics.CacheWritebacks.Inc()
	}

	return nil
}

// Shutdown flushes all dirty buffers and discards the cache's contents. The
// Cache must not be used afterward.
func (c *Cache) Shutdown() error {
	if err := c.Flush(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.index = make(map[cacheKey]*list.Element)
	return nil
}

////////////////////////////////////////////////////////////////////////
// Helpers (all require c.mu held)
////////////////////////////////////////////////////////////////////////

func checkChunk(sectorOffset, chunk int) error {
	if sectorOffset < 0 || chunk < 0 || sectorOffset+chunk > blockdev.SectorSize {
		return fmt.Errorf("blockcache: offset+chunk (%d+%d) must fit within one sector", sectorOffset, chunk)
	}
	return nil
}

// fetchLocked returns the block for (device, sector), loading it from the
// device on a miss.
func (c *Cache) fetchLocked(device blockdev.Device, sector blockdev.SectorNum) (*block, error) {
	key := cacheKey{device, sector}
	if elem, ok := c.index[key]; ok {
		metrics.CacheHits.Inc()
		b := elem.Value.(*block)
		c.touchLocked(elem, b)
		return b, nil
	}

	metrics.CacheMisses.Inc()
	b := c.allocateLocked(device, sector)
	if err := device.Read(sector, b.buf[:]); err != nil {
		return nil, fmt.Errorf("blockcache: fill on read miss: %w", err)
	}
	return b, nil
}

// allocateLocked evicts if the set is full, then installs and returns a
// fresh block for key at the front of the recency order. The caller is
// responsible for filling buf appropriately.
func (c *Cache) allocateLocked(device blockdev.Device, sector blockdev.SectorNum) *block {
	if c.order.Len() >= c.capacity {
		c.evictLocked()
	}

	b := &block{key: cacheKey{device, sector}}
	elem := c.order.PushFront(b)
	c.index[b.key] = elem
	b.touched = c.tick.Tick()
	return b
}

// evictLocked writes back the least-recently-touched buffer if dirty, then
// removes it from the cache set.
func (c *Cache) evictLocked() {
	victim := c.order.Back()
	if victim == nil {
		return
	}
	b := victim.Value.(*block)

	if b.dirty {
		if err := b.key.device.Write(b.key.sector, b.buf[:]); err != nil {
			// Device errors are fatal; there is no retry path for an
			// eviction writeback per the core's failure-handling design.
			logger.Fatalf("blockcache: writeback of evicted sector %d failed: %v", b.key.sector, err)
		}
		metrics.CacheWritebacks.Inc()
	}

	metrics.CacheEvictions.Inc()
	c.order.Remove(victim)
	delete(c.index, b.key)
}

func (c *Cache) touchLocked(elem *list.Element, b *block) {
	b.touched = c.tick.Tick()
	c.order.MoveToFront(elem)
}
