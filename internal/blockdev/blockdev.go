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

// Package blockdev defines the block-device collaborator contract the block
// cache sits in front of: a byte-transparent, sector-addressed, synchronous
// read(sector)/write(sector) surface over fixed 512-byte sectors. The real
// driver (interrupt-driven DMA to a physical or virtual disk) is out of
// scope for this core; this package holds the contract plus two concrete
// implementations used to exercise it: a real file-backed device for
// production/integration use, and an in-memory device for unit tests.
package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is the fixed size of every sector on the device.
const SectorSize = 512

// SectorNum addresses a sector. Sector 0 is reserved by the free-map
// collaborator for its own bookkeeping and is never handed out as a data or
// inode sector.
type SectorNum uint32

// Device is the external collaborator contract. All operations are
// blocking; device errors are fatal and are never retried by callers.
type Device interface {
	// Read copies exactly SectorSize bytes from sector into dst.
	//
	// REQUIRES: len(dst) == SectorSize
	Read(sector SectorNum, dst []byte) error

	// Write copies exactly SectorSize bytes from src into sector.
	//
	// REQUIRES: len(src) == SectorSize
	Write(sector SectorNum, src []byte) error

	// SectorCount returns the total number of addressable sectors.
	SectorCount() SectorNum

	// Close releases any underlying resources (file handles, etc).
	Close() error
}

// FileDevice backs a Device with a regular file, the way a teaching OS
// backs its virtual disk with a flat image file. Reads/writes go straight
// through to the file; this package never buffers - that's the block
// cache's job, one layer up.
type FileDevice struct {
	mu          sync.Mutex
	f           *os.File
	sectorCount SectorNum
}

var _ Device = (*FileDevice)(nil)

// OpenFileDevice opens (or creates, if create is true) path as a flat
// sector-addressed image of the given sector count.
func OpenFileDevice(path string, sectorCount SectorNum, create bool) (*FileDevice, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	size := int64(sectorCount) * SectorSize
	if info, statErr := f.Stat(); statErr == nil && info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
		}
	}

	return &FileDevice{f: f, sectorCount: sectorCount}, nil
}

func (d *FileDevice) Read(sector SectorNum, dst []byte) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("blockdev: Read: dst must be %d bytes, got %d", SectorSize, len(dst))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.f.ReadAt(dst, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: read sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) Write(sector SectorNum, src []byte) error {
	if len(src) != SectorSize {
		return fmt.Errorf("blockdev: Write: src must be %d bytes, got %d", SectorSize, len(src))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.f.WriteAt(src, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) SectorCount() SectorNum { return d.sectorCount }

func (d *FileDevice) Close() error { return d.f.Close() }

// MemDevice is an in-memory Device, used by tests that want to exercise the
// cache and inode layers without touching the filesystem.
type MemDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

var _ Device = (*MemDevice)(nil)

// NewMemDevice returns a zero-filled in-memory device of sectorCount sectors.
func NewMemDevice(sectorCount SectorNum) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, sectorCount)}
}

func (d *MemDevice) Read(sector SectorNum, dst []byte) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("blockdev: Read: dst must be %d bytes, got %d", SectorSize, len(dst))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if int(sector) >= len(d.sectors) {
		return fmt.Errorf("blockdev: read sector %d out of range (%d sectors)", sector, len(d.sectors))
	}
	copy(dst, d.sectors[sector][:])
	return nil
}

func (d *MemDevice) Write(sector SectorNum, src []byte) error {
	if len(src) != SectorSize {
		return fmt.Errorf("blockdev: Write: src must be %d bytes, got %d", SectorSize, len(src))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if int(sector) >= len(d.sectors) {
		return fmt.Errorf("blockdev: write sector %d out of range (%d sectors)", sector, len(d.sectors))
	}
	copy(d.sectors[sector][:], src)
	return nil
}

func (d *MemDevice) SectorCount() SectorNum { return SectorNum(len(d.sectors)) }

func (d *MemDevice) Close() error { return nil }
