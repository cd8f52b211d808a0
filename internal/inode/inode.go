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

// Package inode implements the on-disk inode format, the multi-level
// direct/indirect/doubly-indirect sector index, online grow/shrink, the
// process-wide open-inode registry that gives every home sector at most one
// in-memory shadow, and reader/writer coordination for data and metadata.
//
// The locking shape (a per-handle sync.RWMutex for data operations, a
// separate sync.Mutex for metadata mutation, reference counting driving
// deferred destruction) uses lookupCount-style refcounting over a
// block-indexed on-disk inode.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/kernelfs/diskfs/internal/blockcache"
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/fserrors"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/logger"
)

// Type distinguishes a regular file from a directory. Both share the same
// on-disk inode format; only the directory layer interprets FILE-type data
// differently than DIRECTORY-type data.
type Type uint32

const (
	TypeFile      Type = 1
	TypeDirectory Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

const (
	// diskMagic sentinels a valid on-disk inode sector.
	diskMagic uint32 = 0x44534653 // "DSFS"

	// NumDirect is the number of direct sector pointers in the inode.
	NumDirect = 12

	// pointersPerBlock is the number of uint32 sector pointers that fit in
	// one sector (512 / 4).
	pointersPerBlock = blockdev.SectorSize / 4

	// NumIndirect is the number of sectors addressable through the single
	// indirect pointer.
	NumIndirect = pointersPerBlock

	// NumDoublyIndirect is the number of sectors addressable through the
	// doubly-indirect pointer.
	NumDoublyIndirect = pointersPerBlock * pointersPerBlock

	// MaxFileSize is the maximum addressable length in bytes: (12 + 128 +
	// 128*128) * 512, a little over 8 MiB.
	MaxFileSize = int64(NumDirect+NumIndirect+NumDoublyIndirect) * blockdev.SectorSize

	// NoSector is the sentinel returned by sectorOf for an offset at or
	// past the current length.
	NoSector blockdev.SectorNum = 0
)

// onDiskInode is the exactly-one-sector on-disk representation. Fields
// after DoublyIndirect are left as zero padding within the sector; the
// struct is encoded/decoded field by field rather than via unsafe casts so
// the wire layout does not depend on Go's struct layout rules.
type onDiskInode struct {
	Magic          uint32
	Length         int32
	Type           Type
	Direct         [NumDirect]uint32
	Indirect       uint32
	DoublyIndirect uint32
}

const onDiskInodeEncodedSize = 4 + 4 + 4 + NumDirect*4 + 4 + 4

func (d *onDiskInode) encode() []byte {
	buf := make([]byte, blockdev.SectorSize)
	o := 0
	binary.LittleEndian.PutUint32(buf[o:], d.Magic)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], uint32(d.Length))
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], uint32(d.Type))
	o += 4
	for i := range d.Direct {
		binary.LittleEndian.PutUint32(buf[o:], d.Direct[i])
		o += 4
	}
	binary.LittleEndian.PutUint32(buf[o:], d.Indirect)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], d.DoublyIndirect)
	return buf
}

func decodeOnDiskInode(buf []byte) (onDiskInode, error) {
	var d onDiskInode
	if len(buf) != blockdev.SectorSize {
		return d, fmt.Errorf("inode: decode: expected %d bytes, got %d", blockdev.SectorSize, len(buf))
	}

	o := 0
	d.Magic = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	d.Length = int32(binary.LittleEndian.Uint32(buf[o:]))
	o += 4
	d.Type = Type(binary.LittleEndian.Uint32(buf[o:]))
	o += 4
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[o:])
		o += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	d.DoublyIndirect = binary.LittleEndian.Uint32(buf[o:])

	if d.Magic != diskMagic {
		// A bad magic is a fatal sanity violation: log it and exit.
		logger.Fatalf("inode: bad magic %#x", d.Magic)
		return d, fmt.Errorf("%w: inode at unexpected sector has bad magic %#x", fserrors.ErrMalformed, d.Magic)
	}

	return d, nil
}

func encodePointerBlock(ptrs []uint32) []byte {
	buf := make([]byte, blockdev.SectorSize)
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:], p)
	}
	return buf
}

func decodePointerBlock(buf []byte) []uint32 {
	ptrs := make([]uint32, pointersPerBlock)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return ptrs
}

// Store is the inode layer's process-wide singleton: the on-disk format
// translator, the multi-level index walker, and the open-inode registry
// keyed by home sector so that every opener of a given sector shares one
// in-memory Handle, per the data model's uniqueness invariant.
type Store struct {
	device  blockdev.Device
	cache   *blockcache.Cache
	freemap freemap.Allocator

	registry registryLock
}

// NewStore wires the inode layer to its three collaborators: the device
// (used only indirectly, through cache), the block cache, and the free-map
// allocator.
func NewStore(device blockdev.Device, cache *blockcache.Cache, fm freemap.Allocator) *Store {
	return &Store{
		device:  device,
		cache:   cache,
		freemap: fm,
		registry: registryLock{
			handles: make(map[blockdev.SectorNum]*Handle),
		},
	}
}

func (s *Store) readSector(sector blockdev.SectorNum) ([]byte, error) {
	buf := make([]byte, blockdev.SectorSize)
	if err := s.cache.Read(s.device, sector, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Store) writeSector(sector blockdev.SectorNum, buf []byte) error {
	return s.cache.Write(s.device, sector, buf)
}

func (s *Store) readDiskInode(sector blockdev.SectorNum) (onDiskInode, error) {
	buf, err := s.readSector(sector)
	if err != nil {
		return onDiskInode{}, err
	}
	return decodeOnDiskInode(buf)
}

func (s *Store) writeDiskInode(sector blockdev.SectorNum, d *onDiskInode) error {
	return s.writeSector(sector, d.encode())
}

func (s *Store) readPointerBlock(sector blockdev.SectorNum) ([]uint32, error) {
	buf, err := s.readSector(sector)
	if err != nil {
		return nil, err
	}
	return decodePointerBlock(buf), nil
}

func (s *Store) writePointerBlock(sector blockdev.SectorNum, ptrs []uint32) error {
	return s.writeSector(sector, encodePointerBlock(ptrs))
}

func (s *Store) zeroSector(sector blockdev.SectorNum) error {
	return s.writeSector(sector, make([]byte, blockdev.SectorSize))
}

// Create formats a freshly-allocated inode sector as a new, empty inode of
// the given type and then grows it to length (zero-filling any allocated
// data).
//
// REQUIRES: sector holds no live inode (freshly allocated by the caller's
// free-map)
func (s *Store) Create(sector blockdev.SectorNum, length int32, typ Type) error {
	if length < 0 {
		return fmt.Errorf("%w: negative length %d", fserrors.ErrArgument, length)
	}

	disk := onDiskInode{Magic: diskMagic, Type: typ}
	if err := s.writeDiskInode(sector, &disk); err != nil {
		return err
	}

	if length == 0 {
		return nil
	}

	h := &Handle{sector: sector, store: s, disk: disk}
	if err := s.resize(h, int64(length)); err != nil {
		return err
	}

	return nil
}

// AllocateInodeSector reserves one sector from the free-map for a new
// inode's home, leaving it uninitialized until Create is called on it.
func (s *Store) AllocateInodeSector() (blockdev.SectorNum, error) {
	return s.freemap.Allocate(1)
}

// ReleaseInodeSector returns a sector reserved by AllocateInodeSector
// without ever being formatted with Create, for callers that must back
// out after a failed creation.
func (s *Store) ReleaseInodeSector(sector blockdev.SectorNum) {
	s.freemap.Release(sector, 1)
}
