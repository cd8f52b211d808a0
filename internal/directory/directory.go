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

// Package directory implements the directory layer: a file whose data is a
// sequence of fixed-size entries, each naming a child and the inode sector
// it lives in. Locking follows DirInode's shape: one mutex per open
// directory, taken for the whole of any mutating operation, built over the
// inode package's ReadAt/WriteAt.
package directory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/fserrors"
	"github.com/kernelfs/diskfs/internal/inode"
)

// NameMax bounds a path component's length.
const NameMax = 14

const entrySize = NameMax + 1 + 4 + 1 // name + NUL + inode sector + in-use flag

// entry is one fixed-size directory record.
type entry struct {
	name        string
	inodeSector blockdev.SectorNum
	inUse       bool
}

func (e *entry) encode() []byte {
	buf := make([]byte, entrySize)
	copy(buf[:NameMax+1], e.name)
	binary.LittleEndian.PutUint32(buf[NameMax+1:], uint32(e.inodeSector))
	if e.inUse {
		buf[entrySize-1] = 1
	}
	return buf
}

func decodeEntry(buf []byte) (entry, error) {
	if len(buf) != entrySize {
		return entry{}, fmt.Errorf("directory: decode: expected %d bytes, got %d", entrySize, len(buf))
	}
	nameBuf := buf[:NameMax+1]
	nul := bytes.IndexByte(nameBuf, 0)
	if nul < 0 {
		nul = len(nameBuf)
	}
	return entry{
		name:        string(nameBuf[:nul]),
		inodeSector: blockdev.SectorNum(binary.LittleEndian.Uint32(buf[NameMax+1:])),
		inUse:       buf[entrySize-1] != 0,
	}, nil
}

// Dir is one open directory: a locked view over the directory's backing
// inode, serializing every directory-structure-mutating operation so two
// callers can never observe or produce a torn entry.
type Dir struct {
	mu     sync.Mutex
	store  *inode.Store
	handle *inode.Handle
	self   blockdev.SectorNum
	parent blockdev.SectorNum
}

// Create formats sector as a new, empty directory with self-referencing
// "." and a ".." pointing at parent (parent == sector for the root).
func Create(store *inode.Store, sector, parent blockdev.SectorNum) error {
	if err := store.Create(sector, 0, inode.TypeDirectory); err != nil {
		return err
	}

	h, err := store.Open(sector)
	if err != nil {
		return err
	}
	defer store.Close(h)

	d := &Dir{store: store, handle: h, self: sector, parent: parent}
	if err := d.appendEntry(entry{name: ".", inodeSector: sector, inUse: true}); err != nil {
		return err
	}
	if err := d.appendEntry(entry{name: "..", inodeSector: parent, inUse: true}); err != nil {
		return err
	}
	return nil
}

// Open opens the directory whose inode lives at sector.
func Open(store *inode.Store, sector blockdev.SectorNum) (*Dir, error) {
	h, err := store.Open(sector)
	if err != nil {
		return nil, err
	}
	if store.Type(h) != inode.TypeDirectory {
		store.Close(h)
		return nil, fmt.Errorf("%w: sector %d is not a directory", fserrors.ErrArgument, sector)
	}

	d := &Dir{store: store, handle: h, self: sector}

	parent, ok, err := d.lookupLocked("..")
	if err != nil {
		store.Close(h)
		return nil, err
	}
	if ok {
		d.parent = parent
	} else {
		d.parent = sector
	}

	return d, nil
}

// Close releases d's open reference to its backing inode.
func (d *Dir) Close() error {
	return d.store.Close(d.handle)
}

// Sector returns the home sector of d's backing inode.
func (d *Dir) Sector() blockdev.SectorNum { return d.self }

// Remove marks d's backing inode for deferred deletion.
func (d *Dir) Remove() {
	d.store.Remove(d.handle)
}

func (d *Dir) entryCount() int {
	return int(d.store.Length(d.handle)) / entrySize
}

func (d *Dir) readEntry(i int) (entry, error) {
	buf := make([]byte, entrySize)
	n, err := d.store.ReadAt(d.handle, buf, entrySize, int64(i)*entrySize)
	if err != nil {
		return entry{}, err
	}
	if n != entrySize {
		return entry{}, fmt.Errorf("%w: short directory entry read at index %d", fserrors.ErrMalformed, i)
	}
	return decodeEntry(buf)
}

func (d *Dir) writeEntry(i int, e entry) error {
	buf := e.encode()
	n, err := d.store.WriteAt(d.handle, buf, entrySize, int64(i)*entrySize)
	if err != nil {
		return err
	}
	if n != entrySize {
		return fmt.Errorf("directory: short entry write at index %d", i)
	}
	return nil
}

// appendEntry writes e into the first unused slot, or extends the
// directory by one entry if every existing slot is in use.
func (d *Dir) appendEntry(e entry) error {
	count := d.entryCount()
	for i := 0; i < count; i++ {
		existing, err := d.readEntry(i)
		if err != nil {
			return err
		}
		if !existing.inUse {
			return d.writeEntry(i, e)
		}
	}
	return d.writeEntry(count, e)
}

func (d *Dir) lookupLocked(name string) (blockdev.SectorNum, bool, error) {
	count := d.entryCount()
	for i := 0; i < count; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return 0, false, err
		}
		if e.inUse && e.name == name {
			return e.inodeSector, true, nil
		}
	}
	return 0, false, nil
}

// Lookup returns the inode sector of the child named name, if present.
func (d *Dir) Lookup(name string) (blockdev.SectorNum, bool, error) {
	if len(name) > NameMax {
		return 0, false, fmt.Errorf("%w: name %q exceeds %d bytes", fserrors.ErrArgument, name, NameMax)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookupLocked(name)
}

// Add inserts a new entry mapping name to sector. Fails with ErrConflict if
// name is already present.
func (d *Dir) Add(name string, sector blockdev.SectorNum) error {
	if len(name) == 0 || len(name) > NameMax {
		return fmt.Errorf("%w: name %q has invalid length", fserrors.ErrArgument, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is reserved", fserrors.ErrArgument, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok, err := d.lookupLocked(name); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %q already exists", fserrors.ErrConflict, name)
	}

	return d.appendEntry(entry{name: name, inodeSector: sector, inUse: true})
}

// RemoveEntry clears the entry named name. Fails with ErrNotFound if absent.
func (d *Dir) RemoveEntry(name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q cannot be removed", fserrors.ErrArgument, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	count := d.entryCount()
	for i := 0; i < count; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return err
		}
		if e.inUse && e.name == name {
			e.inUse = false
			return d.writeEntry(i, e)
		}
	}
	return fmt.Errorf("%w: %q", fserrors.ErrNotFound, name)
}

// IsEmpty reports whether d contains only "." and "..".
func (d *Dir) IsEmpty() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := d.entryCount()
	for i := 0; i < count; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return false, err
		}
		if e.inUse && e.name != "." && e.name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// Entry is one name visible to a directory listing.
type Entry struct {
	Name        string
	InodeSector blockdev.SectorNum
	Type        inode.Type
}

// Readdir returns every in-use entry except "." and "..", with each
// entry's type fetched concurrently across all of this listing's
// children.
func (d *Dir) Readdir() ([]Entry, error) {
	d.mu.Lock()
	count := d.entryCount()
	out := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			d.mu.Unlock()
			return nil, err
		}
		if e.inUse && e.name != "." && e.name != ".." {
			out = append(out, Entry{Name: e.name, InodeSector: e.inodeSector})
		}
	}
	d.mu.Unlock()

	if len(out) == 0 {
		return out, nil
	}

	sectors := make([]blockdev.SectorNum, len(out))
	for i, e := range out {
		sectors[i] = e.InodeSector
	}
	types, err := d.store.StatMany(sectors)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Type = types[i]
	}

	return out, nil
}

// ParentSector returns the sector of d's parent directory (d's own sector,
// for the root).
func (d *Dir) ParentSector() blockdev.SectorNum { return d.parent }
