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

// Package fdtable implements the per-process file-descriptor table: a
// fixed 128-slot array multiplexing open file and directory handles
// behind small integers, with permanent stdio sentinels at 0, 1, and 2.
//
// Dispatch follows fuseutil.FileSystem's shape: one struct fielding every
// numbered operation, translating a thin integer handle into a call
// against the real inode/directory layer, here keyed by syscall
// descriptors rather than FUSE inode IDs.
package fdtable

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/fserrors"
	"github.com/kernelfs/diskfs/internal/inode"
)

// Capacity is the fixed number of descriptor slots per process.
const Capacity = 128

// Stdin, Stdout, and Stderr are the permanently reserved stdio slots.
const (
	Stdin  = 0
	Stdout = 1
	Stderr = 2
)

const terminalChunkSize = 256

// Terminal is the external collaborator backing stdio: one byte of input
// at a time, and raw byte output.
type Terminal interface {
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

type slotKind int

const (
	slotEmpty slotKind = iota
	slotStdio
	slotFile
	slotDir
)

type slot struct {
	kind   slotKind
	stdio  int
	handle *inode.Handle
	offset int64
	dir    *directory.Dir
}

// Table is one process's descriptor table.
type Table struct {
	mu    sync.Mutex
	store *inode.Store
	term  Terminal

	slots    [Capacity]slot
	occupied int
	hint     int
}

// New returns a table with slots 0/1/2 reserved for stdio and every
// other slot free.
func New(store *inode.Store, term Terminal) *Table {
	t := &Table{store: store, term: term, hint: 3}
	t.slots[Stdin] = slot{kind: slotStdio, stdio: Stdin}
	t.slots[Stdout] = slot{kind: slotStdio, stdio: Stdout}
	t.slots[Stderr] = slot{kind: slotStdio, stdio: Stderr}
	t.occupied = 3
	return t
}

func (t *Table) allocateLocked() (int, error) {
	if t.occupied >= Capacity {
		return -1, fmt.Errorf("%w: descriptor table is full", fserrors.ErrExhausted)
	}

	for tried := 0; tried < Capacity-3; tried++ {
		fd := 3 + (t.hint-3+tried)%(Capacity-3)
		if t.slots[fd].kind == slotEmpty {
			t.hint = fd + 1
			t.occupied++
			return fd, nil
		}
	}

	return -1, fmt.Errorf("%w: descriptor table is full", fserrors.ErrExhausted)
}

// OpenFile installs an open file handle and returns its descriptor.
func (t *Table) OpenFile(h *inode.Handle) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fd, err := t.allocateLocked()
	if err != nil {
		return -1, err
	}
	t.slots[fd] = slot{kind: slotFile, handle: h}
	return fd, nil
}

// OpenDir installs an open directory handle and returns its descriptor.
func (t *Table) OpenDir(d *directory.Dir) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fd, err := t.allocateLocked()
	if err != nil {
		return -1, err
	}
	t.slots[fd] = slot{kind: slotDir, dir: d}
	return fd, nil
}

func (t *Table) lookup(fd int) (*slot, error) {
	if fd < 0 || fd >= Capacity {
		return nil, fmt.Errorf("%w: descriptor %d out of range", fserrors.ErrArgument, fd)
	}
	if t.slots[fd].kind == slotEmpty {
		return nil, fmt.Errorf("%w: descriptor %d is not open", fserrors.ErrArgument, fd)
	}
	return &t.slots[fd], nil
}

// Close releases fd. Stdio descriptors can never be closed.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return err
	}
	if s.kind == slotStdio {
		return fmt.Errorf("%w: stdio descriptor %d cannot be closed", fserrors.ErrArgument, fd)
	}

	var closeErr error
	switch s.kind {
	case slotFile:
		closeErr = t.store.Close(s.handle)
	case slotDir:
		closeErr = s.dir.Close()
	}

	t.slots[fd] = slot{}
	t.occupied--
	return closeErr
}

// Read reads up to n bytes from fd into buf. Directory descriptors and
// stdout/stderr reject it.
func (t *Table) Read(fd int, buf []byte, n int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return -1, err
	}

	switch s.kind {
	case slotStdio:
		if s.stdio != Stdin {
			return -1, fmt.Errorf("%w: descriptor %d does not support read", fserrors.ErrArgument, fd)
		}
		return t.readStdin(buf, n)
	case slotDir:
		return -1, fmt.Errorf("%w: descriptor %d is a directory", fserrors.ErrArgument, fd)
	default:
		read, err := t.store.ReadAt(s.handle, buf, n, s.offset)
		if err != nil {
			return -1, err
		}
		s.offset += int64(read)
		return read, nil
	}
}

// readStdin consumes one input character at a time until n bytes have
// been read or the terminal runs out, matching the documented
// char-at-a-time stdin behavior.
func (t *Table) readStdin(buf []byte, n int) (int, error) {
	for i := 0; i < n; i++ {
		b, err := t.term.ReadByte()
		if err != nil {
			return i, nil
		}
		buf[i] = b
	}
	return n, nil
}

// Write writes n bytes from buf to fd. Directory descriptors and stdin
// reject it.
func (t *Table) Write(fd int, buf []byte, n int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return -1, err
	}

	switch s.kind {
	case slotStdio:
		if s.stdio == Stdin {
			return -1, fmt.Errorf("%w: stdin does not support write", fserrors.ErrArgument)
		}
		return t.writeTerminal(buf, n)
	case slotDir:
		return -1, fmt.Errorf("%w: descriptor %d is a directory", fserrors.ErrArgument, fd)
	default:
		written, err := t.store.WriteAt(s.handle, buf, n, s.offset)
		if err != nil {
			if errors.Is(err, fserrors.ErrConflict) {
				// Deny-write is a 0-length write, not a failure: the file
				// exists and the descriptor is valid, the write is just
				// refused while a deny-write is held.
				return 0, nil
			}
			return -1, err
		}
		s.offset += int64(written)
		return written, nil
	}
}

// writeTerminal chunks buf into contiguous terminalChunkSize pieces,
// advancing through buf on every chunk so bytes past the first chunk
// aren't dropped or reordered.
func (t *Table) writeTerminal(buf []byte, n int) (int, error) {
	written := 0
	for written < n {
		chunk := terminalChunkSize
		if remaining := n - written; chunk > remaining {
			chunk = remaining
		}
		wn, err := t.term.Write(buf[written : written+chunk])
		written += wn
		if err != nil {
			return written, err
		}
		if wn < chunk {
			return written, fmt.Errorf("fdtable: short terminal write")
		}
	}
	return written, nil
}

// Seek repositions fd's file offset. Directory and stdio descriptors
// reject it.
func (t *Table) Seek(fd int, pos int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return err
	}
	if s.kind != slotFile {
		return fmt.Errorf("%w: descriptor %d does not support seek", fserrors.ErrArgument, fd)
	}
	if pos < 0 {
		return fmt.Errorf("%w: negative seek position", fserrors.ErrArgument)
	}

	s.offset = pos
	return nil
}

// Tell returns fd's current file offset.
func (t *Table) Tell(fd int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return -1, err
	}
	if s.kind != slotFile {
		return -1, fmt.Errorf("%w: descriptor %d does not support tell", fserrors.ErrArgument, fd)
	}
	return s.offset, nil
}

// Filesize returns the current length of fd's file.
func (t *Table) Filesize(fd int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return -1, err
	}
	if s.kind != slotFile {
		return -1, fmt.Errorf("%w: descriptor %d does not support filesize", fserrors.ErrArgument, fd)
	}
	return t.store.Length(s.handle), nil
}

// IsDir reports whether fd is a directory descriptor.
func (t *Table) IsDir(fd int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return false, err
	}
	return s.kind == slotDir, nil
}

// Readdir returns the next child name in fd's directory, advancing an
// internal cursor; ok is false once every entry has been returned.
func (t *Table) Readdir(fd int) (name string, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, lookupErr := t.lookup(fd)
	if lookupErr != nil {
		return "", false, lookupErr
	}
	if s.kind != slotDir {
		return "", false, fmt.Errorf("%w: descriptor %d is not a directory", fserrors.ErrArgument, fd)
	}

	entries, err := s.dir.Readdir()
	if err != nil {
		return "", false, err
	}

	cursor := int(s.offset)
	if cursor >= len(entries) {
		return "", false, nil
	}
	s.offset++

	return entries[cursor].Name, true, nil
}

// Inumber returns the home sector of fd's inode, as a stable per-file
// identifier.
func (t *Table) Inumber(fd int) (blockdev.SectorNum, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.lookup(fd)
	if err != nil {
		return 0, err
	}
	switch s.kind {
	case slotFile:
		return s.handle.Sector(), nil
	case slotDir:
		return s.dir.Sector(), nil
	default:
		return 0, fmt.Errorf("%w: descriptor %d is stdio", fserrors.ErrArgument, fd)
	}
}
