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

// Package syscall implements the numbered filesystem syscall surface:
// CREATE, REMOVE, OPEN, FILESIZE, READ, WRITE, SEEK, TELL, CLOSE, CHDIR,
// MKDIR, READDIR, ISDIR, and INUMBER. It is the glue between the FD
// table, the path resolver, the directory layer, and the inode store,
// translating internal errors into the scalar sentinels (-1, false, or a
// short write) the syscall boundary promises rather than propagating Go
// errors past it.
package syscall

import (
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/fdtable"
	"github.com/kernelfs/diskfs/internal/inode"
	"github.com/kernelfs/diskfs/internal/pathresolver"
)

// Process is one user process's filesystem-facing state: its descriptor
// table and its current working directory.
type Process struct {
	store    *inode.Store
	resolver *pathresolver.Resolver
	fds      *fdtable.Table
	cwd      blockdev.SectorNum
}

// NewProcess returns a process positioned at the filesystem root.
func NewProcess(store *inode.Store, resolver *pathresolver.Resolver, term fdtable.Terminal) *Process {
	return &Process{
		store:    store,
		resolver: resolver,
		fds:      fdtable.New(store, term),
		cwd:      resolver.Root(),
	}
}

// Create implements CREATE(name, size) -> bool.
func (p *Process) Create(name string, size int32) bool {
	if name == "" {
		return false
	}

	dirSector, base, err := p.resolver.DirnameResolve(name, p.cwd)
	if err != nil {
		return false
	}

	d, err := directory.Open(p.store, dirSector)
	if err != nil {
		return false
	}
	defer d.Close()

	if _, ok, _ := d.Lookup(base); ok {
		return false
	}

	sector, err := p.store.AllocateInodeSector()
	if err != nil {
		return false
	}
	if err := p.store.Create(sector, size, inode.TypeFile); err != nil {
		p.store.ReleaseInodeSector(sector)
		return false
	}
	if err := d.Add(base, sector); err != nil {
		p.store.ReleaseInodeSector(sector)
		return false
	}

	return true
}

// Remove implements REMOVE(name) -> bool.
func (p *Process) Remove(name string) bool {
	if name == "" {
		return false
	}

	dirSector, base, err := p.resolver.DirnameResolve(name, p.cwd)
	if err != nil {
		return false
	}

	d, err := directory.Open(p.store, dirSector)
	if err != nil {
		return false
	}
	defer d.Close()

	childSector, ok, err := d.Lookup(base)
	if err != nil || !ok {
		return false
	}

	if childSector == p.cwd {
		return false
	}

	h, err := p.store.Open(childSector)
	if err != nil {
		return false
	}
	defer p.store.Close(h)

	if p.store.Type(h) == inode.TypeDirectory {
		if childSector == p.resolver.Root() {
			return false
		}

		child, err := directory.Open(p.store, childSector)
		if err != nil {
			return false
		}
		empty, err := child.IsEmpty()
		child.Close()
		if err != nil || !empty {
			return false
		}
	}

	if err := d.RemoveEntry(base); err != nil {
		return false
	}

	p.store.Remove(h)
	return true
}

// Open implements OPEN(name) -> fd | -1.
func (p *Process) Open(name string) int {
	if name == "" {
		return -1
	}

	sector, err := p.resolver.InodeOf(name, p.cwd)
	if err != nil {
		return -1
	}

	h, err := p.store.Open(sector)
	if err != nil {
		return -1
	}

	if p.store.Type(h) == inode.TypeDirectory {
		d, err := directory.Open(p.store, sector)
		p.store.Close(h)
		if err != nil {
			return -1
		}
		fd, err := p.fds.OpenDir(d)
		if err != nil {
			d.Close()
			return -1
		}
		return fd
	}

	fd, err := p.fds.OpenFile(h)
	if err != nil {
		p.store.Close(h)
		return -1
	}
	return fd
}

// Filesize implements FILESIZE(fd) -> int.
func (p *Process) Filesize(fd int) int {
	n, err := p.fds.Filesize(fd)
	if err != nil {
		return -1
	}
	return int(n)
}

// Read implements READ(fd, buf, n) -> int.
func (p *Process) Read(fd int, buf []byte, n int) int {
	got, err := p.fds.Read(fd, buf, n)
	if err != nil {
		return -1
	}
	return got
}

// Write implements WRITE(fd, buf, n) -> int.
func (p *Process) Write(fd int, buf []byte, n int) int {
	written, err := p.fds.Write(fd, buf, n)
	if err != nil {
		if written > 0 {
			return written
		}
		return -1
	}
	return written
}

// Seek implements SEEK(fd, pos) -> void; invalid seeks are silently
// ignored, per the documented void return.
func (p *Process) Seek(fd int, pos int64) {
	_ = p.fds.Seek(fd, pos)
}

// Tell implements TELL(fd) -> uint.
func (p *Process) Tell(fd int) int64 {
	pos, err := p.fds.Tell(fd)
	if err != nil {
		return -1
	}
	return pos
}

// Close implements CLOSE(fd) -> void.
func (p *Process) Close(fd int) {
	_ = p.fds.Close(fd)
}

// Chdir implements CHDIR(path) -> bool.
func (p *Process) Chdir(path string) bool {
	if path == "" {
		return false
	}

	sector, err := p.resolver.InodeOf(path, p.cwd)
	if err != nil {
		return false
	}

	h, err := p.store.Open(sector)
	if err != nil {
		return false
	}
	typ := p.store.Type(h)
	p.store.Close(h)

	if typ != inode.TypeDirectory {
		return false
	}

	p.cwd = sector
	return true
}

// Mkdir implements MKDIR(path) -> bool.
func (p *Process) Mkdir(path string) bool {
	if path == "" {
		return false
	}

	dirSector, base, err := p.resolver.DirnameResolve(path, p.cwd)
	if err != nil {
		return false
	}

	d, err := directory.Open(p.store, dirSector)
	if err != nil {
		return false
	}
	defer d.Close()

	if _, ok, _ := d.Lookup(base); ok {
		return false
	}

	sector, err := p.store.AllocateInodeSector()
	if err != nil {
		return false
	}
	if err := directory.Create(p.store, sector, dirSector); err != nil {
		p.store.ReleaseInodeSector(sector)
		return false
	}
	if err := d.Add(base, sector); err != nil {
		p.store.ReleaseInodeSector(sector)
		return false
	}

	return true
}

// Readdir implements READDIR(fd, name_out) -> bool.
func (p *Process) Readdir(fd int) (name string, ok bool) {
	name, ok, err := p.fds.Readdir(fd)
	if err != nil {
		return "", false
	}
	return name, ok
}

// IsDir implements ISDIR(fd) -> bool.
func (p *Process) IsDir(fd int) bool {
	ok, err := p.fds.IsDir(fd)
	if err != nil {
		return false
	}
	return ok
}

// Inumber implements INUMBER(fd) -> int.
func (p *Process) Inumber(fd int) int {
	sector, err := p.fds.Inumber(fd)
	if err != nil {
		return -1
	}
	return int(sector)
}
