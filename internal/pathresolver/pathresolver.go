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

// Package pathresolver implements path parsing and component-wise
// directory walking: splitting a path into components, separating the
// final component (basename) from the directory that must contain it
// (dirname_resolve), and resolving a full path down to the inode it
// names (inode_of).
package pathresolver

import (
	"fmt"
	"strings"

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/fserrors"
	"github.com/kernelfs/diskfs/internal/inode"
)

// Split tokenizes path into its non-empty components. A leading "/" is
// reported via absolute. Every component's length is checked against
// directory.NameMax; a component that overflows it is a malformed path.
func Split(path string) (components []string, absolute bool, err error) {
	absolute = strings.HasPrefix(path, "/")

	for _, c := range strings.Split(path, "/") {
		if c == "" {
			continue
		}
		if len(c) > directory.NameMax {
			return nil, false, fmt.Errorf("%w: path component %q exceeds %d bytes", fserrors.ErrArgument, c, directory.NameMax)
		}
		components = append(components, c)
	}

	return components, absolute, nil
}

// Resolver walks paths against a fixed root and per-caller working
// directory, both identified by inode sector.
type Resolver struct {
	store *inode.Store
	root  blockdev.SectorNum
}

// NewResolver returns a resolver rooted at root.
func NewResolver(store *inode.Store, root blockdev.SectorNum) *Resolver {
	return &Resolver{store: store, root: root}
}

// Root returns the filesystem root's inode sector.
func (r *Resolver) Root() blockdev.SectorNum { return r.root }

// startSector picks root or cwd as the walk's starting point, per the
// leading-slash rule: absolute paths start at root, relative paths start
// at cwd, and a zero cwd (no current working directory established) also
// falls back to root.
func (r *Resolver) startSector(cwd blockdev.SectorNum, absolute bool) blockdev.SectorNum {
	if absolute || cwd == 0 {
		return r.root
	}
	return cwd
}

// walk resolves every name in components in turn, starting from start,
// returning the sector of the directory reached.
func (r *Resolver) walk(start blockdev.SectorNum, components []string) (blockdev.SectorNum, error) {
	current := start
	for _, c := range components {
		d, err := directory.Open(r.store, current)
		if err != nil {
			return 0, err
		}
		next, ok, err := d.Lookup(c)
		closeErr := d.Close()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: %q", fserrors.ErrNotFound, c)
		}
		if closeErr != nil {
			return 0, closeErr
		}
		current = next
	}
	return current, nil
}

// DirnameResolve resolves every component of path except the last,
// returning the sector of the directory that must contain the final
// component, plus that final component's name (the basename). The
// directory is not required to actually contain an entry by that name;
// callers use this both to look an entry up and to create one.
func (r *Resolver) DirnameResolve(path string, cwd blockdev.SectorNum) (dirSector blockdev.SectorNum, base string, err error) {
	components, absolute, err := Split(path)
	if err != nil {
		return 0, "", err
	}
	if len(components) == 0 {
		return 0, "", fmt.Errorf("%w: empty path", fserrors.ErrArgument)
	}

	start := r.startSector(cwd, absolute)
	dirSector, err = r.walk(start, components[:len(components)-1])
	if err != nil {
		return 0, "", err
	}

	return dirSector, components[len(components)-1], nil
}

// Basename returns the final component of path without resolving
// anything on disk.
func Basename(path string) (string, error) {
	components, _, err := Split(path)
	if err != nil {
		return "", err
	}
	if len(components) == 0 {
		return "", fmt.Errorf("%w: empty path", fserrors.ErrArgument)
	}
	return components[len(components)-1], nil
}

// InodeOf fully resolves path to the inode sector it names.
func (r *Resolver) InodeOf(path string, cwd blockdev.SectorNum) (blockdev.SectorNum, error) {
	components, absolute, err := Split(path)
	if err != nil {
		return 0, err
	}

	start := r.startSector(cwd, absolute)
	if len(components) == 0 {
		// "/" or "" resolves to the walk's starting point itself.
		return start, nil
	}

	dirSector, err := r.walk(start, components[:len(components)-1])
	if err != nil {
		return 0, err
	}

	base := components[len(components)-1]
	d, err := directory.Open(r.store, dirSector)
	if err != nil {
		return 0, err
	}
	defer d.Close()

	sector, ok, err := d.Lookup(base)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %q", fserrors.ErrNotFound, base)
	}

	return sector, nil
}
