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

import "github.com/kernelfs/diskfs/internal/blockdev"

// Tree is a debug snapshot of one inode's pointer index, for diagnostic
// dumping rather than I/O: the direct pointers as stored on disk, plus the
// decoded single- and doubly-indirect pointer blocks when present.
type Tree struct {
	Length         int32
	Type           Type
	Direct         [NumDirect]uint32
	Indirect       uint32
	IndirectBlock  []uint32
	DoublyIndirect uint32
	OuterBlock     []uint32
}

// DumpTree reads sector's inode header and, if present, its indirect and
// doubly-indirect pointer blocks, without going through the open-inode
// registry: a caller inspecting an image offline has no Handle to open.
func (s *Store) DumpTree(sector blockdev.SectorNum) (Tree, error) {
	disk, err := s.readDiskInode(sector)
	if err != nil {
		return Tree{}, err
	}

	t := Tree{
		Length:         disk.Length,
		Type:           disk.Type,
		Direct:         disk.Direct,
		Indirect:       disk.Indirect,
		DoublyIndirect: disk.DoublyIndirect,
	}

	if disk.Indirect != 0 {
		ptrs, err := s.readPointerBlock(blockdev.SectorNum(disk.Indirect))
		if err != nil {
			return Tree{}, err
		}
		t.IndirectBlock = ptrs
	}

	if disk.DoublyIndirect != 0 {
		ptrs, err := s.readPointerBlock(blockdev.SectorNum(disk.DoublyIndirect))
		if err != nil {
			return Tree{}, err
		}
		t.OuterBlock = ptrs
	}

	return t, nil
}

// ReadPointerBlock reads the raw uint32 pointers stored in sector, for
// callers walking a doubly-indirect tree's inner indirect blocks offline
// (DumpTree only decodes the outer block; each of its entries is itself a
// pointer block this method can decode in turn).
func (s *Store) ReadPointerBlock(sector blockdev.SectorNum) ([]uint32, error) {
	return s.readPointerBlock(sector)
}
