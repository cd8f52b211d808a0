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

package cmd

import (
	"fmt"

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/inode"
)

// reserveLiveSectors marks sector and every sector reachable from it (its
// own pointer blocks, and recursively the contents of any subdirectory) as
// used in fm. A fresh BitmapAllocator only ever pre-marks sector 0 used
// (internal/freemap.NewBitmapAllocator); anything layered on top of an
// already-formatted image has to seed the allocator with what's actually
// live before the first Allocate call, or it will happily hand out a
// sector that's already holding an inode or file data.
func reserveLiveSectors(store *inode.Store, fm *freemap.BitmapAllocator, sector blockdev.SectorNum) error {
	tree, err := store.DumpTree(sector)
	if err != nil {
		return fmt.Errorf("scanning inode at sector %d: %w", sector, err)
	}
	fm.MarkUsed(sector, 1)

	for _, d := range tree.Direct {
		if d != 0 {
			fm.MarkUsed(blockdev.SectorNum(d), 1)
		}
	}

	if tree.Indirect != 0 {
		fm.MarkUsed(blockdev.SectorNum(tree.Indirect), 1)
		for _, p := range tree.IndirectBlock {
			if p != 0 {
				fm.MarkUsed(blockdev.SectorNum(p), 1)
			}
		}
	}

	if tree.DoublyIndirect != 0 {
		fm.MarkUsed(blockdev.SectorNum(tree.DoublyIndirect), 1)
		for _, outer := range tree.OuterBlock {
			if outer == 0 {
				continue
			}
			fm.MarkUsed(blockdev.SectorNum(outer), 1)
			inner, err := store.ReadPointerBlock(blockdev.SectorNum(outer))
			if err != nil {
				return fmt.Errorf("scanning indirect block at sector %d: %w", outer, err)
			}
			for _, p := range inner {
				if p != 0 {
					fm.MarkUsed(blockdev.SectorNum(p), 1)
				}
			}
		}
	}

	if tree.Type != inode.TypeDirectory {
		return nil
	}

	d, err := directory.Open(store, sector)
	if err != nil {
		return fmt.Errorf("opening directory at sector %d: %w", sector, err)
	}
	defer d.Close()

	entries, err := d.Readdir()
	if err != nil {
		return fmt.Errorf("reading directory at sector %d: %w", sector, err)
	}
	for _, e := range entries {
		if err := reserveLiveSectors(store, fm, e.InodeSector); err != nil {
			return err
		}
	}
	return nil
}
