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
	"strconv"

	"github.com/kernelfs/diskfs/internal/blockcache"
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/inode"
	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <image-path> <sector>",
	Short: "Dump an inode's pointer tree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath := args[0]
		sector, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("parsing sector: %w", err)
		}

		sectorCount := blockdev.SectorNum(RunConfig.FileSystem.SectorCount)
		device, err := blockdev.OpenFileDevice(imagePath, sectorCount, false)
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}
		defer device.Close()

		fm := freemap.NewBitmapAllocator(sectorCount)
		cache := blockcache.NewWithCapacity(RunConfig.Cache.SlotCount)
		store := inode.NewStore(device, cache, fm)

		tree, err := store.DumpTree(blockdev.SectorNum(sector))
		if err != nil {
			return fmt.Errorf("reading inode at sector %d: %w", sector, err)
		}

		fmt.Printf("sector %d: type=%s length=%d\n", sector, tree.Type, tree.Length)
		fmt.Printf("  direct: %v\n", tree.Direct)
		if tree.Indirect != 0 {
			fmt.Printf("  indirect sector %d: %v\n", tree.Indirect, tree.IndirectBlock)
		}
		if tree.DoublyIndirect != 0 {
			fmt.Printf("  doubly-indirect sector %d outer block: %v\n", tree.DoublyIndirect, tree.OuterBlock)
		}
		return nil
	},
}
