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

	"github.com/kernelfs/diskfs/internal/blockcache"
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/inode"
	"github.com/spf13/cobra"
)

var formatCmd = &cobra.Command{
	Use:   "format <image-path>",
	Short: "Create a fresh filesystem image with a root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath := args[0]
		sectorCount := blockdev.SectorNum(RunConfig.FileSystem.SectorCount)
		rootSector := blockdev.SectorNum(RunConfig.FileSystem.RootSector)

		device, err := blockdev.OpenFileDevice(imagePath, sectorCount, true)
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}
		defer device.Close()

		fm := freemap.NewBitmapAllocator(sectorCount)
		// The root inode's sector is chosen by the caller, not handed out by
		// fm.Allocate, so nothing marks it used automatically; without this,
		// the directory layer's own first data-sector allocation below would
		// be free to hand back rootSector itself.
		fm.MarkUsed(rootSector, 1)
		cache := blockcache.NewWithCapacity(RunConfig.Cache.SlotCount)
		store := inode.NewStore(device, cache, fm)

		if err := directory.Create(store, rootSector, rootSector); err != nil {
			return fmt.Errorf("formatting root directory: %w", err)
		}
		if err := cache.Flush(); err != nil {
			return fmt.Errorf("flushing cache: %w", err)
		}

		fmt.Printf("formatted %s: %d sectors, root at %d\n", imagePath, sectorCount, rootSector)
		return nil
	},
}
