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
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/kernelfs/diskfs/internal/blockcache"
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/inode"
	"github.com/kernelfs/diskfs/internal/pathresolver"
	"github.com/kernelfs/diskfs/internal/syscall"
	"github.com/spf13/cobra"
)

// stdioTerminal adapts os.Stdin/os.Stdout to fdtable.Terminal, for
// scenario runs that exercise descriptors 0/1/2.
type stdioTerminal struct {
	in *bufio.Reader
}

func (t *stdioTerminal) ReadByte() (byte, error) { return t.in.ReadByte() }
func (t *stdioTerminal) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario <image-path>",
	Short: "Run the documented testable-property scenarios against an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath := args[0]
		sectorCount := blockdev.SectorNum(RunConfig.FileSystem.SectorCount)
		rootSector := blockdev.SectorNum(RunConfig.FileSystem.RootSector)

		device, err := blockdev.OpenFileDevice(imagePath, sectorCount, false)
		if err != nil {
			return fmt.Errorf("opening image: %w", err)
		}
		defer device.Close()

		fm := freemap.NewBitmapAllocator(sectorCount)
		cache := blockcache.NewWithCapacity(RunConfig.Cache.SlotCount)
		store := inode.NewStore(device, cache, fm)

		// fm starts out believing only sector 0 is used. The image on disk
		// already has a live root inode and whatever data it holds; walk it
		// before running anything that allocates, or the first Create would
		// be free to hand back a sector that's already part of the root
		// directory.
		if err := reserveLiveSectors(store, fm, rootSector); err != nil {
			return fmt.Errorf("scanning image for live sectors: %w", err)
		}

		resolver := pathresolver.NewResolver(store, rootSector)

		term := &stdioTerminal{in: bufio.NewReader(os.Stdin)}

		pass := 0
		fail := 0
		report := func(name string, ok bool) {
			if ok {
				pass++
				fmt.Printf("PASS  %s\n", name)
			} else {
				fail++
				fmt.Printf("FAIL  %s\n", name)
			}
		}

		report("open root directory", func() bool {
			p := syscall.NewProcess(store, resolver, term)
			fd := p.Open("/")
			defer p.Close(fd)
			return fd != -1 && p.IsDir(fd)
		}())

		report("open empty path fails", func() bool {
			p := syscall.NewProcess(store, resolver, term)
			return p.Open("") == -1
		}())

		report("create, write, read round-trip", func() bool {
			p := syscall.NewProcess(store, resolver, term)
			if !p.Create("scenario-roundtrip", 0) {
				return false
			}
			fd := p.Open("scenario-roundtrip")
			defer func() {
				p.Close(fd)
				p.Remove("scenario-roundtrip")
			}()
			if fd == -1 {
				return false
			}
			want := []byte("hello, diskfs")
			if n := p.Write(fd, want, len(want)); n != len(want) {
				return false
			}
			p.Seek(fd, 0)
			got := make([]byte, len(want))
			if n := p.Read(fd, got, len(got)); n != len(got) {
				return false
			}
			return bytes.Equal(want, got)
		}())

		report("sparse growth zero-fills the gap", func() bool {
			p := syscall.NewProcess(store, resolver, term)
			if !p.Create("scenario-sparse", 0) {
				return false
			}
			fd := p.Open("scenario-sparse")
			defer func() {
				p.Close(fd)
				p.Remove("scenario-sparse")
			}()
			if fd == -1 {
				return false
			}
			p.Seek(fd, 1000)
			tail := []byte("end")
			p.Write(fd, tail, len(tail))
			p.Seek(fd, 0)
			buf := make([]byte, 1000)
			if n := p.Read(fd, buf, len(buf)); n != len(buf) {
				return false
			}
			for _, b := range buf {
				if b != 0 {
					return false
				}
			}
			return true
		}())

		report("mkdir with missing parent fails", func() bool {
			p := syscall.NewProcess(store, resolver, term)
			return !p.Mkdir("scenario-missing-parent/child")
		}())

		report("nested mkdir, chdir, create", func() bool {
			p := syscall.NewProcess(store, resolver, term)
			if !p.Mkdir("scenario-dir") {
				return false
			}
			defer p.Remove("scenario-dir")
			if !p.Chdir("scenario-dir") {
				return false
			}
			if !p.Create("leaf", 0) {
				return false
			}
			fd := p.Open("leaf")
			ok := fd != -1
			p.Close(fd)
			p.Remove("leaf")
			p.Chdir("..")
			return ok
		}())

		report("readdir skips dot and dotdot", func() bool {
			p := syscall.NewProcess(store, resolver, term)
			fd := p.Open("/")
			defer p.Close(fd)
			for {
				name, ok := p.Readdir(fd)
				if !ok {
					break
				}
				if name == "." || name == ".." {
					return false
				}
			}
			return true
		}())

		fmt.Printf("\n%d passed, %d failed\n", pass, fail)
		if err := cache.Flush(); err != nil {
			return fmt.Errorf("flushing cache: %w", err)
		}
		if fail > 0 {
			return fmt.Errorf("%d scenario(s) failed", fail)
		}
		return nil
	},
}
