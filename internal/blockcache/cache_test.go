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

package blockcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/diskfs/internal/blockdev"
)

// countingDevice wraps a MemDevice to count how many Read/Write calls
// actually reach the backing device, so tests can assert the cache
// absorbs repeat accesses instead of passing them through.
type countingDevice struct {
	*blockdev.MemDevice
	reads  int
	writes int
}

func newCountingDevice(sectorCount blockdev.SectorNum) *countingDevice {
	return &countingDevice{MemDevice: blockdev.NewMemDevice(sectorCount)}
}

func (d *countingDevice) Read(sector blockdev.SectorNum, dst []byte) error {
	d.reads++
	return d.MemDevice.Read(sector, dst)
}

func (d *countingDevice) Write(sector blockdev.SectorNum, src []byte) error {
	d.writes++
	return d.MemDevice.Write(sector, src)
}

func fullSector(b byte) []byte {
	buf := make([]byte, blockdev.SectorSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestCache_WriteThenReadRoundTrip(t *testing.T) {
	dev := newCountingDevice(4)
	c := NewWithCapacity(8)

	require.NoError(t, c.Write(dev, 1, fullSector(0xAB)))

	dst := make([]byte, blockdev.SectorSize)
	require.NoError(t, c.Read(dev, 1, dst))
	assert.Equal(t, fullSector(0xAB), dst)

	// A hot write followed by a read must not touch the device again.
	assert.Equal(t, 0, dev.reads)
}

func TestCache_FlushPersistsDirtyBuffers(t *testing.T) {
	dev := newCountingDevice(4)
	c := NewWithCapacity(8)

	require.NoError(t, c.Write(dev, 2, fullSector(0x7)))
	require.NoError(t, c.Flush())

	assert.Equal(t, 1, dev.writes)

	// After flush, the underlying device actually has the data.
	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.MemDevice.Read(2, raw))
	assert.Equal(t, fullSector(0x7), raw)
}

func TestCache_EvictionWritesBackDirtyVictim(t *testing.T) {
	dev := newCountingDevice(4)
	c := NewWithCapacity(2)

	require.NoError(t, c.Write(dev, 0, fullSector(1)))
	require.NoError(t, c.Write(dev, 1, fullSector(2)))
	// Touch sector 0 so sector 1 becomes the least-recently-touched.
	dst := make([]byte, blockdev.SectorSize)
	require.NoError(t, c.Read(dev, 0, dst))

	// A third distinct sector forces eviction of sector 1.
	require.NoError(t, c.Write(dev, 2, fullSector(3)))

	assert.Equal(t, 1, dev.writes, "evicting a dirty buffer must write it back")

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.MemDevice.Read(1, raw))
	assert.Equal(t, fullSector(2), raw)
}

func TestCache_ReadOffsetAndWriteOffset(t *testing.T) {
	dev := newCountingDevice(2)
	c := NewWithCapacity(4)

	require.NoError(t, c.Write(dev, 0, fullSector(0)))
	require.NoError(t, c.WriteOffset(dev, 0, []byte{1, 2, 3}, 10, 3))

	got := make([]byte, 3)
	require.NoError(t, c.ReadOffset(dev, 0, got, 10, 3))
	assert.Equal(t, []byte{1, 2, 3}, got)

	full := make([]byte, blockdev.SectorSize)
	require.NoError(t, c.Read(dev, 0, full))
	assert.Equal(t, byte(0), full[9])
	assert.Equal(t, byte(1), full[10])
}

func TestCache_WriteOffsetMissReadsThenWritesBack(t *testing.T) {
	dev := newCountingDevice(2)
	require.NoError(t, dev.MemDevice.Write(0, fullSector(0x11)))
	c := NewWithCapacity(4)

	require.NoError(t, c.WriteOffset(dev, 0, []byte{0xFF}, 5, 1))

	assert.Equal(t, 1, dev.reads, "a partial-write miss must fill the rest of the sector first")
	assert.Equal(t, 1, dev.writes, "a partial-write miss must persist immediately, not stay write-back")
}

func TestCache_RejectsWrongSizedBuffers(t *testing.T) {
	dev := newCountingDevice(2)
	c := NewWithCapacity(4)

	assert.Error(t, c.Read(dev, 0, make([]byte, 10)))
	assert.Error(t, c.Write(dev, 0, make([]byte, 10)))
	assert.Error(t, c.ReadOffset(dev, 0, make([]byte, 10), 500, 100))
}
