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

package blockdev

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDevice_ReadWriteRoundTrip(t *testing.T) {
	d := NewMemDevice(4)

	src := make([]byte, SectorSize)
	for i := range src {
		src[i] = byte(i)
	}
	require.NoError(t, d.Write(2, src))

	dst := make([]byte, SectorSize)
	require.NoError(t, d.Read(2, dst))
	assert.Equal(t, src, dst)
}

func TestMemDevice_OutOfRangeSector(t *testing.T) {
	d := NewMemDevice(2)
	buf := make([]byte, SectorSize)
	assert.Error(t, d.Read(2, buf))
	assert.Error(t, d.Write(2, buf))
}

func TestMemDevice_WrongSizedBuffer(t *testing.T) {
	d := NewMemDevice(2)
	assert.Error(t, d.Read(0, make([]byte, 10)))
	assert.Error(t, d.Write(0, make([]byte, 10)))
}

func TestFileDevice_ReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	d, err := OpenFileDevice(path, 4, true)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, SectorNum(4), d.SectorCount())

	src := make([]byte, SectorSize)
	for i := range src {
		src[i] = byte(255 - i%256)
	}
	require.NoError(t, d.Write(1, src))

	dst := make([]byte, SectorSize)
	require.NoError(t, d.Read(1, dst))
	assert.Equal(t, src, dst)
}

func TestFileDevice_ReopenPreservesContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	d1, err := OpenFileDevice(path, 2, true)
	require.NoError(t, err)

	src := make([]byte, SectorSize)
	src[0] = 0x42
	require.NoError(t, d1.Write(0, src))
	require.NoError(t, d1.Close())

	d2, err := OpenFileDevice(path, 2, false)
	require.NoError(t, err)
	defer d2.Close()

	dst := make([]byte, SectorSize)
	require.NoError(t, d2.Read(0, dst))
	assert.Equal(t, src, dst)
}
