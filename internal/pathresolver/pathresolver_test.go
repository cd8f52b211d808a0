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

package pathresolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/diskfs/internal/blockcache"
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/inode"
)

func newTestResolver(t *testing.T) (*Resolver, *inode.Store) {
	t.Helper()
	dev := blockdev.NewMemDevice(256)
	cache := blockcache.NewWithCapacity(64)
	fm := freemap.NewBitmapAllocator(256)
	// The tests create inodes directly at sectors 1 through 3.
	fm.MarkUsed(1, 3)
	s := inode.NewStore(dev, cache, fm)

	require.NoError(t, directory.Create(s, 1, 1))
	return NewResolver(s, 1), s
}

func TestSplit_TokenizesAndFlagsAbsolute(t *testing.T) {
	components, absolute, err := Split("/a/b/c")
	require.NoError(t, err)
	assert.True(t, absolute)
	assert.Equal(t, []string{"a", "b", "c"}, components)

	components, absolute, err = Split("a/b")
	require.NoError(t, err)
	assert.False(t, absolute)
	assert.Equal(t, []string{"a", "b"}, components)
}

func TestSplit_RejectsOverlongComponent(t *testing.T) {
	_, _, err := Split("/this-name-is-way-too-long-to-fit")
	assert.Error(t, err)
}

func TestInodeOf_RootPath(t *testing.T) {
	r, _ := newTestResolver(t)
	sector, err := r.InodeOf("/", 0)
	require.NoError(t, err)
	assert.Equal(t, r.Root(), sector)
}

func TestInodeOf_EmptyPathResolvesToStart(t *testing.T) {
	r, _ := newTestResolver(t)
	sector, err := r.InodeOf("", 0)
	require.NoError(t, err)
	assert.Equal(t, r.Root(), sector)
}

func TestInodeOf_NestedChild(t *testing.T) {
	r, s := newTestResolver(t)

	require.NoError(t, directory.Create(s, 2, 1))
	root, err := directory.Open(s, 1)
	require.NoError(t, err)
	require.NoError(t, root.Add("sub", 2))
	require.NoError(t, root.Close())

	require.NoError(t, s.Create(3, 0, inode.TypeFile))
	sub, err := directory.Open(s, 2)
	require.NoError(t, err)
	require.NoError(t, sub.Add("leaf", 3))
	require.NoError(t, sub.Close())

	sector, err := r.InodeOf("/sub/leaf", 0)
	require.NoError(t, err)
	assert.Equal(t, blockdev.SectorNum(3), sector)
}

func TestInodeOf_MissingComponentFails(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.InodeOf("/nope", 0)
	assert.Error(t, err)
}

func TestDirnameResolve_SplitsDirAndBase(t *testing.T) {
	r, s := newTestResolver(t)
	require.NoError(t, directory.Create(s, 2, 1))
	root, err := directory.Open(s, 1)
	require.NoError(t, err)
	require.NoError(t, root.Add("sub", 2))
	require.NoError(t, root.Close())

	dirSector, base, err := r.DirnameResolve("/sub/newfile", 0)
	require.NoError(t, err)
	assert.Equal(t, blockdev.SectorNum(2), dirSector)
	assert.Equal(t, "newfile", base)
}

func TestBasename_PureNoIO(t *testing.T) {
	name, err := Basename("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "c", name)
}
