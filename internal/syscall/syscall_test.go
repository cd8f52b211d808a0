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

package syscall

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/diskfs/internal/blockcache"
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/inode"
	"github.com/kernelfs/diskfs/internal/pathresolver"
)

type fakeTerminal struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newFakeTerminal(input string) *fakeTerminal {
	return &fakeTerminal{in: bytes.NewReader([]byte(input))}
}

func (f *fakeTerminal) ReadByte() (byte, error) { return f.in.ReadByte() }
func (f *fakeTerminal) Write(p []byte) (int, error) {
	return f.out.Write(p)
}

func newTestProcess(t *testing.T) (*Process, *inode.Store) {
	t.Helper()
	dev := blockdev.NewMemDevice(4096)
	cache := blockcache.NewWithCapacity(64)
	fm := freemap.NewBitmapAllocator(4096)
	fm.MarkUsed(1, 1) // root directory's inode sector
	s := inode.NewStore(dev, cache, fm)
	require.NoError(t, directory.Create(s, 1, 1))

	resolver := pathresolver.NewResolver(s, 1)
	return NewProcess(s, resolver, newFakeTerminal("")), s
}

func newSharedProcess(store *inode.Store, resolver *pathresolver.Resolver) *Process {
	return NewProcess(store, resolver, newFakeTerminal(""))
}

func TestCreateOpenWriteReadClose(t *testing.T) {
	p, _ := newTestProcess(t)

	assert.True(t, p.Create("a.txt", 0))
	assert.False(t, p.Create("a.txt", 0), "creating an existing name must fail")

	fd := p.Open("a.txt")
	require.NotEqual(t, -1, fd)

	want := []byte("contents")
	assert.Equal(t, len(want), p.Write(fd, want, len(want)))

	p.Seek(fd, 0)
	got := make([]byte, len(want))
	assert.Equal(t, len(want), p.Read(fd, got, len(got)))
	assert.Equal(t, want, got)

	p.Close(fd)
}

func TestWrite_DenyWriteYieldsZeroNotNegativeOne(t *testing.T) {
	p, s := newTestProcess(t)
	require.True(t, p.Create("a.txt", 0))

	fd := p.Open("a.txt")
	require.NotEqual(t, -1, fd)

	sector, err := p.resolver.InodeOf("a.txt", p.cwd)
	require.NoError(t, err)
	h, err := s.Open(sector)
	require.NoError(t, err)
	s.DenyWrite(h)
	defer s.Close(h)

	assert.Equal(t, 0, p.Write(fd, []byte("x"), 1), "a deny-write refusal is a 0-length write, not -1")
}

func TestOpen_EmptyPathFails(t *testing.T) {
	p, _ := newTestProcess(t)
	assert.Equal(t, -1, p.Open(""))
}

func TestOpen_RootDirectory(t *testing.T) {
	p, _ := newTestProcess(t)
	fd := p.Open("/")
	require.NotEqual(t, -1, fd)
	assert.True(t, p.IsDir(fd))
	p.Close(fd)
}

func TestMkdir_MissingParentFails(t *testing.T) {
	p, _ := newTestProcess(t)
	assert.False(t, p.Mkdir("missing/child"))
}

func TestMkdirChdirCreateNested(t *testing.T) {
	p, _ := newTestProcess(t)

	require.True(t, p.Mkdir("sub"))
	require.True(t, p.Chdir("sub"))
	require.True(t, p.Create("leaf", 0))

	fd := p.Open("leaf")
	require.NotEqual(t, -1, fd)
	p.Close(fd)

	require.True(t, p.Chdir(".."))
	fd = p.Open("sub/leaf")
	assert.NotEqual(t, -1, fd)
	p.Close(fd)
}

func TestRemove_RejectsNonEmptyDirAndRoot(t *testing.T) {
	p, _ := newTestProcess(t)

	require.True(t, p.Mkdir("sub"))
	require.True(t, p.Create("sub/leaf", 0))

	assert.False(t, p.Remove("sub"), "removing a non-empty directory must fail")
	assert.False(t, p.Remove("/"))

	assert.True(t, p.Remove("sub/leaf"))
	assert.True(t, p.Remove("sub"))
}

func TestRemove_CwdIsRejected(t *testing.T) {
	p, _ := newTestProcess(t)
	require.True(t, p.Mkdir("sub"))
	require.True(t, p.Chdir("sub"))
	assert.False(t, p.Remove("."))
}

func TestReaddir_SkipsDotEntries(t *testing.T) {
	p, _ := newTestProcess(t)
	require.True(t, p.Create("one", 0))
	require.True(t, p.Create("two", 0))

	fd := p.Open("/")
	defer p.Close(fd)

	seen := map[string]bool{}
	for {
		name, ok := p.Readdir(fd)
		if !ok {
			break
		}
		seen[name] = true
	}
	assert.True(t, seen["one"])
	assert.True(t, seen["two"])
	assert.False(t, seen["."])
	assert.False(t, seen[".."])
}

func TestInumber_StableAcrossOpens(t *testing.T) {
	p, _ := newTestProcess(t)
	require.True(t, p.Create("f", 0))

	fd1 := p.Open("f")
	n1 := p.Inumber(fd1)
	p.Close(fd1)

	fd2 := p.Open("f")
	n2 := p.Inumber(fd2)
	p.Close(fd2)

	assert.Equal(t, n1, n2)
	assert.NotEqual(t, -1, n1)
}

func TestConcurrentProcesses_NonOverlappingWritesDoNotCrossContaminate(t *testing.T) {
	dev := blockdev.NewMemDevice(8192)
	cache := blockcache.NewWithCapacity(64)
	fm := freemap.NewBitmapAllocator(8192)
	fm.MarkUsed(1, 1) // root directory's inode sector
	s := inode.NewStore(dev, cache, fm)
	require.NoError(t, directory.Create(s, 1, 1))
	resolver := pathresolver.NewResolver(s, 1)

	setup := newSharedProcess(s, resolver)
	require.True(t, setup.Create("shared", 0))

	var wg sync.WaitGroup
	const perWriter = 512
	writers := 2
	results := make([][]byte, writers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			p := newSharedProcess(s, resolver)
			fd := p.Open("shared")
			defer p.Close(fd)

			payload := bytes.Repeat([]byte{byte('A' + w)}, perWriter)
			offset := int64(w * perWriter)
			p.Seek(fd, offset)
			p.Write(fd, payload, len(payload))
		}(w)
	}
	wg.Wait()

	reader := newSharedProcess(s, resolver)
	fd := reader.Open("shared")
	defer reader.Close(fd)

	for w := 0; w < writers; w++ {
		buf := make([]byte, perWriter)
		reader.Seek(fd, int64(w*perWriter))
		n := reader.Read(fd, buf, len(buf))
		require.Equal(t, perWriter, n)
		results[w] = buf
		want := bytes.Repeat([]byte{byte('A' + w)}, perWriter)
		assert.Equal(t, want, buf, "writer %d's range must not be contaminated by another writer", w)
	}
}
