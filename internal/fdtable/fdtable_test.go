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

package fdtable

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelfs/diskfs/internal/blockcache"
	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/directory"
	"github.com/kernelfs/diskfs/internal/freemap"
	"github.com/kernelfs/diskfs/internal/inode"
)

// fakeTerminal is an in-memory stand-in for stdio: ReadByte drains a fixed
// input buffer, Write appends to an output buffer.
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

func newTestStore(t *testing.T) *inode.Store {
	t.Helper()
	dev := blockdev.NewMemDevice(256)
	cache := blockcache.NewWithCapacity(64)
	fm := freemap.NewBitmapAllocator(256)
	return inode.NewStore(dev, cache, fm)
}

func TestNew_StdioSlotsPreoccupied(t *testing.T) {
	s := newTestStore(t)
	tbl := New(s, newFakeTerminal(""))

	_, err := tbl.Tell(Stdin)
	assert.Error(t, err, "stdio descriptors do not support file operations")
	assert.Error(t, tbl.Close(Stdin))
}

func TestWrite_DenyWriteYieldsZeroLengthWriteNotError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(10, 0, inode.TypeFile))
	h, err := s.Open(10)
	require.NoError(t, err)

	tbl := New(s, newFakeTerminal(""))
	fd, err := tbl.OpenFile(h)
	require.NoError(t, err)

	s.DenyWrite(h)
	n, err := tbl.Write(fd, []byte("x"), 1)
	assert.NoError(t, err, "deny-write is a 0-length write, not a failure")
	assert.Equal(t, 0, n)

	pos, err := tbl.Tell(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos, "a refused write must not advance the offset")
}

func TestOpenFile_ReadWriteSeekTell(t *testing.T) {
	s := newTestStore(t)
	tbl := New(s, newFakeTerminal(""))

	require.NoError(t, s.Create(10, 0, inode.TypeFile))
	h, err := s.Open(10)
	require.NoError(t, err)

	fd, err := tbl.OpenFile(h)
	require.NoError(t, err)

	want := []byte("payload")
	n, err := tbl.Write(fd, want, len(want))
	require.NoError(t, err)
	assert.Equal(t, len(want), n)

	pos, err := tbl.Tell(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), pos)

	require.NoError(t, tbl.Seek(fd, 0))
	got := make([]byte, len(want))
	n, err = tbl.Read(fd, got, len(got))
	require.NoError(t, err)
	assert.Equal(t, want, got[:n])

	size, err := tbl.Filesize(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), size)

	require.NoError(t, tbl.Close(fd))
	_, err = tbl.Tell(fd)
	assert.Error(t, err)
}

func TestOpenDir_ReaddirAndIsDir(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, directory.Create(s, 1, 1))
	require.NoError(t, s.Create(2, 0, inode.TypeFile))

	d, err := directory.Open(s, 1)
	require.NoError(t, err)
	require.NoError(t, d.Add("child", 2))

	tbl := New(s, newFakeTerminal(""))
	fd, err := tbl.OpenDir(d)
	require.NoError(t, err)

	isDir, err := tbl.IsDir(fd)
	require.NoError(t, err)
	assert.True(t, isDir)

	name, ok, err := tbl.Readdir(fd)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "child", name)

	_, ok, err = tbl.Readdir(fd)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tbl.Read(fd, make([]byte, 1), 1)
	assert.Error(t, err, "reading a directory descriptor must fail")
}

func TestReadStdin_OneByteAtATime(t *testing.T) {
	s := newTestStore(t)
	tbl := New(s, newFakeTerminal("hi"))

	buf := make([]byte, 2)
	n, err := tbl.Read(Stdin, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hi", string(buf))
}

func TestWriteTerminal_ChunksContiguously(t *testing.T) {
	s := newTestStore(t)
	term := newFakeTerminal("")
	tbl := New(s, term)

	payload := make([]byte, terminalChunkSize+10)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := tbl.Write(Stdout, payload, len(payload))
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, term.out.Bytes(), "chunking must preserve byte order across the chunk boundary")
}

func TestAllocate_ExhaustsAndReusesSlots(t *testing.T) {
	s := newTestStore(t)
	tbl := New(s, newFakeTerminal(""))

	require.NoError(t, s.Create(10, 0, inode.TypeFile))

	var fds []int
	for i := 0; i < Capacity-3; i++ {
		h, err := s.Open(10)
		require.NoError(t, err)
		fd, err := tbl.OpenFile(h)
		require.NoError(t, err)
		fds = append(fds, fd)
	}

	h, err := s.Open(10)
	require.NoError(t, err)
	_, err = tbl.OpenFile(h)
	assert.Error(t, err, "the table should be full")
	s.Close(h)

	require.NoError(t, tbl.Close(fds[0]))
	h, err = s.Open(10)
	require.NoError(t, err)
	_, err = tbl.OpenFile(h)
	assert.NoError(t, err, "closing a slot must free it for reuse")
}

func TestLookup_RejectsOutOfRangeAndEmptySlots(t *testing.T) {
	s := newTestStore(t)
	tbl := New(s, newFakeTerminal(""))

	_, err := tbl.Tell(Capacity)
	assert.Error(t, err)

	_, err = tbl.Tell(5)
	assert.Error(t, err)
}
