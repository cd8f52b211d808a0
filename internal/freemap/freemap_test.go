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

package freemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBitmapAllocator_ReservesSectorZero(t *testing.T) {
	a := NewBitmapAllocator(4)
	assert.Equal(t, 3, a.FreeCount())
}

func TestAllocate_SkipsUsedSectors(t *testing.T) {
	a := NewBitmapAllocator(4)

	s1, err := a.Allocate(1)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), uint32(s1))

	s2, err := a.Allocate(1)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestAllocate_ExhaustedReturnsError(t *testing.T) {
	a := NewBitmapAllocator(2)
	_, err := a.Allocate(1)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	assert.Error(t, err)
}

func TestRelease_MakesSectorAvailableAgain(t *testing.T) {
	a := NewBitmapAllocator(2)
	s, err := a.Allocate(1)
	require.NoError(t, err)

	a.Release(s, 1)
	assert.Equal(t, 1, a.FreeCount())

	s2, err := a.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, s, s2)
}

func TestAllocate_ContiguousRun(t *testing.T) {
	a := NewBitmapAllocator(8)
	s, err := a.Allocate(3)
	require.NoError(t, err)

	_, err = a.Allocate(1)
	require.NoError(t, err)

	a.Release(s, 3)
	assert.Equal(t, 6, a.FreeCount())
}

func TestAllocate_InvalidSize(t *testing.T) {
	a := NewBitmapAllocator(4)
	_, err := a.Allocate(0)
	assert.Error(t, err)
}
