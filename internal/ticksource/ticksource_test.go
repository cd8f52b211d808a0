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

package ticksource

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic_StrictlyIncreasing(t *testing.T) {
	m := NewMonotonic()
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		cur := m.Tick()
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestMonotonic_ConcurrentTicksAreUnique(t *testing.T) {
	m := NewMonotonic()
	const goroutines = 20
	const perGoroutine = 50

	seen := make(chan uint64, goroutines*perGoroutine)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				seen <- m.Tick()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[uint64]bool{}
	for v := range seen {
		assert.False(t, unique[v], "tick value %d issued twice", v)
		unique[v] = true
	}
	assert.Len(t, unique, goroutines*perGoroutine)
}
