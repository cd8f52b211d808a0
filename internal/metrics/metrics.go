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

// Package metrics exposes Prometheus counters/gauges for the block cache
// and inode store, in the registration style used throughout the retrieved
// pack's storage allocators: package-level collectors, registered exactly
// once via sync.Once so repeated construction in tests doesn't panic on a
// duplicate registration.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diskfs",
		Subsystem: "blockcache",
		Name:      "hits_total",
		Help:      "Number of block cache lookups that found the sector already resident.",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diskfs",
		Subsystem: "blockcache",
		Name:      "misses_total",
		Help:      "Number of block cache lookups that found the sector not resident.",
	})

	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diskfs",
		Subsystem: "blockcache",
		Name:      "evictions_total",
		Help:      "Number of buffers evicted to make room for a miss.",
	})

	CacheWritebacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diskfs",
		Subsystem: "blockcache",
		Name:      "writebacks_total",
		Help:      "Number of dirty buffers written back to the device (eviction or flush).",
	})

	InodeAllocations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diskfs",
		Subsystem: "inode",
		Name:      "sector_allocations_total",
		Help:      "Number of sectors allocated by resize operations.",
	})

	InodeAllocationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diskfs",
		Subsystem: "inode",
		Name:      "allocation_failures_total",
		Help:      "Number of resize plans that failed to allocate and were rolled back.",
	})

	OpenInodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diskfs",
		Subsystem: "inode",
		Name:      "open_inodes",
		Help:      "Current number of distinct home sectors held open in the registry.",
	})
)

// Register installs all collectors into the default registry. Safe to call
// more than once; only the first call has any effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheHits,
			CacheMisses,
			CacheEvictions,
			CacheWritebacks,
			InodeAllocations,
			InodeAllocationFailures,
			OpenInodes,
		)
	})
}
