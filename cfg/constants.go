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

package cfg

const (
	// Logging-level constants. Left untyped so they convert freely to both
	// the plain string fields (flag defaults) and the LogSeverity type
	// (Config.Logging.Severity).

	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

const (
	// Fixed sizes: 64 cache slots, a 128-slot FD table. Sector count and
	// root sector are deployment-specific but need a sane default for a
	// freshly formatted image.

	DefaultExitOnInvariantViolation = true

	DefaultCacheSlotCount = 64

	DefaultSectorCount = 1 << 16 // 32 MiB image

	DefaultRootSector = 1 // sector 0 is reserved by the free-map

	DefaultFdTableSize = 128

	DefaultLogSeverity = INFO
)
