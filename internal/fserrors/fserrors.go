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

// Package fserrors defines the sentinel error kinds shared by every layer of
// the filesystem substrate, per the error taxonomy of the core design: a
// small fixed set of kinds that internal layers return explicitly rather
// than throw, leaving translation into the syscall-surface scalar contract
// (-1 / false / short write) to the outermost layer.
package fserrors

import "errors"

// Sentinel kinds. Use errors.Is against these, or errors.Wrap-style
// fmt.Errorf("%w: ...", ErrX) to attach detail while keeping the kind
// inspectable.
var (
	// ErrArgument covers null/invalid pointers, overlength paths, fd
	// out of range, and stdio misuse.
	ErrArgument = errors.New("invalid argument")

	// ErrNotFound covers a missing path component or an intermediate
	// component that is not a directory.
	ErrNotFound = errors.New("not found")

	// ErrExhausted covers a full free-map, a full FD table, or an
	// allocation failure anywhere downstream.
	ErrExhausted = errors.New("resource exhausted")

	// ErrConflict covers removing a non-empty directory, removing root
	// or a live process's cwd, and writing while deny-write is held.
	ErrConflict = errors.New("conflict")

	// ErrMalformed indicates an on-disk sanity violation (bad magic).
	// Callers that observe this should treat it as fatal.
	ErrMalformed = errors.New("malformed on-disk structure")
)

// Is reports whether err carries kind anywhere in its chain.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
