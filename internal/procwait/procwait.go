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

// Package procwait implements the process wait-record: a small,
// reference-counted structure shared between a parent and exactly one
// child, used to let the parent block in wait() until the child has
// exited and to hand back the child's exit code exactly once.
//
// The two-count reference scheme (starting at 2, decremented once by the
// parent's own exit bookkeeping and once by the child's) and the
// permit-style semaphore gating a single successful wait are data-model
// concerns named by the core design; the process lifecycle that creates
// and retires these records (exec/fork/exit) is an external collaborator
// and is not implemented here.
package procwait

import (
	"fmt"
	"sync"

	"github.com/kernelfs/diskfs/internal/fserrors"
)

// Record is shared between a parent and one child process.
type Record struct {
	pid int

	mu       sync.Mutex
	exitCode int
	dead     bool
	refCount int

	// exited is closed exactly once, by ChildExited, to wake a blocked
	// Wait. Closing rather than sending lets every late caller of Wait
	// observe it immediately rather than racing to receive a single
	// buffered value.
	exited chan struct{}

	// consumed gates Wait to a single successful caller; a buffered
	// channel with one permit, drained by whichever Wait call reaches it
	// first.
	consumed chan struct{}
}

// New returns a wait-record for a freshly created child pid, with the
// reference count the data model specifies: one for the parent's
// bookkeeping, one for the child's own.
func New(pid int) *Record {
	r := &Record{
		pid:      pid,
		refCount: 2,
		exited:   make(chan struct{}),
		consumed: make(chan struct{}, 1),
	}
	r.consumed <- struct{}{}
	return r
}

// Pid returns the child pid this record tracks.
func (r *Record) Pid() int { return r.pid }

// ChildExited records the child's exit code and wakes any blocked or
// future Wait call. Calling it more than once is a programming error.
func (r *Record) ChildExited(exitCode int) {
	r.mu.Lock()
	if r.dead {
		r.mu.Unlock()
		panic(fmt.Sprintf("procwait: ChildExited called twice for pid %d", r.pid))
	}
	r.exitCode = exitCode
	r.dead = true
	r.mu.Unlock()

	close(r.exited)
}

// Wait blocks until the child has exited and returns its exit code. A
// second call (by the same or a different goroutine) returns
// ErrConflict rather than blocking again or returning a stale code.
func (r *Record) Wait() (int, error) {
	select {
	case <-r.consumed:
	default:
		return 0, fmt.Errorf("%w: pid %d has already been waited on", fserrors.ErrConflict, r.pid)
	}

	<-r.exited

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode, nil
}

// Release drops one of the record's two references (parent-side or
// child-side bookkeeping) and reports whether this was the last one, at
// which point the caller should drop its own reference to r.
func (r *Record) Release() (shouldFree bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refCount == 0 {
		panic(fmt.Sprintf("procwait: Release called with zero refcount for pid %d", r.pid))
	}
	r.refCount--
	return r.refCount == 0
}
