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

package inode

import (
	"fmt"

	"github.com/kernelfs/diskfs/internal/blockdev"
	"github.com/kernelfs/diskfs/internal/fserrors"
)

// chunkFor clamps a requested read or write to what fits in the current
// sector, starting at byte offset within it.
func chunkFor(offset int64, remaining int) (sectorOffset, chunk int) {
	sectorOffset = int(offset % blockdev.SectorSize)
	chunk = blockdev.SectorSize - sectorOffset
	if chunk > remaining {
		chunk = remaining
	}
	return sectorOffset, chunk
}

// ReadAt reads up to size bytes of h's data starting at offset into buf,
// returning the number of bytes actually read. Reading at or past the
// current length returns 0 with no error, matching the documented
// past-EOF behavior.
func (s *Store) ReadAt(h *Handle, buf []byte, size int, offset int64) (int, error) {
	if size < 0 || offset < 0 {
		return 0, fmt.Errorf("%w: negative size or offset", fserrors.ErrArgument)
	}
	if len(buf) < size {
		return 0, fmt.Errorf("%w: buffer shorter than requested size", fserrors.ErrArgument)
	}

	h.dataLock.RLock()
	defer h.dataLock.RUnlock()

	h.resizeLock.Lock()
	length := int64(h.disk.Length)
	h.resizeLock.Unlock()

	if offset >= length {
		return 0, nil
	}
	if int64(size) > length-offset {
		size = int(length - offset)
	}

	read := 0
	for read < size {
		pos := offset + int64(read)
		sector, err := s.sectorOf(h, pos)
		if err != nil {
			return read, err
		}

		sectorOffset, chunk := chunkFor(pos, size-read)

		if sector == NoSector {
			// A hole: bytes within the allocated length but never written
			// (e.g. a sector whose allocation was skipped) read as zero.
			for i := 0; i < chunk; i++ {
				buf[read+i] = 0
			}
		} else if sectorOffset == 0 && chunk == blockdev.SectorSize {
			if err := s.cache.Read(s.device, sector, buf[read:read+chunk]); err != nil {
				return read, err
			}
		} else {
			if err := s.cache.ReadOffset(s.device, sector, buf[read:read+chunk], sectorOffset, chunk); err != nil {
				return read, err
			}
		}

		read += chunk
	}

	return read, nil
}

// WriteAt writes size bytes from buf into h's data starting at offset,
// growing the file first if the write extends past the current length.
// It returns the number of bytes actually written, which is always size
// on success since growth makes the write always fit, short of a
// resize failure.
func (s *Store) WriteAt(h *Handle, buf []byte, size int, offset int64) (int, error) {
	if size < 0 || offset < 0 {
		return 0, fmt.Errorf("%w: negative size or offset", fserrors.ErrArgument)
	}
	if len(buf) < size {
		return 0, fmt.Errorf("%w: buffer shorter than requested size", fserrors.ErrArgument)
	}

	h.dataLock.Lock()
	defer h.dataLock.Unlock()

	h.resizeLock.Lock()
	denied := h.denyWriteCount > 0
	length := int64(h.disk.Length)
	h.resizeLock.Unlock()

	if denied {
		return 0, fmt.Errorf("%w: file is currently deny-write", fserrors.ErrConflict)
	}

	end := offset + int64(size)
	if end > length {
		if err := s.resize(h, end); err != nil {
			return 0, err
		}
	}

	written := 0
	for written < size {
		pos := offset + int64(written)
		sector, err := s.sectorOf(h, pos)
		if err != nil {
			return written, err
		}
		if sector == NoSector {
			return written, fmt.Errorf("inode: write: sector for offset %d missing after grow", pos)
		}

		sectorOffset, chunk := chunkFor(pos, size-written)

		if sectorOffset == 0 && chunk == blockdev.SectorSize {
			if err := s.cache.Write(s.device, sector, buf[written:written+chunk]); err != nil {
				return written, err
			}
		} else {
			if err := s.cache.WriteOffset(s.device, sector, buf[written:written+chunk], sectorOffset, chunk); err != nil {
				return written, err
			}
		}

		written += chunk
	}

	return written, nil
}
