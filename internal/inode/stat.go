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
	"golang.org/x/sync/errgroup"

	"github.com/kernelfs/diskfs/internal/blockdev"
)

// statManyConcurrency bounds how many inodes StatMany fetches in flight
// at once, so a directory with thousands of entries doesn't try to hold
// that many registry entries open simultaneously.
const statManyConcurrency = 8

// StatMany returns the Type of each sector, in the same order, fetching
// them concurrently via errgroup rather than one at a time. Each sector's
// inode sector is opened and closed independently; a directory listing
// full of immediate children is the primary caller, where the home
// sectors are otherwise unrelated to each other and safe to fetch in
// parallel.
func (s *Store) StatMany(sectors []blockdev.SectorNum) ([]Type, error) {
	types := make([]Type, len(sectors))

	var g errgroup.Group
	g.SetLimit(statManyConcurrency)
	for i, sector := range sectors {
		i, sector := i, sector
		g.Go(func() error {
			h, err := s.Open(sector)
			if err != nil {
				return err
			}
			types[i] = s.Type(h)
			return s.Close(h)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return types, nil
}
