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

import (
	"fmt"

	"github.com/kernelfs/diskfs/internal/fdtable"
)

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if config.Cache.SlotCount <= 0 {
		return fmt.Errorf("cache.slot-count must be positive, got %d", config.Cache.SlotCount)
	}
	if config.FileSystem.SectorCount == 0 {
		return fmt.Errorf("file-system.sector-count must be positive")
	}
	if config.FileSystem.RootSector == 0 {
		return fmt.Errorf("file-system.root-sector cannot be sector 0, which the free-map reserves")
	}
	if config.FileSystem.RootSector >= config.FileSystem.SectorCount {
		return fmt.Errorf("file-system.root-sector %d is outside the %d-sector device", config.FileSystem.RootSector, config.FileSystem.SectorCount)
	}
	if config.FileSystem.FdTableSize != fdtable.Capacity {
		return fmt.Errorf("file-system.fd-table-size must be %d, the fixed descriptor table size", fdtable.Capacity)
	}

	return nil
}
