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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of tunables for one mounted filesystem
// instance: how much the block cache buffers, how the backing device is
// sized, and how loudly the stack logs.
type Config struct {
	AppName string `yaml:"app-name"`

	Debug DebugConfig `yaml:"debug"`

	Cache CacheConfig `yaml:"cache"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Logging LoggingConfig `yaml:"logging"`
}

// DebugConfig controls invariant-violation behavior during development.
type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

// CacheConfig sizes the block cache.
type CacheConfig struct {
	SlotCount int `yaml:"slot-count"`
}

// FileSystemConfig sizes the on-disk image and the per-process
// descriptor table.
type FileSystemConfig struct {
	SectorCount uint32 `yaml:"sector-count"`

	RootSector uint32 `yaml:"root-sector"`

	FdTableSize int `yaml:"fd-table-size"`
}

// LoggingConfig controls the internal/logger severity threshold.
type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`
}

// BindFlags registers every configuration flag against flagSet and binds
// it into viper, one field at a time via BindPFlag.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("app-name", "", "", "The application name of this mount.")

	err = viper.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug-invariants", "", DefaultExitOnInvariantViolation, "Recorded as debug.exit-on-invariant-violation; no code reads it, and an internal invariant violation (bad inode magic, lock-count underflow) always exits the process.")

	err = viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug-mutex", "", false, "Recorded as debug.log-mutex; no code reads it, and no lock-hold messages are printed.")

	err = viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex"))
	if err != nil {
		return err
	}

	flagSet.IntP("cache-slot-count", "", DefaultCacheSlotCount, "Number of 512-byte buffers the block cache holds resident.")

	err = viper.BindPFlag("cache.slot-count", flagSet.Lookup("cache-slot-count"))
	if err != nil {
		return err
	}

	flagSet.Uint32P("sector-count", "", DefaultSectorCount, "Size of the backing device image, in 512-byte sectors.")

	err = viper.BindPFlag("file-system.sector-count", flagSet.Lookup("sector-count"))
	if err != nil {
		return err
	}

	flagSet.Uint32P("root-sector", "", DefaultRootSector, "Sector holding the root directory's inode.")

	err = viper.BindPFlag("file-system.root-sector", flagSet.Lookup("root-sector"))
	if err != nil {
		return err
	}

	flagSet.IntP("fd-table-size", "", DefaultFdTableSize, "Number of descriptor slots per process.")

	err = viper.BindPFlag("file-system.fd-table-size", flagSet.Lookup("fd-table-size"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", DefaultLogSeverity, "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")

	err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	return nil
}
