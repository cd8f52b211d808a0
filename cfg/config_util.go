// Copyright 2024 Google LLC
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

// IsTraceLogging reports whether the configured severity logs at TRACE,
// the noisiest level.
func IsTraceLogging(config *Config) bool {
	return string(config.Logging.Severity) == TRACE
}

// ImageSizeBytes returns the backing device image's total size implied
// by the configured sector count.
func ImageSizeBytes(config *Config) int64 {
	return int64(config.FileSystem.SectorCount) * 512
}
