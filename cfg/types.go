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

import (
	"fmt"
	"slices"
	"strings"
)

// LogSeverity is the datatype for the logging.severity field, validated
// against the severity ranking internal/logger understands.
type LogSeverity string

var severityRanking = []string{TRACE, DEBUG, INFO, WARNING, ERROR, OFF}

func (s *LogSeverity) UnmarshalText(text []byte) error {
	v := strings.ToUpper(string(text))
	if !slices.Contains(severityRanking, v) {
		return fmt.Errorf("invalid log severity: %s, expected one of %v", text, severityRanking)
	}
	*s = LogSeverity(v)
	return nil
}

func (s LogSeverity) MarshalText() ([]byte, error) {
	return []byte(string(s)), nil
}
