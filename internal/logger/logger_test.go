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

package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_SeverityFiltersLowerLevels(t *testing.T) {
	var buf bytes.Buffer
	Init(Warning, &buf)

	Infof("should not appear")
	Warnf("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestInit_OffSuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	Init(Off, &buf)

	Errorf("nothing should be logged")

	assert.Empty(t, buf.String())
}

func TestTracef_OnlyLogsWhenSeverityIsTrace(t *testing.T) {
	var buf bytes.Buffer
	Init(Debug, &buf)
	Tracef("trace message")
	require.Empty(t, buf.String())

	buf.Reset()
	Init(Trace, &buf)
	Tracef("trace message")
	assert.True(t, strings.Contains(buf.String(), "trace message"))
}

func TestInit_NilWriterFallsBackToStderr(t *testing.T) {
	assert.NotPanics(t, func() {
		Init(Info, nil)
		Infof("hello")
	})
}
