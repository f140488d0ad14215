/*
Copyright 2018 Netflix, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

func TestDynamicMatcher(t *testing.T) {
	logger := logging.NewTestLogger()

	tests := []struct {
		name     string
		pattern  string
		failMode FailMode
		input    string
		want     bool
	}{
		{name: "match", pattern: "app-.*", input: "app-stack-detail-1", want: true},
		{name: "whole input must match", pattern: "app-", input: "app-stack", want: false},
		{name: "no match", pattern: "app-.*", input: "other-stack", want: false},
		{name: "empty pattern matches only empty input", pattern: "", input: "app", want: false},
		{name: "empty pattern empty input", pattern: "", input: "", want: true},
		{name: "invalid pattern fails to nothing", pattern: "(", failMode: MatchNothingOnError, input: "anything", want: false},
		{name: "invalid pattern fails to everything", pattern: "(", failMode: MatchEverythingOnError, input: "anything", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewDynamicMatcher("test", func() string { return tt.pattern }, tt.failMode, logger)
			assert.Equal(t, tt.want, m.Matches(tt.input))
		})
	}
}

func TestDynamicMatcherReload(t *testing.T) {
	logger := logging.NewTestLogger()

	pattern := "app-.*"
	m := NewDynamicMatcher("test", func() string { return pattern }, MatchNothingOnError, logger)

	assert.True(t, m.Matches("app-main"))
	assert.False(t, m.Matches("batch-main"))

	// Operators can flip the pattern without restarting; the next evaluation
	// must see the new value.
	pattern = "batch-.*"
	assert.False(t, m.Matches("app-main"))
	assert.True(t, m.Matches("batch-main"))

	// And flipping back hits the compiled cache.
	pattern = "app-.*"
	assert.True(t, m.Matches("app-main"))
}

func TestStaticSource(t *testing.T) {
	source := NewStaticSource(Snapshot{
		AllowedApps:          "app-.*",
		LegacyEngineEnabled:  true,
		CurrentEngineEnabled: true,
	})

	assert.Equal(t, "app-.*", source.AllowedApps())
	assert.True(t, source.LegacyEngineEnabled())
	assert.False(t, source.JobSizeValidationEnabled())

	source.Update(Snapshot{DeniedApps: "app-denied-.*", CurrentEngineEnabled: true})
	assert.Empty(t, source.AllowedApps())
	assert.Equal(t, "app-denied-.*", source.DeniedApps())
	assert.False(t, source.LegacyEngineEnabled())
}

func TestDefaultSnapshotRoutesToLegacy(t *testing.T) {
	s := DefaultSnapshot()
	assert.Empty(t, s.AllowedApps)
	assert.True(t, s.LegacyEngineEnabled)
	assert.True(t, s.CurrentEngineEnabled)
	assert.False(t, s.JobSizeValidationEnabled)
}
