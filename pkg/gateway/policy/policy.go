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

// Package policy provides the dynamically reloadable configuration consumed
// by the routing gateway: allow/deny patterns for engine selection and the
// administrative engine/validation switches. Sources re-read their backing
// store on change so operators can re-route traffic without restarting the
// process.
package policy

import (
	"regexp"

	"github.com/go-logr/logr"
	lru "github.com/hashicorp/golang-lru/v2"

	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

// Config is the dynamic policy surface consumed by the gateway. Every call
// returns the current value; callers must not cache results across requests.
type Config interface {
	// AllowedApps is the job-group allow pattern for the current engine.
	AllowedApps() string
	// DeniedApps is the job-group deny pattern for the current engine.
	DeniedApps() string
	// DeniedImages is the image-name deny pattern for the current engine.
	DeniedImages() string

	LegacyEngineEnabled() bool
	CurrentEngineEnabled() bool
	JobSizeValidationEnabled() bool
}

// FailMode controls what a DynamicMatcher reports when its current pattern
// does not compile. Deny lists fail to matching everything and allow lists to
// matching nothing; either way creation stays on the legacy engine.
type FailMode int

const (
	MatchNothingOnError FailMode = iota
	MatchEverythingOnError
)

// patternCacheSize bounds the compiled pattern cache. Operators flip between
// a handful of patterns; anything older is safe to recompile.
const patternCacheSize = 16

// DynamicMatcher evaluates a live-reloadable regular expression. The raw
// pattern is fetched from the source on every evaluation; compilation is
// cached per raw pattern so steady state does not pay regexp.Compile per
// request. Patterns are implicitly anchored: the whole input must match.
type DynamicMatcher struct {
	name     string
	source   func() string
	failMode FailMode
	logger   logr.Logger
	compiled *lru.Cache[string, *regexp.Regexp]
}

// NewDynamicMatcher builds a matcher over the named pattern source.
func NewDynamicMatcher(name string, source func() string, failMode FailMode, logger logr.Logger) *DynamicMatcher {
	// Only errors on non-positive size.
	cache, _ := lru.New[string, *regexp.Regexp](patternCacheSize)
	return &DynamicMatcher{
		name:     name,
		source:   source,
		failMode: failMode,
		logger:   logger.WithName("DynamicMatcher").WithValues("pattern", name),
		compiled: cache,
	}
}

// Matches evaluates the current pattern against the input. A compilation
// failure is logged and resolved according to the matcher's fail mode; it
// never propagates to the caller.
func (m *DynamicMatcher) Matches(input string) bool {
	raw := m.source()

	re, ok := m.compiled.Get(raw)
	if !ok {
		var err error
		re, err = regexp.Compile(`\A(?:` + raw + `)\z`)
		if err != nil {
			m.logger.Error(err, "Invalid policy pattern, applying fail mode", "rawPattern", raw, "failMode", m.failMode)
			return m.failMode == MatchEverythingOnError
		}
		m.compiled.Add(raw, re)
		m.logger.V(logutil.DEBUG).Info("Compiled policy pattern", "rawPattern", raw)
	}

	return re.MatchString(input)
}
