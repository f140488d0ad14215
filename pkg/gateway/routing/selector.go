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

package routing

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/policy"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
)

// Decision is the outcome of engine selection for a job creation, with the
// rule that produced it for diagnostics.
type Decision struct {
	Engine api.EngineType
	Rule   string
}

// EngineSelector decides which engine owns a new job. Deny rules beat allow
// rules, digest-addressed images beat image deny rules, and the fall-through
// is the current engine. Pattern evaluation is fail-safe: a broken pattern
// resolves toward the legacy engine.
type EngineSelector struct {
	cfg          policy.Config
	deniedApps   *policy.DynamicMatcher
	allowedApps  *policy.DynamicMatcher
	deniedImages *policy.DynamicMatcher
}

// NewEngineSelector builds a selector over the dynamic policy.
func NewEngineSelector(cfg policy.Config, logger logr.Logger) *EngineSelector {
	return &EngineSelector{
		cfg:          cfg,
		deniedApps:   policy.NewDynamicMatcher("deniedApps", cfg.DeniedApps, policy.MatchEverythingOnError, logger),
		allowedApps:  policy.NewDynamicMatcher("allowedApps", cfg.AllowedApps, policy.MatchNothingOnError, logger),
		deniedImages: policy.NewDynamicMatcher("deniedImages", cfg.DeniedImages, policy.MatchEverythingOnError, logger),
	}
}

// Select resolves the target engine for the descriptor. It fails with
// EngineUnavailable when the selected engine is administratively disabled.
func (s *EngineSelector) Select(descriptor api.JobDescriptor) (Decision, error) {
	decision := s.evaluate(descriptor)
	if err := s.checkAvailable(decision.Engine); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func (s *EngineSelector) evaluate(descriptor api.JobDescriptor) Decision {
	jobGroupID := descriptor.JobGroupID()
	if s.deniedApps.Matches(jobGroupID) {
		return Decision{Engine: api.EngineLegacy, Rule: "deniedApps"}
	}
	if !s.allowedApps.Matches(jobGroupID) {
		return Decision{Engine: api.EngineLegacy, Rule: "notAllowed"}
	}
	// A digest-addressed image has no name to evaluate against the image
	// deny pattern; only the current engine supports digests.
	if descriptor.Image.Name == "" {
		return Decision{Engine: api.EngineCurrent, Rule: "digestImage"}
	}
	if s.deniedImages.Matches(descriptor.Image.Name) {
		return Decision{Engine: api.EngineLegacy, Rule: "deniedImages"}
	}
	return Decision{Engine: api.EngineCurrent, Rule: "allowed"}
}

func (s *EngineSelector) checkAvailable(engineType api.EngineType) error {
	enabled := true
	switch engineType {
	case api.EngineLegacy:
		enabled = s.cfg.LegacyEngineEnabled()
	case api.EngineCurrent:
		enabled = s.cfg.CurrentEngineEnabled()
	}
	if !enabled {
		return errutil.Error{
			Code: errutil.EngineUnavailable,
			Msg:  fmt.Sprintf("the %s engine is administratively disabled", engineType),
		}
	}
	return nil
}
