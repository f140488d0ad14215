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

import "sync/atomic"

// Snapshot is one complete set of policy values. It is the unit of atomic
// replacement for every mutable source and the YAML schema of the file
// source.
type Snapshot struct {
	AllowedApps              string `yaml:"allowedApps" json:"allowedApps"`
	DeniedApps               string `yaml:"deniedApps" json:"deniedApps"`
	DeniedImages             string `yaml:"deniedImages" json:"deniedImages"`
	LegacyEngineEnabled      bool   `yaml:"legacyEngineEnabled" json:"legacyEngineEnabled"`
	CurrentEngineEnabled     bool   `yaml:"currentEngineEnabled" json:"currentEngineEnabled"`
	JobSizeValidationEnabled bool   `yaml:"jobSizeValidationEnabled" json:"jobSizeValidationEnabled"`
}

// DefaultSnapshot routes everything to the legacy engine (empty allow list)
// with both engines enabled and size validation off.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		LegacyEngineEnabled:  true,
		CurrentEngineEnabled: true,
	}
}

// StaticSource is a Config whose snapshot is replaced atomically via Update.
// It backs tests and embedded deployments, and is the base of the file and
// etcd sources.
type StaticSource struct {
	snapshot atomic.Pointer[Snapshot]
}

// NewStaticSource creates a source holding the given snapshot.
func NewStaticSource(snapshot Snapshot) *StaticSource {
	s := &StaticSource{}
	s.snapshot.Store(&snapshot)
	return s
}

// Update atomically replaces the whole snapshot.
func (s *StaticSource) Update(snapshot Snapshot) {
	s.snapshot.Store(&snapshot)
}

// Current returns the current snapshot.
func (s *StaticSource) Current() Snapshot {
	return *s.snapshot.Load()
}

func (s *StaticSource) AllowedApps() string            { return s.snapshot.Load().AllowedApps }
func (s *StaticSource) DeniedApps() string             { return s.snapshot.Load().DeniedApps }
func (s *StaticSource) DeniedImages() string           { return s.snapshot.Load().DeniedImages }
func (s *StaticSource) LegacyEngineEnabled() bool      { return s.snapshot.Load().LegacyEngineEnabled }
func (s *StaticSource) CurrentEngineEnabled() bool     { return s.snapshot.Load().CurrentEngineEnabled }
func (s *StaticSource) JobSizeValidationEnabled() bool {
	return s.snapshot.Load().JobSizeValidationEnabled
}
