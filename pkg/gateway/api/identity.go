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

package api

import "regexp"

// EngineType names one of the two backend job management engines coexisting
// during the migration window.
type EngineType string

const (
	EngineLegacy  EngineType = "legacy"
	EngineCurrent EngineType = "current"
)

// Legacy identities are structured strings minted by the legacy engine:
// "<cell>-<sequence>" for jobs and "<cell>-<sequence>-worker-<index>-<number>"
// for tasks. The current engine mints UUIDs, which never match either form.
// The engine affiliation is therefore recoverable from the identity alone,
// without consulting routing policy, and never changes for the life of the
// job.
var (
	legacyJobIDPattern  = regexp.MustCompile(`^[a-zA-Z]+-\d+$`)
	legacyTaskIDPattern = regexp.MustCompile(`^[a-zA-Z]+-\d+-worker-\d+-\d+$`)
)

// IsLegacyJobID reports whether the job identity was minted by the legacy
// engine.
func IsLegacyJobID(jobID string) bool {
	return legacyJobIDPattern.MatchString(jobID)
}

// IsLegacyTaskID reports whether the task identity was minted by the legacy
// engine.
func IsLegacyTaskID(taskID string) bool {
	return legacyTaskIDPattern.MatchString(taskID)
}

// JobEngine returns the engine affiliation encoded in a job identity.
func JobEngine(jobID string) EngineType {
	if IsLegacyJobID(jobID) {
		return EngineLegacy
	}
	return EngineCurrent
}

// TaskEngine returns the engine affiliation encoded in a task identity.
func TaskEngine(taskID string) EngineType {
	if IsLegacyTaskID(taskID) {
		return EngineLegacy
	}
	return EngineCurrent
}
