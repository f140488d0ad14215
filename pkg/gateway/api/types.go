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

// Package api holds the entities exchanged between the routing gateway, the
// backend engines and their callers. Descriptors are immutable once
// submitted; decorating helpers return copies.
package api

import (
	"fmt"
	"time"
)

// Tier classifies capacity pools for admission control purposes.
type Tier int

const (
	TierFlex Tier = iota
	TierCritical
)

// String returns a human-readable string representation of the Tier.
func (t Tier) String() string {
	switch t {
	case TierFlex:
		return "Flex"
	case TierCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ResourceDimension is the normalized resource 5-tuple used for job requests
// and capacity pool limits.
type ResourceDimension struct {
	CPU         float64 `json:"cpu" yaml:"cpu"`
	GPU         int64   `json:"gpu" yaml:"gpu"`
	MemoryMB    int64   `json:"memoryMB" yaml:"memoryMB"`
	DiskMB      int64   `json:"diskMB" yaml:"diskMB"`
	NetworkMbps int64   `json:"networkMbps" yaml:"networkMbps"`
}

// FitsIn reports whether every component of r is less than or equal to the
// corresponding component of limit. The comparison is a partial order; two
// dimensions may each fail to fit in the other.
func (r ResourceDimension) FitsIn(limit ResourceDimension) bool {
	return r.CPU <= limit.CPU &&
		r.GPU <= limit.GPU &&
		r.MemoryMB <= limit.MemoryMB &&
		r.DiskMB <= limit.DiskMB &&
		r.NetworkMbps <= limit.NetworkMbps
}

// String formats the dimension for diagnostics on admission rejections.
func (r ResourceDimension) String() string {
	return fmt.Sprintf("{cpu=%g, gpu=%d, memoryMB=%d, diskMB=%d, networkMbps=%d}",
		r.CPU, r.GPU, r.MemoryMB, r.DiskMB, r.NetworkMbps)
}

// JobGroupInfo identifies the job group coordinates within an application.
type JobGroupInfo struct {
	Stack    string `json:"stack"`
	Detail   string `json:"detail"`
	Sequence string `json:"sequence"`
}

// Image is a container image reference. Name and Tag are set for tag-addressed
// images; a digest-addressed image has an empty Name and a non-empty Digest.
type Image struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Digest string `json:"digest"`
}

// JobDescriptor describes a job as submitted by the caller.
type JobDescriptor struct {
	ApplicationName string            `json:"applicationName"`
	CapacityGroup   string            `json:"capacityGroup"`
	JobGroupInfo    JobGroupInfo      `json:"jobGroupInfo"`
	Image           Image             `json:"image"`
	Resources       ResourceDimension `json:"resources"`
	Constraints     map[string]string `json:"constraints,omitempty"`
	SecurityGroups  []string          `json:"securityGroups,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// JobGroupID builds the identity string evaluated against routing policy
// patterns: applicationName-stack-detail-sequence.
func (d JobDescriptor) JobGroupID() string {
	return d.ApplicationName + "-" + d.JobGroupInfo.Stack + "-" + d.JobGroupInfo.Detail + "-" + d.JobGroupInfo.Sequence
}

// WithAttribute returns a copy of the descriptor with the given attribute set.
// The receiver is left untouched.
func (d JobDescriptor) WithAttribute(key, value string) JobDescriptor {
	attrs := make(map[string]string, len(d.Attributes)+1)
	for k, v := range d.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	d.Attributes = attrs
	return d
}

// ServiceJobProcesses holds the scaling locks of a service job. A set flag
// blocks the corresponding desired-capacity change until cleared.
type ServiceJobProcesses struct {
	DisableIncreaseDesired bool `json:"disableIncreaseDesired"`
	DisableDecreaseDesired bool `json:"disableDecreaseDesired"`
}

// Job is a created job as reported by a backend engine.
type Job struct {
	ID              string              `json:"id"`
	Descriptor      JobDescriptor       `json:"descriptor"`
	DesiredCapacity int                 `json:"desiredCapacity"`
	InService       bool                `json:"inService"`
	Processes       ServiceJobProcesses `json:"processes"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// Task is a scheduled unit of work belonging to a job.
type Task struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	AgentID   string    `json:"agentId,omitempty"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobQueryCriteria narrows criteria queries. Zero-valued fields match
// everything.
type JobQueryCriteria struct {
	ApplicationName string
	CapacityGroup   string
	JobIDs          []string
	TaskStates      []string
}

// NotificationKind discriminates the events of an observe stream.
type NotificationKind int

const (
	NotificationJobUpdate NotificationKind = iota
	NotificationTaskUpdate
	// NotificationSnapshotEnd marks the end of the initial snapshot; every
	// event after it reflects a live change.
	NotificationSnapshotEnd
)

// JobChangeNotification is a single observe-stream event. Exactly one of Job
// and Task is set for the update kinds; both are nil for SnapshotEnd.
type JobChangeNotification struct {
	Kind NotificationKind
	Job  *Job
	Task *Task
}
