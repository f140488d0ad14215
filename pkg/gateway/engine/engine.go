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

// Package engine defines the contract a backend job management engine offers
// to the routing gateway. Two implementations coexist during the migration
// window: the legacy engine and the current one. The gateway never talks to
// either directly; it goes through this interface.
package engine

import (
	"context"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/pagination"
)

// Engine is a single backend job management engine.
//
// Criteria queries accept a page; the gateway always passes the unlimited
// page and paginates the merged result itself, but an engine must honor any
// page it is handed. Observe channels are closed when the supplied context is
// cancelled.
type Engine interface {
	// Type identifies which engine this is.
	Type() api.EngineType

	CreateJob(ctx context.Context, descriptor api.JobDescriptor) (string, error)
	KillJob(ctx context.Context, jobID string) error
	// KillTask terminates one task. With shrink set, the owning job's desired
	// capacity is reduced so the task is not replaced.
	KillTask(ctx context.Context, taskID string, shrink bool) error

	FindJobByID(ctx context.Context, jobID string) (api.Job, error)
	FindTaskByID(ctx context.Context, taskID string) (api.Task, error)
	FindJobsByCriteria(ctx context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Job, *api.Pagination, error)
	FindTasksByCriteria(ctx context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Task, *api.Pagination, error)

	ResizeJob(ctx context.Context, jobID string, desired, min, max int) error
	UpdateJobProcesses(ctx context.Context, jobID string, disableIncreaseDesired, disableDecreaseDesired bool) error
	ChangeJobInServiceStatus(ctx context.Context, jobID string, inService bool) error

	// ObserveJobs streams a snapshot of every known job and task, then a
	// SnapshotEnd marker, then live changes.
	ObserveJobs(ctx context.Context) (<-chan api.JobChangeNotification, error)
	// ObserveJob is ObserveJobs scoped to a single job.
	ObserveJob(ctx context.Context, jobID string) (<-chan api.JobChangeNotification, error)

	// TaskSummary reports task counts grouped by state.
	TaskSummary(ctx context.Context) (map[string]int, error)
}

// JobKey is the pagination key of a job: creation timestamp, then id.
func JobKey(job api.Job) pagination.Key {
	return pagination.Key{ID: job.ID, CreatedAt: job.CreatedAt}
}

// TaskKey is the pagination key of a task.
func TaskKey(task api.Task) pagination.Key {
	return pagination.Key{ID: task.ID, CreatedAt: task.CreatedAt}
}
