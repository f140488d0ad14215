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

// Package inmem is an embedded, fully in-memory engine implementation. It
// backs the single-process deployment of the gateway and the test suites,
// with real snapshot-then-live observe semantics.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/pagination"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
)

// observeBuffer sizes observer channels. Snapshot events are delivered into a
// channel sized for the snapshot itself, so this bound only applies to the
// live tail.
const observeBuffer = 64

type observer struct {
	ch chan api.JobChangeNotification
	// jobID scopes the observer to a single job when non-empty.
	jobID string
}

// Engine is a mutex-guarded in-memory Engine implementation. The legacy
// flavor mints structured "<cell>-<seq>" identities; the current flavor mints
// UUIDs.
type Engine struct {
	engineType api.EngineType
	cellName   string
	clock      clock.PassiveClock

	mu        sync.Mutex
	jobSeq    int
	jobs      map[string]*api.Job
	tasks     map[string]*api.Task
	jobTasks  map[string][]string
	taskSeq   map[string]int
	observers map[*observer]struct{}
}

// NewLegacy creates an embedded legacy-flavored engine. The cell name must be
// alphabetic; it becomes the prefix of every minted job identity.
func NewLegacy(cellName string, clk clock.PassiveClock) *Engine {
	return newEngine(api.EngineLegacy, cellName, clk)
}

// NewCurrent creates an embedded current-flavored engine.
func NewCurrent(clk clock.PassiveClock) *Engine {
	return newEngine(api.EngineCurrent, "", clk)
}

func newEngine(engineType api.EngineType, cellName string, clk clock.PassiveClock) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		engineType: engineType,
		cellName:   cellName,
		clock:      clk,
		jobs:       map[string]*api.Job{},
		tasks:      map[string]*api.Task{},
		jobTasks:   map[string][]string{},
		taskSeq:    map[string]int{},
		observers:  map[*observer]struct{}{},
	}
}

func (e *Engine) Type() api.EngineType {
	return e.engineType
}

func (e *Engine) mintJobID() string {
	if e.engineType == api.EngineLegacy {
		e.jobSeq++
		return fmt.Sprintf("%s-%d", e.cellName, e.jobSeq)
	}
	return uuid.NewString()
}

func (e *Engine) mintTaskID(jobID string) string {
	if e.engineType == api.EngineLegacy {
		index := e.taskSeq[jobID]
		e.taskSeq[jobID] = index + 1
		return fmt.Sprintf("%s-worker-%d-0", jobID, index)
	}
	return uuid.NewString()
}

func (e *Engine) CreateJob(_ context.Context, descriptor api.JobDescriptor) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job := &api.Job{
		ID:              e.mintJobID(),
		Descriptor:      descriptor,
		DesiredCapacity: 1,
		InService:       true,
		CreatedAt:       e.clock.Now(),
	}
	e.jobs[job.ID] = job
	e.publishJobLocked(job)
	e.spawnTaskLocked(job.ID)
	return job.ID, nil
}

// spawnTaskLocked creates one Staging task for the job and publishes it.
func (e *Engine) spawnTaskLocked(jobID string) *api.Task {
	task := &api.Task{
		ID:        e.mintTaskID(jobID),
		JobID:     jobID,
		State:     "Staging",
		CreatedAt: e.clock.Now(),
	}
	e.tasks[task.ID] = task
	e.jobTasks[jobID] = append(e.jobTasks[jobID], task.ID)
	e.publishTaskLocked(task)
	return task
}

func (e *Engine) KillJob(_ context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return errutil.Error{Code: errutil.JobNotFound, Msg: fmt.Sprintf("job %s not found", jobID)}
	}
	for _, taskID := range e.jobTasks[jobID] {
		task := e.tasks[taskID]
		if task.State != "Killed" {
			task.State = "Killed"
			e.publishTaskLocked(task)
		}
		delete(e.tasks, taskID)
	}
	delete(e.jobTasks, jobID)
	delete(e.jobs, jobID)
	e.publishJobLocked(job)
	return nil
}

func (e *Engine) KillTask(_ context.Context, taskID string, shrink bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return errutil.Error{Code: errutil.TaskNotFound, Msg: fmt.Sprintf("task %s not found", taskID)}
	}
	task.State = "Killed"
	e.publishTaskLocked(task)
	if shrink {
		if job, ok := e.jobs[task.JobID]; ok && job.DesiredCapacity > 0 {
			job.DesiredCapacity--
			e.publishJobLocked(job)
		}
	}
	return nil
}

func (e *Engine) FindJobByID(_ context.Context, jobID string) (api.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return api.Job{}, errutil.Error{Code: errutil.JobNotFound, Msg: fmt.Sprintf("job %s not found", jobID)}
	}
	return *job, nil
}

func (e *Engine) FindTaskByID(_ context.Context, taskID string) (api.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return api.Task{}, errutil.Error{Code: errutil.TaskNotFound, Msg: fmt.Sprintf("task %s not found", taskID)}
	}
	return *task, nil
}

func matchesJob(criteria api.JobQueryCriteria, job *api.Job) bool {
	if criteria.ApplicationName != "" && criteria.ApplicationName != job.Descriptor.ApplicationName {
		return false
	}
	if criteria.CapacityGroup != "" && criteria.CapacityGroup != job.Descriptor.CapacityGroup {
		return false
	}
	if len(criteria.JobIDs) > 0 {
		found := false
		for _, id := range criteria.JobIDs {
			if id == job.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesTaskState(criteria api.JobQueryCriteria, task *api.Task) bool {
	if len(criteria.TaskStates) == 0 {
		return true
	}
	for _, state := range criteria.TaskStates {
		if state == task.State {
			return true
		}
	}
	return false
}

func (e *Engine) FindJobsByCriteria(_ context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Job, *api.Pagination, error) {
	e.mu.Lock()
	var matched []api.Job
	for _, job := range e.jobs {
		if matchesJob(criteria, job) {
			matched = append(matched, *job)
		}
	}
	e.mu.Unlock()

	sorted := pagination.SortMerge(matched, nil, jobKey)
	return pagination.TakePage(page, sorted, jobKey)
}

func (e *Engine) FindTasksByCriteria(_ context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Task, *api.Pagination, error) {
	e.mu.Lock()
	var matched []api.Task
	for _, task := range e.tasks {
		job := e.jobs[task.JobID]
		if job == nil || !matchesJob(criteria, job) || !matchesTaskState(criteria, task) {
			continue
		}
		matched = append(matched, *task)
	}
	e.mu.Unlock()

	sorted := pagination.SortMerge(matched, nil, taskKey)
	return pagination.TakePage(page, sorted, taskKey)
}

func jobKey(job api.Job) pagination.Key {
	return pagination.Key{ID: job.ID, CreatedAt: job.CreatedAt}
}

func taskKey(task api.Task) pagination.Key {
	return pagination.Key{ID: task.ID, CreatedAt: task.CreatedAt}
}

func (e *Engine) ResizeJob(_ context.Context, jobID string, desired, min, max int) error {
	if desired < min || desired > max || min < 0 {
		return errutil.Error{
			Code: errutil.BadRequest,
			Msg:  fmt.Sprintf("desired capacity %d outside of [%d, %d]", desired, min, max),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return errutil.Error{Code: errutil.JobNotFound, Msg: fmt.Sprintf("job %s not found", jobID)}
	}
	if desired > job.DesiredCapacity && job.Processes.DisableIncreaseDesired {
		return errutil.Error{Code: errutil.BadRequest, Msg: fmt.Sprintf("job %s has desired capacity increases disabled", jobID)}
	}
	if desired < job.DesiredCapacity && job.Processes.DisableDecreaseDesired {
		return errutil.Error{Code: errutil.BadRequest, Msg: fmt.Sprintf("job %s has desired capacity decreases disabled", jobID)}
	}

	for desired > job.DesiredCapacity {
		e.spawnTaskLocked(jobID)
		job.DesiredCapacity++
	}
	for desired < job.DesiredCapacity {
		e.killLastRunnableTaskLocked(jobID)
		job.DesiredCapacity--
	}
	e.publishJobLocked(job)
	return nil
}

// killLastRunnableTaskLocked terminates the most recently spawned task that
// is not already killed. Scaling down a job with nothing left to kill is a
// no-op on the task set.
func (e *Engine) killLastRunnableTaskLocked(jobID string) {
	ids := e.jobTasks[jobID]
	for i := len(ids) - 1; i >= 0; i-- {
		task := e.tasks[ids[i]]
		if task.State != "Killed" {
			task.State = "Killed"
			e.publishTaskLocked(task)
			return
		}
	}
}

func (e *Engine) UpdateJobProcesses(_ context.Context, jobID string, disableIncreaseDesired, disableDecreaseDesired bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return errutil.Error{Code: errutil.JobNotFound, Msg: fmt.Sprintf("job %s not found", jobID)}
	}
	job.Processes = api.ServiceJobProcesses{
		DisableIncreaseDesired: disableIncreaseDesired,
		DisableDecreaseDesired: disableDecreaseDesired,
	}
	e.publishJobLocked(job)
	return nil
}

func (e *Engine) ChangeJobInServiceStatus(_ context.Context, jobID string, inService bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[jobID]
	if !ok {
		return errutil.Error{Code: errutil.JobNotFound, Msg: fmt.Sprintf("job %s not found", jobID)}
	}
	job.InService = inService
	e.publishJobLocked(job)
	return nil
}

// UpdateTaskState moves a task into the given state and publishes the change.
// It exists for the embedded deployment, where agent reports arrive through
// process-local calls rather than a transport.
func (e *Engine) UpdateTaskState(_ context.Context, taskID, state string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return errutil.Error{Code: errutil.TaskNotFound, Msg: fmt.Sprintf("task %s not found", taskID)}
	}
	task.State = state
	e.publishTaskLocked(task)
	return nil
}

func (e *Engine) TaskSummary(_ context.Context) (map[string]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	summary := map[string]int{}
	for _, task := range e.tasks {
		summary[task.State]++
	}
	return summary, nil
}
