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

package inmem

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/pagination"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

// ObserveJobs streams the full snapshot, a SnapshotEnd marker, and then live
// changes until the context is cancelled. The snapshot and the registration
// of the live subscription happen under the same lock acquisition, so no
// change can fall between them.
func (e *Engine) ObserveJobs(ctx context.Context) (<-chan api.JobChangeNotification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribeLocked(ctx, ""), nil
}

// ObserveJob scopes the stream to a single job. Observing an unknown job
// fails immediately instead of producing an empty snapshot.
func (e *Engine) ObserveJob(ctx context.Context, jobID string) (<-chan api.JobChangeNotification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.jobs[jobID]; !ok {
		return nil, errutil.Error{Code: errutil.JobNotFound, Msg: fmt.Sprintf("job %s not found", jobID)}
	}
	return e.subscribeLocked(ctx, jobID), nil
}

func (e *Engine) subscribeLocked(ctx context.Context, jobID string) <-chan api.JobChangeNotification {
	snapshot := e.snapshotLocked(jobID)
	o := &observer{
		ch:    make(chan api.JobChangeNotification, len(snapshot)+1+observeBuffer),
		jobID: jobID,
	}
	for _, notification := range snapshot {
		o.ch <- notification
	}
	o.ch <- api.JobChangeNotification{Kind: api.NotificationSnapshotEnd}
	e.observers[o] = struct{}{}

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		delete(e.observers, o)
		close(o.ch)
		e.mu.Unlock()
	}()
	return o.ch
}

// snapshotLocked renders the current store as job-then-tasks notifications in
// the pagination total order, so snapshots are deterministic.
func (e *Engine) snapshotLocked(jobID string) []api.JobChangeNotification {
	var jobs []api.Job
	for _, job := range e.jobs {
		if jobID == "" || job.ID == jobID {
			jobs = append(jobs, *job)
		}
	}
	jobs = pagination.SortMerge(jobs, nil, jobKey)

	var snapshot []api.JobChangeNotification
	for i := range jobs {
		job := jobs[i]
		snapshot = append(snapshot, api.JobChangeNotification{Kind: api.NotificationJobUpdate, Job: &job})
		for _, taskID := range e.jobTasks[job.ID] {
			task := *e.tasks[taskID]
			snapshot = append(snapshot, api.JobChangeNotification{Kind: api.NotificationTaskUpdate, Task: &task})
		}
	}
	return snapshot
}

func (e *Engine) publishJobLocked(job *api.Job) {
	copied := *job
	e.publishLocked(copied.ID, api.JobChangeNotification{Kind: api.NotificationJobUpdate, Job: &copied})
}

func (e *Engine) publishTaskLocked(task *api.Task) {
	copied := *task
	e.publishLocked(copied.JobID, api.JobChangeNotification{Kind: api.NotificationTaskUpdate, Task: &copied})
}

func (e *Engine) publishLocked(jobID string, notification api.JobChangeNotification) {
	for o := range e.observers {
		if o.jobID != "" && o.jobID != jobID {
			continue
		}
		select {
		case o.ch <- notification:
		default:
			log.Log.V(logutil.DEFAULT).Info("Dropped job change notification on slow observer",
				"engine", e.engineType, "job", jobID)
		}
	}
}
