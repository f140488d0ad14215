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

// Package routing is the dual-engine gateway. Job creations are routed to the
// legacy or the current engine by dynamic policy; every other operation is
// routed by the engine affiliation encoded in the job or task identity.
// Criteria queries fan out to both engines and merge into one cursor-bound
// paginated view, and the observe-all stream stitches both engines together
// with a single cutover at the legacy snapshot boundary.
package routing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/engine"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/metrics"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/pagination"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

// cellAttributeKey is the job attribute naming the cell that created the job.
const cellAttributeKey = "titus.cell"

// observeBuffer sizes the merged observe-all output channel.
const observeBuffer = 64

// Gateway fronts the two engines with a single engine-shaped surface.
type Gateway struct {
	legacy    engine.Engine
	current   engine.Engine
	selector  *EngineSelector
	admission *ResourceAdmissionChecker
	cellName  string
}

// NewGateway assembles the routing gateway.
func NewGateway(legacy, current engine.Engine, selector *EngineSelector, admission *ResourceAdmissionChecker, cellName string) *Gateway {
	return &Gateway{
		legacy:    legacy,
		current:   current,
		selector:  selector,
		admission: admission,
		cellName:  cellName,
	}
}

func (g *Gateway) engine(engineType api.EngineType) engine.Engine {
	if engineType == api.EngineLegacy {
		return g.legacy
	}
	return g.current
}

func (g *Gateway) other(engineType api.EngineType) engine.Engine {
	if engineType == api.EngineLegacy {
		return g.current
	}
	return g.legacy
}

// CreateJob admits, routes and submits a new job. The descriptor is decorated
// with the cell attribute when the caller did not set one; the caller's
// descriptor is never mutated.
func (g *Gateway) CreateJob(ctx context.Context, descriptor api.JobDescriptor) (string, error) {
	logger := log.FromContext(ctx)

	if err := g.admission.Admit(descriptor); err != nil {
		return "", err
	}
	decision, err := g.selector.Select(descriptor)
	if err != nil {
		return "", err
	}
	if _, ok := descriptor.Attributes[cellAttributeKey]; !ok {
		descriptor = descriptor.WithAttribute(cellAttributeKey, g.cellName)
	}

	jobID, err := g.engine(decision.Engine).CreateJob(ctx, descriptor)
	if err != nil {
		return "", err
	}
	metrics.RecordJobRouted(string(decision.Engine))
	logger.V(logutil.DEFAULT).Info("Routed job creation",
		"job", jobID, "engine", decision.Engine, "rule", decision.Rule, "jobGroup", descriptor.JobGroupID())
	return jobID, nil
}

// FindJobByID resolves a job on the engine its identity names.
func (g *Gateway) FindJobByID(ctx context.Context, jobID string) (api.Job, error) {
	return g.engine(api.JobEngine(jobID)).FindJobByID(ctx, jobID)
}

// FindTaskByID resolves a task, retrying once against the other engine when
// the identity-tagged one fails. A current-tagged identity retries on any
// failure so the legacy engine gets a chance while jobs migrate between them;
// a legacy-tagged identity retries only when the task is unknown there.
func (g *Gateway) FindTaskByID(ctx context.Context, taskID string) (api.Task, error) {
	primary := api.TaskEngine(taskID)
	task, err := g.engine(primary).FindTaskByID(ctx, taskID)
	if !shouldFallback(primary, err) {
		return task, err
	}
	metrics.RecordEngineFallback("findTask")
	log.FromContext(ctx).V(logutil.VERBOSE).Info("Task operation failed on its tagged engine, trying the other one",
		"task", taskID, "taggedEngine", primary, "reason", err)
	return g.other(primary).FindTaskByID(ctx, taskID)
}

// KillJob routes by job identity.
func (g *Gateway) KillJob(ctx context.Context, jobID string) error {
	return g.engine(api.JobEngine(jobID)).KillJob(ctx, jobID)
}

// KillTask routes by task identity with the same retry as FindTaskByID.
func (g *Gateway) KillTask(ctx context.Context, taskID string, shrink bool) error {
	primary := api.TaskEngine(taskID)
	err := g.engine(primary).KillTask(ctx, taskID, shrink)
	if !shouldFallback(primary, err) {
		return err
	}
	metrics.RecordEngineFallback("killTask")
	return g.other(primary).KillTask(ctx, taskID, shrink)
}

// ResizeJob routes by job identity.
func (g *Gateway) ResizeJob(ctx context.Context, jobID string, desired, min, max int) error {
	return g.engine(api.JobEngine(jobID)).ResizeJob(ctx, jobID, desired, min, max)
}

// UpdateJobProcesses routes by job identity.
func (g *Gateway) UpdateJobProcesses(ctx context.Context, jobID string, disableIncreaseDesired, disableDecreaseDesired bool) error {
	return g.engine(api.JobEngine(jobID)).UpdateJobProcesses(ctx, jobID, disableIncreaseDesired, disableDecreaseDesired)
}

// ChangeJobInServiceStatus routes by job identity.
func (g *Gateway) ChangeJobInServiceStatus(ctx context.Context, jobID string, inService bool) error {
	return g.engine(api.JobEngine(jobID)).ChangeJobInServiceStatus(ctx, jobID, inService)
}

// FindJobsByCriteria queries both engines for their full result sets and
// applies the requested page to the merged total order. An invalid page fails
// before any backend is called.
func (g *Gateway) FindJobsByCriteria(ctx context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Job, *api.Pagination, error) {
	if page == nil {
		return nil, nil, errutil.Error{Code: errutil.PageNotSpecified, Msg: "page not provided"}
	}

	legacyJobs, currentJobs, err := fanOut(ctx, g,
		func(ctx context.Context, e engine.Engine) ([]api.Job, error) {
			jobs, _, err := e.FindJobsByCriteria(ctx, criteria, api.UnlimitedPage())
			return jobs, err
		})
	if err != nil {
		return nil, nil, err
	}

	sorted := pagination.SortMerge(legacyJobs, currentJobs, engine.JobKey)
	return pagination.TakePage(page, sorted, engine.JobKey)
}

// FindTasksByCriteria is FindJobsByCriteria for tasks.
func (g *Gateway) FindTasksByCriteria(ctx context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Task, *api.Pagination, error) {
	if page == nil {
		return nil, nil, errutil.Error{Code: errutil.PageNotSpecified, Msg: "page not provided"}
	}

	legacyTasks, currentTasks, err := fanOut(ctx, g,
		func(ctx context.Context, e engine.Engine) ([]api.Task, error) {
			tasks, _, err := e.FindTasksByCriteria(ctx, criteria, api.UnlimitedPage())
			return tasks, err
		})
	if err != nil {
		return nil, nil, err
	}

	sorted := pagination.SortMerge(legacyTasks, currentTasks, engine.TaskKey)
	return pagination.TakePage(page, sorted, engine.TaskKey)
}

// fanOut queries both engines concurrently and joins their results. Partial
// results are discarded when either engine fails; a merged page over half the
// fleet would silently lie to the caller.
func fanOut[T any](ctx context.Context, g *Gateway, query func(context.Context, engine.Engine) ([]T, error)) ([]T, []T, error) {
	var wg sync.WaitGroup
	var legacyItems, currentItems []T
	var legacyErr, currentErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		legacyItems, legacyErr = query(ctx, g.legacy)
	}()
	go func() {
		defer wg.Done()
		currentItems, currentErr = query(ctx, g.current)
	}()
	wg.Wait()

	if err := multierr.Combine(legacyErr, currentErr); err != nil {
		return nil, nil, err
	}
	return legacyItems, currentItems, nil
}

// ObserveJob streams a single job from the engine its identity names.
func (g *Gateway) ObserveJob(ctx context.Context, jobID string) (<-chan api.JobChangeNotification, error) {
	return g.engine(api.JobEngine(jobID)).ObserveJob(ctx, jobID)
}

// ObserveJobs stitches both engines into one stream. The legacy engine is
// streamed first and only up to its snapshot end marker, which is swallowed;
// at that point the legacy subscription is cancelled and the current engine
// takes over, contributing its own snapshot, its own marker and the live
// tail. Downstream therefore sees exactly one snapshot end marker.
func (g *Gateway) ObserveJobs(ctx context.Context) (<-chan api.JobChangeNotification, error) {
	legacyCtx, cancelLegacy := context.WithCancel(ctx)
	legacyCh, err := g.legacy.ObserveJobs(legacyCtx)
	if err != nil {
		cancelLegacy()
		return nil, err
	}

	out := make(chan api.JobChangeNotification, observeBuffer)
	go func() {
		defer close(out)
		logger := log.FromContext(ctx)

		if !forwardUntilMarker(ctx, legacyCh, out) {
			cancelLegacy()
			return
		}
		cancelLegacy()
		metrics.RecordObserveCutover()
		logger.V(logutil.VERBOSE).Info("Observe stream cut over to the current engine")

		currentCh, err := g.current.ObserveJobs(ctx)
		if err != nil {
			logger.Error(err, "Failed to subscribe to the current engine after cutover")
			return
		}
		forwardAll(ctx, currentCh, out)
	}()
	return out, nil
}

// forwardUntilMarker copies events up to, and excluding, the snapshot end
// marker. It returns false when the context ended or the source closed before
// the marker arrived.
func forwardUntilMarker(ctx context.Context, in <-chan api.JobChangeNotification, out chan<- api.JobChangeNotification) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-in:
			if !ok {
				return false
			}
			if n.Kind == api.NotificationSnapshotEnd {
				return true
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func forwardAll(ctx context.Context, in <-chan api.JobChangeNotification, out chan<- api.JobChangeNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}
}

// TaskSummary is not supported by the gateway.
func (g *Gateway) TaskSummary(context.Context) (map[string]int, error) {
	return nil, errutil.Error{Code: errutil.Unimplemented, Msg: "task summaries are not implemented"}
}

// shouldFallback reports whether a failed task operation is retried once on
// the other engine. The current engine is the migration target, so a failure
// there never masks a task still held by legacy; the legacy engine is
// authoritative for its own identities and only an unknown task warrants
// looking at the other side.
func shouldFallback(primary api.EngineType, err error) bool {
	if err == nil {
		return false
	}
	if primary == api.EngineCurrent {
		return true
	}
	return isNotFound(err)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var gwErr errutil.Error
	if !errors.As(err, &gwErr) {
		return false
	}
	return gwErr.Code == errutil.TaskNotFound || gwErr.Code == errutil.JobNotFound
}
