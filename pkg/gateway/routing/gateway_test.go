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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/capacity"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/engine"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/engine/inmem"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/policy"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

type gatewayFixture struct {
	gateway *Gateway
	legacy  *inmem.Engine
	current *inmem.Engine
	source  *policy.StaticSource
	clock   *clocktesting.FakePassiveClock
}

func newGatewayFixture(t *testing.T, snapshot policy.Snapshot) *gatewayFixture {
	t.Helper()
	clk := clocktesting.NewFakePassiveClock(time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC))
	legacy := inmem.NewLegacy("cellA", clk)
	current := inmem.NewCurrent(clk)
	source := policy.NewStaticSource(snapshot)
	selector := NewEngineSelector(source, logutil.NewTestLogger())
	admission := NewResourceAdmissionChecker(source, capacity.NewStore())
	return &gatewayFixture{
		gateway: NewGateway(legacy, current, selector, admission, "cellA"),
		legacy:  legacy,
		current: current,
		source:  source,
		clock:   clk,
	}
}

func allowEverything() policy.Snapshot {
	return policy.Snapshot{
		AllowedApps:          ".*",
		LegacyEngineEnabled:  true,
		CurrentEngineEnabled: true,
	}
}

func TestCreateJobRoutesByPolicy(t *testing.T) {
	snapshot := allowEverything()
	snapshot.DeniedApps = "legacyapp-.*"
	f := newGatewayFixture(t, snapshot)

	legacyJob, err := f.gateway.CreateJob(t.Context(), descriptorFor("legacyapp", "app/image"))
	require.NoError(t, err)
	assert.Equal(t, api.EngineLegacy, api.JobEngine(legacyJob))

	currentJob, err := f.gateway.CreateJob(t.Context(), descriptorFor("newapp", "app/image"))
	require.NoError(t, err)
	assert.Equal(t, api.EngineCurrent, api.JobEngine(currentJob))
}

func TestCreateJobDecoratesCellAttribute(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())

	jobID, err := f.gateway.CreateJob(t.Context(), descriptorFor("myapp", "app/image"))
	require.NoError(t, err)

	job, err := f.gateway.FindJobByID(t.Context(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "cellA", job.Descriptor.Attributes["titus.cell"])

	// A caller-provided cell attribute survives untouched.
	descriptor := descriptorFor("myapp", "app/image").WithAttribute("titus.cell", "cellB")
	jobID, err = f.gateway.CreateJob(t.Context(), descriptor)
	require.NoError(t, err)
	job, err = f.gateway.FindJobByID(t.Context(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "cellB", job.Descriptor.Attributes["titus.cell"])
}

func TestCreateJobRejectedByAdmission(t *testing.T) {
	snapshot := allowEverything()
	snapshot.JobSizeValidationEnabled = true
	f := newGatewayFixture(t, snapshot)

	// No capacity pools exist, so nothing can fit.
	descriptor := descriptorFor("myapp", "app/image")
	descriptor.Resources = api.ResourceDimension{CPU: 1, MemoryMB: 512}
	_, err := f.gateway.CreateJob(t.Context(), descriptor)
	var gwErr errutil.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, errutil.InvalidContainerResources, gwErr.Code)
}

func TestLifecycleOperationsRouteByIdentity(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())
	snapshot := f.source.Current()
	snapshot.DeniedApps = "legacyapp-.*"
	f.source.Update(snapshot)

	legacyJob, err := f.gateway.CreateJob(t.Context(), descriptorFor("legacyapp", "app/image"))
	require.NoError(t, err)

	require.NoError(t, f.gateway.ResizeJob(t.Context(), legacyJob, 3, 0, 10))
	require.NoError(t, f.gateway.ChangeJobInServiceStatus(t.Context(), legacyJob, false))
	require.NoError(t, f.gateway.UpdateJobProcesses(t.Context(), legacyJob, true, false))

	job, err := f.legacy.FindJobByID(t.Context(), legacyJob)
	require.NoError(t, err)
	assert.Equal(t, 3, job.DesiredCapacity)
	assert.False(t, job.InService)
	assert.True(t, job.Processes.DisableIncreaseDesired)

	require.NoError(t, f.gateway.KillJob(t.Context(), legacyJob))
	_, err = f.legacy.FindJobByID(t.Context(), legacyJob)
	assert.Error(t, err)
}

func TestFindTasksMergedAcrossEngines(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())
	snapshot := f.source.Current()
	snapshot.DeniedApps = "legacyapp-.*"
	f.source.Update(snapshot)

	var created []string
	for i, app := range []string{"legacyapp", "newapp", "legacyapp", "newapp"} {
		f.clock.SetTime(f.clock.Now().Add(time.Duration(i+1) * time.Second))
		jobID, err := f.gateway.CreateJob(t.Context(), descriptorFor(app, "app/image"))
		require.NoError(t, err)
		created = append(created, jobID)
	}

	jobs, pagination, err := f.gateway.FindJobsByCriteria(t.Context(), api.JobQueryCriteria{}, api.UnlimitedPage())
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	assert.Equal(t, 4, pagination.TotalItems)

	// Creation order is the merged order: timestamps are strictly increasing.
	var got []string
	for _, job := range jobs {
		got = append(got, job.ID)
	}
	assert.Equal(t, created, got)
}

func TestFindJobsCursorWalkAcrossEngines(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())
	snapshot := f.source.Current()
	snapshot.DeniedApps = "legacyapp-.*"
	f.source.Update(snapshot)

	total := 5
	var created []string
	for i := 0; i < total; i++ {
		app := "newapp"
		if i%2 == 0 {
			app = "legacyapp"
		}
		f.clock.SetTime(f.clock.Now().Add(time.Second))
		jobID, err := f.gateway.CreateJob(t.Context(), descriptorFor(app, "app/image"))
		require.NoError(t, err)
		created = append(created, jobID)
	}

	var walked []string
	page := &api.Page{Limit: 2}
	for {
		jobs, pagination, err := f.gateway.FindJobsByCriteria(t.Context(), api.JobQueryCriteria{}, page)
		require.NoError(t, err)
		for _, job := range jobs {
			walked = append(walked, job.ID)
		}
		if !pagination.HasMore {
			break
		}
		page = &api.Page{Limit: 2, Cursor: pagination.Cursor}
	}
	assert.Equal(t, created, walked)
}

// callCountingEngine records how many criteria queries reached the backend.
type callCountingEngine struct {
	engine.Engine
	calls int
}

func (e *callCountingEngine) FindJobsByCriteria(ctx context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Job, *api.Pagination, error) {
	e.calls++
	return e.Engine.FindJobsByCriteria(ctx, criteria, page)
}

func (e *callCountingEngine) FindTasksByCriteria(ctx context.Context, criteria api.JobQueryCriteria, page *api.Page) ([]api.Task, *api.Pagination, error) {
	e.calls++
	return e.Engine.FindTasksByCriteria(ctx, criteria, page)
}

func TestMissingPageFailsBeforeBackendCalls(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())
	legacy := &callCountingEngine{Engine: f.legacy}
	current := &callCountingEngine{Engine: f.current}
	gateway := NewGateway(legacy, current, f.gateway.selector, f.gateway.admission, "cellA")

	_, _, err := gateway.FindJobsByCriteria(t.Context(), api.JobQueryCriteria{}, nil)
	var gwErr errutil.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, errutil.PageNotSpecified, gwErr.Code)

	_, _, err = gateway.FindTasksByCriteria(t.Context(), api.JobQueryCriteria{}, nil)
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, errutil.PageNotSpecified, gwErr.Code)

	assert.Zero(t, legacy.calls)
	assert.Zero(t, current.calls)
}

// notFoundEngine reports every task as unknown.
type notFoundEngine struct {
	engine.Engine
}

func (e *notFoundEngine) FindTaskByID(_ context.Context, taskID string) (api.Task, error) {
	return api.Task{}, errutil.Error{Code: errutil.TaskNotFound, Msg: "task " + taskID + " not found"}
}

func (e *notFoundEngine) KillTask(_ context.Context, taskID string, _ bool) error {
	return errutil.Error{Code: errutil.TaskNotFound, Msg: "task " + taskID + " not found"}
}

func TestFindTaskFallsBackToOtherEngine(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())

	// The task lives on the current engine, but its job was created there
	// with a legacy-looking identity by a migration. Tag-based routing picks
	// legacy first; the fallback must still find it.
	jobID, err := f.current.CreateJob(t.Context(), descriptorFor("myapp", "app/image"))
	require.NoError(t, err)
	tasks, _, err := f.current.FindTasksByCriteria(t.Context(), api.JobQueryCriteria{JobIDs: []string{jobID}}, api.UnlimitedPage())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	gateway := NewGateway(&notFoundEngine{Engine: f.legacy}, f.current, f.gateway.selector, f.gateway.admission, "cellA")

	// Unknown on both engines still fails.
	_, err = gateway.FindTaskByID(t.Context(), "cellA-1-worker-0-0")
	require.Error(t, err)

	found, err := gateway.FindTaskByID(t.Context(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tasks[0].ID, found.ID)
}

// failingEngine rejects every task operation with a non-NotFound error.
type failingEngine struct {
	engine.Engine
}

func (e *failingEngine) FindTaskByID(context.Context, string) (api.Task, error) {
	return api.Task{}, errutil.Error{Code: errutil.Internal, Msg: "engine temporarily unavailable"}
}

func (e *failingEngine) KillTask(context.Context, string, bool) error {
	return errutil.Error{Code: errutil.Internal, Msg: "engine temporarily unavailable"}
}

func TestCurrentEngineFailureRetriesAgainstLegacy(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())

	// The task carries a current-tagged identity but is resolvable on the
	// engine wired as legacy. A failing current engine must not surface its
	// error before the legacy side had its chance.
	jobID, err := f.current.CreateJob(t.Context(), descriptorFor("myapp", "app/image"))
	require.NoError(t, err)
	tasks, _, err := f.current.FindTasksByCriteria(t.Context(), api.JobQueryCriteria{JobIDs: []string{jobID}}, api.UnlimitedPage())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	gateway := NewGateway(f.current, &failingEngine{Engine: f.current}, f.gateway.selector, f.gateway.admission, "cellA")

	found, err := gateway.FindTaskByID(t.Context(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tasks[0].ID, found.ID)

	require.NoError(t, gateway.KillTask(t.Context(), tasks[0].ID, false))
	task, err := f.current.FindTaskByID(t.Context(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Killed", task.State)
}

func TestLegacyEngineFailureIsNotRetried(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())

	// Legacy is authoritative for legacy-tagged identities: anything other
	// than an unknown task surfaces directly, without consulting current.
	gateway := NewGateway(&failingEngine{Engine: f.legacy}, f.current, f.gateway.selector, f.gateway.admission, "cellA")

	_, err := gateway.FindTaskByID(t.Context(), "cellA-1-worker-0-0")
	var gwErr errutil.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, errutil.Internal, gwErr.Code)

	err = gateway.KillTask(t.Context(), "cellA-1-worker-0-0", false)
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, errutil.Internal, gwErr.Code)
}

func TestKillTaskFallsBackToOtherEngine(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())

	jobID, err := f.legacy.CreateJob(t.Context(), descriptorFor("myapp", "app/image"))
	require.NoError(t, err)
	tasks, _, err := f.legacy.FindTasksByCriteria(t.Context(), api.JobQueryCriteria{JobIDs: []string{jobID}}, api.UnlimitedPage())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// The legacy task id routes to the legacy engine first; stub it out so
	// only the fallback path can succeed.
	gateway := NewGateway(&notFoundEngine{Engine: f.legacy}, f.legacy, f.gateway.selector, f.gateway.admission, "cellA")
	require.NoError(t, gateway.KillTask(t.Context(), tasks[0].ID, false))

	task, err := f.legacy.FindTaskByID(t.Context(), tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Killed", task.State)
}

func TestTaskSummaryIsUnimplemented(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())
	_, err := f.gateway.TaskSummary(t.Context())
	var gwErr errutil.Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, errutil.Unimplemented, gwErr.Code)
}

func collectUntilSnapshotEnd(t *testing.T, ch <-chan api.JobChangeNotification) []api.JobChangeNotification {
	t.Helper()
	var events []api.JobChangeNotification
	for {
		select {
		case n, ok := <-ch:
			require.True(t, ok, "stream closed before the snapshot end marker")
			if n.Kind == api.NotificationSnapshotEnd {
				return events
			}
			events = append(events, n)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the snapshot end marker")
		}
	}
}

func TestObserveJobsCutsOverAtLegacySnapshotEnd(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())
	snapshot := f.source.Current()
	snapshot.DeniedApps = "legacyapp-.*"
	f.source.Update(snapshot)

	legacyJob, err := f.gateway.CreateJob(t.Context(), descriptorFor("legacyapp", "app/image"))
	require.NoError(t, err)
	f.clock.SetTime(f.clock.Now().Add(time.Second))
	currentJob, err := f.gateway.CreateJob(t.Context(), descriptorFor("newapp", "app/image"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	ch, err := f.gateway.ObserveJobs(ctx)
	require.NoError(t, err)

	// Everything up to the single downstream marker: the legacy snapshot
	// (marker swallowed) followed by the current snapshot.
	beforeMarker := collectUntilSnapshotEnd(t, ch)
	var jobIDs []string
	for _, n := range beforeMarker {
		if n.Kind == api.NotificationJobUpdate {
			jobIDs = append(jobIDs, n.Job.ID)
		}
	}
	assert.Equal(t, []string{legacyJob, currentJob}, jobIDs)

	// Live events from the current engine flow after the marker.
	require.NoError(t, f.current.ChangeJobInServiceStatus(t.Context(), currentJob, false))
	select {
	case n := <-ch:
		require.Equal(t, api.NotificationJobUpdate, n.Kind)
		assert.Equal(t, currentJob, n.Job.ID)
		assert.False(t, n.Job.InService)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the post-cutover live event")
	}

	// Legacy events after cutover are not forwarded.
	require.NoError(t, f.legacy.ChangeJobInServiceStatus(t.Context(), legacyJob, false))
	select {
	case n := <-ch:
		t.Fatalf("unexpected post-cutover legacy event: %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserveJobRoutesByIdentity(t *testing.T) {
	f := newGatewayFixture(t, allowEverything())
	snapshot := f.source.Current()
	snapshot.DeniedApps = "legacyapp-.*"
	f.source.Update(snapshot)

	legacyJob, err := f.gateway.CreateJob(t.Context(), descriptorFor("legacyapp", "app/image"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	ch, err := f.gateway.ObserveJob(ctx, legacyJob)
	require.NoError(t, err)

	events := collectUntilSnapshotEnd(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, legacyJob, events[0].Job.ID)
}
