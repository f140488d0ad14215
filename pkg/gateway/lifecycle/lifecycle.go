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

// Package lifecycle tracks the execution state of a single task from staging
// through a terminal state. Transitions are either checked, validated against
// the state machine, or unchecked, which force the task into any state when
// an external observation (agent report, reconciliation) says so. Every
// accepted transition is published to the task's status channel, optionally
// after a per-state delay, and reaching a terminal state closes the channel
// exactly once and detaches the task from its agent.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/metrics"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

// Reason codes attached to status updates.
const (
	ReasonUnknown   = "unknown"
	ReasonNormal    = "normal"
	ReasonCrashed   = "crashed"
	ReasonKilled    = "killed"
	ReasonLost      = "lost"
	ReasonFailed    = "failed"
	ReasonScaleDown = "scaleDown"
)

// defaultMessage is used when a transition carries no message.
const defaultMessage = "reason for the state transition not given"

// StatusUpdate is one observed task state change.
type StatusUpdate struct {
	TaskID     string
	State      TaskState
	ReasonCode string
	Message    string
	Timestamp  time.Time
	// Payload carries state-specific data, such as the serialized network
	// configuration on the Starting transition. Nil when the state has none.
	Payload []byte
}

// networkConfig is the payload attached to the Starting transition once the
// container has been assigned an IP.
type networkConfig struct {
	ContainerIP string `json:"containerIp"`
	HostIP      string `json:"hostIp,omitempty"`
	EniID       string `json:"eniId,omitempty"`
}

// marshalNetworkConfig is a variable so tests can inject serialization
// failures.
var marshalNetworkConfig = func(cfg networkConfig) ([]byte, error) {
	return json.Marshal(cfg)
}

// DelayFunc returns how long to hold the status update for a state before
// publishing it. A nil DelayFunc or a non-positive duration publishes
// immediately.
type DelayFunc func(state TaskState) time.Duration

// DetachFunc is invoked exactly once when the task reaches a terminal state,
// before the status channel closes. It releases the agent resources the task
// held.
type DetachFunc func(taskID, agentID string)

// Options configures a Task.
type Options struct {
	// Clock stamps status updates and drives delayed emission. Defaults to
	// the real clock.
	Clock clock.WithDelayedExecution
	// Delay defers publication of selected states. Optional.
	Delay DelayFunc
	// OnDetach runs once on terminal transition. Optional.
	OnDetach DetachFunc
}

// Task is the lifecycle state machine for one task instance. All methods are
// safe for concurrent use.
type Task struct {
	id      string
	jobID   string
	agentID string

	clock    clock.WithDelayedExecution
	delay    DelayFunc
	onDetach DetachFunc

	// status holds the latest accepted update; reads never take the mutex.
	status atomic.Pointer[StatusUpdate]

	mu          sync.Mutex
	state       TaskState
	containerIP string
	hostIP      string
	eniID       string

	broadcast  *broadcaster
	detachOnce sync.Once
}

// NewTask creates a task in the Staging state and publishes the initial
// status update.
func NewTask(taskID, jobID, agentID string, opts Options) *Task {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	t := &Task{
		id:        taskID,
		jobID:     jobID,
		agentID:   agentID,
		clock:     opts.Clock,
		delay:     opts.Delay,
		onDetach:  opts.OnDetach,
		state:     TaskStaging,
		broadcast: newBroadcaster(),
	}
	initial := StatusUpdate{
		TaskID:     taskID,
		State:      TaskStaging,
		ReasonCode: ReasonUnknown,
		Message:    defaultMessage,
		Timestamp:  opts.Clock.Now(),
	}
	t.status.Store(&initial)
	t.broadcast.Publish(initial)
	metrics.RecordTaskTransition(string(TaskStaging))
	return t
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// JobID returns the owning job id.
func (t *Task) JobID() string { return t.jobID }

// AgentID returns the agent the task is placed on.
func (t *Task) AgentID() string { return t.agentID }

// State returns the current state.
func (t *Task) State() TaskState {
	return t.Status().State
}

// Status returns the most recently accepted status update. The returned
// value is a snapshot; delayed updates are reflected here as soon as they
// are accepted, before they are published.
func (t *Task) Status() StatusUpdate {
	return *t.status.Load()
}

// StatusUpdates returns the channel carrying the task's status stream. The
// channel is closed after the terminal update is delivered.
func (t *Task) StatusUpdates() <-chan StatusUpdate {
	return t.broadcast.Channel()
}

// SetTransitionDelay replaces the delay function. It only affects
// transitions applied after the call.
func (t *Task) SetTransitionDelay(delay DelayFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = delay
}

// SetNetworkConfiguration records the container network assignment used to
// build the Starting payload. It must be called before the Starting
// transition to have any effect on it.
func (t *Task) SetNetworkConfiguration(containerIP, hostIP, eniID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.containerIP = containerIP
	t.hostIP = hostIP
	t.eniID = eniID
}

// Transition performs a checked state transition. It fails with an
// IllegalTransition error when the move is not allowed by the state machine.
func (t *Task) Transition(next TaskState, reasonCode, message string) error {
	t.mu.Lock()
	current := t.state
	if !transitionAllowed(current, next) {
		t.mu.Unlock()
		return errutil.Error{
			Code: errutil.IllegalTransition,
			Msg:  fmt.Sprintf("task %s: transition %s -> %s not allowed", t.id, current, next),
		}
	}
	t.apply(next, reasonCode, message)
	t.mu.Unlock()
	return nil
}

// ForceTransition performs an unchecked transition into any state, including
// Lost. It is reserved for externally observed facts that the state machine
// must accept regardless of its current state. Forcing a transition on an
// already-terminal task still updates the status snapshot, but nothing is
// delivered on the closed stream and the agent detach does not repeat.
func (t *Task) ForceTransition(next TaskState, reasonCode, message string) {
	t.mu.Lock()
	t.apply(next, reasonCode, message)
	t.mu.Unlock()
}

// apply records the transition and schedules its publication. Callers hold
// t.mu.
func (t *Task) apply(next TaskState, reasonCode, message string) {
	if reasonCode == "" {
		reasonCode = ReasonUnknown
	}
	if message == "" {
		message = defaultMessage
	}
	t.state = next
	update := StatusUpdate{
		TaskID:     t.id,
		State:      next,
		ReasonCode: reasonCode,
		Message:    message,
		Timestamp:  t.clock.Now(),
	}
	if next == TaskStarting && t.containerIP != "" {
		payload, err := marshalNetworkConfig(networkConfig{
			ContainerIP: t.containerIP,
			HostIP:      t.hostIP,
			EniID:       t.eniID,
		})
		if err != nil {
			log.Log.V(logutil.DEFAULT).Error(err, "Failed to serialize network configuration", "task", t.id)
			metrics.RecordPayloadSerializationFailure()
		} else {
			update.Payload = payload
		}
	}
	t.status.Store(&update)
	metrics.RecordTaskTransition(string(next))

	terminal := next.Terminal()
	var delay time.Duration
	if t.delay != nil {
		delay = t.delay(next)
	}
	if delay <= 0 {
		t.publish(update, terminal)
		return
	}
	t.clock.AfterFunc(delay, func() {
		t.publish(update, terminal)
	})
}

// publish emits the update and, on a terminal state, detaches the agent and
// closes the stream. The terminal update evicts older undelivered updates if
// it must, so the stream never closes without it.
func (t *Task) publish(update StatusUpdate, terminal bool) {
	if !terminal {
		if !t.broadcast.Publish(update) {
			log.Log.V(logutil.VERBOSE).Info("Dropped task status update", "task", t.id, "state", update.State)
		}
		return
	}
	t.broadcast.PublishTerminal(update)
	t.detachOnce.Do(func() {
		if t.onDetach != nil {
			t.onDetach(t.id, t.agentID)
		}
		t.broadcast.Close()
	})
}
