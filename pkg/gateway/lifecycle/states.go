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

package lifecycle

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// TaskState is the execution state of a scheduled task.
type TaskState string

const (
	TaskStaging  TaskState = "Staging"
	TaskStarting TaskState = "Starting"
	TaskRunning  TaskState = "Running"
	TaskFinished TaskState = "Finished"
	TaskError    TaskState = "Error"
	TaskFailed   TaskState = "Failed"
	TaskKilled   TaskState = "Killed"
	// TaskLost covers agent-disappearance scenarios. It is terminal and not
	// reachable through the checked transition table; only unchecked
	// transitions enter it.
	TaskLost TaskState = "Lost"
)

// validTransitions is the single source of truth for transition legality.
// The table is total: every state has an entry, and terminal states map to
// the empty set.
var validTransitions = map[TaskState]sets.Set[TaskState]{
	TaskStaging:  sets.New(TaskStarting, TaskFailed, TaskKilled),
	TaskStarting: sets.New(TaskRunning, TaskFailed, TaskKilled),
	TaskRunning:  sets.New(TaskFinished, TaskError, TaskFailed, TaskKilled),
	TaskFinished: sets.New[TaskState](),
	TaskError:    sets.New[TaskState](),
	TaskFailed:   sets.New[TaskState](),
	TaskKilled:   sets.New[TaskState](),
	TaskLost:     sets.New[TaskState](),
}

// AllStates lists every task state.
func AllStates() []TaskState {
	return []TaskState{TaskStaging, TaskStarting, TaskRunning, TaskFinished, TaskError, TaskFailed, TaskKilled, TaskLost}
}

// Terminal reports whether the state has no legal outgoing transitions.
// Reaching a terminal state closes the task's notification channel.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskFinished, TaskError, TaskFailed, TaskKilled, TaskLost:
		return true
	default:
		return false
	}
}

// ValidNextStates returns the states reachable from s in one checked step
// according to the transition table.
func ValidNextStates(s TaskState) sets.Set[TaskState] {
	return validTransitions[s].Clone()
}

// transitionAllowed implements the checked transition rule: from a
// non-terminal state, any state listed in the table is reachable, and so is
// any completion state (Finished, Error, Failed, Killed). TaskLost is
// deliberately excluded from the completion shortcut. Terminal states allow
// nothing.
func transitionAllowed(from, to TaskState) bool {
	if from.Terminal() {
		return false
	}
	if validTransitions[from].Has(to) {
		return true
	}
	return to.Terminal() && to != TaskLost
}
