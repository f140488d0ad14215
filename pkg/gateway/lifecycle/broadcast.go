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
	"sync"
)

// statusChannelBuffer bounds how many undelivered status updates a task can
// accumulate before Publish starts dropping on the floor. A task goes through
// at most a handful of states, so a small buffer never fills in practice.
const statusChannelBuffer = 16

// broadcaster delivers StatusUpdate values to a single channel that is
// closed exactly once, when the task reaches a terminal state. All sends
// happen under the mutex so a concurrent Close can never race a Publish into
// a send-on-closed-channel panic.
type broadcaster struct {
	mu     sync.Mutex
	ch     chan StatusUpdate
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan StatusUpdate, statusChannelBuffer)}
}

// Channel returns the receive side of the status stream. The channel is
// closed after the terminal status has been delivered.
func (b *broadcaster) Channel() <-chan StatusUpdate {
	return b.ch
}

// Publish enqueues an update. It returns false when the broadcaster has
// already been closed or the buffer is full; the caller treats either as a
// dropped notification, not an error.
func (b *broadcaster) Publish(update StatusUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- update:
		return true
	default:
		return false
	}
}

// PublishTerminal enqueues the final update of the stream. When the buffer is
// full it evicts the oldest undelivered update to make room, so a slow
// subscriber can never observe closure without the terminal notification.
// It returns false only when the broadcaster has already been closed.
func (b *broadcaster) PublishTerminal(update StatusUpdate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	for {
		select {
		case b.ch <- update:
			return true
		default:
		}
		select {
		case <-b.ch:
		default:
		}
	}
}

// Close closes the channel. It is idempotent.
func (b *broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
