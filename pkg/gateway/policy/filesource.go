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

package policy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

// debounceDelay waits for file events to settle before reloading.
const debounceDelay = 250 * time.Millisecond

// FileSource is a Config backed by a YAML file, reloaded on change. A reload
// that fails to parse keeps the previous snapshot; routing never observes a
// half-written file.
type FileSource struct {
	*StaticSource
	close func() error
}

// NewFileSource loads the initial snapshot from path and starts watching it.
// The watcher stops when ctx is cancelled or Close is called.
func NewFileSource(ctx context.Context, path string) (*FileSource, error) {
	snapshot, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}

	logger := log.FromContext(ctx).
		WithName("policy-file-source").
		WithValues("path", path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	source := &FileSource{
		StaticSource: NewStaticSource(snapshot),
		close:        w.Close,
	}

	go func() {
		var debounceTimer *time.Timer

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				// Debounce: reset the timer if we get another event.
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					snapshot, err := loadSnapshot(path)
					if err != nil {
						logger.Error(err, "Failed to reload routing policy, keeping previous snapshot")
						return
					}
					source.Update(snapshot)
					logger.V(logutil.DEFAULT).Info("Reloaded routing policy", "snapshot", snapshot)
				})

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if err != nil {
					logger.Error(err, "policy watcher failed")
				}
			case <-ctx.Done():
				_ = w.Close()
				return
			}
		}
	}()

	return source, nil
}

// Close stops the file watcher. The source keeps serving its last snapshot.
func (s *FileSource) Close() error {
	return s.close()
}

func loadSnapshot(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read routing policy %q: %w", path, err)
	}
	snapshot := DefaultSnapshot()
	if err := yaml.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse routing policy %q: %w", path, err)
	}
	return snapshot, nil
}
