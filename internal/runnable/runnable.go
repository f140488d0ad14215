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

// Package runnable runs the long-lived components of the gateway process as a
// group: all start together, and the first failure or the context ending
// stops the rest.
package runnable

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Runnable is a long-running component. It must return promptly once its
// context ends.
type Runnable func(ctx context.Context) error

// Run starts every runnable and blocks until all have returned. A failing
// runnable cancels the rest; the combined errors are returned.
func Run(ctx context.Context, runnables ...Runnable) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error

	for _, r := range runnables {
		wg.Add(1)
		go func(r Runnable) {
			defer wg.Done()
			if err := r(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(r)
	}
	wg.Wait()
	return errs
}
