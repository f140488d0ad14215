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

// Package runner assembles and runs the gateway process: policy source,
// capacity store, embedded engines, the routing gateway, and the metrics and
// health endpoints.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	healthPb "google.golang.org/grpc/health/grpc_health_v1"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/fabiokung/titus-control-plane-1/internal/runnable"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/capacity"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/engine/inmem"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/metrics"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/policy"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/routing"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/server"
	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
	"github.com/fabiokung/titus-control-plane-1/version"
)

var setupLog = ctrl.Log.WithName("setup")

// Runner wires the gateway components together and runs them until the
// context ends.
type Runner struct {
	opts  *server.Options
	ready atomic.Bool

	// Gateway is populated during Run for the embedded deployment's callers.
	Gateway *routing.Gateway
}

// NewRunner creates a runner over the given options.
func NewRunner(opts *server.Options) *Runner {
	return &Runner{opts: opts}
}

func (r *Runner) Run(ctx context.Context) error {
	setupLog.Info("Titus gateway build", "commit-sha", version.CommitSHA, "build-ref", version.BuildRef)

	metrics.Register()

	cfg, closeSource, err := r.policySource(ctx)
	if err != nil {
		setupLog.Error(err, "Failed to set up the routing policy source")
		return err
	}

	store := capacity.NewStore()
	if r.opts.CapacityFile != "" {
		bootstrap, err := capacity.LoadBootstrapFile(r.opts.CapacityFile)
		if err != nil {
			setupLog.Error(err, "Failed to load the capacity bootstrap file")
			return multierr.Append(err, closeSource())
		}
		bootstrap.Apply(store)
	}

	legacy := inmem.NewLegacy(r.opts.CellName, nil)
	current := inmem.NewCurrent(nil)
	selector := routing.NewEngineSelector(cfg, ctrl.Log.WithName("selector"))
	admission := routing.NewResourceAdmissionChecker(cfg, store)
	r.Gateway = routing.NewGateway(legacy, current, selector, admission, r.opts.CellName)

	runnables := []runnable.Runnable{r.observeLogger(), r.metricsServer()}
	if r.opts.HealthChecking {
		runnables = append(runnables, r.healthServer())
	}

	r.ready.Store(true)
	setupLog.Info("Gateway starting", "cell", r.opts.CellName)
	err = runnable.Run(ctx, runnables...)
	r.ready.Store(false)
	err = multierr.Append(err, closeSource())
	if err != nil {
		setupLog.Error(err, "Gateway terminated with errors")
		return err
	}
	setupLog.Info("Gateway terminated")
	return nil
}

// policySource resolves the configured policy source. The returned closer is
// a no-op for the static default source.
func (r *Runner) policySource(ctx context.Context) (policy.Config, func() error, error) {
	switch {
	case r.opts.PolicyFile != "":
		source, err := policy.NewFileSource(ctx, r.opts.PolicyFile)
		if err != nil {
			return nil, nil, err
		}
		setupLog.Info("Routing policy loaded from file", "path", r.opts.PolicyFile)
		return source, source.Close, nil
	case len(r.opts.EtcdEndpoints) > 0:
		source, err := policy.NewEtcdSource(ctx, r.opts.EtcdEndpoints)
		if err != nil {
			return nil, nil, err
		}
		setupLog.Info("Routing policy loaded from etcd", "endpoints", r.opts.EtcdEndpoints)
		return source, source.Close, nil
	default:
		setupLog.Info("No routing policy source configured, using the built-in defaults")
		return policy.NewStaticSource(policy.DefaultSnapshot()), func() error { return nil }, nil
	}
}

// observeLogger subscribes to the merged observe-all stream and logs every
// change. It keeps the stream machinery exercised in the embedded deployment
// and gives operators a change feed at higher verbosity.
func (r *Runner) observeLogger() runnable.Runnable {
	return func(ctx context.Context) error {
		log := ctrl.Log.WithName("observe")
		ch, err := r.Gateway.ObserveJobs(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to the job change stream - %w", err)
		}
		for n := range ch {
			switch {
			case n.Job != nil:
				log.V(logutil.TRACE).Info("Job changed", "job", n.Job.ID, "inService", n.Job.InService)
			case n.Task != nil:
				log.V(logutil.TRACE).Info("Task changed", "task", n.Task.ID, "state", n.Task.State)
			}
		}
		return nil
	}
}

func (r *Runner) metricsServer() runnable.Runnable {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", r.opts.MetricsPort),
		Handler: mux,
	}
	return runnable.HTTPServer("metrics", srv)
}

func (r *Runner) healthServer() runnable.Runnable {
	srv := grpc.NewServer()
	healthPb.RegisterHealthServer(srv, &healthServer{
		logger: ctrl.Log.WithName("health"),
		ready:  &r.ready,
	})
	return runnable.GRPCServer("health", srv, r.opts.GRPCHealthPort)
}
