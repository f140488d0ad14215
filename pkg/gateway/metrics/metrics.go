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

// Package metrics exposes the gateway's prometheus metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	GatewayComponent = "routing_gateway"
	TaskComponent    = "task_lifecycle"
)

var (
	jobsRoutedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: GatewayComponent,
			Name:      "jobs_routed_total",
			Help:      "Counter of jobs dispatched to a backend engine at creation, broken out by engine.",
		},
		[]string{"engine"},
	)

	admissionRejectionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: GatewayComponent,
			Name:      "admission_rejections_total",
			Help:      "Counter of job creations rejected by resource admission control, broken out by tier.",
		},
		[]string{"tier"},
	)

	engineFallbackCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: GatewayComponent,
			Name:      "engine_fallbacks_total",
			Help:      "Counter of operations retried against the legacy engine after a current engine failure.",
		},
		[]string{"operation"},
	)

	observeCutoverCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: GatewayComponent,
			Name:      "observe_cutovers_total",
			Help:      "Counter of observe streams switched from the legacy snapshot to the current engine live tail.",
		},
	)

	taskTransitionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: TaskComponent,
			Name:      "transitions_total",
			Help:      "Counter of task state transitions, broken out by target state.",
		},
		[]string{"state"},
	)

	payloadSerializationFailureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: TaskComponent,
			Name:      "payload_serialization_failures_total",
			Help:      "Counter of network configuration payloads dropped because serialization failed.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics this package exports.
func Register() {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(jobsRoutedCounter)
		metrics.Registry.MustRegister(admissionRejectionCounter)
		metrics.Registry.MustRegister(engineFallbackCounter)
		metrics.Registry.MustRegister(observeCutoverCounter)
		metrics.Registry.MustRegister(taskTransitionCounter)
		metrics.Registry.MustRegister(payloadSerializationFailureCounter)
	})
}

// RecordJobRouted counts a job creation dispatched to an engine.
func RecordJobRouted(engine string) {
	jobsRoutedCounter.WithLabelValues(engine).Inc()
}

// RecordAdmissionRejection counts a job creation rejected by admission control.
func RecordAdmissionRejection(tier string) {
	admissionRejectionCounter.WithLabelValues(tier).Inc()
}

// RecordEngineFallback counts a retry against the legacy engine.
func RecordEngineFallback(operation string) {
	engineFallbackCounter.WithLabelValues(operation).Inc()
}

// RecordObserveCutover counts an observe stream snapshot-to-live switch.
func RecordObserveCutover() {
	observeCutoverCounter.Inc()
}

// RecordTaskTransition counts a task state transition.
func RecordTaskTransition(state string) {
	taskTransitionCounter.WithLabelValues(state).Inc()
}

// RecordPayloadSerializationFailure counts a dropped network configuration
// payload.
func RecordPayloadSerializationFailure() {
	payloadSerializationFailureCounter.Inc()
}
