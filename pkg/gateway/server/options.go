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

// Package server holds the configuration surface of the gateway process.
package server

import (
	"flag"
	"fmt"

	"github.com/spf13/pflag"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/env"
	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

const (
	DefaultGrpcHealthPort = 7104
	DefaultMetricsPort    = 7004
	DefaultCellName       = "dev"

	ZapLogLevelFlagName = "zap-log-level"
)

// Options contains the configuration values necessary to run the gateway.
type Options struct {
	// CellName identifies this control plane deployment. It is stamped onto
	// every created job and prefixes legacy identities minted by the
	// embedded engine.
	CellName string

	// Routing policy. At most one dynamic source may be configured; with
	// neither, the built-in defaults apply and everything routes to the
	// legacy engine.
	PolicyFile    string   // Path to the routing policy YAML file, watched for changes.
	EtcdEndpoints []string // etcd endpoints serving the routing policy key.

	// CapacityFile seeds the capacity store consumed by admission control.
	CapacityFile string

	// Diagnostics.
	LogVerbosity   int         // Number for the log level verbosity.
	ZapOptions     zap.Options // Zap logging options.
	HealthChecking bool        // Enables the gRPC health server.
	GRPCHealthPort int         // The port used for gRPC liveness and readiness probes.
	MetricsPort    int         // The metrics port exposed by the gateway.

	// internal
	fs *pflag.FlagSet // FlagSet used in AddFlags() and consulted in Complete()
}

// Environment variables consulted for defaults. Flags take precedence.
const (
	EnvCellName       = "TITUS_CELL_NAME"
	EnvGrpcHealthPort = "TITUS_GRPC_HEALTH_PORT"
	EnvMetricsPort    = "TITUS_METRICS_PORT"
)

// NewOptions returns a new Options struct initialized with the default values,
// overridable through the environment.
func NewOptions() *Options {
	logger := log.Log.WithName("options")
	return &Options{
		CellName:       env.GetEnvString(EnvCellName, DefaultCellName, logger),
		EtcdEndpoints:  []string{},
		LogVerbosity:   logutil.DEFAULT,
		ZapOptions:     zap.Options{Development: true},
		HealthChecking: true,
		GRPCHealthPort: env.GetEnvInt(EnvGrpcHealthPort, DefaultGrpcHealthPort, logger),
		MetricsPort:    env.GetEnvInt(EnvMetricsPort, DefaultMetricsPort, logger),
	}
}

func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVar(&opts.CellName, "cell-name", opts.CellName, "Name of the cell this control plane deployment serves.")
	fs.StringVar(&opts.PolicyFile, "policy-file", opts.PolicyFile,
		"The path to the routing policy file. The file is watched and reloaded on change.")
	fs.StringSliceVar(&opts.EtcdEndpoints, "etcd-endpoints", opts.EtcdEndpoints,
		"etcd endpoints serving the routing policy. Format: a comma-separated list of host:port pairs without whitespace.")
	fs.StringVar(&opts.CapacityFile, "capacity-file", opts.CapacityFile,
		"The path to the capacity bootstrap file seeding admission control.")
	fs.IntVarP(&opts.LogVerbosity, "v", "v", opts.LogVerbosity, "Number for the log level verbosity.") // allow both --v and -v
	gofs := flag.NewFlagSet("zap", flag.ExitOnError)
	opts.ZapOptions.BindFlags(gofs) // zap expects a standard Go FlagSet and pflag.FlagSet is not compatible.
	fs.AddGoFlagSet(gofs)
	fs.BoolVar(&opts.HealthChecking, "health-checking", opts.HealthChecking, "Enables health checking.")
	fs.IntVar(&opts.GRPCHealthPort, "grpc-health-port", opts.GRPCHealthPort,
		"The port used for gRPC liveness and readiness probes.")
	fs.IntVar(&opts.MetricsPort, "metrics-port", opts.MetricsPort, "The metrics port exposed by the gateway.")
}

func (opts *Options) Complete() error {
	// ensure zap log level is set - explicitly by user or from "-v"
	zapLogLevelFlag := opts.fs.Lookup(ZapLogLevelFlagName)
	if zapLogLevelFlag != nil && !zapLogLevelFlag.Changed { // not set explicitly
		lvl := -1 * (opts.LogVerbosity) // See https://pkg.go.dev/sigs.k8s.io/controller-runtime/pkg/log/zap#Options.Level
		opts.ZapOptions.Level = uberzap.NewAtomicLevelAt(zapcore.Level(int8(lvl)))
		zapLogLevelFlag.Changed = true
	}
	return nil
}

func (opts *Options) Validate() error {
	if opts.CellName == "" {
		return fmt.Errorf("required %q flag not set", "cell-name")
	}
	if opts.PolicyFile != "" && len(opts.EtcdEndpoints) > 0 {
		return fmt.Errorf("both the %q and %q flags can not be set at the same time", "policy-file", "etcd-endpoints")
	}
	for _, port := range []int{opts.GRPCHealthPort, opts.MetricsPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port number %d", port)
		}
	}
	return nil
}
