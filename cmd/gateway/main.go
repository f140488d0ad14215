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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/fabiokung/titus-control-plane-1/cmd/gateway/runner"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/server"
	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

func main() {
	opts := server.NewOptions()
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()

	if err := opts.Complete(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to complete options: %v\n", err)
		os.Exit(1)
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to validate options: %v\n", err)
		os.Exit(1)
	}

	logutil.Init(&opts.ZapOptions)

	if err := runner.NewRunner(opts).Run(ctrl.SetupSignalHandler()); err != nil {
		os.Exit(1)
	}
}
