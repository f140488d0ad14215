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

package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func TestOptionsParseAndValidate(t *testing.T) {
	tests := []struct {
		name              string
		args              []string
		expectError       bool
		expectedEndpoints []string
	}{
		{
			name:              "defaults pass validation",
			args:              nil,
			expectedEndpoints: []string{},
		},
		{
			name: "etcd endpoints as a comma separated list",
			args: []string{
				"--etcd-endpoints", "etcd-1:2379,etcd-2:2379",
			},
			expectedEndpoints: []string{"etcd-1:2379", "etcd-2:2379"},
		},
		{
			name: "etcd endpoints as repeated flags",
			args: []string{
				"--etcd-endpoints", "etcd-1:2379",
				"--etcd-endpoints", "etcd-2:2379",
			},
			expectedEndpoints: []string{"etcd-1:2379", "etcd-2:2379"},
		},
		{
			name: "policy file and etcd endpoints are mutually exclusive",
			args: []string{
				"--policy-file", "/etc/titus/routing.yaml",
				"--etcd-endpoints", "etcd-1:2379",
			},
			expectError: true,
		},
		{
			name:        "empty cell name is rejected",
			args:        []string{"--cell-name", ""},
			expectError: true,
		},
		{
			name:        "out of range health port is rejected",
			args:        []string{"--grpc-health-port", "70000"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet(tt.name, pflag.ContinueOnError)

			opts := NewOptions()
			opts.AddFlags(fs)

			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("Failed to parse flags: %v", err)
			}
			if err := opts.Complete(); err != nil {
				t.Fatalf("Complete failed unexpectedly with error: %v", err)
			}

			err := opts.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected a validation error but got none.")
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate failed unexpectedly with error: %v", err)
			}

			if diff := cmp.Diff(tt.expectedEndpoints, opts.EtcdEndpoints); diff != "" {
				t.Errorf("Resulting endpoints mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVerbosityFlagSetsZapLevel(t *testing.T) {
	fs := pflag.NewFlagSet("verbosity", pflag.ContinueOnError)
	opts := NewOptions()
	opts.AddFlags(fs)

	if err := fs.Parse([]string{"-v", "5"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	if err := opts.Complete(); err != nil {
		t.Fatalf("Complete failed unexpectedly with error: %v", err)
	}
	if opts.ZapOptions.Level == nil {
		t.Fatal("Expected Complete to derive the zap level from -v")
	}
}
