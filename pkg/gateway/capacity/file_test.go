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

package capacity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
)

const bootstrapYAML = `
pools:
  - name: critical1
    tier: Critical
    instanceType: m4.16xlarge
    limit:
      cpu: 64
      gpu: 0
      memoryMB: 262144
      diskMB: 1048576
      networkMbps: 10000
groups:
  - name: web
    tier: Critical
  - name: batch
    tier: Flex
overrides:
  m4.16xlarge:
    cpu: 32
    gpu: 0
    memoryMB: 131072
    diskMB: 524288
    networkMbps: 5000
`

func TestLoadBootstrapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capacity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bootstrapYAML), 0o600))

	bootstrap, err := LoadBootstrapFile(path)
	require.NoError(t, err)

	store := NewStore()
	bootstrap.Apply(store)

	assert.Equal(t, api.TierCritical, store.TierOf("web"))
	assert.Equal(t, api.TierFlex, store.TierOf("batch"))

	// The instance-type override replaces the pool default limit.
	limits := store.TierResourceLimits(api.TierCritical)
	require.Len(t, limits, 1)
	assert.Equal(t, api.ResourceDimension{CPU: 32, MemoryMB: 131072, DiskMB: 524288, NetworkMbps: 5000}, limits[0])
}

func TestLoadBootstrapFileErrors(t *testing.T) {
	_, err := LoadBootstrapFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pools: {not: a list}"), 0o600))
	_, err = LoadBootstrapFile(path)
	assert.Error(t, err)
}
