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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
)

// Bootstrap is the YAML schema of a capacity bootstrap file.
type Bootstrap struct {
	Pools     []Pool                           `yaml:"pools"`
	Groups    []Group                          `yaml:"groups"`
	Overrides map[string]api.ResourceDimension `yaml:"overrides"`
}

// LoadBootstrapFile reads a capacity bootstrap file.
func LoadBootstrapFile(path string) (*Bootstrap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capacity bootstrap file %q - %w", path, err)
	}
	var bootstrap Bootstrap
	if err := yaml.Unmarshal(raw, &bootstrap); err != nil {
		return nil, fmt.Errorf("failed to parse capacity bootstrap file %q - %w", path, err)
	}
	return &bootstrap, nil
}

// Apply installs the bootstrap contents into the store.
func (b *Bootstrap) Apply(store Store) {
	for _, pool := range b.Pools {
		store.PoolSet(pool)
	}
	for _, group := range b.Groups {
		store.GroupSet(group)
	}
	for instanceType, limit := range b.Overrides {
		store.LimitOverrideSet(instanceType, limit)
	}
}
