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

package api

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts tier names case-insensitively, so capacity bootstrap
// files read "tier: Critical" instead of a bare enum number.
func (t *Tier) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch strings.ToLower(raw) {
	case "flex":
		*t = TierFlex
	case "critical":
		*t = TierCritical
	default:
		return fmt.Errorf("unknown tier %q", raw)
	}
	return nil
}

// MarshalYAML renders the tier name.
func (t Tier) MarshalYAML() (any, error) {
	return t.String(), nil
}
