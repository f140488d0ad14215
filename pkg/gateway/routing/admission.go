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

package routing

import (
	"fmt"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/capacity"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/metrics"
	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/policy"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
)

// ResourceAdmissionChecker rejects job creations whose per-container resource
// request cannot fit any capacity pool limit of the job's tier. The check is
// existential: one pool able to host the container is enough; it says nothing
// about free capacity right now.
type ResourceAdmissionChecker struct {
	cfg   policy.Config
	store capacity.Store
}

// NewResourceAdmissionChecker builds a checker over the capacity store.
func NewResourceAdmissionChecker(cfg policy.Config, store capacity.Store) *ResourceAdmissionChecker {
	return &ResourceAdmissionChecker{cfg: cfg, store: store}
}

// Admit validates the descriptor's resource request. It is a no-op while job
// size validation is administratively disabled.
func (c *ResourceAdmissionChecker) Admit(descriptor api.JobDescriptor) error {
	if !c.cfg.JobSizeValidationEnabled() {
		return nil
	}

	tier := c.store.TierOf(descriptor.CapacityGroup)
	limits := c.store.TierResourceLimits(tier)
	for _, limit := range limits {
		if descriptor.Resources.FitsIn(limit) {
			return nil
		}
	}

	metrics.RecordAdmissionRejection(tier.String())
	return errutil.Error{
		Code: errutil.InvalidContainerResources,
		Msg: fmt.Sprintf("job %s with resources %s does not fit any pool limit of tier %s: %s",
			descriptor.ApplicationName, descriptor.Resources, tier, formatLimits(limits)),
	}
}

func formatLimits(limits []api.ResourceDimension) string {
	if len(limits) == 0 {
		return "[no pools configured]"
	}
	out := "["
	for i, limit := range limits {
		if i > 0 {
			out += ", "
		}
		out += limit.String()
	}
	return out + "]"
}
