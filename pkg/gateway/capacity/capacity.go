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

// Package capacity is the gateway's local view of fleet capacity: agent
// pools with their per-agent resource limits, and capacity groups mapping
// applications onto tiers. It is a cache fed by the agent management
// collaborator, read on every admission decision.
package capacity

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
)

// tierLimitsTTL bounds how stale an admission decision's view of the tier
// limits can be. Pool churn is orders of magnitude slower than job creation.
const tierLimitsTTL = time.Second

// Pool is one homogeneous group of agents.
type Pool struct {
	Name         string            `yaml:"name"`
	Tier         api.Tier          `yaml:"tier"`
	InstanceType string            `yaml:"instanceType"`
	// Limit is the per-agent resource envelope, used as the pool's admission
	// limit unless an instance-type override exists.
	Limit api.ResourceDimension `yaml:"limit"`
}

// Group assigns a capacity group to a tier.
type Group struct {
	Name string   `yaml:"name"`
	Tier api.Tier `yaml:"tier"`
}

// Store is the capacity view consumed by admission control.
type Store interface {
	// PoolSet adds or replaces a pool.
	PoolSet(pool Pool)
	// PoolDelete removes a pool.
	PoolDelete(name string)
	// PoolList returns all pools.
	PoolList() []Pool

	// GroupSet adds or replaces a capacity group assignment.
	GroupSet(group Group)
	// TierOf resolves the tier of a capacity group. Unknown groups are Flex.
	TierOf(capacityGroup string) api.Tier

	// LimitOverrideSet installs a per-instance-type resource limit that takes
	// precedence over the pool default.
	LimitOverrideSet(instanceType string, limit api.ResourceDimension)

	// TierResourceLimits returns one limit per pool in the tier: the
	// instance-type override when present, the pool default otherwise.
	TierResourceLimits(tier api.Tier) []api.ResourceDimension
}

// NewStore creates an empty capacity store.
func NewStore() Store {
	s := &store{
		pools:     make(map[string]Pool),
		groups:    make(map[string]api.Tier),
		overrides: make(map[string]api.ResourceDimension),
		tierLimits: ttlcache.New(
			ttlcache.WithTTL[api.Tier, []api.ResourceDimension](tierLimitsTTL),
			ttlcache.WithDisableTouchOnHit[api.Tier, []api.ResourceDimension](),
		),
	}
	return s
}

type store struct {
	mu        sync.RWMutex
	pools     map[string]Pool
	groups    map[string]api.Tier
	overrides map[string]api.ResourceDimension

	// tierLimits caches the computed per-tier limit sets; invalidated on any
	// mutation and expired by TTL as a backstop.
	tierLimits *ttlcache.Cache[api.Tier, []api.ResourceDimension]
}

func (s *store) PoolSet(pool Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.Name] = pool
	s.tierLimits.DeleteAll()
}

func (s *store) PoolDelete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, name)
	s.tierLimits.DeleteAll()
}

func (s *store) PoolList() []Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pools := make([]Pool, 0, len(s.pools))
	for _, pool := range s.pools {
		pools = append(pools, pool)
	}
	return pools
}

func (s *store) GroupSet(group Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.Name] = group.Tier
}

func (s *store) TierOf(capacityGroup string) api.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tier, ok := s.groups[capacityGroup]; ok {
		return tier
	}
	return api.TierFlex
}

func (s *store) LimitOverrideSet(instanceType string, limit api.ResourceDimension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[instanceType] = limit
	s.tierLimits.DeleteAll()
}

func (s *store) TierResourceLimits(tier api.Tier) []api.ResourceDimension {
	if item := s.tierLimits.Get(tier); item != nil {
		return item.Value()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	limits := make([]api.ResourceDimension, 0, len(s.pools))
	for _, pool := range s.pools {
		if pool.Tier != tier {
			continue
		}
		if override, ok := s.overrides[pool.InstanceType]; ok {
			limits = append(limits, override)
			continue
		}
		limits = append(limits, pool.Limit)
	}
	s.tierLimits.Set(tier, limits, ttlcache.DefaultTTL)
	return limits
}
