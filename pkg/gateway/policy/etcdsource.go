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

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	logutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/logging"
)

const (
	// EtcdPolicyKey is the key the routing policy snapshot lives under.
	EtcdPolicyKey = "/control-plane/routing/policy"

	etcdDialTimeout = 5 * time.Second
)

// EtcdSource is a Config backed by a single etcd key holding a JSON snapshot,
// kept current through a watch. As with the file source, an undecodable value
// keeps the previous snapshot.
type EtcdSource struct {
	*StaticSource
	client *clientv3.Client
}

// NewEtcdSource connects to etcd, loads the current snapshot (defaults when
// the key is absent) and starts watching it. The watch stops when ctx is
// cancelled; Close releases the client.
func NewEtcdSource(ctx context.Context, endpoints []string) (*EtcdSource, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to policy store: %w", err)
	}

	logger := log.FromContext(ctx).WithName("policy-etcd-source").WithValues("key", EtcdPolicyKey)

	snapshot := DefaultSnapshot()
	resp, err := client.Get(ctx, EtcdPolicyKey)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to read routing policy from etcd: %w", err)
	}
	if len(resp.Kvs) > 0 {
		if err := json.Unmarshal(resp.Kvs[0].Value, &snapshot); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to parse routing policy from etcd: %w", err)
		}
	}

	source := &EtcdSource{
		StaticSource: NewStaticSource(snapshot),
		client:       client,
	}

	go func() {
		watchChan := client.Watch(ctx, EtcdPolicyKey)
		for watchResp := range watchChan {
			for _, ev := range watchResp.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					next := DefaultSnapshot()
					if err := json.Unmarshal(ev.Kv.Value, &next); err != nil {
						logger.Error(err, "Failed to parse routing policy update, keeping previous snapshot")
						continue
					}
					source.Update(next)
					logger.V(logutil.DEFAULT).Info("Reloaded routing policy", "snapshot", next)
				case clientv3.EventTypeDelete:
					source.Update(DefaultSnapshot())
					logger.V(logutil.DEFAULT).Info("Routing policy deleted, reverted to defaults")
				}
			}
		}
	}()

	return source, nil
}

// Close releases the etcd client.
func (s *EtcdSource) Close() error {
	return s.client.Close()
}
