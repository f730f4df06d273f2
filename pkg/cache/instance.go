/**
 * Copyright 2025 Marcelo Parisi (github.com/feitnomore)
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package cache

import (
	"sync"

	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"k8s.io/klog/v2"
)

/* TrackedInstance is the prepare-time snapshot kept for a filtered
 * instance. Refresh operations recompute rules from this snapshot's
 * attachments, not from a fresh store read of the instance record.
 */
type TrackedInstance struct {
	Instance    *types.Instance
	Attachments []types.NetworkAttachment
}

/* TrackedSet holds the instances whose filters are currently enforced.
 * Each chain-tree driver owns one; the set is not persisted, the lifecycle
 * manager replays prepares after an agent restart.
 */
type TrackedSet struct {
	sync.RWMutex
	instances map[string]*TrackedInstance
}

func NewTrackedSet() *TrackedSet {
	klog.V(8).Infof("Initializing tracked instance set...")
	return &TrackedSet{
		instances: make(map[string]*TrackedInstance),
	}
}

/* Add inserts or replaces the snapshot for an instance. */
func (ts *TrackedSet) Add(inst *types.Instance, atts []types.NetworkAttachment) {
	ts.Lock()
	defer ts.Unlock()
	ts.instances[inst.ID] = &TrackedInstance{Instance: inst, Attachments: atts}
	klog.V(2).Infof("Instance %s added/updated in tracked set (%d attachments).", inst.ID, len(atts))
}

/* Remove drops an instance from the set. Returns whether it was present. */
func (ts *TrackedSet) Remove(instanceID string) bool {
	ts.Lock()
	defer ts.Unlock()
	_, existed := ts.instances[instanceID]
	delete(ts.instances, instanceID)
	klog.V(2).Infof("Instance %s removed from tracked set (was present: %v).", instanceID, existed)
	return existed
}

/* Exists checks whether an instance is tracked. */
func (ts *TrackedSet) Exists(instanceID string) bool {
	klog.V(8).Infof("Checking if instance exists in tracked set...")
	ts.RLock()
	defer ts.RUnlock()
	_, exists := ts.instances[instanceID]
	return exists
}

/* Get returns the snapshot for an instance, or nil. */
func (ts *TrackedSet) Get(instanceID string) *TrackedInstance {
	klog.V(8).Infof("Getting instance from tracked set...")
	ts.RLock()
	defer ts.RUnlock()
	return ts.instances[instanceID]
}

/* List returns all tracked snapshots. */
func (ts *TrackedSet) List() []*TrackedInstance {
	klog.V(8).Infof("Listing tracked set...")
	ts.RLock()
	defer ts.RUnlock()
	list := make([]*TrackedInstance, 0, len(ts.instances))
	for _, tracked := range ts.instances {
		list = append(list, tracked)
	}
	return list
}

/* Len returns the number of tracked instances. */
func (ts *TrackedSet) Len() int {
	ts.RLock()
	defer ts.RUnlock()
	return len(ts.instances)
}
