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
package driver

import (
	"context"

	"github.com/feitnomore/sg-nft-bridge/pkg/metrics"
	"github.com/feitnomore/sg-nft-bridge/pkg/nwfilter"
	"github.com/feitnomore/sg-nft-bridge/pkg/store"
	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"k8s.io/klog/v2"
)

/* NWFilterDriver enforces security groups purely through the hypervisor
 * filter graph. Unfiltering is a no-op here: per-NIC filter bindings go
 * away with the domain, and the shared graph objects stay defined for the
 * other instances referencing them.
 */
type NWFilterDriver struct {
	graph  *nwfilter.FilterGraph
	policy store.PolicyReader
}

func NewNWFilterDriver(graph *nwfilter.FilterGraph, policy store.PolicyReader) *NWFilterDriver {
	return &NWFilterDriver{graph: graph, policy: policy}
}

func (d *NWFilterDriver) SetupBasicFiltering(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error {
	metrics.OperationsTotal.WithLabelValues("setup_basic").Inc()
	return d.graph.SetupBasicFiltering(instance, attachments)
}

func (d *NWFilterDriver) PrepareInstanceFilter(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error {
	metrics.OperationsTotal.WithLabelValues("prepare").Inc()
	groups, err := resolveGroups(ctx, d.policy, instance.ID)
	if err != nil {
		return err
	}
	return d.graph.PrepareInstanceFilter(instance, attachments, groups)
}

func (d *NWFilterDriver) ApplyInstanceFilter(ctx context.Context, instance *types.Instance) error {
	klog.V(6).Infof("[ApplyInstanceFilter] Nothing to apply for instance %s, filters are live once defined.", instance.ID)
	return nil
}

func (d *NWFilterDriver) UnfilterInstance(ctx context.Context, instance *types.Instance) error {
	metrics.OperationsTotal.WithLabelValues("unfilter").Inc()
	klog.V(2).Infof("[UnfilterInstance] Instance %s: filter graph objects are left defined.", instance.ID)
	return nil
}

func (d *NWFilterDriver) RefreshSecurityGroupRules(ctx context.Context, groupID string) error {
	metrics.OperationsTotal.WithLabelValues("refresh_rules").Inc()
	rules, err := d.policy.RulesForGroup(ctx, groupID)
	if err != nil {
		return err
	}
	return d.graph.RefreshSecurityGroupRules(types.SecurityGroup{ID: groupID, Rules: rules})
}

func (d *NWFilterDriver) RefreshSecurityGroupMembers(ctx context.Context, groupID string) error {
	metrics.OperationsTotal.WithLabelValues("refresh_members").Inc()
	klog.V(4).Infof("[RefreshSecurityGroupMembers] Group %s: membership is applied when members are prepared.", groupID)
	return nil
}

func (d *NWFilterDriver) InstanceFilterExists(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) (bool, error) {
	return d.graph.InstanceFilterExists(instance, attachments), nil
}
