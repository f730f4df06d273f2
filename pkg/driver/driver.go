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

/* Package driver exposes the single enforcement surface consumed by the
 * lifecycle manager. Two variants implement it: NWFilterDriver enforces
 * purely through hypervisor filter objects, ChainTreeDriver enforces
 * through per-instance nftables chains and composes an injected
 * NWFilterDriver for anti-spoofing and existence checks.
 */
package driver

import (
	"context"
	"fmt"

	"github.com/feitnomore/sg-nft-bridge/pkg/store"
	"github.com/feitnomore/sg-nft-bridge/pkg/types"
)

/* FirewallDriver is the capability surface of one enforcement backend.
 * ApplyInstanceFilter is a documented no-op on both variants: all work
 * happens in PrepareInstanceFilter, and apply exists so callers can treat
 * it as a cheap confirmation step.
 */
type FirewallDriver interface {
	SetupBasicFiltering(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error
	PrepareInstanceFilter(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error
	ApplyInstanceFilter(ctx context.Context, instance *types.Instance) error
	UnfilterInstance(ctx context.Context, instance *types.Instance) error
	RefreshSecurityGroupRules(ctx context.Context, groupID string) error
	RefreshSecurityGroupMembers(ctx context.Context, groupID string) error
	InstanceFilterExists(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) (bool, error)
}

/* resolveGroups reads an instance's security groups and fills in each
 * group's rules, so backends always work on a complete snapshot.
 */
func resolveGroups(ctx context.Context, policy store.PolicyReader, instanceID string) ([]types.SecurityGroup, error) {
	groups, err := policy.SecurityGroupsForInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("resolving groups for instance %s: %w", instanceID, err)
	}
	for i := range groups {
		rules, err := policy.RulesForGroup(ctx, groups[i].ID)
		if err != nil {
			return nil, fmt.Errorf("resolving rules for group %s: %w", groups[i].ID, err)
		}
		groups[i].Rules = rules
	}
	return groups, nil
}
