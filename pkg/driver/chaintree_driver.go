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
	"fmt"
	"sync"
	"time"

	"github.com/feitnomore/sg-nft-bridge/pkg/cache"
	"github.com/feitnomore/sg-nft-bridge/pkg/compiler"
	"github.com/feitnomore/sg-nft-bridge/pkg/config"
	"github.com/feitnomore/sg-nft-bridge/pkg/metrics"
	"github.com/feitnomore/sg-nft-bridge/pkg/store"
	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"github.com/feitnomore/sg-nft-bridge/pkg/utils"
	"k8s.io/klog/v2"
)

/* ChainTable is the staged chain-table capability the driver enforces
 * through. Mutators only stage; nothing reaches the kernel until
 * ApplyBatch commits the staged operations as one batch.
 */
type ChainTable interface {
	EnsureBaseChains() error
	CreateInstanceChain(fullChainName string)
	DeleteInstanceChain(fullChainName string)
	ReplaceInstanceDirectives(fullChainName string, v4, v6 []types.Directive)
	AddAddressJumps(fullChainName string, v4addrs, v6addrs []string)
	RemoveAddressJumps(fullChainName string)
	ApplyBatch(operationDescription string) error
}

/* ChainTreeDriver enforces security groups through per-instance nftables
 * chains, composing an NWFilterDriver for anti-spoofing and existence
 * checks. One mutex serializes prepare, unfilter, and refresh across
 * stage and commit, so no caller ever observes a half-replaced chain.
 */
type ChainTreeDriver struct {
	table   ChainTable
	basic   *NWFilterDriver
	policy  store.PolicyReader
	cfg     *config.Config
	tracked *cache.TrackedSet
	lock    sync.Mutex
}

/* NewChainTreeDriver builds the driver and sets up the base chain tree.
 * Construction is idempotent; re-running it re-seeds the shared chains.
 */
func NewChainTreeDriver(table ChainTable, basic *NWFilterDriver, policy store.PolicyReader, cfg *config.Config) (*ChainTreeDriver, error) {
	if err := table.EnsureBaseChains(); err != nil {
		return nil, fmt.Errorf("setting up base chains: %w", err)
	}
	return &ChainTreeDriver{
		table:   table,
		basic:   basic,
		policy:  policy,
		cfg:     cfg,
		tracked: cache.NewTrackedSet(),
	}, nil
}

/* Tracked exposes the tracked-instance set for inspection. */
func (d *ChainTreeDriver) Tracked() *cache.TrackedSet {
	return d.tracked
}

func (d *ChainTreeDriver) compileOptions() compiler.Options {
	return compiler.Options{
		UseIPv6:                d.cfg.UseIPv6,
		AllowProjectNetTraffic: d.cfg.AllowProjectNetTraffic,
	}
}

func (d *ChainTreeDriver) SetupBasicFiltering(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error {
	return d.basic.SetupBasicFiltering(ctx, instance, attachments)
}

/* PrepareInstanceFilter tracks the instance, stages its chain, directives,
 * and address-scoped jumps, and commits in one batch. A failed commit
 * untracks the instance again: the caller must treat the instance as not
 * yet safely filtered and retry or abort the spawn.
 */
func (d *ChainTreeDriver) PrepareInstanceFilter(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	metrics.OperationsTotal.WithLabelValues("prepare").Inc()
	groups, err := resolveGroups(ctx, d.policy, instance.ID)
	if err != nil {
		return err
	}

	d.tracked.Add(instance, attachments)

	chain := utils.InstanceChainName(instance.ID)
	v4, v6 := compiler.Compile(instance, attachments, groups, d.compileOptions())

	d.table.CreateInstanceChain(chain)
	d.table.ReplaceInstanceDirectives(chain, v4, v6)
	d.table.AddAddressJumps(chain, addressesV4(attachments), addressesV6(attachments))

	if err := d.commit(fmt.Sprintf("prepare instance %s", instance.ID)); err != nil {
		d.tracked.Remove(instance.ID)
		return err
	}
	klog.V(2).Infof("[PrepareInstanceFilter] Instance %s enforced on chain %s (%d v4, %d v6 directives).",
		instance.ID, chain, len(v4), len(v6))
	return nil
}

func (d *ChainTreeDriver) ApplyInstanceFilter(ctx context.Context, instance *types.Instance) error {
	klog.V(6).Infof("[ApplyInstanceFilter] Nothing to apply for instance %s, chains are committed during prepare.", instance.ID)
	return nil
}

/* UnfilterInstance removes the instance's jumps and chain and commits.
 * Unfiltering an untracked instance is a logged no-op.
 */
func (d *ChainTreeDriver) UnfilterInstance(ctx context.Context, instance *types.Instance) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	metrics.OperationsTotal.WithLabelValues("unfilter").Inc()
	if !d.tracked.Exists(instance.ID) {
		klog.Infof("[UnfilterInstance] Attempted to unfilter instance %s which is not filtered.", instance.ID)
		return nil
	}

	chain := utils.InstanceChainName(instance.ID)
	d.table.RemoveAddressJumps(chain)
	d.table.DeleteInstanceChain(chain)

	if err := d.commit(fmt.Sprintf("unfilter instance %s", instance.ID)); err != nil {
		return err
	}
	d.tracked.Remove(instance.ID)
	klog.V(2).Infof("[UnfilterInstance] Instance %s unfiltered, chain %s removed.", instance.ID, chain)
	return nil
}

/* RefreshSecurityGroupRules recomputes every tracked instance's directive
 * chain as a whole-chain replace and commits once for all of them. The
 * driver lock is held across the full stage-and-commit sequence, so a
 * concurrent refresh can never interleave old and new rule sets.
 */
func (d *ChainTreeDriver) RefreshSecurityGroupRules(ctx context.Context, groupID string) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	metrics.OperationsTotal.WithLabelValues("refresh_rules").Inc()
	instances := d.tracked.List()
	klog.V(2).Infof("[RefreshSecurityGroupRules] Group %s changed, recomputing %d tracked instances.", groupID, len(instances))

	for _, ti := range instances {
		groups, err := resolveGroups(ctx, d.policy, ti.Instance.ID)
		if err != nil {
			return err
		}
		v4, v6 := compiler.Compile(ti.Instance, ti.Attachments, groups, d.compileOptions())
		d.table.ReplaceInstanceDirectives(utils.InstanceChainName(ti.Instance.ID), v4, v6)
	}
	return d.commit(fmt.Sprintf("refresh security group %s", groupID))
}

func (d *ChainTreeDriver) RefreshSecurityGroupMembers(ctx context.Context, groupID string) error {
	metrics.OperationsTotal.WithLabelValues("refresh_members").Inc()
	klog.V(4).Infof("[RefreshSecurityGroupMembers] Group %s: membership changes arrive as prepare/unfilter calls.", groupID)
	return nil
}

func (d *ChainTreeDriver) InstanceFilterExists(ctx context.Context, instance *types.Instance, attachments []types.NetworkAttachment) (bool, error) {
	return d.basic.InstanceFilterExists(ctx, instance, attachments)
}

func (d *ChainTreeDriver) commit(description string) error {
	start := time.Now()
	err := d.table.ApplyBatch(description)
	metrics.CommitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CommitErrorsTotal.Inc()
		klog.Errorf("[commit] Batch %q failed: %v", description, err)
		return err
	}
	return nil
}

func addressesV4(attachments []types.NetworkAttachment) []string {
	var addrs []string
	for _, att := range attachments {
		addrs = append(addrs, att.Mapping.IPs...)
	}
	return addrs
}

func addressesV6(attachments []types.NetworkAttachment) []string {
	var addrs []string
	for _, att := range attachments {
		addrs = append(addrs, att.Mapping.IP6s...)
	}
	return addrs
}
