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

package types

import (
	"fmt"

	"github.com/feitnomore/sg-nft-bridge/pkg/utils"
	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"k8s.io/klog/v2"
)

/* directivesForFamily pairs a family with the compiled list that belongs in
 * its tree.
 */
func directivesForFamily(family nftables.TableFamily, v4, v6 []Directive) []Directive {
	if family == nftables.TableFamilyIPv6 {
		return v6
	}
	return v4
}

func addressesForFamily(family nftables.TableFamily, v4addrs, v6addrs []string) []string {
	if family == nftables.TableFamilyIPv6 {
		return v6addrs
	}
	return v4addrs
}

/* CreateInstanceChain queues the creation of a per-instance chain in both
 * family trees. AddChain is idempotent at the kernel, so an existing chain
 * is not an error.
 */
func (nft *NFTables) CreateInstanceChain(fullChainName string) {
	klog.V(5).Infof("[CreateInstanceChain-Enqueue] Preparing to enqueue OpAddChain for instance chain: %s", fullChainName)

	for _, family := range managedFamilies {
		tableObj := nft.GetNftTableObject(TableFilter, family)

		chainObj := &nftables.Chain{
			Name:  fullChainName,
			Table: tableObj,
			Type:  nftables.ChainTypeFilter,
		}

		nft.EnqueueOperation(QueuedNftOperation{
			Type:        OpAddChain,
			Chain:       chainObj,
			Description: fmt.Sprintf("AddChain Instance: %s (%s)", fullChainName, utils.DecodeTableFamily(family)),
		})
	}
	klog.V(3).Infof("[CreateInstanceChain-Enqueue] Enqueued OpAddChain for instance chain %s in both families.", fullChainName)
}

/* DeleteInstanceChain queues the FlushChain and DelChain operations for a
 * per-instance chain in every family where the cache still knows it. A
 * chain absent from the cache is treated as already gone.
 */
func (nft *NFTables) DeleteInstanceChain(fullChainName string) {
	klog.V(4).Infof("[DeleteInstanceChain-Enqueue] Preparing to enqueue FlushChain & DelChain for: %s", fullChainName)

	for _, family := range managedFamilies {
		if nft.FindInstanceChain(fullChainName, family) == nil {
			klog.V(4).Infof("[DeleteInstanceChain-Enqueue] Chain %s not found in cache for family %s. Assuming already deleted. Skipping.", fullChainName, utils.DecodeTableFamily(family))
			continue
		}

		tableObj := nft.GetNftTableObject(TableFilter, family)
		chainToProcess := &nftables.Chain{Table: tableObj, Name: fullChainName, Type: nftables.ChainTypeFilter}

		nft.EnqueueOperation(QueuedNftOperation{
			Type:        OpFlushChain,
			Chain:       chainToProcess,
			Description: fmt.Sprintf("FlushChain: %s (%s)", fullChainName, utils.DecodeTableFamily(family)),
		})
		klog.V(5).Infof("[DeleteInstanceChain-Enqueue] Enqueued OpFlushChain for %s (%s)", fullChainName, utils.DecodeTableFamily(family))

		nft.EnqueueOperation(QueuedNftOperation{
			Type:        OpDelChain,
			Chain:       chainToProcess,
			Description: fmt.Sprintf("DelChain: %s (%s)", fullChainName, utils.DecodeTableFamily(family)),
		})
		klog.V(5).Infof("[DeleteInstanceChain-Enqueue] Enqueued OpDelChain for %s (%s)", fullChainName, utils.DecodeTableFamily(family))
	}
}

/* ReplaceInstanceDirectives queues a full rewrite of a per-instance chain:
 * one FlushChain followed by an AddRule per compiled directive, per family,
 * preserving directive order. The whole rewrite commits in one batch so the
 * chain never exposes a partially-written rule list.
 */
func (nft *NFTables) ReplaceInstanceDirectives(fullChainName string, v4, v6 []Directive) {
	klog.V(4).Infof("[ReplaceInstanceDirectives-Enqueue] Rewriting chain %s (v4: %d directives, v6: %d directives).", fullChainName, len(v4), len(v6))

	for _, family := range managedFamilies {
		tableObj := nft.GetNftTableObject(TableFilter, family)
		chainObj := nft.GetNftChainObject(fullChainName, TableFilter, family)

		nft.EnqueueOperation(QueuedNftOperation{
			Type:        OpFlushChain,
			Chain:       chainObj,
			Description: fmt.Sprintf("FlushChain (rewrite): %s (%s)", fullChainName, utils.DecodeTableFamily(family)),
		})

		directives := directivesForFamily(family, v4, v6)
		for i, d := range directives {
			ruleExprs := EncodeDirective(d, family)
			if ruleExprs == nil {
				klog.Warningf("[ReplaceInstanceDirectives-Enqueue] Directive #%d for chain %s (%s) could not be encoded, skipping: %s", i, fullChainName, utils.DecodeTableFamily(family), d.String())
				continue
			}
			nft.EnqueueOperation(QueuedNftOperation{
				Type:        OpAddRule,
				Rule:        &nftables.Rule{Table: tableObj, Chain: chainObj, Exprs: ruleExprs},
				Description: fmt.Sprintf("AddRule #%d in %s (%s): %s", i, fullChainName, utils.DecodeTableFamily(family), d.String()),
			})
		}
	}
}

/* AddAddressJumps queues one destination-scoped jump rule per instance
 * address into SG_LOCAL. Checks the cache first so repeated prepares never
 * stack duplicate jumps.
 */
func (nft *NFTables) AddAddressJumps(fullChainName string, v4addrs, v6addrs []string) {
	for _, family := range managedFamilies {
		tableObj := nft.GetNftTableObject(TableFilter, family)

		localChainObj := nft.FindChainByNameAndFamily(LocalChain, family)
		if localChainObj == nil {
			klog.Warningf("AddAddressJumps: Base chain %s not found in cache for family %s. Will proceed to add jump rules to a new chain reference.", LocalChain, utils.DecodeTableFamily(family))
			localChainObj = &nftables.Chain{Name: LocalChain, Table: tableObj}
		}
		rulesInLocalChain := nft.getRulesFromCachedChain(localChainObj)

		for _, address := range addressesForFamily(family, v4addrs, v6addrs) {
			addrExprs := buildExprDestinationAddress(address, family)
			if addrExprs == nil {
				klog.Warningf("AddAddressJumps: Could not build destination match for address %s (family %s). Skipping.", address, utils.DecodeTableFamily(family))
				continue
			}
			desiredJumpRuleExprs := append(addrExprs, &expr.Verdict{Kind: expr.VerdictJump, Chain: fullChainName})
			desiredJumpRuleSignature := utils.NormalizeExprsForComparison(desiredJumpRuleExprs)

			jumpRuleExists := false
			for _, existingRule := range rulesInLocalChain {
				if utils.NormalizeExprsForComparison(existingRule.Exprs) == desiredJumpRuleSignature {
					jumpRuleExists = true
					klog.V(5).Infof("[NFTables.AddAddressJumps] Identical JUMP rule for address %s to %s already exists in cache for %s. Skipping AddRule.", address, fullChainName, LocalChain)
					break
				}
			}

			if !jumpRuleExists {
				nft.EnqueueOperation(QueuedNftOperation{
					Type:        OpAddRule,
					Rule:        &nftables.Rule{Table: tableObj, Chain: localChainObj, Exprs: desiredJumpRuleExprs},
					Description: fmt.Sprintf("AddRule (Jump): %s -> %s for address %s (%s)", LocalChain, fullChainName, address, utils.DecodeTableFamily(family)),
				})
				klog.V(4).Infof("[NFTables.AddAddressJumps] Enqueued AddRule for JUMP to %s for address %s in %s (%s).", fullChainName, address, LocalChain, utils.DecodeTableFamily(family))
			}
		}
	}
}

/* RemoveAddressJumps queues the deletion of every SG_LOCAL jump that
 * targets the given instance chain. Rules are located by their cached
 * handles; a jump without a valid handle is skipped.
 */
func (nft *NFTables) RemoveAddressJumps(fullChainName string) {
	for _, family := range managedFamilies {
		localChainObj := nft.FindChainByNameAndFamily(LocalChain, family)
		if localChainObj == nil {
			klog.V(4).Infof("[NFTables.RemoveAddressJumps] Base chain %s not found in cache for family %s. Assuming jump rules to %s do not exist. Skipping.", LocalChain, utils.DecodeTableFamily(family), fullChainName)
			continue
		}

		rulesInLocalChain := nft.getRulesFromCachedChain(localChainObj)
		for _, existingRule := range rulesInLocalChain {
			targetsOurChain := false
			for _, e := range existingRule.Exprs {
				if v, vOk := e.(*expr.Verdict); vOk {
					if v.Kind == expr.VerdictJump && v.Chain == fullChainName {
						targetsOurChain = true
					}
					break /* The verdict is always the last expression */
				}
			}
			if !targetsOurChain {
				continue
			}

			if existingRule.Handle == 0 {
				klog.V(4).Infof("[NFTables.RemoveAddressJumps] JUMP rule to %s found in cache without a valid Handle. Skipping OpDelRule enqueue for this rule.", fullChainName)
				continue
			}

			ruleCopy := existingRule
			nft.EnqueueOperation(QueuedNftOperation{
				Type:        OpDelRule,
				Rule:        &ruleCopy,
				Description: fmt.Sprintf("DelRule (by Handle %d): jump from %s to %s (%s)", ruleCopy.Handle, LocalChain, fullChainName, utils.DecodeTableFamily(family)),
			})
			klog.V(5).Infof("[NFTables.RemoveAddressJumps] Enqueued OpDelRule (by Handle %d) for jump from %s to %s (%s)", ruleCopy.Handle, LocalChain, fullChainName, utils.DecodeTableFamily(family))
		}
	}
}
