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
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* seedChain registers a chain (and its rules) in the internal cache, the way
 * ReloadNftTableCacheInternal would after listing the kernel state. The conn
 * stays nil: enqueue-side methods never touch it.
 */
func seedChain(nft *NFTables, chainName string, family nftables.TableFamily, rules []nftables.Rule) {
	tableObj := &nftables.Table{Name: TableFilter, Family: family}
	chainObj := &nftables.Chain{Name: chainName, Table: tableObj, Type: nftables.ChainTypeFilter}
	nft.table = append(nft.table, internalTable{
		name:   chainName,
		chain:  chainObj,
		table:  tableObj,
		family: family,
		kind:   nftables.ChainTypeFilter,
		rules:  rules,
	})
}

func opTypes(ops []QueuedNftOperation) []NftOperationType {
	kinds := make([]NftOperationType, 0, len(ops))
	for _, op := range ops {
		kinds = append(kinds, op.Type)
	}
	return kinds
}

func TestCreateInstanceChainEnqueuesBothFamilies(t *testing.T) {
	nft := NewNftTables()
	nft.CreateInstanceChain("SG_INST_abcdef123456")

	ops := nft.DequeueOperationsBatch()
	require.Len(t, ops, 2)
	families := map[nftables.TableFamily]bool{}
	for _, op := range ops {
		assert.Equal(t, OpAddChain, op.Type)
		require.NotNil(t, op.Chain)
		assert.Equal(t, "SG_INST_abcdef123456", op.Chain.Name)
		families[op.Chain.Table.Family] = true
	}
	assert.True(t, families[nftables.TableFamilyIPv4])
	assert.True(t, families[nftables.TableFamilyIPv6])
}

func TestDeleteInstanceChainSkipsUncached(t *testing.T) {
	nft := NewNftTables()

	/* Test case 1: nothing cached, nothing enqueued (already gone) */
	nft.DeleteInstanceChain("SG_INST_abcdef123456")
	assert.False(t, nft.HasPendingOperations())

	/* Test case 2: cached in one family only, enqueued for that family only */
	seedChain(nft, "SG_INST_abcdef123456", nftables.TableFamilyIPv4, nil)
	nft.DeleteInstanceChain("SG_INST_abcdef123456")
	ops := nft.DequeueOperationsBatch()
	require.Len(t, ops, 2)
	assert.Equal(t, []NftOperationType{OpFlushChain, OpDelChain}, opTypes(ops))
	for _, op := range ops {
		assert.Equal(t, nftables.TableFamilyIPv4, op.Chain.Table.Family)
	}

	/* Test case 3: cached in both families */
	seedChain(nft, "SG_INST_abcdef123456", nftables.TableFamilyIPv6, nil)
	nft.DeleteInstanceChain("SG_INST_abcdef123456")
	ops = nft.DequeueOperationsBatch()
	require.Len(t, ops, 4)
}

func TestReplaceInstanceDirectivesOrdering(t *testing.T) {
	nft := NewNftTables()

	v4 := []Directive{
		{Action: DirectiveDrop, CtState: CtStateInvalid, SourcePort: PortUnset, DestPortFrom: PortUnset, DestPortTo: PortUnset, ICMPType: PortUnset, ICMPCode: PortUnset},
		{Action: DirectiveAccept, Protocol: ProtoTCP, SourceCIDR: "0.0.0.0/0", SourcePort: PortUnset, DestPortFrom: 22, DestPortTo: 22, ICMPType: PortUnset, ICMPCode: PortUnset},
		{Action: DirectiveJump, JumpTarget: FallbackChain, SourcePort: PortUnset, DestPortFrom: PortUnset, DestPortTo: PortUnset, ICMPType: PortUnset, ICMPCode: PortUnset},
	}

	nft.ReplaceInstanceDirectives("SG_INST_abcdef123456", v4, nil)
	ops := nft.DequeueOperationsBatch()

	/* v4: flush + 3 rules; v6: flush only (no directives) */
	require.Len(t, ops, 5)
	assert.Equal(t, []NftOperationType{OpFlushChain, OpAddRule, OpAddRule, OpAddRule, OpFlushChain}, opTypes(ops))

	/* Rule order mirrors directive order, jump to fallback last */
	lastRule := ops[3]
	require.NotNil(t, lastRule.Rule)
	verdict, ok := lastRule.Rule.Exprs[len(lastRule.Rule.Exprs)-1].(*expr.Verdict)
	require.True(t, ok)
	assert.Equal(t, expr.VerdictJump, verdict.Kind)
	assert.Equal(t, FallbackChain, verdict.Chain)
}

func TestReplaceInstanceDirectivesSkipsUnencodable(t *testing.T) {
	nft := NewNftTables()

	v4 := []Directive{
		{Action: DirectiveAccept, Protocol: "sctp", SourceCIDR: "0.0.0.0/0", SourcePort: PortUnset, DestPortFrom: PortUnset, DestPortTo: PortUnset, ICMPType: PortUnset, ICMPCode: PortUnset},
		{Action: DirectiveJump, JumpTarget: FallbackChain, SourcePort: PortUnset, DestPortFrom: PortUnset, DestPortTo: PortUnset, ICMPType: PortUnset, ICMPCode: PortUnset},
	}

	nft.ReplaceInstanceDirectives("SG_INST_abcdef123456", v4, nil)
	ops := nft.DequeueOperationsBatch()

	/* The unencodable directive is dropped, never widened */
	require.Len(t, ops, 3)
	assert.Equal(t, []NftOperationType{OpFlushChain, OpAddRule, OpFlushChain}, opTypes(ops))
}

func TestAddAddressJumpsDedupe(t *testing.T) {
	nft := NewNftTables()
	seedChain(nft, LocalChain, nftables.TableFamilyIPv4, nil)
	seedChain(nft, LocalChain, nftables.TableFamilyIPv6, nil)

	/* Test case 1: fresh jump is enqueued for the v4 address */
	nft.AddAddressJumps("SG_INST_abcdef123456", []string{"10.0.0.5"}, nil)
	ops := nft.DequeueOperationsBatch()
	require.Len(t, ops, 1)
	assert.Equal(t, OpAddRule, ops[0].Type)
	assert.Equal(t, LocalChain, ops[0].Rule.Chain.Name)

	/* Test case 2: an identical cached jump suppresses the enqueue */
	existingExprs := buildExprDestinationAddress("10.0.0.5", nftables.TableFamilyIPv4)
	existingExprs = append(existingExprs, &expr.Verdict{Kind: expr.VerdictJump, Chain: "SG_INST_abcdef123456"})
	nft2 := NewNftTables()
	tableObj := &nftables.Table{Name: TableFilter, Family: nftables.TableFamilyIPv4}
	localChain := &nftables.Chain{Name: LocalChain, Table: tableObj, Type: nftables.ChainTypeFilter}
	nft2.table = append(nft2.table, internalTable{
		name: LocalChain, chain: localChain, table: tableObj,
		family: nftables.TableFamilyIPv4, kind: nftables.ChainTypeFilter,
		rules: []nftables.Rule{{Table: tableObj, Chain: localChain, Handle: 42, Exprs: existingExprs}},
	})
	seedChain(nft2, LocalChain, nftables.TableFamilyIPv6, nil)

	nft2.AddAddressJumps("SG_INST_abcdef123456", []string{"10.0.0.5"}, nil)
	assert.False(t, nft2.HasPendingOperations(), "duplicate jump must not be enqueued")

	/* Test case 3: unparseable address is skipped */
	nft3 := NewNftTables()
	seedChain(nft3, LocalChain, nftables.TableFamilyIPv4, nil)
	seedChain(nft3, LocalChain, nftables.TableFamilyIPv6, nil)
	nft3.AddAddressJumps("SG_INST_abcdef123456", []string{"garbage"}, nil)
	assert.False(t, nft3.HasPendingOperations())
}

func TestRemoveAddressJumps(t *testing.T) {
	nft := NewNftTables()
	tableObj := &nftables.Table{Name: TableFilter, Family: nftables.TableFamilyIPv4}
	localChain := &nftables.Chain{Name: LocalChain, Table: tableObj, Type: nftables.ChainTypeFilter}

	ourJump := buildExprDestinationAddress("10.0.0.5", nftables.TableFamilyIPv4)
	ourJump = append(ourJump, &expr.Verdict{Kind: expr.VerdictJump, Chain: "SG_INST_abcdef123456"})

	otherJump := buildExprDestinationAddress("10.0.0.9", nftables.TableFamilyIPv4)
	otherJump = append(otherJump, &expr.Verdict{Kind: expr.VerdictJump, Chain: "SG_INST_ffffff000000"})

	handleless := buildExprDestinationAddress("10.0.0.6", nftables.TableFamilyIPv4)
	handleless = append(handleless, &expr.Verdict{Kind: expr.VerdictJump, Chain: "SG_INST_abcdef123456"})

	nft.table = append(nft.table, internalTable{
		name: LocalChain, chain: localChain, table: tableObj,
		family: nftables.TableFamilyIPv4, kind: nftables.ChainTypeFilter,
		rules: []nftables.Rule{
			{Table: tableObj, Chain: localChain, Handle: 7, Exprs: ourJump},
			{Table: tableObj, Chain: localChain, Handle: 8, Exprs: otherJump},
			{Table: tableObj, Chain: localChain, Handle: 0, Exprs: handleless},
		},
	})

	nft.RemoveAddressJumps("SG_INST_abcdef123456")
	ops := nft.DequeueOperationsBatch()

	/* Only the handled jump to our chain is deleted; the other instance's
	 * jump and the handle-less entry are left alone.
	 */
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelRule, ops[0].Type)
	assert.Equal(t, uint64(7), ops[0].Rule.Handle)
}
