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
	"sync"
	"time"

	"github.com/feitnomore/sg-nft-bridge/pkg/utils"
	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"k8s.io/klog/v2"
)

/* managedFamilies are the address families the chain tree is maintained in.
 * Both trees always exist; the v6 one simply stays rule-less when v6 is off.
 */
var managedFamilies = []nftables.TableFamily{
	nftables.TableFamilyIPv4,
	nftables.TableFamilyIPv6,
}

type internalTable struct {
	name   string
	chain  *nftables.Chain
	table  *nftables.Table
	family nftables.TableFamily
	kind   nftables.ChainType
	rules  []nftables.Rule
}

type NFTables struct {
	table         []internalTable
	InternalQueue []QueuedNftOperation
	conn          *nftables.Conn
	connLock      sync.Mutex
	queueLock     sync.Mutex
}

func NewNftTables() *NFTables {
	return &NFTables{}
}

func (nft *NFTables) LockConnection() {
	klog.V(7).Info("Attempting to acquire NFTables connection lock...")
	nft.connLock.Lock()
	klog.V(6).Info("NFTables connection lock acquired.")
}

func (nft *NFTables) UnlockConnection() {
	nft.connLock.Unlock()
	klog.V(6).Info("NFTables connection lock released.")
}

func (nft *NFTables) Init() {
	nftconn, err := nftables.New(nftables.AsLasting())
	if err != nil {
		klog.Fatalf("nftables.New() failed: %v \n", err)
	}
	nft.conn = nftconn
}

func (nft *NFTables) Conn() *nftables.Conn {
	return nft.conn
}

func (nft *NFTables) flushInitialSetupWithRetry(loadID string, operationDescription string) error {
	maxBatchRetries := 5
	batchRetryDelay := 300 * time.Millisecond
	var lastBatchFlushErr error

	logEntryPrefix := fmt.Sprintf("[EnsureBaseChains, ID: %s, OpDesc: %s]", loadID, operationDescription)

	for attempt := 1; attempt <= maxBatchRetries; attempt++ {
		klog.V(3).Infof("%s Attempting to flush (Attempt %d/%d).", logEntryPrefix, attempt, maxBatchRetries)
		flushStartTime := time.Now()
		lastBatchFlushErr = nft.conn.Flush()
		flushDuration := time.Since(flushStartTime)

		if lastBatchFlushErr == nil {
			klog.V(2).Infof("%s Initial setup operations for '%s' flushed successfully (Attempt %d, Duration: %s).", logEntryPrefix, operationDescription, attempt, flushDuration)
			return nil
		}

		klog.Errorf("%s Flush FAILED for '%s' (Attempt %d/%d, Duration: %s): %v.", logEntryPrefix, operationDescription, attempt, maxBatchRetries, flushDuration, lastBatchFlushErr)

		isRetryableError := utils.IsNftDeviceOrResourceBusyError(lastBatchFlushErr) ||
			utils.IsNftNoSuchFileError(lastBatchFlushErr) ||
			utils.IsNftChainExistsError(lastBatchFlushErr)

		if attempt < maxBatchRetries && isRetryableError {
			klog.Warningf("%s Retrying initial flush for '%s' due to '%v' in %v...", logEntryPrefix, operationDescription, lastBatchFlushErr, batchRetryDelay)
			time.Sleep(batchRetryDelay)
			batchRetryDelay *= 2
			continue
		}
		klog.Errorf("%s Unrecoverable initial flush error for '%s' or max retries (%d/%d) reached. Last error: %v.", logEntryPrefix, operationDescription, attempt, maxBatchRetries, lastBatchFlushErr)
		return lastBatchFlushErr
	}
	return lastBatchFlushErr
}

func (nft *NFTables) internalCleanOurChainsByFamily(loadID string, targetFamily nftables.TableFamily) error {
	klog.V(4).Infof("[EnsureBaseChains, ID: %s, CleanChains] Listing all chains to find instance chains for family %s to clean.", loadID, utils.DecodeTableFamily(targetFamily))

	chains, err := nft.conn.ListChains()
	if err != nil {
		klog.Errorf("[EnsureBaseChains, ID: %s, CleanChains] nft.conn.ListChains() failed: %v", loadID, err)
		return err
	}

	cleanedSomething := false
	for _, ch := range chains {
		if ch.Table != nil && ch.Table.Name == TableFilter && ch.Table.Family == targetFamily {
			klog.V(8).Infof("[EnsureBaseChains, ID: %s, CleanChains] Checking chain %s in table %s (family %s)", loadID, ch.Name, ch.Table.Name, utils.DecodeTableFamily(ch.Table.Family))
			if utils.IsInstanceChain(ch.Name) {
				klog.V(5).Infof("[EnsureBaseChains, ID: %s, CleanChains] Adding FlushChain and DelChain for stale instance chain %s to conn batch.", loadID, ch.Name)
				nft.conn.FlushChain(ch)
				nft.conn.DelChain(ch)
				cleanedSomething = true
			}
		}
	}
	if cleanedSomething {
		klog.V(3).Infof("[EnsureBaseChains, ID: %s, CleanChains] Operations to clean stale instance chains for family %s added to conn batch.", loadID, utils.DecodeTableFamily(targetFamily))
	} else {
		klog.V(4).Infof("[EnsureBaseChains, ID: %s, CleanChains] No stale instance chains found to clean for family %s.", loadID, utils.DecodeTableFamily(targetFamily))
	}
	return nil
}

/* internalEnsureBaseChainsForFamily adds the base chain skeleton for one
 * family to the conn batch: the input hook chain jumping into SG_LOCAL, the
 * regular SG_LOCAL chain, and the SG_FALLBACK chain with its single DROP.
 * Base chains are flushed first so repeated startups never duplicate rules.
 */
func (nft *NFTables) internalEnsureBaseChainsForFamily(loadID string, family nftables.TableFamily) {
	klog.V(2).Infof("[EnsureBaseChains, ID: %s, EnsureFamily] Ensuring family %s table '%s' and base chains (operations added to conn batch).", loadID, utils.DecodeTableFamily(family), TableFilter)

	filterTable := &nftables.Table{
		Family: family,
		Name:   TableFilter,
	}

	policyAccept := nftables.ChainPolicyAccept
	inputPriority := *nftables.ChainPriorityFilter
	pInput := inputPriority

	inputChain := &nftables.Chain{
		Name:     InputChain,
		Table:    filterTable,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: &pInput,
		Policy:   &policyAccept,
	}
	_ = nft.conn.AddChain(inputChain)
	nft.conn.FlushChain(inputChain)

	localChain := &nftables.Chain{
		Name:  LocalChain,
		Table: filterTable,
		Type:  nftables.ChainTypeFilter,
	}
	_ = nft.conn.AddChain(localChain)

	fallbackChain := &nftables.Chain{
		Name:  FallbackChain,
		Table: filterTable,
		Type:  nftables.ChainTypeFilter,
	}
	_ = nft.conn.AddChain(fallbackChain)
	nft.conn.FlushChain(fallbackChain)

	nft.conn.AddRule(&nftables.Rule{
		Table: filterTable,
		Chain: inputChain,
		Exprs: []expr.Any{
			&expr.Verdict{Kind: expr.VerdictJump, Chain: LocalChain},
		},
	})

	nft.conn.AddRule(&nftables.Rule{
		Table: filterTable,
		Chain: fallbackChain,
		Exprs: []expr.Any{
			&expr.Verdict{Kind: expr.VerdictDrop},
		},
	})

	klog.V(3).Infof("[EnsureBaseChains, ID: %s, EnsureFamily] Operations for family %s table '%s' and base chains (Input Prio: %d) added to conn batch.",
		loadID, utils.DecodeTableFamily(family), TableFilter, inputPriority)
}

/* EnsureBaseChains loads and configures the initial nftables state: both
 * family tables, the base chain skeleton, and removal of any instance
 * chains left behind by a previous run. SG_LOCAL is deliberately NOT
 * flushed here so an operator restarting the agent mid-flight does not cut
 * traffic for instances whose jumps are still valid; stale jumps die with
 * their target chains.
 */
func (nft *NFTables) EnsureBaseChains() error {
	loadID := utils.GenerateRandomShortID()
	klog.Infof("[EnsureBaseChains, ID: %s] Starting to load and configure nftables state.", loadID)

	nft.LockConnection()
	defer nft.UnlockConnection()

	klog.V(3).Infof("[EnsureBaseChains, ID: %s] Ensuring base tables for managed families (added to conn batch).", loadID)
	for _, family := range managedFamilies {
		_ = nft.conn.AddTable(&nftables.Table{
			Family: family,
			Name:   TableFilter,
		})
	}
	if err := nft.flushInitialSetupWithRetry(loadID, "ensure base tables"); err != nil {
		klog.Errorf("[EnsureBaseChains, ID: %s] nft.conn.Flush() FAILED after ensuring base tables: %v. Cannot proceed.", loadID, err)
		return err
	}

	for _, family := range managedFamilies {
		klog.V(3).Infof("[EnsureBaseChains, ID: %s] Cleaning instance chains for family %s (operations will be added to conn batch).", loadID, utils.DecodeTableFamily(family))
		if err := nft.internalCleanOurChainsByFamily(loadID, family); err != nil {
			klog.Errorf("[EnsureBaseChains, ID: %s] Failed to prepare chain cleaning operations for family %s: %v. Proceeding cautiously.", loadID, utils.DecodeTableFamily(family), err)
		}
	}

	for _, family := range managedFamilies {
		klog.V(3).Infof("[EnsureBaseChains, ID: %s] Ensuring base chains for family %s (added to conn batch).", loadID, utils.DecodeTableFamily(family))
		nft.internalEnsureBaseChainsForFamily(loadID, family)
	}

	klog.V(2).Infof("[EnsureBaseChains, ID: %s] Attempting to flush all setup operations (cleanup + base chains) from conn batch.", loadID)
	if err := nft.flushInitialSetupWithRetry(loadID, "main setup (cleanup + base chains)"); err != nil {
		klog.Errorf("[EnsureBaseChains, ID: %s] nft.conn.Flush() FAILED during main setup: %v. Cannot proceed.", loadID, err)
		return err
	}

	nft.ReloadNftTableCacheInternal()
	klog.Infof("[EnsureBaseChains, ID: %s] Finished loading and configuring initial nftables state.", loadID)
	return nil
}

func (nft *NFTables) ReloadNftTableCacheInternal() {
	klog.V(3).Info("[ReloadCacheInternal] ENTERING ReloadNftTableCacheInternal.")
	nft.table = nil

	klog.V(4).Info("[ReloadCacheInternal] About to call ListTables...")
	startTimeListTables := time.Now()
	tables, errListTables := nft.conn.ListTables()
	durationListTables := time.Since(startTimeListTables)
	klog.V(4).Infof("[ReloadCacheInternal] ListTables call finished. Took %s. Found %d tables.", durationListTables, len(tables))
	if errListTables != nil {
		klog.Errorf("[ReloadCacheInternal] nft.conn.ListTables() failed: %v. Aborting cache reload.", errListTables)
		return
	}

	allChains, errListChains := nft.conn.ListChains()
	if errListChains != nil {
		klog.Errorf("[ReloadCacheInternal] nft.conn.ListChains() failed: %v. Aborting cache reload.", errListChains)
		return
	}
	klog.V(4).Infof("[ReloadCacheInternal] ListChains successful, found %d chains across all tables. Processing...", len(allChains))

	mapChainsToTable := make(map[string][]*nftables.Chain)
	for _, ch := range allChains {
		if ch.Table != nil {
			mapKey := fmt.Sprintf("%s/%s", utils.DecodeTableFamily(ch.Table.Family), ch.Table.Name)
			mapChainsToTable[mapKey] = append(mapChainsToTable[mapKey], ch)
		}
	}

	for _, tbl := range tables {
		isRelevantTable := false
		for _, family := range managedFamilies {
			if tbl.Family == family && tbl.Name == TableFilter {
				isRelevantTable = true
				break
			}
		}

		if !isRelevantTable {
			klog.V(7).Infof("[ReloadCacheInternal] Skipping table %s (Family %s) as it's not directly managed for chains/rules cache.", tbl.Name, utils.DecodeTableFamily(tbl.Family))
			continue
		}

		decodedFamily := utils.DecodeTableFamily(tbl.Family)
		klog.V(5).Infof("[ReloadCacheInternal] Processing relevant table: %s (Family %s)", tbl.Name, decodedFamily)

		tableMapKey := fmt.Sprintf("%s/%s", decodedFamily, tbl.Name)
		chainsInThisTable, ok := mapChainsToTable[tableMapKey]
		if !ok {
			klog.V(6).Infof("[ReloadCacheInternal] No chains found in map for table %s/%s.", tbl.Name, decodedFamily)
			continue
		}
		klog.V(6).Infof("[ReloadCacheInternal] Found %d chains in table %s/%s via map.", len(chainsInThisTable), tbl.Name, decodedFamily)

		for _, ch := range chainsInThisTable {
			isRelevantChain := false
			if ch.Name == InputChain || ch.Name == LocalChain || ch.Name == FallbackChain || utils.IsInstanceChain(ch.Name) {
				isRelevantChain = true
			}

			if !isRelevantChain {
				klog.V(8).Infof("[ReloadCacheInternal] Skipping chain %s in table %s/%s as it's not a managed base or instance chain.", ch.Name, tbl.Name, decodedFamily)
				continue
			}

			var myCachedTableEntry internalTable
			myCachedTableEntry.name = ch.Name
			myCachedTableEntry.chain = ch
			myCachedTableEntry.table = tbl
			myCachedTableEntry.family = tbl.Family
			myCachedTableEntry.kind = ch.Type
			myCachedTableEntry.rules = nil

			klog.V(7).Infof("[ReloadCacheInternal] Getting rules for relevant chain: %s/%s", tbl.Name, ch.Name)
			startTimeGetRules := time.Now()
			rules, errRules := nft.conn.GetRules(tbl, ch)
			durationGetRules := time.Since(startTimeGetRules)

			if errRules != nil {
				klog.Errorf("[ReloadCacheInternal] nft.conn.GetRules() for chain %s/%s failed: %v", tbl.Name, ch.Name, errRules)
			} else {
				klog.V(7).Infof("[ReloadCacheInternal] GetRules for %s/%s took %s. Found %d rules.", tbl.Name, ch.Name, durationGetRules, len(rules))
				for i := range rules {
					if rules[i] != nil {
						myCachedTableEntry.rules = append(myCachedTableEntry.rules, *rules[i])
					}
				}
			}
			nft.table = append(nft.table, myCachedTableEntry)
			logChainPrio := "N/A"
			if ch.Priority != nil {
				logChainPrio = fmt.Sprintf("%d", *ch.Priority)
			}
			klog.V(6).Infof("[ReloadCacheInternal] Cached chain: Family: %s, Table: %s, Chain: %s (Hook: %v, Prio: %s), Rules: %d",
				utils.DecodeTableFamily(myCachedTableEntry.family), myCachedTableEntry.table.Name, myCachedTableEntry.name, myCachedTableEntry.chain.Hooknum, logChainPrio, len(myCachedTableEntry.rules))
		}
	}
	klog.V(3).Info("[ReloadCacheInternal] FINISHED ReloadNftTableCacheInternal.")
}

func (nft *NFTables) ReloadNftTableCache() {
	klog.V(4).Info("ReloadNftTableCache: Public wrapper called.")
	nft.LockConnection()
	defer nft.UnlockConnection()
	nft.ReloadNftTableCacheInternal()
}

func (nft *NFTables) FindBaseChain(chainName string, family nftables.TableFamily, tableName string) *nftables.Chain {
	for i := range nft.table {
		entry := &nft.table[i]
		if entry.chain != nil && entry.chain.Name == chainName &&
			entry.family == family &&
			entry.table != nil && entry.table.Name == tableName {
			klog.V(7).Infof("FindBaseChain (from cache): Found chain %s in table %s, family %s.", chainName, tableName, utils.DecodeTableFamily(family))
			return entry.chain
		}
	}
	klog.V(6).Infof("FindBaseChain (from cache): Chain %s NOT found in table %s, family %s.", chainName, tableName, utils.DecodeTableFamily(family))
	return nil
}

func (nft *NFTables) FindInstanceChain(fullChainName string, family nftables.TableFamily) *nftables.Chain {
	for i := range nft.table {
		entry := &nft.table[i]
		if entry.chain != nil &&
			entry.chain.Name == fullChainName &&
			entry.family == family &&
			entry.table != nil && entry.table.Name == TableFilter {
			klog.V(7).Infof("FindInstanceChain (from cache): Found chain %s in table %s, family %s.", fullChainName, TableFilter, utils.DecodeTableFamily(family))
			return entry.chain
		}
	}
	klog.V(6).Infof("FindInstanceChain (from cache): Chain %s NOT found in table %s, family %s.", fullChainName, TableFilter, utils.DecodeTableFamily(family))
	return nil
}

/* CheckChainExists reports whether an instance chain is present in the
 * cache for every managed family.
 */
func (nft *NFTables) CheckChainExists(fullChainName string) bool {
	for _, family := range managedFamilies {
		if nft.FindInstanceChain(fullChainName, family) == nil {
			return false
		}
	}
	return true
}

func (nft *NFTables) FindChainByNameAndFamily(chainName string, family nftables.TableFamily) *nftables.Chain {
	if chainName == InputChain || chainName == LocalChain || chainName == FallbackChain {
		return nft.FindBaseChain(chainName, family, TableFilter)
	}
	for i := range nft.table {
		entry := &nft.table[i]
		if entry.chain != nil && entry.chain.Name == chainName &&
			entry.family == family && entry.table != nil {
			klog.V(7).Infof("FindChainByNameAndFamily (from cache, generic): Found chain %s, family %s (table %s).", chainName, utils.DecodeTableFamily(family), entry.table.Name)
			return entry.chain
		}
	}
	klog.V(6).Infof("FindChainByNameAndFamily (from cache, generic): Chain %s, family %s NOT found.", chainName, utils.DecodeTableFamily(family))
	return nil
}

func (nft *NFTables) getRulesFromCachedChain(chainObj *nftables.Chain) []nftables.Rule {
	if chainObj == nil || chainObj.Table == nil {
		klog.V(8).Info("getRulesFromCachedChain: called with nil chain or chain.Table.")
		return nil
	}
	for _, cachedEntry := range nft.table {
		if cachedEntry.chain != nil && cachedEntry.chain.Table != nil &&
			cachedEntry.chain.Name == chainObj.Name &&
			cachedEntry.chain.Table.Name == chainObj.Table.Name &&
			cachedEntry.chain.Table.Family == chainObj.Table.Family {
			rulesCopy := make([]nftables.Rule, len(cachedEntry.rules))
			copy(rulesCopy, cachedEntry.rules)
			klog.V(8).Infof("getRulesFromCachedChain: Found chain %s/%s in cache, returning %d rules.", chainObj.Table.Name, chainObj.Name, len(rulesCopy))
			return rulesCopy
		}
	}
	klog.V(7).Infof("getRulesFromCachedChain: Chain %s/%s not found in cache.", chainObj.Table.Name, chainObj.Name)
	return nil
}

func (nft *NFTables) GetNftTableObject(tableName string, family nftables.TableFamily) *nftables.Table {
	for i := range nft.table {
		entry := &nft.table[i]
		if entry.table != nil && entry.table.Name == tableName && entry.table.Family == family {
			klog.V(8).Infof("[GetNftTableObject] Found table %s (family %s) in local cache nft.table.", tableName, utils.DecodeTableFamily(family))
			return entry.table
		}
	}
	klog.V(6).Infof("[GetNftTableObject] Table %s (family %s) NOT found in local cache nft.table, returning NEW reference.", tableName, utils.DecodeTableFamily(family))
	return &nftables.Table{Name: tableName, Family: family}
}

func (nft *NFTables) GetNftChainObject(chainName string, tableName string, family nftables.TableFamily) *nftables.Chain {
	for i := range nft.table {
		entry := &nft.table[i]
		if entry.chain != nil && entry.chain.Name == chainName &&
			entry.table != nil && entry.table.Name == tableName && entry.family == family {
			klog.V(8).Infof("[GetNftChainObject] Found chain %s in table %s (family %s) in local cache nft.table.", chainName, tableName, utils.DecodeTableFamily(family))
			return entry.chain
		}
	}
	klog.V(6).Infof("[GetNftChainObject] Chain %s in table %s (family %s) NOT found in local cache nft.table, returning NEW reference.", chainName, tableName, utils.DecodeTableFamily(family))
	tableObj := nft.GetNftTableObject(tableName, family)
	return &nftables.Chain{Name: chainName, Table: tableObj, Type: nftables.ChainTypeFilter}
}

/* EnqueueOperation adds an operation to the internal queue. */
func (nft *NFTables) EnqueueOperation(op QueuedNftOperation) {
	nft.queueLock.Lock()
	defer nft.queueLock.Unlock()
	nft.InternalQueue = append(nft.InternalQueue, op)
	klog.V(7).Infof("[NFTables.EnqueueOperation] Enqueued Op: %s - %s. Current queue size: %d", op.Type, op.Description, len(nft.InternalQueue))
}

/* HasPendingOperations checks if there are pending operations in the queue. */
func (nft *NFTables) HasPendingOperations() bool {
	nft.queueLock.Lock()
	defer nft.queueLock.Unlock()
	return len(nft.InternalQueue) > 0
}

/* PendingOperationCount returns the number of pending operations. */
func (nft *NFTables) PendingOperationCount() int {
	nft.queueLock.Lock()
	defer nft.queueLock.Unlock()
	return len(nft.InternalQueue)
}

/* DequeueOperationsBatch removes all pending operations from the queue and returns them. */
func (nft *NFTables) DequeueOperationsBatch() []QueuedNftOperation {
	nft.queueLock.Lock()
	defer nft.queueLock.Unlock()
	if len(nft.InternalQueue) == 0 {
		return nil
	}
	batch := nft.InternalQueue
	nft.InternalQueue = nil
	klog.V(5).Infof("[NFTables.DequeueOperationsBatch] Dequeued %d operations for processing.", len(batch))
	return batch
}

/* RequeueOperationsBatch adds a batch of operations back to the head of the queue. */
func (nft *NFTables) RequeueOperationsBatch(batch []QueuedNftOperation) {
	nft.queueLock.Lock()
	defer nft.queueLock.Unlock()
	if len(batch) == 0 {
		return
	}
	nft.InternalQueue = append(batch, nft.InternalQueue...) /* Add to beginning */
	klog.V(4).Infof("[NFTables.RequeueOperationsBatch] Re-queued %d operations. Total pending: %d", len(batch), len(nft.InternalQueue))
}

/* executeAddTable handles the OpAddTable operation. */
func (nft *NFTables) executeAddTable(op *QueuedNftOperation) error {
	if op.Table == nil {
		return fmt.Errorf("OpAddTable with nil Table for '%s'", op.Description)
	}
	nft.conn.AddTable(op.Table)
	klog.V(6).Infof("ExecuteQueuedOperationOnConnection: Added Table '%s' (Family: %s) to conn batch.", op.Table.Name, utils.DecodeTableFamily(op.Table.Family))
	return nil
}

/* executeAddChain handles the OpAddChain operation. */
func (nft *NFTables) executeAddChain(op *QueuedNftOperation) error {
	if op.Chain == nil || op.Chain.Table == nil {
		return fmt.Errorf("OpAddChain with nil Chain or Chain.Table for '%s'", op.Description)
	}
	nft.conn.AddChain(op.Chain)
	klog.V(6).Infof("ExecuteQueuedOperationOnConnection: Added AddChain for '%s' (Table: %s/%s) to conn batch.", op.Chain.Name, op.Chain.Table.Name, utils.DecodeTableFamily(op.Chain.Table.Family))
	return nil
}

/* executeFlushChain handles the OpFlushChain operation. */
func (nft *NFTables) executeFlushChain(op *QueuedNftOperation) error {
	if op.Chain == nil || op.Chain.Table == nil {
		return fmt.Errorf("OpFlushChain with nil Chain or Chain.Table for '%s'", op.Description)
	}
	nft.conn.FlushChain(op.Chain)
	klog.V(6).Infof("ExecuteQueuedOperationOnConnection: Added FlushChain for '%s' (Table: %s/%s) to conn batch.", op.Chain.Name, op.Chain.Table.Name, utils.DecodeTableFamily(op.Chain.Table.Family))
	return nil
}

/* executeDelChain handles the OpDelChain operation. */
func (nft *NFTables) executeDelChain(op *QueuedNftOperation) error {
	if op.Chain == nil || op.Chain.Table == nil {
		return fmt.Errorf("OpDelChain with nil Chain or Chain.Table for '%s'", op.Description)
	}
	nft.conn.DelChain(op.Chain)
	klog.V(6).Infof("ExecuteQueuedOperationOnConnection: Added DelChain for '%s' (Table: %s/%s) to conn batch.", op.Chain.Name, op.Chain.Table.Name, utils.DecodeTableFamily(op.Chain.Table.Family))
	return nil
}

/* ExecuteQueuedOperationOnConnection adds an internal queue operation to the nft.conn connection batch.
 * This function assumes that the nft.connLock has already been acquired.
 */
func (nft *NFTables) ExecuteQueuedOperationOnConnection(op *QueuedNftOperation) error {
	klog.V(7).Infof("[NFTables.ExecuteQueuedOperationOnConnection] Preparing to add op to nftables.Conn batch: %s - %s", op.Type, op.Description)
	var err error

	switch op.Type {
	case OpAddTable:
		err = nft.executeAddTable(op)
	case OpAddChain:
		err = nft.executeAddChain(op)
	case OpFlushChain:
		err = nft.executeFlushChain(op)
	case OpDelChain:
		err = nft.executeDelChain(op)
	case OpAddRule:
		if op.Rule == nil || op.Rule.Table == nil || op.Rule.Chain == nil {
			err = fmt.Errorf("ExecuteQueuedOperationOnConnection: OpAddRule with Rule, Rule.Table or Rule.Chain nil for '%s'", op.Description)
			break
		}
		nft.conn.AddRule(op.Rule)
		klog.V(6).Infof("ExecuteQueuedOperationOnConnection: Added AddRule to chain '%s' (Table: %s/%s) to conn batch. Desc: %s", op.Rule.Chain.Name, op.Rule.Table.Name, utils.DecodeTableFamily(op.Rule.Table.Family), op.Description)

	case OpDelRule:
		if op.Rule == nil || op.Rule.Table == nil || op.Rule.Chain == nil {
			err = fmt.Errorf("ExecuteQueuedOperationOnConnection: OpDelRule with Rule, Rule.Table or Rule.Chain nil for '%s'", op.Description)
			break
		}
		if op.Rule.Handle == 0 {
			klog.Errorf("ExecuteQueuedOperationOnConnection: OpDelRule for chain '%s' (Table: %s/%s) with Handle 0. Desc: %s. The Handle is required for deletion.", op.Rule.Chain.Name, op.Rule.Table.Name, utils.DecodeTableFamily(op.Rule.Table.Family), op.Description)
			err = fmt.Errorf("ExecuteQueuedOperationOnConnection: OpDelRule for chain '%s' (Table: %s/%s) with Handle 0. Desc: %s. The Handle is required for deletion", op.Rule.Chain.Name, op.Rule.Table.Name, utils.DecodeTableFamily(op.Rule.Table.Family), op.Description)
			break
		}
		delRuleErr := nft.conn.DelRule(op.Rule)
		if delRuleErr != nil {
			klog.Warningf("ExecuteQueuedOperationOnConnection: nft.conn.DelRule (Handle %d, Chain %s, Table %s/%s) returned an unexpected error during preparation: %v. Desc: %s.", op.Rule.Handle, op.Rule.Chain.Name, op.Rule.Table.Name, utils.DecodeTableFamily(op.Rule.Table.Family), delRuleErr, op.Description)
		} else {
			klog.V(6).Infof("ExecuteQueuedOperationOnConnection: Added DelRule (Handle %d) for chain '%s' (Table: %s/%s) to conn batch. Desc: %s", op.Rule.Handle, op.Rule.Chain.Name, op.Rule.Table.Name, utils.DecodeTableFamily(op.Rule.Table.Family), op.Description)
		}

	default:
		err = fmt.Errorf("ExecuteQueuedOperationOnConnection: Unknown NftOperationType: %s for '%s'", op.Type, op.Description)
	}

	if err != nil {
		klog.Warningf("Error during ExecuteQueuedOperationOnConnection for op %s (%s): %v", op.Type, op.Description, err)
	}
	return err
}

/* individualFlushFallback attempts to apply and flush a batch of nftables operations one by one.
 * This is used as a recovery mechanism when a full batch flush fails.
 */
func (nft *NFTables) individualFlushFallback(batchToProcess []QueuedNftOperation, logEntryPrefix string) error {
	var opsToRequeueAfterIndividualFailure []QueuedNftOperation
	successfulIndividualOpsCount := 0

	for i, op := range batchToProcess {
		currentOp := op
		opDescriptionForLog := fmt.Sprintf("Op #%d/%d: %s - %s", i+1, len(batchToProcess), currentOp.Type, currentOp.Description)
		individualLogPrefix := fmt.Sprintf("%s INDIVIDUAL FALLBACK:", logEntryPrefix)

		klog.V(5).Infof("%s Attempting %s", individualLogPrefix, opDescriptionForLog)

		if errPrep := nft.ExecuteQueuedOperationOnConnection(&currentOp); errPrep != nil {
			klog.Errorf("%s Error preparing %s: %v. Adding this and subsequent ops to requeue list.", individualLogPrefix, opDescriptionForLog, errPrep)
			opsToRequeueAfterIndividualFailure = append(opsToRequeueAfterIndividualFailure, batchToProcess[i:]...)
			break
		}

		individualFlushErr := nft.conn.Flush()
		if individualFlushErr == nil {
			klog.V(4).Infof("%s FLUSH SUCCEEDED after %s", individualLogPrefix, opDescriptionForLog)
			successfulIndividualOpsCount++
			continue
		}

		/* Error handling for individual flush */
		isDeletionOrFlushOp := (currentOp.Type == OpDelChain ||
			currentOp.Type == OpDelRule ||
			currentOp.Type == OpFlushChain)

		isTolerableError := false
		if utils.IsNftNoSuchFileError(individualFlushErr) && isDeletionOrFlushOp {
			klog.V(4).Infof("%s Op %s for '%s' resulted in 'no such file or directory'. Assuming already handled or non-existent. Continuing fallback.", individualLogPrefix, currentOp.Type, currentOp.Description)
			isTolerableError = true
		} else if currentOp.Type == OpAddChain && utils.IsNftChainExistsError(individualFlushErr) {
			klog.V(4).Infof("%s OpAddChain for '%s' resulted in '%v'. Assuming chain already exists. Continuing fallback.", individualLogPrefix, currentOp.Description, individualFlushErr)
			isTolerableError = true
		}

		if isTolerableError {
			successfulIndividualOpsCount++
			continue
		}

		klog.Errorf("%s FLUSH FAILED after %s: %v", individualLogPrefix, opDescriptionForLog, individualFlushErr)
		opsToRequeueAfterIndividualFailure = append(opsToRequeueAfterIndividualFailure, batchToProcess[i:]...)
		break
	}

	if len(opsToRequeueAfterIndividualFailure) > 0 {
		klog.Warningf("%s Re-queuing %d operations due to failure. %d ops succeeded individually before this.", logEntryPrefix, len(opsToRequeueAfterIndividualFailure), successfulIndividualOpsCount)
		nft.RequeueOperationsBatch(opsToRequeueAfterIndividualFailure)
		return fmt.Errorf("individual flush fallback failed after %d successful ops", successfulIndividualOpsCount)
	}

	klog.V(2).Infof("%s Successfully applied and flushed all %d operations individually.", logEntryPrefix, len(batchToProcess))
	return nil
}

/* ApplyBatch drains the internal queue and commits every staged operation
 * through a single kernel flush, so an enforcement cycle lands atomically.
 * On repeated batch failure it degrades to the individual-op strategy, and
 * reloads the chain cache after any successful commit.
 */
func (nft *NFTables) ApplyBatch(operationDescription string) error {
	if !nft.HasPendingOperations() {
		klog.V(4).Infof("[ApplyBatch, OpDesc: %s] No pending NFTables operations to process and flush.", operationDescription)
		return nil
	}

	nft.LockConnection()
	defer nft.UnlockConnection()

	batchToProcess := nft.DequeueOperationsBatch()
	if len(batchToProcess) == 0 {
		klog.V(5).Infof("[ApplyBatch, OpDesc: %s] Dequeued an empty batch, nothing to process.", operationDescription)
		return nil
	}

	batchID := utils.GenerateRandomShortID()
	logEntryPrefix := fmt.Sprintf("[ApplyBatch, ID: %s, OpDesc: %s]", batchID, operationDescription)
	klog.V(3).Infof("%s Attempting BATCH FLUSH strategy for %d operations.", logEntryPrefix, len(batchToProcess))

	maxBatchRetries := 3
	batchRetryDelay := 200 * time.Millisecond
	var lastBatchFlushErr error

	for attempt := 1; attempt <= maxBatchRetries; attempt++ {
		klog.V(4).Infof("%s BATCH FLUSH (Attempt %d/%d).", logEntryPrefix, attempt, maxBatchRetries)

		var opErrorsInBatch []string
		for i := range batchToProcess {
			op := &batchToProcess[i]
			klog.V(7).Infof("%s BATCH (Attempt %d): Preparing Op #%d/%d: %s - %s", logEntryPrefix, attempt, i+1, len(batchToProcess), op.Type, op.Description)
			if err := nft.ExecuteQueuedOperationOnConnection(op); err != nil {
				errMsg := fmt.Sprintf("Error preparing op %s (%s) for batch (Attempt %d): %v", op.Type, op.Description, attempt, err)
				klog.Warningf("%s %s", logEntryPrefix, errMsg)
				opErrorsInBatch = append(opErrorsInBatch, errMsg)
			}
		}

		if len(opErrorsInBatch) > 0 {
			klog.Warningf("%s BATCH (Attempt %d): Encountered %d errors during operation preparation. Proceeding with batch flush. Errors: %v", logEntryPrefix, attempt, len(opErrorsInBatch), opErrorsInBatch)
		}

		klog.V(4).Infof("%s BATCH (Attempt %d): Flushing %d operations.", logEntryPrefix, attempt, len(batchToProcess))
		flushStartTime := time.Now()
		lastBatchFlushErr = nft.conn.Flush()
		flushDuration := time.Since(flushStartTime)

		if lastBatchFlushErr == nil {
			klog.V(2).Infof("%s BATCH FLUSH SUCCEEDED (Attempt %d, Duration: %s) for %d operations.", logEntryPrefix, attempt, flushDuration, len(batchToProcess))
			if len(opErrorsInBatch) > 0 {
				klog.Warningf("%s Note: Although batch flush succeeded, %d op preparation errors occurred. Review logs.", logEntryPrefix, len(opErrorsInBatch))
			}
			nft.ReloadNftTableCacheInternal()
			return nil
		}

		klog.Errorf("%s BATCH FLUSH FAILED (Attempt %d/%d, Duration: %s): %v.", logEntryPrefix, attempt, maxBatchRetries, flushDuration, lastBatchFlushErr)

		if attempt < maxBatchRetries && utils.IsNftDeviceOrResourceBusyError(lastBatchFlushErr) {
			klog.Warningf("%s Retrying batch flush due to 'device or resource busy' in %v...", logEntryPrefix, batchRetryDelay)
			time.Sleep(batchRetryDelay)
			batchRetryDelay *= 2
			continue
		}
		klog.Errorf("%s Unrecoverable batch flush error or max retries (%d/%d) reached. Last error: %v.", logEntryPrefix, attempt, maxBatchRetries, lastBatchFlushErr)
		break
	}

	/* If batch flush failed, attempt individual fallback */
	klog.Warningf("%s BATCH FLUSH FAILED after %d attempts. Switching to INDIVIDUAL FLUSH strategy. Last batch error: %v", logEntryPrefix, maxBatchRetries, lastBatchFlushErr)
	fallbackErr := nft.individualFlushFallback(batchToProcess, logEntryPrefix)
	if fallbackErr != nil {
		return fmt.Errorf("batch flush failed for '%s' (last error: %v); %w", operationDescription, lastBatchFlushErr, fallbackErr)
	}

	nft.ReloadNftTableCacheInternal()
	return nil
}
