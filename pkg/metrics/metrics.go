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
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sg_nft_bridge"

var (
	/* OperationsTotal counts driver operations by name (prepare, unfilter,
	 * refresh_rules, refresh_members, setup_basic).
	 */
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Number of firewall driver operations processed, by operation.",
	}, []string{"operation"})

	/* CommitErrorsTotal counts enforcement batches that failed to commit. */
	CommitErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commit_errors_total",
		Help:      "Number of nftables batch commits that failed.",
	})

	/* CommitDuration observes the wall time of enforcement batch commits. */
	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "commit_duration_seconds",
		Help:      "Duration of nftables batch commits.",
		Buckets:   prometheus.DefBuckets,
	})

	/* FilterDefinesTotal counts nwfilter documents submitted to the
	 * hypervisor define worker.
	 */
	FilterDefinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "filter_defines_total",
		Help:      "Number of nwfilter define requests submitted.",
	})
)
