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
package nwfilter

import (
	"k8s.io/klog/v2"
)

type defineRequest struct {
	document string
	reply    chan error
}

/* defineWorker funnels every blocking DefineFilter call through one
 * dedicated goroutine. A hung hypervisor call then stalls only the caller
 * awaiting its reply, never the rest of the process. Each caller gets its
 * own outcome back on its own reply channel, in submission order.
 */
type defineWorker struct {
	hv       Hypervisor
	requests chan defineRequest
}

func newDefineWorker(hv Hypervisor) *defineWorker {
	w := &defineWorker{
		hv:       hv,
		requests: make(chan defineRequest),
	}
	go w.run()
	return w
}

func (w *defineWorker) run() {
	klog.V(4).Info("[defineWorker] Worker goroutine started.")
	for req := range w.requests {
		req.reply <- w.hv.DefineFilter(req.document)
	}
	klog.V(4).Info("[defineWorker] Worker goroutine stopped.")
}

/* Define submits a document and blocks until the hypervisor call returns. */
func (w *defineWorker) Define(document string) error {
	reply := make(chan error, 1)
	w.requests <- defineRequest{document: document, reply: reply}
	return <-reply
}

/* Close stops the worker goroutine. Pending Define calls complete first. */
func (w *defineWorker) Close() {
	close(w.requests)
}
