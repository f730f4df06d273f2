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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* slowHypervisor fails documents containing "bad" and records the order in
 * which defines arrived.
 */
type slowHypervisor struct {
	mu       sync.Mutex
	received []string
}

func (h *slowHypervisor) DefineFilter(xmlDoc string) error {
	h.mu.Lock()
	h.received = append(h.received, xmlDoc)
	h.mu.Unlock()
	if strings.Contains(xmlDoc, "bad") {
		return errors.New("define rejected")
	}
	return nil
}

func (h *slowHypervisor) LookupFilter(name string) error {
	return ErrFilterNotFound
}

func TestWorkerDeliversEachCallerItsOwnError(t *testing.T) {
	hv := &slowHypervisor{}
	w := newDefineWorker(hv)
	defer w.Close()

	var wg sync.WaitGroup
	errorsByDoc := make(map[string]error)
	var mu sync.Mutex

	for _, doc := range []string{"good-one", "bad-one", "good-two", "bad-two"} {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			err := w.Define(d)
			mu.Lock()
			errorsByDoc[d] = err
			mu.Unlock()
		}(doc)
	}
	wg.Wait()

	assert.NoError(t, errorsByDoc["good-one"])
	assert.NoError(t, errorsByDoc["good-two"])
	assert.Error(t, errorsByDoc["bad-one"])
	assert.Error(t, errorsByDoc["bad-two"])
}

func TestWorkerProcessesSequentially(t *testing.T) {
	hv := &slowHypervisor{}
	w := newDefineWorker(hv)
	defer w.Close()

	/* Sequential callers observe their documents processed in order */
	for _, doc := range []string{"first", "second", "third"} {
		require.NoError(t, w.Define(doc))
	}

	hv.mu.Lock()
	defer hv.mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, hv.received)
}
