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

import "errors"

/* ErrFilterNotFound is returned by LookupFilter when the named filter is
 * not defined on the hypervisor.
 */
var ErrFilterNotFound = errors.New("nwfilter: filter not found")

/* Hypervisor is the filter-object capability consumed by the graph:
 * create-or-replace a named filter from its serialized document, and check
 * whether a named filter exists. DefineFilter may block for as long as the
 * hypervisor needs; callers go through the define worker.
 */
type Hypervisor interface {
	DefineFilter(xmlDoc string) error
	LookupFilter(name string) error
}
