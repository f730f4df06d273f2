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
	"fmt"
	"os"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

/* VirshHypervisor drives the hypervisor's filter objects through the virsh
 * binary, so the daemon runs on any libvirt host without a client library.
 */
type VirshHypervisor struct {
	binary string
}

func NewVirshHypervisor(binary string) *VirshHypervisor {
	return &VirshHypervisor{binary: binary}
}

/* DefineFilter writes the document to a temporary file and runs
 * nwfilter-define on it. Defining an existing filter replaces it.
 */
func (v *VirshHypervisor) DefineFilter(xmlDoc string) error {
	tmp, err := os.CreateTemp("", "sg-nft-bridge-filter-*.xml")
	if err != nil {
		return fmt.Errorf("creating filter document file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(xmlDoc); err != nil {
		tmp.Close()
		return fmt.Errorf("writing filter document file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing filter document file: %w", err)
	}

	output, err := exec.Command(v.binary, "nwfilter-define", tmp.Name()).CombinedOutput()
	if err != nil {
		return fmt.Errorf("virsh nwfilter-define: %w: %s", err, strings.TrimSpace(string(output)))
	}
	klog.V(8).Infof("[DefineFilter] virsh: %s", strings.TrimSpace(string(output)))
	return nil
}

/* LookupFilter dumps the named filter. A failing dump is reported as
 * not-found; virsh exits non-zero both for missing filters and for broken
 * connections, and either way the filter cannot be confirmed present.
 */
func (v *VirshHypervisor) LookupFilter(name string) error {
	output, err := exec.Command(v.binary, "nwfilter-dumpxml", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrFilterNotFound, name, strings.TrimSpace(string(output)))
	}
	return nil
}
