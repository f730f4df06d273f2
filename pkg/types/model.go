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

/* Instance is the read-only view of a compute instance record consumed by
 * the enforcement paths. ImageRef selects the base-policy variant (a VPN
 * gateway image gets the relaxed base filter).
 */
type Instance struct {
	ID       string
	Name     string
	ImageRef string
}

/* Network describes one virtual network an instance attaches to. Gateway
 * doubles as the network's DHCP server address on the v4 side.
 */
type Network struct {
	ID        string
	CIDR      string
	CIDRv6    string
	Gateway   string
	GatewayV6 string
}

/* Mapping holds the per-NIC addressing of an attachment. */
type Mapping struct {
	MAC  string
	IPs  []string
	IP6s []string
}

/* NetworkAttachment pairs a network with the instance's addressing on it. */
type NetworkAttachment struct {
	Network Network
	Mapping Mapping
}

/* SecurityGroup is a named set of ingress rules. Rules carries the group's
 * rule records in stored order when resolved through the policy store.
 */
type SecurityGroup struct {
	ID    string
	Name  string
	Rules []SecurityGroupRule
}

/* SecurityGroupRule is one stored ingress rule. FromPort/ToPort and the
 * icmp type/code reuse the same two columns; PortUnset marks an absent
 * value. CIDR is the only supported source qualifier.
 */
type SecurityGroupRule struct {
	ID            string
	ParentGroupID string
	Protocol      string
	CIDR          string
	FromPort      int
	ToPort        int
}
