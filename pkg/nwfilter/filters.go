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

/* Package nwfilter keeps hypervisor filter objects in step with the policy
 * model. Filters form a DAG through filterref edges: static building-block
 * filters are defined once, per-group filters are redefined in place when
 * rules change, and per-NIC filters tie an instance's interfaces to the
 * graph.
 */
package nwfilter

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/feitnomore/sg-nft-bridge/pkg/config"
	"github.com/feitnomore/sg-nft-bridge/pkg/metrics"
	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"github.com/feitnomore/sg-nft-bridge/pkg/utils"
	"k8s.io/klog/v2"
)

const (
	BaseFilterName      = "sg-base"
	VPNFilterName       = "sg-vpn"
	BaseIPv4FilterName  = "sg-base-ipv4"
	BaseIPv6FilterName  = "sg-base-ipv6"
	DHCPFilterName      = "sg-allow-dhcp-server"
	RAFilterName        = "sg-allow-ra-server"
	ProjectFilterName   = "sg-project"
	ProjectFilterV6Name = "sg-project-v6"
)

/* Rule priorities within the graph. Lower runs first. */
const (
	allowPriority    = 100
	projectPriority  = 200
	secGroupPriority = 300
	baseOutPriority  = 399
	baseInPriority   = 400
)

/* v6protocols maps a rule protocol to its IPv6 filter element. */
var v6protocols = map[string]string{
	types.ProtoTCP:  "tcp-ipv6",
	types.ProtoUDP:  "udp-ipv6",
	types.ProtoICMP: "icmpv6",
}

/* SecurityGroupFilterName returns the filter holding a group's rules. */
func SecurityGroupFilterName(groupID string) string {
	return "sg-secgroup-" + groupID
}

/* InstanceFilterName returns the per-NIC filter name. The NIC id is the
 * MAC with separators stripped, so the name is stable across restarts.
 */
func InstanceFilterName(instanceID string, nicID string) string {
	return "sg-instance-" + instanceID + "-" + nicID
}

func instanceSecGroupFilterName(instanceID string) string {
	return "sg-instance-" + instanceID + "-secgroup"
}

/* FilterGraph owns the filter DAG on one hypervisor. All definitions are
 * funneled through the define worker; configuration is read at call time
 * through the shared pointer.
 */
type FilterGraph struct {
	cfg    *config.Config
	hv     Hypervisor
	worker *defineWorker

	staticLock    sync.Mutex
	staticDefined bool
}

func NewFilterGraph(cfg *config.Config, hv Hypervisor) *FilterGraph {
	return &FilterGraph{
		cfg:    cfg,
		hv:     hv,
		worker: newDefineWorker(hv),
	}
}

/* Close stops the define worker. */
func (g *FilterGraph) Close() {
	g.worker.Close()
}

func (g *FilterGraph) baseFilterName(instance *types.Instance) string {
	if g.cfg.VPNImageID != "" && instance.ImageRef == g.cfg.VPNImageID {
		return VPNFilterName
	}
	return BaseFilterName
}

/* define marshals and submits one filter through the worker. Definition
 * failures are logged here and propagated unmodified.
 */
func (g *FilterGraph) define(f *Filter) error {
	document, err := f.Marshal()
	if err != nil {
		klog.Errorf("[define] Building document for filter %s failed: %v", f.Name, err)
		return err
	}
	klog.V(8).Infof("[define] Submitting filter %s:\n%s", f.Name, document)
	metrics.FilterDefinesTotal.Inc()
	if err := g.worker.Define(document); err != nil {
		klog.Errorf("[define] Defining filter %s failed: %v", f.Name, err)
		return err
	}
	return nil
}

/* EnsureStaticFilters defines the static building-block filters. It runs
 * lazily on the first instance preparation; re-running it is a cheap no-op
 * behind the boolean guard.
 */
func (g *FilterGraph) EnsureStaticFilters() error {
	g.staticLock.Lock()
	defer g.staticLock.Unlock()

	if g.staticDefined {
		klog.V(6).Info("[EnsureStaticFilters] Static filters already defined, skipping.")
		return nil
	}

	for _, f := range g.staticFilterSet() {
		if err := g.define(f); err != nil {
			return err
		}
	}
	g.staticDefined = true
	klog.V(2).Info("[EnsureStaticFilters] Static filters defined.")
	return nil
}

func (g *FilterGraph) staticFilterSet() []*Filter {
	filters := []*Filter{
		NewContainer(BaseFilterName, []string{
			"no-mac-spoofing",
			"no-ip-spoofing",
			"no-arp-spoofing",
			"allow-dhcp-server",
		}),
		NewContainer(VPNFilterName, []string{"allow-dhcp-server"}),
		baseProtocolFilter(BaseIPv4FilterName, "ipv4", []string{types.ProtoTCP, types.ProtoUDP, types.ProtoICMP}),
		baseProtocolFilter(BaseIPv6FilterName, "ipv6", []string{"tcp-ipv6", "udp-ipv6", types.ProtoICMPv6}),
		dhcpFilter(),
		raFilter(),
	}
	if g.cfg.AllowProjectNetTraffic {
		filters = append(filters, projectFilter())
		if g.cfg.UseIPv6 {
			filters = append(filters, projectFilterV6())
		}
	}
	return filters
}

/* baseProtocolFilter allows all egress and drops all ingress for each of
 * the given protocol elements. Per-group accepts run at a lower priority
 * number, so they win over the final drop.
 */
func baseProtocolFilter(name string, chain string, protocols []string) *Filter {
	f := &Filter{Name: name, Chain: chain, UUID: DeterministicUUID(name)}
	for _, protocol := range protocols {
		f.Rules = append(f.Rules,
			Rule{
				Action:    "accept",
				Direction: "out",
				Priority:  baseOutPriority,
				Matches:   []ProtocolMatch{NewProtocolMatch(protocol)},
			},
			Rule{
				Action:    "drop",
				Direction: "in",
				Priority:  baseInPriority,
				Matches:   []ProtocolMatch{NewProtocolMatch(protocol)},
			})
	}
	return f
}

func dhcpFilter() *Filter {
	request := NewProtocolMatch(types.ProtoUDP)
	request.SrcIPAddr = "0.0.0.0"
	request.DstIPAddr = "255.255.255.255"
	request.SrcPortStart = intPtr(types.DHCPClientPort)
	request.DstPortStart = intPtr(types.DHCPServerPort)

	response := NewProtocolMatch(types.ProtoUDP)
	response.SrcIPAddr = "$DHCPSERVER"
	response.SrcPortStart = intPtr(types.DHCPServerPort)
	response.DstPortStart = intPtr(types.DHCPClientPort)

	return &Filter{
		Name:  DHCPFilterName,
		Chain: "ipv4",
		UUID:  DeterministicUUID(DHCPFilterName),
		Rules: []Rule{
			{Action: "accept", Direction: "out", Priority: allowPriority, Matches: []ProtocolMatch{request}},
			{Action: "accept", Direction: "in", Priority: allowPriority, Matches: []ProtocolMatch{response}},
		},
	}
}

func raFilter() *Filter {
	ra := NewProtocolMatch(types.ProtoICMPv6)
	ra.SrcIPAddr = "$RASERVER"
	return &Filter{
		Name:  RAFilterName,
		Chain: "root",
		UUID:  DeterministicUUID(RAFilterName),
		Rules: []Rule{
			{Action: "accept", Direction: "inout", Priority: allowPriority, Matches: []ProtocolMatch{ra}},
		},
	}
}

/* projectFilter allows intra-project traffic. The source network is a
 * per-NIC variable bound by the lifecycle manager at attach time.
 */
func projectFilter() *Filter {
	f := &Filter{Name: ProjectFilterName, Chain: "ipv4", UUID: DeterministicUUID(ProjectFilterName)}
	for _, protocol := range []string{types.ProtoTCP, types.ProtoUDP, types.ProtoICMP} {
		m := NewProtocolMatch(protocol)
		m.SrcIPAddr = "$PROJNET"
		m.SrcIPMask = "$PROJMASK"
		f.Rules = append(f.Rules, Rule{
			Action:    "accept",
			Direction: "in",
			Priority:  projectPriority,
			Matches:   []ProtocolMatch{m},
		})
	}
	return f
}

func projectFilterV6() *Filter {
	f := &Filter{Name: ProjectFilterV6Name, Chain: "ipv6", UUID: DeterministicUUID(ProjectFilterV6Name)}
	for _, protocol := range []string{"tcp-ipv6", "udp-ipv6", types.ProtoICMPv6} {
		m := NewProtocolMatch(protocol)
		m.SrcIPAddr = "$PROJNETV6"
		m.SrcIPMask = "$PROJMASKV6"
		f.Rules = append(f.Rules, Rule{
			Action:    "accept",
			Direction: "inout",
			Priority:  projectPriority,
			Matches:   []ProtocolMatch{m},
		})
	}
	return f
}

/* SetupBasicFiltering defines one filter per NIC referencing only the
 * image-selected base variant. This is enough to stop MAC/IP/ARP spoofing
 * before the full security-group graph is in place.
 */
func (g *FilterGraph) SetupBasicFiltering(instance *types.Instance, attachments []types.NetworkAttachment) error {
	klog.V(4).Infof("[SetupBasicFiltering] Instance %s with %d attachments.", instance.ID, len(attachments))
	if err := g.EnsureStaticFilters(); err != nil {
		return err
	}

	base := g.baseFilterName(instance)
	for _, att := range attachments {
		name := InstanceFilterName(instance.ID, utils.NicID(att.Mapping.MAC))
		if err := g.define(NewContainer(name, []string{base})); err != nil {
			return err
		}
	}
	return nil
}

/* PrepareInstanceFilter builds the full graph for one instance: each
 * attached group's filter is (re)defined from its rules, an instance-scoped
 * container references the static children plus those group filters, and
 * every per-NIC filter is overwritten to reference the container.
 */
func (g *FilterGraph) PrepareInstanceFilter(instance *types.Instance, attachments []types.NetworkAttachment, groups []types.SecurityGroup) error {
	klog.V(4).Infof("[PrepareInstanceFilter] Instance %s with %d groups.", instance.ID, len(groups))
	if err := g.EnsureStaticFilters(); err != nil {
		return err
	}

	children := []string{BaseIPv4FilterName, BaseIPv6FilterName, DHCPFilterName}
	if g.cfg.UseIPv6 && anyGatewayV6(attachments) {
		children = append(children, RAFilterName)
	}
	for _, group := range groups {
		if err := g.defineSecurityGroupFilter(group); err != nil {
			return err
		}
		children = append(children, SecurityGroupFilterName(group.ID))
	}

	secGroupFilter := instanceSecGroupFilterName(instance.ID)
	if err := g.define(NewContainer(secGroupFilter, children)); err != nil {
		return err
	}

	base := g.baseFilterName(instance)
	for _, att := range attachments {
		refs := []string{base, secGroupFilter}
		if g.cfg.AllowProjectNetTraffic {
			refs = append(refs, ProjectFilterName)
			if g.cfg.UseIPv6 {
				refs = append(refs, ProjectFilterV6Name)
			}
		}
		name := InstanceFilterName(instance.ID, utils.NicID(att.Mapping.MAC))
		if err := g.define(NewContainer(name, refs)); err != nil {
			return err
		}
	}
	return nil
}

/* RefreshSecurityGroupRules redefines just the group's filter. Instances
 * referencing it pick up the change without per-instance redefinition.
 */
func (g *FilterGraph) RefreshSecurityGroupRules(group types.SecurityGroup) error {
	klog.V(4).Infof("[RefreshSecurityGroupRules] Group %s with %d rules.", group.ID, len(group.Rules))
	return g.defineSecurityGroupFilter(group)
}

/* InstanceFilterExists checks that every per-NIC filter of the instance is
 * defined. A missing filter is a boolean miss, never an error.
 */
func (g *FilterGraph) InstanceFilterExists(instance *types.Instance, attachments []types.NetworkAttachment) bool {
	for _, att := range attachments {
		name := InstanceFilterName(instance.ID, utils.NicID(att.Mapping.MAC))
		if err := g.hv.LookupFilter(name); err != nil {
			klog.Infof("[InstanceFilterExists] The nwfilter %s for instance %s (MAC %s) is not found: %v",
				name, instance.ID, att.Mapping.MAC, err)
			return false
		}
	}
	return true
}

func (g *FilterGraph) defineSecurityGroupFilter(group types.SecurityGroup) error {
	name := SecurityGroupFilterName(group.ID)
	chain := "ipv4"
	if g.cfg.UseIPv6 {
		chain = "root"
	}

	f := &Filter{Name: name, Chain: chain, UUID: DeterministicUUID(name)}
	for _, rule := range group.Rules {
		r := Rule{Action: "accept", Direction: "in", Priority: secGroupPriority}
		if rule.CIDR != "" {
			if m, ok := g.ruleMatch(rule); ok {
				r.Matches = append(r.Matches, m)
			}
		}
		/* A rule without a source network stays an empty placeholder,
		 * reserved for group-to-group references. */
		f.Rules = append(f.Rules, r)
	}
	return g.define(f)
}

/* ruleMatch translates one rule record into its protocol match, following
 * the same protocol and port/icmp encoding as the directive compiler.
 */
func (g *FilterGraph) ruleMatch(rule types.SecurityGroupRule) (ProtocolMatch, bool) {
	_, network, err := net.ParseCIDR(rule.CIDR)
	if err != nil {
		klog.Warningf("[ruleMatch] Rule %s has unparseable cidr %s, matching nothing.", rule.ID, rule.CIDR)
		return ProtocolMatch{}, false
	}

	version := 4
	if strings.Contains(rule.CIDR, ":") {
		version = 6
	}

	protocol := strings.ToLower(rule.Protocol)
	if protocol == "" {
		protocol = "all"
	}
	if g.cfg.UseIPv6 && version == 6 {
		if v6, ok := v6protocols[protocol]; ok {
			protocol = v6
		}
	}

	m := NewProtocolMatch(protocol)
	m.SrcIPAddr = network.IP.String()
	if version == 6 {
		prefixLen, _ := network.Mask.Size()
		m.SrcIPMask = strconv.Itoa(prefixLen)
	} else {
		m.SrcIPMask = net.IP(network.Mask).String()
	}

	switch strings.ToLower(rule.Protocol) {
	case types.ProtoTCP, types.ProtoUDP:
		m.DstPortStart = intPtr(rule.FromPort)
		m.DstPortEnd = intPtr(rule.ToPort)
	case types.ProtoICMP:
		if rule.FromPort != types.PortUnset {
			m.Type = intPtr(rule.FromPort)
		}
		if rule.ToPort != types.PortUnset {
			m.Code = intPtr(rule.ToPort)
		}
	}
	return m, true
}

func anyGatewayV6(attachments []types.NetworkAttachment) bool {
	for _, att := range attachments {
		if att.Network.GatewayV6 != "" {
			return true
		}
	}
	return false
}
