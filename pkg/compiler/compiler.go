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

/* Package compiler turns an instance's security group rules into the
 * ordered directive lists enforced by the chain tree. Compilation is pure:
 * same records in, same directives out, no kernel or store access.
 */
package compiler

import (
	"strings"

	"github.com/feitnomore/sg-nft-bridge/pkg/types"
	"k8s.io/klog/v2"
)

/* Options holds the host-level policy knobs consulted during compilation. */
type Options struct {
	UseIPv6                bool
	AllowProjectNetTraffic bool
}

/* Compile produces the v4 and v6 directive lists for one instance. Both
 * lists share the same shape: a fixed prefix (stateful baseline plus
 * per-network allowances), the group rules in stored order, and a trailing
 * jump to the fallback chain. The fallback jump is always last so a packet
 * matching nothing lands on the default deny.
 */
func Compile(inst *types.Instance, atts []types.NetworkAttachment, groups []types.SecurityGroup, opts Options) (v4, v6 []types.Directive) {
	v4 = compilePrefix(atts, opts, false)
	if opts.UseIPv6 {
		v6 = compilePrefix(atts, opts, true)
	}

	for _, group := range groups {
		for _, rule := range group.Rules {
			d, version, ok := compileRule(rule)
			if !ok {
				continue
			}
			if version == 6 {
				if opts.UseIPv6 {
					v6 = append(v6, d)
				}
				continue
			}
			v4 = append(v4, d)
		}
	}

	fallbackJump := types.Directive{
		Action:       types.DirectiveJump,
		JumpTarget:   types.FallbackChain,
		SourcePort:   types.PortUnset,
		DestPortFrom: types.PortUnset,
		DestPortTo:   types.PortUnset,
		ICMPType:     types.PortUnset,
		ICMPCode:     types.PortUnset,
	}
	v4 = append(v4, fallbackJump)
	if opts.UseIPv6 {
		v6 = append(v6, fallbackJump)
	}

	klog.V(6).Infof("[Compile] Instance %s: %d v4 directives, %d v6 directives (%d groups).", inst.ID, len(v4), len(v6), len(groups))
	return v4, v6
}

/* compilePrefix builds the fixed directives that precede any group rule:
 * the stateful baseline and the per-network DHCP / router-advertisement /
 * project allowances.
 */
func compilePrefix(atts []types.NetworkAttachment, opts Options, ipv6 bool) []types.Directive {
	directives := []types.Directive{
		{
			Action:       types.DirectiveDrop,
			CtState:      types.CtStateInvalid,
			SourcePort:   types.PortUnset,
			DestPortFrom: types.PortUnset,
			DestPortTo:   types.PortUnset,
			ICMPType:     types.PortUnset,
			ICMPCode:     types.PortUnset,
		},
		{
			Action:       types.DirectiveAccept,
			CtState:      types.CtStateEstablished,
			SourcePort:   types.PortUnset,
			DestPortFrom: types.PortUnset,
			DestPortTo:   types.PortUnset,
			ICMPType:     types.PortUnset,
			ICMPCode:     types.PortUnset,
		},
	}

	for _, att := range atts {
		if ipv6 {
			/* Router advertisements from the network's v6 gateway. There is
			 * no v6 counterpart of the DHCP allowance.
			 */
			if att.Network.GatewayV6 != "" {
				directives = append(directives, types.Directive{
					Action:       types.DirectiveAccept,
					Protocol:     types.ProtoICMPv6,
					SourceCIDR:   att.Network.GatewayV6 + "/128",
					SourcePort:   types.PortUnset,
					DestPortFrom: types.PortUnset,
					DestPortTo:   types.PortUnset,
					ICMPType:     types.PortUnset,
					ICMPCode:     types.PortUnset,
				})
			}
			if opts.AllowProjectNetTraffic && att.Network.CIDRv6 != "" {
				directives = append(directives, types.Directive{
					Action:       types.DirectiveAccept,
					SourceCIDR:   att.Network.CIDRv6,
					SourcePort:   types.PortUnset,
					DestPortFrom: types.PortUnset,
					DestPortTo:   types.PortUnset,
					ICMPType:     types.PortUnset,
					ICMPCode:     types.PortUnset,
				})
			}
			continue
		}

		/* DHCP responses from the network's server address */
		if att.Network.Gateway != "" {
			directives = append(directives, types.Directive{
				Action:       types.DirectiveAccept,
				Protocol:     types.ProtoUDP,
				SourceCIDR:   att.Network.Gateway + "/32",
				SourcePort:   types.DHCPServerPort,
				DestPortFrom: types.DHCPClientPort,
				DestPortTo:   types.DHCPClientPort,
				ICMPType:     types.PortUnset,
				ICMPCode:     types.PortUnset,
			})
		}
		if opts.AllowProjectNetTraffic && att.Network.CIDR != "" {
			directives = append(directives, types.Directive{
				Action:       types.DirectiveAccept,
				SourceCIDR:   att.Network.CIDR,
				SourcePort:   types.PortUnset,
				DestPortFrom: types.PortUnset,
				DestPortTo:   types.PortUnset,
				ICMPType:     types.PortUnset,
				ICMPCode:     types.PortUnset,
			})
		}
	}

	return directives
}

/* compileRule maps one stored group rule to a directive. Returns ok=false
 * for rules that compile to nothing: a rule without a CIDR has no remote
 * source to admit, so it is skipped rather than guessed at.
 */
func compileRule(rule types.SecurityGroupRule) (types.Directive, int, bool) {
	if rule.CIDR == "" {
		klog.V(5).Infof("[compileRule] Rule %s has no CIDR, skipping.", rule.ID)
		return types.Directive{}, 0, false
	}

	version := 4
	if strings.Contains(rule.CIDR, ":") {
		version = 6
	}

	protocol := strings.ToLower(rule.Protocol)
	if version == 6 && protocol == types.ProtoICMP {
		protocol = types.ProtoICMPv6
	}

	d := types.Directive{
		Action:       types.DirectiveAccept,
		Protocol:     protocol,
		SourceCIDR:   rule.CIDR,
		SourcePort:   types.PortUnset,
		DestPortFrom: types.PortUnset,
		DestPortTo:   types.PortUnset,
		ICMPType:     types.PortUnset,
		ICMPCode:     types.PortUnset,
	}

	switch protocol {
	case types.ProtoTCP, types.ProtoUDP:
		if rule.FromPort != types.PortUnset {
			d.DestPortFrom = rule.FromPort
			d.DestPortTo = rule.ToPort
		}
	case types.ProtoICMP, types.ProtoICMPv6:
		/* For icmp rules the port columns carry type and code. -1 means
		 * "any type" / "no code qualifier" respectively.
		 */
		d.ICMPType = rule.FromPort
		d.ICMPCode = rule.ToPort
	case "":
		/* CIDR-only rule: admit any protocol from the source network. */
	default:
		/* Unknown protocols are carried through literally; the encoder
		 * will refuse them and the rule admits nothing.
		 */
		klog.V(4).Infof("[compileRule] Rule %s carries unrecognized protocol '%s'.", rule.ID, rule.Protocol)
	}

	return d, version, true
}
