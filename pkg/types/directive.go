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
	"strings"
)

/* DirectiveAction is the action half of a compiled match-action pair. */
type DirectiveAction string

const (
	DirectiveAccept DirectiveAction = "accept"
	DirectiveDrop   DirectiveAction = "drop"
	DirectiveJump   DirectiveAction = "jump"
)

/* CtStateMatch selects a conntrack state predicate for a directive. */
type CtStateMatch string

const (
	CtStateNone        CtStateMatch = ""
	CtStateInvalid     CtStateMatch = "invalid"
	CtStateEstablished CtStateMatch = "established,related"
)

/* Directive is one backend-agnostic packet-match-and-action pair produced
 * by the rule compiler. Zero-valued port/icmp fields are meaningless; the
 * compiler always fills them, using PortUnset for "not present".
 *
 * Only the fields relevant to Protocol are consulted by the encoders:
 * DestPortFrom/DestPortTo and SourcePort for tcp/udp, ICMPType/ICMPCode
 * for icmp/icmpv6.
 */
type Directive struct {
	Action     DirectiveAction
	JumpTarget string /* Target chain when Action == DirectiveJump */

	CtState      CtStateMatch
	Protocol     string /* "", tcp, udp, icmp, icmpv6 */
	SourceCIDR   string /* Optional source network, "a.b.c.d/len" or v6 */
	SourcePort   int    /* Single source port, PortUnset when absent   */
	DestPortFrom int    /* Destination port range start, PortUnset when absent */
	DestPortTo   int    /* Destination port range end                  */
	ICMPType     int    /* PortUnset means "match any type"            */
	ICMPCode     int    /* PortUnset means "no code qualifier"         */
}

/* String renders a compact human-readable form for queue descriptions. */
func (d Directive) String() string {
	var sb strings.Builder
	sb.WriteString(string(d.Action))
	if d.Action == DirectiveJump {
		fmt.Fprintf(&sb, " -> %s", d.JumpTarget)
	}
	if d.CtState != CtStateNone {
		fmt.Fprintf(&sb, " ct=%s", d.CtState)
	}
	if d.Protocol != "" {
		fmt.Fprintf(&sb, " proto=%s", d.Protocol)
	}
	if d.SourceCIDR != "" {
		fmt.Fprintf(&sb, " src=%s", d.SourceCIDR)
	}
	if d.SourcePort != PortUnset && (d.Protocol == ProtoTCP || d.Protocol == ProtoUDP) {
		fmt.Fprintf(&sb, " sport=%d", d.SourcePort)
	}
	if d.DestPortFrom != PortUnset && (d.Protocol == ProtoTCP || d.Protocol == ProtoUDP) {
		if d.DestPortFrom == d.DestPortTo {
			fmt.Fprintf(&sb, " dport=%d", d.DestPortFrom)
		} else {
			fmt.Fprintf(&sb, " dport=%d:%d", d.DestPortFrom, d.DestPortTo)
		}
	}
	if (d.Protocol == ProtoICMP || d.Protocol == ProtoICMPv6) && d.ICMPType != PortUnset {
		fmt.Fprintf(&sb, " type=%d", d.ICMPType)
		if d.ICMPCode != PortUnset {
			fmt.Fprintf(&sb, " code=%d", d.ICMPCode)
		}
	}
	return sb.String()
}
