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

const (
	/* Protocols (as stored in security group rule records) */
	ProtoTCP    = "tcp"
	ProtoUDP    = "udp"
	ProtoICMP   = "icmp"
	ProtoICMPv6 = "icmpv6"

	/* Chains */
	InputChain    = "SG_INPUT"    /* Base hook chain on the input path, jumps into SG_LOCAL */
	LocalChain    = "SG_LOCAL"    /* Holds one address-scoped jump per instance address     */
	FallbackChain = "SG_FALLBACK" /* Shared default-deny backstop, single DROP rule         */

	/* Tables */
	TableFilter = "filter"

	/* Offsets and Sizes - IPv4 header */
	SourceIPOffset      = 12
	DestinationIPOffset = 16
	IPLength            = 4

	/* Offsets and Sizes - IPv6 header */
	SourceIPv6Offset      = 8
	DestinationIPv6Offset = 24
	IPv6Length            = 16

	/* Offsets and Sizes - transport header */
	SourcePortOffset      = 0
	DestinationPortOffset = 2
	PortLength            = 2
	ICMPTypeOffset        = 0
	ICMPCodeOffset        = 1
	ICMPFieldLength       = 1

	/* Register width of the conntrack state bitmask */
	Uint32Len = 4

	/* Rule record conventions */
	PortUnset = -1 /* from_port/to_port value meaning "unspecified/any" */

	/* DHCP ports for the fixed server-address allowance */
	DHCPServerPort = 67
	DHCPClientPort = 68
)
