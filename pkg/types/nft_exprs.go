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
	"net"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

func buildExprCtState(state CtStateMatch) []expr.Any {
	var stateBits uint32
	var cmpOp expr.CmpOp

	switch state {
	case CtStateInvalid:
		stateBits = expr.CtStateBitINVALID
		cmpOp = expr.CmpOpNeq
	case CtStateEstablished:
		stateBits = expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED
		cmpOp = expr.CmpOpNeq
	default:
		return nil
	}

	thisExpr := []expr.Any{
		&expr.Ct{
			Register:       1,
			SourceRegister: false,
			Key:            expr.CtKeySTATE,
		},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            Uint32Len,
			Mask:           binaryutil.NativeEndian.PutUint32(stateBits),
			Xor:            binaryutil.NativeEndian.PutUint32(0),
		},
		&expr.Cmp{
			Op:       cmpOp,
			Register: 1,
			Data:     []byte{0, 0, 0, 0},
		},
	}
	return thisExpr
}

func buildExprSourceMask(thisCidr string, family nftables.TableFamily) []expr.Any {
	srcIP, srcNet, err := net.ParseCIDR(thisCidr)
	if err != nil {
		klog.Warningf("Error parsing CIDR '%s' for source mask rule: %v. Skipping this mask rule.", thisCidr, err)
		return nil
	}

	var offset, length uint32
	var addrBytes []byte
	if family == nftables.TableFamilyIPv6 {
		if srcIP.To4() != nil {
			klog.Warningf("Source IP from CIDR '%s' is not an IPv6 address for mask rule. Skipping this mask rule.", thisCidr)
			return nil
		}
		offset = SourceIPv6Offset
		length = IPv6Length
		addrBytes = srcIP.To16()
	} else {
		ipv4 := srcIP.To4()
		if ipv4 == nil {
			klog.Warningf("Source IP from CIDR '%s' is not an IPv4 address for mask rule. Skipping this mask rule.", thisCidr)
			return nil
		}
		offset = SourceIPOffset
		length = IPLength
		addrBytes = ipv4
	}

	thisExpr := []expr.Any{
		&expr.Payload{
			OperationType:  expr.PayloadLoad,
			DestRegister:   1,
			SourceRegister: 0,
			Base:           expr.PayloadBaseNetworkHeader,
			Offset:         offset,
			Len:            length,
		},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            length,
			Mask:           srcNet.Mask,
			Xor:            make([]byte, length),
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     addrBytes,
		},
	}
	return thisExpr
}

/* buildExprDestinationAddress matches an exact destination address. Used by
 * the per-address jump rules in SG_LOCAL.
 */
func buildExprDestinationAddress(address string, family nftables.TableFamily) []expr.Any {
	dstIP := net.ParseIP(address)
	if dstIP == nil {
		klog.Warningf("Error parsing address '%s' for destination match. Skipping.", address)
		return nil
	}

	var offset, length uint32
	var addrBytes []byte
	if family == nftables.TableFamilyIPv6 {
		if dstIP.To4() != nil {
			klog.Warningf("Destination address '%s' is not an IPv6 address. Skipping.", address)
			return nil
		}
		offset = DestinationIPv6Offset
		length = IPv6Length
		addrBytes = dstIP.To16()
	} else {
		ipv4 := dstIP.To4()
		if ipv4 == nil {
			klog.Warningf("Destination address '%s' is not an IPv4 address. Skipping.", address)
			return nil
		}
		offset = DestinationIPOffset
		length = IPLength
		addrBytes = ipv4
	}

	thisExpr := []expr.Any{
		&expr.Payload{
			OperationType:  expr.PayloadLoad,
			DestRegister:   1,
			SourceRegister: 0,
			Base:           expr.PayloadBaseNetworkHeader,
			Offset:         offset,
			Len:            length,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     addrBytes,
		},
	}
	return thisExpr
}

func buildExprL4Proto(protocol string) []expr.Any {
	var protoNum byte
	switch protocol {
	case ProtoTCP:
		protoNum = unix.IPPROTO_TCP
	case ProtoUDP:
		protoNum = unix.IPPROTO_UDP
	case ProtoICMP:
		protoNum = unix.IPPROTO_ICMP
	case ProtoICMPv6:
		protoNum = unix.IPPROTO_ICMPV6
	default:
		klog.Warningf("buildExprL4Proto: unknown protocol '%s'. Skipping protocol match.", protocol)
		return nil
	}

	thisExpr := []expr.Any{
		&expr.Meta{
			Key:            expr.MetaKeyL4PROTO, /* L4 PROTOCOL */
			SourceRegister: false,
			Register:       1,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{protoNum},
		},
	}
	return thisExpr
}

func buildExprSourcePort(port int) []expr.Any {
	thisExpr := []expr.Any{
		&expr.Payload{
			OperationType:  expr.PayloadLoad,
			DestRegister:   1,
			SourceRegister: 0,
			Base:           expr.PayloadBaseTransportHeader,
			Offset:         SourcePortOffset, /* SOURCE PORT */
			Len:            PortLength,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     binaryutil.BigEndian.PutUint16(uint16(port)),
		},
	}
	return thisExpr
}

func buildExprDestinationPorts(from, to int) []expr.Any {
	payloadExpr := &expr.Payload{
		OperationType:  expr.PayloadLoad,
		DestRegister:   1,
		SourceRegister: 0,
		Base:           expr.PayloadBaseTransportHeader,
		Offset:         DestinationPortOffset, /* DESTINATION PORT */
		Len:            PortLength,
	}

	if from == to {
		return []expr.Any{
			payloadExpr,
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     binaryutil.BigEndian.PutUint16(uint16(from)),
			},
		}
	}

	return []expr.Any{
		payloadExpr,
		&expr.Cmp{
			Op:       expr.CmpOpGte,
			Register: 1,
			Data:     binaryutil.BigEndian.PutUint16(uint16(from)),
		},
		&expr.Cmp{
			Op:       expr.CmpOpLte,
			Register: 1,
			Data:     binaryutil.BigEndian.PutUint16(uint16(to)),
		},
	}
}

func buildExprICMPType(icmpType int) []expr.Any {
	thisExpr := []expr.Any{
		&expr.Payload{
			OperationType:  expr.PayloadLoad,
			DestRegister:   1,
			SourceRegister: 0,
			Base:           expr.PayloadBaseTransportHeader,
			Offset:         ICMPTypeOffset,
			Len:            ICMPFieldLength,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{byte(icmpType)},
		},
	}
	return thisExpr
}

func buildExprICMPCode(icmpCode int) []expr.Any {
	thisExpr := []expr.Any{
		&expr.Payload{
			OperationType:  expr.PayloadLoad,
			DestRegister:   1,
			SourceRegister: 0,
			Base:           expr.PayloadBaseTransportHeader,
			Offset:         ICMPCodeOffset,
			Len:            ICMPFieldLength,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{byte(icmpCode)},
		},
	}
	return thisExpr
}

func buildExprVerdict(d Directive) expr.Any {
	switch d.Action {
	case DirectiveAccept:
		return &expr.Verdict{Kind: expr.VerdictAccept}
	case DirectiveDrop:
		return &expr.Verdict{Kind: expr.VerdictDrop}
	case DirectiveJump:
		return &expr.Verdict{Kind: expr.VerdictJump, Chain: d.JumpTarget}
	}
	klog.Warningf("buildExprVerdict: unknown action '%s', defaulting to drop.", d.Action)
	return &expr.Verdict{Kind: expr.VerdictDrop}
}

/* EncodeDirective translates one compiled directive into the nftables
 * expression sequence for the given family. Match order follows the
 * directive fields: conntrack state, L4 protocol, source network, ports,
 * icmp type/code, then the verdict.
 */
func EncodeDirective(d Directive, family nftables.TableFamily) []expr.Any {
	var exprs []expr.Any

	if ctExprs := buildExprCtState(d.CtState); ctExprs != nil {
		exprs = append(exprs, ctExprs...)
	}

	if d.Protocol != "" {
		protoExprs := buildExprL4Proto(d.Protocol)
		if protoExprs == nil {
			/* An unencodable protocol must not degrade into an any-proto
			 * accept. Refuse the whole rule instead.
			 */
			return nil
		}
		exprs = append(exprs, protoExprs...)
	}

	if d.SourceCIDR != "" {
		maskExprs := buildExprSourceMask(d.SourceCIDR, family)
		if maskExprs == nil {
			/* The source qualifier could not be expressed for this family.
			 * Dropping the match would widen the rule, so drop the rule.
			 */
			return nil
		}
		exprs = append(exprs, maskExprs...)
	}

	switch d.Protocol {
	case ProtoTCP, ProtoUDP:
		if d.SourcePort != PortUnset {
			exprs = append(exprs, buildExprSourcePort(d.SourcePort)...)
		}
		if d.DestPortFrom != PortUnset {
			exprs = append(exprs, buildExprDestinationPorts(d.DestPortFrom, d.DestPortTo)...)
		}
	case ProtoICMP, ProtoICMPv6:
		if d.ICMPType != PortUnset {
			exprs = append(exprs, buildExprICMPType(d.ICMPType)...)
			if d.ICMPCode != PortUnset {
				exprs = append(exprs, buildExprICMPCode(d.ICMPCode)...)
			}
		}
	}

	exprs = append(exprs, buildExprVerdict(d))
	return exprs
}
