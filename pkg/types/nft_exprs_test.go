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
	"reflect"
	"testing"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
)

func TestBuildExprCtState(t *testing.T) {
	/* Test case 1: invalid state bitmask */
	invalidExprs := buildExprCtState(CtStateInvalid)
	expectedInvalid := []expr.Any{
		&expr.Ct{Register: 1, SourceRegister: false, Key: expr.CtKeySTATE},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            Uint32Len,
			Mask:           binaryutil.NativeEndian.PutUint32(expr.CtStateBitINVALID),
			Xor:            binaryutil.NativeEndian.PutUint32(0),
		},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: []byte{0, 0, 0, 0}},
	}
	if !reflect.DeepEqual(invalidExprs, expectedInvalid) {
		t.Errorf("buildExprCtState(invalid) = %#v, want %#v", invalidExprs, expectedInvalid)
	}

	/* Test case 2: established|related bitmask */
	establishedExprs := buildExprCtState(CtStateEstablished)
	expectedEstablished := []expr.Any{
		&expr.Ct{Register: 1, SourceRegister: false, Key: expr.CtKeySTATE},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            Uint32Len,
			Mask:           binaryutil.NativeEndian.PutUint32(expr.CtStateBitESTABLISHED | expr.CtStateBitRELATED),
			Xor:            binaryutil.NativeEndian.PutUint32(0),
		},
		&expr.Cmp{Op: expr.CmpOpNeq, Register: 1, Data: []byte{0, 0, 0, 0}},
	}
	if !reflect.DeepEqual(establishedExprs, expectedEstablished) {
		t.Errorf("buildExprCtState(established) = %#v, want %#v", establishedExprs, expectedEstablished)
	}

	/* Test case 3: no state match */
	if exprs := buildExprCtState(CtStateNone); exprs != nil {
		t.Errorf("buildExprCtState(none) = %#v, want nil", exprs)
	}
}

func TestBuildExprSourceMask(t *testing.T) {
	tests := []struct {
		name     string
		cidr     string
		family   nftables.TableFamily
		expected []expr.Any
	}{
		{
			name:   "Valid IPv4 CIDR /24",
			cidr:   "192.168.1.0/24",
			family: nftables.TableFamilyIPv4,
			expected: []expr.Any{
				&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: SourceIPOffset, Len: IPLength},
				&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: IPLength, Mask: net.CIDRMask(24, 32), Xor: make([]byte, IPLength)},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: net.ParseIP("192.168.1.0").To4()},
			},
		},
		{
			name:   "Valid IPv4 /0 (any source)",
			cidr:   "0.0.0.0/0",
			family: nftables.TableFamilyIPv4,
			expected: []expr.Any{
				&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: SourceIPOffset, Len: IPLength},
				&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: IPLength, Mask: net.CIDRMask(0, 32), Xor: make([]byte, IPLength)},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: net.ParseIP("0.0.0.0").To4()},
			},
		},
		{
			name:   "Valid IPv6 CIDR /64",
			cidr:   "fd00::/64",
			family: nftables.TableFamilyIPv6,
			expected: []expr.Any{
				&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: SourceIPv6Offset, Len: IPv6Length},
				&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: IPv6Length, Mask: net.CIDRMask(64, 128), Xor: make([]byte, IPv6Length)},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: net.ParseIP("fd00::").To16()},
			},
		},
		{
			name:     "Invalid CIDR",
			cidr:     "not-a-cidr",
			family:   nftables.TableFamilyIPv4,
			expected: nil,
		},
		{
			name:     "IPv4 CIDR on IPv6 family",
			cidr:     "10.0.0.0/8",
			family:   nftables.TableFamilyIPv6,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := buildExprSourceMask(tt.cidr, tt.family)
			if !reflect.DeepEqual(actual, tt.expected) {
				t.Errorf("buildExprSourceMask(%s, %v) = %#v, want %#v", tt.cidr, tt.family, actual, tt.expected)
			}
		})
	}
}

func TestBuildExprDestinationAddress(t *testing.T) {
	/* Test case 1: IPv4 address */
	v4 := buildExprDestinationAddress("10.0.0.5", nftables.TableFamilyIPv4)
	expectedV4 := []expr.Any{
		&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: DestinationIPOffset, Len: IPLength},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: net.ParseIP("10.0.0.5").To4()},
	}
	if !reflect.DeepEqual(v4, expectedV4) {
		t.Errorf("buildExprDestinationAddress(v4) = %#v, want %#v", v4, expectedV4)
	}

	/* Test case 2: IPv6 address */
	v6 := buildExprDestinationAddress("fd00::5", nftables.TableFamilyIPv6)
	expectedV6 := []expr.Any{
		&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: DestinationIPv6Offset, Len: IPv6Length},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: net.ParseIP("fd00::5").To16()},
	}
	if !reflect.DeepEqual(v6, expectedV6) {
		t.Errorf("buildExprDestinationAddress(v6) = %#v, want %#v", v6, expectedV6)
	}

	/* Test case 3: garbage address */
	if exprs := buildExprDestinationAddress("nope", nftables.TableFamilyIPv4); exprs != nil {
		t.Errorf("buildExprDestinationAddress(garbage) = %#v, want nil", exprs)
	}

	/* Test case 4: family mismatch */
	if exprs := buildExprDestinationAddress("10.0.0.5", nftables.TableFamilyIPv6); exprs != nil {
		t.Errorf("buildExprDestinationAddress(v4 addr on v6 family) = %#v, want nil", exprs)
	}
}

func TestBuildExprDestinationPorts(t *testing.T) {
	/* Test case 1: single port yields one equality compare */
	single := buildExprDestinationPorts(22, 22)
	expectedSingle := []expr.Any{
		&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: DestinationPortOffset, Len: PortLength},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(22)},
	}
	if !reflect.DeepEqual(single, expectedSingle) {
		t.Errorf("buildExprDestinationPorts(22, 22) = %#v, want %#v", single, expectedSingle)
	}

	/* Test case 2: a range yields gte/lte compares */
	ranged := buildExprDestinationPorts(5000, 5100)
	expectedRanged := []expr.Any{
		&expr.Payload{OperationType: expr.PayloadLoad, DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: DestinationPortOffset, Len: PortLength},
		&expr.Cmp{Op: expr.CmpOpGte, Register: 1, Data: binaryutil.BigEndian.PutUint16(5000)},
		&expr.Cmp{Op: expr.CmpOpLte, Register: 1, Data: binaryutil.BigEndian.PutUint16(5100)},
	}
	if !reflect.DeepEqual(ranged, expectedRanged) {
		t.Errorf("buildExprDestinationPorts(5000, 5100) = %#v, want %#v", ranged, expectedRanged)
	}
}

/* countCmpOps returns the number of Cmp expressions with the given op. */
func countCmpOps(exprs []expr.Any, op expr.CmpOp) int {
	count := 0
	for _, e := range exprs {
		if c, ok := e.(*expr.Cmp); ok && c.Op == op {
			count++
		}
	}
	return count
}

func TestEncodeDirectiveSinglePortNeverRanged(t *testing.T) {
	d := Directive{
		Action:       DirectiveAccept,
		Protocol:     ProtoTCP,
		SourceCIDR:   "0.0.0.0/0",
		SourcePort:   PortUnset,
		DestPortFrom: 22,
		DestPortTo:   22,
		ICMPType:     PortUnset,
		ICMPCode:     PortUnset,
	}
	exprs := EncodeDirective(d, nftables.TableFamilyIPv4)
	if exprs == nil {
		t.Fatal("EncodeDirective returned nil for a valid directive")
	}
	if got := countCmpOps(exprs, expr.CmpOpGte); got != 0 {
		t.Errorf("single-port directive encoded %d gte compares, want 0", got)
	}
	if got := countCmpOps(exprs, expr.CmpOpLte); got != 0 {
		t.Errorf("single-port directive encoded %d lte compares, want 0", got)
	}
}

func TestEncodeDirectiveICMPOmissions(t *testing.T) {
	/* Test case 1: type -1 means no type and no code qualifier */
	anyType := Directive{
		Action:       DirectiveAccept,
		Protocol:     ProtoICMP,
		SourceCIDR:   "0.0.0.0/0",
		SourcePort:   PortUnset,
		DestPortFrom: PortUnset,
		DestPortTo:   PortUnset,
		ICMPType:     PortUnset,
		ICMPCode:     PortUnset,
	}
	exprs := EncodeDirective(anyType, nftables.TableFamilyIPv4)
	for _, e := range exprs {
		if p, ok := e.(*expr.Payload); ok && p.Base == expr.PayloadBaseTransportHeader {
			t.Errorf("icmp any-type directive encoded a transport payload match: %#v", p)
		}
	}

	/* Test case 2: type 8, code -1 encodes type only */
	typeOnly := anyType
	typeOnly.ICMPType = 8
	exprs = EncodeDirective(typeOnly, nftables.TableFamilyIPv4)
	transportMatches := 0
	for _, e := range exprs {
		if p, ok := e.(*expr.Payload); ok && p.Base == expr.PayloadBaseTransportHeader {
			transportMatches++
			if p.Offset != ICMPTypeOffset {
				t.Errorf("unexpected transport offset %d, want %d (type)", p.Offset, ICMPTypeOffset)
			}
		}
	}
	if transportMatches != 1 {
		t.Errorf("icmp type-only directive encoded %d transport matches, want 1", transportMatches)
	}

	/* Test case 3: type 8, code 0 encodes both */
	typeAndCode := typeOnly
	typeAndCode.ICMPCode = 0
	exprs = EncodeDirective(typeAndCode, nftables.TableFamilyIPv4)
	transportMatches = 0
	for _, e := range exprs {
		if p, ok := e.(*expr.Payload); ok && p.Base == expr.PayloadBaseTransportHeader {
			transportMatches++
		}
	}
	if transportMatches != 2 {
		t.Errorf("icmp type+code directive encoded %d transport matches, want 2", transportMatches)
	}
}

func TestEncodeDirectiveRefusals(t *testing.T) {
	base := Directive{
		Action:       DirectiveAccept,
		SourcePort:   PortUnset,
		DestPortFrom: PortUnset,
		DestPortTo:   PortUnset,
		ICMPType:     PortUnset,
		ICMPCode:     PortUnset,
	}

	/* Test case 1: unknown protocol refuses the whole rule */
	unknown := base
	unknown.Protocol = "sctp"
	unknown.SourceCIDR = "0.0.0.0/0"
	if exprs := EncodeDirective(unknown, nftables.TableFamilyIPv4); exprs != nil {
		t.Errorf("EncodeDirective(unknown protocol) = %#v, want nil", exprs)
	}

	/* Test case 2: unparseable CIDR refuses the whole rule */
	badCidr := base
	badCidr.Protocol = ProtoTCP
	badCidr.SourceCIDR = "garbage"
	if exprs := EncodeDirective(badCidr, nftables.TableFamilyIPv4); exprs != nil {
		t.Errorf("EncodeDirective(bad cidr) = %#v, want nil", exprs)
	}

	/* Test case 3: a v4 CIDR cannot be expressed in the v6 tree */
	wrongFamily := base
	wrongFamily.Protocol = ProtoTCP
	wrongFamily.SourceCIDR = "10.0.0.0/8"
	if exprs := EncodeDirective(wrongFamily, nftables.TableFamilyIPv6); exprs != nil {
		t.Errorf("EncodeDirective(v4 cidr, v6 family) = %#v, want nil", exprs)
	}
}

func TestEncodeDirectiveVerdictLast(t *testing.T) {
	tests := []struct {
		name     string
		d        Directive
		expected expr.Any
	}{
		{
			name: "Jump to fallback",
			d: Directive{
				Action: DirectiveJump, JumpTarget: FallbackChain,
				SourcePort: PortUnset, DestPortFrom: PortUnset, DestPortTo: PortUnset,
				ICMPType: PortUnset, ICMPCode: PortUnset,
			},
			expected: &expr.Verdict{Kind: expr.VerdictJump, Chain: FallbackChain},
		},
		{
			name: "Drop invalid",
			d: Directive{
				Action: DirectiveDrop, CtState: CtStateInvalid,
				SourcePort: PortUnset, DestPortFrom: PortUnset, DestPortTo: PortUnset,
				ICMPType: PortUnset, ICMPCode: PortUnset,
			},
			expected: &expr.Verdict{Kind: expr.VerdictDrop},
		},
		{
			name: "Accept established",
			d: Directive{
				Action: DirectiveAccept, CtState: CtStateEstablished,
				SourcePort: PortUnset, DestPortFrom: PortUnset, DestPortTo: PortUnset,
				ICMPType: PortUnset, ICMPCode: PortUnset,
			},
			expected: &expr.Verdict{Kind: expr.VerdictAccept},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exprs := EncodeDirective(tt.d, nftables.TableFamilyIPv4)
			if len(exprs) == 0 {
				t.Fatal("EncodeDirective returned no expressions")
			}
			if !reflect.DeepEqual(exprs[len(exprs)-1], tt.expected) {
				t.Errorf("last expression = %#v, want %#v", exprs[len(exprs)-1], tt.expected)
			}
		})
	}
}
