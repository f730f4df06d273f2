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
	"encoding/xml"
	"fmt"

	"github.com/google/uuid"
)

/* filterUUIDNamespace seeds the name-derived filter UUIDs, so redefining a
 * filter keeps its identity stable across hosts and restarts.
 */
var filterUUIDNamespace = uuid.MustParse("0b8ca5e2-62a4-4ea8-9746-5f9e27245cdb")

/* Filter is one named filter object. Refs and Rules are both optional; a
 * pure container filter carries only Refs.
 */
type Filter struct {
	XMLName xml.Name    `xml:"filter"`
	Name    string      `xml:"name,attr"`
	Chain   string      `xml:"chain,attr,omitempty"`
	UUID    string      `xml:"uuid,omitempty"`
	Refs    []FilterRef `xml:"filterref"`
	Rules   []Rule      `xml:"rule"`
}

/* FilterRef is a reference edge to another filter object. */
type FilterRef struct {
	XMLName xml.Name `xml:"filterref"`
	Filter  string   `xml:"filter,attr"`
}

/* Rule is one match-action entry inside a filter. A rule with no protocol
 * match is valid and matches nothing; it is emitted for rule records that
 * compile to no source qualifier.
 */
type Rule struct {
	XMLName   xml.Name        `xml:"rule"`
	Action    string          `xml:"action,attr"`
	Direction string          `xml:"direction,attr"`
	Priority  int             `xml:"priority,attr"`
	Matches   []ProtocolMatch `xml:",omitempty"`
}

/* ProtocolMatch is the protocol condition of a rule. The element name is
 * the protocol itself (tcp, udp, icmp, tcp-ipv6, icmpv6, ...), so XMLName
 * carries the protocol. Pointer fields are omitted when nil, which is how
 * "no type qualifier" is expressed for icmp.
 */
type ProtocolMatch struct {
	XMLName      xml.Name
	SrcIPAddr    string `xml:"srcipaddr,attr,omitempty"`
	SrcIPMask    string `xml:"srcipmask,attr,omitempty"`
	DstIPAddr    string `xml:"dstipaddr,attr,omitempty"`
	SrcPortStart *int   `xml:"srcportstart,attr,omitempty"`
	DstPortStart *int   `xml:"dstportstart,attr,omitempty"`
	DstPortEnd   *int   `xml:"dstportend,attr,omitempty"`
	Type         *int   `xml:"type,attr,omitempty"`
	Code         *int   `xml:"code,attr,omitempty"`
}

/* NewProtocolMatch builds a match for the given protocol element name. */
func NewProtocolMatch(protocol string) ProtocolMatch {
	return ProtocolMatch{XMLName: xml.Name{Local: protocol}}
}

/* NewContainer builds a filter that only references other filters. */
func NewContainer(name string, children []string) *Filter {
	f := &Filter{
		Name:  name,
		Chain: "root",
		UUID:  DeterministicUUID(name),
	}
	for _, child := range children {
		f.Refs = append(f.Refs, FilterRef{Filter: child})
	}
	return f
}

/* DeterministicUUID derives a stable UUID from a filter name. */
func DeterministicUUID(name string) string {
	return uuid.NewSHA1(filterUUIDNamespace, []byte(name)).String()
}

/* Marshal serializes the filter to the document form submitted to the
 * hypervisor.
 */
func (f *Filter) Marshal() (string, error) {
	data, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling filter %s: %w", f.Name, err)
	}
	return string(data), nil
}

func intPtr(v int) *int {
	return &v
}
