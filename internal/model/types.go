// Package model holds the data types shared across the resolver engine's
// modules (qstate, iterator, validator, cache, infra, outbound) so that none
// of those packages needs to import the public root package, which would
// create an import cycle (the root package wires all of them together).
//
// These mirror spec.md §3's data model: Question is the query key, RRSet and
// MessageReply are cache payloads, SecurityStatus is the DNSSEC verdict.
package model

import (
	"net"
	"strings"

	"github.com/miekg/dns"
)

// ClientSubnet is the EDNS Client Subnet option (RFC 7871) attached to an
// inbound query, used to key the radix-tree client-subnet cache
// (spec.md §4.7) instead of the plain message cache.
type ClientSubnet struct {
	Addr       net.IP
	SourceMask int
	Family     uint16
}

// Question is the (name, type, class) query key. Names compare
// case-insensitively but the original casing is retained for display and for
// 0x20 case-randomization echo checks.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Key returns a case-folded string usable as a map/hash key. Two Questions
// that differ only in name case produce the same Key.
func (q Question) Key() string {
	var b strings.Builder
	b.Grow(len(q.Name) + 8)
	b.WriteString(strings.ToLower(q.Name))
	b.WriteByte(0)
	writeUint16(&b, q.Type)
	b.WriteByte(0)
	writeUint16(&b, q.Class)
	return b.String()
}

func writeUint16(b *strings.Builder, v uint16) {
	b.WriteByte(byte(v >> 8))
	b.WriteByte(byte(v))
}

// SecurityStatus is the DNSSEC verdict attached to a MessageReply or RRSet.
// Transitions only in the safe direction: Unchecked -> {Indeterminate,
// Insecure, Secure, Bogus}; once Secure or Bogus it sticks (spec.md §3).
type SecurityStatus int

const (
	StatusUnchecked SecurityStatus = iota
	StatusIndeterminate
	StatusInsecure
	StatusBogus
	StatusSecure
)

func (s SecurityStatus) String() string {
	switch s {
	case StatusUnchecked:
		return "unchecked"
	case StatusIndeterminate:
		return "indeterminate"
	case StatusInsecure:
		return "insecure"
	case StatusBogus:
		return "bogus"
	case StatusSecure:
		return "secure"
	default:
		return "invalid"
	}
}

// Advance applies a safe SecurityStatus transition: once Secure or Bogus,
// the status is final and further calls are no-ops.
func (s SecurityStatus) Advance(next SecurityStatus) SecurityStatus {
	if s == StatusSecure || s == StatusBogus {
		return s
	}
	return next
}

// RRSet is a content-addressed (owner, type, class, TTL, rdata, RRSIGs,
// security status) tuple. Equal rdata sets under the same name/type/class
// collapse to one cache entry shared by all messages that reference it
// (spec.md §3).
type RRSet struct {
	Name     string
	Type     uint16
	Class    uint16
	TTL      uint32 // original TTL as seen on the wire, for display purposes
	Rdata    []dns.RR
	Sigs     []dns.RR // RRSIG records covering this set, if any
	Security SecurityStatus
}

// Answer is the TTL-bearing, rewritable-to-relative projection of a
// MessageReply handed back across the engine boundary.
type Answer struct {
	Answer        []dns.RR
	Authority     []dns.RR
	Additional    []dns.RR
	Rcode         int
	Authenticated bool
}

// MessageReply is a structured DNS answer as stored in the message cache:
// qkey, rcode, flags, and three ordered sections, each a list of RRset
// references, plus the message's own absolute expiry (the minimum of its
// RRsets' TTLs, per spec.md §3).
type MessageReply struct {
	Key        Question
	Rcode      int
	Answer     []RRSet
	Authority  []RRSet
	Additional []RRSet
	Security   SecurityStatus
	Expiry     int64 // unix seconds, absolute
}

// QueryLog describes one outbound query to an upstream nameserver, mirroring
// the teacher's QueryLog but generalized to the module chain: Composites
// holds the logs of any sub-queries spawned while answering this one.
type QueryLog struct {
	Query       Question
	Server      string
	Rcode       int
	CacheHit    bool
	DNSSECValid bool
	Referral    bool
	Truncated   bool
	Error       string
	Composites  []*QueryLog
}

// LookupLog describes one top-level iterative resolution.
type LookupLog struct {
	Query       Question
	DNSSECValid bool
	Rcode       int
	Composites  []*QueryLog
}
