package iterator

import (
	"time"

	"github.com/miekg/dns"
)

// ScrubConfig bounds TTL rewriting (spec.md §4.2 "Scrubbing", §6
// cache-max-ttl/cache-min-ttl).
type ScrubConfig struct {
	MaxTTL time.Duration
	MinTTL time.Duration
}

// CapTTL clamps ttl into [MinTTL, MaxTTL] per spec.md §4.2's "cap TTLs at
// cache-max-ttl; floor at cache-min-ttl".
func (c ScrubConfig) CapTTL(ttl time.Duration) time.Duration {
	if ttl > c.MaxTTL {
		return c.MaxTTL
	}
	if ttl < c.MinTTL {
		return c.MinTTL
	}
	return ttl
}

// Scrub filters a referral's sections before caching: records whose name
// is out of zone's bailiwick are dropped outright (spec.md §4.2
// "Bailiwick"); when bogusGlue is true (the referral itself failed
// DNSSEC), unsigned glue address records in additional are dropped too
// (spec.md §4.2 "Scrubbing" — "strip unsigned glue ... when the referral
// itself is bogus").
func Scrub(zone string, answer, authority, additional []dns.RR, bogusGlue bool) (a, ns, extra []dns.RR) {
	for _, rr := range answer {
		if InBailiwick(zone, rr.Header().Name) {
			a = append(a, rr)
		}
	}
	for _, rr := range authority {
		if InBailiwick(zone, rr.Header().Name) {
			ns = append(ns, rr)
		}
	}
	for _, rr := range additional {
		if !InBailiwick(zone, rr.Header().Name) {
			continue
		}
		if bogusGlue && isAddressRecord(rr) {
			continue
		}
		extra = append(extra, rr)
	}
	return a, ns, extra
}

func isAddressRecord(rr dns.RR) bool {
	switch rr.(type) {
	case *dns.A, *dns.AAAA:
		return true
	default:
		return false
	}
}
