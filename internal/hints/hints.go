// Package hints loads the resolver's persisted bootstrap state: root
// nameserver hints and trust anchors, both in standard DNS presentation
// format (spec.md §6 "Persisted state"). Parsing itself is handed to
// dns.ZoneParser rather than reimplemented.
package hints

import (
	"io"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/cache"
	"github.com/brevity-dns/resolvd/internal/iterator"
	"github.com/brevity-dns/resolvd/internal/validator"
)

// Load parses a zone-file-format reader (root hints, trust-anchor, or
// trusted-keys file) into the raw RRs it contains.
func Load(r io.Reader, origin string) ([]dns.RR, error) {
	zp := dns.NewZoneParser(r, origin, "")
	var out []dns.RR
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		out = append(out, rr)
	}
	if err := zp.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildRootHints groups root-hint NS and glue A/AAAA records into a
// DelegationPoint for ".", the same grouping the iterator performs for an
// ordinary referral (iterator.installDelegation), so priming the root
// looks to the rest of the resolver like following any other referral.
func BuildRootHints(rrs []dns.RR) *iterator.DelegationPoint {
	byName := map[string]*iterator.NSTarget{}
	var order []string
	for _, rr := range rrs {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		name := strings.ToLower(ns.Ns)
		if _, exists := byName[name]; !exists {
			byName[name] = &iterator.NSTarget{Name: ns.Ns}
			order = append(order, name)
		}
	}
	for _, rr := range rrs {
		name := strings.ToLower(rr.Header().Name)
		t, exists := byName[name]
		if !exists {
			continue
		}
		switch a := rr.(type) {
		case *dns.A:
			t.Addrs = append(t.Addrs, a.A.String())
		case *dns.AAAA:
			t.Addrs = append(t.Addrs, a.AAAA.String())
		}
	}
	dp := &iterator.DelegationPoint{Zone: "."}
	for _, name := range order {
		dp.NameServers = append(dp.NameServers, *byName[name])
	}
	return dp
}

// BuildTrustAnchor turns a zone's trust-anchor records into a
// validator.TrustAnchor. DS records are kept as-is for the find-key
// walk's checkDS step; a DNSKEY record is converted to its own DS digest,
// since unbound's trust-anchor-file and trusted-keys-file both accept
// either presentation format for the same anchor.
func BuildTrustAnchor(zone string, rrs []dns.RR) validator.TrustAnchor {
	anchor := validator.TrustAnchor{Zone: dns.Fqdn(zone)}
	for _, rr := range rrs {
		switch k := rr.(type) {
		case *dns.DS:
			anchor.DS = append(anchor.DS, k)
		case *dns.DNSKEY:
			if ds := k.ToDS(dns.SHA256); ds != nil {
				anchor.DS = append(anchor.DS, ds)
			}
		}
	}
	return anchor
}

// SeedTrustedKeys installs a zone's own DNSKEY records directly into the
// key cache, bypassing a live priming query. This is grounded on the
// teacher's NewRecursiveResolver, which adds its root keys to the answer
// cache "indefinitely" at startup rather than querying for them; ttl
// should be long for a manually-configured root anchor.
func SeedTrustedKeys(kc *cache.KeyCache, zone string, dnskeys []dns.RR, ttl time.Duration) {
	var keys []dns.RR
	for _, rr := range dnskeys {
		if _, ok := rr.(*dns.DNSKEY); ok {
			keys = append(keys, rr)
		}
	}
	if len(keys) == 0 {
		return
	}
	kc.AddGood(zone, keys, ttl)
}
