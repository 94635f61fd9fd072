package validator

import (
	"strings"
	"time"

	"github.com/miekg/dns"
)

// TrustAnchor is one configured root of trust (spec.md §6). AddHolddown,
// DelHolddown and KeepMissing persist the RFC 5011 holddown state a
// trust-anchor file records; the rollover state machine that would act on
// them is not implemented, only the data it would read and write.
type TrustAnchor struct {
	Zone string
	DS   []dns.RR

	AddHolddown time.Time
	DelHolddown time.Time
	KeepMissing bool
}

// closestAnchor returns the configured trust anchor that most closely
// encloses signer, or ok=false if none does (spec.md §4.3 "Init": "If no
// signer and no local trust anchor covers the QNAME, emit indeterminate").
func closestAnchor(anchors map[string]TrustAnchor, signer string) (TrustAnchor, bool) {
	signer = dns.CanonicalName(signer)
	var best TrustAnchor
	found := false
	for zone, a := range anchors {
		zone = dns.CanonicalName(zone)
		if zone != "." && !strings.HasSuffix(signer, "."+zone) && signer != zone {
			continue
		}
		if !found || len(zone) > len(best.Zone) {
			best, found = a, true
		}
	}
	return best, found
}

// zonesBetween lists the zone cuts strictly below anchor down to and
// including signer, narrowest-last, walking one label at a time (spec.md
// §4.3 "Walk from the closest configured trust anchor down toward the
// signer name").
func zonesBetween(anchor, signer string) []string {
	anchor = dns.CanonicalName(anchor)
	signer = dns.CanonicalName(signer)
	if signer == anchor {
		return nil
	}
	labels := dns.SplitDomainName(strings.TrimSuffix(signer, "."))
	var zones []string
	for i := len(labels) - 1; i >= 0; i-- {
		zone := dns.Fqdn(strings.Join(labels[i:], "."))
		if zone == anchor || !dns.IsSubDomain(anchor, zone) {
			continue
		}
		zones = append(zones, zone)
	}
	return zones
}
