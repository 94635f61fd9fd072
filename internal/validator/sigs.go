package validator

import (
	"time"

	"github.com/miekg/dns"
)

// extractRRSet mirrors teacher's dnssec.go extractRRSet: pull every record
// of rrtype (and, if name != "", owner name) from a section.
func extractRRSet(section []dns.RR, name string, rrtype uint16) []dns.RR {
	var out []dns.RR
	for _, rr := range section {
		if rr.Header().Rrtype != rrtype {
			continue
		}
		if name != "" && dns.CanonicalName(rr.Header().Name) != dns.CanonicalName(name) {
			continue
		}
		out = append(out, rr)
	}
	return out
}

func keyMapByTag(keys []dns.RR) map[uint16]*dns.DNSKEY {
	m := make(map[uint16]*dns.DNSKEY, len(keys))
	for _, rr := range keys {
		if k, ok := rr.(*dns.DNSKEY); ok && (k.Flags == 256 || k.Flags == 257) {
			m[k.KeyTag()] = k
		}
	}
	return m
}

// checkDS verifies that one of keyMap's KSKs matches a DS record from the
// parent zone, grounded directly on dnssec.go's checkDS.
func checkDS(keyMap map[uint16]*dns.DNSKEY, parentDSSet []dns.RR) error {
	for _, r := range parentDSSet {
		parentDS, ok := r.(*dns.DS)
		if !ok {
			continue
		}
		ksk, present := keyMap[parentDS.KeyTag]
		if !present {
			continue
		}
		ds := ksk.ToDS(parentDS.DigestType)
		if ds == nil {
			return ErrFailedToConvertKSK
		}
		if ds.Digest != parentDS.Digest {
			return ErrMismatchingDS
		}
		return nil
	}
	return ErrMissingKSK
}

// skewClock lets tests pin "now" (spec.md §4.3 "configurable fixed-date
// override for testing").
type skewClock func() time.Time

// verifyRRSIGsForSection verifies every RRSIG covering section against
// keyMap, honouring the sig-skew window around now, grounded on
// dnssec.go's verifyRRSIG.
func verifyRRSIGsForSection(section []dns.RR, keyMap map[uint16]*dns.DNSKEY, now skewClock, skewMin, skewMax time.Duration) error {
	sigs := extractRRSet(section, "", dns.TypeRRSIG)
	if len(sigs) == 0 {
		if len(section) == 0 {
			return nil
		}
		return ErrNoSignatures
	}
	for _, sigRR := range sigs {
		sig := sigRR.(*dns.RRSIG)
		rest := extractRRSet(section, sig.Header().Name, sig.TypeCovered)
		if len(rest) == 0 {
			continue
		}
		k, present := keyMap[sig.KeyTag]
		if !present {
			return ErrMissingDNSKEY
		}
		if err := sig.Verify(k, rest); err != nil {
			return err
		}
		if !withinSkew(sig, now(), skewMin, skewMax) {
			return ErrInvalidSignaturePeriod
		}
	}
	return nil
}

func withinSkew(sig *dns.RRSIG, now time.Time, skewMin, skewMax time.Duration) bool {
	start := time.Unix(int64(sig.Inception), 0).Add(-skewMin)
	end := time.Unix(int64(sig.Expiration), 0).Add(skewMax)
	return !now.Before(start) && !now.After(end)
}
