package validator

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// typesSet, findClosestEncloser, findMatching, findCoverer, and the
// verify* proof functions below are adapted directly from the teacher's
// nsec.go (same algorithm, same RFC 5155 section references), generalized
// from *Question to a plain (name, qtype) pair so this package has no
// dependency on a query type.

func typesSet(set []uint16, types ...uint16) bool {
	tm := make(map[uint16]struct{}, len(types))
	for _, t := range types {
		tm[t] = struct{}{}
	}
	for _, t := range set {
		if _, present := tm[t]; present {
			return true
		}
	}
	return false
}

func denialer(rr dns.RR) dns.Denialer {
	switch ns := rr.(type) {
	case *dns.NSEC:
		return dns.Denialer(ns)
	case *dns.NSEC3:
		return dns.Denialer(ns)
	default:
		return nil
	}
}

func typeBitMap(rr dns.RR) []uint16 {
	switch ns := rr.(type) {
	case *dns.NSEC:
		return ns.TypeBitMap
	case *dns.NSEC3:
		return ns.TypeBitMap
	default:
		return nil
	}
}

// findClosestEncloser finds the closest encloser and next-closer names for
// name within a set of NSEC/NSEC3 records (RFC 5155 §8.3).
func findClosestEncloser(name string, nsec []dns.RR) (string, string) {
	labelIndices := dns.Split(name)
	for i := 0; i < len(labelIndices); i++ {
		z := name[labelIndices[i]:]
		for _, rr := range nsec {
			n := denialer(rr)
			if n == nil {
				continue
			}
			if n.Match(z) {
				var nc string
				if i == 0 {
					nc = name
				} else {
					nc = name[labelIndices[i-1]:]
				}
				return z, nc
			}
		}
	}
	return "", ""
}

func findMatching(name string, nsec []dns.RR) ([]uint16, error) {
	var types []uint16
	found := false
	for _, rr := range nsec {
		n := denialer(rr)
		if n == nil {
			continue
		}
		if n.Match(name) {
			if found {
				return nil, ErrNSECMultipleCoverage
			}
			types = typeBitMap(rr)
			found = true
		}
	}
	if !found {
		return nil, ErrNSECMissingCoverage
	}
	return types, nil
}

func findCoverer(name string, nsec []dns.RR) ([]uint16, error) {
	var types []uint16
	found := false
	for _, rr := range nsec {
		n := denialer(rr)
		if n == nil {
			continue
		}
		if n.Cover(name) {
			if found {
				return nil, ErrNSECMultipleCoverage
			}
			types = typeBitMap(rr)
			found = true
		}
	}
	if !found {
		return nil, ErrNSECMissingCoverage
	}
	return types, nil
}

// verifyNameError implements the NXDOMAIN proof (RFC 5155 §8.4): closest
// encloser, matching NSEC(3) for the name itself, and covering NSEC(3) for
// the wildcard at the closest encloser.
func verifyNameError(qname string, nsec []dns.RR) error {
	ce, _ := findClosestEncloser(qname, nsec)
	if ce == "" {
		return ErrNSECMissingCoverage
	}
	if _, err := findMatching(qname, nsec); err != nil {
		return err
	}
	if _, err := findCoverer(fmt.Sprintf("*.%s", ce), nsec); err != nil {
		return err
	}
	return nil
}

// verifyNODATA implements the NODATA proof (RFC 5155 §8.5-8.7).
func verifyNODATA(qname string, qtype uint16, nsec []dns.RR) error {
	types, err := findMatching(qname, nsec)
	if err == nil {
		if typesSet(types, qtype, dns.TypeCNAME) {
			return ErrNSECTypeExists
		}
		if strings.HasPrefix(qname, "*.") {
			ce, _ := findClosestEncloser(qname, nsec)
			if ce == "" {
				return ErrNSECMissingCoverage
			}
			matchTypes, err := findMatching(fmt.Sprintf("*.%s", ce), nsec)
			if err != nil {
				return err
			}
			if typesSet(matchTypes, qtype, dns.TypeCNAME) {
				return ErrNSECTypeExists
			}
		}
		return nil
	}

	if qtype != dns.TypeDS {
		return err
	}

	ce, nc := findClosestEncloser(qname, nsec)
	if ce == "" {
		return ErrNSECMissingCoverage
	}
	if _, err := findCoverer(nc, nsec); err != nil {
		return err
	}
	return nil
}

// verifyDelegation implements the insecure-delegation proof (RFC 5155
// §8.9): either a matching NSEC(3) carries NS but not DS/SOA, or a
// covering NSEC(3) proves the delegation's owner doesn't exist (opt-out).
func verifyDelegation(delegation string, nsec []dns.RR) error {
	types, err := findMatching(delegation, nsec)
	if err != nil {
		ce, nc := findClosestEncloser(delegation, nsec)
		if ce == "" {
			return ErrNSECMissingCoverage
		}
		if _, err := findCoverer(nc, nsec); err != nil {
			return err
		}
		return nil
	}
	if !typesSet(types, dns.TypeNS) {
		return ErrNSECNSMissing
	}
	if typesSet(types, dns.TypeDS, dns.TypeSOA) {
		return ErrNSECBadDelegation
	}
	return nil
}

// NSEC3IterationEntry is one row of the table bounding allowed NSEC3
// iteration counts by key size (spec.md §4.3's "key-size -> max-iteration
// table"). Config.NSEC3Table holds the rows sorted ascending by KeySize,
// matching the original's "keep this table short, and sorted by
// size" comment.
type NSEC3IterationEntry struct {
	KeySize       int
	MaxIterations int
}

// CheckNSEC3Iterations reports whether iterations is within the bound for
// the given key size; exceeding it should be treated as insecure rather
// than bogus (spec.md §4.3).
func CheckNSEC3Iterations(table []NSEC3IterationEntry, keySize, iterations int) bool {
	for _, e := range table {
		if keySize <= e.KeySize {
			return iterations <= e.MaxIterations
		}
	}
	if len(table) == 0 {
		return true
	}
	return iterations <= table[len(table)-1].MaxIterations
}
