package iterator

import "github.com/miekg/dns"

// ResponseKind is the result of classifying one upstream reply (spec.md
// §4.2 "Query-response decision tree").
type ResponseKind int

const (
	ResponseThrowaway ResponseKind = iota
	ResponseAnswer
	ResponseCNAME
	ResponseReferral
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseAnswer:
		return "answer"
	case ResponseCNAME:
		return "cname"
	case ResponseReferral:
		return "referral"
	default:
		return "throwaway"
	}
}

// Classify implements spec.md §4.2's query-response decision tree for one
// reply to a query for (qname, qtype). A reply whose question doesn't
// match, or which carries no usable answer/authority/referral information,
// classifies as throwaway; the message ID is not checked here.
func Classify(qname string, qtype uint16, reply *dns.Msg) ResponseKind {
	if reply == nil {
		return ResponseThrowaway
	}
	if len(reply.Question) != 1 || !sameName(reply.Question[0].Name, qname) {
		return ResponseThrowaway
	}

	if cname, target, ok := findCNAME(reply, qname); ok {
		_ = cname
		if !hasFinalAnswer(reply, target, qtype) {
			return ResponseCNAME
		}
		return ResponseAnswer
	}

	if hasMatchingAnswer(reply, qname, qtype) {
		return ResponseAnswer
	}
	if isNegativeAnswer(reply) {
		return ResponseAnswer
	}
	if hasReferral(reply) {
		return ResponseReferral
	}
	return ResponseThrowaway
}

func sameName(a, b string) bool {
	return dns.CanonicalName(a) == dns.CanonicalName(b)
}

func hasMatchingAnswer(reply *dns.Msg, qname string, qtype uint16) bool {
	for _, rr := range reply.Answer {
		if rr.Header().Rrtype == qtype && sameName(rr.Header().Name, qname) {
			return true
		}
	}
	return false
}

// isNegativeAnswer reports NODATA/NXDOMAIN with an SOA in authority,
// which spec.md §4.2 treats as a valid answer, not a throwaway.
func isNegativeAnswer(reply *dns.Msg) bool {
	if reply.Rcode != dns.RcodeSuccess && reply.Rcode != dns.RcodeNameError {
		return false
	}
	for _, rr := range reply.Ns {
		if rr.Header().Rrtype == dns.TypeSOA {
			return true
		}
	}
	return false
}

func findCNAME(reply *dns.Msg, qname string) (cname *dns.CNAME, target string, ok bool) {
	for _, rr := range reply.Answer {
		if c, isCNAME := rr.(*dns.CNAME); isCNAME && sameName(c.Header().Name, qname) {
			return c, c.Target, true
		}
	}
	return nil, "", false
}

func hasFinalAnswer(reply *dns.Msg, target string, qtype uint16) bool {
	for _, rr := range reply.Answer {
		if rr.Header().Rrtype == qtype && sameName(rr.Header().Name, target) {
			return true
		}
	}
	return false
}

// hasReferral reports whether authority carries NS records without a
// matching answer, i.e. a delegation (spec.md §4.2 "Referral").
func hasReferral(reply *dns.Msg) bool {
	if len(reply.Answer) > 0 {
		return false
	}
	for _, rr := range reply.Ns {
		if rr.Header().Rrtype == dns.TypeNS {
			return true
		}
	}
	return false
}
