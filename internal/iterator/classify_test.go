package iterator

import (
	"testing"

	"github.com/miekg/dns"
)

func q(name string, qtype uint16) dns.Question {
	return dns.Question{Name: name, Qtype: qtype, Qclass: dns.ClassINET}
}

func TestClassifyAnswer(t *testing.T) {
	r := new(dns.Msg)
	r.Question = []dns.Question{q("www.example.test.", dns.TypeA)}
	r.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "www.example.test.", Rrtype: dns.TypeA, Class: dns.ClassINET}}}

	if k := Classify("www.example.test.", dns.TypeA, r); k != ResponseAnswer {
		t.Fatalf("kind = %v, want answer", k)
	}
}

func TestClassifyNegativeAnswerIsAnswer(t *testing.T) {
	r := new(dns.Msg)
	r.Question = []dns.Question{q("missing.example.test.", dns.TypeA)}
	r.Rcode = dns.RcodeNameError
	r.Ns = []dns.RR{&dns.SOA{Hdr: dns.RR_Header{Name: "example.test.", Rrtype: dns.TypeSOA, Class: dns.ClassINET}}}

	if k := Classify("missing.example.test.", dns.TypeA, r); k != ResponseAnswer {
		t.Fatalf("kind = %v, want answer (NXDOMAIN+SOA)", k)
	}
}

func TestClassifyCNAMEWithoutFinalAnswer(t *testing.T) {
	r := new(dns.Msg)
	r.Question = []dns.Question{q("alias.example.test.", dns.TypeA)}
	r.Answer = []dns.RR{&dns.CNAME{
		Hdr:    dns.RR_Header{Name: "alias.example.test.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET},
		Target: "target.example.test.",
	}}

	if k := Classify("alias.example.test.", dns.TypeA, r); k != ResponseCNAME {
		t.Fatalf("kind = %v, want cname", k)
	}
}

func TestClassifyCNAMEWithFinalAnswerIsAnswer(t *testing.T) {
	r := new(dns.Msg)
	r.Question = []dns.Question{q("alias.example.test.", dns.TypeA)}
	r.Answer = []dns.RR{
		&dns.CNAME{Hdr: dns.RR_Header{Name: "alias.example.test.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET}, Target: "target.example.test."},
		&dns.A{Hdr: dns.RR_Header{Name: "target.example.test.", Rrtype: dns.TypeA, Class: dns.ClassINET}},
	}

	if k := Classify("alias.example.test.", dns.TypeA, r); k != ResponseAnswer {
		t.Fatalf("kind = %v, want answer (cname chain resolved in one reply)", k)
	}
}

func TestClassifyReferral(t *testing.T) {
	r := new(dns.Msg)
	r.Question = []dns.Question{q("www.example.test.", dns.TypeA)}
	r.Ns = []dns.RR{&dns.NS{Hdr: dns.RR_Header{Name: "example.test.", Rrtype: dns.TypeNS, Class: dns.ClassINET}, Ns: "ns1.example.test."}}

	if k := Classify("www.example.test.", dns.TypeA, r); k != ResponseReferral {
		t.Fatalf("kind = %v, want referral", k)
	}
}

func TestClassifyThrowawayOnQuestionMismatch(t *testing.T) {
	r := new(dns.Msg)
	r.Question = []dns.Question{q("other.example.test.", dns.TypeA)}

	if k := Classify("www.example.test.", dns.TypeA, r); k != ResponseThrowaway {
		t.Fatalf("kind = %v, want throwaway", k)
	}
}
