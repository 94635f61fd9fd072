package hints

import (
	"strings"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/cache"
)

const rootHintsFixture = `
.                        3600000      NS    A.ROOT-SERVERS.NET.
A.ROOT-SERVERS.NET.      3600000      A     198.41.0.4
A.ROOT-SERVERS.NET.      3600000      AAAA  2001:503:ba3e::2:30
.                        3600000      NS    B.ROOT-SERVERS.NET.
B.ROOT-SERVERS.NET.      3600000      A     199.9.14.201
`

func TestLoadAndBuildRootHints(t *testing.T) {
	rrs, err := Load(strings.NewReader(rootHintsFixture), ".")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dp := BuildRootHints(rrs)
	if dp.Zone != "." {
		t.Fatalf("zone = %q, want .", dp.Zone)
	}
	if len(dp.NameServers) != 2 {
		t.Fatalf("nameservers = %d, want 2", len(dp.NameServers))
	}
	byName := map[string][]string{}
	for _, ns := range dp.NameServers {
		byName[strings.ToLower(ns.Name)] = ns.Addrs
	}
	a := byName["a.root-servers.net."]
	if len(a) != 2 {
		t.Fatalf("a.root-servers.net. addrs = %v, want 2", a)
	}
	b := byName["b.root-servers.net."]
	if len(b) != 1 || b[0] != "199.9.14.201" {
		t.Fatalf("b.root-servers.net. addrs = %v", b)
	}
}

const dsAnchorFixture = `example.test. 3600 IN DS 12345 8 2 0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF`

func TestBuildTrustAnchorFromDS(t *testing.T) {
	rrs, err := Load(strings.NewReader(dsAnchorFixture), "example.test.")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	anchor := BuildTrustAnchor("example.test.", rrs)
	if anchor.Zone != "example.test." {
		t.Fatalf("zone = %q", anchor.Zone)
	}
	if len(anchor.DS) != 1 {
		t.Fatalf("DS records = %d, want 1", len(anchor.DS))
	}
	if anchor.DS[0].(*dns.DS).KeyTag != 12345 {
		t.Fatalf("key tag = %d, want 12345", anchor.DS[0].(*dns.DS).KeyTag)
	}
}

func TestSeedTrustedKeysSkipsNonDNSKEYRecords(t *testing.T) {
	clk := clock.NewFake()
	kc := cache.NewKeyCache(2, 16, clk)

	key := &dns.DNSKEY{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET, Ttl: 172800}, Flags: 257, Protocol: 3, Algorithm: dns.RSASHA256, PublicKey: "AwEAAag="}
	ds := &dns.DS{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeDS, Class: dns.ClassINET, Ttl: 172800}, KeyTag: 1, Algorithm: dns.RSASHA256, DigestType: dns.SHA256, Digest: "deadbeef"}

	SeedTrustedKeys(kc, ".", []dns.RR{key, ds}, time.Hour)

	entry, ok := kc.Get(".")
	if !ok {
		t.Fatal("expected key cache hit for seeded root zone")
	}
	if len(entry.Keys) != 1 {
		t.Fatalf("seeded keys = %d, want 1 (DS record should be skipped)", len(entry.Keys))
	}
}
