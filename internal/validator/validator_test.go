package validator

import (
	"context"
	"crypto/rsa"
	"net"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	icache "github.com/brevity-dns/resolvd/internal/cache"
	"github.com/brevity-dns/resolvd/internal/infra"
	"github.com/brevity-dns/resolvd/internal/iterator"
	"github.com/brevity-dns/resolvd/internal/model"
	"github.com/brevity-dns/resolvd/internal/outbound"
	"github.com/brevity-dns/resolvd/internal/qstate"
)

// zoneKey generates a small KSK for zone and a self-covering RRSIG, the
// same approach as the teacher's dnssec_test.go exampleKey/exampleKeySig.
func zoneKey(t *testing.T, zone string) (*dns.DNSKEY, *rsa.PrivateKey, *dns.RRSIG) {
	t.Helper()
	key := &dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: zone, Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET, Ttl: 300},
		Algorithm: dns.RSASHA256,
		Flags:     257,
		Protocol:  3,
	}
	priv, err := key.Generate(512)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	rk := priv.(*rsa.PrivateKey)

	now := time.Now().UTC()
	sig := &dns.RRSIG{
		Hdr:         dns.RR_Header{Name: zone, Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: 300},
		TypeCovered: dns.TypeDNSKEY,
		Algorithm:   dns.RSASHA256,
		SignerName:  zone,
		KeyTag:      key.KeyTag(),
		Inception:   uint32(now.Add(-time.Hour).Unix()),
		Expiration:  uint32(now.Add(time.Hour).Unix()),
	}
	if err := sig.Sign(rk, []dns.RR{key}); err != nil {
		t.Fatalf("sign DNSKEY: %v", err)
	}
	return key, rk, sig
}

func signRRset(t *testing.T, priv *rsa.PrivateKey, signer string, rrs []dns.RR, keyTag uint16) *dns.RRSIG {
	t.Helper()
	now := time.Now().UTC()
	sig := &dns.RRSIG{
		Hdr:         dns.RR_Header{Name: rrs[0].Header().Name, Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: rrs[0].Header().Ttl},
		TypeCovered: rrs[0].Header().Rrtype,
		Algorithm:   dns.RSASHA256,
		SignerName:  signer,
		KeyTag:      keyTag,
		Inception:   uint32(now.Add(-time.Hour).Unix()),
		Expiration:  uint32(now.Add(time.Hour).Unix()),
	}
	if err := sig.Sign(priv, rrs); err != nil {
		t.Fatalf("sign rrset: %v", err)
	}
	return sig
}

// dnskeyExchanger answers a DNSKEY query for zone with key+sig and fails
// (or records) any other query; used both to prime the validator and to
// prove a cache hit skips priming entirely.
type dnskeyExchanger struct {
	zone     string
	key      *dns.DNSKEY
	sig      *dns.RRSIG
	calls    int
	failHard bool
}

func (e *dnskeyExchanger) Exchange(ctx context.Context, m *dns.Msg, addr string, useTCP bool) (*dns.Msg, time.Duration, error) {
	e.calls++
	r := new(dns.Msg)
	r.Question = m.Question
	if e.failHard || m.Question[0].Name != e.zone || m.Question[0].Qtype != dns.TypeDNSKEY {
		r.Rcode = dns.RcodeServerFailure
		return r, time.Millisecond, nil
	}
	r.Rcode = dns.RcodeSuccess
	r.Answer = []dns.RR{dns.Copy(e.key), dns.Copy(e.sig)}
	return r, time.Millisecond, nil
}

func newTestValidator(t *testing.T, zone string, key *dns.DNSKEY, sig *dns.RRSIG, cfg Config) (*Validator, *dnskeyExchanger) {
	t.Helper()
	clk := clock.NewFake()
	// the fake clock starts at the Unix epoch; move it to the wall-clock
	// time the RRSIG validity windows above were computed from.
	clk.Add(time.Since(clk.Now()))
	exch := &dnskeyExchanger{zone: zone, key: key, sig: sig}
	infraCache := infra.New(2, 16, time.Second, time.Minute, clk)
	mux := outbound.New(exch, infraCache, outbound.Config{MaxRetries: 1, BaseTimeout: time.Second, UsefulServerTopTimeout: time.Second})

	it := &iterator.Iterator{
		MsgCache: icache.NewMessageCache(2, 64, clk),
		RRCache:  icache.NewRRsetCache(2, 64, clk),
		Infra:    infraCache,
		Mux:      mux,
		Hints: &iterator.DelegationPoint{
			Zone:        ".",
			NameServers: []iterator.NSTarget{{Name: "a.root-servers.test.", Addrs: []string{"192.0.2.1"}}},
		},
		Zones: map[string]iterator.ZoneConfig{},
		Cfg: iterator.Config{
			TargetFetchPolicy:      []int{0},
			UsefulServerTopTimeout: time.Second,
			Scrub:                  iterator.ScrubConfig{MaxTTL: time.Hour, MinTTL: time.Second},
			MaxRestartCount:        8,
			MaxReferralCount:       30,
		},
		Clock: clk,
	}
	primingArena := qstate.NewArena(8)
	primingChain := qstate.NewChain(it)
	it.SetEngine(primingArena, primingChain)

	if cfg.SigSkewMin == 0 && cfg.SigSkewMax == 0 {
		cfg.SigSkewMin, cfg.SigSkewMax = time.Minute, time.Minute
	}
	if cfg.NullKeyTTL == 0 {
		cfg.NullKeyTTL = time.Minute
	}
	if cfg.BogusTTL == 0 {
		cfg.BogusTTL = time.Minute
	}

	v := &Validator{
		Keys:         icache.NewKeyCache(2, 16, clk),
		TrustAnchors: map[string]TrustAnchor{},
		Cfg:          cfg,
		Clock:        clk,
		PrimingArena: primingArena,
		PrimingChain: primingChain,
	}
	return v, exch
}

func buildReply(t *testing.T, priv *rsa.PrivateKey, zone string, keyTag uint16, name string, tamper bool) *model.MessageReply {
	t.Helper()
	a := &dns.A{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300}, A: net.ParseIP("192.0.2.5")}
	sig := signRRset(t, priv, zone, []dns.RR{a}, keyTag)
	if tamper {
		sig.Signature = ""
	}
	return &model.MessageReply{
		Key:   model.Question{Name: name, Type: dns.TypeA, Class: dns.ClassINET},
		Rcode: dns.RcodeSuccess,
		Answer: []model.RRSet{
			{Name: name, Type: dns.TypeA, Class: dns.ClassINET, Rdata: []dns.RR{a}},
			{Name: name, Type: dns.TypeRRSIG, Class: dns.ClassINET, Rdata: []dns.RR{sig}},
		},
	}
}

func TestValidateSecureAnswer(t *testing.T) {
	zone := "secure.test."
	key, priv, keySig := zoneKey(t, zone)
	ds := key.ToDS(dns.SHA256)

	v, exch := newTestValidator(t, zone, key, keySig, Config{})
	v.TrustAnchors[zone] = TrustAnchor{Zone: zone, DS: []dns.RR{ds}}

	reply := buildReply(t, priv, zone, key.KeyTag(), "www.secure.test.", false)
	qs := &qstate.QueryState{Query: reply.Key, Reply: reply}

	d := v.Operate(qs, qstate.EventPassThrough)
	if d != qstate.DispositionFinished {
		t.Fatalf("disposition = %v, want Finished", d)
	}
	if reply.Security != model.StatusSecure {
		t.Fatalf("security = %v, want Secure", reply.Security)
	}
	if exch.calls != 1 {
		t.Fatalf("exchange calls = %d, want 1", exch.calls)
	}
}

func TestValidateBogusOnTamperedSignature(t *testing.T) {
	zone := "secure.test."
	key, priv, keySig := zoneKey(t, zone)
	ds := key.ToDS(dns.SHA256)

	v, _ := newTestValidator(t, zone, key, keySig, Config{})
	v.TrustAnchors[zone] = TrustAnchor{Zone: zone, DS: []dns.RR{ds}}

	reply := buildReply(t, priv, zone, key.KeyTag(), "www.secure.test.", true)
	qs := &qstate.QueryState{Query: reply.Key, Reply: reply}

	v.Operate(qs, qstate.EventPassThrough)
	if reply.Security != model.StatusBogus {
		t.Fatalf("security = %v, want Bogus", reply.Security)
	}
}

func TestValidatePermissiveModeDemotesBogusToIndeterminate(t *testing.T) {
	zone := "secure.test."
	key, priv, keySig := zoneKey(t, zone)
	ds := key.ToDS(dns.SHA256)

	v, _ := newTestValidator(t, zone, key, keySig, Config{PermissiveMode: true, BogusTTL: 30 * time.Second})
	v.TrustAnchors[zone] = TrustAnchor{Zone: zone, DS: []dns.RR{ds}}

	reply := buildReply(t, priv, zone, key.KeyTag(), "www.secure.test.", true)
	qs := &qstate.QueryState{Query: reply.Key, Reply: reply}

	v.Operate(qs, qstate.EventPassThrough)
	if reply.Security != model.StatusIndeterminate {
		t.Fatalf("security = %v, want Indeterminate", reply.Security)
	}
	if reply.Expiry == 0 {
		t.Fatal("expiry not set to a short bogus-ttl")
	}
}

func TestValidateNullKeyShortCircuitsWithoutPriming(t *testing.T) {
	zone := "secure.test."
	key, priv, keySig := zoneKey(t, zone)
	ds := key.ToDS(dns.SHA256)

	v, exch := newTestValidator(t, zone, key, keySig, Config{})
	v.TrustAnchors[zone] = TrustAnchor{Zone: zone, DS: []dns.RR{ds}}
	v.Keys.AddNull(zone, time.Minute)

	reply := buildReply(t, priv, zone, key.KeyTag(), "www.secure.test.", false)
	qs := &qstate.QueryState{Query: reply.Key, Reply: reply}

	v.Operate(qs, qstate.EventPassThrough)
	if reply.Security != model.StatusInsecure {
		t.Fatalf("security = %v, want Insecure", reply.Security)
	}
	if exch.calls != 0 {
		t.Fatalf("exchange calls = %d, want 0 (null key cache should short-circuit)", exch.calls)
	}
}

func TestValidateClientCDSkipsValidationUnlessIgnored(t *testing.T) {
	zone := "secure.test."
	key, priv, keySig := zoneKey(t, zone)
	ds := key.ToDS(dns.SHA256)

	v, exch := newTestValidator(t, zone, key, keySig, Config{})
	v.TrustAnchors[zone] = TrustAnchor{Zone: zone, DS: []dns.RR{ds}}

	reply := buildReply(t, priv, zone, key.KeyTag(), "www.secure.test.", false)
	qs := &qstate.QueryState{Query: reply.Key, Reply: reply, ClientCD: true}

	v.Operate(qs, qstate.EventPassThrough)
	if reply.Security != model.StatusUnchecked {
		t.Fatalf("security = %v, want Unchecked (validation skipped)", reply.Security)
	}
	if exch.calls != 0 {
		t.Fatalf("exchange calls = %d, want 0", exch.calls)
	}
}

func TestValidateIndeterminateWithoutSignerOrAnchor(t *testing.T) {
	zone := "secure.test."
	key, _, keySig := zoneKey(t, zone)

	v, _ := newTestValidator(t, zone, key, keySig, Config{})

	reply := &model.MessageReply{
		Key:    model.Question{Name: "www.unsigned.test.", Type: dns.TypeA, Class: dns.ClassINET},
		Rcode:  dns.RcodeSuccess,
		Answer: []model.RRSet{{Name: "www.unsigned.test.", Type: dns.TypeA, Class: dns.ClassINET, Rdata: []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "www.unsigned.test.", Rrtype: dns.TypeA, Ttl: 300}, A: net.ParseIP("192.0.2.9")}}}},
	}
	qs := &qstate.QueryState{Query: reply.Key, Reply: reply}

	v.Operate(qs, qstate.EventPassThrough)
	if reply.Security != model.StatusIndeterminate {
		t.Fatalf("security = %v, want Indeterminate", reply.Security)
	}
}
