package resolvd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/iterator"
	"github.com/brevity-dns/resolvd/internal/model"
	"github.com/brevity-dns/resolvd/internal/telemetry"
	"github.com/brevity-dns/resolvd/internal/validator"
)

// scriptedExchanger answers any query sent to answerAddr with a successful
// A record and servfails everything else, the same shape as
// internal/iterator/forward_test.go's harness.
type scriptedExchanger struct {
	answerAddr string
}

func (s *scriptedExchanger) Exchange(ctx context.Context, m *dns.Msg, addr string, useTCP bool) (*dns.Msg, time.Duration, error) {
	r := new(dns.Msg)
	r.Question = m.Question
	if addr != s.answerAddr {
		r.Rcode = dns.RcodeServerFailure
		return r, time.Millisecond, nil
	}
	r.Rcode = dns.RcodeSuccess
	r.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
	}}
	return r, time.Millisecond, nil
}

func testEngine() *Engine {
	cfg := DefaultConfig()
	cfg.ForwardZones = []ForwardZone{
		{Name: "forwarded.test.", Upstreams: []string{"198.51.100.1"}},
	}
	rootHints := &iterator.DelegationPoint{
		Zone:        ".",
		NameServers: []iterator.NSTarget{{Name: "a.root-servers.test.", Addrs: []string{"192.0.2.1"}}},
	}
	exch := &scriptedExchanger{answerAddr: "198.51.100.1:53"}
	return New(cfg, exch, rootHints, map[string]validator.TrustAnchor{}, telemetry.NoOp{})
}

func testEngineClientSubnet() *Engine {
	cfg := DefaultConfig()
	cfg.ClientSubnet = true
	cfg.ForwardZones = []ForwardZone{
		{Name: "forwarded.test.", Upstreams: []string{"198.51.100.1"}},
	}
	rootHints := &iterator.DelegationPoint{
		Zone:        ".",
		NameServers: []iterator.NSTarget{{Name: "a.root-servers.test.", Addrs: []string{"192.0.2.1"}}},
	}
	exch := &scriptedExchanger{answerAddr: "198.51.100.1:53"}
	return New(cfg, exch, rootHints, map[string]validator.TrustAnchor{}, telemetry.NoOp{})
}

func TestEngineResolveECSPopulatesSubnetCacheNotMsgCache(t *testing.T) {
	e := testEngineClientSubnet()
	ecs := &model.ClientSubnet{Addr: []byte{192, 0, 2, 1}, SourceMask: 24, Family: 1}

	ans, err := e.ResolveECS(context.Background(), model.Question{Name: "www.forwarded.test.", Type: dns.TypeA, Class: dns.ClassINET}, false, ecs)
	if err != nil {
		t.Fatalf("ResolveECS returned error: %v", err)
	}
	if ans.Rcode != dns.RcodeSuccess {
		t.Fatalf("rcode = %d, want success", ans.Rcode)
	}

	st := e.Status()
	if st.SubnetCacheLen == 0 {
		t.Fatal("expected the ECS answer to populate the subnet cache")
	}
	if st.MsgCacheLen != 0 {
		t.Fatal("expected the ECS answer to bypass the plain message cache")
	}
}

func TestEngineResolveForwardedAnswerIsInsecure(t *testing.T) {
	e := testEngine()
	ans, err := e.Resolve(context.Background(), model.Question{Name: "www.forwarded.test.", Type: dns.TypeA, Class: dns.ClassINET}, false)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if ans.Rcode != dns.RcodeSuccess {
		t.Fatalf("rcode = %d, want success", ans.Rcode)
	}
	if ans.Authenticated {
		t.Fatal("answer should not be authenticated: no trust anchor configured")
	}
	if len(ans.Answer) != 1 {
		t.Fatalf("answer records = %d, want 1", len(ans.Answer))
	}
}

func TestEngineResolveNoDelegationReturnsResolutionError(t *testing.T) {
	e := testEngine()
	_, err := e.Resolve(context.Background(), model.Question{Name: "www.unreachable.test.", Type: dns.TypeA, Class: dns.ClassINET}, false)
	if err == nil {
		t.Fatal("expected an error for a zone with no reachable nameserver")
	}
	var rerr *ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *ResolutionError", err)
	}
	if rerr.RCode() != dns.RcodeServerFailure {
		t.Fatalf("RCode = %d, want SERVFAIL", rerr.RCode())
	}
}

func TestEngineStatusAndFlushCache(t *testing.T) {
	e := testEngine()
	if _, err := e.Resolve(context.Background(), model.Question{Name: "www.forwarded.test.", Type: dns.TypeA, Class: dns.ClassINET}, false); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	st := e.Status()
	if st.MsgCacheLen == 0 {
		t.Fatal("expected the resolved answer to populate the message cache")
	}

	e.FlushCache()
	st = e.Status()
	if st.MsgCacheLen != 0 || st.RRCacheLen != 0 || st.KeyCacheLen != 0 || st.InfraCacheLen != 0 {
		t.Fatalf("expected all caches empty after FlushCache, got %+v", st)
	}
}
