package iterator

import (
	"context"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	icache "github.com/brevity-dns/resolvd/internal/cache"
	"github.com/brevity-dns/resolvd/internal/infra"
	"github.com/brevity-dns/resolvd/internal/model"
	"github.com/brevity-dns/resolvd/internal/outbound"
	"github.com/brevity-dns/resolvd/internal/qstate"
)

type scriptedExchanger struct {
	servfailAddr string
	answerAddr   string
}

func (s *scriptedExchanger) Exchange(ctx context.Context, m *dns.Msg, addr string, useTCP bool) (*dns.Msg, time.Duration, error) {
	r := new(dns.Msg)
	r.Question = m.Question
	switch addr {
	case s.servfailAddr:
		r.Rcode = dns.RcodeServerFailure
	case s.answerAddr:
		r.Rcode = dns.RcodeSuccess
		r.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		}}
	default:
		r.Rcode = dns.RcodeServerFailure
	}
	return r, time.Millisecond, nil
}

func newTestIterator(zones map[string]ZoneConfig, exch outbound.Exchanger) (*Iterator, *qstate.Arena, *qstate.Chain) {
	clk := clock.NewFake()
	infraCache := infra.New(2, 16, time.Second, time.Minute, clk)
	mux := outbound.New(exch, infraCache, outbound.Config{MaxRetries: 1, BaseTimeout: time.Second, UsefulServerTopTimeout: time.Second})

	it := &Iterator{
		MsgCache: icache.NewMessageCache(2, 64, clk),
		RRCache:  icache.NewRRsetCache(2, 64, clk),
		Infra:    infraCache,
		Mux:      mux,
		Hints: &DelegationPoint{
			Zone: ".",
			NameServers: []NSTarget{
				{Name: "a.root-servers.test.", Addrs: []string{"192.0.2.1"}},
			},
		},
		Zones: zones,
		Cfg: Config{
			TargetFetchPolicy:      []int{0},
			UsefulServerTopTimeout: time.Second,
			Scrub:                  ScrubConfig{MaxTTL: time.Hour, MinTTL: time.Second},
			MaxRestartCount:        8,
			MaxReferralCount:       30,
		},
		Clock: clk,
	}
	arena := qstate.NewArena(8)
	chain := qstate.NewChain(it)
	it.SetEngine(arena, chain)
	return it, arena, chain
}

func TestForwardZoneServfailWithoutFallbackStaysServfail(t *testing.T) {
	zones := map[string]ZoneConfig{
		"forwarded.test.": {Zone: "forwarded.test.", Forward: true, ForwardFirst: false, Upstreams: []string{"198.51.100.1"}},
	}
	it, arena, chain := newTestIterator(zones, &scriptedExchanger{servfailAddr: "198.51.100.1:53", answerAddr: "192.0.2.1:53"})

	qs := arena.New()
	qs.Query = model.Question{Name: "www.forwarded.test.", Type: dns.TypeA, Class: dns.ClassINET}

	d := chain.Run(qs, qstate.EventNewQuery)
	if d != qstate.DispositionFinished {
		t.Fatalf("disposition = %v, want Finished (servfail, no fallback)", d)
	}
	if qs.Reply != nil {
		t.Fatal("expected no cached reply when forward zone fails without fallback")
	}
}

func TestForwardZoneServfailWithForwardFirstFallsBackOnce(t *testing.T) {
	zones := map[string]ZoneConfig{
		"forwarded.test.": {Zone: "forwarded.test.", Forward: true, ForwardFirst: true, Upstreams: []string{"198.51.100.1"}},
	}
	it, arena, chain := newTestIterator(zones, &scriptedExchanger{servfailAddr: "198.51.100.1:53", answerAddr: "192.0.2.1:53"})
	_ = it

	qs := arena.New()
	qs.Query = model.Question{Name: "www.forwarded.test.", Type: dns.TypeA, Class: dns.ClassINET}

	d := chain.Run(qs, qstate.EventNewQuery)
	if d != qstate.DispositionFinished {
		t.Fatalf("disposition = %v, want Finished after successful fallback", d)
	}
	if qs.Reply == nil || qs.Reply.Rcode != dns.RcodeSuccess {
		t.Fatalf("expected a successful reply via the root-hints fallback, got %+v", qs.Reply)
	}
}
