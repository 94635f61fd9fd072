// Package iterator implements the iterative resolution module (spec.md
// §4.2): it walks the init -> init-2 -> init-3 -> query-targets ->
// query-response -> prime-response -> finished sub-states for one query,
// spawning target (address) sub-queries and chasing CNAME/referral chains
// as needed.
package iterator

import (
	"context"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/cache"
	"github.com/brevity-dns/resolvd/internal/infra"
	"github.com/brevity-dns/resolvd/internal/model"
	"github.com/brevity-dns/resolvd/internal/outbound"
	"github.com/brevity-dns/resolvd/internal/qstate"
)

// queryCtx returns the context the engine attached to qs, or
// context.Background() for a priming/internal query that never got one.
func queryCtx(qs *qstate.QueryState) context.Context {
	if qs.Ctx != nil {
		return qs.Ctx
	}
	return context.Background()
}

// ModuleDataKey is the key this module uses on QueryState.ModuleData.
const ModuleDataKey = 1

type subState int

const (
	subInit subState = iota
	subInit2
	subInit3
	subQueryTargets
	subQueryResponse
	subPrimeResponse
	subFinished
)

type scratch struct {
	state subState
	dp    *DelegationPoint

	lastNS       string
	lastAddr     string
	awaitingSub  bool
	fallbackUsed bool // forward/stub-first fallback already taken (at most once per query)
}

// Config bounds the iterator's policy knobs (spec.md §6).
type Config struct {
	TargetFetchPolicy      []int
	UsefulServerTopTimeout time.Duration
	Scrub                  ScrubConfig
	MaxRestartCount        int
	MaxReferralCount       int
}

// Iterator is the spec.md §4.2 module. Each Iterator is wired to one
// Arena/Chain through SetEngine (the engine builds one for client queries
// and one for validator priming); all mutable per-query state lives on the
// QueryState.
type Iterator struct {
	MsgCache *cache.MessageCache
	RRCache  *cache.RRsetCache
	Infra    *infra.Cache
	Mux      *outbound.Mux
	Hints    *DelegationPoint
	Zones    map[string]ZoneConfig
	Cfg      Config
	Clock    clock.Clock

	// SubnetCache backs queries that carry QueryState.ECS: when set, a
	// query with ECS attached is looked up and stored in the radix-tree
	// client-subnet keyspace (spec.md §4.7) instead of MsgCache. Nil
	// disables client-subnet caching entirely (the common case: most
	// deployments don't serve EDNS Client Subnet at all).
	SubnetCache *cache.SubnetCache

	// Arena/Chain are set by the engine after construction (SetEngine) so
	// the iterator can attach target-resolution sub-queries on itself.
	Arena *qstate.Arena
	Chain *qstate.Chain
}

func (it *Iterator) SetEngine(arena *qstate.Arena, chain *qstate.Chain) {
	it.Arena = arena
	it.Chain = chain
}

func (it *Iterator) Init() error  { return nil }
func (it *Iterator) Deinit()      {}
func (it *Iterator) Clear(qs *qstate.QueryState) {
	delete(qs.ModuleData, ModuleDataKey)
}
func (it *Iterator) GetMem() uintptr { return 0 }

func (it *Iterator) scratchFor(qs *qstate.QueryState) *scratch {
	if s, ok := qs.ModuleData[ModuleDataKey].(*scratch); ok {
		return s
	}
	s := &scratch{state: subInit}
	qs.ModuleData[ModuleDataKey] = s
	return s
}

// InformSuper integrates a finished target (address) sub-query's result
// into the super's delegation point (spec.md §4.2 "query-targets" step 4).
func (it *Iterator) InformSuper(sub, super *qstate.QueryState) {
	s := it.scratchFor(super)
	if s.dp == nil || sub.Reply == nil {
		return
	}
	var addrs []string
	for _, rrset := range sub.Reply.Answer {
		for _, rr := range rrset.Rdata {
			switch a := rr.(type) {
			case *dns.A:
				addrs = append(addrs, a.A.String())
			case *dns.AAAA:
				addrs = append(addrs, a.AAAA.String())
			}
		}
	}
	for i := range s.dp.NameServers {
		if strings.EqualFold(s.dp.NameServers[i].Name, sub.Query.Name) {
			s.dp.NameServers[i].Addrs = append(s.dp.NameServers[i].Addrs, addrs...)
		}
	}
}

// Operate drives one QueryState through the iterator's sub-states.
func (it *Iterator) Operate(qs *qstate.QueryState, ev qstate.Event) qstate.Disposition {
	s := it.scratchFor(qs)

	switch ev {
	case qstate.EventTimeout, qstate.EventError:
		return qstate.DispositionError
	case qstate.EventSubQueryFinished:
		s.awaitingSub = false
		// A target sub-query landed (InformSuper already merged its
		// addresses); retry target selection.
		s.state = subQueryTargets
	}

	for {
		switch s.state {
		case subInit, subInit2, subInit3:
			if done, d := it.doInit(qs, s); done {
				return d
			}
			s.state = subQueryTargets

		case subQueryTargets:
			d, next, wait := it.doQueryTargets(qs, s)
			if wait {
				return d
			}
			s.state = next

		case subQueryResponse:
			d, next := it.doQueryResponse(qs, s)
			if next == subFinished {
				// This module has nothing left to do; walk back up the
				// chain so an earlier module (the validator) can react
				// to the now-populated qs.Reply (spec.md §4.1).
				if d == qstate.DispositionError {
					return d
				}
				return qstate.DispositionFinished
			}
			if d == qstate.DispositionError {
				return d
			}
			s.state = next

		case subPrimeResponse:
			s.state = subQueryTargets

		default:
			return qstate.DispositionNextModule
		}
	}
}

// doInit implements spec.md §4.2's "Init": message cache short-circuit,
// then delegation discovery via RRset cache / root hints / configured
// stub-forward zone.
func (it *Iterator) doInit(qs *qstate.QueryState, s *scratch) (done bool, d qstate.Disposition) {
	now := it.Clock.Now()
	if qs.ECS != nil && it.SubnetCache != nil {
		if reply, ok := it.SubnetCache.Get(qs.Query, qs.ECS.Addr, qs.ECS.SourceMask); ok && reply.Expiry > now.Unix() {
			qs.Reply = &reply
			return true, qstate.DispositionFinished
		}
	} else if reply, ok := it.MsgCache.Get(qs.Query, now); ok {
		qs.Reply = &reply
		return true, qstate.DispositionFinished
	}

	if zc, ok := it.lookupZone(qs.Query.Name); ok {
		s.dp = zc.delegationPoint()
		return false, qstate.DispositionNextModule
	}

	s.dp = it.Hints
	return false, qstate.DispositionNextModule
}

func (it *Iterator) lookupZone(qname string) (ZoneConfig, bool) {
	name := strings.ToLower(qname)
	var best ZoneConfig
	found := false
	for zone, zc := range it.Zones {
		if !InBailiwick(zone, name) {
			continue
		}
		if !found || len(zone) > len(best.Zone) {
			best, found = zc, true
		}
	}
	return best, found
}

// doQueryTargets implements spec.md §4.2 "Query-targets": select a
// target, spawning address sub-queries as needed, then send the query.
// wait is true when the caller must return the returned Disposition
// immediately (suspended on a sub-query or terminally finished/errored);
// otherwise next is the sub-state to continue with.
func (it *Iterator) doQueryTargets(qs *qstate.QueryState, s *scratch) (d qstate.Disposition, next subState, wait bool) {
	if s.dp == nil {
		return qstate.DispositionError, subFinished, true
	}

	if names := TargetsNeedingResolution(s.dp, qs.Depth, it.Cfg.TargetFetchPolicy); len(names) > 0 && !s.awaitingSub {
		for _, name := range names {
			sub := it.Arena.NewSub()
			sub.Query = model.Question{Name: name, Type: dns.TypeA, Class: dns.ClassINET}
			if _, err := it.Arena.AttachSub(qs.Index, sub); err == nil {
				s.awaitingSub = true
			} else {
				it.Arena.DiscardSub(sub)
			}
		}
		if s.awaitingSub {
			return qstate.DispositionWait, subQueryTargets, true
		}
	}

	ns, addr, ok := SelectTarget(s.dp, it.Infra, qs.Query.Type, it.Cfg.UsefulServerTopTimeout)
	if !ok {
		if zc, isZone := it.Zones[s.dp.Zone]; isZone && zc.fallbackAllowed() && !s.fallbackUsed {
			s.fallbackUsed = true
			s.dp = it.Hints
			return qstate.DispositionNextModule, subQueryTargets, false
		}
		return qstate.DispositionFinished, subFinished, true
	}
	s.lastNS, s.lastAddr = ns, addr
	return qstate.DispositionNextModule, subQueryResponse, false
}

// doQueryResponse sends the outbound query and classifies the reply per
// spec.md §4.2's decision tree.
func (it *Iterator) doQueryResponse(qs *qstate.QueryState, s *scratch) (qstate.Disposition, subState) {
	res, err := it.Mux.QueryECS(queryCtx(qs), qs.Query, s.lastAddr+":53", s.dp.Zone, ecsOption(qs.ECS))
	if err != nil {
		it.Infra.MarkLame(infra.Key{ServerIP: s.lastAddr, Zone: s.dp.Zone}, false, false, false, true)
		return qstate.DispositionWait, subQueryTargets
	}
	qs.ECSScope = res.ECSScope

	kind := Classify(qs.Query.Name, qs.Query.Type, res.Msg)
	switch kind {
	case ResponseAnswer:
		a, ns, extra := Scrub(s.dp.Zone, res.Msg.Answer, res.Msg.Ns, res.Msg.Extra, false)
		it.cacheAnswer(qs, res.Msg.Rcode, a, ns, extra)
		return qstate.DispositionNextModule, subFinished

	case ResponseCNAME:
		if qs.RestartCount >= it.Cfg.MaxRestartCount {
			return qstate.DispositionError, subFinished
		}
		qs.RestartCount++
		for _, rr := range res.Msg.Answer {
			if c, ok := rr.(*dns.CNAME); ok {
				qs.CNAMEChain = append(qs.CNAMEChain, c)
				qs.Query.Name = c.Target
			}
		}
		return qstate.DispositionNextModule, subInit

	case ResponseReferral:
		if qs.ReferralCount >= it.Cfg.MaxReferralCount {
			return qstate.DispositionError, subFinished
		}
		qs.ReferralCount++
		s.dp = it.installDelegation(res.Msg, s.dp.Zone)
		return qstate.DispositionNextModule, subQueryTargets

	default: // throwaway
		it.Infra.MarkLame(infra.Key{ServerIP: s.lastAddr, Zone: s.dp.Zone}, false, false, false, true)
		return qstate.DispositionNextModule, subQueryTargets
	}
}

// installDelegation builds the new DelegationPoint from a referral's
// authority/additional sections, promoting in-bailiwick glue (spec.md
// §4.2 "Referral").
func (it *Iterator) installDelegation(reply *dns.Msg, oldZone string) *DelegationPoint {
	var zone string
	byName := map[string]*NSTarget{}
	var order []string
	for _, rr := range reply.Ns {
		ns, ok := rr.(*dns.NS)
		if !ok || !InBailiwick(oldZone, ns.Header().Name) {
			continue
		}
		zone = ns.Header().Name
		name := strings.ToLower(ns.Ns)
		if _, exists := byName[name]; !exists {
			byName[name] = &NSTarget{Name: ns.Ns}
			order = append(order, name)
		}
	}
	for _, rr := range reply.Extra {
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
	dp := &DelegationPoint{Zone: zone}
	for _, name := range order {
		dp.NameServers = append(dp.NameServers, *byName[name])
	}
	return dp
}

func (it *Iterator) cacheAnswer(qs *qstate.QueryState, rcode int, answer, authority, additional []dns.RR) {
	now := it.Clock.Now()
	reply := model.MessageReply{Key: qs.Query, Rcode: rcode}
	minTTL := int64(it.Cfg.Scrub.MaxTTL / time.Second)

	addSection := func(rrs []dns.RR, dst *[]model.RRSet) {
		byKey := map[string][]dns.RR{}
		var order []string
		for _, rr := range rrs {
			k := rr.Header().Name + "|" + dns.TypeToString[rr.Header().Rrtype]
			if _, ok := byKey[k]; !ok {
				order = append(order, k)
			}
			byKey[k] = append(byKey[k], rr)
		}
		for _, k := range order {
			set := byKey[k]
			ttl := it.Cfg.Scrub.CapTTL(time.Duration(set[0].Header().Ttl) * time.Second)
			rrset := model.RRSet{
				Name:  set[0].Header().Name,
				Type:  set[0].Header().Rrtype,
				Class: set[0].Header().Class,
				TTL:   uint32(ttl / time.Second),
				Rdata: set,
			}
			it.RRCache.Add(rrset, ttl)
			*dst = append(*dst, rrset)
			if int64(ttl/time.Second) < minTTL {
				minTTL = int64(ttl / time.Second)
			}
		}
	}
	addSection(answer, &reply.Answer)
	addSection(authority, &reply.Authority)
	addSection(additional, &reply.Additional)

	reply.Expiry = now.Add(time.Duration(minTTL) * time.Second).Unix()
	if qs.ECS != nil && it.SubnetCache != nil {
		scope := qs.ECSScope
		if scope < 0 {
			scope = qs.ECS.SourceMask
		}
		it.SubnetCache.Add(qs.Query, qs.ECS.Addr, qs.ECS.SourceMask, scope, reply)
	} else {
		it.MsgCache.Add(qs.Query, reply, reply.Expiry, now)
	}
	qs.Reply = &reply
}

// ecsOption converts the QueryState's client subnet into the wire-format
// EDNS0_SUBNET option Mux.QueryECS attaches to the outbound query, or nil
// when the query carries none.
func ecsOption(cs *model.ClientSubnet) *dns.EDNS0_SUBNET {
	if cs == nil {
		return nil
	}
	mask := cs.SourceMask
	return &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        cs.Family,
		SourceNetmask: uint8(mask),
		Address:       cs.Addr,
	}
}
