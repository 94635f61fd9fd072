package resolvd

import (
	"context"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/cache"
	"github.com/brevity-dns/resolvd/internal/infra"
	"github.com/brevity-dns/resolvd/internal/iterator"
	"github.com/brevity-dns/resolvd/internal/model"
	"github.com/brevity-dns/resolvd/internal/outbound"
	"github.com/brevity-dns/resolvd/internal/qstate"
	"github.com/brevity-dns/resolvd/internal/telemetry"
	"github.com/brevity-dns/resolvd/internal/validator"
)

// Engine is the assembled resolver: the shared caches and outbound
// multiplexer, the main [validator, iterator] chain a client query is run
// on, and a second, iterator-only chain the validator's find-key walk
// primes DS/DNSKEY lookups through (spec.md §4.3's dedicated-chain design,
// documented on Validator itself).
//
// The main chain's Iterator and the priming chain's Iterator are two
// distinct *iterator.Iterator values: SetEngine wires one Iterator to
// exactly one Arena/Chain pair, and the two chains must never be the same
// chain or the validator would recurse into validating the very zone it
// is trying to establish keys for.
type Engine struct {
	Cfg Config

	MsgCache    *cache.MessageCache
	RRCache     *cache.RRsetCache
	Infra       *infra.Cache
	SubnetCache *cache.SubnetCache // nil unless Cfg.ClientSubnet

	Validator *validator.Validator

	Arena *qstate.Arena
	Chain *qstate.Chain

	Telemetry telemetry.Recorder
	Clock     clock.Clock

	startedAt time.Time
}

// New assembles an Engine from cfg, wiring exch as the outbound transport
// and rootHints/anchors as the resolver's persisted bootstrap state
// (spec.md §6 "Persisted state"; see internal/hints for loading them from
// zone-file format). rec may be telemetry.NoOp{} to disable metrics.
func New(cfg Config, exch outbound.Exchanger, rootHints *iterator.DelegationPoint, anchors map[string]validator.TrustAnchor, rec telemetry.Recorder) *Engine {
	clk := clock.New()

	msgCache := cache.NewMessageCache(cfg.MsgCacheSlabs, cfg.MsgCacheCapacity, clk)
	rrCache := cache.NewRRsetCache(cfg.RRCacheSlabs, cfg.RRCacheCapacity, clk)
	keyCache := cache.NewKeyCache(cfg.KeyCacheSlabs, cfg.KeyCacheCapacity, clk)
	infraCache := infra.New(cfg.InfraCacheSlabs, cfg.InfraCacheCapacity, cfg.UsefulServerTopTimeout, cfg.CacheMaxTTL, clk)

	var subnetCache *cache.SubnetCache
	if cfg.ClientSubnet {
		subnetCache = cache.NewSubnetCache(cfg.ClientSubnetMaxDepth)
	}

	mux := outbound.New(exch, infraCache, outbound.Config{
		MaxRetries:             cfg.OutboundMsgRetry,
		BaseTimeout:            cfg.BaseTimeout,
		UsefulServerTopTimeout: cfg.UsefulServerTopTimeout,
		Use0x20:                cfg.UseCapsForID,
		EDNSBufferSize:         cfg.EDNSBufferSize,
		DO:                     true,
		UpstreamQPS:            cfg.UpstreamQPS,
		UpstreamBurst:          cfg.UpstreamBurst,
	})

	zones := map[string]iterator.ZoneConfig{}
	for _, fz := range cfg.ForwardZones {
		zones[dns.Fqdn(fz.Name)] = iterator.ZoneConfig{
			Zone:         dns.Fqdn(fz.Name),
			Forward:      !fz.Stub,
			Stub:         fz.Stub,
			ForwardFirst: fz.ForwardFirst,
			StubFirst:    fz.StubFirst,
			Upstreams:    fz.Upstreams,
		}
	}

	iterCfg := iterator.Config{
		TargetFetchPolicy:      cfg.TargetFetchPolicy,
		UsefulServerTopTimeout: cfg.UsefulServerTopTimeout,
		Scrub:                  cfg.Scrub,
		MaxRestartCount:        cfg.MaxRestartCount,
		MaxReferralCount:       cfg.MaxReferralCount,
	}

	mainIter := &iterator.Iterator{
		MsgCache:    msgCache,
		RRCache:     rrCache,
		Infra:       infraCache,
		Mux:         mux,
		Hints:       rootHints,
		Zones:       zones,
		Cfg:         iterCfg,
		Clock:       clk,
		SubnetCache: subnetCache,
	}
	primingIter := &iterator.Iterator{
		MsgCache: msgCache,
		RRCache:  rrCache,
		Infra:    infraCache,
		Mux:      mux,
		Hints:    rootHints,
		Zones:    zones,
		Cfg:      iterCfg,
		Clock:    clk,
	}

	v := &validator.Validator{
		Keys:         keyCache,
		TrustAnchors: anchors,
		Clock:        clk,
		Cfg: validator.Config{
			PermissiveMode: cfg.PermissiveMode,
			IgnoreCD:       cfg.IgnoreCD,
			BogusTTL:       cfg.BogusTTL,
			NullKeyTTL:     cfg.NullKeyTTL,
			SigSkewMin:     cfg.SigSkewMin,
			SigSkewMax:     cfg.SigSkewMax,
			NSEC3Table:     cfg.NSEC3Table,
		},
	}

	primingArena := qstate.NewArena(cfg.MaxRestartCount)
	primingChain := qstate.NewChain(primingIter)
	primingIter.SetEngine(primingArena, primingChain)
	v.PrimingArena = primingArena
	v.PrimingChain = primingChain

	mainArena := qstate.NewArena(cfg.MaxRestartCount)
	mainChain := qstate.NewChain(v, mainIter)
	mainIter.SetEngine(mainArena, mainChain)

	if rec == nil {
		rec = telemetry.NoOp{}
	}

	return &Engine{
		Cfg:         cfg,
		MsgCache:    msgCache,
		RRCache:     rrCache,
		Infra:       infraCache,
		SubnetCache: subnetCache,
		Validator:   v,
		Arena:       mainArena,
		Chain:       mainChain,
		Telemetry:   rec,
		Clock:       clk,
		startedAt:   clk.Now(),
	}
}

// Resolve answers one client question, driving it synchronously through
// the module chain and every sub-query it spawns (qstate.Chain.
// RunToCompletion) to a finished or errored QueryState, per spec.md §4.1's
// module-chain pump. clientCD is the incoming request's CD bit; the
// validator consults it via QueryState.ClientCD.
func (e *Engine) Resolve(ctx context.Context, q model.Question, clientCD bool) (model.Answer, error) {
	return e.resolve(ctx, q, clientCD, nil)
}

// ResolveECS is Resolve with a client subnet (RFC 7871) attached to the
// query: the iterator routes the cache lookup and the outbound query
// through the radix-tree client-subnet keyspace instead of the plain
// message cache (spec.md §4.7), and propagates ecs to upstream
// authorities so the cached answer reflects their actual scope.
func (e *Engine) ResolveECS(ctx context.Context, q model.Question, clientCD bool, ecs *model.ClientSubnet) (model.Answer, error) {
	return e.resolve(ctx, q, clientCD, ecs)
}

func (e *Engine) resolve(ctx context.Context, q model.Question, clientCD bool, ecs *model.ClientSubnet) (model.Answer, error) {
	start := e.Clock.Now()

	qs := e.Arena.New()
	defer e.Arena.Release(qs.Index)

	qs.Query = q
	qs.Ctx = ctx
	qs.ClientCD = clientCD
	qs.ECS = ecs
	qs.ECSScope = -1

	d := e.Chain.RunToCompletion(e.Arena, qs)

	if d == qstate.DispositionError || qs.Reply == nil {
		err := qs.Err
		if err == nil {
			err = ErrNoDelegation
		}
		kind := KindResourceExhausted
		if ctx.Err() != nil {
			kind = KindTimeout
		}
		resErr := NewResolutionError(kind, err)
		e.Telemetry.QueryServed(q.Type, resErr.RCode(), model.StatusBogus.String(), e.Clock.Now().Sub(start))
		return model.Answer{}, resErr
	}

	reply := qs.Reply
	e.Telemetry.ValidationResult(reply.Security.String())
	e.Telemetry.QueryServed(q.Type, reply.Rcode, reply.Security.String(), e.Clock.Now().Sub(start))

	if reply.Security == model.StatusBogus {
		return model.Answer{}, NewResolutionError(KindValidationBogus, nil)
	}

	ans := model.Answer{
		Rcode:         reply.Rcode,
		Authenticated: reply.Security == model.StatusSecure,
	}
	ans.Answer = append(ans.Answer, qs.CNAMEChain...)
	for _, rrset := range reply.Answer {
		ans.Answer = append(ans.Answer, rrset.Rdata...)
	}
	for _, rrset := range reply.Authority {
		ans.Authority = append(ans.Authority, rrset.Rdata...)
	}
	for _, rrset := range reply.Additional {
		ans.Additional = append(ans.Additional, rrset.Rdata...)
	}
	return ans, nil
}

// Status implements Control.
func (e *Engine) Status() EngineStatus {
	st := EngineStatus{
		Uptime:        e.Clock.Now().Sub(e.startedAt),
		MsgCacheLen:   e.MsgCache.Len(),
		RRCacheLen:    e.RRCache.Len(),
		KeyCacheLen:   e.Validator.Keys.Len(),
		InfraCacheLen: e.Infra.Len(),
	}
	if e.SubnetCache != nil {
		st.SubnetCacheLen = e.SubnetCache.Len()
	}
	return st
}

// FlushCache implements Control, evicting every cache the engine owns.
func (e *Engine) FlushCache() {
	e.MsgCache.Purge()
	e.RRCache.Purge()
	e.Validator.Keys.Purge()
	e.Infra.Purge()
	if e.SubnetCache != nil {
		e.SubnetCache.Purge()
	}
}
