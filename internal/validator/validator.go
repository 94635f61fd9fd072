// Package validator implements the DNSSEC validation module (spec.md
// §4.3): classify -> find-key -> validate -> finished, building (and
// caching) the DNSKEY chain of trust from a configured anchor down to
// each reply's signer and verifying RRSIGs and NSEC/NSEC3 denial proofs
// over it.
package validator

import (
	"errors"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/cache"
	"github.com/brevity-dns/resolvd/internal/model"
	"github.com/brevity-dns/resolvd/internal/qstate"
)

var errInsecureIterations = errors.New("validator: NSEC3 iteration count exceeds bound, demoting to insecure")

// Config bounds validation policy (spec.md §4.3, §6).
type Config struct {
	PermissiveMode bool
	IgnoreCD       bool
	BogusTTL       time.Duration
	NullKeyTTL     time.Duration
	SigSkewMin     time.Duration
	SigSkewMax     time.Duration
	NSEC3Table     []NSEC3IterationEntry
}

// Validator is the spec.md §4.3 module.
//
// Find-key's "spawn a sub-query for DS then DNSKEY, and suspend" is
// implemented as a synchronous priming lookup through PrimingChain (an
// iterator-only qstate.Chain over PrimingArena): since this repo's
// outbound.Mux.Query is itself a blocking call, there is no suspension to
// model here, and routing priming lookups through the full
// [validator, iterator] chain would recurse into validating a zone's own
// DNSKEY while still establishing it. Using a dedicated iterator-only
// chain for these lookups mirrors the teacher's own lookupDNSKEY, which
// fetches and verifies a zone's keys inline rather than recursing through
// the generic resolver path.
type Validator struct {
	Keys         *cache.KeyCache
	TrustAnchors map[string]TrustAnchor
	Cfg          Config
	Clock        clock.Clock

	PrimingArena *qstate.Arena
	PrimingChain *qstate.Chain
}

func (v *Validator) Init() error                    { return nil }
func (v *Validator) Deinit()                        {}
func (v *Validator) Clear(qs *qstate.QueryState)     {}
func (v *Validator) GetMem() uintptr                 { return 0 }
func (v *Validator) InformSuper(sub, super *qstate.QueryState) {}

func (v *Validator) now() time.Time { return v.Clock.Now() }

// Operate lets the iterator run first (there is nothing to validate
// before an answer exists), then validates the populated reply on the
// way back up the chain.
func (v *Validator) Operate(qs *qstate.QueryState, ev qstate.Event) qstate.Disposition {
	if ev == qstate.EventTimeout || ev == qstate.EventError {
		return qstate.DispositionError
	}
	if qs.Reply == nil {
		return qstate.DispositionNextModule
	}
	if qs.ClientCD && !v.Cfg.IgnoreCD {
		return qstate.DispositionFinished
	}
	v.validate(qs)
	return qstate.DispositionFinished
}

func (v *Validator) validate(qs *qstate.QueryState) {
	reply := qs.Reply

	signer, hasSigner := findSigner(reply)
	if !hasSigner {
		if _, anchored := closestAnchor(v.TrustAnchors, qs.Query.Name); !anchored {
			reply.Security = reply.Security.Advance(model.StatusIndeterminate)
		} else {
			reply.Security = reply.Security.Advance(model.StatusInsecure)
		}
		return
	}

	anchor, ok := closestAnchor(v.TrustAnchors, signer)
	if !ok {
		reply.Security = reply.Security.Advance(model.StatusIndeterminate)
		return
	}

	keys, status, err := v.establishKeys(anchor, signer)
	if err != nil {
		v.demoteBogus(reply)
		return
	}
	if status != model.StatusSecure {
		reply.Security = reply.Security.Advance(status)
		return
	}

	if err := v.verifySections(keys, reply); err != nil {
		if err == errInsecureIterations {
			reply.Security = reply.Security.Advance(model.StatusInsecure)
			return
		}
		v.demoteBogus(reply)
		return
	}
	reply.Security = reply.Security.Advance(model.StatusSecure)
}

func findSigner(reply *model.MessageReply) (string, bool) {
	for _, section := range [][]model.RRSet{reply.Answer, reply.Authority} {
		for _, rrset := range section {
			if rrset.Type != dns.TypeRRSIG {
				continue
			}
			for _, rr := range rrset.Rdata {
				if sig, ok := rr.(*dns.RRSIG); ok {
					return sig.SignerName, true
				}
			}
		}
	}
	return "", false
}

func flattenSection(section []model.RRSet) []dns.RR {
	var out []dns.RR
	for _, rrset := range section {
		out = append(out, rrset.Rdata...)
	}
	return out
}

// establishKeys walks the zone chain from anchor down to signer,
// fetching and verifying each zone's DNSKEY set (and, between hops, the
// child zone's DS set) until signer's key is established or the chain
// resolves to insecure/bogus (spec.md §4.3 "Find-key").
func (v *Validator) establishKeys(anchor TrustAnchor, signer string) ([]dns.RR, model.SecurityStatus, error) {
	keys, status, err := v.ensureZoneKey(anchor.Zone, anchor.DS)
	if err != nil || status != model.StatusSecure {
		return nil, status, err
	}

	for _, zone := range zonesBetween(anchor.Zone, signer) {
		ds, err := v.fetchDS(zone, keys)
		if err != nil {
			return nil, model.StatusBogus, err
		}
		if ds == nil {
			v.Keys.AddNull(zone, v.Cfg.NullKeyTTL)
			return nil, model.StatusInsecure, nil
		}
		keys, status, err = v.ensureZoneKey(zone, ds)
		if err != nil || status != model.StatusSecure {
			return nil, status, err
		}
	}
	return keys, model.StatusSecure, nil
}

func (v *Validator) ensureZoneKey(zone string, parentDS []dns.RR) ([]dns.RR, model.SecurityStatus, error) {
	if entry, hit := v.Keys.Get(zone); hit {
		if entry.Null {
			return nil, model.StatusInsecure, nil
		}
		return entry.Keys, model.StatusSecure, nil
	}

	msg, err := v.prime(zone, dns.TypeDNSKEY)
	if err != nil || msg == nil || len(msg.Answer) == 0 {
		v.Keys.AddNull(zone, v.Cfg.NullKeyTTL)
		return nil, model.StatusBogus, ErrNoDNSKEY
	}
	keyMap := keyMapByTag(msg.Answer)
	if len(keyMap) == 0 {
		v.Keys.AddNull(zone, v.Cfg.NullKeyTTL)
		return nil, model.StatusBogus, ErrNoDNSKEY
	}
	if len(parentDS) > 0 {
		if err := checkDS(keyMap, parentDS); err != nil {
			return nil, model.StatusBogus, err
		}
	}
	if err := verifyRRSIGsForSection(msg.Answer, keyMap, v.now, v.Cfg.SigSkewMin, v.Cfg.SigSkewMax); err != nil {
		return nil, model.StatusBogus, err
	}
	v.Keys.AddGood(zone, msg.Answer, ttlFor(msg.Answer, time.Hour))
	return msg.Answer, model.StatusSecure, nil
}

// fetchDS retrieves and verifies zone's DS set, signed by the
// already-established parentKeys. A nil, nil result means the parent
// proved (or simply returned) no DS for zone: an insecure delegation.
func (v *Validator) fetchDS(zone string, parentKeys []dns.RR) ([]dns.RR, error) {
	msg, err := v.prime(zone, dns.TypeDS)
	if err != nil {
		return nil, err
	}
	if msg.Rcode == dns.RcodeNameError || len(msg.Answer) == 0 {
		return nil, nil
	}
	keyMap := keyMapByTag(parentKeys)
	if err := verifyRRSIGsForSection(msg.Answer, keyMap, v.now, v.Cfg.SigSkewMin, v.Cfg.SigSkewMax); err != nil {
		return nil, err
	}
	return msg.Answer, nil
}

// prime runs a standalone iterator-only lookup for (zone, qtype).
func (v *Validator) prime(zone string, qtype uint16) (*dns.Msg, error) {
	qs := v.PrimingArena.New()
	defer v.PrimingArena.Release(qs.Index)
	qs.Query = model.Question{Name: zone, Type: qtype, Class: dns.ClassINET}

	d := v.PrimingChain.RunToCompletion(v.PrimingArena, qs)
	if d != qstate.DispositionFinished || qs.Reply == nil {
		return nil, ErrBadAnswer
	}
	return replyToMsg(qs.Reply), nil
}

func replyToMsg(r *model.MessageReply) *dns.Msg {
	m := new(dns.Msg)
	m.Rcode = r.Rcode
	m.Answer = flattenSection(r.Answer)
	m.Ns = flattenSection(r.Authority)
	m.Extra = flattenSection(r.Additional)
	return m
}

func (v *Validator) verifySections(keys []dns.RR, reply *model.MessageReply) error {
	keyMap := keyMapByTag(keys)
	for _, section := range [][]model.RRSet{reply.Answer, reply.Authority} {
		if err := verifyRRSIGsForSection(flattenSection(section), keyMap, v.now, v.Cfg.SigSkewMin, v.Cfg.SigSkewMax); err != nil {
			return err
		}
	}
	return v.verifyDenialProofs(reply, keys)
}

// verifyDenialProofs checks NSEC/NSEC3 proofs for negative answers
// (spec.md §4.3 step 3), bounding NSEC3 iteration counts by key size.
func (v *Validator) verifyDenialProofs(reply *model.MessageReply, keys []dns.RR) error {
	var nsec []dns.RR
	for _, rrset := range reply.Authority {
		if rrset.Type == dns.TypeNSEC || rrset.Type == dns.TypeNSEC3 {
			nsec = append(nsec, rrset.Rdata...)
		}
	}
	if len(nsec) == 0 {
		return nil
	}

	size := nominalKeySize(keys)
	for _, rr := range nsec {
		if n3, ok := rr.(*dns.NSEC3); ok {
			if !CheckNSEC3Iterations(v.Cfg.NSEC3Table, size, int(n3.Iterations)) {
				return errInsecureIterations
			}
		}
	}

	if reply.Rcode == dns.RcodeNameError {
		return verifyNameError(reply.Key.Name, nsec)
	}
	if len(reply.Answer) == 0 {
		return verifyNODATA(reply.Key.Name, reply.Key.Type, nsec)
	}
	return nil
}

func nominalKeySize(keys []dns.RR) int {
	for _, rr := range keys {
		if k, ok := rr.(*dns.DNSKEY); ok {
			return len(k.PublicKey) * 6 // base64 digit -> approximate bits
		}
	}
	return 0
}

func (v *Validator) demoteBogus(reply *model.MessageReply) {
	if v.Cfg.PermissiveMode {
		reply.Security = reply.Security.Advance(model.StatusIndeterminate)
	} else {
		reply.Security = reply.Security.Advance(model.StatusBogus)
	}
	reply.Expiry = v.now().Add(v.Cfg.BogusTTL).Unix()
}

func ttlFor(rrs []dns.RR, fallback time.Duration) time.Duration {
	min := uint32(0)
	for _, rr := range rrs {
		if min == 0 || rr.Header().Ttl < min {
			min = rr.Header().Ttl
		}
	}
	if min == 0 {
		return fallback
	}
	return time.Duration(min) * time.Second
}
