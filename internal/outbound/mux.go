// Package outbound implements the outbound query multiplexer: it owns the
// transport to upstream authorities, attributes replies back to their
// query, enforces per-try timeouts and retries, and coalesces identical
// concurrent outbound queries so dependent query states fate-share one
// on-the-wire exchange (spec.md §4.6, §5).
package outbound

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/brevity-dns/resolvd/internal/infra"
	"github.com/brevity-dns/resolvd/internal/model"
)

// Exchanger sends one DNS message to addr and returns the reply. It is the
// seam the wire transport (UDP/TCP sockets) plugs into; tests substitute a
// fake. This is the "outbound sockets" collaborator whose interface, not
// implementation, spec.md §1 scopes into this repo.
type Exchanger interface {
	Exchange(ctx context.Context, m *dns.Msg, addr string, useTCP bool) (*dns.Msg, time.Duration, error)
}

// DNSExchanger adapts *dns.Client to Exchanger, the production transport.
type DNSExchanger struct {
	UDP *dns.Client
	TCP *dns.Client
}

func NewDNSExchanger() *DNSExchanger {
	return &DNSExchanger{
		UDP: &dns.Client{Net: "udp"},
		TCP: &dns.Client{Net: "tcp"},
	}
}

func (e *DNSExchanger) Exchange(ctx context.Context, m *dns.Msg, addr string, useTCP bool) (*dns.Msg, time.Duration, error) {
	c := e.UDP
	if useTCP {
		c = e.TCP
	}
	r, rtt, err := c.ExchangeContext(ctx, m, addr)
	return r, rtt, err
}

var (
	ErrAllRetriesFailed = errors.New("outbound: all retries exhausted for target")
	Err0x20Mismatch     = errors.New("outbound: reply qname case does not match 0x20-randomized query")
)

// Config bounds retry/backoff behaviour (spec.md §4.6, §6).
type Config struct {
	MaxRetries             int
	BaseTimeout            time.Duration
	UsefulServerTopTimeout time.Duration
	Use0x20                bool
	EDNSBufferSize         uint16
	DO                     bool // set the DNSSEC OK bit

	// UpstreamQPS bounds the steady-state rate of outbound queries to any
	// one upstream (server, zone) pair; UpstreamBurst bounds how many
	// queries may fire back-to-back before pacing kicks in. UpstreamQPS
	// <= 0 disables pacing entirely (the default).
	UpstreamQPS   float64
	UpstreamBurst int
}

// Mux is the outbound query multiplexer.
type Mux struct {
	exch  Exchanger
	infra *infra.Cache
	cfg   Config
	sf    singleflight.Group

	limitersMu sync.Mutex
	limiters   map[infra.Key]*rate.Limiter
}

func New(exch Exchanger, infraCache *infra.Cache, cfg Config) *Mux {
	m := &Mux{exch: exch, infra: infraCache, cfg: cfg}
	if cfg.UpstreamQPS > 0 {
		m.limiters = make(map[infra.Key]*rate.Limiter)
	}
	return m
}

// limiterFor returns the pacing limiter for key, creating it on first use.
// Returns nil when pacing is disabled (Config.UpstreamQPS <= 0).
func (m *Mux) limiterFor(key infra.Key) *rate.Limiter {
	if m.limiters == nil {
		return nil
	}
	m.limitersMu.Lock()
	defer m.limitersMu.Unlock()
	l, ok := m.limiters[key]
	if !ok {
		burst := m.cfg.UpstreamBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(m.cfg.UpstreamQPS), burst)
		m.limiters[key] = l
	}
	return l
}

// Result is what a completed outbound exchange produced.
type Result struct {
	Msg       *dns.Msg
	Truncated bool
	Log       *model.QueryLog

	// ECSScope is the SourceScope an authority returned in its own EDNS
	// Client Subnet option (RFC 7871), or -1 if the query carried no ECS
	// option or the reply echoed none back.
	ECSScope int
}

// Query sends q to target (server address including its port, e.g.
// "192.0.2.1:53", dialled as given) for the given zone (target and zone
// together key the infra cache and record lameness on failure),
// retrying per spec.md §4.6's policy: at most cfg.MaxRetries attempts,
// doubling the timeout from the infra-cached RTT each time, capped at
// UsefulServerTopTimeout. Concurrent callers asking the identical question
// of the identical target share one on-the-wire exchange (spec.md §5
// fate-sharing) via singleflight; a context cancellation from one caller
// does not abort the exchange for the others still waiting on it.
func (m *Mux) Query(ctx context.Context, q model.Question, target, zone string) (*Result, error) {
	return m.QueryECS(ctx, q, target, zone, nil)
}

// QueryECS is Query with an EDNS Client Subnet option (RFC 7871) attached
// to the outbound query when ecs is non-nil, propagating the client's
// subnet to the authority per spec.md §4.7's cache-keyspace rationale.
// The authority's own SourceScope, if it returns one, is reported back on
// Result.ECSScope.
func (m *Mux) QueryECS(ctx context.Context, q model.Question, target, zone string, ecs *dns.EDNS0_SUBNET) (*Result, error) {
	sfKey := fmt.Sprintf("%s|%s|%d|%d", target, strings.ToLower(q.Name), q.Type, q.Class)
	if ecs != nil {
		sfKey = fmt.Sprintf("%s|%s/%d", sfKey, ecs.Address, ecs.SourceNetmask)
	}

	v, err, _ := m.sf.Do(sfKey, func() (any, error) {
		return m.exchange(context.Background(), q, target, zone, ecs)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (m *Mux) exchange(ctx context.Context, q model.Question, target, zone string, ecs *dns.EDNS0_SUBNET) (*Result, error) {
	log := &model.QueryLog{Query: q, Server: target}
	infraKey := infra.Key{ServerIP: target, Zone: zone}

	msg := new(dns.Msg)
	qname := q.Name
	if m.cfg.Use0x20 {
		qname = randomizeCase(qname)
	}
	msg.SetEdns0(m.cfg.EDNSBufferSize, m.cfg.DO)
	if ecs != nil {
		opt := msg.IsEdns0()
		opt.Option = append(opt.Option, ecs)
	}
	msg.Question = []dns.Question{{Name: qname, Qtype: q.Type, Qclass: q.Class}}
	msg.Id = dns.Id()

	var merr *multierror.Error
	useTCP := false
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if lim := m.limiterFor(infraKey); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("attempt %d via %s: rate limit wait: %w", attempt, target, err))
				continue
			}
		}
		timeout := m.tryTimeout(infraKey, attempt)
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		r, rtt, err := m.exch.Exchange(attemptCtx, msg, target, useTCP)
		cancel()

		if err != nil {
			m.infra.RecordTimeout(infraKey)
			merr = multierror.Append(merr, fmt.Errorf("attempt %d via %s: %w", attempt, target, err))
			continue
		}
		m.infra.RecordRTT(infraKey, maxDuration(rtt, time.Since(start)))

		if m.cfg.Use0x20 && len(r.Question) == 1 && r.Question[0].Name != qname {
			return nil, Err0x20Mismatch
		}

		if r.Truncated && !useTCP {
			// TCP fallback (spec.md §4.6): requery the same target over TCP
			// rather than counting this as a failed attempt.
			useTCP = true
			log.Truncated = true
			attempt--
			continue
		}

		log.Rcode = r.Rcode
		return &Result{Msg: r, Truncated: false, Log: log, ECSScope: ecsScope(r)}, nil
	}

	m.infra.MarkLame(infraKey, false, false, false, true)
	log.Error = ErrAllRetriesFailed.Error()
	if merr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllRetriesFailed, merr)
	}
	return nil, ErrAllRetriesFailed
}

// tryTimeout derives the per-try timeout from the infra-cached RTT for
// target, doubling per retry attempt and capping at UsefulServerTopTimeout
// (spec.md §4.6, §5).
func (m *Mux) tryTimeout(key infra.Key, attempt int) time.Duration {
	base := m.cfg.BaseTimeout
	if h, ok := m.infra.Get(key); ok && h.RTT > 0 {
		base = h.RTT
	}
	timeout := base << uint(attempt)
	if timeout > m.cfg.UsefulServerTopTimeout {
		timeout = m.cfg.UsefulServerTopTimeout
	}
	if timeout <= 0 {
		timeout = m.cfg.BaseTimeout
	}
	return timeout
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// ecsScope scans reply's OPT record for an EDNS Client Subnet option and
// returns its SourceScope, or -1 if the reply carries none (the filtering
// pattern mirrors semihalev/sdns's setEdns0 option scan).
func ecsScope(reply *dns.Msg) int {
	opt := reply.IsEdns0()
	if opt == nil {
		return -1
	}
	for _, o := range opt.Option {
		if sub, ok := o.(*dns.EDNS0_SUBNET); ok {
			return int(sub.SourceScope)
		}
	}
	return -1
}

// randomizeCase implements 0x20 case randomization (spec.md §4.6): each
// letter of name independently has its case flipped with probability 1/2,
// raising the difficulty of off-path spoofing because a forged reply must
// echo the exact random casing back.
func randomizeCase(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			if randBit() {
				b[i] = c - ('a' - 'A')
			}
		case c >= 'A' && c <= 'Z':
			if randBit() {
				b[i] = c + ('a' - 'A')
			}
		}
	}
	return string(b)
}

func randBit() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return false
	}
	return n.Int64() == 1
}
