// Package infra implements the infrastructure cache: per (server, zone)
// host health used by the iterator to rank and avoid upstream targets
// (spec.md §4.5).
package infra

import (
	"hash/fnv"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/cache"
)

// Key identifies one (server IP, zone) pair.
type Key struct {
	ServerIP string
	Zone     string
}

func hashKey(k Key) uint64 {
	h := fnv.New64a()
	h.Write([]byte(k.ServerIP))
	h.Write([]byte{0})
	h.Write([]byte(k.Zone))
	return h.Sum64()
}

// Host is the tracked health of one upstream for one zone.
type Host struct {
	RTT          time.Duration
	ALame        bool
	AAAALame     bool
	DNSSECLame   bool
	FullyLame    bool
	BackoffUntil time.Time
}

// Lame reports whether this host should be skipped entirely for qtype
// queries against this zone (spec.md §4.2 query-targets step 2).
func (h Host) Lame(qtype uint16) bool {
	if h.FullyLame {
		return true
	}
	switch qtype {
	case dns.TypeA:
		return h.ALame
	case dns.TypeAAAA:
		return h.AAAALame
	default:
		return false
	}
}

// rttEWMASmoothing is the weight given to a new RTT sample; 1/8 mirrors the
// classic TCP RTO smoothing shape (no single original-source file for this
// constant was retrieved — see DESIGN.md).
const rttEWMASmoothing = 8

// Cache tracks Host records, slabbed per spec.md §4.4's mechanism (reused
// here for the infra cache as spec.md §4.5 doesn't call for anything
// structurally different).
type Cache struct {
	tbl      *cache.Table[Key, Host]
	clk      clock.Clock
	topTimeout time.Duration
	hostTTL  time.Duration
}

// New returns an infra cache. topTimeout bounds how large a backed-off RTT
// estimate can grow (useful-server-top-timeout, spec.md §4.2); hostTTL
// bounds how long a negative judgement (lameness, backoff) persists before
// the server is retried (spec.md §4.5 "host-ttl").
func New(numSlabs, perSlabCapacity int, topTimeout, hostTTL time.Duration, clk clock.Clock) *Cache {
	return &Cache{
		tbl:        cache.New[Key, Host](numSlabs, perSlabCapacity, hashKey, clk),
		clk:        clk,
		topTimeout: topTimeout,
		hostTTL:    hostTTL,
	}
}

// Get returns the current Host record for key, or the zero value with
// ok == false if nothing has been recorded yet.
func (c *Cache) Get(key Key) (Host, bool) {
	h, _, ok := c.tbl.Get(key)
	if !ok {
		return Host{}, false
	}
	if !h.BackoffUntil.IsZero() && c.clk.Now().After(h.BackoffUntil) {
		// expired negative judgement: present as healthy so the iterator
		// retries this server (spec.md §4.5 "host-ttl").
		h.ALame, h.AAAALame, h.DNSSECLame, h.FullyLame = false, false, false, false
	}
	return h, true
}

// RecordRTT folds a new latency sample into the smoothed RTT for key.
func (c *Cache) RecordRTT(key Key, sample time.Duration) {
	h, _ := c.Get(key)
	if h.RTT == 0 {
		h.RTT = sample
	} else {
		h.RTT += (sample - h.RTT) / rttEWMASmoothing
	}
	c.tbl.Add(key, h, c.hostTTL, false)
}

// RecordTimeout doubles the backed-off RTT estimate for key, capped at
// topTimeout, per spec.md §4.5's probe-backoff rule.
func (c *Cache) RecordTimeout(key Key) {
	h, _ := c.Get(key)
	if h.RTT == 0 {
		h.RTT = c.topTimeout / 16
	}
	h.RTT *= 2
	if h.RTT > c.topTimeout {
		h.RTT = c.topTimeout
	}
	c.tbl.Add(key, h, c.hostTTL, false)
}

// MarkLame records that key answered but was not authoritative (or failed
// DNSSEC) for this zone, for the given reason.
func (c *Cache) MarkLame(key Key, aLame, aaaaLame, dnssecLame, fullyLame bool) {
	h, _ := c.Get(key)
	h.ALame = h.ALame || aLame
	h.AAAALame = h.AAAALame || aaaaLame
	h.DNSSECLame = h.DNSSECLame || dnssecLame
	h.FullyLame = h.FullyLame || fullyLame
	h.BackoffUntil = c.clk.Now().Add(c.hostTTL)
	c.tbl.Add(key, h, c.hostTTL, false)
}

func (c *Cache) Len() int { return c.tbl.Len() }

// Purge evicts every tracked host record.
func (c *Cache) Purge() { c.tbl.Purge() }
