package cache

import (
	"hash/fnv"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"
)

// KeyEntry maps a zone name to either a good DNSKEY set or a "null key"
// recording that the zone is provably insecure or that priming it has
// repeatedly failed, per spec.md §3. Null entries carry a short TTL (the
// validator's Config.NullKeyTTL, fed from the engine Config's NullKeyTTL,
// 900s in DefaultConfig) so the validator doesn't
// re-prime the same broken or insecure zone on every query.
type KeyEntry struct {
	Zone string
	Keys []dns.RR // DNSKEY RRs; empty when Null
	Null bool
}

func hashZone(zone string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(zone))
	return h.Sum64()
}

// KeyCache caches KeyEntry values keyed by zone name, slabbed per spec.md
// §4.4 (the "key" cache named alongside msg/rrset/infra/neg in §6).
type KeyCache struct {
	tbl *Table[string, KeyEntry]
}

func NewKeyCache(numSlabs, perSlabCapacity int, clk clock.Clock) *KeyCache {
	return &KeyCache{tbl: New[string, KeyEntry](numSlabs, perSlabCapacity, hashZone, clk)}
}

func (c *KeyCache) Get(zone string) (KeyEntry, bool) {
	v, _, ok := c.tbl.Get(zone)
	return v, ok
}

// AddGood caches a verified DNSKEY set for zone until ttl elapses.
func (c *KeyCache) AddGood(zone string, keys []dns.RR, ttl time.Duration) {
	c.tbl.Add(zone, KeyEntry{Zone: zone, Keys: keys}, ttl, false)
}

// AddNull caches a null-key verdict (provably insecure, or repeatedly
// unprimeable) for nullTTL, short-circuiting repeated find-key walks into
// the same zone (spec.md §4.3).
func (c *KeyCache) AddNull(zone string, nullTTL time.Duration) {
	c.tbl.Add(zone, KeyEntry{Zone: zone, Null: true}, nullTTL, false)
}

func (c *KeyCache) Len() int { return c.tbl.Len() }

// Purge evicts every cached key entry, including null-key verdicts.
func (c *KeyCache) Purge() { c.tbl.Purge() }
