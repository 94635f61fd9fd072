package cache

import (
	"hash/fnv"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/model"
)

// RRSetKey identifies an RRset independent of which message referenced it,
// matching spec.md §3's "RRsets are content-addressed" (by owner/type/class,
// not message): two messages referencing the same (name, type, class) share
// one cache entry as long as its rdata agrees.
type RRSetKey struct {
	Name  string
	Type  uint16
	Class uint16
}

func (k RRSetKey) hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(k.Name))
	h.Write([]byte{byte(k.Type >> 8), byte(k.Type), byte(k.Class >> 8), byte(k.Class)})
	return h.Sum64()
}

func hashRRSetKey(k RRSetKey) uint64 { return k.hash() }

// RRsetCache caches individual RRsets, slabbed per spec.md §4.4. Each stored
// entry's version id (exposed via Version) is bumped only when the rdata
// actually changes, so callers holding a (key, version) reference can cheaply
// detect staleness without comparing full rdata themselves.
type RRsetCache struct {
	tbl *Table[RRSetKey, model.RRSet]
}

func NewRRsetCache(numSlabs, perSlabCapacity int, clk clock.Clock) *RRsetCache {
	return &RRsetCache{tbl: New[RRSetKey, model.RRSet](numSlabs, perSlabCapacity, hashRRSetKey, clk)}
}

// Get returns the cached RRset and its version id.
func (c *RRsetCache) Get(key RRSetKey) (model.RRSet, uint64, bool) {
	return c.tbl.Get(key)
}

// CheckVersion reports whether version still matches the live entry for key;
// a mismatch means the message-cache reference that recorded it is stale and
// must be re-checked (spec.md §3).
func (c *RRsetCache) CheckVersion(key RRSetKey, version uint64) bool {
	_, live, ok := c.tbl.Get(key)
	return ok && live == version
}

// Add inserts or updates rrset, returning its version id. If an identical
// rdata set is already cached, the version id is left unchanged (no bump) so
// outstanding references stay valid.
func (c *RRsetCache) Add(rrset model.RRSet, ttl time.Duration) uint64 {
	key := RRSetKey{Name: rrset.Name, Type: rrset.Type, Class: rrset.Class}
	if old, version, ok := c.tbl.Get(key); ok && rdataEqual(old.Rdata, rrset.Rdata) {
		c.tbl.Refresh(key, rrset, ttl, false) // refresh TTL, keep identity
		return version
	}
	c.tbl.Add(key, rrset, ttl, false)
	_, version, _ := c.tbl.Get(key)
	return version
}

func rdataEqual(a, b []dns.RR) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].String() != b[i].String() {
			return false
		}
	}
	return true
}

func (c *RRsetCache) Len() int { return c.tbl.Len() }

// Purge evicts every cached RRset.
func (c *RRsetCache) Purge() { c.tbl.Purge() }
