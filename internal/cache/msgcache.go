package cache

import (
	"hash/fnv"
	"time"

	"github.com/jmhodges/clock"

	"github.com/brevity-dns/resolvd/internal/model"
)

func hashQuestion(q model.Question) uint64 {
	h := fnv.New64a()
	h.Write([]byte(q.Key()))
	return h.Sum64()
}

// MessageCache caches whole MessageReply values keyed by Question, slabbed
// per spec.md §4.4.
type MessageCache struct {
	tbl *Table[model.Question, model.MessageReply]
}

func NewMessageCache(numSlabs, perSlabCapacity int, clk clock.Clock) *MessageCache {
	return &MessageCache{tbl: New[model.Question, model.MessageReply](numSlabs, perSlabCapacity, hashQuestion, clk)}
}

// Get returns a fresh, complete reply for q if one is cached, exactly as
// stored: Expiry stays an absolute Unix time, and the TTLs of the reply's
// RRsets and records are not rewritten relative to now.
func (c *MessageCache) Get(q model.Question, now time.Time) (model.MessageReply, bool) {
	m, _, ok := c.tbl.Get(q)
	if !ok {
		return model.MessageReply{}, false
	}
	if m.Expiry <= now.Unix() {
		c.tbl.Remove(q)
		return model.MessageReply{}, false
	}
	return m, true
}

// Add inserts reply under q, expiring at absoluteExpiry (unix seconds).
func (c *MessageCache) Add(q model.Question, reply model.MessageReply, absoluteExpiry int64, now time.Time) {
	reply.Expiry = absoluteExpiry
	ttl := time.Duration(absoluteExpiry-now.Unix()) * time.Second
	if ttl < 0 {
		return
	}
	c.tbl.Add(q, reply, ttl, false)
}

func (c *MessageCache) Remove(q model.Question) { c.tbl.Remove(q) }
func (c *MessageCache) Len() int                { return c.tbl.Len() }

// Purge evicts every cached reply, for the remote-control "flush_cache"
// operation (spec.md §1).
func (c *MessageCache) Purge() { c.tbl.Purge() }
