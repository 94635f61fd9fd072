package cache

import (
	"sync"

	"github.com/brevity-dns/resolvd/internal/model"
	"github.com/brevity-dns/resolvd/internal/radix"
)

// SubnetCache is the client-subnet cache keyspace of spec.md §4.7: one
// radix.Tree per Question, each entry addressed by the querying client's
// subnet bits rather than a plain key, so answers that an authority varies
// by EDNS Client Subnet (RFC 7871) don't collide in the ordinary message
// cache.
type SubnetCache struct {
	mu       sync.Mutex
	byQKey   map[string]*radix.Tree[model.MessageReply]
	maxDepth int
}

// NewSubnetCache returns an empty SubnetCache; maxDepthBits bounds how many
// bits of a client's address a tree will key on (spec.md §4.7 "scope >
// max-depth, clamp").
func NewSubnetCache(maxDepthBits int) *SubnetCache {
	return &SubnetCache{
		byQKey:   make(map[string]*radix.Tree[model.MessageReply]),
		maxDepth: maxDepthBits,
	}
}

func (c *SubnetCache) treeFor(q model.Question) *radix.Tree[model.MessageReply] {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.byQKey[q.Key()]
	if !ok {
		t = radix.New[model.MessageReply](c.maxDepth)
		c.byQKey[q.Key()] = t
	}
	return t
}

// Get returns the reply cached for q under the client subnet
// addr/sourceMask, per spec.md §4.7's Find.
func (c *SubnetCache) Get(q model.Question, addr []byte, sourceMask int) (model.MessageReply, bool) {
	c.mu.Lock()
	t, ok := c.byQKey[q.Key()]
	c.mu.Unlock()
	if !ok {
		return model.MessageReply{}, false
	}
	return t.Find(addr, sourceMask)
}

// Add records reply as the answer for q under addr truncated to
// sourceMask bits, with the scope the authority claimed for that answer
// (spec.md §4.7's Insert).
func (c *SubnetCache) Add(q model.Question, addr []byte, sourceMask, scope int, reply model.MessageReply) {
	c.treeFor(q).Insert(addr, sourceMask, scope, reply)
}

// Purge discards every per-question tree, for the remote-control
// "flush_cache" operation (spec.md §1 "remote-control channel").
func (c *SubnetCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byQKey = make(map[string]*radix.Tree[model.MessageReply])
}

// Len returns the number of distinct questions with at least one cached
// subnet entry, for the remote-control status snapshot.
func (c *SubnetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byQKey)
}
