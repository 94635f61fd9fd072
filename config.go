// Package resolvd is a recursive, caching, DNSSEC-validating DNS
// resolver engine: a module chain (validator over iterator) driving
// query states through cache, infra and outbound layers. It is the
// assembled form of the internal/* packages; the config file grammar,
// the CLI wrapper, and the client-facing listener socket are explicitly
// out-of-scope collaborators left to cmd/resolvd.
package resolvd

import (
	"time"

	"github.com/brevity-dns/resolvd/internal/iterator"
	"github.com/brevity-dns/resolvd/internal/validator"
)

// ForwardZone configures one forward or stub zone (spec.md §6
// "stub/forward zones").
type ForwardZone struct {
	Name         string
	Upstreams    []string
	Stub         bool
	ForwardFirst bool
	StubFirst    bool
	StubPrime    bool
}

// Config is one immutable value gathering every option spec.md §6 names,
// per design note §9's "gather into one immutable configuration value."
// It is built by hand or by an external loader; this repo does not parse
// a file format (the loader is an out-of-scope collaborator).
type Config struct {
	// Protocol toggles.
	DoIP4, DoIP6   bool
	DoUDP, DoTCP   bool
	EDNSBufferSize uint16

	// Concurrency caps.
	NumThreads           int
	OutgoingRange        int
	OutgoingNumTCP       int
	IncomingNumTCP       int
	NumQueriesPerThread  int

	// Cache sizing: slab counts must be a power of two. Negative answers
	// (NXDOMAIN/NODATA) ride the message cache like any other reply
	// rather than a dedicated negative-cache table; there is no separate
	// knob for them.
	MsgCacheSlabs, MsgCacheCapacity     int
	RRCacheSlabs, RRCacheCapacity       int
	KeyCacheSlabs, KeyCacheCapacity     int
	InfraCacheSlabs, InfraCacheCapacity int

	// TTL bounds.
	CacheMinTTL, CacheMaxTTL time.Duration
	BogusTTL                 time.Duration
	NullKeyTTL               time.Duration

	// Hardening toggles.
	HardenGlue             bool
	HardenDNSSECStripped   bool
	HardenReferralPath     bool
	HardenBelowNXDOMAIN    bool
	UseCapsForID           bool
	RRSetRoundRobin        bool
	MinimalResponses       bool
	Prefetch, PrefetchKey  bool

	// Outbound behaviour.
	OutboundMsgRetry       int
	BaseTimeout            time.Duration
	UsefulServerTopTimeout time.Duration

	// UpstreamQPS/UpstreamBurst pace outbound queries per (server, zone)
	// upstream via golang.org/x/time/rate; UpstreamQPS <= 0 disables
	// pacing.
	UpstreamQPS   float64
	UpstreamBurst int

	// Iterator limits.
	MaxRestartCount  int
	MaxReferralCount int
	TargetFetchPolicy []int

	// Validator policy.
	ValOverrideDate  time.Time
	SigSkewMin       time.Duration
	SigSkewMax       time.Duration
	PermissiveMode   bool
	IgnoreCD         bool
	NSEC3Table       []validator.NSEC3IterationEntry

	// Zones and trust.
	ForwardZones []ForwardZone
	TrustAnchorFiles, TrustedKeysFiles []string
	AutoTrustAnchorFile                string

	Scrub iterator.ScrubConfig

	// ClientSubnet enables the radix-tree client-subnet cache keyspace
	// (spec.md §4.7) for queries the front-end tags with a client subnet.
	// ClientSubnetMaxDepth bounds how many bits of a client address a
	// cache entry keys on (32 for IPv4, 128 for IPv6 in the common case).
	ClientSubnet         bool
	ClientSubnetMaxDepth int
}

// DefaultConfig returns unbound-compatible defaults, grounded on the
// constants named in original_source/trunk/iterator/iterator.h
// (MAX_RESTART_COUNT 8, MAX_REFERRAL_COUNT 30, UNKNOWN_SERVER_NICENESS
// 376, USEFUL_SERVER_TOP_TIMEOUT 120000, OUTBOUND_MSG_RETRY 4) and
// validator.h (NULL_KEY_TTL 900).
func DefaultConfig() Config {
	return Config{
		DoIP4: true, DoIP6: true,
		DoUDP: true, DoTCP: true,
		EDNSBufferSize: 4096,

		NumThreads:          1,
		OutgoingRange:       60,
		OutgoingNumTCP:      10,
		IncomingNumTCP:      10,
		NumQueriesPerThread: 1024,

		MsgCacheSlabs: 4, MsgCacheCapacity: 4096,
		RRCacheSlabs: 4, RRCacheCapacity: 4096,
		KeyCacheSlabs: 4, KeyCacheCapacity: 1024,
		InfraCacheSlabs: 4, InfraCacheCapacity: 1024,

		CacheMinTTL: 0,
		CacheMaxTTL: 86400 * time.Second,
		BogusTTL:    60 * time.Second,
		NullKeyTTL:  900 * time.Second,

		HardenGlue:           true,
		HardenDNSSECStripped: true,
		HardenReferralPath:   false,
		HardenBelowNXDOMAIN:  true,
		UseCapsForID:         false,
		RRSetRoundRobin:      false,
		MinimalResponses:     true,

		OutboundMsgRetry:       4,
		BaseTimeout:            376 * time.Millisecond,
		UsefulServerTopTimeout: 120 * time.Second,
		UpstreamQPS:            0,
		UpstreamBurst:          1,

		MaxRestartCount:   8,
		MaxReferralCount:  30,
		TargetFetchPolicy: []int{3, 2, 1, 0, 0, 0, 0, -1},

		SigSkewMin: 10 * time.Second,
		SigSkewMax: 10 * time.Second,

		NSEC3Table: []validator.NSEC3IterationEntry{
			{KeySize: 1024, MaxIterations: 150},
			{KeySize: 2048, MaxIterations: 500},
			{KeySize: 4096, MaxIterations: 2500},
		},

		Scrub: iterator.ScrubConfig{MinTTL: 0, MaxTTL: 86400 * time.Second},

		ClientSubnet:         false,
		ClientSubnetMaxDepth: 56,
	}
}
