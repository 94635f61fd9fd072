package iterator

import "time"

// NSTarget is one nameserver of a delegation, possibly still missing its
// resolved addresses (spec.md §4.2 "query-targets" step 4).
type NSTarget struct {
	Name             string
	Addrs            []string
	NeedsA           bool
	NeedsAAAA        bool
	TargetSubQueries []int // outstanding qstate.Arena indices resolving Addrs
}

// DelegationPoint is the current zone cut the iterator is querying
// underneath (spec.md §4.2 "Init").
type DelegationPoint struct {
	Zone        string
	NameServers []NSTarget

	// Forward/Stub mark a delegation point that was supplied directly by
	// configuration rather than discovered via cache/root-hints (spec.md
	// §4.2 "Stub and forward zones shortcut this").
	Forward bool
	Stub    bool
}

// ZoneConfig configures one forward or stub zone (spec.md §6, resolving
// Open Question (i) per SPEC_FULL.md §4.2).
type ZoneConfig struct {
	Zone         string
	Forward      bool
	Stub         bool
	ForwardFirst bool
	StubFirst    bool
	Upstreams    []string
}

func (z ZoneConfig) fallbackAllowed() bool {
	if z.Forward {
		return z.ForwardFirst
	}
	return z.StubFirst
}

func (z ZoneConfig) delegationPoint() *DelegationPoint {
	dp := &DelegationPoint{Zone: z.Zone, Forward: z.Forward, Stub: z.Stub}
	for _, addr := range z.Upstreams {
		dp.NameServers = append(dp.NameServers, NSTarget{Name: z.Zone, Addrs: []string{addr}})
	}
	return dp
}

// defaultNiceness is the RTT assigned to a target with no infra-cache history yet
// (spec.md §4.2 "query-targets" step 3; spec.md §6 unknown-server-niceness).
const defaultNiceness = 376 * time.Millisecond
