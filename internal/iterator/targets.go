package iterator

import (
	"sort"
	"time"

	"github.com/brevity-dns/resolvd/internal/infra"
)

// candidate is one resolved (nameserver, address) pair ranked for
// selection, implementing spec.md §4.2 "query-targets" steps 1-3.
type candidate struct {
	nsName string
	addr   string
	rtt    time.Duration
	useful bool // rtt strictly below useful-server-top-timeout
}

// SelectTarget ranks the delegation point's resolved addresses and
// returns the best one to query next for zone at qtype, per spec.md §4.2
// "query-targets":
//  1. prefer targets with a measured RTT strictly below topTimeout,
//  2. exclude targets marked lame for qtype (or fully lame),
//  3. break ties by lowest RTT, with unknown targets niced at
//     defaultNiceness.
//
// ok is false when every resolved address is lame or none exist yet.
func SelectTarget(dp *DelegationPoint, infraCache *infra.Cache, qtype uint16, topTimeout time.Duration) (nsName, addr string, ok bool) {
	var candidates []candidate
	for _, ns := range dp.NameServers {
		for _, a := range ns.Addrs {
			key := infra.Key{ServerIP: a, Zone: dp.Zone}
			host, known := infraCache.Get(key)
			if known && host.Lame(qtype) {
				continue
			}
			rtt := defaultNiceness
			if known && host.RTT > 0 {
				rtt = host.RTT
			}
			candidates = append(candidates, candidate{
				nsName: ns.Name,
				addr:   a,
				rtt:    rtt,
				useful: rtt < topTimeout,
			})
		}
	}
	if len(candidates) == 0 {
		return "", "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].useful != candidates[j].useful {
			return candidates[i].useful // useful targets sort first
		}
		return candidates[i].rtt < candidates[j].rtt
	})
	best := candidates[0]
	return best.nsName, best.addr, true
}

// TargetsNeedingResolution returns the names of delegation nameservers
// that have no resolved address yet and are eligible to be fetched at
// depth under policy (spec.md §4.2 "query-targets" step 4): policy < 0
// fetches all, policy == 0 fetches none proactively (demand-only), policy
// > 0 caps the number of names returned.
func TargetsNeedingResolution(dp *DelegationPoint, depth int, policy []int) []string {
	p := -1
	if depth >= 0 && depth < len(policy) {
		p = policy[depth]
	} else if len(policy) > 0 {
		p = policy[len(policy)-1]
	}
	if p == 0 {
		return nil
	}
	var names []string
	for _, ns := range dp.NameServers {
		if len(ns.Addrs) == 0 {
			names = append(names, ns.Name)
		}
		if p > 0 && len(names) >= p {
			break
		}
	}
	return names
}
