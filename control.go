package resolvd

import "time"

// EngineStatus is a snapshot of the running engine for the remote-control
// channel (spec.md §1 "remote-control channel"). The wire protocol that
// exposes it is an out-of-scope collaborator; cmd/resolvd serves this
// over a minimal localhost HTTP listener, not a custom protocol.
type EngineStatus struct {
	Uptime        time.Duration
	MsgCacheLen   int
	RRCacheLen    int
	KeyCacheLen   int
	InfraCacheLen int
	// SubnetCacheLen is 0 whenever Config.ClientSubnet is disabled.
	SubnetCacheLen int
}

// Control is the remote-control surface spec.md §1 names.
type Control interface {
	Status() EngineStatus
	FlushCache()
}

var _ Control = (*Engine)(nil)
