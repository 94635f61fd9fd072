// Package telemetry defines the resolver's optional metrics export
// surface (spec.md §1 "telemetry export"). It stays a thin interface: the
// engine calls Recorder (QueryServed and ValidationResult; nothing calls
// CacheLookup or OutboundAttempt) without knowing whether anything is
// actually listening.
package telemetry

import "time"

// Recorder is implemented by anything willing to observe resolver
// activity. Every method must be safe to call from multiple goroutines.
type Recorder interface {
	QueryServed(qtype uint16, rcode int, security string, d time.Duration)
	CacheLookup(cacheName string, hit bool)
	OutboundAttempt(target string, ok bool, d time.Duration)
	ValidationResult(status string)
}

// NoOp discards everything. It is the default Recorder so the engine
// never has to nil-check before recording.
type NoOp struct{}

func (NoOp) QueryServed(uint16, int, string, time.Duration) {}
func (NoOp) CacheLookup(string, bool)                       {}
func (NoOp) OutboundAttempt(string, bool, time.Duration)    {}
func (NoOp) ValidationResult(string)                        {}
