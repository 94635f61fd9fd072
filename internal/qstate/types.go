// Package qstate implements the query state machine and module chain
// (spec.md §4.1): a small ordered pipeline of Modules (validator over
// iterator, by default) driven by events, with sub-query attach/detach,
// (qkey, depth) cycle detection, and an arena that hands query states out
// by stable integer index rather than pointer, per §9's "arena-allocated
// query states addressed by stable indices" design note.
package qstate

import (
	"context"

	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/model"
)

// Event is what triggers a module's Operate call.
type Event int

const (
	EventNewQuery Event = iota
	EventPassThrough
	EventReplyArrived
	EventSubQueryFinished
	EventTimeout
	EventError
)

func (e Event) String() string {
	switch e {
	case EventNewQuery:
		return "new-query"
	case EventPassThrough:
		return "pass-through"
	case EventReplyArrived:
		return "reply-arrived"
	case EventSubQueryFinished:
		return "sub-query-finished"
	case EventTimeout:
		return "timeout"
	case EventError:
		return "error"
	default:
		return "unknown-event"
	}
}

// Disposition is what a module's Operate call returns.
type Disposition int

const (
	DispositionWait Disposition = iota
	DispositionNextModule
	DispositionFinished
	DispositionError
)

func (d Disposition) String() string {
	switch d {
	case DispositionWait:
		return "wait"
	case DispositionNextModule:
		return "next-module"
	case DispositionFinished:
		return "finished"
	case DispositionError:
		return "error"
	default:
		return "unknown-disposition"
	}
}

// Module is the capability interface every pipeline stage (iterator,
// validator) implements, named directly after
// original_source/trunk/validator/validator.h's val_init/val_deinit/
// val_operate/val_inform_super/val_clear/val_get_mem function-pointer
// block.
type Module interface {
	Init() error
	Deinit()
	Operate(qs *QueryState, ev Event) Disposition
	InformSuper(finishedSub *QueryState, super *QueryState)
	Clear(qs *QueryState)
	GetMem() uintptr
}

// QueryState is one in-flight (or finished) query as it moves through the
// module chain. It is obtained from an Arena and addressed by its stable
// Index, never passed around as a bare pointer across worker boundaries.
type QueryState struct {
	Index int

	// Ctx bounds outbound network calls made while resolving this query;
	// the engine sets it from the inbound request's context, and reset
	// clears it when the state is reused (a nil Ctx means "use
	// context.Background()").
	Ctx context.Context

	Query model.Question

	ModuleIndex int
	RestartCount  int
	ReferralCount int
	Depth         int

	// Supers/Subs hold Arena indices, not pointers, per §4.1's "linked
	// back by a list of supers" sub-query mechanism.
	Supers []int
	Subs   []int

	Done  bool
	Err   error
	Reply *model.MessageReply

	// ClientCD is set by the engine from the incoming request's CD bit.
	// The validator skips validation for a query with ClientCD set unless
	// ignore-cd-flag is configured (spec.md §4.3/§6).
	ClientCD bool

	// ECS is the client subnet the engine attached to this query, if any;
	// non-nil routes the iterator's cache lookups through the radix-tree
	// client-subnet keyspace instead of the plain message cache (spec.md
	// §4.7). ECSScope records the authority's claimed scope for the
	// answer once one arrives.
	ECS      *model.ClientSubnet
	ECSScope int

	// CNAMEChain is the iterator's "an_prepend_list": CNAME RRs collected
	// while chasing a CNAME chain, prepended to the final answer in order.
	CNAMEChain []dns.RR
	// NSPrepend is the iterator's "ns_prepend_list" slot for authority-
	// section RRs. It is cleared by reset; no module appends to it.
	NSPrepend []dns.RR

	// ModuleData lets each module stash per-query scratch state without
	// the modules needing to know about each other's types.
	ModuleData map[int]any
}

func (qs *QueryState) reset() {
	qs.Index = 0
	qs.Ctx = nil
	qs.Query = model.Question{}
	qs.ModuleIndex = 0
	qs.RestartCount = 0
	qs.ReferralCount = 0
	qs.Depth = 0
	qs.Supers = qs.Supers[:0]
	qs.Subs = qs.Subs[:0]
	qs.Done = false
	qs.Err = nil
	qs.Reply = nil
	qs.ClientCD = false
	qs.ECS = nil
	qs.ECSScope = -1
	qs.CNAMEChain = qs.CNAMEChain[:0]
	qs.NSPrepend = qs.NSPrepend[:0]
	for k := range qs.ModuleData {
		delete(qs.ModuleData, k)
	}
}
