package resolvd

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
)

// Kind is the internal error taxonomy of spec.md §7, distinct from the
// wire-visible RCODE a ResolutionError is translated to.
type Kind int

const (
	KindConfig Kind = iota
	KindResourceExhausted
	KindProtocolMalformed
	KindDependencyLoop
	KindValidationBogus
	KindTimeout
	KindLame
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config-error"
	case KindResourceExhausted:
		return "resource-exhausted"
	case KindProtocolMalformed:
		return "protocol-malformed"
	case KindDependencyLoop:
		return "dependency-loop"
	case KindValidationBogus:
		return "validation-bogus"
	case KindTimeout:
		return "timeout"
	case KindLame:
		return "lame"
	default:
		return "unknown-error-kind"
	}
}

// ResolutionError carries a taxonomy Kind alongside the underlying cause,
// grounded on the teacher's var Err... = errors.New(...) style in
// resolver.go/dnssec.go, extended to the taxonomy's named categories so
// the engine can decide an RCODE from the Kind alone (spec.md §7
// "Propagation").
type ResolutionError struct {
	Kind  Kind
	Cause error
}

func (e *ResolutionError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

func NewResolutionError(kind Kind, cause error) *ResolutionError {
	return &ResolutionError{Kind: kind, Cause: cause}
}

// RCode implements spec.md §7's propagation table for the
// error-disposition path: every taxonomy Kind here means no reply was
// produced at all, so every one of them is SERVFAIL. Permissive-mode's
// bogus-but-returned-as-indeterminate case is not reachable through
// this path: it only applies once a reply already exists, which the
// engine handles directly off the reply's SecurityStatus rather than
// through a Kind.
func (e *ResolutionError) RCode() int {
	return dns.RcodeServerFailure
}

var (
	ErrNoDelegation   = errors.New("resolvd: no enclosing delegation found and no root hints configured")
	ErrMalformedQuery = errors.New("resolvd: malformed client query")
	ErrEngineStopped  = errors.New("resolvd: engine is shut down")
)

// WrapAttempts folds per-target outbound failures accumulated across a
// whole top-level resolution into one error rather than surfacing only
// the last one, grounded on the same github.com/hashicorp/go-multierror
// use in blocky and erigon for exactly this accumulated-attempt pattern
// (spec.md §4.2 "no target remains").
func WrapAttempts(existing error, next error) error {
	if next == nil {
		return existing
	}
	return multierror.Append(existing, next)
}
