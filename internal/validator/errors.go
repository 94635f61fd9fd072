package validator

import "errors"

// Sentinel errors, grounded directly on dnssec.go's var block of named
// Err... values.
var (
	ErrNoDNSKEY               = errors.New("validator: no DNSKEY records found for zone")
	ErrMissingKSK             = errors.New("validator: no KSK DNSKEY found matching parent DS records")
	ErrFailedToConvertKSK     = errors.New("validator: failed to convert KSK DNSKEY to DS record")
	ErrMismatchingDS          = errors.New("validator: KSK DNSKEY does not match DS record from parent zone")
	ErrNoSignatures           = errors.New("validator: no RRSIG records present for a zone that should be signed")
	ErrMissingDNSKEY          = errors.New("validator: no DNSKEY matches an RRSIG's key tag")
	ErrInvalidSignaturePeriod = errors.New("validator: signature outside its validity period")
	ErrBadAnswer              = errors.New("validator: sub-query returned a non-success RCODE")

	ErrNSECMismatch         = errors.New("validator: NSEC record doesn't match question")
	ErrNSECTypeExists       = errors.New("validator: NSEC type bitmap shows the queried type exists")
	ErrNSECMultipleCoverage = errors.New("validator: multiple NSEC records cover the same name")
	ErrNSECMissingCoverage  = errors.New("validator: no NSEC record covers the expected name")
	ErrNSECBadDelegation    = errors.New("validator: DS or SOA bit set in a delegation's NSEC type map")
	ErrNSECNSMissing        = errors.New("validator: NS bit not set in a delegation's NSEC type map")

	ErrNSEC3IterationsExceeded = errors.New("validator: NSEC3 iteration count exceeds the configured bound for this key size")
)
