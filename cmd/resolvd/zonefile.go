package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/miekg/dns"

	"github.com/brevity-dns/resolvd/internal/hints"
)

func loadZoneFile(path, origin string) ([]dns.RR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return hints.Load(f, dns.Fqdn(origin))
}

// splitAnchorSpec parses a "zone=path" --trust-anchor flag value.
func splitAnchorSpec(spec string) (zone, path string, err error) {
	i := strings.IndexByte(spec, '=')
	if i < 0 {
		return "", "", fmt.Errorf("resolvd: --trust-anchor %q must be in zone=path form", spec)
	}
	return spec[:i], spec[i+1:], nil
}
