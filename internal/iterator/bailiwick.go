package iterator

import "strings"

// InBailiwick reports whether name falls under zone, i.e. a server
// authoritative for zone is allowed to speak for name (spec.md §4.2
// "Bailiwick"). Both arguments are expected in canonical (lower-case,
// trailing-dot) form; InBailiwick folds case defensively.
func InBailiwick(zone, name string) bool {
	zone = strings.ToLower(zone)
	name = strings.ToLower(name)
	if zone == "." {
		return true
	}
	if name == zone {
		return true
	}
	return strings.HasSuffix(name, "."+zone)
}
