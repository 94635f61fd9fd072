package radix

import "testing"

func ipv4(a, b, c, d byte) []byte { return []byte{a, b, c, d} }

func TestInsertFindExact(t *testing.T) {
	tr := New[string](32)
	tr.Insert(ipv4(192, 0, 2, 0), 24, 24, "a")

	v, ok := tr.Find(ipv4(192, 0, 2, 55), 24)
	if !ok || v != "a" {
		t.Fatalf("Find = %q, %v; want a, true", v, ok)
	}
}

func TestFindRespectsNarrowerCallerMask(t *testing.T) {
	tr := New[string](32)
	// the client asked with a /16 mask and the authority answered with
	// scope 24: the answer is stored at depth 16, and because its scope is
	// finer than the caller's mask a later /16 lookup still returns it.
	tr.Insert(ipv4(192, 0, 2, 0), 16, 24, "a")

	v, ok := tr.Find(ipv4(192, 0, 2, 55), 16)
	if !ok || v != "a" {
		t.Fatalf("Find = %q, %v; want a, true", v, ok)
	}
}

func TestFindMissesNonPrefixKey(t *testing.T) {
	tr := New[string](32)
	tr.Insert(ipv4(192, 0, 2, 0), 24, 24, "a")

	_, ok := tr.Find(ipv4(203, 0, 113, 0), 24)
	if ok {
		t.Fatal("Find matched an unrelated key")
	}
}

func TestInsertSplitsSharedEdge(t *testing.T) {
	tr := New[string](32)
	tr.Insert(ipv4(192, 0, 2, 0), 25, 25, "lower")   // 192.0.2.0/25
	tr.Insert(ipv4(192, 0, 2, 128), 25, 25, "upper") // 192.0.2.128/25

	v, ok := tr.Find(ipv4(192, 0, 2, 10), 25)
	if !ok || v != "lower" {
		t.Fatalf("Find(lower) = %q, %v; want lower, true", v, ok)
	}
	v, ok = tr.Find(ipv4(192, 0, 2, 200), 25)
	if !ok || v != "upper" {
		t.Fatalf("Find(upper) = %q, %v; want upper, true", v, ok)
	}
}

func TestInsertUpdatesExistingScope(t *testing.T) {
	tr := New[string](32)
	tr.Insert(ipv4(192, 0, 2, 0), 24, 24, "first")
	tr.Insert(ipv4(192, 0, 2, 0), 24, 16, "second")

	v, ok := tr.Find(ipv4(192, 0, 2, 55), 16)
	if !ok || v != "second" {
		t.Fatalf("Find = %q, %v; want second, true", v, ok)
	}
}

func TestScopeClampedToMaxDepth(t *testing.T) {
	tr := New[string](20)
	tr.Insert(ipv4(192, 0, 2, 0), 24, 24, "a")

	// scope is clamped to 20, which is also < the original sourceMask(24),
	// so sourceMask is clamped too: the value should be reachable at depth 20.
	v, ok := tr.Find(ipv4(192, 0, 2, 55), 20)
	if !ok || v != "a" {
		t.Fatalf("Find = %q, %v; want a, true", v, ok)
	}
}

func TestFindNoValueReturnsFalse(t *testing.T) {
	tr := New[string](32)
	_, ok := tr.Find(ipv4(192, 0, 2, 1), 24)
	if ok {
		t.Fatal("Find on empty tree returned true")
	}
}
