package iterator

import "testing"

func TestInBailiwick(t *testing.T) {
	cases := []struct {
		zone, name string
		want       bool
	}{
		{".", "anything.test.", true},
		{"example.test.", "example.test.", true},
		{"example.test.", "www.example.test.", true},
		{"example.test.", "evil.attacker.test.", false},
		{"example.test.", "notexample.test.", false},
		{"EXAMPLE.test.", "www.example.TEST.", true},
	}
	for _, c := range cases {
		if got := InBailiwick(c.zone, c.name); got != c.want {
			t.Errorf("InBailiwick(%q, %q) = %v, want %v", c.zone, c.name, got, c.want)
		}
	}
}
