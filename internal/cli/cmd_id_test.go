package cli

import (
	"testing"

	"github.com/koltyakov/relink/internal/id"
)

func TestIDCommand(t *testing.T) {
	out, err := idCommand("")
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if _, err := id.Parse(out); err != nil {
		t.Fatalf("random output %q: %v", out, err)
	}

	cases := []struct {
		in   string
		want string
	}{
		{"0", "06666666"},
		{"1099511627775", "9dDbKpJP"},
		{"9dDbKpJP", "1099511627775"},
	}
	for _, c := range cases {
		if got, err := idCommand(c.in); err != nil || got != c.want {
			t.Fatalf("idCommand(%q) = %q, %v, want %q", c.in, got, err, c.want)
		}
	}

	// Decimal input wins when a value parses both ways, so the round trip
	// goes through an ID that is not all digits.
	encoded, err := idCommand("42")
	if err != nil {
		t.Fatalf("encode 42: %v", err)
	}
	if back, err := idCommand(encoded); err != nil || back != "42" {
		t.Fatalf("round trip %q = %q, %v", encoded, back, err)
	}

	for _, in := range []string{"1099511627776", "notanid!", "xyz"} {
		if _, err := idCommand(in); err == nil {
			t.Fatalf("idCommand(%q) should fail", in)
		}
	}
}
