package id

import (
	"errors"
	"sort"
	"testing"
)

func TestEncodeKnownValues(t *testing.T) {
	cases := []struct {
		bytes [5]byte
		want  string
	}{
		{[5]byte{0x21, 0x22, 0x23, 0x24, 0x25}, "1HJ6CH79"},
		{[5]byte{0x00, 0x22, 0x44, 0x66, 0x88}, "06FHjHkx"},
		{[5]byte{0x31, 0x32, 0x33, 0x34, 0x35}, "1qDhG8Tr"},
		{[5]byte{0x11, 0x33, 0x55, 0x77, 0x99}, "0fXMgWQz"},
		{[5]byte{0x73, 0x65, 0x72, 0x64, 0x65}, "4Ld9TJrd"},
	}
	for _, c := range cases {
		if got := FromBytes(c.bytes).String(); got != c.want {
			t.Fatalf("FromBytes(%v) = %q, want %q", c.bytes, got, c.want)
		}
	}
}

func TestBounds(t *testing.T) {
	if got := Min.String(); got != "06666666" {
		t.Fatalf("Min = %q", got)
	}
	if got := Max.String(); got != "9dDbKpJP" {
		t.Fatalf("Max = %q", got)
	}
	if Max.Uint64() != 1<<40-1 {
		t.Fatalf("Max value = %d", Max.Uint64())
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 37, 38, 1 << 20, 1 << 39, 1<<40 - 1} {
		v, err := FromUint64(n)
		if err != nil {
			t.Fatalf("FromUint64(%d): %v", n, err)
		}
		back, err := Parse(v.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", v, err)
		}
		if back != v {
			t.Fatalf("round trip %d: got %d", n, back.Uint64())
		}
	}
	if _, err := Parse("07Qdzc9W"); err != nil {
		t.Fatalf("Parse(07Qdzc9W): %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"", ErrLength},
		{"1HJ6CH7", ErrLength},
		{"1HJ6CH799", ErrLength},
		{"xHJ6CH79", ErrCharacter},
		{"00000000", ErrCharacter},
		{"1HJ6CH7O", ErrCharacter},
		{"9dDbKpJQ", ErrRange},
		{"9pqrtwxz", ErrRange},
	}
	for _, c := range cases {
		if _, err := Parse(c.in); !errors.Is(err, c.want) {
			t.Fatalf("Parse(%q) = %v, want %v", c.in, err, c.want)
		}
	}
}

func TestFromUint64Range(t *testing.T) {
	if _, err := FromUint64(1<<40 - 1); err != nil {
		t.Fatalf("max value rejected: %v", err)
	}
	if _, err := FromUint64(1 << 40); !errors.Is(err, ErrRange) {
		t.Fatalf("expected ErrRange, got %v", err)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	b := [5]byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	if got := FromBytes(b).Bytes(); got != b {
		t.Fatalf("bytes round trip: got %v", got)
	}
}

func TestOrderPreserved(t *testing.T) {
	values := []uint64{0, 5, 37, 38, 39, 1444, 99999, 1 << 24, 1 << 39, 1<<40 - 2, 1<<40 - 1}
	encoded := make([]string, len(values))
	for i, n := range values {
		v, err := FromUint64(n)
		if err != nil {
			t.Fatalf("FromUint64(%d): %v", n, err)
		}
		encoded[i] = v.String()
	}
	if !sort.StringsAreSorted(encoded) {
		t.Fatalf("encoded forms not in numeric order: %v", encoded)
	}
}

func TestCandidate(t *testing.T) {
	for _, s := range []string{"0", "42abcde1", "9dDbKpJP", "07Qdzc9W"} {
		if !Candidate(s) {
			t.Fatalf("Candidate(%q) = false", s)
		}
	}
	for _, s := range []string{"", "abc", "xHJ6CH79", "-1"} {
		if Candidate(s) {
			t.Fatalf("Candidate(%q) = true", s)
		}
	}
}

func TestRandom(t *testing.T) {
	v, err := Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	if _, err := Parse(v.String()); err != nil {
		t.Fatalf("Parse(Random) = %v", err)
	}
}
