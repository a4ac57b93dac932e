package domainmap

import (
	"sort"
	"testing"
)

func TestMapLookup(t *testing.T) {
	m := New[int]()

	if _, ok := m.Lookup(mustReference(t, "example.com")); ok {
		t.Fatalf("empty map returned a value")
	}

	m.Set(mustPresented(t, "example.com"), 1)
	m.Set(mustPresented(t, "*.example.com"), 10)

	if v, ok := m.Lookup(mustReference(t, "example.com")); !ok || v != 1 {
		t.Fatalf("example.com = %d, %v", v, ok)
	}
	if v, ok := m.Lookup(mustReference(t, "foo.example.com")); !ok || v != 10 {
		t.Fatalf("foo.example.com = %d, %v", v, ok)
	}
	// Wildcards cover exactly one label.
	if _, ok := m.Lookup(mustReference(t, "a.b.example.com")); ok {
		t.Fatalf("two-label match should miss")
	}
	if _, ok := m.Lookup(mustReference(t, "other.com")); ok {
		t.Fatalf("unrelated domain should miss")
	}
}

func TestMapExactBeatsWildcard(t *testing.T) {
	// Both insertion orders must give the same result.
	for _, exactFirst := range []bool{true, false} {
		m := New[int]()
		if exactFirst {
			m.Set(mustPresented(t, "www.example.com"), 250)
			m.Set(mustPresented(t, "*.example.com"), 100)
		} else {
			m.Set(mustPresented(t, "*.example.com"), 100)
			m.Set(mustPresented(t, "www.example.com"), 250)
		}
		if v, _ := m.Lookup(mustReference(t, "www.example.com")); v != 250 {
			t.Fatalf("exactFirst=%v: www = %d, want 250", exactFirst, v)
		}
		if v, _ := m.Lookup(mustReference(t, "other.example.com")); v != 100 {
			t.Fatalf("exactFirst=%v: other = %d, want 100", exactFirst, v)
		}
	}
}

func TestMapDeeperWildcardWins(t *testing.T) {
	m := New[int]()
	m.Set(mustPresented(t, "*.example.com"), 1)
	m.Set(mustPresented(t, "*.a.example.com"), 2)

	if v, ok := m.Lookup(mustReference(t, "x.a.example.com")); !ok || v != 2 {
		t.Fatalf("x.a.example.com = %d, %v, want 2", v, ok)
	}
	if v, ok := m.Lookup(mustReference(t, "a.example.com")); !ok || v != 1 {
		t.Fatalf("a.example.com = %d, %v, want 1", v, ok)
	}
}

func TestMapWildcardQueryNeverMatches(t *testing.T) {
	m := New[int]()
	m.Set(mustPresented(t, "*.example.com"), 1)
	if _, ok := m.Lookup(mustPresented(t, "*.example.com")); ok {
		t.Fatalf("wildcard query matched")
	}
}

func TestMapSetReplacesIdenticalPattern(t *testing.T) {
	m := New[int]()

	if _, replaced := m.Set(mustPresented(t, "example.com"), 1); replaced {
		t.Fatalf("first set reported a replacement")
	}
	if _, replaced := m.Set(mustPresented(t, "*.example.com"), 10); replaced {
		t.Fatalf("wildcard set replaced the exact entry")
	}
	if old, replaced := m.Set(mustPresented(t, "example.com"), 2); !replaced || old != 1 {
		t.Fatalf("replace = %d, %v", old, replaced)
	}
	if old, replaced := m.Set(mustPresented(t, "*.example.com"), 20); !replaced || old != 10 {
		t.Fatalf("wildcard replace = %d, %v", old, replaced)
	}
	// A matching name is still a different pattern.
	if _, replaced := m.Set(mustPresented(t, "foo.example.com"), 200); replaced {
		t.Fatalf("set of a covered name replaced the wildcard")
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestMapGetByPattern(t *testing.T) {
	m := New[int]()
	m.Set(mustPresented(t, "*.example.com"), 1)

	if _, ok := m.Get(mustPresented(t, "www.example.com")); ok {
		t.Fatalf("Get matched instead of comparing")
	}
	if v, ok := m.Get(mustPresented(t, "*.example.com")); !ok || v != 1 {
		t.Fatalf("Get(*.example.com) = %d, %v", v, ok)
	}
}

func TestMapRemove(t *testing.T) {
	m := New[int]()
	m.Set(mustPresented(t, "example.com"), 1)
	m.Set(mustPresented(t, "*.example.com"), 10)

	if _, ok := m.Remove(mustPresented(t, "foo.example.com")); ok {
		t.Fatalf("Remove matched instead of comparing")
	}
	if old, ok := m.Remove(mustPresented(t, "example.com")); !ok || old != 1 {
		t.Fatalf("Remove(example.com) = %d, %v", old, ok)
	}
	if _, ok := m.Lookup(mustReference(t, "example.com")); ok {
		t.Fatalf("removed entry still matches")
	}
	if v, ok := m.Lookup(mustReference(t, "foo.example.com")); !ok || v != 10 {
		t.Fatalf("wildcard lost after removal: %d, %v", v, ok)
	}
	if old, ok := m.Remove(mustPresented(t, "*.example.com")); !ok || old != 10 {
		t.Fatalf("Remove(*.example.com) = %d, %v", old, ok)
	}
	if _, ok := m.Remove(mustPresented(t, "*.example.com")); ok {
		t.Fatalf("double remove succeeded")
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestMapClear(t *testing.T) {
	m := New[int]()
	m.Set(mustPresented(t, "example.com"), 1)
	m.Set(mustPresented(t, "*.example.com"), 10)
	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("Len = %d after Clear", m.Len())
	}
	if _, ok := m.Lookup(mustReference(t, "example.com")); ok {
		t.Fatalf("cleared map returned a value")
	}
}

func TestMapAll(t *testing.T) {
	m := New[int]()
	m.Set(mustPresented(t, "example.com"), 1)
	m.Set(mustPresented(t, "*.example.com"), 10)
	m.Set(mustPresented(t, "foo.example.net"), 100)

	var keys []string
	sum := 0
	for d, v := range m.All() {
		keys = append(keys, d.String())
		sum += v
	}
	sort.Strings(keys)
	want := []string{"*.example.com", "example.com", "foo.example.net"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if sum != 111 {
		t.Fatalf("sum = %d", sum)
	}
}

func TestMapZeroValue(t *testing.T) {
	var m Map[string]
	if _, ok := m.Lookup(mustReference(t, "example.com")); ok {
		t.Fatalf("zero map returned a value")
	}
	m.Set(mustPresented(t, "example.com"), "hit")
	if v, ok := m.Lookup(mustReference(t, "example.com")); !ok || v != "hit" {
		t.Fatalf("Lookup = %q, %v", v, ok)
	}
}
