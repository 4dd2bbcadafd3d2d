package core_test

import (
	"testing"

	"ledgervm/core"
)

func TestPrefixIteratorsDenseHandles(t *testing.T) {
	m := core.NewMemStorage()
	m.Put([]byte("a"), []byte("1"))

	pi := core.NewPrefixIterators()
	it1, _ := m.IterPrefix([]byte("a"))
	it2, _ := m.IterPrefix([]byte("a"))

	h1 := pi.Insert(it1)
	h2 := pi.Insert(it2)
	if h1 != 0 || h2 != 1 {
		t.Fatalf("expected dense handles 0,1, got %d,%d", h1, h2)
	}

	if got, ok := pi.Get(h1); !ok || got != it1 {
		t.Fatal("expected Get(h1) to return it1")
	}
	if _, ok := pi.Get(99); ok {
		t.Fatal("expected Get on an unallocated handle to report false")
	}
}
