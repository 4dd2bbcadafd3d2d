package core_test

import (
	"testing"

	"ledgervm/core"
)

func TestVerifierSetInsertionOrderAndDedup(t *testing.T) {
	vs := core.NewVerifierSet()
	a := core.Address{1}
	b := core.Address{2}
	vs.Insert(a)
	vs.Insert(b)
	vs.Insert(a) // duplicate, must not reorder or double-count

	addrs := vs.Addresses()
	if len(addrs) != 2 {
		t.Fatalf("expected 2 distinct verifiers, got %d", len(addrs))
	}
	if addrs[0] != a || addrs[1] != b {
		t.Fatalf("expected insertion order [a, b], got %v", addrs)
	}
	if vs.Len() != 2 {
		t.Fatalf("expected Len()=2, got %d", vs.Len())
	}
	if !vs.Contains(a) || !vs.Contains(b) {
		t.Fatal("expected both addresses to be members")
	}
}

func TestVerifierSetEmpty(t *testing.T) {
	vs := core.NewVerifierSet()
	if vs.Len() != 0 {
		t.Fatalf("expected empty set, got len %d", vs.Len())
	}
	if vs.Contains(core.AddressZero) {
		t.Fatal("empty set should not contain the zero address")
	}
}
