package core_test

import (
	"testing"

	"ledgervm/core"
)

func TestDeriveContractAddressIsDeterministic(t *testing.T) {
	code := []byte("guest module bytes")
	a1 := core.DeriveContractAddress(core.AddressZero, code)
	a2 := core.DeriveContractAddress(core.AddressZero, code)
	if a1 != a2 {
		t.Fatalf("expected deterministic derivation, got %v != %v", a1, a2)
	}

	other := core.DeriveContractAddress(core.Address{9}, code)
	if a1 == other {
		t.Fatal("expected different creator to derive a different address")
	}
}

func TestHashModuleDeterministic(t *testing.T) {
	code := []byte("guest module bytes")
	if core.HashModule(code) != core.HashModule(code) {
		t.Fatal("expected HashModule to be deterministic")
	}
	if core.HashModule(code) == core.HashModule([]byte("different")) {
		t.Fatal("expected different code to hash differently")
	}
}

func TestAddressZeroIsZero(t *testing.T) {
	if !core.AddressZero.IsZero() {
		t.Fatal("expected AddressZero.IsZero() to be true")
	}
	if (core.Address{1}).IsZero() {
		t.Fatal("expected a nonzero address to report IsZero()=false")
	}
}
