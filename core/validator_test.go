package core_test

import (
	"testing"

	"ledgervm/core"
	"ledgervm/internal/wasmbin"
)

// buildModule assembles a minimal module out of raw sections, used to test
// Validate's section-level checks without depending on an external WAT
// compiler understanding the same forbidden-feature syntax.
func buildModule(sections ...wasmbin.Section) []byte {
	m := &wasmbin.Module{Sections: sections}
	return m.Bytes()
}

func memorySection(limits ...byte) wasmbin.Section {
	payload := wasmbin.WriteU32(nil, uint32(len(limits)/2))
	payload = append(payload, limits...)
	return wasmbin.Section{ID: wasmbin.SecMemory, Payload: payload}
}

func TestValidateRejectsMultiMemory(t *testing.T) {
	// two memories, each flags=0x00 initial=1
	sec := memorySection(0x00, 0x01, 0x00, 0x01)
	code := buildModule(sec)
	err := core.Validate(code)
	if !core.IsKind(err, core.KindValidationError) {
		t.Fatalf("expected ValidationError for multi-memory module, got %v", err)
	}
}

func TestValidateRejectsMemory64(t *testing.T) {
	// flags=0x04 (memory64), initial=1
	sec := memorySection(0x04, 0x01)
	code := buildModule(sec)
	err := core.Validate(code)
	if !core.IsKind(err, core.KindValidationError) {
		t.Fatalf("expected ValidationError for memory64 module, got %v", err)
	}
}

func TestValidateAcceptsSingleMemory(t *testing.T) {
	sec := memorySection(0x00, 0x01)
	code := buildModule(sec)
	if err := core.Validate(code); err != nil {
		t.Fatalf("expected single-memory module to validate, got %v", err)
	}
}

func TestValidateRejectsExternrefTable(t *testing.T) {
	// table section: count=1, reftype=0x6F (externref), flags=0x00, initial=0
	payload := wasmbin.WriteU32(nil, 1)
	payload = append(payload, 0x6F, 0x00)
	payload = wasmbin.WriteU32(payload, 0)
	sec := wasmbin.Section{ID: wasmbin.SecTable, Payload: payload}
	code := buildModule(sec)
	err := core.Validate(code)
	if !core.IsKind(err, core.KindValidationError) {
		t.Fatalf("expected ValidationError for externref table, got %v", err)
	}
}

func TestValidateAcceptsFuncrefTable(t *testing.T) {
	payload := wasmbin.WriteU32(nil, 1)
	payload = append(payload, 0x70, 0x00) // funcref, no max
	payload = wasmbin.WriteU32(payload, 0)
	sec := wasmbin.Section{ID: wasmbin.SecTable, Payload: payload}
	code := buildModule(sec)
	if err := core.Validate(code); err != nil {
		t.Fatalf("expected funcref table to validate, got %v", err)
	}
}

func TestValidateRejectsBadHeader(t *testing.T) {
	if err := core.Validate([]byte("not wasm")); err == nil {
		t.Fatal("expected error for non-wasm input")
	}
}
