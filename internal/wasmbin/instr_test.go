package wasmbin_test

import (
	"errors"
	"testing"

	"ledgervm/internal/wasmbin"
)

// body builds a minimal function body: zero locals followed by the given
// instruction bytes and a terminal end (0x0B).
func body(instrs ...byte) []byte {
	b := []byte{0x00} // zero local-declaration groups
	b = append(b, instrs...)
	b = append(b, 0x0B) // end
	return b
}

func TestScanFunctionBodyAcceptsMVP(t *testing.T) {
	// local.get 0; i32.const 1; i32.add; drop
	b := body(0x20, 0x00, 0x41, 0x01, 0x6A, 0x1A)
	if err := wasmbin.ScanFunctionBody(b); err != nil {
		t.Fatalf("expected MVP body to validate, got %v", err)
	}
}

func TestScanFunctionBodyRejectsSIMD(t *testing.T) {
	b := body(0xFD, 0x00)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureSIMD)
}

func TestScanFunctionBodyRejectsThreads(t *testing.T) {
	b := body(0xFE)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureThreads)
}

func TestScanFunctionBodyRejectsTailCall(t *testing.T) {
	b := body(0x12, 0x00)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureTailCall)
}

func TestScanFunctionBodyRejectsExceptions(t *testing.T) {
	b := body(0x06, 0x00)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureExceptions)
}

func TestScanFunctionBodyRejectsReferenceTypesSelect(t *testing.T) {
	b := body(0x1C)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureReferenceTypes)
}

func TestScanFunctionBodyRejectsMultiValueBlock(t *testing.T) {
	// block (type index 5) ... end end -- a positive block-type index names
	// a function type, which only multi-value allows.
	b := body(0x02, 0x05, 0x0B)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureMultiValue)
}

func TestScanFunctionBodyRejectsBulkMemoryCopy(t *testing.T) {
	// memory.copy: 0xFC 0x0A dst_mem src_mem
	b := body(0xFC, 0x0A, 0x00, 0x00)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureBulkMemory)
}

func TestScanFunctionBodyRejectsMultiMemoryGrow(t *testing.T) {
	// memory.grow with nonzero memory index
	b := body(0x40, 0x01)
	err := wasmbin.ScanFunctionBody(b)
	assertForbidden(t, err, wasmbin.FeatureMultiMemory)
}

func assertForbidden(t *testing.T, err error, want wasmbin.Feature) {
	t.Helper()
	var ffe *wasmbin.ForbiddenFeatureError
	if !errors.As(err, &ffe) {
		t.Fatalf("expected ForbiddenFeatureError, got %v", err)
	}
	if ffe.Feature != want {
		t.Fatalf("expected feature %s, got %s", want, ffe.Feature)
	}
}
