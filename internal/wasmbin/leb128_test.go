package wasmbin_test

import (
	"testing"

	"ledgervm/internal/wasmbin"
)

func TestReaderReadU32Roundtrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 300, 1 << 20, 0xFFFFFFFF}
	for _, v := range cases {
		buf := wasmbin.WriteU32(nil, v)
		r := wasmbin.NewReader(buf)
		got, err := r.ReadU32()
		if err != nil {
			t.Fatalf("ReadU32(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadU32 roundtrip: want %d got %d", v, got)
		}
		if len(r.Remaining()) != 0 {
			t.Fatalf("expected reader exhausted, %d bytes left", len(r.Remaining()))
		}
	}
}

func TestReaderReadU64Roundtrip(t *testing.T) {
	cases := []uint64{0, 1, 1 << 40, 0xFFFFFFFFFFFFFFFF}
	for _, v := range cases {
		buf := wasmbin.WriteU64(nil, v)
		r := wasmbin.NewReader(buf)
		got, err := r.ReadU64()
		if err != nil {
			t.Fatalf("ReadU64(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadU64 roundtrip: want %d got %d", v, got)
		}
	}
}

func TestReaderReadS64Roundtrip(t *testing.T) {
	cases := []int64{0, -1, 63, -64, 1000000, -1000000}
	for _, v := range cases {
		buf := wasmbin.WriteS64(nil, v)
		r := wasmbin.NewReader(buf)
		got, err := r.ReadS64()
		if err != nil {
			t.Fatalf("ReadS64(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadS64 roundtrip: want %d got %d", v, got)
		}
	}
}

func TestReaderTruncated(t *testing.T) {
	r := wasmbin.NewReader([]byte{0x80, 0x80})
	if _, err := r.ReadU32(); err == nil {
		t.Fatal("expected truncation error reading incomplete LEB128")
	}
}
