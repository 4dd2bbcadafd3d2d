// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"github.com/wasmerio/wasmer-go/wasmer"
)

// wasmPageSize matches the WASM spec's fixed 64KiB linear memory page.
const wasmPageSize = 65536

// InputHandle is a {ptr, len} pair into guest linear memory, the shape
// every entrypoint parameter in §4.3's signature table uses to reference a
// caller-supplied byte string.
type InputHandle struct {
	Ptr uint32
	Len uint32
}

// MemoryLimits is the configured initial/maximum page count for one runner
// category, stored by each runner at construction. The runners do not apply
// it: a guest runs with the memory it declares and exports itself.
type MemoryLimits struct {
	InitialPages uint32
	MaxPages     uint32
}

// NewMemoryType builds the wasmer-go memory type for a runner category's
// configured limits. No runner currently passes it to instantiation.
func NewMemoryType(limits MemoryLimits) (*wasmer.MemoryType, error) {
	l, err := wasmer.NewLimits(limits.InitialPages, limits.MaxPages)
	if err != nil {
		return nil, newErr(KindInstantiationError, err)
	}
	return wasmer.NewMemoryType(l), nil
}

// GuestMemory returns the instance's required exported linear memory, or
// MissingModuleMemory if the guest did not export one.
func GuestMemory(instance *wasmer.Instance) (*wasmer.Memory, error) {
	mem, err := instance.Exports.GetMemory("memory")
	if err != nil || mem == nil {
		return nil, newErr(KindMissingModuleMemory, err)
	}
	return mem, nil
}

// WriteInputs grows the guest's linear memory as needed and writes each
// part contiguously into the newly grown region, past whatever the guest's
// own data/globals already occupy. It returns one InputHandle per part, in
// order. Grounded on the original source's memory::write_tx_inputs /
// write_vp_inputs, which serialize caller inputs into guest memory and
// return ptr/len pairs without relying on a guest-exported allocator.
func WriteInputs(instance *wasmer.Instance, parts ...[]byte) ([]InputHandle, error) {
	mem, err := GuestMemory(instance)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	baseOffset := uint32(len(mem.Data()))
	if total > 0 {
		neededPages := wasmer.Pages((total + wasmPageSize - 1) / wasmPageSize)
		if neededPages > 0 {
			if ok := mem.Grow(neededPages); !ok {
				return nil, newErr(KindMemoryError, nil)
			}
		}
	}

	data := mem.Data()
	handles := make([]InputHandle, len(parts))
	cursor := baseOffset
	for i, p := range parts {
		if int(cursor)+len(p) > len(data) {
			return nil, newErr(KindMemoryError, nil)
		}
		copy(data[cursor:], p)
		handles[i] = InputHandle{Ptr: cursor, Len: uint32(len(p))}
		cursor += uint32(len(p))
	}
	return handles, nil
}

// ReadBytes copies length bytes out of guest memory at ptr. Used by host
// calls that marshal a guest-owned buffer (e.g. a write value) into host
// types.
func ReadBytes(mem *wasmer.Memory, ptr, length uint32) ([]byte, error) {
	data := mem.Data()
	if uint64(ptr)+uint64(length) > uint64(len(data)) {
		return nil, newErr(KindMemoryError, nil)
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

// PutBytes copies value into newly grown guest memory (via WriteInputs)
// and returns the handle written.
func PutBytes(instance *wasmer.Instance, value []byte) (InputHandle, error) {
	handles, err := WriteInputs(instance, value)
	if err != nil {
		return InputHandle{}, err
	}
	return handles[0], nil
}
