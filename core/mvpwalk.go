// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"errors"

	"ledgervm/internal/wasmbin"
)

// errEndOfFunc marks the function-body-terminating `end` opcode, as opposed
// to a nested block's `end`. Instrumentation only ever walks code that has
// already passed Validate, so only the deterministic MVP opcode set is
// handled here.
var errEndOfFunc = errors.New("core: end of function body")

// skipInstrForRewrite consumes one instruction's immediates (the opcode
// byte itself has already been read) without copying anything; callers
// that need the consumed bytes read them from the reader's backing buffer
// using the position before/after this call.
func skipInstrForRewrite(r *wasmbin.Reader, op byte, depth *int) error {
	switch op {
	case 0x00, 0x01: // unreachable, nop
		return nil
	case 0x02, 0x03, 0x04: // block, loop, if
		if err := skipBlockType(r); err != nil {
			return err
		}
		*depth++
		return nil
	case 0x05: // else
		return nil
	case 0x0B: // end
		if *depth == 0 {
			return errEndOfFunc
		}
		*depth--
		return nil
	case 0x0C, 0x0D: // br, br_if
		_, err := r.ReadU32()
		return err
	case 0x0E: // br_table
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		}
		_, err = r.ReadU32()
		return err
	case 0x0F: // return
		return nil
	case 0x10: // call — handled by caller before reaching here
		_, err := r.ReadU32()
		return err
	case 0x11: // call_indirect
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		_, err := r.ReadU32()
		return err
	case 0x1A, 0x1B: // drop, select
		return nil
	case 0x20, 0x21, 0x22: // local.get/set/tee
		_, err := r.ReadU32()
		return err
	case 0x23, 0x24: // global.get/set
		_, err := r.ReadU32()
		return err
	case 0x28, 0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x2F,
		0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E: // memory load/store
		if _, err := r.ReadU32(); err != nil { // align
			return err
		}
		_, err := r.ReadU32() // offset
		return err
	case 0x3F, 0x40: // memory.size, memory.grow
		_, err := r.ReadByte()
		return err
	case 0x41: // i32.const
		_, err := r.ReadS32()
		return err
	case 0x42: // i64.const
		_, err := r.ReadS64()
		return err
	case 0x43: // f32.const
		_, err := r.ReadBytes(4)
		return err
	case 0x44: // f64.const
		_, err := r.ReadBytes(8)
		return err
	case 0xFC: // saturating conversions only reach here (bulk memory forbidden by Validate)
		_, err := r.ReadU32()
		return err
	default:
		return nil // remaining MVP comparison/arithmetic opcodes carry no immediate
	}
}

// skipConstExpr consumes a single init expression: one constant-producing
// instruction followed by `end`, the shape used by global initializers and
// active element/data segment offsets. It does not support multi-instruction
// init expressions (the extended-const proposal), which Validate never
// admits since it only recognizes the MVP opcode set here.
func skipConstExpr(r *wasmbin.Reader) error {
	op, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch op {
	case 0x41: // i32.const
		if _, err := r.ReadS32(); err != nil {
			return err
		}
	case 0x42: // i64.const
		if _, err := r.ReadS64(); err != nil {
			return err
		}
	case 0x43: // f32.const
		if _, err := r.ReadBytes(4); err != nil {
			return err
		}
	case 0x44: // f64.const
		if _, err := r.ReadBytes(8); err != nil {
			return err
		}
	case 0x23: // global.get
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	default:
		return errors.New("core: unsupported init expression opcode")
	}
	end, err := r.ReadByte()
	if err != nil {
		return err
	}
	if end != 0x0B {
		return errors.New("core: malformed init expression")
	}
	return nil
}

func skipBlockType(r *wasmbin.Reader) error {
	b, err := r.PeekByte()
	if err != nil {
		return err
	}
	switch b {
	case 0x40, 0x7F, 0x7E, 0x7D, 0x7C, 0x70:
		_, err := r.ReadByte()
		return err
	default:
		_, err := r.ReadS32()
		return err
	}
}
