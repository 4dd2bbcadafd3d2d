package wasmbin

import "errors"

// Feature names a non-deterministic or ambient-authority WASM feature a
// scanned module instruction may use.
type Feature string

const (
	FeatureReferenceTypes Feature = "reference_types"
	FeatureMultiValue     Feature = "multi_value"
	FeatureBulkMemory     Feature = "bulk_memory"
	FeatureModuleLinking  Feature = "module_linking"
	FeatureSIMD           Feature = "simd"
	FeatureThreads        Feature = "threads"
	FeatureTailCall       Feature = "tail_call"
	FeatureMultiMemory    Feature = "multi_memory"
	FeatureExceptions     Feature = "exceptions"
	FeatureMemory64       Feature = "memory64"
)

// ForbiddenFeatureError reports the offending Feature; ScanFunctionBody
// returns it, as do the core package's section-level checks.
type ForbiddenFeatureError struct {
	Feature Feature
}

func (e *ForbiddenFeatureError) Error() string {
	return "wasmbin: forbidden feature " + string(e.Feature)
}

var errEndOfBody = errors.New("wasmbin: end of function body")

// ScanFunctionBody walks one code-section function body (locals + expr,
// i.e. the payload of a single entry in the code section) and returns the
// first forbidden feature it finds, or nil if the body only uses the
// deterministic MVP instruction set plus funcref tables.
func ScanFunctionBody(body []byte) error {
	r := NewReader(body)

	// local declarations: vec(count: u32, valtype)
	localGroups, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < localGroups; i++ {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		vt, err := r.ReadByte()
		if err != nil {
			return err
		}
		if vt == 0x6F { // externref local
			return &ForbiddenFeatureError{FeatureReferenceTypes}
		}
	}

	depth := 0
	for {
		op, err := r.ReadByte()
		if err != nil {
			if depth == 0 {
				return nil
			}
			return err
		}
		if err := stepOpcode(r, op, &depth); err != nil {
			if err == errEndOfBody {
				return nil
			}
			return err
		}
	}
}

// stepOpcode consumes one instruction's immediates (if any) starting after
// the opcode byte has already been read. depth tracks block nesting so the
// terminal `end` of the function body itself is distinguished from a
// nested block's `end`.
func stepOpcode(r *Reader, op byte, depth *int) error {
	switch op {
	case 0x00, 0x01: // unreachable, nop
		return nil
	case 0x02, 0x03, 0x04: // block, loop, if
		if err := readBlockType(r); err != nil {
			return err
		}
		*depth++
		return nil
	case 0x05: // else
		return nil
	case 0x0B: // end
		if *depth == 0 {
			return errEndOfBody
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
	case 0x10: // call
		_, err := r.ReadU32()
		return err
	case 0x11: // call_indirect
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		_, err := r.ReadU32()
		return err
	case 0x12, 0x13: // return_call, return_call_indirect
		return &ForbiddenFeatureError{FeatureTailCall}
	case 0x1A, 0x1B: // drop, select
		return nil
	case 0x1C: // select t* (typed select, reference_types)
		return &ForbiddenFeatureError{FeatureReferenceTypes}
	case 0x20, 0x21, 0x22: // local.get/set/tee
		_, err := r.ReadU32()
		return err
	case 0x23, 0x24: // global.get/set
		_, err := r.ReadU32()
		return err
	case 0x25, 0x26: // table.get, table.set (reference_types)
		return &ForbiddenFeatureError{FeatureReferenceTypes}
	case 0xD0: // ref.null
		return &ForbiddenFeatureError{FeatureReferenceTypes}
	case 0xD1: // ref.is_null
		return &ForbiddenFeatureError{FeatureReferenceTypes}
	case 0xD2: // ref.func
		return &ForbiddenFeatureError{FeatureReferenceTypes}
	case 0x28, 0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x2F,
		0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E: // memory loads/stores
		if err := skipMemarg(r); err != nil {
			return err
		}
		return nil
	case 0x3F: // memory.size
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0x00 {
			return &ForbiddenFeatureError{FeatureMultiMemory}
		}
		return nil
	case 0x40: // memory.grow
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0x00 {
			return &ForbiddenFeatureError{FeatureMultiMemory}
		}
		return nil
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
	case 0x06, 0x07, 0x08, 0x09, 0x18, 0x19: // try/catch/throw/rethrow/delegate/catch_all
		return &ForbiddenFeatureError{FeatureExceptions}
	case 0xFC: // bulk memory / reference_types extension / sat conversions
		sub, err := r.ReadU32()
		if err != nil {
			return err
		}
		return stepMiscOpcode(r, sub)
	case 0xFD: // SIMD prefix
		return &ForbiddenFeatureError{FeatureSIMD}
	case 0xFE: // threads/atomics prefix
		return &ForbiddenFeatureError{FeatureThreads}
	default:
		// Remaining MVP numeric instructions (0x45-0xC4) take no immediate.
		if op >= 0x45 && op <= 0xC4 {
			return nil
		}
		return nil
	}
}

// stepMiscOpcode handles the 0xFC sub-opcode space. Sub-opcodes 0-7 are the
// non-trapping (saturating) float-to-int conversions, which are
// deterministic and not in the forbidden feature list; 8 and above are the
// bulk-memory and reference-types table operations, which are forbidden.
func stepMiscOpcode(r *Reader, sub uint32) error {
	switch sub {
	case 0, 1, 2, 3, 4, 5, 6, 7: // i32/i64.trunc_sat_f32/f64_s/u
		return nil
	case 8: // memory.init
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0x00 {
			return &ForbiddenFeatureError{FeatureMultiMemory}
		}
		return &ForbiddenFeatureError{FeatureBulkMemory}
	case 9: // data.drop
		return &ForbiddenFeatureError{FeatureBulkMemory}
	case 10, 11: // memory.copy, memory.fill
		return &ForbiddenFeatureError{FeatureBulkMemory}
	case 12, 13, 14, 15, 16, 17: // table.init/copy/grow/size/fill, elem.drop
		return &ForbiddenFeatureError{FeatureReferenceTypes}
	default:
		return &ForbiddenFeatureError{FeatureBulkMemory}
	}
}

func skipMemarg(r *Reader) error {
	if _, err := r.ReadU32(); err != nil { // align
		return err
	}
	_, err := r.ReadU32() // offset
	return err
}

// readBlockType consumes a block's type annotation and reports multi_value
// usage: the MVP only permits the empty type (0x40) or a single value type
// byte; any other (positive, LEB-encoded) value is a type-section index,
// which only the multi-value proposal allows a block to reference.
func readBlockType(r *Reader) error {
	b, err := r.PeekByte()
	if err != nil {
		return err
	}
	switch b {
	case 0x40, 0x7F, 0x7E, 0x7D, 0x7C:
		_, err := r.ReadByte()
		return err
	case 0x70: // funcref
		_, err := r.ReadByte()
		return err
	case 0x6F: // externref
		r.ReadByte()
		return &ForbiddenFeatureError{FeatureReferenceTypes}
	default:
		if _, err := r.ReadS32(); err != nil {
			return err
		}
		return &ForbiddenFeatureError{FeatureMultiValue}
	}
}
