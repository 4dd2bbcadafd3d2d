// SPDX-License-Identifier: BUSL-1.1
package core

import (
	"ledgervm/internal/wasmbin"
)

// Validate rejects any module using a non-deterministic or ambient-authority
// WASM feature. It runs on raw untrusted bytes before instrumentation;
// instrumented output is trusted and is never re-validated. Grounded on the
// original source's validate_untrusted_wasm, which builds an explicit
// wasmparser::WasmFeatures mask and rejects on first forbidden bit.
func Validate(code []byte) error {
	mod, err := wasmbin.ParseModule(code)
	if err != nil {
		return newErr(KindValidationError, err)
	}

	if err := validateMemorySection(mod); err != nil {
		return newErr(KindValidationError, err)
	}
	if err := validateTableSection(mod); err != nil {
		return newErr(KindValidationError, err)
	}
	if err := validateImportSection(mod); err != nil {
		return newErr(KindValidationError, err)
	}
	if err := validateElementSection(mod); err != nil {
		return newErr(KindValidationError, err)
	}
	if err := validateCodeSection(mod); err != nil {
		return newErr(KindValidationError, err)
	}
	return nil
}

func validateMemorySection(mod *wasmbin.Module) error {
	sec := mod.Find(wasmbin.SecMemory)
	if sec == nil {
		return nil
	}
	r := wasmbin.NewReader(sec.Payload)
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if count > 1 {
		return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureMultiMemory}
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadByte()
		if err != nil {
			return err
		}
		if flags&0x04 != 0 {
			return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureMemory64}
		}
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		if flags&0x01 != 0 {
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTableSection(mod *wasmbin.Module) error {
	sec := mod.Find(wasmbin.SecTable)
	if sec == nil {
		return nil
	}
	r := wasmbin.NewReader(sec.Payload)
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		reftype, err := r.ReadByte()
		if err != nil {
			return err
		}
		if reftype == 0x6F { // externref table
			return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureReferenceTypes}
		}
		flags, err := r.ReadByte()
		if err != nil {
			return err
		}
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		if flags&0x01 != 0 {
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateImportSection(mod *wasmbin.Module) error {
	sec := mod.Find(wasmbin.SecImport)
	if sec == nil {
		return nil
	}
	r := wasmbin.NewReader(sec.Payload)
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	memories := 0
	for i := uint32(0); i < count; i++ {
		for j := 0; j < 2; j++ { // module name, field name
			n, err := r.ReadU32()
			if err != nil {
				return err
			}
			if _, err := r.ReadBytes(int(n)); err != nil {
				return err
			}
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch kind {
		case 0x00: // function
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		case 0x01: // table
			reftype, err := r.ReadByte()
			if err != nil {
				return err
			}
			if reftype == 0x6F {
				return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureReferenceTypes}
			}
			if err := skipLimitsRef(r); err != nil {
				return err
			}
		case 0x02: // memory
			memories++
			if memories > 1 {
				return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureMultiMemory}
			}
			flags, err := r.ReadByte()
			if err != nil {
				return err
			}
			if flags&0x04 != 0 {
				return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureMemory64}
			}
			if _, err := r.ReadU32(); err != nil {
				return err
			}
			if flags&0x01 != 0 {
				if _, err := r.ReadU32(); err != nil {
					return err
				}
			}
		case 0x03: // global
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if _, err := r.ReadByte(); err != nil {
				return err
			}
		case 0x04: // tag (exception handling)
			return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureExceptions}
		default: // module/instance imports (module linking)
			return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureModuleLinking}
		}
	}
	return nil
}

func skipLimitsRef(r *wasmbin.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if _, err := r.ReadU32(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

// validateElementSection restricts element segments to the two active,
// raw-funcidx encodings (flag 0: implicit table 0; flag 2: explicit table
// index) so Prepare's reindexElementSection never has to handle passive or
// declared segments, or the expr-vector encodings the reference-types
// proposal introduced.
func validateElementSection(mod *wasmbin.Module) error {
	sec := mod.Find(wasmbin.SecElement)
	if sec == nil {
		return nil
	}
	r := wasmbin.NewReader(sec.Payload)
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flag, err := r.ReadU32()
		if err != nil {
			return err
		}
		switch flag {
		case 0:
			if err := skipConstExpr(r); err != nil {
				return err
			}
		case 2:
			if _, err := r.ReadU32(); err != nil { // table index
				return err
			}
			if err := skipConstExpr(r); err != nil {
				return err
			}
			kind, err := r.ReadByte()
			if err != nil {
				return err
			}
			if kind != 0x00 { // elemkind: only funcref supported
				return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureReferenceTypes}
			}
		default:
			return &wasmbin.ForbiddenFeatureError{Feature: wasmbin.FeatureReferenceTypes}
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < n; j++ {
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCodeSection(mod *wasmbin.Module) error {
	sec := mod.Find(wasmbin.SecCode)
	if sec == nil {
		return nil
	}
	r := wasmbin.NewReader(sec.Payload)
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		if err := wasmbin.ScanFunctionBody(body); err != nil {
			return err
		}
	}
	return nil
}
