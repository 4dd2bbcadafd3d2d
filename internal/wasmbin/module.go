package wasmbin

import (
	"bytes"
	"errors"
)

var Magic = []byte{0x00, 0x61, 0x73, 0x6d}
var Version1 = []byte{0x01, 0x00, 0x00, 0x00}

// ErrBadHeader is returned when the module does not open with the WASM
// magic number and version 1 header.
var ErrBadHeader = errors.New("wasmbin: bad module header")

// SectionID identifies a top-level WASM module section.
type SectionID byte

const (
	SecCustom SectionID = iota
	SecType
	SecImport
	SecFunction
	SecTable
	SecMemory
	SecGlobal
	SecExport
	SecStart
	SecElement
	SecCode
	SecData
	SecDataCount
)

// Section is one raw, unparsed module section.
type Section struct {
	ID      SectionID
	Payload []byte // does not include the id byte or the size prefix
}

// Module is a module split into its header and ordered section list. This
// is a raw container: section payloads are not decoded further here.
type Module struct {
	Sections []Section
}

// ParseModule splits raw WASM bytes into a header check plus a flat section
// list. It does not validate section contents.
func ParseModule(code []byte) (*Module, error) {
	if len(code) < 8 || !bytes.Equal(code[:4], Magic) || !bytes.Equal(code[4:8], Version1) {
		return nil, ErrBadHeader
	}
	r := NewReader(code[8:])
	m := &Module{}
	for r.Len() > 0 {
		idByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		m.Sections = append(m.Sections, Section{ID: SectionID(idByte), Payload: payload})
	}
	return m, nil
}

// Bytes reassembles the module into a byte slice.
func (m *Module) Bytes() []byte {
	out := make([]byte, 0, 8+len(m.Sections)*4)
	out = append(out, Magic...)
	out = append(out, Version1...)
	for _, s := range m.Sections {
		out = append(out, byte(s.ID))
		out = WriteU32(out, uint32(len(s.Payload)))
		out = append(out, s.Payload...)
	}
	return out
}

// Find returns the first section with the given id, or nil if absent.
func (m *Module) Find(id SectionID) *Section {
	for i := range m.Sections {
		if m.Sections[i].ID == id {
			return &m.Sections[i]
		}
	}
	return nil
}

// CountFunctionImports returns the number of imports in the import section
// whose kind is "function" (used to map function indices to code-section
// entries, since imported functions occupy the low indices).
func (m *Module) CountFunctionImports() (int, error) {
	sec := m.Find(SecImport)
	if sec == nil {
		return 0, nil
	}
	r := NewReader(sec.Payload)
	count, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := uint32(0); i < count; i++ {
		if err := skipName(r); err != nil { // module
			return 0, err
		}
		if err := skipName(r); err != nil { // field
			return 0, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch kind {
		case 0x00: // function
			if _, err := r.ReadU32(); err != nil {
				return 0, err
			}
			n++
		case 0x01: // table
			if _, err := r.ReadByte(); err != nil { // reftype
				return 0, err
			}
			if err := skipLimits(r); err != nil {
				return 0, err
			}
		case 0x02: // memory
			if err := skipLimits(r); err != nil {
				return 0, err
			}
		case 0x03: // global
			if _, err := r.ReadByte(); err != nil {
				return 0, err
			}
			if _, err := r.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return 0, errors.New("wasmbin: unknown import kind")
		}
	}
	return n, nil
}

func skipName(r *Reader) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	_, err = r.ReadBytes(int(n))
	return err
}

func skipLimits(r *Reader) error {
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
