package sbcfile

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Load parses a byte stream produced by Encode back into a Module,
// validating the header, section bounds, and the cross-reference ids
// listed on validateRefs (spec §4.5). Sections with an unknown id are
// tolerated and skipped: their bytes are not kept on the returned
// Module.
func Load(data []byte) (*Module, error) {
	if len(data) < HeaderSize {
		return nil, loadErrf("file too small for header: %d bytes", len(data))
	}
	hdr := readHeader(data)
	if hdr.Magic != Magic {
		return nil, loadErrf("bad magic 0x%08x", hdr.Magic)
	}
	if hdr.Version != Version {
		return nil, loadErrf("unsupported version 0x%04x", hdr.Version)
	}
	if hdr.Endian != Endian {
		return nil, loadErrf("unsupported endian %d", hdr.Endian)
	}
	dirEnd := uint64(hdr.SectionTableOffset) + uint64(hdr.SectionCount)*SectionEntrySize
	if dirEnd > uint64(len(data)) {
		return nil, loadErrf("section table extends past end of file")
	}

	m := &Module{EntryMethodID: hdr.EntryMethodID}
	raw := make(map[SectionID][]byte)
	var sigParamsRaw []byte
	var sigCount uint32

	for i := uint32(0); i < hdr.SectionCount; i++ {
		entryOff := hdr.SectionTableOffset + i*SectionEntrySize
		e := readSectionEntry(data[entryOff:])
		end := uint64(e.Offset) + uint64(e.Size)
		if end > uint64(len(data)) {
			return nil, loadErrf("section %d extends past end of file", e.ID)
		}
		body := data[e.Offset : e.Offset+e.Size]
		switch SectionID(e.ID) {
		case SectionTypes:
			rows, err := decodeTypes(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Types = rows
		case SectionFields:
			rows, err := decodeFields(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Fields = rows
		case SectionMethods:
			rows, err := decodeMethods(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Methods = rows
		case SectionSigs:
			rows, paramsRaw, err := decodeSigs(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Sigs = rows
			sigParamsRaw = paramsRaw
			sigCount = e.Count
		case SectionConstPool:
			m.ConstPool = append([]byte(nil), body...)
		case SectionGlobals:
			rows, err := decodeGlobals(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Globals = rows
		case SectionFunctions:
			rows, err := decodeFunctions(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Functions = rows
		case SectionCode:
			m.Code = append([]byte(nil), body...)
		case SectionImports:
			rows, err := decodeImports(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Imports = rows
		case SectionExports:
			rows, err := decodeExports(body, e.Count)
			if err != nil {
				return nil, err
			}
			m.Exports = rows
		case SectionDebug:
			d, err := decodeDebug(body)
			if err != nil {
				return nil, err
			}
			m.Debug = d
		default:
			raw[SectionID(e.ID)] = append([]byte(nil), body...)
		}
	}

	if len(m.Functions) == 0 {
		return nil, loadErrf("module declares no functions")
	}
	if sigParamsRaw != nil {
		m.SigParamTypes = decodeSigParams(sigParamsRaw)
		_ = sigCount
	}

	if err := validateRefs(m); err != nil {
		return nil, err
	}
	m.ModuleID = uuid.New()
	return m, nil
}

// validateRefs range-checks cross-table ids (spec §4.5): field, global,
// signature and parameter type ids, type field ranges, method sig ids,
// function method ids and code ranges, explicit import sig ids, and
// export indices. Name-string offsets, method code offsets and global
// init_const_id values are not checked here.
func validateRefs(m *Module) error {
	typeCount := uint32(len(m.Types))
	sigCount := uint32(len(m.Sigs))
	for i, f := range m.Fields {
		if f.TypeID >= typeCount {
			return loadErrf("field %d: type_id %d out of range", i, f.TypeID)
		}
	}
	for i, t := range m.Types {
		if t.FieldCount == 0 {
			continue
		}
		if uint64(t.FieldStart)+uint64(t.FieldCount) > uint64(len(m.Fields)) {
			return loadErrf("type %d: field range [%d,%d) out of bounds", i, t.FieldStart, t.FieldStart+t.FieldCount)
		}
	}
	for i, s := range m.Sigs {
		if s.RetTypeID != VoidTypeID && s.RetTypeID >= typeCount {
			return loadErrf("sig %d: ret_type_id %d out of range", i, s.RetTypeID)
		}
		if uint64(s.ParamTypeStart)+uint64(s.ParamCount) > uint64(len(m.SigParamTypes)) {
			return loadErrf("sig %d: param range out of bounds", i)
		}
		for j := uint32(0); j < uint32(s.ParamCount); j++ {
			pt := m.SigParamTypes[s.ParamTypeStart+j]
			if pt >= typeCount {
				return loadErrf("sig %d: param %d type_id %d out of range", i, j, pt)
			}
		}
	}
	for i, meth := range m.Methods {
		if meth.SigID >= sigCount {
			return loadErrf("method %d: sig_id %d out of range", i, meth.SigID)
		}
	}
	for i, fn := range m.Functions {
		if fn.MethodID >= uint32(len(m.Methods)) {
			return loadErrf("function %d: method_id %d out of range", i, fn.MethodID)
		}
		if uint64(fn.CodeOffset)+uint64(fn.CodeSize) > uint64(len(m.Code)) {
			return loadErrf("function %d: code range out of bounds", i)
		}
	}
	for i, g := range m.Globals {
		if g.TypeID >= typeCount {
			return loadErrf("global %d: type_id %d out of range", i, g.TypeID)
		}
	}
	for i, imp := range m.Imports {
		if imp.Flags&(ImportFlagSyscall|ImportFlagIntrinsic) != 0 {
			// Syscall/intrinsic rows repurpose SigID to carry the
			// declared numeric id, not a signature index (see
			// ir.Lower's lowerImports and DESIGN.md).
			continue
		}
		if imp.SigID >= sigCount {
			return loadErrf("import %d: sig_id %d out of range", i, imp.SigID)
		}
	}
	funcIDCount := uint64(len(m.Functions)) + uint64(len(m.explicitImportIndices()))
	for i, ex := range m.Exports {
		limit := uint64(len(m.Globals))
		if ex.Kind == ExportFunction {
			limit = funcIDCount
		}
		if uint64(ex.Index) >= limit {
			return loadErrf("export %d: index %d out of range", i, ex.Index)
		}
	}
	return nil
}

func readHeader(data []byte) Header {
	return Header{
		Magic:              binary.LittleEndian.Uint32(data[0:4]),
		Version:            binary.LittleEndian.Uint16(data[4:6]),
		Endian:             data[6],
		Flags:              data[7],
		SectionCount:       binary.LittleEndian.Uint32(data[8:12]),
		SectionTableOffset: binary.LittleEndian.Uint32(data[12:16]),
		EntryMethodID:      binary.LittleEndian.Uint32(data[16:20]),
		Reserved0:          binary.LittleEndian.Uint32(data[20:24]),
		Reserved1:          binary.LittleEndian.Uint32(data[24:28]),
		Reserved2:          binary.LittleEndian.Uint32(data[28:32]),
	}
}

func readSectionEntry(data []byte) SectionEntry {
	return SectionEntry{
		ID:     binary.LittleEndian.Uint32(data[0:4]),
		Offset: binary.LittleEndian.Uint32(data[4:8]),
		Size:   binary.LittleEndian.Uint32(data[8:12]),
		Count:  binary.LittleEndian.Uint32(data[12:16]),
	}
}

func decodeTypes(body []byte, count uint32) ([]TypeRow, error) {
	if uint64(count)*20 > uint64(len(body)) {
		return nil, loadErrf("types section too small for %d rows", count)
	}
	rows := make([]TypeRow, count)
	for i := range rows {
		b := body[i*20 : i*20+20]
		rows[i] = TypeRow{
			NameStr:    binary.LittleEndian.Uint32(b[0:4]),
			Kind:       TypeKind(b[4]),
			Flags:      b[5],
			Size:       binary.LittleEndian.Uint32(b[8:12]),
			FieldStart: binary.LittleEndian.Uint32(b[12:16]),
			FieldCount: binary.LittleEndian.Uint32(b[16:20]),
		}
	}
	return rows, nil
}

func decodeFields(body []byte, count uint32) ([]FieldRow, error) {
	if uint64(count)*16 > uint64(len(body)) {
		return nil, loadErrf("fields section too small for %d rows", count)
	}
	rows := make([]FieldRow, count)
	for i := range rows {
		b := body[i*16 : i*16+16]
		rows[i] = FieldRow{
			NameStr: binary.LittleEndian.Uint32(b[0:4]),
			TypeID:  binary.LittleEndian.Uint32(b[4:8]),
			Offset:  binary.LittleEndian.Uint32(b[8:12]),
			Flags:   binary.LittleEndian.Uint32(b[12:16]),
		}
	}
	return rows, nil
}

func decodeMethods(body []byte, count uint32) ([]MethodRow, error) {
	if uint64(count)*16 > uint64(len(body)) {
		return nil, loadErrf("methods section too small for %d rows", count)
	}
	rows := make([]MethodRow, count)
	for i := range rows {
		b := body[i*16 : i*16+16]
		rows[i] = MethodRow{
			NameStr:    binary.LittleEndian.Uint32(b[0:4]),
			SigID:      binary.LittleEndian.Uint32(b[4:8]),
			CodeOffset: binary.LittleEndian.Uint32(b[8:12]),
			LocalCount: binary.LittleEndian.Uint16(b[12:14]),
			Flags:      binary.LittleEndian.Uint16(b[14:16]),
		}
	}
	return rows, nil
}

func decodeSigs(body []byte, count uint32) ([]SigRow, []byte, error) {
	need := uint64(count) * 16
	if need > uint64(len(body)) {
		return nil, nil, loadErrf("sigs section too small for %d rows", count)
	}
	rows := make([]SigRow, count)
	for i := range rows {
		b := body[i*16 : i*16+16]
		rows[i] = SigRow{
			RetTypeID:      binary.LittleEndian.Uint32(b[0:4]),
			ParamCount:     binary.LittleEndian.Uint16(b[4:6]),
			CallConv:       binary.LittleEndian.Uint16(b[6:8]),
			ParamTypeStart: binary.LittleEndian.Uint32(b[8:12]),
		}
	}
	return rows, body[need:], nil
}

func decodeSigParams(body []byte) []uint32 {
	n := len(body) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(body[i*4 : i*4+4])
	}
	return out
}

func decodeGlobals(body []byte, count uint32) ([]GlobalRow, error) {
	if uint64(count)*16 > uint64(len(body)) {
		return nil, loadErrf("globals section too small for %d rows", count)
	}
	rows := make([]GlobalRow, count)
	for i := range rows {
		b := body[i*16 : i*16+16]
		rows[i] = GlobalRow{
			NameStr:     binary.LittleEndian.Uint32(b[0:4]),
			TypeID:      binary.LittleEndian.Uint32(b[4:8]),
			Flags:       binary.LittleEndian.Uint32(b[8:12]),
			InitConstID: binary.LittleEndian.Uint32(b[12:16]),
		}
	}
	return rows, nil
}

func decodeFunctions(body []byte, count uint32) ([]FunctionRow, error) {
	if uint64(count)*16 > uint64(len(body)) {
		return nil, loadErrf("functions section too small for %d rows", count)
	}
	rows := make([]FunctionRow, count)
	for i := range rows {
		b := body[i*16 : i*16+16]
		rows[i] = FunctionRow{
			MethodID:   binary.LittleEndian.Uint32(b[0:4]),
			CodeOffset: binary.LittleEndian.Uint32(b[4:8]),
			CodeSize:   binary.LittleEndian.Uint32(b[8:12]),
			StackMax:   binary.LittleEndian.Uint32(b[12:16]),
		}
	}
	return rows, nil
}

func decodeImports(body []byte, count uint32) ([]ImportRow, error) {
	if uint64(count)*16 > uint64(len(body)) {
		return nil, loadErrf("imports section too small for %d rows", count)
	}
	rows := make([]ImportRow, count)
	for i := range rows {
		b := body[i*16 : i*16+16]
		rows[i] = ImportRow{
			ModuleNameStr: binary.LittleEndian.Uint32(b[0:4]),
			SymbolNameStr: binary.LittleEndian.Uint32(b[4:8]),
			SigID:         binary.LittleEndian.Uint32(b[8:12]),
			Flags:         binary.LittleEndian.Uint32(b[12:16]),
		}
	}
	return rows, nil
}

func decodeExports(body []byte, count uint32) ([]ExportRow, error) {
	if uint64(count)*16 > uint64(len(body)) {
		return nil, loadErrf("exports section too small for %d rows", count)
	}
	rows := make([]ExportRow, count)
	for i := range rows {
		b := body[i*16 : i*16+16]
		rows[i] = ExportRow{
			NameStr: binary.LittleEndian.Uint32(b[0:4]),
			Kind:    ExportKind(binary.LittleEndian.Uint32(b[4:8])),
			Index:   binary.LittleEndian.Uint32(b[8:12]),
			Flags:   binary.LittleEndian.Uint32(b[12:16]),
		}
	}
	return rows, nil
}

func decodeDebug(body []byte) (*DebugTables, error) {
	if len(body) < 16 {
		return nil, loadErrf("debug section too small for header")
	}
	h := DebugHeader{
		FileCount: binary.LittleEndian.Uint32(body[0:4]),
		LineCount: binary.LittleEndian.Uint32(body[4:8]),
		SymCount:  binary.LittleEndian.Uint32(body[8:12]),
		Reserved:  binary.LittleEndian.Uint32(body[12:16]),
	}
	off := 16
	d := &DebugTables{Header: h}
	for i := uint32(0); i < h.FileCount; i++ {
		if off+12 > len(body) {
			return nil, loadErrf("debug file rows truncated")
		}
		b := body[off : off+12]
		d.Files = append(d.Files, DebugFileRow{
			FileNameStr: binary.LittleEndian.Uint32(b[0:4]),
			FileHash:    binary.LittleEndian.Uint64(b[4:12]),
		})
		off += 12
	}
	for i := uint32(0); i < h.LineCount; i++ {
		if off+20 > len(body) {
			return nil, loadErrf("debug line rows truncated")
		}
		b := body[off : off+20]
		d.Lines = append(d.Lines, DebugLineRow{
			MethodID:   binary.LittleEndian.Uint32(b[0:4]),
			CodeOffset: binary.LittleEndian.Uint32(b[4:8]),
			FileID:     binary.LittleEndian.Uint32(b[8:12]),
			Line:       binary.LittleEndian.Uint32(b[12:16]),
			Column:     binary.LittleEndian.Uint32(b[16:20]),
		})
		off += 20
	}
	for i := uint32(0); i < h.SymCount; i++ {
		if off+16 > len(body) {
			return nil, loadErrf("debug sym rows truncated")
		}
		b := body[off : off+16]
		d.Syms = append(d.Syms, DebugSymRow{
			Kind:     DebugSymKind(binary.LittleEndian.Uint32(b[0:4])),
			OwnerID:  binary.LittleEndian.Uint32(b[4:8]),
			SymbolID: binary.LittleEndian.Uint32(b[8:12]),
			NameStr:  binary.LittleEndian.Uint32(b[12:16]),
		})
		off += 16
	}
	return d, nil
}
