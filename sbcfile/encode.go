package sbcfile

import (
	"bytes"
	"encoding/binary"
)

// section is one in-progress section payload before it is placed into
// the final byte stream at an aligned offset.
type section struct {
	id    SectionID
	bytes []byte
	count uint32
}

// Encode packs an assembled Module into the SBC binary container: a
// 32-byte header, a section directory, then each section's bytes
// 4-byte-aligned, in the fixed order original_source's CompileToSbc
// uses: types, fields, methods, sigs, const pool, globals, functions,
// imports (if any), exports (if any), code, debug (if any).
func Encode(m *Module) ([]byte, error) {
	if len(m.Functions) == 0 {
		return nil, encErrf("module has no functions")
	}

	types := m.Types
	if len(types) == 0 {
		// spec §4.4: an empty Types section is replaced by a single
		// default i32 row so loader consumers always observe one type.
		types = []TypeRow{{Kind: KindI32, Size: 4}}
	}
	sigs := m.Sigs
	sigParams := m.SigParamTypes
	if len(sigs) == 0 {
		// original_source defaults an empty sig table to one void/
		// zero-param signature; nothing in the module can reference a
		// sig id in that case, so this only matters for round-trip
		// stability of an otherwise-degenerate module.
		sigs = []SigRow{{RetTypeID: VoidTypeID}}
	}
	constPool := m.ConstPool
	if len(constPool) == 0 {
		constPool = defaultConstPool()
	}

	sections := []section{
		{id: SectionTypes, bytes: encodeTypes(types), count: uint32(len(types))},
		{id: SectionFields, bytes: encodeFields(m.Fields), count: uint32(len(m.Fields))},
		{id: SectionMethods, bytes: encodeMethods(m.Methods), count: uint32(len(m.Methods))},
		{id: SectionSigs, bytes: encodeSigs(sigs, sigParams), count: uint32(len(sigs))},
		{id: SectionConstPool, bytes: constPool, count: uint32(len(constPool))},
		{id: SectionGlobals, bytes: encodeGlobals(m.Globals), count: uint32(len(m.Globals))},
		{id: SectionFunctions, bytes: encodeFunctions(m.Functions), count: uint32(len(m.Functions))},
	}
	if len(m.Imports) > 0 {
		sections = append(sections, section{id: SectionImports, bytes: encodeImports(m.Imports), count: uint32(len(m.Imports))})
	}
	if len(m.Exports) > 0 {
		sections = append(sections, section{id: SectionExports, bytes: encodeExports(m.Exports), count: uint32(len(m.Exports))})
	}
	sections = append(sections, section{id: SectionCode, bytes: m.Code, count: uint32(len(m.Code))})
	if m.Debug != nil {
		sections = append(sections, section{id: SectionDebug, bytes: encodeDebug(m.Debug), count: 1})
	}

	sectionTableOffset := uint32(HeaderSize)
	dataStart := sectionTableOffset + uint32(len(sections))*SectionEntrySize

	entries := make([]SectionEntry, len(sections))
	var body bytes.Buffer
	offset := dataStart
	for i, s := range sections {
		pad := align4(offset) - offset
		if pad > 0 {
			body.Write(make([]byte, pad))
			offset += pad
		}
		entries[i] = SectionEntry{ID: uint32(s.id), Offset: offset, Size: uint32(len(s.bytes)), Count: s.count}
		body.Write(s.bytes)
		offset += uint32(len(s.bytes))
	}

	var out bytes.Buffer
	hdr := Header{
		Magic:              Magic,
		Version:            Version,
		Endian:             Endian,
		SectionCount:       uint32(len(sections)),
		SectionTableOffset: sectionTableOffset,
		EntryMethodID:      m.EntryMethodID,
	}
	writeHeader(&out, hdr)
	for _, e := range entries {
		writeSectionEntry(&out, e)
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func align4(off uint32) uint32 { return (off + 3) &^ 3 }

func defaultConstPool() []byte {
	// One empty interned string at offset 0, matching
	// original_source's default-const-pool fallback.
	return []byte{0}
}

func writeHeader(buf *bytes.Buffer, h Header) {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	b[6] = h.Endian
	b[7] = h.Flags
	binary.LittleEndian.PutUint32(b[8:12], h.SectionCount)
	binary.LittleEndian.PutUint32(b[12:16], h.SectionTableOffset)
	binary.LittleEndian.PutUint32(b[16:20], h.EntryMethodID)
	binary.LittleEndian.PutUint32(b[20:24], h.Reserved0)
	binary.LittleEndian.PutUint32(b[24:28], h.Reserved1)
	binary.LittleEndian.PutUint32(b[28:32], h.Reserved2)
	buf.Write(b[:])
}

func writeSectionEntry(buf *bytes.Buffer, e SectionEntry) {
	var b [SectionEntrySize]byte
	binary.LittleEndian.PutUint32(b[0:4], e.ID)
	binary.LittleEndian.PutUint32(b[4:8], e.Offset)
	binary.LittleEndian.PutUint32(b[8:12], e.Size)
	binary.LittleEndian.PutUint32(b[12:16], e.Count)
	buf.Write(b[:])
}

func encodeTypes(rows []TypeRow) []byte {
	buf := make([]byte, 0, len(rows)*20)
	for _, r := range rows {
		var b [20]byte
		binary.LittleEndian.PutUint32(b[0:4], r.NameStr)
		b[4] = uint8(r.Kind)
		b[5] = r.Flags
		// b[6:8] reserved padding, per original_source's TypeRow layout.
		binary.LittleEndian.PutUint32(b[8:12], r.Size)
		binary.LittleEndian.PutUint32(b[12:16], r.FieldStart)
		binary.LittleEndian.PutUint32(b[16:20], r.FieldCount)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeFields(rows []FieldRow) []byte {
	buf := make([]byte, 0, len(rows)*16)
	for _, r := range rows {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], r.NameStr)
		binary.LittleEndian.PutUint32(b[4:8], r.TypeID)
		binary.LittleEndian.PutUint32(b[8:12], r.Offset)
		binary.LittleEndian.PutUint32(b[12:16], r.Flags)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeMethods(rows []MethodRow) []byte {
	buf := make([]byte, 0, len(rows)*16)
	for _, r := range rows {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], r.NameStr)
		binary.LittleEndian.PutUint32(b[4:8], r.SigID)
		binary.LittleEndian.PutUint32(b[8:12], r.CodeOffset)
		binary.LittleEndian.PutUint16(b[12:14], r.LocalCount)
		binary.LittleEndian.PutUint16(b[14:16], r.Flags)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeSigs(rows []SigRow, params []uint32) []byte {
	buf := make([]byte, 0, len(rows)*16+len(params)*4)
	for _, r := range rows {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], r.RetTypeID)
		binary.LittleEndian.PutUint16(b[4:6], r.ParamCount)
		binary.LittleEndian.PutUint16(b[6:8], r.CallConv)
		binary.LittleEndian.PutUint32(b[8:12], r.ParamTypeStart)
		buf = append(buf, b[:]...)
	}
	for _, p := range params {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], p)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeGlobals(rows []GlobalRow) []byte {
	buf := make([]byte, 0, len(rows)*16)
	for _, r := range rows {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], r.NameStr)
		binary.LittleEndian.PutUint32(b[4:8], r.TypeID)
		binary.LittleEndian.PutUint32(b[8:12], r.Flags)
		binary.LittleEndian.PutUint32(b[12:16], r.InitConstID)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeFunctions(rows []FunctionRow) []byte {
	buf := make([]byte, 0, len(rows)*16)
	for _, r := range rows {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], r.MethodID)
		binary.LittleEndian.PutUint32(b[4:8], r.CodeOffset)
		binary.LittleEndian.PutUint32(b[8:12], r.CodeSize)
		binary.LittleEndian.PutUint32(b[12:16], r.StackMax)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeImports(rows []ImportRow) []byte {
	buf := make([]byte, 0, len(rows)*16)
	for _, r := range rows {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], r.ModuleNameStr)
		binary.LittleEndian.PutUint32(b[4:8], r.SymbolNameStr)
		binary.LittleEndian.PutUint32(b[8:12], r.SigID)
		binary.LittleEndian.PutUint32(b[12:16], r.Flags)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeExports(rows []ExportRow) []byte {
	buf := make([]byte, 0, len(rows)*16)
	for _, r := range rows {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], r.NameStr)
		binary.LittleEndian.PutUint32(b[4:8], uint32(r.Kind))
		binary.LittleEndian.PutUint32(b[8:12], r.Index)
		binary.LittleEndian.PutUint32(b[12:16], r.Flags)
		buf = append(buf, b[:]...)
	}
	return buf
}

func encodeDebug(d *DebugTables) []byte {
	var buf bytes.Buffer
	var hb [16]byte
	binary.LittleEndian.PutUint32(hb[0:4], uint32(len(d.Files)))
	binary.LittleEndian.PutUint32(hb[4:8], uint32(len(d.Lines)))
	binary.LittleEndian.PutUint32(hb[8:12], uint32(len(d.Syms)))
	buf.Write(hb[:])
	for _, f := range d.Files {
		var b [12]byte
		binary.LittleEndian.PutUint32(b[0:4], f.FileNameStr)
		binary.LittleEndian.PutUint64(b[4:12], f.FileHash)
		buf.Write(b[:])
	}
	for _, l := range d.Lines {
		var b [20]byte
		binary.LittleEndian.PutUint32(b[0:4], l.MethodID)
		binary.LittleEndian.PutUint32(b[4:8], l.CodeOffset)
		binary.LittleEndian.PutUint32(b[8:12], l.FileID)
		binary.LittleEndian.PutUint32(b[12:16], l.Line)
		binary.LittleEndian.PutUint32(b[16:20], l.Column)
		buf.Write(b[:])
	}
	for _, s := range d.Syms {
		var b [16]byte
		binary.LittleEndian.PutUint32(b[0:4], uint32(s.Kind))
		binary.LittleEndian.PutUint32(b[4:8], s.OwnerID)
		binary.LittleEndian.PutUint32(b[8:12], s.SymbolID)
		binary.LittleEndian.PutUint32(b[12:16], s.NameStr)
		buf.Write(b[:])
	}
	return buf.Bytes()
}
