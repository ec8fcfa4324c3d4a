package sbcfile_test

import (
	"encoding/binary"
	"testing"

	"simplevm.dev/sbc/sbcfile"
)

// buildMinimalModule constructs the smallest module the encoder/loader
// round trip needs to exercise: one signature, one zero-arg function
// whose code is a single `nop` byte, and no
// types/fields/globals/imports/exports.
func buildMinimalModule() *sbcfile.Module {
	m := &sbcfile.Module{
		Sigs: []sbcfile.SigRow{{RetTypeID: sbcfile.VoidTypeID}},
		Methods: []sbcfile.MethodRow{{
			NameStr:    0,
			SigID:      0,
			CodeOffset: 0,
			LocalCount: 0,
		}},
		Functions: []sbcfile.FunctionRow{{
			MethodID:   0,
			CodeOffset: 0,
			CodeSize:   1,
			StackMax:   8,
		}},
		Code:          []byte{0x00},
		EntryMethodID: 0,
	}
	return m
}

func TestEncodeLoadRoundTrip(t *testing.T) {
	m := buildMinimalModule()
	data, err := sbcfile.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) < sbcfile.HeaderSize {
		t.Fatalf("encoded module shorter than header: %d bytes", len(data))
	}

	loaded, err := sbcfile.Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Functions) != 1 {
		t.Fatalf("expected 1 function, got %d", len(loaded.Functions))
	}
	if loaded.Functions[0].CodeSize != 1 {
		t.Fatalf("code size = %d, want 1", loaded.Functions[0].CodeSize)
	}
	if loaded.EntryMethodID != 0 {
		t.Fatalf("entry func id = %d, want 0", loaded.EntryMethodID)
	}
	if loaded.ModuleID.String() == "" {
		t.Fatalf("expected a stamped module id")
	}
}

func TestLoadRejectsTruncatedHeader(t *testing.T) {
	_, err := sbcfile.Load([]byte{1, 2, 3})
	if err == nil {
		t.Fatalf("expected error loading truncated data")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	m := buildMinimalModule()
	data, err := sbcfile.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	data[0] ^= 0xFF
	if _, err := sbcfile.Load(data); err == nil {
		t.Fatalf("expected error loading data with corrupted magic")
	}
}

// A syscall/intrinsic import row repurposes SigID to carry a declared
// numeric id rather than a signature table index, so it must load even
// when that id is well outside the module's (tiny) sig table.
func TestLoadAcceptsIntrinsicImportSigIDOutOfSigRange(t *testing.T) {
	m := buildMinimalModule()
	m.Imports = []sbcfile.ImportRow{{SigID: 7, Flags: sbcfile.ImportFlagIntrinsic}}

	data, err := sbcfile.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	loaded, err := sbcfile.Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Imports) != 1 || loaded.Imports[0].SigID != 7 {
		t.Fatalf("expected intrinsic import with sig_id 7 to survive round trip, got %+v", loaded.Imports)
	}
}

// A section directory entry whose declared row Count doesn't fit its
// Size must yield a clean LoadError, never a slice-bounds panic.
func TestLoadRejectsOversizedSectionCount(t *testing.T) {
	m := buildMinimalModule()
	m.Imports = []sbcfile.ImportRow{{SigID: 0}}

	data, err := sbcfile.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	hdr := data[:sbcfile.HeaderSize]
	sectionTableOffset := binary.LittleEndian.Uint32(hdr[12:16])
	sectionCount := binary.LittleEndian.Uint32(hdr[8:12])

	found := false
	for i := uint32(0); i < sectionCount; i++ {
		entryOff := sectionTableOffset + i*sbcfile.SectionEntrySize
		entry := data[entryOff : entryOff+sbcfile.SectionEntrySize]
		id := binary.LittleEndian.Uint32(entry[0:4])
		if id != uint32(sbcfile.SectionImports) {
			continue
		}
		binary.LittleEndian.PutUint32(entry[12:16], 1<<20)
		found = true
		break
	}
	if !found {
		t.Fatalf("test setup: no imports section entry found to corrupt")
	}

	if _, err := sbcfile.Load(data); err == nil {
		t.Fatalf("expected LoadError for an oversized section row count, got nil")
	}
}

func TestResolveCallSharesFuncIDSpace(t *testing.T) {
	m := buildMinimalModule()
	m.Imports = []sbcfile.ImportRow{{SigID: 0}}

	target, ok := m.ResolveCall(0)
	if !ok || target.IsImport {
		t.Fatalf("func_id 0 should resolve to the user function, got %+v (ok=%v)", target, ok)
	}
	target, ok = m.ResolveCall(1)
	if !ok || !target.IsImport {
		t.Fatalf("func_id 1 should resolve to the import row, got %+v (ok=%v)", target, ok)
	}
	if _, ok := m.ResolveCall(2); ok {
		t.Fatalf("func_id 2 should not resolve in a 1-function, 1-import module")
	}
}
