package sbcfile

// CallTarget describes what a `call`/`tailcall`/`newclosure` func_id
// operand resolves to: either a user function (by index into Functions/
// Methods) or an explicit host import (by index into Imports), sharing
// one id space as spec §4.2 step 6 describes ("imported functions share
// the function id space with user functions, func_id = user_functions.len
// + import_index"). Both the verifier and the interpreter resolve a call
// through this single helper so the id-space arithmetic lives in one
// place.
type CallTarget struct {
	SigID      uint32
	IsImport   bool
	ImportRow  int // index into Module.Imports, valid when IsImport
	FuncIndex  int // index into Module.Functions/Methods, valid when !IsImport
}

// explicitImportIndices returns, in order, the indices into m.Imports
// that are neither syscalls nor intrinsics: the explicit `import NAME
// MODULE SYMBOL sig=...` declarations that occupy the tail of the
// func_id space.
func (m *Module) explicitImportIndices() []int {
	var out []int
	for i, row := range m.Imports {
		if row.Flags&(ImportFlagSyscall|ImportFlagIntrinsic) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// ResolveCall maps a func_id operand to its CallTarget. ok is false if
// the id is out of range of both the user-function and explicit-import
// spaces.
func (m *Module) ResolveCall(funcID uint32) (CallTarget, bool) {
	if int(funcID) < len(m.Functions) {
		fn := m.Functions[funcID]
		if int(fn.MethodID) >= len(m.Methods) {
			return CallTarget{}, false
		}
		return CallTarget{SigID: m.Methods[fn.MethodID].SigID, FuncIndex: int(funcID)}, true
	}
	idx := int(funcID) - len(m.Functions)
	explicit := m.explicitImportIndices()
	if idx < 0 || idx >= len(explicit) {
		return CallTarget{}, false
	}
	row := explicit[idx]
	return CallTarget{SigID: m.Imports[row].SigID, IsImport: true, ImportRow: row}, true
}

// HasSyscall / HasIntrinsic report whether the module declares an
// import row for the given raw numeric id in the corresponding
// namespace (spec §4.2 step 6: "syscall NAME ID"/"intrinsic NAME ID"
// record a name->id mapping"; spec §4.6 requires "every intrinsic/
// syscall id must be declared in the module's imports").
func (m *Module) HasSyscall(id uint32) bool   { return m.hasImportID(id, ImportFlagSyscall) }
func (m *Module) HasIntrinsic(id uint32) bool { return m.hasImportID(id, ImportFlagIntrinsic) }

func (m *Module) hasImportID(id uint32, flag uint32) bool {
	for _, row := range m.Imports {
		if row.Flags&flag != 0 && row.SigID == id {
			return true
		}
	}
	return false
}
