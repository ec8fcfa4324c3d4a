package ir

// InstKind distinguishes a real operation from a label-definition pseudo
// line in the parsed textual program, mirroring the original project's
// simplevm::irtext::InstKind split between Op and Label lines.
type InstKind uint8

const (
	InstOp InstKind = iota
	InstLabel
)

// TextInst is one parsed line of a function body: either an operation
// with its raw argument tokens, or a label definition ("loop:").
type TextInst struct {
	Kind InstKind
	Op   string
	Args []string
	Name string // the label name, when Kind == InstLabel
	Line int    // 1-based source line, for diagnostics and debug rows
}

// TextNamedSlot is one entry of a `locals:`/`upvalues:` declaration line:
// a name with an optional type annotation ("b:i32"); Type is empty when
// the slot carries no annotation.
type TextNamedSlot struct {
	Name string
	Type string
}

// TextField is one declared struct field within a `types:` section entry.
// Offsets are not written in the textual form; the lowerer assigns them
// in declaration order, 4-byte aligned, per spec §4.2 step 3.
type TextField struct {
	Name string
	Type string
}

// TextTypeDecl is one parsed entry of the `types:` section: a named
// struct with its fields in declaration order.
type TextTypeDecl struct {
	Name   string
	Fields []TextField
	Line   int
}

// TextSigDecl is one parsed entry of the `sigs:` section: a name, a
// return type name ("void" for no return), and the ordered parameter
// type names.
type TextSigDecl struct {
	Name    string
	RetType string
	Params  []string
	Line    int
}

// TextConstDecl is one parsed entry of the `consts:` section.
type TextConstDecl struct {
	Name    string
	Kind    string // "string", "f32", or "f64" per spec §3's typed constant records
	Literal string
	Line    int
}

// TextGlobalDecl is one parsed entry of the `globals:` section.
type TextGlobalDecl struct {
	Name string
	Type string
	Init string // empty means zero-init; otherwise an int literal or a const name
	Line int
}

// TextSyscallDecl / TextIntrinsicDecl record a `syscall NAME ID` or
// `intrinsic NAME ID` line from the `imports:` section. Both record a
// name->id mapping, and the lowerer turns each into a module import row
// (flagged ImportFlagSyscall or ImportFlagIntrinsic, with the id carried
// in SigID) so the verifier can check `syscall`/`intrinsic` operands.
// Neither occupies the func_id space that explicit imports share.
type TextSyscallDecl struct {
	Name string
	ID   uint32
	Line int
}

type TextIntrinsicDecl struct {
	Name string
	ID   uint32
	Line int
}

// TextImportDecl is an `import NAME MODULE SYMBOL sig=<sig>` line from the
// `imports:` section: a host-provided function sharing the function id
// space with user functions.
type TextImportDecl struct {
	Name    string
	Module  string
	Symbol  string
	SigName string
	Line    int
}

// TextExportDecl is an `export function NAME` / `export global NAME` line
// from the `exports:` section — a supplement beyond spec.md's grammar,
// grounded in original_source's Exports section (see SPEC_FULL.md).
type TextExportDecl struct {
	Kind string // "function" or "global"
	Name string
	Line int
}

// TextFunction is one parsed `func` block.
type TextFunction struct {
	Name       string
	LocalsAttr uint16 // from the `locals=N` attribute; extra scratch slots beyond named ones
	StackMax   uint32 // from `stack=N`; defaults to 8 per original_source's IrTextFunction
	SigName    string // from `sig=<name|uint>`
	Exported   bool
	Locals     []TextNamedSlot // from an in-body `locals:` line
	Upvalues   []TextNamedSlot // from an in-body `upvalues:` line
	Insts      []TextInst
	Line       int
}

// TextModule is the parser's output: a fully tokenized but not yet
// symbol-resolved program, named after the original project's
// IrTextModule.
type TextModule struct {
	Types      []TextTypeDecl
	Sigs       []TextSigDecl
	Consts     []TextConstDecl
	Globals    []TextGlobalDecl
	Syscalls   []TextSyscallDecl
	Intrinsics []TextIntrinsicDecl
	Imports    []TextImportDecl
	Exports    []TextExportDecl
	Functions  []TextFunction
	EntryName  string
	EntryLine  int
}
