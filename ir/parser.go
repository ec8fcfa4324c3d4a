package ir

import (
	"strconv"
	"strings"
)

// parser walks the comment-stripped line stream and builds a TextModule,
// the symbolic (all-cross-references-are-strings) form spec §4.1
// describes. It never backtracks: a malformed line is a fatal parse
// error, matching the teacher's own Parser in std/compiler/parser.go
// (errorf aborts the whole parse rather than attempting recovery) and
// spec §4.1's "the parser never continues past a fatal error".
type parser struct {
	lines []lexLine
	pos   int
	mod   TextModule
}

// ParseModule tokenizes and parses one textual IR program into a
// symbolic TextModule. This is the Parser stage of the pipeline in
// spec §2.
func ParseModule(src string) (*TextModule, error) {
	p := &parser{lines: lexLines(src)}
	if err := p.run(); err != nil {
		return nil, err
	}
	return &p.mod, nil
}

func (p *parser) peek() (lexLine, bool) {
	if p.pos >= len(p.lines) {
		return lexLine{}, false
	}
	return p.lines[p.pos], true
}

func (p *parser) next() (lexLine, bool) {
	l, ok := p.peek()
	if ok {
		p.pos++
	}
	return l, ok
}

func (p *parser) run() error {
	sawEntry := false
	for {
		l, ok := p.peek()
		if !ok {
			break
		}
		switch {
		case l.text == "types:":
			p.next()
			if err := p.parseTypes(); err != nil {
				return err
			}
		case l.text == "sigs:":
			p.next()
			if err := p.parseSigs(); err != nil {
				return err
			}
		case l.text == "consts:":
			p.next()
			if err := p.parseConsts(); err != nil {
				return err
			}
		case l.text == "imports:":
			p.next()
			if err := p.parseImports(); err != nil {
				return err
			}
		case l.text == "exports:":
			p.next()
			if err := p.parseExports(); err != nil {
				return err
			}
		case l.text == "globals:":
			p.next()
			if err := p.parseGlobals(); err != nil {
				return err
			}
		case strings.HasPrefix(l.text, "func "), l.text == "func":
			p.next()
			fn, err := p.parseFunc(l)
			if err != nil {
				return err
			}
			p.mod.Functions = append(p.mod.Functions, *fn)
		case strings.HasPrefix(l.text, "entry "):
			p.next()
			if sawEntry {
				return parseErrf(l.num, "duplicate entry declaration")
			}
			sawEntry = true
			p.mod.EntryName = strings.TrimSpace(strings.TrimPrefix(l.text, "entry "))
			p.mod.EntryLine = l.num
			if p.mod.EntryName == "" {
				return parseErrf(l.num, "entry requires a function name")
			}
		default:
			return parseErrf(l.num, "unexpected top-level line %q", l.text)
		}
	}
	if !sawEntry {
		return parseErrf(0, "module has no entry declaration")
	}
	return nil
}

// sectionBody consumes and returns a section's lines up to, but not
// including, the next recognized top-level introducer, or up to EOF.
// Section bodies have no explicit terminator in spec §6.2's grammar
// summary, so a section runs until the next section keyword, `func`, or
// `entry` line.
func (p *parser) sectionBody() []lexLine {
	var body []lexLine
	for {
		l, ok := p.peek()
		if !ok {
			break
		}
		switch {
		case l.text == "types:", l.text == "sigs:", l.text == "consts:",
			l.text == "imports:", l.text == "exports:", l.text == "globals:",
			strings.HasPrefix(l.text, "func "), l.text == "func",
			strings.HasPrefix(l.text, "entry "):
			return body
		}
		p.next()
		body = append(body, l)
	}
	return body
}

// parseTypes parses `types:` entries of the form
// `Name: field:type, field:type, ...`.
func (p *parser) parseTypes() error {
	for _, l := range p.sectionBody() {
		name, rest, ok := strings.Cut(l.text, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return parseErrf(l.num, "malformed type declaration %q", l.text)
		}
		decl := TextTypeDecl{Name: name, Line: l.num}
		for _, tok := range fields(rest) {
			fname, ftype, ok := strings.Cut(tok, ":")
			if !ok || fname == "" || ftype == "" {
				return parseErrf(l.num, "malformed field %q in type %s", tok, name)
			}
			decl.Fields = append(decl.Fields, TextField{Name: fname, Type: ftype})
		}
		p.mod.Types = append(p.mod.Types, decl)
	}
	return nil
}

// parseSigs parses `sigs:` entries: `name: ret param...` where ret is a
// type name or "void".
func (p *parser) parseSigs() error {
	for _, l := range p.sectionBody() {
		name, rest, ok := strings.Cut(l.text, ":")
		name = strings.TrimSpace(name)
		toks := fields(rest)
		if !ok || name == "" || len(toks) == 0 {
			return parseErrf(l.num, "malformed sig declaration %q", l.text)
		}
		p.mod.Sigs = append(p.mod.Sigs, TextSigDecl{
			Name: name, RetType: toks[0], Params: toks[1:], Line: l.num,
		})
	}
	return nil
}

// parseConsts parses `consts:` entries: `name: kind literal`.
func (p *parser) parseConsts() error {
	for _, l := range p.sectionBody() {
		name, rest, ok := strings.Cut(l.text, ":")
		name = strings.TrimSpace(name)
		toks := fields(rest)
		if !ok || name == "" || len(toks) < 2 {
			return parseErrf(l.num, "malformed const declaration %q", l.text)
		}
		kind := strings.ToLower(toks[0])
		literal := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), toks[0]))
		if kind == "string" {
			literal = strings.TrimSpace(literal)
			unquoted, err := unquoteIrString(literal)
			if err != nil {
				return parseErrf(l.num, "bad string literal in const %s: %v", name, err)
			}
			literal = unquoted
		}
		p.mod.Consts = append(p.mod.Consts, TextConstDecl{Name: name, Kind: kind, Literal: literal, Line: l.num})
	}
	return nil
}

// parseImports parses `syscall NAME ID`, `intrinsic NAME ID`, and
// `import NAME MODULE SYMBOL sig=<sig>` lines, per spec §4.2 step 6.
func (p *parser) parseImports() error {
	for _, l := range p.sectionBody() {
		toks := fields(l.text)
		if len(toks) == 0 {
			continue
		}
		switch strings.ToLower(toks[0]) {
		case "syscall":
			if len(toks) != 3 {
				return parseErrf(l.num, "syscall declaration requires NAME ID")
			}
			id, err := strconv.ParseUint(toks[2], 0, 32)
			if err != nil {
				return parseErrf(l.num, "bad syscall id %q", toks[2])
			}
			p.mod.Syscalls = append(p.mod.Syscalls, TextSyscallDecl{Name: toks[1], ID: uint32(id), Line: l.num})
		case "intrinsic":
			if len(toks) != 3 {
				return parseErrf(l.num, "intrinsic declaration requires NAME ID")
			}
			id, err := strconv.ParseUint(toks[2], 0, 32)
			if err != nil {
				return parseErrf(l.num, "bad intrinsic id %q", toks[2])
			}
			p.mod.Intrinsics = append(p.mod.Intrinsics, TextIntrinsicDecl{Name: toks[1], ID: uint32(id), Line: l.num})
		case "import":
			if len(toks) != 5 {
				return parseErrf(l.num, "import declaration requires NAME MODULE SYMBOL sig=<sig>")
			}
			key, val, ok := splitAttr(toks[4])
			if !ok || key != "sig" {
				return parseErrf(l.num, "import declaration missing sig=<sig>")
			}
			p.mod.Imports = append(p.mod.Imports, TextImportDecl{
				Name: toks[1], Module: toks[2], Symbol: toks[3], SigName: val, Line: l.num,
			})
		default:
			return parseErrf(l.num, "unknown imports entry %q", toks[0])
		}
	}
	return nil
}

// parseExports parses `export function NAME` / `export global NAME`
// lines (a supplement beyond spec.md's grammar; see SPEC_FULL.md).
func (p *parser) parseExports() error {
	for _, l := range p.sectionBody() {
		toks := fields(l.text)
		if len(toks) != 3 || strings.ToLower(toks[0]) != "export" {
			return parseErrf(l.num, "malformed export entry %q", l.text)
		}
		kind := strings.ToLower(toks[1])
		if kind != "function" && kind != "global" {
			return parseErrf(l.num, "export kind must be function or global, got %q", toks[1])
		}
		p.mod.Exports = append(p.mod.Exports, TextExportDecl{Kind: kind, Name: toks[2], Line: l.num})
	}
	return nil
}

// parseGlobals parses `globals:` entries: `name: type [= init]`.
func (p *parser) parseGlobals() error {
	for _, l := range p.sectionBody() {
		name, rest, ok := strings.Cut(l.text, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return parseErrf(l.num, "malformed global declaration %q", l.text)
		}
		typ, init, _ := strings.Cut(rest, "=")
		p.mod.Globals = append(p.mod.Globals, TextGlobalDecl{
			Name: name, Type: strings.TrimSpace(typ), Init: strings.TrimSpace(init), Line: l.num,
		})
	}
	return nil
}

// parseFunc parses one `func NAME attr*` block up to its matching `end`.
func (p *parser) parseFunc(header lexLine) (*TextFunction, error) {
	toks := fields(strings.TrimPrefix(header.text, "func"))
	if len(toks) == 0 {
		return nil, parseErrf(header.num, "func requires a name")
	}
	fn := &TextFunction{Name: toks[0], StackMax: 8, Line: header.num}
	for _, attr := range toks[1:] {
		if attr == "export" {
			fn.Exported = true
			continue
		}
		key, val, ok := splitAttr(attr)
		if !ok {
			return nil, parseErrf(header.num, "malformed func attribute %q", attr)
		}
		switch key {
		case "locals":
			n, err := strconv.ParseUint(val, 0, 16)
			if err != nil {
				return nil, parseErrf(header.num, "bad locals= value %q", val)
			}
			fn.LocalsAttr = uint16(n)
		case "stack":
			n, err := strconv.ParseUint(val, 0, 32)
			if err != nil {
				return nil, parseErrf(header.num, "bad stack= value %q", val)
			}
			fn.StackMax = uint32(n)
		case "sig":
			fn.SigName = val
		default:
			return nil, parseErrf(header.num, "unknown func attribute %q", key)
		}
	}

	for {
		l, ok := p.next()
		if !ok {
			return nil, parseErrf(header.num, "func %s missing end", fn.Name)
		}
		if l.text == "end" {
			return fn, nil
		}
		if strings.HasPrefix(l.text, "locals:") {
			slots, err := parseNamedSlots(l)
			if err != nil {
				return nil, err
			}
			fn.Locals = slots
			continue
		}
		if strings.HasPrefix(l.text, "upvalues:") {
			slots, err := parseNamedSlots(l)
			if err != nil {
				return nil, err
			}
			fn.Upvalues = slots
			continue
		}
		if name, ok := isLabelLine(l.text); ok {
			fn.Insts = append(fn.Insts, TextInst{Kind: InstLabel, Name: name, Line: l.num})
			continue
		}
		toks := fields(l.text)
		fn.Insts = append(fn.Insts, TextInst{
			Kind: InstOp,
			Op:   strings.ToLower(toks[0]),
			Args: toks[1:],
			Line: l.num,
		})
	}
}

func parseNamedSlots(l lexLine) ([]TextNamedSlot, error) {
	_, rest, _ := strings.Cut(l.text, ":")
	var slots []TextNamedSlot
	for _, tok := range fields(rest) {
		name, typ, hasType := strings.Cut(tok, ":")
		if name == "" {
			return nil, parseErrf(l.num, "malformed slot declaration %q", tok)
		}
		slot := TextNamedSlot{Name: name}
		if hasType {
			slot.Type = typ
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// unquoteIrString strips a double-quoted IR string literal and resolves
// its escapes via Go's own string-literal grammar, which is a superset
// compatible with the simple `\n \t \\ \"` escapes the textual IR needs.
func unquoteIrString(tok string) (string, error) {
	if len(tok) < 2 || tok[0] != '"' || tok[len(tok)-1] != '"' {
		return "", parseErrf(0, "expected quoted string, got %q", tok)
	}
	return strconv.Unquote(tok)
}
