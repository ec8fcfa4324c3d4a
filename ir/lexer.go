package ir

import "strings"

// lexLine is one physical, comment-stripped, whitespace-trimmed source
// line together with its 1-based line number. The textual grammar is
// line-oriented (spec §4.1), so the lexer's only job is splitting the
// input into lines, stripping comments, and discarding blank lines —
// a much smaller surface than the teacher's general-purpose Lexer in
// std/compiler/parser.go, which tokenizes a full expression grammar.
type lexLine struct {
	text string
	num  int
}

// lexLines splits source text into comment-stripped, non-blank lines.
// `;` and `#` both start a line comment, per spec §4.1.
func lexLines(src string) []lexLine {
	raw := strings.Split(src, "\n")
	out := make([]lexLine, 0, len(raw))
	for i, line := range raw {
		if idx := strings.IndexAny(line, ";#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, lexLine{text: line, num: i + 1})
	}
	return out
}

// fields splits a line on whitespace and commas, as used for both
// instruction operand lists and `locals:`/`upvalues:` declarations.
func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
}

// splitAttr splits a `key=value` attribute token.
func splitAttr(tok string) (key, val string, ok bool) {
	idx := strings.IndexByte(tok, '=')
	if idx < 0 {
		return "", "", false
	}
	return tok[:idx], tok[idx+1:], true
}

// isLabelLine reports whether a trimmed, comment-stripped line is a bare
// label definition ("loop:") as opposed to a section header
// ("globals:") or an instruction. Section headers are recognized by the
// caller first; anything else ending in ':' with no embedded whitespace
// is treated as a label.
func isLabelLine(line string) (name string, ok bool) {
	if !strings.HasSuffix(line, ":") {
		return "", false
	}
	body := strings.TrimSuffix(line, ":")
	if body == "" || strings.ContainsAny(body, " \t") {
		return "", false
	}
	return body, true
}
