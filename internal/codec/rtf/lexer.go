package rtf

import (
	"strconv"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokGroupStart
	tokGroupEnd
	// tokWord is a control word or control symbol. \'hh arrives as the
	// word "'" with the byte as its parameter.
	tokWord
	tokText
	// tokBinary carries the payload of \binN.
	tokBinary
)

type token struct {
	kind     tokenKind
	word     string
	param    int
	hasParam bool
	data     []byte
	// offset of the token in the input, for error messages.
	offset int
}

// lexer splits RTF into tokens. It never fails; malformed escapes are
// returned as text.
type lexer struct {
	src []byte
	pos int
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

func (l *lexer) next() token {
	for l.pos < len(l.src) && (l.src[l.pos] == '\r' || l.src[l.pos] == '\n') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, offset: l.pos}
	}
	start := l.pos
	switch c := l.src[l.pos]; c {
	case '{':
		l.pos++
		return token{kind: tokGroupStart, offset: start}
	case '}':
		l.pos++
		return token{kind: tokGroupEnd, offset: start}
	case '\\':
		return l.control()
	}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '{' || c == '}' || c == '\\' || c == '\r' || c == '\n' {
			break
		}
		l.pos++
	}
	return token{kind: tokText, data: l.src[start:l.pos], offset: start}
}

func (l *lexer) control() token {
	start := l.pos
	l.pos++ // backslash
	if l.pos >= len(l.src) {
		return token{kind: tokText, data: []byte{'\\'}, offset: start}
	}
	c := l.src[l.pos]
	if !isLetter(c) {
		l.pos++
		switch c {
		case '\'':
			if l.pos+1 < len(l.src) {
				hi, ok1 := hexVal(l.src[l.pos])
				lo, ok2 := hexVal(l.src[l.pos+1])
				if ok1 && ok2 {
					l.pos += 2
					return token{kind: tokWord, word: "'", param: hi<<4 | lo, hasParam: true, offset: start}
				}
			}
			return token{kind: tokText, data: l.src[start:l.pos], offset: start}
		case '\r', '\n':
			return token{kind: tokWord, word: "par", offset: start}
		}
		return token{kind: tokWord, word: string(c), offset: start}
	}
	wstart := l.pos
	for l.pos < len(l.src) && isLetter(l.src[l.pos]) && l.pos-wstart < 32 {
		l.pos++
	}
	t := token{kind: tokWord, word: string(l.src[wstart:l.pos]), offset: start}
	pstart := l.pos
	if l.pos < len(l.src) && l.src[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) && l.pos-pstart < 11 {
		l.pos++
	}
	if digits := l.src[pstart:l.pos]; len(digits) > 0 && string(digits) != "-" {
		n, err := strconv.Atoi(string(digits))
		if err == nil {
			t.param, t.hasParam = n, true
		}
	} else {
		l.pos = pstart
	}
	if l.pos < len(l.src) && l.src[l.pos] == ' ' {
		l.pos++
	}
	if t.word == "bin" && t.param > 0 {
		end := min(l.pos+t.param, len(l.src))
		t = token{kind: tokBinary, data: l.src[l.pos:end], offset: start}
		l.pos = end
	}
	return t
}
