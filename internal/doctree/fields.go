package doctree

import (
	"fmt"
	"strings"
)

// FieldType identifies the kind of a field by its code keyword.
type FieldType int

const (
	FieldNone FieldType = iota
	FieldUnknown
	FieldMergeField
	FieldIf
	FieldHyperlink
	FieldRef
	FieldPageRef
	FieldNoteRef
	FieldPage
	FieldNumPages
	FieldDate
	FieldTime
	FieldCreateDate
	FieldSaveDate
	FieldDocVariable
	FieldDocProperty
	FieldTitle
	FieldAuthor
	FieldSubject
	FieldKeywords
	FieldComments
	FieldFileName
	FieldSeq
	FieldTOC
	FieldIncludePicture
	FieldFormText
	FieldSymbol
	FieldQuote
)

var fieldKeywords = map[string]FieldType{
	"MERGEFIELD":     FieldMergeField,
	"IF":             FieldIf,
	"HYPERLINK":      FieldHyperlink,
	"REF":            FieldRef,
	"PAGEREF":        FieldPageRef,
	"NOTEREF":        FieldNoteRef,
	"PAGE":           FieldPage,
	"NUMPAGES":       FieldNumPages,
	"DATE":           FieldDate,
	"TIME":           FieldTime,
	"CREATEDATE":     FieldCreateDate,
	"SAVEDATE":       FieldSaveDate,
	"DOCVARIABLE":    FieldDocVariable,
	"DOCPROPERTY":    FieldDocProperty,
	"TITLE":          FieldTitle,
	"AUTHOR":         FieldAuthor,
	"SUBJECT":        FieldSubject,
	"KEYWORDS":       FieldKeywords,
	"COMMENTS":       FieldComments,
	"FILENAME":       FieldFileName,
	"SEQ":            FieldSeq,
	"TOC":            FieldTOC,
	"INCLUDEPICTURE": FieldIncludePicture,
	"FORMTEXT":       FieldFormText,
	"SYMBOL":         FieldSymbol,
	"QUOTE":          FieldQuote,
}

func (t FieldType) String() string {
	for k, v := range fieldKeywords {
		if v == t {
			return k
		}
	}
	if t == FieldNone {
		return "NONE"
	}
	return "UNKNOWN"
}

// FieldTypeFromCode derives the field type from the first word of a
// field code.
func FieldTypeFromCode(code string) FieldType {
	word, _, _ := strings.Cut(strings.TrimSpace(code), " ")
	if t, ok := fieldKeywords[strings.ToUpper(word)]; ok {
		return t
	}
	return FieldUnknown
}

// Field is a view over the three markers of one field. Separator is
// nil for an unresulted field.
type Field struct {
	Start     *Node
	Separator *Node
	End       *Node
}

// Type returns the field type recorded on the start marker.
func (f *Field) Type() FieldType { return f.Start.data.(*FieldStart).FieldType }

// HasResult reports whether the field carries a separator and result.
func (f *Field) HasResult() bool { return f.Separator != nil }

// Fields pairs every field marker in document order. Nested fields are
// returned after their parent.
func (d *Document) Fields() ([]*Field, error) {
	return fieldsIn(d.Node)
}

// FieldsIn pairs the field markers below root.
func FieldsIn(root *Node) ([]*Field, error) { return fieldsIn(root) }

func fieldsIn(root *Node) ([]*Field, error) {
	var out []*Field
	var stack []*Field
	for n := range root.Descendants() {
		switch n.typ {
		case FieldStartNode:
			f := &Field{Start: n}
			out = append(out, f)
			stack = append(stack, f)
		case FieldSeparatorNode:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: separator without start", ErrMalformedField)
			}
			top := stack[len(stack)-1]
			if top.Separator != nil {
				return nil, fmt.Errorf("%w: second separator in %s field", ErrMalformedField, top.Type())
			}
			top.Separator = n
		case FieldEndNode:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: end without start", ErrMalformedField)
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			end := n.data.(*FieldEnd)
			if end.FieldType != top.Type() {
				return nil, fmt.Errorf("%w: %s field closed as %s", ErrMalformedField, top.Type(), end.FieldType)
			}
			top.End = n
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: %d unterminated fields", ErrMalformedField, len(stack))
	}
	return out, nil
}

// between calls fn for each node strictly between from and to in
// document order, skipping ancestors of to.
func between(from, to *Node, fn func(*Node) bool) {
	root := from.doc.Node
	for n := from.NextInOrder(root); n != nil && n != to; n = n.NextInOrder(root) {
		if n.IsAncestorOf(to) {
			continue
		}
		if !fn(n) {
			return
		}
	}
}

// Code returns the field code: run text between the start and the
// separator (or end). Nested fields contribute their result.
func (f *Field) Code() string {
	stop := f.End
	if f.Separator != nil {
		stop = f.Separator
	}
	return collectText(f.Start, stop)
}

// Result returns the displayed result of the field.
func (f *Field) Result() (string, error) {
	if f.Separator == nil {
		return "", fmt.Errorf("%w: %s", ErrUnresultedField, f.Type())
	}
	return collectText(f.Separator, f.End), nil
}

func collectText(from, to *Node) string {
	var b strings.Builder
	depth := 0
	inCode := false
	between(from, to, func(n *Node) bool {
		switch n.typ {
		case FieldStartNode:
			depth++
			inCode = true
		case FieldSeparatorNode:
			if depth > 0 {
				inCode = false
			}
		case FieldEndNode:
			if depth > 0 {
				depth--
				inCode = false
			}
		case RunNode:
			if depth == 0 || !inCode {
				b.WriteString(n.data.(*Run).text)
			}
		}
		return true
	})
	return b.String()
}

// SetResult replaces the result with a single run. The new run takes
// the format of the first replaced run.
func (f *Field) SetResult(text string) error {
	if f.Separator == nil {
		return fmt.Errorf("%w: %s", ErrUnresultedField, f.Type())
	}
	var format CharFormat
	var style StyleHandle
	found := false
	for _, n := range f.removeRange(f.Separator, f.End) {
		if r, ok := n.data.(*Run); ok && !found {
			format, style, found = r.Format, r.Style, true
		}
	}
	if !found {
		format = adjacentFormat(f.Start)
	}
	r := NewRun(f.Start.doc, text)
	r.Format = format
	r.Style = style
	f.Separator.parent.attach(r.Node, f.Separator.nextSibling)
	if e := f.End.data.(*FieldEnd); !e.HasSeparator {
		e.HasSeparator = true
	}
	return nil
}

// removeRange detaches every node strictly between from and to, except
// ancestors of to, and returns the detached nodes.
func (f *Field) removeRange(from, to *Node) []*Node {
	var doomed []*Node
	between(from, to, func(n *Node) bool {
		doomed = append(doomed, n)
		return true
	})
	var removed []*Node
	for _, n := range doomed {
		if n.parent == nil {
			continue
		}
		removed = append(removed, n)
		n.detach()
	}
	return removed
}

func adjacentFormat(n *Node) CharFormat {
	for p := n.prevSibling; p != nil; p = p.prevSibling {
		if r, ok := p.data.(*Run); ok {
			return r.Format
		}
	}
	return CharFormat{}
}

// Remove deletes the field and its content.
func (f *Field) Remove() error {
	if f.Start.parent == nil || f.End.parent == nil {
		return fmt.Errorf("%w: field markers are detached", ErrInvalidTreeOperation)
	}
	f.removeRange(f.Start, f.End)
	f.Start.detach()
	f.End.detach()
	return nil
}

// Unlink replaces the field with its result. An unresulted field is
// removed entirely.
func (f *Field) Unlink() error {
	if f.Separator == nil {
		return f.Remove()
	}
	if f.Start.parent == nil || f.End.parent == nil {
		return fmt.Errorf("%w: field markers are detached", ErrInvalidTreeOperation)
	}
	f.removeRange(f.Start, f.Separator)
	f.Start.detach()
	f.Separator.detach()
	f.End.detach()
	return nil
}

// InsertField inserts a complete field before ref inside para. An empty
// result produces an unresulted field only when withResult is false.
func InsertField(para *Paragraph, ref *Node, code, result string, withResult bool) (*Field, error) {
	if ref != nil && ref.parent != para.Node {
		return nil, fmt.Errorf("%w: reference is not in the paragraph", ErrInvalidTreeOperation)
	}
	doc := para.doc
	t := FieldTypeFromCode(code)
	f := &Field{Start: NewFieldStart(doc, t).Node}
	nodes := []*Node{f.Start, NewRun(doc, code).Node}
	if withResult {
		f.Separator = NewFieldSeparator(doc, t).Node
		nodes = append(nodes, f.Separator)
		if result != "" {
			nodes = append(nodes, NewRun(doc, result).Node)
		}
	}
	f.End = NewFieldEnd(doc, t, withResult).Node
	nodes = append(nodes, f.End)
	for _, n := range nodes {
		if err := para.InsertBefore(n, ref); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// MergeFieldName extracts the field name from a MERGEFIELD code, with
// surrounding quotes removed. It reports false for other field codes.
func MergeFieldName(code string) (string, bool) {
	word, rest, _ := strings.Cut(strings.TrimSpace(code), " ")
	if !strings.EqualFold(word, "MERGEFIELD") {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, `"`) {
		if end := strings.Index(rest[1:], `"`); end >= 0 {
			return rest[1 : end+1], true
		}
		return strings.Trim(rest, `"`), true
	}
	name, _, _ := strings.Cut(rest, " ")
	return name, name != ""
}

// FieldSwitch is one backslash switch of a field code, such as \* Upper.
type FieldSwitch struct {
	Name string
	Arg  string
}

// FieldCode is a tokenized field code.
type FieldCode struct {
	Keyword  string
	Args     []string
	Switches []FieldSwitch
}

// switches that consume the following token as their argument
var argSwitches = map[string]bool{
	`\*`: true, `\@`: true, `\#`: true, `\b`: true, `\f`: true,
	`\l`: true, `\o`: true, `\r`: true, `\s`: true, `\t`: true,
}

// ParseFieldCode splits a field code into keyword, arguments and
// switches. Quoted tokens keep their spaces and lose their quotes.
func ParseFieldCode(code string) FieldCode {
	var fc FieldCode
	toks := tokenizeField(code)
	if len(toks) == 0 {
		return fc
	}
	fc.Keyword = strings.ToUpper(toks[0].text)
	for i := 1; i < len(toks); i++ {
		tk := toks[i]
		if !tk.quoted && strings.HasPrefix(tk.text, `\`) {
			sw := FieldSwitch{Name: tk.text}
			if argSwitches[sw.Name] && i+1 < len(toks) && (toks[i+1].quoted || !strings.HasPrefix(toks[i+1].text, `\`)) {
				sw.Arg = toks[i+1].text
				i++
			}
			fc.Switches = append(fc.Switches, sw)
			continue
		}
		fc.Args = append(fc.Args, tk.text)
	}
	return fc
}

// Switch returns the argument of the first switch with the given name,
// such as `\*`.
func (c FieldCode) Switch(name string) (string, bool) {
	for _, s := range c.Switches {
		if s.Name == name {
			return s.Arg, true
		}
	}
	return "", false
}

type fieldToken struct {
	text   string
	quoted bool
}

func tokenizeField(code string) []fieldToken {
	var out []fieldToken
	rs := []rune(code)
	for i := 0; i < len(rs); {
		switch {
		case rs[i] == ' ' || rs[i] == '\t':
			i++
		case rs[i] == '"':
			j := i + 1
			var b strings.Builder
			for j < len(rs) && rs[j] != '"' {
				if rs[j] == '\\' && j+1 < len(rs) && rs[j+1] == '"' {
					j++
				}
				b.WriteRune(rs[j])
				j++
			}
			out = append(out, fieldToken{text: b.String(), quoted: true})
			i = j + 1
		default:
			j := i
			for j < len(rs) && rs[j] != ' ' && rs[j] != '\t' && rs[j] != '"' {
				j++
			}
			out = append(out, fieldToken{text: string(rs[i:j])})
			i = j
		}
	}
	return out
}
