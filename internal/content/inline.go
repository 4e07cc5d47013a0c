package content

import (
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

// InlineKind tags an Inline.
type InlineKind int

const (
	// InlineText is visible run text; Run is set.
	InlineText InlineKind = iota
	// InlineLinkStart and InlineLinkEnd bracket the result of a
	// HYPERLINK field; URL is set on the start.
	InlineLinkStart
	InlineLinkEnd
	// InlineNote is a footnote or endnote anchor; Node is the note.
	InlineNote
	// InlineShape is an image, text box or rule; Node is the shape.
	InlineShape
	// InlineBookmark marks a bookmark start; Name is set.
	InlineBookmark
)

// Inline is one item of a paragraph's accepted-view content.
type Inline struct {
	Kind InlineKind
	Run  *doctree.Run
	Node *doctree.Node
	URL  string
	Name string
}

// AcceptedInlines flattens a paragraph the way export formats without
// fields or revisions see it: deleted content and field codes are
// dropped, field results stay, hyperlink fields become link brackets.
// Comments and their ranges are left out.
func AcceptedInlines(p *doctree.Node) []Inline {
	type open struct {
		link bool
		code bool
		buf  strings.Builder
	}
	var out []Inline
	var stack []*open
	inCode := func() bool {
		for _, f := range stack {
			if f.code {
				return true
			}
		}
		return false
	}
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.Data().(type) {
		case *doctree.FieldStart:
			stack = append(stack, &open{code: true, link: v.FieldType == doctree.FieldHyperlink})
		case *doctree.FieldSeparator:
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			f.code = false
			if f.link && !inCode() {
				out = append(out, Inline{Kind: InlineLinkStart, URL: HyperlinkURL(f.buf.String())})
			} else {
				f.link = false
			}
		case *doctree.FieldEnd:
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f.link && !f.code {
				out = append(out, Inline{Kind: InlineLinkEnd})
			}
		case *doctree.Run:
			if v.IsDeleted() {
				continue
			}
			if inCode() {
				stack[len(stack)-1].buf.WriteString(v.Text())
				continue
			}
			out = append(out, Inline{Kind: InlineText, Run: v})
		case *doctree.Footnote:
			if !inCode() {
				out = append(out, Inline{Kind: InlineNote, Node: c})
			}
		case *doctree.Shape:
			if !inCode() && v.Revision().Type != doctree.Deletion && v.Revision().Type != doctree.MoveFrom {
				out = append(out, Inline{Kind: InlineShape, Node: c})
			}
		case *doctree.BookmarkStart:
			if !inCode() {
				out = append(out, Inline{Kind: InlineBookmark, Name: v.Name})
			}
		}
	}
	return out
}

// HyperlinkURL returns the target of a HYPERLINK field code. A \l
// switch addresses a bookmark and becomes a fragment.
func HyperlinkURL(code string) string {
	fc := doctree.ParseFieldCode(code)
	var url string
	if len(fc.Args) > 0 {
		url = fc.Args[0]
	}
	if frag, ok := fc.Switch(`\l`); ok && frag != "" {
		url += "#" + frag
	}
	return url
}

// IsParagraphDeleted reports whether a paragraph carries a deletion mark
// and nothing visible remains in it.
func IsParagraphDeleted(p *doctree.Paragraph) bool {
	if !removedMark(p.Revision()) {
		return false
	}
	for _, r := range doctree.ChildrenOf[*doctree.Run](p.Node) {
		if !r.IsDeleted() {
			return false
		}
	}
	return true
}

// IsRowDeleted reports whether a table row is a tracked deletion or the
// source half of a move.
func IsRowDeleted(r *doctree.Row) bool { return removedMark(r.Revision()) }

// AcceptedRows returns the rows of t that survive accepting all
// revisions.
func AcceptedRows(t *doctree.Table) []*doctree.Row {
	var out []*doctree.Row
	for _, r := range t.Rows() {
		if !IsRowDeleted(r) {
			out = append(out, r)
		}
	}
	return out
}

func removedMark(m doctree.RevisionMark) bool {
	return m.Type == doctree.Deletion || m.Type == doctree.MoveFrom
}
