// Package content provides text extraction, range editing, cross-document
// import and field updates over a doctree.
package content

import (
	"fmt"
	"iter"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

// Fragments yields the text of n depth first. Structural nodes
// contribute the control characters of the central table around their
// children; runs contribute their text. Deleted runs are included, so
// the result reflects the stored content rather than the accepted view.
func Fragments(n *doctree.Node) iter.Seq[string] {
	return func(yield func(string) bool) {
		fragments(n, yield)
	}
}

func fragments(n *doctree.Node, yield func(string) bool) bool {
	open, close := doctree.NodeText(n)
	if open != "" && !yield(open) {
		return false
	}
	if r, ok := n.Data().(*doctree.Run); ok {
		if t := r.Text(); t != "" && !yield(t) {
			return false
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if !fragments(c, yield) {
			return false
		}
	}
	if close != "" && !yield(close) {
		return false
	}
	return true
}

// Text concatenates Fragments(n).
func Text(n *doctree.Node) string {
	var b strings.Builder
	for s := range Fragments(n) {
		b.WriteString(s)
	}
	return b.String()
}

// PlainText renders the main story of n as readable text: field results
// instead of codes, accepted-view content (deleted runs dropped), line
// feeds for paragraph and row ends, tabs between cells. Headers,
// footers, comments and footnotes are left out.
func PlainText(n *doctree.Node) string {
	var b strings.Builder
	p := plainWriter{b: &b}
	p.node(n)
	return strings.TrimRight(b.String(), "\n")
}

type plainWriter struct {
	b *strings.Builder
	// field nesting: true while inside a field code
	code []bool
}

func (p *plainWriter) inCode() bool {
	for _, c := range p.code {
		if c {
			return true
		}
	}
	return false
}

func (p *plainWriter) node(n *doctree.Node) {
	switch v := n.Data().(type) {
	case *doctree.HeaderFooter, *doctree.Comment, *doctree.Footnote:
		return
	case *doctree.FieldStart:
		p.code = append(p.code, true)
		return
	case *doctree.FieldSeparator:
		if len(p.code) > 0 {
			p.code[len(p.code)-1] = false
		}
		return
	case *doctree.FieldEnd:
		if len(p.code) > 0 {
			p.code = p.code[:len(p.code)-1]
		}
		return
	case *doctree.Run:
		if !v.IsDeleted() && !p.inCode() {
			p.b.WriteString(ReadableRunText(v.Text()))
		}
		return
	case *doctree.Paragraph:
		if v.Revision().Type == doctree.Deletion && !v.HasChildNodes() {
			return
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		p.node(c)
	}
	switch n.Type() {
	case doctree.ParagraphNode:
		if n.ParentNode() != nil && n.ParentNode().Type() == doctree.CellNode && n.NextSibling() == nil {
			return
		}
		p.b.WriteString("\n")
	case doctree.CellNode:
		if n.NextSibling() != nil {
			p.b.WriteString("\t")
		}
	case doctree.RowNode:
		p.b.WriteString("\n")
	case doctree.SectionNode:
		if n.NextSibling() != nil && !strings.HasSuffix(p.b.String(), "\n") {
			p.b.WriteString("\n")
		}
	}
}

var readableReplacer = strings.NewReplacer(
	doctree.LineBreak, "\n",
	doctree.PageBreak, "\n",
	doctree.ColumnBreak, "\n",
	doctree.NonBreakingHyphen, "-",
	doctree.OptionalHyphen, "",
	doctree.ParagraphBreak, "\n",
)

// ReadableRunText maps the control characters that may occur inside
// run text to their plain text rendering.
func ReadableRunText(s string) string { return readableReplacer.Replace(s) }

// rangeNodes returns the siblings in [start, end). A nil end runs to the
// last sibling.
func rangeNodes(start, end *doctree.Node) ([]*doctree.Node, error) {
	if start == nil {
		return nil, fmt.Errorf("%w: nil range start", doctree.ErrInvalidTreeOperation)
	}
	parent := start.ParentNode()
	if parent == nil {
		return nil, fmt.Errorf("%w: range start is detached", doctree.ErrInvalidTreeOperation)
	}
	if end != nil && end.ParentNode() != parent {
		return nil, fmt.Errorf("%w: %s under %s, %s under %v", doctree.ErrCrossParentRange,
			start.Type(), parent.Type(), end.Type(), end.ParentNode())
	}
	var out []*doctree.Node
	for n := start; n != end; n = n.NextSibling() {
		if n == nil {
			return nil, fmt.Errorf("%w: range end precedes start", doctree.ErrInvalidTreeOperation)
		}
		out = append(out, n)
	}
	return out, nil
}

// TextBetween returns the text of the siblings in [start, end). Both
// nodes must share a parent; a nil end extends to the last sibling.
func TextBetween(start, end *doctree.Node) (string, error) {
	nodes, err := rangeNodes(start, end)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, n := range nodes {
		for s := range Fragments(n) {
			b.WriteString(s)
		}
	}
	return b.String(), nil
}

// DeleteBetween removes the siblings in [start, end) through the tree
// API, so the removal is tracked when the document tracks revisions.
func DeleteBetween(start, end *doctree.Node) error {
	nodes, err := rangeNodes(start, end)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := n.Remove(); err != nil {
			return err
		}
	}
	return nil
}

// BookmarkText returns the text enclosed by the named bookmark.
// Paragraph boundaries inside the bookmark become carriage returns.
func BookmarkText(doc *doctree.Document, name string) (string, error) {
	bm, err := doc.Bookmark(name)
	if err != nil {
		return "", err
	}
	if bm.End == nil {
		return "", fmt.Errorf("%w: bookmark %q has no end", doctree.ErrNotFound, name)
	}
	var b strings.Builder
	for n := bm.Start.NextInOrder(doc.Node); n != nil && n != bm.End; n = n.NextInOrder(doc.Node) {
		switch v := n.Data().(type) {
		case *doctree.Run:
			if !v.IsDeleted() {
				b.WriteString(v.Text())
			}
		case *doctree.Paragraph:
			if b.Len() > 0 {
				b.WriteString(doctree.ParagraphBreak)
			}
		}
	}
	return b.String(), nil
}
