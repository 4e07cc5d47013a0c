package compare

import (
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// atom is one comparison unit of a paragraph: a token of run text, or
// one or more inline nodes compared as a whole.
type atom struct {
	key   string
	text  string
	run   *doctree.Run
	nodes []*doctree.Node
}

func atomKeys(as []atom) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.key
	}
	return out
}

// atoms splits a paragraph into atoms. Nodes the options exclude from
// comparison are returned in pass, keyed by the index of the atom they
// precede.
func (c *comparer) atoms(p *doctree.Node) ([]atom, map[int][]*doctree.Node) {
	var out []atom
	pass := map[int][]*doctree.Node{}
	for n := p.FirstChild(); n != nil; n = n.NextSibling() {
		switch v := n.Data().(type) {
		case *doctree.Run:
			if v.Text() == "" {
				pass[len(out)] = append(pass[len(out)], n)
				continue
			}
			for _, tok := range tokenize(v.Text(), c.opts.Granularity) {
				out = append(out, atom{key: c.key(tok), text: tok, run: v})
			}
		case *doctree.FieldStart:
			if !c.opts.IgnoreFields {
				out = append(out, atom{key: "\x00fs", nodes: []*doctree.Node{n}})
				continue
			}
			nodes := []*doctree.Node{n}
			depth := 1
			for depth > 0 && n.NextSibling() != nil {
				n = n.NextSibling()
				nodes = append(nodes, n)
				switch n.Type() {
				case doctree.FieldStartNode:
					depth++
				case doctree.FieldEndNode:
					depth--
				}
			}
			out = append(out, atom{key: "\x00field", nodes: nodes})
		case *doctree.Comment, *doctree.CommentRangeStart, *doctree.CommentRangeEnd:
			if c.opts.IgnoreComments {
				pass[len(out)] = append(pass[len(out)], n)
				continue
			}
			out = append(out, atom{key: c.nodeKey(n), nodes: []*doctree.Node{n}})
		default:
			out = append(out, atom{key: c.nodeKey(n), nodes: []*doctree.Node{n}})
		}
	}
	return out, pass
}

func storyText(n *doctree.Node) string {
	var parts []string
	for ch := n.FirstChild(); ch != nil; ch = ch.NextSibling() {
		parts = append(parts, content.PlainText(ch))
	}
	return strings.Join(parts, "\n")
}

func (c *comparer) nodeKey(n *doctree.Node) string {
	switch v := n.Data().(type) {
	case *doctree.FieldSeparator:
		return "\x00fsep"
	case *doctree.FieldEnd:
		return "\x00fe"
	case *doctree.BookmarkStart:
		return "\x00bs:" + v.Name
	case *doctree.BookmarkEnd:
		return "\x00be:" + v.Name
	case *doctree.Comment:
		return "\x00cm:" + c.key(storyText(n))
	case *doctree.Footnote:
		if c.opts.IgnoreFootnotes {
			return "\x00fn"
		}
		return fmt.Sprintf("\x00fn%d:%s", v.FootnoteKind, c.key(storyText(n)))
	case *doctree.Shape:
		switch {
		case v.ShapeKind == doctree.ShapeTextBox && c.opts.IgnoreTextboxes:
			return "\x00tb"
		case v.ShapeKind == doctree.ShapeTextBox:
			return "\x00tb:" + c.key(storyText(n))
		case v.Image != nil:
			return fmt.Sprintf("\x00img:%08x:%s", crc32.ChecksumIEEE(v.Image.Data), v.Image.SourceURL)
		}
		return "\x00" + v.ShapeKind.String()
	}
	return "\x00" + n.Type().String()
}

// sameFormat reports whether two runs look alike: equal direct
// formatting and a character style of the same name.
func (c *comparer) sameFormat(o, r *doctree.Run) bool {
	if o.Format != r.Format {
		return false
	}
	return styleName(o.Document(), o.Style) == styleName(r.Document(), r.Style)
}

func styleName(doc *doctree.Document, h doctree.StyleHandle) string {
	if s := doc.Styles().Get(h); s != nil {
		return s.Name
	}
	return ""
}

// piece accumulates adjacent tokens that end up in the same output run.
type piece struct {
	kind opKind
	orig *doctree.Run
	rev  *doctree.Run
	text strings.Builder
}

// compareParagraph marks up o with the differences to r. The paragraph
// is rebuilt only when something changed.
func (c *comparer) compareParagraph(o, r *doctree.Node) error {
	op, rp := o.Data().(*doctree.Paragraph), r.Data().(*doctree.Paragraph)
	if !c.opts.IgnoreFormatting && (op.Format != rp.Format || styleName(o.Document(), op.Style) != styleName(r.Document(), rp.Style)) {
		op.SetFormatRevision(&doctree.FormatRevision[doctree.ParaFormat]{Author: c.author, Date: c.at, Old: op.Format})
		op.Format = rp.Format
		op.Style = c.im.MapStyle(rp.Style)
	}

	oa, pass := c.atoms(o)
	ra, _ := c.atoms(r)
	ops := diff(atomKeys(oa), atomKeys(ra))
	changed := false
	for _, x := range ops {
		if x.kind != opKeep || (oa[x.a].run != nil && !c.opts.IgnoreFormatting && !c.sameFormat(oa[x.a].run, ra[x.b].run)) {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	var out []*doctree.Node
	var cur *piece
	flush := func() error {
		if cur == nil {
			return nil
		}
		n, err := c.pieceNode(cur)
		if err != nil {
			return err
		}
		out = append(out, n)
		cur = nil
		return nil
	}
	addToken := func(kind opKind, orig, rev *doctree.Run, text string) error {
		if cur == nil || cur.kind != kind || cur.orig != orig || cur.rev != rev {
			if err := flush(); err != nil {
				return err
			}
			cur = &piece{kind: kind, orig: orig, rev: rev}
		}
		cur.text.WriteString(text)
		return nil
	}
	emitPass := func(i int) error {
		if len(pass[i]) == 0 {
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		out = append(out, pass[i]...)
		delete(pass, i)
		return nil
	}

	for _, x := range ops {
		if x.kind != opInsert {
			if err := emitPass(x.a); err != nil {
				return err
			}
		}
		switch x.kind {
		case opKeep:
			a, b := oa[x.a], ra[x.b]
			if a.run == nil {
				if err := flush(); err != nil {
					return err
				}
				out = append(out, a.nodes...)
				continue
			}
			var rev *doctree.Run
			if !c.opts.IgnoreFormatting && !c.sameFormat(a.run, b.run) {
				rev = b.run
			}
			if err := addToken(opKeep, a.run, rev, a.text); err != nil {
				return err
			}
		case opDelete:
			a := oa[x.a]
			if a.run == nil {
				if err := flush(); err != nil {
					return err
				}
				for _, n := range a.nodes {
					c.markAll(n, doctree.Deletion, 0)
				}
				out = append(out, a.nodes...)
				continue
			}
			if err := addToken(opDelete, a.run, nil, a.text); err != nil {
				return err
			}
		case opInsert:
			b := ra[x.b]
			if b.run == nil {
				if err := flush(); err != nil {
					return err
				}
				for _, n := range b.nodes {
					cl, err := c.im.Import(n)
					if err != nil {
						return err
					}
					c.markAll(cl, doctree.Insertion, 0)
					out = append(out, cl)
				}
				continue
			}
			if err := addToken(opInsert, nil, b.run, b.text); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	for i := 0; i <= len(oa); i++ {
		out = append(out, pass[i]...)
	}

	o.RemoveAllChildren()
	for _, n := range out {
		if err := o.AppendChild(n); err != nil {
			return err
		}
	}
	return nil
}

// pieceNode builds the run for an accumulated piece.
func (c *comparer) pieceNode(p *piece) (*doctree.Node, error) {
	switch p.kind {
	case opInsert:
		n, err := c.im.Import(p.rev.Node)
		if err != nil {
			return nil, err
		}
		r := n.Data().(*doctree.Run)
		r.SetText(p.text.String())
		r.SetRevision(c.mark(doctree.Insertion, 0))
		return n, nil
	}
	n := p.orig.Node.Clone(false)
	r := n.Data().(*doctree.Run)
	r.SetText(p.text.String())
	switch {
	case p.kind == opDelete:
		r.SetRevision(c.mark(doctree.Deletion, 0))
	case p.rev != nil:
		r.SetFormatRevision(&doctree.FormatRevision[doctree.CharFormat]{Author: c.author, Date: c.at, Old: r.Format})
		r.Format = p.rev.Format
		r.Style = c.im.MapStyle(p.rev.Style)
	}
	return n, nil
}
