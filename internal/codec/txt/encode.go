package txt

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Encoder writes plain text.
type Encoder struct{}

func (Encoder) Encode(ctx context.Context, w io.Writer, doc *doctree.Document, opts codec.SaveOptions) error {
	o, err := saveOptionsOf(opts)
	if err != nil {
		return err
	}
	e := &encoder{
		doc:    doc,
		opts:   o,
		cp:     codec.NewCheckpointer(ctx, codec.Text, doc, &o.SaveCommon),
		labels: doctree.ListLabels(doc),
	}
	if err := e.document(); err != nil {
		return err
	}
	if err := e.cp.Done(); err != nil {
		return err
	}
	out, err := codec.EncodeText(e.out.String(), o.Encoding)
	if err != nil {
		return err
	}
	if o.WriteBOM {
		out = append(bom(o.Encoding), out...)
	}
	_, err = w.Write(out)
	return err
}

func bom(encoding string) []byte {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return []byte{0xEF, 0xBB, 0xBF}
	case "utf-16le":
		return []byte{0xFF, 0xFE}
	case "utf-16be":
		return []byte{0xFE, 0xFF}
	}
	return nil
}

type encoder struct {
	doc    *doctree.Document
	opts   *SaveOptions
	cp     *codec.Checkpointer
	labels map[*doctree.Node]string
	out    strings.Builder
	notes  []string
}

func (e *encoder) document() error {
	for _, sec := range e.doc.Sections() {
		primary := e.opts.HeadersFooters == HeadersFootersPrimaryOnly
		if hf := sec.HeaderFooter(doctree.HeaderPrimary); primary && hf != nil {
			if err := e.blocks(hf.Node); err != nil {
				return err
			}
		}
		if body := sec.Body(); body != nil {
			if err := e.blocks(body.Node); err != nil {
				return err
			}
		}
		if hf := sec.HeaderFooter(doctree.FooterPrimary); primary && hf != nil {
			if err := e.blocks(hf.Node); err != nil {
				return err
			}
		}
	}
	if e.opts.HeadersFooters == HeadersFootersAllAtEnd {
		for _, sec := range e.doc.Sections() {
			hfs := sec.HeadersFooters()
			slices.SortStableFunc(hfs, func(a, b *doctree.HeaderFooter) int {
				return int(a.HeaderFooterType) - int(b.HeaderFooterType)
			})
			for _, hf := range hfs {
				if err := e.blocks(hf.Node); err != nil {
					return err
				}
			}
		}
	}
	for _, n := range e.notes {
		e.line(n)
	}
	return nil
}

func (e *encoder) blocks(parent *doctree.Node) error {
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if err := e.cp.Tick(); err != nil {
			return err
		}
		switch v := c.Data().(type) {
		case *doctree.Paragraph:
			if content.IsParagraphDeleted(v) {
				continue
			}
			e.paragraph(v)
		case *doctree.Table:
			if err := e.table(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *encoder) paragraph(p *doctree.Paragraph) {
	text := e.inline(p.Node)
	if label, ok := e.labels[p.Node]; ok {
		text = e.listPrefix(p, label) + text
	}
	// A page or line break inside the paragraph splits it into lines.
	for _, line := range strings.Split(text, "\n") {
		e.line(line)
	}
}

func (e *encoder) listPrefix(p *doctree.Paragraph, label string) string {
	if e.opts.SimplifyListLabels {
		if l := e.doc.Lists().Get(p.ListFormat.List); l != nil && l.Levels[min(p.ListFormat.Level, doctree.MaxListLevels-1)].NumberStyle == doctree.NumberBullet {
			label = "*"
		} else {
			label = strings.Map(func(r rune) rune {
				if r > unicode.MaxASCII {
					return -1
				}
				return r
			}, label)
		}
	}
	indent := strings.Repeat(e.opts.ListIndentation.Character, e.opts.ListIndentation.Count*p.ListFormat.Level)
	if label == "" {
		return indent
	}
	return indent + label + " "
}

// line writes one output line after whitespace policy and wrapping.
func (e *encoder) line(s string) {
	if e.opts.LeadingSpaces == LeadingTrim {
		s = strings.TrimLeft(s, " \t")
	}
	if e.opts.TrailingSpaces == TrailingTrim {
		s = strings.TrimRight(s, " \t")
	}
	for _, l := range wrap(s, e.opts.MaxCharactersPerLine) {
		e.out.WriteString(l)
		e.out.WriteString(e.opts.ParagraphBreak)
	}
}

// inline renders the accepted view of a paragraph's content. Field
// codes are skipped in favor of results; footnotes leave a bracketed
// reference and are listed after the document.
func (e *encoder) inline(p *doctree.Node) string {
	var b strings.Builder
	var code []bool
	inCode := func() bool {
		for _, c := range code {
			if c {
				return true
			}
		}
		return false
	}
	var walk func(n *doctree.Node)
	walk = func(n *doctree.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch v := c.Data().(type) {
			case *doctree.Run:
				if !v.IsDeleted() && !inCode() {
					b.WriteString(e.runText(v.Text()))
				}
			case *doctree.FieldStart:
				code = append(code, true)
			case *doctree.FieldSeparator:
				if len(code) > 0 {
					code[len(code)-1] = false
				}
			case *doctree.FieldEnd:
				if len(code) > 0 {
					code = code[:len(code)-1]
				}
			case *doctree.Footnote:
				if inCode() {
					continue
				}
				mark := v.ReferenceMark
				if mark == "" {
					mark = itoa(len(e.notes) + 1)
				}
				b.WriteString("[" + mark + "]")
				var note []string
				for _, np := range doctree.ChildrenOf[*doctree.Paragraph](c) {
					note = append(note, e.inline(np.Node))
				}
				e.notes = append(e.notes, "["+mark+"] "+strings.Join(note, " "))
			case *doctree.Shape:
				if v.ShapeKind == doctree.ShapeTextBox {
					walk(c)
				}
			case *doctree.Paragraph:
				// text box content
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				walk(c)
			}
		}
	}
	walk(p)
	return b.String()
}

func itoa(n int) string { return doctree.FormatNumber(n, doctree.NumberArabic) }

func (e *encoder) runText(s string) string {
	page := "\n"
	if e.opts.ForcePageBreaks {
		page = "\f"
	}
	return strings.NewReplacer(
		doctree.LineBreak, "\n",
		doctree.ParagraphBreak, "\n",
		doctree.PageBreak, page,
		doctree.ColumnBreak, "\n",
		doctree.NonBreakingHyphen, "-",
		doctree.OptionalHyphen, "",
	).Replace(s)
}

func (e *encoder) table(t *doctree.Table) error {
	rows := content.AcceptedRows(t)
	if !e.opts.PreserveTableLayout {
		for _, r := range rows {
			for _, c := range r.Cells() {
				if c.HorizontalMerge == doctree.MergePrevious || c.VerticalMerge == doctree.MergePrevious {
					continue
				}
				if err := e.blocks(c.Node); err != nil {
					return err
				}
			}
		}
		return nil
	}

	grid := make([][]string, len(rows))
	var widths []int
	for i, r := range rows {
		for j, c := range r.Cells() {
			var text string
			if c.HorizontalMerge != doctree.MergePrevious && c.VerticalMerge != doctree.MergePrevious {
				text = e.cellText(c)
			}
			grid[i] = append(grid[i], text)
			if j >= len(widths) {
				widths = append(widths, 0)
			}
			widths[j] = max(widths[j], utf8.RuneCountInString(text))
		}
		if err := e.cp.Tick(); err != nil {
			return err
		}
	}
	for _, row := range grid {
		var b bytes.Buffer
		for j, cell := range row {
			if j > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[j]-utf8.RuneCountInString(cell)))
		}
		e.line(strings.TrimRight(b.String(), " "))
	}
	return nil
}

// cellText flattens a cell to one line.
func (e *encoder) cellText(c *doctree.Cell) string {
	var parts []string
	for _, p := range c.Paragraphs() {
		t := strings.ReplaceAll(e.inline(p.Node), "\n", " ")
		if label, ok := e.labels[p.Node]; ok {
			t = e.listPrefix(p, label) + t
		}
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// wrap breaks s into lines of at most limit runes, preferring spaces.
// Form feeds stay attached to the line they start.
func wrap(s string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	var lines []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		if cut <= 0 {
			lines = append(lines, string(runes[:limit]))
			runes = runes[limit:]
			continue
		}
		lines = append(lines, string(runes[:cut]))
		runes = runes[cut+1:]
	}
	return append(lines, string(runes))
}

// Register installs the text codec.
func Register(r *codec.Registry) {
	r.Register(codec.Text, Decoder{}, Encoder{})
}
