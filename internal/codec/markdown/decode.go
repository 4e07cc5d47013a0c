// Package markdown reads CommonMark with the GitHub extensions through
// goldmark and writes Markdown from the document tree.
package markdown

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM, extension.Footnote))

// Decoder reads Markdown.
type Decoder struct{}

func (Decoder) Decode(ctx context.Context, r io.Reader, opts codec.LoadOptions) (*doctree.Document, error) {
	if opts.Specific != nil {
		return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts.Specific, codec.Markdown)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	src, _, err := codec.DecodeText(data, "")
	if err != nil {
		return nil, err
	}
	d := &decoder{
		ctx:   ctx,
		src:   []byte(src),
		opts:  opts,
		doc:   doctree.NewDocument(),
		fresh: true,
		notes: make(map[int]*east.Footnote),
	}
	d.b = doctree.NewBuilder(d.doc)
	root := md.Parser().Parse(text.NewReader(d.src))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if fn, ok := n.(*east.Footnote); ok && entering {
			d.notes[fn.Index] = fn
		}
		return ast.WalkContinue, nil
	})
	if err := d.blocks(root, blockContext{}); err != nil {
		return nil, err
	}
	return d.doc, nil
}

type decoder struct {
	ctx   context.Context
	src   []byte
	opts  codec.LoadOptions
	doc   *doctree.Document
	b     *doctree.Builder
	notes map[int]*east.Footnote
	// fresh means the cursor paragraph is empty and not yet claimed by
	// a block.
	fresh bool
	// underline is toggled by inline <u> tags.
	underline bool
}

// blockContext carries what enclosing containers impose on a block.
type blockContext struct {
	quote bool
	list  doctree.ListHandle
	level int
	// continued is true for the second and later blocks of a list item.
	continued bool
}

// paragraph claims a paragraph for the next block and resets it.
func (d *decoder) paragraph(bc blockContext, style string) *doctree.Paragraph {
	if !d.fresh {
		d.b.InsertParagraph()
	}
	d.fresh = false
	p := d.b.CurrentParagraph()
	p.Format = doctree.ParaFormat{}
	p.ListFormat = doctree.ListFormat{}
	p.Style = 0
	switch {
	case style != "":
		p.Style = d.doc.Styles().Ensure(style)
	case bc.quote:
		p.Style = d.doc.Styles().Ensure(doctree.StyleQuote)
	}
	if bc.list != 0 {
		if !bc.continued {
			p.ListFormat = doctree.ListFormat{List: bc.list, Level: bc.level}
		} else {
			p.Format.LeftIndent = float64(36 * (bc.level + 1))
		}
		if p.Style == 0 {
			p.Style = d.doc.Styles().Ensure(doctree.StyleListParagraph)
		}
	}
	return p
}

func (d *decoder) blocks(parent ast.Node, bc blockContext) error {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if err := d.ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", codec.ErrCanceled, err)
		}
		if err := d.block(n, bc); err != nil {
			return err
		}
		if bc.list != 0 {
			bc.continued = true
		}
	}
	return nil
}

func (d *decoder) block(n ast.Node, bc blockContext) error {
	switch v := n.(type) {
	case *ast.Heading:
		d.paragraph(bc, doctree.HeadingStyleName(v.Level))
		d.inlines(v, doctree.CharFormat{})
	case *ast.Paragraph, *ast.TextBlock:
		d.paragraph(bc, "")
		d.inlines(v, doctree.CharFormat{})
	case *ast.Blockquote:
		bc.quote = true
		return d.blocks(v, bc)
	case *ast.List:
		return d.list(v, bc)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := v.Lines()
		if lines.Len() == 0 {
			d.paragraph(bc, doctree.StyleHTMLPreformatted)
		}
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			d.paragraph(bc, doctree.StyleHTMLPreformatted)
			d.b.Write(strings.TrimRight(string(seg.Value(d.src)), "\r\n"))
		}
	case *ast.ThematicBreak:
		d.paragraph(bc, "")
		d.b.InsertHorizontalRule()
	case *ast.HTMLBlock:
		d.opts.Log().Warn("keeping raw HTML block as text")
		lines := v.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			d.paragraph(bc, "")
			d.b.Write(strings.TrimRight(string(seg.Value(d.src)), "\r\n"))
		}
	case *east.Table:
		return d.table(v)
	case *east.FootnoteList:
		// Footnote bodies are placed at their references.
	default:
		d.opts.Log().Debug("skipping markdown block", "kind", n.Kind().String())
	}
	return nil
}

func (d *decoder) list(l *ast.List, bc blockContext) error {
	var h doctree.ListHandle
	if l.IsOrdered() {
		list := doctree.NewListFromTemplate(doctree.ListNumberDefault)
		list.Levels[0].StartAt = l.Start
		if l.Marker == ')' {
			for i := range list.Levels {
				list.Levels[i].Format = strings.TrimSuffix(list.Levels[i].Format, ".") + ")"
			}
		}
		h = d.doc.Lists().Add(list)
	} else {
		h = d.doc.Lists().AddTemplate(doctree.ListBulletDefault)
	}
	level := 0
	if bc.list != 0 {
		level = bc.level + 1
	}
	// Nested lists keep numbering in their own definition; the level
	// only drives indentation.
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		ibc := blockContext{quote: bc.quote, list: h, level: min(level, doctree.MaxListLevels-1)}
		if item.FirstChild() == nil {
			d.paragraph(ibc, "")
			continue
		}
		if err := d.blocks(item, ibc); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) table(t *east.Table) error {
	d.b.StartTable()
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			if _, err := d.b.InsertCell(); err != nil {
				return err
			}
			if _, ok := row.(*east.TableHeader); ok {
				d.b.CurrentParagraph().Format.KeepWithNext = true
			}
			if tc, ok := cell.(*east.TableCell); ok {
				d.b.CurrentParagraph().Format.Alignment = alignmentOf(tc.Alignment)
			}
			d.inlines(cell, doctree.CharFormat{})
		}
		if _, err := d.b.EndRow(); err != nil {
			return err
		}
	}
	if _, err := d.b.EndTable(); err != nil {
		return err
	}
	d.fresh = true
	return nil
}

func alignmentOf(a east.Alignment) doctree.Alignment {
	switch a {
	case east.AlignCenter:
		return doctree.AlignCenter
	case east.AlignRight:
		return doctree.AlignRight
	}
	return doctree.AlignLeft
}

// inlines writes the inline children of n with font as the base format.
func (d *decoder) inlines(n ast.Node, font doctree.CharFormat) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		d.inline(c, font)
	}
}

func (d *decoder) write(s string, font doctree.CharFormat) {
	if s == "" {
		return
	}
	saved := d.b.Font
	d.b.Font = font
	d.b.Font.Underline = font.Underline || d.underline
	// Markdown text never carries paragraph breaks of its own.
	d.b.Write(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
	d.b.Font = saved
}

func (d *decoder) inline(n ast.Node, font doctree.CharFormat) {
	switch v := n.(type) {
	case *ast.Text:
		d.write(unescape(v.Segment.Value(d.src)), font)
		switch {
		case v.HardLineBreak():
			d.write(doctree.LineBreak, font)
		case v.SoftLineBreak():
			d.write(" ", font)
		}
	case *ast.String:
		d.write(string(v.Value), font)
	case *ast.Emphasis:
		f := font
		if v.Level >= 2 {
			f.Bold = true
		} else {
			f.Italic = true
		}
		d.inlines(v, f)
	case *east.Strikethrough:
		f := font
		f.Strike = true
		d.inlines(v, f)
	case *ast.CodeSpan:
		saved := d.b.CharStyle
		d.b.CharStyle = d.doc.Styles().Ensure(doctree.StyleHTMLCode)
		d.write(codeText(v, d.src), font)
		d.b.CharStyle = saved
	case *ast.Link:
		d.hyperlink(string(v.Destination), plainText(v, d.src))
	case *ast.AutoLink:
		url := string(v.URL(d.src))
		if v.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(url, "mailto:") {
			url = "mailto:" + url
		}
		d.hyperlink(url, string(v.Label(d.src)))
	case *ast.Image:
		d.image(v)
	case *ast.RawHTML:
		segs := v.Segments
		for i := 0; i < segs.Len(); i++ {
			seg := segs.At(i)
			raw := string(seg.Value(d.src))
			switch strings.ToLower(raw) {
			case "<u>", "<ins>":
				d.underline = true
			case "</u>", "</ins>":
				d.underline = false
			case "<br>", "<br/>", "<br />":
				d.write(doctree.LineBreak, font)
			default:
				d.write(raw, font)
			}
		}
	case *east.TaskCheckBox:
		if v.IsChecked {
			d.write("☒ ", font)
		} else {
			d.write("☐ ", font)
		}
	case *east.FootnoteLink:
		fn := d.notes[v.Index]
		if fn == nil {
			return
		}
		var parts []string
		for c := fn.FirstChild(); c != nil; c = c.NextSibling() {
			if t := plainText(c, d.src); t != "" {
				parts = append(parts, t)
			}
		}
		d.b.InsertFootnote(doctree.FootnoteKindFootnote, strings.Join(parts, " "))
	case *east.FootnoteBacklink:
	default:
		d.inlines(n, font)
	}
}

func (d *decoder) hyperlink(url, label string) {
	if label == "" {
		label = url
	}
	if _, err := d.b.InsertHyperlink(label, url); err != nil {
		d.opts.Log().Warn("dropping hyperlink", "url", url, "err", err)
	}
}

func (d *decoder) image(img *ast.Image) {
	dest := string(img.Destination)
	alt := plainText(img, d.src)
	if d.opts.SkipImages {
		d.opts.Log().Warn("skipping image", "src", dest)
		return
	}
	var shape *doctree.Shape
	if data, ok := dataURI(dest); ok {
		s, err := d.b.InsertImage(data)
		if err != nil {
			d.opts.Log().Warn("dropping unreadable image", "err", err)
			return
		}
		shape = s
	} else {
		shape = doctree.NewShape(d.doc, doctree.ShapeImage)
		shape.Image = &doctree.ImageData{SourceURL: dest, Type: doctree.ImageTypeFromExtension(extOf(dest))}
		if err := d.b.CurrentParagraph().AppendChild(shape.Node); err != nil {
			d.opts.Log().Warn("dropping linked image", "err", err)
			return
		}
	}
	shape.AltText = alt
	shape.Name = string(img.Title)
}

func extOf(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	if i := strings.LastIndexByte(url, '.'); i >= 0 && !strings.Contains(url[i:], "/") {
		return url[i+1:]
	}
	return ""
}

// dataURI decodes a base64 data: URI.
func dataURI(s string) ([]byte, bool) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, true
}

// plainText collects the text under an inline or block node.
func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.WriteString(unescape(v.Segment.Value(src)))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		case *east.FootnoteBacklink:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// unescape resolves backslash escapes and character references.
func unescape(b []byte) string {
	return string(util.ResolveNumericReferences(util.ResolveEntityNames(util.UnescapePunctuations(b))))
}

// codeText returns a code span's content verbatim.
func codeText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return b.String()
}

// Register installs the Markdown codec.
func Register(r *codec.Registry) {
	r.Register(codec.Markdown, Decoder{}, Encoder{})
}
