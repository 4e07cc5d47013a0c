// Package html reads and writes HTML documents through x/net/html.
package html

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Decoder reads HTML.
type Decoder struct{}

func (Decoder) Decode(ctx context.Context, r io.Reader, opts codec.LoadOptions) (*doctree.Document, error) {
	if opts.Specific != nil {
		return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts.Specific, codec.HTML)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	// Without a BOM or meta declaration the sniffer falls back to
	// windows-1252; valid UTF-8 is taken as UTF-8 instead.
	if enc, name, _ := charset.DetermineEncoding(data, ""); name != "utf-8" && !(name == "windows-1252" && utf8.Valid(data)) {
		if data, err = enc.NewDecoder().Bytes(data); err != nil {
			return nil, codec.Corruptf("decode %s html: %v", name, err)
		}
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, codec.Corruptf("parse html: %v", err)
	}

	d := &decoder{
		ctx:   ctx,
		opts:  opts,
		doc:   doctree.NewDocument(),
		fresh: true,
		notes: make(map[string]string),
		skip:  make(map[*html.Node]bool),
	}
	d.b = doctree.NewBuilder(d.doc)
	d.properties(root)
	d.collectNotes(root)

	body := findElement(root, atom.Body)
	if body == nil {
		body = root
	}
	if err := d.blocks(body, blockContext{}); err != nil {
		return nil, err
	}
	d.endParagraph()
	return d.doc, nil
}

type decoder struct {
	ctx  context.Context
	opts codec.LoadOptions
	doc  *doctree.Document
	b    *doctree.Builder
	// fresh means the cursor paragraph is empty and unclaimed.
	fresh bool
	// loose is true while inline content outside any block element is
	// being written into a claimed paragraph.
	loose bool
	// space is true when the last written character was collapsible
	// whitespace, or at the start of a paragraph.
	space    bool
	sections int
	notes    map[string]string
	skip     map[*html.Node]bool
}

// blockContext carries what enclosing containers impose on a block.
type blockContext struct {
	quote bool
	list  doctree.ListHandle
	level int
	// item is shared by the blocks of one list item; only the first
	// carries the list membership.
	item *bool
	para doctree.ParaFormat
}

func (d *decoder) checkpoint() error {
	if err := d.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", codec.ErrCanceled, err)
	}
	return nil
}

// properties reads the title and meta tags into document properties.
func (d *decoder) properties(root *html.Node) {
	if t := findElement(root, atom.Title); t != nil {
		d.doc.BuiltIn.Title = collapse(textContent(t))
	}
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.DataAtom != atom.Meta {
			return true
		}
		content := attr(n, "content")
		switch strings.ToLower(attr(n, "name")) {
		case "author":
			d.doc.BuiltIn.Author = content
		case "keywords":
			d.doc.BuiltIn.Keywords = content
		case "description":
			d.doc.BuiltIn.Subject = content
		}
		return true
	})
}

// collectNotes finds footnote lists written as a container with a
// "footnotes" class holding items with ids, and hides them from the
// body walk.
func (d *decoder) collectNotes(root *html.Node) {
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !hasClass(n, "footnotes") {
			return true
		}
		d.skip[n] = true
		walk(n, func(li *html.Node) bool {
			if li.Type == html.ElementNode && li.DataAtom == atom.Li {
				if id := attr(li, "id"); id != "" {
					text := strings.ReplaceAll(textContent(li), "↩", "")
					d.notes[id] = strings.TrimSpace(collapse(text))
				}
				return false
			}
			return true
		})
		return false
	})
}

// endParagraph trims the trailing space whitespace collapsing leaves.
func (d *decoder) endParagraph() {
	if d.fresh || d.b.CurrentParagraph() == nil {
		return
	}
	runs := d.b.CurrentParagraph().Runs()
	if len(runs) == 0 {
		return
	}
	last := runs[len(runs)-1]
	if t := strings.TrimRight(last.Text(), " "); t != last.Text() {
		last.SetText(t)
	}
}

// paragraph claims a paragraph for the next block and resets it.
func (d *decoder) paragraph(bc blockContext, style string) *doctree.Paragraph {
	if !d.fresh {
		d.endParagraph()
		d.b.InsertParagraph()
	}
	d.fresh, d.loose, d.space = false, false, true
	p := d.b.CurrentParagraph()
	p.Format = bc.para
	p.ListFormat = doctree.ListFormat{}
	p.Style = 0
	switch {
	case style != "":
		p.Style = d.doc.Styles().Ensure(style)
	case bc.quote:
		p.Style = d.doc.Styles().Ensure(doctree.StyleQuote)
	}
	if bc.list != 0 {
		if bc.item != nil && !*bc.item {
			p.ListFormat = doctree.ListFormat{List: bc.list, Level: bc.level}
			*bc.item = true
		} else {
			p.Format.LeftIndent = float64(36 * (bc.level + 1))
		}
		if p.Style == 0 {
			p.Style = d.doc.Styles().Ensure(doctree.StyleListParagraph)
		}
	}
	return p
}

// newParagraph ends the current paragraph with a blank one after it.
func (d *decoder) newParagraph() {
	if d.fresh {
		return
	}
	d.endParagraph()
	p := d.b.InsertParagraph()
	p.Style, p.Format, p.ListFormat = 0, doctree.ParaFormat{}, doctree.ListFormat{}
	d.fresh, d.loose = true, false
}

func (d *decoder) blocks(parent *html.Node, bc blockContext) error {
	for n := parent.FirstChild; n != nil; n = n.NextSibling {
		if err := d.checkpoint(); err != nil {
			return err
		}
		if err := d.block(n, bc); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) block(n *html.Node, bc blockContext) error {
	if d.skip[n] {
		return nil
	}
	switch n.Type {
	case html.TextNode:
		if !d.loose && strings.TrimSpace(n.Data) == "" {
			return nil
		}
		d.looseInline(n, bc)
		return nil
	case html.ElementNode:
	default:
		return nil
	}

	css := parseStyle(attr(n, "style"))
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Nav, atom.Template, atom.Noscript, atom.Title:
		return nil
	case atom.P:
		pf := bc.para
		applyParaStyle(&pf, css)
		applyAlign(&pf, attr(n, "align"))
		bc.para = pf
		d.paragraph(bc, "")
		d.inlines(n, d.runFormat(doctree.CharFormat{}, css))
		d.loose = false
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		pf := bc.para
		applyParaStyle(&pf, css)
		bc.para = pf
		d.paragraph(bc, doctree.HeadingStyleName(int(n.Data[1]-'0')))
		d.inlines(n, d.runFormat(doctree.CharFormat{}, css))
		d.loose = false
	case atom.Blockquote:
		d.loose = false
		bc.quote = true
		return d.blocks(n, bc)
	case atom.Pre:
		d.pre(n, bc)
	case atom.Ul, atom.Ol:
		d.loose = false
		return d.list(n, bc)
	case atom.Table:
		d.loose = false
		return d.table(n)
	case atom.Hr:
		d.paragraph(bc, "")
		d.b.InsertHorizontalRule()
		d.loose = false
	case atom.Header, atom.Footer:
		return d.headerFooter(n, n.DataAtom == atom.Header)
	case atom.Div, atom.Section, atom.Article, atom.Main, atom.Aside, atom.Figure,
		atom.Figcaption, atom.Dl, atom.Dd, atom.Dt, atom.Address, atom.Center, atom.Form,
		atom.Fieldset, atom.Li, atom.Body, atom.Html:
		switch {
		case hasClass(n, "section"):
			return d.section(n, bc)
		case hasClass(n, "header"):
			return d.headerFooter(n, true)
		case hasClass(n, "footer"):
			return d.headerFooter(n, false)
		}
		d.loose = false
		pf := bc.para
		applyParaStyle(&pf, css)
		applyAlign(&pf, attr(n, "align"))
		if n.DataAtom == atom.Center {
			pf.Alignment = doctree.AlignCenter
		}
		bc.para = pf
		if err := d.blocks(n, bc); err != nil {
			return err
		}
		d.loose = false
	default:
		d.looseInline(n, bc)
	}
	return nil
}

func applyAlign(f *doctree.ParaFormat, align string) {
	if align != "" {
		applyParaStyle(f, map[string]string{"text-align": strings.ToLower(align)})
	}
}

// looseInline writes inline content that sits directly in a block
// container into an implicit paragraph.
func (d *decoder) looseInline(n *html.Node, bc blockContext) {
	if !d.loose {
		d.paragraph(bc, "")
		d.loose = true
	}
	d.inline(n, doctree.CharFormat{})
}

// section starts a new document section for every section container
// after the first.
func (d *decoder) section(n *html.Node, bc blockContext) error {
	if d.sections > 0 {
		d.endParagraph()
		d.b.InsertBreak(doctree.BreakSectionNewPage)
		d.fresh = true
	}
	d.sections++
	d.loose = false
	return d.blocks(n, bc)
}

func (d *decoder) headerFooter(n *html.Node, header bool) error {
	t := doctree.FooterPrimary
	if header {
		t = doctree.HeaderPrimary
	}
	d.endParagraph()
	saved := d.fresh
	d.b.MoveToHeaderFooter(t)
	d.fresh, d.loose = len(d.b.CurrentParagraph().Runs()) == 0, false
	err := d.blocks(n, blockContext{})
	d.endParagraph()
	d.b.MoveToDocumentEnd()
	d.fresh, d.loose = saved, false
	return err
}

func (d *decoder) pre(n *html.Node, bc blockContext) {
	text := textContent(n)
	// A newline right after <pre> is not content.
	text = strings.TrimPrefix(text, "\n")
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, line := range strings.Split(text, "\n") {
		d.paragraph(bc, doctree.StyleHTMLPreformatted)
		if line != "" {
			d.b.Write(line)
		}
	}
	d.loose = false
}

func listStyleOf(n *html.Node) (doctree.NumberStyle, bool) {
	typ := attr(n, "type")
	if v := parseStyle(attr(n, "style"))["list-style-type"]; v != "" {
		typ = v
	}
	switch typ {
	case "a", "lower-alpha", "lower-latin":
		return doctree.NumberLowerLetter, true
	case "A", "upper-alpha", "upper-latin":
		return doctree.NumberUpperLetter, true
	case "i", "lower-roman":
		return doctree.NumberLowerRoman, true
	case "I", "upper-roman":
		return doctree.NumberUpperRoman, true
	case "1", "decimal":
		return doctree.NumberArabic, true
	case "none":
		return doctree.NumberNone, true
	}
	return 0, false
}

func (d *decoder) list(n *html.Node, bc blockContext) error {
	var l doctree.List
	if n.DataAtom == atom.Ol {
		l = doctree.NewListFromTemplate(doctree.ListNumberDefault)
		if s, ok := listStyleOf(n); ok {
			l.Levels[0].NumberStyle = s
		}
		if start, err := strconv.Atoi(attr(n, "start")); err == nil {
			l.Levels[0].StartAt = start
		}
	} else {
		l = doctree.NewListFromTemplate(doctree.ListBulletDefault)
	}
	h := d.doc.Lists().Add(l)
	level := 0
	if bc.list != 0 {
		level = min(bc.level+1, doctree.MaxListLevels-1)
	}
	// Nested lists get their own definition; the level only drives
	// indentation.
	if level > 0 {
		nested := d.doc.Lists().Get(h)
		nested.Levels[level] = nested.Levels[0]
		nested.Levels[level].Indent = float64(36 * (level + 1))
		nested.Levels[level].Format = strings.ReplaceAll(nested.Levels[level].Format, "%1", "%"+strconv.Itoa(level+1))
	}
	for item := n.FirstChild; item != nil; item = item.NextSibling {
		if item.Type != html.ElementNode {
			continue
		}
		if item.DataAtom != atom.Li {
			if err := d.block(item, bc); err != nil {
				return err
			}
			continue
		}
		claimed := false
		ibc := blockContext{quote: bc.quote, list: h, level: level, item: &claimed}
		d.loose = false
		if err := d.blocks(item, ibc); err != nil {
			return err
		}
		if !claimed {
			d.paragraph(ibc, "")
		}
		d.loose = false
	}
	return nil
}

func (d *decoder) table(n *html.Node) error {
	d.newParagraph()
	d.b.StartTable()
	var rows []*html.Node
	walk(n, func(c *html.Node) bool {
		if c == n {
			return true
		}
		if c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Tr:
				rows = append(rows, c)
				return false
			case atom.Table:
				return false
			}
		}
		return true
	})
	var pending []int
	placeholder := func(col int) error {
		d.b.CellFormat = doctree.CellFormat{VerticalMerge: doctree.MergePrevious}
		_, err := d.b.InsertCell()
		pending[col]--
		return err
	}
	for _, tr := range rows {
		col := 0
		for td := tr.FirstChild; td != nil; td = td.NextSibling {
			if td.Type != html.ElementNode || (td.DataAtom != atom.Td && td.DataAtom != atom.Th) {
				continue
			}
			for col < len(pending) && pending[col] > 0 {
				if err := placeholder(col); err != nil {
					return err
				}
				col++
			}
			cs := max(atoiDefault(attr(td, "colspan"), 1), 1)
			rs := max(atoiDefault(attr(td, "rowspan"), 1), 1)
			for len(pending) < col+cs {
				pending = append(pending, 0)
			}
			cf := doctree.CellFormat{}
			if cs > 1 {
				cf.HorizontalMerge = doctree.MergeFirst
			}
			if rs > 1 {
				cf.VerticalMerge = doctree.MergeFirst
			}
			css := parseStyle(attr(td, "style"))
			if c, ok := parseColor(css["background-color"]); ok {
				cf.Shading = c
			} else if c, ok := parseColor(attr(td, "bgcolor")); ok {
				cf.Shading = c
			}
			if w, ok := parseLength(css["width"]); ok {
				cf.Width = w
			} else if w, ok := parseLength(attr(td, "width")); ok {
				cf.Width = w
			}
			d.b.CellFormat = cf
			cell, err := d.b.InsertCell()
			if err != nil {
				return err
			}
			d.fresh, d.loose = true, false
			if err := d.blocks(td, blockContext{}); err != nil {
				return err
			}
			d.endParagraph()
			if td.DataAtom == atom.Th {
				for _, r := range doctree.DescendantsOf[*doctree.Run](cell.Node) {
					r.Format.Bold = true
				}
			}
			pending[col] = rs - 1
			for i := 1; i < cs; i++ {
				d.b.CellFormat = doctree.CellFormat{HorizontalMerge: doctree.MergePrevious}
				if _, err := d.b.InsertCell(); err != nil {
					return err
				}
				pending[col+i] = rs - 1
			}
			col += cs
		}
		for ; col < len(pending); col++ {
			if pending[col] > 0 {
				if err := placeholder(col); err != nil {
					return err
				}
			}
		}
		if _, err := d.b.EndRow(); err != nil {
			d.opts.Log().Debug("dropping table row without cells")
		}
	}
	d.b.CellFormat = doctree.CellFormat{}
	if _, err := d.b.EndTable(); err != nil {
		return err
	}
	d.fresh, d.loose = true, false
	return nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// runFormat layers a style attribute over an inherited format.
func (d *decoder) runFormat(f doctree.CharFormat, css map[string]string) doctree.CharFormat {
	applyCharStyle(&f, css)
	return f
}

func (d *decoder) inlines(n *html.Node, f doctree.CharFormat) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.inline(c, f)
	}
}

// write appends text after whitespace collapsing.
func (d *decoder) write(s string, f doctree.CharFormat) {
	s = collapse(s)
	if d.space {
		s = strings.TrimLeft(s, " ")
	}
	if s == "" {
		return
	}
	d.raw(s, f)
	d.space = strings.HasSuffix(s, " ")
}

// raw appends text as is.
func (d *decoder) raw(s string, f doctree.CharFormat) {
	saved := d.b.Font
	d.b.Font = f
	d.b.Write(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
	d.b.Font = saved
}

func (d *decoder) inline(n *html.Node, f doctree.CharFormat) {
	if d.skip[n] {
		return
	}
	switch n.Type {
	case html.TextNode:
		d.write(n.Data, f)
		return
	case html.ElementNode:
	default:
		return
	}
	css := parseStyle(attr(n, "style"))
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Template, atom.Noscript:
		return
	case atom.B, atom.Strong:
		f.Bold = true
	case atom.I, atom.Em, atom.Cite, atom.Dfn, atom.Var:
		f.Italic = true
	case atom.U, atom.Ins:
		f.Underline = true
	case atom.S, atom.Strike, atom.Del:
		f.Strike = true
	case atom.Sup:
		f.VerticalAlign = doctree.Superscript
	case atom.Sub:
		f.VerticalAlign = doctree.Subscript
	case atom.Mark:
		f.Highlight = "yellow"
	case atom.Font:
		if face := attr(n, "face"); face != "" {
			f.FontName = face
		}
		if c, ok := parseColor(attr(n, "color")); ok {
			f.Color = c
		}
	case atom.Code, atom.Kbd, atom.Samp, atom.Tt:
		saved := d.b.CharStyle
		d.b.CharStyle = d.doc.Styles().Ensure(doctree.StyleHTMLCode)
		d.inlines(n, d.runFormat(f, css))
		d.b.CharStyle = saved
		return
	case atom.Br:
		if css["page-break-before"] == "always" {
			d.raw(doctree.PageBreak, f)
		} else {
			d.raw(doctree.LineBreak, f)
		}
		d.space = true
		return
	case atom.Img:
		d.image(n)
		return
	case atom.A:
		d.anchor(n, d.runFormat(f, css))
		return
	}
	d.inlines(n, d.runFormat(f, css))
}

func (d *decoder) anchor(n *html.Node, f doctree.CharFormat) {
	href := attr(n, "href")
	if id, ok := strings.CutPrefix(href, "#"); ok {
		if note, ok := d.notes[id]; ok {
			d.b.InsertFootnote(doctree.FootnoteKindFootnote, note)
			d.space = false
			return
		}
	}
	name := attr(n, "id")
	if name == "" {
		name = attr(n, "name")
	}
	if name != "" {
		d.b.StartBookmark(name)
	}
	if href != "" {
		text := strings.TrimSpace(collapse(textContent(n)))
		if d.space {
			text = strings.TrimLeft(text, " ")
		}
		if text == "" {
			text = href
		}
		saved := d.b.Font
		d.b.Font = f
		if _, err := d.b.InsertHyperlink(text, href); err != nil {
			d.opts.Log().Warn("dropping hyperlink", "href", href, "err", err)
		}
		d.b.Font = saved
		d.space = false
	} else {
		d.inlines(n, f)
	}
	if name != "" {
		d.b.EndBookmark(name)
	}
}

func (d *decoder) image(n *html.Node) {
	src := attr(n, "src")
	if d.opts.SkipImages {
		d.opts.Log().Warn("skipping image", "src", truncate(src, 64))
		return
	}
	var shape *doctree.Shape
	if data, ok := dataURI(src); ok {
		s, err := d.b.InsertImage(data)
		if err != nil {
			d.opts.Log().Warn("dropping unreadable image", "err", err)
			return
		}
		shape = s
	} else {
		if src == "" {
			return
		}
		shape = doctree.NewShape(d.doc, doctree.ShapeImage)
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(strings.SplitN(src, "?", 2)[0])), ".")
		shape.Image = &doctree.ImageData{SourceURL: src, Type: doctree.ImageTypeFromExtension(ext)}
		if err := d.b.CurrentParagraph().AppendChild(shape.Node); err != nil {
			d.opts.Log().Warn("dropping linked image", "err", err)
			return
		}
	}
	shape.AltText = attr(n, "alt")
	shape.Name = attr(n, "title")
	css := parseStyle(attr(n, "style"))
	if w, ok := parseLength(firstNonEmpty(css["width"], attr(n, "width"))); ok {
		shape.Width = w
	}
	if h, ok := parseLength(firstNonEmpty(css["height"], attr(n, "height"))); ok {
		shape.Height = h
	}
	d.space = false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
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
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(payload), ""))
	if err != nil {
		return nil, false
	}
	return data, true
}

// collapse folds runs of HTML whitespace into single spaces.
func collapse(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			if !space {
				b.WriteByte(' ')
			}
			space = true
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// walk visits n and its descendants in document order; fn returning
// false skips a node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// Register installs the HTML codec.
func Register(r *codec.Registry) {
	r.Register(codec.HTML, Decoder{}, Encoder{})
}
