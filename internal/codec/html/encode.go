package html

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Encoder writes HTML.
type Encoder struct{}

func (Encoder) Encode(ctx context.Context, w io.Writer, doc *doctree.Document, opts codec.SaveOptions) error {
	o, err := saveOptionsOf(opts)
	if err != nil {
		return err
	}
	e := &encoder{
		doc:    doc,
		opts:   o,
		cp:     codec.NewCheckpointer(ctx, codec.HTML, doc, &o.SaveCommon),
		labels: doctree.ListLabels(doc),
		counts: make(map[doctree.ListHandle]*[doctree.MaxListLevels]int),
		images: &codec.ImageExporter{
			Resource: o.ImageResource,
			Base64:   o.ExportImagesAsBase64,
			Folder:   o.ImagesFolder,
			Alias:    o.ImagesFolderAlias,
		},
		classes: make(map[string]string),
	}
	page, err := e.document()
	if err != nil {
		return err
	}
	if err := e.cp.Done(); err != nil {
		return err
	}
	if o.PrettyFormat {
		indent(page)
	}
	return html.Render(w, page)
}

type encoder struct {
	doc    *doctree.Document
	opts   *SaveOptions
	cp     *codec.Checkpointer
	labels map[*doctree.Node]string
	counts map[doctree.ListHandle]*[doctree.MaxListLevels]int
	images *codec.ImageExporter

	// classes maps a declaration block to its class name in embedded
	// mode; rules keeps them in first-use order.
	classes map[string]string
	rules   []string

	lists []openList
	notes []*html.Node
	err   error
}

type openList struct {
	list  doctree.ListHandle
	level int
	node  *html.Node
	item  *html.Node
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func textNode(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func addClass(n *html.Node, class string) {
	if cur := attr(n, "class"); cur != "" {
		class = cur + " " + class
	}
	setAttr(n, "class", class)
}

func (e *encoder) title() string {
	if e.opts.Title != "" {
		return e.opts.Title
	}
	return e.doc.BuiltIn.Title
}

func (e *encoder) document() (*html.Node, error) {
	page := &html.Node{Type: html.DocumentNode}
	page.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	root := element(atom.Html)
	page.AppendChild(root)
	head := element(atom.Head)
	root.AppendChild(head)
	head.AppendChild(element(atom.Meta, "charset", "utf-8"))
	title := element(atom.Title)
	title.AppendChild(textNode(e.title()))
	head.AppendChild(title)
	for _, m := range []struct{ name, val string }{
		{"author", e.doc.BuiltIn.Author},
		{"keywords", e.doc.BuiltIn.Keywords},
		{"description", e.doc.BuiltIn.Subject},
	} {
		if m.val != "" {
			head.AppendChild(element(atom.Meta, "name", m.name, "content", m.val))
		}
	}
	body := element(atom.Body)
	root.AppendChild(body)

	secs := e.doc.Sections()
	for i, sec := range secs {
		target := body
		if len(secs) > 1 {
			target = element(atom.Div, "class", "section")
			body.AppendChild(target)
		}
		header := e.opts.HeadersFooters == HeadersFootersPerSection ||
			(e.opts.HeadersFooters == HeadersFootersFirstSectionOnly && i == 0)
		if hf := sec.HeaderFooter(doctree.HeaderPrimary); header && hf != nil {
			div := element(atom.Div, "class", "header")
			if err := e.blocks(div, hf.Node); err != nil {
				return nil, err
			}
			target.AppendChild(div)
		}
		if b := sec.Body(); b != nil {
			if err := e.blocks(target, b.Node); err != nil {
				return nil, err
			}
		}
		footerSec := sec
		footer := e.opts.HeadersFooters == HeadersFootersPerSection
		if e.opts.HeadersFooters == HeadersFootersFirstSectionOnly && i == len(secs)-1 {
			footerSec, footer = secs[0], true
		}
		if hf := footerSec.HeaderFooter(doctree.FooterPrimary); footer && hf != nil {
			div := element(atom.Div, "class", "footer")
			if err := e.blocks(div, hf.Node); err != nil {
				return nil, err
			}
			target.AppendChild(div)
		}
	}

	if len(e.notes) > 0 {
		div := element(atom.Div, "class", "footnotes")
		div.AppendChild(element(atom.Hr))
		ol := element(atom.Ol)
		for _, li := range e.notes {
			ol.AppendChild(li)
		}
		div.AppendChild(ol)
		body.AppendChild(div)
	}
	if len(e.rules) > 0 {
		style := element(atom.Style)
		style.AppendChild(textNode(strings.Join(e.rules, "\n")))
		head.AppendChild(style)
	}
	return page, nil
}

// blocks renders the block children of parent into out.
func (e *encoder) blocks(out *html.Node, parent *doctree.Node) error {
	e.lists = nil
	var pre, quote *html.Node
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if err := e.cp.Tick(); err != nil {
			return err
		}
		switch v := c.Data().(type) {
		case *doctree.Paragraph:
			if content.IsParagraphDeleted(v) {
				continue
			}
			style := e.styleName(v)
			if style == doctree.StyleHTMLPreformatted && !v.IsListItem() {
				if pre == nil {
					pre = element(atom.Pre)
					out.AppendChild(pre)
				} else {
					pre.AppendChild(textNode("\n"))
				}
				e.inlines(pre, content.AcceptedInlines(c))
				quote = nil
				e.lists = nil
				continue
			}
			pre = nil
			if style == doctree.StyleQuote && !v.IsListItem() {
				if quote == nil {
					quote = element(atom.Blockquote)
					out.AppendChild(quote)
				}
				e.lists = nil
				quote.AppendChild(e.paragraph(v))
				continue
			}
			quote = nil
			if v.IsListItem() && e.opts.ListLabels == ListLabelsByHTMLTags {
				e.listItem(out, v)
				continue
			}
			e.lists = nil
			out.AppendChild(e.paragraph(v))
		case *doctree.Table:
			pre, quote, e.lists = nil, nil, nil
			t, err := e.table(v)
			if err != nil {
				return err
			}
			out.AppendChild(t)
		}
		if e.err != nil {
			return e.err
		}
	}
	e.lists = nil
	return e.err
}

func (e *encoder) styleName(p *doctree.Paragraph) string {
	if s := e.doc.Styles().Get(p.Style); s != nil {
		return s.Name
	}
	return ""
}

// paragraph renders a paragraph as p, h1-h6 or hr.
func (e *encoder) paragraph(p *doctree.Paragraph) *html.Node {
	items := content.AcceptedInlines(p.Node)
	if len(items) == 1 && items[0].Kind == content.InlineShape {
		if s := items[0].Node.Data().(*doctree.Shape); s.ShapeKind == doctree.ShapeHorizontalRule {
			return element(atom.Hr)
		}
	}
	tag := atom.P
	if lvl := e.doc.HeadingLevel(p); lvl > 0 {
		tag = [...]atom.Atom{atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6}[min(lvl, 6)-1]
	}
	n := element(tag)
	e.paragraphStyle(n, p)
	if p.IsListItem() {
		label := e.labels[p.Node]
		if label != "" {
			n.AppendChild(textNode(label + " "))
		}
		if p.ListFormat.Level > 0 && p.Format.LeftIndent == 0 {
			e.style(n, decls{{"margin-left", formatPt(float64(36 * p.ListFormat.Level))}})
		}
	}
	e.inlines(n, items)
	return n
}

// tagStyles are expressed by the element a paragraph becomes.
var tagStyles = map[string]bool{
	doctree.StyleQuote:            true,
	doctree.StyleListParagraph:    true,
	doctree.StyleHTMLPreformatted: true,
}

// paragraphStyle applies the paragraph style and direct formatting.
func (e *encoder) paragraphStyle(n *html.Node, p *doctree.Paragraph) {
	if s := e.doc.Styles().Get(p.Style); s != nil && !s.Default && !tagStyles[s.Name] && e.doc.HeadingLevel(p) == 0 {
		ds := paraDecls(s.Paragraph).merge(fullCharDecls(e.doc.Styles().EffectiveFont(p.Style)))
		if len(ds) > 0 {
			if e.opts.CSSStyleSheetType == CSSEmbedded {
				addClass(n, e.namedClass(s, ds))
			} else {
				e.style(n, ds)
			}
		}
	}
	e.style(n, paraDecls(p.Format))
}

// style attaches declarations as a style attribute or, in embedded
// mode, as a generated class.
func (e *encoder) style(n *html.Node, ds decls) {
	if len(ds) == 0 {
		return
	}
	if e.opts.CSSStyleSheetType == CSSEmbedded {
		key := ds.String()
		class, ok := e.classes[key]
		if !ok {
			class = "c" + strconv.Itoa(len(e.classes)+1)
			e.classes[key] = class
			e.rules = append(e.rules, "."+class+" { "+key+" }")
		}
		addClass(n, class)
		return
	}
	if cur := attr(n, "style"); cur != "" {
		ds = decls(parseDecls(cur)).merge(ds)
	}
	setAttr(n, "style", ds.String())
}

func parseDecls(s string) []decl {
	var out []decl
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, ":")
		if ok {
			out = append(out, decl{k, v})
		}
	}
	return out
}

// namedClass returns the class for a paragraph style, adding its rule
// on first use.
func (e *encoder) namedClass(s *doctree.Style, ds decls) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	class := "s-" + b.String()
	key := "style:" + s.Name
	if _, ok := e.classes[key]; !ok {
		e.classes[key] = class
		e.rules = append(e.rules, "."+class+" { "+ds.String()+" }")
	}
	return class
}

func (e *encoder) listItem(out *html.Node, p *doctree.Paragraph) {
	h, lvl := p.ListFormat.List, min(max(p.ListFormat.Level, 0), doctree.MaxListLevels-1)
	l := e.doc.Lists().Get(h)
	for len(e.lists) > 0 {
		top := e.lists[len(e.lists)-1]
		if top.level > lvl || (top.level == lvl && top.list != h) {
			e.lists = e.lists[:len(e.lists)-1]
			continue
		}
		break
	}

	counts := e.counts[h]
	if counts == nil {
		counts = new([doctree.MaxListLevels]int)
		e.counts[h] = counts
	}
	number := counts[lvl]
	counts[lvl]++
	for deeper := lvl + 1; deeper < doctree.MaxListLevels; deeper++ {
		counts[deeper] = 0
	}

	if len(e.lists) == 0 || e.lists[len(e.lists)-1].level < lvl {
		list := element(atom.Ul)
		if l != nil && l.Levels[lvl].NumberStyle != doctree.NumberBullet {
			list = element(atom.Ol)
			switch l.Levels[lvl].NumberStyle {
			case doctree.NumberLowerLetter:
				setAttr(list, "type", "a")
			case doctree.NumberUpperLetter:
				setAttr(list, "type", "A")
			case doctree.NumberLowerRoman:
				setAttr(list, "type", "i")
			case doctree.NumberUpperRoman:
				setAttr(list, "type", "I")
			case doctree.NumberNone:
				e.style(list, decls{{"list-style-type", "none"}})
			}
			if start := l.Levels[lvl].StartAt + number; start != 1 {
				setAttr(list, "start", strconv.Itoa(start))
			}
		}
		if len(e.lists) > 0 && e.lists[len(e.lists)-1].item != nil {
			e.lists[len(e.lists)-1].item.AppendChild(list)
		} else {
			out.AppendChild(list)
		}
		e.lists = append(e.lists, openList{list: h, level: lvl, node: list})
	}
	top := &e.lists[len(e.lists)-1]
	li := element(atom.Li)
	e.style(li, paraDecls(p.Format))
	e.inlines(li, content.AcceptedInlines(p.Node))
	top.node.AppendChild(li)
	top.item = li
}

// inlineState is the container new inline content goes into.
type inlineState struct {
	out   *html.Node
	links []*html.Node
}

func (s *inlineState) target() *html.Node {
	if n := len(s.links); n > 0 {
		return s.links[n-1]
	}
	return s.out
}

func (e *encoder) inlines(out *html.Node, items []content.Inline) {
	st := &inlineState{out: out}
	for _, it := range items {
		switch it.Kind {
		case content.InlineText:
			e.run(st.target(), it.Run)
		case content.InlineLinkStart:
			a := element(atom.A, "href", it.URL)
			st.target().AppendChild(a)
			st.links = append(st.links, a)
		case content.InlineLinkEnd:
			if n := len(st.links); n > 0 {
				st.links = st.links[:n-1]
			}
		case content.InlineBookmark:
			st.target().AppendChild(element(atom.A, "id", it.Name))
		case content.InlineNote:
			st.target().AppendChild(e.noteRef(it.Node))
		case content.InlineShape:
			if n := e.shape(it.Node); n != nil {
				st.target().AppendChild(n)
			}
		}
	}
}

func (e *encoder) noteRef(n *doctree.Node) *html.Node {
	num := strconv.Itoa(len(e.notes) + 1)
	li := element(atom.Li, "id", "fn"+num)
	for i, p := range doctree.ChildrenOf[*doctree.Paragraph](n) {
		if i > 0 {
			li.AppendChild(element(atom.Br))
		}
		e.inlines(li, content.AcceptedInlines(p.Node))
	}
	e.notes = append(e.notes, li)
	sup := element(atom.Sup)
	a := element(atom.A, "href", "#fn"+num, "id", "fnref"+num)
	a.AppendChild(textNode(num))
	sup.AppendChild(a)
	return sup
}

// run renders run text wrapped in formatting tags.
func (e *encoder) run(out *html.Node, r *doctree.Run) {
	f := r.Format.Merge(e.doc.Styles().EffectiveFont(r.Style))
	style := e.doc.Styles().Get(r.Style)
	if style != nil && (style.Name == doctree.StyleHyperlink || style.Name == doctree.StyleHTMLCode) {
		// The a and code elements carry this styling.
		f = r.Format
	}
	wrap := out
	push := func(n *html.Node) {
		wrap.AppendChild(n)
		wrap = n
	}
	if ds := charDecls(f); len(ds) > 0 {
		span := element(atom.Span)
		e.style(span, ds)
		push(span)
	}
	tags := []struct {
		on bool
		a  atom.Atom
	}{
		{style != nil && style.Name == doctree.StyleHTMLCode, atom.Code},
		{f.Bold, atom.B},
		{f.Italic, atom.I},
		{f.Underline, atom.U},
		{f.Strike, atom.S},
		{f.VerticalAlign == doctree.Superscript, atom.Sup},
		{f.VerticalAlign == doctree.Subscript, atom.Sub},
	}
	for _, t := range tags {
		if t.on {
			push(element(t.a))
		}
	}
	e.text(wrap, r.Text())
	mergeAdjacent(out)
}

// text writes run text, turning breaks into br elements.
func (e *encoder) text(out *html.Node, s string) {
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out.AppendChild(textNode(b.String()))
			b.Reset()
		}
	}
	for _, r := range s {
		switch string(r) {
		case doctree.LineBreak, doctree.ColumnBreak, doctree.ParagraphBreak:
			flush()
			out.AppendChild(element(atom.Br))
		case doctree.PageBreak:
			flush()
			out.AppendChild(element(atom.Br, "style", "page-break-before:always"))
		case doctree.NonBreakingHyphen:
			b.WriteRune('\u2011')
		case doctree.OptionalHyphen:
			b.WriteRune('\u00ad')
		default:
			b.WriteRune(r)
		}
	}
	flush()
}

// mergeAdjacent joins the last child of n into its previous sibling when
// both are the same formatting element, so runs split by editing do not
// produce <b>a</b><b>b</b>.
func mergeAdjacent(n *html.Node) {
	last := n.LastChild
	if last == nil || last.Type != html.ElementNode {
		return
	}
	prev := last.PrevSibling
	if prev == nil || prev.Type != html.ElementNode || prev.DataAtom != last.DataAtom || !sameAttrs(prev, last) {
		return
	}
	switch last.DataAtom {
	case atom.B, atom.I, atom.U, atom.S, atom.Sup, atom.Sub, atom.Code, atom.Span:
	default:
		return
	}
	n.RemoveChild(last)
	for c := last.FirstChild; c != nil; {
		next := c.NextSibling
		last.RemoveChild(c)
		prev.AppendChild(c)
		c = next
	}
	mergeAdjacent(prev)
}

func sameAttrs(a, b *html.Node) bool {
	if len(a.Attr) != len(b.Attr) {
		return false
	}
	for i := range a.Attr {
		if a.Attr[i] != b.Attr[i] {
			return false
		}
	}
	return true
}

func (e *encoder) shape(n *doctree.Node) *html.Node {
	s := n.Data().(*doctree.Shape)
	switch s.ShapeKind {
	case doctree.ShapeHorizontalRule:
		return nil
	case doctree.ShapeTextBox:
		span := element(atom.Span, "class", "textbox")
		for i, p := range doctree.ChildrenOf[*doctree.Paragraph](n) {
			if i > 0 {
				span.AppendChild(element(atom.Br))
			}
			e.inlines(span, content.AcceptedInlines(p.Node))
		}
		return span
	}
	uri, ok, err := e.images.URI(s.Image)
	if err != nil {
		e.err = err
	}
	if !ok {
		return nil
	}
	img := element(atom.Img, "src", uri, "alt", s.AltText)
	if s.Name != "" {
		setAttr(img, "title", s.Name)
	}
	if s.Width > 0 && s.Height > 0 {
		setAttr(img, "width", strconv.Itoa(int(math.Round(s.Width*96/72))))
		setAttr(img, "height", strconv.Itoa(int(math.Round(s.Height*96/72))))
	}
	return img
}

func (e *encoder) table(t *doctree.Table) (*html.Node, error) {
	table := element(atom.Table)
	rows := content.AcceptedRows(t)
	// Span sizes come from the merge flags of the cells that follow.
	for ri, r := range rows {
		tr := element(atom.Tr)
		cells := r.Cells()
		for ci, c := range cells {
			if c.HorizontalMerge == doctree.MergePrevious || c.VerticalMerge == doctree.MergePrevious {
				continue
			}
			td := element(atom.Td)
			if c.HorizontalMerge == doctree.MergeFirst {
				span := 1
				for _, next := range cells[ci+1:] {
					if next.HorizontalMerge != doctree.MergePrevious {
						break
					}
					span++
				}
				if span > 1 {
					setAttr(td, "colspan", strconv.Itoa(span))
				}
			}
			if c.VerticalMerge == doctree.MergeFirst {
				span := 1
				for _, below := range rows[ri+1:] {
					bc := below.Cells()
					if ci >= len(bc) || bc[ci].VerticalMerge != doctree.MergePrevious {
						break
					}
					span++
				}
				if span > 1 {
					setAttr(td, "rowspan", strconv.Itoa(span))
				}
			}
			var ds decls
			if c.Width > 0 {
				ds = append(ds, decl{"width", formatPt(c.Width)})
			}
			if c.Shading != "" && c.Shading != "auto" {
				ds = append(ds, decl{"background-color", "#" + c.Shading})
			}
			e.style(td, ds)
			if err := e.blocks(td, c.Node); err != nil {
				return nil, err
			}
			tr.AppendChild(td)
		}
		table.AppendChild(tr)
		if err := e.cp.Tick(); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// indent inserts line breaks between block elements.
func indent(n *html.Node) {
	blockParents := map[atom.Atom]bool{
		atom.Html: true, atom.Head: true, atom.Body: true, atom.Div: true,
		atom.Ol: true, atom.Ul: true, atom.Table: true, atom.Tr: true, atom.Blockquote: true,
	}
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom != atom.Pre {
				visit(c)
			}
		}
		if n.Type != html.ElementNode || !blockParents[n.DataAtom] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				n.InsertBefore(textNode("\n"), c)
			}
		}
		n.AppendChild(textNode("\n"))
	}
	visit(n)
}
