package markdown

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Encoder writes Markdown.
type Encoder struct{}

func (Encoder) Encode(ctx context.Context, w io.Writer, doc *doctree.Document, opts codec.SaveOptions) error {
	o, err := saveOptionsOf(opts)
	if err != nil {
		return err
	}
	e := &encoder{
		doc:      doc,
		opts:     o,
		cp:       codec.NewCheckpointer(ctx, codec.Markdown, doc, &o.SaveCommon),
		labels:   doctree.ListLabels(doc),
		counters: make(map[doctree.ListHandle]*listCounter),
		images: &codec.ImageExporter{
			Resource: o.ImageResource,
			Base64:   o.ExportImagesAsBase64,
			Folder:   o.ImagesFolder,
			Alias:    o.ImagesFolderAlias,
		},
	}
	for _, sec := range doc.Sections() {
		if body := sec.Body(); body != nil {
			if err := e.blocks(body.Node); err != nil {
				return err
			}
		}
	}
	e.flushCode()
	for i, n := range e.notes {
		e.add(block{kind: blockNote, text: fmt.Sprintf("[^%d]: %s", i+1, n)})
	}
	if err := e.cp.Done(); err != nil {
		return err
	}
	_, err = io.WriteString(w, e.render())
	return err
}

type blockKind int

const (
	blockPara blockKind = iota
	blockList
	blockNote
)

type block struct {
	kind blockKind
	text string
	// list and level place list items; separate top-level lists get a
	// blank line between them.
	list  doctree.ListHandle
	level int
}

type listCounter struct {
	counts  [doctree.MaxListLevels]int
	started [doctree.MaxListLevels]bool
}

type encoder struct {
	doc      *doctree.Document
	opts     *SaveOptions
	cp       *codec.Checkpointer
	labels   map[*doctree.Node]string
	counters map[doctree.ListHandle]*listCounter
	out      []block
	code     []string
	notes    []string
	images   *codec.ImageExporter
	err      error
}

func (e *encoder) add(b block) { e.out = append(e.out, b) }

// render joins blocks: items of one list and notes stay tight, everything
// else is separated by a blank line.
func (e *encoder) render() string {
	var b strings.Builder
	for i, blk := range e.out {
		if i > 0 {
			if tight(e.out[i-1], blk) {
				b.WriteString("\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(blk.text)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

func tight(prev, cur block) bool {
	switch {
	case prev.kind != cur.kind:
		return false
	case cur.kind == blockNote:
		return true
	case cur.kind == blockList:
		return prev.list == cur.list || prev.level > 0 || cur.level > 0
	}
	return false
}

func (e *encoder) blocks(parent *doctree.Node) error {
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if err := e.cp.Tick(); err != nil {
			return err
		}
		switch v := c.Data().(type) {
		case *doctree.Paragraph:
			e.paragraph(v)
		case *doctree.Table:
			e.flushCode()
			e.table(v)
		}
		if e.err != nil {
			return e.err
		}
	}
	return nil
}

func (e *encoder) styleName(p *doctree.Paragraph) string {
	if s := e.doc.Styles().Get(p.Style); s != nil {
		return s.Name
	}
	return ""
}

func (e *encoder) paragraph(p *doctree.Paragraph) {
	if content.IsParagraphDeleted(p) {
		return
	}
	if e.styleName(p) == doctree.StyleHTMLPreformatted {
		e.code = append(e.code, e.codeText(p.Node))
		return
	}
	e.flushCode()

	items := content.AcceptedInlines(p.Node)
	if len(items) == 1 && items[0].Kind == content.InlineShape {
		if s := items[0].Node.Data().(*doctree.Shape); s.ShapeKind == doctree.ShapeHorizontalRule {
			e.add(block{text: "-----"})
			return
		}
	}
	text := e.inlines(items)

	if p.IsListItem() {
		e.add(block{kind: blockList, text: e.listItem(p, text), list: p.ListFormat.List, level: p.ListFormat.Level})
		return
	}
	if lvl := e.doc.HeadingLevel(p); lvl > 0 {
		e.add(block{text: strings.Repeat("#", min(lvl, 6)) + " " + text})
		return
	}
	if text == "" {
		return
	}
	text = escapeLineStart(text)
	if e.styleName(p) == doctree.StyleQuote {
		text = "> " + strings.ReplaceAll(text, "\n", "\n> ")
	}
	e.add(block{text: text})
}

func (e *encoder) codeText(p *doctree.Node) string {
	var b strings.Builder
	for _, it := range content.AcceptedInlines(p) {
		if it.Kind == content.InlineText {
			b.WriteString(content.ReadableRunText(it.Run.Text()))
		}
	}
	return b.String()
}

func (e *encoder) flushCode() {
	if len(e.code) == 0 {
		return
	}
	body := strings.Join(e.code, "\n")
	fence := strings.Repeat("`", max(3, longestRun(body, '`')+1))
	e.add(block{text: fence + "\n" + body + "\n" + fence})
	e.code = nil
}

func longestRun(s string, c byte) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			cur++
			best = max(best, cur)
		} else {
			cur = 0
		}
	}
	return best
}

func (e *encoder) listItem(p *doctree.Paragraph, text string) string {
	lvl := min(max(p.ListFormat.Level, 0), doctree.MaxListLevels-1)
	indent := strings.Repeat("    ", lvl)
	if e.opts.ListExportMode == ListPlainText {
		label := e.labels[p.Node]
		return indent + escapeLineStart(escapeText(label)+" "+text)
	}
	l := e.doc.Lists().Get(p.ListFormat.List)
	if l == nil || l.Levels[lvl].NumberStyle == doctree.NumberBullet || l.Levels[lvl].NumberStyle == doctree.NumberNone {
		return indent + "- " + text
	}
	st := e.counters[p.ListFormat.List]
	if st == nil {
		st = &listCounter{}
		e.counters[p.ListFormat.List] = st
	}
	if st.started[lvl] {
		st.counts[lvl]++
	} else {
		st.counts[lvl], st.started[lvl] = l.Levels[lvl].StartAt, true
	}
	for deeper := lvl + 1; deeper < doctree.MaxListLevels; deeper++ {
		st.started[deeper] = false
	}
	delim := "."
	if strings.HasSuffix(l.Levels[lvl].Format, ")") {
		delim = ")"
	}
	return fmt.Sprintf("%s%d%s %s", indent, st.counts[lvl], delim, text)
}

// span is a run of text sharing one set of emphasis markers.
type span struct {
	text   string
	bold   bool
	italic bool
	strike bool
	under  bool
	code   bool
}

func (e *encoder) spanOf(r *doctree.Run) span {
	f := r.Format.Merge(e.doc.Styles().EffectiveFont(r.Style))
	sp := span{text: r.Text(), bold: f.Bold, italic: f.Italic, strike: f.Strike, under: f.Underline && e.opts.ExportUnderlineFormatting}
	if s := e.doc.Styles().Get(r.Style); s != nil {
		switch s.Name {
		case doctree.StyleHTMLCode:
			sp.code = true
		case doctree.StyleHyperlink:
			sp.under = false
		}
	}
	return sp
}

func (e *encoder) inlines(items []content.Inline) string {
	var b strings.Builder
	var spans []span
	flush := func() {
		for _, s := range mergeSpans(spans) {
			b.WriteString(s.render())
		}
		spans = spans[:0]
	}
	var linkURL []string
	for _, it := range items {
		switch it.Kind {
		case content.InlineText:
			spans = append(spans, e.spanOf(it.Run))
		case content.InlineLinkStart:
			flush()
			b.WriteString("[")
			linkURL = append(linkURL, it.URL)
		case content.InlineLinkEnd:
			flush()
			if n := len(linkURL); n > 0 {
				b.WriteString("](" + escapeURL(linkURL[n-1]) + ")")
				linkURL = linkURL[:n-1]
			}
		case content.InlineNote:
			flush()
			e.notes = append(e.notes, e.noteText(it.Node))
			fmt.Fprintf(&b, "[^%d]", len(e.notes))
		case content.InlineShape:
			flush()
			b.WriteString(e.shape(it.Node))
		}
	}
	flush()
	for range linkURL {
		b.WriteString("]()")
	}
	return b.String()
}

func (e *encoder) noteText(n *doctree.Node) string {
	var parts []string
	for _, p := range doctree.ChildrenOf[*doctree.Paragraph](n) {
		if t := e.inlines(content.AcceptedInlines(p.Node)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func mergeSpans(in []span) []span {
	var out []span
	for _, s := range in {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.bold == s.bold && last.italic == s.italic && last.strike == s.strike && last.under == s.under && last.code == s.code {
				last.text += s.text
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

var breakChars = strings.NewReplacer(
	doctree.LineBreak, "\\\n",
	doctree.PageBreak, "\\\n",
	doctree.ColumnBreak, "\\\n",
	doctree.ParagraphBreak, "\\\n",
	doctree.NonBreakingHyphen, "-",
	doctree.OptionalHyphen, "",
)

func (s span) render() string {
	if s.code {
		text := content.ReadableRunText(s.text)
		fence := strings.Repeat("`", longestRun(text, '`')+1)
		pad := ""
		if strings.HasPrefix(text, "`") || strings.HasSuffix(text, "`") {
			pad = " "
		}
		return fence + pad + text + pad + fence
	}
	text := breakChars.Replace(escapeText(s.text))
	core := strings.TrimSpace(text)
	if core == "" || !(s.bold || s.italic || s.strike || s.under) {
		return text
	}
	lead := text[:strings.Index(text, core)]
	trail := text[len(lead)+len(core):]
	switch {
	case s.bold && s.italic:
		core = "***" + core + "***"
	case s.bold:
		core = "**" + core + "**"
	case s.italic:
		core = "*" + core + "*"
	}
	if s.strike {
		core = "~~" + core + "~~"
	}
	if s.under {
		core = "<u>" + core + "</u>"
	}
	return lead + core + trail
}

var mdSpecial = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"<", `\<`, ">", `\>`, "|", `\|`, "~", `\~`,
)

func escapeText(s string) string { return mdSpecial.Replace(s) }

var lineStartMarker = regexp.MustCompile(`^(\s*)(#|[-+]\s|(\d+)([.)]))`)

// escapeLineStart keeps a paragraph from reading as a heading or list.
func escapeLineStart(s string) string {
	m := lineStartMarker.FindStringSubmatchIndex(s)
	if m == nil {
		return s
	}
	if m[6] >= 0 {
		return s[:m[8]] + `\` + s[m[8]:]
	}
	return s[:m[4]] + `\` + s[m[4]:]
}

func escapeURL(u string) string {
	return strings.NewReplacer(" ", "%20", "(", "%28", ")", "%29").Replace(u)
}

func (e *encoder) shape(n *doctree.Node) string {
	s := n.Data().(*doctree.Shape)
	switch s.ShapeKind {
	case doctree.ShapeHorizontalRule:
		return ""
	case doctree.ShapeTextBox:
		var parts []string
		for _, p := range doctree.ChildrenOf[*doctree.Paragraph](n) {
			parts = append(parts, e.inlines(content.AcceptedInlines(p.Node)))
		}
		return strings.Join(parts, " ")
	}
	if !s.HasImage() {
		return ""
	}
	uri, ok, err := e.images.URI(s.Image)
	if err != nil {
		e.err = err
	}
	if !ok {
		return ""
	}
	alt := escapeText(s.AltText)
	if s.Name != "" {
		return fmt.Sprintf("![%s](%s %q)", alt, escapeURL(uri), s.Name)
	}
	return fmt.Sprintf("![%s](%s)", alt, escapeURL(uri))
}

func (e *encoder) table(t *doctree.Table) {
	rows := content.AcceptedRows(t)
	if len(rows) == 0 {
		return
	}
	var grid [][]string
	cols := 0
	for _, r := range rows {
		var line []string
		for _, c := range r.Cells() {
			var text string
			if c.HorizontalMerge != doctree.MergePrevious && c.VerticalMerge != doctree.MergePrevious {
				text = e.cellText(c)
			}
			line = append(line, text)
		}
		cols = max(cols, len(line))
		grid = append(grid, line)
	}
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(" " + cell + " |")
		}
	}
	writeRow(grid[0])
	b.WriteString("\n|")
	for i := 0; i < cols; i++ {
		b.WriteString(e.delimiter(rows, i) + "|")
	}
	for _, line := range grid[1:] {
		b.WriteString("\n")
		writeRow(line)
	}
	e.add(block{text: b.String()})
}

func (e *encoder) cellText(c *doctree.Cell) string {
	var parts []string
	for _, p := range c.Paragraphs() {
		if content.IsParagraphDeleted(p) {
			continue
		}
		if t := e.inlines(content.AcceptedInlines(p.Node)); t != "" {
			parts = append(parts, strings.ReplaceAll(t, "\\\n", "<br>"))
		}
	}
	return strings.Join(parts, "<br>")
}

// delimiter renders the delimiter cell of column i.
func (e *encoder) delimiter(rows []*doctree.Row, i int) string {
	align := e.opts.TableContentAlignment
	if align == AlignAuto {
		for _, r := range rows {
			cells := r.Cells()
			if i >= len(cells) {
				continue
			}
			if ps := cells[i].Paragraphs(); len(ps) > 0 {
				switch ps[0].Format.Alignment {
				case doctree.AlignCenter:
					align = AlignCenter
				case doctree.AlignRight:
					align = AlignRight
				}
				break
			}
		}
	}
	switch align {
	case AlignLeft:
		return " :--- "
	case AlignCenter:
		return " :---: "
	case AlignRight:
		return " ---: "
	}
	return " --- "
}
