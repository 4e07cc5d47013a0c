package rtf

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Encoder writes RTF.
type Encoder struct{}

func (Encoder) Encode(ctx context.Context, w io.Writer, doc *doctree.Document, opts codec.SaveOptions) error {
	o, err := saveOptionsOf(opts)
	if err != nil {
		return err
	}
	e := &encoder{
		doc:       doc,
		opts:      o,
		cp:        codec.NewCheckpointer(ctx, codec.RTF, doc, &o.SaveCommon),
		fontIdx:   make(map[string]int),
		colorIdx:  make(map[string]int),
		authors:   []string{"Unknown"},
		authorIdx: map[string]int{"Unknown": 0},
		styleIdx:  make(map[doctree.StyleHandle]int),
		listIdx:   make(map[doctree.ListHandle]int),
		warned:    make(map[string]bool),
	}
	if o.ExportImagesForOldReaders {
		e.labels = doctree.ListLabels(doc)
	}
	e.indexStyles()

	var body bytes.Buffer
	if err := e.document(&body); err != nil {
		return err
	}
	var defs bytes.Buffer
	e.stylesheet(&defs)
	e.listTables(&defs)

	bw := bufio.NewWriter(w)
	uc := 1
	if o.ExportCompactSize {
		uc = 0
	}
	fmt.Fprintf(bw, "{\\rtf1\\ansi\\ansicpg1252\\deff0\\uc%d\n", uc)
	e.fontTable(bw)
	e.colorTable(bw)
	bw.Write(defs.Bytes())
	e.revTable(bw)
	e.info(bw)
	e.docSettings(bw)
	bw.Write(body.Bytes())
	bw.WriteString("}\n")
	if err := e.cp.Done(); err != nil {
		return err
	}
	return bw.Flush()
}

type encoder struct {
	doc    *doctree.Document
	opts   *SaveOptions
	cp     *codec.Checkpointer
	labels map[*doctree.Node]string

	fonts     []string
	fontIdx   map[string]int
	colors    []string
	colorIdx  map[string]int
	authors   []string
	authorIdx map[string]int
	styleIdx  map[doctree.StyleHandle]int
	lists     []doctree.ListHandle
	listIdx   map[doctree.ListHandle]int

	warned map[string]bool
}

// defaultFont is font 0, which runs without a font name use.
const defaultFont = "Times New Roman"

func (e *encoder) warnOnce(key, msg string, args ...any) {
	if e.warned[key] {
		return
	}
	e.warned[key] = true
	e.opts.Log().Warn(msg, args...)
}

func (e *encoder) font(name string) int {
	if i, ok := e.fontIdx[name]; ok {
		return i
	}
	e.fonts = append(e.fonts, name)
	e.fontIdx[name] = len(e.fonts)
	return len(e.fonts)
}

func (e *encoder) color(hexColor string) int {
	c := strings.ToUpper(strings.TrimPrefix(hexColor, "#"))
	if _, err := strconv.ParseUint(c, 16, 32); err != nil || len(c) != 6 {
		return 0
	}
	if i, ok := e.colorIdx[c]; ok {
		return i
	}
	e.colors = append(e.colors, c)
	e.colorIdx[c] = len(e.colors)
	return len(e.colors)
}

func (e *encoder) author(name string) int {
	if name == "" {
		return 0
	}
	if i, ok := e.authorIdx[name]; ok {
		return i
	}
	e.authors = append(e.authors, name)
	e.authorIdx[name] = len(e.authors) - 1
	return len(e.authors) - 1
}

func (e *encoder) list(h doctree.ListHandle) int {
	if i, ok := e.listIdx[h]; ok {
		return i
	}
	e.lists = append(e.lists, h)
	e.listIdx[h] = len(e.lists)
	return len(e.lists)
}

// indexStyles numbers paragraph and character styles. The default
// paragraph style is \s0.
func (e *encoder) indexStyles() {
	styles := e.doc.Styles()
	def := styles.Default(doctree.ParagraphStyle)
	n := 1
	for _, h := range styles.Handles() {
		s := styles.Get(h)
		switch {
		case h == def:
			e.styleIdx[h] = 0
		case s.Type == doctree.ParagraphStyle, s.Type == doctree.CharacterStyle:
			e.styleIdx[h] = n
			n++
		}
	}
}

func pt(v float64) int { return int(math.Round(v * 20)) }

func paraProps(f doctree.ParaFormat) string {
	var b strings.Builder
	switch f.Alignment {
	case doctree.AlignCenter:
		b.WriteString(`\qc`)
	case doctree.AlignRight:
		b.WriteString(`\qr`)
	case doctree.AlignJustify:
		b.WriteString(`\qj`)
	}
	for _, v := range []struct {
		word string
		val  float64
	}{
		{"li", f.LeftIndent}, {"ri", f.RightIndent}, {"fi", f.FirstLineIndent},
		{"sb", f.SpaceBefore}, {"sa", f.SpaceAfter},
	} {
		if v.val != 0 {
			fmt.Fprintf(&b, `\%s%d`, v.word, pt(v.val))
		}
	}
	if f.KeepWithNext {
		b.WriteString(`\keepn`)
	}
	if f.PageBreakBefore {
		b.WriteString(`\pagebb`)
	}
	if f.OutlineLevel > 0 {
		fmt.Fprintf(&b, `\outlinelevel%d`, f.OutlineLevel-1)
	}
	return b.String()
}

var highlightColors = func() map[string]string {
	m := make(map[string]string, len(highlightNames))
	for c, name := range highlightNames {
		m[name] = c
	}
	return m
}()

func (e *encoder) charProps(f doctree.CharFormat) string {
	var b strings.Builder
	if f.FontName != "" {
		fmt.Fprintf(&b, `\f%d`, e.font(f.FontName))
	}
	if f.Size > 0 {
		fmt.Fprintf(&b, `\fs%d`, int(math.Round(f.Size*2)))
	}
	for _, v := range []struct {
		on   bool
		word string
	}{
		{f.Bold, `\b`}, {f.Italic, `\i`}, {f.Underline, `\ul`}, {f.Strike, `\strike`}, {f.Hidden, `\v`},
		{f.VerticalAlign == doctree.Superscript, `\super`}, {f.VerticalAlign == doctree.Subscript, `\sub`},
	} {
		if v.on {
			b.WriteString(v.word)
		}
	}
	if f.Color != "" {
		if i := e.color(f.Color); i > 0 {
			fmt.Fprintf(&b, `\cf%d`, i)
		}
	}
	if c, ok := highlightColors[f.Highlight]; ok {
		fmt.Fprintf(&b, `\highlight%d`, e.color(c))
	}
	return b.String()
}

func (e *encoder) revProps(m doctree.RevisionMark) string {
	switch m.Type {
	case doctree.Insertion, doctree.MoveTo:
		return fmt.Sprintf(`\revised\revauth%d\revdttm%d`, e.author(m.Author), toDTTM(m.Date))
	case doctree.Deletion, doctree.MoveFrom:
		return fmt.Sprintf(`\deleted\revauthdel%d\revdttmdel%d`, e.author(m.Author), toDTTM(m.Date))
	}
	return ""
}

// text escapes s for RTF. Characters outside Windows-1252 are written
// as \u with a fallback.
func (e *encoder) text(s string) string {
	var b strings.Builder
	fallback := "?"
	if e.opts.ExportCompactSize {
		// \uc0 skips nothing; the space only ends the parameter.
		fallback = " "
	}
	for _, r := range s {
		switch {
		case r == '\\' || r == '{' || r == '}':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\t':
			b.WriteString(`\tab `)
		case string(r) == doctree.LineBreak || r == '\r' || r == '\n':
			b.WriteString(`\line `)
		case string(r) == doctree.PageBreak:
			b.WriteString(`\page `)
		case string(r) == doctree.ColumnBreak:
			b.WriteString(`\column `)
		case string(r) == doctree.NonBreakingHyphen:
			b.WriteString(`\_`)
		case string(r) == doctree.OptionalHyphen:
			b.WriteString(`\-`)
		case string(r) == doctree.NonBreakingSpace:
			b.WriteString(`\~`)
		case r < 0x20:
		case r < 0x80:
			b.WriteRune(r)
		default:
			if c, ok := charmap.Windows1252.EncodeRune(r); ok {
				fmt.Fprintf(&b, `\'%02x`, c)
				continue
			}
			buf := make([]uint16, 0, 2)
			if r > 0xFFFF {
				r -= 0x10000
				buf = append(buf, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			} else {
				buf = append(buf, uint16(r))
			}
			for _, u := range buf {
				fmt.Fprintf(&b, `\u%d%s`, int16(u), fallback)
			}
		}
	}
	return b.String()
}

func (e *encoder) document(out *bytes.Buffer) error {
	for i, sec := range e.doc.Sections() {
		if i > 0 {
			out.WriteString("\\sect\n")
		}
		e.sectionProps(out, sec)
		for _, hf := range sec.HeadersFooters() {
			fmt.Fprintf(out, "{\\%s ", headerFooterWords[hf.HeaderFooterType])
			if err := e.blocks(out, hf.Node, false); err != nil {
				return err
			}
			out.WriteString("}\n")
		}
		if b := sec.Body(); b != nil {
			if err := e.blocks(out, b.Node, false); err != nil {
				return err
			}
		}
	}
	return nil
}

var headerFooterWords = map[doctree.HeaderFooterType]string{
	doctree.HeaderPrimary: "header", doctree.HeaderEven: "headerl", doctree.HeaderFirst: "headerf",
	doctree.FooterPrimary: "footer", doctree.FooterEven: "footerl", doctree.FooterFirst: "footerf",
}

var sectionBreaks = map[doctree.SectionStart]string{
	doctree.SectionContinuous: `\sbknone`, doctree.SectionNewColumn: `\sbkcol`,
	doctree.SectionEvenPage: `\sbkeven`, doctree.SectionOddPage: `\sbkodd`,
}

func (e *encoder) sectionProps(out *bytes.Buffer, sec *doctree.Section) {
	p := sec.PageSetup
	fmt.Fprintf(out, `\sectd%s\pgwsxn%d\pghsxn%d\marglsxn%d\margrsxn%d\margtsxn%d\margbsxn%d\headery%d\footery%d`,
		sectionBreaks[p.SectionStart], pt(p.PageWidth), pt(p.PageHeight), pt(p.LeftMargin), pt(p.RightMargin),
		pt(p.TopMargin), pt(p.BottomMargin), pt(p.HeaderDistance), pt(p.FooterDistance))
	if p.Orientation == doctree.Landscape {
		out.WriteString(`\lndscpsxn`)
	}
	if p.DifferentFirstPage {
		out.WriteString(`\titlepg`)
	}
	out.WriteString("\n")
}

// blocks writes the paragraphs and tables under parent.
func (e *encoder) blocks(out *bytes.Buffer, parent *doctree.Node, inTable bool) error {
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if err := e.cp.Tick(); err != nil {
			return err
		}
		switch v := c.Data().(type) {
		case *doctree.Paragraph:
			if err := e.paragraph(out, v, inTable, `\par`); err != nil {
				return err
			}
		case *doctree.Table:
			if inTable {
				if err := e.nested(out, v); err != nil {
					return err
				}
				continue
			}
			if err := e.table(out, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// nested flattens a table inside a cell into the cell's paragraphs.
func (e *encoder) nested(out *bytes.Buffer, t *doctree.Table) error {
	for _, r := range t.Rows() {
		for _, c := range r.Cells() {
			if err := e.blocks(out, c.Node, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func isRuleParagraph(p *doctree.Paragraph) bool {
	c := p.Node.FirstChild()
	if c == nil || c.NextSibling() != nil {
		return false
	}
	s, ok := c.Data().(*doctree.Shape)
	return ok && s.ShapeKind == doctree.ShapeHorizontalRule
}

func (e *encoder) paragraph(out *bytes.Buffer, p *doctree.Paragraph, inTable bool, end string) error {
	out.WriteString(`\pard\plain`)
	if inTable {
		out.WriteString(`\intbl`)
	}
	if i, ok := e.styleIdx[p.Style]; ok && i > 0 {
		fmt.Fprintf(out, `\s%d`, i)
	}
	if p.IsListItem() {
		fmt.Fprintf(out, `\ls%d\ilvl%d`, e.list(p.ListFormat.List), p.ListFormat.Level)
	}
	out.WriteString(paraProps(p.Format))
	if isRuleParagraph(p) {
		fmt.Fprintf(out, "\\brdrb\\brdrs\\brdrw10\\brsp20 %s\n", end)
		return nil
	}
	out.WriteString(" ")
	if label, ok := e.labels[p.Node]; ok && label != "" {
		fmt.Fprintf(out, `{\listtext\pard\plain %s\tab}`, e.text(label))
	}
	if err := e.inlines(out, p.Node); err != nil {
		return err
	}
	out.WriteString(end)
	out.WriteString("\n")
	return nil
}

func (e *encoder) inlines(out *bytes.Buffer, parent *doctree.Node) error {
	inCode := 0
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if err := e.cp.Tick(); err != nil {
			return err
		}
		switch v := c.Data().(type) {
		case *doctree.Run:
			if inCode > 0 {
				out.WriteString(e.text(v.Text()))
				continue
			}
			props := e.charProps(v.Format)
			if i, ok := e.styleIdx[v.Style]; ok && i > 0 {
				props = fmt.Sprintf(`\cs%d`, i) + props
			}
			props += e.revProps(v.Revision())
			if props != "" {
				props += " "
			}
			fmt.Fprintf(out, "{%s%s}", props, e.text(v.Text()))
		case *doctree.FieldStart:
			out.WriteString(`{\field{\*\fldinst `)
			inCode++
		case *doctree.FieldSeparator:
			out.WriteString(`}{\fldrslt `)
			inCode = max(inCode-1, 0)
		case *doctree.FieldEnd:
			if !v.HasSeparator {
				inCode = max(inCode-1, 0)
			}
			out.WriteString("}}")
		case *doctree.BookmarkStart:
			fmt.Fprintf(out, `{\*\bkmkstart %s}`, e.text(v.Name))
		case *doctree.BookmarkEnd:
			fmt.Fprintf(out, `{\*\bkmkend %s}`, e.text(v.Name))
		case *doctree.Comment, *doctree.CommentRangeStart, *doctree.CommentRangeEnd:
			e.warnOnce("comments", "dropping comments from rtf output")
		case *doctree.Footnote:
			if err := e.footnote(out, v); err != nil {
				return err
			}
		case *doctree.Shape:
			if err := e.shape(out, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *encoder) footnote(out *bytes.Buffer, f *doctree.Footnote) error {
	out.WriteString(`{\super\chftn}{\footnote`)
	if f.FootnoteKind == doctree.FootnoteKindEndnote {
		out.WriteString(`\ftnalt`)
	}
	out.WriteString(" ")
	if err := e.blocks(out, f.Node, false); err != nil {
		return err
	}
	out.WriteString("}")
	return nil
}

func (e *encoder) shape(out *bytes.Buffer, s *doctree.Shape) error {
	switch s.ShapeKind {
	case doctree.ShapeHorizontalRule:
		return nil
	case doctree.ShapeTextBox:
		for i, p := range doctree.ChildrenOf[*doctree.Paragraph](s.Node) {
			if i > 0 {
				out.WriteString(`\line `)
			}
			if err := e.inlines(out, p.Node); err != nil {
				return err
			}
		}
		return nil
	}
	if s.Image == nil || len(s.Image.Data) == 0 {
		e.warnOnce("linked-image", "dropping linked images from rtf output")
		return nil
	}
	pict, err := e.picture(s, false)
	if err != nil {
		e.opts.Log().Warn("dropping picture", "name", s.Name, "err", err)
		return nil
	}
	if !e.opts.ExportImagesForOldReaders || strings.Contains(pict, `\wmetafile`) {
		out.WriteString(pict)
		return nil
	}
	fmt.Fprintf(out, `{\*\shppict%s}`, pict)
	if old, err := e.picture(s, true); err == nil {
		fmt.Fprintf(out, `{\nonshppict%s}`, old)
	}
	return nil
}

// picture renders an image as a \pict group. forceWMF converts the
// image to a metafile regardless of the save options.
func (e *encoder) picture(s *doctree.Shape, forceWMF bool) (string, error) {
	data, typ := s.Image.Data, s.Image.Type
	if typ == doctree.ImageUnknown {
		typ = doctree.DetectImageType(data)
	}
	var w, h int
	var err error
	switch {
	case (forceWMF || e.opts.SaveImagesAsWmf) && typ != doctree.ImageWMF && typ != doctree.ImageEMF:
		data, w, h, err = toWMF(data)
		typ = doctree.ImageWMF
	case typ == doctree.ImagePNG, typ == doctree.ImageJPEG:
		_, w, h, err = doctree.ProbeImage(data)
	case typ == doctree.ImageWMF:
		w, h, _ = wmfSize(data)
	case typ == doctree.ImageEMF:
	default:
		data, w, h, err = toPNG(data)
		typ = doctree.ImagePNG
	}
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(`{\pict`)
	switch typ {
	case doctree.ImagePNG:
		b.WriteString(`\pngblip`)
	case doctree.ImageJPEG:
		b.WriteString(`\jpegblip`)
	case doctree.ImageWMF:
		b.WriteString(`\wmetafile8`)
	case doctree.ImageEMF:
		b.WriteString(`\emfblip`)
	}
	if w > 0 && h > 0 {
		if typ == doctree.ImageWMF || typ == doctree.ImageEMF {
			// Metafile extents are in hundredths of a millimeter.
			w, h = w*2540/96, h*2540/96
		}
		fmt.Fprintf(&b, `\picw%d\pich%d`, w, h)
	}
	if s.Width > 0 && s.Height > 0 {
		fmt.Fprintf(&b, `\picwgoal%d\pichgoal%d`, pt(s.Width), pt(s.Height))
	}
	b.WriteString("\n")
	enc := hex.EncodeToString(data)
	if e.opts.ExportCompactSize {
		b.WriteString(enc)
	} else {
		for len(enc) > 128 {
			b.WriteString(enc[:128])
			b.WriteString("\n")
			enc = enc[128:]
		}
		b.WriteString(enc)
	}
	b.WriteString("}")
	return b.String(), nil
}

func (e *encoder) textWidth() float64 {
	p := doctree.DefaultPageSetup()
	if sec := e.doc.FirstSection(); sec != nil {
		p = sec.PageSetup
	}
	return p.PageWidth - p.LeftMargin - p.RightMargin
}

func (e *encoder) table(out *bytes.Buffer, t *doctree.Table) error {
	for _, r := range t.Rows() {
		cells := r.Cells()
		if len(cells) == 0 {
			continue
		}
		out.WriteString(`\trowd\trgaph108`)
		if r.HeadingFormat {
			out.WriteString(`\trhdr`)
		}
		right := 0.0
		for _, c := range cells {
			switch c.VerticalMerge {
			case doctree.MergeFirst:
				out.WriteString(`\clvmgf`)
			case doctree.MergePrevious:
				out.WriteString(`\clvmrg`)
			}
			switch c.HorizontalMerge {
			case doctree.MergeFirst:
				out.WriteString(`\clmgf`)
			case doctree.MergePrevious:
				out.WriteString(`\clmrg`)
			}
			if c.Shading != "" {
				if i := e.color(c.Shading); i > 0 {
					fmt.Fprintf(out, `\clcbpat%d`, i)
				}
			}
			w := c.Width
			if w <= 0 {
				w = e.textWidth() / float64(len(cells))
			}
			right += w
			fmt.Fprintf(out, `\cellx%d`, pt(right))
		}
		out.WriteString("\n")
		for _, c := range cells {
			if err := e.cell(out, c); err != nil {
				return err
			}
		}
		out.WriteString("\\row\n")
	}
	return nil
}

// cell writes a cell's content; its last paragraph ends with \cell.
func (e *encoder) cell(out *bytes.Buffer, c *doctree.Cell) error {
	closed := false
	for n := c.Node.FirstChild(); n != nil; n = n.NextSibling() {
		if err := e.cp.Tick(); err != nil {
			return err
		}
		switch v := n.Data().(type) {
		case *doctree.Paragraph:
			end := `\par`
			if n.NextSibling() == nil {
				end, closed = `\cell`, true
			}
			if err := e.paragraph(out, v, true, end); err != nil {
				return err
			}
		case *doctree.Table:
			if err := e.nested(out, v); err != nil {
				return err
			}
		}
	}
	if !closed {
		out.WriteString("\\pard\\plain\\intbl \\cell\n")
	}
	return nil
}

func (e *encoder) fontTable(w *bufio.Writer) {
	w.WriteString(`{\fonttbl{\f0\froman\fcharset0 ` + defaultFont + ";}")
	for i, name := range e.fonts {
		charset := 0
		if name == "Symbol" || name == "Wingdings" {
			charset = symbolCharset
		}
		fmt.Fprintf(w, `{\f%d\fnil\fcharset%d %s;}`, i+1, charset, e.text(name))
	}
	w.WriteString("}\n")
}

func (e *encoder) colorTable(w *bufio.Writer) {
	w.WriteString(`{\colortbl;`)
	for _, c := range e.colors {
		v, _ := strconv.ParseUint(c, 16, 32)
		fmt.Fprintf(w, `\red%d\green%d\blue%d;`, v>>16&0xFF, v>>8&0xFF, v&0xFF)
	}
	w.WriteString("}\n")
}

func (e *encoder) stylesheet(out *bytes.Buffer) {
	styles := e.doc.Styles()
	out.WriteString(`{\stylesheet`)
	for _, h := range styles.Handles() {
		i, ok := e.styleIdx[h]
		if !ok {
			continue
		}
		s := styles.Get(h)
		ref := func(o doctree.StyleHandle) int {
			if j, ok := e.styleIdx[o]; ok {
				return j
			}
			return i
		}
		if s.Type == doctree.CharacterStyle {
			fmt.Fprintf(out, `{\*\cs%d\additive`, i)
			if s.BasedOn != 0 {
				fmt.Fprintf(out, `\sbasedon%d`, ref(s.BasedOn))
			}
			fmt.Fprintf(out, "%s %s;}\n", e.charProps(s.Font), e.text(s.Name))
			continue
		}
		fmt.Fprintf(out, `{\s%d`, i)
		if s.BasedOn != 0 {
			fmt.Fprintf(out, `\sbasedon%d`, ref(s.BasedOn))
		}
		next := i
		if s.Next != 0 {
			next = ref(s.Next)
		}
		fmt.Fprintf(out, "\\snext%d%s%s %s;}\n", next, paraProps(s.Paragraph), e.charProps(s.Font), e.text(s.Name))
	}
	out.WriteString("}\n")
}

var levelNFC = map[doctree.NumberStyle]int{
	doctree.NumberArabic: 0, doctree.NumberUpperRoman: 1, doctree.NumberLowerRoman: 2,
	doctree.NumberUpperLetter: 3, doctree.NumberLowerLetter: 4, doctree.NumberBullet: 23,
	doctree.NumberNone: 255,
}

// levelText encodes a label format as leveltext and levelnumbers.
func (e *encoder) levelText(format string) (text, numbers string) {
	var t, n strings.Builder
	count := 0
	rs := []rune(format)
	for i := 0; i < len(rs); i++ {
		if rs[i] == '%' && i+1 < len(rs) && rs[i+1] >= '1' && rs[i+1] <= '9' {
			count++
			fmt.Fprintf(&t, `\'%02x`, rs[i+1]-'1')
			fmt.Fprintf(&n, `\'%02x`, count)
			i++
			continue
		}
		count++
		t.WriteString(e.text(string(rs[i])))
	}
	return fmt.Sprintf(`\'%02x`, count) + t.String(), n.String()
}

func (e *encoder) listTables(out *bytes.Buffer) {
	if len(e.lists) == 0 {
		return
	}
	ids := make(map[doctree.ListHandle]int, len(e.lists))
	out.WriteString(`{\*\listtable`)
	for _, h := range e.lists {
		l := e.doc.Lists().Get(h)
		if l == nil {
			continue
		}
		ids[h] = l.ID
		out.WriteString(`{\list\listtemplateid` + strconv.Itoa(l.ID))
		for _, lvl := range l.Levels {
			nfc := levelNFC[lvl.NumberStyle]
			text, numbers := e.levelText(lvl.Format)
			fmt.Fprintf(out, `{\listlevel\levelnfc%d\levelnfcn%d\leveljc0\levelfollow0\levelstartat%d{\leveltext%s;}{\levelnumbers%s;}`,
				nfc, nfc, max(lvl.StartAt, 0), text, numbers)
			if lvl.FontName != "" {
				fmt.Fprintf(out, `\f%d`, e.font(lvl.FontName))
			}
			fmt.Fprintf(out, `\fi-360\li%d\lin%d}`, pt(lvl.Indent), pt(lvl.Indent))
		}
		fmt.Fprintf(out, "{\\listname ;}\\listid%d}\n", l.ID)
	}
	out.WriteString("}\n")
	out.WriteString(`{\*\listoverridetable`)
	for i, h := range e.lists {
		if id, ok := ids[h]; ok {
			fmt.Fprintf(out, `{\listoverride\listid%d\listoverridecount0\ls%d}`, id, i+1)
		}
	}
	out.WriteString("}\n")
}

func (e *encoder) revTable(w *bufio.Writer) {
	if len(e.authors) == 1 {
		return
	}
	w.WriteString(`{\*\revtbl`)
	for _, a := range e.authors {
		fmt.Fprintf(w, "{%s;}", e.text(a))
	}
	w.WriteString("}\n")
}

func rtfTime(word string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf(`{\%s\yr%d\mo%d\dy%d\hr%d\min%d\sec%d}`, word, t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
}

func (e *encoder) info(w *bufio.Writer) {
	p := e.doc.BuiltIn
	w.WriteString(`{\info`)
	for _, f := range []struct{ word, val string }{
		{"title", p.Title}, {"subject", p.Subject}, {"author", p.Author}, {"operator", p.LastSavedBy},
		{"keywords", p.Keywords}, {"doccomm", p.Comments}, {"category", p.Category}, {`*\company`, p.Company},
	} {
		if f.val != "" {
			fmt.Fprintf(w, `{\%s %s}`, f.word, e.text(f.val))
		}
	}
	if !p.Created.IsZero() {
		w.WriteString(rtfTime("creatim", p.Created))
	}
	if !p.LastSaved.IsZero() {
		w.WriteString(rtfTime("revtim", p.LastSaved))
	}
	if p.RevisionNumber > 0 {
		fmt.Fprintf(w, `{\version%d}`, p.RevisionNumber)
	}
	w.WriteString("}\n")

	if props := e.doc.Custom.All(); len(props) > 0 {
		w.WriteString(`{\*\userprops `)
		for _, prop := range props {
			typ, val := 30, fmt.Sprint(prop.Value)
			switch v := prop.Value.(type) {
			case int:
				typ = 3
			case float64:
				typ, val = 5, strconv.FormatFloat(v, 'g', -1, 64)
			case bool:
				typ, val = 11, "0"
				if v {
					val = "1"
				}
			case time.Time:
				typ, val = 64, v.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, `{{\propname %s}\proptype%d{\staticval %s}}`, e.text(prop.Name), typ, e.text(val))
		}
		w.WriteString("}\n")
	}
	for _, k := range e.doc.Variables.Keys() {
		v, _ := e.doc.Variables.Get(k)
		fmt.Fprintf(w, "{\\*\\docvar {%s}{%s}}\n", e.text(k), e.text(v))
	}
}

func (e *encoder) docSettings(w *bufio.Writer) {
	if t := e.doc.Settings.DefaultTabStop; t > 0 {
		fmt.Fprintf(w, `\deftab%d`, pt(t))
	}
	if e.doc.Settings.TrackRevisions {
		w.WriteString(`\revisions`)
	}
	if sec := e.doc.FirstSection(); sec != nil {
		p := sec.PageSetup
		fmt.Fprintf(w, `\paperw%d\paperh%d\margl%d\margr%d\margt%d\margb%d`,
			pt(p.PageWidth), pt(p.PageHeight), pt(p.LeftMargin), pt(p.RightMargin), pt(p.TopMargin), pt(p.BottomMargin))
		if p.Orientation == doctree.Landscape {
			w.WriteString(`\landscape`)
		}
	}
	w.WriteString("\n")
}
