package doctree

import (
	"fmt"
	"strings"
	"time"
)

// BreakType selects what InsertBreak writes.
type BreakType int

const (
	BreakLine BreakType = iota
	BreakPage
	BreakColumn
	BreakSectionNewPage
	BreakSectionContinuous
)

// Builder writes content at a cursor inside a document. The cursor is a
// paragraph plus an optional inline node that new content goes before;
// a nil inline node means the end of the paragraph. Edits go through the
// tree API and are tracked when the document tracks revisions.
type Builder struct {
	doc    *Document
	para   *Paragraph
	cursor *Node

	// Font is applied to every run written.
	Font CharFormat
	// CharStyle is applied to every run written.
	CharStyle StyleHandle
	// CellFormat is applied to every inserted cell.
	CellFormat CellFormat

	tables []*builderTable
}

// CellFormat holds the cell properties the builder applies.
type CellFormat struct {
	VerticalMerge   CellMerge
	HorizontalMerge CellMerge
	Width           float64
	Shading         string
}

type builderTable struct {
	table *Table
	row   *Row
	after *Paragraph
}

// NewBuilder returns a builder positioned at the end of the document.
func NewBuilder(doc *Document) *Builder {
	b := &Builder{doc: doc}
	b.MoveToDocumentEnd()
	return b
}

func (b *Builder) Document() *Document          { return b.doc }
func (b *Builder) CurrentParagraph() *Paragraph { return b.para }

// MoveToDocumentEnd places the cursor at the end of the last body
// paragraph, creating a section or paragraph when missing.
func (b *Builder) MoveToDocumentEnd() {
	sec := b.doc.LastSection()
	if sec == nil {
		sec = b.doc.AddSection()
	}
	body := sec.EnsureBody()
	last := body.lastChild
	if last == nil || last.typ != ParagraphNode {
		p := NewParagraph(b.doc)
		body.attach(p.Node, nil)
		last = p.Node
	}
	b.para = last.data.(*Paragraph)
	b.cursor = nil
	b.tables = nil
}

// MoveTo places the cursor before an inline node or at the end of a
// paragraph.
func (b *Builder) MoveTo(n *Node) error {
	switch {
	case n.typ == ParagraphNode:
		b.para, b.cursor = n.data.(*Paragraph), nil
	case n.typ.IsInline() && n.parent != nil && n.parent.typ == ParagraphNode:
		b.para, b.cursor = n.parent.data.(*Paragraph), n
	default:
		return fmt.Errorf("%w: cannot move builder to %s", ErrInvalidTreeOperation, n.typ)
	}
	return nil
}

// MoveToHeaderFooter places the cursor in the given header or footer of
// the current section, creating it when missing.
func (b *Builder) MoveToHeaderFooter(t HeaderFooterType) {
	sec := b.currentSection()
	hf := sec.HeaderFooter(t)
	if hf == nil {
		hf = NewHeaderFooter(b.doc, t)
		sec.attach(hf.Node, nil)
	}
	if hf.lastChild == nil || hf.lastChild.typ != ParagraphNode {
		p := NewParagraph(b.doc)
		if hf.HeaderFooterType.IsHeader() {
			p.Style = b.doc.styles.Ensure(StyleHeader)
		} else {
			p.Style = b.doc.styles.Ensure(StyleFooter)
		}
		hf.attach(p.Node, nil)
	}
	b.para = hf.lastChild.data.(*Paragraph)
	b.cursor = nil
	b.tables = nil
}

func (b *Builder) currentSection() *Section {
	if s := b.para.Ancestor(SectionNode); s != nil {
		return s.data.(*Section)
	}
	if s := b.doc.LastSection(); s != nil {
		return s
	}
	return b.doc.AddSection()
}

// SetStyle applies a paragraph style by name to the current paragraph,
// adding the built-in definition when needed.
func (b *Builder) SetStyle(name string) {
	b.para.Style = b.doc.styles.Ensure(name)
}

// SetParagraphFormat replaces the current paragraph's formatting.
func (b *Builder) SetParagraphFormat(f ParaFormat) { b.para.SetFormat(f) }

// Write inserts text at the cursor. Carriage returns and line feeds
// start new paragraphs; other control characters stay in the run text.
func (b *Builder) Write(text string) {
	text = strings.ReplaceAll(text, CRLF, ParagraphBreak)
	text = strings.ReplaceAll(text, LineFeed, ParagraphBreak)
	for i, part := range strings.Split(text, ParagraphBreak) {
		if i > 0 {
			b.InsertParagraph()
		}
		if part != "" {
			b.writeRun(part)
		}
	}
}

// Writeln writes text and ends the paragraph.
func (b *Builder) Writeln(text string) {
	b.Write(text)
	b.InsertParagraph()
}

func (b *Builder) writeRun(text string) *Run {
	r := NewRun(b.doc, text)
	r.Format = b.Font
	r.Style = b.CharStyle
	b.insert(r.Node)
	return r
}

func (b *Builder) insert(n *Node) {
	if err := b.para.InsertBefore(n, b.cursor); err != nil {
		panic(err)
	}
}

// InsertParagraph ends the current paragraph and starts a new one with
// the same style, formatting and list membership. Content after the
// cursor moves to the new paragraph.
func (b *Builder) InsertParagraph() *Paragraph {
	p := NewParagraph(b.doc)
	p.Style = b.para.Style
	p.Format = b.para.Format
	p.Format.PageBreakBefore = false
	p.ListFormat = b.para.ListFormat
	for c := b.cursor; c != nil; {
		next := c.nextSibling
		b.para.unlinkChild(c)
		p.attach(c, nil)
		c = next
	}
	if err := b.para.parent.InsertAfter(p.Node, b.para.Node); err != nil {
		panic(err)
	}
	b.para = p
	b.cursor = p.firstChild
	return p
}

// InsertBreak writes a line, page or column break, or starts a new
// section.
func (b *Builder) InsertBreak(t BreakType) {
	switch t {
	case BreakLine:
		b.writeRun(LineBreak)
	case BreakPage:
		b.writeRun(PageBreak)
	case BreakColumn:
		b.writeRun(ColumnBreak)
	case BreakSectionNewPage, BreakSectionContinuous:
		cur := b.currentSection()
		sec := NewSection(b.doc)
		sec.PageSetup = cur.PageSetup
		sec.PageSetup.SectionStart = SectionNewPage
		if t == BreakSectionContinuous {
			sec.PageSetup.SectionStart = SectionContinuous
		}
		body := NewBody(b.doc)
		sec.attach(body.Node, nil)
		p := NewParagraph(b.doc)
		p.Style = b.para.Style
		body.attach(p.Node, nil)
		if err := b.doc.InsertAfter(sec.Node, cur.Node); err != nil {
			panic(err)
		}
		b.para, b.cursor, b.tables = p, nil, nil
	}
}

// InsertField writes a field with the given code and result.
func (b *Builder) InsertField(code, result string) (*Field, error) {
	f, err := InsertField(b.para, b.cursor, code, result, true)
	if err != nil {
		return nil, err
	}
	b.applyFont(f)
	return f, nil
}

// InsertUnresultedField writes a field without separator or result.
func (b *Builder) InsertUnresultedField(code string) (*Field, error) {
	f, err := InsertField(b.para, b.cursor, code, "", false)
	if err != nil {
		return nil, err
	}
	b.applyFont(f)
	return f, nil
}

func (b *Builder) applyFont(f *Field) {
	for n := f.Start; n != nil; n = n.nextSibling {
		if r, ok := n.data.(*Run); ok {
			r.Format = b.Font
			r.Style = b.CharStyle
		}
		if n == f.End {
			break
		}
	}
}

// InsertMergeField writes a MERGEFIELD whose result shows the name in
// chevrons, as word processors display unmerged fields.
func (b *Builder) InsertMergeField(name string) (*Field, error) {
	code := " MERGEFIELD " + name + ` \* MERGEFORMAT `
	if strings.ContainsAny(name, " ") {
		code = ` MERGEFIELD "` + name + `" \* MERGEFORMAT `
	}
	return b.InsertField(code, "«"+name+"»")
}

// InsertHyperlink writes a HYPERLINK field styled as a hyperlink.
func (b *Builder) InsertHyperlink(text, url string) (*Field, error) {
	saved := b.CharStyle
	b.CharStyle = b.doc.styles.Ensure(StyleHyperlink)
	defer func() { b.CharStyle = saved }()
	return b.InsertField(` HYPERLINK "`+url+`" `, text)
}

// StartBookmark opens a bookmark at the cursor.
func (b *Builder) StartBookmark(name string) *BookmarkStart {
	bs := NewBookmarkStart(b.doc, name)
	b.insert(bs.Node)
	return bs
}

// EndBookmark closes a bookmark at the cursor.
func (b *Builder) EndBookmark(name string) *BookmarkEnd {
	be := NewBookmarkEnd(b.doc, name)
	b.insert(be.Node)
	return be
}

// InsertComment anchors a comment holding text at the cursor.
func (b *Builder) InsertComment(author, initial string, at time.Time, text string) *Comment {
	c := NewComment(b.doc, author, initial, at)
	p := NewParagraph(b.doc)
	p.Style = b.doc.styles.Ensure(StyleCommentText)
	c.attach(p.Node, nil)
	if text != "" {
		p.attach(NewRun(b.doc, text).Node, nil)
	}
	b.insert(c.Node)
	return c
}

// InsertFootnote anchors a footnote or endnote holding text at the cursor.
func (b *Builder) InsertFootnote(k FootnoteKind, text string) *Footnote {
	f := NewFootnote(b.doc, k)
	p := NewParagraph(b.doc)
	p.Style = b.doc.styles.Ensure(StyleFootnoteText)
	f.attach(p.Node, nil)
	if text != "" {
		p.attach(NewRun(b.doc, text).Node, nil)
	}
	b.insert(f.Node)
	return f
}

// InsertImage writes an inline image shape.
func (b *Builder) InsertImage(data []byte) (*Shape, error) {
	s, err := NewImageShape(b.doc, data)
	if err != nil {
		return nil, err
	}
	b.insert(s.Node)
	return s, nil
}

// InsertHorizontalRule writes a horizontal rule shape.
func (b *Builder) InsertHorizontalRule() *Shape {
	s := NewShape(b.doc, ShapeHorizontalRule)
	s.Height = 1.5
	b.insert(s.Node)
	return s
}

// ApplyList makes the current paragraph a member of list h at level.
func (b *Builder) ApplyList(h ListHandle, level int) {
	b.para.ListFormat = ListFormat{List: h, Level: level}
	if b.para.Style == 0 {
		b.para.Style = b.doc.styles.Ensure(StyleListParagraph)
	}
}

// ApplyNumberedList starts a new default numbered list at the cursor.
func (b *Builder) ApplyNumberedList() ListHandle {
	h := b.doc.lists.AddTemplate(ListNumberDefault)
	b.ApplyList(h, 0)
	return h
}

// ApplyBulletList starts a new default bullet list at the cursor.
func (b *Builder) ApplyBulletList() ListHandle {
	h := b.doc.lists.AddTemplate(ListBulletDefault)
	b.ApplyList(h, 0)
	return h
}

// RemoveList detaches the current paragraph from its list.
func (b *Builder) RemoveList() {
	b.para.ListFormat = ListFormat{}
	if s := b.doc.styles.Get(b.para.Style); s != nil && s.Name == StyleListParagraph {
		b.para.Style = 0
	}
}

// StartTable begins a table at the cursor. When the current paragraph
// has content the table goes after it.
func (b *Builder) StartTable() *Table {
	t := NewTable(b.doc)
	container := b.para.parent
	bt := &builderTable{table: t}
	if b.para.firstChild == nil {
		if err := container.InsertBefore(t.Node, b.para.Node); err != nil {
			panic(err)
		}
		bt.after = b.para
	} else {
		if err := container.InsertAfter(t.Node, b.para.Node); err != nil {
			panic(err)
		}
		after := NewParagraph(b.doc)
		if err := container.InsertAfter(after.Node, t.Node); err != nil {
			panic(err)
		}
		bt.after = after
	}
	b.tables = append(b.tables, bt)
	return t
}

func (b *Builder) currentTable() (*builderTable, error) {
	if len(b.tables) == 0 {
		return nil, fmt.Errorf("%w: no table started", ErrInvalidTreeOperation)
	}
	return b.tables[len(b.tables)-1], nil
}

// InsertCell adds a cell to the current row, starting a row when needed,
// and moves the cursor into it.
func (b *Builder) InsertCell() (*Cell, error) {
	bt, err := b.currentTable()
	if err != nil {
		return nil, err
	}
	if bt.row == nil {
		bt.row = NewRow(b.doc)
		if err := bt.table.AppendChild(bt.row.Node); err != nil {
			return nil, err
		}
	}
	c := NewCell(b.doc)
	c.VerticalMerge = b.CellFormat.VerticalMerge
	c.HorizontalMerge = b.CellFormat.HorizontalMerge
	c.Width = b.CellFormat.Width
	c.Shading = b.CellFormat.Shading
	p := NewParagraph(b.doc)
	c.attach(p.Node, nil)
	if err := bt.row.AppendChild(c.Node); err != nil {
		return nil, err
	}
	b.para, b.cursor = p, nil
	return c, nil
}

// EndRow closes the current row.
func (b *Builder) EndRow() (*Row, error) {
	bt, err := b.currentTable()
	if err != nil {
		return nil, err
	}
	if bt.row == nil {
		return nil, fmt.Errorf("%w: no row started", ErrInvalidTreeOperation)
	}
	r := bt.row
	bt.row = nil
	return r, nil
}

// EndTable closes the current table and moves the cursor after it.
func (b *Builder) EndTable() (*Table, error) {
	bt, err := b.currentTable()
	if err != nil {
		return nil, err
	}
	if bt.row != nil {
		bt.row = nil
	}
	b.tables = b.tables[:len(b.tables)-1]
	b.para, b.cursor = bt.after, nil
	return bt.table, nil
}
