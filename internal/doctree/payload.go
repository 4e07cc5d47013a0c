package doctree

import (
	"bytes"
	"fmt"
	"time"
)

// Section is a run of content sharing page setup and headers/footers.
type Section struct {
	nodeLink
	PageSetup PageSetup
}

func NewSection(doc *Document) *Section {
	s := &Section{PageSetup: DefaultPageSetup()}
	newNode(doc, s)
	return s
}

func (*Section) kind() NodeType { return SectionNode }
func (s *Section) copyPayload() Payload {
	c := *s
	c.nodeLink = nodeLink{}
	return &c
}

// Body returns the section body, or nil.
func (s *Section) Body() *Body {
	for c := s.firstChild; c != nil; c = c.nextSibling {
		if b, ok := c.data.(*Body); ok {
			return b
		}
	}
	return nil
}

// EnsureBody returns the section body, creating an empty one if needed.
func (s *Section) EnsureBody() *Body {
	if b := s.Body(); b != nil {
		return b
	}
	b := NewBody(s.doc)
	s.attach(b.Node, s.firstChild)
	return b
}

// HeaderFooter returns the header or footer of the given kind, or nil.
func (s *Section) HeaderFooter(t HeaderFooterType) *HeaderFooter {
	for c := s.firstChild; c != nil; c = c.nextSibling {
		if hf, ok := c.data.(*HeaderFooter); ok && hf.HeaderFooterType == t {
			return hf
		}
	}
	return nil
}

// HeadersFooters returns every header and footer of the section.
func (s *Section) HeadersFooters() []*HeaderFooter {
	var out []*HeaderFooter
	for c := s.firstChild; c != nil; c = c.nextSibling {
		if hf, ok := c.data.(*HeaderFooter); ok {
			out = append(out, hf)
		}
	}
	return out
}

// Body is the main story of a section.
type Body struct {
	nodeLink
}

func NewBody(doc *Document) *Body {
	b := &Body{}
	newNode(doc, b)
	return b
}

func (*Body) kind() NodeType         { return BodyNode }
func (b *Body) copyPayload() Payload { return &Body{} }

// Paragraphs returns the direct paragraph children.
func (b *Body) Paragraphs() []*Paragraph { return ChildrenOf[*Paragraph](b.Node) }

// HeaderFooterType identifies a header or footer slot.
type HeaderFooterType int

const (
	HeaderPrimary HeaderFooterType = iota
	HeaderFirst
	HeaderEven
	FooterPrimary
	FooterFirst
	FooterEven
)

func (t HeaderFooterType) IsHeader() bool { return t <= HeaderEven }

var headerFooterTypeNames = [...]string{"HeaderPrimary", "HeaderFirst", "HeaderEven", "FooterPrimary", "FooterFirst", "FooterEven"}

func (t HeaderFooterType) String() string {
	if t < 0 || int(t) >= len(headerFooterTypeNames) {
		return fmt.Sprintf("HeaderFooterType(%d)", int(t))
	}
	return headerFooterTypeNames[t]
}

// HeaderFooter is a header or footer story.
type HeaderFooter struct {
	nodeLink
	HeaderFooterType HeaderFooterType
	// LinkToPrevious means the slot inherits the previous section's story.
	LinkToPrevious bool
}

func NewHeaderFooter(doc *Document, t HeaderFooterType) *HeaderFooter {
	hf := &HeaderFooter{HeaderFooterType: t}
	newNode(doc, hf)
	return hf
}

func (*HeaderFooter) kind() NodeType { return HeaderFooterNode }
func (h *HeaderFooter) copyPayload() Payload {
	return &HeaderFooter{HeaderFooterType: h.HeaderFooterType, LinkToPrevious: h.LinkToPrevious}
}

// ListFormat attaches a paragraph to a list level.
type ListFormat struct {
	List  ListHandle
	Level int
}

// Paragraph is a block of inline content terminated by a paragraph mark.
type Paragraph struct {
	nodeLink
	Style      StyleHandle
	Format     ParaFormat
	ListFormat ListFormat

	rev    RevisionMark
	fmtRev *FormatRevision[ParaFormat]
}

func NewParagraph(doc *Document) *Paragraph {
	p := &Paragraph{}
	newNode(doc, p)
	return p
}

func (*Paragraph) kind() NodeType { return ParagraphNode }
func (p *Paragraph) copyPayload() Payload {
	c := *p
	c.nodeLink = nodeLink{}
	c.fmtRev = p.fmtRev.clone()
	return &c
}

func (p *Paragraph) IsListItem() bool { return p.ListFormat.List != 0 }

// Runs returns the direct run children.
func (p *Paragraph) Runs() []*Run { return ChildrenOf[*Run](p.Node) }

// Revision returns the revision on the paragraph mark.
func (p *Paragraph) Revision() RevisionMark     { return p.rev }
func (p *Paragraph) SetRevision(m RevisionMark) { p.rev = m }

func (p *Paragraph) FormatRevision() *FormatRevision[ParaFormat] { return p.fmtRev.clone() }
func (p *Paragraph) SetFormatRevision(r *FormatRevision[ParaFormat]) {
	p.fmtRev = r.clone()
}

// SetFormat replaces the paragraph formatting, recording a format
// change while the document tracks revisions.
func (p *Paragraph) SetFormat(f ParaFormat) {
	if t := p.doc.tracking; t != nil && p.InDocument() && p.fmtRev == nil && p.rev.Type != Insertion {
		p.fmtRev = &FormatRevision[ParaFormat]{Author: t.author, Date: t.date, Old: p.Format}
	}
	p.Format = f
}

// Run is a span of text sharing one character format.
type Run struct {
	nodeLink
	Format CharFormat
	Style  StyleHandle

	text   string
	rev    RevisionMark
	fmtRev *FormatRevision[CharFormat]
}

func NewRun(doc *Document, text string) *Run {
	r := &Run{text: text}
	newNode(doc, r)
	return r
}

func (*Run) kind() NodeType { return RunNode }
func (r *Run) copyPayload() Payload {
	c := *r
	c.nodeLink = nodeLink{}
	c.fmtRev = r.fmtRev.clone()
	return &c
}

func (r *Run) Text() string                                { return r.text }
func (r *Run) Revision() RevisionMark                      { return r.rev }
func (r *Run) SetRevision(m RevisionMark)                  { r.rev = m }
func (r *Run) IsDeleted() bool                             { return r.rev.Type == Deletion || r.rev.Type == MoveFrom }
func (r *Run) FormatRevision() *FormatRevision[CharFormat] { return r.fmtRev.clone() }
func (r *Run) SetFormatRevision(f *FormatRevision[CharFormat]) {
	r.fmtRev = f.clone()
}

// SetText replaces the run text. While tracking, the old run is marked
// deleted and a new inserted run carrying the text follows it.
func (r *Run) SetText(s string) {
	t := r.doc.tracking
	if t == nil || !r.InDocument() || r.rev.Type == Insertion {
		r.text = s
		return
	}
	if r.text == s {
		return
	}
	nr := NewRun(r.doc, s)
	nr.Format = r.Format
	nr.Style = r.Style
	nr.rev = RevisionMark{Type: Insertion, Author: t.author, Date: t.date}
	r.parent.attach(nr.Node, r.nextSibling)
	if r.rev.Type == 0 {
		r.rev = RevisionMark{Type: Deletion, Author: t.author, Date: t.date}
	}
}

// SetFormat replaces the run formatting, recording a format change while
// the document tracks revisions.
func (r *Run) SetFormat(f CharFormat) {
	if t := r.doc.tracking; t != nil && r.InDocument() && r.fmtRev == nil && r.rev.Type != Insertion {
		r.fmtRev = &FormatRevision[CharFormat]{Author: t.author, Date: t.date, Old: r.Format}
	}
	r.Format = f
}

// Table is a grid of rows.
type Table struct {
	nodeLink
	Style  StyleHandle
	Format TableFormat
}

func NewTable(doc *Document) *Table {
	t := &Table{}
	newNode(doc, t)
	return t
}

func (*Table) kind() NodeType { return TableNode }
func (t *Table) copyPayload() Payload {
	return &Table{Style: t.Style, Format: t.Format}
}

func (t *Table) Rows() []*Row { return ChildrenOf[*Row](t.Node) }

// Row is a table row.
type Row struct {
	nodeLink
	// HeadingFormat repeats the row at the top of each page.
	HeadingFormat bool
	// Height in points, 0 for auto.
	Height float64

	rev RevisionMark
}

func NewRow(doc *Document) *Row {
	r := &Row{}
	newNode(doc, r)
	return r
}

func (*Row) kind() NodeType { return RowNode }
func (r *Row) copyPayload() Payload {
	return &Row{HeadingFormat: r.HeadingFormat, Height: r.Height, rev: r.rev}
}

func (r *Row) Cells() []*Cell             { return ChildrenOf[*Cell](r.Node) }
func (r *Row) Revision() RevisionMark     { return r.rev }
func (r *Row) SetRevision(m RevisionMark) { r.rev = m }

// CellMerge describes a cell's participation in a merged range.
type CellMerge int

const (
	MergeNone CellMerge = iota
	// MergeFirst starts a merged range.
	MergeFirst
	// MergePrevious continues the range started above (vertical) or to
	// the left (horizontal).
	MergePrevious
)

var cellMergeNames = [...]string{"none", "first", "previous"}

func (m CellMerge) String() string {
	if m < 0 || int(m) >= len(cellMergeNames) {
		return fmt.Sprintf("CellMerge(%d)", int(m))
	}
	return cellMergeNames[m]
}

// Cell is a table cell.
type Cell struct {
	nodeLink
	VerticalMerge   CellMerge
	HorizontalMerge CellMerge
	// Width in points, 0 for auto.
	Width   float64
	Shading string
}

func NewCell(doc *Document) *Cell {
	c := &Cell{}
	newNode(doc, c)
	return c
}

func (*Cell) kind() NodeType { return CellNode }
func (c *Cell) copyPayload() Payload {
	cp := *c
	cp.nodeLink = nodeLink{}
	return &cp
}

func (c *Cell) Paragraphs() []*Paragraph { return ChildrenOf[*Paragraph](c.Node) }

// FieldStart opens a field.
type FieldStart struct {
	nodeLink
	FieldType FieldType
	Locked    bool
	Dirty     bool

	rev RevisionMark
}

func NewFieldStart(doc *Document, t FieldType) *FieldStart {
	f := &FieldStart{FieldType: t}
	newNode(doc, f)
	return f
}

func (*FieldStart) kind() NodeType { return FieldStartNode }
func (f *FieldStart) copyPayload() Payload {
	return &FieldStart{FieldType: f.FieldType, Locked: f.Locked, Dirty: f.Dirty, rev: f.rev}
}
func (f *FieldStart) Revision() RevisionMark     { return f.rev }
func (f *FieldStart) SetRevision(m RevisionMark) { f.rev = m }

// FieldSeparator divides a field code from its result.
type FieldSeparator struct {
	nodeLink
	FieldType FieldType

	rev RevisionMark
}

func NewFieldSeparator(doc *Document, t FieldType) *FieldSeparator {
	f := &FieldSeparator{FieldType: t}
	newNode(doc, f)
	return f
}

func (*FieldSeparator) kind() NodeType { return FieldSeparatorNode }
func (f *FieldSeparator) copyPayload() Payload {
	return &FieldSeparator{FieldType: f.FieldType, rev: f.rev}
}
func (f *FieldSeparator) Revision() RevisionMark     { return f.rev }
func (f *FieldSeparator) SetRevision(m RevisionMark) { f.rev = m }

// FieldEnd closes a field.
type FieldEnd struct {
	nodeLink
	FieldType    FieldType
	HasSeparator bool

	rev RevisionMark
}

func NewFieldEnd(doc *Document, t FieldType, hasSeparator bool) *FieldEnd {
	f := &FieldEnd{FieldType: t, HasSeparator: hasSeparator}
	newNode(doc, f)
	return f
}

func (*FieldEnd) kind() NodeType { return FieldEndNode }
func (f *FieldEnd) copyPayload() Payload {
	return &FieldEnd{FieldType: f.FieldType, HasSeparator: f.HasSeparator, rev: f.rev}
}
func (f *FieldEnd) Revision() RevisionMark     { return f.rev }
func (f *FieldEnd) SetRevision(m RevisionMark) { f.rev = m }

// BookmarkStart marks where a named bookmark begins.
type BookmarkStart struct {
	nodeLink
	Name string
}

func NewBookmarkStart(doc *Document, name string) *BookmarkStart {
	b := &BookmarkStart{Name: name}
	newNode(doc, b)
	return b
}

func (*BookmarkStart) kind() NodeType         { return BookmarkStartNode }
func (b *BookmarkStart) copyPayload() Payload { return &BookmarkStart{Name: b.Name} }

// BookmarkEnd marks where a named bookmark ends.
type BookmarkEnd struct {
	nodeLink
	Name string
}

func NewBookmarkEnd(doc *Document, name string) *BookmarkEnd {
	b := &BookmarkEnd{Name: name}
	newNode(doc, b)
	return b
}

func (*BookmarkEnd) kind() NodeType         { return BookmarkEndNode }
func (b *BookmarkEnd) copyPayload() Payload { return &BookmarkEnd{Name: b.Name} }

// Comment is an annotation anchored inline; its children are paragraphs.
type Comment struct {
	nodeLink
	ID      int
	Author  string
	Initial string
	Date    time.Time
}

// NewComment creates a comment with a document-unique ID.
func NewComment(doc *Document, author, initial string, date time.Time) *Comment {
	c := &Comment{ID: doc.nextCommentID(), Author: author, Initial: initial, Date: date}
	newNode(doc, c)
	return c
}

func (*Comment) kind() NodeType { return CommentNode }
func (c *Comment) copyPayload() Payload {
	cp := *c
	cp.nodeLink = nodeLink{}
	return &cp
}

// CommentRangeStart opens the text range a comment refers to.
type CommentRangeStart struct {
	nodeLink
	ID int
}

func NewCommentRangeStart(doc *Document, id int) *CommentRangeStart {
	c := &CommentRangeStart{ID: id}
	newNode(doc, c)
	return c
}

func (*CommentRangeStart) kind() NodeType         { return CommentRangeStartNode }
func (c *CommentRangeStart) copyPayload() Payload { return &CommentRangeStart{ID: c.ID} }

// CommentRangeEnd closes the text range a comment refers to.
type CommentRangeEnd struct {
	nodeLink
	ID int
}

func NewCommentRangeEnd(doc *Document, id int) *CommentRangeEnd {
	c := &CommentRangeEnd{ID: id}
	newNode(doc, c)
	return c
}

func (*CommentRangeEnd) kind() NodeType         { return CommentRangeEndNode }
func (c *CommentRangeEnd) copyPayload() Payload { return &CommentRangeEnd{ID: c.ID} }

// ShapeKind distinguishes shape variants.
type ShapeKind int

const (
	ShapeImage ShapeKind = iota
	ShapeTextBox
	ShapeHorizontalRule
)

var shapeKindNames = [...]string{"image", "textbox", "hr"}

func (k ShapeKind) String() string {
	if k < 0 || int(k) >= len(shapeKindNames) {
		return fmt.Sprintf("ShapeKind(%d)", int(k))
	}
	return shapeKindNames[k]
}

// ImageData is the binary payload of an image shape.
type ImageData struct {
	Data []byte
	Type ImageType
	// SourceURL is set for linked images whose bytes were not loaded.
	SourceURL string
}

// Shape is an inline drawing object: an image, a text box (whose
// children are paragraphs) or a horizontal rule. Sizes are in points.
type Shape struct {
	nodeLink
	ShapeKind ShapeKind
	Width     float64
	Height    float64
	Name      string
	AltText   string
	Image     *ImageData

	rev RevisionMark
}

func NewShape(doc *Document, k ShapeKind) *Shape {
	s := &Shape{ShapeKind: k}
	newNode(doc, s)
	return s
}

func (*Shape) kind() NodeType { return ShapeNode }
func (s *Shape) copyPayload() Payload {
	c := *s
	c.nodeLink = nodeLink{}
	if s.Image != nil {
		img := *s.Image
		img.Data = bytes.Clone(s.Image.Data)
		c.Image = &img
	}
	return &c
}
func (s *Shape) Revision() RevisionMark     { return s.rev }
func (s *Shape) SetRevision(m RevisionMark) { s.rev = m }
func (s *Shape) HasImage() bool             { return s.Image != nil && (len(s.Image.Data) > 0 || s.Image.SourceURL != "") }

// FootnoteKind distinguishes footnotes from endnotes.
type FootnoteKind int

const (
	FootnoteKindFootnote FootnoteKind = iota
	FootnoteKindEndnote
)

// Footnote is a note anchored inline; its children are paragraphs.
type Footnote struct {
	nodeLink
	FootnoteKind FootnoteKind
	// ReferenceMark is a custom mark; empty means auto-numbered.
	ReferenceMark string
}

func NewFootnote(doc *Document, k FootnoteKind) *Footnote {
	f := &Footnote{FootnoteKind: k}
	newNode(doc, f)
	return f
}

func (*Footnote) kind() NodeType { return FootnoteNode }
func (f *Footnote) copyPayload() Payload {
	return &Footnote{FootnoteKind: f.FootnoteKind, ReferenceMark: f.ReferenceMark}
}

// ChildrenOf returns the direct children of n whose payload is T.
func ChildrenOf[T Payload](n *Node) []T {
	var out []T
	for c := n.firstChild; c != nil; c = c.nextSibling {
		if p, ok := c.data.(T); ok {
			out = append(out, p)
		}
	}
	return out
}

// DescendantsOf returns every descendant of n whose payload is T, in
// document order.
func DescendantsOf[T Payload](n *Node) []T {
	var out []T
	for d := range n.Descendants() {
		if p, ok := d.data.(T); ok {
			out = append(out, p)
		}
	}
	return out
}

func as[T Payload](n *Node) (T, error) {
	p, ok := n.data.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: node is %s", ErrTypeMismatch, n.typ)
	}
	return p, nil
}

func (n *Node) AsSection() (*Section, error)           { return as[*Section](n) }
func (n *Node) AsBody() (*Body, error)                 { return as[*Body](n) }
func (n *Node) AsHeaderFooter() (*HeaderFooter, error) { return as[*HeaderFooter](n) }
func (n *Node) AsParagraph() (*Paragraph, error)       { return as[*Paragraph](n) }
func (n *Node) AsRun() (*Run, error)                   { return as[*Run](n) }
func (n *Node) AsTable() (*Table, error)               { return as[*Table](n) }
func (n *Node) AsRow() (*Row, error)                   { return as[*Row](n) }
func (n *Node) AsCell() (*Cell, error)                 { return as[*Cell](n) }
func (n *Node) AsFieldStart() (*FieldStart, error)     { return as[*FieldStart](n) }
func (n *Node) AsFieldSeparator() (*FieldSeparator, error) {
	return as[*FieldSeparator](n)
}
func (n *Node) AsFieldEnd() (*FieldEnd, error)           { return as[*FieldEnd](n) }
func (n *Node) AsBookmarkStart() (*BookmarkStart, error) { return as[*BookmarkStart](n) }
func (n *Node) AsBookmarkEnd() (*BookmarkEnd, error)     { return as[*BookmarkEnd](n) }
func (n *Node) AsComment() (*Comment, error)             { return as[*Comment](n) }
func (n *Node) AsShape() (*Shape, error)                 { return as[*Shape](n) }
func (n *Node) AsFootnote() (*Footnote, error)           { return as[*Footnote](n) }
