package ooxml

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

// reader builds a document from the parts of one package or WordML
// file. Errors from deep inside the walk are parked in err and reported
// once the walk finishes.
type reader struct {
	flavor
	ctx  context.Context
	doc  *doctree.Document
	pkg  *opcPackage
	opts codec.LoadOptions
	log  *slog.Logger

	// part and rels describe the story being read; relationship IDs
	// resolve against them.
	part string
	rels *Relationships

	styleIDs  map[string]doctree.StyleHandle
	numIDs    map[string]doctree.ListHandle
	notes     map[doctree.FootnoteKind]map[string]story
	comments  map[string]story
	bookmarks map[string]string
	moveNames map[string]int
	moveID    int

	fields   []*openField
	pending  []*doctree.Node
	lastPara *doctree.Paragraph
	warned   map[string]bool
	err      error
}

// story is a note or comment body waiting to be attached where it is
// referenced.
type story struct {
	e    *element
	part string
	rels *Relationships
}

type openField struct {
	start     *doctree.FieldStart
	code      strings.Builder
	separated bool
}

// settle fixes the field type once the code is known.
func (f *openField) settle() {
	if f.start.FieldType == doctree.FieldUnknown {
		f.start.FieldType = doctree.FieldTypeFromCode(f.code.String())
	}
}

func newReader(ctx context.Context, opts codec.LoadOptions, fl flavor) *reader {
	return &reader{
		flavor:    fl,
		ctx:       ctx,
		doc:       doctree.NewBlank(),
		opts:      opts,
		log:       opts.Log(),
		rels:      &Relationships{},
		styleIDs:  make(map[string]doctree.StyleHandle),
		numIDs:    make(map[string]doctree.ListHandle),
		notes:     map[doctree.FootnoteKind]map[string]story{doctree.FootnoteKindFootnote: {}, doctree.FootnoteKindEndnote: {}},
		comments:  make(map[string]story),
		bookmarks: make(map[string]string),
		moveNames: make(map[string]int),
		warned:    make(map[string]bool),
	}
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// warnOnce logs a lossy conversion the first time it happens.
func (r *reader) warnOnce(msg string, args ...any) {
	if r.warned[msg] {
		return
	}
	r.warned[msg] = true
	r.log.Warn(msg, args...)
}

func (r *reader) append(parent, child *doctree.Node) {
	if child == nil {
		return
	}
	if err := parent.AppendChild(child); err != nil {
		r.fail(err)
	}
}

// readPackage decodes the main document of an OPC package with the
// parts it relates to.
func readPackage(ctx context.Context, pkg *opcPackage, opts codec.LoadOptions) (*doctree.Document, error) {
	r := newReader(ctx, opts, flavor{})
	r.pkg = pkg
	pkgRels, err := pkg.rels("")
	if err != nil {
		return nil, err
	}
	main, ok := pkgRels.first(relOfficeDocument)
	if !ok {
		return nil, codec.Corruptf("package has no main document relationship")
	}
	data, name, ok := pkg.target("", main)
	if !ok {
		return nil, codec.Corruptf("main document part %s is missing", name)
	}
	for _, rel := range pkgRels.Relationship {
		switch relKind(rel.Type) {
		case relSignature:
			r.log.Warn("dropping digital signature", "part", rel.Target)
		case relCoreProps:
			r.readRelated("", rel, r.readCoreProps)
		case relExtendedProps:
			r.readRelated("", rel, r.readAppProps)
		case relCustomProps:
			r.readRelated("", rel, r.readCustomProps)
		}
	}
	for n := range pkg.parts {
		if strings.HasPrefix(n, "_xmlsignatures/") {
			r.warnOnce("dropping digital signature", "part", n)
		}
	}

	docRels, err := pkg.rels(name)
	if err != nil {
		return nil, err
	}
	// Styles come before numbering and the body so references resolve.
	for _, kind := range []string{relStyles, relNumbering, relSettings, relFootnotes, relEndnotes, relComments, relVBAProject} {
		rel, ok := docRels.first(kind)
		if !ok {
			continue
		}
		switch kind {
		case relStyles:
			r.readRelated(name, rel, r.readStyles)
		case relNumbering:
			r.readRelated(name, rel, r.readNumbering)
		case relSettings:
			r.readRelated(name, rel, r.readSettings)
		case relFootnotes, relEndnotes:
			k := doctree.FootnoteKindFootnote
			if kind == relEndnotes {
				k = doctree.FootnoteKindEndnote
			}
			r.readRelated(name, rel, func(root *element) { r.collectNotes(k, resolve(name, rel.Target), root) })
		case relComments:
			r.readRelated(name, rel, func(root *element) { r.collectComments(resolve(name, rel.Target), root) })
		case relVBAProject:
			r.log.Warn("dropping macros", "part", rel.Target)
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	root, err := parseXML(data)
	if err != nil {
		return nil, codec.Corruptf("%s: %v", name, err)
	}
	if !root.is("w", "document") {
		return nil, codec.Corruptf("%s: root element is %s", name, root.name)
	}
	r.part, r.rels = name, docRels
	if err := r.readBody(root.child("w", "body")); err != nil {
		return nil, err
	}
	return r.doc, nil
}

// readRelated parses the part a relationship points at and hands the
// root element to fn.
func (r *reader) readRelated(source string, rel Relationship, fn func(*element)) {
	data, name, ok := r.pkg.target(source, rel)
	if !ok {
		r.log.Warn("related part is missing", "part", name)
		return
	}
	root, err := parseXML(data)
	if err != nil {
		r.fail(codec.Corruptf("%s: %v", name, err))
		return
	}
	prevPart, prevRels := r.part, r.rels
	r.part = name
	if r.rels, err = r.pkg.rels(name); err != nil {
		r.fail(err)
		r.rels = &Relationships{}
	}
	fn(root)
	r.part, r.rels = prevPart, prevRels
}

func (r *reader) collectNotes(k doctree.FootnoteKind, part string, root *element) {
	for _, e := range root.children {
		if e.name != "footnote" && e.name != "endnote" {
			continue
		}
		if t := e.attrOr("w", "type", "normal"); t != "normal" {
			continue
		}
		r.notes[k][e.attrOr("w", "id", "")] = story{e: e, part: part, rels: r.rels}
	}
}

func (r *reader) collectComments(part string, root *element) {
	for _, e := range root.all("w", "comment") {
		r.comments[e.attrOr("w", "id", "")] = story{e: e, part: part, rels: r.rels}
	}
}

// inStory reads a note, comment or header body with its own part
// context. Fields cannot cross stories, so open ones are set aside.
func (r *reader) inStory(part string, rels *Relationships, parent *doctree.Node, body *element) {
	prevPart, prevRels, prevFields, prevPending, prevLast := r.part, r.rels, r.fields, r.pending, r.lastPara
	r.part, r.rels, r.fields, r.pending, r.lastPara = part, rels, nil, nil, nil
	r.readBlocks(parent, body)
	r.closeFields()
	r.part, r.rels, r.fields, r.pending, r.lastPara = prevPart, prevRels, prevFields, prevPending, prevLast
}

func (r *reader) addSection() *doctree.Section {
	s := doctree.NewSection(r.doc)
	r.append(r.doc.Node, s.Node)
	r.append(s.Node, doctree.NewBody(r.doc).Node)
	return s
}

// readBody splits the body into sections. A sectPr closes the section
// it belongs to: inside a paragraph it ends that paragraph's section,
// as the last body child it describes the final section.
func (r *reader) readBody(body *element) error {
	if body == nil {
		return codec.Corruptf("document has no body")
	}
	sec := r.addSection()
	closed := false
	var walk func(parent *element) error
	walk = func(parent *element) error {
		for _, c := range parent.children {
			if err := r.ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", codec.ErrCanceled, err)
			}
			switch {
			case c.is("wx", "sect"), c.is("wx", "sub-section"):
				if err := walk(c); err != nil {
					return err
				}
				continue
			case c.is("w", "sectPr"):
				if closed {
					sec = r.addSection()
				}
				r.readSectPr(sec, c)
				closed = true
				continue
			}
			if closed {
				sec, closed = r.addSection(), false
			}
			r.readBlock(sec.Body().Node, c)
			if sp := c.child("w", "pPr").child("w", "sectPr"); c.is("w", "p") && sp != nil {
				r.readSectPr(sec, sp)
				closed = true
			}
		}
		return nil
	}
	if err := walk(body); err != nil {
		return err
	}
	r.flushPending(sec.Body().Node)
	r.closeFields()
	for _, s := range r.doc.Sections() {
		ensureParagraph(r.doc, s.Body().Node)
	}
	return r.err
}

func ensureParagraph(doc *doctree.Document, n *doctree.Node) {
	if n.LastChild() == nil || n.LastChild().Type() != doctree.ParagraphNode {
		// Cannot fail: every container passed here accepts paragraphs.
		_ = n.AppendChild(doctree.NewParagraph(doc).Node)
	}
}

var sectionStarts = map[string]doctree.SectionStart{
	"nextPage":   doctree.SectionNewPage,
	"continuous": doctree.SectionContinuous,
	"evenPage":   doctree.SectionEvenPage,
	"oddPage":    doctree.SectionOddPage,
	"nextColumn": doctree.SectionNewColumn,
}

var headerFooterTypes = map[string][2]doctree.HeaderFooterType{
	"default": {doctree.HeaderPrimary, doctree.FooterPrimary},
	"odd":     {doctree.HeaderPrimary, doctree.FooterPrimary},
	"first":   {doctree.HeaderFirst, doctree.FooterFirst},
	"even":    {doctree.HeaderEven, doctree.FooterEven},
}

func (r *reader) readSectPr(sec *doctree.Section, e *element) {
	ps := doctree.DefaultPageSetup()
	if sz := e.child("w", "pgSz"); sz != nil {
		ps.PageWidth = fromTwips(sz, "w", "w")
		ps.PageHeight = fromTwips(sz, "w", "h")
		if sz.attrOr("w", "orient", "") == "landscape" {
			ps.Orientation = doctree.Landscape
		}
	}
	if m := e.child("w", "pgMar"); m != nil {
		ps.TopMargin = fromTwips(m, "w", "top")
		ps.BottomMargin = fromTwips(m, "w", "bottom")
		ps.LeftMargin = float64(m.intAttr("w", "left", m.intAttr("w", "start", 0))) / 20
		ps.RightMargin = float64(m.intAttr("w", "right", m.intAttr("w", "end", 0))) / 20
		ps.HeaderDistance = fromTwips(m, "w", "header")
		ps.FooterDistance = fromTwips(m, "w", "footer")
	}
	if t, ok := sectionStarts[e.child("w", "type").val()]; ok {
		ps.SectionStart = t
	}
	ps.DifferentFirstPage = onOff(e.child("w", "titlePg"))
	sec.PageSetup = ps

	for _, c := range e.children {
		var isHeader bool
		switch {
		case c.is("w", "headerReference"), c.is("w", "hdr"):
			isHeader = true
		case c.is("w", "footerReference"), c.is("w", "ftr"):
		default:
			continue
		}
		types, ok := headerFooterTypes[c.attrOr("w", "type", "default")]
		if !ok {
			continue
		}
		t := types[1]
		if isHeader {
			t = types[0]
		}
		if sec.HeaderFooter(t) != nil {
			continue
		}
		hf := doctree.NewHeaderFooter(r.doc, t)
		if c.name == "hdr" || c.name == "ftr" {
			r.inStory(r.part, r.rels, hf.Node, c)
		} else {
			rel, ok := r.rels.byID(c.attrOr("r", "id", ""))
			if !ok {
				r.log.Warn("header or footer relationship is missing", "id", c.attrOr("r", "id", ""))
				continue
			}
			data, name, ok := r.pkg.target(r.part, rel)
			if !ok {
				r.log.Warn("header or footer part is missing", "part", name)
				continue
			}
			root, err := parseXML(data)
			if err != nil {
				r.fail(codec.Corruptf("%s: %v", name, err))
				continue
			}
			rels, err := r.pkg.rels(name)
			if err != nil {
				r.fail(err)
				continue
			}
			r.inStory(name, rels, hf.Node, root)
		}
		ensureParagraph(r.doc, hf.Node)
		r.append(sec.Node, hf.Node)
	}
}

// readBlocks reads the block content of a container element.
func (r *reader) readBlocks(parent *doctree.Node, container *element) {
	if container == nil {
		return
	}
	for _, c := range container.children {
		r.readBlock(parent, c)
	}
	r.flushPending(parent)
}

func (r *reader) readBlock(parent *doctree.Node, e *element) {
	switch {
	case e.is("w", "p"):
		r.readParagraph(parent, e)
	case e.is("w", "tbl"):
		r.readTable(parent, e)
	case e.is("w", "sdt"):
		for _, c := range e.child("w", "sdtContent").children {
			r.readBlock(parent, c)
		}
	case e.is("w", "customXml"), e.is("w", "ins"), e.is("w", "del"), e.is("w", "moveFrom"), e.is("w", "moveTo"):
		for _, c := range e.children {
			r.readBlock(parent, c)
		}
	case e.is("mc", "AlternateContent"):
		for _, c := range alternate(e).children {
			r.readBlock(parent, c)
		}
	case e.is("w", "altChunk"):
		r.warnOnce("dropping embedded alternative-format content")
	case e.ns == "w" && strings.HasSuffix(e.name, "Start"), e.ns == "w" && strings.HasSuffix(e.name, "End"), e.is("aml", "annotation"):
		// Range markers between blocks move into the next paragraph.
		holder := doctree.NewParagraph(r.doc)
		r.readInlines(holder, []*element{e}, doctree.RevisionMark{})
		for _, n := range holder.ChildNodes() {
			if n.Remove() == nil {
				r.pending = append(r.pending, n)
			}
		}
	}
}

// flushPending attaches leftover range markers to the last paragraph of
// parent.
func (r *reader) flushPending(parent *doctree.Node) {
	if len(r.pending) == 0 {
		return
	}
	ensureParagraph(r.doc, parent)
	last := parent.LastChild()
	for _, n := range r.pending {
		r.append(last, n)
	}
	r.pending = nil
}

// closeFields ends fields left open at the end of a story.
func (r *reader) closeFields() {
	for len(r.fields) > 0 && r.lastPara != nil {
		f := r.fields[len(r.fields)-1]
		r.fields = r.fields[:len(r.fields)-1]
		f.settle()
		r.log.Warn("closing unterminated field", "field", f.start.FieldType)
		r.append(r.lastPara.Node, doctree.NewFieldEnd(r.doc, f.start.FieldType, f.separated).Node)
	}
	r.fields = nil
}

// alternate picks the branch of mc:AlternateContent to read. The
// fallback uses markup every consumer understands.
func alternate(e *element) *element {
	if fb := e.child("mc", "Fallback"); fb != nil {
		return fb
	}
	return e.child("mc", "Choice")
}

func (r *reader) markOf(e *element, t doctree.RevisionType) doctree.RevisionMark {
	m := doctree.RevisionMark{
		Type:   t,
		Author: e.attrOr("w", "author", ""),
		Date:   parseW3CDTF(e.attrOr("w", "date", "")),
	}
	if t == doctree.MoveFrom || t == doctree.MoveTo {
		m.MoveID = r.moveID
	}
	return m
}

// markIn finds an insert, delete or move mark among the children of a
// property element such as a paragraph mark's rPr or a row's trPr.
func (r *reader) markIn(props *element) (doctree.RevisionMark, bool) {
	for _, k := range []struct {
		name string
		t    doctree.RevisionType
	}{{"ins", doctree.Insertion}, {"del", doctree.Deletion}, {"moveFrom", doctree.MoveFrom}, {"moveTo", doctree.MoveTo}} {
		if e := props.child("w", k.name); e != nil {
			return r.markOf(e, k.t), true
		}
	}
	return doctree.RevisionMark{}, false
}

func (r *reader) readParagraph(parent *doctree.Node, e *element) {
	p := doctree.NewParagraph(r.doc)
	r.append(parent, p.Node)
	for _, n := range r.pending {
		r.append(p.Node, n)
	}
	r.pending = nil
	r.lastPara = p

	ppr := e.child("w", "pPr")
	p.Style = r.style(ppr.child("w", "pStyle"))
	p.Format = readPPrFormat(ppr)
	if np := ppr.child("w", "numPr"); np != nil {
		if h, ok := r.numIDs[np.child("w", "numId").val()]; ok {
			p.ListFormat = doctree.ListFormat{List: h, Level: np.child("w", "ilvl").intAttr("w", "val", 0)}
		}
	}
	if lp := ppr.child("w", "listPr"); lp != nil {
		if h, ok := r.numIDs[lp.child("w", "ilfo").val()]; ok {
			p.ListFormat = doctree.ListFormat{List: h, Level: lp.child("w", "ilvl").intAttr("w", "val", 0)}
		}
	}
	if m, ok := r.markIn(ppr.child("w", "rPr")); ok {
		p.SetRevision(m)
	}
	if ch := ppr.child("w", "pPrChange"); ch != nil {
		p.SetFormatRevision(&doctree.FormatRevision[doctree.ParaFormat]{
			Author: ch.attrOr("w", "author", ""),
			Date:   parseW3CDTF(ch.attrOr("w", "date", "")),
			Old:    readPPrFormat(ch.child("w", "pPr")),
		})
	}
	r.readInlines(p, e.children, doctree.RevisionMark{})
}

func (r *reader) readInlines(p *doctree.Paragraph, children []*element, mark doctree.RevisionMark) {
	for _, c := range children {
		switch {
		case c.is("w", "r"):
			r.readRun(p, c, mark)
		case c.is("w", "ins"):
			r.readInlines(p, c.children, r.markOf(c, doctree.Insertion))
		case c.is("w", "del"):
			r.readInlines(p, c.children, r.markOf(c, doctree.Deletion))
		case c.is("w", "moveFrom"):
			r.readInlines(p, c.children, r.markOf(c, doctree.MoveFrom))
		case c.is("w", "moveTo"):
			r.readInlines(p, c.children, r.markOf(c, doctree.MoveTo))
		case c.is("w", "hyperlink"):
			target := ""
			if rel, ok := r.rels.byID(c.attrOr("r", "id", "")); ok {
				target = rel.Target
			}
			r.readHyperlink(p, c, target, c.attrOr("w", "anchor", ""), mark)
		case c.is("w", "hlink"):
			r.readHyperlink(p, c, c.attrOr("w", "dest", ""), c.attrOr("w", "bookmark", ""), mark)
		case c.is("w", "fldSimple"):
			r.readSimpleField(p, c, mark)
		case c.is("w", "bookmarkStart"):
			name := c.attrOr("w", "name", "")
			r.bookmarks[c.attrOr("w", "id", "")] = name
			r.append(p.Node, doctree.NewBookmarkStart(r.doc, name).Node)
		case c.is("w", "bookmarkEnd"):
			if name, ok := r.bookmarks[c.attrOr("w", "id", "")]; ok {
				r.append(p.Node, doctree.NewBookmarkEnd(r.doc, name).Node)
			}
		case c.is("w", "commentRangeStart"):
			if id, err := strconv.Atoi(c.attrOr("w", "id", "")); err == nil {
				r.append(p.Node, doctree.NewCommentRangeStart(r.doc, id).Node)
			}
		case c.is("w", "commentRangeEnd"):
			if id, err := strconv.Atoi(c.attrOr("w", "id", "")); err == nil {
				r.append(p.Node, doctree.NewCommentRangeEnd(r.doc, id).Node)
			}
		case c.is("w", "moveFromRangeStart"), c.is("w", "moveToRangeStart"):
			r.moveID = r.moveIDFor(c.attrOr("w", "name", ""))
		case c.is("w", "moveFromRangeEnd"), c.is("w", "moveToRangeEnd"):
			r.moveID = 0
		case c.is("w", "smartTag"), c.is("w", "customXml"), c.is("w", "dir"), c.is("w", "bdo"):
			r.readInlines(p, c.children, mark)
		case c.is("w", "sdt"):
			r.readInlines(p, c.child("w", "sdtContent").children, mark)
		case c.is("mc", "AlternateContent"):
			r.readInlines(p, alternate(c).children, mark)
		case c.is("aml", "annotation"):
			r.readAnnotation(p, c, mark)
		}
	}
}

func (r *reader) moveIDFor(name string) int {
	if id, ok := r.moveNames[name]; ok {
		return id
	}
	id := len(r.moveNames) + 1
	r.moveNames[name] = id
	return id
}

// readAnnotation handles the WordML 2003 annotation wrapper. Bookmarks
// are kept; insertions are read as accepted and deletions dropped.
func (r *reader) readAnnotation(p *doctree.Paragraph, c *element, mark doctree.RevisionMark) {
	id := c.attrOr("aml", "id", "")
	switch c.attrOr("w", "type", "") {
	case "Word.Bookmark.Start":
		name := c.attrOr("w", "name", "")
		r.bookmarks[id] = name
		r.append(p.Node, doctree.NewBookmarkStart(r.doc, name).Node)
	case "Word.Bookmark.End":
		if name, ok := r.bookmarks[id]; ok {
			r.append(p.Node, doctree.NewBookmarkEnd(r.doc, name).Node)
		}
	case "Word.Insertion":
		r.warnOnce("accepting tracked changes in WordML document")
		r.readInlines(p, c.child("aml", "content").children, mark)
	case "Word.Deletion":
		r.warnOnce("accepting tracked changes in WordML document")
	case "Word.Comment", "Word.Comment.Start", "Word.Comment.End":
		r.warnOnce("dropping comments in WordML document")
	}
}

// readHyperlink turns a hyperlink element into a HYPERLINK field whose
// result is the link text.
func (r *reader) readHyperlink(p *doctree.Paragraph, c *element, target, anchor string, mark doctree.RevisionMark) {
	code := " HYPERLINK"
	if target != "" {
		code += ` "` + target + `"`
	}
	if anchor != "" {
		code += ` \l "` + anchor + `"`
	}
	r.wrapField(p, doctree.FieldHyperlink, code+" ", false, mark, func() {
		r.readInlines(p, c.children, mark)
	})
}

func (r *reader) readSimpleField(p *doctree.Paragraph, c *element, mark doctree.RevisionMark) {
	code := c.attrOr("w", "instr", "")
	r.wrapField(p, doctree.FieldTypeFromCode(code), code, onOffAttr(c, "fldLock"), mark, func() {
		r.readInlines(p, c.children, mark)
	})
}

// wrapField writes a complete field around the result produced by body.
func (r *reader) wrapField(p *doctree.Paragraph, t doctree.FieldType, code string, locked bool, mark doctree.RevisionMark, body func()) {
	fs := doctree.NewFieldStart(r.doc, t)
	fs.Locked = locked
	fs.SetRevision(mark)
	r.append(p.Node, fs.Node)
	codeRun := doctree.NewRun(r.doc, code)
	codeRun.SetRevision(mark)
	r.append(p.Node, codeRun.Node)
	sep := doctree.NewFieldSeparator(r.doc, t)
	sep.SetRevision(mark)
	r.append(p.Node, sep.Node)
	body()
	end := doctree.NewFieldEnd(r.doc, t, true)
	end.SetRevision(mark)
	r.append(p.Node, end.Node)
}

var textControl = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func (r *reader) readRun(p *doctree.Paragraph, e *element, mark doctree.RevisionMark) {
	rpr := e.child("w", "rPr")
	format := readRPr(rpr)
	style := r.style(rpr.child("w", "rStyle"))
	var fmtRev *doctree.FormatRevision[doctree.CharFormat]
	if ch := rpr.child("w", "rPrChange"); ch != nil {
		fmtRev = &doctree.FormatRevision[doctree.CharFormat]{
			Author: ch.attrOr("w", "author", ""),
			Date:   parseW3CDTF(ch.attrOr("w", "date", "")),
			Old:    readRPr(ch.child("w", "rPr")),
		}
	}

	var text strings.Builder
	flush := func() {
		if text.Len() == 0 {
			return
		}
		run := doctree.NewRun(r.doc, text.String())
		run.Format = format
		run.Style = style
		run.SetRevision(mark)
		run.SetFormatRevision(fmtRev)
		r.append(p.Node, run.Node)
		text.Reset()
	}
	emit := func(n *doctree.Node) {
		if n == nil {
			return
		}
		flush()
		r.append(p.Node, n)
	}

	var customMark *doctree.Footnote
	for _, c := range expandAlternates(e.children) {
		if c.ns != "w" {
			continue
		}
		switch c.name {
		case "t", "delText":
			if customMark != nil {
				customMark.ReferenceMark = c.text
				customMark = nil
				continue
			}
			text.WriteString(textControl.Replace(c.text))
		case "instrText", "delInstrText":
			text.WriteString(c.text)
			if n := len(r.fields); n > 0 && !r.fields[n-1].separated {
				r.fields[n-1].code.WriteString(c.text)
			}
		case "tab", "ptab":
			text.WriteString(doctree.Tab)
		case "br":
			switch c.attrOr("w", "type", "") {
			case "page":
				text.WriteString(doctree.PageBreak)
			case "column":
				text.WriteString(doctree.ColumnBreak)
			default:
				text.WriteString(doctree.LineBreak)
			}
		case "cr":
			text.WriteString(doctree.LineBreak)
		case "noBreakHyphen":
			text.WriteString(doctree.NonBreakingHyphen)
		case "softHyphen":
			text.WriteString(doctree.OptionalHyphen)
		case "sym":
			if code, err := strconv.ParseUint(c.attrOr("w", "char", ""), 16, 32); err == nil {
				text.WriteRune(rune(code))
			}
		case "fldChar":
			flush()
			r.fieldChar(p, c, mark)
		case "footnoteReference", "endnoteReference":
			k := doctree.FootnoteKindFootnote
			if c.name == "endnoteReference" {
				k = doctree.FootnoteKindEndnote
			}
			fn := r.note(k, c.attrOr("w", "id", ""))
			emit(fn.Node)
			if onOffAttr(c, "customMarkFollows") {
				customMark = fn
			}
		case "footnote", "endnote":
			k := doctree.FootnoteKindFootnote
			if c.name == "endnote" {
				k = doctree.FootnoteKindEndnote
			}
			fn := doctree.NewFootnote(r.doc, k)
			r.inStory(r.part, r.rels, fn.Node, c)
			ensureParagraph(r.doc, fn.Node)
			emit(fn.Node)
		case "commentReference":
			if cm := r.comment(c.attrOr("w", "id", "")); cm != nil {
				emit(cm.Node)
			}
		case "drawing":
			if s := r.drawing(c); s != nil {
				s.SetRevision(mark)
				emit(s.Node)
			}
		case "pict", "object":
			if s := r.pict(c); s != nil {
				s.SetRevision(mark)
				emit(s.Node)
			}
		}
	}
	flush()
}

// expandAlternates replaces each mc:AlternateContent with the children
// of its chosen branch.
func expandAlternates(children []*element) []*element {
	var out []*element
	for _, c := range children {
		if c.is("mc", "AlternateContent") {
			out = append(out, expandAlternates(alternate(c).children)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *reader) fieldChar(p *doctree.Paragraph, c *element, mark doctree.RevisionMark) {
	switch c.attrOr("w", "fldCharType", "") {
	case "begin":
		fs := doctree.NewFieldStart(r.doc, doctree.FieldUnknown)
		fs.Locked = onOffAttr(c, "fldLock")
		fs.Dirty = onOffAttr(c, "dirty")
		fs.SetRevision(mark)
		r.append(p.Node, fs.Node)
		r.fields = append(r.fields, &openField{start: fs})
	case "separate":
		if len(r.fields) == 0 {
			r.warnOnce("dropping field separator without a field")
			return
		}
		f := r.fields[len(r.fields)-1]
		if f.separated {
			return
		}
		f.separated = true
		f.settle()
		sep := doctree.NewFieldSeparator(r.doc, f.start.FieldType)
		sep.SetRevision(mark)
		r.append(p.Node, sep.Node)
	case "end":
		if len(r.fields) == 0 {
			r.warnOnce("dropping field end without a field")
			return
		}
		f := r.fields[len(r.fields)-1]
		r.fields = r.fields[:len(r.fields)-1]
		f.settle()
		end := doctree.NewFieldEnd(r.doc, f.start.FieldType, f.separated)
		end.SetRevision(mark)
		r.append(p.Node, end.Node)
	}
}

func (r *reader) note(k doctree.FootnoteKind, id string) *doctree.Footnote {
	fn := doctree.NewFootnote(r.doc, k)
	if src, ok := r.notes[k][id]; ok {
		r.inStory(src.part, src.rels, fn.Node, src.e)
	} else {
		r.log.Warn("note body is missing", "id", id)
	}
	ensureParagraph(r.doc, fn.Node)
	return fn
}

func (r *reader) comment(id string) *doctree.Comment {
	src, ok := r.comments[id]
	if !ok {
		r.log.Warn("comment body is missing", "id", id)
		return nil
	}
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil
	}
	c := doctree.NewComment(r.doc, src.e.attrOr("w", "author", ""), src.e.attrOr("w", "initials", ""), parseW3CDTF(src.e.attrOr("w", "date", "")))
	c.ID = n
	r.doc.ReserveCommentID(n)
	r.inStory(src.part, src.rels, c.Node, src.e)
	ensureParagraph(r.doc, c.Node)
	return c
}

// drawing reads a DrawingML object: an inline or anchored picture, or a
// text box.
func (r *reader) drawing(c *element) *doctree.Shape {
	obj := c.child("wp", "inline")
	if obj == nil {
		obj = c.child("wp", "anchor")
	}
	if obj == nil {
		return nil
	}
	ext := obj.child("wp", "extent")
	width := fromEMU(ext.attrOr("", "cx", "0"))
	height := fromEMU(ext.attrOr("", "cy", "0"))
	docPr := obj.child("wp", "docPr")

	if tb := obj.find("w", "txbxContent"); tb != nil {
		s := doctree.NewShape(r.doc, doctree.ShapeTextBox)
		s.Width, s.Height = width, height
		s.Name = docPr.attrOr("", "name", "")
		r.inStory(r.part, r.rels, s.Node, tb)
		ensureParagraph(r.doc, s.Node)
		return s
	}
	blip := obj.find("a", "blip")
	if blip == nil {
		r.warnOnce("dropping unsupported drawing")
		return nil
	}
	img, ok := r.image(blip.attrOr("r", "embed", ""), blip.attrOr("r", "link", ""))
	if !ok {
		return nil
	}
	s := doctree.NewShape(r.doc, doctree.ShapeImage)
	s.Width, s.Height = width, height
	s.Name = docPr.attrOr("", "name", "")
	s.AltText = docPr.attrOr("", "descr", "")
	s.Image = img
	return s
}

// image loads embedded image bytes or records a link. With SkipImages
// set images are dropped.
func (r *reader) image(embed, link string) (*doctree.ImageData, bool) {
	if r.opts.SkipImages {
		r.warnOnce("skipping images")
		return nil, false
	}
	if embed != "" {
		rel, ok := r.rels.byID(embed)
		if !ok {
			r.fail(codec.Corruptf("%s: image relationship %s is missing", r.part, embed))
			return nil, false
		}
		if rel.TargetMode != "External" {
			data, name, ok := r.pkg.target(r.part, rel)
			if !ok {
				r.fail(codec.Corruptf("image part %s is missing", name))
				return nil, false
			}
			return imageData(data, name), true
		}
		link = embed
	}
	if link != "" {
		if rel, ok := r.rels.byID(link); ok {
			return &doctree.ImageData{SourceURL: rel.Target, Type: doctree.ImageTypeFromExtension(strings.TrimPrefix(path.Ext(rel.Target), "."))}, true
		}
	}
	return nil, false
}

func imageData(data []byte, name string) *doctree.ImageData {
	t := doctree.DetectImageType(data)
	if t == doctree.ImageUnknown {
		t = doctree.ImageTypeFromExtension(strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")))
	}
	return &doctree.ImageData{Data: data, Type: t}
}

// pict reads the VML forms: images, text boxes and horizontal rules.
func (r *reader) pict(c *element) *doctree.Shape {
	if rect := c.find("v", "rect"); rect != nil && rect.attrOr("o", "hr", "") == "t" {
		s := doctree.NewShape(r.doc, doctree.ShapeHorizontalRule)
		s.Width, s.Height = vmlSize(rect.attrOr("", "style", ""))
		return s
	}
	shape := c.find("v", "shape")
	if shape == nil {
		shape = c.find("v", "rect")
	}
	style := shape.attrOr("", "style", "")
	if tb := c.find("w", "txbxContent"); tb != nil {
		s := doctree.NewShape(r.doc, doctree.ShapeTextBox)
		s.Width, s.Height = vmlSize(style)
		s.Name = shape.attrOr("", "id", "")
		r.inStory(r.part, r.rels, s.Node, tb)
		ensureParagraph(r.doc, s.Node)
		return s
	}
	imgData := c.find("v", "imagedata")
	if imgData == nil {
		r.warnOnce("dropping unsupported VML object")
		return nil
	}
	var img *doctree.ImageData
	if src := imgData.attrOr("", "src", ""); strings.HasPrefix(src, "wordml://") {
		if r.opts.SkipImages {
			r.warnOnce("skipping images")
			return nil
		}
		for _, bin := range c.all("w", "binData") {
			if bin.attrOr("w", "name", "") != src {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(bin.text), ""))
			if err != nil {
				r.fail(codec.Corruptf("image %s: %v", src, err))
				return nil
			}
			img = imageData(data, src)
		}
	} else if id := imgData.attrOr("r", "id", ""); id != "" {
		var ok bool
		if img, ok = r.image(id, ""); !ok {
			return nil
		}
	} else if src != "" && !r.opts.SkipImages {
		img = &doctree.ImageData{SourceURL: src, Type: doctree.ImageTypeFromExtension(strings.TrimPrefix(path.Ext(src), "."))}
	}
	if img == nil {
		return nil
	}
	s := doctree.NewShape(r.doc, doctree.ShapeImage)
	s.Width, s.Height = vmlSize(style)
	s.AltText = imgData.attrOr("o", "title", "")
	s.Image = img
	return s
}

// vmlSize reads width and height from a VML style attribute.
func vmlSize(style string) (w, h float64) {
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "width":
			w = cssLength(v)
		case "height":
			h = cssLength(v)
		}
	}
	return w, h
}

var cssUnits = map[string]float64{"pt": 1, "in": 72, "px": 0.75, "cm": 72 / 2.54, "mm": 72 / 25.4, "pc": 12}

func cssLength(s string) float64 {
	s = strings.TrimSpace(s)
	for unit, scale := range cssUnits {
		if num, ok := strings.CutSuffix(s, unit); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
			if err != nil {
				return 0
			}
			return f * scale
		}
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (r *reader) readTable(parent *doctree.Node, e *element) {
	t := doctree.NewTable(r.doc)
	tblPr := e.child("w", "tblPr")
	t.Style = r.style(tblPr.child("w", "tblStyle"))
	switch tblPr.child("w", "jc").val() {
	case "center":
		t.Format.Alignment = doctree.AlignCenter
	case "right", "end":
		t.Format.Alignment = doctree.AlignRight
	}
	if tw := tblPr.child("w", "tblW"); tw != nil && tw.attrOr("w", "type", "dxa") == "dxa" {
		t.Format.PreferredWidth = fromTwips(tw, "w", "w")
	}
	for _, side := range tblPr.child("w", "tblBorders").children {
		if v := side.val(); v != "" && v != "nil" && v != "none" {
			t.Format.Borders = true
		}
	}
	for _, tr := range collect(e, "tr") {
		r.readRow(t, tr)
	}
	if t.FirstChild() == nil {
		return
	}
	r.append(parent, t.Node)
}

// collect returns the children named name, looking through content
// control and custom XML wrappers.
func collect(e *element, name string) []*element {
	var out []*element
	for _, c := range e.children {
		switch {
		case c.is("w", name):
			out = append(out, c)
		case c.is("w", "sdt"):
			out = append(out, collect(c.child("w", "sdtContent"), name)...)
		case c.is("w", "customXml"):
			out = append(out, collect(c, name)...)
		}
	}
	return out
}

func (r *reader) readRow(t *doctree.Table, tr *element) {
	row := doctree.NewRow(r.doc)
	trPr := tr.child("w", "trPr")
	row.HeadingFormat = onOff(trPr.child("w", "tblHeader"))
	row.Height = fromTwips(trPr.child("w", "trHeight"), "w", "val")
	if m, ok := r.markIn(trPr); ok {
		row.SetRevision(m)
	}
	for _, tc := range collect(tr, "tc") {
		tcPr := tc.child("w", "tcPr")
		cell := doctree.NewCell(r.doc)
		if tw := tcPr.child("w", "tcW"); tw != nil && tw.attrOr("w", "type", "dxa") == "dxa" {
			cell.Width = fromTwips(tw, "w", "w")
		}
		if fill := tcPr.child("w", "shd").attrOr("w", "fill", ""); fill != "" && fill != "auto" {
			cell.Shading = strings.ToUpper(fill)
		}
		cell.VerticalMerge = mergeOf(tcPr, "vMerge", "vmerge")
		cell.HorizontalMerge = mergeOf(tcPr, "hMerge", "hmerge")
		span := tcPr.child("w", "gridSpan").intAttr("w", "val", 1)
		if span > 1 {
			cell.HorizontalMerge = doctree.MergeFirst
		}
		r.readBlocks(cell.Node, tc)
		ensureParagraph(r.doc, cell.Node)
		r.append(row.Node, cell.Node)
		for i := 1; i < span; i++ {
			cont := doctree.NewCell(r.doc)
			cont.HorizontalMerge = doctree.MergePrevious
			cont.VerticalMerge = cell.VerticalMerge
			ensureParagraph(r.doc, cont.Node)
			r.append(row.Node, cont.Node)
		}
	}
	r.append(t.Node, row.Node)
}

func mergeOf(tcPr *element, names ...string) doctree.CellMerge {
	for _, n := range names {
		if m := tcPr.child("w", n); m != nil {
			if m.val() == "restart" {
				return doctree.MergeFirst
			}
			return doctree.MergePrevious
		}
	}
	return doctree.MergeNone
}
