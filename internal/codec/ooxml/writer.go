package ooxml

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

const wmlPrefix = "application/vnd.openxmlformats-officedocument.wordprocessingml."

// Content types of the parts the writer emits.
const (
	ctRels      = "application/vnd.openxmlformats-package.relationships+xml"
	ctStyles    = wmlPrefix + "styles+xml"
	ctNumbering = wmlPrefix + "numbering+xml"
	ctSettings  = wmlPrefix + "settings+xml"
	ctHeader    = wmlPrefix + "header+xml"
	ctFooter    = wmlPrefix + "footer+xml"
	ctFootnotes = wmlPrefix + "footnotes+xml"
	ctEndnotes  = wmlPrefix + "endnotes+xml"
	ctComments  = wmlPrefix + "comments+xml"
	ctCore      = "application/vnd.openxmlformats-package.core-properties+xml"
	ctApp       = "application/vnd.openxmlformats-officedocument.extended-properties+xml"
	ctCustom    = "application/vnd.openxmlformats-officedocument.custom-properties+xml"
)

// writer serializes one document. Story parts are written one at a
// time; x and rels always belong to the part being written.
type writer struct {
	flavor
	doc  *doctree.Document
	opts *SaveOptions
	log  *slog.Logger
	cp   *codec.Checkpointer

	pkg  *opcPackage
	x    *xmlWriter
	rels *relWriter

	styleIDs    map[doctree.StyleHandle]string
	numIDs      map[doctree.ListHandle]int
	hfRefs      map[*doctree.HeaderFooter]string
	evenHeaders bool

	annotationID int
	bookmarkIDs  map[string]int
	shapeID      int
	images       int
	footnotes    []*doctree.Footnote
	endnotes     []*doctree.Footnote
	comments     []*doctree.Comment
	// noteRef is the reference-mark element owed to the first
	// paragraph of the note being written.
	noteRef string
	warned  map[string]bool
	err     error
}

func newWriter(ctx context.Context, doc *doctree.Document, opts *SaveOptions) *writer {
	return &writer{
		flavor:      flavor{strict: opts.Compliance == Strict && opts.Format != codec.WordML, wordml: opts.Format == codec.WordML},
		doc:         doc,
		opts:        opts,
		log:         opts.Log(),
		cp:          codec.NewCheckpointer(ctx, opts.Format, doc, &opts.SaveCommon),
		styleIDs:    make(map[doctree.StyleHandle]string),
		numIDs:      make(map[doctree.ListHandle]int),
		hfRefs:      make(map[*doctree.HeaderFooter]string),
		bookmarkIDs: make(map[string]int),
		warned:      make(map[string]bool),
	}
}

// ns picks the transitional or strict spelling of a namespace URI.
func (w *writer) ns(transitional, strict string) string {
	if w.strict {
		return strict
	}
	return transitional
}

func (w *writer) tick() {
	if w.err == nil {
		w.err = w.cp.Tick()
	}
}

func (w *writer) warnOnce(msg string, args ...any) {
	if w.warned[msg] {
		return
	}
	w.warned[msg] = true
	w.log.Warn(msg, args...)
}

func (w *writer) nextAnnotationID() string {
	id := w.annotationID
	w.annotationID++
	return itoa(id)
}

// storyAttrs declares the namespaces every story part root needs.
func (w *writer) storyAttrs() []string {
	attrs := []string{
		"xmlns:w", w.ns(nsW, nsWStrict),
		"xmlns:r", w.ns(nsR, nsRStrict),
		"xmlns:wp", w.ns(nsWP, nsWPStrct),
		"xmlns:a", w.ns(nsA, nsAStrict),
		"xmlns:pic", w.ns(nsPic, nsPicStr),
		"xmlns:v", nsV,
		"xmlns:o", nsO,
	}
	if w.strict {
		attrs = append(attrs, "w:conformance", "strict")
	}
	return attrs
}

// put stores a part with its content type.
func (w *writer) put(name, contentType string, data []byte) {
	w.pkg.parts[name] = data
	if contentType != "" {
		w.pkg.overrides[name] = contentType
	}
}

// buildPackage lays out every part of the package. Parts referenced
// from the body (headers, notes, comments, media) are produced while
// the body is written, so their relationship lists are final only
// after it.
func (w *writer) buildPackage() (*opcPackage, error) {
	w.pkg = newPackage()
	w.pkg.defaults["rels"] = ctRels
	w.pkg.defaults["xml"] = "application/xml"
	base := w.ns(relBaseTransitional, relBaseStrict)
	pkgRels := &relWriter{base: base}
	docRels := &relWriter{base: base}
	w.assignStyleIDs()

	docRels.add(relStyles, "styles.xml", false)
	if w.doc.Lists().Len() > 0 {
		docRels.add(relNumbering, "numbering.xml", false)
		w.put("word/numbering.xml", ctNumbering, w.numberingPart())
	}
	w.put("word/styles.xml", ctStyles, w.stylesPart())

	w.rels = docRels
	if err := w.writeHeaderFooters(); err != nil {
		return nil, err
	}
	body, err := w.documentPart()
	if err != nil {
		return nil, err
	}
	main := codec.MainContentType(w.opts.Format)
	if main == "" {
		main = codec.MainContentType(codec.DOCX)
	}
	w.put("word/document.xml", main, body)

	docRels.add(relSettings, "settings.xml", false)
	w.put("word/settings.xml", ctSettings, w.settingsPart())
	if len(w.footnotes) > 0 {
		docRels.add(relFootnotes, "footnotes.xml", false)
		if err := w.notesPart("word/footnotes.xml", ctFootnotes, "footnote", w.footnotes); err != nil {
			return nil, err
		}
	}
	if len(w.endnotes) > 0 {
		docRels.add(relEndnotes, "endnotes.xml", false)
		if err := w.notesPart("word/endnotes.xml", ctEndnotes, "endnote", w.endnotes); err != nil {
			return nil, err
		}
	}
	if len(w.comments) > 0 {
		docRels.add(relComments, "comments.xml", false)
		if err := w.commentsPart(); err != nil {
			return nil, err
		}
	}
	w.pkg.parts["word/_rels/document.xml.rels"] = docRels.bytes()

	pkgRels.add(relOfficeDocument, "word/document.xml", false)
	pkgRels.add(relCoreProps, "docProps/core.xml", false)
	pkgRels.add(relExtendedProps, "docProps/app.xml", false)
	w.put("docProps/core.xml", ctCore, w.corePart())
	w.put("docProps/app.xml", ctApp, w.appPart())
	if w.doc.Custom.Len() > 0 {
		pkgRels.add(relCustomProps, "docProps/custom.xml", false)
		w.put("docProps/custom.xml", ctCustom, w.customPart())
	}
	w.pkg.parts["_rels/.rels"] = pkgRels.bytes()
	return w.pkg, nil
}

// storyPart writes one story part with its own relationship list.
func (w *writer) storyPart(name, contentType, root string, body func()) error {
	prevX, prevRels := w.x, w.rels
	w.x = newXMLWriter()
	w.rels = &relWriter{base: w.ns(relBaseTransitional, relBaseStrict)}
	w.x.open(root, w.storyAttrs()...)
	body()
	w.x.close(root)
	w.put(name, contentType, w.x.Bytes())
	if len(w.rels.rels) > 0 {
		w.pkg.parts[relsPath(name)] = w.rels.bytes()
	}
	w.x, w.rels = prevX, prevRels
	return w.err
}

func (w *writer) writeHeaderFooters() error {
	docRels := w.rels
	var headers, footers int
	for _, s := range w.doc.Sections() {
		for _, hf := range s.HeadersFooters() {
			if hf.LinkToPrevious {
				continue
			}
			t := hf.HeaderFooterType
			if t == doctree.HeaderEven || t == doctree.FooterEven {
				w.evenHeaders = true
			}
			var name, kind, ct, root string
			if t.IsHeader() {
				headers++
				name, kind, ct, root = fmt.Sprintf("header%d.xml", headers), relHeader, ctHeader, "w:hdr"
			} else {
				footers++
				name, kind, ct, root = fmt.Sprintf("footer%d.xml", footers), relFooter, ctFooter, "w:ftr"
			}
			w.hfRefs[hf] = docRels.add(kind, name, false)
			if err := w.storyPart("word/"+name, ct, root, func() { w.writeBlocks(hf.Node) }); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) documentPart() ([]byte, error) {
	w.x = newXMLWriter()
	w.x.open("w:document", w.storyAttrs()...)
	w.x.open("w:body")
	secs := w.doc.Sections()
	for i, s := range secs {
		last := i == len(secs)-1
		var blocks []*doctree.Node
		if b := s.Body(); b != nil {
			blocks = b.ChildNodes()
		}
		for j, n := range blocks {
			if w.err != nil {
				return nil, w.err
			}
			var closing *doctree.Section
			if !last && j == len(blocks)-1 && n.Type() == doctree.ParagraphNode {
				closing = s
			}
			w.writeBlock(n, closing)
		}
		// A section break lives in a paragraph; a section ending in a
		// table or with no content needs one of its own.
		if !last && (len(blocks) == 0 || blocks[len(blocks)-1].Type() != doctree.ParagraphNode) {
			w.x.open("w:p")
			w.x.open("w:pPr")
			w.writeSectPr(s)
			w.x.close("w:pPr")
			w.x.close("w:p")
		}
	}
	if len(secs) > 0 {
		w.writeSectPr(secs[len(secs)-1])
	}
	w.x.close("w:body")
	w.x.close("w:document")
	if w.err != nil {
		return nil, w.err
	}
	return w.x.Bytes(), nil
}

// writeBlocks writes the block children of a story, which must end in
// a paragraph.
func (w *writer) writeBlocks(n *doctree.Node) {
	for c := range n.Children() {
		w.writeBlock(c, nil)
	}
	if last := n.LastChild(); last == nil || last.Type() != doctree.ParagraphNode {
		w.x.empty("w:p")
	}
}

func (w *writer) writeBlock(n *doctree.Node, closing *doctree.Section) {
	if w.err != nil {
		return
	}
	w.tick()
	switch p := n.Data().(type) {
	case *doctree.Paragraph:
		w.writeParagraph(p, closing)
	case *doctree.Table:
		w.writeTable(p)
	}
}

func (w *writer) revAttrs(author string, date time.Time) []string {
	attrs := []string{"w:id", w.nextAnnotationID(), "w:author", author}
	if !date.IsZero() {
		attrs = append(attrs, "w:date", formatW3CDTF(date))
	}
	return attrs
}

func (w *writer) markAttrs(m doctree.RevisionMark) []string { return w.revAttrs(m.Author, m.Date) }

var revisionElems = map[doctree.RevisionType]string{
	doctree.Insertion: "w:ins",
	doctree.Deletion:  "w:del",
	doctree.MoveFrom:  "w:moveFrom",
	doctree.MoveTo:    "w:moveTo",
}

func (w *writer) writeParagraph(p *doctree.Paragraph, closing *doctree.Section) {
	x := w.x
	rev := p.Revision()
	fmtRev := p.FormatRevision()
	if w.wordml && (rev.Type != doctree.NoRevision || fmtRev != nil) {
		w.warnOnce("writing tracked changes as accepted in WordML")
		rev, fmtRev = doctree.RevisionMark{}, nil
	}
	x.open("w:p")
	if p.Style != 0 || !p.Format.IsZero() || p.ListFormat.List != 0 || rev.Type != doctree.NoRevision || fmtRev != nil || closing != nil {
		x.open("w:pPr")
		if id, ok := w.styleIDs[p.Style]; ok && p.Style != 0 {
			x.empty("w:pStyle", "w:val", id)
		}
		w.writePPrHead(x, p.Format)
		if n, ok := w.numIDs[p.ListFormat.List]; ok && p.ListFormat.List != 0 {
			if w.wordml {
				x.open("w:listPr")
				x.empty("w:ilvl", "w:val", itoa(p.ListFormat.Level))
				x.empty("w:ilfo", "w:val", itoa(n))
				x.close("w:listPr")
			} else {
				x.open("w:numPr")
				x.empty("w:ilvl", "w:val", itoa(p.ListFormat.Level))
				x.empty("w:numId", "w:val", itoa(n))
				x.close("w:numPr")
			}
		}
		w.writePPrTail(x, p.Format)
		if el, ok := revisionElems[rev.Type]; ok {
			x.open("w:rPr")
			x.empty(el, w.markAttrs(rev)...)
			x.close("w:rPr")
		}
		if closing != nil {
			w.writeSectPr(closing)
		}
		if fmtRev != nil {
			x.open("w:pPrChange", w.revAttrs(fmtRev.Author, fmtRev.Date)...)
			x.open("w:pPr")
			w.writePPrHead(x, fmtRev.Old)
			w.writePPrTail(x, fmtRev.Old)
			x.close("w:pPr")
			x.close("w:pPrChange")
		}
		x.close("w:pPr")
	}
	if w.noteRef != "" {
		x.open("w:r")
		x.open("w:rPr")
		x.empty("w:vertAlign", "w:val", "superscript")
		x.close("w:rPr")
		x.empty("w:" + w.noteRef)
		x.close("w:r")
		w.noteRef = ""
	}
	w.writeInlines(p.Node)
	x.close("w:p")
}

// inlineMark returns the revision an inline node carries.
func inlineMark(n *doctree.Node) doctree.RevisionMark {
	switch d := n.Data().(type) {
	case *doctree.Run:
		return d.Revision()
	case *doctree.FieldStart:
		return d.Revision()
	case *doctree.FieldSeparator:
		return d.Revision()
	case *doctree.FieldEnd:
		return d.Revision()
	case *doctree.Shape:
		return d.Revision()
	}
	return doctree.RevisionMark{}
}

// writeInlines groups consecutive inline nodes with the same revision
// into one ins, del or move wrapper.
func (w *writer) writeInlines(p *doctree.Node) {
	var inCode []bool
	var open doctree.RevisionMark
	moveRange := ""
	closeWrapper := func() {
		if el, ok := revisionElems[open.Type]; ok {
			w.x.close(el)
		}
		if moveRange != "" {
			end := "w:moveFromRangeEnd"
			if open.Type == doctree.MoveTo {
				end = "w:moveToRangeEnd"
			}
			w.x.empty(end, "w:id", moveRange)
			moveRange = ""
		}
		open = doctree.RevisionMark{}
	}
	for n := range p.Children() {
		w.tick()
		m := inlineMark(n)
		if w.wordml && m.Type != doctree.NoRevision {
			w.warnOnce("writing tracked changes as accepted in WordML")
			if m.Type == doctree.Deletion || m.Type == doctree.MoveFrom {
				continue
			}
			m = doctree.RevisionMark{}
		}
		if m != open {
			closeWrapper()
			if el, ok := revisionElems[m.Type]; ok {
				if m.Type == doctree.MoveFrom || m.Type == doctree.MoveTo {
					start := "w:moveFromRangeStart"
					if m.Type == doctree.MoveTo {
						start = "w:moveToRangeStart"
					}
					moveRange = w.nextAnnotationID()
					attrs := append([]string{"w:id", moveRange, "w:name", fmt.Sprintf("move%d", m.MoveID), "w:author", m.Author}, dateAttr(m)...)
					w.x.empty(start, attrs...)
				}
				w.x.open(el, w.markAttrs(m)...)
			}
			open = m
		}
		deleted := m.Type == doctree.Deletion || m.Type == doctree.MoveFrom
		switch d := n.Data().(type) {
		case *doctree.Run:
			w.writeRun(d, len(inCode) > 0 && inCode[len(inCode)-1], deleted)
		case *doctree.FieldStart:
			attrs := []string{"w:fldCharType", "begin"}
			if d.Locked {
				attrs = append(attrs, "w:fldLock", "1")
			}
			if d.Dirty {
				attrs = append(attrs, "w:dirty", "1")
			}
			w.fieldChar(attrs...)
			inCode = append(inCode, true)
		case *doctree.FieldSeparator:
			w.fieldChar("w:fldCharType", "separate")
			if len(inCode) > 0 {
				inCode[len(inCode)-1] = false
			}
		case *doctree.FieldEnd:
			w.fieldChar("w:fldCharType", "end")
			if len(inCode) > 0 {
				inCode = inCode[:len(inCode)-1]
			}
		case *doctree.BookmarkStart:
			w.bookmark(d.Name, true)
		case *doctree.BookmarkEnd:
			w.bookmark(d.Name, false)
		case *doctree.CommentRangeStart:
			if w.wordml {
				w.warnOnce("dropping comments in WordML")
				continue
			}
			w.x.empty("w:commentRangeStart", "w:id", itoa(d.ID))
		case *doctree.CommentRangeEnd:
			if w.wordml {
				continue
			}
			w.x.empty("w:commentRangeEnd", "w:id", itoa(d.ID))
		case *doctree.Comment:
			if w.wordml {
				w.warnOnce("dropping comments in WordML")
				continue
			}
			w.comments = append(w.comments, d)
			w.x.open("w:r")
			w.x.empty("w:commentReference", "w:id", itoa(d.ID))
			w.x.close("w:r")
		case *doctree.Footnote:
			w.writeNoteReference(d)
		case *doctree.Shape:
			w.writeShape(d)
		}
	}
	closeWrapper()
}

func dateAttr(m doctree.RevisionMark) []string {
	if m.Date.IsZero() {
		return nil
	}
	return []string{"w:date", formatW3CDTF(m.Date)}
}

func (w *writer) fieldChar(attrs ...string) {
	w.x.open("w:r")
	w.x.empty("w:fldChar", attrs...)
	w.x.close("w:r")
}

func (w *writer) bookmark(name string, start bool) {
	id, ok := w.bookmarkIDs[name]
	if !ok {
		id = len(w.bookmarkIDs)
		w.bookmarkIDs[name] = id
	}
	switch {
	case w.wordml && start:
		w.x.empty("aml:annotation", "aml:id", itoa(id), "w:type", "Word.Bookmark.Start", "w:name", name)
	case w.wordml:
		w.x.empty("aml:annotation", "aml:id", itoa(id), "w:type", "Word.Bookmark.End")
	case start:
		w.x.empty("w:bookmarkStart", "w:id", itoa(id), "w:name", name)
	default:
		w.x.empty("w:bookmarkEnd", "w:id", itoa(id))
	}
}

// runBreaks maps control characters to the run content element that
// stands for them.
var runBreaks = map[rune][]string{
	'\t':   {"w:tab"},
	'\v':   {"w:br"},
	'\f':   {"w:br", "w:type", "page"},
	'\x0e': {"w:br", "w:type", "column"},
	'\x1e': {"w:noBreakHyphen"},
	'\x1f': {"w:softHyphen"},
}

func (w *writer) writeRunProps(r *doctree.Run) {
	x := w.x
	fmtRev := r.FormatRevision()
	if w.wordml {
		fmtRev = nil
	}
	if r.Style == 0 && r.Format.IsZero() && fmtRev == nil {
		return
	}
	x.open("w:rPr")
	if id, ok := w.styleIDs[r.Style]; ok && r.Style != 0 {
		x.empty("w:rStyle", "w:val", id)
	}
	w.writeRPrBody(x, r.Format)
	if fmtRev != nil {
		x.open("w:rPrChange", w.revAttrs(fmtRev.Author, fmtRev.Date)...)
		x.open("w:rPr")
		w.writeRPrBody(x, fmtRev.Old)
		x.close("w:rPr")
		x.close("w:rPrChange")
	}
	x.close("w:rPr")
}

func (w *writer) writeRun(r *doctree.Run, code, deleted bool) {
	x := w.x
	textElem := "w:t"
	switch {
	case code && deleted:
		textElem = "w:delInstrText"
	case code:
		textElem = "w:instrText"
	case deleted:
		textElem = "w:delText"
	}
	x.open("w:r")
	w.writeRunProps(r)
	var text strings.Builder
	flush := func() {
		if text.Len() == 0 {
			return
		}
		s := text.String()
		if strings.TrimSpace(s) != s {
			x.textElem(textElem, s, "xml:space", "preserve")
		} else {
			x.textElem(textElem, s)
		}
		text.Reset()
	}
	for _, c := range r.Text() {
		if el, ok := runBreaks[c]; ok {
			flush()
			x.empty(el[0], el[1:]...)
			continue
		}
		if c < 0x20 {
			continue
		}
		text.WriteRune(c)
	}
	flush()
	x.close("w:r")
}

func (w *writer) writeNoteReference(fn *doctree.Footnote) {
	x := w.x
	kind := "footnote"
	if fn.FootnoteKind == doctree.FootnoteKindEndnote {
		kind = "endnote"
	}
	x.open("w:r")
	x.open("w:rPr")
	x.empty("w:vertAlign", "w:val", "superscript")
	x.close("w:rPr")
	if w.wordml {
		attrs := []string{}
		if fn.ReferenceMark != "" {
			w.warnOnce("dropping custom note marks in WordML")
		}
		x.open("w:"+kind, attrs...)
		w.writeBlocks(fn.Node)
		x.close("w:" + kind)
		x.close("w:r")
		return
	}
	var id int
	if fn.FootnoteKind == doctree.FootnoteKindEndnote {
		w.endnotes = append(w.endnotes, fn)
		id = len(w.endnotes)
	} else {
		w.footnotes = append(w.footnotes, fn)
		id = len(w.footnotes)
	}
	attrs := []string{"w:id", itoa(id)}
	if fn.ReferenceMark != "" {
		attrs = append(attrs, "w:customMarkFollows", "1")
	}
	x.empty("w:"+kind+"Reference", attrs...)
	if fn.ReferenceMark != "" {
		x.textElem("w:t", fn.ReferenceMark)
	}
	x.close("w:r")
}

// notesPart writes the footnotes or endnotes part. IDs -1 and 0 are the
// separators Word expects; notes number from 1 in reference order.
func (w *writer) notesPart(name, ct, kind string, notes []*doctree.Footnote) error {
	return w.storyPart(name, ct, "w:"+kind+"s", func() {
		for _, sep := range []struct{ id, typ string }{{"-1", "separator"}, {"0", "continuationSeparator"}} {
			w.x.open("w:"+kind, "w:type", sep.typ, "w:id", sep.id)
			w.x.open("w:p")
			w.x.open("w:r")
			w.x.empty("w:" + sep.typ)
			w.x.close("w:r")
			w.x.close("w:p")
			w.x.close("w:" + kind)
		}
		for i, fn := range notes {
			w.x.open("w:"+kind, "w:id", itoa(i+1))
			if fn.ReferenceMark == "" {
				w.noteRef = kind + "Ref"
			}
			w.writeBlocks(fn.Node)
			w.noteRef = ""
			w.x.close("w:" + kind)
		}
	})
}

func (w *writer) commentsPart() error {
	return w.storyPart("word/comments.xml", ctComments, "w:comments", func() {
		for _, c := range w.comments {
			attrs := []string{"w:id", itoa(c.ID), "w:author", c.Author}
			if !c.Date.IsZero() {
				attrs = append(attrs, "w:date", formatW3CDTF(c.Date))
			}
			if c.Initial != "" {
				attrs = append(attrs, "w:initials", c.Initial)
			}
			w.x.open("w:comment", attrs...)
			w.writeBlocks(c.Node)
			w.x.close("w:comment")
		}
	})
}

func (w *writer) writeShape(s *doctree.Shape) {
	x := w.x
	switch s.ShapeKind {
	case doctree.ShapeHorizontalRule:
		x.open("w:r")
		x.open("w:pict")
		x.empty("v:rect", "style", fmt.Sprintf("width:%gpt;height:%gpt", s.Width, max(s.Height, 1.5)),
			"o:hralign", "center", "o:hrstd", "t", "o:hr", "t", "fillcolor", "#a0a0a0", "stroked", "f")
		x.close("w:pict")
		x.close("w:r")
	case doctree.ShapeTextBox:
		w.shapeID++
		x.open("w:r")
		x.open("w:pict")
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("_x0000_s%d", 1024+w.shapeID)
		}
		x.open("v:shape", "id", name, "type", "#_x0000_t202", "style", fmt.Sprintf("width:%gpt;height:%gpt", s.Width, s.Height))
		x.open("v:textbox")
		x.open("w:txbxContent")
		w.writeBlocks(s.Node)
		x.close("w:txbxContent")
		x.close("v:textbox")
		x.close("v:shape")
		x.close("w:pict")
		x.close("w:r")
	case doctree.ShapeImage:
		if !s.HasImage() {
			return
		}
		if w.wordml {
			w.writeWordMLImage(s)
			return
		}
		w.writeDrawing(s)
	}
}

// addImage stores embedded bytes as a media part, or records a link,
// and returns the attribute that references it.
func (w *writer) addImage(img *doctree.ImageData) (attr, id string) {
	if len(img.Data) == 0 {
		return "r:link", w.rels.add(relImage, img.SourceURL, true)
	}
	w.images++
	ext := img.Type.Extension()
	name := fmt.Sprintf("media/image%d.%s", w.images, ext)
	w.pkg.parts["word/"+name] = img.Data
	if _, ok := w.pkg.defaults[ext]; !ok {
		w.pkg.defaults[ext] = img.Type.ContentType()
	}
	return "r:embed", w.rels.add(relImage, name, false)
}

func (w *writer) writeDrawing(s *doctree.Shape) {
	x := w.x
	attr, rid := w.addImage(s.Image)
	w.shapeID++
	id := itoa(w.shapeID)
	name := s.Name
	if name == "" {
		name = "Picture " + id
	}
	cx, cy := emus(s.Width), emus(s.Height)
	x.open("w:r")
	x.open("w:drawing")
	x.open("wp:inline", "distT", "0", "distB", "0", "distL", "0", "distR", "0")
	x.empty("wp:extent", "cx", cx, "cy", cy)
	x.empty("wp:docPr", "id", id, "name", name, "descr", s.AltText)
	x.open("a:graphic")
	x.open("a:graphicData", "uri", w.ns(nsPic, nsPicStr))
	x.open("pic:pic")
	x.open("pic:nvPicPr")
	x.empty("pic:cNvPr", "id", id, "name", name)
	x.empty("pic:cNvPicPr")
	x.close("pic:nvPicPr")
	x.open("pic:blipFill")
	x.empty("a:blip", attr, rid)
	x.open("a:stretch")
	x.empty("a:fillRect")
	x.close("a:stretch")
	x.close("pic:blipFill")
	x.open("pic:spPr")
	x.open("a:xfrm")
	x.empty("a:off", "x", "0", "y", "0")
	x.empty("a:ext", "cx", cx, "cy", cy)
	x.close("a:xfrm")
	x.open("a:prstGeom", "prst", "rect")
	x.empty("a:avLst")
	x.close("a:prstGeom")
	x.close("pic:spPr")
	x.close("pic:pic")
	x.close("a:graphicData")
	x.close("a:graphic")
	x.close("wp:inline")
	x.close("w:drawing")
	x.close("w:r")
}

// gridWidth returns the number of grid columns and their widths, taken
// from the widest row.
func gridWidth(t *doctree.Table) []float64 {
	var cols []float64
	for _, r := range t.Rows() {
		cells := r.Cells()
		if len(cells) > len(cols) {
			cols = make([]float64, len(cells))
			for i, c := range cells {
				cols[i] = c.Width
			}
		}
	}
	return cols
}

func (w *writer) writeTable(t *doctree.Table) {
	rows := t.Rows()
	if len(rows) == 0 {
		return
	}
	x := w.x
	x.open("w:tbl")
	x.open("w:tblPr")
	if id, ok := w.styleIDs[t.Style]; ok && t.Style != 0 {
		x.empty("w:tblStyle", "w:val", id)
	}
	if t.Format.PreferredWidth > 0 {
		x.empty("w:tblW", "w:w", twips(t.Format.PreferredWidth), "w:type", "dxa")
	} else {
		x.empty("w:tblW", "w:w", "0", "w:type", "auto")
	}
	if t.Format.Alignment == doctree.AlignCenter || t.Format.Alignment == doctree.AlignRight {
		x.empty("w:jc", "w:val", w.jc(t.Format.Alignment))
	}
	if t.Format.Borders {
		x.open("w:tblBorders")
		for _, side := range w.borderSides() {
			x.empty("w:"+side, "w:val", "single", "w:sz", "4", "w:space", "0", "w:color", "auto")
		}
		x.close("w:tblBorders")
	}
	x.close("w:tblPr")
	x.open("w:tblGrid")
	for _, width := range gridWidth(t) {
		if width > 0 {
			x.empty("w:gridCol", "w:w", twips(width))
		} else {
			x.empty("w:gridCol")
		}
	}
	x.close("w:tblGrid")
	for _, r := range rows {
		w.tick()
		w.writeRow(r)
	}
	x.close("w:tbl")
}

func (w *writer) borderSides() []string {
	if w.strict {
		return []string{"top", "start", "bottom", "end", "insideH", "insideV"}
	}
	return []string{"top", "left", "bottom", "right", "insideH", "insideV"}
}

func (w *writer) writeRow(r *doctree.Row) {
	x := w.x
	x.open("w:tr")
	rev := r.Revision()
	if w.wordml && rev.Type != doctree.NoRevision {
		w.warnOnce("writing tracked changes as accepted in WordML")
		rev = doctree.RevisionMark{}
	}
	el, hasRev := revisionElems[rev.Type]
	if r.HeadingFormat || r.Height > 0 || hasRev {
		x.open("w:trPr")
		if r.Height > 0 {
			x.empty("w:trHeight", "w:val", twips(r.Height))
		}
		if r.HeadingFormat {
			x.empty("w:tblHeader")
		}
		if hasRev {
			x.empty(el, w.markAttrs(rev)...)
		}
		x.close("w:trPr")
	}
	cells := r.Cells()
	for i := 0; i < len(cells); i++ {
		c := cells[i]
		span, width := 1, c.Width
		for i+span < len(cells) && cells[i+span].HorizontalMerge == doctree.MergePrevious {
			width += cells[i+span].Width
			span++
		}
		w.writeCell(c, span, width)
		i += span - 1
	}
	x.close("w:tr")
}

func (w *writer) writeCell(c *doctree.Cell, span int, width float64) {
	x := w.x
	x.open("w:tc")
	x.open("w:tcPr")
	if width > 0 {
		x.empty("w:tcW", "w:w", twips(width), "w:type", "dxa")
	}
	if span > 1 {
		x.empty("w:gridSpan", "w:val", itoa(span))
	}
	vmerge := "w:vMerge"
	if w.wordml {
		vmerge = "w:vmerge"
	}
	switch c.VerticalMerge {
	case doctree.MergeFirst:
		x.empty(vmerge, "w:val", "restart")
	case doctree.MergePrevious:
		x.empty(vmerge, "w:val", "continue")
	}
	if c.Shading != "" {
		x.empty("w:shd", "w:val", "clear", "w:color", "auto", "w:fill", c.Shading)
	}
	x.close("w:tcPr")
	w.writeBlocks(c.Node)
	x.close("w:tc")
}

var sectStartNames = map[doctree.SectionStart]string{
	doctree.SectionContinuous: "continuous",
	doctree.SectionEvenPage:   "evenPage",
	doctree.SectionOddPage:    "oddPage",
	doctree.SectionNewColumn:  "nextColumn",
}

var hfTypeNames = [...]string{
	doctree.HeaderPrimary: "default",
	doctree.HeaderFirst:   "first",
	doctree.HeaderEven:    "even",
	doctree.FooterPrimary: "default",
	doctree.FooterFirst:   "first",
	doctree.FooterEven:    "even",
}

func (w *writer) writeSectPr(s *doctree.Section) {
	x := w.x
	x.open("w:sectPr")
	hfs := s.HeadersFooters()
	sort.SliceStable(hfs, func(i, j int) bool { return hfs[i].HeaderFooterType < hfs[j].HeaderFooterType })
	for _, hf := range hfs {
		if hf.LinkToPrevious {
			continue
		}
		typ := hfTypeNames[hf.HeaderFooterType]
		switch {
		case w.wordml:
			el := "w:ftr"
			if hf.HeaderFooterType.IsHeader() {
				el = "w:hdr"
			}
			if typ == "default" {
				typ = "odd"
			}
			x.open(el, "w:type", typ)
			w.writeBlocks(hf.Node)
			x.close(el)
		case hf.HeaderFooterType.IsHeader():
			x.empty("w:headerReference", "w:type", typ, "r:id", w.hfRefs[hf])
		default:
			x.empty("w:footerReference", "w:type", typ, "r:id", w.hfRefs[hf])
		}
	}
	ps := s.PageSetup
	if name, ok := sectStartNames[ps.SectionStart]; ok {
		x.empty("w:type", "w:val", name)
	}
	sz := []string{"w:w", twips(ps.PageWidth), "w:h", twips(ps.PageHeight)}
	if ps.Orientation == doctree.Landscape {
		sz = append(sz, "w:orient", "landscape")
	}
	x.empty("w:pgSz", sz...)
	x.empty("w:pgMar",
		"w:top", twips(ps.TopMargin), "w:right", twips(ps.RightMargin),
		"w:bottom", twips(ps.BottomMargin), "w:left", twips(ps.LeftMargin),
		"w:header", twips(ps.HeaderDistance), "w:footer", twips(ps.FooterDistance), "w:gutter", "0")
	if ps.DifferentFirstPage {
		x.empty("w:titlePg")
	}
	x.close("w:sectPr")
}
