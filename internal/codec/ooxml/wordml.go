package ooxml

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

// readWordML decodes a Word 2003 XML document. The vocabulary is close
// enough to WordprocessingML that the package reader's walk serves
// both; the differences live in flavor and in the element aliases the
// walk accepts.
func readWordML(ctx context.Context, data []byte, opts codec.LoadOptions) (*doctree.Document, error) {
	root, err := parseXML(data)
	if err != nil {
		return nil, codec.Corruptf("WordML: %v", err)
	}
	if !root.is("w", "wordDocument") {
		return nil, codec.Corruptf("WordML: root element is %s", root.name)
	}
	r := newReader(ctx, opts, flavor{wordml: true})
	r.pkg = newPackage()
	r.readWordMLProps(root)
	if st := root.child("w", "styles"); st != nil {
		r.readStyles(st)
	}
	if l := root.child("w", "lists"); l != nil {
		r.readNumbering(l)
	}
	if dp := root.child("w", "docPr"); dp != nil {
		r.readSettings(dp)
	}
	if err := r.readBody(root.child("w", "body")); err != nil {
		return nil, err
	}
	return r.doc, nil
}

// wordML writes the document as a single Word 2003 XML file. Tracked
// changes are written as accepted and comments are dropped because the
// dialect's annotation markup for them is not produced.
func (w *writer) wordML() ([]byte, error) {
	w.assignStyleIDs()
	for _, s := range w.doc.Sections() {
		for _, hf := range s.HeadersFooters() {
			if hf.HeaderFooterType == doctree.HeaderEven || hf.HeaderFooterType == doctree.FooterEven {
				w.evenHeaders = true
			}
		}
	}
	x := newXMLWriter()
	w.x = x
	x.raw(`<?mso-application progid="Word.Document"?>` + "\n")
	x.open("w:wordDocument",
		"xmlns:w", nsW2003, "xmlns:wx", nsWX, "xmlns:o", nsO, "xmlns:v", nsV,
		"xmlns:aml", nsAML, "xmlns:dt", nsDT,
		"w:macrosPresent", "no", "w:embeddedObjPresent", "no", "w:ocxPresent", "no",
		"xml:space", "preserve")
	w.writeWordMLProps(x)
	if w.doc.Lists().Len() > 0 {
		x.open("w:lists")
		w.writeNumberingDefs(x)
		x.close("w:lists")
	}
	x.open("w:styles")
	w.writeStyleDefs(x)
	x.close("w:styles")
	x.open("w:docPr")
	w.writeSettingsBody(x)
	x.close("w:docPr")

	x.open("w:body")
	for _, s := range w.doc.Sections() {
		x.open("wx:sect")
		if b := s.Body(); b != nil {
			for n := range b.Children() {
				w.writeBlock(n, nil)
			}
		}
		w.writeSectPr(s)
		x.close("wx:sect")
		if w.err != nil {
			return nil, w.err
		}
	}
	x.close("w:body")
	x.close("w:wordDocument")
	return x.Bytes(), w.err
}

// writeWordMLImage embeds image bytes in the run as w:binData, which
// the VML image data element points at by name.
func (w *writer) writeWordMLImage(s *doctree.Shape) {
	x := w.x
	w.images++
	style := fmt.Sprintf("width:%gpt;height:%gpt", s.Width, s.Height)
	x.open("w:r")
	x.open("w:pict")
	src := s.Image.SourceURL
	if len(s.Image.Data) > 0 {
		src = fmt.Sprintf("wordml://%08d.%s", w.images, s.Image.Type.Extension())
		x.textElem("w:binData", base64.StdEncoding.EncodeToString(s.Image.Data), "w:name", src)
	}
	x.open("v:shape", "id", fmt.Sprintf("_x0000_i%d", 1024+w.images), "style", style)
	x.empty("v:imagedata", "src", src, "o:title", s.AltText)
	x.close("v:shape")
	x.close("w:pict")
	x.close("w:r")
}
