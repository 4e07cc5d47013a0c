package ooxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// Namespace URIs, transitional then strict where both exist.
const (
	nsW       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsWStrict = "http://purl.oclc.org/ooxml/wordprocessingml/main"
	nsW2003   = "http://schemas.microsoft.com/office/word/2003/wordml"
	nsR       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsRStrict = "http://purl.oclc.org/ooxml/officeDocument/relationships"
	nsWP      = "http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
	nsWPStrct = "http://purl.oclc.org/ooxml/drawingml/wordprocessingDrawing"
	nsA       = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsAStrict = "http://purl.oclc.org/ooxml/drawingml/main"
	nsPic     = "http://schemas.openxmlformats.org/drawingml/2006/picture"
	nsPicStr  = "http://purl.oclc.org/ooxml/drawingml/picture"
	nsV       = "urn:schemas-microsoft-com:vml"
	nsO       = "urn:schemas-microsoft-com:office:office"
	nsMC      = "http://schemas.openxmlformats.org/markup-compatibility/2006"
	nsPkg     = "http://schemas.microsoft.com/office/2006/xmlPackage"
	nsRels    = "http://schemas.openxmlformats.org/package/2006/relationships"
	nsCT      = "http://schemas.openxmlformats.org/package/2006/content-types"
	nsCP      = "http://schemas.openxmlformats.org/package/2006/metadata/core-properties"
	nsDC      = "http://purl.org/dc/elements/1.1/"
	nsDCTerms = "http://purl.org/dc/terms/"
	nsXSI     = "http://www.w3.org/2001/XMLSchema-instance"
	nsCustom  = "http://schemas.openxmlformats.org/officeDocument/2006/custom-properties"
	nsCustStr = "http://purl.oclc.org/ooxml/officeDocument/customProperties"
	nsVT      = "http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"
	nsVTStr   = "http://purl.oclc.org/ooxml/officeDocument/docPropsVTypes"
	nsEP      = "http://schemas.openxmlformats.org/officeDocument/2006/extended-properties"
	nsEPStr   = "http://purl.oclc.org/ooxml/officeDocument/extendedProperties"
	nsAML     = "http://schemas.microsoft.com/aml/2001/core"
	nsWX      = "http://schemas.microsoft.com/office/word/2003/auxHint"
	nsXML     = "http://www.w3.org/XML/1998/namespace"
)

// nsClass folds the namespace URIs of every dialect onto the short
// prefix the reader matches against.
var nsClass = map[string]string{
	nsW: "w", nsWStrict: "w", nsW2003: "w",
	nsR: "r", nsRStrict: "r",
	nsWP: "wp", nsWPStrct: "wp",
	nsA: "a", nsAStrict: "a",
	nsPic: "pic", nsPicStr: "pic",
	nsV: "v", nsO: "o", nsMC: "mc", nsPkg: "pkg",
	nsRels: "rels", nsCT: "ct",
	nsCP: "cp", nsDC: "dc", nsDCTerms: "dcterms", nsXSI: "xsi",
	nsCustom: "custom", nsCustStr: "custom",
	nsVT: "vt", nsVTStr: "vt",
	nsEP: "ep", nsEPStr: "ep",
	nsAML: "aml", nsWX: "wx", nsXML: "xml",
}

// element is a parsed XML element with namespaces folded to classes.
type element struct {
	ns       string
	name     string
	attrs    []xml.Attr
	children []*element
	// text is the concatenated character data directly inside the element.
	text string
}

func classOf(space string) string {
	if c, ok := nsClass[space]; ok {
		return c
	}
	return space
}

// parseXML reads a whole XML document into an element tree. Non-UTF-8
// documents are decoded through their declared charset.
func parseXML(data []byte) (*element, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = func(label string, in io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(in), nil
	}
	var stack []*element
	var root *element
	var text strings.Builder
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			e := &element{ns: classOf(t.Name.Space), name: t.Name.Local, attrs: t.Attr}
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.text += text.String()
				top.children = append(top.children, e)
			} else if root == nil {
				root = e
			}
			text.Reset()
			stack = append(stack, e)
		case xml.EndElement:
			top := stack[len(stack)-1]
			top.text += text.String()
			text.Reset()
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errors.New("empty XML document")
	}
	return root, nil
}

func (e *element) is(ns, name string) bool { return e != nil && e.ns == ns && e.name == name }

// child returns the first child with the given name, or nil.
func (e *element) child(ns, name string) *element {
	if e == nil {
		return nil
	}
	for _, c := range e.children {
		if c.ns == ns && c.name == name {
			return c
		}
	}
	return nil
}

func (e *element) all(ns, name string) []*element {
	if e == nil {
		return nil
	}
	var out []*element
	for _, c := range e.children {
		if c.ns == ns && c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// find returns the first descendant with the given name in preorder.
func (e *element) find(ns, name string) *element {
	if e == nil {
		return nil
	}
	for _, c := range e.children {
		if c.is(ns, name) {
			return c
		}
		if f := c.find(ns, name); f != nil {
			return f
		}
	}
	return nil
}

// attr looks an attribute up by namespace class and local name. An
// empty class also matches unqualified attributes.
func (e *element) attr(ns, name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.attrs {
		if a.Name.Local == name && (classOf(a.Name.Space) == ns || ns == "" && a.Name.Space == "") {
			return a.Value, true
		}
	}
	return "", false
}

func (e *element) attrOr(ns, name, def string) string {
	if v, ok := e.attr(ns, name); ok {
		return v
	}
	return def
}

// content returns the trimmed character data of e, "" for nil.
func (e *element) content() string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(e.text)
}

// val returns w:val.
func (e *element) val() string { return e.attrOr("w", "val", "") }

// intAttr parses an integer attribute, returning def when it is absent
// or malformed.
func (e *element) intAttr(ns, name string, def int) int {
	v, ok := e.attr(ns, name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return def
		}
		return int(f)
	}
	return n
}

// onOff reads a toggle property such as <w:b/> or <w:b w:val="0"/>.
// A missing element is false.
func onOff(e *element) bool {
	if e == nil {
		return false
	}
	switch e.val() {
	case "0", "false", "off", "none":
		return false
	}
	return true
}

// xmlWriter builds XML text deterministically.
type xmlWriter struct {
	b bytes.Buffer
}

func newXMLWriter() *xmlWriter {
	w := &xmlWriter{}
	w.b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	return w
}

func (w *xmlWriter) writeAttrs(attrs []string) {
	for i := 0; i+1 < len(attrs); i += 2 {
		w.b.WriteByte(' ')
		w.b.WriteString(attrs[i])
		w.b.WriteString(`="`)
		xml.EscapeText(&w.b, []byte(attrs[i+1]))
		w.b.WriteByte('"')
	}
}

// open writes a start tag; attrs are name, value pairs.
func (w *xmlWriter) open(name string, attrs ...string) {
	w.b.WriteByte('<')
	w.b.WriteString(name)
	w.writeAttrs(attrs)
	w.b.WriteByte('>')
}

func (w *xmlWriter) empty(name string, attrs ...string) {
	w.b.WriteByte('<')
	w.b.WriteString(name)
	w.writeAttrs(attrs)
	w.b.WriteString("/>")
}

func (w *xmlWriter) close(name string) {
	w.b.WriteString("</")
	w.b.WriteString(name)
	w.b.WriteByte('>')
}

func (w *xmlWriter) text(s string) { xml.EscapeText(&w.b, []byte(s)) }

// textElem writes <name attrs>text</name>.
func (w *xmlWriter) textElem(name, text string, attrs ...string) {
	w.open(name, attrs...)
	w.text(text)
	w.close(name)
}

// raw inserts pre-built markup.
func (w *xmlWriter) raw(s string) { w.b.WriteString(s) }

func (w *xmlWriter) Bytes() []byte { return w.b.Bytes() }

// Unit conversions. OOXML measures text in twentieths of a point
// (twips), font sizes in half-points and drawings in EMUs.
func twips(pt float64) string  { return strconv.Itoa(int(pt*20 + sign(pt)*0.5)) }
func halfPts(pt float64) string { return strconv.Itoa(int(pt*2 + 0.5)) }
func emus(pt float64) string    { return strconv.FormatInt(int64(pt*12700+0.5), 10) }

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func fromTwips(e *element, ns, name string) float64 { return float64(e.intAttr(ns, name, 0)) / 20 }

func fromEMU(s string) float64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return float64(n) / 12700
}

func itoa(n int) string { return strconv.Itoa(n) }
