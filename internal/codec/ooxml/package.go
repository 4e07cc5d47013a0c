package ooxml

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/docforge/internal/codec"
)

// Relationship types, matched on their final path segment so the
// transitional and strict URIs are treated alike.
const (
	relOfficeDocument = "officeDocument"
	relStyles         = "styles"
	relNumbering      = "numbering"
	relSettings       = "settings"
	relHeader         = "header"
	relFooter         = "footer"
	relFootnotes      = "footnotes"
	relEndnotes       = "endnotes"
	relComments       = "comments"
	relImage          = "image"
	relHyperlink      = "hyperlink"
	relCoreProps      = "core-properties"
	relExtendedProps  = "extended-properties"
	relCustomProps    = "custom-properties"
	relSignature      = "origin"
	relVBAProject     = "vbaProject"
)

const (
	relBaseTransitional = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/"
	relBaseStrict       = "http://purl.oclc.org/ooxml/officeDocument/relationships/"
	relBasePackage      = "http://schemas.openxmlformats.org/package/2006/relationships/metadata/"
)

// Relationship is one entry of a part's relationship list.
type Relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr,omitempty"`
}

// Relationships is a .rels part.
type Relationships struct {
	XMLName      xml.Name       `xml:"Relationships"`
	Relationship []Relationship `xml:"Relationship"`
}

func relKind(typ string) string { return path.Base(typ) }

// byID returns the relationship with the given ID.
func (rs *Relationships) byID(id string) (Relationship, bool) {
	for _, r := range rs.Relationship {
		if r.ID == id {
			return r, true
		}
	}
	return Relationship{}, false
}

// first returns the first relationship of the given kind.
func (rs *Relationships) first(kind string) (Relationship, bool) {
	for _, r := range rs.Relationship {
		if relKind(r.Type) == kind {
			return r, true
		}
	}
	return Relationship{}, false
}

// opcPackage is the part map of an OOXML package regardless of whether
// it came from a ZIP archive or a Flat OPC document.
type opcPackage struct {
	parts     map[string][]byte
	overrides map[string]string
	defaults  map[string]string
}

func newPackage() *opcPackage {
	return &opcPackage{
		parts:     make(map[string][]byte),
		overrides: make(map[string]string),
		defaults:  make(map[string]string),
	}
}

// maxPartSize bounds a single decompressed part.
const maxPartSize = 512 << 20

func readZipPackage(data []byte) (*opcPackage, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, codec.Corruptf("open package: %v", err)
	}
	p := newPackage()
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, codec.Corruptf("open part %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, maxPartSize))
		rc.Close()
		if err != nil {
			return nil, codec.Corruptf("read part %s: %v", f.Name, err)
		}
		p.parts[strings.TrimPrefix(f.Name, "/")] = b
	}
	ct, ok := p.parts["[Content_Types].xml"]
	if !ok {
		return nil, codec.Corruptf("missing [Content_Types].xml")
	}
	delete(p.parts, "[Content_Types].xml")
	root, err := parseXML(ct)
	if err != nil {
		return nil, codec.Corruptf("content types: %v", err)
	}
	for _, d := range root.all("ct", "Default") {
		p.defaults[strings.ToLower(d.attrOr("", "Extension", ""))] = d.attrOr("", "ContentType", "")
	}
	for _, o := range root.all("ct", "Override") {
		p.overrides[strings.TrimPrefix(o.attrOr("", "PartName", ""), "/")] = o.attrOr("", "ContentType", "")
	}
	return p, nil
}

// readFlatPackage reads a Flat OPC document: every part is a pkg:part
// carrying either pkg:xmlData or base64 pkg:binaryData.
func readFlatPackage(data []byte) (*opcPackage, error) {
	root, err := parseXML(data)
	if err != nil {
		return nil, codec.Corruptf("flat package: %v", err)
	}
	if !root.is("pkg", "package") {
		return nil, codec.Corruptf("flat package: root is %s", root.name)
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	p := newPackage()
	// xmlData content must be re-serialized verbatim, so the parts are
	// cut from the raw document rather than rebuilt from the tree.
	raw, err := flatXMLParts(dec, data)
	if err != nil {
		return nil, codec.Corruptf("flat package: %v", err)
	}
	for _, part := range root.all("pkg", "part") {
		name := strings.TrimPrefix(part.attrOr("pkg", "name", ""), "/")
		if name == "" {
			continue
		}
		p.overrides[name] = part.attrOr("pkg", "contentType", "")
		switch {
		case part.child("pkg", "binaryData") != nil:
			b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(part.child("pkg", "binaryData").text), ""))
			if err != nil {
				return nil, codec.Corruptf("part %s: %v", name, err)
			}
			p.parts[name] = b
		case part.child("pkg", "xmlData") != nil:
			p.parts[name] = raw[name]
		}
	}
	return p, nil
}

// flatXMLParts extracts the inner XML of every pkg:xmlData element,
// keyed by part name, with the namespace declarations the inner root
// depends on carried over from the package root.
func flatXMLParts(dec *xml.Decoder, data []byte) (map[string][]byte, error) {
	out := make(map[string][]byte)
	var name string
	var start int64 = -1
	depth := 0
	for {
		off := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "part" {
				for _, a := range t.Attr {
					if a.Name.Local == "name" {
						name = strings.TrimPrefix(a.Value, "/")
					}
				}
			}
			if t.Name.Local == "xmlData" && start < 0 {
				start = dec.InputOffset()
				depth = 0
			}
		case xml.EndElement:
			if t.Name.Local == "xmlData" && start >= 0 && depth == 1 {
				out[name] = append([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`), data[start:off]...)
				start = -1
			}
			depth--
		}
	}
}

// contentType returns the content type of a part.
func (p *opcPackage) contentType(name string) string {
	if ct, ok := p.overrides[name]; ok {
		return ct
	}
	return p.defaults[strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")]
}

func relsPath(part string) string {
	if part == "" {
		return "_rels/.rels"
	}
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

// rels returns the relationships of a part; "" addresses the package.
func (p *opcPackage) rels(part string) (*Relationships, error) {
	rs := &Relationships{}
	b, ok := p.parts[relsPath(part)]
	if !ok {
		return rs, nil
	}
	if err := xml.Unmarshal(b, rs); err != nil {
		return nil, codec.Corruptf("relationships of %q: %v", part, err)
	}
	return rs, nil
}

// resolve turns a relationship target into a part name.
func resolve(source, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return strings.TrimPrefix(path.Join(path.Dir(source), target), "/")
}

// part returns the data of the part a relationship targets.
func (p *opcPackage) target(source string, r Relationship) ([]byte, string, bool) {
	name := resolve(source, r.Target)
	b, ok := p.parts[name]
	return b, name, ok
}

// zipEpoch is the timestamp every written entry carries so output is
// byte-for-byte reproducible.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// writeZip writes the package with parts in name order after
// [Content_Types].xml.
func (p *opcPackage) writeZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	put := func(name string, data []byte) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: zipEpoch})
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	}
	if err := put("[Content_Types].xml", p.contentTypesXML()); err != nil {
		return err
	}
	for _, name := range p.names() {
		if err := put(name, p.parts[name]); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (p *opcPackage) names() []string {
	names := make([]string, 0, len(p.parts))
	for n := range p.parts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (p *opcPackage) contentTypesXML() []byte {
	x := newXMLWriter()
	x.open("Types", "xmlns", nsCT)
	exts := make([]string, 0, len(p.defaults))
	for e := range p.defaults {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	for _, e := range exts {
		x.empty("Default", "Extension", e, "ContentType", p.defaults[e])
	}
	parts := make([]string, 0, len(p.overrides))
	for n := range p.overrides {
		parts = append(parts, n)
	}
	sort.Strings(parts)
	for _, n := range parts {
		x.empty("Override", "PartName", "/"+n, "ContentType", p.overrides[n])
	}
	x.close("Types")
	return x.Bytes()
}

// writeFlat writes the package as a single Flat OPC document. XML parts
// are embedded as pkg:xmlData, everything else as base64.
func (p *opcPackage) writeFlat(w io.Writer) error {
	x := newXMLWriter()
	x.raw(`<?mso-application progid="Word.Document"?>` + "\n")
	x.open("pkg:package", "xmlns:pkg", nsPkg)
	for _, name := range p.names() {
		ct := p.contentType(name)
		data := p.parts[name]
		isXML := strings.HasSuffix(ct, "xml") || strings.HasSuffix(name, ".rels")
		attrs := []string{"pkg:name", "/" + name, "pkg:contentType", ct}
		if !isXML {
			attrs = append(attrs, "pkg:compression", "store")
		}
		x.open("pkg:part", attrs...)
		if isXML {
			x.open("pkg:xmlData")
			x.raw(string(stripDecl(data)))
			x.close("pkg:xmlData")
		} else {
			x.open("pkg:binaryData")
			enc := base64.StdEncoding.EncodeToString(data)
			for len(enc) > 76 {
				x.raw(enc[:76] + "\n")
				enc = enc[76:]
			}
			x.raw(enc)
			x.close("pkg:binaryData")
		}
		x.close("pkg:part")
	}
	x.close("pkg:package")
	_, err := w.Write(x.Bytes())
	return err
}

func stripDecl(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if bytes.HasPrefix(b, []byte("<?xml")) {
		if i := bytes.Index(b, []byte("?>")); i >= 0 {
			return bytes.TrimSpace(b[i+2:])
		}
	}
	return b
}

// relWriter collects the relationships of one part while it is written.
type relWriter struct {
	base string
	rels []Relationship
}

func (rw *relWriter) add(kind, target string, external bool) string {
	id := fmt.Sprintf("rId%d", len(rw.rels)+1)
	r := Relationship{ID: id, Type: rw.base + kind, Target: target}
	if kind == relCoreProps {
		r.Type = relBasePackage + kind
	}
	if external {
		r.TargetMode = "External"
	}
	rw.rels = append(rw.rels, r)
	return id
}

func (rw *relWriter) bytes() []byte {
	x := newXMLWriter()
	x.open("Relationships", "xmlns", nsRels)
	for _, r := range rw.rels {
		attrs := []string{"Id", r.ID, "Type", r.Type, "Target", r.Target}
		if r.TargetMode != "" {
			attrs = append(attrs, "TargetMode", r.TargetMode)
		}
		x.empty("Relationship", attrs...)
	}
	x.close("Relationships")
	return x.Bytes()
}
