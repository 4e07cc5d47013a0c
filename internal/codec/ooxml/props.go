package ooxml

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fmtidUserDefined is the property set every custom property belongs to.
const fmtidUserDefined = "{D5CDD505-2E9C-101B-9397-08002B2CF9AE}"

func parseW3CDTF(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func formatW3CDTF(t time.Time) string { return t.UTC().Truncate(time.Second).Format(time.RFC3339) }

func (r *reader) readCoreProps(root *element) {
	p := &r.doc.BuiltIn
	p.Title = root.child("dc", "title").content()
	p.Subject = root.child("dc", "subject").content()
	p.Author = root.child("dc", "creator").content()
	p.Keywords = root.child("cp", "keywords").content()
	p.Comments = root.child("dc", "description").content()
	p.Category = root.child("cp", "category").content()
	p.LastSavedBy = root.child("cp", "lastModifiedBy").content()
	p.RevisionNumber, _ = strconv.Atoi(root.child("cp", "revision").content())
	p.Created = parseW3CDTF(root.child("dcterms", "created").content())
	p.LastSaved = parseW3CDTF(root.child("dcterms", "modified").content())
}

func (r *reader) readAppProps(root *element) {
	r.doc.BuiltIn.Company = root.child("ep", "Company").content()
}

func (r *reader) readCustomProps(root *element) {
	for _, prop := range root.all("custom", "property") {
		name := prop.attrOr("", "name", "")
		if name == "" || len(prop.children) == 0 {
			continue
		}
		v := prop.children[0]
		value, ok := variantValue(v.name, v.content())
		if !ok {
			r.log.Warn("skipping custom property", "property", name, "type", v.name)
			continue
		}
		if err := r.doc.Custom.Set(name, value); err != nil {
			r.log.Warn("skipping custom property", "property", name, "err", err)
		}
	}
}

// variantValue converts a typed property value by its type name. The
// names of vt: variants and WordML dt: types overlap enough to share.
func variantValue(typ, s string) (any, bool) {
	switch typ {
	case "lpwstr", "lpstr", "bstr", "string":
		return s, true
	case "i1", "i2", "i4", "i8", "int", "ui1", "ui2", "ui4", "ui8", "uint":
		n, err := strconv.Atoi(s)
		return n, err == nil
	case "r4", "r8", "decimal", "float":
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case "bool", "boolean":
		return s == "true" || s == "1", true
	case "filetime", "date", "dateTime.tz":
		t := parseW3CDTF(s)
		return t, !t.IsZero()
	}
	return nil, false
}

func variantType(v any) (string, string) {
	switch x := v.(type) {
	case int:
		return "i4", strconv.Itoa(x)
	case float64:
		return "r8", strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "bool", strconv.FormatBool(x)
	case time.Time:
		return "filetime", formatW3CDTF(x)
	}
	return "lpwstr", fmt.Sprint(v)
}

func (r *reader) readSettings(root *element) {
	s := &r.doc.Settings
	s.TrackRevisions = onOff(root.child("w", "trackRevisions"))
	if ts := root.child("w", "defaultTabStop"); ts != nil {
		s.DefaultTabStop = fromTwips(ts, "w", "val")
	}
	for _, v := range root.child("w", "docVars").all("w", "docVar") {
		r.doc.Variables.Set(v.attrOr("w", "name", ""), v.val())
	}
}

func (w *writer) corePart() []byte {
	p := w.doc.BuiltIn
	x := newXMLWriter()
	x.open("cp:coreProperties", "xmlns:cp", nsCP, "xmlns:dc", nsDC, "xmlns:dcterms", nsDCTerms, "xmlns:xsi", nsXSI)
	for _, e := range []struct{ name, value string }{
		{"dc:title", p.Title},
		{"dc:subject", p.Subject},
		{"dc:creator", p.Author},
		{"cp:keywords", p.Keywords},
		{"dc:description", p.Comments},
		{"cp:category", p.Category},
		{"cp:lastModifiedBy", p.LastSavedBy},
	} {
		if e.value != "" {
			x.textElem(e.name, e.value)
		}
	}
	if p.RevisionNumber > 0 {
		x.textElem("cp:revision", itoa(p.RevisionNumber))
	}
	if !p.Created.IsZero() {
		x.textElem("dcterms:created", formatW3CDTF(p.Created), "xsi:type", "dcterms:W3CDTF")
	}
	if !p.LastSaved.IsZero() {
		x.textElem("dcterms:modified", formatW3CDTF(p.LastSaved), "xsi:type", "dcterms:W3CDTF")
	}
	x.close("cp:coreProperties")
	return x.Bytes()
}

func (w *writer) appPart() []byte {
	x := newXMLWriter()
	x.open("Properties", "xmlns", w.ns(nsEP, nsEPStr), "xmlns:vt", w.ns(nsVT, nsVTStr))
	x.textElem("Application", "docforge")
	if c := w.doc.BuiltIn.Company; c != "" {
		x.textElem("Company", c)
	}
	x.close("Properties")
	return x.Bytes()
}

func (w *writer) customPart() []byte {
	x := newXMLWriter()
	x.open("Properties", "xmlns", w.ns(nsCustom, nsCustStr), "xmlns:vt", w.ns(nsVT, nsVTStr))
	for i, p := range w.doc.Custom.All() {
		typ, s := variantType(p.Value)
		x.open("property", "fmtid", fmtidUserDefined, "pid", itoa(i+2), "name", p.Name)
		x.textElem("vt:"+typ, s)
		x.close("property")
	}
	x.close("Properties")
	return x.Bytes()
}

func (w *writer) settingsPart() []byte {
	x := newXMLWriter()
	x.open("w:settings", "xmlns:w", w.ns(nsW, nsWStrict))
	w.writeSettingsBody(x)
	x.close("w:settings")
	return x.Bytes()
}

// writeSettingsBody writes the settings shared by w:settings and the
// WordML w:docPr.
func (w *writer) writeSettingsBody(x *xmlWriter) {
	s := w.doc.Settings
	if s.TrackRevisions {
		x.empty("w:trackRevisions")
	}
	if s.DefaultTabStop > 0 {
		x.empty("w:defaultTabStop", "w:val", twips(s.DefaultTabStop))
	}
	if w.evenHeaders {
		x.empty("w:evenAndOddHeaders")
	}
	if vars := w.doc.Variables; vars.Len() > 0 {
		x.open("w:docVars")
		for _, k := range vars.Keys() {
			v, _ := vars.Get(k)
			x.empty("w:docVar", "w:name", k, "w:val", v)
		}
		x.close("w:docVars")
	}
}

// WordML 2003 keeps properties in an Office namespace block.

const nsDT = "uuid:C2F41010-65B3-11d1-A29F-00AA00C14882"

func (r *reader) readWordMLProps(root *element) {
	if dp := root.child("o", "DocumentProperties"); dp != nil {
		p := &r.doc.BuiltIn
		p.Title = dp.child("o", "Title").content()
		p.Subject = dp.child("o", "Subject").content()
		p.Author = dp.child("o", "Author").content()
		p.Keywords = dp.child("o", "Keywords").content()
		p.Comments = dp.child("o", "Description").content()
		p.Category = dp.child("o", "Category").content()
		p.Company = dp.child("o", "Company").content()
		p.LastSavedBy = dp.child("o", "LastAuthor").content()
		p.RevisionNumber, _ = strconv.Atoi(dp.child("o", "Revision").content())
		p.Created = parseW3CDTF(dp.child("o", "Created").content())
		p.LastSaved = parseW3CDTF(dp.child("o", "LastSaved").content())
	}
	for _, c := range root.child("o", "CustomDocumentProperties").children {
		typ := "string"
		for _, a := range c.attrs {
			if a.Name.Local == "dt" {
				typ = a.Value
			}
		}
		name := strings.ReplaceAll(c.name, "_x0020_", " ")
		if v, ok := variantValue(typ, c.content()); ok {
			if err := r.doc.Custom.Set(name, v); err != nil {
				r.log.Warn("skipping custom property", "property", name, "err", err)
			}
		}
	}
}

var wordMLTypes = map[string]string{"lpwstr": "string", "i4": "int", "r8": "float", "bool": "boolean", "filetime": "dateTime.tz"}

func (w *writer) writeWordMLProps(x *xmlWriter) {
	p := w.doc.BuiltIn
	x.open("o:DocumentProperties")
	for _, e := range []struct{ name, value string }{
		{"o:Title", p.Title},
		{"o:Subject", p.Subject},
		{"o:Author", p.Author},
		{"o:Keywords", p.Keywords},
		{"o:Description", p.Comments},
		{"o:LastAuthor", p.LastSavedBy},
		{"o:Category", p.Category},
		{"o:Company", p.Company},
	} {
		if e.value != "" {
			x.textElem(e.name, e.value)
		}
	}
	if p.RevisionNumber > 0 {
		x.textElem("o:Revision", itoa(p.RevisionNumber))
	}
	if !p.Created.IsZero() {
		x.textElem("o:Created", formatW3CDTF(p.Created))
	}
	if !p.LastSaved.IsZero() {
		x.textElem("o:LastSaved", formatW3CDTF(p.LastSaved))
	}
	x.close("o:DocumentProperties")
	if w.doc.Custom.Len() == 0 {
		return
	}
	x.open("o:CustomDocumentProperties")
	for _, prop := range w.doc.Custom.All() {
		typ, s := variantType(prop.Value)
		name := "o:" + strings.ReplaceAll(prop.Name, " ", "_x0020_")
		x.textElem(name, s, "dt:dt", wordMLTypes[typ])
	}
	x.close("o:CustomDocumentProperties")
}
