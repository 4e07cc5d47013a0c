package ooxml

import (
	"strconv"
	"strings"

	"github.com/dgallion1/docforge/internal/doctree"
)

// flavor carries the markup differences between the dialects the
// reader and writer share: transitional, strict and WordML 2003.
type flavor struct {
	strict bool
	wordml bool
}

func onOffAttr(e *element, name string) bool {
	v, ok := e.attr("w", name)
	if !ok {
		return false
	}
	switch v {
	case "1", "true", "on":
		return true
	}
	return false
}

// readRPr reads the formatting of an rPr element. Run styles are read
// separately because they resolve through the style ID table.
func readRPr(rpr *element) doctree.CharFormat {
	var f doctree.CharFormat
	if rpr == nil {
		return f
	}
	if fonts := rpr.child("w", "rFonts"); fonts != nil {
		f.FontName = fonts.attrOr("w", "ascii", fonts.attrOr("w", "hAnsi", fonts.attrOr("w", "h-ansi", "")))
	}
	if sz := rpr.child("w", "sz"); sz != nil {
		f.Size = float64(sz.intAttr("w", "val", 0)) / 2
	}
	f.Bold = onOff(rpr.child("w", "b"))
	f.Italic = onOff(rpr.child("w", "i"))
	if u := rpr.child("w", "u"); u != nil {
		f.Underline = u.val() != "none" && u.val() != "0"
	}
	f.Strike = onOff(rpr.child("w", "strike")) || onOff(rpr.child("w", "dstrike"))
	f.Hidden = onOff(rpr.child("w", "vanish"))
	if c := rpr.child("w", "color").val(); c != "" && c != "auto" {
		f.Color = strings.ToUpper(c)
	}
	if h := rpr.child("w", "highlight").val(); h != "none" {
		f.Highlight = h
	}
	switch rpr.child("w", "vertAlign").val() {
	case "superscript":
		f.VerticalAlign = doctree.Superscript
	case "subscript":
		f.VerticalAlign = doctree.Subscript
	}
	return f
}

// writeRPrBody writes the children of an rPr for f in schema order.
func (fl flavor) writeRPrBody(x *xmlWriter, f doctree.CharFormat) {
	if f.FontName != "" {
		if fl.wordml {
			x.empty("w:rFonts", "w:ascii", f.FontName, "w:h-ansi", f.FontName)
		} else {
			x.empty("w:rFonts", "w:ascii", f.FontName, "w:hAnsi", f.FontName, "w:cs", f.FontName)
		}
	}
	if f.Bold {
		x.empty("w:b")
	}
	if f.Italic {
		x.empty("w:i")
	}
	if f.Strike {
		x.empty("w:strike")
	}
	if f.Hidden {
		x.empty("w:vanish")
	}
	if f.Color != "" {
		x.empty("w:color", "w:val", f.Color)
	}
	if f.Size > 0 {
		x.empty("w:sz", "w:val", halfPts(f.Size))
	}
	if f.Highlight != "" {
		x.empty("w:highlight", "w:val", f.Highlight)
	}
	if f.Underline {
		x.empty("w:u", "w:val", "single")
	}
	switch f.VerticalAlign {
	case doctree.Superscript:
		x.empty("w:vertAlign", "w:val", "superscript")
	case doctree.Subscript:
		x.empty("w:vertAlign", "w:val", "subscript")
	}
}

func readPPrFormat(ppr *element) doctree.ParaFormat {
	var f doctree.ParaFormat
	if ppr == nil {
		return f
	}
	switch ppr.child("w", "jc").val() {
	case "center":
		f.Alignment = doctree.AlignCenter
	case "right", "end":
		f.Alignment = doctree.AlignRight
	case "both", "distribute":
		f.Alignment = doctree.AlignJustify
	}
	if ind := ppr.child("w", "ind"); ind != nil {
		f.LeftIndent = float64(ind.intAttr("w", "left", ind.intAttr("w", "start", 0))) / 20
		f.RightIndent = float64(ind.intAttr("w", "right", ind.intAttr("w", "end", 0))) / 20
		f.FirstLineIndent = float64(ind.intAttr("w", "firstLine", ind.intAttr("w", "first-line", 0))) / 20
		if h := ind.intAttr("w", "hanging", 0); h != 0 {
			f.FirstLineIndent = -float64(h) / 20
		}
	}
	if sp := ppr.child("w", "spacing"); sp != nil {
		f.SpaceBefore = fromTwips(sp, "w", "before")
		f.SpaceAfter = fromTwips(sp, "w", "after")
	}
	f.KeepWithNext = onOff(ppr.child("w", "keepNext"))
	f.PageBreakBefore = onOff(ppr.child("w", "pageBreakBefore"))
	if ol := ppr.child("w", "outlineLvl"); ol != nil {
		if lvl := ol.intAttr("w", "val", 9); lvl >= 0 && lvl < 9 {
			f.OutlineLevel = lvl + 1
		}
	}
	return f
}

// writePPrHead writes the properties that precede numPr.
func (fl flavor) writePPrHead(x *xmlWriter, f doctree.ParaFormat) {
	if f.KeepWithNext {
		x.empty("w:keepNext")
	}
	if f.PageBreakBefore {
		x.empty("w:pageBreakBefore")
	}
}

// writePPrTail writes the properties that follow numPr.
func (fl flavor) writePPrTail(x *xmlWriter, f doctree.ParaFormat) {
	if f.SpaceBefore != 0 || f.SpaceAfter != 0 {
		x.empty("w:spacing", "w:before", twips(f.SpaceBefore), "w:after", twips(f.SpaceAfter))
	}
	if f.LeftIndent != 0 || f.RightIndent != 0 || f.FirstLineIndent != 0 {
		left, right, first := "w:left", "w:right", "w:firstLine"
		switch {
		case fl.strict:
			left, right = "w:start", "w:end"
		case fl.wordml:
			first = "w:first-line"
		}
		attrs := []string{left, twips(f.LeftIndent), right, twips(f.RightIndent)}
		if f.FirstLineIndent < 0 {
			attrs = append(attrs, "w:hanging", twips(-f.FirstLineIndent))
		} else if f.FirstLineIndent > 0 {
			attrs = append(attrs, first, twips(f.FirstLineIndent))
		}
		x.empty("w:ind", attrs...)
	}
	if jc := fl.jc(f.Alignment); jc != "" {
		x.empty("w:jc", "w:val", jc)
	}
	if f.OutlineLevel > 0 {
		x.empty("w:outlineLvl", "w:val", itoa(f.OutlineLevel-1))
	}
}

func (fl flavor) jc(a doctree.Alignment) string {
	switch a {
	case doctree.AlignCenter:
		return "center"
	case doctree.AlignRight:
		if fl.strict {
			return "end"
		}
		return "right"
	case doctree.AlignJustify:
		return "both"
	}
	return ""
}

var styleTypes = map[string]doctree.StyleType{
	"paragraph": doctree.ParagraphStyle,
	"character": doctree.CharacterStyle,
	"table":     doctree.TableStyle,
	"numbering": doctree.ListStyle,
	"list":      doctree.ListStyle,
}

// readStyles merges the style definitions of a styles part into the
// document. Styles the blank document already has are updated in place
// so handles stay stable.
func (r *reader) readStyles(root *element) {
	styles := r.doc.Styles()
	type link struct {
		h doctree.StyleHandle
		e *element
	}
	var links []link
	for _, e := range root.all("w", "style") {
		id := e.attrOr("w", "styleId", "")
		name := doctree.CanonicalStyleName(e.child("w", "name").val())
		if name == "" {
			name = id
		}
		if name == "" {
			continue
		}
		t, ok := styleTypes[e.attrOr("w", "type", "paragraph")]
		if !ok {
			r.log.Warn("skipping style of unknown type", "style", name, "type", e.attrOr("w", "type", ""))
			continue
		}
		font := readRPr(e.child("w", "rPr"))
		para := readPPrFormat(e.child("w", "pPr"))
		h, exists := styles.Lookup(name, t)
		if exists {
			s := styles.Get(h)
			s.StyleID = id
			s.Font = font
			s.Paragraph = para
		} else {
			var err error
			h, err = styles.Add(doctree.Style{
				Name:      name,
				Type:      t,
				StyleID:   id,
				Font:      font,
				Paragraph: para,
				BuiltIn:   !onOffAttr(e, "customStyle"),
				Default:   onOffAttr(e, "default"),
			})
			if err != nil {
				r.log.Warn("skipping style", "style", name, "err", err)
				continue
			}
		}
		r.styleIDs[id] = h
		links = append(links, link{h, e})
	}
	for _, l := range links {
		s := styles.Get(l.h)
		s.BasedOn = r.styleIDs[l.e.child("w", "basedOn").val()]
		s.Next = r.styleIDs[l.e.child("w", "next").val()]
		s.Linked = r.styleIDs[l.e.child("w", "link").val()]
		if s.BasedOn == l.h {
			s.BasedOn = 0
		}
	}
}

// style resolves a style reference element such as w:pStyle.
func (r *reader) style(ref *element) doctree.StyleHandle {
	if ref == nil {
		return 0
	}
	id := ref.val()
	if h, ok := r.styleIDs[id]; ok {
		return h
	}
	if h, ok := r.doc.Styles().ByID(id); ok {
		return h
	}
	r.log.Warn("unknown style reference", "style", id)
	return 0
}

// assignStyleIDs gives every live style a unique identifier, keeping
// the one it was read with when possible.
func (w *writer) assignStyleIDs() {
	styles := w.doc.Styles()
	used := make(map[string]bool)
	for _, h := range styles.Handles() {
		s := styles.Get(h)
		id := s.StyleID
		if id == "" {
			id = styleIDFromName(s.Name)
		}
		base := id
		for i := 1; used[id]; i++ {
			id = base + strconv.Itoa(i)
		}
		used[id] = true
		w.styleIDs[h] = id
	}
}

func styleIDFromName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Style"
	}
	return b.String()
}

var styleTypeNames = [...]string{
	doctree.ParagraphStyle: "paragraph",
	doctree.CharacterStyle: "character",
	doctree.TableStyle:     "table",
	doctree.ListStyle:      "numbering",
}

// writeStyleDefs writes one w:style per live style.
func (w *writer) writeStyleDefs(x *xmlWriter) {
	styles := w.doc.Styles()
	for _, h := range styles.Handles() {
		s := styles.Get(h)
		typ := styleTypeNames[s.Type]
		if w.wordml && s.Type == doctree.ListStyle {
			typ = "list"
		}
		attrs := []string{"w:type", typ}
		if s.Default {
			attrs = append(attrs, "w:default", "1")
		}
		if !s.BuiltIn {
			attrs = append(attrs, "w:customStyle", "1")
		}
		attrs = append(attrs, "w:styleId", w.styleIDs[h])
		x.open("w:style", attrs...)
		x.empty("w:name", "w:val", s.Name)
		for _, ref := range []struct {
			name string
			h    doctree.StyleHandle
		}{{"w:basedOn", s.BasedOn}, {"w:next", s.Next}, {"w:link", s.Linked}} {
			if id, ok := w.styleIDs[ref.h]; ok && ref.h != 0 {
				if w.wordml && ref.name == "w:link" {
					continue
				}
				x.empty(ref.name, "w:val", id)
			}
		}
		if !s.Paragraph.IsZero() {
			x.open("w:pPr")
			w.writePPrHead(x, s.Paragraph)
			w.writePPrTail(x, s.Paragraph)
			x.close("w:pPr")
		}
		if !s.Font.IsZero() {
			x.open("w:rPr")
			w.writeRPrBody(x, s.Font)
			x.close("w:rPr")
		}
		x.close("w:style")
	}
}

func (w *writer) stylesPart() []byte {
	x := newXMLWriter()
	x.open("w:styles", "xmlns:w", w.ns(nsW, nsWStrict))
	w.writeStyleDefs(x)
	x.close("w:styles")
	return x.Bytes()
}
