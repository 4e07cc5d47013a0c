package ooxml

import (
	"fmt"
	"strconv"

	"github.com/dgallion1/docforge/internal/doctree"
)

var numFmts = map[string]doctree.NumberStyle{
	"decimal":     doctree.NumberArabic,
	"lowerLetter": doctree.NumberLowerLetter,
	"upperLetter": doctree.NumberUpperLetter,
	"lowerRoman":  doctree.NumberLowerRoman,
	"upperRoman":  doctree.NumberUpperRoman,
	"bullet":      doctree.NumberBullet,
	"none":        doctree.NumberNone,
}

// WordML 2003 stores the number format as a numeric code.
var nfcCodes = map[doctree.NumberStyle]int{
	doctree.NumberArabic:      0,
	doctree.NumberUpperRoman:  1,
	doctree.NumberLowerRoman:  2,
	doctree.NumberUpperLetter: 3,
	doctree.NumberLowerLetter: 4,
	doctree.NumberBullet:      23,
	doctree.NumberNone:        255,
}

// numberingNames holds the element and attribute names of the numbering
// markup, which WordML 2003 spells differently.
type numberingNames struct {
	abstract, abstractID, nsid string
	num, numID, abstractRef   string
}

func (fl flavor) numbering() numberingNames {
	if fl.wordml {
		return numberingNames{"listDef", "listDefId", "lsid", "list", "ilfo", "ilst"}
	}
	return numberingNames{"abstractNum", "abstractNumId", "nsid", "num", "numId", "abstractNumId"}
}

func (fl flavor) readLevel(e *element) doctree.ListLevel {
	lvl := doctree.ListLevel{
		StartAt: e.child("w", "start").intAttr("w", "val", 1),
		Format:  e.child("w", "lvlText").val(),
	}
	if fl.wordml {
		code := e.child("w", "nfc").intAttr("w", "val", 0)
		for s, c := range nfcCodes {
			if c == code {
				lvl.NumberStyle = s
			}
		}
	} else if s, ok := numFmts[e.child("w", "numFmt").val()]; ok {
		lvl.NumberStyle = s
	}
	if ind := e.child("w", "pPr").child("w", "ind"); ind != nil {
		lvl.Indent = float64(ind.intAttr("w", "left", ind.intAttr("w", "start", 0))) / 20
	}
	if fonts := e.child("w", "rPr").child("w", "rFonts"); fonts != nil {
		lvl.FontName = fonts.attrOr("w", "ascii", "")
	}
	return lvl
}

func (fl flavor) listFromAbstract(a *element) doctree.List {
	names := fl.numbering()
	var l doctree.List
	levels := a.all("w", "lvl")
	if len(levels) == 0 {
		l = doctree.NewListFromTemplate(doctree.ListNumberDefault)
	}
	for _, lv := range levels {
		i := lv.intAttr("w", "ilvl", 0)
		if i >= 0 && i < doctree.MaxListLevels {
			l.Levels[i] = fl.readLevel(lv)
		}
	}
	if id, err := strconv.ParseUint(a.child("w", names.nsid).val(), 16, 32); err == nil {
		l.ID = int(id)
	}
	return l
}

// readNumbering registers one list per numbering instance. Instances
// that share a definition and carry no overrides number as one list.
func (r *reader) readNumbering(root *element) {
	names := r.numbering()
	abstracts := make(map[string]*element)
	for _, a := range root.all("w", names.abstract) {
		abstracts[a.attrOr("w", names.abstractID, "")] = a
	}
	shared := make(map[string]doctree.ListHandle)
	for _, n := range root.all("w", names.num) {
		numID := n.attrOr("w", names.numID, "")
		absID := n.child("w", names.abstractRef).val()
		a, ok := abstracts[absID]
		if !ok {
			r.log.Warn("numbering instance without definition", "num", numID, "definition", absID)
			continue
		}
		overrides := n.all("w", "lvlOverride")
		if len(overrides) == 0 {
			if h, ok := shared[absID]; ok {
				r.numIDs[numID] = h
				continue
			}
		}
		l := r.listFromAbstract(a)
		for _, o := range overrides {
			i := o.intAttr("w", "ilvl", 0)
			if i < 0 || i >= doctree.MaxListLevels {
				continue
			}
			if lv := o.child("w", "lvl"); lv != nil {
				l.Levels[i] = r.readLevel(lv)
			}
			if so := o.child("w", "startOverride"); so != nil {
				l.Levels[i].StartAt = so.intAttr("w", "val", 1)
			}
		}
		h := r.doc.Lists().Add(l)
		if len(overrides) == 0 {
			shared[absID] = h
		}
		r.numIDs[numID] = h
	}
}

// writeNumberingDefs writes one definition and one instance per list.
// The list ID becomes the definition's nsid so identity survives a
// round trip.
func (w *writer) writeNumberingDefs(x *xmlWriter) {
	names := w.numbering()
	lists := w.doc.Lists()
	handles := lists.Handles()
	for i, h := range handles {
		l := lists.Get(h)
		x.open("w:"+names.abstract, "w:"+names.abstractID, itoa(i))
		x.empty("w:"+names.nsid, "w:val", fmt.Sprintf("%08X", uint32(l.ID)))
		if !w.wordml {
			x.empty("w:multiLevelType", "w:val", "hybridMultilevel")
		}
		for j, lvl := range l.Levels {
			w.writeLevel(x, j, lvl)
		}
		x.close("w:" + names.abstract)
	}
	for i, h := range handles {
		x.open("w:"+names.num, "w:"+names.numID, itoa(i+1))
		x.empty("w:"+names.abstractRef, "w:val", itoa(i))
		x.close("w:" + names.num)
		w.numIDs[h] = i + 1
	}
}

func (w *writer) writeLevel(x *xmlWriter, i int, lvl doctree.ListLevel) {
	x.open("w:lvl", "w:ilvl", itoa(i))
	x.empty("w:start", "w:val", itoa(lvl.StartAt))
	if w.wordml {
		x.empty("w:nfc", "w:val", itoa(nfcCodes[lvl.NumberStyle]))
	} else {
		x.empty("w:numFmt", "w:val", lvl.NumberStyle.String())
	}
	x.empty("w:lvlText", "w:val", lvl.Format)
	x.empty("w:lvlJc", "w:val", "left")
	if lvl.Indent > 0 {
		x.open("w:pPr")
		left := "w:left"
		if w.strict {
			left = "w:start"
		}
		x.empty("w:ind", left, twips(lvl.Indent), "w:hanging", "360")
		x.close("w:pPr")
	}
	if lvl.FontName != "" {
		x.open("w:rPr")
		w.writeRPrBody(x, doctree.CharFormat{FontName: lvl.FontName})
		x.close("w:rPr")
	}
	x.close("w:lvl")
}

func (w *writer) numberingPart() []byte {
	x := newXMLWriter()
	x.open("w:numbering", "xmlns:w", w.ns(nsW, nsWStrict))
	w.writeNumberingDefs(x)
	x.close("w:numbering")
	return x.Bytes()
}
