// Package rtf reads and writes Rich Text Format documents.
package rtf

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/text/encoding"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Decoder reads RTF.
type Decoder struct{}

type destination int

const (
	destBody destination = iota
	destSkip
	destFontTable
	destColorTable
	destStyleSheet
	destInfo
	// destCollect appends text to the group's buffer.
	destCollect
	destDocVar
	destListTable
	destListLevel
	destLevelText
	destOverrideTable
	destFieldInst
	destPict
	destRevTable
	destUserProps
	destUserProp
)

type paraState struct {
	format  doctree.ParaFormat
	style   doctree.StyleHandle
	ls      int
	ilvl    int
	inTable bool
	// rule is a bottom paragraph border, read as a horizontal rule on
	// empty paragraphs.
	rule bool
}

type groupState struct {
	dest      destination
	char      doctree.CharFormat
	charStyle doctree.StyleHandle
	para      paraState
	rev       doctree.RevisionMark
	uc        int
	font      int
	buf       *strings.Builder
	// starred is set by \* until the next control word.
	starred bool
	onEnd   func()
}

type fontEntry struct {
	name     string
	charset  int
	codePage int
}

type styleEntry struct {
	index   int
	typ     doctree.StyleType
	basedOn int
	next    int
	name    strings.Builder
	font    doctree.CharFormat
	para    doctree.ParaFormat
}

type cellDef struct {
	vmerge, hmerge doctree.CellMerge
	right          int
	shading        string
}

// story is a text flow with its own table state: the body, a header
// or footer, or a footnote.
type story struct {
	tables bool
	// table is true while a builder table is open.
	table    bool
	cellOpen bool
	rowCells int
	defs     []cellDef
	pending  cellDef
	// rowHeader is \trhdr of the current row definition.
	rowHeader bool
	// parEnded is set when the cursor paragraph was created by \par.
	parEnded bool
}

type storyFrame struct {
	para  *doctree.Paragraph
	story *story
}

type fieldFrame struct {
	code strings.Builder
	sep  bool
	t    doctree.FieldType
}

type pictState struct {
	typ            doctree.ImageType
	hex            bytes.Buffer
	bin            []byte
	goalW, goalH   int
	scaleX, scaleY int
}

type decoder struct {
	ctx  context.Context
	opts codec.LoadOptions
	doc  *doctree.Document
	b    *doctree.Builder

	stack []groupState
	// pending holds code page bytes not yet converted to text.
	pending []byte
	skip    int
	high    rune

	codePage int
	deff     int
	fonts    map[int]fontEntry
	curFont  *fontEntry
	fontIdx  int
	colors   []string
	curColor [3]int
	colorSet bool

	styles     []*styleEntry
	curStyle   *styleEntry
	paraStyles map[int]doctree.StyleHandle
	charStyles map[int]doctree.StyleHandle

	curList   *doctree.List
	listID    int
	levelIdx  int
	curLevel  *doctree.ListLevel
	lists     map[int]doctree.ListHandle
	overrides map[int]doctree.ListHandle
	ovListID  int
	ovLS      int

	authors   []string
	authorBuf strings.Builder

	story  *story
	frames []storyFrame
	note   *doctree.Footnote
	fields []*fieldFrame
	pict   *pictState

	docSetup doctree.PageSetup
	timeVals map[string]int
	varParts []string
	prop     struct {
		name, val string
		typ       int
	}
	warned map[string]bool
}

func (Decoder) Decode(ctx context.Context, r io.Reader, opts codec.LoadOptions) (*doctree.Document, error) {
	if opts.Specific != nil {
		return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts.Specific, codec.RTF)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rtf: %w", err)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(`{\rtf`)) {
		return nil, codec.Corruptf("missing {\\rtf header")
	}
	d := &decoder{
		ctx:        ctx,
		opts:       opts,
		doc:        doctree.NewDocument(),
		codePage:   1252,
		fonts:      make(map[int]fontEntry),
		paraStyles: make(map[int]doctree.StyleHandle),
		charStyles: make(map[int]doctree.StyleHandle),
		lists:      make(map[int]doctree.ListHandle),
		overrides:  make(map[int]doctree.ListHandle),
		story:      &story{tables: true},
		docSetup:   doctree.DefaultPageSetup(),
		warned:     make(map[string]bool),
	}
	d.b = doctree.NewBuilder(d.doc)
	if err := d.run(data); err != nil {
		return nil, err
	}
	return d.doc, nil
}

func (d *decoder) run(data []byte) error {
	lx := &lexer{src: data}
	d.stack = []groupState{{uc: 1}}
	depth := 0
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := d.ctx.Err(); err != nil {
				return fmt.Errorf("%w: %w", codec.ErrCanceled, err)
			}
		}
		t := lx.next()
		if t.kind != tokText && !(t.kind == tokWord && t.word == "'") {
			d.flush()
		}
		switch t.kind {
		case tokEOF:
			if depth > 0 {
				d.opts.Log().Warn("rtf ends inside an open group", "depth", depth)
				for len(d.stack) > 1 {
					d.pop()
				}
			}
			d.endStory()
			return nil
		case tokGroupStart:
			d.push()
			depth++
		case tokGroupEnd:
			if depth == 0 {
				continue
			}
			d.pop()
			depth--
			if depth == 0 {
				d.endStory()
				return nil
			}
		case tokText:
			d.textBytes(t.data)
		case tokBinary:
			if d.top().dest == destPict {
				d.pict.bin = append(d.pict.bin, t.data...)
			}
		case tokWord:
			d.word(t)
		}
	}
}

func (d *decoder) top() *groupState { return &d.stack[len(d.stack)-1] }

func (d *decoder) push() {
	parent := d.top()
	child := *parent
	child.onEnd = nil
	child.starred = false
	d.skip = 0
	switch parent.dest {
	case destFontTable:
		d.curFont = &fontEntry{charset: -1}
	case destStyleSheet:
		d.curStyle = &styleEntry{typ: doctree.ParagraphStyle, basedOn: -1, next: -1}
		child.char, child.para = doctree.CharFormat{}, paraState{}
	case destDocVar:
		buf := new(strings.Builder)
		child.dest, child.buf = destCollect, buf
		child.onEnd = func() { d.varParts = append(d.varParts, buf.String()) }
	case destUserProps:
		child.dest = destUserProp
		d.prop.name, d.prop.val, d.prop.typ = "", "", 30
		child.onEnd = d.endUserProp
	}
	d.stack = append(d.stack, child)
}

func (d *decoder) pop() {
	d.flush()
	if end := d.top().onEnd; end != nil {
		end()
	}
	d.stack = d.stack[:len(d.stack)-1]
	d.skip = 0
}

func (d *decoder) warnOnce(key, msg string, args ...any) {
	if d.warned[key] {
		return
	}
	d.warned[key] = true
	d.opts.Log().Warn(msg, args...)
}

// encoding returns the code page of the current font.
func (d *decoder) encoding() (encoding.Encoding, bool) {
	f, ok := d.fonts[d.top().font]
	switch {
	case ok && f.charset == symbolCharset:
		return nil, true
	case ok && f.codePage > 0:
		return codePage(f.codePage), false
	case ok && f.charset >= 0:
		if cp, ok := charsetCodePages[f.charset]; ok {
			return codePage(cp), false
		}
	}
	return codePage(d.codePage), false
}

func (d *decoder) textBytes(b []byte) {
	st := d.top()
	switch st.dest {
	case destSkip:
		return
	case destPict:
		for _, c := range b {
			if _, ok := hexVal(c); ok {
				d.pict.hex.WriteByte(c)
			}
		}
		return
	}
	for _, c := range b {
		if d.skip > 0 {
			d.skip--
			continue
		}
		d.pending = append(d.pending, c)
	}
}

// flush converts buffered code page bytes into text.
func (d *decoder) flush() {
	if len(d.pending) == 0 {
		return
	}
	enc, symbol := d.encoding()
	s := decodeBytes(d.pending, enc, symbol)
	d.pending = d.pending[:0]
	d.emit(s)
}

// emit delivers decoded text to the current destination.
func (d *decoder) emit(s string) {
	st := d.top()
	switch st.dest {
	case destBody:
		d.addText(s)
	case destFontTable:
		for _, r := range s {
			if d.curFont == nil {
				d.curFont = &fontEntry{charset: -1}
			}
			if r == ';' {
				d.curFont.name = strings.TrimSpace(d.curFont.name)
				d.fonts[d.fontIdx] = *d.curFont
				d.curFont = nil
				continue
			}
			d.curFont.name += string(r)
		}
	case destColorTable:
		for _, r := range s {
			if r != ';' {
				continue
			}
			c := ""
			if d.colorSet {
				c = fmt.Sprintf("%02X%02X%02X", d.curColor[0], d.curColor[1], d.curColor[2])
			}
			d.colors = append(d.colors, c)
			d.curColor, d.colorSet = [3]int{}, false
		}
	case destStyleSheet:
		if d.curStyle == nil {
			return
		}
		for _, r := range s {
			if r == ';' {
				d.commitStyle()
				continue
			}
			d.curStyle.name.WriteRune(r)
		}
	case destRevTable:
		for _, r := range s {
			if r == ';' {
				d.authors = append(d.authors, strings.TrimSpace(d.authorBuf.String()))
				d.authorBuf.Reset()
				continue
			}
			d.authorBuf.WriteRune(r)
		}
	case destCollect, destFieldInst, destLevelText:
		if st.buf != nil {
			st.buf.WriteString(s)
		}
	}
}

func (d *decoder) commitStyle() {
	e := d.curStyle
	d.curStyle = nil
	st := d.top()
	e.font = st.char
	e.para = st.para.format
	d.styles = append(d.styles, e)
}

func (d *decoder) unicode(n int) {
	if n < 0 {
		n += 65536
	}
	r := rune(n)
	switch {
	case r >= 0xD800 && r < 0xDC00:
		d.high = r
		r = 0
	case r >= 0xDC00 && r < 0xE000 && d.high != 0:
		r = utf16.DecodeRune(d.high, r)
		d.high = 0
	default:
		d.high = 0
	}
	if r != 0 {
		d.emit(string(r))
	}
	d.skip = d.top().uc
}

// word dispatches a control word or symbol.
func (d *decoder) word(t token) {
	st := d.top()
	if st.dest == destSkip {
		return
	}
	if t.word == "*" {
		st.starred = true
		return
	}
	starred := st.starred
	st.starred = false
	switch {
	case t.word == "'":
		d.hexByte(t.param)
		return
	case t.word == "u" && t.hasParam:
		d.unicode(t.param)
		return
	}
	for _, handle := range []func(token) bool{
		d.destinationWord, d.charWord, d.paraWord, d.sectionWord,
		d.tableWord, d.tableDefWord, d.specialWord, d.metaWord,
	} {
		if handle(t) {
			return
		}
	}
	if starred {
		d.top().dest = destSkip
	}
}

func (d *decoder) hexByte(v int) {
	st := d.top()
	switch st.dest {
	case destSkip:
		return
	case destPict:
		fmt.Fprintf(&d.pict.hex, "%02x", v)
		return
	case destLevelText:
		if v < 0x20 {
			d.flush()
			if st.buf != nil {
				st.buf.WriteRune(rune(v))
			}
			return
		}
	}
	if d.skip > 0 {
		d.skip--
		return
	}
	d.pending = append(d.pending, byte(v))
}

// skippedDestinations hold content that is not part of the text flow.
var skippedDestinations = map[string]bool{
	"pntext": true, "pntxta": true, "pntxtb": true, "listtext": true, "nonesttables": true,
	"nonshppict": true, "xe": true, "tc": true, "template": true, "txe": true,
	"ftnsep": true, "ftnsepc": true, "aftnsep": true, "aftnsepc": true, "ftncn": true,
	"do": true, "shpinst": true, "levelnumbers": true, "printim": true, "buptim": true,
	"manager": true, "hlinkbase": true, "objdata": true, "themedata": true,
	"colorschememapping": true, "latentstyles": true, "datastore": true, "xmlnstbl": true,
	"rsidtbl": true, "generator": true, "mmathPr": true, "pgdsctbl": true,
	"listpicture": true, "filetbl": true,
}

var infoFields = map[string]func(*doctree.BuiltInProperties, string){
	"title":    func(p *doctree.BuiltInProperties, s string) { p.Title = s },
	"subject":  func(p *doctree.BuiltInProperties, s string) { p.Subject = s },
	"author":   func(p *doctree.BuiltInProperties, s string) { p.Author = s },
	"keywords": func(p *doctree.BuiltInProperties, s string) { p.Keywords = s },
	"doccomm":  func(p *doctree.BuiltInProperties, s string) { p.Comments = s },
	"operator": func(p *doctree.BuiltInProperties, s string) { p.LastSavedBy = s },
	"category": func(p *doctree.BuiltInProperties, s string) { p.Category = s },
	"company":  func(p *doctree.BuiltInProperties, s string) { p.Company = s },
}

func (d *decoder) collect(st *groupState, done func(string)) {
	buf := new(strings.Builder)
	st.dest, st.buf = destCollect, buf
	st.onEnd = func() { done(strings.TrimSpace(buf.String())) }
}

// destinationWord handles words that change where a group's content
// goes.
func (d *decoder) destinationWord(t token) bool {
	st := d.top()
	w := t.word
	if skippedDestinations[w] {
		st.dest = destSkip
		return true
	}
	switch w {
	case "fonttbl":
		st.dest = destFontTable
	case "colortbl":
		st.dest = destColorTable
	case "stylesheet":
		st.dest = destStyleSheet
		st.onEnd = d.resolveStyles
	case "info":
		st.dest = destInfo
	case "creatim", "revtim":
		d.timeVals = make(map[string]int)
		st.dest = destCollect
		st.onEnd = func() {
			at := infoTime(d.timeVals)
			if w == "creatim" {
				d.doc.BuiltIn.Created = at
			} else {
				d.doc.BuiltIn.LastSaved = at
			}
		}
	case "docvar":
		st.dest = destDocVar
		d.varParts = nil
		st.onEnd = func() {
			if len(d.varParts) >= 2 && d.varParts[0] != "" {
				d.doc.Variables.Set(d.varParts[0], d.varParts[1])
			}
		}
	case "userprops":
		st.dest = destUserProps
	case "propname":
		d.collect(st, func(s string) { d.prop.name = s })
	case "staticval":
		d.collect(st, func(s string) { d.prop.val = s })
	case "listtable":
		st.dest = destListTable
	case "list":
		if st.dest != destListTable {
			return false
		}
		d.curList, d.listID, d.levelIdx = &doctree.List{}, 0, 0
		st.onEnd = d.endList
	case "listlevel":
		d.curLevel = &doctree.ListLevel{StartAt: 1}
		st.dest = destListLevel
		st.onEnd = d.endListLevel
	case "leveltext":
		buf := new(strings.Builder)
		st.dest, st.buf = destLevelText, buf
		st.onEnd = func() {
			if d.curLevel != nil {
				d.curLevel.Format = levelFormat(buf.String())
			}
		}
	case "listoverridetable":
		st.dest = destOverrideTable
	case "listoverride":
		d.ovListID, d.ovLS = 0, 0
		st.onEnd = func() {
			if h, ok := d.lists[d.ovListID]; ok && d.ovLS > 0 {
				d.overrides[d.ovLS] = h
			}
		}
	case "revtbl":
		st.dest = destRevTable
	case "field":
		if st.dest != destBody {
			st.dest = destSkip
			return true
		}
		d.fields = append(d.fields, &fieldFrame{})
		st.onEnd = d.endField
	case "fldinst":
		if len(d.fields) == 0 {
			st.dest = destSkip
			return true
		}
		f := d.fields[len(d.fields)-1]
		st.dest, st.buf = destFieldInst, &f.code
	case "fldrslt":
		if len(d.fields) == 0 {
			return true
		}
		d.fieldResult(d.fields[len(d.fields)-1])
		st.dest = destBody
	case "bkmkstart", "bkmkend":
		if len(d.stack) < 2 || d.stack[len(d.stack)-2].dest != destBody {
			st.dest = destSkip
			return true
		}
		d.collect(st, func(name string) {
			if name == "" {
				return
			}
			d.ensureContent()
			if w == "bkmkstart" {
				d.b.StartBookmark(name)
			} else {
				d.b.EndBookmark(name)
			}
		})
	case "footnote":
		if st.dest != destBody || len(d.frames) > 0 {
			st.dest = destSkip
			return true
		}
		d.ensureContent()
		f := d.b.InsertFootnote(doctree.FootnoteKindFootnote, "")
		d.note = f
		d.enterStory(doctree.ChildrenOf[*doctree.Paragraph](f.Node)[0], false)
		st.para = paraState{}
		st.onEnd = d.exitStory
	case "header", "headerr", "headerl", "headerf", "footer", "footerr", "footerl", "footerf":
		if st.dest != destBody || len(d.frames) > 0 {
			st.dest = destSkip
			return true
		}
		d.enterHeaderFooter(headerFooterTypes[w])
		st.para = paraState{}
		st.onEnd = d.exitStory
	case "pict":
		if st.dest != destBody {
			st.dest = destSkip
			return true
		}
		d.pict = &pictState{scaleX: 100, scaleY: 100}
		st.dest = destPict
		st.onEnd = d.endPict
	case "shppict", "result":
	case "shp":
		d.warnOnce("shp", "importing drawing shapes from their fallback result")
	case "annotation", "atnid", "atnauthor", "atndate", "atnref", "atnparent", "atrfstart", "atrfend":
		d.warnOnce("annotation", "dropping rtf comments")
		st.dest = destSkip
	default:
		if _, ok := infoFields[w]; ok && st.dest == destInfo {
			set := infoFields[w]
			d.collect(st, func(s string) { set(&d.doc.BuiltIn, s) })
			return true
		}
		return false
	}
	return true
}

var headerFooterTypes = map[string]doctree.HeaderFooterType{
	"header": doctree.HeaderPrimary, "headerr": doctree.HeaderPrimary,
	"headerl": doctree.HeaderEven, "headerf": doctree.HeaderFirst,
	"footer": doctree.FooterPrimary, "footerr": doctree.FooterPrimary,
	"footerl": doctree.FooterEven, "footerf": doctree.FooterFirst,
}

func infoTime(v map[string]int) time.Time {
	if v["yr"] == 0 {
		return time.Time{}
	}
	return time.Date(v["yr"], time.Month(max(v["mo"], 1)), max(v["dy"], 1), v["hr"], v["min"], v["sec"], 0, time.UTC)
}

func (d *decoder) endUserProp() {
	if d.prop.name == "" {
		return
	}
	var v any = d.prop.val
	switch d.prop.typ {
	case 3:
		if n, err := strconv.Atoi(d.prop.val); err == nil {
			v = n
		}
	case 5:
		if f, err := strconv.ParseFloat(d.prop.val, 64); err == nil {
			v = f
		}
	case 11:
		v = d.prop.val == "1"
	case 64:
		if at, err := time.Parse(time.RFC3339, d.prop.val); err == nil {
			v = at
		}
	}
	if err := d.doc.Custom.Set(d.prop.name, v); err != nil {
		d.opts.Log().Warn("dropping custom property", "name", d.prop.name, "err", err)
	}
}

// levelFormat turns leveltext into a list label format. The first
// character is the length; characters below 0x20 are level numbers.
func levelFormat(s string) string {
	rs := []rune(s)
	if len(rs) > 0 {
		rs = rs[1:]
	}
	var b strings.Builder
	for _, r := range rs {
		switch {
		case r == ';':
		case r < 0x20:
			b.WriteString("%" + strconv.Itoa(int(r)+1))
		case r >= 0xF000 && r <= 0xF0FF:
			if sr, ok := symbolRunes[byte(r)]; ok {
				b.WriteRune(sr)
			} else {
				b.WriteRune(r - 0xF000)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var numberFormats = map[int]doctree.NumberStyle{
	0: doctree.NumberArabic, 1: doctree.NumberUpperRoman, 2: doctree.NumberLowerRoman,
	3: doctree.NumberUpperLetter, 4: doctree.NumberLowerLetter, 23: doctree.NumberBullet,
	255: doctree.NumberNone,
}

func (d *decoder) endListLevel() {
	if d.curList != nil && d.curLevel != nil && d.levelIdx < doctree.MaxListLevels {
		d.curList.Levels[d.levelIdx] = *d.curLevel
		d.levelIdx++
	}
	d.curLevel = nil
}

func (d *decoder) endList() {
	if d.curList == nil {
		return
	}
	l := *d.curList
	l.ID = d.listID
	d.lists[d.listID] = d.doc.Lists().Add(l)
	d.curList = nil
}

func (d *decoder) resolveStyles() {
	styles := d.doc.Styles()
	handles := make([]doctree.StyleHandle, len(d.styles))
	for i, e := range d.styles {
		name := doctree.CanonicalStyleName(strings.TrimSpace(e.name.String()))
		if name == "" {
			continue
		}
		h, ok := styles.Lookup(name, e.typ)
		if ok {
			s := styles.Get(h)
			s.Font, s.Paragraph = e.font, e.para
		} else {
			var err error
			h, err = styles.Add(doctree.Style{Name: name, Type: e.typ, Font: e.font, Paragraph: e.para})
			if err != nil {
				d.opts.Log().Warn("skipping style", "name", name, "err", err)
				continue
			}
		}
		handles[i] = h
		switch e.typ {
		case doctree.ParagraphStyle:
			d.paraStyles[e.index] = h
		case doctree.CharacterStyle:
			d.charStyles[e.index] = h
		}
	}
	byIndex := func(typ doctree.StyleType, idx int) doctree.StyleHandle {
		if idx < 0 {
			return 0
		}
		if typ == doctree.CharacterStyle {
			return d.charStyles[idx]
		}
		return d.paraStyles[idx]
	}
	for i, e := range d.styles {
		if handles[i] == 0 {
			continue
		}
		s := styles.Get(handles[i])
		if b := byIndex(e.typ, e.basedOn); b != handles[i] {
			s.BasedOn = b
		}
		s.Next = byIndex(e.typ, e.next)
	}
	d.styles = nil
}

// story handling

func (d *decoder) enterStory(p *doctree.Paragraph, tables bool) {
	d.frames = append(d.frames, storyFrame{para: d.b.CurrentParagraph(), story: d.story})
	d.story = &story{tables: tables}
	if err := d.b.MoveTo(p.Node); err != nil {
		panic(err)
	}
}

func (d *decoder) enterHeaderFooter(t doctree.HeaderFooterType) {
	d.closeTable()
	d.frames = append(d.frames, storyFrame{para: d.b.CurrentParagraph(), story: d.story})
	d.story = &story{tables: true}
	if sec := d.currentSection(); sec != nil {
		if hf := sec.HeaderFooter(t); hf != nil {
			hf.RemoveAllChildren()
		}
	}
	d.b.MoveToHeaderFooter(t)
}

func (d *decoder) exitStory() {
	d.endStory()
	f := d.frames[len(d.frames)-1]
	d.frames = d.frames[:len(d.frames)-1]
	d.story = f.story
	if err := d.b.MoveTo(f.para.Node); err != nil {
		panic(err)
	}
}

// endStory closes open tables and drops the empty paragraph a final
// \par leaves behind.
func (d *decoder) endStory() {
	d.closeTable()
	if !d.dropTrailing() {
		d.finishParagraph()
	}
}

func (d *decoder) dropTrailing() bool {
	p := d.b.CurrentParagraph()
	if !d.story.parEnded || p.HasChildNodes() {
		return false
	}
	prev := p.Node.PreviousSibling()
	if prev == nil || prev.Type() != doctree.ParagraphNode {
		return false
	}
	if err := d.b.MoveTo(prev); err != nil {
		return false
	}
	if err := p.Node.Remove(); err != nil {
		panic(err)
	}
	d.story.parEnded = false
	return true
}

func (d *decoder) currentSection() *doctree.Section {
	if n := d.b.CurrentParagraph().Node.Ancestor(doctree.SectionNode); n != nil {
		return n.Data().(*doctree.Section)
	}
	return nil
}

// finishParagraph applies the paragraph state to the cursor paragraph.
func (d *decoder) finishParagraph() {
	st := d.top()
	p := d.b.CurrentParagraph()
	p.Format = st.para.format
	p.Style = st.para.style
	p.ListFormat = doctree.ListFormat{}
	if h, ok := d.overrides[st.para.ls]; ok {
		p.ListFormat = doctree.ListFormat{List: h, Level: min(max(st.para.ilvl, 0), doctree.MaxListLevels-1)}
	}
	if st.para.rule && !p.HasChildNodes() {
		d.b.InsertHorizontalRule()
	}
}

// ensureContent opens or closes table structure for the paragraph
// state before content is written.
func (d *decoder) ensureContent() {
	s := d.story
	s.parEnded = false
	if !(d.top().para.inTable && s.tables) {
		d.closeTable()
		return
	}
	if !s.table {
		d.b.StartTable()
		s.table = true
	}
	if !s.cellOpen {
		if _, err := d.b.InsertCell(); err != nil {
			panic(err)
		}
		s.cellOpen = true
		s.rowCells++
	}
}

func (d *decoder) closeTable() {
	s := d.story
	if !s.table {
		return
	}
	if s.cellOpen {
		d.finishParagraph()
		s.cellOpen = false
	}
	d.endRow()
	if _, err := d.b.EndTable(); err != nil {
		panic(err)
	}
	s.table = false
}

func (d *decoder) endRow() {
	s := d.story
	if s.rowCells == 0 {
		return
	}
	s.rowCells = 0
	row, err := d.b.EndRow()
	if err != nil {
		return
	}
	prev := 0
	for i, c := range row.Cells() {
		if i >= len(s.defs) {
			break
		}
		def := s.defs[i]
		c.VerticalMerge, c.HorizontalMerge, c.Shading = def.vmerge, def.hmerge, def.shading
		if def.right > prev {
			c.Width = float64(def.right-prev) / 20
		}
		prev = def.right
	}
	row.HeadingFormat = s.rowHeader
}

func (d *decoder) addText(s string) {
	if s == "" {
		return
	}
	d.ensureContent()
	st := d.top()
	p := d.b.CurrentParagraph()
	if last := p.Node.LastChild(); last != nil {
		if r, ok := last.Data().(*doctree.Run); ok && r.Format == st.char && r.Style == st.charStyle && r.Revision() == st.rev {
			r.SetText(r.Text() + s)
			return
		}
	}
	r := doctree.NewRun(d.doc, s)
	r.Format = st.char
	r.Style = st.charStyle
	r.SetRevision(st.rev)
	if err := p.AppendChild(r.Node); err != nil {
		panic(err)
	}
}

func (d *decoder) appendInline(n *doctree.Node) {
	d.ensureContent()
	if err := d.b.CurrentParagraph().AppendChild(n); err != nil {
		panic(err)
	}
}

func (d *decoder) fieldResult(f *fieldFrame) {
	code := f.code.String()
	f.t = doctree.FieldTypeFromCode(code)
	d.appendInline(doctree.NewFieldStart(d.doc, f.t).Node)
	d.appendInline(doctree.NewRun(d.doc, code).Node)
	d.appendInline(doctree.NewFieldSeparator(d.doc, f.t).Node)
	f.sep = true
}

func (d *decoder) endField() {
	f := d.fields[len(d.fields)-1]
	d.fields = d.fields[:len(d.fields)-1]
	if !f.sep {
		code := f.code.String()
		if strings.TrimSpace(code) == "" {
			return
		}
		f.t = doctree.FieldTypeFromCode(code)
		d.appendInline(doctree.NewFieldStart(d.doc, f.t).Node)
		d.appendInline(doctree.NewRun(d.doc, code).Node)
	}
	d.appendInline(doctree.NewFieldEnd(d.doc, f.t, f.sep).Node)
}

func (d *decoder) endPict() {
	p := d.pict
	d.pict = nil
	if d.opts.SkipImages {
		d.warnOnce("skip-images", "skipping rtf pictures")
		return
	}
	data := p.bin
	if len(data) == 0 {
		raw := p.hex.Bytes()
		if len(raw)%2 == 1 {
			raw = raw[:len(raw)-1]
		}
		data = make([]byte, hex.DecodedLen(len(raw)))
		if _, err := hex.Decode(data, raw); err != nil {
			d.opts.Log().Warn("dropping picture with bad hex data", "err", err)
			return
		}
	}
	if len(data) == 0 {
		return
	}
	var shape *doctree.Shape
	switch p.typ {
	case doctree.ImageWMF, doctree.ImageEMF:
		shape = doctree.NewShape(d.doc, doctree.ShapeImage)
		shape.Image = &doctree.ImageData{Data: data, Type: p.typ}
		if p.typ == doctree.ImageWMF {
			if w, h, ok := wmfSize(data); ok {
				shape.Width, shape.Height = float64(w)*72/96, float64(h)*72/96
			}
		}
	default:
		s, err := doctree.NewImageShape(d.doc, data)
		if err != nil {
			d.opts.Log().Warn("dropping unreadable picture", "err", err)
			return
		}
		shape = s
	}
	if p.goalW > 0 && p.goalH > 0 {
		shape.Width = float64(p.goalW) / 20 * float64(p.scaleX) / 100
		shape.Height = float64(p.goalH) / 20 * float64(p.scaleY) / 100
	}
	d.appendInline(shape.Node)
}

// charWord handles character formatting.
func (d *decoder) charWord(t token) bool {
	st := d.top()
	on := !t.hasParam || t.param != 0
	f := &st.char
	switch t.word {
	case "plain":
		st.char, st.charStyle, st.rev = doctree.CharFormat{}, 0, doctree.RevisionMark{}
	case "b":
		f.Bold = on
	case "i":
		f.Italic = on
	case "ul", "uld", "uldb", "ulw", "uldash", "ulwave", "ulth":
		f.Underline = on
	case "ulnone":
		f.Underline = false
	case "strike", "striked":
		f.Strike = on
	case "v":
		f.Hidden = on
	case "super":
		f.VerticalAlign = doctree.Superscript
	case "sub":
		f.VerticalAlign = doctree.Subscript
	case "nosupersub":
		f.VerticalAlign = doctree.Baseline
	case "fs":
		if t.param > 0 {
			f.Size = float64(t.param) / 2
		}
	case "cf":
		f.Color = d.color(t.param)
	case "highlight":
		f.Highlight = highlightNames[d.color(t.param)]
	case "f":
		if st.dest == destFontTable {
			d.fontIdx = t.param
			if d.curFont == nil {
				d.curFont = &fontEntry{charset: -1}
			}
			return true
		}
		if st.dest == destListLevel {
			if fe, ok := d.fonts[t.param]; ok && d.curLevel != nil {
				d.curLevel.FontName = fe.name
			}
			return true
		}
		st.font = t.param
		f.FontName = ""
		if fe, ok := d.fonts[t.param]; ok && t.param != d.deff {
			f.FontName = fe.name
		}
	case "cs":
		if st.dest == destStyleSheet && d.curStyle != nil {
			d.curStyle.index, d.curStyle.typ = t.param, doctree.CharacterStyle
			return true
		}
		st.charStyle = d.charStyles[t.param]
	case "revised":
		st.rev.Type = doctree.Insertion
	case "deleted":
		st.rev.Type = doctree.Deletion
	case "revauth", "revauthdel":
		if t.param >= 0 && t.param < len(d.authors) {
			st.rev.Author = d.authors[t.param]
		}
	case "revdttm", "revdttmdel":
		st.rev.Date = fromDTTM(t.param)
	default:
		return false
	}
	return true
}

func (d *decoder) color(i int) string {
	if i > 0 && i < len(d.colors) {
		return d.colors[i]
	}
	return ""
}

var highlightNames = map[string]string{
	"FFFF00": "yellow", "00FF00": "green", "00FFFF": "cyan", "FF00FF": "magenta",
	"0000FF": "blue", "FF0000": "red", "000080": "darkBlue", "008080": "darkCyan",
	"008000": "darkGreen", "800080": "darkMagenta", "800000": "darkRed",
	"808000": "darkYellow", "808080": "darkGray", "C0C0C0": "lightGray", "000000": "black",
}

func twips(v int) float64 { return float64(v) / 20 }

// paraWord handles paragraph formatting.
func (d *decoder) paraWord(t token) bool {
	st := d.top()
	if st.dest == destListLevel && d.curLevel != nil {
		switch t.word {
		case "li", "lin":
			d.curLevel.Indent = twips(t.param)
			return true
		case "levelnfc", "levelnfcn":
			d.curLevel.NumberStyle = numberFormats[t.param]
			return true
		case "levelstartat":
			d.curLevel.StartAt = t.param
			return true
		}
	}
	p := &st.para
	f := &p.format
	switch t.word {
	case "pard":
		*p = paraState{}
	case "s":
		if st.dest == destStyleSheet && d.curStyle != nil {
			d.curStyle.index, d.curStyle.typ = t.param, doctree.ParagraphStyle
			return true
		}
		p.style = d.paraStyles[t.param]
	case "ts":
		if st.dest == destStyleSheet && d.curStyle != nil {
			d.curStyle.index, d.curStyle.typ = t.param, doctree.TableStyle
		}
	case "sbasedon":
		if d.curStyle != nil {
			d.curStyle.basedOn = t.param
		}
	case "snext":
		if d.curStyle != nil {
			d.curStyle.next = t.param
		}
	case "ql":
		f.Alignment = doctree.AlignLeft
	case "qc":
		f.Alignment = doctree.AlignCenter
	case "qr":
		f.Alignment = doctree.AlignRight
	case "qj":
		f.Alignment = doctree.AlignJustify
	case "li", "lin":
		f.LeftIndent = twips(t.param)
	case "ri", "rin":
		f.RightIndent = twips(t.param)
	case "fi":
		f.FirstLineIndent = twips(t.param)
	case "sb":
		f.SpaceBefore = twips(t.param)
	case "sa":
		f.SpaceAfter = twips(t.param)
	case "keepn":
		f.KeepWithNext = true
	case "pagebb":
		f.PageBreakBefore = true
	case "outlinelevel":
		if t.param >= 0 && t.param < 9 {
			f.OutlineLevel = t.param + 1
		}
	case "intbl":
		p.inTable = true
	case "ls":
		if st.dest == destOverrideTable {
			d.ovLS = t.param
			return true
		}
		p.ls = t.param
	case "ilvl":
		p.ilvl = t.param
	case "brdrb":
		p.rule = true
	case "listid":
		switch st.dest {
		case destOverrideTable:
			d.ovListID = t.param
		case destListTable:
			d.listID = t.param
		}
	default:
		return false
	}
	return true
}

// sectionWord handles document and section layout.
func (d *decoder) sectionWord(t token) bool {
	v := twips(t.param)
	doc := func(fn func(*doctree.PageSetup)) {
		fn(&d.docSetup)
		if sec := d.currentSection(); sec != nil {
			fn(&sec.PageSetup)
		}
	}
	sect := func(fn func(*doctree.PageSetup)) {
		if sec := d.currentSection(); sec != nil {
			fn(&sec.PageSetup)
		}
	}
	switch t.word {
	case "paperw":
		doc(func(p *doctree.PageSetup) { p.PageWidth = v })
	case "paperh":
		doc(func(p *doctree.PageSetup) { p.PageHeight = v })
	case "margl":
		doc(func(p *doctree.PageSetup) { p.LeftMargin = v })
	case "margr":
		doc(func(p *doctree.PageSetup) { p.RightMargin = v })
	case "margt":
		doc(func(p *doctree.PageSetup) { p.TopMargin = v })
	case "margb":
		doc(func(p *doctree.PageSetup) { p.BottomMargin = v })
	case "landscape":
		doc(func(p *doctree.PageSetup) { p.Orientation = doctree.Landscape })
	case "sectd":
		sect(func(p *doctree.PageSetup) {
			start := p.SectionStart
			*p = d.docSetup
			p.SectionStart = start
		})
	case "pgwsxn":
		sect(func(p *doctree.PageSetup) { p.PageWidth = v })
	case "pghsxn":
		sect(func(p *doctree.PageSetup) { p.PageHeight = v })
	case "marglsxn":
		sect(func(p *doctree.PageSetup) { p.LeftMargin = v })
	case "margrsxn":
		sect(func(p *doctree.PageSetup) { p.RightMargin = v })
	case "margtsxn":
		sect(func(p *doctree.PageSetup) { p.TopMargin = v })
	case "margbsxn":
		sect(func(p *doctree.PageSetup) { p.BottomMargin = v })
	case "headery":
		sect(func(p *doctree.PageSetup) { p.HeaderDistance = v })
	case "footery":
		sect(func(p *doctree.PageSetup) { p.FooterDistance = v })
	case "lndscpsxn":
		sect(func(p *doctree.PageSetup) { p.Orientation = doctree.Landscape })
	case "titlepg":
		sect(func(p *doctree.PageSetup) { p.DifferentFirstPage = true })
	case "sbknone":
		sect(func(p *doctree.PageSetup) { p.SectionStart = doctree.SectionContinuous })
	case "sbkcol":
		sect(func(p *doctree.PageSetup) { p.SectionStart = doctree.SectionNewColumn })
	case "sbkpage":
		sect(func(p *doctree.PageSetup) { p.SectionStart = doctree.SectionNewPage })
	case "sbkeven":
		sect(func(p *doctree.PageSetup) { p.SectionStart = doctree.SectionEvenPage })
	case "sbkodd":
		sect(func(p *doctree.PageSetup) { p.SectionStart = doctree.SectionOddPage })
	case "sect":
		if d.top().dest != destBody || len(d.frames) > 0 {
			return true
		}
		d.closeTable()
		if !d.dropTrailing() {
			d.finishParagraph()
		}
		d.b.InsertBreak(doctree.BreakSectionNewPage)
		d.story.parEnded = false
	default:
		return false
	}
	return true
}

// tableWord handles cell and row ends.
func (d *decoder) tableWord(t token) bool {
	if d.top().dest != destBody {
		return false
	}
	s := d.story
	switch t.word {
	case "cell":
		if !s.tables {
			d.addText("\t")
			return true
		}
		d.top().para.inTable = true
		d.ensureContent()
		d.finishParagraph()
		s.cellOpen = false
	case "row":
		if !s.table {
			return true
		}
		if s.cellOpen {
			d.finishParagraph()
			s.cellOpen = false
		}
		d.endRow()
	case "nestcell":
		d.addText("\t")
	case "nestrow":
		d.addText(doctree.LineBreak)
	default:
		return false
	}
	return true
}

// tableDefWord collects the cell definitions of \trowd.
func (d *decoder) tableDefWord(t token) bool {
	s := d.story
	switch t.word {
	case "trowd":
		s.defs, s.pending, s.rowHeader = nil, cellDef{}, false
	case "trhdr":
		s.rowHeader = true
	case "clvmgf":
		s.pending.vmerge = doctree.MergeFirst
	case "clvmrg":
		s.pending.vmerge = doctree.MergePrevious
	case "clmgf":
		s.pending.hmerge = doctree.MergeFirst
	case "clmrg":
		s.pending.hmerge = doctree.MergePrevious
	case "clcbpat":
		s.pending.shading = d.color(t.param)
	case "cellx":
		s.pending.right = t.param
		s.defs = append(s.defs, s.pending)
		s.pending = cellDef{}
	default:
		return false
	}
	return true
}

var specialText = map[string]string{
	"tab": "\t", "emdash": "\u2014", "endash": "\u2013", "bullet": "\u2022",
	"lquote": "\u2018", "rquote": "\u2019", "ldblquote": "\u201c", "rdblquote": "\u201d",
	"emspace": "\u2003", "enspace": "\u2002", "qmspace": "\u2005",
	"zwj": "\u200d", "zwnj": "\u200c", "~": doctree.NonBreakingSpace,
	"_": doctree.NonBreakingHyphen, "-": doctree.OptionalHyphen,
	"line": doctree.LineBreak, "page": doctree.PageBreak, "column": doctree.ColumnBreak,
	"{": "{", "}": "}", "\\": "\\",
}

// specialWord handles character symbols and paragraph ends.
func (d *decoder) specialWord(t token) bool {
	if s, ok := specialText[t.word]; ok {
		d.emit(s)
		return true
	}
	switch t.word {
	case "par":
		if d.top().dest != destBody {
			return true
		}
		d.ensureContent()
		d.finishParagraph()
		d.b.InsertParagraph()
		d.story.parEnded = true
	case "ftnalt":
		if d.note != nil {
			d.note.FootnoteKind = doctree.FootnoteKindEndnote
		}
	case "chftn", "chatn":
	default:
		return false
	}
	return true
}

// metaWord handles document level settings and table entry values.
func (d *decoder) metaWord(t token) bool {
	st := d.top()
	switch t.word {
	case "ansi":
		d.codePage = 1252
	case "mac":
		d.codePage = 10000
	case "pc":
		d.codePage = 437
	case "pca":
		d.codePage = 850
	case "ansicpg":
		if t.param > 0 {
			d.codePage = t.param
		}
	case "deff":
		d.deff = t.param
	case "uc":
		st.uc = max(t.param, 0)
	case "fcharset":
		if d.curFont != nil {
			d.curFont.charset = t.param
		}
	case "cpg":
		if d.curFont != nil {
			d.curFont.codePage = t.param
		}
	case "red":
		d.curColor[0], d.colorSet = t.param, true
	case "green":
		d.curColor[1], d.colorSet = t.param, true
	case "blue":
		d.curColor[2], d.colorSet = t.param, true
	case "deftab":
		if t.param > 0 {
			d.doc.Settings.DefaultTabStop = twips(t.param)
		}
	case "revisions":
		d.doc.Settings.TrackRevisions = true
	case "version":
		d.doc.BuiltIn.RevisionNumber = t.param
	case "yr", "mo", "dy", "hr", "min", "sec":
		if d.timeVals != nil {
			d.timeVals[t.word] = t.param
		}
	case "proptype":
		d.prop.typ = t.param
	case "pngblip", "jpegblip", "wmetafile", "emfblip", "dibitmap", "picwgoal", "pichgoal", "picscalex", "picscaley":
		if d.pict == nil {
			return true
		}
		switch t.word {
		case "pngblip":
			d.pict.typ = doctree.ImagePNG
		case "jpegblip":
			d.pict.typ = doctree.ImageJPEG
		case "wmetafile":
			d.pict.typ = doctree.ImageWMF
		case "emfblip":
			d.pict.typ = doctree.ImageEMF
		case "dibitmap":
			d.pict.typ = doctree.ImageBMP
		case "picwgoal":
			d.pict.goalW = t.param
		case "pichgoal":
			d.pict.goalH = t.param
		case "picscalex":
			d.pict.scaleX = t.param
		case "picscaley":
			d.pict.scaleY = t.param
		}
	default:
		return false
	}
	return true
}

// fromDTTM unpacks a Word date-time word.
func fromDTTM(v int) time.Time {
	u := uint32(v)
	minute, hour := int(u&0x3F), int(u>>6&0x1F)
	day, month, year := int(u>>11&0x1F), int(u>>16&0xF), int(u>>20&0x1FF)+1900
	if u == 0 || month == 0 || day == 0 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

// toDTTM packs t into a Word date-time word.
func toDTTM(t time.Time) uint32 {
	if t.IsZero() {
		return 0
	}
	t = t.UTC()
	return uint32(t.Minute()) | uint32(t.Hour())<<6 | uint32(t.Day())<<11 |
		uint32(t.Month())<<16 | uint32(t.Year()-1900)<<20 | uint32(t.Weekday())<<29
}
