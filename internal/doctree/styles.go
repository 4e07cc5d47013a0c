package doctree

import (
	"fmt"
	"strconv"
	"strings"
)

// StyleType is the kind of content a style applies to.
type StyleType int

const (
	ParagraphStyle StyleType = iota
	CharacterStyle
	TableStyle
	ListStyle
)

var styleTypeNames = [...]string{"paragraph", "character", "table", "numbering"}

func (t StyleType) String() string {
	if t < 0 || int(t) >= len(styleTypeNames) {
		return fmt.Sprintf("StyleType(%d)", int(t))
	}
	return styleTypeNames[t]
}

// StyleHandle addresses a style in a document's StyleCollection.
// The zero handle means the default style of the relevant type.
type StyleHandle uint32

// Style is a named formatting definition.
type Style struct {
	Name string
	Type StyleType
	// StyleID is the identifier a codec read or will write; optional.
	StyleID   string
	BasedOn   StyleHandle
	Next      StyleHandle
	Linked    StyleHandle
	Font      CharFormat
	Paragraph ParaFormat
	BuiltIn   bool
	// Default marks the default style of its type.
	Default bool
}

type styleKey struct {
	name string
	typ  StyleType
}

// StyleCollection is the arena of styles. Removed entries leave a
// tombstone so their handles stay invalid.
type StyleCollection struct {
	items  []*Style
	byName map[styleKey]StyleHandle
}

// Names of the styles every document starts with.
const (
	StyleNormal               = "Normal"
	StyleDefaultParagraphFont = "Default Paragraph Font"
	StyleNormalTable          = "Normal Table"
	StyleNoList               = "No List"
	StyleHyperlink            = "Hyperlink"
	StyleTitle                = "Title"
	StyleQuote                = "Quote"
	StyleListParagraph        = "List Paragraph"
	StyleHeader               = "Header"
	StyleFooter               = "Footer"
	StyleFootnoteText         = "Footnote Text"
	StyleCommentText          = "Comment Text"
	StyleHTMLPreformatted     = "HTML Preformatted"
	StyleHTMLCode             = "HTML Code"
	headingStylePrefix        = "Heading "
)

func newStyleCollection() *StyleCollection {
	c := &StyleCollection{byName: make(map[styleKey]StyleHandle)}
	c.mustAdd(Style{Name: StyleNormal, Type: ParagraphStyle, StyleID: "Normal", BuiltIn: true, Default: true})
	c.mustAdd(Style{Name: StyleDefaultParagraphFont, Type: CharacterStyle, StyleID: "DefaultParagraphFont", BuiltIn: true, Default: true})
	c.mustAdd(Style{Name: StyleNormalTable, Type: TableStyle, StyleID: "TableNormal", BuiltIn: true, Default: true})
	c.mustAdd(Style{Name: StyleNoList, Type: ListStyle, StyleID: "NoList", BuiltIn: true, Default: true})
	return c
}

func (c *StyleCollection) mustAdd(s Style) StyleHandle {
	h, err := c.Add(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Add inserts a style. Names are unique per style type.
func (c *StyleCollection) Add(s Style) (StyleHandle, error) {
	if s.Name == "" {
		return 0, fmt.Errorf("add style: empty name")
	}
	key := styleKey{s.Name, s.Type}
	if _, ok := c.byName[key]; ok {
		return 0, fmt.Errorf("%w: %s style %q", ErrDuplicateStyle, s.Type, s.Name)
	}
	if s.Default {
		for _, old := range c.items {
			if old != nil && old.Type == s.Type {
				old.Default = false
			}
		}
	}
	cp := s
	c.items = append(c.items, &cp)
	h := StyleHandle(len(c.items))
	c.byName[key] = h
	return h, nil
}

// Get returns the style for h, or nil for the zero handle and removed
// or unknown handles. Rename through Rename so the name index stays valid.
func (c *StyleCollection) Get(h StyleHandle) *Style {
	if h == 0 || int(h) > len(c.items) {
		return nil
	}
	return c.items[h-1]
}

// Lookup finds a style by name and type.
func (c *StyleCollection) Lookup(name string, t StyleType) (StyleHandle, bool) {
	h, ok := c.byName[styleKey{name, t}]
	return h, ok
}

// ByID finds a style by its codec identifier.
func (c *StyleCollection) ByID(id string) (StyleHandle, bool) {
	for i, s := range c.items {
		if s != nil && s.StyleID == id {
			return StyleHandle(i + 1), true
		}
	}
	return 0, false
}

// Default returns the default style of type t.
func (c *StyleCollection) Default(t StyleType) StyleHandle {
	for i, s := range c.items {
		if s != nil && s.Type == t && s.Default {
			return StyleHandle(i + 1)
		}
	}
	return 0
}

// Resolve maps the zero handle to the default style of t.
func (c *StyleCollection) Resolve(h StyleHandle, t StyleType) StyleHandle {
	if h == 0 {
		return c.Default(t)
	}
	return h
}

// Rename changes a style's name.
func (c *StyleCollection) Rename(h StyleHandle, name string) error {
	s := c.Get(h)
	if s == nil {
		return fmt.Errorf("%w: style handle %d", ErrNotFound, h)
	}
	key := styleKey{name, s.Type}
	if other, ok := c.byName[key]; ok && other != h {
		return fmt.Errorf("%w: %s style %q", ErrDuplicateStyle, s.Type, name)
	}
	delete(c.byName, styleKey{s.Name, s.Type})
	s.Name = name
	c.byName[key] = h
	return nil
}

// Remove deletes a style. References from other styles are cleared;
// references from nodes are the caller's responsibility.
func (c *StyleCollection) Remove(h StyleHandle) error {
	s := c.Get(h)
	if s == nil {
		return fmt.Errorf("%w: style handle %d", ErrNotFound, h)
	}
	delete(c.byName, styleKey{s.Name, s.Type})
	c.items[h-1] = nil
	for _, o := range c.items {
		if o == nil {
			continue
		}
		if o.BasedOn == h {
			o.BasedOn = 0
		}
		if o.Next == h {
			o.Next = 0
		}
		if o.Linked == h {
			o.Linked = 0
		}
	}
	return nil
}

// Handles returns the live handles in insertion order.
func (c *StyleCollection) Handles() []StyleHandle {
	out := make([]StyleHandle, 0, len(c.items))
	for i, s := range c.items {
		if s != nil {
			out = append(out, StyleHandle(i+1))
		}
	}
	return out
}

func (c *StyleCollection) Len() int { return len(c.byName) }

// Ensure returns the handle of the named style, adding the built-in
// definition when the document lacks it. Unknown names become plain
// paragraph styles.
func (c *StyleCollection) Ensure(name string) StyleHandle {
	t := ParagraphStyle
	if s, ok := builtinStyle(name); ok {
		t = s.Type
	}
	if h, ok := c.Lookup(name, t); ok {
		return h
	}
	s, ok := builtinStyle(name)
	if !ok {
		s = Style{Name: name, Type: ParagraphStyle}
	}
	return c.mustAdd(s)
}

// EffectiveFont resolves character formatting through the basedOn chain.
func (c *StyleCollection) EffectiveFont(h StyleHandle) CharFormat {
	var f CharFormat
	for seen := 0; h != 0 && seen < 32; seen++ {
		s := c.Get(h)
		if s == nil {
			break
		}
		f = f.Merge(s.Font)
		h = s.BasedOn
	}
	return f
}

func (c *StyleCollection) clone() *StyleCollection {
	out := &StyleCollection{
		items:  make([]*Style, len(c.items)),
		byName: make(map[styleKey]StyleHandle, len(c.byName)),
	}
	for i, s := range c.items {
		if s != nil {
			cp := *s
			out.items[i] = &cp
		}
	}
	for k, h := range c.byName {
		out.byName[k] = h
	}
	return out
}

// canonicalStyleNames maps the lower-case names word processors store
// for built-in styles to the names the model uses.
var canonicalStyleNames = map[string]string{
	"normal":                 StyleNormal,
	"default paragraph font": StyleDefaultParagraphFont,
	"normal table":           StyleNormalTable,
	"table normal":           StyleNormalTable,
	"no list":                StyleNoList,
	"hyperlink":              StyleHyperlink,
	"title":                  StyleTitle,
	"quote":                  StyleQuote,
	"list paragraph":         StyleListParagraph,
	"header":                 StyleHeader,
	"footer":                 StyleFooter,
	"footnote text":          StyleFootnoteText,
	"annotation text":        StyleCommentText,
	"html preformatted":      StyleHTMLPreformatted,
	"html code":              StyleHTMLCode,
}

// CanonicalStyleName returns the model name for a built-in style name
// in any letter case, or name unchanged.
func CanonicalStyleName(name string) string {
	if n, ok := canonicalStyleNames[strings.ToLower(name)]; ok {
		return n
	}
	if lvl := headingLevelOf(name); lvl > 0 {
		return HeadingStyleName(lvl)
	}
	return name
}

// HeadingStyleName returns the built-in style name for heading level 1-9.
func HeadingStyleName(level int) string {
	return headingStylePrefix + strconv.Itoa(level)
}

// HeadingLevel returns the outline level of a paragraph: its direct
// outline level, or the level of a "Heading N" style found through the
// basedOn chain. Body text is 0.
func (d *Document) HeadingLevel(p *Paragraph) int {
	if p.Format.OutlineLevel > 0 {
		return p.Format.OutlineLevel
	}
	h := p.Style
	for seen := 0; h != 0 && seen < 32; seen++ {
		s := d.styles.Get(h)
		if s == nil {
			break
		}
		if lvl := headingLevelOf(s.Name); lvl > 0 {
			return lvl
		}
		if s.Paragraph.OutlineLevel > 0 {
			return s.Paragraph.OutlineLevel
		}
		h = s.BasedOn
	}
	return 0
}

func headingLevelOf(name string) int {
	rest, ok := strings.CutPrefix(strings.ToLower(name), "heading ")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > 9 {
		return 0
	}
	return n
}

func builtinStyle(name string) (Style, bool) {
	if lvl := headingLevelOf(name); lvl > 0 {
		size := 16 - float64(lvl)
		if size < 11 {
			size = 11
		}
		return Style{
			Name:      HeadingStyleName(lvl),
			Type:      ParagraphStyle,
			StyleID:   "Heading" + strconv.Itoa(lvl),
			Font:      CharFormat{Bold: true, Size: size},
			Paragraph: ParaFormat{KeepWithNext: true, SpaceBefore: 12, OutlineLevel: lvl},
			BuiltIn:   true,
		}, true
	}
	switch name {
	case StyleTitle:
		return Style{Name: name, Type: ParagraphStyle, StyleID: "Title", Font: CharFormat{Size: 28}, BuiltIn: true}, true
	case StyleQuote:
		return Style{Name: name, Type: ParagraphStyle, StyleID: "Quote", Font: CharFormat{Italic: true}, Paragraph: ParaFormat{LeftIndent: 36}, BuiltIn: true}, true
	case StyleListParagraph:
		return Style{Name: name, Type: ParagraphStyle, StyleID: "ListParagraph", Paragraph: ParaFormat{LeftIndent: 36}, BuiltIn: true}, true
	case StyleHeader, StyleFooter, StyleFootnoteText, StyleCommentText:
		return Style{Name: name, Type: ParagraphStyle, StyleID: strings.ReplaceAll(name, " ", ""), BuiltIn: true}, true
	case StyleHTMLPreformatted:
		return Style{Name: name, Type: ParagraphStyle, StyleID: "HTMLPreformatted", Font: CharFormat{FontName: "Courier New"}, BuiltIn: true}, true
	case StyleHyperlink:
		return Style{Name: name, Type: CharacterStyle, StyleID: "Hyperlink", Font: CharFormat{Color: "0563C1", Underline: true}, BuiltIn: true}, true
	case StyleHTMLCode:
		return Style{Name: name, Type: CharacterStyle, StyleID: "HTMLCode", Font: CharFormat{FontName: "Courier New"}, BuiltIn: true}, true
	}
	return Style{}, false
}
