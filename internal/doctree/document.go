package doctree

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// Settings are document-wide options persisted by codecs.
type Settings struct {
	// TrackRevisions asks editors to track changes when the file is opened.
	TrackRevisions bool
	// DefaultTabStop in points.
	DefaultTabStop float64
}

// Document is the root of a tree. It owns the sections and the side
// tables that nodes refer to by handle.
type Document struct {
	nodeLink

	Variables  *Variables
	BuiltIn    BuiltInProperties
	Custom     *CustomProperties
	Settings   Settings
	styles     *StyleCollection
	lists      *ListCollection
	tracking   *trackState
	commentSeq int
}

// NewBlank returns a document with default styles and no sections.
func NewBlank() *Document {
	d := &Document{
		Variables: NewVariables(),
		Custom:    &CustomProperties{},
		Settings:  Settings{DefaultTabStop: 36},
		styles:    newStyleCollection(),
		lists:     newListCollection(),
	}
	d.Node = &Node{typ: DocumentNode, doc: d, data: d}
	return d
}

// NewDocument returns a document holding one section with an empty
// body paragraph, ready for editing.
func NewDocument() *Document {
	d := NewBlank()
	d.AddSection()
	return d
}

func (*Document) kind() NodeType { return DocumentNode }

// copyPayload is never reached through Node.Clone; documents clone
// through Document.Clone.
func (d *Document) copyPayload() Payload { return d.Clone() }

// AddSection appends a section with a body containing one empty paragraph.
func (d *Document) AddSection() *Section {
	s := NewSection(d)
	b := NewBody(d)
	s.attach(b.Node, nil)
	b.attach(NewParagraph(d).Node, nil)
	d.attach(s.Node, nil)
	return s
}

func (d *Document) Styles() *StyleCollection { return d.styles }
func (d *Document) Lists() *ListCollection   { return d.lists }

// Sections returns the sections in order.
func (d *Document) Sections() []*Section { return ChildrenOf[*Section](d.Node) }

func (d *Document) FirstSection() *Section {
	if c := d.firstChild; c != nil {
		return c.data.(*Section)
	}
	return nil
}

func (d *Document) LastSection() *Section {
	if c := d.lastChild; c != nil {
		return c.data.(*Section)
	}
	return nil
}

func (d *Document) nextCommentID() int {
	id := d.commentSeq
	d.commentSeq++
	return id
}

// NextCommentID allocates a comment ID unused in the document.
func (d *Document) NextCommentID() int { return d.nextCommentID() }

// ReserveCommentID makes sure later comments get IDs above id.
func (d *Document) ReserveCommentID(id int) {
	if id >= d.commentSeq {
		d.commentSeq = id + 1
	}
}

// Clone returns an independent deep copy of the document, side tables
// included.
func (d *Document) Clone() *Document {
	c := &Document{
		Variables:  d.Variables.clone(),
		BuiltIn:    d.BuiltIn,
		Custom:     d.Custom.clone(),
		Settings:   d.Settings,
		styles:     d.styles.clone(),
		lists:      d.lists.clone(),
		commentSeq: d.commentSeq,
	}
	c.Node = &Node{typ: DocumentNode, doc: c, data: c}
	for s := d.firstChild; s != nil; s = s.nextSibling {
		c.attach(s.cloneInto(c, true, nil), nil)
	}
	return c
}

// ValidateReferences checks that every style and list handle used by
// nodes and styles resolves in this document.
func (d *Document) ValidateReferences() error {
	checkStyle := func(h StyleHandle, where string) error {
		if h != 0 && d.styles.Get(h) == nil {
			return fmt.Errorf("%w: style handle %d on %s", ErrDanglingReference, h, where)
		}
		return nil
	}
	for _, h := range d.styles.Handles() {
		s := d.styles.Get(h)
		for _, ref := range []StyleHandle{s.BasedOn, s.Next, s.Linked} {
			if err := checkStyle(ref, "style "+s.Name); err != nil {
				return err
			}
		}
	}
	for n := range d.Descendants() {
		switch p := n.data.(type) {
		case *Paragraph:
			if err := checkStyle(p.Style, "paragraph"); err != nil {
				return err
			}
			if p.ListFormat.List != 0 && d.lists.Get(p.ListFormat.List) == nil {
				return fmt.Errorf("%w: list handle %d on paragraph", ErrDanglingReference, p.ListFormat.List)
			}
		case *Run:
			if err := checkStyle(p.Style, "run"); err != nil {
				return err
			}
		case *Table:
			if err := checkStyle(p.Style, "table"); err != nil {
				return err
			}
		}
	}
	return nil
}

// Variables is a map of document variables. Keys are case-sensitive.
type Variables struct {
	m map[string]string
}

func NewVariables() *Variables { return &Variables{m: make(map[string]string)} }

func (v *Variables) Get(name string) (string, bool) {
	s, ok := v.m[name]
	return s, ok
}

func (v *Variables) Set(name, value string) { v.m[name] = value }
func (v *Variables) Remove(name string)     { delete(v.m, name) }
func (v *Variables) Len() int               { return len(v.m) }
func (v *Variables) Clear()                 { clear(v.m) }

// Keys returns the variable names in sorted order.
func (v *Variables) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (v *Variables) clone() *Variables {
	c := NewVariables()
	for k, s := range v.m {
		c.m[k] = s
	}
	return c
}

// BuiltInProperties are the standard document metadata fields.
type BuiltInProperties struct {
	Title          string
	Subject        string
	Author         string
	Keywords       string
	Comments       string
	Category       string
	Company        string
	LastSavedBy    string
	Created        time.Time
	LastSaved      time.Time
	RevisionNumber int
}

// Lookup returns a built-in property by its conventional name.
func (p BuiltInProperties) Lookup(name string) (string, bool) {
	switch name {
	case "Title":
		return p.Title, true
	case "Subject":
		return p.Subject, true
	case "Author":
		return p.Author, true
	case "Keywords":
		return p.Keywords, true
	case "Comments":
		return p.Comments, true
	case "Category":
		return p.Category, true
	case "Company":
		return p.Company, true
	case "LastSavedBy":
		return p.LastSavedBy, true
	case "RevisionNumber":
		return fmt.Sprint(p.RevisionNumber), true
	}
	return "", false
}

// Property is a named custom property value. Value holds one of
// string, int, float64, bool or time.Time.
type Property struct {
	Name  string
	Value any
}

// CustomProperties is an ordered set of user-defined properties.
type CustomProperties struct {
	items []Property
}

// Set adds or replaces a property.
func (c *CustomProperties) Set(name string, value any) error {
	switch value.(type) {
	case string, int, float64, bool, time.Time:
	default:
		return fmt.Errorf("custom property %q: unsupported value type %T", name, value)
	}
	for i := range c.items {
		if c.items[i].Name == name {
			c.items[i].Value = value
			return nil
		}
	}
	c.items = append(c.items, Property{Name: name, Value: value})
	return nil
}

func (c *CustomProperties) Get(name string) (any, bool) {
	for _, p := range c.items {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func (c *CustomProperties) Remove(name string) {
	c.items = slices.DeleteFunc(c.items, func(p Property) bool { return p.Name == name })
}

func (c *CustomProperties) All() []Property { return slices.Clone(c.items) }
func (c *CustomProperties) Len() int        { return len(c.items) }

func (c *CustomProperties) clone() *CustomProperties {
	return &CustomProperties{items: slices.Clone(c.items)}
}
