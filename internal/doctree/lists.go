package doctree

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// ListHandle addresses a list in a document's ListCollection. Zero
// means no list.
type ListHandle uint32

// NumberStyle selects how a list level renders its counter.
type NumberStyle int

const (
	NumberArabic NumberStyle = iota
	NumberLowerLetter
	NumberUpperLetter
	NumberLowerRoman
	NumberUpperRoman
	NumberBullet
	NumberNone
)

var numberStyleNames = [...]string{"decimal", "lowerLetter", "upperLetter", "lowerRoman", "upperRoman", "bullet", "none"}

func (s NumberStyle) String() string {
	if s < 0 || int(s) >= len(numberStyleNames) {
		return fmt.Sprintf("NumberStyle(%d)", int(s))
	}
	return numberStyleNames[s]
}

// MaxListLevels is the number of levels every list carries.
const MaxListLevels = 9

// ListLevel defines one level of a list. Format is the label template;
// %1 through %9 stand for the counters of levels 1-9. Bullets use the
// literal bullet character.
type ListLevel struct {
	NumberStyle NumberStyle
	Format      string
	StartAt     int
	// Indent of the label in points.
	Indent   float64
	FontName string
}

// List is a numbering definition. ID is the definition identity that
// survives cloning and round-trips; two lists with the same ID number
// as one sequence when merged.
type List struct {
	ID     int
	Levels [MaxListLevels]ListLevel
}

// IsBulleted reports whether the first level is a bullet.
func (l *List) IsBulleted() bool { return l.Levels[0].NumberStyle == NumberBullet }

// ListTemplate selects a predefined list shape.
type ListTemplate int

const (
	ListNumberDefault ListTemplate = iota
	ListBulletDefault
	ListNumberLowercaseLetter
	ListNumberUppercaseRoman
)

// NewListFromTemplate returns an unregistered list built from t.
func NewListFromTemplate(t ListTemplate) List {
	var l List
	bullets := []string{"•", "o", "▪"}
	for i := range l.Levels {
		lvl := ListLevel{StartAt: 1, Indent: float64(36 * (i + 1))}
		switch t {
		case ListBulletDefault:
			lvl.NumberStyle = NumberBullet
			lvl.Format = bullets[i%len(bullets)]
			lvl.FontName = "Symbol"
		default:
			lvl.NumberStyle = [3]NumberStyle{NumberArabic, NumberLowerLetter, NumberLowerRoman}[i%3]
			if i == 0 && t == ListNumberLowercaseLetter {
				lvl.NumberStyle = NumberLowerLetter
			}
			if i == 0 && t == ListNumberUppercaseRoman {
				lvl.NumberStyle = NumberUpperRoman
			}
			lvl.Format = "%" + strconv.Itoa(i+1) + "."
		}
		l.Levels[i] = lvl
	}
	return l
}

// ListCollection is the arena of lists.
type ListCollection struct {
	items []*List
}

func newListCollection() *ListCollection { return &ListCollection{} }

// Add registers a list. A zero or already used ID is replaced by a
// fresh one.
func (c *ListCollection) Add(l List) ListHandle {
	if l.ID == 0 || c.hasID(l.ID) {
		l.ID = c.nextID()
	}
	cp := l
	c.items = append(c.items, &cp)
	return ListHandle(len(c.items))
}

// AddTemplate registers a list built from a template.
func (c *ListCollection) AddTemplate(t ListTemplate) ListHandle {
	return c.Add(NewListFromTemplate(t))
}

// Get returns the list for h or nil.
func (c *ListCollection) Get(h ListHandle) *List {
	if h == 0 || int(h) > len(c.items) {
		return nil
	}
	return c.items[h-1]
}

// FindByID returns the handle of the list with the given definition ID.
func (c *ListCollection) FindByID(id int) (ListHandle, bool) {
	for i, l := range c.items {
		if l != nil && l.ID == id {
			return ListHandle(i + 1), true
		}
	}
	return 0, false
}

// Remove deletes a list, leaving a tombstone.
func (c *ListCollection) Remove(h ListHandle) error {
	if c.Get(h) == nil {
		return fmt.Errorf("%w: list handle %d", ErrNotFound, h)
	}
	c.items[h-1] = nil
	return nil
}

// Handles returns the live handles in insertion order.
func (c *ListCollection) Handles() []ListHandle {
	var out []ListHandle
	for i, l := range c.items {
		if l != nil {
			out = append(out, ListHandle(i+1))
		}
	}
	return out
}

func (c *ListCollection) Len() int { return len(c.Handles()) }

func (c *ListCollection) hasID(id int) bool {
	_, ok := c.FindByID(id)
	return ok
}

// nextID draws a random positive ID that fits both an OOXML nsid and an
// RTF listid, so lists created independently in different documents do
// not collide when those documents are merged.
func (c *ListCollection) nextID() int {
	for {
		id := int(rand.Int32())
		if id != 0 && !c.hasID(id) {
			return id
		}
	}
}

// NewID returns an ID no list in the collection uses.
func (c *ListCollection) NewID() int { return c.nextID() }

func (c *ListCollection) clone() *ListCollection {
	out := &ListCollection{items: make([]*List, len(c.items))}
	for i, l := range c.items {
		if l != nil {
			cp := *l
			out.items[i] = &cp
		}
	}
	return out
}

// ListLabels computes the label of every list paragraph in document
// order. Each list handle numbers independently; entering a level
// restarts every deeper level.
func ListLabels(doc *Document) map[*Node]string {
	type state struct {
		counters [MaxListLevels]int
		started  [MaxListLevels]bool
	}
	states := make(map[ListHandle]*state)
	labels := make(map[*Node]string)
	for n := range doc.Descendants() {
		p, ok := n.data.(*Paragraph)
		if !ok || p.ListFormat.List == 0 {
			continue
		}
		l := doc.lists.Get(p.ListFormat.List)
		if l == nil {
			continue
		}
		lvl := min(max(p.ListFormat.Level, 0), MaxListLevels-1)
		st := states[p.ListFormat.List]
		if st == nil {
			st = &state{}
			states[p.ListFormat.List] = st
		}
		if st.started[lvl] {
			st.counters[lvl]++
		} else {
			st.counters[lvl] = l.Levels[lvl].StartAt
			st.started[lvl] = true
		}
		for deeper := lvl + 1; deeper < MaxListLevels; deeper++ {
			st.started[deeper] = false
		}
		labels[n] = formatLabel(l, lvl, st.counters)
	}
	return labels
}

func formatLabel(l *List, lvl int, counters [MaxListLevels]int) string {
	level := l.Levels[lvl]
	if level.NumberStyle == NumberBullet {
		return level.Format
	}
	out := level.Format
	for i := MaxListLevels; i >= 1; i-- {
		ph := "%" + strconv.Itoa(i)
		if !strings.Contains(out, ph) {
			continue
		}
		n := counters[i-1]
		if i-1 > lvl {
			n = 0
		}
		out = strings.ReplaceAll(out, ph, FormatNumber(n, l.Levels[i-1].NumberStyle))
	}
	return out
}

// FormatNumber renders n in the given number style.
func FormatNumber(n int, s NumberStyle) string {
	switch s {
	case NumberLowerLetter:
		return strings.ToLower(letters(n))
	case NumberUpperLetter:
		return letters(n)
	case NumberLowerRoman:
		return strings.ToLower(roman(n))
	case NumberUpperRoman:
		return roman(n)
	case NumberNone, NumberBullet:
		return ""
	}
	return strconv.Itoa(n)
}

// letters renders 1..26 as A..Z, then AA, BB, ... as Word does.
func letters(n int) string {
	if n <= 0 {
		return ""
	}
	ch := byte('A' + (n-1)%26)
	return strings.Repeat(string(ch), (n-1)/26+1)
}

func roman(n int) string {
	if n <= 0 || n >= 4000 {
		return strconv.Itoa(n)
	}
	vals := []int{1000, 900, 500, 400, 100, 90, 50, 40, 10, 9, 5, 4, 1}
	syms := []string{"M", "CM", "D", "CD", "C", "XC", "L", "XL", "X", "IX", "V", "IV", "I"}
	var b strings.Builder
	for i, v := range vals {
		for n >= v {
			b.WriteString(syms[i])
			n -= v
		}
	}
	return b.String()
}
