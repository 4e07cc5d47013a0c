package doctree

import (
	"errors"
	"testing"
)

func TestListLabels(t *testing.T) {
	doc := NewDocument()
	b := NewBuilder(doc)
	h := b.ApplyNumberedList()
	levels := []int{0, 0, 1, 1, 0, 2}
	for i, lvl := range levels {
		if i > 0 {
			b.InsertParagraph()
		}
		b.ApplyList(h, lvl)
		b.Write("item")
	}

	labels := ListLabels(doc)
	want := []string{"1.", "2.", "a.", "b.", "3.", "i."}
	paras := doc.FirstSection().Body().Paragraphs()
	for i, p := range paras {
		if got := labels[p.Node]; got != want[i] {
			t.Errorf("paragraph %d: label %q, want %q", i, got, want[i])
		}
	}
}

func TestListLabelsIndependentLists(t *testing.T) {
	doc := NewDocument()
	b := NewBuilder(doc)
	first := doc.Lists().AddTemplate(ListNumberDefault)
	second := doc.Lists().AddTemplate(ListNumberDefault)
	for i, h := range []ListHandle{first, first, second, first} {
		if i > 0 {
			b.InsertParagraph()
		}
		b.ApplyList(h, 0)
	}
	labels := ListLabels(doc)
	paras := doc.FirstSection().Body().Paragraphs()
	want := []string{"1.", "2.", "1.", "3."}
	for i, p := range paras {
		if got := labels[p.Node]; got != want[i] {
			t.Errorf("paragraph %d: label %q, want %q", i, got, want[i])
		}
	}
}

func TestListCollectionIDs(t *testing.T) {
	c := newListCollection()
	a := c.Add(List{ID: 5})
	b := c.Add(List{ID: 5})
	if c.Get(a).ID != 5 {
		t.Fatalf("expected ID 5, got %d", c.Get(a).ID)
	}
	if c.Get(b).ID == 5 {
		t.Fatal("duplicate ID should be replaced")
	}
	if h, ok := c.FindByID(5); !ok || h != a {
		t.Errorf("FindByID(5) = %d, %v", h, ok)
	}
	if err := c.Remove(a); err != nil {
		t.Fatal(err)
	}
	if c.Get(a) != nil || c.Len() != 1 {
		t.Error("removed list still visible")
	}
	if err := c.Remove(a); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: expected ErrNotFound, got %v", err)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		s    NumberStyle
		want string
	}{
		{4, NumberArabic, "4"},
		{4, NumberLowerRoman, "iv"},
		{1999, NumberUpperRoman, "MCMXCIX"},
		{3, NumberUpperLetter, "C"},
		{28, NumberLowerLetter, "bb"},
		{7, NumberBullet, ""},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n, tt.s); got != tt.want {
			t.Errorf("FormatNumber(%d, %s) = %q, want %q", tt.n, tt.s, got, tt.want)
		}
	}
}

func TestStyles(t *testing.T) {
	doc := NewDocument()
	styles := doc.Styles()

	if styles.Default(ParagraphStyle) == 0 || styles.Get(styles.Default(ParagraphStyle)).Name != StyleNormal {
		t.Fatal("Normal is not the default paragraph style")
	}
	h, err := styles.Add(Style{Name: "Custom", Type: ParagraphStyle})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := styles.Add(Style{Name: "Custom", Type: ParagraphStyle}); !errors.Is(err, ErrDuplicateStyle) {
		t.Errorf("expected ErrDuplicateStyle, got %v", err)
	}
	if _, err := styles.Add(Style{Name: "Custom", Type: CharacterStyle}); err != nil {
		t.Errorf("same name with another type should be allowed: %v", err)
	}

	h2 := styles.Ensure(HeadingStyleName(2))
	if s := styles.Get(h2); s == nil || !s.BuiltIn || s.Paragraph.OutlineLevel != 2 {
		t.Fatalf("unexpected built-in heading %+v", s)
	}
	if styles.Ensure("Heading 2") != h2 {
		t.Error("Ensure added a second heading style")
	}

	b := NewBuilder(doc)
	b.SetStyle("Heading 2")
	para := b.CurrentParagraph()
	if lvl := doc.HeadingLevel(para); lvl != 2 {
		t.Errorf("expected heading level 2, got %d", lvl)
	}

	para.Style = h
	if err := styles.Remove(h); err != nil {
		t.Fatal(err)
	}
	if err := doc.ValidateReferences(); !errors.Is(err, ErrDanglingReference) {
		t.Fatalf("expected ErrDanglingReference, got %v", err)
	}
	if err := styles.Rename(h2, "Custom"); err != nil {
		t.Errorf("rename onto a removed name should work: %v", err)
	}
}

func TestListCollectionFreshIDsDoNotCollide(t *testing.T) {
	// Lists created in unrelated documents must not share an ID, or a
	// merge would splice them into one numbering sequence.
	seen := make(map[int]bool)
	for range 50 {
		doc := NewDocument()
		h := NewBuilder(doc).ApplyNumberedList()
		id := doc.Lists().Get(h).ID
		if id == 0 {
			t.Fatal("fresh list has zero ID")
		}
		if seen[id] {
			t.Fatalf("ID %d handed out twice", id)
		}
		seen[id] = true
	}
	c := newListCollection()
	a, b := c.AddTemplate(ListNumberDefault), c.AddTemplate(ListNumberDefault)
	if c.Get(a).ID == c.Get(b).ID {
		t.Errorf("lists in one collection share ID %d", c.Get(a).ID)
	}
	if id := c.NewID(); c.hasID(id) || id == 0 {
		t.Errorf("NewID returned used or zero ID %d", id)
	}
}

func TestEnumStringOutOfRange(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{NumberBullet.String(), "bullet"},
		{NumberStyle(99).String(), "NumberStyle(99)"},
		{NumberStyle(-1).String(), "NumberStyle(-1)"},
		{MoveTo.String(), "move-to"},
		{RevisionType(42).String(), "RevisionType(42)"},
		{ListStyle.String(), "numbering"},
		{StyleType(7).String(), "StyleType(7)"},
		{HeaderFooterType(6).String(), "HeaderFooterType(6)"},
		{CellMerge(3).String(), "CellMerge(3)"},
		{ShapeKind(-2).String(), "ShapeKind(-2)"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
