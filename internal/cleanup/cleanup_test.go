package cleanup

import (
	"testing"

	"github.com/dgallion1/docforge/internal/doctree"
)

func addStyle(t *testing.T, doc *doctree.Document, s doctree.Style) doctree.StyleHandle {
	t.Helper()
	h, err := doc.Styles().Add(s)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestUnusedStyles(t *testing.T) {
	doc := doctree.NewDocument()
	base := addStyle(t, doc, doctree.Style{Name: "Base", Type: doctree.ParagraphStyle, Font: doctree.CharFormat{Size: 13}})
	used := addStyle(t, doc, doctree.Style{Name: "Used", Type: doctree.ParagraphStyle, BasedOn: base})
	addStyle(t, doc, doctree.Style{Name: "Orphan", Type: doctree.ParagraphStyle})
	addStyle(t, doc, doctree.Style{Name: "Orphan Char", Type: doctree.CharacterStyle})
	doc.Styles().Ensure(doctree.StyleQuote)

	b := doctree.NewBuilder(doc)
	b.Write("body")
	b.CurrentParagraph().Style = used

	before := doc.Styles().Len()
	res := Cleanup(doc, Options{UnusedStyles: true})
	if res.UnusedStylesRemoved != 2 {
		t.Fatalf("removed %d styles, want 2", res.UnusedStylesRemoved)
	}
	if doc.Styles().Len() != before-2 {
		t.Errorf("style count %d, want %d", doc.Styles().Len(), before-2)
	}
	for _, name := range []string{"Base", "Used", doctree.StyleQuote, doctree.StyleNormal} {
		if _, ok := doc.Styles().Lookup(name, doctree.ParagraphStyle); !ok {
			t.Errorf("style %q removed", name)
		}
	}
	if err := doc.ValidateReferences(); err != nil {
		t.Fatal(err)
	}

	res = Cleanup(doc, Options{UnusedStyles: true, UnusedBuiltinStyles: true})
	if res.UnusedStylesRemoved != 1 {
		t.Errorf("builtin pass removed %d, want 1", res.UnusedStylesRemoved)
	}
	if _, ok := doc.Styles().Lookup(doctree.StyleNormal, doctree.ParagraphStyle); !ok {
		t.Error("default style removed")
	}
}

func TestUsageIsRecomputed(t *testing.T) {
	doc := doctree.NewDocument()
	h := addStyle(t, doc, doctree.Style{Name: "Temp", Type: doctree.CharacterStyle})
	b := doctree.NewBuilder(doc)
	b.CharStyle = h
	b.Write("styled")

	if res := Cleanup(doc, Options{UnusedStyles: true}); res.Changed() {
		t.Fatalf("removed a used style: %+v", res)
	}
	doc.FirstSection().Body().Paragraphs()[0].Node.RemoveAllChildren()
	if res := Cleanup(doc, Options{UnusedStyles: true}); res.UnusedStylesRemoved != 1 {
		t.Fatalf("style not removed after its run was: %+v", res)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	doc := doctree.NewDocument()
	a := addStyle(t, doc, doctree.Style{Name: "A", Type: doctree.ParagraphStyle, Font: doctree.CharFormat{Bold: true}})
	addStyle(t, doc, doctree.Style{Name: "B", Type: doctree.ParagraphStyle, Font: doctree.CharFormat{Bold: true}})
	addStyle(t, doc, doctree.Style{Name: "C", Type: doctree.ParagraphStyle})
	doc.Lists().AddTemplate(doctree.ListBulletDefault)
	doctree.NewBuilder(doc).CurrentParagraph().Style = a

	opts := Options{UnusedStyles: true, UnusedLists: true, DuplicateStyle: true}
	first := Cleanup(doc, opts)
	if !first.Changed() {
		t.Fatal("first pass removed nothing")
	}
	count := doc.Styles().Len()
	if second := Cleanup(doc, opts); second.Changed() || doc.Styles().Len() != count {
		t.Errorf("second pass changed the document: %+v", second)
	}
}

func TestDuplicateStyles(t *testing.T) {
	doc := doctree.NewDocument()
	font := doctree.CharFormat{FontName: "Arial", Size: 14}
	parentA := addStyle(t, doc, doctree.Style{Name: "Parent A", Type: doctree.ParagraphStyle, Font: font})
	parentB := addStyle(t, doc, doctree.Style{Name: "Parent B", Type: doctree.ParagraphStyle, Font: font})
	childA := addStyle(t, doc, doctree.Style{Name: "Child A", Type: doctree.ParagraphStyle, BasedOn: parentA, Paragraph: doctree.ParaFormat{LeftIndent: 10}})
	childB := addStyle(t, doc, doctree.Style{Name: "Child B", Type: doctree.ParagraphStyle, BasedOn: parentB, Paragraph: doctree.ParaFormat{LeftIndent: 10}})
	charStyle := addStyle(t, doc, doctree.Style{Name: "Parent A", Type: doctree.CharacterStyle, Font: font})

	b := doctree.NewBuilder(doc)
	b.CurrentParagraph().Style = childB
	b.CharStyle = charStyle
	b.Write("x")

	res := Cleanup(doc, Options{DuplicateStyle: true})
	if res.DuplicatesRemoved != 2 {
		t.Fatalf("removed %d duplicates, want 2", res.DuplicatesRemoved)
	}
	if got := b.CurrentParagraph().Style; got != childA {
		t.Errorf("paragraph style = %d, want %d", got, childA)
	}
	if doc.Styles().Get(parentB) != nil || doc.Styles().Get(childB) != nil {
		t.Error("duplicates still present")
	}
	if doc.Styles().Get(charStyle) == nil {
		t.Error("character style merged with a paragraph style")
	}
	if err := doc.ValidateReferences(); err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateKeepsBuiltins(t *testing.T) {
	doc := doctree.NewDocument()
	custom := addStyle(t, doc, doctree.Style{Name: "Custom", Type: doctree.ParagraphStyle})
	header := doc.Styles().Ensure(doctree.StyleHeader)

	res := Cleanup(doc, Options{DuplicateStyle: true})
	if res.DuplicatesRemoved != 1 {
		t.Fatalf("removed %d, want 1", res.DuplicatesRemoved)
	}
	if doc.Styles().Get(header) == nil {
		t.Error("built-in style removed")
	}
	if doc.Styles().Get(custom) != nil {
		t.Error("custom copy of Normal kept")
	}
}

func TestUnusedLists(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	used := b.ApplyNumberedList()
	b.Write("item")
	unused := doc.Lists().AddTemplate(doctree.ListBulletDefault)

	res := Cleanup(doc, Options{UnusedLists: true})
	if res.ListsRemoved != 1 {
		t.Fatalf("removed %d lists, want 1", res.ListsRemoved)
	}
	if doc.Lists().Get(used) == nil || doc.Lists().Get(unused) != nil {
		t.Error("wrong list removed")
	}
}

func TestDuplicateStylesSelfNext(t *testing.T) {
	doc := doctree.NewDocument()
	font := doctree.CharFormat{FontName: "Courier", Size: 9}
	a := addStyle(t, doc, doctree.Style{Name: "Code A", Type: doctree.ParagraphStyle, Font: font})
	b := addStyle(t, doc, doctree.Style{Name: "Code B", Type: doctree.ParagraphStyle, Font: font})
	c := addStyle(t, doc, doctree.Style{Name: "Code C", Type: doctree.ParagraphStyle, Font: font})
	styles := doc.Styles()
	styles.Get(a).Next = a
	styles.Get(b).Next = b

	bd := doctree.NewBuilder(doc)
	bd.CurrentParagraph().Style = b
	bd.Write("x")

	res := Cleanup(doc, Options{DuplicateStyle: true})
	if res.DuplicatesRemoved != 2 {
		t.Fatalf("removed %d duplicates, want 2", res.DuplicatesRemoved)
	}
	if styles.Get(b) != nil || styles.Get(c) != nil {
		t.Error("self-following copies still present")
	}
	if got := bd.CurrentParagraph().Style; got != a {
		t.Errorf("paragraph style = %d, want %d", got, a)
	}
	if next := styles.Get(a).Next; next != a {
		t.Errorf("surviving style next = %d, want %d", next, a)
	}
	if err := doc.ValidateReferences(); err != nil {
		t.Fatal(err)
	}
}
