package content

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/doctree"
)

func firstPara(doc *doctree.Document) *doctree.Paragraph {
	return doc.FirstSection().Body().Paragraphs()[0]
}

func TestTextUsesControlCharacters(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("Hello ")
	if _, err := b.InsertMergeField("Name"); err != nil {
		t.Fatal(err)
	}

	want := "Hello \x13 MERGEFIELD Name \\* MERGEFORMAT \x14«Name»\x15\r"
	if got := Text(firstPara(doc).Node); got != want {
		t.Fatalf("Text:\n got %q\nwant %q", got, want)
	}
	if got := PlainText(doc.Node); got != "Hello «Name»" {
		t.Errorf("PlainText: got %q", got)
	}

	var n int
	for range Fragments(doc.Node) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("Fragments did not stop early")
	}
}

func TestTableText(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Writeln("intro")
	table := b.StartTable()
	for _, s := range []string{"x", "y"} {
		if _, err := b.InsertCell(); err != nil {
			t.Fatal(err)
		}
		b.Write(s)
	}
	if _, err := b.EndRow(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.EndTable(); err != nil {
		t.Fatal(err)
	}
	b.Write("end")

	if got := Text(table.Node); got != "x\r\ay\r\a\a" {
		t.Errorf("Text(table) = %q", got)
	}
	if got := PlainText(doc.Node); got != "intro\nx\ty\nend" {
		t.Errorf("PlainText = %q", got)
	}
}

func TestSectionBreakOnlyBetweenSections(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("one")
	b.InsertBreak(doctree.BreakSectionNewPage)
	b.Write("two")
	if got := Text(doc.Node); got != "one\r\ftwo\r" {
		t.Errorf("Text = %q", got)
	}
}

func TestTextBetweenAndDeleteBetween(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("a")
	b.Write("b")
	b.Write("c")
	runs := firstPara(doc).Runs()

	got, err := TextBetween(runs[0].Node, runs[2].Node)
	if err != nil || got != "ab" {
		t.Fatalf("TextBetween = %q, %v", got, err)
	}
	if got, _ := TextBetween(runs[1].Node, nil); got != "bc" {
		t.Errorf("open-ended TextBetween = %q", got)
	}
	if _, err := TextBetween(runs[2].Node, runs[0].Node); !errors.Is(err, doctree.ErrInvalidTreeOperation) {
		t.Errorf("reversed range: expected ErrInvalidTreeOperation, got %v", err)
	}

	b.InsertParagraph()
	b.Write("other")
	other := doc.FirstSection().Body().Paragraphs()[1].Runs()[0]
	if _, err := TextBetween(runs[0].Node, other.Node); !errors.Is(err, doctree.ErrCrossParentRange) {
		t.Fatalf("expected ErrCrossParentRange, got %v", err)
	}
	if err := DeleteBetween(runs[0].Node, other.Node); !errors.Is(err, doctree.ErrCrossParentRange) {
		t.Fatalf("expected ErrCrossParentRange, got %v", err)
	}

	doc.StartTrackRevisions("reviewer", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if err := DeleteBetween(runs[0].Node, runs[2].Node); err != nil {
		t.Fatal(err)
	}
	if len(doc.Revisions()) != 2 {
		t.Fatalf("expected 2 tracked deletions, got %d", len(doc.Revisions()))
	}
	if got := PlainText(firstPara(doc).Node); got != "c" {
		t.Errorf("PlainText after tracked delete = %q", got)
	}
}

func numberedDoc(items int) *doctree.Document {
	doc := doctree.NewDocument()
	l := doctree.NewListFromTemplate(doctree.ListNumberDefault)
	l.ID = 42
	l.Levels[0].StartAt = 6
	h := doc.Lists().Add(l)
	b := doctree.NewBuilder(doc)
	for i := 0; i < items; i++ {
		if i > 0 {
			b.InsertParagraph()
		}
		b.ApplyList(h, 0)
		b.Write("item")
	}
	return doc
}

func labelsInOrder(doc *doctree.Document) []string {
	labels := doctree.ListLabels(doc)
	var out []string
	for _, p := range doc.NodesOfType(doctree.ParagraphNode) {
		if l, ok := labels[p]; ok {
			out = append(out, l)
		}
	}
	return out
}

func TestAppendDocumentNumbering(t *testing.T) {
	tests := []struct {
		keep bool
		want []string
	}{
		{true, []string{"6.", "7.", "8.", "9.", "6.", "7.", "8.", "9."}},
		{false, []string{"6.", "7.", "8.", "9.", "10.", "11.", "12.", "13."}},
	}
	for _, tt := range tests {
		dst, src := numberedDoc(4), numberedDoc(4)
		err := AppendDocument(dst, src, UseDestinationStyles, ImportOptions{KeepSourceNumbering: tt.keep})
		if err != nil {
			t.Fatal(err)
		}
		if got := labelsInOrder(dst); !slices.Equal(got, tt.want) {
			t.Errorf("KeepSourceNumbering=%v: got %v, want %v", tt.keep, got, tt.want)
		}
		if err := dst.ValidateReferences(); err != nil {
			t.Errorf("KeepSourceNumbering=%v: %v", tt.keep, err)
		}
		if len(dst.Sections()) != 2 {
			t.Errorf("expected 2 sections, got %d", len(dst.Sections()))
		}
	}
}

func TestAppendDocumentSameIDDifferentList(t *testing.T) {
	dst := numberedDoc(2)
	src := doctree.NewDocument()
	l := doctree.NewListFromTemplate(doctree.ListBulletDefault)
	l.ID = 42
	h := src.Lists().Add(l)
	b := doctree.NewBuilder(src)
	b.ApplyList(h, 0)
	b.Write("bullet")
	if err := AppendDocument(dst, src, UseDestinationStyles, ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	if got, want := labelsInOrder(dst), []string{"6.", "7.", "•"}; !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if dst.Lists().Len() != 2 {
		t.Errorf("expected 2 lists, got %d", dst.Lists().Len())
	}
}

func styledDoc(name string, f doctree.CharFormat) (*doctree.Document, doctree.StyleHandle) {
	doc := doctree.NewDocument()
	h, err := doc.Styles().Add(doctree.Style{Name: name, Type: doctree.ParagraphStyle, Font: f})
	if err != nil {
		panic(err)
	}
	b := doctree.NewBuilder(doc)
	b.CurrentParagraph().Style = h
	b.Write("styled")
	return doc, h
}

func TestImportFormatModes(t *testing.T) {
	tests := []struct {
		mode      ImportFormatMode
		wantStyle string
		wantBold  bool
	}{
		{UseDestinationStyles, "Custom", false},
		{KeepSourceFormatting, "Custom_0", false},
		{KeepDifferentStyles, "Custom", true},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			src, _ := styledDoc("Custom", doctree.CharFormat{Bold: true})
			dst, _ := styledDoc("Custom", doctree.CharFormat{Italic: true})

			im := NewImporter(src, dst, tt.mode, ImportOptions{})
			c, err := im.Import(firstPara(src).Node)
			if err != nil {
				t.Fatal(err)
			}
			p := c.Data().(*doctree.Paragraph)
			if got := dst.Styles().Get(p.Style).Name; got != tt.wantStyle {
				t.Errorf("style %q, want %q", got, tt.wantStyle)
			}
			if got := p.Runs()[0].Format.Bold; got != tt.wantBold {
				t.Errorf("direct bold %v, want %v", got, tt.wantBold)
			}

			again, err := im.Import(firstPara(src).Node)
			if err != nil {
				t.Fatal(err)
			}
			if again.Data().(*doctree.Paragraph).Style != p.Style {
				t.Error("second import mapped the style differently")
			}
		})
	}
}

func TestImportCopiesMissingStyleChain(t *testing.T) {
	src := doctree.NewDocument()
	base, _ := src.Styles().Add(doctree.Style{Name: "Base", Type: doctree.ParagraphStyle})
	child, _ := src.Styles().Add(doctree.Style{Name: "Child", Type: doctree.ParagraphStyle, BasedOn: base})
	firstPara(src).Style = child

	dst := doctree.NewDocument()
	c, err := NewImporter(src, dst, UseDestinationStyles, ImportOptions{}).Import(firstPara(src).Node)
	if err != nil {
		t.Fatal(err)
	}
	st := dst.Styles().Get(c.Data().(*doctree.Paragraph).Style)
	if st == nil || st.Name != "Child" {
		t.Fatalf("unexpected style %+v", st)
	}
	if b := dst.Styles().Get(st.BasedOn); b == nil || b.Name != "Base" {
		t.Fatalf("basedOn not carried: %+v", b)
	}
}

func TestImportRejectsForeignNode(t *testing.T) {
	a, b := doctree.NewDocument(), doctree.NewDocument()
	im := NewImporter(a, b, UseDestinationStyles, ImportOptions{})
	if _, err := im.Import(firstPara(b).Node); !errors.Is(err, doctree.ErrInvalidTreeOperation) {
		t.Fatalf("expected ErrInvalidTreeOperation, got %v", err)
	}
}

func TestUpdateFields(t *testing.T) {
	doc := doctree.NewDocument()
	doc.Variables.Set("Client", "acme")
	doc.BuiltIn.Title = "Report"
	b := doctree.NewBuilder(doc)

	mustField := func(code string) *doctree.Field {
		f, err := b.InsertField(code, "old")
		if err != nil {
			t.Fatal(err)
		}
		return f
	}
	v := mustField(`DOCVARIABLE Client \* Upper`)
	s1 := mustField("SEQ fig")
	s2 := mustField("SEQ fig")
	b.StartBookmark("bm")
	b.Write("target")
	b.EndBookmark("bm")
	ref := mustField("REF bm")
	title := mustField("TITLE")
	locked := mustField("AUTHOR")
	locked.Start.Data().(*doctree.FieldStart).Locked = true

	n, err := UpdateFields(doc, UpdateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected 5 updates, got %d", n)
	}
	for _, c := range []struct {
		f    *doctree.Field
		want string
	}{{v, "ACME"}, {s1, "1"}, {s2, "2"}, {ref, "target"}, {title, "Report"}, {locked, "old"}} {
		if got, _ := c.f.Result(); got != c.want {
			t.Errorf("%s: result %q, want %q", c.f.Code(), got, c.want)
		}
	}
}

func TestGoDateLayout(t *testing.T) {
	at := time.Date(2024, 7, 4, 15, 6, 0, 0, time.UTC)
	tests := []struct{ pic, want string }{
		{"d MMMM yyyy", "4 July 2024"},
		{"dd/MM/yy", "04/07/24"},
		{"dddd", "Thursday"},
		{"'Week of' MMM d", "Week of Jul 4"},
	}
	for _, tt := range tests {
		if got := at.Format(GoDateLayout(tt.pic)); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.pic, got, tt.want)
		}
	}
}

func TestApplyFormatSwitch(t *testing.T) {
	tests := []struct{ code, in, want string }{
		{`X \* Upper`, "abc", "ABC"},
		{`X \* Lower`, "ABC", "abc"},
		{`X \* FirstCap`, "hello WORLD", "Hello world"},
		{`X \* Caps`, "hello world", "Hello World"},
		{`X`, "Same", "Same"},
	}
	for _, tt := range tests {
		if got := ApplyFormatSwitch(tt.in, doctree.ParseFieldCode(tt.code)); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestBookmarkText(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.StartBookmark("span")
	b.Write("first")
	b.InsertParagraph()
	b.Write("second")
	b.EndBookmark("span")
	got, err := BookmarkText(doc, "span")
	if err != nil || got != "first\rsecond" {
		t.Fatalf("BookmarkText = %q, %v", got, err)
	}
	if _, err := BookmarkText(doc, "nope"); !errors.Is(err, doctree.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptedRows(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.StartTable()
	for _, text := range []string{"keep", "deleted", "moved", "inserted"} {
		if _, err := b.InsertCell(); err != nil {
			t.Fatal(err)
		}
		b.Write(text)
		if _, err := b.EndRow(); err != nil {
			t.Fatal(err)
		}
	}
	table, err := b.EndTable()
	if err != nil {
		t.Fatal(err)
	}
	rows := table.Rows()
	for i, typ := range []doctree.RevisionType{doctree.NoRevision, doctree.Deletion, doctree.MoveFrom, doctree.Insertion} {
		rows[i].SetRevision(doctree.RevisionMark{Type: typ})
	}
	var got []string
	for _, r := range AcceptedRows(table) {
		got = append(got, PlainText(r.Node))
	}
	if want := []string{"keep", "inserted"}; !slices.Equal(got, want) {
		t.Errorf("accepted rows %v, want %v", got, want)
	}
	if IsRowDeleted(rows[0]) || !IsRowDeleted(rows[1]) || !IsRowDeleted(rows[2]) || IsRowDeleted(rows[3]) {
		t.Error("IsRowDeleted disagrees with the row marks")
	}
}

func TestImportFormatModeString(t *testing.T) {
	if got := KeepDifferentStyles.String(); got != "KeepDifferentStyles" {
		t.Errorf("String() = %q", got)
	}
	if got := ImportFormatMode(9).String(); got != "ImportFormatMode(9)" {
		t.Errorf("out of range String() = %q", got)
	}
}
