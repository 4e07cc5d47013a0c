package split

import (
	"slices"
	"strings"
	"testing"

	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

type line struct {
	style string
	text  string
}

func outlineDoc(t *testing.T, lines ...line) *doctree.Document {
	t.Helper()
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	for i, l := range lines {
		if l.style == "break" {
			b.InsertBreak(doctree.BreakSectionNewPage)
			continue
		}
		if i > 0 && lines[i-1].style != "break" {
			b.InsertParagraph()
		}
		b.CurrentParagraph().Style = 0
		if l.style != "" {
			b.CurrentParagraph().Style = doc.Styles().Ensure(l.style)
		}
		b.Write(l.text)
	}
	return doc
}

func sample(t *testing.T) *doctree.Document {
	return outlineDoc(t,
		line{"", "Preface"},
		line{"Heading 1", "Intro"},
		line{"", "a"},
		line{"Heading 2", "Detail"},
		line{"", "b"},
		line{"Heading 1", "Usage"},
		line{"", "c"},
	)
}

func texts(parts []Part) []string {
	var out []string
	for _, p := range parts {
		out = append(out, content.PlainText(p.Doc.Node))
	}
	return out
}

func titles(parts []Part) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p.Title())
	}
	return out
}

func TestByHeadings(t *testing.T) {
	tests := []struct {
		maxLevel   int
		wantText   []string
		wantTitles []string
	}{
		{1,
			[]string{"Preface", "Intro\na\nDetail\nb", "Usage\nc"},
			[]string{"", "Intro", "Usage"}},
		{2,
			[]string{"Preface", "Intro\na", "Detail\nb", "Usage\nc"},
			[]string{"", "Intro", "Intro > Detail", "Usage"}},
		{0,
			[]string{"Preface", "Intro\na\nDetail\nb", "Usage\nc"},
			[]string{"", "Intro", "Usage"}},
	}
	for _, tt := range tests {
		doc := sample(t)
		parts, err := ByHeadings(doc, tt.maxLevel)
		if err != nil {
			t.Fatal(err)
		}
		if got := texts(parts); !slices.Equal(got, tt.wantText) {
			t.Errorf("maxLevel %d: texts %q, want %q", tt.maxLevel, got, tt.wantText)
		}
		if got := titles(parts); !slices.Equal(got, tt.wantTitles) {
			t.Errorf("maxLevel %d: titles %q, want %q", tt.maxLevel, got, tt.wantTitles)
		}
		for i, p := range parts {
			if p.Index != i {
				t.Errorf("part %d has index %d", i, p.Index)
			}
			if err := p.Doc.ValidateReferences(); err != nil {
				t.Errorf("part %d: %v", i, err)
			}
		}
		if got := content.PlainText(doc.Node); got != "Preface\nIntro\na\nDetail\nb\nUsage\nc" {
			t.Errorf("source modified: %q", got)
		}
	}
}

func TestByHeadingsSetsTitle(t *testing.T) {
	parts, err := ByHeadings(sample(t), 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := parts[2].Doc.BuiltIn.Title; got != "Intro > Detail" {
		t.Errorf("title property = %q", got)
	}
}

func TestBySections(t *testing.T) {
	doc := outlineDoc(t,
		line{"Heading 1", "Intro"},
		line{"", "a"},
		line{"break", ""},
		line{"", "plain"},
	)
	doc.Sections()[1].PageSetup.PageWidth = 700
	parts, err := BySections(doc)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := texts(parts), []string{"Intro\na", "plain"}; !slices.Equal(got, want) {
		t.Errorf("texts %q, want %q", got, want)
	}
	if got, want := titles(parts), []string{"Intro", "Section 2"}; !slices.Equal(got, want) {
		t.Errorf("titles %q, want %q", got, want)
	}
	secs := parts[1].Doc.Sections()
	if len(secs) != 1 || secs[0].PageSetup.PageWidth != 700 {
		t.Error("second part lost its section setup")
	}
}

func TestBySize(t *testing.T) {
	sentence := strings.TrimSpace(strings.Repeat("word ", 10))
	lines := []line{{"Heading 1", "Top"}}
	for range 5 {
		lines = append(lines, line{"", sentence})
	}
	parts, err := BySize(outlineDoc(t, lines...), 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	for i, p := range parts {
		if p.Title() != "Top" {
			t.Errorf("part %d title = %q", i, p.Title())
		}
		if n := EstimateTokens(content.PlainText(p.Doc.Node)); n > 30 {
			t.Errorf("part %d has %d tokens", i, n)
		}
	}
}

func TestPartsDropUnusedStyles(t *testing.T) {
	doc := outlineDoc(t,
		line{"Heading 1", "One"},
		line{"Heading 1", "Two"},
	)
	h, err := doc.Styles().Add(doctree.Style{
		Name:    "Special",
		Type:    doctree.ParagraphStyle,
		BasedOn: doc.Styles().Ensure("Heading 1"),
	})
	if err != nil {
		t.Fatal(err)
	}
	doc.Sections()[0].Body().Paragraphs()[1].Style = h
	parts, err := ByHeadings(doc, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Fatalf("parts = %d", len(parts))
	}
	if _, ok := parts[0].Doc.Styles().Lookup("Special", doctree.ParagraphStyle); ok {
		t.Error("unused style kept in the first part")
	}
	if _, ok := parts[1].Doc.Styles().Lookup("Special", doctree.ParagraphStyle); !ok {
		t.Error("used style dropped from the second part")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one two three", 3},
		{strings.Repeat("w ", 100), 133},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
