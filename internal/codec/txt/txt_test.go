package txt

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

func decodeString(t *testing.T, s string, lo *LoadOptions) *doctree.Document {
	t.Helper()
	opts := codec.LoadOptions{}
	if lo != nil {
		opts.Specific = lo
	}
	doc, err := Decoder{}.Decode(context.Background(), strings.NewReader(s), opts)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return doc
}

func encodeString(t *testing.T, doc *doctree.Document, o *SaveOptions) string {
	t.Helper()
	var buf bytes.Buffer
	var opts codec.SaveOptions
	if o != nil {
		opts = o
	}
	if err := (Encoder{}).Encode(context.Background(), &buf, doc, opts); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.String()
}

func paragraphTexts(doc *doctree.Document) []string {
	var out []string
	for _, p := range doc.FirstSection().Body().Paragraphs() {
		out = append(out, content.PlainText(p.Node))
	}
	return out
}

func TestDecodeLinesBecomeParagraphs(t *testing.T) {
	doc := decodeString(t, "one\r\ntwo\rthree\n\nfive\n", nil)
	got := paragraphTexts(doc)
	want := []string{"one", "two", "three", "", "five"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("paragraphs: got %q, want %q", got, want)
	}
}

func TestDecodeWhitespacePolicies(t *testing.T) {
	tests := []struct {
		name    string
		opts    LoadOptions
		want    string
		wantInd float64
	}{
		{"preserve", LoadOptions{}, "  \tword  ", 0},
		{"trim both", LoadOptions{LeadingSpaces: LeadingTrim, TrailingSpaces: TrailingTrim}, "word", 0},
		{"indent", LoadOptions{LeadingSpaces: LeadingConvertToIndent}, "word  ", 2*spaceWidth + tabWidth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := decodeString(t, "  \tword  ", &tt.opts)
			p := doc.FirstSection().Body().Paragraphs()[0]
			if got := content.Text(p.Node); got != tt.want+doctree.ParagraphBreak {
				t.Errorf("text: %q", got)
			}
			if p.Format.LeftIndent != tt.wantInd {
				t.Errorf("indent: got %v want %v", p.Format.LeftIndent, tt.wantInd)
			}
		})
	}
}

func TestDecodeDetectsLists(t *testing.T) {
	src := "Intro\n1. first\n2. second\n\n- a\n- b\n3 plain\n4 numbers\n7) single\nend"
	doc := decodeString(t, src, nil)
	paras := doc.FirstSection().Body().Paragraphs()
	listed := map[string]doctree.ListHandle{}
	for _, p := range paras {
		if p.IsListItem() {
			listed[content.PlainText(p.Node)] = p.ListFormat.List
		}
	}
	for _, s := range []string{"first", "second", "a", "b", "plain", "numbers"} {
		if listed[s] == 0 {
			t.Errorf("%q not detected as a list item", s)
		}
	}
	if listed["first"] != listed["second"] || listed["first"] == listed["a"] {
		t.Errorf("list grouping wrong: %v", listed)
	}
	if _, ok := listed["single"]; ok {
		t.Errorf("a lone label should stay body text")
	}
	if l := doc.Lists().Get(listed["a"]); !l.IsBulleted() || l.Levels[0].Format != "-" {
		t.Errorf("bullet list: %+v", l.Levels[0])
	}

	doc = decodeString(t, src, &LoadOptions{})
	for _, p := range doc.FirstSection().Body().Paragraphs() {
		if content.PlainText(p.Node) == "3 plain" && p.IsListItem() {
			t.Errorf("whitespace numbering detected with detection off")
		}
	}
}

func TestDecodeEncodings(t *testing.T) {
	utf16 := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	doc, err := Decoder{}.Decode(context.Background(), bytes.NewReader(utf16), codec.LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := content.PlainText(doc.Node); got != "hi" {
		t.Errorf("utf-16: %q", got)
	}
	latin := []byte("caf\xe9")
	doc, err = Decoder{}.Decode(context.Background(), bytes.NewReader(latin), codec.LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := content.PlainText(doc.Node); got != "café" {
		t.Errorf("windows-1252 fallback: %q", got)
	}
	_, err = Decoder{}.Decode(context.Background(), strings.NewReader("x"), codec.LoadOptions{Specific: 42})
	if !errors.Is(err, codec.ErrOptionsMismatch) {
		t.Errorf("expected ErrOptionsMismatch, got %v", err)
	}
}

func sampleDocument(t *testing.T) *doctree.Document {
	t.Helper()
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.MoveToHeaderFooter(doctree.HeaderPrimary)
	b.Write("Header")
	b.MoveToHeaderFooter(doctree.FooterPrimary)
	b.Write("Footer")
	b.MoveToHeaderFooter(doctree.HeaderFirst)
	b.Write("First header")
	b.MoveToDocumentEnd()
	b.Writeln("  Body  ")
	b.ApplyBulletList()
	b.Writeln("dot")
	b.RemoveList()
	b.Write("Page")
	b.InsertBreak(doctree.BreakPage)
	b.Write("two ")
	if _, err := b.InsertMergeField("Name"); err != nil {
		t.Fatal(err)
	}
	b.InsertFootnote(doctree.FootnoteKindFootnote, "note")
	return doc
}

func TestEncodeHeadersFootersModes(t *testing.T) {
	doc := sampleDocument(t)
	tests := []struct {
		mode HeadersFootersMode
		want string
	}{
		{HeadersFootersPrimaryOnly, "Header\n  Body  \n• dot\nPage\ntwo «Name»[1]\nFooter\n[1] note\n"},
		{HeadersFootersNone, "  Body  \n• dot\nPage\ntwo «Name»[1]\n[1] note\n"},
		{HeadersFootersAllAtEnd, "  Body  \n• dot\nPage\ntwo «Name»[1]\nHeader\nFirst header\nFooter\n[1] note\n"},
	}
	for _, tt := range tests {
		got := encodeString(t, doc, &SaveOptions{HeadersFooters: tt.mode, ParagraphBreak: "\n"})
		if got != tt.want {
			t.Errorf("mode %d:\n got %q\nwant %q", tt.mode, got, tt.want)
		}
	}
}

func TestEncodeOptions(t *testing.T) {
	doc := sampleDocument(t)
	got := encodeString(t, doc, &SaveOptions{
		HeadersFooters:     HeadersFootersNone,
		LeadingSpaces:      LeadingTrim,
		TrailingSpaces:     TrailingTrim,
		ForcePageBreaks:    true,
		SimplifyListLabels: true,
	})
	want := "Body\r\n* dot\r\nPage\ftwo «Name»[1]\r\n[1] note\r\n"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
	if _, err := saveOptionsOf(&SaveOptions{LeadingSpaces: LeadingConvertToIndent}); !errors.Is(err, codec.ErrOptionsMismatch) {
		t.Errorf("expected ErrOptionsMismatch, got %v", err)
	}
}

func TestEncodeTables(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.StartTable()
	for _, row := range [][]string{{"Name", "Qty"}, {"Widget", "7"}} {
		for _, cell := range row {
			if _, err := b.InsertCell(); err != nil {
				t.Fatal(err)
			}
			b.Write(cell)
		}
		if _, err := b.EndRow(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := b.EndTable(); err != nil {
		t.Fatal(err)
	}
	plain := encodeString(t, doc, &SaveOptions{ParagraphBreak: "\n"})
	if plain != "Name\nQty\nWidget\n7\n\n" {
		t.Errorf("plain table: %q", plain)
	}
	laid := encodeString(t, doc, &SaveOptions{ParagraphBreak: "\n", PreserveTableLayout: true})
	if laid != "Name    Qty\nWidget  7\n\n" {
		t.Errorf("laid out table: %q", laid)
	}
}

func revisedTableDocument(t *testing.T) *doctree.Document {
	t.Helper()
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.StartTable()
	for _, row := range [][]string{{"Name", "Qty"}, {"a", "1"}, {"b", "2"}, {"c", "3"}} {
		for _, cell := range row {
			if _, err := b.InsertCell(); err != nil {
				t.Fatal(err)
			}
			b.Write(cell)
		}
		if _, err := b.EndRow(); err != nil {
			t.Fatal(err)
		}
	}
	table, err := b.EndTable()
	if err != nil {
		t.Fatal(err)
	}
	rows := table.Rows()
	doc.StartTrackRevisions("ed", time.Time{})
	if err := rows[1].Remove(); err != nil {
		t.Fatal(err)
	}
	doc.StopTrackRevisions()
	if err := doctree.SetRevision(rows[2].Node, doctree.RevisionMark{Type: doctree.MoveFrom, MoveID: 1}); err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestEncodeTablesSkipDeletedRows(t *testing.T) {
	tests := []struct {
		layout bool
		want   string
	}{
		{false, "Name\nQty\nc\n3\n\n"},
		{true, "Name  Qty\nc     3\n\n"},
	}
	for _, tt := range tests {
		got := encodeString(t, revisedTableDocument(t), &SaveOptions{ParagraphBreak: "\n", PreserveTableLayout: tt.layout})
		if got != tt.want {
			t.Errorf("PreserveTableLayout=%v: %q, want %q", tt.layout, got, tt.want)
		}
	}
}

func TestEncodeWrapsAndEncodes(t *testing.T) {
	doc := decodeString(t, "the quick brown fox jumps", nil)
	got := encodeString(t, doc, &SaveOptions{MaxCharactersPerLine: 10, ParagraphBreak: "\n"})
	if got != "the quick\nbrown fox\njumps\n" {
		t.Errorf("wrapped: %q", got)
	}

	doc = decodeString(t, "café", nil)
	got = encodeString(t, doc, &SaveOptions{Encoding: "windows-1252", ParagraphBreak: "\n"})
	if got != "caf\xe9\n" {
		t.Errorf("windows-1252: %q", got)
	}
	got = encodeString(t, doc, &SaveOptions{WriteBOM: true, ParagraphBreak: "\n"})
	if !strings.HasPrefix(got, "\xEF\xBB\xBF") {
		t.Errorf("missing BOM: %q", got)
	}
}

func TestRoundTripKeepsText(t *testing.T) {
	src := "Title\r\n1. one\r\n2. two\r\n\r\nclosing\tline\r\n"
	doc := decodeString(t, src, nil)
	if got := encodeString(t, doc, nil); got != src {
		t.Errorf("round trip:\n got %q\nwant %q", got, src)
	}
	a := encodeString(t, doc, nil)
	if a != encodeString(t, doc, nil) {
		t.Errorf("encode is not deterministic")
	}
}

func TestEncodeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Encoder{}.Encode(ctx, &bytes.Buffer{}, sampleDocument(t), nil)
	if !errors.Is(err, codec.ErrCanceled) {
		t.Errorf("expected ErrCanceled, got %v", err)
	}
}
