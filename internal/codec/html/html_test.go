package html

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

func decodeString(t *testing.T, s string) *doctree.Document {
	t.Helper()
	doc, err := Decoder{}.Decode(context.Background(), strings.NewReader(s), codec.LoadOptions{})
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

func texts(ps []*doctree.Paragraph) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = content.PlainText(p.Node)
	}
	return out
}

func b64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const sample = `<!DOCTYPE html>
<html><head><title>Doc Title</title><meta name="author" content="Ann"></head>
<body>
<h1>Main</h1>
<p style="text-align:center">Hello <b>bold</b> <i>it</i> <u>un</u> <s>st</s> x<sup>2</sup> <code>c()</code></p>
<p><a href="https://example.com">site</a> <a id="mark"></a>end</p>
<ol start="3" type="a"><li>three</li><li>four<ul><li>inner</li></ul></li></ol>
<blockquote><p>quoted</p></blockquote>
<pre>line 1
line 2</pre>
<hr>
<table><tr><th colspan="2">Head</th></tr><tr><td rowspan="2">A</td><td>B</td></tr><tr><td>C</td></tr></table>
<p>after</p>
</body></html>`

func TestDecodeStructure(t *testing.T) {
	doc := decodeString(t, sample)
	if doc.BuiltIn.Title != "Doc Title" || doc.BuiltIn.Author != "Ann" {
		t.Errorf("properties = %+v", doc.BuiltIn)
	}
	paras := doc.FirstSection().Body().Paragraphs()
	want := []string{"Main", "Hello bold it un st x2 c()", "site end", "three", "four", "inner", "quoted", "line 1", "line 2", "", "after"}
	if got := texts(paras); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("paragraphs:\n got %q\nwant %q", got, want)
	}

	if doc.HeadingLevel(paras[0]) != 1 {
		t.Errorf("h1 level = %d", doc.HeadingLevel(paras[0]))
	}
	if paras[1].Format.Alignment != doctree.AlignCenter {
		t.Errorf("alignment = %v", paras[1].Format.Alignment)
	}
	formats := map[string]doctree.CharFormat{}
	for _, r := range paras[1].Runs() {
		formats[r.Text()] = r.Format
	}
	if !formats["bold"].Bold || !formats["it"].Italic || !formats["un"].Underline || !formats["st"].Strike ||
		formats["2"].VerticalAlign != doctree.Superscript {
		t.Errorf("run formats = %+v", formats)
	}

	if _, err := doc.Bookmark("mark"); err != nil {
		t.Errorf("bookmark: %v", err)
	}
	fields, err := doc.Fields()
	if err != nil || len(fields) != 1 || content.HyperlinkURL(fields[0].Code()) != "https://example.com" {
		t.Errorf("hyperlink fields = %v, %v", fields, err)
	}

	labels := doctree.ListLabels(doc)
	if labels[paras[3].Node] != "c." || labels[paras[4].Node] != "d." || labels[paras[5].Node] != "•" {
		t.Errorf("labels = %q %q %q", labels[paras[3].Node], labels[paras[4].Node], labels[paras[5].Node])
	}
	if paras[5].ListFormat.Level != 1 {
		t.Errorf("nested level = %d", paras[5].ListFormat.Level)
	}

	styleName := func(p *doctree.Paragraph) string { return doc.Styles().Get(p.Style).Name }
	if styleName(paras[6]) != doctree.StyleQuote || styleName(paras[7]) != doctree.StyleHTMLPreformatted {
		t.Errorf("styles = %q %q", styleName(paras[6]), styleName(paras[7]))
	}
	if s := doctree.ChildrenOf[*doctree.Shape](paras[9].Node); len(s) != 1 || s[0].ShapeKind != doctree.ShapeHorizontalRule {
		t.Errorf("hr = %v", s)
	}

	tables := doctree.DescendantsOf[*doctree.Table](doc.Node)
	if len(tables) != 1 {
		t.Fatalf("tables = %d", len(tables))
	}
	rows := tables[0].Rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	r0, r1, r2 := rows[0].Cells(), rows[1].Cells(), rows[2].Cells()
	if len(r0) != 2 || r0[0].HorizontalMerge != doctree.MergeFirst || r0[1].HorizontalMerge != doctree.MergePrevious {
		t.Errorf("colspan row = %d cells", len(r0))
	}
	if runs := r0[0].Paragraphs()[0].Runs(); len(runs) == 0 || !runs[0].Format.Bold {
		t.Errorf("th not bold")
	}
	if r1[0].VerticalMerge != doctree.MergeFirst || len(r2) != 2 || r2[0].VerticalMerge != doctree.MergePrevious {
		t.Errorf("rowspan not mapped")
	}
	if got := content.PlainText(r2[1].Node); got != "C" {
		t.Errorf("cell = %q", got)
	}
}

func TestDecodeCharset(t *testing.T) {
	src := append([]byte(`<html><head><meta charset="windows-1252"></head><body><p>caf`), 0xE9, '<', '/', 'p', '>')
	doc, err := Decoder{}.Decode(context.Background(), bytes.NewReader(src), codec.LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := content.PlainText(doc.Node); got != "café" {
		t.Fatalf("text = %q", got)
	}

	doc = decodeString(t, "<p>"+strings.Repeat("x", 2000)+" naïve</p>")
	if got := content.PlainText(doc.Node); !strings.HasSuffix(got, " naïve") {
		t.Fatalf("utf-8 text = %q", got[len(got)-10:])
	}
}

func TestDecodeWhitespace(t *testing.T) {
	doc := decodeString(t, "<body>\n  loose   text <b> bold </b>\n  tail  <p>  para\n  two  </p></body>")
	got := texts(doc.FirstSection().Body().Paragraphs())
	want := []string{"loose text bold tail", "para two"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeFootnotes(t *testing.T) {
	doc := decodeString(t, `<p>Claim<sup><a href="#fn1" id="fnref1">1</a></sup>.</p>
<div class="footnotes"><hr><ol><li id="fn1">Source text. <a href="#fnref1">↩</a></li></ol></div>`)
	if got := texts(doc.FirstSection().Body().Paragraphs()); len(got) != 1 || got[0] != "Claim." {
		t.Fatalf("body = %q", got)
	}
	notes := doctree.DescendantsOf[*doctree.Footnote](doc.Node)
	if len(notes) != 1 || content.PlainText(notes[0].Node.FirstChild()) != "Source text." {
		t.Fatalf("notes = %d", len(notes))
	}
}

func TestDecodeSectionsAndHeaders(t *testing.T) {
	doc := decodeString(t, `<div class="section"><div class="header"><p>Head</p></div><p>one</p></div>`+
		`<div class="section"><p>two</p><div class="footer"><p>Foot</p></div></div>`)
	secs := doc.Sections()
	if len(secs) != 2 {
		t.Fatalf("sections = %d", len(secs))
	}
	if got := texts(secs[0].Body().Paragraphs()); strings.Join(got, "|") != "one" {
		t.Errorf("first body = %q", got)
	}
	if got := texts(secs[1].Body().Paragraphs()); strings.Join(got, "|") != "two" {
		t.Errorf("second body = %q", got)
	}
	if hf := secs[0].HeaderFooter(doctree.HeaderPrimary); hf == nil || content.PlainText(hf.Node.FirstChild()) != "Head" {
		t.Errorf("header missing")
	}
	if hf := secs[1].HeaderFooter(doctree.FooterPrimary); hf == nil || content.PlainText(hf.Node.FirstChild()) != "Foot" {
		t.Errorf("footer missing")
	}
}

func TestDecodeImages(t *testing.T) {
	uri := "data:image/png;base64," + b64(tinyPNG(t))
	doc := decodeString(t, `<p><img src="`+uri+`" alt="dot" width="40" height="20"><img src="pics/a.gif?x=1"></p>`)
	shapes := doctree.DescendantsOf[*doctree.Shape](doc.Node)
	if len(shapes) != 2 {
		t.Fatalf("shapes = %d", len(shapes))
	}
	if shapes[0].AltText != "dot" || shapes[0].Width != 30 || shapes[0].Height != 15 || len(shapes[0].Image.Data) == 0 {
		t.Errorf("embedded = %+v", shapes[0])
	}
	if shapes[1].Image.SourceURL != "pics/a.gif?x=1" || shapes[1].Image.Type != doctree.ImageGIF {
		t.Errorf("linked = %+v", shapes[1].Image)
	}

	doc, err := Decoder{}.Decode(context.Background(), strings.NewReader(`<img src="`+uri+`">`), codec.LoadOptions{SkipImages: true})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(doctree.DescendantsOf[*doctree.Shape](doc.Node)); n != 0 {
		t.Fatalf("skipped images kept: %d", n)
	}
}

func TestDecodeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Decoder{}.Decode(ctx, strings.NewReader(sample), codec.LoadOptions{})
	if !errors.Is(err, codec.ErrCanceled) {
		t.Fatalf("err = %v", err)
	}
}

func basicDocument(t *testing.T) *doctree.Document {
	t.Helper()
	doc := doctree.NewDocument()
	doc.BuiltIn.Title = "T & Co"
	b := doctree.NewBuilder(doc)
	b.SetStyle(doctree.HeadingStyleName(1))
	b.Writeln("Intro")
	b.SetStyle(doctree.StyleNormal)
	b.Write("Plain ")
	b.Font.Bold = true
	b.Write("B")
	b.Font = doctree.CharFormat{Italic: true}
	b.Write("I")
	b.Font = doctree.CharFormat{}
	b.Writeln("")
	if _, err := b.InsertHyperlink("site", "https://example.com/?a=1&b=2"); err != nil {
		t.Fatal(err)
	}
	b.Writeln("")
	b.CurrentParagraph().Format.Alignment = doctree.AlignCenter
	b.Font.Color = "FF0000"
	b.Write("red")
	b.Font = doctree.CharFormat{}
	return doc
}

func TestEncodeBasic(t *testing.T) {
	got := encodeString(t, basicDocument(t), nil)
	for _, want := range []string{
		"<!DOCTYPE html>",
		`<meta charset="utf-8"/>`,
		"<title>T &amp; Co</title>",
		"<h1>Intro</h1>",
		"<p>Plain <b>B</b><i>I</i></p>",
		`<p><a href="https://example.com/?a=1&amp;b=2">site</a></p>`,
		`<p style="text-align:center"><span style="color:#FF0000">red</span></p>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}
	if strings.Contains(got, "<style>") {
		t.Errorf("inline mode wrote a style sheet")
	}
}

func TestEncodeEmbeddedCSS(t *testing.T) {
	got := encodeString(t, basicDocument(t), &SaveOptions{CSSStyleSheetType: CSSEmbedded, Title: "Override"})
	for _, want := range []string{
		"<title>Override</title>",
		".c1 { text-align:center }",
		".c2 { color:#FF0000 }",
		`<p class="c1"><span class="c2">red</span></p>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}
	if strings.Contains(got, "style=") {
		t.Errorf("embedded mode wrote style attributes:\n%s", got)
	}
}

func listDocument() *doctree.Document {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	h := b.ApplyNumberedList()
	b.Writeln("one")
	b.Writeln("two")
	b.ApplyList(h, 1)
	b.Writeln("sub")
	b.ApplyList(h, 0)
	b.Writeln("three")
	b.RemoveList()
	b.Write("after")
	return doc
}

func TestEncodeListModes(t *testing.T) {
	got := encodeString(t, listDocument(), nil)
	want := `<ol><li>one</li><li>two<ol type="a"><li>sub</li></ol></li><li>three</li></ol><p>after</p>`
	if !strings.Contains(got, want) {
		t.Errorf("html lists:\n%s\nwant %s", got, want)
	}

	got = encodeString(t, listDocument(), &SaveOptions{ListLabels: ListLabelsAsInlineText})
	for _, want := range []string{"<p>1. one</p>", "<p>2. two</p>", `<p style="margin-left:36pt">a. sub</p>`, "<p>3. three</p>"} {
		if !strings.Contains(got, want) {
			t.Errorf("inline labels missing %q in\n%s", want, got)
		}
	}
}

func TestEncodeTableSpans(t *testing.T) {
	doc := decodeString(t, `<table><tr><td colspan="2">wide</td></tr><tr><td rowspan="2">tall</td><td>b</td></tr><tr><td>c</td></tr></table>`)
	got := encodeString(t, doc, nil)
	want := `<table><tr><td colspan="2"><p>wide</p></td></tr><tr><td rowspan="2"><p>tall</p></td><td><p>b</p></td></tr><tr><td><p>c</p></td></tr></table>`
	if !strings.Contains(got, want) {
		t.Fatalf("table:\n%s\nwant %s", got, want)
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

func TestEncodeTableSkipsDeletedRows(t *testing.T) {
	got := encodeString(t, revisedTableDocument(t), nil)
	if n := strings.Count(got, "<tr>"); n != 2 {
		t.Errorf("rows = %d, want 2:\n%s", n, got)
	}
	for _, gone := range []string{">a<", ">b<", ">1<", ">2<"} {
		if strings.Contains(got, gone) {
			t.Errorf("removed row content %q exported:\n%s", gone, got)
		}
	}
	if !strings.Contains(got, "<p>c</p>") {
		t.Errorf("surviving row missing:\n%s", got)
	}
}

func TestEncodeHeadersFooters(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("body")
	b.MoveToHeaderFooter(doctree.HeaderPrimary)
	b.Write("top")
	b.MoveToHeaderFooter(doctree.FooterPrimary)
	b.Write("bottom")

	if got := encodeString(t, doc, nil); strings.Contains(got, "top") {
		t.Errorf("default mode exported header:\n%s", got)
	}
	got := encodeString(t, doc, &SaveOptions{HeadersFooters: HeadersFootersPerSection})
	h, body, f := strings.Index(got, `<div class="header">`), strings.Index(got, "body</p>"), strings.Index(got, `<div class="footer">`)
	if h < 0 || f < 0 || !(h < body && body < f) {
		t.Errorf("header/footer placement:\n%s", got)
	}
}

func TestEncodeImagesAndNotes(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	s, err := b.InsertImage(tinyPNG(t))
	if err != nil {
		t.Fatal(err)
	}
	s.AltText = "grey"
	b.Write("text")
	b.InsertFootnote(doctree.FootnoteKindFootnote, "the note")

	var names []string
	got := encodeString(t, doc, &SaveOptions{ImageResource: func(r codec.Resource) (string, error) {
		names = append(names, r.Name)
		return "media/" + r.Name, nil
	}})
	if !strings.Contains(got, `<img src="media/image001.png" alt="grey" width="3" height="3"/>`) {
		t.Errorf("image:\n%s", got)
	}
	if len(names) != 1 {
		t.Errorf("resources = %v", names)
	}
	for _, want := range []string{
		`<sup><a href="#fn1" id="fnref1">1</a></sup>`,
		`<div class="footnotes"><hr/><ol><li id="fn1">the note</li></ol></div>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}

	got = encodeString(t, doc, &SaveOptions{ExportImagesAsBase64: true})
	if !strings.Contains(got, `src="data:image/png;base64,`) {
		t.Errorf("base64 image missing")
	}
}

func TestEncodePrettyFormat(t *testing.T) {
	got := encodeString(t, listDocument(), &SaveOptions{PrettyFormat: true})
	if !strings.Contains(got, "<body>\n<ol>\n<li>one</li>\n") {
		t.Fatalf("pretty output:\n%s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	first := decodeString(t, sample)
	html1 := encodeString(t, first, nil)
	second := decodeString(t, html1)
	if a, b := content.PlainText(first.Node), content.PlainText(second.Node); a != b {
		t.Fatalf("text changed:\n%q\n%q", a, b)
	}
	if html2 := encodeString(t, second, nil); html1 != html2 {
		t.Fatalf("encode not stable:\n%s\n%s", html1, html2)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	doc := decodeString(t, sample)
	a := encodeString(t, doc, &SaveOptions{CSSStyleSheetType: CSSEmbedded})
	b := encodeString(t, doc, &SaveOptions{CSSStyleSheetType: CSSEmbedded})
	if a != b {
		t.Fatal("two encodes differ")
	}
}

func TestOptionsMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := (Encoder{}).Encode(context.Background(), &buf, doctree.NewDocument(), &SaveOptions{CSSStyleSheetType: 7})
	if !errors.Is(err, codec.ErrOptionsMismatch) {
		t.Fatalf("err = %v", err)
	}
	_, err = Decoder{}.Decode(context.Background(), strings.NewReader("<p>x</p>"), codec.LoadOptions{Specific: &SaveOptions{}})
	if !errors.Is(err, codec.ErrOptionsMismatch) {
		t.Fatalf("decode err = %v", err)
	}
}
