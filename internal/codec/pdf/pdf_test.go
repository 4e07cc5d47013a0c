package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// buildPDF writes a minimal PDF with one page per text and a
// Helvetica font.
func buildPDF(pages ...string) []byte {
	var objs []string
	n := len(pages)
	fontID := 3 + 2*n
	infoID := fontID + 1
	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i, text := range pages {
		var ops strings.Builder
		ops.WriteString("BT /F1 12 Tf 72 720 Td")
		for j, line := range strings.Split(text, "\n") {
			if j > 0 {
				ops.WriteString(" 0 -14 Td")
			}
			fmt.Fprintf(&ops, " (%s) Tj", line)
		}
		ops.WriteString(" ET")
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontID, 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", ops.Len(), ops.String()))
	}
	objs = append(objs,
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		"<< /Title (Quarterly Report) /Author (Ann Lee) /CreationDate (D:20240506070809Z) >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, infoID, xref)
	return buf.Bytes()
}

func bodyParagraphs(doc *doctree.Document) []*doctree.Paragraph {
	return doctree.ChildrenOf[*doctree.Paragraph](doc.FirstSection().Body().Node)
}

func TestDecode(t *testing.T) {
	data := buildPDF("Hello PDF", "Second page")
	doc, err := Decoder{}.Decode(context.Background(), bytes.NewReader(data), codec.LoadOptions{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	text := content.PlainText(doc.Node)
	first, second := strings.Index(text, "Hello PDF"), strings.Index(text, "Second page")
	if first < 0 || second < first {
		t.Fatalf("text = %q", text)
	}

	var breaks int
	for _, p := range bodyParagraphs(doc) {
		if p.Format.PageBreakBefore {
			breaks++
			if !strings.Contains(content.PlainText(p.Node), "Second") {
				t.Errorf("page break before %q", content.PlainText(p.Node))
			}
		}
	}
	if breaks != 1 {
		t.Errorf("page breaks = %d, want 1", breaks)
	}

	if doc.BuiltIn.Title != "Quarterly Report" || doc.BuiltIn.Author != "Ann Lee" {
		t.Errorf("info = %+v", doc.BuiltIn)
	}
	want := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	if !doc.BuiltIn.Created.Equal(want) {
		t.Errorf("created = %v, want %v", doc.BuiltIn.Created, want)
	}
}

func TestDecodeOptions(t *testing.T) {
	data := buildPDF("one", "two", "three")
	ctx := context.Background()

	doc, err := Decoder{}.Decode(ctx, bytes.NewReader(data), codec.LoadOptions{
		Specific: LoadOptions{FirstPage: 2, LastPage: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	text := content.PlainText(doc.Node)
	if !strings.Contains(text, "two") || strings.Contains(text, "one") || strings.Contains(text, "three") {
		t.Errorf("page range text = %q", text)
	}

	doc, err = Decoder{}.Decode(ctx, bytes.NewReader(data), codec.LoadOptions{
		Specific: &LoadOptions{SkipPageBreaks: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range bodyParagraphs(doc) {
		if p.Format.PageBreakBefore {
			t.Errorf("unexpected page break before %q", content.PlainText(p.Node))
		}
	}

	_, err = Decoder{}.Decode(ctx, bytes.NewReader(data), codec.LoadOptions{Specific: 42})
	if !errors.Is(err, codec.ErrOptionsMismatch) {
		t.Errorf("mismatched options error = %v", err)
	}
}

func TestDecodeCorrupted(t *testing.T) {
	for _, src := range []string{"%PDF-1.4\nnot really", "", "%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"} {
		_, err := Decoder{}.Decode(context.Background(), strings.NewReader(src), codec.LoadOptions{})
		if !errors.Is(err, codec.ErrCorrupted) {
			t.Errorf("Decode(%q) error = %v, want ErrCorrupted", src, err)
		}
	}
}

func TestDecodeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Decoder{}.Decode(ctx, bytes.NewReader(buildPDF("x")), codec.LoadOptions{})
	if !errors.Is(err, codec.ErrCanceled) {
		t.Errorf("error = %v, want ErrCanceled", err)
	}
}

func TestSplitParagraphs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lines", "a\nb\r\nc", []string{"a", "b", "c"}},
		{"blocks", "first line\nsame para\n\n  second  \n", []string{"first line same para", "second"}},
		{"empty", " \n\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitParagraphs(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"D:20240506070809Z", time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), true},
		{"D:2023", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"D:202311", time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"D:abcd", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseDate(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
