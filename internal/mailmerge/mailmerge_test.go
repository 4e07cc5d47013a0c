package mailmerge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

func mergeField(t *testing.T, b *doctree.Builder, name string) {
	t.Helper()
	if _, err := b.InsertMergeField(name); err != nil {
		t.Fatal(err)
	}
}

func field(t *testing.T, b *doctree.Builder, code string) {
	t.Helper()
	if _, err := b.InsertField(code, "«x»"); err != nil {
		t.Fatal(err)
	}
}

func must[T any](t *testing.T) func(T, error) T {
	return func(v T, err error) T {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
}

func letterTemplate(t *testing.T) *doctree.Document {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("Dear ")
	mergeField(t, b, "FirstName")
	b.Write(" ")
	mergeField(t, b, "LastName")
	b.Write(",")
	b.InsertParagraph()
	b.Write("You owe ")
	field(t, b, ` MERGEFIELD Amount \# "$#,##0.00" `)
	return doc
}

func TestExecute(t *testing.T) {
	tmpl := letterTemplate(t)
	before := content.PlainText(tmpl.Node)
	ds := Records("",
		Record{"FirstName": "Ann", "LastName": "Lee", "Amount": 1234.5},
		Record{"firstname": "Bob", "LASTNAME": "Ray", "Amount": "7"},
	)
	out, err := Execute(tmpl, ds, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "Dear Ann Lee,\nYou owe $1,234.50\nDear Bob Ray,\nYou owe $7.00"
	if got := content.PlainText(out.Node); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
	if n := len(out.Sections()); n != 2 {
		t.Errorf("sections = %d, want 2", n)
	}
	if fields := must[[]*doctree.Field](t)(out.Fields()); len(fields) != 0 {
		t.Errorf("%d fields left", len(fields))
	}
	if content.PlainText(tmpl.Node) != before {
		t.Error("template was modified")
	}
}

func TestExecuteNoRecords(t *testing.T) {
	out, err := Execute(letterTemplate(t), Records(""), Options{Cleanup: RemoveUnusedFields})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := content.PlainText(out.Node), "Dear  ,\nYou owe "; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		code  string
		value any
		want  string
	}{
		{` MERGEFIELD Name \* Upper `, "ann", "ANN"},
		{` MERGEFIELD Name \* Lower \* MERGEFORMAT `, "ANN", "ann"},
		{` MERGEFIELD Name \* Caps `, "ann marie lee", "Ann Marie Lee"},
		{` MERGEFIELD Name \* FirstCap `, "hello world", "Hello world"},
		{` MERGEFIELD Name \b "Dear " \f "!" `, "Ann", "Dear Ann!"},
		{` MERGEFIELD Name \b "Dear " \f "!" `, "", ""},
		{` MERGEFIELD D \@ "d MMMM yyyy" `, "2024-03-05", "5 March 2024"},
		{` MERGEFIELD D \@ "MM/dd/yy" `, time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), "01/09/24"},
		{` MERGEFIELD D \@ "yyyy" `, "not a date", "not a date"},
		{` MERGEFIELD N \# "#,##0.00" `, json.Number("1234.5"), "1,234.50"},
		{` MERGEFIELD N \# "$0.0" `, -3.14159, "-$3.1"},
		{` MERGEFIELD N \# "00.##" `, 5.5, "05.5"},
		{` MERGEFIELD N \# "#,##0" `, 1234567, "1,234,567"},
		{` MERGEFIELD N `, 2.5, "2.5"},
		{` MERGEFIELD N `, true, "true"},
		{` MERGEFIELD N `, nil, ""},
	}
	for _, tt := range tests {
		fc := doctree.ParseFieldCode(tt.code)
		if got := formatValue(tt.value, fc); got != tt.want {
			t.Errorf("formatValue(%v, %q) = %q, want %q", tt.value, tt.code, got, tt.want)
		}
	}
}

func invoiceTemplate(t *testing.T) *doctree.Document {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("Invoice")
	b.InsertParagraph()
	b.StartTable()
	must[*doctree.Cell](t)(b.InsertCell())
	b.Write("Item")
	must[*doctree.Cell](t)(b.InsertCell())
	b.Write("Qty")
	must[*doctree.Row](t)(b.EndRow())
	must[*doctree.Cell](t)(b.InsertCell())
	mergeField(t, b, "TableStart:Items")
	mergeField(t, b, "Name")
	must[*doctree.Cell](t)(b.InsertCell())
	mergeField(t, b, "Qty")
	mergeField(t, b, "TableEnd:Items")
	must[*doctree.Row](t)(b.EndRow())
	must[*doctree.Table](t)(b.EndTable())
	b.Write("Total: ")
	mergeField(t, b, "Total")
	return doc
}

func TestRegionsTableRows(t *testing.T) {
	ds := Records("Items", Record{"Name": "Apple", "Qty": 3}, Record{"Name": "Pear", "Qty": 5})
	out, err := ExecuteWithRegions(invoiceTemplate(t), ds, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "Invoice\nItem\tQty\nApple\t3\nPear\t5\nTotal: «Total»"
	if got := content.PlainText(out.Node); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}

	out, err = ExecuteWithRegions(invoiceTemplate(t), ds, Options{Cleanup: RemoveUnusedFields})
	if err != nil {
		t.Fatal(err)
	}
	if got := content.PlainText(out.Node); got != "Invoice\nItem\tQty\nApple\t3\nPear\t5\nTotal: " {
		t.Errorf("with unused fields removed: %q", got)
	}
}

func TestNestedRegions(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	mergeField(t, b, "TableStart:Orders")
	b.Write("Order ")
	mergeField(t, b, "Id")
	b.StartTable()
	must[*doctree.Cell](t)(b.InsertCell())
	mergeField(t, b, "TableStart:Lines")
	mergeField(t, b, "Sku")
	must[*doctree.Cell](t)(b.InsertCell())
	mergeField(t, b, "Qty")
	b.Write(" for ")
	mergeField(t, b, "Customer")
	mergeField(t, b, "TableEnd:Lines")
	must[*doctree.Row](t)(b.EndRow())
	must[*doctree.Table](t)(b.EndTable())
	b.Write("Customer ")
	mergeField(t, b, "Customer")
	mergeField(t, b, "TableEnd:Orders")

	data := `[
	  {"Id": 1, "Customer": "Ann", "Lines": [{"Sku": "A", "Qty": 1}, {"Sku": "B", "Qty": 2}]},
	  {"Id": 2, "Customer": "Bob", "Lines": [{"Sku": "C", "Qty": 3}]}
	]`
	ds, err := FromJSON(bytes.NewBufferString(data), "Orders")
	if err != nil {
		t.Fatal(err)
	}
	out, err := ExecuteWithRegions(doc, ds, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := "Order 1\nA\t1 for Ann\nB\t2 for Ann\nCustomer Ann\nOrder 2\nC\t3 for Bob\nCustomer Bob"
	if got := content.PlainText(out.Node); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
	if fields := must[[]*doctree.Field](t)(out.Fields()); len(fields) != 0 {
		t.Errorf("%d fields left", len(fields))
	}
}

func TestUnusedRegions(t *testing.T) {
	ds := Records("Other", Record{"Name": "x"})
	out, err := ExecuteWithRegions(invoiceTemplate(t), ds, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if rows := out.NodesOfType(doctree.RowNode); len(rows) != 2 {
		t.Errorf("rows = %d, want the template's 2", len(rows))
	}

	out, err = ExecuteWithRegions(invoiceTemplate(t), ds, Options{Cleanup: RemoveUnusedRegions})
	if err != nil {
		t.Fatal(err)
	}
	if rows := out.NodesOfType(doctree.RowNode); len(rows) != 1 {
		t.Errorf("rows = %d, want 1 after removing the region", len(rows))
	}

	// An empty record list repeats the region zero times.
	out, err = ExecuteWithRegions(invoiceTemplate(t), Records("Items"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if rows := out.NodesOfType(doctree.RowNode); len(rows) != 1 {
		t.Errorf("rows = %d, want 1 for an empty region", len(rows))
	}
}

func TestRegionErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
	}{
		{"end without start", []string{"TableEnd:A"}},
		{"unclosed", []string{"TableStart:A"}},
		{"mismatched", []string{"TableStart:A", "TableStart:B", "TableEnd:A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := doctree.NewDocument()
			b := doctree.NewBuilder(doc)
			for _, f := range tt.fields {
				mergeField(t, b, f)
			}
			if _, err := ExecuteWithRegions(doc, Records("A"), Options{}); !errors.Is(err, ErrRegion) {
				t.Errorf("err = %v, want ErrRegion", err)
			}
		})
	}
}

func TestCleanupOptions(t *testing.T) {
	build := func(t *testing.T) *doctree.Document {
		doc := doctree.NewDocument()
		b := doctree.NewBuilder(doc)
		mergeField(t, b, "Line1")
		b.InsertParagraph()
		mergeField(t, b, "Line2")
		b.InsertParagraph()
		b.Write("end")
		b.InsertParagraph()
		b.StartTable()
		must[*doctree.Cell](t)(b.InsertCell())
		mergeField(t, b, "Line2")
		must[*doctree.Row](t)(b.EndRow())
		must[*doctree.Cell](t)(b.InsertCell())
		b.Write("kept")
		must[*doctree.Row](t)(b.EndRow())
		must[*doctree.Table](t)(b.EndTable())
		mergeField(t, b, "Unknown")
		return doc
	}
	ds := Records("", Record{"Line1": "x", "Line2": ""})
	tests := []struct {
		name    string
		cleanup CleanupOptions
		want    string
	}{
		{"none", 0, "x\n\nend\n\nkept\n«Unknown»"},
		{"empty paragraphs", RemoveEmptyParagraphs, "x\nend\n\nkept\n«Unknown»"},
		{"empty rows", RemoveEmptyTableRows, "x\n\nend\nkept\n«Unknown»"},
		{"unused fields", RemoveUnusedFields | RemoveEmptyParagraphs | RemoveEmptyTableRows, "x\nend\nkept"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Execute(build(t), ds, Options{Cleanup: tt.cleanup})
			if err != nil {
				t.Fatal(err)
			}
			if got := content.PlainText(out.Node); got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoveContainingFields(t *testing.T) {
	build := func() *doctree.Document {
		doc := doctree.NewDocument()
		p := doc.FirstSection().Body().Paragraphs()[0]
		ifField, err := doctree.InsertField(p, nil, ` IF `, "yes", true)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := doctree.InsertField(p, ifField.Separator, ` MERGEFIELD Flag `, "«Flag»", true); err != nil {
			t.Fatal(err)
		}
		return doc
	}
	ds := Records("", Record{"Flag": "on"})

	out, err := Execute(build(), ds, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if fields := must[[]*doctree.Field](t)(out.Fields()); len(fields) != 1 || fields[0].Type() != doctree.FieldIf {
		t.Fatalf("fields = %v, want the IF field", fields)
	}

	out, err = Execute(build(), ds, Options{Cleanup: RemoveContainingFields})
	if err != nil {
		t.Fatal(err)
	}
	if fields := must[[]*doctree.Field](t)(out.Fields()); len(fields) != 0 {
		t.Errorf("%d fields left", len(fields))
	}
	if got := content.PlainText(out.Node); got != "yes" {
		t.Errorf("text = %q, want the IF result", got)
	}
}

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImageField(t *testing.T) {
	data := pngBytes(t)
	for _, v := range []any{data, base64.StdEncoding.EncodeToString(data), "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)} {
		doc := doctree.NewDocument()
		b := doctree.NewBuilder(doc)
		b.Write("Logo: ")
		mergeField(t, b, "Image:Logo")
		out, err := Execute(doc, Records("", Record{"Logo": v}), Options{})
		if err != nil {
			t.Fatal(err)
		}
		shapes := out.NodesOfType(doctree.ShapeNode)
		if len(shapes) != 1 {
			t.Fatalf("shapes = %d, want 1", len(shapes))
		}
		if s := shapes[0].Data().(*doctree.Shape); s.Image == nil || !bytes.Equal(s.Image.Data, data) {
			t.Error("image data not carried")
		}
	}

	doc := doctree.NewDocument()
	mergeField(t, doctree.NewBuilder(doc), "Image:Logo")
	if _, err := Execute(doc, Records("", Record{"Logo": "%%%"}), Options{}); err == nil {
		t.Error("expected an error for undecodable image data")
	}
}

func TestTrimWhitespace(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	b.Write("[")
	mergeField(t, b, "V")
	b.Write("]")
	ds := Records("", Record{"V": "  padded "})
	out := must[*doctree.Document](t)(Execute(doc, ds, Options{TrimWhitespace: true}))
	if got := content.PlainText(out.Node); got != "[padded]" {
		t.Errorf("text = %q", got)
	}
}
