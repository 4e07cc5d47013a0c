package codec

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgallion1/docforge/internal/codec/cfb"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/license"
)

func TestFormatNames(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"docx", DOCX},
		{"DOTM", DOTM},
		{"md", Markdown},
		{".markdown", Markdown},
		{"txt", Text},
		{".htm", HTML},
		{"flatopc", FlatOPC},
		{"rtf", RTF},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseFormat("xlsx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if got := FormatFromExtension("Report.DOCX"); got != DOCX {
		t.Errorf("FormatFromExtension: got %v", got)
	}
	if DOCM.Extension() != ".docm" || Format(99).String() != "Unknown" {
		t.Error("format table mismatch")
	}
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, body)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func contentTypesFor(ct string) string {
	return `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Override PartName="/word/document.xml" ContentType="` + ct + `"/></Types>`
}

func cfbBytes(t *testing.T, streams map[string][]byte) []byte {
	t.Helper()
	w := cfb.NewWriter()
	for p, d := range streams {
		if err := w.AddStream(p, d); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	fib := make([]byte, 64)
	fib[0x0B] = 0x01 // fEncrypted
	tests := []struct {
		name      string
		data      []byte
		format    Format
		encrypted bool
		signed    bool
		encoding  string
	}{
		{"docx", zipBytes(t, map[string]string{"[Content_Types].xml": contentTypesFor(MainContentType(DOCX)), "word/document.xml": "<w:document/>"}), DOCX, false, false, ""},
		{"dotm", zipBytes(t, map[string]string{"[Content_Types].xml": contentTypesFor(MainContentType(DOTM))}), DOTM, false, false, ""},
		{"signed docx", zipBytes(t, map[string]string{"[Content_Types].xml": contentTypesFor(MainContentType(DOCX)), "_xmlsignatures/sig1.xml": "<Signature/>"}), DOCX, false, true, ""},
		{"odt", zipBytes(t, map[string]string{"mimetype": "application/vnd.oasis.opendocument.text"}), ODT, false, false, ""},
		{"encrypted ooxml", cfbBytes(t, map[string][]byte{"EncryptionInfo": {4, 0, 4, 0}, "EncryptedPackage": make([]byte, 16)}), DOCX, true, false, ""},
		{"legacy doc", cfbBytes(t, map[string][]byte{"WordDocument": fib}), DOC, true, false, ""},
		{"pdf", []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF"), PDF, false, false, ""},
		{"encrypted pdf", []byte("%PDF-1.4\ntrailer\n<< /Encrypt 5 0 R >>\n%%EOF"), PDF, true, false, ""},
		{"signed pdf", []byte("%PDF-1.4\n<< /Type /Sig /ByteRange [0 10 20 30] >>\n%%EOF"), PDF, false, true, ""},
		{"rtf", []byte(`{\rtf1\ansi hello}`), RTF, false, false, ""},
		{"flat opc", []byte(`<?xml version="1.0"?><pkg:package xmlns:pkg="http://schemas.microsoft.com/office/2006/xmlPackage"/>`), FlatOPC, false, false, "utf-8"},
		{"wordml", []byte(`<?xml version="1.0"?><?mso-application progid="Word.Document"?><w:wordDocument/>`), WordML, false, false, "utf-8"},
		{"html", []byte(`<!DOCTYPE html><html><head><meta charset="ISO-8859-1"></head></html>`), HTML, false, false, "windows-1252"},
		{"markdown", []byte("# Title\n\nSome *text*.\n"), Markdown, false, false, "utf-8"},
		{"markdown table", []byte("a | b\n--- | ---\n1 | 2\n"), Markdown, false, false, "utf-8"},
		{"text", []byte("Just a line.\nAnother line.\n"), Text, false, false, "utf-8"},
		{"utf-8 bom", []byte("\xEF\xBB\xBFhello"), Text, false, false, "utf-8"},
		{"utf-16", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, Text, false, false, "utf-16le"},
		{"latin-1", []byte("caf\xe9 au lait"), Text, false, false, "windows-1252"},
		{"binary", []byte{1, 2, 0, 4, 5}, Unknown, false, false, ""},
		{"empty", nil, Unknown, false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := DetectBytes(tt.data)
			if err != nil {
				t.Fatalf("DetectBytes: %v", err)
			}
			if info.Format != tt.format {
				t.Errorf("format: got %v, want %v", info.Format, tt.format)
			}
			if info.IsEncrypted != tt.encrypted {
				t.Errorf("encrypted: got %v, want %v", info.IsEncrypted, tt.encrypted)
			}
			if info.HasDigitalSignature != tt.signed {
				t.Errorf("signed: got %v, want %v", info.HasDigitalSignature, tt.signed)
			}
			if info.Encoding != tt.encoding {
				t.Errorf("encoding: got %q, want %q", info.Encoding, tt.encoding)
			}
		})
	}
}

func TestDetectCorruptZip(t *testing.T) {
	_, err := DetectBytes([]byte("PK\x03\x04garbage"))
	if !errors.Is(err, ErrCorrupted) {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
}

func TestCheckpointerCancels(t *testing.T) {
	doc := doctree.NewDocument()
	b := doctree.NewBuilder(doc)
	for range 20 {
		b.Writeln("line")
	}
	polls := 0
	c := &SaveCommon{
		CheckpointInterval: 5,
		Progress: ProgressFunc(func(p ProgressInfo) Action {
			polls++
			if p.Visited >= 10 {
				return Cancel
			}
			return Continue
		}),
	}
	cp := NewCheckpointer(context.Background(), Text, doc, c)
	var err error
	ticks := 0
	for range doc.Descendants() {
		ticks++
		if err = cp.Tick(); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if ticks != 10 || polls != 2 {
		t.Errorf("canceled after %d ticks and %d polls, want 10 and 2", ticks, polls)
	}
}

func TestCheckpointerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cp := NewCheckpointer(ctx, Text, doctree.NewDocument(), nil)
	if err := cp.Done(); !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected ErrCanceled wrapping context.Canceled, got %v", err)
	}
}

type plainOptions struct{ SaveCommon }

func (*plainOptions) SaveFormat() Format { return Text }

// plainCodec is a minimal codec used to exercise the registry.
type plainCodec struct{ fail bool }

func (plainCodec) Decode(_ context.Context, r io.Reader, _ LoadOptions) (*doctree.Document, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := doctree.NewDocument()
	doctree.NewBuilder(doc).Write(string(b))
	return doc, nil
}

func (c plainCodec) Encode(ctx context.Context, w io.Writer, doc *doctree.Document, opts SaveOptions) error {
	if opts != nil {
		if _, ok := opts.(*plainOptions); !ok {
			return ErrOptionsMismatch
		}
	}
	io.WriteString(w, content.PlainText(doc.Node))
	if c.fail {
		return Corruptf("refusing to finish")
	}
	return nil
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestRegistryLoadClosesSource(t *testing.T) {
	r := NewRegistry()
	r.Register(Text, plainCodec{}, plainCodec{})

	src := &closeTracker{Reader: strings.NewReader("hello world")}
	doc, err := r.Load(context.Background(), src, LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !src.closed {
		t.Error("source not closed after success")
	}
	if got := content.PlainText(doc.Node); got != "hello world" {
		t.Errorf("text: got %q", got)
	}

	src = &closeTracker{Reader: bytes.NewReader([]byte("%PDF-1.4 nothing"))}
	_, err = r.Load(context.Background(), src, LoadOptions{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if !src.closed {
		t.Error("source not closed after failure")
	}
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(Text, plainCodec{}, plainCodec{fail: true})
	doc := doctree.NewDocument()

	err := r.Save(context.Background(), io.Discard, doc, Text, nil)
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Format != Text || fe.Op != "encode" || !errors.Is(err, ErrCorrupted) {
		t.Errorf("expected encode FormatError wrapping ErrCorrupted, got %v", err)
	}
	if _, err := r.Encoder(RTF); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestRegistryLicense(t *testing.T) {
	doc := doctree.NewDocument()
	doctree.NewBuilder(doc).Write("body")

	r := NewRegistry(WithLicense(license.Evaluation))
	r.Register(Text, plainCodec{}, plainCodec{})
	var buf bytes.Buffer
	if err := r.Save(context.Background(), &buf, doc, Text, &plainOptions{}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), license.WatermarkText) {
		t.Errorf("missing watermark: %q", buf.String())
	}
	if strings.Contains(content.PlainText(doc.Node), license.WatermarkText) {
		t.Error("input document was modified")
	}

	r = NewRegistry(WithLicense(license.Disabled))
	r.Register(Text, plainCodec{}, plainCodec{})
	if _, err := r.Load(context.Background(), strings.NewReader("x"), LoadOptions{}); !errors.Is(err, license.ErrNotLicensed) {
		t.Errorf("expected ErrNotLicensed on load, got %v", err)
	}
}

func TestSaveFileRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()
	r.Register(Text, plainCodec{}, plainCodec{fail: true})
	doc := doctree.NewDocument()
	doctree.NewBuilder(doc).Write("partial")

	path := filepath.Join(dir, "out.txt")
	if err := r.SaveFile(context.Background(), path, doc, Unknown, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial output left behind: %v", err)
	}

	if err := r.SaveFile(context.Background(), filepath.Join(dir, "out.xyz"), doc, Unknown, nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
