package codec

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/dgallion1/docforge/internal/codec/cfb"
)

// FileFormatInfo is the result of inspecting a file without decoding it.
type FileFormatInfo struct {
	Format              Format
	IsEncrypted         bool
	HasDigitalSignature bool
	// Encoding is the detected character encoding of text formats, such
	// as "utf-8" or "windows-1252". Empty for binary formats.
	Encoding string
}

// sniffLen is how much of a file text detection looks at.
const sniffLen = 64 << 10

// Main part content types of the OOXML package variants.
var ooxmlMainTypes = map[string]Format{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml": DOCX,
	"application/vnd.ms-word.document.macroEnabled.main+xml":                          DOCM,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.template.main+xml": DOTX,
	"application/vnd.ms-word.template.macroEnabledTemplate.main+xml":                   DOTM,
}

// MainContentType returns the main document part content type for an
// OOXML package format.
func MainContentType(f Format) string {
	for ct, ff := range ooxmlMainTypes {
		if ff == f {
			return ct
		}
	}
	return ""
}

// DetectBytes inspects an in-memory file.
func DetectBytes(data []byte) (FileFormatInfo, error) {
	return Detect(bytes.NewReader(data), int64(len(data)))
}

// DetectFile inspects the file at path.
func DetectFile(path string) (FileFormatInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileFormatInfo{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return FileFormatInfo{}, err
	}
	return Detect(f, st.Size())
}

// Detect determines the format of a file from its content: byte
// signatures, the ZIP part listing, the compound file directory or the
// PDF trailer. Only as much as needed is read; nothing is decoded.
func Detect(r io.ReaderAt, size int64) (FileFormatInfo, error) {
	head := make([]byte, min(size, sniffLen))
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return FileFormatInfo{}, err
	}
	head = head[:n]
	if n == 0 {
		return FileFormatInfo{}, nil
	}

	switch {
	case bytes.HasPrefix(head, []byte("%PDF")):
		return detectPDF(r, size)
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return detectZIP(r, size)
	case cfb.IsCompoundFile(head):
		return detectCompound(r, size)
	}
	return detectText(head), nil
}

func detectPDF(r io.ReaderAt, size int64) (FileFormatInfo, error) {
	info := FileFormatInfo{Format: PDF}
	found, err := scanFor(r, size, []string{"/Encrypt", "/ByteRange"})
	if err != nil {
		return info, err
	}
	info.IsEncrypted = found["/Encrypt"]
	info.HasDigitalSignature = found["/ByteRange"]
	return info, nil
}

// scanFor reports which markers occur anywhere in r, reading in chunks
// that overlap by the longest marker.
func scanFor(r io.ReaderAt, size int64, markers []string) (map[string]bool, error) {
	const chunk = 256 << 10
	overlap := 0
	for _, m := range markers {
		overlap = max(overlap, len(m)-1)
	}
	found := make(map[string]bool, len(markers))
	buf := make([]byte, chunk+overlap)
	for off := int64(0); off < size; off += chunk {
		n, err := r.ReadAt(buf, off)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		for _, m := range markers {
			if !found[m] && bytes.Contains(buf[:n], []byte(m)) {
				found[m] = true
			}
		}
		if len(found) == len(markers) {
			break
		}
	}
	return found, nil
}

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

func detectZIP(r io.ReaderAt, size int64) (FileFormatInfo, error) {
	info := FileFormatInfo{}
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	hasDocument := false
	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, "/")
		switch {
		case name == "mimetype":
			if b, err := readZipFile(f, 256); err == nil &&
				strings.HasPrefix(string(b), "application/vnd.oasis.opendocument.text") {
				info.Format = ODT
			}
		case strings.HasPrefix(name, "META-INF/") && strings.Contains(name, "signature"):
			info.HasDigitalSignature = true
		case strings.HasPrefix(name, "_xmlsignatures/"):
			info.HasDigitalSignature = true
		case name == "[Content_Types].xml" && info.Format == Unknown:
			b, err := readZipFile(f, 1<<20)
			if err != nil {
				continue
			}
			var ct contentTypes
			if xml.Unmarshal(b, &ct) != nil {
				continue
			}
			for _, o := range ct.Overrides {
				if ff, ok := ooxmlMainTypes[o.ContentType]; ok {
					info.Format = ff
				}
			}
		case name == "word/document.xml":
			hasDocument = true
		}
	}
	if info.Format == Unknown && hasDocument {
		info.Format = DOCX
	}
	return info, nil
}

func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

func detectCompound(r io.ReaderAt, size int64) (FileFormatInfo, error) {
	info := FileFormatInfo{}
	cf, err := cfb.NewReader(r, size)
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	switch {
	case cf.Has("EncryptionInfo") && cf.Has("EncryptedPackage"):
		// A password-protected OOXML package; the variant is unknowable
		// until it is decrypted.
		info.Format = DOCX
		info.IsEncrypted = true
	case cf.Has("WordDocument"):
		info.Format = DOC
		fib, err := cf.ReadStream("WordDocument")
		if err == nil && len(fib) >= 0x0C {
			flags := binary.LittleEndian.Uint16(fib[0x0A:])
			info.IsEncrypted = flags&0x0100 != 0
		}
	}
	info.HasDigitalSignature = cf.Has("_signatures") || cf.Has("\x05DigitalSignature")
	return info, nil
}

var (
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6} \S`)
	mdFence     = regexp.MustCompile("(?m)^(```|~~~)")
	mdTableRule = regexp.MustCompile(`(?m)^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)
	mdLink      = regexp.MustCompile(`\[[^\]\n]+\]\([^)\s]+\)`)
	htmlCharset = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([\w-]+)`)
)

func detectText(head []byte) FileFormatInfo {
	info := FileFormatInfo{}
	body := head
	switch {
	case bytes.HasPrefix(head, []byte{0xEF, 0xBB, 0xBF}):
		info.Encoding = "utf-8"
		body = head[3:]
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}):
		info.Format, info.Encoding = Text, "utf-16le"
		return info
	case bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		info.Format, info.Encoding = Text, "utf-16be"
		return info
	}
	if bytes.IndexByte(body, 0) >= 0 {
		return FileFormatInfo{}
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte(`{\rtf`)) {
		info.Format, info.Encoding = RTF, ""
		return info
	}
	if info.Encoding == "" {
		if utf8.Valid(trimIncomplete(body)) {
			info.Encoding = "utf-8"
		} else {
			info.Encoding = "windows-1252"
		}
	}
	if bytes.HasPrefix(trimmed, []byte("<")) {
		prefix := string(trimmed[:min(len(trimmed), 4096)])
		switch {
		case strings.Contains(prefix, "<pkg:package"):
			info.Format = FlatOPC
			return info
		case strings.Contains(prefix, "<w:wordDocument") || strings.Contains(prefix, `progid="Word.Document"`):
			info.Format = WordML
			return info
		case looksLikeHTML(prefix):
			info.Format = HTML
			if m := htmlCharset.FindStringSubmatch(prefix); m != nil {
				if enc, err := htmlindex.Get(m[1]); err == nil {
					if name, err := htmlindex.Name(enc); err == nil {
						info.Encoding = name
					}
				}
			}
			return info
		}
	}
	info.Format = Text
	if looksLikeMarkdown(body) {
		info.Format = Markdown
	}
	return info
}

// trimIncomplete drops a rune cut off by the end of the sniff buffer.
func trimIncomplete(b []byte) []byte {
	for i := 0; i < 3 && len(b) > 0; i++ {
		r, _ := utf8.DecodeLastRune(b)
		if r != utf8.RuneError {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func looksLikeHTML(prefix string) bool {
	upper := strings.ToUpper(prefix)
	if strings.HasPrefix(upper, "<!DOCTYPE HTML") || strings.HasPrefix(upper, "<HTML") {
		return true
	}
	if strings.HasPrefix(upper, "<?XML") || strings.HasPrefix(upper, "<!--") {
		return strings.Contains(upper, "<HTML")
	}
	return strings.HasPrefix(upper, "<HEAD") || strings.HasPrefix(upper, "<BODY")
}

func looksLikeMarkdown(b []byte) bool {
	return mdHeading.Match(b) || mdFence.Match(b) || mdTableRule.Match(b) || mdLink.Match(b)
}
