// Package codec defines the contract between the document model and
// file formats: decoders, encoders, their option records, format
// detection and the registry that dispatches between them.
package codec

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a file format.
type Format int

const (
	// Unknown indicates an unrecognized format.
	Unknown Format = iota
	// DOCX is an Office Open XML document.
	DOCX
	// DOCM is a macro-enabled DOCX.
	DOCM
	// DOTX is a DOCX template.
	DOTX
	// DOTM is a macro-enabled DOCX template.
	DOTM
	// FlatOPC is an OOXML package flattened into one XML file.
	FlatOPC
	// WordML is the Word 2003 XML format.
	WordML
	RTF
	Text
	Markdown
	HTML
	PDF
	// DOC is the legacy binary format; detected but not decoded.
	DOC
	// ODT is OpenDocument Text; detected but not decoded.
	ODT
)

var formatInfo = [...]struct{ name, ext string }{
	Unknown:  {"Unknown", ""},
	DOCX:     {"DOCX", ".docx"},
	DOCM:     {"DOCM", ".docm"},
	DOTX:     {"DOTX", ".dotx"},
	DOTM:     {"DOTM", ".dotm"},
	FlatOPC:  {"FlatOPC", ".xml"},
	WordML:   {"WordML", ".xml"},
	RTF:      {"RTF", ".rtf"},
	Text:     {"Text", ".txt"},
	Markdown: {"Markdown", ".md"},
	HTML:     {"HTML", ".html"},
	PDF:      {"PDF", ".pdf"},
	DOC:      {"DOC", ".doc"},
	ODT:      {"ODT", ".odt"},
}

// String returns the string representation of the format.
func (f Format) String() string {
	if f < 0 || int(f) >= len(formatInfo) {
		return "Unknown"
	}
	return formatInfo[f].name
}

// Extension returns the typical file extension for the format.
func (f Format) Extension() string {
	if f < 0 || int(f) >= len(formatInfo) {
		return ""
	}
	return formatInfo[f].ext
}

// ContentType returns the MIME type used when serving the format.
func (f Format) ContentType() string {
	switch f {
	case DOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case DOCM:
		return "application/vnd.ms-word.document.macroEnabled.12"
	case DOTX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.template"
	case DOTM:
		return "application/vnd.ms-word.template.macroEnabled.12"
	case FlatOPC, WordML:
		return "application/xml"
	case RTF:
		return "application/rtf"
	case Text:
		return "text/plain; charset=utf-8"
	case Markdown:
		return "text/markdown; charset=utf-8"
	case HTML:
		return "text/html; charset=utf-8"
	case PDF:
		return "application/pdf"
	case DOC:
		return "application/msword"
	case ODT:
		return "application/vnd.oasis.opendocument.text"
	}
	return "application/octet-stream"
}

// IsOOXML reports whether f is one of the zipped OOXML package variants.
func (f Format) IsOOXML() bool { return f >= DOCX && f <= DOTM }

// Formats lists every known format except Unknown.
func Formats() []Format {
	out := make([]Format, 0, len(formatInfo)-1)
	for f := DOCX; int(f) < len(formatInfo); f++ {
		out = append(out, f)
	}
	return out
}

// FormatFromExtension maps a filename's extension to a format. The
// ambiguous ".xml" maps to FlatOPC.
func FormatFromExtension(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".docx":
		return DOCX
	case ".docm":
		return DOCM
	case ".dotx":
		return DOTX
	case ".dotm":
		return DOTM
	case ".xml", ".fopc":
		return FlatOPC
	case ".wml":
		return WordML
	case ".rtf":
		return RTF
	case ".txt", ".text":
		return Text
	case ".md", ".markdown":
		return Markdown
	case ".html", ".htm", ".xhtml":
		return HTML
	case ".pdf":
		return PDF
	case ".doc", ".dot":
		return DOC
	case ".odt":
		return ODT
	}
	return Unknown
}

// ParseFormat resolves a format by name ("docx", "Markdown") or
// extension (".md").
func ParseFormat(s string) (Format, error) {
	if strings.HasPrefix(s, ".") {
		if f := FormatFromExtension("x" + s); f != Unknown {
			return f, nil
		}
	}
	for f := DOCX; int(f) < len(formatInfo); f++ {
		if strings.EqualFold(formatInfo[f].name, s) {
			return f, nil
		}
	}
	switch strings.ToLower(s) {
	case "txt", "plain":
		return Text, nil
	case "md":
		return Markdown, nil
	case "htm":
		return HTML, nil
	case "flatopc", "fopc":
		return FlatOPC, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText accepts anything ParseFormat does, so option records
// can name their format in JSON.
func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
