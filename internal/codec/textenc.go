package codec

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LookupEncoding resolves a WHATWG encoding label such as "utf-8",
// "windows-1252" or "shift_jis".
func LookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %q", ErrOptionsMismatch, name)
	}
	return enc, nil
}

// DecodeText converts text bytes to UTF-8. A byte order mark wins over
// name; without one an empty name means UTF-8 when the bytes are valid
// UTF-8 and windows-1252 otherwise. It returns the encoding used.
func DecodeText(data []byte, name string) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), "utf-8", nil
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		name, data = "utf-16le", data[2:]
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		name, data = "utf-16be", data[2:]
	case name == "":
		if utf8.Valid(data) {
			return string(data), "utf-8", nil
		}
		name = "windows-1252"
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return "", "", err
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", "", Corruptf("decode %s text: %v", name, err)
	}
	return string(out), strings.ToLower(name), nil
}

// EncodeText converts s to the named encoding. Characters the encoding
// cannot represent become the encoding's replacement character.
func EncodeText(s, name string) ([]byte, error) {
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return []byte(s), nil
	}
	out, _, err := transform.Bytes(encoding.ReplaceUnsupported(enc.NewEncoder()), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s text: %w", name, err)
	}
	return out, nil
}
