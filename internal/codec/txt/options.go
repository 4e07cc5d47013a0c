package txt

import (
	"fmt"

	"github.com/dgallion1/docforge/internal/codec"
)

// LeadingSpaces selects what happens to whitespace at the start of a
// line.
type LeadingSpaces int

const (
	LeadingPreserve LeadingSpaces = iota
	// LeadingConvertToIndent removes the whitespace and sets an
	// equivalent left indent. Load only.
	LeadingConvertToIndent
	LeadingTrim
)

// TrailingSpaces selects what happens to whitespace at the end of a
// line.
type TrailingSpaces int

const (
	TrailingPreserve TrailingSpaces = iota
	TrailingTrim
)

// HeadersFootersMode selects which headers and footers are exported.
type HeadersFootersMode int

const (
	// HeadersFootersPrimaryOnly writes each section's primary header
	// before and primary footer after its body.
	HeadersFootersPrimaryOnly HeadersFootersMode = iota
	HeadersFootersNone
	// HeadersFootersAllAtEnd writes every header and footer after the
	// last section.
	HeadersFootersAllAtEnd
)

// LoadOptions configure the text decoder. Pass one in
// codec.LoadOptions.Specific.
type LoadOptions struct {
	LeadingSpaces  LeadingSpaces  `json:"leading_spaces,omitempty"`
	TrailingSpaces TrailingSpaces `json:"trailing_spaces,omitempty"`
	// DetectNumberingWithWhitespaces also recognizes list items whose
	// number is followed only by whitespace ("1 item", "1.2 item").
	DetectNumberingWithWhitespaces bool `json:"detect_numbering_with_whitespaces,omitempty"`
	// Encoding is a WHATWG label. A byte order mark overrides it; empty
	// means UTF-8, falling back to windows-1252 for invalid UTF-8.
	Encoding string `json:"encoding,omitempty"`
}

// DefaultLoadOptions returns the options used when none are given.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{DetectNumberingWithWhitespaces: true}
}

func loadOptionsOf(opts codec.LoadOptions) (LoadOptions, error) {
	switch v := opts.Specific.(type) {
	case nil:
		return DefaultLoadOptions(), nil
	case LoadOptions:
		return v, nil
	case *LoadOptions:
		if v == nil {
			return DefaultLoadOptions(), nil
		}
		return *v, nil
	}
	return LoadOptions{}, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts.Specific, codec.Text)
}

// ListIndentation indents list items by Count copies of Character per
// list level.
type ListIndentation struct {
	Count     int    `json:"count,omitempty"`
	Character string `json:"character,omitempty"`
}

// SaveOptions configure the text encoder.
type SaveOptions struct {
	codec.SaveCommon
	HeadersFooters HeadersFootersMode `json:"headers_footers,omitempty"`
	LeadingSpaces  LeadingSpaces      `json:"leading_spaces,omitempty"`
	TrailingSpaces TrailingSpaces     `json:"trailing_spaces,omitempty"`
	// ParagraphBreak ends every line; empty means "\r\n".
	ParagraphBreak string `json:"paragraph_break,omitempty"`
	Encoding       string `json:"encoding,omitempty"`
	// WriteBOM prefixes Unicode output with a byte order mark.
	WriteBOM bool `json:"write_bom,omitempty"`
	// ForcePageBreaks writes page breaks as form feeds instead of line
	// ends.
	ForcePageBreaks bool `json:"force_page_breaks,omitempty"`
	// SimplifyListLabels writes bullets as "*" and drops non-ASCII label
	// characters.
	SimplifyListLabels bool            `json:"simplify_list_labels,omitempty"`
	ListIndentation    ListIndentation `json:"list_indentation,omitempty"`
	// PreserveTableLayout pads cells so table columns line up.
	PreserveTableLayout bool `json:"preserve_table_layout,omitempty"`
	// MaxCharactersPerLine wraps longer lines at word boundaries; zero
	// disables wrapping.
	MaxCharactersPerLine int `json:"max_characters_per_line,omitempty"`
}

func (*SaveOptions) SaveFormat() codec.Format { return codec.Text }

func saveOptionsOf(opts codec.SaveOptions) (*SaveOptions, error) {
	o := SaveOptions{}
	switch v := opts.(type) {
	case nil:
	case *SaveOptions:
		if v != nil {
			o = *v
		}
	default:
		return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts, codec.Text)
	}
	if o.LeadingSpaces == LeadingConvertToIndent {
		return nil, fmt.Errorf("%w: leading spaces cannot be converted on save", codec.ErrOptionsMismatch)
	}
	if o.ParagraphBreak == "" {
		o.ParagraphBreak = "\r\n"
	}
	if o.ListIndentation.Count > 0 && o.ListIndentation.Character == "" {
		o.ListIndentation.Character = "\t"
	}
	if o.MaxCharactersPerLine < 0 {
		return nil, fmt.Errorf("%w: negative line length", codec.ErrOptionsMismatch)
	}
	return &o, nil
}
