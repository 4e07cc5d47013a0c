package ooxml

import (
	"fmt"

	"github.com/dgallion1/docforge/internal/codec"
)

// Compliance selects the namespace set written to the package.
type Compliance int

const (
	Transitional Compliance = iota
	Strict
)

func (c Compliance) String() string {
	if c == Strict {
		return "strict"
	}
	return "transitional"
}

// SaveOptions configure the OOXML family encoders.
type SaveOptions struct {
	codec.SaveCommon
	// Format is one of DOCX, DOCM, DOTX, DOTM, FlatOPC or WordML. Unknown
	// means the format the encoder was registered for.
	Format codec.Format `json:"format,omitempty"`
	// Password encrypts a package format with ECMA-376 agile encryption.
	Password   string     `json:"password,omitempty"`
	Compliance Compliance `json:"compliance,omitempty"`
}

func (o *SaveOptions) SaveFormat() codec.Format {
	if o.Format == codec.Unknown {
		return codec.DOCX
	}
	return o.Format
}

// optionsFor returns the effective options for encoding as f.
func optionsFor(f codec.Format, opts codec.SaveOptions) (*SaveOptions, error) {
	var o SaveOptions
	switch v := opts.(type) {
	case nil:
	case *SaveOptions:
		if v != nil {
			o = *v
		}
	default:
		return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts, f)
	}
	if o.Format != codec.Unknown && o.Format != f {
		return nil, fmt.Errorf("%w: options for %s used to save %s", codec.ErrOptionsMismatch, o.Format, f)
	}
	o.Format = f
	if o.Password != "" && (f == codec.FlatOPC || f == codec.WordML) {
		return nil, fmt.Errorf("%w: %s cannot be encrypted", codec.ErrOptionsMismatch, f)
	}
	return &o, nil
}
