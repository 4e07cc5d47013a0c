// Package formats assembles the codec registry and turns JSON option
// documents into the option records of each format.
package formats

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/codec/html"
	"github.com/dgallion1/docforge/internal/codec/markdown"
	"github.com/dgallion1/docforge/internal/codec/ooxml"
	"github.com/dgallion1/docforge/internal/codec/pdf"
	"github.com/dgallion1/docforge/internal/codec/rtf"
	"github.com/dgallion1/docforge/internal/codec/txt"
)

// Registry returns a registry with every codec installed.
func Registry(opts ...codec.Option) *codec.Registry {
	r := codec.NewRegistry(opts...)
	ooxml.Register(r)
	rtf.Register(r)
	txt.Register(r)
	markdown.Register(r)
	html.Register(r)
	pdf.Register(r)
	return r
}

// strictUnmarshal decodes raw into v and rejects unknown fields. Empty
// input leaves v at its defaults.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewSaveOptions builds a save options record from raw JSON.
type NewSaveOptions func(f codec.Format, raw json.RawMessage) (codec.SaveOptions, error)

func ooxmlSave(f codec.Format, raw json.RawMessage) (codec.SaveOptions, error) {
	o := &ooxml.SaveOptions{Format: f}
	if err := strictUnmarshal(raw, o); err != nil {
		return nil, err
	}
	if o.Format != f {
		return nil, fmt.Errorf("%w: options name %s, saving %s", codec.ErrOptionsMismatch, o.Format, f)
	}
	return o, nil
}

// SaveOptionFactories maps each savable format to its record factory.
var SaveOptionFactories = map[codec.Format]NewSaveOptions{
	codec.DOCX:    ooxmlSave,
	codec.DOCM:    ooxmlSave,
	codec.DOTX:    ooxmlSave,
	codec.DOTM:    ooxmlSave,
	codec.FlatOPC: ooxmlSave,
	codec.WordML:  ooxmlSave,
	codec.RTF: func(_ codec.Format, raw json.RawMessage) (codec.SaveOptions, error) {
		var o rtf.SaveOptions
		if err := strictUnmarshal(raw, &o); err != nil {
			return nil, err
		}
		return &o, nil
	},
	codec.Text: func(_ codec.Format, raw json.RawMessage) (codec.SaveOptions, error) {
		var o txt.SaveOptions
		if err := strictUnmarshal(raw, &o); err != nil {
			return nil, err
		}
		return &o, nil
	},
	codec.Markdown: func(_ codec.Format, raw json.RawMessage) (codec.SaveOptions, error) {
		var o markdown.SaveOptions
		if err := strictUnmarshal(raw, &o); err != nil {
			return nil, err
		}
		return &o, nil
	},
	codec.HTML: func(_ codec.Format, raw json.RawMessage) (codec.SaveOptions, error) {
		var o html.SaveOptions
		if err := strictUnmarshal(raw, &o); err != nil {
			return nil, err
		}
		return &o, nil
	},
}

// ParseSaveOptions builds the save options record of f from raw JSON.
func ParseSaveOptions(f codec.Format, raw json.RawMessage) (codec.SaveOptions, error) {
	fn, ok := SaveOptionFactories[f]
	if !ok {
		return nil, fmt.Errorf("%w: no save options for %s", codec.ErrUnsupportedFormat, f)
	}
	o, err := fn(f, raw)
	if err != nil {
		return nil, fmt.Errorf("%s save options: %w", f, err)
	}
	return o, nil
}

// ParseLoadSpecific builds the format specific load options of f from
// raw JSON. Formats without their own load options accept only empty
// input and return nil.
func ParseLoadSpecific(f codec.Format, raw json.RawMessage) (any, error) {
	var v any
	switch f {
	case codec.Text:
		o := txt.DefaultLoadOptions()
		v = &o
	case codec.PDF:
		v = &pdf.LoadOptions{}
	default:
		if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s takes no load options", codec.ErrOptionsMismatch, f)
	}
	if err := strictUnmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("%s load options: %w", f, err)
	}
	return v, nil
}
