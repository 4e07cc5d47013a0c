// Package ooxml reads and writes WordprocessingML in each of its
// containers: ZIP packages (DOCX, DOCM, DOTX, DOTM), password-encrypted
// packages, Flat OPC single-file XML and the Word 2003 WordML dialect.
package ooxml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Formats lists the formats this package handles.
var Formats = []codec.Format{codec.DOCX, codec.DOCM, codec.DOTX, codec.DOTM, codec.FlatOPC, codec.WordML}

// Decoder reads one container format.
type Decoder struct {
	Format codec.Format
}

func (d Decoder) Decode(ctx context.Context, r io.Reader, opts codec.LoadOptions) (*doctree.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.Format, err)
	}
	switch d.Format {
	case codec.WordML:
		return readWordML(ctx, data, opts)
	case codec.FlatOPC:
		pkg, err := readFlatPackage(data)
		if err != nil {
			return nil, err
		}
		return readPackage(ctx, pkg, opts)
	}
	if isEncryptedPackage(data) {
		if data, err = decryptPackage(data, opts.Password); err != nil {
			return nil, err
		}
	}
	pkg, err := readZipPackage(data)
	if err == nil {
		var doc *doctree.Document
		if doc, err = readPackage(ctx, pkg, opts); err == nil {
			return doc, nil
		}
	}
	if opts.RecoverText && errors.Is(err, codec.ErrCorrupted) {
		doc, serr := salvage(data, opts.Log())
		if serr == nil {
			return doc, nil
		}
		opts.Log().Debug("text recovery failed", "err", serr)
	}
	return nil, err
}

// Encoder writes one container format. Options must be *SaveOptions or
// nil.
type Encoder struct {
	Format codec.Format
}

func (e Encoder) Encode(ctx context.Context, w io.Writer, doc *doctree.Document, opts codec.SaveOptions) error {
	o, err := optionsFor(e.Format, opts)
	if err != nil {
		return err
	}
	wr := newWriter(ctx, doc, o)
	if e.Format == codec.WordML {
		data, err := wr.wordML()
		if err != nil {
			return err
		}
		if err := wr.cp.Done(); err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	pkg, err := wr.buildPackage()
	if err != nil {
		return err
	}
	if err := wr.cp.Done(); err != nil {
		return err
	}
	switch {
	case e.Format == codec.FlatOPC:
		return pkg.writeFlat(w)
	case o.Password != "":
		var buf bytes.Buffer
		if err := pkg.writeZip(&buf); err != nil {
			return err
		}
		enc, err := encryptPackage(buf.Bytes(), o.Password)
		if err != nil {
			return fmt.Errorf("encrypt package: %w", err)
		}
		_, err = w.Write(enc)
		return err
	}
	return pkg.writeZip(w)
}

// Register installs a decoder and encoder for every format in Formats.
func Register(r *codec.Registry) {
	for _, f := range Formats {
		r.Register(f, Decoder{Format: f}, Encoder{Format: f})
	}
}
