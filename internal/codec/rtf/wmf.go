package rtf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	wmfSetWindowOrg = 0x020B
	wmfSetWindowExt = 0x020C
	wmfStretchDIB   = 0x0F43
	wmfEOF          = 0x0000

	// wmfPlaceableKey starts the optional placeable header.
	wmfPlaceableKey = 0x9AC6CDD7
	srcCopy         = 0x00CC0020
	bmpFileHeader   = 14
)

// toWMF wraps a raster image in a Windows metafile holding a single
// stretched device-independent bitmap.
func toWMF(data []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encode bitmap: %w", err)
	}
	dib := buf.Bytes()[bmpFileHeader:]
	if len(dib)%2 == 1 {
		dib = append(dib, 0)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	var recs bytes.Buffer
	maxRecord := 0
	record := func(fn uint16, params ...any) {
		var body bytes.Buffer
		for _, p := range params {
			binary.Write(&body, binary.LittleEndian, p)
		}
		words := 3 + body.Len()/2
		maxRecord = max(maxRecord, words)
		binary.Write(&recs, binary.LittleEndian, uint32(words))
		binary.Write(&recs, binary.LittleEndian, fn)
		recs.Write(body.Bytes())
	}
	record(wmfSetWindowOrg, int16(0), int16(0))
	record(wmfSetWindowExt, int16(h), int16(w))
	record(wmfStretchDIB, uint32(srcCopy), uint16(0),
		int16(h), int16(w), int16(0), int16(0),
		int16(h), int16(w), int16(0), int16(0), dib)
	record(wmfEOF)

	const headerWords = 9
	var out bytes.Buffer
	for _, v := range []any{
		uint16(1), uint16(headerWords), uint16(0x0300),
		uint32(headerWords + recs.Len()/2), uint16(0), uint32(maxRecord), uint16(0),
	} {
		binary.Write(&out, binary.LittleEndian, v)
	}
	out.Write(recs.Bytes())
	return out.Bytes(), w, h, nil
}

// toPNG re-encodes a raster image as PNG.
func toPNG(data []byte) ([]byte, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), img.Bounds().Dx(), img.Bounds().Dy(), nil
}

// wmfRecords calls fn for each record of a metafile with the record
// function and its parameter bytes.
func wmfRecords(data []byte, fn func(function uint16, params []byte) bool) bool {
	le := binary.LittleEndian
	if len(data) >= 22 && le.Uint32(data) == wmfPlaceableKey {
		data = data[22:]
	}
	if len(data) < 18 {
		return false
	}
	hdr := int(le.Uint16(data[2:])) * 2
	if hdr < 18 || hdr > len(data) {
		return false
	}
	for p := hdr; p+6 <= len(data); {
		size := int(le.Uint32(data[p:])) * 2
		f := le.Uint16(data[p+4:])
		if size < 6 || p+size > len(data) || f == wmfEOF {
			break
		}
		if !fn(f, data[p+6:p+size]) {
			break
		}
		p += size
	}
	return true
}

// wmfSize returns the picture size in pixels at 96 dpi.
func wmfSize(data []byte) (w, h int, ok bool) {
	le := binary.LittleEndian
	if len(data) >= 22 && le.Uint32(data) == wmfPlaceableKey {
		left, top := int16(le.Uint16(data[6:])), int16(le.Uint16(data[8:]))
		right, bottom := int16(le.Uint16(data[10:])), int16(le.Uint16(data[12:]))
		if inch := int(le.Uint16(data[14:])); inch > 0 {
			return (int(right) - int(left)) * 96 / inch, (int(bottom) - int(top)) * 96 / inch, true
		}
	}
	wmfRecords(data, func(f uint16, params []byte) bool {
		if f == wmfSetWindowExt && len(params) >= 4 {
			h, w = int(int16(le.Uint16(params))), int(int16(le.Uint16(params[2:])))
			ok = w > 0 && h > 0
			return false
		}
		return true
	})
	return w, h, ok
}
