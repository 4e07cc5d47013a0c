package doctree

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageType is the encoding of image bytes.
type ImageType int

const (
	ImageUnknown ImageType = iota
	ImagePNG
	ImageJPEG
	ImageGIF
	ImageBMP
	ImageTIFF
	ImageWEBP
	ImageWMF
	ImageEMF
)

var imageTypeInfo = [...]struct{ ext, mime string }{
	ImageUnknown: {"bin", "application/octet-stream"},
	ImagePNG:     {"png", "image/png"},
	ImageJPEG:    {"jpeg", "image/jpeg"},
	ImageGIF:     {"gif", "image/gif"},
	ImageBMP:     {"bmp", "image/bmp"},
	ImageTIFF:    {"tiff", "image/tiff"},
	ImageWEBP:    {"webp", "image/webp"},
	ImageWMF:     {"wmf", "image/x-wmf"},
	ImageEMF:     {"emf", "image/x-emf"},
}

func (t ImageType) Extension() string   { return imageTypeInfo[t].ext }
func (t ImageType) ContentType() string { return imageTypeInfo[t].mime }

// ImageTypeFromExtension maps a file extension (without dot) to a type.
func ImageTypeFromExtension(ext string) ImageType {
	switch ext {
	case "png":
		return ImagePNG
	case "jpg", "jpeg":
		return ImageJPEG
	case "gif":
		return ImageGIF
	case "bmp":
		return ImageBMP
	case "tif", "tiff":
		return ImageTIFF
	case "webp":
		return ImageWEBP
	case "wmf":
		return ImageWMF
	case "emf":
		return ImageEMF
	}
	return ImageUnknown
}

// DetectImageType sniffs the image encoding from its signature.
func DetectImageType(data []byte) ImageType {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return ImagePNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return ImageJPEG
	case bytes.HasPrefix(data, []byte("GIF8")):
		return ImageGIF
	case bytes.HasPrefix(data, []byte("BM")):
		return ImageBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return ImageTIFF
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return ImageWEBP
	case bytes.HasPrefix(data, []byte{0xD7, 0xCD, 0xC6, 0x9A}), bytes.HasPrefix(data, []byte{0x01, 0x00, 0x09, 0x00}):
		return ImageWMF
	case len(data) >= 44 && bytes.Equal(data[40:44], []byte(" EMF")):
		return ImageEMF
	}
	return ImageUnknown
}

// ProbeImage returns the encoding and pixel size of raster image bytes.
// Metafiles report their type with a zero size.
func ProbeImage(data []byte) (ImageType, int, int, error) {
	t := DetectImageType(data)
	if t == ImageWMF || t == ImageEMF {
		return t, 0, 0, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return t, 0, 0, fmt.Errorf("probe image: %w", err)
	}
	return t, cfg.Width, cfg.Height, nil
}

// NewImageShape builds an image shape sized from the image's pixel
// dimensions at 96 dpi.
func NewImageShape(doc *Document, data []byte) (*Shape, error) {
	t, w, h, err := ProbeImage(data)
	if err != nil {
		return nil, err
	}
	s := NewShape(doc, ShapeImage)
	s.Image = &ImageData{Data: data, Type: t}
	s.Width = float64(w) * 72 / 96
	s.Height = float64(h) * 72 / 96
	return s, nil
}
