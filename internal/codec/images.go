package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/dgallion1/docforge/internal/doctree"
)

// ImageExporter decides where text-based encoders put images. Resource
// wins over Base64, which wins over Folder; with none set images are
// embedded as data URIs.
type ImageExporter struct {
	Resource ResourceFunc
	Base64   bool
	// Folder receives image files named image001.png and so on; links
	// use Alias as their directory, or Folder when Alias is empty.
	Folder string
	Alias  string

	count int
}

// URI returns the reference an encoder writes for img. ok is false when
// the image is to be left out. Linked images keep their source URL.
func (x *ImageExporter) URI(img *doctree.ImageData) (uri string, ok bool, err error) {
	if img == nil {
		return "", false, nil
	}
	if len(img.Data) == 0 {
		return img.SourceURL, img.SourceURL != "", nil
	}
	typ := img.Type
	if typ == doctree.ImageUnknown {
		typ = doctree.DetectImageType(img.Data)
	}
	res := Resource{
		Name:        fmt.Sprintf("image%03d.%s", x.count+1, typ.Extension()),
		ContentType: typ.ContentType(),
		Data:        img.Data,
		Index:       x.count,
	}
	x.count++
	switch {
	case x.Resource != nil:
		uri, err := x.Resource(res)
		if errors.Is(err, ErrSkipResource) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("save image %s: %w", res.Name, err)
		}
		return uri, true, nil
	case x.Folder != "" && !x.Base64:
		if err := os.MkdirAll(x.Folder, 0o755); err != nil {
			return "", false, fmt.Errorf("create images folder: %w", err)
		}
		if err := os.WriteFile(filepath.Join(x.Folder, res.Name), res.Data, 0o644); err != nil {
			return "", false, fmt.Errorf("save image %s: %w", res.Name, err)
		}
		base := x.Alias
		if base == "" {
			base = filepath.ToSlash(x.Folder)
		}
		return path.Join(base, res.Name), true, nil
	}
	return "data:" + res.ContentType + ";base64," + base64.StdEncoding.EncodeToString(res.Data), true, nil
}
