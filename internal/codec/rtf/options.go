package rtf

import (
	"fmt"

	"github.com/dgallion1/docforge/internal/codec"
)

// SaveOptions configure the RTF encoder.
type SaveOptions struct {
	codec.SaveCommon
	// SaveImagesAsWmf re-encodes every embedded image as a Windows
	// metafile wrapping a device-independent bitmap.
	SaveImagesAsWmf bool `json:"save_images_as_wmf,omitempty"`
	// ExportImagesForOldReaders writes each non-WMF picture inside
	// \shppict followed by a \nonshppict WMF copy, and adds \listtext
	// labels for readers without list tables.
	ExportImagesForOldReaders bool `json:"export_images_for_old_readers,omitempty"`
	// ExportCompactSize drops Unicode fallback characters and picture
	// line wrapping.
	ExportCompactSize bool `json:"export_compact_size,omitempty"`
}

func (*SaveOptions) SaveFormat() codec.Format { return codec.RTF }

func saveOptionsOf(opts codec.SaveOptions) (*SaveOptions, error) {
	switch v := opts.(type) {
	case nil:
		return &SaveOptions{}, nil
	case *SaveOptions:
		if v == nil {
			return &SaveOptions{}, nil
		}
		o := *v
		return &o, nil
	}
	return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts, codec.RTF)
}

// Register installs the RTF codec.
func Register(r *codec.Registry) {
	r.Register(codec.RTF, Decoder{}, Encoder{})
}
