package markdown

import (
	"fmt"

	"github.com/dgallion1/docforge/internal/codec"
)

// TableAlignment selects the column alignment written in a table's
// delimiter row.
type TableAlignment int

const (
	// AlignAuto takes each column's alignment from the first paragraph
	// in that column.
	AlignAuto TableAlignment = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// ListExportMode selects how list items are written.
type ListExportMode int

const (
	// ListMarkdownSyntax writes "-" and "1." markers that Markdown
	// readers turn back into lists.
	ListMarkdownSyntax ListExportMode = iota
	// ListPlainText writes the computed list labels as literal text.
	ListPlainText
)

// SaveOptions configure the Markdown encoder.
type SaveOptions struct {
	codec.SaveCommon
	TableContentAlignment TableAlignment `json:"table_content_alignment,omitempty"`
	// ExportImagesAsBase64 embeds images as data URIs.
	ExportImagesAsBase64 bool `json:"export_images_as_base64,omitempty"`
	// ImagesFolder receives image files; links point at
	// ImagesFolderAlias, or at the folder itself when no alias is set.
	ImagesFolder      string `json:"images_folder,omitempty"`
	ImagesFolderAlias string `json:"images_folder_alias,omitempty"`
	// ImageResource decides where each image goes. It takes precedence
	// over the other image options.
	ImageResource             codec.ResourceFunc `json:"-"`
	ListExportMode            ListExportMode     `json:"list_export_mode,omitempty"`
	ExportUnderlineFormatting bool               `json:"export_underline_formatting,omitempty"`
}

func (*SaveOptions) SaveFormat() codec.Format { return codec.Markdown }

func saveOptionsOf(opts codec.SaveOptions) (*SaveOptions, error) {
	o := SaveOptions{}
	switch v := opts.(type) {
	case nil:
	case *SaveOptions:
		if v != nil {
			o = *v
		}
	default:
		return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts, codec.Markdown)
	}
	return &o, nil
}
