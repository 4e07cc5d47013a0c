package html

import (
	"fmt"

	"github.com/dgallion1/docforge/internal/codec"
)

// CSSStyleSheetType selects where formatting CSS is written.
type CSSStyleSheetType int

const (
	// CSSInline writes formatting in style attributes.
	CSSInline CSSStyleSheetType = iota
	// CSSEmbedded writes one class per distinct format into a <style>
	// element in the head.
	CSSEmbedded
)

// HeadersFootersMode selects which headers and footers are exported.
type HeadersFootersMode int

const (
	HeadersFootersNone HeadersFootersMode = iota
	// HeadersFootersPerSection writes each section's primary header
	// before its body and primary footer after it.
	HeadersFootersPerSection
	// HeadersFootersFirstSectionOnly writes the first section's primary
	// header at the top and its footer at the bottom of the page.
	HeadersFootersFirstSectionOnly
)

// ListLabels selects how list items are exported.
type ListLabels int

const (
	// ListLabelsByHTMLTags writes <ol> and <ul> and lets the browser
	// number items.
	ListLabelsByHTMLTags ListLabels = iota
	// ListLabelsAsInlineText writes paragraphs that start with the
	// computed label.
	ListLabelsAsInlineText
)

// SaveOptions configure the HTML encoder.
type SaveOptions struct {
	codec.SaveCommon
	ExportImagesAsBase64 bool `json:"export_images_as_base64,omitempty"`
	// ImagesFolder receives image files when images are not embedded.
	ImagesFolder      string `json:"images_folder,omitempty"`
	ImagesFolderAlias string `json:"images_folder_alias,omitempty"`
	// ImageResource decides where each image goes. It takes precedence
	// over the other image options.
	ImageResource     codec.ResourceFunc `json:"-"`
	CSSStyleSheetType CSSStyleSheetType  `json:"css_style_sheet_type,omitempty"`
	HeadersFooters    HeadersFootersMode `json:"export_headers_footers_mode,omitempty"`
	ListLabels        ListLabels         `json:"export_list_labels,omitempty"`
	// PrettyFormat puts block elements on their own lines.
	PrettyFormat bool `json:"pretty_format,omitempty"`
	// Title overrides the document title property in <title>.
	Title string `json:"title,omitempty"`
}

func (*SaveOptions) SaveFormat() codec.Format { return codec.HTML }

func saveOptionsOf(opts codec.SaveOptions) (*SaveOptions, error) {
	o := SaveOptions{}
	switch v := opts.(type) {
	case nil:
	case *SaveOptions:
		if v != nil {
			o = *v
		}
	default:
		return nil, fmt.Errorf("%w: %T for %s", codec.ErrOptionsMismatch, opts, codec.HTML)
	}
	switch {
	case o.CSSStyleSheetType < CSSInline || o.CSSStyleSheetType > CSSEmbedded:
		return nil, fmt.Errorf("%w: css style sheet type %d", codec.ErrOptionsMismatch, o.CSSStyleSheetType)
	case o.HeadersFooters < HeadersFootersNone || o.HeadersFooters > HeadersFootersFirstSectionOnly:
		return nil, fmt.Errorf("%w: headers footers mode %d", codec.ErrOptionsMismatch, o.HeadersFooters)
	}
	return &o, nil
}
