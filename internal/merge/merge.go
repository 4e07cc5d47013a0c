// Package merge concatenates documents. Each source after the first is
// imported into a copy of the first and starts on a new page.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/content"
	"github.com/dgallion1/docforge/internal/doctree"
)

// Mode reconciles the formatting of merged documents.
type Mode int

const (
	// KeepSourceFormatting keeps the look of every source. Clashing
	// styles with different definitions are copied under new names.
	KeepSourceFormatting Mode = iota
	// MergeFormatting applies the destination's definition of clashing
	// styles to imported content.
	MergeFormatting
	// KeepDestinationLayout keeps the source look as direct formatting
	// and gives every section the first document's page setup, headers
	// and footers.
	KeepDestinationLayout
)

var modeNames = [...]string{"keep_source_formatting", "merge_formatting", "keep_destination_layout"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode accepts the names String returns.
func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(s, n) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown merge mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Options tune a merge.
type Options struct {
	Mode Mode `json:"mode"`
	// KeepSourceNumbering makes lists of each source number on their
	// own instead of continuing same-definition lists already present.
	KeepSourceNumbering bool `json:"keep_source_numbering,omitempty"`
}

// ErrNoDocuments is returned when there is nothing to merge.
var ErrNoDocuments = errors.New("merge: no documents")

func (o Options) importMode() content.ImportFormatMode {
	switch o.Mode {
	case MergeFormatting:
		return content.UseDestinationStyles
	case KeepDestinationLayout:
		return content.KeepDifferentStyles
	}
	return content.KeepSourceFormatting
}

// Merge returns a new document holding the sections of docs in order.
// The inputs are not modified.
func Merge(docs []*doctree.Document, opts Options) (*doctree.Document, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	dst := docs[0].Clone()
	layout := dst.FirstSection()
	for i, src := range docs[1:] {
		im := content.NewImporter(src, dst, opts.importMode(), content.ImportOptions{
			KeepSourceNumbering: opts.KeepSourceNumbering,
			IgnoreHeaderFooter:  opts.Mode == KeepDestinationLayout,
		})
		for j, s := range src.Sections() {
			n, err := im.Import(s.Node)
			if err != nil {
				return nil, fmt.Errorf("merge document %d: %w", i+1, err)
			}
			sec := n.Data().(*doctree.Section)
			if opts.Mode == KeepDestinationLayout && layout != nil {
				start := sec.PageSetup.SectionStart
				sec.PageSetup = layout.PageSetup
				sec.PageSetup.SectionStart = start
			}
			if j == 0 {
				sec.PageSetup.SectionStart = doctree.SectionNewPage
			}
			if err := dst.AppendChild(n); err != nil {
				return nil, fmt.Errorf("merge document %d: %w", i+1, err)
			}
		}
	}
	return dst, nil
}

// MergeFiles loads inputs through reg, merges them and saves the result
// to output. An Unknown format is inferred from the output extension.
func MergeFiles(ctx context.Context, reg *codec.Registry, output string, inputs []string, f codec.Format, opts Options, save codec.SaveOptions) error {
	if len(inputs) == 0 {
		return ErrNoDocuments
	}
	docs := make([]*doctree.Document, 0, len(inputs))
	for _, path := range inputs {
		doc, err := reg.LoadFile(ctx, path, codec.LoadOptions{})
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		docs = append(docs, doc)
	}
	merged, err := Merge(docs, opts)
	if err != nil {
		return err
	}
	return reg.SaveFile(ctx, output, merged, f, save)
}
