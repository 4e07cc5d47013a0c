package codec

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/dgallion1/docforge/internal/doctree"
)

// Decoder builds a document from a serialized form.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader, opts LoadOptions) (*doctree.Document, error)
}

// Encoder serializes a document. Implementations must not modify doc
// and must produce identical bytes for identical input and options.
type Encoder interface {
	Encode(ctx context.Context, w io.Writer, doc *doctree.Document, opts SaveOptions) error
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, r io.Reader, opts LoadOptions) (*doctree.Document, error)

func (f DecoderFunc) Decode(ctx context.Context, r io.Reader, opts LoadOptions) (*doctree.Document, error) {
	return f(ctx, r, opts)
}

// LoadOptions control decoding. The zero value is valid.
type LoadOptions struct {
	// Password opens encrypted documents.
	Password string
	// SkipImages drops image data instead of failing on unreadable images.
	SkipImages bool
	// RecoverText lets a decoder salvage text from a damaged file instead
	// of returning ErrCorrupted.
	RecoverText bool
	Logger      *slog.Logger
	// Specific holds a format's own load options record, such as
	// txt.LoadOptions. Nil selects the format's defaults.
	Specific any
}

var discard = slog.New(slog.DiscardHandler)

// Log returns the configured logger or one that discards.
func (o LoadOptions) Log() *slog.Logger {
	if o.Logger == nil {
		return discard
	}
	return o.Logger
}

// SaveOptions is implemented by each format's save options record.
type SaveOptions interface {
	SaveFormat() Format
	Common() *SaveCommon
}

// SaveCommon holds the options every encoder honors. Format records
// embed it.
type SaveCommon struct {
	// Progress is polled at checkpoints while encoding.
	Progress Progress `json:"-"`
	// CheckpointInterval is the number of nodes between polls; zero
	// means DefaultCheckpointInterval.
	CheckpointInterval int          `json:"checkpoint_interval,omitempty"`
	Logger             *slog.Logger `json:"-"`
}

// Common returns c itself so records embedding SaveCommon satisfy part
// of SaveOptions.
func (c *SaveCommon) Common() *SaveCommon { return c }

// Log returns the configured logger or one that discards.
func (c *SaveCommon) Log() *slog.Logger {
	if c == nil || c.Logger == nil {
		return discard
	}
	return c.Logger
}

// CommonOf returns the shared options of opts, or an empty record when
// opts is nil.
func CommonOf(opts SaveOptions) *SaveCommon {
	if opts == nil {
		return &SaveCommon{}
	}
	if c := opts.Common(); c != nil {
		return c
	}
	return &SaveCommon{}
}

// Resource is a binary part, such as an image, that a text-based encoder
// would otherwise embed.
type Resource struct {
	// Name is a suggested file name unique within the document.
	Name        string
	ContentType string
	Data        []byte
	// Index counts resources in document order, starting at zero.
	Index int
}

// ResourceFunc decides where a resource goes. It returns the URI the
// encoder writes in place of the resource, or ErrSkipResource to omit it.
type ResourceFunc func(Resource) (string, error)

// ErrSkipResource tells an encoder to leave a resource out.
var ErrSkipResource = errors.New("skip resource")
