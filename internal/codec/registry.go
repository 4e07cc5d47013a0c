package codec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/license"
)

// Registry maps formats to codecs and runs loads and saves through the
// license checker.
type Registry struct {
	decoders map[Format]Decoder
	encoders map[Format]Encoder
	license  license.Checker
	log      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLicense sets the capability checker consulted before every load
// and save. The default allows everything.
func WithLicense(c license.Checker) Option {
	return func(r *Registry) { r.license = c }
}

// WithLogger sets the logger handed to codecs when the caller's options
// carry none.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		decoders: make(map[Format]Decoder),
		encoders: make(map[Format]Encoder),
		license:  license.Unlimited,
		log:      discard,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register installs the codec for f. Either side may be nil for
// formats that are import-only or export-only.
func (r *Registry) Register(f Format, d Decoder, e Encoder) {
	if d != nil {
		r.decoders[f] = d
	}
	if e != nil {
		r.encoders[f] = e
	}
}

func (r *Registry) Decoder(f Format) (Decoder, error) {
	d, ok := r.decoders[f]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedFormat, f)
	}
	return d, nil
}

func (r *Registry) Encoder(f Format) (Encoder, error) {
	e, ok := r.encoders[f]
	if !ok {
		return nil, fmt.Errorf("%w: no encoder for %s", ErrUnsupportedFormat, f)
	}
	return e, nil
}

// LoadFormats and SaveFormats list the registered formats in enum order.
func (r *Registry) LoadFormats() []Format { return sortedKeys(r.decoders) }
func (r *Registry) SaveFormats() []Format { return sortedKeys(r.encoders) }

func sortedKeys[V any](m map[Format]V) []Format {
	out := make([]Format, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load reads src completely, detects its format and decodes it. If src
// is an io.Closer it is closed before Load returns, on every path.
func (r *Registry) Load(ctx context.Context, src io.Reader, opts LoadOptions) (*doctree.Document, error) {
	data, err := readAllAndClose(src)
	if err != nil {
		return nil, err
	}
	info, err := DetectBytes(data)
	if err != nil {
		return nil, err
	}
	if info.Format == Unknown {
		return nil, ErrUnsupportedFormat
	}
	return r.decode(ctx, data, info.Format, opts)
}

// LoadFormat decodes src as format f without detection. src is closed
// like in Load.
func (r *Registry) LoadFormat(ctx context.Context, src io.Reader, f Format, opts LoadOptions) (*doctree.Document, error) {
	data, err := readAllAndClose(src)
	if err != nil {
		return nil, err
	}
	return r.decode(ctx, data, f, opts)
}

// LoadFile opens, detects and decodes the file at path.
func (r *Registry) LoadFile(ctx context.Context, path string, opts LoadOptions) (*doctree.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, f, opts)
}

func readAllAndClose(src io.Reader) ([]byte, error) {
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return data, nil
}

func (r *Registry) decode(ctx context.Context, data []byte, f Format, opts LoadOptions) (*doctree.Document, error) {
	if _, err := license.Require(r.license, license.OpLoad); err != nil {
		return nil, err
	}
	d, err := r.Decoder(f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if opts.Logger == nil {
		opts.Logger = r.log
	}
	doc, err := d.Decode(ctx, bytes.NewReader(data), opts)
	if err != nil {
		return nil, wrapFormat(f, "decode", err)
	}
	return doc, nil
}

func wrapFormat(f Format, op string, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	return &FormatError{Format: f, Op: op, Err: err}
}

// Save encodes doc as format f. Under an evaluation license the encoded
// document is a watermarked copy; doc itself is never modified.
func (r *Registry) Save(ctx context.Context, w io.Writer, doc *doctree.Document, f Format, opts SaveOptions) error {
	decision, err := license.Require(r.license, license.OpSave)
	if err != nil {
		return err
	}
	e, err := r.Encoder(f)
	if err != nil {
		return err
	}
	if decision == license.Watermark {
		r.log.Debug("saving watermarked copy", "format", f)
		doc = license.ApplyWatermark(doc)
	}
	if err := e.Encode(ctx, w, doc, opts); err != nil {
		return wrapFormat(f, "encode", err)
	}
	return nil
}

// SaveFile encodes doc to path. An Unknown format is inferred from the
// extension. Partial output is removed when encoding fails.
func (r *Registry) SaveFile(ctx context.Context, path string, doc *doctree.Document, f Format, opts SaveOptions) (err error) {
	if f == Unknown {
		if f = FormatFromExtension(path); f == Unknown {
			return fmt.Errorf("%w: cannot infer format of %s", ErrUnsupportedFormat, path)
		}
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	bw := bufio.NewWriter(out)
	if err := r.Save(ctx, bw, doc, f, opts); err != nil {
		return err
	}
	return bw.Flush()
}
